package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rudransh-shrivastava/sharesync/internal/chunk"
	"github.com/rudransh-shrivastava/sharesync/internal/config"
	"github.com/rudransh-shrivastava/sharesync/internal/logger"
	"github.com/rudransh-shrivastava/sharesync/internal/protocol"
	"github.com/rudransh-shrivastava/sharesync/internal/transport"
	"github.com/sirupsen/logrus"
)

type ReceiverOptions struct {
	Registry *Registry
	// Sink gets every completed file. Defaults to discarding it.
	Sink     Sink
	Observer Observer
	Logger   *logrus.Logger
	// ChunkSize is the locally configured chunk size, used to detect peers
	// running with a different one.
	ChunkSize int
	// MaxFileSize bounds the declared size of incoming files. Defaults to
	// config.DefaultMaxFileSize.
	MaxFileSize int64
}

// Receiver turns inbound metadata and chunk messages into transfers and
// hands every completed file to its sink.
type Receiver struct {
	lifecycle
	codec       *protocol.Codec
	sink        Sink
	chunkSize   int
	maxFileSize int64
}

func NewReceiver(opts ReceiverOptions) *Receiver {
	log := opts.Logger
	if log == nil {
		log = logger.NewLogger()
	}
	obs := opts.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry(nil)
	}
	sink := opts.Sink
	if sink == nil {
		sink = discardSink
	}
	maxFileSize := opts.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = config.DefaultMaxFileSize
	}

	return &Receiver{
		lifecycle: lifecycle{registry: reg, observer: obs, logger: log},
		codec:       protocol.NewCodec(),
		sink:        sink,
		chunkSize:   opts.ChunkSize,
		maxFileSize: maxFileSize,
	}
}

// Run consumes conn until ctx is done or the channel closes. In-flight
// transfers announced on conn are aborted with ErrChannelClosed on return.
func (r *Receiver) Run(ctx context.Context, conn transport.Conn) error {
	peerID := conn.PeerID()
	defer r.purge(peerID)

	r.logger.WithField("peer", peerID).Debug("Receiving on channel")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-conn.Recv():
			if !ok {
				return nil
			}
			r.handle(peerID, data)
		}
	}
}

// HandleMessage processes one raw message that did not arrive through Run.
func (r *Receiver) HandleMessage(data []byte) {
	r.handle("", data)
}

func (r *Receiver) handle(peerID string, data []byte) {
	msg, err := r.codec.DecodeFromBytes(data)
	if err != nil {
		entry := r.logger.WithField("peer", peerID).WithError(err)
		if errors.Is(err, protocol.ErrUnknownType) {
			entry.Debug("Ignoring message of unknown type")
			return
		}
		entry.Warn("Discarding malformed message")
		return
	}

	switch m := msg.(type) {
	case *protocol.FileMetadata:
		r.handleMetadata(peerID, m)
	case *protocol.FileChunk:
		r.handleChunk(m)
	}
}

func (r *Receiver) handleMetadata(peerID string, m *protocol.FileMetadata) {
	log := r.logger.WithFields(logrus.Fields{
		"transfer_id": m.FileID,
		"peer":        peerID,
	})

	if m.Size > r.maxFileSize {
		log.WithFields(logrus.Fields{
			"size":  m.Size,
			"limit": r.maxFileSize,
		}).Warn("Discarding metadata for file above size limit")
		return
	}
	if int64(m.TotalChunks) > m.Size {
		log.WithFields(logrus.Fields{
			"size":   m.Size,
			"chunks": m.TotalChunks,
		}).Warn("Discarding metadata with more chunks than bytes")
		return
	}
	if minimum := chunk.TotalChunks(m.Size, protocol.MaxChunkSize); m.TotalChunks < minimum {
		log.WithFields(logrus.Fields{
			"size":    m.Size,
			"chunks":  m.TotalChunks,
			"minimum": minimum,
		}).Warn("Discarding metadata with fewer chunks than any chunk size allows")
		return
	}
	if r.chunkSize > 0 {
		if expected := chunk.TotalChunks(m.Size, r.chunkSize); expected != m.TotalChunks {
			log.WithFields(logrus.Fields{
				"declared": m.TotalChunks,
				"expected": expected,
			}).Warn("Peer chunk size differs from local configuration")
		}
	}

	meta := Metadata{
		Name:        m.Name,
		Size:        m.Size,
		TotalChunks: m.TotalChunks,
		ChunkSize:   r.chunkSize,
		PeerID:      peerID,
	}
	t, err := r.registry.Create(m.FileID, meta, Incoming)
	if err != nil {
		log.WithError(err).Warn("Ignoring metadata for existing transfer")
		return
	}

	if err := t.transition(StateReceiving); err != nil {
		r.abort(t, err)
		return
	}
	r.observer.TransferStarted(t.Snapshot())
	r.tryComplete(t)
}

func (r *Receiver) handleChunk(m *protocol.FileChunk) {
	t, ok := r.registry.Get(m.FileID)
	if !ok {
		r.logger.WithFields(logrus.Fields{
			"transfer_id": m.FileID,
			"chunk":       m.ChunkIndex,
		}).Debug("Dropping chunk for unknown transfer")
		return
	}
	if t.Direction != Incoming {
		return
	}

	applied, err := t.applyChunk(m.ChunkIndex, m.Data)
	if err != nil {
		r.entry(t).WithError(err).Warn("Discarding chunk")
		return
	}
	if !applied {
		r.entry(t).WithField("chunk", m.ChunkIndex).Debug("Ignoring duplicate chunk")
		return
	}

	r.observer.TransferProgress(t.Snapshot())
	r.tryComplete(t)
}

// tryComplete reassembles and delivers t once its last slot is filled.
func (r *Receiver) tryComplete(t *Transfer) {
	slots, ok := t.takeCompleted()
	if !ok {
		return
	}

	data, err := chunk.Reassemble(slots, t.Size)
	if err != nil {
		r.entry(t).WithError(err).Error("Reassembly failed")
		r.abort(t, err)
		return
	}

	delivery, err := r.sink.Deliver(t.Name, data)
	if err != nil {
		err = fmt.Errorf("deliver %s: %w", t.Name, err)
		r.entry(t).WithError(err).Error("Delivery failed")
		r.abort(t, err)
		return
	}
	t.setDelivery(delivery)

	r.complete(t)
}

func (r *Receiver) purge(peerID string) {
	for _, t := range r.registry.List() {
		if t.Direction == Incoming && t.PeerID == peerID {
			r.abort(t, ErrChannelClosed)
		}
	}
}

// Cancel aborts an incoming transfer with ErrTransferCancelled. Chunks that
// arrive for it afterwards are dropped as unknown.
func (r *Receiver) Cancel(id string) error {
	t, ok := r.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTransfer, id)
	}
	if t.Direction != Incoming {
		return fmt.Errorf("%w: %s is %s", ErrWrongDirection, id, t.Direction)
	}
	r.abort(t, ErrTransferCancelled)
	return nil
}
