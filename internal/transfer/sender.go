package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/sharesync/internal/chunk"
	"github.com/rudransh-shrivastava/sharesync/internal/logger"
	"github.com/rudransh-shrivastava/sharesync/internal/protocol"
	"github.com/rudransh-shrivastava/sharesync/internal/transport"
	"github.com/sirupsen/logrus"
)

// Pacing makes the sender wait Delay after every chunk whose index is a
// multiple of Every.
type Pacing struct {
	Every int
	Delay time.Duration
}

type SenderOptions struct {
	Registry  *Registry
	ChunkSize int
	Pacing    Pacing
	Observer  Observer
	Logger    *logrus.Logger
	// NewID defaults to random UUIDs.
	NewID func() string
	// Sleep defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Source is a file to send. Reader must serve Size bytes.
type Source struct {
	Name   string
	Size   int64
	Reader io.ReaderAt
	Closer io.Closer
}

// OpenFile opens a regular file as a Source.
func OpenFile(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return Source{}, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return Source{}, err
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return Source{}, fmt.Errorf("%s is not a regular file", path)
	}

	return Source{
		Name:   filepath.Base(path),
		Size:   info.Size(),
		Reader: f,
		Closer: f,
	}, nil
}

// BytesSource wraps in-memory data as a Source.
func BytesSource(name string, data []byte) Source {
	return Source{Name: name, Size: int64(len(data)), Reader: bytes.NewReader(data)}
}

// Sender announces files to the selected peer and streams their chunks.
type Sender struct {
	lifecycle
	codec     *protocol.Codec
	chunkSize int
	pacing    Pacing
	newID     func() string
	sleep     func(ctx context.Context, d time.Duration) error

	mu   sync.RWMutex
	peer transport.Conn
}

func NewSender(opts SenderOptions) *Sender {
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
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	pacing := opts.Pacing
	if pacing.Every <= 0 {
		pacing.Every = 1
	}

	return &Sender{
		lifecycle: lifecycle{registry: reg, observer: obs, logger: log},
		codec:     protocol.NewCodec(),
		chunkSize: opts.ChunkSize,
		pacing:    pacing,
		newID:     newID,
		sleep:     sleep,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// SelectPeer sets the channel new transfers are announced on. nil clears it.
func (s *Sender) SelectPeer(conn transport.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peer = conn
}

func (s *Sender) Peer() transport.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peer
}

// Send opens path and transfers it to the selected peer.
func (s *Sender) Send(ctx context.Context, path string) (string, error) {
	src, err := OpenFile(path)
	if err != nil {
		return "", err
	}
	return s.SendSource(ctx, src)
}

// SendSource announces src and streams it to completion.
func (s *Sender) SendSource(ctx context.Context, src Source) (string, error) {
	t, err := s.begin(ctx, src)
	if err != nil {
		return "", err
	}
	return t.ID, s.stream(ctx, t)
}

// BeginTransfer announces src to the selected peer and returns the new
// transfer id. It takes ownership of src.Closer, also on error.
func (s *Sender) BeginTransfer(ctx context.Context, src Source) (string, error) {
	t, err := s.begin(ctx, src)
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

func (s *Sender) begin(ctx context.Context, src Source) (*Transfer, error) {
	closeSource := func() {
		if src.Closer != nil {
			_ = src.Closer.Close()
		}
	}

	if err := ctx.Err(); err != nil {
		closeSource()
		return nil, err
	}

	conn := s.Peer()
	if conn == nil {
		closeSource()
		return nil, ErrNoPeerSelected
	}
	if !conn.IsReady() {
		closeSource()
		return nil, ErrChannelNotReady
	}

	meta := Metadata{
		Name:        src.Name,
		Size:        src.Size,
		TotalChunks: chunk.TotalChunks(src.Size, s.chunkSize),
		ChunkSize:   s.chunkSize,
		PeerID:      conn.PeerID(),
	}

	t, err := s.registry.Create(s.newID(), meta, Outgoing)
	if err != nil {
		closeSource()
		return nil, err
	}
	t.attachSource(conn, src.Reader, src.Closer)

	if err := t.transition(StateAnnounced); err != nil {
		s.abort(t, err)
		return nil, err
	}

	msg := &protocol.FileMetadata{
		FileID:      t.ID,
		Name:        t.Name,
		Size:        t.Size,
		TotalChunks: t.TotalChunks,
	}
	if err := s.send(conn, msg); err != nil {
		s.abort(t, err)
		return nil, err
	}

	s.entry(t).WithFields(logrus.Fields{
		"name":   t.Name,
		"size":   t.Size,
		"chunks": t.TotalChunks,
		"peer":   t.PeerID,
	}).Debug("Announced transfer")
	s.observer.TransferStarted(t.Snapshot())
	return t, nil
}

// StreamChunks sends the remaining chunks of an announced transfer in index
// order and blocks until it completes or fails.
func (s *Sender) StreamChunks(ctx context.Context, id string) error {
	t, ok := s.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTransfer, id)
	}
	if t.Direction != Outgoing {
		return fmt.Errorf("%w: %s is %s", ErrWrongDirection, id, t.Direction)
	}
	return s.stream(ctx, t)
}

func (s *Sender) stream(ctx context.Context, t *Transfer) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if cause := t.bindCancel(cancel); cause != nil {
		s.abort(t, cause)
		return cause
	}
	if err := t.transition(StateStreaming); err != nil {
		if t.State() == StateAborted {
			return t.Err()
		}
		return err
	}

	conn := t.channel()
	for {
		if err := t.waitIfPaused(ctx); err != nil {
			return s.fail(t, err)
		}
		if err := t.Err(); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return s.fail(t, context.Cause(ctx))
		}

		index, done := t.nextChunk()
		if done {
			break
		}

		data, err := t.readChunk(index)
		if err != nil {
			return s.fail(t, err)
		}

		msg := &protocol.FileChunk{FileID: t.ID, ChunkIndex: index, Data: data}
		if err := s.send(conn, msg); err != nil {
			return s.fail(t, err)
		}

		t.sent(len(data))
		s.observer.TransferProgress(t.Snapshot())

		if index%s.pacing.Every == 0 {
			if err := s.sleep(ctx, s.pacing.Delay); err != nil {
				if ctx.Err() != nil {
					err = context.Cause(ctx)
				}
				return s.fail(t, err)
			}
		}
	}

	if !s.complete(t) {
		return t.Err()
	}
	return nil
}

// fail aborts t unless something else already finished it, and returns the
// error the transfer actually ended with.
func (s *Sender) fail(t *Transfer, err error) error {
	if s.abort(t, err) {
		return err
	}
	if terr := t.Err(); terr != nil {
		return terr
	}
	return err
}

func (s *Sender) send(conn transport.Conn, msg protocol.Message) error {
	if conn == nil || !conn.IsReady() {
		return fmt.Errorf("%w: %w", ErrSendFailed, transport.ErrNotReady)
	}

	data, err := s.codec.EncodeToBytes(msg)
	if err != nil {
		return err
	}

	if err := conn.Send(data); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return nil
}

func (s *Sender) outgoing(id string) (*Transfer, error) {
	t, ok := s.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransfer, id)
	}
	if t.Direction != Outgoing {
		return nil, fmt.Errorf("%w: %s is %s", ErrWrongDirection, id, t.Direction)
	}
	return t, nil
}

// Pause holds the stream of id before its next chunk.
func (s *Sender) Pause(id string) error {
	t, err := s.outgoing(id)
	if err != nil {
		return err
	}
	return t.pause()
}

func (s *Sender) Resume(id string) error {
	t, err := s.outgoing(id)
	if err != nil {
		return err
	}
	return t.resume()
}

// Cancel aborts id with ErrTransferCancelled.
func (s *Sender) Cancel(id string) error {
	t, err := s.outgoing(id)
	if err != nil {
		return err
	}
	if !s.abort(t, ErrTransferCancelled) {
		return fmt.Errorf("%w: %s already finished", ErrInvalidTransition, id)
	}
	return nil
}
