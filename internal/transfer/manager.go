package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rudransh-shrivastava/sharesync/internal/config"
	"github.com/rudransh-shrivastava/sharesync/internal/logger"
	"github.com/rudransh-shrivastava/sharesync/internal/transport"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

type Options struct {
	Protocol config.ProtocolConfig
	Transfer config.TransferConfig
	Sink     Sink
	// History is optional.
	History      HistoryRepository
	Observers    []Observer
	Logger       *logrus.Logger
	TimeProvider TimeProvider
	NewID        func() string
	Sleep        func(ctx context.Context, d time.Duration) error
}

// Manager owns the registry and the sender and receiver that share it.
type Manager struct {
	lifecycle
	sender   *Sender
	receiver *Receiver

	stallTimeout  time.Duration
	sweepInterval time.Duration

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

func NewManager(opts Options) (*Manager, error) {
	p := opts.Protocol
	if err := validator.New().Struct(p); err != nil {
		return nil, fmt.Errorf("invalid protocol config: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewLogger()
	}

	observers := Observers{LogObserver{Logger: log}}
	if opts.History != nil {
		observers = append(observers, historyObserver{repo: opts.History, logger: log})
	}
	observers = append(observers, opts.Observers...)

	registry := NewRegistry(opts.TimeProvider)

	sweepInterval := opts.Transfer.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Second
	}

	return &Manager{
		sender: NewSender(SenderOptions{
			Registry:  registry,
			ChunkSize: p.ChunkSize,
			Pacing:    Pacing{Every: p.PaceEvery, Delay: p.PaceDelay},
			Observer:  observers,
			Logger:    log,
			NewID:     opts.NewID,
			Sleep:     opts.Sleep,
		}),
		receiver: NewReceiver(ReceiverOptions{
			Registry:    registry,
			Sink:        opts.Sink,
			Observer:    observers,
			Logger:      log,
			ChunkSize:   p.ChunkSize,
			MaxFileSize: opts.Transfer.MaxFileSize,
		}),
		lifecycle:     lifecycle{registry: registry, observer: observers, logger: log},
		stallTimeout:  opts.Transfer.StallTimeout,
		sweepInterval: sweepInterval,
		done:          make(chan struct{}),
	}, nil
}

func (m *Manager) Registry() *Registry { return m.registry }
func (m *Manager) Sender() *Sender     { return m.sender }
func (m *Manager) Receiver() *Receiver { return m.receiver }

// Start runs the stall sweep until ctx is done or the manager is closed. It
// does nothing when no stall timeout is configured.
func (m *Manager) Start(ctx context.Context) {
	if m.stallTimeout <= 0 {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// Sweep aborts every transfer idle past the stall timeout and returns their ids.
func (m *Manager) Sweep() []string {
	var swept []string
	for _, t := range m.registry.Stalled(m.stallTimeout) {
		if m.abort(t, ErrTransferStalled) {
			m.entry(t).Warn("Transfer stalled")
			swept = append(swept, t.ID)
		}
	}
	return swept
}

// SelectPeer sets the channel that SendFile announces transfers on.
func (m *Manager) SelectPeer(conn transport.Conn) {
	m.sender.SelectPeer(conn)
}

// SendFile transfers the file at path to the selected peer and blocks until
// it completes or fails.
func (m *Manager) SendFile(ctx context.Context, path string) (string, error) {
	return m.sender.Send(ctx, path)
}

// Serve receives transfers from conn until it closes or ctx is done.
func (m *Manager) Serve(ctx context.Context, conn transport.Conn) error {
	return m.receiver.Run(ctx, conn)
}

// Transfers returns a snapshot of every in-flight transfer, oldest first.
func (m *Manager) Transfers() []Snapshot {
	return lo.Map(m.registry.List(), func(t *Transfer, _ int) Snapshot {
		return t.Snapshot()
	})
}

func (m *Manager) Pause(id string) error  { return m.sender.Pause(id) }
func (m *Manager) Resume(id string) error { return m.sender.Resume(id) }

// Cancel aborts a transfer in either direction.
func (m *Manager) Cancel(id string) error {
	t, ok := m.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTransfer, id)
	}
	if t.Direction == Incoming {
		return m.receiver.Cancel(id)
	}
	return m.sender.Cancel(id)
}

// Close stops the sweep and aborts whatever is still in flight.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		m.wg.Wait()

		for _, t := range m.registry.Clear() {
			m.abort(t, ErrManagerClosed)
		}
	})
	return nil
}
