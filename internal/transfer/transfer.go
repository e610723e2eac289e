// Package transfer implements chunked file transfer over a message channel:
// the sending and receiving state machines, the registry of in-flight
// transfers and the manager that owns them.
package transfer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/sharesync/internal/chunk"
	"github.com/rudransh-shrivastava/sharesync/internal/transport"
)

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

func (DefaultTimeProvider) Now() time.Time { return time.Now() }

func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// Metadata describes a transfer as announced on the wire.
type Metadata struct {
	Name        string
	Size        int64
	TotalChunks int
	ChunkSize   int
	PeerID      string
}

// Snapshot is a point-in-time copy of a transfer, safe to hand to observers.
type Snapshot struct {
	ID             string
	Name           string
	Size           int64
	PeerID         string
	Direction      Direction
	State          State
	Chunks         int
	TotalChunks    int
	Bytes          int64
	BytesPerSecond float64
	Paused         bool
	StartedAt      time.Time
	UpdatedAt      time.Time
	Path           string
	MimeType       string
}

// Fraction reports completion in [0, 1]. A transfer with no chunks is complete.
func (s Snapshot) Fraction() float64 {
	if s.TotalChunks == 0 {
		return 1
	}
	return float64(s.Chunks) / float64(s.TotalChunks)
}

// Transfer is one in-flight file transfer. Exported fields are fixed at
// creation; everything else is guarded by mu.
type Transfer struct {
	ID          string
	Name        string
	Size        int64
	TotalChunks int
	ChunkSize   int
	PeerID      string
	Direction   Direction

	mu           sync.Mutex
	state        State
	progress     int
	bytes        int64
	slots        map[int][]byte
	conn         transport.Conn
	source       io.ReaderAt
	closer       io.Closer
	startedAt    time.Time
	lastActivity time.Time
	speed        float64
	paused       bool
	resumeCh     chan struct{}
	cancel       context.CancelCauseFunc
	cancelCause  error
	delivery     Delivery
	err          error
	timeProvider TimeProvider
}

func newTransfer(id string, meta Metadata, dir Direction, tp TimeProvider) *Transfer {
	now := tp.Now()
	t := &Transfer{
		ID:           id,
		Name:         meta.Name,
		Size:         meta.Size,
		TotalChunks:  meta.TotalChunks,
		ChunkSize:    meta.ChunkSize,
		PeerID:       meta.PeerID,
		Direction:    dir,
		state:        initialState(dir),
		startedAt:    now,
		lastActivity: now,
		timeProvider: tp,
	}
	if dir == Incoming {
		t.slots = make(map[int][]byte)
	}
	return t
}

func (t *Transfer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transfer) Progress() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// Err returns the reason an aborted transfer failed.
func (t *Transfer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Transfer) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Snapshot{
		ID:             t.ID,
		Name:           t.Name,
		Size:           t.Size,
		PeerID:         t.PeerID,
		Direction:      t.Direction,
		State:          t.state,
		Chunks:         t.progress,
		TotalChunks:    t.TotalChunks,
		Bytes:          t.bytes,
		BytesPerSecond: t.speed,
		Paused:         t.paused,
		StartedAt:      t.startedAt,
		UpdatedAt:      t.lastActivity,
		Path:           t.delivery.Path,
		MimeType:       t.delivery.MimeType,
	}
}

func (t *Transfer) transition(to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.state.canTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.state, to)
	}
	t.state = to
	t.lastActivity = t.timeProvider.Now()
	return nil
}

// finish moves the transfer into a terminal state. Only the first caller
// wins; it gets true and is responsible for reporting the outcome.
func (t *Transfer) finish(to State, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.state.canTransition(to) {
		return false
	}
	t.state = to
	t.err = err
	t.lastActivity = t.timeProvider.Now()
	t.slots = nil
	if t.paused {
		t.paused = false
		close(t.resumeCh)
	}
	if t.closer != nil {
		_ = t.closer.Close()
		t.closer = nil
	}
	return true
}

// recordChunk must be called with mu held.
func (t *Transfer) recordChunk(n int) {
	now := t.timeProvider.Now()
	if elapsed := now.Sub(t.lastActivity).Seconds(); elapsed > 0 {
		instant := float64(n) / elapsed
		if t.speed == 0 {
			t.speed = instant
		} else {
			t.speed = 0.7*t.speed + 0.3*instant
		}
	}
	t.progress++
	t.bytes += int64(n)
	t.lastActivity = now
}

func (t *Transfer) attachSource(conn transport.Conn, r io.ReaderAt, c io.Closer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn = conn
	t.source = r
	t.closer = c
}

func (t *Transfer) channel() transport.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

// nextChunk returns the index of the next chunk to send.
func (t *Transfer) nextChunk() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.progress >= t.TotalChunks {
		return 0, true
	}
	return t.progress, false
}

func (t *Transfer) readChunk(index int) ([]byte, error) {
	t.mu.Lock()
	src := t.source
	t.mu.Unlock()

	if src == nil {
		return nil, fmt.Errorf("transfer %s has no source", t.ID)
	}
	return chunk.ReadChunk(src, index, t.ChunkSize, t.Size)
}

func (t *Transfer) sent(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordChunk(n)
}

// applyChunk stores an incoming chunk. It reports false for a slot that is
// already filled or a transfer that is no longer receiving.
func (t *Transfer) applyChunk(index int, data []byte) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateReceiving {
		return false, nil
	}
	if index < 0 || index >= t.TotalChunks {
		return false, fmt.Errorf("%w: %d not in [0, %d)", ErrChunkOutOfRange, index, t.TotalChunks)
	}
	if _, filled := t.slots[index]; filled {
		return false, nil
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	t.slots[index] = stored
	t.recordChunk(len(data))
	return true, nil
}

// takeCompleted hands the filled slots to exactly one caller once every
// chunk has arrived.
func (t *Transfer) takeCompleted() ([][]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateReceiving || t.progress != t.TotalChunks || t.slots == nil {
		return nil, false
	}
	slots := make([][]byte, t.TotalChunks)
	for i, data := range t.slots {
		slots[i] = data
	}
	t.slots = nil
	return slots, true
}

func (t *Transfer) setDelivery(d Delivery) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delivery = d
}

func (t *Transfer) stalled(timeout time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timeout <= 0 || t.paused || t.state.Terminal() {
		return false
	}
	return t.timeProvider.Since(t.lastActivity) >= timeout
}

func (t *Transfer) pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Terminal() {
		return fmt.Errorf("%w: cannot pause %s transfer", ErrInvalidTransition, t.state)
	}
	if t.paused {
		return nil
	}
	t.paused = true
	t.resumeCh = make(chan struct{})
	return nil
}

func (t *Transfer) resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Terminal() {
		return fmt.Errorf("%w: cannot resume %s transfer", ErrInvalidTransition, t.state)
	}
	if !t.paused {
		return nil
	}
	t.paused = false
	t.lastActivity = t.timeProvider.Now()
	close(t.resumeCh)
	return nil
}

// waitIfPaused blocks while the transfer is paused.
func (t *Transfer) waitIfPaused(ctx context.Context) error {
	t.mu.Lock()
	if !t.paused {
		t.mu.Unlock()
		return nil
	}
	ch := t.resumeCh
	t.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// bindCancel registers the cancel func of a running stream and returns a
// cause if cancellation was requested before the stream started.
func (t *Transfer) bindCancel(cancel context.CancelCauseFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel = cancel
	return t.cancelCause
}

func (t *Transfer) requestCancel(cause error) {
	t.mu.Lock()
	if t.cancelCause == nil {
		t.cancelCause = cause
	}
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel(cause)
	}
}
