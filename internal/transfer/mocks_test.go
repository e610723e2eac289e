package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/sharesync/internal/logger"
	"github.com/rudransh-shrivastava/sharesync/internal/protocol"
	"github.com/rudransh-shrivastava/sharesync/internal/transport"
)

// mockTimeProvider is a deterministic clock that only moves on advance.
type mockTimeProvider struct {
	mu  sync.Mutex
	now time.Time
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockTimeProvider) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

func (m *mockTimeProvider) advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

var errSendBroken = errors.New("send broken")

// fakeConn records every message sent through it.
type fakeConn struct {
	mu     sync.Mutex
	peerID string
	ready  bool
	// failAfter makes Send fail once this many messages went out. Negative
	// never fails.
	failAfter int
	// onSend runs after a message is recorded, outside the lock.
	onSend func(n int)
	sent   [][]byte
	inbox  *transport.Inbox
}

func newFakeConn(peerID string) *fakeConn {
	return &fakeConn{
		peerID:    peerID,
		ready:     true,
		failAfter: -1,
		inbox:     transport.NewInbox(16),
	}
}

func (c *fakeConn) PeerID() string { return c.peerID }

func (c *fakeConn) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *fakeConn) setReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = ready
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	if c.failAfter >= 0 && len(c.sent) >= c.failAfter {
		c.mu.Unlock()
		return errSendBroken
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	n := len(c.sent)
	hook := c.onSend
	c.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return nil
}

func (c *fakeConn) Recv() <-chan []byte { return c.inbox.Recv() }

func (c *fakeConn) Close() error {
	c.inbox.Close()
	return nil
}

func (c *fakeConn) messages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	codec := protocol.NewCodec()
	msgs := make([]protocol.Message, 0, len(c.sent))
	for _, data := range c.sent {
		msg, err := codec.DecodeFromBytes(data)
		if err != nil {
			panic(err)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

type failure struct {
	snapshot Snapshot
	err      error
}

// recordingObserver keeps every event it sees.
type recordingObserver struct {
	mu        sync.Mutex
	started   []Snapshot
	progress  []Snapshot
	completed []Snapshot
	failed    []failure
}

func (o *recordingObserver) TransferStarted(s Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, s)
}

func (o *recordingObserver) TransferProgress(s Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = append(o.progress, s)
}

func (o *recordingObserver) TransferCompleted(s Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed = append(o.completed, s)
}

func (o *recordingObserver) TransferFailed(s Snapshot, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, failure{snapshot: s, err: err})
}

func (o *recordingObserver) counts() (started, progress, completed, failed int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.started), len(o.progress), len(o.completed), len(o.failed)
}

// memorySink keeps delivered files by name.
type memorySink struct {
	mu    sync.Mutex
	files map[string][]byte
	calls int
	err   error
}

func newMemorySink() *memorySink {
	return &memorySink{files: make(map[string][]byte)}
}

func (s *memorySink) Deliver(name string, data []byte) (Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return Delivery{}, s.err
	}
	s.files[name] = data
	return Delivery{Path: "/mem/" + name, MimeType: "application/octet-stream"}, nil
}

func (s *memorySink) get(name string) ([]byte, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files[name], s.calls
}

// recordingSleep counts pacing pauses without waiting.
type recordingSleep struct {
	mu    sync.Mutex
	calls int
}

func (r *recordingSleep) sleep(ctx context.Context, _ time.Duration) error {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleep) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func testPattern(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

var quietLogger = logger.Discard()
