package transport

import (
	"sync"
)

const pipeBuffer = 256

// Inbox is the receive side shared by Conn implementations: a buffered
// channel that can be fed from callbacks and closed exactly once.
type Inbox struct {
	ch        chan []byte
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func NewInbox(size int) *Inbox {
	return &Inbox{
		ch:   make(chan []byte, size),
		done: make(chan struct{}),
	}
}

// Deliver blocks until the message is queued or the inbox is closed.
func (in *Inbox) Deliver(data []byte) bool {
	in.mu.RLock()
	defer in.mu.RUnlock()

	if in.closed {
		return false
	}
	select {
	case in.ch <- data:
		return true
	case <-in.done:
		return false
	}
}

func (in *Inbox) Recv() <-chan []byte {
	return in.ch
}

func (in *Inbox) Done() <-chan struct{} {
	return in.done
}

func (in *Inbox) Close() {
	in.closeOnce.Do(func() {
		close(in.done)
		in.mu.Lock()
		in.closed = true
		close(in.ch)
		in.mu.Unlock()
	})
}

type pipeConn struct {
	peerID string
	inbox  *Inbox
	remote *pipeConn
}

// Pipe returns two connected in-memory Conns. A message sent on one is
// received on the other. Closing either end closes both.
func Pipe(aID, bID string) (Conn, Conn) {
	a := &pipeConn{peerID: bID, inbox: NewInbox(pipeBuffer)}
	b := &pipeConn{peerID: aID, inbox: NewInbox(pipeBuffer)}
	a.remote = b
	b.remote = a
	return a, b
}

func (p *pipeConn) PeerID() string {
	return p.peerID
}

func (p *pipeConn) IsReady() bool {
	select {
	case <-p.inbox.Done():
		return false
	default:
		return true
	}
}

func (p *pipeConn) Send(data []byte) error {
	if !p.IsReady() {
		return ErrClosed
	}
	msg := make([]byte, len(data))
	copy(msg, data)
	if !p.remote.inbox.Deliver(msg) {
		return ErrClosed
	}
	return nil
}

func (p *pipeConn) Recv() <-chan []byte {
	return p.inbox.Recv()
}

func (p *pipeConn) Close() error {
	p.inbox.Close()
	p.remote.inbox.Close()
	return nil
}
