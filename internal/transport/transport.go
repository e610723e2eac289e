// Package transport defines the message channel a transfer runs over.
package transport

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotReady is returned by Send while the channel is not open.
	ErrNotReady = errors.New("channel not ready")
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("channel closed")
)

type Transport interface {
	Connect(ctx context.Context, peerID string) (Conn, error)
	Accept() <-chan Conn
	Close() error
}

// Conn is an ordered, reliable, message-oriented channel to one peer.
// Recv is closed when the channel goes away.
type Conn interface {
	PeerID() string
	IsReady() bool
	Send(data []byte) error
	Recv() <-chan []byte
	Close() error
}

type Signaler interface {
	SendSignal(ctx context.Context, peerID string, signal []byte) error
	RecvSignal() <-chan Signal
	io.Closer
}

type Signal struct {
	PeerID  string
	Payload []byte
}
