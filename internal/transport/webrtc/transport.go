// Package webrtc implements transport.Transport on WebRTC data channels.
package webrtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/sharesync/internal/logger"
	"github.com/rudransh-shrivastava/sharesync/internal/transport"
	"github.com/sirupsen/logrus"
)

type Options struct {
	Signaler    transport.Signaler
	STUNServers []string
	Label       string
	Logger      *logrus.Logger
}

type webrtcTransport struct {
	config      webrtc.Configuration
	label       string
	signaler    transport.Signaler
	connections map[string]*connection
	incoming    chan transport.Conn
	done        chan struct{}
	closeOnce   sync.Once
	logger      *logrus.Logger
	mu          sync.RWMutex
}

// New creates a WebRTC transport and starts consuming signals from opts.Signaler.
func New(opts Options) transport.Transport {
	label := opts.Label
	if label == "" {
		label = "data"
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewLogger()
	}

	t := &webrtcTransport{
		config:      ICEConfig(opts.STUNServers),
		label:       label,
		signaler:    opts.Signaler,
		connections: make(map[string]*connection),
		incoming:    make(chan transport.Conn, 16),
		done:        make(chan struct{}),
		logger:      log,
	}

	go t.pumpSignals()
	return t
}

func (t *webrtcTransport) pumpSignals() {
	for signal := range t.signaler.RecvSignal() {
		go func(s transport.Signal) {
			if err := t.HandleSignal(s); err != nil {
				t.logger.WithFields(logrus.Fields{"peer_id": s.PeerID}).Warnf("Failed to handle signal: %v", err)
			}
		}(signal)
	}
}

func (t *webrtcTransport) newPeerConnection(peerID string, isInitiator bool) (*connection, error) {
	pc, err := webrtc.NewPeerConnection(t.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	conn := newConnection(peerID, pc, t.signaler, isInitiator, t.logger)
	conn.onClose = func() {
		t.mu.Lock()
		if t.connections[peerID] == conn {
			delete(t.connections, peerID)
		}
		t.mu.Unlock()
	}

	t.mu.Lock()
	t.connections[peerID] = conn
	t.mu.Unlock()
	return conn, nil
}

// Connect offers a data channel to peerID and blocks until it opens.
func (t *webrtcTransport) Connect(ctx context.Context, peerID string) (transport.Conn, error) {
	conn, err := t.newPeerConnection(peerID, true)
	if err != nil {
		return nil, err
	}

	fail := func(err error) (transport.Conn, error) {
		_ = conn.Close()
		return nil, err
	}

	if err := conn.createDataChannel(t.label); err != nil {
		return fail(err)
	}
	if err := conn.offer(ctx); err != nil {
		return fail(err)
	}
	if err := conn.waitOpen(ctx); err != nil {
		return fail(fmt.Errorf("waiting for data channel: %w", err))
	}
	return conn, nil
}

func (t *webrtcTransport) Accept() <-chan transport.Conn {
	return t.incoming
}

func (t *webrtcTransport) HandleSignal(signal transport.Signal) error {
	t.mu.RLock()
	conn, exists := t.connections[signal.PeerID]
	t.mu.RUnlock()

	if !exists {
		var err error
		conn, err = t.newPeerConnection(signal.PeerID, false)
		if err != nil {
			return err
		}
		conn.onOpen = func() {
			t.mu.RLock()
			defer t.mu.RUnlock()
			select {
			case t.incoming <- conn:
			case <-t.done:
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	return conn.handleSignal(ctx, signal.Payload)
}

func (t *webrtcTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })

	t.mu.Lock()
	conns := make([]*connection, 0, len(t.connections))
	for _, conn := range t.connections {
		conns = append(conns, conn)
	}
	t.connections = make(map[string]*connection)
	t.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	return t.signaler.Close()
}
