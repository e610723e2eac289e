// Package signal exchanges WebRTC session descriptions over websockets.
//
// A receiving node serves a websocket endpoint; a sending node dials it. Each
// websocket connection is one peer, identified by the dialled URL on the
// sending side and by a generated id on the serving side.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rudransh-shrivastava/sharesync/internal/transport"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownPeer = errors.New("unknown signaling peer")
	ErrClosed      = errors.New("signaler closed")
)

const shutdownTimeout = 5 * time.Second

type message struct {
	Payload json.RawMessage `json:"payload"`
}

type peer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *peer) write(ctx context.Context, msg message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = p.conn.SetWriteDeadline(deadline)
		defer func() { _ = p.conn.SetWriteDeadline(time.Time{}) }()
	}
	return p.conn.WriteJSON(msg)
}

type Signaler struct {
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
	peers    map[string]*peer
	recv     chan transport.Signal
	done     chan struct{}
	closed   bool
	wg       sync.WaitGroup
	logger   *logrus.Logger
	mu       sync.Mutex
}

var _ transport.Signaler = (*Signaler)(nil)

func New(logger *logrus.Logger) *Signaler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Signaler{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		dialer: websocket.DefaultDialer,
		peers:  make(map[string]*peer),
		recv:   make(chan transport.Signal, 16),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (s *Signaler) add(id string, conn *websocket.Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.peers[id] = &peer{conn: conn}
	s.wg.Add(1)
	return nil
}

func (s *Signaler) remove(id string) {
	s.mu.Lock()
	p, ok := s.peers[id]
	delete(s.peers, id)
	s.mu.Unlock()

	if ok {
		_ = p.conn.Close()
	}
}

// Dial connects to a serving node and returns the peer id to signal it with.
func (s *Signaler) Dial(ctx context.Context, url string) (string, error) {
	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return "", fmt.Errorf("dialing %s: %w", url, err)
	}

	if err := s.add(url, conn); err != nil {
		_ = conn.Close()
		return "", err
	}

	go s.readLoop(url, conn)
	return url, nil
}

// ServeHTTP upgrades the request and reads signals until the socket closes.
func (s *Signaler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("Websocket upgrade failed: %v", err)
		return
	}

	id := uuid.NewString()
	if err := s.add(id, conn); err != nil {
		_ = conn.Close()
		return
	}

	s.logger.WithFields(logrus.Fields{"peer_id": id, "remote_addr": r.RemoteAddr}).Info("Signaling peer connected")
	s.readLoop(id, conn)
}

func (s *Signaler) readLoop(id string, conn *websocket.Conn) {
	defer s.wg.Done()
	defer s.remove(id)

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.WithFields(logrus.Fields{"peer_id": id}).Debugf("Signaling read ended: %v", err)
			}
			return
		}

		select {
		case s.recv <- transport.Signal{PeerID: id, Payload: msg.Payload}:
		case <-s.done:
			return
		}
	}
}

func (s *Signaler) SendSignal(ctx context.Context, peerID string, signal []byte) error {
	s.mu.Lock()
	p, ok := s.peers[peerID]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	if !json.Valid(signal) {
		return fmt.Errorf("signal payload for %s is not JSON", peerID)
	}
	return p.write(ctx, message{Payload: signal})
}

func (s *Signaler) RecvSignal() <-chan transport.Signal {
	return s.recv
}

// ListenAndServe serves the signaling endpoint at path until ctx ends.
func (s *Signaler) ListenAndServe(ctx context.Context, addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, s)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	}
}

// Close drops every peer and closes the RecvSignal channel.
func (s *Signaler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	conns := make([]*websocket.Conn, 0, len(s.peers))
	for _, p := range s.peers {
		conns = append(conns, p.conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}

	s.wg.Wait()
	close(s.recv)
	return nil
}
