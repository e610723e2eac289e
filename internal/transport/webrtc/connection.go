package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/sharesync/internal/transport"
	"github.com/sirupsen/logrus"
)

const (
	recvBuffer = 256

	// Send blocks while more than maxBuffered bytes are queued on the
	// channel and resumes once the queue falls under bufferedLow.
	maxBuffered  = 1 << 20
	bufferedLow  = 256 << 10
	drainPoll    = 20 * time.Millisecond
	drainTimeout = 5 * time.Second
)

type connection struct {
	peerID      string
	pc          *webrtc.PeerConnection
	dc          *webrtc.DataChannel
	signaler    transport.Signaler
	inbox       *transport.Inbox
	opened      chan struct{}
	lowWater    chan struct{}
	openOnce    sync.Once
	closeOnce   sync.Once
	isInitiator bool
	onOpen      func()
	onClose     func()
	logger      *logrus.Logger
	mu          sync.Mutex
	signalMu    sync.Mutex
}

func newConnection(peerID string, pc *webrtc.PeerConnection, signaler transport.Signaler, isInitiator bool, logger *logrus.Logger) *connection {
	conn := &connection{
		peerID:      peerID,
		pc:          pc,
		signaler:    signaler,
		inbox:       transport.NewInbox(recvBuffer),
		opened:      make(chan struct{}),
		lowWater:    make(chan struct{}, 1),
		isInitiator: isInitiator,
		logger:      logger,
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		conn.logger.WithFields(logrus.Fields{"peer_id": peerID, "state": s.String()}).Debug("Peer connection state changed")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			conn.shutdown()
		}
	})

	if !isInitiator {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			conn.setupDataChannel(dc)
		})
	}

	return conn
}

func (c *connection) createDataChannel(label string) error {
	dc, err := c.pc.CreateDataChannel(label, DataChannelConfig())
	if err != nil {
		return fmt.Errorf("failed to create data channel: %w", err)
	}
	c.setupDataChannel(dc)
	return nil
}

func (c *connection) setupDataChannel(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		c.openOnce.Do(func() { close(c.opened) })
		c.logger.WithFields(logrus.Fields{"peer_id": c.peerID, "label": dc.Label()}).Info("Data channel open")
		if c.onOpen != nil {
			c.onOpen()
		}
	})

	dc.SetBufferedAmountLowThreshold(bufferedLow)
	dc.OnBufferedAmountLow(func() {
		select {
		case c.lowWater <- struct{}{}:
		default:
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.inbox.Deliver(msg.Data)
	})

	dc.OnError(func(err error) {
		c.logger.WithFields(logrus.Fields{"peer_id": c.peerID}).Warnf("Data channel error: %v", err)
	})

	dc.OnClose(func() {
		c.shutdown()
	})
}

// waitOpen blocks until the data channel opens or ctx ends.
func (c *connection) waitOpen(ctx context.Context) error {
	select {
	case <-c.opened:
		return nil
	case <-c.inbox.Done():
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// localDescription sets desc and waits for ICE gathering, so the returned
// description carries every candidate.
func (c *connection) localDescription(ctx context.Context, desc webrtc.SessionDescription) ([]byte, error) {
	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return json.Marshal(c.pc.LocalDescription())
}

func (c *connection) offer(ctx context.Context) error {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}

	payload, err := c.localDescription(ctx, offer)
	if err != nil {
		return err
	}

	if err := c.signaler.SendSignal(ctx, c.peerID, payload); err != nil {
		return fmt.Errorf("failed to send offer: %w", err)
	}
	return nil
}

func (c *connection) handleSignal(ctx context.Context, payload []byte) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(payload, &desc); err != nil {
		return fmt.Errorf("failed to decode session description: %w", err)
	}

	c.signalMu.Lock()
	defer c.signalMu.Unlock()

	if c.pc.RemoteDescription() != nil {
		return nil
	}

	if c.isInitiator && desc.Type != webrtc.SDPTypeAnswer {
		return fmt.Errorf("expected answer, got %s", desc.Type)
	}
	if !c.isInitiator && desc.Type != webrtc.SDPTypeOffer {
		return fmt.Errorf("expected offer, got %s", desc.Type)
	}

	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	if c.isInitiator {
		return nil
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}

	reply, err := c.localDescription(ctx, answer)
	if err != nil {
		return err
	}

	if err := c.signaler.SendSignal(ctx, c.peerID, reply); err != nil {
		return fmt.Errorf("failed to send answer: %w", err)
	}
	return nil
}

func (c *connection) shutdown() {
	c.closeOnce.Do(func() {
		c.inbox.Close()
		if c.onClose != nil {
			c.onClose()
		}
	})
}

func (c *connection) PeerID() string {
	return c.peerID
}

func (c *connection) IsReady() bool {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	return dc != nil && dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (c *connection) Send(data []byte) error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return transport.ErrNotReady
	}

	for dc.BufferedAmount() > maxBuffered {
		select {
		case <-c.lowWater:
		case <-c.inbox.Done():
			return transport.ErrClosed
		case <-time.After(drainPoll):
		}
	}
	return dc.Send(data)
}

// drain waits for queued messages to leave, so closing right after the last
// Send does not drop them.
func (c *connection) drain(dc *webrtc.DataChannel) {
	deadline := time.Now().Add(drainTimeout)
	for dc.ReadyState() == webrtc.DataChannelStateOpen && dc.BufferedAmount() > 0 {
		if time.Now().After(deadline) {
			c.logger.WithField("peer_id", c.peerID).Warn("Closing data channel with unsent data")
			return
		}
		time.Sleep(drainPoll)
	}
}

func (c *connection) Recv() <-chan []byte {
	return c.inbox.Recv()
}

func (c *connection) Close() error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	if dc != nil {
		c.drain(dc)
		_ = dc.Close()
	}
	err := c.pc.Close()
	c.shutdown()
	return err
}
