package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_Transitions(t *testing.T) {
	tests := []struct {
		from, to State
		allowed  bool
	}{
		{StateIdle, StateAnnounced, true},
		{StateAnnounced, StateStreaming, true},
		{StateStreaming, StateCompleted, true},
		{StateStreaming, StateAborted, true},
		{StateWaitingMetadata, StateReceiving, true},
		{StateReceiving, StateCompleted, true},
		{StateIdle, StateStreaming, false},
		{StateWaitingMetadata, StateCompleted, false},
		{StateCompleted, StateAborted, false},
		{StateAborted, StateCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.canTransition(tt.to))
		})
	}
}

func TestTransfer_FinishFirstWins(t *testing.T) {
	tr := newTransfer("x", Metadata{TotalChunks: 1, Size: 1}, Incoming, newMockTimeProvider())
	require.NoError(t, tr.transition(StateReceiving))

	assert.True(t, tr.finish(StateAborted, ErrTransferStalled))
	assert.False(t, tr.finish(StateCompleted, nil))
	assert.False(t, tr.finish(StateAborted, ErrChannelClosed))

	assert.Equal(t, StateAborted, tr.State())
	assert.ErrorIs(t, tr.Err(), ErrTransferStalled)
}

func TestTransfer_ApplyChunkIdempotent(t *testing.T) {
	tr := newTransfer("x", Metadata{TotalChunks: 2, Size: 6}, Incoming, newMockTimeProvider())
	require.NoError(t, tr.transition(StateReceiving))

	applied, err := tr.applyChunk(1, []byte("def"))
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = tr.applyChunk(1, []byte("XYZ"))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 1, tr.Progress())
	assert.Equal(t, []byte("def"), tr.slots[1])

	_, err = tr.applyChunk(2, []byte("g"))
	assert.ErrorIs(t, err, ErrChunkOutOfRange)
	_, err = tr.applyChunk(-1, []byte("g"))
	assert.ErrorIs(t, err, ErrChunkOutOfRange)
}

func TestTransfer_ApplyChunkCopiesData(t *testing.T) {
	tr := newTransfer("x", Metadata{TotalChunks: 1, Size: 3}, Incoming, newMockTimeProvider())
	require.NoError(t, tr.transition(StateReceiving))

	buf := []byte("abc")
	_, err := tr.applyChunk(0, buf)
	require.NoError(t, err)
	buf[0] = 'z'

	slots, ok := tr.takeCompleted()
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), slots[0])

	_, ok = tr.takeCompleted()
	assert.False(t, ok, "slots are handed out once")
}

func TestTransfer_SpeedAverage(t *testing.T) {
	clock := newMockTimeProvider()
	tr := newTransfer("x", Metadata{TotalChunks: 3, Size: 3000}, Outgoing, clock)

	clock.advance(time.Second)
	tr.sent(1000)
	assert.InDelta(t, 1000, tr.Snapshot().BytesPerSecond, 0.001)

	clock.advance(time.Second)
	tr.sent(2000)
	assert.InDelta(t, 0.7*1000+0.3*2000, tr.Snapshot().BytesPerSecond, 0.001)
}

func TestTransfer_PauseResume(t *testing.T) {
	clock := newMockTimeProvider()
	tr := newTransfer("x", Metadata{TotalChunks: 3, Size: 3}, Outgoing, clock)
	require.NoError(t, tr.pause())
	require.NoError(t, tr.pause())

	waited := make(chan error, 1)
	go func() { waited <- tr.waitIfPaused(context.Background()) }()

	select {
	case <-waited:
		t.Fatal("waitIfPaused returned while paused")
	case <-time.After(20 * time.Millisecond):
	}

	clock.advance(time.Minute)
	require.NoError(t, tr.resume())
	require.NoError(t, <-waited)
	assert.False(t, tr.stalled(time.Second), "resume counts as activity")
}

func TestTransfer_FinishReleasesPausedWaiter(t *testing.T) {
	tr := newTransfer("x", Metadata{TotalChunks: 3, Size: 3}, Outgoing, newMockTimeProvider())
	require.NoError(t, tr.pause())

	waited := make(chan error, 1)
	go func() { waited <- tr.waitIfPaused(context.Background()) }()

	require.True(t, tr.finish(StateAborted, ErrTransferCancelled))
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}
	assert.Error(t, tr.pause())
}

func TestSnapshot_Fraction(t *testing.T) {
	assert.Equal(t, 1.0, Snapshot{}.Fraction())
	assert.InDelta(t, 2.0/3.0, Snapshot{Chunks: 2, TotalChunks: 3}.Fraction(), 1e-9)
}
