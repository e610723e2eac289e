package transfer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/sharesync/internal/protocol"
	"github.com/rudransh-shrivastava/sharesync/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type senderFixture struct {
	sender   *Sender
	registry *Registry
	conn     *fakeConn
	observer *recordingObserver
	sleeper  *recordingSleep
}

func newSenderFixture(t *testing.T, chunkSize int) *senderFixture {
	t.Helper()
	f := &senderFixture{
		registry: NewRegistry(newMockTimeProvider()),
		conn:     newFakeConn("peer-b"),
		observer: &recordingObserver{},
		sleeper:  &recordingSleep{},
	}
	f.sender = NewSender(SenderOptions{
		Registry:  f.registry,
		ChunkSize: chunkSize,
		Pacing:    Pacing{Every: 10, Delay: time.Millisecond},
		Observer:  f.observer,
		Logger:    quietLogger,
		NewID:     sequentialIDs("out"),
		Sleep:     f.sleeper.sleep,
	})
	f.sender.SelectPeer(f.conn)
	return f
}

func TestSender_SendsMetadataThenChunksInOrder(t *testing.T) {
	f := newSenderFixture(t, 16384)
	data := testPattern(40000)

	id, err := f.sender.SendSource(context.Background(), BytesSource("report.pdf", data))
	require.NoError(t, err)
	assert.Equal(t, "out-1", id)

	msgs := f.conn.messages()
	require.Len(t, msgs, 4)

	meta, ok := msgs[0].(*protocol.FileMetadata)
	require.True(t, ok)
	assert.Equal(t, protocol.FileMetadata{FileID: id, Name: "report.pdf", Size: 40000, TotalChunks: 3}, *meta)

	sizes := []int{16384, 16384, 7232}
	var joined []byte
	for i, msg := range msgs[1:] {
		c, ok := msg.(*protocol.FileChunk)
		require.True(t, ok)
		assert.Equal(t, id, c.FileID)
		assert.Equal(t, i, c.ChunkIndex)
		assert.Len(t, c.Data, sizes[i])
		joined = append(joined, c.Data...)
	}
	assert.Equal(t, data, joined)

	_, ok = f.registry.Get(id)
	assert.False(t, ok, "completed transfer leaves the registry")
}

func TestSender_ProgressIsMonotonic(t *testing.T) {
	f := newSenderFixture(t, 100)

	_, err := f.sender.SendSource(context.Background(), BytesSource("f", testPattern(1050)))
	require.NoError(t, err)

	started, progress, completed, failed := f.observer.counts()
	assert.Equal(t, 1, started)
	assert.Equal(t, 11, progress)
	assert.Equal(t, 1, completed)
	assert.Equal(t, 0, failed)

	for i, s := range f.observer.progress {
		assert.Equal(t, i+1, s.Chunks)
		assert.Equal(t, 11, s.TotalChunks)
	}
	done := f.observer.completed[0]
	assert.Equal(t, StateCompleted, done.State)
	assert.Equal(t, 11, done.Chunks)
	assert.Equal(t, int64(1050), done.Bytes)
}

func TestSender_PacesEveryTenthChunk(t *testing.T) {
	f := newSenderFixture(t, 10)

	_, err := f.sender.SendSource(context.Background(), BytesSource("f", testPattern(250)))
	require.NoError(t, err)

	// Chunks 0, 10 and 20 of 25.
	assert.Equal(t, 3, f.sleeper.count())
}

func TestSender_EmptyFile(t *testing.T) {
	f := newSenderFixture(t, 16384)

	_, err := f.sender.SendSource(context.Background(), BytesSource("empty", nil))
	require.NoError(t, err)

	msgs := f.conn.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, 0, msgs[0].(*protocol.FileMetadata).TotalChunks)
	_, _, completed, _ := f.observer.counts()
	assert.Equal(t, 1, completed)
}

func TestSender_Preconditions(t *testing.T) {
	t.Run("no peer selected", func(t *testing.T) {
		f := newSenderFixture(t, 16)
		f.sender.SelectPeer(nil)

		_, err := f.sender.BeginTransfer(context.Background(), BytesSource("f", []byte("x")))
		require.ErrorIs(t, err, ErrNoPeerSelected)
		assert.ErrorIs(t, err, ErrPrecondition)
		assert.Equal(t, 0, f.registry.Len())
	})

	t.Run("channel not ready", func(t *testing.T) {
		f := newSenderFixture(t, 16)
		f.conn.setReady(false)

		_, err := f.sender.BeginTransfer(context.Background(), BytesSource("f", []byte("x")))
		require.ErrorIs(t, err, ErrChannelNotReady)
		assert.ErrorIs(t, err, ErrPrecondition)
		assert.Equal(t, 0, f.registry.Len())
		assert.Empty(t, f.conn.messages())

		started, _, _, failed := f.observer.counts()
		assert.Zero(t, started)
		assert.Zero(t, failed)
	})
}

func TestSender_AbortsWhenChannelDropsMidStream(t *testing.T) {
	f := newSenderFixture(t, 10)
	f.conn.onSend = func(n int) {
		// Metadata plus two chunks, then the channel goes away.
		if n == 3 {
			f.conn.setReady(false)
		}
	}

	id, err := f.sender.SendSource(context.Background(), BytesSource("f", testPattern(100)))
	require.ErrorIs(t, err, ErrSendFailed)
	assert.ErrorIs(t, err, transport.ErrNotReady)
	assert.Equal(t, "out-1", id)

	_, _, completed, failed := f.observer.counts()
	assert.Equal(t, 0, completed)
	require.Equal(t, 1, failed)
	got := f.observer.failed[0]
	assert.Equal(t, StateAborted, got.snapshot.State)
	assert.Equal(t, 2, got.snapshot.Chunks)
	assert.ErrorIs(t, got.err, ErrSendFailed)
	assert.Equal(t, 0, f.registry.Len())
}

func TestSender_AbortsOnSendError(t *testing.T) {
	f := newSenderFixture(t, 10)
	f.conn.failAfter = 1

	_, err := f.sender.SendSource(context.Background(), BytesSource("f", testPattern(30)))
	require.ErrorIs(t, err, ErrSendFailed)
	assert.ErrorIs(t, err, errSendBroken)
	assert.Equal(t, 0, f.registry.Len())
}

func TestSender_MetadataSendFailureAborts(t *testing.T) {
	f := newSenderFixture(t, 10)
	f.conn.failAfter = 0

	_, err := f.sender.BeginTransfer(context.Background(), BytesSource("f", testPattern(30)))
	require.ErrorIs(t, err, ErrSendFailed)

	started, _, _, failed := f.observer.counts()
	assert.Equal(t, 0, started)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 0, f.registry.Len())
}

func TestSender_BeginThenStream(t *testing.T) {
	f := newSenderFixture(t, 10)

	id, err := f.sender.BeginTransfer(context.Background(), BytesSource("f", testPattern(25)))
	require.NoError(t, err)

	tr, ok := f.registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, StateAnnounced, tr.State())
	assert.Equal(t, "peer-b", tr.PeerID)

	require.NoError(t, f.sender.StreamChunks(context.Background(), id))
	assert.Equal(t, StateCompleted, tr.State())
	assert.Len(t, f.conn.messages(), 4)

	err = f.sender.StreamChunks(context.Background(), id)
	assert.ErrorIs(t, err, ErrUnknownTransfer)
}

func TestSender_CancelBeforeStreaming(t *testing.T) {
	f := newSenderFixture(t, 10)

	id, err := f.sender.BeginTransfer(context.Background(), BytesSource("f", testPattern(25)))
	require.NoError(t, err)
	require.NoError(t, f.sender.Cancel(id))

	err = f.sender.StreamChunks(context.Background(), id)
	assert.ErrorIs(t, err, ErrUnknownTransfer)

	_, _, _, failed := f.observer.counts()
	require.Equal(t, 1, failed)
	assert.ErrorIs(t, f.observer.failed[0].err, ErrTransferCancelled)
}

// pauseAfterSecondChunk pauses id from inside the stream right after chunk 1
// went out and returns a channel closed once that happened.
func pauseAfterSecondChunk(t *testing.T, f *senderFixture, id string) <-chan struct{} {
	paused := make(chan struct{})
	f.conn.onSend = func(n int) {
		if n == 3 {
			assert.NoError(t, f.sender.Pause(id))
			close(paused)
		}
	}
	return paused
}

func TestSender_PauseResume(t *testing.T) {
	f := newSenderFixture(t, 10)

	id, err := f.sender.BeginTransfer(context.Background(), BytesSource("f", testPattern(100)))
	require.NoError(t, err)
	paused := pauseAfterSecondChunk(t, f, id)

	result := make(chan error, 1)
	go func() { result <- f.sender.StreamChunks(context.Background(), id) }()

	<-paused
	tr, ok := f.registry.Get(id)
	require.True(t, ok)
	assert.Eventually(t, func() bool { return tr.Snapshot().Paused && tr.Progress() == 2 },
		time.Second, 5*time.Millisecond)
	assert.Len(t, f.conn.messages(), 3, "no chunk goes out while paused")

	require.NoError(t, f.sender.Resume(id))

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("stream did not finish after resume")
	}
	assert.Equal(t, StateCompleted, tr.State())
	assert.Len(t, f.conn.messages(), 11)
}

func TestSender_CancelWhilePaused(t *testing.T) {
	f := newSenderFixture(t, 10)

	id, err := f.sender.BeginTransfer(context.Background(), BytesSource("f", testPattern(100)))
	require.NoError(t, err)
	paused := pauseAfterSecondChunk(t, f, id)

	result := make(chan error, 1)
	go func() { result <- f.sender.StreamChunks(context.Background(), id) }()

	<-paused
	tr, ok := f.registry.Get(id)
	require.True(t, ok)
	require.NoError(t, f.sender.Cancel(id))

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrTransferCancelled)
	case <-time.After(time.Second):
		t.Fatal("stream did not stop after cancel")
	}
	assert.Equal(t, StateAborted, tr.State())
	assert.Equal(t, 0, f.registry.Len())
	assert.Len(t, f.conn.messages(), 3)

	_, _, completed, failed := f.observer.counts()
	assert.Equal(t, 0, completed)
	assert.Equal(t, 1, failed)
}

func TestSender_ContextCancelled(t *testing.T) {
	f := newSenderFixture(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	f.conn.onSend = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	_, err := f.sender.SendSource(ctx, BytesSource("f", testPattern(100)))
	require.ErrorIs(t, err, context.Canceled)
	_, _, _, failed := f.observer.counts()
	assert.Equal(t, 1, failed)
}

func TestSender_SleepErrorAborts(t *testing.T) {
	f := newSenderFixture(t, 10)
	errSleep := errors.New("timer unavailable")
	f.sender.sleep = func(context.Context, time.Duration) error { return errSleep }

	_, err := f.sender.SendSource(context.Background(), BytesSource("f", testPattern(30)))
	require.ErrorIs(t, err, errSleep)

	_, _, completed, failed := f.observer.counts()
	assert.Equal(t, 0, completed)
	require.Equal(t, 1, failed)
	assert.ErrorIs(t, f.observer.failed[0].err, errSleep)
	assert.Equal(t, StateAborted, f.observer.failed[0].snapshot.State)
}

func TestSender_WrongDirection(t *testing.T) {
	f := newSenderFixture(t, 10)
	_, err := f.registry.Create("in-1", Metadata{TotalChunks: 1, Size: 1}, Incoming)
	require.NoError(t, err)

	assert.ErrorIs(t, f.sender.Pause("in-1"), ErrWrongDirection)
	assert.ErrorIs(t, f.sender.Cancel("in-1"), ErrWrongDirection)
	assert.ErrorIs(t, f.sender.StreamChunks(context.Background(), "in-1"), ErrWrongDirection)
	assert.ErrorIs(t, f.sender.Resume("missing"), ErrUnknownTransfer)
}

func TestSender_SendFile(t *testing.T) {
	f := newSenderFixture(t, 16384)
	path := filepath.Join(t.TempDir(), "notes.txt")
	data := testPattern(20000)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err := f.sender.Send(context.Background(), path)
	require.NoError(t, err)

	msgs := f.conn.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "notes.txt", msgs[0].(*protocol.FileMetadata).Name)

	_, err = f.sender.Send(context.Background(), t.TempDir())
	assert.Error(t, err, "directories are rejected")
}
