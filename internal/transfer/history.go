package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/rudransh-shrivastava/sharesync/internal/db"
	"github.com/rudransh-shrivastava/sharesync/internal/store"
	"github.com/sirupsen/logrus"
)

// HistoryRepository records every transfer and how it ended.
type HistoryRepository interface {
	RecordStarted(ctx context.Context, rec db.Transfer) error
	RecordFinished(ctx context.Context, transferID string, out store.Outcome) error
}

var _ HistoryRepository = (*store.TransferStore)(nil)

const historyTimeout = 5 * time.Second

// historyObserver writes lifecycle events to a HistoryRepository. Write
// failures are logged and never affect the transfer.
type historyObserver struct {
	NopObserver
	repo   HistoryRepository
	logger *logrus.Logger
}

func (h historyObserver) TransferStarted(s Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	err := h.repo.RecordStarted(ctx, db.Transfer{
		TransferID:  s.ID,
		Name:        s.Name,
		Size:        s.Size,
		TotalChunks: s.TotalChunks,
		Direction:   s.Direction.String(),
		PeerID:      s.PeerID,
		State:       s.State.String(),
		StartedAt:   s.StartedAt.UnixMilli(),
	})
	if err != nil {
		h.logger.WithField("transfer_id", s.ID).WithError(err).Warn("Failed to record transfer")
	}
}

func (h historyObserver) TransferCompleted(s Snapshot) {
	h.finished(s, nil)
}

func (h historyObserver) TransferFailed(s Snapshot, err error) {
	h.finished(s, err)
}

func (h historyObserver) finished(s Snapshot, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	out := store.Outcome{
		State:      s.State.String(),
		Chunks:     s.Chunks,
		Bytes:      s.Bytes,
		Path:       s.Path,
		MimeType:   s.MimeType,
		FinishedAt: s.UpdatedAt.UnixMilli(),
	}
	if cause != nil {
		out.Error = cause.Error()
	}

	// Transfers that failed before they were announced have no row.
	err := h.repo.RecordFinished(ctx, s.ID, out)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.WithField("transfer_id", s.ID).WithError(err).Warn("Failed to record transfer outcome")
	}
}
