// Package store persists the history of transfers.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rudransh-shrivastava/sharesync/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("transfer not found")

// Outcome is what a transfer ended with.
type Outcome struct {
	State      string
	Error      string
	Chunks     int
	Bytes      int64
	Path       string
	MimeType   string
	FinishedAt int64
}

type TransferStore struct {
	db *gorm.DB
}

func NewTransferStore(gdb *gorm.DB) *TransferStore {
	return &TransferStore{db: gdb}
}

// RecordStarted inserts rec, or refreshes the row when the transfer id was
// already recorded.
func (s *TransferStore) RecordStarted(ctx context.Context, rec db.Transfer) error {
	rec.ID = 0
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "transfer_id"}},
		UpdateAll: true,
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("recording transfer %s: %w", rec.TransferID, err)
	}
	return nil
}

func (s *TransferStore) RecordFinished(ctx context.Context, transferID string, out Outcome) error {
	res := s.db.WithContext(ctx).Model(&db.Transfer{}).
		Where("transfer_id = ?", transferID).
		Updates(map[string]any{
			"state":       out.State,
			"error":       out.Error,
			"chunks":      out.Chunks,
			"bytes":       out.Bytes,
			"path":        out.Path,
			"mime_type":   out.MimeType,
			"finished_at": out.FinishedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("finishing transfer %s: %w", transferID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, transferID)
	}
	return nil
}

// List returns the most recently started transfers first. limit <= 0 means all.
func (s *TransferStore) List(ctx context.Context, limit int) ([]db.Transfer, error) {
	var rows []db.Transfer
	q := s.db.WithContext(ctx).Order("started_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *TransferStore) Get(ctx context.Context, transferID string) (db.Transfer, error) {
	var row db.Transfer
	err := s.db.WithContext(ctx).Where("transfer_id = ?", transferID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.Transfer{}, fmt.Errorf("%w: %s", ErrNotFound, transferID)
	}
	if err != nil {
		return db.Transfer{}, err
	}
	return row, nil
}
