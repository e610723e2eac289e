package transfer

import (
	"errors"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// Observer receives transfer lifecycle events. Events for one transfer are
// delivered in order, but different transfers may report concurrently.
type Observer interface {
	TransferStarted(s Snapshot)
	TransferProgress(s Snapshot)
	TransferCompleted(s Snapshot)
	TransferFailed(s Snapshot, err error)
}

// Observers fans every event out to each member in order.
type Observers []Observer

func (o Observers) TransferStarted(s Snapshot) {
	for _, obs := range o {
		obs.TransferStarted(s)
	}
}

func (o Observers) TransferProgress(s Snapshot) {
	for _, obs := range o {
		obs.TransferProgress(s)
	}
}

func (o Observers) TransferCompleted(s Snapshot) {
	for _, obs := range o {
		obs.TransferCompleted(s)
	}
}

func (o Observers) TransferFailed(s Snapshot, err error) {
	for _, obs := range o {
		obs.TransferFailed(s, err)
	}
}

type NopObserver struct{}

func (NopObserver) TransferStarted(Snapshot)       {}
func (NopObserver) TransferProgress(Snapshot)      {}
func (NopObserver) TransferCompleted(Snapshot)     {}
func (NopObserver) TransferFailed(Snapshot, error) {}

// LogObserver writes lifecycle events to a logrus logger.
type LogObserver struct {
	Logger *logrus.Logger
}

func (o LogObserver) fields(s Snapshot) logrus.Fields {
	return logrus.Fields{
		"transfer_id": s.ID,
		"name":        s.Name,
		"direction":   s.Direction.String(),
	}
}

func (o LogObserver) TransferStarted(s Snapshot) {
	o.Logger.WithFields(o.fields(s)).
		WithField("size", humanize.Bytes(uint64(s.Size))).
		WithField("chunks", s.TotalChunks).
		Info("Transfer started")
}

func (o LogObserver) TransferProgress(s Snapshot) {
	o.Logger.WithFields(o.fields(s)).
		WithField("chunk", s.Chunks).
		WithField("of", s.TotalChunks).
		Trace("Transfer progress")
}

func (o LogObserver) TransferCompleted(s Snapshot) {
	entry := o.Logger.WithFields(o.fields(s)).
		WithField("size", humanize.Bytes(uint64(s.Bytes))).
		WithField("elapsed", s.UpdatedAt.Sub(s.StartedAt).Round(time.Millisecond).String())
	if s.Path != "" {
		entry = entry.WithField("path", s.Path)
	}
	if s.MimeType != "" {
		entry = entry.WithField("mime", s.MimeType)
	}
	entry.Info("Transfer completed")
}

func (o LogObserver) TransferFailed(s Snapshot, err error) {
	entry := o.Logger.WithFields(o.fields(s)).
		WithField("chunk", s.Chunks).
		WithField("of", s.TotalChunks)
	if errors.Is(err, ErrTransferCancelled) {
		entry.Info("Transfer cancelled")
		return
	}
	entry.WithError(err).Warn("Transfer failed")
}
