package transfer

import (
	"github.com/sirupsen/logrus"
)

// lifecycle is shared by every component that can end a transfer, so a
// transfer is reported and unregistered exactly once.
type lifecycle struct {
	registry *Registry
	observer Observer
	logger   *logrus.Logger
}

func (l *lifecycle) entry(t *Transfer) *logrus.Entry {
	return l.logger.WithFields(logrus.Fields{
		"transfer_id": t.ID,
		"direction":   t.Direction.String(),
	})
}

// abort fails t with err. It reports false if t had already finished.
func (l *lifecycle) abort(t *Transfer, err error) bool {
	if !t.finish(StateAborted, err) {
		return false
	}
	l.registry.Remove(t.ID)
	t.requestCancel(err)
	l.entry(t).WithError(err).Debug("Transfer aborted")
	l.observer.TransferFailed(t.Snapshot(), err)
	return true
}

// complete marks t completed. It reports false if t had already finished.
func (l *lifecycle) complete(t *Transfer) bool {
	if !t.finish(StateCompleted, nil) {
		return false
	}
	l.registry.Remove(t.ID)
	l.observer.TransferCompleted(t.Snapshot())
	return true
}
