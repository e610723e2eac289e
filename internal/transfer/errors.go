package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateID is returned when a transfer id is already registered.
	ErrDuplicateID = errors.New("transfer id already exists")

	// ErrPrecondition is wrapped by every error raised before a transfer is created.
	ErrPrecondition = errors.New("precondition failed")

	ErrNoPeerSelected  = fmt.Errorf("%w: no peer selected", ErrPrecondition)
	ErrChannelNotReady = fmt.Errorf("%w: channel not ready", ErrPrecondition)

	// ErrSendFailed wraps any failure to put a message on the channel mid-transfer.
	ErrSendFailed = errors.New("send failed")

	ErrUnknownTransfer   = errors.New("unknown transfer")
	ErrTransferCancelled = errors.New("transfer cancelled")
	ErrTransferStalled   = errors.New("transfer stalled: no activity within timeout")
	ErrChannelClosed     = errors.New("channel closed before transfer completed")
	ErrChunkOutOfRange   = errors.New("chunk index out of range")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrWrongDirection    = errors.New("operation not valid for transfer direction")
	ErrManagerClosed     = errors.New("transfer manager closed")
)
