package exception

import "github.com/yanun0323/errors"

// Notification errors
var (
	// ErrMalformedFrame is logged when an inbound frame cannot be decoded. It never reaches subscribers.
	ErrMalformedFrame = errors.New("notification: malformed frame")

	// ErrSendFailure is logged when an outbound command is not enqueued.
	ErrSendFailure = errors.New("notification: send failure")

	// ErrListenerPanic is logged when a subscriber callback panics during dispatch.
	ErrListenerPanic = errors.New("notification: listener panic")

	ErrInvalidStatus = errors.New("notification: invalid status filter")
)
