package types

import (
	"errors"
	"fmt"
)

var (
	// ErrDataEmpty means the bar feed returned no usable bars. A session
	// cannot start without data.
	ErrDataEmpty = errors.New("bar feed returned no data")

	// ErrOutOfOrderBar is reported when a bar's timestamp is not strictly
	// greater than the last ingested one. The bar is ignored.
	ErrOutOfOrderBar = errors.New("bar timestamp out of order")

	// ErrAuth is fatal in real mode: no further order submissions are made
	// for the rest of the session.
	ErrAuth = errors.New("broker authentication failed")

	// ErrOrderRejected is the broker's explicit refusal. Never retried.
	ErrOrderRejected = errors.New("order rejected by broker")

	// ErrInsufficientPosition is raised locally before any broker call when
	// a sell exceeds the held quantity and shorting is disabled.
	ErrInsufficientPosition = errors.New("insufficient position")
)

// TransientError marks a network or timeout failure that is safe to retry
// with bounded backoff. A timed-out broker call says nothing about the fate
// of the underlying order.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err (or anything it wraps) is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
