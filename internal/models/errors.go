package models

import (
	"errors"
	"fmt"
)

// Sentinel errors returned at the facade boundary. Callers use errors.Is
// to map them to inline UI feedback.
var (
	ErrQueueFull         = errors.New("queue is full")
	ErrOnlineEnqueue     = errors.New("cannot enqueue while online")
	ErrOfflineProcessing = errors.New("cannot process queue while offline")
	ErrItemNotFound      = errors.New("queue item not found")
	ErrNotRetryable      = errors.New("item is not in a retryable state")
	ErrNeedsResolution   = errors.New("item requires manual conflict resolution")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// TransientError wraps a remote failure that is eligible for retry
// (network errors, 5xx, throttling).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a remote rejection that retrying cannot fix
// (validation failures, 4xx other than conflicts). Items failed with a
// permanent error are excluded from bulk auto-retry.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retry-eligible.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is a permanent rejection.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
