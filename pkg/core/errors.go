package core

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by the public API.
var (
	ErrJobNotFound        = errors.New("dispatch: job not found")
	ErrInvalidInput       = errors.New("dispatch: invalid input")
	ErrQueueFull          = errors.New("dispatch: queue is full")
	ErrDuplicateJob       = errors.New("dispatch: job already queued")
	ErrNoEligibleWorker   = errors.New("dispatch: no eligible worker")
	ErrWorkerNotFound     = errors.New("dispatch: worker not found")
	ErrWorkerExists       = errors.New("dispatch: worker already registered")
	ErrJobTerminal        = errors.New("dispatch: job already in a terminal state")
	ErrStaleTransition    = errors.New("dispatch: job status changed concurrently")
	ErrShuttingDown       = errors.New("dispatch: coordinator is shutting down")
	ErrInvalidJobTypeName = errors.New("dispatch: invalid job type name (must be alphanumeric, start with letter)")
	ErrParamsTooLarge     = errors.New("dispatch: job parameters exceed size limit")
	ErrUnknownStrategy    = errors.New("dispatch: unknown load balancing strategy")
)

// PermanentError indicates an execution error that should not be retried.
// The job fails immediately regardless of its remaining retry budget.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// RetryAfterError indicates an error that should be retried after a
// specific delay, overriding the exponential backoff.
type RetryAfterError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %v: %v", e.Delay, e.Err)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

// RetryAfter wraps an error to indicate it should be retried after a delay.
func RetryAfter(d time.Duration, err error) error {
	return &RetryAfterError{Err: err, Delay: d}
}
