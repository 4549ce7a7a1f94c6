package dispatch

import (
	"time"

	"github.com/jdziat/durable-dispatch/pkg/core"
)

// Sentinel errors re-exported from pkg/core.
var (
	ErrJobNotFound      = core.ErrJobNotFound
	ErrInvalidInput     = core.ErrInvalidInput
	ErrQueueFull        = core.ErrQueueFull
	ErrNoEligibleWorker = core.ErrNoEligibleWorker
	ErrWorkerNotFound   = core.ErrWorkerNotFound
	ErrWorkerExists     = core.ErrWorkerExists
	ErrShuttingDown     = core.ErrShuttingDown
	ErrStaleTransition  = core.ErrStaleTransition
)

// PermanentError indicates an execution error that should not be retried.
type PermanentError = core.PermanentError

// RetryAfterError indicates an error that should be retried after a delay.
type RetryAfterError = core.RetryAfterError

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error { return core.Permanent(err) }

// RetryAfter wraps an error to indicate it should be retried after a delay.
func RetryAfter(d time.Duration, err error) error { return core.RetryAfter(d, err) }
