package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jdziat/durable-dispatch/pkg/balancer"
	"github.com/jdziat/durable-dispatch/pkg/core"
	"github.com/jdziat/durable-dispatch/pkg/queue"
	"github.com/jdziat/durable-dispatch/pkg/registry"
)

// AssignFunc delivers a job to a remote worker over whatever transport
// the caller uses. It reports whether the worker accepted the job.
type AssignFunc func(ctx context.Context, workerID, jobID string) bool

// RequirementsFunc derives a job's worker requirements. The default
// requires no capabilities.
type RequirementsFunc func(job *core.Job) balancer.Requirements

// Reporter applies execution outcomes that arrive from remote workers.
// The coordinator implements it.
type Reporter interface {
	ReportCompleted(ctx context.Context, jobID string, result []byte) error
	ReportFailed(ctx context.Context, jobID string, execErr error) error
}

// RemoteRunner assigns dequeued jobs to registered workers through the
// load balancer. An accepted job is marked running before the worker can
// touch it; the worker side reports the outcome through ReportCompleted
// or ReportFailed, which frees the reserved slot and applies the usual
// completion or retry policy via the reporter.
type RemoteRunner struct {
	store        core.Store
	queue        *queue.Queue
	balancer     *balancer.Balancer
	registry     *registry.Registry
	assign       AssignFunc
	reporter     Reporter
	requirements RequirementsFunc

	assignmentsMu sync.Mutex
	assignments   map[string]string // job id -> worker id holding the slot

	// redispatchDelay is how long an unplaceable job waits before the
	// next placement attempt. Assignment exhaustion does not consume the
	// job's retry budget.
	redispatchDelay time.Duration
	logger          *slog.Logger
}

// NewRemoteRunner creates a runner that places jobs on remote workers.
func NewRemoteRunner(store core.Store, q *queue.Queue, b *balancer.Balancer, reg *registry.Registry, assign AssignFunc, rep Reporter, opts ...RemoteOption) *RemoteRunner {
	r := &RemoteRunner{
		store:           store,
		queue:           q,
		balancer:        b,
		registry:        reg,
		assign:          assign,
		reporter:        rep,
		requirements:    func(*core.Job) balancer.Requirements { return balancer.Requirements{} },
		assignments:     make(map[string]string),
		redispatchDelay: 5 * time.Second,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RemoteOption configures a RemoteRunner.
type RemoteOption func(*RemoteRunner)

// WithRequirements sets the requirements derivation.
func WithRequirements(fn RequirementsFunc) RemoteOption {
	return func(r *RemoteRunner) { r.requirements = fn }
}

// WithRedispatchDelay sets the wait before re-attempting placement.
func WithRedispatchDelay(d time.Duration) RemoteOption {
	return func(r *RemoteRunner) { r.redispatchDelay = d }
}

// Run places one job on a worker. When no worker is eligible the job
// stays pending and is re-enqueued after the redispatch delay.
func (r *RemoteRunner) Run(ctx context.Context, jobID string) {
	job, err := r.store.Get(ctx, jobID)
	if err != nil {
		r.logger.Error("dequeued job not found", "job_id", jobID, "error", err)
		return
	}
	if job.Status != core.StatusPending {
		return
	}

	workerID, err := r.balancer.Assign(r.requirements(job))
	if err != nil {
		if errors.Is(err, core.ErrNoEligibleWorker) {
			r.logger.Warn("no eligible worker, redispatching", "job_id", jobID, "delay", r.redispatchDelay)
			r.requeueLater(jobID, job.Priority)
			return
		}
		r.logger.Error("assignment failed", "job_id", jobID, "error", err)
		r.requeueLater(jobID, job.Priority)
		return
	}

	// The job is running from the moment a worker can see it; a late
	// cancel must lose to this write rather than race the worker.
	if err := r.store.MarkRunning(ctx, jobID); err != nil {
		r.registry.Release(workerID)
		if errors.Is(err, core.ErrStaleTransition) {
			// Cancelled while queued.
			return
		}
		r.logger.Error("failed to mark job running", "job_id", jobID, "error", err)
		r.requeueLater(jobID, job.Priority)
		return
	}

	if !r.assign(ctx, workerID, jobID) {
		// The worker refused; free the reserved slot, roll the job back
		// to pending, and try again later.
		r.registry.Release(workerID)
		if err := r.store.MarkPending(ctx, jobID); err != nil {
			r.logger.Error("failed to roll back rejected assignment", "job_id", jobID, "error", err)
			return
		}
		r.logger.Warn("worker rejected assignment", "job_id", jobID, "worker_id", workerID)
		r.requeueLater(jobID, job.Priority)
		return
	}

	r.assignmentsMu.Lock()
	r.assignments[jobID] = workerID
	r.assignmentsMu.Unlock()
	r.logger.Info("job assigned", "job_id", jobID, "worker_id", workerID)
}

// ReportCompleted records the successful outcome of a remotely executed
// job and frees the worker's slot.
func (r *RemoteRunner) ReportCompleted(ctx context.Context, jobID string, result []byte) error {
	r.releaseAssignment(jobID)
	return r.reporter.ReportCompleted(ctx, jobID, result)
}

// ReportFailed records the failed outcome of a remotely executed job and
// frees the worker's slot. The reporter applies the retry policy.
func (r *RemoteRunner) ReportFailed(ctx context.Context, jobID string, execErr error) error {
	r.releaseAssignment(jobID)
	return r.reporter.ReportFailed(ctx, jobID, execErr)
}

func (r *RemoteRunner) releaseAssignment(jobID string) {
	r.assignmentsMu.Lock()
	workerID, ok := r.assignments[jobID]
	delete(r.assignments, jobID)
	r.assignmentsMu.Unlock()
	if ok {
		r.registry.Release(workerID)
	}
}

func (r *RemoteRunner) requeueLater(jobID string, priority int) {
	time.AfterFunc(r.redispatchDelay, func() {
		if err := r.queue.Enqueue(jobID, priority); err != nil && !errors.Is(err, core.ErrDuplicateJob) {
			r.logger.Error("failed to requeue job", "job_id", jobID, "error", err)
		}
	})
}
