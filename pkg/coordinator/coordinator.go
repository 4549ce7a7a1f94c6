// Package coordinator owns the end-to-end job lifecycle: submission,
// execution, progress, retry with backoff, cancellation, crash recovery,
// and shutdown. Only the coordinator writes status transitions.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jdziat/durable-dispatch/pkg/core"
	"github.com/jdziat/durable-dispatch/pkg/queue"
)

// ProgressFunc is handed to executors to report progress 0..n times.
type ProgressFunc func(percent int, stage string)

// Executor runs one job. The returned bytes become the job result. A
// plain error is treated as transient and retried; wrap with
// core.Permanent to fail immediately or core.RetryAfter to override the
// backoff delay.
type Executor func(ctx context.Context, job *core.Job, report ProgressFunc) ([]byte, error)

// PayloadResolver validates that a payload reference points at an
// existing unit of work. The default accepts any non-empty reference.
type PayloadResolver func(ctx context.Context, payloadRef string) error

// Config holds coordinator tuning.
type Config struct {
	DefaultMaxRetries     int
	BackoffBase           time.Duration // first retry delay; doubles per attempt
	BackoffCap            time.Duration
	CancelWait            time.Duration // how long Cancel waits for a running task to exit
	JobCompletionTimeout  time.Duration // shutdown grace period for in-flight jobs
	ForceKillAfterTimeout bool
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		DefaultMaxRetries:     3,
		BackoffBase:           2 * time.Second,
		BackoffCap:            300 * time.Second,
		CancelWait:            5 * time.Second,
		JobCompletionTimeout:  30 * time.Second,
		ForceKillAfterTimeout: true,
	}
}

// inflightTask tracks one executing job.
type inflightTask struct {
	cancel    context.CancelFunc
	done      chan struct{}
	cancelled bool
}

// Coordinator orchestrates the job lifecycle over a store and a queue.
type Coordinator struct {
	store    core.Store
	queue    *queue.Queue
	config   Config
	resolver PayloadResolver
	logger   *slog.Logger

	mu        sync.RWMutex
	executors map[string]Executor
	scheduled map[string]*scheduledSubmission

	inflightMu sync.Mutex
	inflight   map[string]*inflightTask
	wg         sync.WaitGroup

	timersMu sync.Mutex
	timers   map[string]*time.Timer

	closedMu sync.RWMutex
	closed   bool

	// Hooks
	onComplete []func(context.Context, *core.Job)
	onFail     []func(context.Context, *core.Job, error)
	onRetry    []func(context.Context, *core.Job, int, error)

	eventsMu  sync.Mutex
	eventSubs []chan core.Event
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithResolver sets the payload reference resolver.
func WithResolver(r PayloadResolver) Option {
	return func(c *Coordinator) { c.resolver = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New creates a coordinator over the given store and queue.
func New(store core.Store, q *queue.Queue, cfg Config, opts ...Option) *Coordinator {
	if cfg.DefaultMaxRetries <= 0 {
		cfg.DefaultMaxRetries = DefaultConfig().DefaultMaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultConfig().BackoffCap
	}
	if cfg.CancelWait <= 0 {
		cfg.CancelWait = DefaultConfig().CancelWait
	}
	c := &Coordinator{
		store:     store,
		queue:     q,
		config:    cfg,
		logger:    slog.Default(),
		executors: make(map[string]Executor),
		inflight:  make(map[string]*inflightTask),
		timers:    make(map[string]*time.Timer),
	}
	c.resolver = func(ctx context.Context, ref string) error {
		if ref == "" {
			return core.ErrInvalidInput
		}
		return nil
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterExecutor registers the executor for a job type. Panics on an
// invalid name; registration happens at startup where that is a
// programming error.
func (c *Coordinator) RegisterExecutor(jobType string, exec Executor) {
	if err := core.ValidateJobTypeName(jobType); err != nil {
		panic(fmt.Sprintf("dispatch: invalid executor name %q: %v", jobType, err))
	}
	c.mu.Lock()
	c.executors[jobType] = exec
	c.mu.Unlock()
}

// Submit validates, persists, and enqueues a new job. The durable record
// is written before the job becomes dispatchable.
func (c *Coordinator) Submit(ctx context.Context, jobType, payloadRef string, priority int, params map[string]any) (string, error) {
	if c.isClosed() {
		return "", core.ErrShuttingDown
	}
	if err := core.ValidateJobTypeName(jobType); err != nil {
		return "", err
	}

	c.mu.RLock()
	_, ok := c.executors[jobType]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: no executor registered for %q", core.ErrInvalidInput, jobType)
	}

	if err := c.resolver(ctx, payloadRef); err != nil {
		return "", fmt.Errorf("%w: payload ref %q: %v", core.ErrInvalidInput, payloadRef, err)
	}

	var paramBytes []byte
	if params != nil {
		var err error
		paramBytes, err = json.Marshal(params)
		if err != nil {
			return "", fmt.Errorf("%w: marshal params: %v", core.ErrInvalidInput, err)
		}
		if len(paramBytes) > core.MaxParamsSize {
			return "", core.ErrParamsTooLarge
		}
	}

	job := &core.Job{
		Type:       jobType,
		PayloadRef: payloadRef,
		Params:     paramBytes,
		Priority:   priority,
		Status:     core.StatusPending,
		MaxRetries: core.ClampRetries(c.config.DefaultMaxRetries),
	}
	id, err := c.store.Create(ctx, job)
	if err != nil {
		return "", fmt.Errorf("dispatch: create job: %w", err)
	}

	if err := c.queue.Enqueue(id, priority); err != nil {
		// Remove the durable trace so a full queue does not leave a
		// pending record nothing will ever dispatch.
		if cancelErr := c.store.MarkCancelled(ctx, id); cancelErr != nil {
			c.logger.Error("failed to cancel unqueued job", "job_id", id, "error", cancelErr)
		}
		return "", err
	}
	return id, nil
}

// GetStatus returns the durable job record.
func (c *Coordinator) GetStatus(ctx context.Context, jobID string) (*core.Job, error) {
	return c.store.Get(ctx, jobID)
}

// Cancel cancels a job. Queued jobs are removed without execution;
// retrying jobs have their timer stopped; running jobs are signalled and
// awaited up to CancelWait. Reports whether a cancellation took effect.
func (c *Coordinator) Cancel(ctx context.Context, jobID string) (bool, error) {
	job, err := c.store.Get(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job.Status.IsTerminal() {
		return false, nil
	}

	// Queued: remove before any worker can pull it.
	if c.queue.Remove(jobID) {
		if err := c.store.MarkCancelled(ctx, jobID); err != nil {
			if errors.Is(err, core.ErrStaleTransition) {
				// The job reached a terminal state first.
				return false, nil
			}
			return false, err
		}
		c.emitCancelled(ctx, jobID)
		return true, nil
	}

	// Waiting out a backoff delay: stop the requeue timer.
	if c.stopTimer(jobID) {
		if err := c.store.MarkCancelled(ctx, jobID); err != nil {
			if errors.Is(err, core.ErrStaleTransition) {
				// The job reached a terminal state first.
				return false, nil
			}
			return false, err
		}
		c.emitCancelled(ctx, jobID)
		return true, nil
	}

	// Running: signal the in-flight task and await its exit.
	c.inflightMu.Lock()
	task, running := c.inflight[jobID]
	if running {
		task.cancelled = true
		task.cancel()
	}
	c.inflightMu.Unlock()

	if running {
		select {
		case <-task.done:
		case <-time.After(c.config.CancelWait):
			c.logger.Warn("cancelled job did not exit in time", "job_id", jobID)
		case <-ctx.Done():
			return false, ctx.Err()
		}
		if err := c.store.MarkCancelled(ctx, jobID); err != nil {
			if errors.Is(err, core.ErrStaleTransition) {
				// The job reached a terminal state first.
				return false, nil
			}
			return false, err
		}
		c.emitCancelled(ctx, jobID)
		return true, nil
	}

	// Pending but not queued and not running: a transition is in flight
	// somewhere; mark cancelled so the dispatch path skips it.
	if err := c.store.MarkCancelled(ctx, jobID); err != nil {
		if errors.Is(err, core.ErrStaleTransition) {
			return false, nil
		}
		return false, err
	}
	c.emitCancelled(ctx, jobID)
	return true, nil
}

// Recover resets jobs orphaned by a crash and requeues all pending work.
// Must run once at startup, before the dispatch pool starts and before
// submissions are accepted. The previous process is presumed dead, so
// every running job is returned to pending with progress cleared. This
// yields at-least-once execution; executors must be idempotent or
// result-checkable.
func (c *Coordinator) Recover(ctx context.Context) error {
	reset, err := c.store.ResetRunning(ctx)
	if err != nil {
		return fmt.Errorf("dispatch: reset running jobs: %w", err)
	}
	if reset > 0 {
		c.logger.Info("crash recovery reset running jobs", "count", reset)
	}

	pending, err := c.store.ListByStatus(ctx, []core.JobStatus{core.StatusPending, core.StatusRetrying}, 0)
	if err != nil {
		return fmt.Errorf("dispatch: list pending jobs: %w", err)
	}
	for _, job := range pending {
		if job.Status == core.StatusRetrying {
			// The backoff timer died with the previous process.
			if err := c.store.MarkPending(ctx, job.ID); err != nil {
				c.logger.Error("failed to reset retrying job", "job_id", job.ID, "error", err)
				continue
			}
		}
		if err := c.queue.Enqueue(job.ID, job.Priority); err != nil && !errors.Is(err, core.ErrDuplicateJob) {
			c.logger.Error("failed to requeue job during recovery", "job_id", job.ID, "error", err)
		}
	}
	return nil
}

// Run executes one dequeued job. It is the dispatch pool's local runner.
// At most one task is ever in flight per job id: the store marks the job
// running before it could be re-enqueued, and a retry is only scheduled
// after the prior task has fully exited.
func (c *Coordinator) Run(ctx context.Context, jobID string) {
	job, err := c.store.Get(ctx, jobID)
	if err != nil {
		c.logger.Error("dequeued job not found", "job_id", jobID, "error", err)
		return
	}
	if job.Status != core.StatusPending {
		// Cancelled (or otherwise transitioned) while queued.
		return
	}

	c.mu.RLock()
	exec, ok := c.executors[job.Type]
	c.mu.RUnlock()
	if !ok {
		c.logger.Error("no executor for job", "job_id", jobID, "type", job.Type)
		c.failJob(ctx, job, fmt.Errorf("no executor registered for %q", job.Type))
		return
	}

	if err := c.store.MarkRunning(ctx, jobID); err != nil {
		if errors.Is(err, core.ErrStaleTransition) {
			// Lost the race to Cancel; the job is no longer ours to run.
			return
		}
		c.logger.Error("failed to mark job running", "job_id", jobID, "error", err)
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	task := &inflightTask{cancel: cancel, done: make(chan struct{})}

	c.inflightMu.Lock()
	c.inflight[jobID] = task
	c.inflightMu.Unlock()
	c.wg.Add(1)

	defer func() {
		close(task.done)
		c.inflightMu.Lock()
		delete(c.inflight, jobID)
		c.inflightMu.Unlock()
		c.wg.Done()
		cancel()
	}()

	start := time.Now()
	c.emit(&core.JobStarted{Job: job, Timestamp: start})

	result, err := c.execute(jobCtx, job, exec)

	if err == nil {
		if err := c.store.MarkCompleted(ctx, jobID, result); err != nil {
			if !errors.Is(err, core.ErrStaleTransition) {
				c.logger.Error("failed to mark job completed", "job_id", jobID, "error", err)
			}
			return
		}
		job.Status = core.StatusCompleted
		c.callCompleteHooks(ctx, job)
		c.emit(&core.JobCompleted{Job: job, Duration: time.Since(start), Timestamp: time.Now()})
		return
	}

	if errors.Is(err, context.Canceled) && c.wasCancelled(task) {
		// Cancel() owns the transition to cancelled.
		return
	}

	c.handleError(ctx, job, err)
}

// ReportCompleted records a successful execution performed outside the
// local dispatch loop, such as on a remote worker. The same hooks and
// events fire as for a local completion.
func (c *Coordinator) ReportCompleted(ctx context.Context, jobID string, result []byte) error {
	job, err := c.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if err := c.store.MarkCompleted(ctx, jobID, result); err != nil {
		return err
	}
	job.Status = core.StatusCompleted
	c.callCompleteHooks(ctx, job)
	var duration time.Duration
	if job.StartedAt != nil {
		duration = time.Since(*job.StartedAt)
	}
	c.emit(&core.JobCompleted{Job: job, Duration: duration, Timestamp: time.Now()})
	return nil
}

// ReportFailed records a failed execution performed outside the local
// dispatch loop. The usual retry policy applies.
func (c *Coordinator) ReportFailed(ctx context.Context, jobID string, execErr error) error {
	job, err := c.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	c.handleError(ctx, job, execErr)
	return nil
}

// execute runs the executor with a panic guard and a progress callback
// that persists each report and forwards it to subscribers.
func (c *Coordinator) execute(ctx context.Context, job *core.Job, exec Executor) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	report := func(percent int, stage string) {
		percent = core.ClampProgress(percent)
		if updateErr := c.store.UpdateProgress(ctx, job.ID, percent, stage); updateErr != nil {
			c.logger.Warn("failed to update progress", "job_id", job.ID, "error", updateErr)
		}
		entry := &core.ProgressEntry{JobID: job.ID, Percent: percent, Stage: stage}
		if appendErr := c.store.AppendProgress(ctx, entry); appendErr != nil {
			c.logger.Warn("failed to append progress", "job_id", job.ID, "error", appendErr)
		}
		c.emit(&core.JobProgress{JobID: job.ID, Percent: percent, Stage: stage, Timestamp: time.Now()})
	}

	return exec(ctx, job, report)
}

// handleError converts an executor error into a retry or a terminal
// failure. Errors never escape the dispatch loop.
func (c *Coordinator) handleError(ctx context.Context, job *core.Job, err error) {
	var permanent *core.PermanentError
	if errors.As(err, &permanent) {
		c.failJob(ctx, job, err)
		return
	}

	if job.RetryCount >= job.MaxRetries {
		c.failJob(ctx, job, err)
		return
	}

	// MarkRetrying persists the error and the incremented count in one
	// write; mirror the increment locally for the delay computation.
	if markErr := c.store.MarkRetrying(ctx, job.ID, err.Error()); markErr != nil {
		if !errors.Is(markErr, core.ErrStaleTransition) {
			c.logger.Error("failed to mark job retrying", "job_id", job.ID, "error", markErr)
		}
		return
	}
	job.RetryCount++

	delay := c.backoff(job.RetryCount)
	var retryAfter *core.RetryAfterError
	if errors.As(err, &retryAfter) {
		delay = retryAfter.Delay
	}

	nextRun := time.Now().Add(delay)
	c.callRetryHooks(ctx, job, job.RetryCount, err)
	c.emit(&core.JobRetrying{Job: job, Attempt: job.RetryCount, Error: err, NextRunAt: nextRun, Timestamp: time.Now()})
	c.logger.Info("job scheduled for retry",
		"job_id", job.ID,
		"attempt", job.RetryCount,
		"max_retries", job.MaxRetries,
		"delay", delay)

	c.scheduleRequeue(job.ID, job.Priority, delay)
}

// scheduleRequeue arms a cancellable timer that returns the job to
// pending and re-enqueues it after the backoff delay.
func (c *Coordinator) scheduleRequeue(jobID string, priority int, delay time.Duration) {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()

	c.timers[jobID] = time.AfterFunc(delay, func() {
		c.timersMu.Lock()
		delete(c.timers, jobID)
		c.timersMu.Unlock()

		ctx := context.Background()
		if err := c.store.MarkPending(ctx, jobID); err != nil {
			if !errors.Is(err, core.ErrStaleTransition) {
				c.logger.Error("failed to return job to pending", "job_id", jobID, "error", err)
			}
			return
		}
		if err := c.queue.Enqueue(jobID, priority); err != nil {
			c.logger.Error("failed to requeue job", "job_id", jobID, "error", err)
		}
	})
}

// stopTimer cancels a pending requeue timer. Reports whether one existed.
func (c *Coordinator) stopTimer(jobID string) bool {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()

	t, ok := c.timers[jobID]
	if !ok {
		return false
	}
	t.Stop()
	delete(c.timers, jobID)
	return true
}

func (c *Coordinator) failJob(ctx context.Context, job *core.Job, err error) {
	if markErr := c.store.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
		if !errors.Is(markErr, core.ErrStaleTransition) {
			c.logger.Error("failed to mark job failed", "job_id", job.ID, "error", markErr)
		}
		return
	}
	job.Status = core.StatusFailed
	c.callFailHooks(ctx, job, err)
	c.emit(&core.JobFailed{Job: job, Error: err, Timestamp: time.Now()})
	c.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "error", err)
}

// backoff computes min(cap, base * 2^(attempt-1)): with the 2s default
// base the delays are 2s, 4s, 8s, ... capped at BackoffCap.
func (c *Coordinator) backoff(attempt int) time.Duration {
	d := c.config.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.config.BackoffCap {
			return c.config.BackoffCap
		}
	}
	if d > c.config.BackoffCap {
		return c.config.BackoffCap
	}
	return d
}

// QueueLen reports the dispatch queue depth, for the autoscaler.
func (c *Coordinator) QueueLen() int {
	return c.queue.Len()
}

// Shutdown stops intake, waits for in-flight jobs up to
// JobCompletionTimeout, then force-cancels stragglers when configured to.
// Pending timers are stopped; their jobs stay retrying in the store and
// are recovered at next startup.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.closedMu.Lock()
	c.closed = true
	c.closedMu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	timeout := c.config.JobCompletionTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().JobCompletionTimeout
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		if !c.config.ForceKillAfterTimeout {
			return fmt.Errorf("dispatch: shutdown timed out with jobs in flight")
		}
		c.inflightMu.Lock()
		for id, task := range c.inflight {
			c.logger.Warn("force cancelling job at shutdown", "job_id", id)
			task.cancel()
		}
		c.inflightMu.Unlock()
		<-done
	}

	c.timersMu.Lock()
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	c.timersMu.Unlock()
	return nil
}

func (c *Coordinator) isClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}

func (c *Coordinator) wasCancelled(task *inflightTask) bool {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	return task.cancelled
}

func (c *Coordinator) emitCancelled(ctx context.Context, jobID string) {
	if job, err := c.store.Get(ctx, jobID); err == nil {
		c.emit(&core.JobCancelled{Job: job, Timestamp: time.Now()})
	}
}
