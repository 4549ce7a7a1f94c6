package coordinator

import (
	"context"

	"github.com/jdziat/durable-dispatch/pkg/core"
)

// OnJobComplete registers a callback for when a job completes successfully.
func (c *Coordinator) OnJobComplete(fn func(context.Context, *core.Job)) {
	c.mu.Lock()
	c.onComplete = append(c.onComplete, fn)
	c.mu.Unlock()
}

// OnJobFail registers a callback for when a job fails permanently.
func (c *Coordinator) OnJobFail(fn func(context.Context, *core.Job, error)) {
	c.mu.Lock()
	c.onFail = append(c.onFail, fn)
	c.mu.Unlock()
}

// OnRetry registers a callback for when a job is scheduled for retry.
func (c *Coordinator) OnRetry(fn func(context.Context, *core.Job, int, error)) {
	c.mu.Lock()
	c.onRetry = append(c.onRetry, fn)
	c.mu.Unlock()
}

// Events returns a channel for receiving lifecycle events. The caller
// must call Unsubscribe when done to prevent resource leaks.
func (c *Coordinator) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	c.eventsMu.Lock()
	c.eventSubs = append(c.eventSubs, ch)
	c.eventsMu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events().
// The channel is not closed; callers must stop reading before calling
// Unsubscribe. After Unsubscribe returns, no further events are sent.
func (c *Coordinator) Unsubscribe(ch <-chan core.Event) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	for i, sub := range c.eventSubs {
		if sub == ch {
			c.eventSubs = append(c.eventSubs[:i], c.eventSubs[i+1:]...)
			return
		}
	}
}

// emit sends an event to all subscribers without blocking. Events to slow
// consumers are dropped.
func (c *Coordinator) emit(e core.Event) {
	c.eventsMu.Lock()
	subs := make([]chan core.Event, len(c.eventSubs))
	copy(subs, c.eventSubs)
	c.eventsMu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (c *Coordinator) callCompleteHooks(ctx context.Context, job *core.Job) {
	c.mu.RLock()
	hooks := make([]func(context.Context, *core.Job), len(c.onComplete))
	copy(hooks, c.onComplete)
	c.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job)
	}
}

func (c *Coordinator) callFailHooks(ctx context.Context, job *core.Job, err error) {
	c.mu.RLock()
	hooks := make([]func(context.Context, *core.Job, error), len(c.onFail))
	copy(hooks, c.onFail)
	c.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job, err)
	}
}

func (c *Coordinator) callRetryHooks(ctx context.Context, job *core.Job, attempt int, err error) {
	c.mu.RLock()
	hooks := make([]func(context.Context, *core.Job, int, error), len(c.onRetry))
	copy(hooks, c.onRetry)
	c.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job, attempt, err)
	}
}
