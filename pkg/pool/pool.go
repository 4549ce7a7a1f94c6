// Package pool pulls queued jobs and hands them to a runner. The same
// pool drives in-process execution (the coordinator as runner) and
// distributed execution (the remote runner assigning to registered
// workers).
package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jdziat/durable-dispatch/pkg/queue"
)

// Runner executes or assigns one dequeued job. Run must not return until
// the job's execution task has fully exited (or its assignment is done);
// the pool slot is occupied for the duration.
type Runner interface {
	Run(ctx context.Context, jobID string)
}

// Pool holds a fixed number of concurrent dispatch slots over the queue.
type Pool struct {
	queue       *queue.Queue
	runner      Runner
	slots       int
	pollTimeout time.Duration
	logger      *slog.Logger
	wg          sync.WaitGroup
}

// NewPool creates a pool with the given number of slots.
func NewPool(q *queue.Queue, r Runner, slots int, pollTimeout time.Duration) *Pool {
	if slots < 1 {
		slots = 1
	}
	if pollTimeout <= 0 {
		pollTimeout = time.Second
	}
	return &Pool{
		queue:       q,
		runner:      r,
		slots:       slots,
		pollTimeout: pollTimeout,
		logger:      slog.Default(),
	}
}

// Start begins dispatching. Blocks until the context is cancelled and
// every slot has drained.
func (p *Pool) Start(ctx context.Context) error {
	for i := 0; i < p.slots; i++ {
		p.wg.Add(1)
		go p.slotLoop(ctx)
	}
	<-ctx.Done()
	p.wg.Wait()
	return ctx.Err()
}

// slotLoop pulls jobs one at a time. A dequeue timeout just retries; the
// loop never busy-spins beyond the timeout granularity.
func (p *Pool) slotLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobID, ok := p.queue.Dequeue(ctx, p.pollTimeout)
		if !ok {
			continue
		}
		p.runner.Run(ctx, jobID)
	}
}
