package coordinator

import (
	"context"
	"time"

	"github.com/jdziat/durable-dispatch/pkg/schedule"
)

// scheduledSubmission holds a recurring submission.
type scheduledSubmission struct {
	name       string
	schedule   schedule.Schedule
	jobType    string
	payloadRef string
	priority   int
	params     map[string]any
}

// Schedule registers a recurring submission under a unique name. Each
// time the schedule fires, a fresh job is submitted.
func (c *Coordinator) Schedule(name string, sched schedule.Schedule, jobType, payloadRef string, priority int, params map[string]any) {
	c.mu.Lock()
	if c.scheduled == nil {
		c.scheduled = make(map[string]*scheduledSubmission)
	}
	c.scheduled[name] = &scheduledSubmission{
		name:       name,
		schedule:   sched,
		jobType:    jobType,
		payloadRef: payloadRef,
		priority:   priority,
		params:     params,
	}
	c.mu.Unlock()
}

// RunScheduler drives recurring submissions until the context is
// cancelled. A failed submission is logged and retried when the schedule
// next fires.
func (c *Coordinator) RunScheduler(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	lastRun := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			scheduled := make([]*scheduledSubmission, 0, len(c.scheduled))
			for _, s := range c.scheduled {
				scheduled = append(scheduled, s)
			}
			c.mu.RUnlock()

			now := time.Now()
			for _, s := range scheduled {
				nextRun := s.schedule.Next(lastRun[s.name])
				if now.After(nextRun) || now.Equal(nextRun) {
					_, err := c.Submit(ctx, s.jobType, s.payloadRef, s.priority, s.params)
					if err != nil {
						c.logger.Error("failed to submit scheduled job", "name", s.name, "error", err)
					} else {
						lastRun[s.name] = now
					}
				}
			}
		}
	}
}
