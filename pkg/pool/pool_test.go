package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/durable-dispatch/pkg/queue"
)

type recordingRunner struct {
	mu   sync.Mutex
	seen []string
	gate chan struct{}
}

func (r *recordingRunner) Run(ctx context.Context, jobID string) {
	r.mu.Lock()
	r.seen = append(r.seen, jobID)
	r.mu.Unlock()
	if r.gate != nil {
		<-r.gate
	}
}

func (r *recordingRunner) jobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func TestPoolDispatchesAllJobs(t *testing.T) {
	q := queue.New(0)
	runner := &recordingRunner{}
	p := NewPool(q, runner, 2, 20*time.Millisecond)

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, q.Enqueue(id, 1))
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = p.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(runner.jobs()) < 4 {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, runner.jobs())
}

func TestPoolBoundsConcurrency(t *testing.T) {
	q := queue.New(0)
	runner := &recordingRunner{gate: make(chan struct{})}
	p := NewPool(q, runner, 2, 20*time.Millisecond)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(id, 1))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Start(ctx) }()

	// With two slots blocked, the third job stays queued.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, runner.jobs(), 2)
	assert.Equal(t, 1, q.Len())

	close(runner.gate)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(runner.jobs()) < 3 {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Len(t, runner.jobs(), 3)
}

func TestPoolStopsOnContextCancel(t *testing.T) {
	q := queue.New(0)
	p := NewPool(q, &recordingRunner{}, 1, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("pool did not stop")
	}
}
