package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/jdziat/durable-dispatch/pkg/core"
)

// item is one queued dispatch tuple.
type item struct {
	jobID    string
	priority int
	seq      uint64 // insertion order, breaks priority ties FIFO
}

// itemHeap orders by priority descending, then insertion order ascending.
type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].priority == h[j].priority {
		return h[i].seq < h[j].seq
	}
	return h[i].priority > h[j].priority
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) {
	*h = append(*h, x.(*item))
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // avoid memory leak
	*h = old[:n-1]
	return it
}

// Queue is a thread-safe priority queue with blocking dequeue.
type Queue struct {
	mu       sync.Mutex
	heap     itemHeap
	index    map[string]struct{}
	seq      uint64
	capacity int
	signal   chan struct{}
}

// New creates a queue. capacity <= 0 means unbounded.
func New(capacity int) *Queue {
	q := &Queue{
		index:    make(map[string]struct{}),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
	heap.Init(&q.heap)
	return q
}

// Enqueue adds a job id at the given priority. Returns core.ErrQueueFull
// when the capacity is exceeded and core.ErrDuplicateJob when the id is
// already queued.
func (q *Queue) Enqueue(jobID string, priority int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity > 0 && q.heap.Len() >= q.capacity {
		return core.ErrQueueFull
	}
	if _, exists := q.index[jobID]; exists {
		return core.ErrDuplicateJob
	}

	q.seq++
	heap.Push(&q.heap, &item{jobID: jobID, priority: priority, seq: q.seq})
	q.index[jobID] = struct{}{}

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue pops the highest-priority job id, blocking up to timeout.
// ok is false on timeout or context cancellation.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (jobID string, ok bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if id, ok := q.tryPop(); ok {
			return id, true
		}

		select {
		case <-q.signal:
		case <-deadline.C:
			return "", false
		case <-ctx.Done():
			return "", false
		}
	}
}

func (q *Queue) tryPop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		return "", false
	}
	it := heap.Pop(&q.heap).(*item)
	delete(q.index, it.jobID)

	// More items remain; wake the next waiter.
	if q.heap.Len() > 0 {
		select {
		case q.signal <- struct{}{}:
		default:
		}
	}
	return it.jobID, true
}

// Remove deletes a queued job id, used on cancellation. Reports whether
// the id was present.
func (q *Queue) Remove(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.index[jobID]; !exists {
		return false
	}
	for i, it := range q.heap {
		if it.jobID == jobID {
			heap.Remove(&q.heap, i)
			break
		}
	}
	delete(q.index, jobID)
	return true
}

// Contains reports whether a job id is currently queued.
func (q *Queue) Contains(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, exists := q.index[jobID]
	return exists
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}
