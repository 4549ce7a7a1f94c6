// Package balancer selects workers for job assignment. The strategy is a
// closed set chosen once at construction and dispatched through the
// Strategy interface, never re-branched per request.
package balancer

import (
	"hash/fnv"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/jdziat/durable-dispatch/pkg/core"
	"github.com/jdziat/durable-dispatch/pkg/registry"
)

// StrategyName identifies a load balancing strategy.
type StrategyName string

const (
	RoundRobin         StrategyName = "round_robin"
	LeastConnections   StrategyName = "least_connections"
	WeightedRoundRobin StrategyName = "weighted_round_robin"
	ConsistentHash     StrategyName = "consistent_hash"
	ResourceBased      StrategyName = "resource_based"
)

// Requirements describes what a job needs from a worker.
type Requirements struct {
	Capabilities []string
}

// Strategy picks one worker from a non-empty eligible set.
type Strategy interface {
	Select(eligible []registry.WorkerInstance) *registry.WorkerInstance
}

// NewStrategy constructs a strategy by name.
func NewStrategy(name StrategyName) (Strategy, error) {
	switch name {
	case RoundRobin:
		return &roundRobin{}, nil
	case LeastConnections:
		return leastConnections{}, nil
	case WeightedRoundRobin:
		return &weightedRoundRobin{}, nil
	case ConsistentHash:
		return consistentHash{}, nil
	case ResourceBased:
		return resourceBased{}, nil
	default:
		return nil, core.ErrUnknownStrategy
	}
}

// roundRobin strictly rotates over the eligible set regardless of load.
type roundRobin struct {
	mu   sync.Mutex
	next int
}

func (s *roundRobin) Select(eligible []registry.WorkerInstance) *registry.WorkerInstance {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := eligible[s.next%len(eligible)]
	s.next++
	return &w
}

// leastConnections picks the worker with the fewest active jobs; ties go
// to the first in iteration order.
type leastConnections struct{}

func (leastConnections) Select(eligible []registry.WorkerInstance) *registry.WorkerInstance {
	best := 0
	for i := 1; i < len(eligible); i++ {
		if eligible[i].ActiveJobs < eligible[best].ActiveJobs {
			best = i
		}
	}
	return &eligible[best]
}

// weightedRoundRobin repeats each worker max(1, round(weight*10)) times in
// a virtual rotation list before cycling.
type weightedRoundRobin struct {
	mu   sync.Mutex
	next int
}

func (s *weightedRoundRobin) Select(eligible []registry.WorkerInstance) *registry.WorkerInstance {
	var rotation []int
	for i, w := range eligible {
		repeats := int(math.Round(w.Weight * 10))
		if repeats < 1 {
			repeats = 1
		}
		for r := 0; r < repeats; r++ {
			rotation = append(rotation, i)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w := eligible[rotation[s.next%len(rotation)]]
	s.next++
	return &w
}

// consistentHash hashes a per-request nonce over the eligible set. It is
// stateless and not key-stable across membership changes; fine for load
// spreading, not for session affinity.
type consistentHash struct{}

func (consistentHash) Select(eligible []registry.WorkerInstance) *registry.WorkerInstance {
	h := fnv.New32a()
	h.Write([]byte(uuid.New().String()))
	w := eligible[int(h.Sum32())%len(eligible)]
	return &w
}

// resourceBased scores each worker on free capacity, CPU, and memory
// headroom, and picks the best.
type resourceBased struct{}

func (resourceBased) Select(eligible []registry.WorkerInstance) *registry.WorkerInstance {
	best := 0
	bestScore := score(&eligible[0])
	for i := 1; i < len(eligible); i++ {
		if s := score(&eligible[i]); s > bestScore {
			best, bestScore = i, s
		}
	}
	return &eligible[best]
}

func score(w *registry.WorkerInstance) float64 {
	capacity := 0.0
	if w.MaxJobs > 0 {
		capacity = float64(w.AvailableCapacity()) / float64(w.MaxJobs)
	}
	return 0.5*capacity + 0.3*((100-w.CPUUsage)/100) + 0.2*((100-w.MemUsage)/100)
}

// Balancer assigns jobs to workers through the configured strategy.
type Balancer struct {
	registry   *registry.Registry
	strategy   Strategy
	maxRetries int
}

// New creates a balancer over the given registry.
func New(reg *registry.Registry, strategy Strategy, maxAssignmentRetries int) *Balancer {
	if maxAssignmentRetries < 1 {
		maxAssignmentRetries = 3
	}
	return &Balancer{
		registry:   reg,
		strategy:   strategy,
		maxRetries: maxAssignmentRetries,
	}
}

// Assign selects a worker for the given requirements, retrying with the
// previous pick excluded. Returns core.ErrNoEligibleWorker when every
// attempt is exhausted.
func (b *Balancer) Assign(req Requirements) (string, error) {
	excluded := make(map[string]struct{})

	for attempt := 0; attempt < b.maxRetries; attempt++ {
		eligible := b.registry.Eligible(req.Capabilities)

		candidates := eligible[:0]
		for _, w := range eligible {
			if _, skip := excluded[w.ID]; !skip {
				candidates = append(candidates, w)
			}
		}
		if len(candidates) == 0 {
			return "", core.ErrNoEligibleWorker
		}

		picked := b.strategy.Select(candidates)
		if err := b.registry.Reserve(picked.ID); err == nil {
			return picked.ID, nil
		}
		// The worker filled up between snapshot and reservation.
		excluded[picked.ID] = struct{}{}
	}
	return "", core.ErrNoEligibleWorker
}
