// Package dispatch provides a durable priority job dispatcher with
// retry/backoff, worker health tracking, pluggable load balancing, and
// hysteresis-controlled autoscaling.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	db, _ := gorm.Open(sqlite.Open("dispatch.db"), &gorm.Config{})
//	store := dispatch.NewGormStore(db)
//	store.Migrate(context.Background())
//
//	q := dispatch.NewQueue(0)
//	coord := dispatch.NewCoordinator(store, q, dispatch.DefaultCoordinatorConfig())
//
//	coord.RegisterExecutor("convert", func(ctx context.Context, job *dispatch.Job, report dispatch.ProgressFunc) ([]byte, error) {
//	    report(50, "converting")
//	    return []byte(`{"ok":true}`), nil
//	})
//
//	coord.Recover(context.Background())
//	p := dispatch.NewPool(q, coord, 4, time.Second)
//	go p.Start(ctx)
//
//	id, _ := coord.Submit(ctx, "convert", "uploads/report.pdf", 5, nil)
package dispatch

import (
	"time"

	"gorm.io/gorm"

	"github.com/jdziat/durable-dispatch/pkg/autoscaler"
	"github.com/jdziat/durable-dispatch/pkg/balancer"
	"github.com/jdziat/durable-dispatch/pkg/coordinator"
	"github.com/jdziat/durable-dispatch/pkg/core"
	"github.com/jdziat/durable-dispatch/pkg/pool"
	"github.com/jdziat/durable-dispatch/pkg/queue"
	"github.com/jdziat/durable-dispatch/pkg/registry"
	"github.com/jdziat/durable-dispatch/pkg/schedule"
	"github.com/jdziat/durable-dispatch/pkg/storage"
)

// Core types
type (
	Job           = core.Job
	JobStatus     = core.JobStatus
	ProgressEntry = core.ProgressEntry
	Store         = core.Store
	Event         = core.Event
)

// Job statuses
const (
	StatusPending   = core.StatusPending
	StatusRunning   = core.StatusRunning
	StatusCompleted = core.StatusCompleted
	StatusFailed    = core.StatusFailed
	StatusRetrying  = core.StatusRetrying
	StatusCancelled = core.StatusCancelled
)

// Events
type (
	JobStarted   = core.JobStarted
	JobProgress  = core.JobProgress
	JobCompleted = core.JobCompleted
	JobFailed    = core.JobFailed
	JobRetrying  = core.JobRetrying
	JobCancelled = core.JobCancelled
)

// Coordinator types
type (
	Coordinator       = coordinator.Coordinator
	CoordinatorConfig = coordinator.Config
	Executor          = coordinator.Executor
	ProgressFunc      = coordinator.ProgressFunc
	PayloadResolver   = coordinator.PayloadResolver
)

// Queue and pool types
type (
	Queue  = queue.Queue
	Pool   = pool.Pool
	Runner = pool.Runner
)

// Registry and balancing types
type (
	Registry        = registry.Registry
	RegistryConfig  = registry.Config
	WorkerInstance  = registry.WorkerInstance
	WorkerStatus    = registry.WorkerStatus
	HeartbeatUpdate = registry.HeartbeatUpdate
	Balancer        = balancer.Balancer
	Strategy        = balancer.Strategy
	StrategyName    = balancer.StrategyName
	Requirements    = balancer.Requirements
)

// Worker statuses
const (
	WorkerStarting  = registry.WorkerStarting
	WorkerHealthy   = registry.WorkerHealthy
	WorkerUnhealthy = registry.WorkerUnhealthy
	WorkerStopping  = registry.WorkerStopping
	WorkerOffline   = registry.WorkerOffline
)

// Load balancing strategies
const (
	RoundRobin         = balancer.RoundRobin
	LeastConnections   = balancer.LeastConnections
	WeightedRoundRobin = balancer.WeightedRoundRobin
	ConsistentHash     = balancer.ConsistentHash
	ResourceBased      = balancer.ResourceBased
)

// Autoscaling types
type (
	AutoScaler       = autoscaler.AutoScaler
	AutoScalerConfig = autoscaler.Config
	Actuator         = autoscaler.Actuator
	ScalingMetrics   = autoscaler.Metrics
)

// Schedule types
type Schedule = schedule.Schedule

// NewGormStore creates a GORM-backed job store.
func NewGormStore(db *gorm.DB) *storage.GormStore {
	return storage.NewGormStore(db)
}

// NewQueue creates the in-memory priority queue. capacity <= 0 means
// unbounded.
func NewQueue(capacity int) *Queue {
	return queue.New(capacity)
}

// NewCoordinator creates the processing coordinator.
func NewCoordinator(store Store, q *Queue, cfg CoordinatorConfig, opts ...coordinator.Option) *Coordinator {
	return coordinator.New(store, q, cfg, opts...)
}

// DefaultCoordinatorConfig returns the default coordinator configuration.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return coordinator.DefaultConfig()
}

// NewPool creates a dispatch pool with the given number of slots.
func NewPool(q *Queue, r Runner, slots int, pollTimeout time.Duration) *Pool {
	return pool.NewPool(q, r, slots, pollTimeout)
}

// NewRegistry creates a worker registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	return registry.New(cfg)
}

// NewStrategy constructs a load balancing strategy by name.
func NewStrategy(name StrategyName) (Strategy, error) {
	return balancer.NewStrategy(name)
}

// NewBalancer creates a balancer over a registry.
func NewBalancer(reg *Registry, s Strategy, maxAssignmentRetries int) *Balancer {
	return balancer.New(reg, s, maxAssignmentRetries)
}

// NewAutoScaler creates an autoscaler.
func NewAutoScaler(reg *Registry, queueLen autoscaler.QueueLenFunc, act Actuator, cfg AutoScalerConfig) *AutoScaler {
	return autoscaler.New(reg, queueLen, act, cfg)
}

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule { return schedule.Every(d) }

// Daily creates a schedule that runs at a specific time each day (UTC).
func Daily(hour, minute int) Schedule { return schedule.Daily(hour, minute) }

// Cron creates a schedule from a five-field cron expression.
func Cron(expr string) Schedule { return schedule.Cron(expr) }
