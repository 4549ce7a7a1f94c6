// Package registry tracks worker membership, health, and capacity.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jdziat/durable-dispatch/pkg/core"
)

// WorkerStatus represents the lifecycle state of a worker.
type WorkerStatus string

const (
	WorkerStarting  WorkerStatus = "starting"
	WorkerHealthy   WorkerStatus = "healthy"
	WorkerUnhealthy WorkerStatus = "unhealthy"
	WorkerStopping  WorkerStatus = "stopping"
	WorkerOffline   WorkerStatus = "offline"
)

// WorkerInstance is the registry's record of one worker.
type WorkerInstance struct {
	ID            string
	Address       string
	Status        WorkerStatus
	ActiveJobs    int
	MaxJobs       int
	CPUUsage      float64
	MemUsage      float64
	Weight        float64
	Capabilities  []string
	LastHeartbeat time.Time
}

// LoadFactor returns the fraction of capacity in use.
func (w *WorkerInstance) LoadFactor() float64 {
	if w.MaxJobs == 0 {
		return 1
	}
	return float64(w.ActiveJobs) / float64(w.MaxJobs)
}

// AvailableCapacity returns the number of free job slots.
func (w *WorkerInstance) AvailableCapacity() int {
	if c := w.MaxJobs - w.ActiveJobs; c > 0 {
		return c
	}
	return 0
}

// HasCapabilities reports whether the worker carries every required tag.
func (w *WorkerInstance) HasCapabilities(required []string) bool {
	for _, r := range required {
		found := false
		for _, c := range w.Capabilities {
			if c == r {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Eligible reports whether the worker can accept a job with the given
// capability requirements.
func (w *WorkerInstance) Eligible(required []string) bool {
	return w.Status == WorkerHealthy && w.AvailableCapacity() > 0 && w.HasCapabilities(required)
}

// HeartbeatUpdate carries the optional fields of a heartbeat. Nil fields
// leave the current value untouched.
type HeartbeatUpdate struct {
	ActiveJobs *int
	CPUUsage   *float64
	MemUsage   *float64
}

// Metrics is an aggregate snapshot over the healthy workers.
type Metrics struct {
	HealthyWorkers int
	TotalWorkers   int
	TotalCapacity  int
	UsedCapacity   int
}

// Config holds registry timing parameters.
type Config struct {
	HealthCheckInterval time.Duration
	HeartbeatTimeout    time.Duration
	// OfflineTimeout is how long a worker may stay silent before an
	// unhealthy record is written off as offline. Zero defaults to three
	// heartbeat timeouts.
	OfflineTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{
		HealthCheckInterval: 5 * time.Second,
		HeartbeatTimeout:    15 * time.Second,
		OfflineTimeout:      45 * time.Second,
		ShutdownTimeout:     30 * time.Second,
	}
}

// Registry owns the worker records. No other component mutates them
// except through the heartbeat and slot accounting methods.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*WorkerInstance
	config  Config
	logger  *slog.Logger
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = DefaultConfig().HealthCheckInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultConfig().HeartbeatTimeout
	}
	if cfg.OfflineTimeout <= 0 {
		cfg.OfflineTimeout = 3 * cfg.HeartbeatTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	return &Registry{
		workers: make(map[string]*WorkerInstance),
		config:  cfg,
		logger:  slog.Default(),
	}
}

// Register adds a worker in the starting state. The first heartbeat
// promotes it to healthy.
func (r *Registry) Register(id, address string, maxJobs int, capabilities []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[id]; exists {
		return core.ErrWorkerExists
	}
	r.workers[id] = &WorkerInstance{
		ID:            id,
		Address:       address,
		Status:        WorkerStarting,
		MaxJobs:       maxJobs,
		Weight:        1.0,
		Capabilities:  append([]string(nil), capabilities...),
		LastHeartbeat: time.Now(),
	}
	r.logger.Info("worker registered", "worker_id", id, "address", address, "max_jobs", maxJobs)
	return nil
}

// Heartbeat refreshes a worker's liveness and any provided fields.
func (r *Registry) Heartbeat(id string, update HeartbeatUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[id]
	if !ok {
		return core.ErrWorkerNotFound
	}

	w.LastHeartbeat = time.Now()
	if update.ActiveJobs != nil {
		n := *update.ActiveJobs
		if n > w.MaxJobs {
			n = w.MaxJobs
		}
		if n < 0 {
			n = 0
		}
		w.ActiveJobs = n
	}
	if update.CPUUsage != nil {
		w.CPUUsage = *update.CPUUsage
	}
	if update.MemUsage != nil {
		w.MemUsage = *update.MemUsage
	}

	switch w.Status {
	case WorkerStarting:
		w.Status = WorkerHealthy
		r.logger.Info("worker healthy", "worker_id", id)
	case WorkerUnhealthy, WorkerOffline:
		w.Status = WorkerHealthy
		r.logger.Info("worker recovered", "worker_id", id)
	}
	return nil
}

// SetWeight adjusts the weight used by the weighted round robin strategy.
func (r *Registry) SetWeight(id string, weight float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[id]
	if !ok {
		return core.ErrWorkerNotFound
	}
	w.Weight = weight
	return nil
}

// Deregister marks a worker stopping, waits up to ShutdownTimeout for its
// active jobs to drain, then removes the record.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	w, ok := r.workers[id]
	if !ok {
		r.mu.Unlock()
		return core.ErrWorkerNotFound
	}
	w.Status = WorkerStopping
	r.mu.Unlock()

	deadline := time.Now().Add(r.config.ShutdownTimeout)
	for time.Now().Before(deadline) {
		r.mu.RLock()
		active := w.ActiveJobs
		r.mu.RUnlock()
		if active == 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	r.mu.Lock()
	delete(r.workers, id)
	r.mu.Unlock()
	r.logger.Info("worker deregistered", "worker_id", id)
	return nil
}

// Reserve claims one job slot on a worker. Fails when the worker is
// missing or already at capacity.
func (r *Registry) Reserve(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[id]
	if !ok {
		return core.ErrWorkerNotFound
	}
	if w.ActiveJobs >= w.MaxJobs {
		return core.ErrNoEligibleWorker
	}
	w.ActiveJobs++
	return nil
}

// Release frees one job slot on a worker.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.workers[id]; ok && w.ActiveJobs > 0 {
		w.ActiveJobs--
	}
}

// Get returns a copy of one worker record.
func (r *Registry) Get(id string) (WorkerInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[id]
	if !ok {
		return WorkerInstance{}, core.ErrWorkerNotFound
	}
	return *w, nil
}

// Eligible returns copies of every worker that can accept a job with the
// given capability requirements, ordered by id for deterministic iteration.
func (r *Registry) Eligible(required []string) []WorkerInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	eligible := make([]WorkerInstance, 0, len(r.workers))
	for _, w := range r.workers {
		if w.Eligible(required) {
			eligible = append(eligible, *w)
		}
	}
	sortWorkers(eligible)
	return eligible
}

// Snapshot returns copies of all worker records.
func (r *Registry) Snapshot() []WorkerInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]WorkerInstance, 0, len(r.workers))
	for _, w := range r.workers {
		all = append(all, *w)
	}
	sortWorkers(all)
	return all
}

// Metrics aggregates capacity over the healthy workers.
func (r *Registry) Metrics() Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := Metrics{TotalWorkers: len(r.workers)}
	for _, w := range r.workers {
		if w.Status != WorkerHealthy {
			continue
		}
		m.HealthyWorkers++
		m.TotalCapacity += w.MaxJobs
		m.UsedCapacity += w.ActiveJobs
	}
	return m
}

// Run drives the health loop until the context is cancelled. Workers whose
// last heartbeat is older than HeartbeatTimeout flip to unhealthy, then to
// offline once the silence passes OfflineTimeout; a fresh heartbeat flips
// them back to healthy either way.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkHealth()
		}
	}
}

func (r *Registry) checkHealth() {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, w := range r.workers {
		stale := now.Sub(w.LastHeartbeat)
		switch w.Status {
		case WorkerHealthy, WorkerStarting:
			if stale > r.config.HeartbeatTimeout {
				w.Status = WorkerUnhealthy
				r.logger.Warn("worker unhealthy",
					"worker_id", id,
					"last_heartbeat", w.LastHeartbeat)
			}
		case WorkerUnhealthy:
			if stale > r.config.OfflineTimeout {
				w.Status = WorkerOffline
				r.logger.Warn("worker offline",
					"worker_id", id,
					"last_heartbeat", w.LastHeartbeat)
			}
		}
	}
}

func sortWorkers(ws []WorkerInstance) {
	sort.Slice(ws, func(i, j int) bool { return ws[i].ID < ws[j].ID })
}
