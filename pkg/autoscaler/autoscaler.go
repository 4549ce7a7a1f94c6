// Package autoscaler grows and shrinks the worker fleet in response to
// load. It only reads aggregate metrics and issues requests through the
// Actuator; it never creates or destroys processes itself.
package autoscaler

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/jdziat/durable-dispatch/pkg/registry"
)

// Actuator is implemented by an external fleet manager.
type Actuator interface {
	ProvisionWorkers(ctx context.Context, n int) ([]string, error)
	DeprovisionWorkers(ctx context.Context, ids []string) error
}

// Metrics is the aggregate view computed each evaluation tick. It is
// derived state, recomputed every tick and never mutated directly.
type Metrics struct {
	HealthyWorkers int
	TotalCapacity  int
	UsedCapacity   int
	QueueLength    int
	AverageLoad    float64
}

// QueueLenFunc reports the current dispatch queue depth.
type QueueLenFunc func() int

// Config holds the scaling policy.
type Config struct {
	MinWorkers           int
	MaxWorkers           int
	ScaleUpThreshold     float64 // average load above which we grow
	ScaleDownThreshold   float64 // average load below which we shrink
	QueueLengthThreshold int     // queue depth that forces a scale up
	ScaleUpCooldown      time.Duration
	ScaleDownCooldown    time.Duration
	EvaluateInterval     time.Duration
}

// DefaultConfig returns the default scaling policy.
func DefaultConfig() Config {
	return Config{
		MinWorkers:           1,
		MaxWorkers:           10,
		ScaleUpThreshold:     0.8,
		ScaleDownThreshold:   0.3,
		QueueLengthThreshold: 50,
		ScaleUpCooldown:      2 * time.Minute,
		ScaleDownCooldown:    5 * time.Minute,
		EvaluateInterval:     30 * time.Second,
	}
}

// AutoScaler evaluates scaling decisions on a fixed interval, independent
// of dispatch.
type AutoScaler struct {
	registry *registry.Registry
	queueLen QueueLenFunc
	actuator Actuator
	config   Config
	logger   *slog.Logger

	lastScaleUp   time.Time
	lastScaleDown time.Time
	now           func() time.Time
}

// New creates an autoscaler.
func New(reg *registry.Registry, queueLen QueueLenFunc, act Actuator, cfg Config) *AutoScaler {
	if cfg.EvaluateInterval <= 0 {
		cfg.EvaluateInterval = DefaultConfig().EvaluateInterval
	}
	return &AutoScaler{
		registry: reg,
		queueLen: queueLen,
		actuator: act,
		config:   cfg,
		logger:   slog.Default(),
		now:      time.Now,
	}
}

// Run drives the evaluation loop until the context is cancelled. A failed
// actuator call is logged and retried on the next tick; it never stops
// the loop.
func (a *AutoScaler) Run(ctx context.Context) {
	ticker := time.NewTicker(a.config.EvaluateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Evaluate(ctx)
		}
	}
}

// CollectMetrics recomputes the aggregate scaling metrics.
func (a *AutoScaler) CollectMetrics() Metrics {
	rm := a.registry.Metrics()
	m := Metrics{
		HealthyWorkers: rm.HealthyWorkers,
		TotalCapacity:  rm.TotalCapacity,
		UsedCapacity:   rm.UsedCapacity,
		QueueLength:    a.queueLen(),
	}
	if m.TotalCapacity > 0 {
		m.AverageLoad = float64(m.UsedCapacity) / float64(m.TotalCapacity)
	}
	return m
}

// Evaluate runs one scaling decision. At most one action is taken per
// tick, and neither direction acts while either cooldown window is
// still open, so an up and a down can never land within the same
// window.
func (a *AutoScaler) Evaluate(ctx context.Context) {
	m := a.CollectMetrics()
	now := a.now()

	if a.shouldScaleUp(m, now) {
		a.scaleUp(ctx, m)
		return
	}
	if a.shouldScaleDown(m, now) {
		a.scaleDown(ctx, m)
	}
}

func (a *AutoScaler) shouldScaleUp(m Metrics, now time.Time) bool {
	if m.HealthyWorkers >= a.config.MaxWorkers {
		return false
	}
	if now.Sub(a.lastScaleUp) < a.config.ScaleUpCooldown ||
		now.Sub(a.lastScaleDown) < a.config.ScaleDownCooldown {
		return false
	}
	return m.AverageLoad > a.config.ScaleUpThreshold ||
		m.QueueLength > a.config.QueueLengthThreshold
}

func (a *AutoScaler) shouldScaleDown(m Metrics, now time.Time) bool {
	if m.HealthyWorkers <= a.config.MinWorkers {
		return false
	}
	if now.Sub(a.lastScaleDown) < a.config.ScaleDownCooldown ||
		now.Sub(a.lastScaleUp) < a.config.ScaleUpCooldown {
		return false
	}
	return m.AverageLoad < a.config.ScaleDownThreshold
}

// scaleUp requests one additional worker. Growing one step per tick keeps
// the fleet from overshooting on a load spike.
func (a *AutoScaler) scaleUp(ctx context.Context, m Metrics) {
	ids, err := a.actuator.ProvisionWorkers(ctx, 1)
	if err != nil {
		a.logger.Error("scale up failed", "error", err)
		return
	}
	a.lastScaleUp = a.now()
	a.logger.Info("scaled up",
		"provisioned", ids,
		"healthy_workers", m.HealthyWorkers,
		"average_load", m.AverageLoad,
		"queue_length", m.QueueLength)
}

// scaleDown deprovisions the least-loaded healthy worker.
func (a *AutoScaler) scaleDown(ctx context.Context, m Metrics) {
	victim := a.leastLoadedWorker()
	if victim == "" {
		return
	}
	if err := a.actuator.DeprovisionWorkers(ctx, []string{victim}); err != nil {
		a.logger.Error("scale down failed", "worker_id", victim, "error", err)
		return
	}
	a.lastScaleDown = a.now()
	a.logger.Info("scaled down",
		"deprovisioned", victim,
		"healthy_workers", m.HealthyWorkers,
		"average_load", m.AverageLoad)
}

func (a *AutoScaler) leastLoadedWorker() string {
	workers := a.registry.Snapshot()
	healthy := workers[:0]
	for _, w := range workers {
		if w.Status == registry.WorkerHealthy {
			healthy = append(healthy, w)
		}
	}
	if len(healthy) == 0 {
		return ""
	}
	sort.Slice(healthy, func(i, j int) bool {
		return healthy[i].LoadFactor() < healthy[j].LoadFactor()
	})
	return healthy[0].ID
}
