package autoscaler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/durable-dispatch/pkg/registry"
)

type fakeActuator struct {
	provisioned   int
	deprovisioned []string
}

func (f *fakeActuator) ProvisionWorkers(ctx context.Context, n int) ([]string, error) {
	ids := make([]string, n)
	for i := range ids {
		f.provisioned++
		ids[i] = fmt.Sprintf("new-%d", f.provisioned)
	}
	return ids, nil
}

func (f *fakeActuator) DeprovisionWorkers(ctx context.Context, ids []string) error {
	f.deprovisioned = append(f.deprovisioned, ids...)
	return nil
}

func testRegistry(t *testing.T, workers int, activePer, maxPer int) *registry.Registry {
	t.Helper()
	reg := registry.New(registry.DefaultConfig())
	for i := 0; i < workers; i++ {
		id := fmt.Sprintf("w%d", i)
		require.NoError(t, reg.Register(id, "addr", maxPer, nil))
		active := activePer
		require.NoError(t, reg.Heartbeat(id, registry.HeartbeatUpdate{ActiveJobs: &active}))
	}
	return reg
}

func testScaler(reg *registry.Registry, queueLen int, act Actuator, cfg Config) *AutoScaler {
	return New(reg, func() int { return queueLen }, act, cfg)
}

func baseConfig() Config {
	return Config{
		MinWorkers:           1,
		MaxWorkers:           5,
		ScaleUpThreshold:     0.8,
		ScaleDownThreshold:   0.3,
		QueueLengthThreshold: 10,
		ScaleUpCooldown:      time.Minute,
		ScaleDownCooldown:    time.Minute,
		EvaluateInterval:     time.Second,
	}
}

func TestScaleUpOnHighLoad(t *testing.T) {
	reg := testRegistry(t, 2, 4, 4) // load 1.0
	act := &fakeActuator{}
	a := testScaler(reg, 0, act, baseConfig())

	a.Evaluate(context.Background())
	assert.Equal(t, 1, act.provisioned)
}

func TestScaleUpOnQueueDepth(t *testing.T) {
	reg := testRegistry(t, 2, 1, 4) // load 0.25, below threshold
	act := &fakeActuator{}
	a := testScaler(reg, 50, act, baseConfig())

	a.Evaluate(context.Background())
	assert.Equal(t, 1, act.provisioned)
	// Low load alone must not also trigger a scale down in the same tick.
	assert.Empty(t, act.deprovisioned)
}

func TestScaleUpCooldownSuppressesRepeat(t *testing.T) {
	reg := testRegistry(t, 2, 4, 4)
	act := &fakeActuator{}
	a := testScaler(reg, 0, act, baseConfig())

	now := time.Now()
	a.now = func() time.Time { return now }

	a.Evaluate(context.Background())
	a.Evaluate(context.Background())
	assert.Equal(t, 1, act.provisioned)

	a.now = func() time.Time { return now.Add(2 * time.Minute) }
	a.Evaluate(context.Background())
	assert.Equal(t, 2, act.provisioned)
}

func TestNeverExceedsMaxWorkers(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxWorkers = 2
	reg := testRegistry(t, 2, 4, 4)
	act := &fakeActuator{}
	a := testScaler(reg, 100, act, cfg)

	a.Evaluate(context.Background())
	assert.Zero(t, act.provisioned)
}

func TestScaleDownPicksLeastLoaded(t *testing.T) {
	reg := registry.New(registry.DefaultConfig())
	for id, active := range map[string]int{"busy": 3, "idle": 0} {
		require.NoError(t, reg.Register(id, "addr", 10, nil))
		n := active
		require.NoError(t, reg.Heartbeat(id, registry.HeartbeatUpdate{ActiveJobs: &n}))
	}
	act := &fakeActuator{}
	a := testScaler(reg, 0, act, baseConfig()) // load 3/20 = 0.15

	a.Evaluate(context.Background())
	assert.Equal(t, []string{"idle"}, act.deprovisioned)
}

func TestNoScaleDownAtMinWorkers(t *testing.T) {
	cfg := baseConfig()
	cfg.MinWorkers = 2
	reg := testRegistry(t, 2, 0, 4) // load 0, two workers at the floor
	act := &fakeActuator{}
	a := testScaler(reg, 0, act, cfg)

	for i := 0; i < 3; i++ {
		a.Evaluate(context.Background())
	}
	assert.Empty(t, act.deprovisioned)
}

func TestScaleDownCooldown(t *testing.T) {
	reg := testRegistry(t, 3, 0, 4)
	act := &fakeActuator{}
	a := testScaler(reg, 0, act, baseConfig())

	now := time.Now()
	a.now = func() time.Time { return now }

	a.Evaluate(context.Background())
	a.Evaluate(context.Background())
	assert.Len(t, act.deprovisioned, 1)
}

func TestNoScaleDownInsideScaleUpCooldown(t *testing.T) {
	reg := testRegistry(t, 2, 4, 4) // load 1.0
	act := &fakeActuator{}
	a := testScaler(reg, 0, act, baseConfig())

	now := time.Now()
	a.now = func() time.Time { return now }

	a.Evaluate(context.Background())
	require.Equal(t, 1, act.provisioned)

	// Load collapses right after the scale up.
	for _, id := range []string{"w0", "w1"} {
		idle := 0
		require.NoError(t, reg.Heartbeat(id, registry.HeartbeatUpdate{ActiveJobs: &idle}))
	}

	a.now = func() time.Time { return now.Add(time.Second) }
	a.Evaluate(context.Background())
	assert.Empty(t, act.deprovisioned)

	// Both windows closed: the shrink may proceed.
	a.now = func() time.Time { return now.Add(2 * time.Minute) }
	a.Evaluate(context.Background())
	assert.Len(t, act.deprovisioned, 1)
}

func TestNoScaleUpInsideScaleDownCooldown(t *testing.T) {
	reg := testRegistry(t, 3, 0, 4) // load 0
	act := &fakeActuator{}
	a := testScaler(reg, 0, act, baseConfig())

	now := time.Now()
	a.now = func() time.Time { return now }

	a.Evaluate(context.Background())
	require.Len(t, act.deprovisioned, 1)

	// Load spikes right after the scale down.
	for i := 0; i < 3; i++ {
		busy := 4
		require.NoError(t, reg.Heartbeat(fmt.Sprintf("w%d", i), registry.HeartbeatUpdate{ActiveJobs: &busy}))
	}

	a.now = func() time.Time { return now.Add(time.Second) }
	a.Evaluate(context.Background())
	assert.Zero(t, act.provisioned)

	a.now = func() time.Time { return now.Add(2 * time.Minute) }
	a.Evaluate(context.Background())
	assert.Equal(t, 1, act.provisioned)
}

func TestCollectMetrics(t *testing.T) {
	reg := testRegistry(t, 2, 1, 4)
	a := testScaler(reg, 7, &fakeActuator{}, baseConfig())

	m := a.CollectMetrics()
	assert.Equal(t, 2, m.HealthyWorkers)
	assert.Equal(t, 8, m.TotalCapacity)
	assert.Equal(t, 2, m.UsedCapacity)
	assert.Equal(t, 7, m.QueueLength)
	assert.InDelta(t, 0.25, m.AverageLoad, 1e-9)
}
