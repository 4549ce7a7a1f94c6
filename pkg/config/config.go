// Package config loads configuration from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/jdziat/durable-dispatch/pkg/balancer"
)

// Config holds the tunables for a dispatch deployment.
type Config struct {
	// Storage
	DatabasePath string

	// Queue and pool
	QueueCapacity int
	DispatchSlots int
	PollTimeout   time.Duration

	// Retry policy
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// Worker health
	HealthCheckInterval time.Duration
	HeartbeatTimeout    time.Duration
	ShutdownTimeout     time.Duration

	// Load balancing
	Strategy             balancer.StrategyName
	MaxAssignmentRetries int

	// Autoscaling
	MinWorkers           int
	MaxWorkers           int
	ScaleUpThreshold     float64
	ScaleDownThreshold   float64
	QueueLengthThreshold int
	ScaleUpCooldown      time.Duration
	ScaleDownCooldown    time.Duration
	EvaluateInterval     time.Duration

	// Shutdown
	JobCompletionTimeout  time.Duration
	ForceKillAfterTimeout bool
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load() // missing .env is fine

	cfg := &Config{
		DatabasePath:          getEnv("DATABASE_PATH", "dispatch.db"),
		QueueCapacity:         0,
		DispatchSlots:         4,
		PollTimeout:           time.Second,
		MaxRetries:            3,
		BackoffBase:           2 * time.Second,
		BackoffCap:            300 * time.Second,
		HealthCheckInterval:   5 * time.Second,
		HeartbeatTimeout:      15 * time.Second,
		ShutdownTimeout:       30 * time.Second,
		Strategy:              balancer.LeastConnections,
		MaxAssignmentRetries:  3,
		MinWorkers:            1,
		MaxWorkers:            10,
		ScaleUpThreshold:      0.8,
		ScaleDownThreshold:    0.3,
		QueueLengthThreshold:  50,
		ScaleUpCooldown:       2 * time.Minute,
		ScaleDownCooldown:     5 * time.Minute,
		EvaluateInterval:      30 * time.Second,
		JobCompletionTimeout:  30 * time.Second,
		ForceKillAfterTimeout: true,
	}

	var err error
	if cfg.QueueCapacity, err = getEnvInt("QUEUE_CAPACITY", cfg.QueueCapacity); err != nil {
		return nil, err
	}
	if cfg.DispatchSlots, err = getEnvInt("DISPATCH_SLOTS", cfg.DispatchSlots); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = getEnvInt("MAX_RETRIES", cfg.MaxRetries); err != nil {
		return nil, err
	}
	if cfg.MinWorkers, err = getEnvInt("MIN_WORKERS", cfg.MinWorkers); err != nil {
		return nil, err
	}
	if cfg.MaxWorkers, err = getEnvInt("MAX_WORKERS", cfg.MaxWorkers); err != nil {
		return nil, err
	}
	if cfg.QueueLengthThreshold, err = getEnvInt("QUEUE_LENGTH_THRESHOLD", cfg.QueueLengthThreshold); err != nil {
		return nil, err
	}
	if cfg.MaxAssignmentRetries, err = getEnvInt("MAX_ASSIGNMENT_RETRIES", cfg.MaxAssignmentRetries); err != nil {
		return nil, err
	}

	if cfg.PollTimeout, err = getEnvDuration("POLL_TIMEOUT", cfg.PollTimeout); err != nil {
		return nil, err
	}
	if cfg.BackoffBase, err = getEnvDuration("BACKOFF_BASE", cfg.BackoffBase); err != nil {
		return nil, err
	}
	if cfg.BackoffCap, err = getEnvDuration("BACKOFF_CAP", cfg.BackoffCap); err != nil {
		return nil, err
	}
	if cfg.HealthCheckInterval, err = getEnvDuration("HEALTH_CHECK_INTERVAL", cfg.HealthCheckInterval); err != nil {
		return nil, err
	}
	if cfg.HeartbeatTimeout, err = getEnvDuration("HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return nil, err
	}
	if cfg.ScaleUpCooldown, err = getEnvDuration("SCALE_UP_COOLDOWN", cfg.ScaleUpCooldown); err != nil {
		return nil, err
	}
	if cfg.ScaleDownCooldown, err = getEnvDuration("SCALE_DOWN_COOLDOWN", cfg.ScaleDownCooldown); err != nil {
		return nil, err
	}
	if cfg.EvaluateInterval, err = getEnvDuration("EVALUATE_INTERVAL", cfg.EvaluateInterval); err != nil {
		return nil, err
	}
	if cfg.JobCompletionTimeout, err = getEnvDuration("JOB_COMPLETION_TIMEOUT", cfg.JobCompletionTimeout); err != nil {
		return nil, err
	}

	if cfg.ScaleUpThreshold, err = getEnvFloat("SCALE_UP_THRESHOLD", cfg.ScaleUpThreshold); err != nil {
		return nil, err
	}
	if cfg.ScaleDownThreshold, err = getEnvFloat("SCALE_DOWN_THRESHOLD", cfg.ScaleDownThreshold); err != nil {
		return nil, err
	}

	if v := os.Getenv("LOAD_BALANCER_STRATEGY"); v != "" {
		cfg.Strategy = balancer.StrategyName(v)
		if _, err := balancer.NewStrategy(cfg.Strategy); err != nil {
			return nil, fmt.Errorf("config: LOAD_BALANCER_STRATEGY=%q: %w", v, err)
		}
	}
	if v := os.Getenv("FORCE_KILL_AFTER_TIMEOUT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("config: FORCE_KILL_AFTER_TIMEOUT=%q: %w", v, err)
		}
		cfg.ForceKillAfterTimeout = b
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MinWorkers < 0 || c.MaxWorkers < c.MinWorkers {
		return fmt.Errorf("config: invalid worker bounds min=%d max=%d", c.MinWorkers, c.MaxWorkers)
	}
	if c.ScaleDownThreshold >= c.ScaleUpThreshold {
		return fmt.Errorf("config: scale down threshold %.2f must be below scale up threshold %.2f",
			c.ScaleDownThreshold, c.ScaleUpThreshold)
	}
	if c.DispatchSlots < 1 {
		return fmt.Errorf("config: DISPATCH_SLOTS must be at least 1")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q: %w", key, v, err)
	}
	return f, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q: %w", key, v, err)
	}
	return d, nil
}
