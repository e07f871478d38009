package worker

import (
	"context"
	"log/slog"
	"time"
)

// AutoScaleConfig tunes the autoscaler. Zero values fall back to defaults.
type AutoScaleConfig struct {
	MinWorkers int
	MaxWorkers int

	// SampleInterval is how often queue depth is sampled.
	SampleInterval time.Duration

	// ScaleUpDepth adds a worker when depth exceeds it; ScaleDownDepth
	// removes one when depth falls below it. Keeping the two thresholds
	// apart is what prevents flapping around a single boundary.
	ScaleUpDepth   int
	ScaleDownDepth int

	// Cooldown is the minimum time between scaling actions.
	Cooldown time.Duration
}

func (c AutoScaleConfig) withDefaults() AutoScaleConfig {
	if c.MinWorkers <= 0 {
		c.MinWorkers = 1
	}

	if c.MaxWorkers < c.MinWorkers {
		c.MaxWorkers = c.MinWorkers * 4
	}

	if c.SampleInterval <= 0 {
		c.SampleInterval = 5 * time.Second
	}

	if c.ScaleUpDepth <= 0 {
		c.ScaleUpDepth = 10
	}

	if c.ScaleDownDepth < 0 || c.ScaleDownDepth >= c.ScaleUpDepth {
		c.ScaleDownDepth = c.ScaleUpDepth / 4
	}

	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}

	return c
}

// AutoScalingPool wraps a Pool and adjusts its size from queue depth.
type AutoScalingPool struct {
	pool   *Pool
	config AutoScaleConfig
	logger *slog.Logger

	lastAction time.Time
}

// NewAutoScalingPool creates an autoscaler over the given pool.
func NewAutoScalingPool(logger *slog.Logger, pool *Pool, config AutoScaleConfig) *AutoScalingPool {
	return &AutoScalingPool{
		pool:   pool,
		config: config.withDefaults(),
		logger: logger.With("module", "autoscaler"),
	}
}

// Pool exposes the underlying pool for health reporting.
func (a *AutoScalingPool) Pool() *Pool { return a.pool }

// Run starts the pool at MinWorkers and adjusts until the context ends.
func (a *AutoScalingPool) Run(ctx context.Context) {
	a.pool.Start(ctx, a.config.MinWorkers)

	ticker := time.NewTicker(a.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.pool.Stop()

			return
		case now := <-ticker.C:
			a.Sample(now)
		}
	}
}

// Sample applies one scaling decision for the given instant. Exposed so
// tests can drive the autoscaler without real time.
func (a *AutoScalingPool) Sample(now time.Time) {
	if now.Sub(a.lastAction) < a.config.Cooldown {
		return
	}

	depth := a.pool.queue.Depth()
	size := a.pool.Size()

	switch {
	case depth > a.config.ScaleUpDepth && size < a.config.MaxWorkers:
		a.pool.grow()
		a.lastAction = now
		a.logger.Info("Scaled up", "depth", depth, "workers", size+1)
	case depth < a.config.ScaleDownDepth && size > a.config.MinWorkers:
		a.pool.shrink()
		a.lastAction = now
		a.logger.Info("Scaled down", "depth", depth, "workers", size-1)
	}
}
