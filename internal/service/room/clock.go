package room

import (
	"context"
	"fmt"
	"time"

	"gameroom-service/internal/metrics"
	"gameroom-service/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Clock sweeps every live room for passed deadlines. Rooms are checked
// independently: a slow or failing room never holds up the others.
type Clock struct {
	registry    *Registry
	interval    time.Duration
	concurrency int
	now         func() time.Time
}

func NewClock(registry *Registry, interval time.Duration, concurrency int) *Clock {
	if interval <= 0 {
		interval = time.Second
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Clock{
		registry:    registry,
		interval:    interval,
		concurrency: concurrency,
		now:         registry.deps.Now,
	}
}

func (c *Clock) Run(ctx context.Context) {
	logger.Log.Info("turn clock started", zap.Duration("interval", c.interval))

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("turn clock stopped")
			return
		case <-ticker.C:
			c.Sweep(ctx, c.now())
		}
	}
}

// Sweep checks every room against now once and returns how many rooms
// failed their check.
func (c *Clock) Sweep(ctx context.Context, now time.Time) int {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	rooms := c.registry.Rooms()
	failed := make([]bool, len(rooms))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, r := range rooms {
		g.Go(func() error {
			if err := c.check(ctx, r, now); err != nil {
				failed[i] = true
				logger.Log.Warn("room sweep error",
					zap.String("roomID", r.id),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, f := range failed {
		if f {
			n++
		}
	}
	return n
}

func (c *Clock) check(ctx context.Context, r *Room, now time.Time) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	changed, err := r.tick(ctx, now)
	if changed {
		c.registry.sync(ctx, r)
	}
	return err
}
