// Package admission bounds simultaneous outbound calls to the remote catalog.
package admission

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/pncplab/harvester/internal/telemetry"
)

// DefaultLimit matches the remote catalog's tolerated connection count.
const DefaultLimit = 5

// Gate is a counting admission gate. Acquire blocks until fewer than the
// configured number of permits are outstanding; Release returns a permit.
// An optional requests-per-second cap is layered in front of the permits.
type Gate struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// Config holds gate configuration.
type Config struct {
	// Limit is the maximum number of outstanding permits. Must be > 0.
	Limit int
	// RPS optionally caps the request rate across all callers. <= 0 means
	// no rate cap, only the permit count applies.
	RPS float64
}

// New creates a Gate. A non-positive limit is a configuration error and
// must abort startup.
func New(cfg Config) (*Gate, error) {
	if cfg.Limit <= 0 {
		return nil, fmt.Errorf("admission limit must be > 0, got %d", cfg.Limit)
	}
	g := &Gate{sem: semaphore.NewWeighted(int64(cfg.Limit))}
	if cfg.RPS > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Limit)
	}
	return g, nil
}

// Acquire blocks until a permit is available or the context ends.
func (g *Gate) Acquire(ctx context.Context) error {
	start := time.Now()
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire permit: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		telemetry.ObserveGateWait(waited)
	}
	return nil
}

// Release returns a permit to the pool.
func (g *Gate) Release() {
	g.sem.Release(1)
}
