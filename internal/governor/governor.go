// Package governor paces outbound requests per source. Each source gets its
// own governor; concurrent sources never share a budget unless they target
// the same host, which the shared fetcher's per-host limiter covers.
package governor

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Config bounds the interval between consecutive fetches from one source.
// The actual gap is drawn uniformly from [MinInterval, MaxInterval] per
// request so concurrent harvesters don't fall into lockstep against a host.
type Config struct {
	MinInterval time.Duration
	MaxInterval time.Duration
}

// DefaultConfig returns the default pacing window.
func DefaultConfig() Config {
	return Config{MinInterval: 1 * time.Second, MaxInterval: 3 * time.Second}
}

// Governor blocks callers until the jittered interval since the previous
// fetch from the same source has elapsed. The first Wait returns immediately.
type Governor struct {
	cfg     Config
	limiter *rate.Limiter

	mu      sync.Mutex
	nextAt  time.Time
	waiting bool
}

// New creates a governor for one source. Zero or inverted config values fall
// back to the defaults.
func New(cfg Config) *Governor {
	def := DefaultConfig()
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = def.MinInterval
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	// The limiter enforces the hard floor; the jittered window on top is
	// applied in Wait.
	return &Governor{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
	}
}

// Wait blocks until the pacing interval has elapsed, or returns the context
// error if the caller is cancelled first. Within one source fetches are
// strictly sequential, so concurrent Wait calls are a caller bug.
func (g *Governor) Wait(ctx context.Context) error {
	g.mu.Lock()
	if g.waiting {
		g.mu.Unlock()
		return eris.New("governor: concurrent wait on a single-source governor")
	}
	g.waiting = true
	delay := time.Until(g.nextAt)
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.waiting = false
		g.nextAt = time.Now().Add(g.interval())
		g.mu.Unlock()
	}()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return g.limiter.Wait(ctx)
}

// interval draws the gap before the next permitted fetch.
func (g *Governor) interval() time.Duration {
	span := g.cfg.MaxInterval - g.cfg.MinInterval
	if span <= 0 {
		return g.cfg.MinInterval
	}
	return g.cfg.MinInterval + time.Duration(rand.Int64N(int64(span)+1))
}
