// Package health provides periodic health checks with optional recovery.
// Checks cover the payout ledger store, the engine timeline and the data
// directory.
package health

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/maco144/pickle/internal/infra/metrics"
)

// DefaultInterval is how often checks run.
const DefaultInterval = 30 * time.Second

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	clk      clock.WithTicker
}

// NewChecker creates a checker running checks every interval
// (DefaultInterval when zero) on the real clock.
func NewChecker(interval time.Duration, checks ...Check) *Checker {
	return NewCheckerWithClock(clock.RealClock{}, interval, checks...)
}

// NewCheckerWithClock is NewChecker with an explicit clock.
func NewCheckerWithClock(clk clock.WithTicker, interval time.Duration, checks ...Check) *Checker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Checker{checks: checks, interval: interval, clk: clk}
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.runAll(ctx)

	ticker := c.clk.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			c.runAll(ctx)
		}
	}
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: c.clk.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Error = err.Error()
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(0)
			if check.RecoverFn != nil {
				metrics.HealthRecoveries.WithLabelValues(check.Name).Inc()
				_ = check.RecoverFn(ctx)
			}
		} else {
			s.Healthy = true
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(1)
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

// Pinger is a store that can report connectivity.
type Pinger interface {
	Ping() error
}

// ContextPinger is a component that answers a liveness round-trip.
type ContextPinger interface {
	Ping(ctx context.Context) error
}

// LedgerCheck pings the payout ledger store.
func LedgerCheck(p Pinger) Check {
	return Check{
		Name: "ledger",
		CheckFn: func(ctx context.Context) error {
			return p.Ping()
		},
		RecoverFn: func(ctx context.Context) error {
			return nil // SQLite auto-recovers via WAL
		},
	}
}

// EngineCheck round-trips through the engine timeline within timeout.
func EngineCheck(p ContextPinger, timeout time.Duration) Check {
	return Check{
		Name: "engine_loop",
		CheckFn: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return p.Ping(ctx)
		},
	}
}

// DataDirCheck verifies dir is a directory, if it exists.
func DataDirCheck(dir string) Check {
	return Check{
		Name: "data_dir",
		CheckFn: func(ctx context.Context) error {
			return checkDataDir(dir)
		},
	}
}

func checkDataDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // created on first ledger open
		}
		return fmt.Errorf("check data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data path %s is not a directory", dir)
	}
	return nil
}
