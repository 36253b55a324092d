// Package monitor runs the periodic reconciliation loop: every interval,
// each account compares its tracked positions with the exchange and repairs
// drift (re-place missing protective orders, record fills that happened
// while the engine was not looking, release positions the venue closed).
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"neptunebot/internal/executor"
	"neptunebot/internal/ports"
)

// Monitor drives periodic reconciliation across all accounts.
type Monitor struct {
	executors []*executor.Executor
	interval  time.Duration
	logger    ports.Logger
}

// New creates a monitor over the given executors.
func New(executors []*executor.Executor, interval time.Duration, logger ports.Logger) (*Monitor, error) {
	if len(executors) == 0 {
		return nil, fmt.Errorf("monitor requires at least one executor")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("monitor interval must be positive")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for monitor")
	}
	return &Monitor{executors: executors, interval: interval, logger: logger}, nil
}

// Run blocks, reconciling every interval until ctx is cancelled. The first
// pass runs immediately so restart recovery does not wait a full interval.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info(ctx, "Position monitor started", map[string]interface{}{
		"interval": m.interval.String(), "accounts": len(m.executors),
	})
	m.tick(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info(ctx, "Position monitor stopped", nil)
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick reconciles all accounts concurrently and waits for them to finish.
func (m *Monitor) tick(ctx context.Context) {
	var wg sync.WaitGroup
	for _, e := range m.executors {
		wg.Add(1)
		go func(e *executor.Executor) {
			defer wg.Done()
			e.Reconcile(ctx)
		}(e)
	}
	wg.Wait()
}
