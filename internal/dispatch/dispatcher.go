// Package dispatch fans a single intent out across every configured account
// concurrently and collects per-account results in configuration order. One
// account's failure never touches another's execution.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"neptunebot/internal/domain"
	"neptunebot/internal/executor"
	"neptunebot/internal/ports"
)

// Dispatcher fans intents out to the per-account executors.
type Dispatcher struct {
	executors []*executor.Executor
	logger    ports.Logger
}

// New creates a dispatcher over the given executors. Slice order defines
// result order.
func New(executors []*executor.Executor, logger ports.Logger) (*Dispatcher, error) {
	if len(executors) == 0 {
		return nil, fmt.Errorf("dispatcher requires at least one executor")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for dispatcher")
	}
	return &Dispatcher{executors: executors, logger: logger}, nil
}

// Executors returns the dispatcher's executors in configuration order.
func (d *Dispatcher) Executors() []*executor.Executor { return d.executors }

// ByIdentity returns the executor whose account owns the messaging identity,
// or nil.
func (d *Dispatcher) ByIdentity(identity string) *executor.Executor {
	for _, e := range d.executors {
		if e.Identity() == identity {
			return e
		}
	}
	return nil
}

// Dispatch runs the intent on every account concurrently and returns one
// result per account, in configuration order regardless of completion order.
func (d *Dispatcher) Dispatch(ctx context.Context, intent domain.Intent) []executor.Result {
	results := make([]executor.Result, len(d.executors))
	var wg sync.WaitGroup
	for i, e := range d.executors {
		wg.Add(1)
		go func(i int, e *executor.Executor) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					err := fmt.Errorf("account task panicked: %v", r)
					d.logger.Error(ctx, err, "Dispatch: recovered panic", map[string]interface{}{"user": e.User(), "symbol": intent.Symbol})
					results[i] = executor.Result{User: e.User(), Success: false, Message: "internal error", Err: err}
				}
			}()
			results[i] = d.run(ctx, e, intent)
		}(i, e)
	}
	wg.Wait()
	return results
}

func (d *Dispatcher) run(ctx context.Context, e *executor.Executor, intent domain.Intent) executor.Result {
	switch intent.Kind {
	case domain.IntentOpen:
		return e.ExecuteOpen(ctx, intent)
	case domain.IntentClose:
		return e.ExecuteClose(ctx, intent)
	default:
		return executor.Result{User: e.User(), Success: false, Message: "unsupported intent", Err: fmt.Errorf("dispatcher cannot run intent kind %s", intent.Kind)}
	}
}
