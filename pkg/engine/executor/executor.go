// Package executor runs a pipeline stage over products in dependency order,
// containing failures to the subtree that depends on the failed product.
package executor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/davidthor/catalogctl/pkg/errors"
	"github.com/davidthor/catalogctl/pkg/graph"
)

// Status is the outcome of one product in a run.
type Status string

const (
	StatusSucceeded        Status = "succeeded"
	StatusSkippedUnchanged Status = "skipped-unchanged"
	StatusSkipped          Status = "skipped"
	StatusPlanned          Status = "planned"
	StatusBlocked          Status = "blocked"
	StatusFailed           Status = "failed"
)

// Outcome is the result for one selected product.
type Outcome struct {
	Product string
	Status  Status
	Reason  string

	// BlockedBy names the failed product that prevented this one from
	// running.
	BlockedBy string

	Err      error
	Version  string
	Duration time.Duration
}

// Result is what a stage reports for a product it handled.
type Result struct {
	Status  Status
	Reason  string
	Version string
}

// Stage processes one product. A returned error marks the product failed.
type Stage func(ctx context.Context, product string) (*Result, error)

// Options configures the executor.
type Options struct {
	// Parallelism is the max number of products processed at once. Values
	// below 2 run products one at a time in the given order.
	Parallelism int

	// Reverse runs dependents before their dependencies. A failure then
	// blocks the product's dependencies instead of its dependents.
	Reverse bool

	// OnOutcome is called as each product finishes.
	OnOutcome func(Outcome)
}

// Executor runs stages over a dependency graph.
type Executor struct {
	graph   *graph.Graph
	options Options
}

// NewExecutor creates a new executor.
func NewExecutor(g *graph.Graph, options Options) *Executor {
	if options.Parallelism < 1 {
		options.Parallelism = 1
	}
	return &Executor{graph: g, options: options}
}

// run tracks outcomes and blocking for one Execute call.
type run struct {
	mu        sync.Mutex
	outcomes  map[string]*Outcome
	blockedBy map[string]string
	selected  map[string]bool
}

// Execute runs stage for every product in order. order must already be in
// topological order, or reverse topological order when Options.Reverse is
// set. Outcomes are returned in order.
func (e *Executor) Execute(ctx context.Context, order []string, stage Stage) ([]Outcome, error) {
	if len(order) == 0 {
		return []Outcome{}, nil
	}
	batches, err := e.batches(order)
	if err != nil {
		return nil, err
	}

	r := &run{
		outcomes:  make(map[string]*Outcome, len(order)),
		blockedBy: make(map[string]string),
		selected:  make(map[string]bool, len(order)),
	}
	for _, name := range order {
		r.selected[name] = true
	}

	for _, batch := range batches {
		g := new(errgroup.Group)
		g.SetLimit(e.options.Parallelism)
		for _, name := range batch {
			g.Go(func() error {
				e.executeOne(ctx, r, name, stage)
				return nil
			})
		}
		_ = g.Wait()
	}

	outcomes := make([]Outcome, 0, len(order))
	for _, name := range order {
		outcomes = append(outcomes, *r.outcomes[name])
	}
	return outcomes, nil
}

func (e *Executor) executeOne(ctx context.Context, r *run, name string, stage Stage) {
	r.mu.Lock()
	blocker, blocked := r.blockedBy[name]
	r.mu.Unlock()

	var outcome Outcome
	switch {
	case blocked:
		outcome = Outcome{
			Product:   name,
			Status:    StatusBlocked,
			Reason:    "blocked by failed product " + blocker,
			BlockedBy: blocker,
		}
	case ctx.Err() != nil:
		outcome = Outcome{
			Product: name,
			Status:  StatusBlocked,
			Reason:  "run cancelled",
			Err:     errors.Wrap(errors.ErrCodeCancelled, "run cancelled", ctx.Err()),
		}
	default:
		start := time.Now()
		result, err := stage(ctx, name)
		outcome = Outcome{Product: name, Duration: time.Since(start)}
		if err != nil {
			outcome.Status = StatusFailed
			outcome.Reason = err.Error()
			outcome.Err = err
		} else {
			if result == nil {
				result = &Result{Status: StatusSucceeded}
			}
			outcome.Status = result.Status
			outcome.Reason = result.Reason
			outcome.Version = result.Version
		}
	}

	r.mu.Lock()
	r.outcomes[name] = &outcome
	if outcome.Status == StatusFailed {
		e.block(r, name)
	}
	r.mu.Unlock()

	if e.options.OnOutcome != nil {
		e.options.OnOutcome(outcome)
	}
}

// block marks everything downstream of a failed product. Callers hold r.mu.
func (e *Executor) block(r *run, failed string) {
	var affected []string
	if e.options.Reverse {
		affected, _ = e.graph.TransitiveDependencies(failed)
	} else {
		affected, _ = e.graph.TransitiveDependents(failed)
	}
	for _, name := range affected {
		if !r.selected[name] {
			continue
		}
		if _, ok := r.blockedBy[name]; !ok {
			r.blockedBy[name] = failed
		}
	}
}

// batches splits order into groups that may run concurrently. Without
// parallelism every product is its own batch.
func (e *Executor) batches(order []string) ([][]string, error) {
	if e.options.Parallelism < 2 {
		batches := make([][]string, len(order))
		for i, name := range order {
			batches[i] = []string{name}
		}
		return batches, nil
	}

	levels, err := e.graph.Levels(order)
	if err != nil {
		return nil, err
	}
	if e.options.Reverse {
		for i, j := 0, len(levels)-1; i < j; i, j = i+1, j-1 {
			levels[i], levels[j] = levels[j], levels[i]
		}
	}
	return levels, nil
}
