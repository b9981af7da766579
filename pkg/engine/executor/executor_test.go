package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/catalogctl/pkg/errors"
	"github.com/davidthor/catalogctl/pkg/graph"
)

// buildGraph creates nodes in the given order; edges map a dependent to its
// dependencies.
func buildGraph(t *testing.T, nodes []string, edges map[string][]string) *graph.Graph {
	t.Helper()
	g := graph.NewGraph()
	for _, n := range nodes {
		_, err := g.AddNode(n, "")
		require.NoError(t, err)
	}
	for dependent, deps := range edges {
		for _, d := range deps {
			require.NoError(t, g.AddEdge(dependent, d))
		}
	}
	return g
}

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) stage(fail ...string) Stage {
	failing := make(map[string]bool)
	for _, f := range fail {
		failing[f] = true
	}
	return func(_ context.Context, product string) (*Result, error) {
		r.mu.Lock()
		r.calls = append(r.calls, product)
		r.mu.Unlock()
		if failing[product] {
			return nil, fmt.Errorf("backend rejected %s", product)
		}
		return &Result{Status: StatusSucceeded, Version: "v1"}, nil
	}
}

func byProduct(outcomes []Outcome) map[string]Outcome {
	m := make(map[string]Outcome, len(outcomes))
	for _, o := range outcomes {
		m[o.Product] = o
	}
	return m
}

func TestExecute_PartialFailureContainment(t *testing.T) {
	g := buildGraph(t, []string{"A", "B", "C"}, map[string][]string{"B": {"A"}})
	order, err := g.TopologicalOrder(nil)
	require.NoError(t, err)

	rec := &recorder{}
	outcomes, err := NewExecutor(g, Options{}).Execute(t.Context(), order, rec.stage("A"))
	require.NoError(t, err)

	got := byProduct(outcomes)
	assert.Equal(t, StatusFailed, got["A"].Status)
	assert.Equal(t, StatusBlocked, got["B"].Status)
	assert.Equal(t, "A", got["B"].BlockedBy)
	assert.Equal(t, StatusSucceeded, got["C"].Status)
	assert.Equal(t, "v1", got["C"].Version)
	assert.NotContains(t, rec.calls, "B")
}

func TestExecute_BlocksTransitiveDependents(t *testing.T) {
	g := buildGraph(t, []string{"A", "B", "C"}, map[string][]string{"B": {"A"}, "C": {"B"}})
	order, err := g.TopologicalOrder(nil)
	require.NoError(t, err)

	outcomes, err := NewExecutor(g, Options{}).Execute(t.Context(), order, (&recorder{}).stage("A"))
	require.NoError(t, err)

	got := byProduct(outcomes)
	assert.Equal(t, "A", got["B"].BlockedBy)
	assert.Equal(t, "A", got["C"].BlockedBy)
	assert.Equal(t, []string{"A", "B", "C"}, []string{outcomes[0].Product, outcomes[1].Product, outcomes[2].Product})
}

func TestExecute_ReverseBlocksDependencies(t *testing.T) {
	g := buildGraph(t, []string{"A", "B"}, map[string][]string{"B": {"A"}})
	order, err := g.ReverseTopologicalOrder(nil)
	require.NoError(t, err)
	require.Equal(t, []string{"B", "A"}, order)

	rec := &recorder{}
	outcomes, err := NewExecutor(g, Options{Reverse: true}).Execute(t.Context(), order, rec.stage("B"))
	require.NoError(t, err)

	got := byProduct(outcomes)
	assert.Equal(t, StatusFailed, got["B"].Status)
	assert.Equal(t, StatusBlocked, got["A"].Status)
	assert.Equal(t, []string{"B"}, rec.calls)
}

func TestExecute_SkipsDoNotBlock(t *testing.T) {
	g := buildGraph(t, []string{"A", "B"}, map[string][]string{"B": {"A"}})
	stage := func(_ context.Context, product string) (*Result, error) {
		if product == "A" {
			return &Result{Status: StatusSkippedUnchanged}, nil
		}
		return nil, nil
	}

	outcomes, err := NewExecutor(g, Options{}).Execute(t.Context(), []string{"A", "B"}, stage)
	require.NoError(t, err)
	assert.Equal(t, StatusSkippedUnchanged, outcomes[0].Status)
	assert.Equal(t, StatusSucceeded, outcomes[1].Status)
}

func TestExecute_ParallelLevels(t *testing.T) {
	g := buildGraph(t, []string{"a", "b", "c", "d", "top"}, map[string][]string{"top": {"a", "b", "c", "d"}})
	order, err := g.TopologicalOrder(nil)
	require.NoError(t, err)

	var started sync.WaitGroup
	started.Add(4)
	var running, maxRunning int32
	var topSawAll atomic.Bool
	var finished int32

	stage := func(_ context.Context, product string) (*Result, error) {
		if product == "top" {
			topSawAll.Store(atomic.LoadInt32(&finished) == 4)
			return nil, nil
		}
		n := atomic.AddInt32(&running, 1)
		for {
			m := atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}
		started.Done()

		done := make(chan struct{})
		go func() { started.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			return nil, fmt.Errorf("siblings did not run concurrently")
		}

		atomic.AddInt32(&running, -1)
		atomic.AddInt32(&finished, 1)
		return nil, nil
	}

	outcomes, err := NewExecutor(g, Options{Parallelism: 4}).Execute(t.Context(), order, stage)
	require.NoError(t, err)
	for _, o := range outcomes {
		assert.Equal(t, StatusSucceeded, o.Status, o.Product)
	}
	assert.Equal(t, int32(4), atomic.LoadInt32(&maxRunning))
	assert.True(t, topSawAll.Load(), "dependent must start after all dependencies finished")
}

func TestExecute_ParallelismLimit(t *testing.T) {
	nodes := []string{"a", "b", "c", "d", "e", "f"}
	g := buildGraph(t, nodes, nil)

	var running, maxRunning int32
	stage := func(_ context.Context, _ string) (*Result, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			m := atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil, nil
	}

	_, err := NewExecutor(g, Options{Parallelism: 2}).Execute(t.Context(), nodes, stage)
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxRunning), int32(2))
}

func TestExecute_Cancelled(t *testing.T) {
	g := buildGraph(t, []string{"A", "B"}, nil)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	rec := &recorder{}
	outcomes, err := NewExecutor(g, Options{}).Execute(ctx, []string{"A", "B"}, rec.stage())
	require.NoError(t, err)
	assert.Empty(t, rec.calls)
	for _, o := range outcomes {
		assert.Equal(t, StatusBlocked, o.Status)
		assert.True(t, errors.Is(o.Err, errors.ErrCodeCancelled))
	}
}

func TestExecute_OnOutcome(t *testing.T) {
	g := buildGraph(t, []string{"A", "B"}, nil)
	var seen []string
	var mu sync.Mutex
	opts := Options{OnOutcome: func(o Outcome) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, o.Product+":"+string(o.Status))
	}}

	_, err := NewExecutor(g, opts).Execute(t.Context(), []string{"A", "B"}, (&recorder{}).stage("B"))
	require.NoError(t, err)
	assert.Equal(t, []string{"A:succeeded", "B:failed"}, seen)
}

func TestExecute_Empty(t *testing.T) {
	g := buildGraph(t, []string{"A"}, nil)
	outcomes, err := NewExecutor(g, Options{}).Execute(t.Context(), nil, (&recorder{}).stage())
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}
