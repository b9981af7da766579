package graph

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/catalogctl/pkg/errors"
	"github.com/davidthor/catalogctl/pkg/schema/catalog"
)

func mustCatalog(t *testing.T, def string) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Load([]byte(def), t.TempDir())
	require.NoError(t, err)
	return c
}

// chain: c depends on b depends on a
const chainCatalog = `
products:
  a: {}
  b:
    dependencies: [a]
  c:
    dependencies: [b]
`

func TestGraph_AddNode(t *testing.T) {
	g := NewGraph()
	if _, err := g.AddNode("a", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := g.AddNode("a", ""); err == nil {
		t.Error("expected error for duplicate node")
	}
	if g.Len() != 1 {
		t.Errorf("expected 1 node, got %d", g.Len())
	}
}

func TestGraph_AddEdge(t *testing.T) {
	g := NewGraph()
	_, _ = g.AddNode("db", "")
	_, _ = g.AddNode("api", "")

	if err := g.AddEdge("api", "db"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Duplicate edges are ignored
	_ = g.AddEdge("api", "db")

	api, _ := g.Node("api")
	db, _ := g.Node("db")
	assert.Equal(t, []string{"db"}, api.DependsOn)
	assert.Equal(t, []string{"api"}, db.DependedOnBy)

	if err := g.AddEdge("api", "nonexistent"); err == nil {
		t.Error("expected error for non-existent node")
	}
}

func TestTopologicalOrder_DependenciesFirst(t *testing.T) {
	c := mustCatalog(t, `
products:
  frontend:
    dependencies: [api, cdn]
  api:
    dependencies: [database, networking]
  cdn: {}
  database:
    dependencies: [networking]
  networking: {}
`)
	g, err := Build(c)
	require.NoError(t, err)

	order, err := g.TopologicalOrder(nil)
	require.NoError(t, err)
	require.Len(t, order, 5)

	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	for _, p := range c.Products {
		deps, err := g.TransitiveDependencies(p.Name)
		require.NoError(t, err)
		for _, d := range deps {
			assert.Less(t, pos[d], pos[p.Name], "%s must come after %s", p.Name, d)
		}
	}

	// cdn is ready first and declared before networking
	assert.Equal(t, []string{"cdn", "networking", "database", "api", "frontend"}, order)

	again, err := g.TopologicalOrder(nil)
	require.NoError(t, err)
	assert.Equal(t, order, again)
}

func TestTopologicalOrder_DeclarationTieBreak(t *testing.T) {
	g, err := Build(mustCatalog(t, `
products:
  zeta: {}
  alpha: {}
  mid: {}
`))
	require.NoError(t, err)

	order, err := g.TopologicalOrder(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, order)
}

func TestTopologicalOrder_SubsetKeepsTransitiveOrder(t *testing.T) {
	// c is declared first but depends on a through b, which is not selected
	g, err := Build(mustCatalog(t, `
products:
  c:
    dependencies: [b]
  b:
    dependencies: [a]
  a: {}
`))
	require.NoError(t, err)

	order, err := g.TopologicalOrder([]string{"c", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, order)

	reverse, err := g.ReverseTopologicalOrder([]string{"c", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, reverse)

	_, err = g.TopologicalOrder([]string{"ghost"})
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}

func TestBuild_Cycle(t *testing.T) {
	_, err := Build(mustCatalog(t, `
products:
  a:
    dependencies: [b]
  b:
    dependencies: [c]
  c:
    dependencies: [a]
`))
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.ErrCodeCycle))

	cycle, ok := errors.CycleOf(err)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b", "c", "a"}, cycle)
}

func TestBuild_CycleBehindAcyclicPrefix(t *testing.T) {
	_, err := Build(mustCatalog(t, `
products:
  root: {}
  x:
    dependencies: [root, y]
  y:
    dependencies: [z]
  z:
    dependencies: [y]
`))
	cycle, ok := errors.CycleOf(err)
	require.True(t, ok)
	assert.Equal(t, []string{"y", "z", "y"}, cycle)
}

func TestBuild_SelfDependency(t *testing.T) {
	_, err := Build(mustCatalog(t, `
products:
  a:
    dependencies: [a]
`))
	cycle, ok := errors.CycleOf(err)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "a"}, cycle)
}

func TestTransitiveSets(t *testing.T) {
	g, err := Build(mustCatalog(t, chainCatalog))
	require.NoError(t, err)

	dependents, err := g.TransitiveDependents("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, dependents)

	dependencies, err := g.TransitiveDependencies("c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, dependencies)

	none, err := g.TransitiveDependents("c")
	require.NoError(t, err)
	assert.Empty(t, none)

	closure, err := g.WithDependents("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, closure)
}

func TestLevels(t *testing.T) {
	g, err := Build(mustCatalog(t, `
products:
  networking: {}
  dns: {}
  database:
    dependencies: [networking]
  cache:
    dependencies: [networking]
  api:
    dependencies: [database, cache, dns]
`))
	require.NoError(t, err)

	levels, err := g.Levels(nil)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"networking", "dns"},
		{"database", "cache"},
		{"api"},
	}, levels)

	subset, err := g.Levels([]string{"api", "networking"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"networking"}, {"api"}}, subset)
}

func TestLargeChainHasNoRecursionLimit(t *testing.T) {
	g := NewGraph()
	const n = 50000
	prev := ""
	for i := 0; i < n; i++ {
		id := "p" + strconv.Itoa(i)
		_, _ = g.AddNode(id, "")
		if prev != "" {
			require.NoError(t, g.AddEdge(id, prev))
		}
		prev = id
	}
	require.NoError(t, g.Validate())

	deps, err := g.TransitiveDependencies(prev)
	require.NoError(t, err)
	assert.Len(t, deps, n-1)
}
