package detector

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/catalogctl/pkg/errors"
	"github.com/davidthor/catalogctl/pkg/fingerprint"
	"github.com/davidthor/catalogctl/pkg/graph"
	"github.com/davidthor/catalogctl/pkg/schema/catalog"
	"github.com/davidthor/catalogctl/pkg/state"
	"github.com/davidthor/catalogctl/pkg/state/backend/memory"
	"github.com/davidthor/catalogctl/pkg/state/types"
)

// c depends on b depends on a; d is independent
const chain = `
products:
  a: {}
  b:
    dependencies: [a]
  c:
    dependencies: [b]
  d: {}
`

type fixture struct {
	root     string
	detector *Detector
	store    state.Store
}

func newFixture(t *testing.T, def string) *fixture {
	t.Helper()
	root := t.TempDir()
	c, err := catalog.Load([]byte(def), root)
	require.NoError(t, err)
	g, err := graph.Build(c)
	require.NoError(t, err)

	for _, p := range c.Products {
		writeTemplate(t, c.ProductDir(p), p.Name)
	}

	store := state.NewStore(memory.New())
	return &fixture{
		root:  root,
		store: store,
		detector: &Detector{
			Catalog:       c,
			Graph:         g,
			State:         store,
			Fingerprinter: fingerprint.Hash{},
		},
	}
}

func writeTemplate(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "template.yaml"), []byte(content), 0644))
}

// publishAll records the current fingerprints as published.
func (f *fixture) publishAll(t *testing.T, cs *ChangeSet) {
	t.Helper()
	for name, fp := range cs.Fingerprints {
		_, err := f.store.Update(context.Background(), "dev", name, func(r *types.ProductRecord) error {
			r.Fingerprint = fp
			r.Version = "v1"
			return nil
		})
		require.NoError(t, err)
	}
}

func TestClassify_FirstRunSelectsEverything(t *testing.T) {
	f := newFixture(t, chain)

	cs, err := f.detector.Classify(context.Background(), "dev", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, cs.Selected)
	for _, name := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, ChangedDirectly, cs.Class(name))
	}
}

func TestClassify_IdempotentAndRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, chain)

	first, err := f.detector.Classify(ctx, "dev", Options{})
	require.NoError(t, err)
	second, err := f.detector.Classify(ctx, "dev", Options{})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	f.publishAll(t, first)

	after, err := f.detector.Classify(ctx, "dev", Options{})
	require.NoError(t, err)
	assert.Empty(t, after.Selected)
	for _, name := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, Unchanged, after.Class(name))
	}

	// Any byte change is detected on the next run
	writeTemplate(t, filepath.Join(f.root, "products", "d"), "d!")
	changed, err := f.detector.Classify(ctx, "dev", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, changed.Selected)
	assert.Equal(t, ChangedDirectly, changed.Class("d"))
}

func TestClassify_Cascade(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, chain)
	cs, err := f.detector.Classify(ctx, "dev", Options{})
	require.NoError(t, err)
	f.publishAll(t, cs)

	writeTemplate(t, filepath.Join(f.root, "products", "a"), "a v2")

	cs, err = f.detector.Classify(ctx, "dev", Options{})
	require.NoError(t, err)
	assert.Equal(t, ChangedDirectly, cs.Class("a"))
	assert.Equal(t, ChangedByCascade, cs.Class("b"))
	assert.Equal(t, ChangedByCascade, cs.Class("c"))
	assert.Equal(t, Unchanged, cs.Class("d"))
	assert.Equal(t, []string{"a", "b", "c"}, cs.Selected)
}

func TestClassify_StaleDependencyVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, chain)
	cs, err := f.detector.Classify(ctx, "dev", Options{})
	require.NoError(t, err)
	f.publishAll(t, cs)

	// a was republished but b's publish against it never happened
	deps := map[string]map[string]string{"b": {"a": "v1"}, "c": {"b": "v1"}}
	for name, versions := range deps {
		_, err := f.store.Update(ctx, "dev", name, func(r *types.ProductRecord) error {
			r.DependencyVersions = versions
			return nil
		})
		require.NoError(t, err)
	}
	_, err = f.store.Update(ctx, "dev", "a", func(r *types.ProductRecord) error {
		r.Version = "v2"
		return nil
	})
	require.NoError(t, err)

	cs, err = f.detector.Classify(ctx, "dev", Options{})
	require.NoError(t, err)
	assert.Equal(t, Unchanged, cs.Class("a"))
	assert.Equal(t, ChangedByCascade, cs.Class("b"))
	assert.Equal(t, ChangedByCascade, cs.Class("c"))
	assert.Equal(t, Unchanged, cs.Class("d"))
	assert.Equal(t, []string{"a"}, cs.Stale["b"])
	assert.Empty(t, cs.Stale["c"])
	assert.Equal(t, []string{"b", "c"}, cs.Selected)
}

func TestClassify_SubsetNeverSkipsDependents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, chain)
	cs, err := f.detector.Classify(ctx, "dev", Options{})
	require.NoError(t, err)
	f.publishAll(t, cs)

	// a changes but only b is requested: cascade still reaches b and c
	writeTemplate(t, filepath.Join(f.root, "products", "a"), "a v2")
	writeTemplate(t, filepath.Join(f.root, "products", "d"), "d v2")

	cs, err = f.detector.Classify(ctx, "dev", Options{Subset: []string{"b"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, cs.Selected)
	assert.Equal(t, ChangedDirectly, cs.Class("d"), "classification covers the whole graph")
}

func TestClassify_RequestedUnchangedIsSelected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, chain)
	cs, err := f.detector.Classify(ctx, "dev", Options{})
	require.NoError(t, err)
	f.publishAll(t, cs)

	cs, err = f.detector.Classify(ctx, "dev", Options{Subset: []string{"d"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, cs.Selected)
	assert.Equal(t, Unchanged, cs.Class("d"))
}

func TestClassify_Force(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, chain)
	cs, err := f.detector.Classify(ctx, "dev", Options{})
	require.NoError(t, err)
	f.publishAll(t, cs)

	cs, err = f.detector.Classify(ctx, "dev", Options{Subset: []string{"b"}, Force: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, cs.Selected)
	assert.Equal(t, ChangedDirectly, cs.Class("b"))
	assert.Equal(t, ChangedByCascade, cs.Class("c"))
	assert.Equal(t, Unchanged, cs.Class("a"))

	cs, err = f.detector.Classify(ctx, "dev", Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, cs.Selected)
}

func TestClassify_UnknownSubset(t *testing.T) {
	f := newFixture(t, chain)
	_, err := f.detector.Classify(context.Background(), "dev", Options{Subset: []string{"ghost"}})
	assert.True(t, errors.Is(err, errors.ErrCodeValidation), "got %v", err)
}

func TestClassify_EnvironmentsAreIndependent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, chain)
	cs, err := f.detector.Classify(ctx, "dev", Options{})
	require.NoError(t, err)
	f.publishAll(t, cs)

	prod, err := f.detector.Classify(ctx, "prod", Options{})
	require.NoError(t, err)
	assert.Len(t, prod.Selected, 4)
}

func TestClassifyDeploy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, chain)

	set := func(name string, fn func(r *types.ProductRecord)) {
		_, err := f.store.Update(ctx, "dev", name, func(r *types.ProductRecord) error {
			fn(r)
			return nil
		})
		require.NoError(t, err)
	}
	deployed := func(r *types.ProductRecord) {
		r.Version = "v1"
		r.InstanceID = "pp-" + r.Product
		r.DeployedVersion = "v1"
	}
	set("a", deployed)
	set("b", deployed)
	set("c", deployed)
	set("d", func(r *types.ProductRecord) { r.Version = "v1" })

	cs, err := f.detector.ClassifyDeploy(ctx, "dev", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, cs.Selected)

	// A newer published version of a cascades to b and c
	set("a", func(r *types.ProductRecord) { r.Version = "v2" })
	cs, err = f.detector.ClassifyDeploy(ctx, "dev", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, cs.Selected)
	assert.Equal(t, ChangedByCascade, cs.Class("b"))

	cs, err = f.detector.ClassifyDeploy(ctx, "dev", Options{Subset: []string{"c"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, cs.Selected)
	assert.Nil(t, cs.Fingerprints)
}

func TestScope(t *testing.T) {
	f := newFixture(t, chain)
	g := f.detector.Graph

	all, err := Scope(g, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, all)

	scope, err := Scope(g, []string{"b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, scope)
}
