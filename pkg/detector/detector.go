// Package detector classifies products as changed or unchanged for an
// environment and selects what a run has to process.
package detector

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/davidthor/catalogctl/pkg/fingerprint"
	"github.com/davidthor/catalogctl/pkg/graph"
	"github.com/davidthor/catalogctl/pkg/schema/catalog"
	"github.com/davidthor/catalogctl/pkg/state/types"
)

// Class is a product's change classification.
type Class string

const (
	Unchanged        Class = "unchanged"
	ChangedDirectly  Class = "changed-directly"
	ChangedByCascade Class = "changed-by-cascade"
)

// Changed reports whether the class needs processing.
func (c Class) Changed() bool {
	return c == ChangedDirectly || c == ChangedByCascade
}

// ChangeSet is the classification of every product plus the ordered
// selection for one run.
type ChangeSet struct {
	Environment string
	Classes     map[string]Class

	// Fingerprints holds the current content fingerprint per product.
	// Empty for deploy change sets.
	Fingerprints map[string]string

	// Stale lists, per product, the dependencies whose published version
	// moved on since the product was published. Empty for deploy change
	// sets.
	Stale map[string][]string

	// Selected is in topological order.
	Selected []string
}

// Class returns the classification of a product.
func (cs *ChangeSet) Class(product string) Class {
	if c, ok := cs.Classes[product]; ok {
		return c
	}
	return Unchanged
}

// Changed returns the changed products in catalog order.
func (cs *ChangeSet) Changed(order []string) []string {
	var changed []string
	for _, name := range order {
		if cs.Class(name).Changed() {
			changed = append(changed, name)
		}
	}
	return changed
}

// Options narrows a classification.
type Options struct {
	// Subset restricts the selection to these products and their
	// dependents. Empty means the whole catalog.
	Subset []string

	// Force marks the subset and its dependents changed regardless of
	// state.
	Force bool
}

// StateReader loads an environment document.
type StateReader interface {
	Load(ctx context.Context, env string) (*types.EnvironmentState, error)
}

// Detector computes change sets.
type Detector struct {
	Catalog       *catalog.Catalog
	Graph         *graph.Graph
	State         StateReader
	Fingerprinter fingerprint.Fingerprinter

	// Workers bounds concurrent fingerprint computations.
	Workers int
}

// Classify computes the publish change set: a product changed directly when
// it has no record or its recorded fingerprint differs from its content. A
// product published against older dependency versions than the ones now
// recorded, as after a dependent's publish failed, is changed by cascade.
// Classification and cascade always cover the whole graph; the subset only
// narrows the selection.
func (d *Detector) Classify(ctx context.Context, env string, opts Options) (*ChangeSet, error) {
	doc, err := d.State.Load(ctx, env)
	if err != nil {
		return nil, err
	}
	fingerprints, err := d.fingerprints(ctx)
	if err != nil {
		return nil, err
	}

	cs := &ChangeSet{Environment: env, Fingerprints: fingerprints, Stale: make(map[string][]string)}
	err = d.classify(cs, opts, func(name string) Class {
		rec := doc.Product(name)
		if rec == nil || rec.Fingerprint == "" || rec.Fingerprint != fingerprints[name] {
			return ChangedDirectly
		}
		if stale := d.staleDependencies(doc, name, rec); len(stale) > 0 {
			cs.Stale[name] = stale
			return ChangedByCascade
		}
		return Unchanged
	})
	if err != nil {
		return nil, err
	}
	return cs, nil
}

// ClassifyDeploy computes the deploy change set: a product changed directly
// when it is not published, was never deployed, or its deployed version
// differs from its published version.
func (d *Detector) ClassifyDeploy(ctx context.Context, env string, opts Options) (*ChangeSet, error) {
	doc, err := d.State.Load(ctx, env)
	if err != nil {
		return nil, err
	}

	cs := &ChangeSet{Environment: env}
	err = d.classify(cs, opts, func(name string) Class {
		rec := doc.Product(name)
		if !rec.Published() || !rec.Deployed() || rec.DeployedVersion != rec.Version {
			return ChangedDirectly
		}
		return Unchanged
	})
	if err != nil {
		return nil, err
	}
	return cs, nil
}

// staleDependencies returns the dependencies of product whose recorded
// version differs from the one rec was published against. Records written
// before dependency versions were tracked are never stale.
func (d *Detector) staleDependencies(doc *types.EnvironmentState, product string, rec *types.ProductRecord) []string {
	if rec.DependencyVersions == nil {
		return nil
	}
	p, ok := d.Catalog.Product(product)
	if !ok {
		return nil
	}
	var stale []string
	for _, dep := range p.Dependencies {
		current := doc.Product(dep)
		if !current.Published() {
			continue
		}
		if rec.DependencyVersions[dep] != current.Version {
			stale = append(stale, dep)
		}
	}
	return stale
}

func (d *Detector) classify(cs *ChangeSet, opts Options, classify func(name string) Class) error {
	if err := d.Catalog.CheckSelection(opts.Subset); err != nil {
		return err
	}

	cs.Classes = make(map[string]Class, d.Graph.Len())
	var direct []string
	for _, name := range d.Graph.IDs() {
		cs.Classes[name] = classify(name)
		if cs.Classes[name].Changed() {
			direct = append(direct, name)
		}
	}

	if opts.Force {
		forced := opts.Subset
		if len(forced) == 0 {
			forced = d.Graph.IDs()
		}
		for _, name := range forced {
			if cs.Classes[name] == Unchanged {
				cs.Classes[name] = ChangedDirectly
				direct = append(direct, name)
			}
		}
	}

	cascade, err := d.Graph.TransitiveDependents(direct...)
	if err != nil {
		return err
	}
	for _, name := range cascade {
		if cs.Classes[name] == Unchanged {
			cs.Classes[name] = ChangedByCascade
		}
	}

	scope, err := Scope(d.Graph, opts.Subset)
	if err != nil {
		return err
	}
	requested := make(map[string]bool, len(opts.Subset))
	for _, name := range opts.Subset {
		requested[name] = true
	}

	selected := make([]string, 0, len(scope))
	for _, name := range scope {
		if cs.Classes[name].Changed() || requested[name] {
			selected = append(selected, name)
		}
	}
	cs.Selected, err = d.Graph.TopologicalOrder(selected)
	return err
}

// Scope returns subset plus all transitive dependents, or every product
// when subset is empty. The result is never nil.
func Scope(g *graph.Graph, subset []string) ([]string, error) {
	if len(subset) == 0 {
		return g.IDs(), nil
	}
	scope, err := g.WithDependents(subset...)
	if err != nil {
		return nil, err
	}
	if scope == nil {
		scope = []string{}
	}
	return scope, nil
}

func (d *Detector) fingerprints(ctx context.Context) (map[string]string, error) {
	products := d.Catalog.Products
	results := make([]string, len(products))

	g, ctx := errgroup.WithContext(ctx)
	workers := d.Workers
	if workers < 1 {
		workers = 4
	}
	g.SetLimit(workers)
	for i, p := range products {
		g.Go(func() error {
			fp, err := d.Fingerprinter.Fingerprint(ctx, d.Catalog.ProductDir(p))
			if err != nil {
				return fmt.Errorf("fingerprint of %q: %w", p.Name, err)
			}
			results[i] = fp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(products))
	for i, p := range products {
		out[p.Name] = results[i]
	}
	return out, nil
}
