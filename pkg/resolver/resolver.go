// Package resolver resolves a product's input parameters from the captured
// outputs of its dependencies.
package resolver

import (
	"context"
	"sort"

	"github.com/davidthor/catalogctl/pkg/errors"
	"github.com/davidthor/catalogctl/pkg/schema/catalog"
	"github.com/davidthor/catalogctl/pkg/state/types"
)

// Resolver resolves parameter mappings for a product in an environment.
type Resolver interface {
	// Resolve returns parameter name -> value. It fails with an
	// UNRESOLVED_DEPENDENCY error when a dependency has no captured value
	// for a mapped output.
	Resolve(ctx context.Context, product *catalog.Product, env string) (map[string]string, error)
}

// StateReader loads an environment document.
type StateReader interface {
	Load(ctx context.Context, env string) (*types.EnvironmentState, error)
}

// Options configures the resolver.
type Options struct {
	// State is read for dependency outputs.
	State StateReader

	// EnvironmentParameter, when set, is injected with the environment
	// name into every product's parameters.
	EnvironmentParameter string
}

type resolver struct {
	state    StateReader
	envParam string
}

// NewResolver creates a parameter resolver.
func NewResolver(opts Options) Resolver {
	return &resolver{
		state:    opts.State,
		envParam: opts.EnvironmentParameter,
	}
}

func (r *resolver) Resolve(ctx context.Context, product *catalog.Product, env string) (map[string]string, error) {
	doc, err := r.state.Load(ctx, env)
	if err != nil {
		return nil, err
	}
	return ResolveFrom(doc, product, r.envParam)
}

// ResolveFrom resolves against an already loaded environment document.
// Parameters are visited in name order so the first failure is stable.
func ResolveFrom(doc *types.EnvironmentState, product *catalog.Product, envParam string) (map[string]string, error) {
	params := make(map[string]string, len(product.Parameters)+1)
	for _, name := range parameterNames(product) {
		m := product.Parameters[name]
		value, ok := doc.Product(m.Dependency).Output(m.Output)
		if !ok {
			return nil, errors.UnresolvedDependencyError(product.Name, m.Dependency, m.Output)
		}
		params[name] = value
	}
	if envParam != "" {
		params[envParam] = doc.Environment
	}
	return params, nil
}

func parameterNames(product *catalog.Product) []string {
	names := make([]string, 0, len(product.Parameters))
	for name := range product.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
