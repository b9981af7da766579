package graph

import (
	"fmt"

	"github.com/davidthor/catalogctl/pkg/errors"
	"github.com/davidthor/catalogctl/pkg/schema/catalog"
)

// Build constructs the dependency graph for a validated catalog. It fails
// with a CycleError naming the full cycle path when the dependency relation
// is not acyclic.
func Build(c *catalog.Catalog) (*Graph, error) {
	g := NewGraph()
	for _, p := range c.Products {
		if _, err := g.AddNode(p.Name, p.Portfolio); err != nil {
			return nil, errors.Wrap(errors.ErrCodeValidation, "failed to build graph", err)
		}
	}

	for _, p := range c.Products {
		for _, dep := range p.Dependencies {
			if err := g.AddEdge(p.Name, dep); err != nil {
				return nil, errors.Wrap(errors.ErrCodeValidation,
					fmt.Sprintf("product %q has an invalid dependency", p.Name), err)
			}
		}
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
