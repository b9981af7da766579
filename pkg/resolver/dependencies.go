package resolver

import (
	"github.com/davidthor/catalogctl/pkg/schema/catalog"
	"github.com/davidthor/catalogctl/pkg/state/types"
)

// Pending returns the mappings of product whose dependency output has not
// been captured yet, in parameter name order.
func Pending(doc *types.EnvironmentState, product *catalog.Product) []catalog.Mapping {
	var pending []catalog.Mapping
	for _, name := range parameterNames(product) {
		m := product.Parameters[name]
		if _, ok := doc.Product(m.Dependency).Output(m.Output); !ok {
			pending = append(pending, m)
		}
	}
	return pending
}

// Ready reports whether every mapping of product can be resolved.
func Ready(doc *types.EnvironmentState, product *catalog.Product) bool {
	return len(Pending(doc, product)) == 0
}
