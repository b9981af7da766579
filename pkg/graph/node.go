// Package graph provides the product dependency graph: cycle detection,
// deterministic topological ordering and reachability queries.
package graph

// Node is a product in the dependency graph.
type Node struct {
	// ID is the product name.
	ID string

	// Group is the owning portfolio, used when rendering.
	Group string

	// Order is the declaration index; it breaks ties between ready nodes.
	Order int

	// DependsOn lists the products this node depends on.
	DependsOn []string

	// DependedOnBy lists the products that depend on this node.
	DependedOnBy []string

	deps       []int
	dependents []int
}

// addDependency records dep as a dependency, ignoring duplicates.
func (n *Node) addDependency(id string, idx int) {
	for _, d := range n.deps {
		if d == idx {
			return
		}
	}
	n.deps = append(n.deps, idx)
	n.DependsOn = append(n.DependsOn, id)
}

// addDependent records a dependent, ignoring duplicates.
func (n *Node) addDependent(id string, idx int) {
	for _, d := range n.dependents {
		if d == idx {
			return
		}
	}
	n.dependents = append(n.dependents, idx)
	n.DependedOnBy = append(n.DependedOnBy, id)
}
