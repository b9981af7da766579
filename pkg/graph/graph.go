package graph

import (
	"container/heap"
	"fmt"

	"github.com/davidthor/catalogctl/pkg/errors"
)

// Graph is an arena of product nodes with index-based adjacency lists.
type Graph struct {
	nodes []*Node
	index map[string]int

	// order caches the full topological order once the graph is sealed.
	order []int
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{index: make(map[string]int)}
}

// AddNode adds a node. Nodes must be added in declaration order.
func (g *Graph) AddNode(id, group string) (*Node, error) {
	if _, exists := g.index[id]; exists {
		return nil, fmt.Errorf("node %s already exists", id)
	}
	n := &Node{ID: id, Group: group, Order: len(g.nodes)}
	g.index[id] = n.Order
	g.nodes = append(g.nodes, n)
	g.order = nil
	return n, nil
}

// AddEdge records that dependent depends on dependency.
func (g *Graph) AddEdge(dependentID, dependencyID string) error {
	di, ok := g.index[dependentID]
	if !ok {
		return fmt.Errorf("dependent node %s not found", dependentID)
	}
	pi, ok := g.index[dependencyID]
	if !ok {
		return fmt.Errorf("dependency node %s not found", dependencyID)
	}
	g.nodes[di].addDependency(dependencyID, pi)
	g.nodes[pi].addDependent(dependentID, di)
	g.order = nil
	return nil
}

// Node returns a node by ID.
func (g *Graph) Node(id string) (*Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.nodes[i], true
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// IDs returns all node IDs in declaration order.
func (g *Graph) IDs() []string {
	ids := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		ids[i] = n.ID
	}
	return ids
}

// FindCycle returns a dependency cycle as a path that starts and ends with
// the same node, or nil when the graph is acyclic. The traversal is an
// iterative depth-first search that tracks which nodes are on the stack.
func (g *Graph) FindCycle() []string {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make([]int, len(g.nodes))

	type frame struct {
		node int
		next int
	}

	for root := range g.nodes {
		if state[root] != unvisited {
			continue
		}
		stack := []frame{{node: root}}
		state[root] = onStack

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := g.nodes[top.node].deps
			if top.next >= len(deps) {
				state[top.node] = done
				stack = stack[:len(stack)-1]
				continue
			}
			next := deps[top.next]
			top.next++

			switch state[next] {
			case unvisited:
				state[next] = onStack
				stack = append(stack, frame{node: next})
			case onStack:
				var path []string
				for i := range stack {
					if stack[i].node == next {
						for _, f := range stack[i:] {
							path = append(path, g.nodes[f.node].ID)
						}
						break
					}
				}
				return append(path, g.nodes[next].ID)
			}
		}
	}
	return nil
}

// Validate fails with a CycleError when the graph contains a cycle.
func (g *Graph) Validate() error {
	if cycle := g.FindCycle(); cycle != nil {
		return errors.CycleError(cycle)
	}
	_, err := g.fullOrder()
	return err
}

// fullOrder runs Kahn's algorithm over the whole graph, always taking the
// ready node with the lowest declaration index.
func (g *Graph) fullOrder() ([]int, error) {
	if g.order != nil {
		return g.order, nil
	}

	inDegree := make([]int, len(g.nodes))
	ready := &orderQueue{}
	for i, n := range g.nodes {
		inDegree[i] = len(n.deps)
		if inDegree[i] == 0 {
			heap.Push(ready, i)
		}
	}

	order := make([]int, 0, len(g.nodes))
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		order = append(order, i)
		for _, d := range g.nodes[i].dependents {
			inDegree[d]--
			if inDegree[d] == 0 {
				heap.Push(ready, d)
			}
		}
	}

	if len(order) != len(g.nodes) {
		if cycle := g.FindCycle(); cycle != nil {
			return nil, errors.CycleError(cycle)
		}
		return nil, fmt.Errorf("dependency cycle detected")
	}
	g.order = order
	return order, nil
}

// TopologicalOrder returns the IDs in subset ordered so that every node
// comes after all of its transitive dependencies. Ties are broken by
// declaration order. A nil subset means every node.
func (g *Graph) TopologicalOrder(subset []string) ([]string, error) {
	order, err := g.fullOrder()
	if err != nil {
		return nil, err
	}
	include, err := g.membership(subset)
	if err != nil {
		return nil, err
	}

	result := make([]string, 0, len(order))
	for _, i := range order {
		if include == nil || include[i] {
			result = append(result, g.nodes[i].ID)
		}
	}
	return result, nil
}

// ReverseTopologicalOrder returns TopologicalOrder reversed, so dependents
// come before their dependencies.
func (g *Graph) ReverseTopologicalOrder(subset []string) ([]string, error) {
	sorted, err := g.TopologicalOrder(subset)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}
	return sorted, nil
}

// Levels groups subset into batches: every node's transitive dependencies
// sit in earlier batches, so the nodes within a batch are independent.
// Batches are in declaration order internally.
func (g *Graph) Levels(subset []string) ([][]string, error) {
	order, err := g.fullOrder()
	if err != nil {
		return nil, err
	}
	include, err := g.membership(subset)
	if err != nil {
		return nil, err
	}

	depth := make([]int, len(g.nodes))
	maxDepth := 0
	for _, i := range order {
		for _, d := range g.nodes[i].deps {
			if depth[d]+1 > depth[i] {
				depth[i] = depth[d] + 1
			}
		}
		if depth[i] > maxDepth {
			maxDepth = depth[i]
		}
	}

	buckets := make([][]string, maxDepth+1)
	for i, n := range g.nodes {
		if include == nil || include[i] {
			buckets[depth[i]] = append(buckets[depth[i]], n.ID)
		}
	}

	var levels [][]string
	for _, b := range buckets {
		if len(b) > 0 {
			levels = append(levels, b)
		}
	}
	return levels, nil
}

// TransitiveDependents returns every node that depends, directly or
// transitively, on any of ids. The seeds themselves are excluded. The
// result is in declaration order.
func (g *Graph) TransitiveDependents(ids ...string) ([]string, error) {
	return g.reach(ids, func(n *Node) []int { return n.dependents })
}

// TransitiveDependencies returns every node that any of ids depends on,
// directly or transitively. The seeds themselves are excluded.
func (g *Graph) TransitiveDependencies(ids ...string) ([]string, error) {
	return g.reach(ids, func(n *Node) []int { return n.deps })
}

// WithDependents returns ids plus all of their transitive dependents, in
// declaration order.
func (g *Graph) WithDependents(ids ...string) ([]string, error) {
	dependents, err := g.TransitiveDependents(ids...)
	if err != nil {
		return nil, err
	}
	include, err := g.membership(append(append([]string{}, ids...), dependents...))
	if err != nil {
		return nil, err
	}
	return g.collect(include), nil
}

// reach performs a breadth-first traversal from the seeds along edges.
func (g *Graph) reach(ids []string, edges func(*Node) []int) ([]string, error) {
	seeds, err := g.membership(ids)
	if err != nil {
		return nil, err
	}
	visited := make([]bool, len(g.nodes))
	queue := make([]int, 0, len(ids))
	for i := range g.nodes {
		if seeds != nil && seeds[i] {
			queue = append(queue, i)
		}
	}

	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		for _, next := range edges(g.nodes[i]) {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}

	for i := range visited {
		if seeds != nil && seeds[i] {
			visited[i] = false
		}
	}
	return g.collect(visited), nil
}

// membership converts IDs to an index set. A nil subset returns nil,
// meaning "all nodes".
func (g *Graph) membership(ids []string) ([]bool, error) {
	if ids == nil {
		return nil, nil
	}
	set := make([]bool, len(g.nodes))
	for _, id := range ids {
		i, ok := g.index[id]
		if !ok {
			return nil, errors.NotFoundError("product", id)
		}
		set[i] = true
	}
	return set, nil
}

func (g *Graph) collect(set []bool) []string {
	var ids []string
	for i, in := range set {
		if in {
			ids = append(ids, g.nodes[i].ID)
		}
	}
	return ids
}

// orderQueue is a min-heap of node indices.
type orderQueue []int

func (q orderQueue) Len() int            { return len(q) }
func (q orderQueue) Less(i, j int) bool  { return q[i] < q[j] }
func (q orderQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *orderQueue) Push(x interface{}) { *q = append(*q, x.(int)) }
func (q *orderQueue) Pop() interface{} {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}
