// dependency_graph.go: directed dependency graph with deterministic topological ordering
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

// DependencyGraph is a directed graph over module versions where an edge
// from A to B means A depends on B.
//
// Nodes remember their insertion order so that CalculateLoadOrder is
// deterministic: whenever several modules are ready at once, the one added
// first is emitted first.
//
// Example usage:
//
//	graph := NewDependencyGraph()
//	graph.AddNode(app)
//	graph.AddNode(core)
//	graph.AddEdge(app, core)
//	order, err := graph.CalculateLoadOrder() // core, app
type DependencyGraph struct {
	nodes []*ModuleDefinition
	index map[ModuleKey]int
	deps  map[ModuleKey][]ModuleKey
}

// NewDependencyGraph creates an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		index: make(map[ModuleKey]int),
		deps:  make(map[ModuleKey][]ModuleKey),
	}
}

// AddNode inserts def if it is not present yet.
func (g *DependencyGraph) AddNode(def *ModuleDefinition) {
	key := def.Key()
	if _, ok := g.index[key]; ok {
		return
	}
	g.index[key] = len(g.nodes)
	g.nodes = append(g.nodes, def)
}

// AddEdge records that from depends on to. Both nodes are added if needed.
func (g *DependencyGraph) AddEdge(from, to *ModuleDefinition) {
	g.AddNode(from)
	g.AddNode(to)
	fk, tk := from.Key(), to.Key()
	for _, existing := range g.deps[fk] {
		if existing == tk {
			return
		}
	}
	g.deps[fk] = append(g.deps[fk], tk)
}

// Contains reports whether key is a node.
func (g *DependencyGraph) Contains(key ModuleKey) bool {
	_, ok := g.index[key]
	return ok
}

// Len returns the number of nodes.
func (g *DependencyGraph) Len() int { return len(g.nodes) }

// Nodes returns the nodes in insertion order.
func (g *DependencyGraph) Nodes() []*ModuleDefinition {
	out := make([]*ModuleDefinition, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// GetDependencies returns the direct dependencies of key.
func (g *DependencyGraph) GetDependencies(key ModuleKey) []ModuleKey {
	out := make([]ModuleKey, len(g.deps[key]))
	copy(out, g.deps[key])
	return out
}

// GetDependents returns the nodes that depend directly on key.
func (g *DependencyGraph) GetDependents(key ModuleKey) []ModuleKey {
	var out []ModuleKey
	for _, node := range g.nodes {
		for _, dep := range g.deps[node.Key()] {
			if dep == key {
				out = append(out, node.Key())
				break
			}
		}
	}
	return out
}

// CalculateLoadOrder sorts the nodes so every module follows all of its
// dependencies, using Kahn's algorithm. A cycle fails with
// ErrCodeCyclicDependency naming one edge of the cycle.
func (g *DependencyGraph) CalculateLoadOrder() ([]*ModuleDefinition, error) {
	remaining := g.calculateInDegrees()
	dependents := make(map[ModuleKey][]ModuleKey, len(g.nodes))
	for _, node := range g.nodes {
		for _, dep := range g.deps[node.Key()] {
			dependents[dep] = append(dependents[dep], node.Key())
		}
	}

	emitted := make([]bool, len(g.nodes))
	order := make([]*ModuleDefinition, 0, len(g.nodes))
	for len(order) < len(g.nodes) {
		next := -1
		for i, node := range g.nodes {
			if !emitted[i] && remaining[node.Key()] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			from, to := g.findCycleEdge(emitted)
			return nil, NewCyclicDependencyError(from, to)
		}

		emitted[next] = true
		current := g.nodes[next]
		order = append(order, current)
		for _, dependent := range dependents[current.Key()] {
			remaining[dependent]--
		}
	}
	return order, nil
}

// calculateInDegrees counts, for each node, the dependencies not yet emitted.
func (g *DependencyGraph) calculateInDegrees() map[ModuleKey]int {
	inDegree := make(map[ModuleKey]int, len(g.nodes))
	for _, node := range g.nodes {
		inDegree[node.Key()] = len(g.deps[node.Key()])
	}
	return inDegree
}

// findCycleEdge walks dependencies among the nodes Kahn could not emit.
// Every such node still has an unemitted dependency, so the walk must
// revisit a node; the edge that closes the loop is returned.
func (g *DependencyGraph) findCycleEdge(emitted []bool) (ModuleKey, ModuleKey) {
	var start ModuleKey
	for i, node := range g.nodes {
		if !emitted[i] {
			start = node.Key()
			break
		}
	}

	visited := map[ModuleKey]bool{start: true}
	current := start
	for {
		var next ModuleKey
		for _, dep := range g.deps[current] {
			if !emitted[g.index[dep]] {
				next = dep
				break
			}
		}
		if visited[next] {
			return current, next
		}
		visited[next] = true
		current = next
	}
}
