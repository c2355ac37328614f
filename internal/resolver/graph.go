package resolver

import "sort"

// depGraph is the resolved dependency graph restricted to components
// reachable from the roots. Edges point from a component to the
// components it depends on.
type depGraph struct {
	nodes      []string
	deps       map[string][]string
	orderIndex map[string]int
}

// buildGraph collects the nodes reachable from the roots over the
// selected manifests' dependency edges. Components orphaned by a
// constraint-narrowing refetch drop out here.
func buildGraph(st *session) *depGraph {
	g := &depGraph{
		deps:       make(map[string][]string),
		orderIndex: st.orderIndex,
	}

	var rootNames []string
	for name := range st.roots {
		rootNames = append(rootNames, name)
	}
	sortByFirstRequested(rootNames, g.orderIndex)

	visited := make(map[string]bool)
	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		g.nodes = append(g.nodes, name)

		m := st.selected[name]
		if m == nil {
			return
		}
		for _, dep := range m.Dependencies {
			g.deps[name] = append(g.deps[name], dep.Name)
			visit(dep.Name)
		}
	}
	for _, name := range rootNames {
		visit(name)
	}

	sortByFirstRequested(g.nodes, g.orderIndex)
	return g
}

// findCycle runs a DFS with an explicit recursion stack and returns the
// first cycle found as a path whose first element repeats at the end, or
// nil if the graph is acyclic. Nodes are visited in first-requested order
// so the reported cycle is deterministic.
func (g *depGraph) findCycle() []string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(g.nodes))
	var stack []string

	var dfs func(name string) []string
	dfs = func(name string) []string {
		state[name] = inStack
		stack = append(stack, name)

		for _, dep := range g.deps[name] {
			switch state[dep] {
			case inStack:
				// Slice the stack from the first occurrence of dep and
				// close the loop.
				for i, n := range stack {
					if n == dep {
						cycle := append([]string{}, stack[i:]...)
						return append(cycle, dep)
					}
				}
			case unvisited:
				if cycle := dfs(dep); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[name] = done
		return nil
	}

	for _, name := range g.nodes {
		if state[name] == unvisited {
			if cycle := dfs(name); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// topoOrder computes the install order with Kahn's algorithm: a component
// becomes ready once all of its dependencies are emitted, and among ready
// components the first-requested one (then lexicographically smallest)
// goes next, so identical inputs always produce identical plans. Must be
// called on an acyclic graph.
func (g *depGraph) topoOrder() []string {
	remaining := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string)
	for _, name := range g.nodes {
		remaining[name] = len(g.deps[name])
		for _, dep := range g.deps[name] {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for _, name := range g.nodes {
		if remaining[name] == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		next := 0
		for i := 1; i < len(ready); i++ {
			if g.before(ready[i], ready[next]) {
				next = i
			}
		}
		name := ready[next]
		ready = append(ready[:next], ready[next+1:]...)
		order = append(order, name)

		for _, dependent := range dependents[name] {
			remaining[dependent]--
			if remaining[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}
	return order
}

// before is the deterministic tie-break: first-requested index, then name.
func (g *depGraph) before(a, b string) bool {
	ia, ib := g.orderIndex[a], g.orderIndex[b]
	if ia != ib {
		return ia < ib
	}
	return a < b
}

func sortByFirstRequested(names []string, orderIndex map[string]int) {
	sort.Slice(names, func(i, j int) bool {
		ii, ij := orderIndex[names[i]], orderIndex[names[j]]
		if ii != ij {
			return ii < ij
		}
		return names[i] < names[j]
	})
}
