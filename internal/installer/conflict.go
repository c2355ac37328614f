package installer

import "github.com/agentpack-labs/agentpack/internal/resolver"

// conflictGroups partitions plan components into groups that declare
// overlapping dest paths, using union-find over plan indices. Components
// in the same group must never write concurrently; the installer holds a
// per-group lock while executing a member.
func conflictGroups(components []*resolver.Component) []int {
	parent := make([]int, len(components))
	for i := range parent {
		parent[i] = i
	}

	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	firstByDest := make(map[string]int)
	for i, c := range components {
		for _, f := range c.Manifest.Files {
			if j, seen := firstByDest[f.Dest]; seen {
				union(j, i)
			} else {
				firstByDest[f.Dest] = i
			}
		}
	}

	groups := make([]int, len(components))
	for i := range components {
		groups[i] = find(i)
	}
	return groups
}
