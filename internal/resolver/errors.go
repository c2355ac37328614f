package resolver

import (
	"fmt"
	"strings"
)

// ConflictError reports an empty constraint intersection for a component,
// naming every requester and the constraint it contributed.
type ConflictError struct {
	Name        string
	Requesters  []string
	Constraints []string
}

func (e *ConflictError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "conflicting version constraints for %s:", e.Name)
	for i, req := range e.Requesters {
		expr := "*"
		if i < len(e.Constraints) {
			expr = e.Constraints[i]
		}
		fmt.Fprintf(&b, " %s requires %q;", req, expr)
	}
	return strings.TrimSuffix(b.String(), ";")
}

// CycleError reports a dependency cycle. Path lists the components in
// traversal order, with the first repeated at the end (e.g., A, B, A).
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}
