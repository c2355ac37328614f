// Package constraint implements version-range expressions over semantic
// versions: parsing, satisfaction checks, and range intersection.
//
// Supported operators: ==, >=, <=, >, <, ^ (caret), ~ (tilde). A
// space-separated expression is a conjunction of its parts
// (e.g., ">=1.2.0 <2.0.0"). A bare version means exact match.
package constraint

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ParseError reports an unparseable constraint expression.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid version constraint %q: %s", e.Input, e.Reason)
}

// bound is one endpoint of a version interval. A nil bound is unbounded.
type bound struct {
	version   *semver.Version
	inclusive bool
}

// Range is a contiguous version interval produced by intersecting the
// parts of a constraint expression. The zero value matches any version.
type Range struct {
	lower *bound
	upper *bound
	raw   string
}

// Any returns a range matching every version.
func Any() *Range {
	return &Range{raw: "*"}
}

// Parse parses a constraint expression into a Range. The empty string
// and "*" match any version.
func Parse(input string) (*Range, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" || trimmed == "*" {
		return &Range{raw: "*"}, nil
	}

	result := &Range{raw: trimmed}
	for _, part := range strings.Fields(trimmed) {
		r, err := parsePart(input, part)
		if err != nil {
			return nil, err
		}
		result = result.intersect(r)
	}
	result.raw = trimmed
	return result, nil
}

// parsePart parses a single operator+version token into a Range.
func parsePart(input, part string) (*Range, error) {
	op := "=="
	rest := part

	switch {
	case strings.HasPrefix(part, "=="):
		rest = part[2:]
	case strings.HasPrefix(part, ">="), strings.HasPrefix(part, "<="):
		op = part[:2]
		rest = part[2:]
	case strings.HasPrefix(part, ">"), strings.HasPrefix(part, "<"),
		strings.HasPrefix(part, "^"), strings.HasPrefix(part, "~"):
		op = part[:1]
		rest = part[1:]
	}

	v, err := parseVersion(rest)
	if err != nil {
		return nil, &ParseError{Input: input, Reason: fmt.Sprintf("bad version %q: %v", rest, err)}
	}

	switch op {
	case "==":
		return &Range{lower: &bound{v, true}, upper: &bound{v, true}}, nil
	case ">=":
		return &Range{lower: &bound{v, true}}, nil
	case "<=":
		return &Range{upper: &bound{v, true}}, nil
	case ">":
		return &Range{lower: &bound{v, false}}, nil
	case "<":
		return &Range{upper: &bound{v, false}}, nil
	case "^":
		return &Range{lower: &bound{v, true}, upper: &bound{caretUpper(v), false}}, nil
	case "~":
		return &Range{lower: &bound{v, true}, upper: &bound{tildeUpper(v, rest), false}}, nil
	}
	return nil, &ParseError{Input: input, Reason: fmt.Sprintf("unknown operator in %q", part)}
}

// caretUpper computes the exclusive upper bound for ^v. The leftmost
// non-zero component is pinned (npm zero-major rule).
func caretUpper(v *semver.Version) *semver.Version {
	switch {
	case v.Major() > 0:
		return semver.New(v.Major()+1, 0, 0, "", "")
	case v.Minor() > 0:
		return semver.New(0, v.Minor()+1, 0, "", "")
	default:
		return semver.New(0, 0, v.Patch()+1, "", "")
	}
}

// tildeUpper computes the exclusive upper bound for ~v. With a bare major
// ("~1") the whole major is allowed; otherwise the minor is pinned.
func tildeUpper(v *semver.Version, literal string) *semver.Version {
	if !strings.ContainsRune(literal, '.') {
		return semver.New(v.Major()+1, 0, 0, "", "")
	}
	return semver.New(v.Major(), v.Minor()+1, 0, "", "")
}

// parseVersion strips a leading "v" and parses the version string.
func parseVersion(s string) (*semver.Version, error) {
	return semver.NewVersion(strings.TrimPrefix(s, "v"))
}

// Check reports whether v falls inside the range.
func (r *Range) Check(v *semver.Version) bool {
	if r.lower != nil {
		cmp := v.Compare(r.lower.version)
		if cmp < 0 || (cmp == 0 && !r.lower.inclusive) {
			return false
		}
	}
	if r.upper != nil {
		cmp := v.Compare(r.upper.version)
		if cmp > 0 || (cmp == 0 && !r.upper.inclusive) {
			return false
		}
	}
	return true
}

// CheckString parses s as a version and checks it against the range.
func (r *Range) CheckString(s string) (bool, error) {
	v, err := parseVersion(s)
	if err != nil {
		return false, err
	}
	return r.Check(v), nil
}

// Intersect returns the intersection of r and other. The result keeps a
// canonical rendering of both inputs as its raw form.
func (r *Range) Intersect(other *Range) *Range {
	out := r.intersect(other)
	out.raw = joinRaw(r.raw, other.raw)
	return out
}

func (r *Range) intersect(other *Range) *Range {
	out := &Range{lower: r.lower, upper: r.upper}
	if tighterLower(other.lower, out.lower) {
		out.lower = other.lower
	}
	if tighterUpper(other.upper, out.upper) {
		out.upper = other.upper
	}
	return out
}

// tighterLower reports whether candidate is a stricter lower bound than current.
func tighterLower(candidate, current *bound) bool {
	if candidate == nil {
		return false
	}
	if current == nil {
		return true
	}
	cmp := candidate.version.Compare(current.version)
	return cmp > 0 || (cmp == 0 && !candidate.inclusive && current.inclusive)
}

// tighterUpper reports whether candidate is a stricter upper bound than current.
func tighterUpper(candidate, current *bound) bool {
	if candidate == nil {
		return false
	}
	if current == nil {
		return true
	}
	cmp := candidate.version.Compare(current.version)
	return cmp < 0 || (cmp == 0 && !candidate.inclusive && current.inclusive)
}

// IsEmpty reports whether no version can satisfy the range.
func (r *Range) IsEmpty() bool {
	if r.lower == nil || r.upper == nil {
		return false
	}
	cmp := r.lower.version.Compare(r.upper.version)
	if cmp > 0 {
		return true
	}
	if cmp == 0 {
		return !(r.lower.inclusive && r.upper.inclusive)
	}
	return false
}

// String returns the original expression when the range came from a single
// Parse call, or the joined expressions after intersection.
func (r *Range) String() string {
	if r.raw != "" {
		return r.raw
	}
	return "*"
}

func joinRaw(a, b string) string {
	switch {
	case a == "" || a == "*":
		return b
	case b == "" || b == "*":
		return a
	default:
		return a + " " + b
	}
}
