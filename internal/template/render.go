// Package template substitutes {{identifier}} placeholders in component
// file contents with caller-supplied values. Rendering is a pure function:
// no I/O, no mutation of the variable map.
package template

import (
	"regexp"
	"strings"
)

// placeholderRe matches {{identifier}} placeholders. Identifiers follow
// the usual word rules; anything else between braces is left untouched.
var placeholderRe = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// Error reports every distinct variable referenced by the content but
// absent from the supplied values, so a caller can fix all of them in one
// pass rather than iterating.
type Error struct {
	Missing []string
}

func (e *Error) Error() string {
	return "missing template variables: " + strings.Join(e.Missing, ", ")
}

// Render replaces every placeholder in content with its value from vars.
// If any referenced variable has no value, it returns an Error listing
// all distinct missing names in order of first appearance. Supplied but
// unreferenced variables are not an error here.
func Render(content string, vars map[string]string) (string, error) {
	var missing []string
	seen := make(map[string]bool)

	out := placeholderRe.ReplaceAllStringFunc(content, func(match string) string {
		name := match[2 : len(match)-2]
		if value, ok := vars[name]; ok {
			return value
		}
		if !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
		return match
	})

	if len(missing) > 0 {
		return "", &Error{Missing: missing}
	}
	return out, nil
}

// Variables returns the distinct placeholder identifiers referenced by
// content, in order of first appearance.
func Variables(content string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, match := range placeholderRe.FindAllStringSubmatch(content, -1) {
		if !seen[match[1]] {
			seen[match[1]] = true
			names = append(names, match[1])
		}
	}
	return names
}
