package installer

import (
	"fmt"
	"strings"
)

// FileConflictError reports destination paths that already exist and are
// not overwritable under the active policy. Paths holds every conflicting
// destination found in the component's pre-pass, so one failure names all
// of them.
type FileConflictError struct {
	Paths []string
	// Managed notes conflicts whose paths the ledger already attributes
	// to this exact component version (an earlier completed install).
	Managed bool
}

func (e *FileConflictError) Error() string {
	reason := "not managed by any installed component"
	if e.Managed {
		reason = "already installed by this component version"
	}
	return fmt.Sprintf("file conflict at %s (%s); use force to overwrite",
		strings.Join(e.Paths, ", "), reason)
}

// UndeclaredVariableError reports placeholders referenced by a bundle
// file but missing from the manifest's templateVariables declaration.
type UndeclaredVariableError struct {
	Path      string
	Variables []string
}

func (e *UndeclaredVariableError) Error() string {
	return fmt.Sprintf("file %s references undeclared template variables: %s",
		e.Path, strings.Join(e.Variables, ", "))
}

// IOError wraps a failed filesystem operation during installation.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
