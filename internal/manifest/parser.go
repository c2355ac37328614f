package manifest

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/agentpack-labs/agentpack/internal/constraint"
)

// Error describes a single invalid or missing manifest field. Field uses
// JSON-path style addressing (e.g., "dependencies[1].versionConstraint").
type Error struct {
	Field string
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid manifest: field %s: %s", e.Field, e.Msg)
}

// Load parses raw manifest bytes and validates the manifest's
// self-consistency. It does not inspect file contents; template-variable
// usage inside files is checked against the manifest at render time,
// since bundles are fetched separately.
func Load(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &Error{Field: "(document)", Msg: err.Error()}
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if m.Name == "" {
		return &Error{Field: "name", Msg: "required"}
	}
	if m.ComponentType == "" {
		return &Error{Field: "componentType", Msg: "required"}
	}
	if !validType(m.ComponentType) {
		return &Error{Field: "componentType", Msg: fmt.Sprintf("unknown value %q", m.ComponentType)}
	}
	if m.Version == "" {
		return &Error{Field: "version", Msg: "required"}
	}
	if _, err := parseVersion(m.Version); err != nil {
		return &Error{Field: "version", Msg: fmt.Sprintf("not a semantic version: %q", m.Version)}
	}

	for i, dep := range m.Dependencies {
		if dep.Name == "" {
			return &Error{Field: fmt.Sprintf("dependencies[%d].name", i), Msg: "required"}
		}
		if _, err := constraint.Parse(dep.VersionConstraint); err != nil {
			return &Error{
				Field: fmt.Sprintf("dependencies[%d].versionConstraint", i),
				Msg:   err.Error(),
			}
		}
	}

	for i, f := range m.Files {
		if f.Src == "" {
			return &Error{Field: fmt.Sprintf("files[%d].src", i), Msg: "required"}
		}
		if f.Dest == "" {
			return &Error{Field: fmt.Sprintf("files[%d].dest", i), Msg: "required"}
		}
		if err := checkDest(f.Dest); err != nil {
			return &Error{Field: fmt.Sprintf("files[%d].dest", i), Msg: err.Error()}
		}
	}

	return nil
}

// checkDest rejects destination paths that could escape the target root.
func checkDest(dest string) error {
	if path.IsAbs(dest) || strings.HasPrefix(dest, "\\") || hasDriveLetter(dest) {
		return fmt.Errorf("must be a relative path, got %q", dest)
	}
	for _, seg := range strings.Split(dest, "/") {
		if seg == ".." {
			return fmt.Errorf("must not contain %q segments, got %q", "..", dest)
		}
	}
	return nil
}

// hasDriveLetter catches Windows-absolute destinations like "C:\x" that
// path.IsAbs does not.
func hasDriveLetter(p string) bool {
	return len(p) >= 2 && p[1] == ':' &&
		(('a' <= p[0] && p[0] <= 'z') || ('A' <= p[0] && p[0] <= 'Z'))
}

func validType(t ComponentType) bool {
	for _, v := range ValidTypes {
		if t == v {
			return true
		}
	}
	return false
}

// parseVersion strips a leading "v" and parses the version string.
func parseVersion(s string) (*semver.Version, error) {
	return semver.NewVersion(strings.TrimPrefix(s, "v"))
}
