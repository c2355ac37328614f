package manifest

import (
	"encoding/json"

	"github.com/Masterminds/semver/v3"
)

// ComponentType discriminates the kinds of installable components.
type ComponentType string

const (
	TypeAgent          ComponentType = "agent"
	TypeTool           ComponentType = "tool"
	TypePromptTemplate ComponentType = "prompt_template"
)

// ValidTypes contains all valid componentType values.
var ValidTypes = []ComponentType{TypeAgent, TypeTool, TypePromptTemplate}

// Dependency declares a requirement on another component.
type Dependency struct {
	Name              string `json:"name"`
	VersionConstraint string `json:"versionConstraint"`
}

// FileMapping maps a bundle-relative source path to an install destination.
type FileMapping struct {
	Src  string `json:"src"`
	Dest string `json:"dest"`
}

// Manifest describes one installable component. Unknown top-level fields
// are preserved in Extra for forward compatibility but otherwise ignored.
type Manifest struct {
	Name               string        `json:"name"`
	ComponentType      ComponentType `json:"componentType"`
	Version            string        `json:"version"`
	Description        string        `json:"description,omitempty"`
	Author             string        `json:"author,omitempty"`
	Tags               []string      `json:"tags,omitempty"`
	Dependencies       []Dependency  `json:"dependencies,omitempty"`
	MinLanguageVersion string        `json:"minLanguageVersion,omitempty"`
	Files              []FileMapping `json:"files,omitempty"`
	TemplateVariables  []string      `json:"templateVariables,omitempty"`
	PostInstallMessage string        `json:"postInstallMessage,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// knownFields are the top-level keys owned by the Manifest struct.
var knownFields = map[string]bool{
	"name":               true,
	"componentType":      true,
	"version":            true,
	"description":        true,
	"author":             true,
	"tags":               true,
	"dependencies":       true,
	"minLanguageVersion": true,
	"files":              true,
	"templateVariables":  true,
	"postInstallMessage": true,
}

// UnmarshalJSON decodes known fields into the struct and collects the
// remaining top-level keys into Extra.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	type alias Manifest
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range raw {
		if knownFields[k] {
			delete(raw, k)
		}
	}
	if len(raw) > 0 {
		a.Extra = raw
	}

	*m = Manifest(a)
	return nil
}

// MarshalJSON emits the known fields merged with any preserved extras.
func (m Manifest) MarshalJSON() ([]byte, error) {
	type alias Manifest
	base, err := json.Marshal(alias(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range m.Extra {
		if _, taken := merged[k]; !taken {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// SemVer parses the manifest version. Load guarantees it parses, so the
// error only matters for manifests constructed by hand.
func (m *Manifest) SemVer() (*semver.Version, error) {
	return parseVersion(m.Version)
}

// ID returns the canonical "name@version" identity of the manifest.
func (m *Manifest) ID() string {
	return m.Name + "@" + m.Version
}

// DeclaresVariable reports whether name is a declared template variable.
func (m *Manifest) DeclaresVariable(name string) bool {
	for _, v := range m.TemplateVariables {
		if v == name {
			return true
		}
	}
	return false
}
