// Package manifest parses and validates component manifests. A manifest
// is a JSON document describing one installable component: its identity,
// dependencies, file mappings, and template variables. Parsing fails fast
// on malformed input; structural diagnostics come from an embedded JSON
// Schema, field semantics (semver, constraints, path safety) from Load.
package manifest
