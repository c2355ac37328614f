// Package registry supplies component manifests and file bundles by name
// and version. Two client implementations exist: a directory-backed client
// for local source trees and an HTTP client for remote registries. A
// bounded memoizing wrapper is available for resolution sessions.
package registry

import (
	"context"
	"fmt"

	"github.com/agentpack-labs/agentpack/internal/constraint"
	"github.com/agentpack-labs/agentpack/internal/manifest"
)

// Client fetches manifests and bundles. Implementations are read-only and
// side-effect free from the caller's perspective; retry and caching policy
// belong to the implementation, not the resolver.
type Client interface {
	// FetchManifest returns the manifest of the highest version of name
	// satisfying rng, or a *FetchError if no version does.
	FetchManifest(ctx context.Context, name string, rng *constraint.Range) (*manifest.Manifest, error)

	// FetchBundle returns the raw file contents of name@version keyed by
	// bundle-relative path.
	FetchBundle(ctx context.Context, name, version string) (map[string][]byte, error)
}

// FetchError reports a failed registry fetch: the component was unknown,
// no version satisfied the constraint, or the transport failed.
type FetchError struct {
	Name       string
	Constraint string
	Err        error
}

func (e *FetchError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("registry fetch for %s (constraint %s): %v", e.Name, e.Constraint, e.Err)
	}
	return fmt.Sprintf("registry fetch for %s: %v", e.Name, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
