package registry

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/agentpack-labs/agentpack/internal/constraint"
	"github.com/agentpack-labs/agentpack/internal/manifest"
)

// manifestFileName is the manifest file inside each version directory.
const manifestFileName = "manifest.json"

// bundleDirName holds the component's raw files inside a version directory.
const bundleDirName = "files"

// DirClient serves manifests and bundles from a local source tree laid
// out as <root>/<name>/<version>/manifest.json with file contents under
// <root>/<name>/<version>/files/.
type DirClient struct {
	root string
}

// NewDirClient creates a client over the given source root.
func NewDirClient(root string) *DirClient {
	return &DirClient{root: root}
}

// FetchManifest lists the version directories of name, picks the highest
// version satisfying rng, and loads its manifest.
func (c *DirClient) FetchManifest(ctx context.Context, name string, rng *constraint.Range) (*manifest.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Name: name, Constraint: rng.String(), Err: err}
	}

	versions, err := c.listVersions(name)
	if err != nil {
		return nil, &FetchError{Name: name, Constraint: rng.String(), Err: err}
	}

	best := pickHighest(versions, rng)
	if best == nil {
		return nil, &FetchError{
			Name:       name,
			Constraint: rng.String(),
			Err:        fmt.Errorf("no version among %d candidates satisfies the constraint", len(versions)),
		}
	}

	raw, err := os.ReadFile(filepath.Join(c.root, name, best.Original(), manifestFileName))
	if err != nil {
		return nil, &FetchError{Name: name, Constraint: rng.String(), Err: err}
	}

	m, err := manifest.Load(raw)
	if err != nil {
		return nil, &FetchError{Name: name, Constraint: rng.String(), Err: err}
	}
	return m, nil
}

// FetchBundle reads every regular file under the version's files/
// directory, keyed by bundle-relative slash path.
func (c *DirClient) FetchBundle(ctx context.Context, name, version string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Name: name, Err: err}
	}

	bundleDir := filepath.Join(c.root, name, version, bundleDirName)
	files := make(map[string][]byte)

	err := filepath.WalkDir(bundleDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(bundleDir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil {
		return nil, &FetchError{Name: name, Err: fmt.Errorf("reading bundle %s@%s: %w", name, version, err)}
	}

	return files, nil
}

// listVersions enumerates the version directories of a component. Entries
// that do not parse as versions are skipped.
func (c *DirClient) listVersions(name string) ([]*semver.Version, error) {
	entries, err := os.ReadDir(filepath.Join(c.root, name))
	if err != nil {
		return nil, fmt.Errorf("component not found in registry: %w", err)
	}

	var versions []*semver.Version
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, err := semver.NewVersion(e.Name())
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("component has no version directories")
	}
	return versions, nil
}

// pickHighest returns the highest version satisfying rng, or nil.
func pickHighest(versions []*semver.Version, rng *constraint.Range) *semver.Version {
	sort.Sort(semver.Collection(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		if rng.Check(versions[i]) {
			return versions[i]
		}
	}
	return nil
}
