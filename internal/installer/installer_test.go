package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpack-labs/agentpack/internal/constraint"
	"github.com/agentpack-labs/agentpack/internal/manifest"
	"github.com/agentpack-labs/agentpack/internal/resolver"
)

// fakeRegistry serves manifests and bundles from memory.
type fakeRegistry struct {
	manifests map[string]map[string]*manifest.Manifest
	bundles   map[string]map[string][]byte // name@version -> src -> content
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		manifests: make(map[string]map[string]*manifest.Manifest),
		bundles:   make(map[string]map[string][]byte),
	}
}

func (f *fakeRegistry) add(m *manifest.Manifest, bundle map[string]string) {
	if f.manifests[m.Name] == nil {
		f.manifests[m.Name] = make(map[string]*manifest.Manifest)
	}
	f.manifests[m.Name][m.Version] = m

	files := make(map[string][]byte, len(bundle))
	for src, content := range bundle {
		files[src] = []byte(content)
	}
	f.bundles[m.ID()] = files
}

func (f *fakeRegistry) FetchManifest(ctx context.Context, name string, rng *constraint.Range) (*manifest.Manifest, error) {
	byVersion, ok := f.manifests[name]
	if !ok {
		return nil, fmt.Errorf("unknown component %s", name)
	}
	var versions []*semver.Version
	for vs := range byVersion {
		versions = append(versions, semver.MustParse(vs))
	}
	sort.Sort(semver.Collection(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		if rng.Check(versions[i]) {
			return byVersion[versions[i].Original()], nil
		}
	}
	return nil, fmt.Errorf("no satisfying version of %s", name)
}

func (f *fakeRegistry) FetchBundle(ctx context.Context, name, version string) (map[string][]byte, error) {
	bundle, ok := f.bundles[name+"@"+version]
	if !ok {
		return nil, fmt.Errorf("no bundle for %s@%s", name, version)
	}
	return bundle, nil
}

func mkManifest(name, version string, files []manifest.FileMapping, tmplVars []string, deps ...manifest.Dependency) *manifest.Manifest {
	return &manifest.Manifest{
		Name:              name,
		ComponentType:     manifest.TypeAgent,
		Version:           version,
		Files:             files,
		TemplateVariables: tmplVars,
		Dependencies:      deps,
	}
}

func planOf(ms ...*manifest.Manifest) *resolver.Plan {
	plan := &resolver.Plan{}
	for _, m := range ms {
		plan.Components = append(plan.Components, &resolver.Component{Manifest: m, RequestedDirectly: true})
	}
	return plan
}

func newInstaller(reg *fakeRegistry) *Installer {
	return New(reg, zerolog.Nop(), 2)
}

func resultFor(t *testing.T, report *Report, name string) *ComponentResult {
	t.Helper()
	for i := range report.Results {
		if report.Results[i].Name == name {
			return &report.Results[i]
		}
	}
	t.Fatalf("no result for %s", name)
	return nil
}

func TestInstall_EndToEnd(t *testing.T) {
	reg := newFakeRegistry()
	a := mkManifest("A", "1.0.0",
		[]manifest.FileMapping{{Src: "a.txt", Dest: "a.txt"}},
		[]string{"greeting"})
	b := mkManifest("B", "1.0.0",
		[]manifest.FileMapping{{Src: "b.txt", Dest: "b.txt"}},
		nil,
		manifest.Dependency{Name: "A", VersionConstraint: ">=1.0.0"})
	reg.add(a, map[string]string{"a.txt": "{{greeting}}"})
	reg.add(b, map[string]string{"b.txt": "plain content"})

	plan, err := resolver.New(reg, zerolog.Nop(), 2).Resolve(context.Background(),
		[]resolver.ComponentRequest{{Name: "B", VersionConstraint: ">=1.0.0"}})
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, plan.Names())

	target := t.TempDir()
	vars := map[string]map[string]string{"A": {"greeting": "hi"}, "B": {}}

	report, err := newInstaller(reg).Install(context.Background(), plan, target, vars, Policy{})
	require.NoError(t, err)
	require.NotEmpty(t, report.RunID)

	aContent, err := os.ReadFile(filepath.Join(target, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(aContent))

	bContent, err := os.ReadFile(filepath.Join(target, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "plain content", string(bContent))

	require.Len(t, report.Ledger, 2)
	assert.Equal(t, "A", report.Ledger[0].Name)
	assert.Equal(t, "B", report.Ledger[1].Name)
	assert.False(t, report.Ledger[0].RequestedDirectly)
	assert.True(t, report.Ledger[1].RequestedDirectly)
	assert.Equal(t, StatusInstalled, resultFor(t, report, "A").Status)
	assert.Equal(t, StatusInstalled, resultFor(t, report, "B").Status)
}

func TestInstall_AtomicRollback(t *testing.T) {
	reg := newFakeRegistry()
	m := mkManifest("multi", "1.0.0", []manifest.FileMapping{
		{Src: "f1.txt", Dest: "f1.txt"},
		{Src: "f2.txt", Dest: "f2.txt"},
		{Src: "f3.txt", Dest: "blocked/f3.txt"},
	}, nil)
	reg.add(m, map[string]string{"f1.txt": "one", "f2.txt": "two", "f3.txt": "three"})

	target := t.TempDir()
	// A regular file where the third write needs a directory forces the
	// failure after two files are already on disk.
	require.NoError(t, os.WriteFile(filepath.Join(target, "blocked"), []byte("wall"), 0o644))

	report, err := newInstaller(reg).Install(context.Background(), planOf(m), target, nil, Policy{})
	require.NoError(t, err)

	res := resultFor(t, report, "multi")
	require.Equal(t, StatusFailed, res.Status)
	var ioErr *IOError
	assert.ErrorAs(t, res.Err, &ioErr)

	assert.NoFileExists(t, filepath.Join(target, "f1.txt"))
	assert.NoFileExists(t, filepath.Join(target, "f2.txt"))
	assert.NoFileExists(t, filepath.Join(target, "blocked", "f3.txt"))
	assert.Empty(t, report.Ledger)
}

func TestInstall_IdempotentConflict(t *testing.T) {
	reg := newFakeRegistry()
	m := mkManifest("A", "1.0.0", []manifest.FileMapping{
		{Src: "x.txt", Dest: "x.txt"},
		{Src: "y.txt", Dest: "sub/y.txt"},
	}, nil)
	reg.add(m, map[string]string{"x.txt": "xx", "y.txt": "yy"})

	target := t.TempDir()
	ins := newInstaller(reg)

	first, err := ins.Install(context.Background(), planOf(m), target, nil, Policy{})
	require.NoError(t, err)
	require.Equal(t, StatusInstalled, resultFor(t, first, "A").Status)
	firstChecksums := resultFor(t, first, "A").Files

	second, err := ins.Install(context.Background(), planOf(m), target, nil, Policy{})
	require.NoError(t, err)
	res := resultFor(t, second, "A")
	require.Equal(t, StatusFailed, res.Status)

	var conflict *FileConflictError
	require.ErrorAs(t, res.Err, &conflict)
	assert.ElementsMatch(t, []string{"x.txt", "sub/y.txt"}, conflict.Paths)
	assert.True(t, conflict.Managed)

	// First run's files are byte-for-byte unchanged.
	for _, f := range firstChecksums {
		content, err := os.ReadFile(filepath.Join(target, filepath.FromSlash(f.Path)))
		require.NoError(t, err)
		assert.Equal(t, f.Checksum, checksum(content))
	}
	assert.Len(t, second.Ledger, 1)
}

func TestInstall_ForceOverwrites(t *testing.T) {
	reg := newFakeRegistry()
	m := mkManifest("A", "1.0.0", []manifest.FileMapping{{Src: "x.txt", Dest: "x.txt"}}, nil)
	reg.add(m, map[string]string{"x.txt": "new content"})

	target := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(target, "x.txt"), []byte("old"), 0o644))

	report, err := newInstaller(reg).Install(context.Background(), planOf(m), target, nil, Policy{Force: true})
	require.NoError(t, err)
	assert.Equal(t, StatusInstalled, resultFor(t, report, "A").Status)

	content, err := os.ReadFile(filepath.Join(target, "x.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new content", string(content))
}

func TestInstall_UnmanagedConflict(t *testing.T) {
	reg := newFakeRegistry()
	m := mkManifest("A", "1.0.0", []manifest.FileMapping{{Src: "x.txt", Dest: "x.txt"}}, nil)
	reg.add(m, map[string]string{"x.txt": "xx"})

	target := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(target, "x.txt"), []byte("someone else's"), 0o644))

	report, err := newInstaller(reg).Install(context.Background(), planOf(m), target, nil, Policy{})
	require.NoError(t, err)
	res := resultFor(t, report, "A")
	require.Equal(t, StatusFailed, res.Status)

	var conflict *FileConflictError
	require.ErrorAs(t, res.Err, &conflict)
	assert.False(t, conflict.Managed)

	content, err := os.ReadFile(filepath.Join(target, "x.txt"))
	require.NoError(t, err)
	assert.Equal(t, "someone else's", string(content))
}

func TestInstall_SkipsTransitiveDependents(t *testing.T) {
	reg := newFakeRegistry()
	a := mkManifest("A", "1.0.0", []manifest.FileMapping{{Src: "a.txt", Dest: "a.txt"}}, nil)
	b := mkManifest("B", "1.0.0", []manifest.FileMapping{{Src: "b.txt", Dest: "b.txt"}}, nil,
		manifest.Dependency{Name: "A", VersionConstraint: ">=1.0.0"})
	c := mkManifest("C", "1.0.0", []manifest.FileMapping{{Src: "c.txt", Dest: "c.txt"}}, nil,
		manifest.Dependency{Name: "B", VersionConstraint: ">=1.0.0"})
	indep := mkManifest("solo", "1.0.0", []manifest.FileMapping{{Src: "s.txt", Dest: "s.txt"}}, nil)
	reg.add(a, map[string]string{"a.txt": "a"})
	reg.add(b, map[string]string{"b.txt": "b"})
	reg.add(c, map[string]string{"c.txt": "c"})
	reg.add(indep, map[string]string{"s.txt": "s"})

	target := t.TempDir()
	// An unmanaged pre-existing file makes A fail its conflict pre-pass.
	require.NoError(t, os.WriteFile(filepath.Join(target, "a.txt"), []byte("in the way"), 0o644))

	report, err := newInstaller(reg).Install(context.Background(),
		planOf(a, b, c, indep), target, nil, Policy{})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, resultFor(t, report, "A").Status)

	bRes := resultFor(t, report, "B")
	require.Equal(t, StatusSkipped, bRes.Status)
	assert.Contains(t, bRes.SkippedBecause, "A@1.0.0 failed")

	cRes := resultFor(t, report, "C")
	require.Equal(t, StatusSkipped, cRes.Status)
	assert.Contains(t, cRes.SkippedBecause, "B@1.0.0 skipped")

	// Independent components are still attempted.
	assert.Equal(t, StatusInstalled, resultFor(t, report, "solo").Status)
	assert.NoFileExists(t, filepath.Join(target, "b.txt"))
	assert.NoFileExists(t, filepath.Join(target, "c.txt"))
	assert.FileExists(t, filepath.Join(target, "s.txt"))
}

func TestInstall_UndeclaredVariableAbortsBeforeWrites(t *testing.T) {
	reg := newFakeRegistry()
	m := mkManifest("A", "1.0.0", []manifest.FileMapping{
		{Src: "ok.txt", Dest: "ok.txt"},
		{Src: "bad.txt", Dest: "bad.txt"},
	}, []string{"known"})
	reg.add(m, map[string]string{
		"ok.txt":  "{{known}}",
		"bad.txt": "{{sneaky}}",
	})

	target := t.TempDir()
	vars := map[string]map[string]string{"A": {"known": "v", "sneaky": "supplied anyway"}}

	report, err := newInstaller(reg).Install(context.Background(), planOf(m), target, vars, Policy{})
	require.NoError(t, err)

	res := resultFor(t, report, "A")
	require.Equal(t, StatusFailed, res.Status)
	var uerr *UndeclaredVariableError
	require.ErrorAs(t, res.Err, &uerr)
	assert.Equal(t, []string{"sneaky"}, uerr.Variables)
	assert.NoFileExists(t, filepath.Join(target, "ok.txt"))
}

func TestInstall_MissingVariableAbortsBeforeWrites(t *testing.T) {
	reg := newFakeRegistry()
	m := mkManifest("A", "1.0.0", []manifest.FileMapping{
		{Src: "a.txt", Dest: "a.txt"},
		{Src: "b.txt", Dest: "b.txt"},
	}, []string{"greeting"})
	reg.add(m, map[string]string{"a.txt": "static", "b.txt": "{{greeting}}"})

	target := t.TempDir()
	report, err := newInstaller(reg).Install(context.Background(), planOf(m), target,
		map[string]map[string]string{"A": {}}, Policy{})
	require.NoError(t, err)

	res := resultFor(t, report, "A")
	require.Equal(t, StatusFailed, res.Status)
	assert.NoFileExists(t, filepath.Join(target, "a.txt"))
	assert.Empty(t, report.Ledger)
}

func TestInstall_UnusedVariableWarning(t *testing.T) {
	reg := newFakeRegistry()
	m := mkManifest("A", "1.0.0",
		[]manifest.FileMapping{{Src: "a.txt", Dest: "a.txt"}},
		[]string{"used", "declared_only"})
	reg.add(m, map[string]string{"a.txt": "{{used}}"})

	target := t.TempDir()
	vars := map[string]map[string]string{"A": {"used": "v", "supplied_only": "w"}}

	report, err := newInstaller(reg).Install(context.Background(), planOf(m), target, vars, Policy{})
	require.NoError(t, err)

	res := resultFor(t, report, "A")
	require.Equal(t, StatusInstalled, res.Status)
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[0], "supplied_only")
	assert.Contains(t, res.Warnings[1], "declared_only")
}

func TestInstall_OverlappingDestsSerialized(t *testing.T) {
	reg := newFakeRegistry()
	one := mkManifest("one", "1.0.0", []manifest.FileMapping{{Src: "f.txt", Dest: "shared.txt"}}, nil)
	two := mkManifest("two", "1.0.0", []manifest.FileMapping{{Src: "f.txt", Dest: "shared.txt"}}, nil)
	reg.add(one, map[string]string{"f.txt": "from one"})
	reg.add(two, map[string]string{"f.txt": "from two"})

	target := t.TempDir()
	report, err := newInstaller(reg).Install(context.Background(), planOf(one, two), target, nil, Policy{})
	require.NoError(t, err)

	installed := report.Installed()
	failed := report.Failed()
	assert.Equal(t, 1, installed, "exactly one of the overlapping components installs")
	assert.Equal(t, 1, failed, "the other hits the conflict pre-pass")
	assert.Len(t, report.Ledger, 1)
}

func TestInstall_CancelledContext(t *testing.T) {
	reg := newFakeRegistry()
	m := mkManifest("A", "1.0.0", []manifest.FileMapping{{Src: "a.txt", Dest: "a.txt"}}, nil)
	reg.add(m, map[string]string{"a.txt": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	target := t.TempDir()
	report, err := newInstaller(reg).Install(ctx, planOf(m), target, nil, Policy{})
	require.NoError(t, err)

	res := resultFor(t, report, "A")
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.NoFileExists(t, filepath.Join(target, "a.txt"))
	assert.NoFileExists(t, filepath.Join(target, "a.txt"+tmpSuffix))
	assert.Empty(t, report.Ledger)
}

func TestLedger_PersistsAcrossOpens(t *testing.T) {
	target := t.TempDir()
	l, err := OpenLedger(target)
	require.NoError(t, err)

	rec := Record{
		Name:    "A",
		Version: "1.0.0",
		Files:   []FileRecord{{Path: "a.txt", Checksum: checksum([]byte("hi"))}},
	}
	require.NoError(t, l.Append(rec))

	reopened, err := OpenLedger(target)
	require.NoError(t, err)
	entries := reopened.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "A", entries[0].Name)

	sum, ok := reopened.Checksum("A", "1.0.0", "a.txt")
	assert.True(t, ok)
	assert.Equal(t, checksum([]byte("hi")), sum)
	assert.True(t, reopened.HasComponent("A", "1.0.0"))
	assert.False(t, reopened.HasComponent("A", "2.0.0"))
}

func TestConflictGroups(t *testing.T) {
	a := mkManifest("a", "1.0.0", []manifest.FileMapping{{Src: "s", Dest: "x.txt"}}, nil)
	b := mkManifest("b", "1.0.0", []manifest.FileMapping{{Src: "s", Dest: "x.txt"}, {Src: "s2", Dest: "y.txt"}}, nil)
	c := mkManifest("c", "1.0.0", []manifest.FileMapping{{Src: "s", Dest: "y.txt"}}, nil)
	d := mkManifest("d", "1.0.0", []manifest.FileMapping{{Src: "s", Dest: "z.txt"}}, nil)

	groups := conflictGroups(planOf(a, b, c, d).Components)
	assert.Equal(t, groups[0], groups[1], "a and b share x.txt")
	assert.Equal(t, groups[1], groups[2], "b and c share y.txt")
	assert.NotEqual(t, groups[0], groups[3], "d is independent")
}
