// Package installer executes an install plan: it fetches bundles, renders
// template-parameterized files, writes them into the target tree with
// crash-safe temp-then-rename semantics, and records each completed
// component in an append-only ledger. A component either installs fully
// or leaves the tree untouched.
package installer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/agentpack-labs/agentpack/internal/manifest"
	"github.com/agentpack-labs/agentpack/internal/registry"
	"github.com/agentpack-labs/agentpack/internal/resolver"
	"github.com/agentpack-labs/agentpack/internal/template"
)

// tmpSuffix is appended to a destination while its content is written;
// the rename from tmp to final is the per-file atomicity point.
const tmpSuffix = ".tmp"

// defaultWorkers bounds concurrently installing components.
const defaultWorkers = 4

// Policy controls conflict handling for an install run.
type Policy struct {
	// Force overwrites destination files that already exist.
	Force bool
}

// Installer writes resolved components into a target tree. It exclusively
// owns ledger mutation; resolution never touches the filesystem.
type Installer struct {
	client  registry.Client
	log     zerolog.Logger
	workers int
}

// New creates an installer. workers bounds concurrently installing
// components; values below one select the default.
func New(client registry.Client, log zerolog.Logger, workers int) *Installer {
	if workers < 1 {
		workers = defaultWorkers
	}
	return &Installer{client: client, log: log, workers: workers}
}

// Install executes the plan against targetRoot. vars maps component name
// to that component's template variable values. Per-component failures
// are scoped: the failing component rolls back, its transitive dependents
// are skipped, and independent components continue. The returned Report
// covers every plan entry; the error return is reserved for setup
// failures before any component ran.
func (ins *Installer) Install(ctx context.Context, plan *resolver.Plan, targetRoot string, vars map[string]map[string]string, policy Policy) (*Report, error) {
	if err := os.MkdirAll(targetRoot, 0o755); err != nil {
		return nil, &IOError{Op: "creating target root", Path: targetRoot, Err: err}
	}
	ledger, err := OpenLedger(targetRoot)
	if err != nil {
		return nil, err
	}

	run := &installRun{
		ins:        ins,
		plan:       plan,
		targetRoot: targetRoot,
		vars:       vars,
		policy:     policy,
		ledger:     ledger,
		results:    make([]ComponentResult, len(plan.Components)),
		done:       make([]chan struct{}, len(plan.Components)),
		position:   make(map[string]int, len(plan.Components)),
		sem:        semaphore.NewWeighted(int64(ins.workers)),
		runID:      uuid.NewString(),
	}
	for i, c := range plan.Components {
		run.done[i] = make(chan struct{})
		run.position[c.Manifest.Name] = i
		run.results[i] = ComponentResult{
			Name:    c.Manifest.Name,
			Version: c.Manifest.Version,
		}
	}

	groups := conflictGroups(plan.Components)
	run.groupLocks = make(map[int]*sync.Mutex)
	for _, g := range groups {
		if run.groupLocks[g] == nil {
			run.groupLocks[g] = &sync.Mutex{}
		}
	}
	run.groups = groups

	ins.log.Info().
		Str("run_id", run.runID).
		Int("components", len(plan.Components)).
		Int("workers", ins.workers).
		Str("target", targetRoot).
		Msg("starting install")

	var wg sync.WaitGroup
	for i := range plan.Components {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			run.runComponent(ctx, i)
		}()
	}
	wg.Wait()

	return &Report{
		RunID:   run.runID,
		Results: run.results,
		Ledger:  ledger.Entries(),
	}, nil
}

// installRun is the shared state of one Install call.
type installRun struct {
	ins        *Installer
	plan       *resolver.Plan
	targetRoot string
	vars       map[string]map[string]string
	policy     Policy
	ledger     *Ledger
	runID      string

	results    []ComponentResult
	done       []chan struct{}
	position   map[string]int
	groups     []int
	groupLocks map[int]*sync.Mutex
	sem        *semaphore.Weighted
}

// runComponent drives one plan entry: wait for dependencies, serialize
// against the dest-path conflict group, bound concurrency, then install.
// The result is published before the done channel closes.
func (r *installRun) runComponent(ctx context.Context, i int) {
	defer close(r.done[i])
	comp := r.plan.Components[i]
	m := comp.Manifest

	// A component may only start once all of its dependencies finished.
	for _, dep := range m.Dependencies {
		j, inPlan := r.position[dep.Name]
		if !inPlan {
			continue
		}
		select {
		case <-r.done[j]:
		case <-ctx.Done():
			r.fail(i, ctx.Err())
			return
		}
		if res := &r.results[j]; res.Status != StatusInstalled {
			r.skip(i, dep.Name, res)
			return
		}
	}

	// Components sharing dest paths run fully sequential.
	lock := r.groupLocks[r.groups[i]]
	lock.Lock()
	defer lock.Unlock()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.fail(i, err)
		return
	}
	defer r.sem.Release(1)

	files, warnings, postInstall, err := r.installComponent(ctx, comp)
	if err != nil {
		r.fail(i, err)
		return
	}

	r.results[i].Status = StatusInstalled
	r.results[i].Files = files
	r.results[i].Warnings = warnings
	r.results[i].PostInstall = postInstall
	r.ins.log.Info().Str("run_id", r.runID).Str("component", m.ID()).Msg("installed")
}

func (r *installRun) fail(i int, err error) {
	m := r.plan.Components[i].Manifest
	r.results[i].Status = StatusFailed
	r.results[i].Err = fmt.Errorf("component %s failed: %w", m.ID(), err)
	r.ins.log.Error().Str("run_id", r.runID).Str("component", m.ID()).Err(err).Msg("install failed")
}

// skip marks component i as never attempted, carrying the dependency's
// causal chain so the report explains the full path to the root cause.
func (r *installRun) skip(i int, depName string, depResult *ComponentResult) {
	reason := fmt.Sprintf("dependency %s@%s %s", depName, depResult.Version, depResult.Status)
	switch {
	case depResult.Err != nil:
		reason += ": " + depResult.Err.Error()
	case depResult.SkippedBecause != "":
		reason += ": " + depResult.SkippedBecause
	}
	r.results[i].Status = StatusSkipped
	r.results[i].SkippedBecause = reason
	r.ins.log.Warn().
		Str("run_id", r.runID).
		Str("component", r.plan.Components[i].Manifest.ID()).
		Str("reason", reason).
		Msg("skipped")
}

// installComponent performs the all-or-nothing install of one component:
// fetch bundle, pre-pass conflict check, render everything, write
// everything, then append the ledger record as the commit point. Any
// failure rolls back this component's writes and leaves the tree as it
// was; files of other components are never touched.
func (r *installRun) installComponent(ctx context.Context, comp *resolver.Component) ([]FileRecord, []string, string, error) {
	m := comp.Manifest

	bundle, err := r.ins.client.FetchBundle(ctx, m.Name, m.Version)
	if err != nil {
		return nil, nil, "", err
	}
	for _, f := range m.Files {
		if _, ok := bundle[f.Src]; !ok {
			return nil, nil, "", fmt.Errorf("bundle for %s is missing source file %q", m.ID(), f.Src)
		}
	}

	// Pre-pass conflict check for the whole component before writing
	// anything.
	if err := r.checkConflicts(m); err != nil {
		return nil, nil, "", err
	}

	// Render every file before any write so a template failure aborts
	// the component cleanly.
	rendered, warnings, err := r.renderAll(m, bundle)
	if err != nil {
		return nil, nil, "", err
	}

	written, records, err := r.writeAll(ctx, m, rendered)
	if err != nil {
		r.rollback(written)
		return nil, nil, "", err
	}

	rec := Record{
		Name:              m.Name,
		Version:           m.Version,
		Files:             records,
		InstalledAt:       time.Now().UTC(),
		RequestedDirectly: comp.RequestedDirectly,
	}
	if err := r.ledger.Append(rec); err != nil {
		r.rollback(written)
		return nil, nil, "", err
	}

	return records, warnings, m.PostInstallMessage, nil
}

// checkConflicts fails the component if any dest already exists and the
// policy does not allow overwriting. All conflicting paths are reported
// at once.
func (r *installRun) checkConflicts(m *manifest.Manifest) error {
	if r.policy.Force {
		return nil
	}

	var conflicts []string
	managed := true
	for _, f := range m.Files {
		destPath, err := r.destPath(f.Dest)
		if err != nil {
			return err
		}
		if _, statErr := os.Lstat(destPath); statErr == nil {
			conflicts = append(conflicts, f.Dest)
			if _, recorded := r.ledger.Checksum(m.Name, m.Version, f.Dest); !recorded {
				managed = false
			}
		}
	}
	if len(conflicts) > 0 {
		return &FileConflictError{Paths: conflicts, Managed: managed}
	}
	return nil
}

// renderAll renders every bundle file with the component's variables and
// collects unused-variable warnings across the whole component.
func (r *installRun) renderAll(m *manifest.Manifest, bundle map[string][]byte) (map[string]string, []string, error) {
	vars := r.vars[m.Name]
	rendered := make(map[string]string, len(m.Files))
	referenced := make(map[string]bool)

	for _, f := range m.Files {
		content := string(bundle[f.Src])

		// Placeholders must be declared by the manifest; an undeclared
		// variable is a template error even when a value was supplied.
		var undeclared []string
		for _, name := range template.Variables(content) {
			referenced[name] = true
			if !m.DeclaresVariable(name) {
				undeclared = append(undeclared, name)
			}
		}
		if len(undeclared) > 0 {
			return nil, nil, &UndeclaredVariableError{Path: f.Src, Variables: undeclared}
		}

		out, err := template.Render(content, vars)
		if err != nil {
			return nil, nil, fmt.Errorf("rendering %s: %w", f.Src, err)
		}
		rendered[f.Dest] = out
	}

	var warnings []string
	if unused := unusedNames(vars, referenced); len(unused) > 0 {
		warnings = append(warnings, "unused template variables: "+strings.Join(unused, ", "))
	}
	var undeclaredUnused []string
	for _, name := range m.TemplateVariables {
		if !referenced[name] {
			undeclaredUnused = append(undeclaredUnused, name)
		}
	}
	if len(undeclaredUnused) > 0 {
		warnings = append(warnings, "declared but unreferenced template variables: "+strings.Join(undeclaredUnused, ", "))
	}
	return rendered, warnings, nil
}

// writeAll writes each rendered file atomically in manifest order,
// returning the dest paths written so far for rollback on failure.
func (r *installRun) writeAll(ctx context.Context, m *manifest.Manifest, rendered map[string]string) ([]string, []FileRecord, error) {
	var written []string
	records := make([]FileRecord, 0, len(m.Files))

	for _, f := range m.Files {
		if err := ctx.Err(); err != nil {
			return written, nil, err
		}

		destPath, err := r.destPath(f.Dest)
		if err != nil {
			return written, nil, err
		}

		content := rendered[f.Dest]
		if err := writeFileAtomic(destPath, []byte(content)); err != nil {
			return written, nil, err
		}
		written = append(written, destPath)
		records = append(records, FileRecord{Path: f.Dest, Checksum: checksum([]byte(content))})
	}
	return written, records, nil
}

// rollback deletes this component's already-written files, restoring the
// tree to its state before the component started.
func (r *installRun) rollback(written []string) {
	for _, path := range written {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			r.ins.log.Error().Str("path", path).Err(err).Msg("rollback could not remove file")
		}
	}
}

// destPath joins dest onto the target root, rejecting any path that
// escapes it. Manifest validation already rejects ".." segments; this is
// the last line of defense.
func (r *installRun) destPath(dest string) (string, error) {
	joined := filepath.Join(r.targetRoot, filepath.FromSlash(dest))
	rel, err := filepath.Rel(r.targetRoot, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("destination %q escapes target root", dest)
	}
	return joined, nil
}

// writeFileAtomic writes to path+".tmp", fsyncs, then renames over path,
// so a crash mid-write never leaves a half-written destination. The tmp
// file is removed on any failure before the rename.
func writeFileAtomic(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &IOError{Op: "creating directory for", Path: path, Err: err}
	}

	tmp := path + tmpSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return &IOError{Op: "creating", Path: tmp, Err: err}
	}

	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(tmp)
		return &IOError{Op: "writing", Path: tmp, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return &IOError{Op: "syncing", Path: tmp, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return &IOError{Op: "closing", Path: tmp, Err: err}
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &IOError{Op: "renaming", Path: path, Err: err}
	}
	return nil
}

// checksum returns the hex sha256 of content, matching the ledger format.
func checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// unusedNames returns supplied variable names never referenced by any
// file, sorted for stable output.
func unusedNames(vars map[string]string, referenced map[string]bool) []string {
	var unused []string
	for name := range vars {
		if !referenced[name] {
			unused = append(unused, name)
		}
	}
	sort.Strings(unused)
	return unused
}
