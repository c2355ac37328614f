// Package resolver turns a set of requested components into a validated,
// topologically ordered install plan. It discovers the dependency closure
// through a registry client, intersects version constraints across
// requesters, rejects cycles and conflicts, and orders the result
// deterministically.
package resolver

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/agentpack-labs/agentpack/internal/constraint"
	"github.com/agentpack-labs/agentpack/internal/manifest"
	"github.com/agentpack-labs/agentpack/internal/registry"
)

// requestedByRoot marks constraints contributed by the caller rather than
// another component.
const requestedByRoot = "(root)"

// defaultFetchWorkers bounds concurrent registry fetches per round.
const defaultFetchWorkers = 4

// ComponentRequest names a component and the version range acceptable to
// the caller. An empty constraint means any version.
type ComponentRequest struct {
	Name              string
	VersionConstraint string
}

// Component is one resolved entry of an install plan.
type Component struct {
	Manifest          *manifest.Manifest
	RequestedDirectly bool
}

// Plan is a sequence of resolved components in which every component
// appears after all of its dependencies.
type Plan struct {
	Components []*Component
}

// Names returns the plan's component names in install order.
func (p *Plan) Names() []string {
	names := make([]string, len(p.Components))
	for i, c := range p.Components {
		names[i] = c.Manifest.Name
	}
	return names
}

// Resolver resolves component requests against a registry. It holds no
// mutable state between calls; Resolve is safe to call repeatedly.
type Resolver struct {
	client  registry.Client
	log     zerolog.Logger
	workers int
}

// New creates a resolver. workers bounds concurrent registry fetches;
// values below one select the default.
func New(client registry.Client, log zerolog.Logger, workers int) *Resolver {
	if workers < 1 {
		workers = defaultFetchWorkers
	}
	return &Resolver{client: client, log: log, workers: workers}
}

// requester records who asked for a component and with what expression.
type requester struct {
	by   string
	expr string
}

// workItem is one pending (name, constraint, requestedBy) triple.
type workItem struct {
	name string
	expr string
	by   string
}

// session is the mutable state of one Resolve call.
type session struct {
	constraints map[string]*constraint.Range
	requesters  map[string][]requester
	selected    map[string]*manifest.Manifest
	orderIndex  map[string]int
	roots       map[string]bool
}

// Resolve computes the install plan for the requested roots. Resolution
// proceeds in breadth-first rounds: constraints for the round merge
// sequentially in request order (keeping plans deterministic), then the
// round's manifests are fetched concurrently.
func (r *Resolver) Resolve(ctx context.Context, roots []ComponentRequest) (*Plan, error) {
	st := &session{
		constraints: make(map[string]*constraint.Range),
		requesters:  make(map[string][]requester),
		selected:    make(map[string]*manifest.Manifest),
		orderIndex:  make(map[string]int),
		roots:       make(map[string]bool),
	}

	pending := make([]workItem, 0, len(roots))
	for _, req := range roots {
		st.roots[req.Name] = true
		pending = append(pending, workItem{name: req.Name, expr: req.VersionConstraint, by: requestedByRoot})
	}

	for len(pending) > 0 {
		fetches, err := r.mergeRound(st, pending)
		if err != nil {
			return nil, err
		}

		manifests, err := r.fetchRound(ctx, st, fetches)
		if err != nil {
			return nil, err
		}

		pending = pending[:0]
		for i, name := range fetches {
			m := manifests[i]
			if err := checkFetched(st, name, m); err != nil {
				return nil, err
			}
			st.selected[name] = m
			for _, dep := range m.Dependencies {
				pending = append(pending, workItem{name: dep.Name, expr: dep.VersionConstraint, by: name})
			}
		}
	}

	return r.buildPlan(st)
}

// mergeRound folds a round's work items into the constraint map and
// returns the names needing a (re)fetch, in first-request order. This is
// the single mutual-exclusion point of resolution; it runs on one
// goroutine between fetch rounds.
func (r *Resolver) mergeRound(st *session, pending []workItem) ([]string, error) {
	var fetches []string
	queued := make(map[string]bool)

	enqueue := func(name string) {
		if !queued[name] {
			queued[name] = true
			fetches = append(fetches, name)
		}
	}

	for _, item := range pending {
		rng, err := constraint.Parse(item.expr)
		if err != nil {
			return nil, fmt.Errorf("constraint on %s requested by %s: %w", item.name, item.by, err)
		}
		st.requesters[item.name] = append(st.requesters[item.name], requester{by: item.by, expr: rng.String()})

		existing, known := st.constraints[item.name]
		if !known {
			st.constraints[item.name] = rng
			st.orderIndex[item.name] = len(st.orderIndex)
			enqueue(item.name)
			continue
		}

		merged := existing.Intersect(rng)
		if merged.IsEmpty() {
			return nil, conflictFor(st, item.name)
		}
		st.constraints[item.name] = merged

		if sel, ok := st.selected[item.name]; ok {
			v, err := sel.SemVer()
			if err == nil && merged.Check(v) {
				continue // current selection still satisfies the narrowed range
			}
			// The narrowed range invalidated the selected version; drop it
			// and fetch again with the intersected constraint.
			r.log.Debug().
				Str("component", item.name).
				Str("constraint", merged.String()).
				Msg("narrowed constraint invalidated selected version, refetching")
			delete(st.selected, item.name)
		}
		if _, ok := st.selected[item.name]; !ok {
			enqueue(item.name)
		}
	}

	// Names selected earlier in this same round need no fetch.
	out := fetches[:0]
	for _, name := range fetches {
		if _, ok := st.selected[name]; !ok {
			out = append(out, name)
		}
	}
	return out, nil
}

// fetchRound fetches the round's manifests concurrently, bounded by the
// worker limit. The constraint map is read-only while fetches run.
func (r *Resolver) fetchRound(ctx context.Context, st *session, fetches []string) ([]*manifest.Manifest, error) {
	manifests := make([]*manifest.Manifest, len(fetches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, name := range fetches {
		i, name := i, name
		rng := st.constraints[name]
		g.Go(func() error {
			m, err := r.client.FetchManifest(gctx, name, rng)
			if err != nil {
				return err
			}
			manifests[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return manifests, nil
}

// checkFetched validates the registry's response against its contract.
func checkFetched(st *session, name string, m *manifest.Manifest) error {
	if m.Name != name {
		return fmt.Errorf("registry returned manifest for %q when asked for %q", m.Name, name)
	}
	v, err := m.SemVer()
	if err != nil {
		return fmt.Errorf("registry returned %s with unparseable version: %w", name, err)
	}
	if !st.constraints[name].Check(v) {
		return fmt.Errorf("registry returned %s@%s, which does not satisfy %q",
			name, m.Version, st.constraints[name].String())
	}
	return nil
}

// conflictFor builds a ConflictError naming every requester of name.
func conflictFor(st *session, name string) *ConflictError {
	reqs := st.requesters[name]
	e := &ConflictError{Name: name}
	for _, req := range reqs {
		e.Requesters = append(e.Requesters, req.by)
		e.Constraints = append(e.Constraints, req.expr)
	}
	return e
}

// buildPlan validates acyclicity, prunes components no longer reachable
// from the roots (left behind by constraint-narrowing refetches), and
// computes the deterministic topological order.
func (r *Resolver) buildPlan(st *session) (*Plan, error) {
	g := buildGraph(st)

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CycleError{Path: cycle}
	}

	order := g.topoOrder()

	plan := &Plan{Components: make([]*Component, 0, len(order))}
	for _, name := range order {
		plan.Components = append(plan.Components, &Component{
			Manifest:          st.selected[name],
			RequestedDirectly: st.roots[name],
		})
	}

	r.log.Info().Strs("order", order).Msg("resolved install plan")
	return plan, nil
}
