// Package sweep computes the set of unreferenced layers, reconciles that
// set against a persisted first-seen-unreferenced timestamp file, and
// returns the layers that have been unreferenced for longer than the
// configured age as delete candidates, topologically ordered leaves-first.
package sweep

import (
	"time"

	"github.com/distribution-tools/gcsweep/internal/gcerrors"
	"github.com/distribution-tools/gcsweep/internal/graph"
)

// Options configures one sweep run.
type Options struct {
	// Age is the minimum duration a layer must have been continuously
	// unreferenced across two sweeps before it becomes a delete candidate.
	Age time.Duration
	// StateFile is the path to the persisted sweep-state file.
	StateFile string
	// Now overrides the clock for tests; nil defaults to time.Now.
	Now func() time.Time
}

// Result is the outcome of one sweep.
type Result struct {
	// Candidates is the delete-eligible set, topologically ordered so a
	// delete executor can remove descendants before their ancestors.
	Candidates []string
	// Unreferenced is the full unreferenced set this sweep observed,
	// whether or not it aged into Candidates.
	Unreferenced []string
}

// Run computes the current unreferenced set against g, reconciles it
// against the persisted sweep-state file at opts.StateFile, and rewrites
// that file. The file is only rewritten on success; any error returned
// leaves the previous file untouched.
func Run(g *graph.Graph, opts Options) (*Result, error) {
	const op = "sweep.Run"

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	nowT := now()

	prev, err := loadState(opts.StateFile)
	if err != nil {
		return nil, err
	}

	// Non-nil even when empty: TopoSort treats a nil subset as every node.
	unreferenced := []string{}
	for _, id := range g.Nodes() {
		if n := g.Node(id); n.Ref < 1 {
			unreferenced = append(unreferenced, id)
		}
	}

	ordered, ok := g.TopoSort(unreferenced)
	if !ok {
		return nil, gcerrors.New(gcerrors.KindGraph, op, "graph contains a cycle; refusing to sweep", nil)
	}

	current := make(State, len(ordered))
	var candidates []string
	for _, id := range ordered {
		seenAt, known := prev[id]
		if !known {
			current[id] = nowT
			continue
		}
		current[id] = seenAt
		if nowT.Sub(seenAt) > opts.Age {
			candidates = append(candidates, id)
		}
	}

	persisted := make(State, len(current))
	for id, t := range current {
		persisted[id] = t
	}
	for _, id := range candidates {
		delete(persisted, id)
	}

	result := &Result{Candidates: candidates, Unreferenced: ordered}

	if err := saveState(opts.StateFile, persisted); err != nil {
		// The candidate set is already computed and must still reach the
		// caller so it can be printed before the process exits non-zero.
		return result, err
	}

	return result, nil
}
