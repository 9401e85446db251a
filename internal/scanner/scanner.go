// Package scanner is the Scanner: it builds the layer graph
// from scratch by running two bounded-concurrency passes against the
// Registry Driver — an ancestry-import pass, then a repository/tag-import
// pass that propagates reference counts. Pass 2 never starts until pass 1
// has fully drained, since it depends on the parent edges pass 1 creates.
package scanner

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/distribution-tools/gcsweep/internal/gcerrors"
	"github.com/distribution-tools/gcsweep/internal/graph"
	"github.com/distribution-tools/gcsweep/internal/logging"
)

// Driver is the registry-level dependency the Scanner walks.
type Driver interface {
	ancestrySource
	repoTagSource
}

// Options configures one scan run.
type Options struct {
	DispatchCapacity  int64
	DeadLetterLimit   int
	DebugSnapshotPath string
}

// Result is the outcome of a completed scan: the populated graph, its
// per-run correlation id, and the counter bag a caller may inspect.
type Result struct {
	Graph    *graph.Graph
	RunID    string
	Counters *Counters
}

// Run executes both passes against drv and returns the populated graph.
// logger receives one line per pass boundary and a summary on completion;
// a caller that wants per-item detail should pass a logger built with
// --verbose.
func Run(ctx context.Context, drv Driver, logger *slog.Logger, opts Options) (*Result, error) {
	const op = "scanner.Run"

	runID := uuid.NewString()
	logger = logging.WithRun(logger, runID)

	capacity := opts.DispatchCapacity
	if capacity <= 0 {
		capacity = 25
	}
	deadLetterLimit := opts.DeadLetterLimit
	if deadLetterLimit <= 0 {
		deadLetterLimit = 5
	}

	reg := prometheus.NewRegistry()
	counters := NewCounters(reg)

	g := graph.New()

	start := time.Now()
	logger.Info("ancestry pass starting")
	if err := runAncestryPass(ctx, drv, g, counters, capacity, deadLetterLimit, logger); err != nil {
		return nil, gcerrors.New(gcerrors.KindScan, op, "ancestry pass failed", err)
	}
	logger.Info("ancestry pass complete", slog.Int("nodes", g.Len()), slog.Duration("elapsed", time.Since(start)))

	if opts.DebugSnapshotPath != "" {
		if err := writeSnapshot(g, opts.DebugSnapshotPath); err != nil {
			logger.Warn("failed to write debug snapshot", logging.Err(err))
		}
	}

	tagStart := time.Now()
	logger.Info("reftag pass starting")
	if err := runRepoTagPass(ctx, drv, g, counters, capacity, deadLetterLimit, logger); err != nil {
		return nil, gcerrors.New(gcerrors.KindScan, op, "reftag pass failed", err)
	}
	logger.Info("reftag pass complete", slog.Duration("elapsed", time.Since(tagStart)))

	counters.NodesTotal.Set(float64(g.Len()))

	logger.Info("scan complete",
		slog.Int("nodes", g.Len()),
		slog.String("took", humanize.RelTime(start, time.Now(), "", "")),
	)

	return &Result{Graph: g, RunID: runID, Counters: counters}, nil
}

func writeSnapshot(g *graph.Graph, path string) error {
	data, err := g.ToJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
