package scanner

import (
	"context"
	"log/slog"
	"sync"

	"github.com/distribution-tools/gcsweep/internal/graph"
)

// ancestrySource is the subset of registrydriver.Driver pass 1 needs.
type ancestrySource interface {
	EnumerateImages(emit func(id string) error) error
	GetImageAncestry(id string) ([]string, error)
}

// runAncestryPass is pass 1: enumerate every image id the
// registry knows about and record its ancestry chain as parent edges in g.
// It must complete before pass 2 starts, since pass 2's ref propagation
// walks edges pass 1 creates.
func runAncestryPass(ctx context.Context, src ancestrySource, g *graph.Graph, counters *Counters, capacity int64, deadLetterLimit int, logger *slog.Logger) error {
	var mu sync.Mutex
	r := newPassRunner("ancestry", capacity, deadLetterLimit, counters, logger)

	return r.run(ctx, src.EnumerateImages, func(_ context.Context, id string) error {
		if counters != nil {
			counters.Fetches.WithLabelValues("ancestry").Inc()
		}
		ancestry, err := src.GetImageAncestry(id)
		if err != nil {
			if counters != nil {
				counters.Retries.WithLabelValues("ancestry").Inc()
			}
			return err
		}

		mu.Lock()
		g.AddPath(ancestry)
		mu.Unlock()
		return nil
	})
}
