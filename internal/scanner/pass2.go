package scanner

import (
	"context"
	"log/slog"
	"sync"

	"github.com/distribution-tools/gcsweep/internal/graph"
)

// repoTagSource is the subset of registrydriver.Driver pass 2 needs.
type repoTagSource interface {
	EnumerateRepositories(emit func(name string) error) error
	GetRepositoryIndex(repo string) ([]string, error)
	GetRepositoryTags(repo string) (map[string]string, error)
}

// runRepoTagPass is pass 2: enumerate every repository, read
// its image index and tag list, and for each tag propagate a reference
// count down the tag's head layer's ancestry (graph.DFS). A repo's graph
// mutation is only ever applied once its index and tags have both been
// fetched successfully, so a re-enqueued attempt after a transient fetch
// failure can never double-apply — the "claimed" set below guards that
// invariant explicitly.
func runRepoTagPass(ctx context.Context, src repoTagSource, g *graph.Graph, counters *Counters, capacity int64, deadLetterLimit int, logger *slog.Logger) error {
	var mu sync.Mutex
	claimed := make(map[string]bool)
	r := newPassRunner("reftag", capacity, deadLetterLimit, counters, logger)

	return r.run(ctx, src.EnumerateRepositories, func(_ context.Context, repo string) error {
		if counters != nil {
			counters.Fetches.WithLabelValues("reftag").Inc()
		}
		index, err := src.GetRepositoryIndex(repo)
		if err != nil {
			if counters != nil {
				counters.Retries.WithLabelValues("reftag").Inc()
			}
			return err
		}
		tags, err := src.GetRepositoryTags(repo)
		if err != nil {
			if counters != nil {
				counters.Retries.WithLabelValues("reftag").Inc()
			}
			return err
		}

		mu.Lock()
		defer mu.Unlock()
		if claimed[repo] {
			return nil
		}
		claimed[repo] = true

		for _, id := range index {
			n := g.AddNode(id)
			n.Repos = appendUnique(n.Repos, repo)
		}
		for tag, head := range tags {
			g.AddNode(head)
			for _, id := range g.DFS(head) {
				g.Node(id).Ref++
			}
			g.Node(head).Tags = appendUnique(g.Node(head).Tags, repo+":"+tag)
		}
		return nil
	})
}

func appendUnique(ss []string, v string) []string {
	for _, s := range ss {
		if s == v {
			return ss
		}
	}
	return append(ss, v)
}
