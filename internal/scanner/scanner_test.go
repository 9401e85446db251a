package scanner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeDriver struct {
	images       []string
	ancestry     map[string][]string
	repos        []string
	repoIndex    map[string][]string
	repoTags     map[string]map[string]string
	ancestryFail map[string]int // id -> number of times to fail before succeeding

	mu    sync.Mutex
	calls map[string]int
}

func (f *fakeDriver) EnumerateImages(emit func(id string) error) error {
	for _, id := range f.images {
		if err := emit(id); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeDriver) EnumerateRepositories(emit func(name string) error) error {
	for _, name := range f.repos {
		if err := emit(name); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeDriver) GetImageAncestry(id string) ([]string, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[id]++
	attempt := f.calls[id]
	f.mu.Unlock()

	if fails, ok := f.ancestryFail[id]; ok && attempt <= fails {
		return nil, errors.New("transient failure")
	}
	return f.ancestry[id], nil
}

func (f *fakeDriver) GetRepositoryIndex(repo string) ([]string, error) {
	return f.repoIndex[repo], nil
}

func (f *fakeDriver) GetRepositoryTags(repo string) (map[string]string, error) {
	return f.repoTags[repo], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestRunBuildsGraphShape checks that a two-layer image tagged once yields
// ref=1 on both layers and the tag recorded on the head only.
func TestRunBuildsGraphShape(t *testing.T) {
	drv := &fakeDriver{
		images:    []string{"L", "P"},
		ancestry:  map[string][]string{"L": {"L", "P"}, "P": {"P"}},
		repos:     []string{"foo"},
		repoIndex: map[string][]string{"foo": {"L", "P"}},
		repoTags:  map[string]map[string]string{"foo": {"latest": "L"}},
	}

	result, err := Run(context.Background(), drv, discardLogger(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	g := result.Graph
	if g.Node("L").Ref != 1 || g.Node("P").Ref != 1 {
		t.Fatalf("ref counts = L:%d P:%d, want 1/1", g.Node("L").Ref, g.Node("P").Ref)
	}
	if len(g.Node("L").Tags) != 1 || g.Node("L").Tags[0] != "foo:latest" {
		t.Fatalf("L.Tags = %v, want [foo:latest]", g.Node("L").Tags)
	}
	if len(g.Node("P").Tags) != 0 {
		t.Fatalf("P.Tags = %v, want none (not a head layer)", g.Node("P").Tags)
	}
	gotNodes := g.Nodes()
	sort.Strings(gotNodes)
	if want := []string{"L", "P"}; gotNodes[0] != want[0] || gotNodes[1] != want[1] {
		t.Fatalf("Nodes = %v, want %v", gotNodes, want)
	}
}

// TestRunRetriesTransientFailureThenSucceeds checks that a fetch which
// fails twice and succeeds on the third attempt still completes the pass
// successfully.
func TestRunRetriesTransientFailureThenSucceeds(t *testing.T) {
	drv := &fakeDriver{
		images:       []string{"L"},
		ancestry:     map[string][]string{"L": {"L"}},
		ancestryFail: map[string]int{"L": 2},
		repos:        nil,
	}

	result, err := Run(context.Background(), drv, discardLogger(), Options{DeadLetterLimit: 5})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Graph.Node("L") == nil {
		t.Fatal("expected L to be present after eventual success")
	}
}

// TestRunAbortsAfterDeadLetterLimit reproduces the dead-letter abort path:
// an item that never succeeds exhausts the limit and the pass returns a
// KindScan error instead of hanging.
func TestRunAbortsAfterDeadLetterLimit(t *testing.T) {
	drv := &fakeDriver{
		images:       []string{"L"},
		ancestry:     map[string][]string{"L": {"L"}},
		ancestryFail: map[string]int{"L": 1000},
	}

	_, err := Run(context.Background(), drv, discardLogger(), Options{DeadLetterLimit: 3})
	if err == nil {
		t.Fatal("expected Run to abort after exceeding the dead-letter limit")
	}
}

func TestCountersRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCounters(reg)
	c.Fetches.WithLabelValues("ancestry").Inc()
	if got := testutilGatherCount(t, reg, "gcsweep_scanner_fetches_total"); got != 1 {
		t.Fatalf("fetches_total = %v, want 1", got)
	}
}

func testutilGatherCount(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
