package sweep

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/distribution-tools/gcsweep/internal/graph"
)

func buildGraphWithUnreferenced(ids ...string) *graph.Graph {
	g := graph.New()
	for _, id := range ids {
		g.AddNode(id)
	}
	return g
}

// TestFirstSweepSeesButDoesNotCandidate checks that a layer unreferenced
// for the first time is recorded in the state file but is not yet a delete
// candidate, since it has not aged past the configured duration.
func TestFirstSweepSeesButDoesNotCandidate(t *testing.T) {
	g := buildGraphWithUnreferenced("A")
	stateFile := filepath.Join(t.TempDir(), "delete.json")

	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	result, err := Run(g, Options{
		Age:       24 * time.Hour,
		StateFile: stateFile,
		Now:       func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Candidates) != 0 {
		t.Fatalf("first sweep produced candidates %v, want none", result.Candidates)
	}

	state, err := loadState(stateFile)
	if err != nil {
		t.Fatalf("loadState: %v", err)
	}
	if _, ok := state["A"]; !ok {
		t.Fatal("first sweep did not persist A's first-seen timestamp")
	}
}

// TestSecondSweepPastAgeCandidates checks that a second sweep, run after
// the configured age has elapsed since the first, surfaces the layer as a
// delete candidate and removes it from the persisted state.
func TestSecondSweepPastAgeCandidates(t *testing.T) {
	g := buildGraphWithUnreferenced("A", "B")
	g.AddPath([]string{"A", "B"}) // A built on B; both unreferenced after retag
	stateFile := filepath.Join(t.TempDir(), "delete.json")

	firstSeen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := Run(g, Options{
		Age:       24 * time.Hour,
		StateFile: stateFile,
		Now:       func() time.Time { return firstSeen },
	}); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	later := firstSeen.Add(48 * time.Hour)
	result, err := Run(g, Options{
		Age:       24 * time.Hour,
		StateFile: stateFile,
		Now:       func() time.Time { return later },
	})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if want := []string{"A", "B"}; len(result.Candidates) != 2 || result.Candidates[0] != want[0] || result.Candidates[1] != want[1] {
		t.Fatalf("second sweep candidates = %v, want %v (descendant first)", result.Candidates, want)
	}

	state, err := loadState(stateFile)
	if err != nil {
		t.Fatalf("loadState: %v", err)
	}
	if len(state) != 0 {
		t.Fatalf("state after deleting all candidates = %v, want empty", state)
	}
}

func TestRunRefusesToSweepOnCycle(t *testing.T) {
	g := graph.New()
	g.AddNode("A")
	g.AddNode("B")
	// Force a cycle directly via AddPath both directions.
	g.AddPath([]string{"A", "B"})
	g.AddPath([]string{"B", "A"})

	stateFile := filepath.Join(t.TempDir(), "delete.json")
	_, err := Run(g, Options{Age: time.Hour, StateFile: stateFile})
	if err == nil {
		t.Fatal("expected error sweeping a cyclic graph")
	}
	if _, statErr := os.Stat(stateFile); statErr == nil {
		t.Fatal("sweep-state file should not be written when Run fails")
	}
}

func TestRunKeepsReferencedLayerOutOfState(t *testing.T) {
	g := graph.New()
	n := g.AddNode("A")
	n.Ref = 1 // referenced, never enters U

	stateFile := filepath.Join(t.TempDir(), "delete.json")
	if _, err := Run(g, Options{Age: time.Hour, StateFile: stateFile}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	state, err := loadState(stateFile)
	if err != nil {
		t.Fatalf("loadState: %v", err)
	}
	if len(state) != 0 {
		t.Fatalf("state = %v, want empty since A is referenced", state)
	}
}
