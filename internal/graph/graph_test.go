package graph

import (
	"reflect"
	"testing"
)

func TestAddPathCreatesEdgesChildToParent(t *testing.T) {
	g := New()
	g.AddPath([]string{"L", "P1", "P2"})

	if got, want := g.Parents("L"), []string{"P1"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Parents(L) = %v, want %v", got, want)
	}
	if got, want := g.Parents("P1"), []string{"P2"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Parents(P1) = %v, want %v", got, want)
	}
	if got := g.Parents("P2"); got != nil {
		t.Fatalf("Parents(P2) = %v, want nil", got)
	}
}

func TestAddNodeIsIdempotent(t *testing.T) {
	g := New()
	n := g.AddNode("A")
	n.Ref = 3
	n.Tags = append(n.Tags, "library/foo:latest")

	again := g.AddNode("A")
	if again.Ref != 3 || len(again.Tags) != 1 {
		t.Fatalf("AddNode clobbered existing annotations: %+v", again)
	}
}

func TestDFSFollowsChildToParent(t *testing.T) {
	// A -> B -> C (A's parent is B, B's parent is C)
	g := New()
	g.AddPath([]string{"A", "B", "C"})

	got := g.DFS("A")
	want := []string{"A", "B", "C"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DFS(A) = %v, want %v", got, want)
	}
}

func TestDFSUnknownSourceReturnsNil(t *testing.T) {
	g := New()
	if got := g.DFS("nope"); got != nil {
		t.Fatalf("DFS(nope) = %v, want nil", got)
	}
}

// TestTopoSortDescendantFirst covers a retag that leaves both A and B
// unreferenced, with A built on top of B. The delete candidate ordering
// must process A (nothing built on it) before B.
func TestTopoSortDescendantFirst(t *testing.T) {
	g := New()
	g.AddPath([]string{"A", "B"})

	order, ok := g.TopoSort([]string{"A", "B"})
	if !ok {
		t.Fatalf("TopoSort reported a cycle on an acyclic graph")
	}
	if want := []string{"A", "B"}; !reflect.DeepEqual(order, want) {
		t.Fatalf("TopoSort = %v, want %v", order, want)
	}
}

func TestTopoSortDetectsCycle(t *testing.T) {
	g := New()
	g.AddNode("A")
	g.AddNode("B")
	g.addEdge("A", "B")
	g.addEdge("B", "A")

	_, ok := g.TopoSort(nil)
	if ok {
		t.Fatal("TopoSort reported no cycle on a cyclic graph")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	g := New()
	g.AddPath([]string{"A", "B", "C"})
	a := g.AddNode("A")
	a.Tags = []string{"library/foo:latest"}
	a.Repos = []string{"library/foo"}
	a.Ref = 1

	data, err := g.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	back, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}

	if back.Len() != g.Len() {
		t.Fatalf("round-trip node count = %d, want %d", back.Len(), g.Len())
	}
	for _, id := range g.Nodes() {
		want := g.Node(id)
		got := back.Node(id)
		if got == nil {
			t.Fatalf("round-trip missing node %s", id)
		}
		if !reflect.DeepEqual(got.Tags, want.Tags) || !reflect.DeepEqual(got.Repos, want.Repos) || got.Ref != want.Ref {
			t.Fatalf("round-trip node %s = %+v, want %+v", id, got, want)
		}
		if !reflect.DeepEqual(back.Parents(id), g.Parents(id)) {
			t.Fatalf("round-trip parents of %s = %v, want %v", id, back.Parents(id), g.Parents(id))
		}
	}
}

func TestDFSTreeInducedSubgraph(t *testing.T) {
	g := New()
	g.AddPath([]string{"A", "B", "C"})
	g.AddPath([]string{"D", "C"})

	sub := g.DFSTree("A")
	if sub.Len() != 3 {
		t.Fatalf("DFSTree(A) has %d nodes, want 3", sub.Len())
	}
	if sub.Node("D") != nil {
		t.Fatal("DFSTree(A) should not include D, which is not an ancestor of A")
	}
}
