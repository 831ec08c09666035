package vamana

import (
	"testing"

	"github.com/clankpan/vectune/pkg/metacell"
	"github.com/clankpan/vectune/pkg/nodestore"
	"github.com/clankpan/vectune/pkg/ordermap"
	"github.com/clankpan/vectune/pkg/segment"
)

// newTestGraph builds a Graph over fresh, empty storage for dim-dimension
// vectors and R out-edges each. maxNodes is not used: the node store and
// backlinks map grow lazily as nodes are allocated.
func newTestGraph(t *testing.T, dim, r, maxNodes int) *Graph {
	t.Helper()
	store := segment.NewStore()
	cell := metacell.New(store.Metadata, "test", "v1")
	cell.StartLoading(0, 0, 0, 0, "key", 0, 0, uint32(dim), uint32(r))

	nodes, err := nodestore.New(store.Graph, uint32(dim), uint32(r), 0)
	if err != nil {
		t.Fatalf("nodestore.New: %v", err)
	}
	backlinks, err := ordermap.New(store.Backlinks)
	if err != nil {
		t.Fatalf("ordermap.New: %v", err)
	}
	cell.StartRunning(0)

	return New(nodes, backlinks, cell, Params{L: 10, R: r, Alpha: 1.2}, nil)
}

func TestAllocGetRoundTrip(t *testing.T) {
	g := newTestGraph(t, 2, 4, 16)
	id := g.Alloc([]float32{1, 0})
	point, edges := g.Get(id)
	if len(edges) != 0 {
		t.Fatalf("expected no edges right after alloc, got %v", edges)
	}
	if point[0] != 1 || point[1] != 0 {
		t.Fatalf("unexpected point %v", point)
	}
}

func TestGetUnknownIDTraps(t *testing.T) {
	g := newTestGraph(t, 2, 4, 16)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic getting an unallocated id")
		}
	}()
	g.Get(999)
}

func TestOverwriteEdgesMaintainsBacklinkSymmetry(t *testing.T) {
	g := newTestGraph(t, 2, 4, 16)
	a := g.Alloc([]float32{1, 0})
	b := g.Alloc([]float32{0, 1})
	c := g.Alloc([]float32{-1, 0})

	g.OverwriteEdges(a, []uint32{b, c})

	if bl := g.Backlink(b); len(bl) != 1 || bl[0] != a {
		t.Fatalf("expected b's backlinks = [a], got %v", bl)
	}
	if bl := g.Backlink(c); len(bl) != 1 || bl[0] != a {
		t.Fatalf("expected c's backlinks = [a], got %v", bl)
	}

	// Drop c, add nothing new: c's backlink to a must disappear.
	g.OverwriteEdges(a, []uint32{b})
	if bl := g.Backlink(c); len(bl) != 0 {
		t.Fatalf("expected c's backlinks empty after removal, got %v", bl)
	}
}

func TestOverwriteEdgesTrapsOnDanglingTarget(t *testing.T) {
	g := newTestGraph(t, 2, 4, 16)
	a := g.Alloc([]float32{1, 0})
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic overwriting edges to a never-allocated id")
		}
	}()
	g.OverwriteEdges(a, []uint32{999})
}

func TestFreeClearsBacklinksAndQueuesID(t *testing.T) {
	g := newTestGraph(t, 2, 4, 16)
	a := g.Alloc([]float32{1, 0})
	b := g.Alloc([]float32{0, 1})
	g.OverwriteEdges(a, []uint32{b})

	g.Free(a)
	if bl := g.Backlink(b); len(bl) != 0 {
		t.Fatalf("expected b's backlinks empty after freeing a, got %v", bl)
	}
	if ids := g.FreeIDs(); len(ids) != 1 || ids[0] != a {
		t.Fatalf("expected free-id list [%d], got %v", a, ids)
	}
}

func TestPruneRespectsDegreeBound(t *testing.T) {
	g := newTestGraph(t, 2, 2, 16) // R=2
	p := g.Alloc([]float32{0, 0})
	var candidates []uint32
	for i := 0; i < 6; i++ {
		candidates = append(candidates, g.Alloc([]float32{float32(i + 1), 0}))
	}
	pruned := g.Prune(p, candidates)
	if len(pruned) > 2 {
		t.Fatalf("expected at most R=2 edges out of prune, got %d", len(pruned))
	}
}

func TestInsertLinksIntoExistingGraph(t *testing.T) {
	g := newTestGraph(t, 2, 4, 16)
	start := g.Alloc([]float32{0, 0})
	g.Insert(start) // self-insert is a degenerate but legal first point

	second := g.Alloc([]float32{1, 0})
	g.Insert(second)

	_, startEdges := g.Get(start)
	found := false
	for _, e := range startEdges {
		if e == second {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected start node to link back to the newly inserted node, edges=%v", startEdges)
	}
}

func TestConsolidateFreesTombstonesAndRewiresSurvivors(t *testing.T) {
	g := newTestGraph(t, 2, 4, 16)
	a := g.Alloc([]float32{0, 0})
	b := g.Alloc([]float32{1, 0})
	c := g.Alloc([]float32{2, 0})

	// a -> b -> c, so deleting b should leave a pointing at c.
	g.OverwriteEdges(a, []uint32{b})
	g.OverwriteEdges(b, []uint32{c})

	g.Suspect(b)
	g.Consolidate()

	if len(g.Cemetery()) != 0 {
		t.Fatal("expected cemetery to be cleared after consolidation")
	}
	_, aEdges := g.Get(a)
	foundC := false
	for _, e := range aEdges {
		if e == c {
			foundC = true
		}
		if e == b {
			t.Fatal("expected tombstoned id b to be gone from a's edges")
		}
	}
	if !foundC {
		t.Fatalf("expected a to be rewired to c after b's consolidation, edges=%v", aEdges)
	}
	if g.isAllocated(b) {
		t.Fatal("expected b to be freed after consolidation")
	}
}

func TestGreedySearchFindsNearestAmongLinearChain(t *testing.T) {
	g := newTestGraph(t, 1, 2, 16)
	var ids []uint32
	for i := 0; i < 8; i++ {
		ids = append(ids, g.Alloc([]float32{float32(i)}))
	}
	// Wire a doubly-linked chain: ids[i] <-> ids[i+1].
	for i, id := range ids {
		var neighbors []uint32
		if i > 0 {
			neighbors = append(neighbors, ids[i-1])
		}
		if i < len(ids)-1 {
			neighbors = append(neighbors, ids[i+1])
		}
		g.OverwriteEdges(id, neighbors)
	}

	visited := g.GreedySearch(ids[0], []float32{7}, 4)
	if len(visited) == 0 {
		t.Fatal("expected at least one visited node")
	}
	if visited[0] != ids[7] {
		t.Fatalf("expected closest visited node to be the last link (id=%d), got %d", ids[7], visited[0])
	}
}
