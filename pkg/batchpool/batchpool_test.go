package batchpool

import (
	"encoding/binary"
	"math"
	"testing"
)

// fakeGraph is a minimal Applier stub for exercising NextBatchStep without
// pulling in the real vamana graph engine.
type fakeGraph struct {
	allocated    []uint32
	inserted     []uint32
	suspected    []uint32
	consolidated int
	nextID       uint32
}

func (f *fakeGraph) Alloc(point []float32) uint32 {
	id := f.nextID
	f.nextID++
	f.allocated = append(f.allocated, id)
	return id
}
func (f *fakeGraph) Free(id uint32)    {}
func (f *fakeGraph) Suspect(id uint32) { f.suspected = append(f.suspected, id) }
func (f *fakeGraph) Insert(id uint32)  { f.inserted = append(f.inserted, id) }
func (f *fakeGraph) SetPoint(id uint32, point []float32) {}
func (f *fakeGraph) OverwriteEdges(id uint32, newEdges []uint32) {}
func (f *fakeGraph) Get(id uint32) ([]float32, []uint32) { return nil, nil }
func (f *fakeGraph) Consolidate() { f.consolidated++ }

func encodeFloats(vals ...float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[4*i:4*i+4], math.Float32bits(v))
	}
	return out
}

func TestAddRejectsDuplicateID(t *testing.T) {
	p := New()
	if err := p.Add(Mutation{ID: 1, Op: OpDelete}); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := p.Add(Mutation{ID: 1, Op: OpDelete}); err == nil {
		t.Fatal("expected error adding a duplicate id")
	}
}

func TestNextBatchStepDrainsAndConsolidates(t *testing.T) {
	p := New()
	p.Add(Mutation{ID: 1, Op: OpInsert, Data: encodeFloats(1, 2)})
	p.Add(Mutation{ID: 2, Op: OpDelete})

	// the queued insert carries id 1, so the fake must hand out 1 next.
	g := &fakeGraph{nextID: 1}
	budget := NewCountingBudget(100)

	res := NextBatchStep(p, g, budget, 10)
	if res.Exhausted {
		t.Fatal("did not expect budget exhaustion")
	}
	if res.Remaining != 0 {
		t.Fatalf("expected queue to fully drain, %d remaining", res.Remaining)
	}
	if len(g.inserted) != 1 || g.inserted[0] != 1 {
		t.Fatalf("expected id 1 inserted, got %v", g.inserted)
	}
	if len(g.suspected) != 1 || g.suspected[0] != 2 {
		t.Fatalf("expected id 2 suspected, got %v", g.suspected)
	}
	if g.consolidated != 1 {
		t.Fatalf("expected consolidation once the queue drained, got %d calls", g.consolidated)
	}
}

func TestNextBatchStepMaxIterOneBailsOut(t *testing.T) {
	p := New()
	p.Add(Mutation{ID: 1, Op: OpDelete})
	p.Add(Mutation{ID: 2, Op: OpDelete})
	p.Add(Mutation{ID: 3, Op: OpDelete})

	g := &fakeGraph{}
	budget := NewCountingBudget(100)

	res := NextBatchStep(p, g, budget, 1)
	if res.Applied != 1 {
		t.Fatalf("expected exactly 1 mutation applied with max_iter=1, got %d", res.Applied)
	}
	if res.Remaining != 2 {
		t.Fatalf("expected 2 remaining, got %d", res.Remaining)
	}
	if g.consolidated != 0 {
		t.Fatal("did not expect consolidation before the queue fully drains")
	}
}

func TestNextBatchStepBudgetExhaustion(t *testing.T) {
	p := New()
	p.Add(Mutation{ID: 1, Op: OpDelete})
	p.Add(Mutation{ID: 2, Op: OpDelete})

	g := &fakeGraph{}
	budget := NewCountingBudget(1) // enough for exactly one mutation

	res := NextBatchStep(p, g, budget, 10)
	if !res.Exhausted {
		t.Fatal("expected budget exhaustion to be reported")
	}
	if res.Applied != 1 {
		t.Fatalf("expected 1 mutation applied before exhaustion, got %d", res.Applied)
	}
	if res.Remaining != 1 {
		t.Fatalf("expected 1 remaining, got %d", res.Remaining)
	}
}

func TestCountingBudgetSpendAndRemaining(t *testing.T) {
	b := NewCountingBudget(5)
	for i := 0; i < 5; i++ {
		if !b.Spend(1) {
			t.Fatalf("spend %d should have succeeded", i)
		}
	}
	if b.Spend(1) {
		t.Fatal("expected spend to fail once the budget is exhausted")
	}
	if b.Remaining() != 0 {
		t.Fatalf("expected 0 remaining, got %d", b.Remaining())
	}
}
