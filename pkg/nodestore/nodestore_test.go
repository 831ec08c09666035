package nodestore

import (
	"reflect"
	"testing"

	"github.com/clankpan/vectune/pkg/segment"
)

func TestWriteReadRoundTrip(t *testing.T) {
	seg := segment.New()
	store, err := New(seg, 4, 3, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	vec := []float32{1, 2, 3, 4}
	edges := []uint32{5, 6}
	if err := store.WriteNode(0, vec, edges); err != nil {
		t.Fatalf("write: %v", err)
	}

	rec := store.ReadNode(0)
	if !reflect.DeepEqual(rec.Vector, vec) {
		t.Fatalf("vector mismatch: got %v want %v", rec.Vector, vec)
	}
	if !reflect.DeepEqual(rec.Edges, edges) {
		t.Fatalf("edges mismatch: got %v want %v", rec.Edges, edges)
	}
}

func TestOpenReconstructsFromBytes(t *testing.T) {
	seg := segment.New()
	store, err := New(seg, 2, 4, 7)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	store.WriteNode(7, []float32{0.5, 0.25}, []uint32{1, 2, 3})

	reopened, err := Open(seg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if reopened.D() != 2 || reopened.K() != 4 || reopened.StartID() != 7 {
		t.Fatalf("header mismatch: D=%d K=%d start=%d", reopened.D(), reopened.K(), reopened.StartID())
	}
	rec := reopened.ReadNode(7)
	if len(rec.Vector) != 2 || len(rec.Edges) != 3 {
		t.Fatalf("reopened record shape mismatch: %+v", rec)
	}
}

func TestWriteNodeRejectsOversizedEdges(t *testing.T) {
	seg := segment.New()
	store, _ := New(seg, 2, 2, 0)
	if err := store.WriteNode(0, []float32{1, 2}, []uint32{1, 2, 3}); err == nil {
		t.Fatal("expected error for edge list exceeding K")
	}
}

func TestWriteNodeRejectsWrongDimension(t *testing.T) {
	seg := segment.New()
	store, _ := New(seg, 2, 2, 0)
	if err := store.WriteNode(0, []float32{1, 2, 3}, nil); err == nil {
		t.Fatal("expected error for vector with wrong dimension")
	}
}

func TestNumNodesTracksHighWaterMark(t *testing.T) {
	seg := segment.New()
	store, _ := New(seg, 1, 2, 0)
	store.WriteNode(0, []float32{1}, nil)
	store.WriteNode(3, []float32{2}, nil)
	if store.NumNodes() != 4 {
		t.Fatalf("expected num_vectors 4 after writing id 3, got %d", store.NumNodes())
	}
}
