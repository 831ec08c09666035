package metacell

import (
	"testing"

	"github.com/clankpan/vectune/pkg/segment"
)

func TestNewStartsInitial(t *testing.T) {
	c := New(segment.New(), "idx", "v1")
	if c.Kind() != KindInitial {
		t.Fatalf("expected Initial, got %s", c.Kind())
	}
}

func TestIllegalTransitionTraps(t *testing.T) {
	c := New(segment.New(), "idx", "v1")
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic calling start_running before start_loading")
		}
		if _, ok := r.(*TransitionError); !ok {
			t.Fatalf("expected *TransitionError, got %T", r)
		}
	}()
	c.StartRunning(0)
}

func TestBootstrapHappyPath(t *testing.T) {
	c := New(segment.New(), "idx", "v1")
	c.StartLoading(2, 1, 1, 64, "key", 0, 3, 4, 8)
	if c.Kind() != KindLoading {
		t.Fatalf("expected Loading, got %s", c.Kind())
	}

	c.MarkChunkReceived(segment.StreamGraph, 0)
	c.MarkChunkReceived(segment.StreamGraph, 1)
	c.MarkChunkReceived(segment.StreamDataMap, 0)
	c.MarkChunkReceived(segment.StreamBacklinks, 0)

	if !c.AllReceived() {
		t.Fatal("expected AllReceived once every bit is set")
	}

	c.StartRunning(3)
	if c.Kind() != KindRunning {
		t.Fatalf("expected Running, got %s", c.Kind())
	}
	if id := c.NextID(); id != 3 {
		t.Fatalf("expected first allocated id 3, got %d", id)
	}
	if id := c.NextID(); id != 4 {
		t.Fatalf("expected second allocated id 4, got %d", id)
	}
}

func TestStartRunningTrapsOnIncompleteUpload(t *testing.T) {
	c := New(segment.New(), "idx", "v1")
	c.StartLoading(2, 1, 1, 64, "key", 0, 3, 4, 8)
	c.MarkChunkReceived(segment.StreamGraph, 0)
	// graph chunk 1, data-map chunk 0, backlinks chunk 0 never arrive.

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic starting running with an incomplete upload")
		}
	}()
	c.StartRunning(3)
}

func TestResetReturnsToInitial(t *testing.T) {
	c := New(segment.New(), "idx", "v1")
	c.StartLoading(0, 0, 0, 64, "key", 0, 0, 4, 8)
	c.Reset()
	if c.Kind() != KindInitial {
		t.Fatalf("expected Initial after reset, got %s", c.Kind())
	}
}

func TestOpenRoundTripsThroughSegmentBytes(t *testing.T) {
	seg := segment.New()
	c := New(seg, "idx", "v1")
	c.StartLoading(1, 1, 1, 32, "key", 5, 2, 4, 8)
	c.MarkChunkReceived(segment.StreamGraph, 0)

	reopened, err := Open(seg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if reopened.Kind() != KindLoading {
		t.Fatalf("expected Loading after reopen, got %s", reopened.Kind())
	}
	if reopened.ChunkReceived(segment.StreamGraph, 0) != true {
		t.Fatal("expected graph chunk 0 to still be marked received")
	}
	if reopened.ChunkReceived(segment.StreamDataMap, 0) != false {
		t.Fatal("expected data-map chunk 0 to still be unreceived")
	}
}

func TestStatusCode(t *testing.T) {
	cases := []struct {
		kind Kind
		code int
	}{
		{KindInitial, 0},
		{KindLoading, 1},
		{KindRunning, 2},
	}
	for _, c := range cases {
		if got := c.kind.StatusCode(); got != c.code {
			t.Errorf("%s.StatusCode() = %d, want %d", c.kind, got, c.code)
		}
	}
}
