package segment

import "testing"

func TestGrowAndRead(t *testing.T) {
	s := New()
	prior, err := s.Grow(2)
	if err != nil {
		t.Fatalf("grow: %v", err)
	}
	if prior != 0 {
		t.Fatalf("expected prior page count 0, got %d", prior)
	}
	if s.SizePages() != 2 {
		t.Fatalf("expected 2 pages, got %d", s.SizePages())
	}

	s.Write(10, []byte("hello"))
	if got := s.Read(10, 5); string(got) != "hello" {
		t.Fatalf("read back %q", got)
	}
}

func TestReadOutOfRangeTraps(t *testing.T) {
	s := New()
	s.Grow(1)
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic on out-of-range read")
		}
		if _, ok := r.(*ErrOutOfRange); !ok {
			t.Fatalf("expected *ErrOutOfRange, got %T", r)
		}
	}()
	s.Read(PageSize-1, 10)
}

func TestEnsureCoversGrowsLazily(t *testing.T) {
	s := New()
	if err := s.EnsureCovers(PageSize+100, 8); err != nil {
		t.Fatalf("ensure covers: %v", err)
	}
	if s.SizePages() != 2 {
		t.Fatalf("expected 2 pages after covering into the second page, got %d", s.SizePages())
	}
}

func TestSnapshotRestore(t *testing.T) {
	s := New()
	s.Grow(1)
	s.Write(0, []byte("before"))
	snap := s.Snapshot()

	s.Write(0, []byte("after!"))
	if got := s.Read(0, 6); string(got) != "after!" {
		t.Fatalf("expected mutated content, got %q", got)
	}

	s.Restore(snap)
	if got := s.Read(0, 6); string(got) != "before" {
		t.Fatalf("expected restored content, got %q", got)
	}
}

func TestStoreByStream(t *testing.T) {
	st := NewStore()
	if st.ByStream(StreamGraph) != st.Graph {
		t.Fatal("StreamGraph should resolve to Graph segment")
	}
	if st.ByStream(StreamBacklinks) != st.Backlinks {
		t.Fatal("StreamBacklinks should resolve to Backlinks segment")
	}
}
