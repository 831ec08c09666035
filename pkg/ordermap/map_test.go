// ABOUTME: integration tests for the segment-backed ordered map
// ABOUTME: covers insert/get/delete and the self-describing Open round trip

package ordermap

import (
	"fmt"
	"testing"

	"github.com/clankpan/vectune/pkg/segment"
)

func TestSetGetDelete(t *testing.T) {
	m, err := New(segment.New())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	m.Set(1, []byte("one"))
	m.Set(2, []byte("two"))

	if v, ok := m.Get(1); !ok || string(v) != "one" {
		t.Fatalf("get(1) = %q, %v", v, ok)
	}
	if !m.Delete(1) {
		t.Fatal("expected delete(1) to report present")
	}
	if _, ok := m.Get(1); ok {
		t.Fatal("expected get(1) to miss after delete")
	}
	if v, ok := m.Get(2); !ok || string(v) != "two" {
		t.Fatalf("get(2) = %q, %v", v, ok)
	}
}

func TestOpenReconstructsFromSegmentBytes(t *testing.T) {
	seg := segment.New()
	m, err := New(seg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for i := uint32(0); i < 50; i++ {
		m.Set(i, []byte(fmt.Sprintf("val-%d", i)))
	}

	reopened, err := Open(seg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if reopened.Len() != 50 {
		t.Fatalf("expected 50 entries after reopen, got %d", reopened.Len())
	}
	if v, ok := reopened.Get(25); !ok || string(v) != "val-25" {
		t.Fatalf("get(25) after reopen = %q, %v", v, ok)
	}
}

func TestIterateAscendingOrder(t *testing.T) {
	m, _ := New(segment.New())
	ids := []uint32{40, 10, 30, 20}
	for _, id := range ids {
		m.Set(id, []byte{byte(id)})
	}

	var seen []uint32
	m.Iterate(func(id uint32, _ []byte) bool {
		seen = append(seen, id)
		return true
	})

	want := []uint32{10, 20, 30, 40}
	if len(seen) != len(want) {
		t.Fatalf("got %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("got %v, want %v", seen, want)
		}
	}
}

func TestPopFirst(t *testing.T) {
	m, _ := New(segment.New())
	m.Set(5, []byte("five"))
	m.Set(1, []byte("one"))

	id, val, ok := m.PopFirst()
	if !ok || id != 1 || string(val) != "one" {
		t.Fatalf("pop first = %d %q %v", id, val, ok)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 entry remaining, got %d", m.Len())
	}
}

func TestManyInsertsForcePageSplits(t *testing.T) {
	m, _ := New(segment.New())
	const n = 2000
	for i := uint32(0); i < n; i++ {
		m.Set(i, make([]byte, 64))
	}
	if m.Len() != n {
		t.Fatalf("expected %d entries, got %d", n, m.Len())
	}
	for _, id := range []uint32{0, 999, 1999} {
		if _, ok := m.Get(id); !ok {
			t.Fatalf("missing id %d after bulk insert", id)
		}
	}
}
