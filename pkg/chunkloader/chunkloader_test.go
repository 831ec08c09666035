package chunkloader

import (
	"bytes"
	"testing"

	"github.com/clankpan/vectune/pkg/metacell"
	"github.com/clankpan/vectune/pkg/segment"
)

func newLoader() (*Loader, *segment.Store) {
	store := segment.NewStore()
	cell := metacell.New(store.Metadata, "idx", "v1")
	return New(cell, store), store
}

func TestStartLoadingGrowsAllThreeStreams(t *testing.T) {
	l, store := newLoader()
	if err := l.StartLoading(2, 1, 3, 1024, "key", 0, 0, 4, 8); err != nil {
		t.Fatalf("start loading: %v", err)
	}
	if store.Graph.Size() == 0 {
		t.Fatal("expected graph segment to have grown")
	}
	if store.DataMap.Size() == 0 {
		t.Fatal("expected data map segment to have grown")
	}
	if store.Backlinks.Size() == 0 {
		t.Fatal("expected backlinks segment to have grown")
	}
}

func TestUploadChunkWritesBytesAndMarksReceived(t *testing.T) {
	l, store := newLoader()
	l.StartLoading(1, 1, 1, 8, "key", 0, 0, 4, 8)

	payload := []byte("01234567")
	if err := l.UploadChunk(segment.StreamGraph, 0, payload); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if got := store.Graph.Read(0, 8); !bytes.Equal(got, payload) {
		t.Fatalf("graph segment bytes = %q, want %q", got, payload)
	}
	if !l.cell.ChunkReceived(segment.StreamGraph, 0) {
		t.Fatal("expected chunk 0 to be marked received")
	}
}

func TestUploadChunkRejectsOversizedChunk(t *testing.T) {
	l, _ := newLoader()
	l.StartLoading(1, 1, 1, 4, "key", 0, 0, 4, 8)
	if err := l.UploadChunk(segment.StreamGraph, 0, []byte("too many bytes")); err == nil {
		t.Fatal("expected error uploading a chunk larger than chunk_size")
	}
}

func TestMissingChunksPaginatesAndTerminates(t *testing.T) {
	l, _ := newLoader()
	l.StartLoading(4, 0, 0, 16, "key", 0, 0, 4, 8)

	first := l.MissingChunks(segment.StreamGraph, 0)
	if first == nil {
		t.Fatal("expected a non-nil bitmap for section 0")
	}

	// Far past the end of the bitmap: the sentinel for "done paging".
	if got := l.MissingChunks(segment.StreamGraph, 1<<20); got != nil {
		t.Fatalf("expected nil past the end of the bitmap, got %v", got)
	}
}

func TestStartRunningRequiresFullUpload(t *testing.T) {
	l, _ := newLoader()
	l.StartLoading(1, 1, 1, 8, "key", 0, 3, 4, 8)
	l.UploadChunk(segment.StreamGraph, 0, []byte("12345678"))
	l.UploadChunk(segment.StreamDataMap, 0, []byte("12345678"))
	// backlinks chunk never uploaded.

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic starting running before every stream is fully received")
		}
	}()
	l.StartRunning(3)
}
