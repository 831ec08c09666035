// Package chunkloader implements the three-stream chunked bootstrap
// protocol from SPEC_FULL.md section 4.3: independent Graph/DataMap/
// Backlinks upload streams, each tracked by a received-chunk bitmap held
// in the metadata cell, writing directly into the corresponding
// segment.Segment.
package chunkloader

import (
	"github.com/pkg/errors"

	"github.com/clankpan/vectune/pkg/metacell"
	"github.com/clankpan/vectune/pkg/segment"
)

// MissingChunksWindow is W from SPEC_FULL.md section 4.3: the page size
// used to paginate missing_chunks responses around per-call output
// limits.
const MissingChunksWindow = 2 << 20 // 2 MiB

// Loader drives the chunked upload state machine on top of a metacell
// and the four-segment store.
type Loader struct {
	cell  *metacell.Cell
	store *segment.Store
}

// New returns a Loader over cell and store.
func New(cell *metacell.Cell, store *segment.Store) *Loader {
	return &Loader{cell: cell, store: store}
}

// StartLoading allocates the three received-bitmaps and grows each stream
// segment to hold ng/nd/nb chunks of chunkSize bytes, then transitions
// Initial → Loading. Traps (via metacell) if not currently Initial.
func (l *Loader) StartLoading(ng, nd, nb uint32, chunkSize uint64, dbKey string, medoid, numVectors, vectorDim, edgeDegrees uint32) error {
	l.cell.StartLoading(ng, nd, nb, chunkSize, dbKey, medoid, numVectors, vectorDim, edgeDegrees)

	for stream, n := range map[segment.Stream]uint32{
		segment.StreamGraph:     ng,
		segment.StreamDataMap:   nd,
		segment.StreamBacklinks: nb,
	} {
		if err := growStream(l.store.ByStream(stream), n, chunkSize); err != nil {
			return err
		}
	}
	return nil
}

func growStream(seg *segment.Segment, n uint32, chunkSize uint64) error {
	total := uint64(n) * chunkSize
	pages := total / segment.PageSize
	if total%segment.PageSize != 0 {
		pages++
	}
	return seg.GrowTo(pages)
}

// UploadChunk writes bytes to the named stream's segment at
// index*chunkSize and marks the chunk received. Idempotent: re-uploading
// an index overwrites the bytes (last write wins) but the bitmap bit was
// already set. Traps if not currently Loading.
func (l *Loader) UploadChunk(stream segment.Stream, index uint32, data []byte) error {
	st := l.cell.State()
	if st.Kind != metacell.KindLoading {
		panic(&metacell.TransitionError{From: st.Kind, Op: "upload_chunk"})
	}
	if uint64(len(data)) > st.ChunkSize {
		return errors.Errorf("chunkloader: chunk %d bytes exceeds chunk_size %d", len(data), st.ChunkSize)
	}
	off := uint64(index) * st.ChunkSize
	seg := l.store.ByStream(stream)
	if err := seg.EnsureCovers(off, uint64(len(data))); err != nil {
		return err
	}
	seg.Write(off, data)
	l.cell.MarkChunkReceived(stream, index)
	return nil
}

// MissingChunks returns the serialized received-bitmap slice
// [section*W, (section+1)*W) for stream, or nil (the empty sentinel) once
// section is past the end of the bitmap.
func (l *Loader) MissingChunks(stream segment.Stream, section uint64) []byte {
	full := l.cell.Bitmap(stream)
	start := section * MissingChunksWindow
	if start >= uint64(len(full)) {
		return nil
	}
	end := start + MissingChunksWindow
	if end > uint64(len(full)) {
		end = uint64(len(full))
	}
	return full[start:end]
}

// StartRunning transitions Loading → Running once every stream's bitmap
// is fully set, recovering the node count from the NodeStore header
// already present in the graph segment and seeding next_free_id from it.
func (l *Loader) StartRunning(numVectorsFromHeader uint32) {
	l.cell.StartRunning(numVectorsFromHeader)
}
