// Package segment implements the growable, page-aligned byte region that
// backs every other persistent structure in this repository: the node
// store, the ordered map, the metadata cell, and the chunk loader streams
// all address one of these regions rather than a file or a raw slice.
package segment

import (
	"sync"

	"github.com/pkg/errors"
)

// PageSize is the host page granularity. Segments only ever grow by whole
// pages; nothing below this package reasons about partial pages.
const PageSize = 65536

// maxPages bounds how large a single segment is allowed to grow. It stands
// in for the host's usize::MAX overflow check; a real 64-bit address space
// would never hit this in practice, but Grow must still refuse politely
// rather than silently wrap.
const maxPages = (1 << 40) / PageSize

// ErrOverflow is returned by Grow when the requested growth would push the
// segment past the maximum addressable size.
var ErrOverflow = errors.New("segment: grow would overflow maximum size")

// ErrOutOfRange describes a Read/ReadInto/Write whose window falls outside
// the currently allocated region. On the host this condition traps; in
// this codebase those methods panic with an *ErrOutOfRange (they never
// return it) so the engine's single recovery point can turn it into a
// returned error.
type ErrOutOfRange struct {
	Op          string
	Offset, Len uint64
	Size        uint64
}

func (e *ErrOutOfRange) Error() string {
	return errors.Errorf("segment: %s out of range: offset=%d len=%d size=%d",
		e.Op, e.Offset, e.Len, e.Size).Error()
}

// Segment is a growable byte region addressed by (offset, length). It owns
// no identity of its own beyond the bytes it holds; the Store below is
// what assigns segments their roles (graph, data map, backlinks, metadata).
type Segment struct {
	mu   sync.RWMutex
	data []byte
}

// New returns an empty segment (zero pages).
func New() *Segment {
	return &Segment{}
}

// SizePages reports how many pages the segment currently spans.
func (s *Segment) SizePages() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.data)) / PageSize
}

// Size reports the segment length in bytes.
func (s *Segment) Size() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.data))
}

// Grow extends the segment by k pages of zero bytes and returns the page
// count the segment had before growing. It returns ErrOverflow, without
// mutating the segment, if growing would exceed maxPages.
func (s *Segment) Grow(pages uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prior := uint64(len(s.data)) / PageSize
	if prior+pages > maxPages {
		return 0, ErrOverflow
	}
	s.data = append(s.data, make([]byte, pages*PageSize)...)
	return prior, nil
}

// GrowTo ensures the segment spans at least n pages, growing if needed. It
// is a convenience used by components that only know the offset they need
// to address, not how many pages that represents.
func (s *Segment) GrowTo(pages uint64) error {
	cur := s.SizePages()
	if cur >= pages {
		return nil
	}
	_, err := s.Grow(pages - cur)
	return err
}

// EnsureCovers grows the segment, if necessary, so that byte offset
// off+n-1 is addressable.
func (s *Segment) EnsureCovers(off, n uint64) error {
	need := off + n
	pages := need / PageSize
	if need%PageSize != 0 {
		pages++
	}
	return s.GrowTo(pages)
}

// Read copies n bytes starting at off into a new slice. It panics with
// *ErrOutOfRange (the host's trap) if the window is not fully resident.
func (s *Segment) Read(off, n uint64) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if off+n > uint64(len(s.data)) {
		panic(&ErrOutOfRange{Op: "read", Offset: off, Len: n, Size: uint64(len(s.data))})
	}
	out := make([]byte, n)
	copy(out, s.data[off:off+n])
	return out
}

// ReadInto copies len(dst) bytes starting at off into dst.
func (s *Segment) ReadInto(off uint64, dst []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := uint64(len(dst))
	if off+n > uint64(len(s.data)) {
		panic(&ErrOutOfRange{Op: "read", Offset: off, Len: n, Size: uint64(len(s.data))})
	}
	copy(dst, s.data[off:off+n])
}

// Write copies src into the segment starting at off. It panics with
// *ErrOutOfRange if the window is not fully resident; callers that might
// be writing past the current end must call EnsureCovers/Grow first.
func (s *Segment) Write(off uint64, src []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := uint64(len(src))
	if off+n > uint64(len(s.data)) {
		panic(&ErrOutOfRange{Op: "write", Offset: off, Len: n, Size: uint64(len(s.data))})
	}
	copy(s.data[off:off+n], src)
}

// Snapshot returns a copy of the current bytes, used by the engine to save
// and restore state around a call that might trap (see engine.Engine.Call).
func (s *Segment) Snapshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out
}

// Restore replaces the segment's bytes with a previously taken snapshot.
func (s *Segment) Restore(snap []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make([]byte, len(snap))
	copy(s.data, snap)
}

// Stream identifies one of the three bootstrap upload streams. The
// metadata segment is not an upload stream and has no Stream value; it is
// reached through Store.Metadata directly.
type Stream int

const (
	StreamGraph Stream = iota
	StreamDataMap
	StreamBacklinks
)

func (s Stream) String() string {
	switch s {
	case StreamGraph:
		return "graph"
	case StreamDataMap:
		return "datamap"
	case StreamBacklinks:
		return "backlinks"
	default:
		return "unknown"
	}
}

// Store bundles the four named segments that make up an engine's entire
// durable state, per SPEC_FULL.md's "Global mutable state" design note:
// graph, data map, backlinks, and the metadata cell, each independently
// growable.
type Store struct {
	Graph     *Segment
	DataMap   *Segment
	Backlinks *Segment
	Metadata  *Segment
}

// NewStore returns a Store with four freshly allocated, empty segments.
func NewStore() *Store {
	return &Store{
		Graph:     New(),
		DataMap:   New(),
		Backlinks: New(),
		Metadata:  New(),
	}
}

// storeSnapshot holds a point-in-time copy of all four segments, used by
// the engine to roll back a trapped call in one shot.
type storeSnapshot struct {
	graph, dataMap, backlinks, metadata []byte
}

// Snapshot copies all four segments' bytes.
func (st *Store) Snapshot() *storeSnapshot {
	return &storeSnapshot{
		graph:     st.Graph.Snapshot(),
		dataMap:   st.DataMap.Snapshot(),
		backlinks: st.Backlinks.Snapshot(),
		metadata:  st.Metadata.Snapshot(),
	}
}

// Restore replaces all four segments' bytes with a previously taken
// Snapshot.
func (st *Store) Restore(snap *storeSnapshot) {
	st.Graph.Restore(snap.graph)
	st.DataMap.Restore(snap.dataMap)
	st.Backlinks.Restore(snap.backlinks)
	st.Metadata.Restore(snap.metadata)
}

// ByStream returns the segment backing the named upload stream.
func (st *Store) ByStream(s Stream) *Segment {
	switch s {
	case StreamGraph:
		return st.Graph
	case StreamDataMap:
		return st.DataMap
	case StreamBacklinks:
		return st.Backlinks
	default:
		panic(errors.Errorf("segment: unknown stream %d", s))
	}
}
