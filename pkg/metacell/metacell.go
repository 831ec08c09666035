// Package metacell implements the metadata cell: the singleton tagged
// record (None | Initial | Loading | Running) that SPEC_FULL.md sections
// 3 and 4.3 describe, persisted as one length-prefixed blob inside its
// own segment.Segment. Only the transitions the spec lists are legal;
// anything else is a trap (a panic carrying *TransitionError, recovered
// at the engine's single call boundary).
package metacell

import (
	"encoding/binary"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"

	"github.com/clankpan/vectune/pkg/segment"
)

// Kind discriminates the tagged union's active variant.
type Kind uint32

const (
	KindNone Kind = iota
	KindInitial
	KindLoading
	KindRunning
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInitial:
		return "initial"
	case KindLoading:
		return "loading"
	case KindRunning:
		return "running"
	default:
		return "unknown"
	}
}

// StatusCode maps Kind to the host RPC's numeric status (0/1/2); None
// reports as Initial's code since no RPC observes None externally.
func (k Kind) StatusCode() int {
	switch k {
	case KindLoading:
		return 1
	case KindRunning:
		return 2
	default:
		return 0
	}
}

// State holds every field any variant might carry. Unused fields for the
// current Kind are zero. Go has no sum type, so this struct plus Kind is
// this codebase's rendering of the tagged union.
type State struct {
	Kind Kind

	Name, Version, DBKey string

	// Loading-only.
	ChunkSize                                      uint64
	ReceivedGraph, ReceivedDataMap, ReceivedBacklinks *bitset.BitSet

	// Shared by Loading and Running (populated once the bootstrap
	// composite header is known).
	Medoid, NumVectors, VectorDim, EdgeDegrees uint32

	// Running-only.
	NextFreeID uint32
}

// TransitionError reports an attempted transition the state machine does
// not allow.
type TransitionError struct {
	From Kind
	Op   string
}

func (e *TransitionError) Error() string {
	return errors.Errorf("metacell: %s not legal from state %s", e.Op, e.From).Error()
}

func trap(from Kind, op string) {
	panic(&TransitionError{From: from, Op: op})
}

// Cell is the metadata cell: current State plus the segment it persists
// into.
type Cell struct {
	seg   *segment.Segment
	state State
}

// New creates a Cell over an empty segment, starting in KindNone and
// immediately transitioning to Initial, matching the host's "None →
// Initial (at init)" transition.
func New(seg *segment.Segment, name, version string) *Cell {
	c := &Cell{seg: seg, state: State{Kind: KindNone}}
	c.state = State{Kind: KindInitial, Name: name, Version: version}
	c.save()
	return c
}

// Open reconstructs a Cell from bytes already present in seg.
func Open(seg *segment.Segment) (*Cell, error) {
	c := &Cell{seg: seg}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

// State returns a copy of the current state.
func (c *Cell) State() State { return c.state }

// Kind returns the current variant discriminator.
func (c *Cell) Kind() Kind { return c.state.Kind }

// StartLoading transitions Initial → Loading. Traps if not in Initial.
func (c *Cell) StartLoading(ng, nd, nb uint32, chunkSize uint64, dbKey string, medoid, numVectors, vectorDim, edgeDegrees uint32) {
	if c.state.Kind != KindInitial {
		trap(c.state.Kind, "start_loading")
	}
	c.state = State{
		Kind:              KindLoading,
		Name:              c.state.Name,
		Version:           c.state.Version,
		DBKey:             dbKey,
		ChunkSize:         chunkSize,
		ReceivedGraph:     bitset.New(uint(ng)),
		ReceivedDataMap:   bitset.New(uint(nd)),
		ReceivedBacklinks: bitset.New(uint(nb)),
		Medoid:            medoid,
		NumVectors:        numVectors,
		VectorDim:         vectorDim,
		EdgeDegrees:       edgeDegrees,
	}
	c.save()
}

// MarkChunkReceived requires Loading; it is the chunkloader's hook for
// recording that a chunk index has been uploaded for one stream.
func (c *Cell) MarkChunkReceived(stream segment.Stream, index uint32) {
	if c.state.Kind != KindLoading {
		trap(c.state.Kind, "upload_chunk")
	}
	c.bitsetFor(stream).Set(uint(index))
	c.save()
}

// ChunkReceived reports whether a chunk index was already uploaded.
func (c *Cell) ChunkReceived(stream segment.Stream, index uint32) bool {
	if c.state.Kind != KindLoading {
		trap(c.state.Kind, "missing_chunks")
	}
	return c.bitsetFor(stream).Test(uint(index))
}

// Bitmap returns the raw serialized received-bitmap for one stream, used
// by missing_chunks' pagination.
func (c *Cell) Bitmap(stream segment.Stream) []byte {
	if c.state.Kind != KindLoading {
		trap(c.state.Kind, "missing_chunks")
	}
	buf, err := c.bitsetFor(stream).MarshalBinary()
	if err != nil {
		panic(errors.Wrap(err, "metacell: marshal bitmap"))
	}
	return buf
}

func (c *Cell) bitsetFor(stream segment.Stream) *bitset.BitSet {
	switch stream {
	case segment.StreamGraph:
		return c.state.ReceivedGraph
	case segment.StreamDataMap:
		return c.state.ReceivedDataMap
	case segment.StreamBacklinks:
		return c.state.ReceivedBacklinks
	default:
		panic(errors.Errorf("metacell: unknown stream %d", stream))
	}
}

// AllReceived reports whether every bit in every stream's bitmap is set,
// the precondition for start_running.
func (c *Cell) AllReceived() bool {
	if c.state.Kind != KindLoading {
		return false
	}
	for _, bs := range []*bitset.BitSet{c.state.ReceivedGraph, c.state.ReceivedDataMap, c.state.ReceivedBacklinks} {
		if bs.Len() == 0 {
			continue
		}
		if bs.Count() != bs.Len() {
			return false
		}
	}
	return true
}

// StartRunning transitions Loading → Running. Traps if not Loading or if
// any chunk bitmap is incomplete.
func (c *Cell) StartRunning(nextFreeID uint32) {
	if c.state.Kind != KindLoading {
		trap(c.state.Kind, "start_running")
	}
	if !c.AllReceived() {
		trap(c.state.Kind, "start_running: incomplete upload")
	}
	c.state = State{
		Kind:        KindRunning,
		Name:        c.state.Name,
		Version:     c.state.Version,
		DBKey:       c.state.DBKey,
		Medoid:      c.state.Medoid,
		NumVectors:  c.state.NumVectors,
		VectorDim:   c.state.VectorDim,
		EdgeDegrees: c.state.EdgeDegrees,
		NextFreeID:  nextFreeID,
	}
	c.save()
}

// NextID allocates and persists the next free node id.
func (c *Cell) NextID() uint32 {
	if c.state.Kind != KindRunning {
		trap(c.state.Kind, "alloc")
	}
	id := c.state.NextFreeID
	c.state.NextFreeID++
	c.save()
	return id
}

// Reset transitions {Loading|Running} → Initial, preserving name/version.
func (c *Cell) Reset() {
	if c.state.Kind != KindLoading && c.state.Kind != KindRunning {
		trap(c.state.Kind, "reset")
	}
	c.state = State{Kind: KindInitial, Name: c.state.Name, Version: c.state.Version}
	c.save()
}

// RequireRunning traps unless the cell is in Running, for operations
// (search, set_payload, next_batch_step) that only make sense once live.
func (c *Cell) RequireRunning(op string) {
	if c.state.Kind != KindRunning {
		trap(c.state.Kind, op)
	}
}

// --- persistence ---
//
// The cell is serialized as a 4-byte discriminator followed by a
// variant-specific payload, exactly as SPEC_FULL.md section 6 specifies
// for the on-segment metadata cell format.

func (c *Cell) save() {
	var buf []byte
	buf = put32(buf, uint32(c.state.Kind))
	buf = putString(buf, c.state.Name)
	buf = putString(buf, c.state.Version)

	switch c.state.Kind {
	case KindInitial:
		// no further fields
	case KindLoading:
		buf = putString(buf, c.state.DBKey)
		buf = put64(buf, c.state.ChunkSize)
		buf = put32(buf, c.state.Medoid)
		buf = put32(buf, c.state.NumVectors)
		buf = put32(buf, c.state.VectorDim)
		buf = put32(buf, c.state.EdgeDegrees)
		buf = putBitset(buf, c.state.ReceivedGraph)
		buf = putBitset(buf, c.state.ReceivedDataMap)
		buf = putBitset(buf, c.state.ReceivedBacklinks)
	case KindRunning:
		buf = putString(buf, c.state.DBKey)
		buf = put32(buf, c.state.Medoid)
		buf = put32(buf, c.state.NumVectors)
		buf = put32(buf, c.state.VectorDim)
		buf = put32(buf, c.state.EdgeDegrees)
		buf = put32(buf, c.state.NextFreeID)
	}

	if err := c.seg.EnsureCovers(0, 4+uint64(len(buf))); err != nil {
		panic(errors.Wrap(err, "metacell: grow"))
	}
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(buf)))
	c.seg.Write(0, lenPrefix[:])
	c.seg.Write(4, buf)
}

func (c *Cell) load() error {
	if c.seg.Size() < 4 {
		c.state = State{Kind: KindNone}
		return nil
	}
	lenPrefix := c.seg.Read(0, 4)
	n := binary.LittleEndian.Uint32(lenPrefix)
	if n == 0 {
		c.state = State{Kind: KindNone}
		return nil
	}
	buf := c.seg.Read(4, uint64(n))

	r := &reader{buf: buf}
	kind := Kind(r.get32())
	name := r.getString()
	version := r.getString()

	st := State{Kind: kind, Name: name, Version: version}
	switch kind {
	case KindInitial:
	case KindLoading:
		st.DBKey = r.getString()
		st.ChunkSize = r.get64()
		st.Medoid = r.get32()
		st.NumVectors = r.get32()
		st.VectorDim = r.get32()
		st.EdgeDegrees = r.get32()
		st.ReceivedGraph = r.getBitset()
		st.ReceivedDataMap = r.getBitset()
		st.ReceivedBacklinks = r.getBitset()
	case KindRunning:
		st.DBKey = r.getString()
		st.Medoid = r.get32()
		st.NumVectors = r.get32()
		st.VectorDim = r.get32()
		st.EdgeDegrees = r.get32()
		st.NextFreeID = r.get32()
	}
	if r.err != nil {
		return errors.Wrap(r.err, "metacell: decode")
	}
	c.state = st
	return nil
}

func put32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func put64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func putString(buf []byte, s string) []byte {
	buf = put32(buf, uint32(len(s)))
	return append(buf, s...)
}

func putBitset(buf []byte, bs *bitset.BitSet) []byte {
	raw, err := bs.MarshalBinary()
	if err != nil {
		panic(errors.Wrap(err, "metacell: marshal bitset"))
	}
	buf = put32(buf, uint32(len(raw)))
	return append(buf, raw...)
}

type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) need(n int) []byte {
	if r.err != nil || r.pos+n > len(r.buf) {
		if r.err == nil {
			r.err = errors.New("metacell: truncated record")
		}
		return make([]byte, n)
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out
}

func (r *reader) get32() uint32 {
	return binary.LittleEndian.Uint32(r.need(4))
}

func (r *reader) get64() uint64 {
	return binary.LittleEndian.Uint64(r.need(8))
}

func (r *reader) getString() string {
	n := r.get32()
	return string(r.need(int(n)))
}

func (r *reader) getBitset() *bitset.BitSet {
	n := r.get32()
	raw := r.need(int(n))
	bs := &bitset.BitSet{}
	if err := bs.UnmarshalBinary(raw); err != nil && r.err == nil {
		r.err = errors.Wrap(err, "metacell: unmarshal bitset")
	}
	return bs
}
