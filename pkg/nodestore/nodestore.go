// Package nodestore encodes fixed-stride (vector, edges) node records into
// a segment.Segment, exactly as SPEC_FULL.md section 4.1 and the
// byte-exact format in section 6 describe.
package nodestore

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/clankpan/vectune/pkg/segment"
)

// HeaderSize is the length in bytes of the NodeStore header written at
// offset 0: [u32 num_vectors][u32 D][u32 K][u32 start_id].
const HeaderSize = 16

// Record is the decoded form of one node: its point and its out-edges.
type Record struct {
	Vector []float32
	Edges  []uint32
}

// Store is a NodeStore laid out inside one segment.Segment. D (dimension),
// K (max out-degree) and the record stride are fixed at construction and
// persisted in the header so a Store can be reopened from segment bytes
// alone.
type Store struct {
	seg      *segment.Segment
	d, k     uint32
	stride   uint64
	startID  uint32
	numNodes uint32 // high-water mark of allocated node slots, from header
}

// Stride returns the fixed per-node byte length: 2 + 4*D + 4*K.
func Stride(d, k uint32) uint64 {
	return 2 + 4*uint64(d) + 4*uint64(k)
}

// New creates a fresh NodeStore header in seg (which must be empty) for
// dimension d and max degree k, with the given start id.
func New(seg *segment.Segment, d, k, startID uint32) (*Store, error) {
	if err := seg.EnsureCovers(0, HeaderSize); err != nil {
		return nil, err
	}
	s := &Store{seg: seg, d: d, k: k, stride: Stride(d, k), startID: startID}
	s.writeHeader()
	return s, nil
}

// Open reconstructs a Store purely from the bytes already present in seg
// (the round-trip law required by SPEC_FULL.md section 8).
func Open(seg *segment.Segment) (*Store, error) {
	if seg.Size() < HeaderSize {
		return nil, errors.New("nodestore: segment too small for header")
	}
	hdr := seg.Read(0, HeaderSize)
	numVectors := binary.LittleEndian.Uint32(hdr[0:4])
	d := binary.LittleEndian.Uint32(hdr[4:8])
	k := binary.LittleEndian.Uint32(hdr[8:12])
	startID := binary.LittleEndian.Uint32(hdr[12:16])
	return &Store{
		seg:      seg,
		d:        d,
		k:        k,
		stride:   Stride(d, k),
		startID:  startID,
		numNodes: numVectors,
	}, nil
}

func (s *Store) writeHeader() {
	hdr := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(hdr[0:4], s.numNodes)
	binary.LittleEndian.PutUint32(hdr[4:8], s.d)
	binary.LittleEndian.PutUint32(hdr[8:12], s.k)
	binary.LittleEndian.PutUint32(hdr[12:16], s.startID)
	s.seg.Write(0, hdr)
}

// D returns the vector dimensionality.
func (s *Store) D() uint32 { return s.d }

// K returns the maximum out-degree.
func (s *Store) K() uint32 { return s.k }

// StartID returns the entry-point node id recovered from the header.
func (s *Store) StartID() uint32 { return s.startID }

// NumNodes returns the number of node slots that have been written via
// WriteNode (the NodeStore's own high-water mark, independent of the
// graph engine's free/alloc bookkeeping).
func (s *Store) NumNodes() uint32 { return s.numNodes }

func (s *Store) offset(i uint32) uint64 {
	return HeaderSize + uint64(i)*s.stride
}

// ReadNode decodes node i. It panics (the host trap), via the underlying
// segment's out-of-range panic, if node i's record lies past the end of
// the segment; a slot inside the grown region that was never written
// decodes as a zero vector with no edges.
func (s *Store) ReadNode(i uint32) Record {
	raw := s.seg.Read(s.offset(i), s.stride)
	edgeCount := binary.LittleEndian.Uint16(raw[0:2])
	vec := make([]float32, s.d)
	vpos := 2
	for j := uint32(0); j < s.d; j++ {
		bits := binary.LittleEndian.Uint32(raw[vpos : vpos+4])
		vec[j] = math.Float32frombits(bits)
		vpos += 4
	}
	edges := make([]uint32, edgeCount)
	epos := 2 + 4*int(s.d)
	for j := uint16(0); j < edgeCount; j++ {
		edges[j] = binary.LittleEndian.Uint32(raw[epos : epos+4])
		epos += 4
	}
	return Record{Vector: vec, Edges: edges}
}

// WriteNode encodes and writes node i, growing the segment lazily to cover
// the record's byte range. len(edges) must not exceed K.
func (s *Store) WriteNode(i uint32, vector []float32, edges []uint32) error {
	if uint32(len(vector)) != s.d {
		return errors.Errorf("nodestore: vector length %d != D %d", len(vector), s.d)
	}
	if uint32(len(edges)) > s.k {
		return errors.Errorf("nodestore: %d edges exceeds K=%d", len(edges), s.k)
	}

	off := s.offset(i)
	if err := s.seg.EnsureCovers(off, s.stride); err != nil {
		return err
	}

	raw := make([]byte, s.stride)
	binary.LittleEndian.PutUint16(raw[0:2], uint16(len(edges)))
	vpos := 2
	for _, f := range vector {
		binary.LittleEndian.PutUint32(raw[vpos:vpos+4], math.Float32bits(f))
		vpos += 4
	}
	epos := 2 + 4*int(s.d)
	for _, e := range edges {
		binary.LittleEndian.PutUint32(raw[epos:epos+4], e)
		epos += 4
	}
	s.seg.Write(off, raw)

	if i >= s.numNodes {
		s.numNodes = i + 1
		s.writeHeader()
	}
	return nil
}
