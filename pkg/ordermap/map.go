package ordermap

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/clankpan/vectune/pkg/segment"
)

// sig is the on-segment signature written at offset 0, mirroring the
// 16-byte DB signature a file-backed KV store stamps on its meta page.
const sig = "OrderedMap01\x00\x00\x00\x00"

// Header layout inside the segment:
//   [0:16)   signature
//   [16:24)  root page pointer
//   [24:32)  next page counter (1-based; 0 means no pages allocated yet)
//   [32:72)  serialized free list (40 bytes)
const (
	headerRegion  = 128
	sigOff        = 0
	rootOff       = 16
	nextPageOff   = 24
	freeListOff   = 32
	freeListBytes = 40
)

// Map is a u32-keyed, length-prefixed-value ordered map, self-describing
// inside one segment.Segment.
type Map struct {
	seg      *segment.Segment
	tree     btree
	free     freeList
	nextPage uint64
}

// New initializes a fresh, empty Map inside seg (which must be empty).
func New(seg *segment.Segment) (*Map, error) {
	if err := seg.EnsureCovers(0, headerRegion); err != nil {
		return nil, err
	}
	m := &Map{seg: seg}
	m.wireCallbacks()
	m.saveHeader()
	return m, nil
}

// Open reconstructs a Map purely from bytes already present in seg.
func Open(seg *segment.Segment) (*Map, error) {
	if seg.Size() < headerRegion {
		return nil, errors.New("ordermap: segment too small for header")
	}
	m := &Map{seg: seg}
	m.wireCallbacks()
	hdr := seg.Read(0, headerRegion)
	if string(hdr[sigOff:sigOff+16]) != sig {
		return nil, errors.New("ordermap: bad segment signature")
	}
	m.tree.root = binary.LittleEndian.Uint64(hdr[rootOff : rootOff+8])
	m.nextPage = binary.LittleEndian.Uint64(hdr[nextPageOff : nextPageOff+8])
	m.free.deserialize(hdr[freeListOff : freeListOff+freeListBytes])
	if m.free.tailSeq > 0 {
		m.free.maxSeq = m.free.tailSeq
	}
	return m, nil
}

func (m *Map) saveHeader() {
	hdr := make([]byte, headerRegion)
	copy(hdr[sigOff:sigOff+16], sig)
	binary.LittleEndian.PutUint64(hdr[rootOff:rootOff+8], m.tree.root)
	binary.LittleEndian.PutUint64(hdr[nextPageOff:nextPageOff+8], m.nextPage)
	copy(hdr[freeListOff:freeListOff+freeListBytes], m.free.serialize())
	m.seg.Write(0, hdr)
}

func (m *Map) pageOffset(ptr uint64) uint64 {
	return headerRegion + (ptr-1)*pageSize
}

func (m *Map) pageRead(ptr uint64) []byte {
	return m.seg.Read(m.pageOffset(ptr), pageSize)
}

func (m *Map) pageWrite(ptr uint64, data []byte) {
	m.seg.Write(m.pageOffset(ptr), data)
}

// pageAppend allocates a brand new page at the end of the segment,
// growing it as needed. It never consults the free list, matching the
// teacher's separation between the tree's allocator (pageAlloc, which
// tries the free list first) and the free list's own allocator (which
// must not recurse into itself).
func (m *Map) pageAppend(data []byte) uint64 {
	m.nextPage++
	ptr := m.nextPage
	if err := m.seg.EnsureCovers(m.pageOffset(ptr), pageSize); err != nil {
		panic(errors.Wrap(err, "ordermap: grow for new page"))
	}
	m.seg.Write(m.pageOffset(ptr), data)
	return ptr
}

func (m *Map) pageAlloc(data []byte) uint64 {
	if ptr := m.free.popHead(); ptr != 0 {
		m.pageWrite(ptr, data)
		return ptr
	}
	return m.pageAppend(data)
}

func (m *Map) pageFree(ptr uint64) {
	m.free.pushTail(ptr)
}

func (m *Map) wireCallbacks() {
	m.free.get = m.pageRead
	m.free.new = m.pageAppend
	m.free.set = m.pageWrite

	m.tree.get = m.pageRead
	m.tree.new = m.pageAlloc
	m.tree.del = m.pageFree
}

func encodeKey(id uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, id) // big-endian keeps numeric and byte order aligned
	return b
}

func decodeKey(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

// Get returns the value stored for id, if present.
func (m *Map) Get(id uint32) ([]byte, bool) {
	return m.tree.get0(encodeKey(id))
}

// Set inserts or overwrites the value stored for id.
func (m *Map) Set(id uint32, val []byte) {
	m.tree.insert(encodeKey(id), val)
	m.free.setMaxSeq()
	m.saveHeader()
}

// Delete removes id from the map, reporting whether it was present.
func (m *Map) Delete(id uint32) bool {
	ok := m.tree.deleteKey(encodeKey(id))
	if ok {
		m.free.setMaxSeq()
		m.saveHeader()
	}
	return ok
}

// Len counts entries by a full scan. Acceptable here: callers only need
// it for introspection (the stepper tracks pending count separately).
func (m *Map) Len() int {
	n := 0
	m.tree.scan(encodeKey(0), func(_, _ []byte) bool {
		n++
		return true
	})
	return n
}

// Iterate calls fn for every (id, value) pair in ascending id order,
// stopping early if fn returns false.
func (m *Map) Iterate(fn func(id uint32, val []byte) bool) {
	m.tree.scan(encodeKey(0), func(k, v []byte) bool {
		return fn(decodeKey(k), v)
	})
}

// PopFirst removes and returns the first (smallest-id) entry, if any.
func (m *Map) PopFirst() (id uint32, val []byte, ok bool) {
	var foundKey []byte
	m.tree.scan(encodeKey(0), func(k, v []byte) bool {
		foundKey = append([]byte(nil), k...)
		val = append([]byte(nil), v...)
		return false
	})
	if foundKey == nil {
		return 0, nil, false
	}
	id = decodeKey(foundKey)
	m.Delete(id)
	return id, val, true
}
