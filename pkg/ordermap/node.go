// Package ordermap implements the self-describing persistent B-tree that
// SPEC_FULL.md section 4.2 requires: a u32-keyed, length-prefixed-value
// ordered map whose entire structure (root pointer, free list, node
// pages) is encoded inside one segment.Segment, so the segment alone
// reconstructs the map after a restart.
//
// The page/node layout and split/merge algorithms below are carried over
// from a B+Tree implemented against an mmap'd file; here pages are carved
// out of a segment.Segment instead (see map.go), but the node encoding
// and tree algorithms are unchanged.
package ordermap

import (
	"bytes"
	"encoding/binary"
)

const (
	bnodeNode = 1 // internal nodes without values
	bnodeLeaf = 2 // leaf nodes with values
)

const (
	header       = 4
	pageSize     = 4096
	maxKeySize   = 4 // keys are always a u32 node id
	maxValueSize = 3000
)

// bnode represents a B+Tree node as a byte slice.
type bnode []byte

func (node bnode) btype() uint16 {
	return binary.LittleEndian.Uint16(node[0:2])
}

func (node bnode) nkeys() uint16 {
	return binary.LittleEndian.Uint16(node[2:4])
}

func (node bnode) setHeader(btype uint16, nkeys uint16) {
	binary.LittleEndian.PutUint16(node[0:2], btype)
	binary.LittleEndian.PutUint16(node[2:4], nkeys)
}

func (node bnode) getPtr(idx uint16) uint64 {
	if idx >= node.nkeys() {
		panic("ordermap: index out of range")
	}
	pos := header + 8*idx
	return binary.LittleEndian.Uint64(node[pos:])
}

func (node bnode) setPtr(idx uint16, val uint64) {
	if idx >= node.nkeys() {
		panic("ordermap: index out of range")
	}
	pos := header + 8*idx
	binary.LittleEndian.PutUint64(node[pos:], val)
}

func offsetPos(node bnode, idx uint16) uint16 {
	if idx < 1 || idx > node.nkeys() {
		panic("ordermap: index out of range")
	}
	return header + 8*node.nkeys() + 2*(idx-1)
}

func (node bnode) getOffset(idx uint16) uint16 {
	if idx == 0 {
		return 0
	}
	return binary.LittleEndian.Uint16(node[offsetPos(node, idx):])
}

func (node bnode) setOffset(idx uint16, offset uint16) {
	binary.LittleEndian.PutUint16(node[offsetPos(node, idx):], offset)
}

func (node bnode) kvPos(idx uint16) uint16 {
	if idx > node.nkeys() {
		panic("ordermap: index out of range")
	}
	return header + 8*node.nkeys() + 2*node.nkeys() + node.getOffset(idx)
}

func (node bnode) getKey(idx uint16) []byte {
	if idx >= node.nkeys() {
		panic("ordermap: index out of range")
	}
	pos := node.kvPos(idx)
	klen := binary.LittleEndian.Uint16(node[pos:])
	return node[pos+4:][:klen]
}

func (node bnode) getVal(idx uint16) []byte {
	if idx >= node.nkeys() {
		panic("ordermap: index out of range")
	}
	pos := node.kvPos(idx)
	klen := binary.LittleEndian.Uint16(node[pos+0:])
	vlen := binary.LittleEndian.Uint16(node[pos+2:])
	return node[pos+4+klen:][:vlen]
}

func (node bnode) nbytes() uint16 {
	return node.kvPos(node.nkeys())
}

// nodeLookupLE returns the last index whose key is <= the search key. The
// first key in any node is a sentinel copied down from the parent, so it
// is always <= key.
func nodeLookupLE(node bnode, key []byte) uint16 {
	nkeys := node.nkeys()
	found := uint16(0)

	for i := uint16(1); i < nkeys; i++ {
		cmp := bytes.Compare(node.getKey(i), key)
		if cmp <= 0 {
			found = i
		}
		if cmp >= 0 {
			break
		}
	}
	return found
}

func nodeAppendRange(new bnode, old bnode, dstNew uint16, srcOld uint16, n uint16) {
	if srcOld+n > old.nkeys() {
		panic("ordermap: source range out of bounds")
	}
	if dstNew+n > new.nkeys() {
		panic("ordermap: destination range out of bounds")
	}
	if n == 0 {
		return
	}

	if old.btype() == bnodeNode {
		for i := uint16(0); i < n; i++ {
			new.setPtr(dstNew+i, old.getPtr(srcOld+i))
		}
	}

	dstBegin := new.getOffset(dstNew)
	srcBegin := old.getOffset(srcOld)

	for i := uint16(1); i <= n; i++ {
		offset := dstBegin + old.getOffset(srcOld+i) - srcBegin
		new.setOffset(dstNew+i, offset)
	}

	begin := old.kvPos(srcOld)
	end := old.kvPos(srcOld + n)
	copy(new[new.kvPos(dstNew):], old[begin:end])
}

func nodeAppendKV(new bnode, idx uint16, ptr uint64, key []byte, val []byte) {
	new.setPtr(idx, ptr)

	pos := new.kvPos(idx)
	binary.LittleEndian.PutUint16(new[pos+0:], uint16(len(key)))
	binary.LittleEndian.PutUint16(new[pos+2:], uint16(len(val)))
	copy(new[pos+4:], key)
	copy(new[pos+4+uint16(len(key)):], val)

	new.setOffset(idx+1, new.getOffset(idx)+4+uint16(len(key)+len(val)))
}

func init() {
	node1max := header + 8 + 2 + 4 + maxKeySize + maxValueSize
	if node1max > pageSize {
		panic("ordermap: node size exceeds page size")
	}
}
