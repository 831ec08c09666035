package ordermap

import "encoding/binary"

// Pages are recycled through an unrolled linked list, same shape as a
// single-file KV store's free list, just carved out of a segment rather
// than an mmap'd file.
const (
	freeListHeader = 8
	freeListCap    = (pageSize - freeListHeader) / 8
)

// lnode is one free-list node (an unrolled linked-list page).
type lnode []byte

func (node lnode) getNext() uint64 {
	return binary.LittleEndian.Uint64(node[0:8])
}

func (node lnode) setNext(next uint64) {
	binary.LittleEndian.PutUint64(node[0:8], next)
}

func (node lnode) getPtr(idx int) uint64 {
	offset := freeListHeader + idx*8
	return binary.LittleEndian.Uint64(node[offset:])
}

func (node lnode) setPtr(idx int, ptr uint64) {
	offset := freeListHeader + idx*8
	binary.LittleEndian.PutUint64(node[offset:], ptr)
}

// freeList manages a pool of freed pages for reuse.
type freeList struct {
	get func(uint64) []byte
	new func([]byte) uint64
	set func(uint64, []byte)

	headPage, headSeq uint64
	tailPage, tailSeq uint64
	maxSeq            uint64
}

func (fl *freeList) total() int {
	if fl.headSeq >= fl.tailSeq {
		return 0
	}
	return int(fl.tailSeq - fl.headSeq)
}

func (fl *freeList) popHead() uint64 {
	if fl.headSeq >= fl.tailSeq {
		return 0
	}

	if fl.maxSeq > 0 && fl.maxSeq < fl.tailSeq && fl.headSeq >= fl.maxSeq {
		return 0
	}

	if fl.headPage == 0 {
		return 0
	}

	node := lnode(fl.get(fl.headPage))
	idx := int(fl.headSeq % freeListCap)
	ptr := node.getPtr(idx)

	fl.headSeq++

	if fl.headSeq%freeListCap == 0 {
		nextPage := node.getNext()
		if nextPage != 0 {
			fl.pushTail(fl.headPage)
			fl.headPage = nextPage
		}
	}

	return ptr
}

func (fl *freeList) pushTail(ptr uint64) {
	if fl.tailPage == 0 {
		page := make([]byte, pageSize)
		node := lnode(page)
		node.setNext(0)
		fl.tailPage = fl.new(page)
	}

	idx := int(fl.tailSeq % freeListCap)

	if idx == 0 && fl.tailSeq > 0 {
		newPage := make([]byte, pageSize)
		newNode := lnode(newPage)
		newNode.setNext(0)
		newTail := fl.new(newPage)

		oldPage := make([]byte, pageSize)
		copy(oldPage, fl.get(fl.tailPage))
		oldNode := lnode(oldPage)
		oldNode.setNext(newTail)
		fl.set(fl.tailPage, oldPage)

		fl.tailPage = newTail
		idx = 0
	}

	page := make([]byte, pageSize)
	copy(page, fl.get(fl.tailPage))
	node := lnode(page)
	node.setPtr(idx, ptr)
	fl.set(fl.tailPage, page)
	fl.tailSeq++
}

func (fl *freeList) setMaxSeq() {
	fl.maxSeq = fl.tailSeq
}

func (fl *freeList) serialize() []byte {
	data := make([]byte, 40)
	binary.LittleEndian.PutUint64(data[0:], fl.headPage)
	binary.LittleEndian.PutUint64(data[8:], fl.headSeq)
	binary.LittleEndian.PutUint64(data[16:], fl.tailPage)
	binary.LittleEndian.PutUint64(data[24:], fl.tailSeq)
	binary.LittleEndian.PutUint64(data[32:], fl.maxSeq)
	return data
}

func (fl *freeList) deserialize(data []byte) {
	fl.headPage = binary.LittleEndian.Uint64(data[0:])
	fl.headSeq = binary.LittleEndian.Uint64(data[8:])
	fl.tailPage = binary.LittleEndian.Uint64(data[16:])
	fl.tailSeq = binary.LittleEndian.Uint64(data[24:])
	fl.maxSeq = binary.LittleEndian.Uint64(data[32:])
}
