package ordermap

import "bytes"

// biter is a forward iterator over a btree.
type biter struct {
	tree *btree
	path []bnode
	pos  []uint16
}

func (tree *btree) newIterator() *biter {
	return &biter{
		tree: tree,
		path: make([]bnode, 0, 8),
		pos:  make([]uint16, 0, 8),
	}
}

func (iter *biter) seekLE(key []byte) bool {
	iter.path = iter.path[:0]
	iter.pos = iter.pos[:0]

	if iter.tree.root == 0 {
		return false
	}

	node := bnode(iter.tree.get(iter.tree.root))
	for {
		iter.path = append(iter.path, node)
		idx := nodeLookupLE(node, key)
		iter.pos = append(iter.pos, idx)

		if node.btype() == bnodeLeaf {
			break
		}

		ptr := node.getPtr(idx)
		node = bnode(iter.tree.get(ptr))
	}

	return true
}

func (iter *biter) valid() bool {
	if len(iter.path) == 0 {
		return false
	}
	leaf := iter.path[len(iter.path)-1]
	pos := iter.pos[len(iter.pos)-1]
	return pos < leaf.nkeys()
}

func (iter *biter) key() []byte {
	if !iter.valid() {
		return nil
	}
	leaf := iter.path[len(iter.path)-1]
	pos := iter.pos[len(iter.pos)-1]
	return leaf.getKey(pos)
}

func (iter *biter) val() []byte {
	if !iter.valid() {
		return nil
	}
	leaf := iter.path[len(iter.path)-1]
	pos := iter.pos[len(iter.pos)-1]
	return leaf.getVal(pos)
}

func (iter *biter) next() bool {
	if len(iter.path) == 0 {
		return false
	}

	leafIdx := len(iter.pos) - 1
	iter.pos[leafIdx]++

	leaf := iter.path[leafIdx]
	if iter.pos[leafIdx] < leaf.nkeys() {
		return true
	}

	iter.path = iter.path[:leafIdx]
	iter.pos = iter.pos[:leafIdx]

	for len(iter.pos) > 0 {
		parentIdx := len(iter.pos) - 1
		iter.pos[parentIdx]++

		parent := iter.path[parentIdx]
		if iter.pos[parentIdx] < parent.nkeys() {
			return iter.descendToLeftmost()
		}

		iter.path = iter.path[:parentIdx]
		iter.pos = iter.pos[:parentIdx]
	}

	return false
}

func (iter *biter) descendToLeftmost() bool {
	for {
		parentIdx := len(iter.path) - 1
		parent := iter.path[parentIdx]
		pos := iter.pos[parentIdx]

		ptr := parent.getPtr(pos)
		child := bnode(iter.tree.get(ptr))

		iter.path = append(iter.path, child)

		if child.btype() == bnodeLeaf {
			iter.pos = append(iter.pos, 0)
			return true
		}

		iter.pos = append(iter.pos, 0)
	}
}

// scan calls callback for every key >= start, in ascending key order,
// until callback returns false or the tree is exhausted.
func (tree *btree) scan(start []byte, callback func(key, val []byte) bool) {
	iter := tree.newIterator()
	if !iter.seekLE(start) {
		return
	}

	if bytes.Compare(iter.key(), start) < 0 {
		if !iter.next() {
			return
		}
	}

	for iter.valid() {
		if !callback(iter.key(), iter.val()) {
			return
		}
		if !iter.next() {
			return
		}
	}
}
