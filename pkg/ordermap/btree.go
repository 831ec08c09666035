package ordermap

import "bytes"

// btree is the core B+Tree structure: page pointers only, dereferenced
// through callbacks so the same algorithm works whether pages live in an
// mmap'd file or, as here, inside a segment.Segment.
type btree struct {
	root uint64
	get  func(uint64) []byte
	new  func([]byte) uint64
	del  func(uint64)
}

func (tree *btree) get0(key []byte) ([]byte, bool) {
	if tree.root == 0 {
		return nil, false
	}
	node := bnode(tree.get(tree.root))
	return treeGet(tree, node, key)
}

func treeGet(tree *btree, node bnode, key []byte) ([]byte, bool) {
	idx := nodeLookupLE(node, key)

	switch node.btype() {
	case bnodeLeaf:
		if bytes.Equal(key, node.getKey(idx)) {
			return node.getVal(idx), true
		}
		return nil, false
	case bnodeNode:
		childPtr := node.getPtr(idx)
		childNode := bnode(tree.get(childPtr))
		return treeGet(tree, childNode, key)
	default:
		panic("ordermap: bad node type")
	}
}

func (tree *btree) insert(key []byte, val []byte) {
	if tree.root == 0 {
		root := make([]byte, pageSize)
		node := bnode(root)
		node.setHeader(bnodeLeaf, 2)
		nodeAppendKV(node, 0, 0, nil, nil)
		nodeAppendKV(node, 1, 0, key, val)
		tree.root = tree.new(root)
		return
	}

	node := treeInsert(tree, bnode(tree.get(tree.root)), key, val)
	nsplit, split := nodeSplit3(node)
	tree.del(tree.root)

	if nsplit > 1 {
		root := make([]byte, pageSize)
		rootNode := bnode(root)
		rootNode.setHeader(bnodeNode, nsplit)

		for i, knode := range split[:nsplit] {
			ptr, key := tree.new(knode), knode.getKey(0)
			nodeAppendKV(rootNode, uint16(i), ptr, key, nil)
		}
		tree.root = tree.new(root)
	} else {
		tree.root = tree.new(split[0])
	}
}

func treeInsert(tree *btree, node bnode, key []byte, val []byte) bnode {
	new := make([]byte, 2*pageSize)
	newNode := bnode(new)

	idx := nodeLookupLE(node, key)

	switch node.btype() {
	case bnodeLeaf:
		if bytes.Equal(key, node.getKey(idx)) {
			leafUpdate(newNode, node, idx, key, val)
		} else {
			leafInsert(newNode, node, idx+1, key, val)
		}
	case bnodeNode:
		nodeInsert(tree, newNode, node, idx, key, val)
	default:
		panic("ordermap: bad node type")
	}

	return newNode
}

func leafInsert(new bnode, old bnode, idx uint16, key []byte, val []byte) {
	new.setHeader(bnodeLeaf, old.nkeys()+1)
	nodeAppendRange(new, old, 0, 0, idx)
	nodeAppendKV(new, idx, 0, key, val)
	nodeAppendRange(new, old, idx+1, idx, old.nkeys()-idx)
}

func leafUpdate(new bnode, old bnode, idx uint16, key []byte, val []byte) {
	new.setHeader(bnodeLeaf, old.nkeys())
	nodeAppendRange(new, old, 0, 0, idx)
	nodeAppendKV(new, idx, 0, key, val)
	nodeAppendRange(new, old, idx+1, idx+1, old.nkeys()-(idx+1))
}

func nodeInsert(tree *btree, new bnode, node bnode, idx uint16, key []byte, val []byte) {
	kptr := node.getPtr(idx)
	knode := treeInsert(tree, bnode(tree.get(kptr)), key, val)
	nsplit, split := nodeSplit3(knode)
	tree.del(kptr)
	nodeReplaceKidN(tree, new, node, idx, split[:nsplit]...)
}

func nodeReplaceKidN(tree *btree, new bnode, old bnode, idx uint16, kids ...bnode) {
	inc := uint16(len(kids))
	new.setHeader(bnodeNode, old.nkeys()+inc-1)
	nodeAppendRange(new, old, 0, 0, idx)

	for i, node := range kids {
		nodeAppendKV(new, idx+uint16(i), tree.new(node), node.getKey(0), nil)
	}

	nodeAppendRange(new, old, idx+inc, idx+1, old.nkeys()-(idx+1))
}

func nodeSplit3(old bnode) (uint16, [3]bnode) {
	if old.nbytes() <= pageSize {
		old = old[:pageSize]
		return 1, [3]bnode{old}
	}

	left := make([]byte, 2*pageSize)
	right := make([]byte, pageSize)
	nodeSplit2(bnode(left), bnode(right), old)

	if bnode(left).nbytes() <= pageSize {
		left = left[:pageSize]
		return 2, [3]bnode{bnode(left), bnode(right)}
	}

	leftleft := make([]byte, pageSize)
	middle := make([]byte, pageSize)
	nodeSplit2(bnode(leftleft), bnode(middle), bnode(left))

	return 3, [3]bnode{bnode(leftleft), bnode(middle), bnode(right)}
}

func nodeSplit2(left bnode, right bnode, old bnode) {
	nkeys := old.nkeys()
	nleft := uint16(0)

	for i := uint16(0); i < nkeys; i++ {
		nleft = i + 1
		if old.kvPos(nleft) >= pageSize*3/4 {
			break
		}
	}

	left.setHeader(old.btype(), nleft)
	nodeAppendRange(left, old, 0, 0, nleft)

	right.setHeader(old.btype(), nkeys-nleft)
	nodeAppendRange(right, old, 0, nleft, nkeys-nleft)
}

func (tree *btree) deleteKey(key []byte) bool {
	if tree.root == 0 {
		return false
	}

	updated := treeDelete(tree, bnode(tree.get(tree.root)), key)
	if len(updated) == 0 {
		return false
	}

	tree.del(tree.root)

	if updated.btype() == bnodeNode && updated.nkeys() == 1 {
		tree.root = updated.getPtr(0)
	} else {
		tree.root = tree.new(updated)
	}

	return true
}

func treeDelete(tree *btree, node bnode, key []byte) bnode {
	idx := nodeLookupLE(node, key)

	switch node.btype() {
	case bnodeLeaf:
		if !bytes.Equal(key, node.getKey(idx)) {
			return nil
		}
		new := make([]byte, pageSize)
		leafDelete(bnode(new), node, idx)
		return bnode(new)
	case bnodeNode:
		return nodeDelete(tree, node, idx, key)
	default:
		panic("ordermap: bad node type")
	}
}

func leafDelete(new bnode, old bnode, idx uint16) {
	new.setHeader(bnodeLeaf, old.nkeys()-1)
	nodeAppendRange(new, old, 0, 0, idx)
	nodeAppendRange(new, old, idx, idx+1, old.nkeys()-(idx+1))
}

func nodeDelete(tree *btree, node bnode, idx uint16, key []byte) bnode {
	kptr := node.getPtr(idx)
	updated := treeDelete(tree, bnode(tree.get(kptr)), key)

	if len(updated) == 0 {
		return nil
	}

	tree.del(kptr)
	new := make([]byte, pageSize)

	mergeDir, sibling := shouldMerge(tree, node, idx, updated)

	switch {
	case mergeDir < 0:
		merged := make([]byte, pageSize)
		nodeMerge(bnode(merged), sibling, updated)
		tree.del(node.getPtr(idx - 1))
		nodeReplace2Kid(bnode(new), node, idx-1, tree.new(merged), bnode(merged).getKey(0))
	case mergeDir > 0:
		merged := make([]byte, pageSize)
		nodeMerge(bnode(merged), updated, sibling)
		tree.del(node.getPtr(idx + 1))
		nodeReplace2Kid(bnode(new), node, idx, tree.new(merged), bnode(merged).getKey(0))
	case mergeDir == 0 && updated.nkeys() == 0:
		bnode(new).setHeader(bnodeNode, 0)
	case mergeDir == 0 && updated.nkeys() > 0:
		nodeReplaceKidN(tree, bnode(new), node, idx, updated)
	}

	return bnode(new)
}

func shouldMerge(tree *btree, node bnode, idx uint16, updated bnode) (int, bnode) {
	if updated.nbytes() > pageSize/4 {
		return 0, nil
	}

	if idx > 0 {
		sibling := bnode(tree.get(node.getPtr(idx - 1)))
		merged := sibling.nbytes() + updated.nbytes() - header
		if merged <= pageSize {
			return -1, sibling
		}
	}

	if idx+1 < node.nkeys() {
		sibling := bnode(tree.get(node.getPtr(idx + 1)))
		merged := sibling.nbytes() + updated.nbytes() - header
		if merged <= pageSize {
			return +1, sibling
		}
	}

	return 0, nil
}

func nodeMerge(new bnode, left bnode, right bnode) {
	new.setHeader(left.btype(), left.nkeys()+right.nkeys())
	nodeAppendRange(new, left, 0, 0, left.nkeys())
	nodeAppendRange(new, right, left.nkeys(), 0, right.nkeys())
}

func nodeReplace2Kid(new bnode, old bnode, idx uint16, ptr uint64, key []byte) {
	new.setHeader(bnodeNode, old.nkeys()-1)
	nodeAppendRange(new, old, 0, 0, idx)
	nodeAppendKV(new, idx, ptr, key, nil)
	nodeAppendRange(new, old, idx+1, idx+2, old.nkeys()-(idx+2))
}
