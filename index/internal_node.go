package index

import (
	"mit.edu/dsg/grovedb/common"
)

// internalNode views a page as an internal B+tree node: size children and
// size separator keys, where key slot 0 is reserved (semantic "-infinity").
// Key i (i >= 1) is the minimum key of the subtree under child i; child 0
// captures everything below key 1.
type internalNode struct {
	node
}

func asInternal(data []byte, meta *nodeMeta) internalNode {
	n := internalNode{node{data: data, meta: meta}}
	common.Assert(n.nodeType() == nodeTypeInternal, "page is not an internal node")
	return n
}

// initInternal formats a fresh page as an empty internal node.
func initInternal(data []byte, meta *nodeMeta, pid common.PageID) internalNode {
	n := internalNode{node{data: data, meta: meta}}
	writeUint32(data, nodeOffsetType, nodeTypeInternal)
	n.setSize(0)
	n.setMaxSize(meta.internalMaxSize)
	writePageID(data, internalOffsetParent, common.InvalidPageID)
	writePageID(data, internalOffsetPageID, pid)
	return n
}

func (n internalNode) keyAt(i int) []byte {
	off := n.meta.internalKeysOff + i*n.meta.keySize
	return n.data[off : off+n.meta.keySize]
}

func (n internalNode) setKeyAt(i int, key []byte) {
	copy(n.keyAt(i), key)
}

func (n internalNode) childAt(i int) common.PageID {
	return readPageID(n.data, n.meta.internalChildrenOff+i*4)
}

func (n internalNode) setChildAt(i int, pid common.PageID) {
	writePageID(n.data, n.meta.internalChildrenOff+i*4, pid)
}

// childIndex locates pid among the children, or -1. This is the
// authoritative parent-to-child mapping used to re-validate cached parent
// pointers.
func (n internalNode) childIndex(pid common.PageID) int {
	for i := 0; i < n.size(); i++ {
		if n.childAt(i) == pid {
			return i
		}
	}
	return -1
}

// accurateFind returns the unique child whose subtree may contain key: the
// child after the largest separator <= key, or child 0 when key sorts below
// every separator.
func (n internalNode) accurateFind(key []byte) common.PageID {
	lo, hi := 1, n.size()-1
	result := 0
	for lo <= hi {
		mid := lo + (hi-lo)/2
		if n.meta.cmp(n.keyAt(mid), key) <= 0 {
			result = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return n.childAt(result)
}

// routeInsert returns the child a new key should descend into. Identical to
// accurateFind; the name marks intent at call sites.
func (n internalNode) routeInsert(key []byte) common.PageID {
	return n.accurateFind(key)
}

// insertSeparator adds (key, rightChild) in sorted position. Returns false
// on a duplicate separator.
func (n internalNode) insertSeparator(key []byte, rightChild common.PageID) bool {
	size := n.size()
	pos := size
	for i := 1; i < size; i++ {
		c := n.meta.cmp(n.keyAt(i), key)
		if c == 0 {
			return false
		}
		if c > 0 {
			pos = i
			break
		}
	}
	n.shiftRight(pos)
	n.setKeyAt(pos, key)
	n.setChildAt(pos, rightChild)
	n.setSize(size + 1)
	return true
}

// firstInsert initializes a brand-new internal node with two children and
// one real separator; only used when a new root is constructed.
func (n internalNode) firstInsert(keyLeft, keyRight []byte, leftChild, rightChild common.PageID) {
	common.Assert(n.size() == 0, "firstInsert on a non-empty internal node")
	n.setKeyAt(0, keyLeft)
	n.setKeyAt(1, keyRight)
	n.setChildAt(0, leftChild)
	n.setChildAt(1, rightChild)
	n.setSize(2)
}

func (n internalNode) shiftRight(from int) {
	size := n.size()
	keys := n.meta.internalKeysOff
	ks := n.meta.keySize
	copy(n.data[keys+(from+1)*ks:keys+(size+1)*ks], n.data[keys+from*ks:keys+size*ks])
	children := n.meta.internalChildrenOff
	copy(n.data[children+(from+1)*4:children+(size+1)*4], n.data[children+from*4:children+size*4])
}

func (n internalNode) shiftLeft(from int) {
	size := n.size()
	keys := n.meta.internalKeysOff
	ks := n.meta.keySize
	copy(n.data[keys+(from-1)*ks:], n.data[keys+from*ks:keys+size*ks])
	children := n.meta.internalChildrenOff
	copy(n.data[children+(from-1)*4:], n.data[children+from*4:children+size*4])
}

// popFront removes and returns the first (key, child) entry. The returned
// key is a copy; it stays valid after further mutation.
func (n internalNode) popFront() ([]byte, common.PageID) {
	common.Assert(n.size() > 0, "popFront on empty internal node")
	key := append([]byte(nil), n.keyAt(0)...)
	child := n.childAt(0)
	n.shiftLeft(1)
	n.changeSizeBy(-1)
	return key, child
}

// popBack removes and returns the last (key, child) entry as a copy.
func (n internalNode) popBack() ([]byte, common.PageID) {
	size := n.size()
	common.Assert(size > 0, "popBack on empty internal node")
	key := append([]byte(nil), n.keyAt(size-1)...)
	child := n.childAt(size - 1)
	n.changeSizeBy(-1)
	return key, child
}

func (n internalNode) pushFront(key []byte, child common.PageID) {
	n.shiftRight(0)
	n.setKeyAt(0, key)
	n.setChildAt(0, child)
	n.changeSizeBy(1)
}

func (n internalNode) pushBack(key []byte, child common.PageID) {
	size := n.size()
	n.setKeyAt(size, key)
	n.setChildAt(size, child)
	n.setSize(size + 1)
}

// absorb appends every entry of right to n, clears right, and returns a copy
// of right's smallest key so the caller can locate the separator to remove
// in the parent.
func (n internalNode) absorb(right internalNode) []byte {
	beginKey := append([]byte(nil), right.keyAt(0)...)
	for i := 0; i < right.size(); i++ {
		n.pushBack(right.keyAt(i), right.childAt(i))
	}
	right.setSize(0)
	return beginKey
}

// split moves the upper half of n into right (which must be empty) and
// returns the separator key for the parent plus the child page ids that
// moved; the caller re-points their parent pointers at right.
func (n internalNode) split(right internalNode) ([]byte, []common.PageID) {
	common.Assert(right.size() == 0, "split target must be empty")
	size := n.size()
	mid := common.CeilDiv(size, 2)
	moved := make([]common.PageID, 0, size-mid)
	for i := mid; i < size; i++ {
		right.pushBack(n.keyAt(i), n.childAt(i))
		moved = append(moved, n.childAt(i))
	}
	n.setSize(mid)
	splitKey := append([]byte(nil), right.keyAt(0)...)
	return splitKey, moved
}

// deleteAt removes separator i and child i.
func (n internalNode) deleteAt(i int) {
	common.Assert(i >= 0 && i < n.size(), "deleteAt out of bounds")
	n.shiftLeft(i + 1)
	n.changeSizeBy(-1)
}

// updateSeparator rewrites separator slot i. Slot 0 is writable here because
// structural code keeps it equal to subtree 0's minimum even though search
// ignores it.
func (n internalNode) updateSeparator(i int, key []byte) {
	n.setKeyAt(i, key)
}

// siblingsOf returns the page ids of the immediate left and right siblings
// of the child at index i (InvalidPageID when absent).
func (n internalNode) siblingsOf(i int) (common.PageID, common.PageID) {
	left, right := common.InvalidPageID, common.InvalidPageID
	if i > 0 {
		left = n.childAt(i - 1)
	}
	if i+1 < n.size() {
		right = n.childAt(i + 1)
	}
	return left, right
}
