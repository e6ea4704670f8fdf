package index

import (
	log "github.com/sirupsen/logrus"

	"mit.edu/dsg/grovedb/buffer"
	"mit.edu/dsg/grovedb/common"
)

// Config fixes the layout parameters of one tree. KeySize and ValueSize are
// the widths of the opaque byte strings the caller stores; TombstoneCapacity
// is K, the per-leaf lazy-deletion buffer (0 makes every delete physical).
type Config struct {
	KeySize           int
	ValueSize         int
	LeafMaxSize       int
	InternalMaxSize   int
	TombstoneCapacity int
}

// BPlusTree is a concurrent B+tree over buffer-pool pages. Lookups and
// iterators descend with shared latches, crabbing parent-to-child; mutations
// hold the header page's exclusive guard for their duration, so writers are
// serialized against each other while readers proceed per-page.
type BPlusTree struct {
	name         string
	headerPageID common.PageID
	pool         *buffer.BufferPool
	meta         *nodeMeta
}

// NewBPlusTree initializes a tree whose header lives on the preallocated
// headerPageID. The header is formatted with an invalid root.
func NewBPlusTree(name string, headerPageID common.PageID, pool *buffer.BufferPool, cmp Comparator, cfg Config) *BPlusTree {
	t := &BPlusTree{
		name:         name,
		headerPageID: headerPageID,
		pool:         pool,
		meta: newNodeMeta(cfg.KeySize, cfg.ValueSize, cfg.LeafMaxSize,
			cfg.InternalMaxSize, cfg.TombstoneCapacity, cmp),
	}
	hdr := pool.WritePage(headerPageID)
	setHeaderRoot(hdr.Data(), common.InvalidPageID)
	hdr.Release()
	return t
}

// RootPageID returns the current root, or InvalidPageID for an empty tree.
func (t *BPlusTree) RootPageID() common.PageID {
	hdr := t.pool.ReadPage(t.headerPageID)
	defer hdr.Release()
	return headerRoot(hdr.Data())
}

// IsEmpty reports whether the tree holds no structure at all.
func (t *BPlusTree) IsEmpty() bool {
	return !t.RootPageID().IsValid()
}

// findLeafPage descends from root to the leaf that may contain key (or the
// leftmost leaf), releasing each shared guard before latching the child.
func (t *BPlusTree) findLeafPage(root common.PageID, key []byte, leftmost bool) common.PageID {
	cur := root
	for {
		g := t.pool.ReadPage(cur)
		n := node{data: g.Data(), meta: t.meta}
		if n.isLeaf() {
			g.Release()
			return cur
		}
		in := asInternal(g.Data(), t.meta)
		var next common.PageID
		if leftmost {
			next = in.childAt(0)
		} else {
			next = in.accurateFind(key)
		}
		g.Release()
		cur = next
	}
}

// GetValue appends the value stored under key to out, skipping tombstoned
// entries. Returns true iff a value was found. Appended values are copies
// and stay valid after the underlying frame is reused.
func (t *BPlusTree) GetValue(key []byte, out *[][]byte) bool {
	common.Assert(len(key) == t.meta.keySize, "key size mismatch")
	hdr := t.pool.ReadPage(t.headerPageID)
	root := headerRoot(hdr.Data())
	hdr.Release()
	if !root.IsValid() {
		return false
	}
	leafPid := t.findLeafPage(root, key, false)
	lg := t.pool.ReadPage(leafPid)
	leaf := asLeaf(lg.Data(), t.meta)
	before := len(*out)
	*out = leaf.findAndCollect(key, *out)
	lg.Release()
	return len(*out) > before
}

// Insert adds (key, value). Returns false if key already lives in the tree;
// a tombstoned key is resurrected with the new value. A page-allocation
// failure during structural maintenance aborts the fix, leaving the tree
// consistent but temporarily over-full.
func (t *BPlusTree) Insert(key, value []byte) bool {
	common.Assert(len(key) == t.meta.keySize, "key size mismatch")
	common.Assert(len(value) == t.meta.valueSize, "value size mismatch")

	hdr := t.pool.WritePage(t.headerPageID)
	defer hdr.Release()

	root := headerRoot(hdr.Data())
	if !root.IsValid() {
		pid := t.pool.NewPage()
		if !pid.IsValid() {
			log.Warnf("btree %s: no frame available for the root leaf", t.name)
			return false
		}
		lg := t.pool.WritePage(pid)
		leaf := initLeaf(lg.Data(), t.meta, pid)
		leaf.insert(key, value)
		leaf.setFlag(leafFlagIsBegin, false)
		lg.Release()
		setHeaderRoot(hdr.Data(), pid)
		return true
	}

	leafPid := t.findLeafPage(root, key, false)
	lg := t.pool.WritePage(leafPid)
	leaf := asLeaf(lg.Data(), t.meta)

	var preMin []byte
	if leaf.size() > 0 {
		preMin = append([]byte(nil), leaf.keyAt(0)...)
	}
	leaf.setFlag(leafFlagIsBegin, false)
	if !leaf.insert(key, value) {
		lg.Release()
		return false
	}
	if leaf.flag(leafFlagIsBegin) {
		leaf.setFlag(leafFlagIsBegin, false)
		if preMin != nil && leaf.parent().IsValid() {
			newMin := append([]byte(nil), leaf.keyAt(0)...)
			t.updateFirstKeyUpwards(preMin, newMin, leafPid, leaf.parent())
		}
	}
	t.pushUp(hdr, lg)
	return true
}

// pushUp applies the post-insert structural fix to the guarded node and
// recurses toward the root. It takes ownership of g.
func (t *BPlusTree) pushUp(hdr *buffer.WriteGuard, g *buffer.WriteGuard) {
	if (node{data: g.Data(), meta: t.meta}).isLeaf() {
		t.pushUpLeaf(hdr, g)
	} else {
		t.pushUpInternal(hdr, g)
	}
}

func (t *BPlusTree) pushUpLeaf(hdr *buffer.WriteGuard, g *buffer.WriteGuard) {
	leaf := asLeaf(g.Data(), t.meta)
	if leaf.size() < t.meta.leafMaxSize {
		g.Release()
		return
	}

	selfPid := leaf.pageID()
	parentPid := leaf.parent()
	needRoot := !parentPid.IsValid()

	rightPid := t.pool.NewPage()
	if !rightPid.IsValid() {
		log.Warnf("btree %s: leaf split aborted, no frame for the new leaf", t.name)
		g.Release()
		return
	}
	rootPid := common.InvalidPageID
	if needRoot {
		if rootPid = t.pool.NewPage(); !rootPid.IsValid() {
			log.Warnf("btree %s: leaf split aborted, no frame for the new root", t.name)
			g.Release()
			t.pool.DeletePage(rightPid)
			return
		}
	}

	rg := t.pool.WritePage(rightPid)
	right := initLeaf(rg.Data(), t.meta, rightPid)
	oldNext := leaf.next()
	leaf.split(right)
	splitKey := append([]byte(nil), right.keyAt(0)...)
	leftMin := append([]byte(nil), leaf.keyAt(0)...)
	if needRoot {
		leaf.setParent(rootPid)
		right.setParent(rootPid)
	} else {
		right.setParent(parentPid)
	}
	rg.Release()
	g.Release()

	if oldNext.IsValid() {
		ng := t.pool.WritePage(oldNext)
		asLeaf(ng.Data(), t.meta).setPrev(rightPid)
		ng.Release()
	}

	if needRoot {
		rootG := t.pool.WritePage(rootPid)
		root := initInternal(rootG.Data(), t.meta, rootPid)
		root.firstInsert(leftMin, splitKey, selfPid, rightPid)
		rootG.Release()
		setHeaderRoot(hdr.Data(), rootPid)
		return
	}
	pg := t.pool.WritePage(parentPid)
	parent := asInternal(pg.Data(), t.meta)
	parent.insertSeparator(splitKey, rightPid)
	t.pushUpInternal(hdr, pg)
}

func (t *BPlusTree) pushUpInternal(hdr *buffer.WriteGuard, g *buffer.WriteGuard) {
	n := asInternal(g.Data(), t.meta)
	if n.size() < t.meta.internalMaxSize {
		g.Release()
		return
	}

	selfPid := n.pageID()
	parentPid := n.parent()
	needRoot := !parentPid.IsValid()

	rightPid := t.pool.NewPage()
	if !rightPid.IsValid() {
		log.Warnf("btree %s: internal split aborted, no frame for the new node", t.name)
		g.Release()
		return
	}
	rootPid := common.InvalidPageID
	if needRoot {
		if rootPid = t.pool.NewPage(); !rootPid.IsValid() {
			log.Warnf("btree %s: internal split aborted, no frame for the new root", t.name)
			g.Release()
			t.pool.DeletePage(rightPid)
			return
		}
	}

	rg := t.pool.WritePage(rightPid)
	right := initInternal(rg.Data(), t.meta, rightPid)
	splitKey, moved := n.split(right)
	leftMin := append([]byte(nil), n.keyAt(0)...)
	if needRoot {
		n.setParent(rootPid)
		right.setParent(rootPid)
	} else {
		right.setParent(parentPid)
	}
	rg.Release()
	g.Release()

	// Re-point the moved subtrees only after both internal latches are gone
	// so at most one child guard is held at a time.
	for _, childPid := range moved {
		cg := t.pool.WritePage(childPid)
		(node{data: cg.Data(), meta: t.meta}).setParent(rightPid)
		cg.Release()
	}

	if needRoot {
		rootG := t.pool.WritePage(rootPid)
		root := initInternal(rootG.Data(), t.meta, rootPid)
		root.firstInsert(leftMin, splitKey, selfPid, rightPid)
		rootG.Release()
		setHeaderRoot(hdr.Data(), rootPid)
		return
	}
	pg := t.pool.WritePage(parentPid)
	parent := asInternal(pg.Data(), t.meta)
	parent.insertSeparator(splitKey, rightPid)
	t.pushUpInternal(hdr, pg)
}

// updateFirstKeyUpwards repairs parent separators after a node's minimum
// key changed from oldKey to newKey. The child's slot in each parent is
// located through the authoritative child list; the walk continues to the
// grandparent only while the repair lands on slot 0.
func (t *BPlusTree) updateFirstKeyUpwards(oldKey, newKey []byte, childPid, parentPid common.PageID) {
	for parentPid.IsValid() {
		pg := t.pool.WritePage(parentPid)
		parent := asInternal(pg.Data(), t.meta)
		idx := parent.childIndex(childPid)
		common.Assert(idx >= 0, "child %s missing from parent %s during separator repair", childPid, parentPid)
		common.Assert(idx == 0 || t.meta.cmp(parent.keyAt(idx), oldKey) == 0,
			"separator for %s does not match the departed key", childPid)
		parent.updateSeparator(idx, newKey)
		if idx > 0 {
			pg.Release()
			return
		}
		childPid = parentPid
		parentPid = parent.parent()
		pg.Release()
	}
}
