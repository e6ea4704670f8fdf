package index

import (
	log "github.com/sirupsen/logrus"

	"mit.edu/dsg/grovedb/buffer"
	"mit.edu/dsg/grovedb/common"
)

// Iterator walks the leaf chain in ascending key order, transparently
// skipping tombstoned slots. It pins one leaf at a time under a shared
// latch, releasing it before latching the successor so concurrent writers
// never deadlock against a scan.
//
// An iterator equals End when its page id is invalid. Key and Value return
// slices into the pinned page; copy them if they must outlive the next
// Next/Release call.
type Iterator struct {
	tree   *BPlusTree
	guard  *buffer.ReadGuard
	pageID common.PageID
	slot   int
}

// Begin positions an iterator on the smallest live key.
func (t *BPlusTree) Begin() *Iterator {
	root := t.RootPageID()
	if !root.IsValid() {
		return t.End()
	}
	return t.startAt(t.findLeafPage(root, nil, true), nil)
}

// BeginFrom positions an iterator on the smallest live key >= key.
func (t *BPlusTree) BeginFrom(key []byte) *Iterator {
	common.Assert(len(key) == t.meta.keySize, "key size mismatch")
	root := t.RootPageID()
	if !root.IsValid() {
		return t.End()
	}
	return t.startAt(t.findLeafPage(root, key, false), key)
}

// End returns the exhausted sentinel.
func (t *BPlusTree) End() *Iterator {
	return &Iterator{tree: t, pageID: common.InvalidPageID}
}

func (t *BPlusTree) startAt(leafPid common.PageID, key []byte) *Iterator {
	it := &Iterator{tree: t, pageID: leafPid}
	it.guard = t.pool.CheckedReadPage(leafPid)
	if it.guard == nil {
		log.Warnf("btree %s: iterator could not pin %s, pool exhausted", t.name, leafPid)
		it.pageID = common.InvalidPageID
		return it
	}
	if key != nil {
		leaf := asLeaf(it.guard.Data(), t.meta)
		it.slot, _ = leaf.binarySearch(key)
	}
	it.skipToLive()
	return it
}

// IsEnd reports whether the iterator is exhausted.
func (it *Iterator) IsEnd() bool {
	return !it.pageID.IsValid()
}

// Key returns the current key. Undefined at End.
func (it *Iterator) Key() []byte {
	common.Assert(!it.IsEnd(), "dereference of an exhausted iterator")
	return asLeaf(it.guard.Data(), it.tree.meta).keyAt(it.slot)
}

// Value returns the current value. Undefined at End.
func (it *Iterator) Value() []byte {
	common.Assert(!it.IsEnd(), "dereference of an exhausted iterator")
	return asLeaf(it.guard.Data(), it.tree.meta).valueAt(it.slot)
}

// Next advances to the following live entry, crossing into the next leaf
// when the current one is exhausted.
func (it *Iterator) Next() {
	common.Assert(!it.IsEnd(), "advance of an exhausted iterator")
	it.slot++
	it.skipToLive()
}

// Release drops the pinned leaf early. Iterators that reach End release
// themselves; call this when abandoning a scan midway.
func (it *Iterator) Release() {
	if it.guard != nil {
		it.guard.Release()
		it.guard = nil
	}
	it.pageID = common.InvalidPageID
}

func (it *Iterator) skipToLive() {
	meta := it.tree.meta
	for it.guard != nil {
		leaf := asLeaf(it.guard.Data(), meta)
		for it.slot < leaf.size() && leaf.isTombstoned(it.slot) {
			it.slot++
		}
		if it.slot < leaf.size() {
			return
		}
		next := leaf.next()
		it.guard.Release()
		it.guard = nil
		if !next.IsValid() {
			it.pageID = common.InvalidPageID
			return
		}
		it.pageID = next
		it.slot = 0
		it.guard = it.tree.pool.CheckedReadPage(next)
		if it.guard == nil {
			log.Warnf("btree %s: iterator could not pin %s, pool exhausted", it.tree.name, next)
			it.pageID = common.InvalidPageID
			return
		}
	}
}
