package index

import (
	"mit.edu/dsg/grovedb/common"
)

// leafNode views a page as a B+tree leaf: sorted key slots with parallel
// values, linked to its neighbors, plus a fixed-capacity tombstone buffer.
//
// size counts physical slots, including those marked by tombstones; the live
// size subtracts the tombstone count. A tombstone is an index into the slot
// array, stored in deletion order (oldest first). Lookups skip tombstoned
// slots; structural bounds (min/max size) are enforced on physical slots.
type leafNode struct {
	node
}

const notFound = -1

func asLeaf(data []byte, meta *nodeMeta) leafNode {
	n := leafNode{node{data: data, meta: meta}}
	common.Assert(n.nodeType() == nodeTypeLeaf, "page is not a leaf node")
	return n
}

// initLeaf formats a fresh page as an empty leaf.
func initLeaf(data []byte, meta *nodeMeta, pid common.PageID) leafNode {
	n := leafNode{node{data: data, meta: meta}}
	writeUint32(data, nodeOffsetType, nodeTypeLeaf)
	n.setSize(0)
	n.setMaxSize(meta.leafMaxSize)
	writePageID(data, leafOffsetNext, common.InvalidPageID)
	writePageID(data, leafOffsetPrev, common.InvalidPageID)
	writePageID(data, leafOffsetParent, common.InvalidPageID)
	writePageID(data, leafOffsetPageID, pid)
	writeUint32(data, leafOffsetNumTombs, 0)
	writeUint32(data, leafOffsetFlags, 0)
	return n
}

func (n leafNode) next() common.PageID       { return readPageID(n.data, leafOffsetNext) }
func (n leafNode) setNext(pid common.PageID) { writePageID(n.data, leafOffsetNext, pid) }
func (n leafNode) prev() common.PageID       { return readPageID(n.data, leafOffsetPrev) }
func (n leafNode) setPrev(pid common.PageID) { writePageID(n.data, leafOffsetPrev, pid) }

func (n leafNode) numTombstones() int {
	return int(readUint32(n.data, leafOffsetNumTombs))
}

func (n leafNode) setNumTombstones(count int) {
	writeUint32(n.data, leafOffsetNumTombs, uint32(count))
}

func (n leafNode) liveSize() int {
	return n.size() - n.numTombstones()
}

func (n leafNode) flag(f uint32) bool {
	return readUint32(n.data, leafOffsetFlags)&f != 0
}

func (n leafNode) setFlag(f uint32, set bool) {
	flags := readUint32(n.data, leafOffsetFlags)
	if set {
		flags |= f
	} else {
		flags &^= f
	}
	writeUint32(n.data, leafOffsetFlags, flags)
}

// beforeFirstKey caches the key that was at slot 0 before the most recent
// physical removal of that slot, for the caller's separator repair.
func (n leafNode) beforeFirstKey() []byte {
	off := n.meta.leafBeforeFirstOff
	return n.data[off : off+n.meta.keySize]
}

func (n leafNode) setBeforeFirstKey(key []byte) {
	copy(n.beforeFirstKey(), key)
}

func (n leafNode) keyAt(i int) []byte {
	off := n.meta.leafKeysOff + i*n.meta.keySize
	return n.data[off : off+n.meta.keySize]
}

func (n leafNode) valueAt(i int) []byte {
	off := n.meta.leafValuesOff + i*n.meta.valueSize
	return n.data[off : off+n.meta.valueSize]
}

func (n leafNode) setSlot(i int, key, value []byte) {
	copy(n.keyAt(i), key)
	copy(n.valueAt(i), value)
}

func (n leafNode) tombAt(j int) int {
	return int(readUint32(n.data, n.meta.leafTombOff+4*j))
}

func (n leafNode) setTombAt(j, slot int) {
	writeUint32(n.data, n.meta.leafTombOff+4*j, uint32(slot))
}

func (n leafNode) isTombstoned(slot int) bool {
	for j := 0; j < n.numTombstones(); j++ {
		if n.tombAt(j) == slot {
			return true
		}
	}
	return false
}

// tombstoneKeys returns copies of the tombstoned keys, oldest first.
func (n leafNode) tombstoneKeys() [][]byte {
	out := make([][]byte, 0, n.numTombstones())
	for j := 0; j < n.numTombstones(); j++ {
		out = append(out, append([]byte(nil), n.keyAt(n.tombAt(j))...))
	}
	return out
}

// dropTombstoneEntry removes buffer entry j, keeping the remaining entries
// in deletion order. Slot indices are untouched.
func (n leafNode) dropTombstoneEntry(j int) {
	count := n.numTombstones()
	for k := j; k+1 < count; k++ {
		n.setTombAt(k, n.tombAt(k+1))
	}
	n.setNumTombstones(count - 1)
}

// shiftTombstones adjusts every tombstone slot index >= from by delta
// (used when slots shift under an insert or physical removal).
func (n leafNode) shiftTombstones(from, delta int) {
	for j := 0; j < n.numTombstones(); j++ {
		if n.tombAt(j) >= from {
			n.setTombAt(j, n.tombAt(j)+delta)
		}
	}
}

// binarySearch returns the insertion position for key and whether the key is
// already physically present (live or tombstoned) at that position.
func (n leafNode) binarySearch(key []byte) (int, bool) {
	lo, hi := 0, n.size()-1
	pos := n.size()
	for lo <= hi {
		mid := lo + (hi-lo)/2
		c := n.meta.cmp(n.keyAt(mid), key)
		if c > 0 {
			pos = mid
			hi = mid - 1
		} else if c < 0 {
			lo = mid + 1
		} else {
			return mid, true
		}
	}
	return pos, false
}

// matchKey returns the slot of a live (non-tombstoned) equal key, or
// notFound.
func (n leafNode) matchKey(key []byte) int {
	pos, found := n.binarySearch(key)
	if !found || n.isTombstoned(pos) {
		return notFound
	}
	return pos
}

// findAndCollect appends a copy of the value for key to out, skipping
// tombstoned slots. Returns the extended slice.
func (n leafNode) findAndCollect(key []byte, out [][]byte) [][]byte {
	if pos := n.matchKey(key); pos != notFound {
		out = append(out, append([]byte(nil), n.valueAt(pos)...))
	}
	return out
}

// insert places (key, value) in sorted position. A live duplicate returns
// false; a tombstoned duplicate is resurrected in place with the new value.
// Inserting at slot 0 raises the isBegin flag so the caller can repair the
// parent separator.
func (n leafNode) insert(key, value []byte) bool {
	pos, found := n.binarySearch(key)
	if found {
		for j := 0; j < n.numTombstones(); j++ {
			if n.tombAt(j) == pos {
				n.dropTombstoneEntry(j)
				copy(n.valueAt(pos), value)
				return true
			}
		}
		return false
	}
	size := n.size()
	common.Assert(size < n.meta.leafSlotCapacity, "leaf slot array overflow")
	n.shiftSlotsRight(pos)
	n.shiftTombstones(pos, 1)
	n.setSlot(pos, key, value)
	n.setSize(size + 1)
	if pos == 0 {
		n.setFlag(leafFlagIsBegin, true)
	}
	return true
}

func (n leafNode) shiftSlotsRight(from int) {
	size := n.size()
	ks, vs := n.meta.keySize, n.meta.valueSize
	keys, values := n.meta.leafKeysOff, n.meta.leafValuesOff
	copy(n.data[keys+(from+1)*ks:keys+(size+1)*ks], n.data[keys+from*ks:keys+size*ks])
	copy(n.data[values+(from+1)*vs:values+(size+1)*vs], n.data[values+from*vs:values+size*vs])
}

func (n leafNode) shiftSlotsLeft(from int) {
	size := n.size()
	ks, vs := n.meta.keySize, n.meta.valueSize
	keys, values := n.meta.leafKeysOff, n.meta.leafValuesOff
	copy(n.data[keys+(from-1)*ks:], n.data[keys+from*ks:keys+size*ks])
	copy(n.data[values+(from-1)*vs:], n.data[values+from*vs:values+size*vs])
}

// removeAt physically deletes slot i, shifting the tail left and adjusting
// tombstone indices above it.
func (n leafNode) removeAt(i int) {
	common.Assert(i >= 0 && i < n.size(), "removeAt out of bounds")
	n.shiftSlotsLeft(i + 1)
	n.shiftTombstones(i+1, -1)
	n.changeSizeBy(-1)
}

// processOldestTombstone physically applies the oldest buffered deletion:
// the slot is removed, remaining tombstone indices are re-based, and if the
// removed slot was 0 the needDeepUpdate flag is raised with the departed key
// cached in beforeFirstKey.
func (n leafNode) processOldestTombstone() {
	common.Assert(n.numTombstones() > 0, "no tombstone to process")
	oldest := n.tombAt(0)
	if oldest == 0 {
		n.setBeforeFirstKey(n.keyAt(0))
		n.setFlag(leafFlagNeedDeepUpdate, true)
	}
	n.dropTombstoneEntry(0)
	n.removeAt(oldest)
}

// appendTombstone buffers a lazy deletion of slot i; the buffer must have
// room (callers process the oldest entry first when it is full).
func (n leafNode) appendTombstone(i int) {
	count := n.numTombstones()
	common.Assert(count < n.meta.tombCapacity, "tombstone buffer overflow")
	common.Assert(!n.isTombstoned(i), "slot %d already tombstoned", i)
	n.setTombAt(count, i)
	n.setNumTombstones(count + 1)
}

// cleanupTombstones compacts the slot array, dropping every tombstoned
// entry. beforeFirstKey caches the pre-compaction first key; the caller
// repairs the parent separator when it reports true (slot 0 was dropped).
func (n leafNode) cleanupTombstones() bool {
	if n.numTombstones() == 0 {
		return false
	}
	n.setBeforeFirstKey(n.keyAt(0))
	firstChanged := n.isTombstoned(0)
	out := 0
	for i := 0; i < n.size(); i++ {
		if n.isTombstoned(i) {
			continue
		}
		if out != i {
			n.setSlot(out, n.keyAt(i), n.valueAt(i))
		}
		out++
	}
	n.setSize(out)
	n.setNumTombstones(0)
	return firstChanged
}

// absorb appends every slot of right (tombstones re-based past n's current
// size, order preserved) and clears right. Returns a copy of right's first
// key for the caller's separator bookkeeping.
func (n leafNode) absorb(right leafNode) []byte {
	beginKey := append([]byte(nil), right.keyAt(0)...)
	base := n.size()
	common.Assert(base+right.size() <= n.meta.leafSlotCapacity, "absorb overflows leaf slots")
	common.Assert(n.numTombstones()+right.numTombstones() <= n.meta.tombCapacity,
		"absorb overflows tombstone buffer")
	for i := 0; i < right.size(); i++ {
		n.setSlot(base+i, right.keyAt(i), right.valueAt(i))
	}
	n.setSize(base + right.size())
	for j := 0; j < right.numTombstones(); j++ {
		count := n.numTombstones()
		n.setTombAt(count, base+right.tombAt(j))
		n.setNumTombstones(count + 1)
	}
	right.setSize(0)
	right.setNumTombstones(0)
	return beginKey
}

// split moves the upper half of the physical slots into right (which must be
// freshly initialized), carrying the tombstones whose slots moved, and links
// right after n. The caller fixes the old successor's prev pointer and the
// parent.
func (n leafNode) split(right leafNode) {
	common.Assert(right.size() == 0, "split target must be empty")
	size := n.size()
	mid := size / 2
	for i := mid; i < size; i++ {
		right.setSlot(i-mid, n.keyAt(i), n.valueAt(i))
	}
	right.setSize(size - mid)

	kept := 0
	for j := 0; j < n.numTombstones(); j++ {
		slot := n.tombAt(j)
		if slot >= mid {
			count := right.numTombstones()
			right.setTombAt(count, slot-mid)
			right.setNumTombstones(count + 1)
		} else {
			n.setTombAt(kept, slot)
			kept++
		}
	}
	n.setNumTombstones(kept)
	n.setSize(mid)

	right.setNext(n.next())
	right.setPrev(n.pageID())
	n.setNext(right.pageID())
}

// popFront removes and returns the first live entry as copies, physically
// dropping any leading tombstoned slots on the way.
func (n leafNode) popFront() ([]byte, []byte) {
	for n.size() > 0 && n.isTombstoned(0) {
		for j := 0; j < n.numTombstones(); j++ {
			if n.tombAt(j) == 0 {
				n.dropTombstoneEntry(j)
				break
			}
		}
		n.removeAt(0)
	}
	common.Assert(n.size() > 0, "popFront on leaf with no live entries")
	key := append([]byte(nil), n.keyAt(0)...)
	value := append([]byte(nil), n.valueAt(0)...)
	n.removeAt(0)
	return key, value
}

// popBack removes and returns the last live entry as copies, physically
// dropping any trailing tombstoned slots on the way.
func (n leafNode) popBack() ([]byte, []byte) {
	for n.size() > 0 && n.isTombstoned(n.size()-1) {
		last := n.size() - 1
		for j := 0; j < n.numTombstones(); j++ {
			if n.tombAt(j) == last {
				n.dropTombstoneEntry(j)
				break
			}
		}
		n.changeSizeBy(-1)
	}
	size := n.size()
	common.Assert(size > 0, "popBack on leaf with no live entries")
	key := append([]byte(nil), n.keyAt(size-1)...)
	value := append([]byte(nil), n.valueAt(size-1)...)
	n.changeSizeBy(-1)
	return key, value
}

// pushFront prepends a live entry, re-basing tombstone indices.
func (n leafNode) pushFront(key, value []byte) {
	common.Assert(n.size() < n.meta.leafSlotCapacity, "leaf slot array overflow")
	n.shiftSlotsRight(0)
	n.shiftTombstones(0, 1)
	n.setSlot(0, key, value)
	n.changeSizeBy(1)
}

// pushBack appends a live entry.
func (n leafNode) pushBack(key, value []byte) {
	size := n.size()
	common.Assert(size < n.meta.leafSlotCapacity, "leaf slot array overflow")
	n.setSlot(size, key, value)
	n.setSize(size + 1)
}
