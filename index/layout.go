package index

import (
	"encoding/binary"

	"mit.edu/dsg/grovedb/common"
)

// Node page layout. Every node starts with a 16-byte common header:
//
//	| type u32 | size i32 | maxSize i32 | padding |
//
// Internal body:
//
//	| parent i32 | pageID i32 | keys: M x keySize | children: M x i32 |
//
// keys slot 0 routes nothing ("-infinity"); the stored value is kept equal to
// the minimum key of subtree 0 where known, matching what structural
// operations propagate, but search never consults it.
//
// Leaf body:
//
//	| next i32 | prev i32 | numTombstones u32 | parent i32 | pageID i32 |
//	| flags u32 | beforeFirstKey: keySize | tombstones: K x u32 |
//	| keys: M x keySize | values: M x valueSize |
//
// All slot capacities are derived from the remaining byte budget at tree
// construction; every access goes through these accessors so the on-disk and
// in-memory views cannot drift.
const (
	nodeOffsetType    = 0
	nodeOffsetSize    = 4
	nodeOffsetMaxSize = 8
	nodeHeaderSize    = 16

	internalOffsetParent = nodeHeaderSize
	internalOffsetPageID = internalOffsetParent + 4
	internalBodyOffset   = internalOffsetPageID + 4

	leafOffsetNext     = nodeHeaderSize
	leafOffsetPrev     = leafOffsetNext + 4
	leafOffsetNumTombs = leafOffsetPrev + 4
	leafOffsetParent   = leafOffsetNumTombs + 4
	leafOffsetPageID   = leafOffsetParent + 4
	leafOffsetFlags    = leafOffsetPageID + 4
	leafFixedEnd       = leafOffsetFlags + 4
)

const (
	nodeTypeInternal uint32 = 1
	nodeTypeLeaf     uint32 = 2
)

const (
	leafFlagIsBegin uint32 = 1 << iota
	leafFlagIsUpdate
	leafFlagNeedDeepUpdate
)

// nodeMeta carries the runtime layout parameters of one tree: key and value
// widths, node fan-outs, the tombstone capacity K, and the offsets derived
// from them.
type nodeMeta struct {
	keySize   int
	valueSize int

	leafMaxSize     int
	internalMaxSize int
	tombCapacity    int

	cmp Comparator

	// Derived layout.
	leafBeforeFirstOff int
	leafTombOff        int
	leafKeysOff        int
	leafValuesOff      int
	leafSlotCapacity   int

	internalKeysOff      int
	internalChildrenOff  int
	internalSlotCapacity int
}

func newNodeMeta(keySize, valueSize, leafMaxSize, internalMaxSize, tombCapacity int, cmp Comparator) *nodeMeta {
	common.Assert(keySize > 0 && valueSize > 0, "key and value sizes must be positive")
	common.Assert(leafMaxSize >= 2 && internalMaxSize >= 2, "node max sizes must be at least 2")
	common.Assert(tombCapacity >= 0, "tombstone capacity must be non-negative")
	common.Assert(cmp != nil, "comparator is required")

	m := &nodeMeta{
		keySize:         keySize,
		valueSize:       valueSize,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
		tombCapacity:    tombCapacity,
		cmp:             cmp,
	}

	m.leafBeforeFirstOff = leafFixedEnd
	m.leafTombOff = m.leafBeforeFirstOff + keySize
	m.leafKeysOff = m.leafTombOff + 4*tombCapacity
	m.leafSlotCapacity = (common.PageSize - m.leafKeysOff) / (keySize + valueSize)
	m.leafValuesOff = m.leafKeysOff + m.leafSlotCapacity*keySize

	m.internalKeysOff = internalBodyOffset
	m.internalSlotCapacity = (common.PageSize - m.internalKeysOff) / (keySize + 4)
	m.internalChildrenOff = m.internalKeysOff + m.internalSlotCapacity*keySize

	// Nodes hold up to maxSize slots plus one transient overflow slot before
	// the split in pushUp runs.
	common.Assert(leafMaxSize < m.leafSlotCapacity,
		"leaf max size %d does not leave an overflow slot (capacity %d)", leafMaxSize, m.leafSlotCapacity)
	common.Assert(internalMaxSize < m.internalSlotCapacity,
		"internal max size %d does not leave an overflow slot (capacity %d)", internalMaxSize, m.internalSlotCapacity)
	return m
}

func (m *nodeMeta) leafMinSize() int {
	return common.CeilDiv(m.leafMaxSize, 2)
}

func (m *nodeMeta) internalMinSize() int {
	return common.CeilDiv(m.internalMaxSize, 2)
}

// node is a view over a guarded page payload. It holds no state of its own;
// dropping it is free and the underlying guard governs the lifetime.
type node struct {
	data []byte
	meta *nodeMeta
}

func (n node) nodeType() uint32 {
	return binary.LittleEndian.Uint32(n.data[nodeOffsetType:])
}

func (n node) isLeaf() bool {
	return n.nodeType() == nodeTypeLeaf
}

func (n node) size() int {
	return int(int32(binary.LittleEndian.Uint32(n.data[nodeOffsetSize:])))
}

func (n node) setSize(size int) {
	binary.LittleEndian.PutUint32(n.data[nodeOffsetSize:], uint32(int32(size)))
}

func (n node) changeSizeBy(delta int) {
	n.setSize(n.size() + delta)
}

func (n node) maxSize() int {
	return int(int32(binary.LittleEndian.Uint32(n.data[nodeOffsetMaxSize:])))
}

func (n node) setMaxSize(maxSize int) {
	binary.LittleEndian.PutUint32(n.data[nodeOffsetMaxSize:], uint32(int32(maxSize)))
}

func (n node) minSize() int {
	return common.CeilDiv(n.maxSize(), 2)
}

func writeUint32(data []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(data[off:], v)
}

func readUint32(data []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(data[off:])
}

func readPageID(data []byte, off int) common.PageID {
	return common.PageID(int32(binary.LittleEndian.Uint32(data[off:])))
}

func writePageID(data []byte, off int, pid common.PageID) {
	binary.LittleEndian.PutUint32(data[off:], uint32(int32(pid)))
}

// parent returns the node's cached parent pointer. Parent pointers are
// redundant metadata; structural operations re-validate against the
// authoritative parent-to-child mapping before trusting them.
func (n node) parent() common.PageID {
	if n.isLeaf() {
		return readPageID(n.data, leafOffsetParent)
	}
	return readPageID(n.data, internalOffsetParent)
}

func (n node) setParent(pid common.PageID) {
	if n.isLeaf() {
		writePageID(n.data, leafOffsetParent, pid)
		return
	}
	writePageID(n.data, internalOffsetParent, pid)
}

func (n node) pageID() common.PageID {
	if n.isLeaf() {
		return readPageID(n.data, leafOffsetPageID)
	}
	return readPageID(n.data, internalOffsetPageID)
}

// Header page layout: the distinguished page holding the root pointer.
const headerOffsetRoot = 0

func headerRoot(data []byte) common.PageID {
	return readPageID(data, headerOffsetRoot)
}

func setHeaderRoot(data []byte, pid common.PageID) {
	writePageID(data, headerOffsetRoot, pid)
}
