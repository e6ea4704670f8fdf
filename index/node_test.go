package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mit.edu/dsg/grovedb/common"
)

func testMeta(leafMax, internalMax, tombCap int) *nodeMeta {
	return newNodeMeta(Int64KeySize, RIDSize, leafMax, internalMax, tombCap, CompareInt64Keys)
}

func newRawLeaf(meta *nodeMeta, pid common.PageID) leafNode {
	return initLeaf(make([]byte, common.PageSize), meta, pid)
}

func newRawInternal(meta *nodeMeta, pid common.PageID) internalNode {
	return initInternal(make([]byte, common.PageSize), meta, pid)
}

func leafKeys(n leafNode) []int64 {
	out := make([]int64, 0, n.size())
	for i := 0; i < n.size(); i++ {
		out = append(out, Int64FromKey(n.keyAt(i)))
	}
	return out
}

func tombKeys(n leafNode) []int64 {
	out := make([]int64, 0, n.numTombstones())
	for _, k := range n.tombstoneKeys() {
		out = append(out, Int64FromKey(k))
	}
	return out
}

func TestLeafNode_InsertKeepsOrder(t *testing.T) {
	leaf := newRawLeaf(testMeta(8, 8, 0), 1)
	for _, k := range []int64{5, 1, 3, 2, 4} {
		require.True(t, leaf.insert(Int64Key(k), RID{Slot: int32(k)}.Bytes()))
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, leafKeys(leaf))
	assert.False(t, leaf.insert(Int64Key(3), RID{}.Bytes()), "live duplicate must be rejected")

	pos := leaf.matchKey(Int64Key(4))
	require.NotEqual(t, notFound, pos)
	assert.Equal(t, int32(4), RIDFromBytes(leaf.valueAt(pos)).Slot)
	assert.Equal(t, notFound, leaf.matchKey(Int64Key(9)))
}

func TestLeafNode_InsertShiftsTombstoneIndices(t *testing.T) {
	leaf := newRawLeaf(testMeta(8, 8, 2), 1)
	for _, k := range []int64{10, 20, 30} {
		leaf.insert(Int64Key(k), RID{}.Bytes())
	}
	leaf.appendTombstone(1) // key 20

	leaf.insert(Int64Key(5), RID{}.Bytes())
	assert.Equal(t, []int64{5, 10, 20, 30}, leafKeys(leaf))
	assert.Equal(t, []int64{20}, tombKeys(leaf), "tombstone must follow its shifted slot")
	assert.True(t, leaf.flag(leafFlagIsBegin), "insert at slot 0 must raise the begin flag")
}

func TestLeafNode_ResurrectTombstonedKey(t *testing.T) {
	leaf := newRawLeaf(testMeta(8, 8, 2), 1)
	leaf.insert(Int64Key(1), RID{Slot: 1}.Bytes())
	leaf.insert(Int64Key(2), RID{Slot: 2}.Bytes())
	leaf.appendTombstone(0)

	assert.Equal(t, notFound, leaf.matchKey(Int64Key(1)))
	require.True(t, leaf.insert(Int64Key(1), RID{Slot: 99}.Bytes()))
	assert.Equal(t, 0, leaf.numTombstones())
	pos := leaf.matchKey(Int64Key(1))
	require.NotEqual(t, notFound, pos)
	assert.Equal(t, int32(99), RIDFromBytes(leaf.valueAt(pos)).Slot)
}

func TestLeafNode_ProcessOldestTombstone(t *testing.T) {
	leaf := newRawLeaf(testMeta(8, 8, 3), 1)
	for k := int64(0); k < 5; k++ {
		leaf.insert(Int64Key(k), RID{}.Bytes())
	}
	leaf.appendTombstone(0)
	leaf.appendTombstone(2)
	leaf.appendTombstone(1)

	leaf.processOldestTombstone()
	assert.Equal(t, []int64{1, 2, 3, 4}, leafKeys(leaf))
	assert.Equal(t, []int64{2, 1}, tombKeys(leaf), "remaining tombstones re-based, order preserved")
	assert.True(t, leaf.flag(leafFlagNeedDeepUpdate))
	assert.Equal(t, int64(0), Int64FromKey(leaf.beforeFirstKey()))
}

func TestLeafNode_SplitPartitionsTombstones(t *testing.T) {
	meta := testMeta(5, 4, 3)
	left := newRawLeaf(meta, 1)
	right := newRawLeaf(meta, 2)
	for k := int64(0); k < 5; k++ {
		left.insert(Int64Key(k), RID{}.Bytes())
	}
	// Deletion order 3, 2, 0.
	left.appendTombstone(3)
	left.appendTombstone(2)
	left.appendTombstone(0)

	left.split(right)
	assert.Equal(t, []int64{0, 1}, leafKeys(left))
	assert.Equal(t, []int64{2, 3, 4}, leafKeys(right))
	assert.Equal(t, []int64{0}, tombKeys(left))
	assert.Equal(t, []int64{3, 2}, tombKeys(right), "moved tombstones keep their age order")
	assert.Equal(t, common.PageID(2), left.next())
	assert.Equal(t, common.PageID(1), right.prev())
}

func TestLeafNode_AbsorbShiftsTombstones(t *testing.T) {
	meta := testMeta(8, 4, 4)
	left := newRawLeaf(meta, 1)
	right := newRawLeaf(meta, 2)
	left.insert(Int64Key(1), RID{}.Bytes())
	left.insert(Int64Key(2), RID{}.Bytes())
	left.appendTombstone(1)
	right.insert(Int64Key(5), RID{}.Bytes())
	right.insert(Int64Key(6), RID{}.Bytes())
	right.appendTombstone(0)

	first := left.absorb(right)
	assert.Equal(t, int64(5), Int64FromKey(first))
	assert.Equal(t, []int64{1, 2, 5, 6}, leafKeys(left))
	assert.Equal(t, []int64{2, 5}, tombKeys(left))
	assert.Equal(t, 0, right.size())
}

func TestLeafNode_PopSkipsTombstonedEnds(t *testing.T) {
	leaf := newRawLeaf(testMeta(8, 4, 4), 1)
	for k := int64(0); k < 4; k++ {
		leaf.insert(Int64Key(k), RID{Slot: int32(k)}.Bytes())
	}
	leaf.appendTombstone(0)
	leaf.appendTombstone(3)

	k, _ := leaf.popFront()
	assert.Equal(t, int64(1), Int64FromKey(k), "popFront must drop the tombstoned slot 0 first")
	k, _ = leaf.popBack()
	assert.Equal(t, int64(2), Int64FromKey(k), "popBack must drop the tombstoned tail first")
	assert.Equal(t, 0, leaf.size())
	assert.Equal(t, 0, leaf.numTombstones())
}

func TestInternalNode_RoutingAndSeparators(t *testing.T) {
	n := newRawInternal(testMeta(4, 8, 0), 10)
	n.firstInsert(Int64Key(0), Int64Key(10), 100, 110)
	require.True(t, n.insertSeparator(Int64Key(20), 120))
	require.True(t, n.insertSeparator(Int64Key(5), 105))
	assert.False(t, n.insertSeparator(Int64Key(20), 999), "duplicate separator rejected")
	assert.Equal(t, 4, n.size())

	assert.Equal(t, common.PageID(100), n.accurateFind(Int64Key(-3)))
	assert.Equal(t, common.PageID(105), n.accurateFind(Int64Key(5)))
	assert.Equal(t, common.PageID(105), n.accurateFind(Int64Key(9)))
	assert.Equal(t, common.PageID(110), n.accurateFind(Int64Key(15)))
	assert.Equal(t, common.PageID(120), n.accurateFind(Int64Key(99)))

	assert.Equal(t, 2, n.childIndex(110))
	left, right := n.siblingsOf(2)
	assert.Equal(t, common.PageID(105), left)
	assert.Equal(t, common.PageID(120), right)

	n.deleteAt(1)
	assert.Equal(t, []common.PageID{100, 110, 120}, []common.PageID{n.childAt(0), n.childAt(1), n.childAt(2)})
	assert.Equal(t, common.PageID(100), n.accurateFind(Int64Key(5)))
}

func TestInternalNode_SplitAndAbsorb(t *testing.T) {
	meta := testMeta(4, 8, 0)
	n := newRawInternal(meta, 10)
	right := newRawInternal(meta, 11)
	n.firstInsert(Int64Key(0), Int64Key(10), 100, 110)
	n.insertSeparator(Int64Key(20), 120)
	n.insertSeparator(Int64Key(30), 130)

	splitKey, moved := n.split(right)
	assert.Equal(t, int64(20), Int64FromKey(splitKey))
	assert.Equal(t, []common.PageID{120, 130}, moved)
	assert.Equal(t, 2, n.size())
	assert.Equal(t, 2, right.size())

	key, child := right.popFront()
	assert.Equal(t, int64(20), Int64FromKey(key))
	assert.Equal(t, common.PageID(120), child)
	n.pushBack(key, child)

	begin := n.absorb(right)
	assert.Equal(t, int64(30), Int64FromKey(begin))
	assert.Equal(t, 4, n.size())
	assert.Equal(t, 0, right.size())
}
