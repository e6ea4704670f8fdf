package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Deletions buffer as tombstones, invisible to lookups and scans; the
// buffers across leaves, read in leaf order then append order, preserve
// deletion age.
func TestBPlusTree_TombstoneVisibility(t *testing.T) {
	tree := newTestTree(t, 64, 4, 4, 2)
	expected := []int64{}
	for k := int64(0); k < 17; k++ {
		insertKey(t, tree, k)
		expected = append(expected, k)
	}

	for _, k := range []int64{1, 5, 9} {
		tree.Remove(Int64Key(k))
		for i, e := range expected {
			if e == k {
				expected = append(expected[:i], expected[i+1:]...)
				break
			}
		}
		var values [][]byte
		assert.False(t, tree.GetValue(Int64Key(k), &values))
	}

	assert.Equal(t, expected, scanKeys(tree))
	assert.Equal(t, []int64{1, 5, 9}, leafTombstones(tree))
}

// Re-inserting a tombstoned key resurrects the slot in place with the new
// value and clears its buffer entry.
func TestBPlusTree_TombstoneResurrection(t *testing.T) {
	tree := newTestTree(t, 64, 4, 4, 2)
	for k := int64(0); k < 17; k++ {
		insertKey(t, tree, k)
	}
	toDelete := []int64{1, 5, 9}
	for _, k := range toDelete {
		tree.Remove(Int64Key(k))
	}
	for _, k := range toDelete {
		require.True(t, tree.Insert(Int64Key(k), RID{Slot: int32(2 * k)}.Bytes()))
	}
	assert.Empty(t, leafTombstones(tree))

	var values [][]byte
	for _, k := range toDelete {
		values = values[:0]
		require.True(t, tree.GetValue(Int64Key(k), &values))
		require.Len(t, values, 1)
		assert.Equal(t, int32(2*k), RIDFromBytes(values[0]).Slot)
	}
}

// A delete arriving at a full buffer applies the oldest tombstone
// physically, re-basing the survivors' slot indices.
func TestBPlusTree_TombstoneOverflowProcessesOldest(t *testing.T) {
	tree := newTestTree(t, 64, 8, 4, 3)
	for k := int64(0); k < 5; k++ {
		insertKey(t, tree, k)
	}
	// Deletion order: 0, 2, 1 fill the buffer; 3 forces the flush of 0.
	for _, k := range []int64{0, 2, 1, 3} {
		tree.Remove(Int64Key(k))
	}
	assert.Equal(t, []int64{2, 1, 3}, leafTombstones(tree),
		"oldest tombstone flushed, survivors re-based in age order")
	assert.Equal(t, []int64{4}, scanKeys(tree))
}

// Deleting the first key of a minimum-size leftmost leaf borrows from the
// right neighbor; the parent separator advances to the neighbor's new first
// key and the borrower keeps its tombstone.
func TestBPlusTree_RedistributionWithFirstKeyRepair(t *testing.T) {
	tree := newTestTree(t, 64, 4, 4, 1)
	for k := int64(0); k < 5; k++ {
		insertKey(t, tree, k)
	}
	// Leaves are [0,1] and [2,3,4] under one internal root.
	tree.Remove(Int64Key(0))

	assert.Equal(t, []int64{0}, leafTombstones(tree), "borrower keeps exactly the deleted key's tombstone")
	assert.Equal(t, []int64{1, 2, 3, 4}, scanKeys(tree))

	root := tree.RootPageID()
	g := tree.pool.ReadPage(root)
	parent := asInternal(g.Data(), tree.meta)
	require.Equal(t, 2, parent.size())
	assert.Equal(t, int64(3), Int64FromKey(parent.keyAt(1)),
		"separator must advance to the right neighbor's new first key")
	leftPid := parent.childAt(0)
	g.Release()

	// The borrower now holds the moved entry after its tombstoned slot.
	lg := tree.pool.ReadPage(leftPid)
	left := asLeaf(lg.Data(), tree.meta)
	assert.Equal(t, []int64{0, 1, 2}, leafKeys(left))
	assert.Equal(t, 1, left.numTombstones())
	lg.Release()
}

// Deleting every key leaves an iterator-empty tree whose leaves still carry
// most deletions as unprocessed tombstones.
func TestBPlusTree_DeleteAllKeepsTombstonesBuffered(t *testing.T) {
	tree := newTestTree(t, 64, 4, 4, 2)
	const numKeys = 17
	for k := int64(0); k < numKeys; k++ {
		insertKey(t, tree, k)
	}
	for k := int64(0); k < numKeys; k++ {
		tree.Remove(Int64Key(k))
	}

	assert.True(t, tree.Begin().IsEnd(), "no live entries must be visible")
	var values [][]byte
	for k := int64(0); k < numKeys; k++ {
		assert.False(t, tree.GetValue(Int64Key(k), &values))
	}

	total := len(leafTombstones(tree))
	assert.Greater(t, total, ((numKeys-1)/4)*2, "buffers must retain most deletions")
	assert.Less(t, total, numKeys, "overflow processing must have applied some deletions")
}

// The tombstone buffer partitions with the slots on a split: a leaf filled
// back up over its tombstones splits without losing or reordering them.
func TestBPlusTree_TombstonesSurviveSplit(t *testing.T) {
	tree := newTestTree(t, 64, 7, 4, 3)
	for k := int64(0); k < 4; k++ {
		insertKey(t, tree, k)
	}
	for _, k := range []int64{3, 2, 0} {
		tree.Remove(Int64Key(k))
	}
	assert.Equal(t, []int64{3, 2, 0}, leafTombstones(tree))

	// Three more inserts push the leaf to its max and split it.
	insertKey(t, tree, 4)
	insertKey(t, tree, 5)
	insertKey(t, tree, 6)
	assert.Equal(t, []int64{1, 4, 5, 6}, scanKeys(tree))

	tombs := leafTombstones(tree)
	assert.ElementsMatch(t, []int64{3, 2, 0}, tombs, "no tombstone may be lost by the split")
}
