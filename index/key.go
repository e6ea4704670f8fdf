package index

import (
	"encoding/binary"

	"mit.edu/dsg/grovedb/common"
)

// Comparator orders two keys of the tree's fixed key size.
// Returns -1 if a < b, 0 if a == b, 1 if a > b.
type Comparator func(a, b []byte) int

// RID locates a record: the page holding it and the slot within that page.
// It is the conventional value type for an index over a heap file; the tree
// itself only sees the serialized form.
type RID struct {
	PageNum int32
	Slot    int32
}

// RIDSize is the serialized size of a RID (PageNum (4) + Slot (4) = 8).
const RIDSize = 8

// WriteTo serializes the RID into the provided buffer.
func (r RID) WriteTo(data []byte) {
	common.Assert(len(data) >= RIDSize, "buffer too small for RID")
	binary.LittleEndian.PutUint32(data, uint32(r.PageNum))
	binary.LittleEndian.PutUint32(data[4:], uint32(r.Slot))
}

// Bytes returns the serialized RID.
func (r RID) Bytes() []byte {
	data := make([]byte, RIDSize)
	r.WriteTo(data)
	return data
}

// RIDFromBytes deserializes a RID from the provided buffer.
func RIDFromBytes(data []byte) RID {
	common.Assert(len(data) >= RIDSize, "buffer too small for RID")
	return RID{
		PageNum: int32(binary.LittleEndian.Uint32(data)),
		Slot:    int32(binary.LittleEndian.Uint32(data[4:])),
	}
}

// Int64KeySize is the serialized size of an int64 key.
const Int64KeySize = 8

// Int64Key serializes v as a tree key.
func Int64Key(v int64) []byte {
	data := make([]byte, Int64KeySize)
	binary.LittleEndian.PutUint64(data, uint64(v))
	return data
}

// Int64FromKey deserializes an int64 key.
func Int64FromKey(data []byte) int64 {
	return int64(binary.LittleEndian.Uint64(data))
}

// CompareInt64Keys is the Comparator for Int64Key-encoded keys.
func CompareInt64Keys(a, b []byte) int {
	av, bv := Int64FromKey(a), Int64FromKey(b)
	if av < bv {
		return -1
	}
	if av > bv {
		return 1
	}
	return 0
}
