package common

import "fmt"

const (
	// PageSize is the fixed size of every on-disk page and in-memory frame.
	PageSize int = 4096
)

// PageID uniquely identifies a page on disk. IDs are allocated by the buffer
// pool from a monotonically increasing counter; on a cold start the pool must
// be constructed with a counter larger than any persisted id.
type PageID int32

const InvalidPageID PageID = -1

func (p PageID) IsValid() bool {
	return p != InvalidPageID
}

func (p PageID) String() string {
	if p == InvalidPageID {
		return "page(invalid)"
	}
	return fmt.Sprintf("page(%d)", int32(p))
}

// FrameID indexes a frame inside the buffer pool. Frames are reused across
// many pages over their lifetime.
type FrameID int32

const InvalidFrameID FrameID = -1
