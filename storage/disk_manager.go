package storage

import (
	"mit.edu/dsg/grovedb/common"
)

// DiskManager abstracts the physical storage beneath the buffer pool. All
// I/O is synchronous and page-granular; the DiskScheduler is the only caller
// in the engine, so implementations do not need to be safe for concurrent
// use of the same page, but distinct pages may be accessed concurrently.
type DiskManager interface {
	// ReadPage reads the page identified by pid into buf. The slice must be
	// exactly common.PageSize bytes. Reading a page that was allocated but
	// never written yields a zero page.
	ReadPage(pid common.PageID, buf []byte) error
	// WritePage writes buf to the page identified by pid, growing the
	// underlying storage if needed. The slice must be exactly
	// common.PageSize bytes.
	WritePage(pid common.PageID, buf []byte) error
	// DeletePage releases the storage behind pid so the id may be reused.
	// Deleting an unknown page is a no-op.
	DeletePage(pid common.PageID)
}
