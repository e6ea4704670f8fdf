package storage

import (
	"github.com/puzpuzpuz/xsync/v3"

	"mit.edu/dsg/grovedb/common"
)

// MemoryDiskManager keeps every page in memory. It backs tests and tooling
// that do not care about durability, and doubles as the inner store for the
// compressing disk manager in tests.
type MemoryDiskManager struct {
	pages *xsync.MapOf[common.PageID, *[common.PageSize]byte]
}

var _ DiskManager = (*MemoryDiskManager)(nil)

func NewMemoryDiskManager() *MemoryDiskManager {
	return &MemoryDiskManager{
		pages: xsync.NewMapOf[common.PageID, *[common.PageSize]byte](),
	}
}

func (m *MemoryDiskManager) ReadPage(pid common.PageID, buf []byte) error {
	common.Assert(len(buf) == common.PageSize, "buffer size must match PageSize")
	if page, ok := m.pages.Load(pid); ok {
		for i := 0; i < len(buf) && i < len(page); i++ {
			buf[i] = page[i]
		}
		return nil
	}
	// Never-written pages read back as zeros.
	for i := range buf {
		buf[i] = 0
	}
	return nil
}

func (m *MemoryDiskManager) WritePage(pid common.PageID, buf []byte) error {
	common.Assert(len(buf) == common.PageSize, "buffer size must match PageSize")
	page, _ := m.pages.LoadOrStore(pid, &[common.PageSize]byte{})
	for i := 0; i < len(buf) && i < len(page); i++ {
		page[i] = buf[i]
	}
	return nil
}

func (m *MemoryDiskManager) DeletePage(pid common.PageID) {
	m.pages.Delete(pid)
}

// NumPages returns the number of pages that have been written at least once.
func (m *MemoryDiskManager) NumPages() int {
	return m.pages.Size()
}
