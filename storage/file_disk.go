package storage

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"mit.edu/dsg/grovedb/common"
)

// FileDiskManager stores pages in a single OS file at offset pid*PageSize.
// The file grows on write; reads past the current end return zero pages so a
// page that was allocated but never flushed behaves like a fresh page.
type FileDiskManager struct {
	file *os.File
	path string
	// numPages caches the file size in pages to avoid a stat() per read.
	// Updated atomically after the file is extended.
	numPages atomic.Int32
	// growMu serializes file extension so concurrent writes to new pages do
	// not race on Truncate.
	growMu sync.Mutex
}

var _ DiskManager = (*FileDiskManager)(nil)

// NewFileDiskManager opens (or creates) the page file at path.
func NewFileDiskManager(path string) (*FileDiskManager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, errors.Wrapf(err, "open page file %s", path)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "stat page file %s", path)
	}
	// We assume the file size is always a multiple of PageSize.
	dm := &FileDiskManager{file: f, path: path}
	dm.numPages.Store(int32(stat.Size() / int64(common.PageSize)))
	return dm, nil
}

func (d *FileDiskManager) ReadPage(pid common.PageID, buf []byte) error {
	common.Assert(len(buf) == common.PageSize, "buffer size must match PageSize")
	common.Assert(pid.IsValid(), "read of invalid page id")

	if int32(pid) >= d.numPages.Load() {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	offset := int64(pid) * int64(common.PageSize)
	if _, err := d.file.ReadAt(buf, offset); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			// Racing a concurrent extension; the tail reads as zeros.
			for i := range buf {
				buf[i] = 0
			}
			return nil
		}
		return errors.Wrapf(err, "read %s from %s", pid, d.path)
	}
	return nil
}

func (d *FileDiskManager) WritePage(pid common.PageID, buf []byte) error {
	common.Assert(len(buf) == common.PageSize, "buffer size must match PageSize")
	common.Assert(pid.IsValid(), "write of invalid page id")

	if int32(pid) >= d.numPages.Load() {
		if err := d.grow(int32(pid) + 1); err != nil {
			return err
		}
	}
	offset := int64(pid) * int64(common.PageSize)
	if _, err := d.file.WriteAt(buf, offset); err != nil {
		return errors.Wrapf(err, "write %s to %s", pid, d.path)
	}
	return nil
}

func (d *FileDiskManager) grow(upTo int32) error {
	d.growMu.Lock()
	defer d.growMu.Unlock()
	current := d.numPages.Load()
	if upTo <= current {
		return nil
	}
	if err := d.file.Truncate(int64(upTo) * int64(common.PageSize)); err != nil {
		return errors.Wrapf(err, "grow %s to %d pages", d.path, upTo)
	}
	d.numPages.Store(upTo)
	return nil
}

// DeletePage zeroes the page's slot. The file is not shrunk; the id becomes
// reusable once the caller's id allocator hands it out again.
func (d *FileDiskManager) DeletePage(pid common.PageID) {
	if !pid.IsValid() || int32(pid) >= d.numPages.Load() {
		return
	}
	zero := make([]byte, common.PageSize)
	if _, err := d.file.WriteAt(zero, int64(pid)*int64(common.PageSize)); err != nil {
		log.Errorf("failed to clear deleted %s in %s: %v", pid, d.path, err)
	}
}

// Sync flushes buffered writes to stable storage.
func (d *FileDiskManager) Sync() error {
	return errors.Wrapf(d.file.Sync(), "sync %s", d.path)
}

// Close closes the underlying OS file.
func (d *FileDiskManager) Close() error {
	return d.file.Close()
}

// NumPages returns the number of pages currently backed by the file.
func (d *FileDiskManager) NumPages() int {
	return int(d.numPages.Load())
}
