package buffer

import (
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"mit.edu/dsg/grovedb/common"
	"mit.edu/dsg/grovedb/storage"
)

// frame is one fixed-size in-memory slot. The payload is protected by the
// per-frame reader-writer latch; pageID and dirty are protected by the pool
// mutex; pinCount is atomic so GetPinCount can read it without latching.
type frame struct {
	id       common.FrameID
	data     [common.PageSize]byte
	latch    sync.RWMutex
	pinCount atomic.Int32
	dirty    bool
	pageID   common.PageID
}

func (f *frame) reset() {
	f.data = [common.PageSize]byte{}
	f.pinCount.Store(0)
	f.dirty = false
	f.pageID = common.InvalidPageID
}

// BufferPool owns a fixed set of frames and moves pages between them and the
// disk. All I/O goes through the DiskScheduler; victim selection goes through
// the ArcReplacer. One mutex guards the page table, the free list and every
// interaction with the replacer.
//
// Lock order: frame latches are only acquired under the mutex when the frame
// is guaranteed uncontended (pin count zero and unmapped, or freshly mapped).
// The flush path is the one place that takes the mutex while holding a
// latch (shared, on a frame it has pinned). The mutex is never held while waiting on
// a scheduler completion: write-backs are enqueued under the mutex (enqueue
// never blocks) and awaited after it is released, which keeps same-page I/O
// in FIFO order ahead of any later reload.
type BufferPool struct {
	mu         sync.Mutex
	frames     []frame
	pageTable  map[common.PageID]common.FrameID
	freeFrames []common.FrameID
	replacer   *ArcReplacer
	scheduler  *storage.DiskScheduler
	nextPageID atomic.Int32
}

// NewBufferPool creates a pool of numFrames frames over the given disk
// manager. firstPageID seeds the id allocator; on a cold start it must
// exceed every persisted page id.
func NewBufferPool(numFrames int, disk storage.DiskManager, firstPageID common.PageID) *BufferPool {
	common.Assert(numFrames > 0, "pool must have at least one frame")
	bp := &BufferPool{
		frames:     make([]frame, numFrames),
		pageTable:  make(map[common.PageID]common.FrameID, numFrames),
		freeFrames: make([]common.FrameID, 0, numFrames),
		replacer:   NewArcReplacer(numFrames),
		scheduler:  storage.NewDiskScheduler(disk),
	}
	bp.nextPageID.Store(int32(firstPageID))
	for i := range bp.frames {
		bp.frames[i].id = common.FrameID(i)
		bp.frames[i].pageID = common.InvalidPageID
		bp.freeFrames = append(bp.freeFrames, common.FrameID(i))
	}
	return bp
}

// Size returns the number of frames the pool manages.
func (bp *BufferPool) Size() int {
	return len(bp.frames)
}

// Close shuts down the disk scheduler after flushing all dirty pages.
func (bp *BufferPool) Close() {
	bp.FlushAllPages()
	bp.scheduler.Shutdown()
}

// acquireFrameLocked obtains a frame for a new mapping: from the free list
// if possible, otherwise by evicting a victim. If the victim is dirty its
// write-back is enqueued (still under the mutex) and returned for the caller
// to await after releasing the mutex. The frame comes back with the old
// mapping removed, dirty cleared and pin count zero.
func (bp *BufferPool) acquireFrameLocked() (*frame, *storage.DiskRequest, bool) {
	if n := len(bp.freeFrames); n > 0 {
		fid := bp.freeFrames[n-1]
		bp.freeFrames = bp.freeFrames[:n-1]
		return &bp.frames[fid], nil, true
	}
	fid, ok := bp.replacer.Evict()
	if !ok {
		return nil, nil, false
	}
	f := &bp.frames[fid]
	common.Assert(f.pinCount.Load() == 0, "evicted frame %d is pinned", fid)
	common.Assert(f.pageID.IsValid(), "evicted frame %d maps no page", fid)
	delete(bp.pageTable, f.pageID)

	var writeBack *storage.DiskRequest
	if f.dirty {
		writeBack = storage.NewDiskRequest(storage.DiskOpWrite, f.pageID, f.data[:])
		bp.scheduler.Schedule(writeBack)
		f.dirty = false
	}
	f.pageID = common.InvalidPageID
	return f, writeBack, true
}

// NewPage allocates a fresh page id, backs it with a zeroed frame and
// returns the id. Returns InvalidPageID when no frame can be freed.
func (bp *BufferPool) NewPage() common.PageID {
	bp.mu.Lock()
	f, writeBack, ok := bp.acquireFrameLocked()
	if !ok {
		bp.mu.Unlock()
		return common.InvalidPageID
	}
	pid := common.PageID(bp.nextPageID.Add(1) - 1)
	bp.pageTable[pid] = f.id
	f.pageID = pid
	// Pin count zero and unmapped until now, so the exclusive latch cannot
	// block here.
	f.latch.Lock()
	bp.replacer.RecordAccess(f.id, pid)
	bp.replacer.SetEvictable(f.id, true)
	bp.mu.Unlock()

	if writeBack != nil {
		awaitIO(writeBack)
	}
	f.data = [common.PageSize]byte{}
	f.latch.Unlock()
	return pid
}

// DeletePage evicts and deallocates a page. Refuses (returns false) while
// the page is pinned; deleting a non-resident page only deallocates it.
func (bp *BufferPool) DeletePage(pid common.PageID) bool {
	bp.mu.Lock()
	if fid, ok := bp.pageTable[pid]; ok {
		f := &bp.frames[fid]
		if f.pinCount.Load() > 0 {
			bp.mu.Unlock()
			return false
		}
		delete(bp.pageTable, pid)
		bp.replacer.Remove(fid)
		f.reset()
		bp.freeFrames = append(bp.freeFrames, fid)
	}
	bp.mu.Unlock()
	bp.scheduler.DeallocatePage(pid)
	return true
}

// CheckedReadPage pins pid under a shared latch. Returns nil iff the page is
// not resident and no frame can be made available.
func (bp *BufferPool) CheckedReadPage(pid common.PageID) *ReadGuard {
	f := bp.pinPage(pid)
	if f == nil {
		return nil
	}
	f.latch.RLock()
	return &ReadGuard{guard{pool: bp, frame: f, pageID: pid, valid: true}}
}

// CheckedWritePage pins pid under the exclusive latch. Returns nil iff the
// page is not resident and no frame can be made available.
func (bp *BufferPool) CheckedWritePage(pid common.PageID) *WriteGuard {
	f := bp.pinPage(pid)
	if f == nil {
		return nil
	}
	f.latch.Lock()
	return &WriteGuard{guard{pool: bp, frame: f, pageID: pid, valid: true}}
}

// ReadPage is CheckedReadPage for callers that cannot tolerate exhaustion.
func (bp *BufferPool) ReadPage(pid common.PageID) *ReadGuard {
	g := bp.CheckedReadPage(pid)
	common.Assert(g != nil, "CheckedReadPage failed to bring in %s", pid)
	return g
}

// WritePage is CheckedWritePage for callers that cannot tolerate exhaustion.
func (bp *BufferPool) WritePage(pid common.PageID) *WriteGuard {
	g := bp.CheckedWritePage(pid)
	common.Assert(g != nil, "CheckedWritePage failed to bring in %s", pid)
	return g
}

// pinPage makes pid resident and pinned, loading it from disk on a miss.
// The returned frame is not yet latched.
func (bp *BufferPool) pinPage(pid common.PageID) *frame {
	if !pid.IsValid() {
		return nil
	}
	bp.mu.Lock()
	if fid, ok := bp.pageTable[pid]; ok {
		f := &bp.frames[fid]
		f.pinCount.Add(1)
		bp.replacer.RecordAccess(fid, pid)
		bp.replacer.SetEvictable(fid, false)
		bp.mu.Unlock()
		return f
	}

	f, writeBack, ok := bp.acquireFrameLocked()
	if !ok {
		bp.mu.Unlock()
		return nil
	}
	bp.pageTable[pid] = f.id
	f.pageID = pid
	f.pinCount.Add(1)
	bp.replacer.RecordAccess(f.id, pid)
	bp.replacer.SetEvictable(f.id, false)
	// Hold the exclusive latch across the load; a concurrent hit on pid will
	// pin the frame and block on the latch until the bytes are in place.
	f.latch.Lock()
	read := storage.NewDiskRequest(storage.DiskOpRead, pid, f.data[:])
	bp.scheduler.Schedule(read)
	bp.mu.Unlock()

	if writeBack != nil {
		awaitIO(writeBack)
	}
	awaitIO(read)
	f.latch.Unlock()
	return f
}

// awaitIO waits for a scheduled request. Disk failure is fatal: retrying is
// out of scope and continuing would serve pages of unknown content.
func awaitIO(req *storage.DiskRequest) {
	if err := <-req.Done; err != nil {
		log.Errorf("buffer pool: fatal I/O failure on %s: %v", req.PageID, err)
		common.Assert(false, "disk I/O failed on %s: %v", req.PageID, err)
	}
}

// FlushPage writes pid back if dirty and clears the dirty bit. Returns true
// iff the page was resident.
func (bp *BufferPool) FlushPage(pid common.PageID) bool {
	bp.mu.Lock()
	fid, ok := bp.pageTable[pid]
	if !ok {
		bp.mu.Unlock()
		return false
	}
	f := &bp.frames[fid]
	f.pinCount.Add(1)
	bp.replacer.SetEvictable(fid, false)
	bp.mu.Unlock()

	bp.flushPinnedFrame(f)

	bp.unpin(f)
	return true
}

// flushPinnedFrame writes the frame back under a shared latch so no writer
// can tear the bytes mid-flight. The caller must hold a pin.
func (bp *BufferPool) flushPinnedFrame(f *frame) {
	f.latch.RLock()
	bp.mu.Lock()
	if !f.dirty {
		bp.mu.Unlock()
		f.latch.RUnlock()
		return
	}
	req := storage.NewDiskRequest(storage.DiskOpWrite, f.pageID, f.data[:])
	bp.scheduler.Schedule(req)
	f.dirty = false
	bp.mu.Unlock()

	awaitIO(req)
	f.latch.RUnlock()
}

// FlushAllPages flushes every resident dirty page.
func (bp *BufferPool) FlushAllPages() {
	for i := range bp.frames {
		f := &bp.frames[i]
		bp.mu.Lock()
		if !f.pageID.IsValid() || !f.dirty {
			bp.mu.Unlock()
			continue
		}
		f.pinCount.Add(1)
		bp.replacer.SetEvictable(f.id, false)
		bp.mu.Unlock()

		bp.flushPinnedFrame(f)
		bp.unpin(f)
	}
}

// GetPinCount reports the pin count of a resident page.
func (bp *BufferPool) GetPinCount(pid common.PageID) (int, bool) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	fid, ok := bp.pageTable[pid]
	if !ok {
		return 0, false
	}
	return int(bp.frames[fid].pinCount.Load()), true
}

// unpin drops one pin and re-enables eviction at zero. Shared by guard
// release and the flush paths.
func (bp *BufferPool) unpin(f *frame) {
	bp.mu.Lock()
	old := f.pinCount.Load()
	common.Assert(old > 0, "pin underflow on frame %d", f.id)
	if f.pinCount.Add(-1) == 0 {
		bp.replacer.SetEvictable(f.id, true)
	}
	bp.mu.Unlock()
}
