package buffer

import (
	"container/list"
	"sync"

	"mit.edu/dsg/grovedb/common"
)

type arcStatus int

const (
	statusMRU arcStatus = iota
	statusMFU
	statusMRUGhost
	statusMFUGhost
)

// arcEntry tracks one frame (resident) or one page (ghost). The elem field
// points at this entry's node in whichever of the four lists currently owns
// it.
type arcEntry struct {
	frameID   common.FrameID
	pageID    common.PageID
	evictable bool
	status    arcStatus
	elem      *list.Element
}

// ArcReplacer selects eviction victims using an adaptive replacement policy.
// Resident frames live in two lists ordered most-recent-first: mru holds
// frames seen once since entering the cache, mfu holds frames seen again.
// Evicted pages leave a page-id-only ghost in the list matching their final
// status; a hit on a ghost shifts mruTargetSize toward the list that would
// have kept the page, steering future victim selection.
//
// Invariants: the four lists are disjoint; |mru| + |mruGhost| ≤ capacity;
// the total across all four lists ≤ 2*capacity; mruTargetSize ∈ [0, capacity].
type ArcReplacer struct {
	mu sync.Mutex

	mru      *list.List // *arcEntry, front = most recent
	mfu      *list.List
	mruGhost *list.List
	mfuGhost *list.List

	alive map[common.FrameID]*arcEntry // resident frames
	ghost map[common.PageID]*arcEntry  // evicted page memory

	mruTargetSize  int
	capacity       int
	evictableCount int
}

func NewArcReplacer(numFrames int) *ArcReplacer {
	common.Assert(numFrames > 0, "replacer capacity must be positive")
	return &ArcReplacer{
		mru:      list.New(),
		mfu:      list.New(),
		mruGhost: list.New(),
		mfuGhost: list.New(),
		alive:    make(map[common.FrameID]*arcEntry, numFrames),
		ghost:    make(map[common.PageID]*arcEntry, numFrames),
		capacity: numFrames,
	}
}

// RecordAccess is called whenever the buffer pool touches a frame: on load,
// read-pin and write-pin. New entries start non-evictable; the pool flips the
// flag when the pin count allows.
func (r *ArcReplacer) RecordAccess(frameID common.FrameID, pageID common.PageID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.alive[frameID]; ok {
		common.Assert(e.pageID == pageID, "frame %d holds %s, accessed as %s", frameID, e.pageID, pageID)
		switch e.status {
		case statusMRU:
			r.mru.Remove(e.elem)
			e.status = statusMFU
			e.elem = r.mfu.PushFront(e)
		case statusMFU:
			r.mfu.MoveToFront(e.elem)
		}
		return
	}

	if e, ok := r.ghost[pageID]; ok {
		// Ghost hit: adapt the target, then resurrect the entry at the front
		// of MFU under the caller's frame.
		if e.status == statusMRUGhost {
			if r.mruGhost.Len() >= r.mfuGhost.Len() {
				r.mruTargetSize++
			} else {
				r.mruTargetSize += r.mfuGhost.Len() / r.mruGhost.Len()
			}
			if r.mruTargetSize > r.capacity {
				r.mruTargetSize = r.capacity
			}
			r.mruGhost.Remove(e.elem)
		} else {
			if r.mfuGhost.Len() >= r.mruGhost.Len() {
				r.mruTargetSize--
			} else {
				r.mruTargetSize -= r.mruGhost.Len() / r.mfuGhost.Len()
			}
			if r.mruTargetSize < 0 {
				r.mruTargetSize = 0
			}
			r.mfuGhost.Remove(e.elem)
		}
		delete(r.ghost, pageID)

		e.frameID = frameID
		e.status = statusMFU
		e.evictable = false
		e.elem = r.mfu.PushFront(e)
		r.alive[frameID] = e
		return
	}

	// Cold miss. Enforce capacity invariants before inserting at MRU front.
	if r.mru.Len()+r.mruGhost.Len() == r.capacity {
		r.dropOldestGhost(r.mruGhost)
	}
	if r.mru.Len()+r.mfu.Len()+r.mruGhost.Len()+r.mfuGhost.Len() >= 2*r.capacity {
		if r.mfuGhost.Len() > 0 {
			r.dropOldestGhost(r.mfuGhost)
		} else {
			r.dropOldestGhost(r.mruGhost)
		}
	}
	e := &arcEntry{frameID: frameID, pageID: pageID, status: statusMRU}
	e.elem = r.mru.PushFront(e)
	r.alive[frameID] = e
}

func (r *ArcReplacer) dropOldestGhost(l *list.List) {
	back := l.Back()
	if back == nil {
		return
	}
	e := back.Value.(*arcEntry)
	l.Remove(back)
	delete(r.ghost, e.pageID)
}

// Evict chooses a victim among resident, evictable frames. If the MRU list
// is at or above its target size the MRU tail is preferred, otherwise the
// MFU tail; when the preferred list has no evictable candidate the other is
// tried. The victim leaves a ghost carrying its page id.
func (r *ArcReplacer) Evict() (common.FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var victim *arcEntry
	if r.mru.Len() >= r.mruTargetSize {
		victim = r.evictableTail(r.mru)
		if victim == nil {
			victim = r.evictableTail(r.mfu)
		}
	} else {
		victim = r.evictableTail(r.mfu)
		if victim == nil {
			victim = r.evictableTail(r.mru)
		}
	}
	if victim == nil {
		return common.InvalidFrameID, false
	}

	// Re-verified under the mutex: evictableTail only returns entries whose
	// evictable flag is set right now, so a pin that raced in since the scan
	// started cannot have slipped through (SetEvictable takes the same mutex).
	frameID := victim.frameID
	if victim.status == statusMRU {
		r.mru.Remove(victim.elem)
		victim.status = statusMRUGhost
		victim.elem = r.mruGhost.PushFront(victim)
	} else {
		r.mfu.Remove(victim.elem)
		victim.status = statusMFUGhost
		victim.elem = r.mfuGhost.PushFront(victim)
	}
	delete(r.alive, frameID)
	victim.frameID = common.InvalidFrameID
	victim.evictable = false
	r.ghost[victim.pageID] = victim
	r.evictableCount--
	return frameID, true
}

func (r *ArcReplacer) evictableTail(l *list.List) *arcEntry {
	for elem := l.Back(); elem != nil; elem = elem.Prev() {
		if e := elem.Value.(*arcEntry); e.evictable {
			return e
		}
	}
	return nil
}

// SetEvictable toggles whether a resident frame may be chosen as a victim.
// Unknown frames are ignored.
func (r *ArcReplacer) SetEvictable(frameID common.FrameID, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.alive[frameID]
	if !ok || e.evictable == evictable {
		return
	}
	e.evictable = evictable
	if evictable {
		r.evictableCount++
	} else {
		r.evictableCount--
	}
}

// Remove detaches a resident frame entirely, without creating a ghost. Used
// when a page is explicitly deleted.
func (r *ArcReplacer) Remove(frameID common.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.alive[frameID]
	if !ok {
		return
	}
	switch e.status {
	case statusMRU:
		r.mru.Remove(e.elem)
	case statusMFU:
		r.mfu.Remove(e.elem)
	}
	if e.evictable {
		r.evictableCount--
	}
	delete(r.alive, frameID)
}

// Size returns the number of resident, evictable frames.
func (r *ArcReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictableCount
}
