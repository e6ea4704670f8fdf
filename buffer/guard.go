package buffer

import (
	"mit.edu/dsg/grovedb/common"
)

// guard is the shared core of ReadGuard and WriteGuard: one pin and one unit
// of the frame's latch, released exactly once. Guards are not safe for
// concurrent use and must be released on the goroutine that acquired them.
type guard struct {
	pool   *BufferPool
	frame  *frame
	pageID common.PageID
	valid  bool
}

func (g *guard) checkValid() {
	common.Assert(g.valid, "use of released page guard on %s", g.pageID)
}

// PageID returns the id of the guarded page.
func (g *guard) PageID() common.PageID {
	g.checkValid()
	return g.pageID
}

// ReadGuard grants shared, immutable access to a page's bytes. Any number of
// ReadGuards may exist on a page concurrently.
type ReadGuard struct {
	guard
}

// Data returns the page payload. The slice must not be retained or written.
func (g *ReadGuard) Data() []byte {
	g.checkValid()
	return g.frame.data[:]
}

// Release drops the latch and the pin. Safe to call on a nil or already
// released guard so callers can defer it unconditionally.
func (g *ReadGuard) Release() {
	if g == nil || !g.valid {
		return
	}
	g.valid = false
	g.frame.latch.RUnlock()
	g.pool.unpin(g.frame)
}

// WriteGuard grants exclusive, mutable access to a page's bytes. The frame
// is marked dirty when the guard is released.
type WriteGuard struct {
	guard
}

// Data returns the page payload for reading or writing.
func (g *WriteGuard) Data() []byte {
	g.checkValid()
	return g.frame.data[:]
}

// Release drops the latch, marks the frame dirty and then drops the pin, so
// the frame is dirty before it can become evictable and the eviction path
// writes any modification back. Safe to call on a nil or already released
// guard.
func (g *WriteGuard) Release() {
	if g == nil || !g.valid {
		return
	}
	g.valid = false
	g.frame.latch.Unlock()

	g.pool.mu.Lock()
	g.frame.dirty = true
	g.pool.mu.Unlock()
	g.pool.unpin(g.frame)
}
