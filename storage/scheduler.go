package storage

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"mit.edu/dsg/grovedb/common"
)

type DiskOp int

const (
	DiskOpRead DiskOp = iota
	DiskOpWrite
)

// DiskRequest is a single read or write for the scheduler's worker to
// execute. Data must stay valid (and, for writes, unchanged) until Done
// fires; Done must have capacity 1 so the worker never blocks on delivery.
type DiskRequest struct {
	Op     DiskOp
	PageID common.PageID
	Data   []byte
	Done   chan error
}

// NewDiskRequest builds a request with a ready completion channel.
func NewDiskRequest(op DiskOp, pid common.PageID, data []byte) *DiskRequest {
	return &DiskRequest{Op: op, PageID: pid, Data: data, Done: make(chan error, 1)}
}

// DiskScheduler serializes physical page I/O through a single background
// worker consuming an unbounded FIFO queue. Requests for the same page are
// executed in enqueue order; no ordering is guaranteed across pages (the
// single worker happens to serialize everything, but callers must not rely
// on that for cross-page consistency).
//
// The queue is unbounded so that Schedule never blocks; the buffer pool
// enqueues write-backs while holding its mutex and awaits completion only
// after releasing it.
type DiskScheduler struct {
	disk DiskManager

	mu    sync.Mutex
	cond  *sync.Cond
	queue []*DiskRequest

	done chan struct{}
}

// NewDiskScheduler starts the worker goroutine immediately.
func NewDiskScheduler(disk DiskManager) *DiskScheduler {
	s := &DiskScheduler{
		disk: disk,
		done: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.worker()
	return s
}

// Schedule enqueues a batch of requests. A nil request is the shutdown
// sentinel; use Shutdown instead of enqueueing it directly.
func (s *DiskScheduler) Schedule(reqs ...*DiskRequest) {
	s.mu.Lock()
	s.queue = append(s.queue, reqs...)
	s.mu.Unlock()
	s.cond.Signal()
}

// DeallocatePage informs the disk manager that the page id may be reused.
func (s *DiskScheduler) DeallocatePage(pid common.PageID) {
	s.disk.DeletePage(pid)
}

// Shutdown enqueues the terminal sentinel and waits for the worker to drain
// the queue and exit.
func (s *DiskScheduler) Shutdown() {
	s.Schedule(nil)
	<-s.done
}

func (s *DiskScheduler) worker() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 {
			s.cond.Wait()
		}
		req := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if req == nil {
			return
		}

		var err error
		switch req.Op {
		case DiskOpRead:
			err = s.disk.ReadPage(req.PageID, req.Data)
		case DiskOpWrite:
			err = s.disk.WritePage(req.PageID, req.Data)
		default:
			common.Assert(false, "unknown disk op %d", req.Op)
		}
		if err != nil {
			log.Errorf("disk scheduler: %s %s failed: %v", opName(req.Op), req.PageID, err)
		}
		req.Done <- err
	}
}

func opName(op DiskOp) string {
	if op == DiskOpWrite {
		return "write"
	}
	return "read"
}
