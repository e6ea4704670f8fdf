package storage

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mit.edu/dsg/grovedb/common"
)

func TestDiskScheduler_ReadWrite(t *testing.T) {
	disk := NewMemoryDiskManager()
	sched := NewDiskScheduler(disk)
	defer sched.Shutdown()

	out := make([]byte, common.PageSize)
	copy(out, []byte("A test string."))
	write := NewDiskRequest(DiskOpWrite, 0, out)
	sched.Schedule(write)
	require.NoError(t, <-write.Done)

	in := make([]byte, common.PageSize)
	read := NewDiskRequest(DiskOpRead, 0, in)
	sched.Schedule(read)
	require.NoError(t, <-read.Done)
	assert.Equal(t, out, in)
}

// Requests against the same page must be executed in enqueue order: the last
// scheduled write wins, and a read scheduled after it sees its content.
func TestDiskScheduler_SamePageOrdering(t *testing.T) {
	disk := NewMemoryDiskManager()
	sched := NewDiskScheduler(disk)
	defer sched.Shutdown()

	const numWrites = 100
	reqs := make([]*DiskRequest, 0, numWrites)
	for i := 0; i < numWrites; i++ {
		buf := make([]byte, common.PageSize)
		copy(buf, []byte(fmt.Sprintf("version-%03d", i)))
		reqs = append(reqs, NewDiskRequest(DiskOpWrite, 7, buf))
	}
	sched.Schedule(reqs...)

	in := make([]byte, common.PageSize)
	read := NewDiskRequest(DiskOpRead, 7, in)
	sched.Schedule(read)

	for _, req := range reqs {
		require.NoError(t, <-req.Done)
	}
	require.NoError(t, <-read.Done)
	assert.Contains(t, string(in[:16]), fmt.Sprintf("version-%03d", numWrites-1))
}

func TestDiskScheduler_ConcurrentSchedulers(t *testing.T) {
	disk := NewMemoryDiskManager()
	sched := NewDiskScheduler(disk)
	defer sched.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				pid := common.PageID(id*1000 + j)
				buf := make([]byte, common.PageSize)
				buf[0] = byte(id)
				write := NewDiskRequest(DiskOpWrite, pid, buf)
				sched.Schedule(write)
				assert.NoError(t, <-write.Done)

				in := make([]byte, common.PageSize)
				read := NewDiskRequest(DiskOpRead, pid, in)
				sched.Schedule(read)
				assert.NoError(t, <-read.Done)
				assert.Equal(t, byte(id), in[0])
			}
		}(i)
	}
	wg.Wait()
}

func TestDiskScheduler_ShutdownDrainsQueue(t *testing.T) {
	disk := NewMemoryDiskManager()
	sched := NewDiskScheduler(disk)

	reqs := make([]*DiskRequest, 0, 50)
	for i := 0; i < 50; i++ {
		buf := make([]byte, common.PageSize)
		buf[0] = byte(i)
		reqs = append(reqs, NewDiskRequest(DiskOpWrite, common.PageID(i), buf))
	}
	sched.Schedule(reqs...)
	sched.Shutdown()

	for _, req := range reqs {
		require.NoError(t, <-req.Done)
	}
	assert.Equal(t, 50, disk.NumPages())
}
