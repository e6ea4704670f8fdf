package storage

import (
	"bytes"
	"encoding/binary"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4"
	"github.com/pkg/errors"

	"mit.edu/dsg/grovedb/common"
)

type CompressAlgorithm uint16

const (
	CompSnappy CompressAlgorithm = iota // default
	CompNone
	CompLz4
)

type Compressor func([]byte) []byte
type DeCompressor func([]byte) ([]byte, error)

var (
	SnappyCompress Compressor = func(in []byte) []byte {
		return snappy.Encode(nil, in)
	}
	SnappyDeCompress DeCompressor = func(in []byte) ([]byte, error) {
		return snappy.Decode(nil, in)
	}
)

var (
	Lz4Compress Compressor = func(in []byte) []byte {
		buf := &bytes.Buffer{}
		writer := lz4.NewWriter(buf)
		defer writer.Close()
		writer.NoChecksum = true
		_, err := writer.Write(in)
		if err != nil {
			panic(err)
		}
		_ = writer.Flush()
		return buf.Bytes()
	}

	Lz4DeCompress DeCompressor = func(in []byte) ([]byte, error) {
		buf := &bytes.Buffer{}
		reader := lz4.NewReader(bytes.NewReader(in))
		_, err := buf.ReadFrom(reader)
		return buf.Bytes(), err
	}
)

// Each logical page maps to two inner slots. The primary slot holds
// [algo u16][length u32][payload]; payloads that compress below the slot
// budget fit entirely in the primary slot, and incompressible pages spill
// their tail into the overflow slot raw. length == 0 marks a never-written
// page (inner stores read back zeros for those).
const compressHeaderSize = 6
const compressBudget = common.PageSize - compressHeaderSize

// CompressedDiskManager decorates another DiskManager, compressing page
// payloads before they reach it. The scheduler and buffer pool stay entirely
// unaware; only the decorator knows about the slot doubling.
type CompressedDiskManager struct {
	inner    DiskManager
	algo     CompressAlgorithm
	compress Compressor
}

var _ DiskManager = (*CompressedDiskManager)(nil)

func NewCompressedDiskManager(inner DiskManager, algo CompressAlgorithm) *CompressedDiskManager {
	d := &CompressedDiskManager{inner: inner, algo: algo}
	// Decompression dispatches on the algorithm stored with each page, so a
	// manager reopened with a different setting still reads old pages.
	switch algo {
	case CompSnappy:
		d.compress = SnappyCompress
	case CompLz4:
		d.compress = Lz4Compress
	case CompNone:
	default:
		panic("unknown compression algorithm")
	}
	return d
}

func primarySlot(pid common.PageID) common.PageID { return pid * 2 }

func overflowSlot(pid common.PageID) common.PageID { return pid*2 + 1 }

func (d *CompressedDiskManager) WritePage(pid common.PageID, buf []byte) error {
	common.Assert(len(buf) == common.PageSize, "buffer size must match PageSize")

	algo := d.algo
	payload := buf
	if d.compress != nil {
		compressed := d.compress(buf)
		if len(compressed) <= compressBudget {
			payload = compressed
		} else {
			algo = CompNone
		}
	} else {
		algo = CompNone
	}

	slot := make([]byte, common.PageSize)
	binary.LittleEndian.PutUint16(slot, uint16(algo))
	binary.LittleEndian.PutUint32(slot[2:], uint32(len(payload)))
	n := copy(slot[compressHeaderSize:], payload)
	if err := d.inner.WritePage(primarySlot(pid), slot); err != nil {
		return err
	}
	if n < len(payload) {
		spill := make([]byte, common.PageSize)
		copy(spill, payload[n:])
		return d.inner.WritePage(overflowSlot(pid), spill)
	}
	return nil
}

func (d *CompressedDiskManager) ReadPage(pid common.PageID, buf []byte) error {
	common.Assert(len(buf) == common.PageSize, "buffer size must match PageSize")
	slot := make([]byte, common.PageSize)
	if err := d.inner.ReadPage(primarySlot(pid), slot); err != nil {
		return err
	}
	algo := CompressAlgorithm(binary.LittleEndian.Uint16(slot))
	length := int(binary.LittleEndian.Uint32(slot[2:]))
	if length == 0 {
		// Never-written page.
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	if length > common.PageSize {
		return common.EngineError{Code: common.IoError, ErrString: "corrupt compressed page slot"}
	}

	payload := make([]byte, length)
	n := copy(payload, slot[compressHeaderSize:])
	if n < length {
		spill := make([]byte, common.PageSize)
		if err := d.inner.ReadPage(overflowSlot(pid), spill); err != nil {
			return err
		}
		copy(payload[n:], spill)
	}

	switch algo {
	case CompNone:
		copy(buf, payload)
		return nil
	case CompSnappy:
		out, err := SnappyDeCompress(payload)
		if err != nil {
			return errors.Wrapf(err, "decompress %s", pid)
		}
		copy(buf, out)
		return nil
	case CompLz4:
		out, err := Lz4DeCompress(payload)
		if err != nil {
			return errors.Wrapf(err, "decompress %s", pid)
		}
		copy(buf, out)
		return nil
	}
	return common.EngineError{Code: common.IoError, ErrString: "unknown compression algorithm on page"}
}

func (d *CompressedDiskManager) DeletePage(pid common.PageID) {
	d.inner.DeletePage(primarySlot(pid))
	d.inner.DeletePage(overflowSlot(pid))
}
