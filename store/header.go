package store

import (
	"encoding/binary"
	"fmt"

	"github.com/nainya/fixedtree/field"
)

// headerMagic identifies a fixedtree file. Stored verbatim at offset 0
// of the dedicated header page: page 0 is reserved for bookkeeping,
// never tree data.
const headerMagic = "FIXEDTREE\x00\x00\x00\x00\x00\x00\x00"

// headerPageSize is the encoded width of the header record. It is
// constant regardless of Params.PageSize; the record occupies the front
// of page 0, which Open reads as an ordinary PageSize-wide page.
const headerPageSize = 96

// fileHeader is the decoded form of the dedicated header page at file
// offset 0. It records everything needed to reopen a file without
// external configuration beyond the caller re-supplying Params.
type fileHeader struct {
	version    uint32
	pageSize   uint32
	keySize    uint32
	valueSize  uint32
	fanout     uint32
	root       field.Address
	freeHead   field.Address
	freeTail   field.Address
	freeHeadSeq uint64
	freeTailSeq uint64
	pageCount  uint64
}

func (h fileHeader) encode() []byte {
	buf := make([]byte, headerPageSize)
	copy(buf, headerMagic)
	off := len(headerMagic)
	binary.LittleEndian.PutUint32(buf[off:], h.version)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.pageSize)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.keySize)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.valueSize)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.fanout)
	off += 4
	field.PutAddress(buf[off:], h.root)
	off += 8
	field.PutAddress(buf[off:], h.freeHead)
	off += 8
	field.PutAddress(buf[off:], h.freeTail)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], h.freeHeadSeq)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], h.freeTailSeq)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], h.pageCount)
	return buf
}

func decodeHeader(buf []byte) (fileHeader, error) {
	var h fileHeader
	if len(buf) < headerPageSize {
		return h, fmt.Errorf("store: header page truncated: %w", ErrCorruptPage)
	}
	if string(buf[:len(headerMagic)]) != headerMagic {
		return h, fmt.Errorf("store: bad magic: %w", ErrCorruptPage)
	}
	off := len(headerMagic)
	h.version = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.pageSize = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.keySize = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.valueSize = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.fanout = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.root = field.GetAddress(buf[off:])
	off += 8
	h.freeHead = field.GetAddress(buf[off:])
	off += 8
	h.freeTail = field.GetAddress(buf[off:])
	off += 8
	h.freeHeadSeq = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	h.freeTailSeq = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	h.pageCount = binary.LittleEndian.Uint64(buf[off:])
	return h, nil
}
