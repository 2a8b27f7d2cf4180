package codec

import (
	"encoding/binary"
	"fmt"
)

// Uint64 is a reference Key codec for uint64 keys, encoded big-endian so
// that byte-wise and numeric ordering agree. Grounded on
// pkg/storage/encoding.go's order-preserving big-endian integer encoding.
type Uint64 struct{}

func (Uint64) Size() int { return 8 }

func (Uint64) Encode(v uint64, buf []byte) {
	binary.BigEndian.PutUint64(buf, v)
}

func (Uint64) Decode(buf []byte) uint64 {
	return binary.BigEndian.Uint64(buf)
}

func (Uint64) Compare(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (Uint64) Min() uint64 { return 0 }

func (Uint64) Debug(v uint64) string { return fmt.Sprintf("%d", v) }

var (
	_ Key[uint64]   = Uint64{}
	_ Value[uint64] = Uint64{}
)
