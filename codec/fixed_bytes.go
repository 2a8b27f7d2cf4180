package codec

import "fmt"

// FixedBytes is a reference Value codec for fixed-width byte strings,
// zero-padded on Encode and returned verbatim (including padding) on
// Decode. Width is chosen at construction time to match a database's
// configured ValueSize.
type FixedBytes struct {
	Width int
}

func (f FixedBytes) Size() int { return f.Width }

func (f FixedBytes) Encode(v []byte, buf []byte) {
	if len(v) > f.Width {
		panic(fmt.Sprintf("codec: value of %d bytes exceeds fixed width %d", len(v), f.Width))
	}
	n := copy(buf, v)
	for i := n; i < f.Width; i++ {
		buf[i] = 0
	}
}

func (f FixedBytes) Decode(buf []byte) []byte {
	out := make([]byte, f.Width)
	copy(out, buf)
	return out
}

func (f FixedBytes) Debug(v []byte) string { return fmt.Sprintf("%q", v) }

var _ Value[[]byte] = FixedBytes{}
