// Package field defines the primitive binary encodings shared by every
// page kind: the page Kind tag, the page Address, and the in-page header.
// The header packs a one-byte Kind tag and a uint16 entry count into
// three bytes at the front of every page.
package field

import "encoding/binary"

// HeaderSize is the width, in bytes, of the fixed page header: one Kind
// byte followed by a uint16 entry count.
const HeaderSize = 3

// Kind tags a page as a leaf (0) or a node of the given depth (>=1).
type Kind uint8

// LeafKind is the tag for a leaf page (depth 0).
const LeafKind Kind = 0

// NodeKind returns the tag for an internal node page at the given depth.
// depth must be >= 1.
func NodeKind(depth int) Kind {
	if depth < 1 {
		panic("field: node depth must be >= 1")
	}
	return Kind(depth)
}

// IsLeaf reports whether the tag marks a leaf page.
func (k Kind) IsLeaf() bool { return k == LeafKind }

// Depth returns the node depth for a node Kind. Calling Depth on a leaf
// Kind returns 0: leaves sit at depth 0.
func (k Kind) Depth() int { return int(k) }

// Address is a zero-based page index into the backing file.
type Address uint64

// NilAddress is a distinguished, never-allocated address used as a
// sentinel for "no page"/"no sibling"/"free list empty".
const NilAddress Address = ^Address(0)

// Valid reports whether addr is a usable (non-sentinel) address.
func (a Address) Valid() bool { return a != NilAddress }

// Header is the decoded form of a page's fixed header.
type Header struct {
	Kind  Kind
	Count uint16
}

// Encode writes h into the header region of page (page[:HeaderSize]).
func (h Header) Encode(page []byte) {
	page[0] = byte(h.Kind)
	binary.LittleEndian.PutUint16(page[1:3], h.Count)
}

// DecodeHeader reads the header region of page.
func DecodeHeader(page []byte) Header {
	return Header{
		Kind:  Kind(page[0]),
		Count: binary.LittleEndian.Uint16(page[1:3]),
	}
}

// PutAddress writes addr in little-endian form to buf[:8].
func PutAddress(buf []byte, addr Address) {
	binary.LittleEndian.PutUint64(buf, uint64(addr))
}

// GetAddress reads an Address in little-endian form from buf[:8].
func GetAddress(buf []byte) Address {
	return Address(binary.LittleEndian.Uint64(buf))
}
