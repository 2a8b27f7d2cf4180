// Package params holds the per-database sizing configuration a fixedtree
// index is opened with: page size, key/value widths, and fanout.
package params

import "fmt"

// headerSize is the fixed width of a page header (field.HeaderSize):
// one Kind byte plus a uint16 entry count. Duplicated here as a constant
// (rather than importing field) to keep params dependency-free; the two
// constants must be kept equal by hand.
const headerSize = 3

// Params is the compile-time-like configuration a Store is opened with.
// It is fixed for the lifetime of a database file: the header page
// records PageSize, KeySize, ValueSize, Fanout and Version, and
// store.Open rejects a reopen whose Params disagree with them.
type Params struct {
	// PageSize is the fixed width, in bytes, of every page in the file.
	PageSize int
	// KeySize is the fixed encoded width of a Key.
	KeySize int
	// ValueSize is the fixed encoded width of a Value.
	ValueSize int
	// Fanout is the maximum number of entries in a leaf or node page.
	Fanout int
	// Version is stamped into the header page; opening a file with a
	// mismatching version is fatal.
	Version uint32
}

// Validate checks that Params describes a page layout that can actually
// hold Fanout entries. Callers that need a typed error wrap the result
// in store.ErrAssertionViolation; a misconfigured Params is a fatal
// setup mistake, not a recoverable runtime condition.
func (p Params) Validate() error {
	if p.PageSize <= 0 {
		return fmt.Errorf("params: page size must be positive, got %d", p.PageSize)
	}
	if p.KeySize <= 0 {
		return fmt.Errorf("params: key size must be positive, got %d", p.KeySize)
	}
	if p.ValueSize <= 0 {
		return fmt.Errorf("params: value size must be positive, got %d", p.ValueSize)
	}
	if p.Fanout <= 1 {
		return fmt.Errorf("params: fanout must be greater than 1, got %d", p.Fanout)
	}

	leafEntry := p.KeySize + p.ValueSize
	nodeEntry := p.KeySize + 8 // field.Address is an 8-byte page index

	if needed := headerSize + p.Fanout*leafEntry; needed > p.PageSize {
		return fmt.Errorf("params: leaf page of %d entries needs %d bytes, page size is %d", p.Fanout, needed, p.PageSize)
	}
	if needed := headerSize + p.Fanout*nodeEntry; needed > p.PageSize {
		return fmt.Errorf("params: node page of %d entries needs %d bytes, page size is %d", p.Fanout, needed, p.PageSize)
	}
	return nil
}

// MinFanout returns ceil(Fanout/2), the minimum entry count a non-root
// page must retain before it is considered underflowing.
func (p Params) MinFanout() int {
	return (p.Fanout + 1) / 2
}

// LeafEntrySize is the packed width of one (Key, Value) record.
func (p Params) LeafEntrySize() int {
	return p.KeySize + p.ValueSize
}

// NodeEntrySize is the packed width of one (Key, Address) record.
func (p Params) NodeEntrySize() int {
	return p.KeySize + 8
}
