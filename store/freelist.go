package store

import (
	"encoding/binary"

	"github.com/nainya/fixedtree/field"
)

// freeListHeader is the width, in bytes, of an unrolled free-list node's
// own header: a single "next node" address.
const freeListHeader = 8

// flNode views a raw page buffer as one node of the free list's unrolled
// linked list: an 8-byte next-pointer followed by a packed array of
// freed-page addresses. There is no transaction-fencing sequence number
// here: with no concurrent writers and no multi-key transactions, there
// is never a reader that needs freed-but-not-yet-committed pages held
// back.
type flNode []byte

func (n flNode) getNext() field.Address   { return field.GetAddress(n) }
func (n flNode) setNext(next field.Address) { field.PutAddress(n, next) }

func (n flNode) getPtr(idx int) field.Address {
	off := freeListHeader + idx*8
	return field.Address(binary.LittleEndian.Uint64(n[off:]))
}

func (n flNode) setPtr(idx int, ptr field.Address) {
	off := freeListHeader + idx*8
	binary.LittleEndian.PutUint64(n[off:], uint64(ptr))
}

// freelist is an unrolled linked list of freed page addresses, stored in
// pages allocated from the same file the tree lives in.
type freelist struct {
	capacity int // entries per node, derived from PageSize

	headPage field.Address
	headSeq  uint64

	tailPage field.Address
	tailSeq  uint64
}

func newFreelist(pageSize int) *freelist {
	return &freelist{
		capacity: (pageSize - freeListHeader) / 8,
		headPage: field.NilAddress,
		tailPage: field.NilAddress,
	}
}

// length is the number of addresses currently queued for reuse.
func (fl *freelist) length() uint64 {
	if fl.headSeq >= fl.tailSeq {
		return 0
	}
	return fl.tailSeq - fl.headSeq
}

// pop removes and returns a freed address, or (NilAddress, false) if the
// list is empty. s is used to read/write the unrolled list's own pages.
func (fl *freelist) pop(s *Store) (field.Address, bool) {
	if fl.headSeq >= fl.tailSeq {
		return field.NilAddress, false
	}

	buf, err := s.readPageRaw(fl.headPage)
	if err != nil {
		return field.NilAddress, false
	}
	node := flNode(buf)
	idx := int(fl.headSeq % uint64(fl.capacity))
	addr := node.getPtr(idx)
	fl.headSeq++

	if fl.headSeq%uint64(fl.capacity) == 0 {
		next := node.getNext()
		if next.Valid() {
			emptied := fl.headPage
			fl.headPage = next
			fl.pushRaw(s, emptied)
		}
	}

	return addr, true
}

// push queues addr for reuse.
func (fl *freelist) push(s *Store, addr field.Address) {
	if !fl.tailPage.Valid() {
		a, buf := s.allocateRawPage()
		flNode(buf).setNext(field.NilAddress)
		if err := s.writePageRaw(a, buf); err == nil {
			fl.tailPage = a
			if !fl.headPage.Valid() {
				fl.headPage = a
			}
		}
	}

	idx := int(fl.tailSeq % uint64(fl.capacity))
	if idx == 0 && fl.tailSeq > 0 {
		newTail, buf := s.allocateRawPage()
		flNode(buf).setNext(field.NilAddress)
		s.writePageRaw(newTail, buf)

		old, err := s.readPageRaw(fl.tailPage)
		if err == nil {
			flNode(old).setNext(newTail)
			s.writePageRaw(fl.tailPage, old)
		}
		fl.tailPage = newTail
	}

	buf, err := s.readPageRaw(fl.tailPage)
	if err != nil {
		return
	}
	flNode(buf).setPtr(idx, addr)
	s.writePageRaw(fl.tailPage, buf)
	fl.tailSeq++
}

// pushRaw re-queues an emptied list node's own page address, recycling
// the unrolled list's storage: an emptied head node becomes an
// ordinary freed page.
func (fl *freelist) pushRaw(s *Store, addr field.Address) {
	fl.push(s, addr)
}
