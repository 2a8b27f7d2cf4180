// Package node implements the internal Node page protocol: a page
// holding (Key, Address) routing records in sorted order, where each
// key is the minimum key reachable through the paired child address.
// The leftmost entry's key is a sentinel (codec.Key.Min()) rather than
// a real data key, so every child — including one holding keys smaller
// than any key ever inserted through it — is reachable by the same
// uniform routing rule.
package node

import (
	"fmt"

	"github.com/nainya/fixedtree/codec"
	"github.com/nainya/fixedtree/field"
	"github.com/nainya/fixedtree/params"
)

// Node is a typed view over a raw page buffer holding sorted
// (Key, Address) routing records.
type Node[K any] struct {
	page []byte
	p    params.Params
	keyC codec.Key[K]
	addr field.Address
	kind field.Kind
}

func entrySize(p params.Params) int { return p.KeySize + 8 }

// New wraps a freshly allocated, zeroed page as an empty node at the
// given depth (depth 1 is the parent of leaves).
func New[K any](addr field.Address, page []byte, p params.Params, keyC codec.Key[K], depth int) *Node[K] {
	kind := field.NodeKind(depth)
	field.Header{Kind: kind, Count: 0}.Encode(page)
	return &Node[K]{page: page, p: p, keyC: keyC, addr: addr, kind: kind}
}

// Load wraps an existing node page buffer.
func Load[K any](addr field.Address, page []byte, p params.Params, keyC codec.Key[K]) (*Node[K], error) {
	h := field.DecodeHeader(page)
	if h.Kind.IsLeaf() {
		return nil, fmt.Errorf("node: page %d has leaf kind", addr)
	}
	return &Node[K]{page: page, p: p, keyC: keyC, addr: addr, kind: h.Kind}, nil
}

// Address is the page address this view was loaded from.
func (n *Node[K]) Address() field.Address { return n.addr }

// Depth is this node's distance above the leaf level (1 = parent of leaves).
func (n *Node[K]) Depth() int { return n.kind.Depth() }

// Len returns the number of routing entries.
func (n *Node[K]) Len() int { return int(field.DecodeHeader(n.page).Count) }

func (n *Node[K]) setCount(c int) {
	h := field.DecodeHeader(n.page)
	h.Count = uint16(c)
	h.Encode(n.page)
}

func (n *Node[K]) recordOffset(i int) int {
	return field.HeaderSize + i*entrySize(n.p)
}

func (n *Node[K]) keyAt(i int) K {
	off := n.recordOffset(i)
	return n.keyC.Decode(n.page[off : off+n.p.KeySize])
}

func (n *Node[K]) childAt(i int) field.Address {
	off := n.recordOffset(i) + n.p.KeySize
	return field.GetAddress(n.page[off:])
}

func (n *Node[K]) putAt(i int, key K, child field.Address) {
	off := n.recordOffset(i)
	n.keyC.Encode(key, n.page[off:off+n.p.KeySize])
	field.PutAddress(n.page[off+n.p.KeySize:], child)
}

// Leftmost returns the key of this node's first entry: the sentinel on
// the tree's leftmost path, otherwise the first child's leftmost key.
func (n *Node[K]) Leftmost() K { return n.keyAt(0) }

// Find returns the index of the last entry whose key is <= key: the
// child subtree that must contain key if it exists anywhere in the
// tree. Entry 0's key is a sentinel and always compares <=, so Find
// never returns -1.
func (n *Node[K]) Find(key K) int {
	idx := 0
	count := n.Len()
	for i := 1; i < count; i++ {
		if n.keyC.Compare(n.keyAt(i), key) <= 0 {
			idx = i
		} else {
			break
		}
	}
	return idx
}

// Order is the direction of a sibling relative to some index: Lower
// means "comes before", Higher means "comes after".
type Order int

const (
	Lower Order = iota
	Higher
)

// FindWithNeighbour is Find plus the index of a mergeable sibling: the
// right neighbour if one exists, otherwise the left neighbour. It is
// used by Btree's delete path to pick which sibling to merge or
// rebalance with when child idx underflows.
func (n *Node[K]) FindWithNeighbour(key K) (idx int, neighbour int, order Order) {
	idx = n.Find(key)
	if idx+1 < n.Len() {
		return idx, idx + 1, Higher
	}
	return idx, idx - 1, Lower
}

// ChildAt returns the child address at routing index idx.
func (n *Node[K]) ChildAt(idx int) field.Address { return n.childAt(idx) }

// KeyAt returns the routing key at index idx.
func (n *Node[K]) KeyAt(idx int) K { return n.keyAt(idx) }

// Add inserts a new (key, child) routing entry in sorted position.
// Unlike leaf.Add, a duplicate key is a programmer error: routing keys
// are always newly promoted separators, never overwritten in place.
func (n *Node[K]) Add(key K, child field.Address) {
	count := n.Len()
	idx := 0
	for idx < count && n.keyC.Compare(n.keyAt(idx), key) < 0 {
		idx++
	}
	for i := count; i > idx; i-- {
		n.copyRecord(i-1, i)
	}
	n.putAt(idx, key, child)
	n.setCount(count + 1)
}

// Replace overwrites the key at routing index idx in place, used after
// a rebalance moves a child's leftmost key.
func (n *Node[K]) Replace(idx int, key K) {
	off := n.recordOffset(idx)
	n.keyC.Encode(key, n.page[off:off+n.p.KeySize])
}

// RemoveAt deletes the routing entry at idx.
func (n *Node[K]) RemoveAt(idx int) {
	count := n.Len()
	for i := idx; i < count-1; i++ {
		n.copyRecord(i+1, i)
	}
	n.setCount(count - 1)
}

func (n *Node[K]) copyRecord(src, dst int) {
	srcOff := n.recordOffset(src)
	dstOff := n.recordOffset(dst)
	copy(n.page[dstOff:dstOff+entrySize(n.p)], n.page[srcOff:srcOff+entrySize(n.p)])
}

// Overflow reports whether the node holds more entries than Fanout
// allows.
func (n *Node[K]) Overflow() bool { return n.Len() > n.p.Fanout }

// Underflow reports whether the node holds fewer entries than the
// minimum fanout. The root node is exempt by convention: Btree ignores
// an underflowing root and only shrinks it once it has a single entry.
func (n *Node[K]) Underflow() bool { return n.Len() < n.p.MinFanout() }

// Iter calls fn for every (key, child) routing entry in order.
func (n *Node[K]) Iter(fn func(key K, child field.Address) bool) {
	count := n.Len()
	for i := 0; i < count; i++ {
		if !fn(n.keyAt(i), n.childAt(i)) {
			return
		}
	}
}

// Split moves the upper half of this node's entries into other, a
// freshly allocated empty node at the same depth, and returns the key
// to promote into the parent (other's new leftmost key).
func (n *Node[K]) Split(other *Node[K]) K {
	count := n.Len()
	mid := count / 2
	for i := mid; i < count; i++ {
		other.putAt(i-mid, n.keyAt(i), n.childAt(i))
	}
	other.setCount(count - mid)
	n.setCount(mid)
	return other.keyAt(0)
}

// Merge appends all of other's entries onto the end of this node.
func (n *Node[K]) Merge(other *Node[K]) {
	base := n.Len()
	on := other.Len()
	for i := 0; i < on; i++ {
		n.putAt(base+i, other.keyAt(i), other.childAt(i))
	}
	n.setCount(base + on)
}

// Rebalance redistributes entries between n and sibling (assumed to be
// n's right neighbour) so both hold at least MinFanout entries,
// returning the new separator key for the parent.
func (n *Node[K]) Rebalance(sibling *Node[K]) (newSeparator K) {
	total := n.Len() + sibling.Len()
	target := total / 2

	type rec struct {
		k K
		c field.Address
	}
	all := make([]rec, 0, total)
	for i := 0; i < n.Len(); i++ {
		all = append(all, rec{n.keyAt(i), n.childAt(i)})
	}
	for i := 0; i < sibling.Len(); i++ {
		all = append(all, rec{sibling.keyAt(i), sibling.childAt(i)})
	}

	for i := 0; i < target; i++ {
		n.putAt(i, all[i].k, all[i].c)
	}
	n.setCount(target)
	for i := target; i < total; i++ {
		sibling.putAt(i-target, all[i].k, all[i].c)
	}
	sibling.setCount(total - target)
	return sibling.keyAt(0)
}
