// Package leaf implements the Leaf page protocol: a page holding
// (Key, Value) records in sorted order, with split-on-overflow and
// merge-on-underflow operations. Records are fixed width, so record i
// is found by direct arithmetic — HeaderSize + i*entrySize — with no
// offset table.
package leaf

import (
	"fmt"

	"github.com/nainya/fixedtree/codec"
	"github.com/nainya/fixedtree/field"
	"github.com/nainya/fixedtree/params"
)

// Leaf is a typed view over a raw page buffer holding sorted
// (Key, Value) records. It does not own the buffer: callers obtain one
// from a store.Store Load/Alloc and must Release it when done.
type Leaf[K any, V any] struct {
	page   []byte
	p      params.Params
	keyC   codec.Key[K]
	valC   codec.Value[V]
	addr   field.Address
}

// entrySize is the packed width of one (Key, Value) record.
func entrySize(p params.Params) int { return p.KeySize + p.ValueSize }

// capacity is the maximum number of records the page can hold.
func capacity(p params.Params) int { return p.Fanout }

// New wraps a freshly allocated, zeroed page as an empty leaf.
func New[K any, V any](addr field.Address, page []byte, p params.Params, keyC codec.Key[K], valC codec.Value[V]) *Leaf[K, V] {
	field.Header{Kind: field.LeafKind, Count: 0}.Encode(page)
	return &Leaf[K, V]{page: page, p: p, keyC: keyC, valC: valC, addr: addr}
}

// Load wraps an existing leaf page buffer for reading or mutation.
func Load[K any, V any](addr field.Address, page []byte, p params.Params, keyC codec.Key[K], valC codec.Value[V]) (*Leaf[K, V], error) {
	h := field.DecodeHeader(page)
	if !h.Kind.IsLeaf() {
		return nil, fmt.Errorf("leaf: page %d has non-leaf kind %v", addr, h.Kind)
	}
	return &Leaf[K, V]{page: page, p: p, keyC: keyC, valC: valC, addr: addr}, nil
}

// Address is the page address this view was loaded from.
func (l *Leaf[K, V]) Address() field.Address { return l.addr }

// Len returns the number of records currently stored.
func (l *Leaf[K, V]) Len() int {
	return int(field.DecodeHeader(l.page).Count)
}

func (l *Leaf[K, V]) setCount(n int) {
	h := field.DecodeHeader(l.page)
	h.Count = uint16(n)
	h.Encode(l.page)
}

func (l *Leaf[K, V]) recordOffset(i int) int {
	return field.HeaderSize + i*entrySize(l.p)
}

func (l *Leaf[K, V]) keyAt(i int) K {
	off := l.recordOffset(i)
	return l.keyC.Decode(l.page[off : off+l.p.KeySize])
}

func (l *Leaf[K, V]) valueAt(i int) V {
	off := l.recordOffset(i) + l.p.KeySize
	return l.valC.Decode(l.page[off : off+l.p.ValueSize])
}

func (l *Leaf[K, V]) putAt(i int, key K, val V) {
	off := l.recordOffset(i)
	l.keyC.Encode(key, l.page[off:off+l.p.KeySize])
	l.valC.Encode(val, l.page[off+l.p.KeySize:off+l.p.KeySize+l.p.ValueSize])
}

// Leftmost returns the smallest key stored.
func (l *Leaf[K, V]) Leftmost() K {
	return l.keyAt(0)
}

// search returns the index of key if present, or the index it would be
// inserted at (the first record whose key is >= key) and false.
func (l *Leaf[K, V]) search(key K) (int, bool) {
	n := l.Len()
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if l.keyC.Compare(l.keyAt(mid), key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < n && l.keyC.Compare(l.keyAt(lo), key) == 0 {
		return lo, true
	}
	return lo, false
}

// Find returns the value stored for key and true, or the zero value
// and false if key is absent.
func (l *Leaf[K, V]) Find(key K) (V, bool) {
	idx, ok := l.search(key)
	if !ok {
		var zero V
		return zero, false
	}
	return l.valueAt(idx), true
}

// Mem reports whether key is present.
func (l *Leaf[K, V]) Mem(key K) bool {
	_, ok := l.search(key)
	return ok
}

// Add inserts or overwrites (key, val), returning true if the record
// was newly added (as opposed to overwriting an existing key).
func (l *Leaf[K, V]) Add(key K, val V) bool {
	idx, found := l.search(key)
	if found {
		l.putAt(idx, key, val)
		return false
	}

	n := l.Len()
	for i := n; i > idx; i-- {
		l.copyRecord(i-1, i)
	}
	l.putAt(idx, key, val)
	l.setCount(n + 1)
	return true
}

// Remove deletes key if present, reporting whether it was found.
func (l *Leaf[K, V]) Remove(key K) bool {
	idx, found := l.search(key)
	if !found {
		return false
	}
	n := l.Len()
	for i := idx; i < n-1; i++ {
		l.copyRecord(i+1, i)
	}
	l.setCount(n - 1)
	return true
}

func (l *Leaf[K, V]) copyRecord(src, dst int) {
	srcOff := l.recordOffset(src)
	dstOff := l.recordOffset(dst)
	copy(l.page[dstOff:dstOff+entrySize(l.p)], l.page[srcOff:srcOff+entrySize(l.p)])
}

// Overflow reports whether the leaf holds more entries than Fanout
// allows, i.e. a split is required after an Add.
func (l *Leaf[K, V]) Overflow() bool {
	return l.Len() > capacity(l.p)
}

// Underflow reports whether the leaf holds fewer entries than the
// minimum fanout, i.e. a merge is required after a Remove. The root
// leaf is exempt from this check by convention: Btree never calls
// Underflow on the root.
func (l *Leaf[K, V]) Underflow() bool {
	return l.Len() < l.p.MinFanout()
}

// Iter calls fn for every (key, value) pair in ascending order, halting
// early if fn returns false.
func (l *Leaf[K, V]) Iter(fn func(key K, val V) bool) {
	n := l.Len()
	for i := 0; i < n; i++ {
		if !fn(l.keyAt(i), l.valueAt(i)) {
			return
		}
	}
}

// Split moves the upper half of this leaf's records into other, which
// must be a freshly allocated empty leaf. It returns the smallest key
// now held by other, the key to be promoted into the parent node.
func (l *Leaf[K, V]) Split(other *Leaf[K, V]) K {
	n := l.Len()
	mid := n / 2
	for i := mid; i < n; i++ {
		other.putAt(i-mid, l.keyAt(i), l.valueAt(i))
	}
	other.setCount(n - mid)
	l.setCount(mid)
	return other.keyAt(0)
}

// Merge appends all of other's records onto the end of this leaf. It
// is the caller's responsibility to ensure the combined length fits
// within Fanout and to Free other's page afterward.
func (l *Leaf[K, V]) Merge(other *Leaf[K, V]) {
	n := l.Len()
	on := other.Len()
	for i := 0; i < on; i++ {
		l.putAt(n+i, other.keyAt(i), other.valueAt(i))
	}
	l.setCount(n + on)
}

// Rebalance moves entries between l and sibling so both hold at least
// MinFanout records: borrow instead of merging when the combined length
// would overflow. sibling is assumed to
// be the right neighbour of l; when it is the left neighbour, callers
// swap the arguments — Btree always calls this with l as the
// lower-keyed page. The returned key is sibling's new leftmost key.
func (l *Leaf[K, V]) Rebalance(sibling *Leaf[K, V]) (newSeparator K) {
	total := l.Len() + sibling.Len()
	target := total / 2

	all := make([]struct {
		k K
		v V
	}, 0, total)
	for i := 0; i < l.Len(); i++ {
		all = append(all, struct {
			k K
			v V
		}{l.keyAt(i), l.valueAt(i)})
	}
	for i := 0; i < sibling.Len(); i++ {
		all = append(all, struct {
			k K
			v V
		}{sibling.keyAt(i), sibling.valueAt(i)})
	}

	for i := 0; i < target; i++ {
		l.putAt(i, all[i].k, all[i].v)
	}
	l.setCount(target)
	for i := target; i < total; i++ {
		sibling.putAt(i-target, all[i].k, all[i].v)
	}
	sibling.setCount(total - target)
	return sibling.keyAt(0)
}
