// Package btree orchestrates the Leaf and Node page protocols into a
// full persistent B-tree: descent, split-and-promote insertion,
// merge-and-pull deletion, root growth/shrink, bulk loading, and a
// process-wide cache of open trees keyed by file path.
//
// Descent and mutation work against an explicit path stack of in-place,
// store-leased page buffers rather than a copy-on-write whole-node
// rewrite: there is no crash-consistency requirement beyond
// Store.Flush, so there is no need for copy-on-write's atomic-swap
// guarantee.
package btree

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/nainya/fixedtree/codec"
	"github.com/nainya/fixedtree/field"
	"github.com/nainya/fixedtree/leaf"
	"github.com/nainya/fixedtree/node"
	"github.com/nainya/fixedtree/params"
	"github.com/nainya/fixedtree/store"
)

// BTree is a persistent, fixed-key/value B-tree backed by a Store.
type BTree[K any, V any] struct {
	s    *store.Store
	p    params.Params
	keyC codec.Key[K]
	valC codec.Value[V]

	path    string
	refs    int
	mu      sync.Mutex // guards concurrent Add/Remove against this tree's own shape changes
}

// Options bundles the collaborators and Store.Options needed to open a
// tree: the external host-logger and statistics-sink collaborators.
type Options struct {
	Logger      store.Logger
	Stats       store.Stats
	CacheFrames int
}

// instances is the process-wide cache of open trees, keyed by absolute
// root directory. Values are typed *BTree[K, V] stored as any: Go's
// generics cannot parameterize a package-level map over the caller's
// K/V, so Create recovers the concrete type with a type assertion and
// reports a clear error if a path is reopened with different K/V than
// it was first opened with, rather than silently returning the wrong
// shape of tree.
//
// This lets independent callers opening the same path share one
// underlying tree and page cache instead of racing two Stores against
// the same file.
var (
	instancesMu sync.Mutex
	instances   = map[string]any{}
)

// Create opens (creating if necessary) the tree rooted at dir. Repeated
// calls with the same dir within this process return the same *BTree,
// refcounted; the underlying Store is only closed once every caller has
// called Close.
func Create[K any, V any](dir string, p params.Params, keyC codec.Key[K], valC codec.Value[V], opts Options) (*BTree[K, V], error) {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}

	instancesMu.Lock()
	defer instancesMu.Unlock()

	if existing, ok := instances[dir]; ok {
		t, ok := existing.(*BTree[K, V])
		if !ok {
			return nil, fmt.Errorf("btree: %q is already open with a different key/value type", dir)
		}
		t.refs++
		return t, nil
	}

	s, err := store.Open(dir, p, store.Options{Logger: opts.Logger, Stats: opts.Stats, CacheFrames: opts.CacheFrames})
	if err != nil {
		return nil, err
	}
	t := &BTree[K, V]{s: s, p: p, keyC: keyC, valC: valC, path: dir, refs: 1}
	instances[dir] = t
	return t, nil
}

// Close releases this handle's share of the process-wide tree cache,
// flushing and closing the underlying Store only when the last
// concurrent caller for this path has closed.
func (t *BTree[K, V]) Close() error {
	instancesMu.Lock()
	t.refs--
	last := t.refs <= 0
	if last {
		delete(instances, t.path)
	}
	instancesMu.Unlock()

	if !last {
		return nil
	}
	return t.s.Close()
}

// Flush durably writes all pending changes without closing the tree.
func (t *BTree[K, V]) Flush() error { return t.s.Flush() }

// Clear removes every entry, resetting the tree to empty.
func (t *BTree[K, V]) Clear() error { return t.s.Clear() }

// Store returns the underlying page store, for diagnostics
// (internal/pp) and other tooling that needs to read raw pages.
func (t *BTree[K, V]) Store() *store.Store { return t.s }

// pathStep records one internal node visited on the way down to a
// leaf: its address and the routing index chosen at that level. Kept
// as addresses rather than held-open buffers so descent only needs
// read-only leases, matching store.Store's Load/ReleaseRO discipline;
// propagation re-Loads a node (for write access) only when it actually
// needs to change.
type pathStep struct {
	addr field.Address
	idx  int
}

func (t *BTree[K, V]) loadLeaf(addr field.Address) (*leaf.Leaf[K, V], []byte, error) {
	buf, err := t.s.Load(addr)
	if err != nil {
		return nil, nil, err
	}
	l, err := leaf.Load[K, V](addr, buf, t.p, t.keyC, t.valC)
	if err != nil {
		t.s.ReleaseRO(addr)
		return nil, nil, err
	}
	return l, buf, nil
}

func (t *BTree[K, V]) loadNode(addr field.Address) (*node.Node[K], []byte, error) {
	buf, err := t.s.Load(addr)
	if err != nil {
		return nil, nil, err
	}
	n, err := node.Load[K](addr, buf, t.p, t.keyC)
	if err != nil {
		t.s.ReleaseRO(addr)
		return nil, nil, err
	}
	return n, buf, nil
}

// descend walks from the root to the leaf that must contain key,
// read-only, recording the routing index taken at each internal level.
func (t *BTree[K, V]) descend(key K) (path []pathStep, leafAddr field.Address, err error) {
	addr := t.s.Root()
	for {
		buf, lerr := t.s.Load(addr)
		if lerr != nil {
			return nil, field.NilAddress, lerr
		}
		h := field.DecodeHeader(buf)
		if h.Kind.IsLeaf() {
			t.s.ReleaseRO(addr)
			return path, addr, nil
		}
		n, nerr := node.Load[K](addr, buf, t.p, t.keyC)
		if nerr != nil {
			t.s.ReleaseRO(addr)
			return nil, field.NilAddress, nerr
		}
		idx := n.Find(key)
		child := n.ChildAt(idx)
		t.s.ReleaseRO(addr)
		path = append(path, pathStep{addr: addr, idx: idx})
		addr = child
	}
}

// Find returns the value stored for key, or store.ErrNotFound.
func (t *BTree[K, V]) Find(key K) (V, error) {
	var zero V
	_, leafAddr, err := t.descend(key)
	if err != nil {
		return zero, err
	}
	l, buf, err := t.loadLeaf(leafAddr)
	if err != nil {
		return zero, err
	}
	defer t.s.ReleaseRO(leafAddr)
	_ = buf
	v, ok := l.Find(key)
	if !ok {
		return zero, store.ErrNotFound
	}
	return v, nil
}

// Mem reports whether key is present.
func (t *BTree[K, V]) Mem(key K) (bool, error) {
	_, err := t.Find(key)
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Len counts every key in the tree via a full leaf-level scan.
func (t *BTree[K, V]) Len() (int, error) {
	n := 0
	err := t.Iter(func(K, V) bool { n++; return true })
	return n, err
}

// Iter calls fn with every (key, value) pair in ascending key order,
// halting early if fn returns false.
func (t *BTree[K, V]) Iter(fn func(key K, val V) bool) error {
	err := t.iterFrom(t.s.Root(), fn)
	if err == errIterStopped {
		return nil
	}
	return err
}

func (t *BTree[K, V]) iterFrom(addr field.Address, fn func(K, V) bool) error {
	buf, err := t.s.Load(addr)
	if err != nil {
		return err
	}
	h := field.DecodeHeader(buf)
	if h.Kind.IsLeaf() {
		l, lerr := leaf.Load[K, V](addr, buf, t.p, t.keyC, t.valC)
		if lerr != nil {
			t.s.ReleaseRO(addr)
			return lerr
		}
		stop := false
		l.Iter(func(k K, v V) bool {
			if !fn(k, v) {
				stop = true
				return false
			}
			return true
		})
		t.s.ReleaseRO(addr)
		if stop {
			return errIterStopped
		}
		return nil
	}

	n, nerr := node.Load[K](addr, buf, t.p, t.keyC)
	if nerr != nil {
		t.s.ReleaseRO(addr)
		return nerr
	}
	count := n.Len()
	children := make([]field.Address, count)
	for i := 0; i < count; i++ {
		children[i] = n.ChildAt(i)
	}
	t.s.ReleaseRO(addr)

	for _, child := range children {
		if err := t.iterFrom(child, fn); err != nil {
			return err
		}
	}
	return nil
}

// Iteri is Iter with an incrementing 1-based counter threaded alongside
// each pair.
func (t *BTree[K, V]) Iteri(fn func(i int, key K, val V) bool) error {
	i := 1
	return t.Iter(func(k K, v V) bool {
		ok := fn(i, k, v)
		i++
		return ok
	})
}

// Add inserts or overwrites (key, val): insert at the leaf, then walk
// back up splitting any page that overflowed and promoting its new
// sibling into the parent, finally growing the root by one level if
// the split propagates past it.
func (t *BTree[K, V]) Add(key K, val V) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	path, leafAddr, err := t.descend(key)
	if err != nil {
		return err
	}
	l, _, err := t.loadLeaf(leafAddr)
	if err != nil {
		return err
	}
	l.Add(key, val)

	if !l.Overflow() {
		t.s.Release(leafAddr)
		return nil
	}

	newAddr, newBuf, err := t.s.Alloc(field.LeafKind)
	if err != nil {
		t.s.Release(leafAddr)
		return err
	}
	newLeaf := leaf.New[K, V](newAddr, newBuf, t.p, t.keyC, t.valC)
	promotedKey := l.Split(newLeaf)
	t.s.Release(leafAddr)
	t.s.Release(newAddr)

	pendingKey := promotedKey
	pendingChild := newAddr
	pending := true
	depth := 0

	for i := len(path) - 1; i >= 0 && pending; i-- {
		step := path[i]
		n, _, lerr := t.loadNode(step.addr)
		if lerr != nil {
			return lerr
		}
		n.Add(pendingKey, pendingChild)
		depth = n.Depth()

		if !n.Overflow() {
			t.s.Release(step.addr)
			pending = false
			break
		}

		newNodeAddr, newNodeBuf, aerr := t.s.Alloc(field.NodeKind(depth))
		if aerr != nil {
			t.s.Release(step.addr)
			return aerr
		}
		newNode := node.New[K](newNodeAddr, newNodeBuf, t.p, t.keyC, depth)
		promoted := n.Split(newNode)
		t.s.Release(step.addr)
		t.s.Release(newNodeAddr)

		pendingKey, pendingChild = promoted, newNodeAddr
	}

	if !pending {
		return nil
	}

	oldRoot := t.s.Root()
	newRootAddr, newRootBuf, aerr := t.s.Alloc(field.NodeKind(depth + 1))
	if aerr != nil {
		return aerr
	}
	newRoot := node.New[K](newRootAddr, newRootBuf, t.p, t.keyC, depth+1)
	newRoot.Add(t.keyC.Min(), oldRoot)
	newRoot.Add(pendingKey, pendingChild)
	t.s.Release(newRootAddr)
	t.s.Reroot(newRootAddr)
	return nil
}

// neighbourOf picks a mergeable sibling index for idx within a parent
// holding parentLen children: the right neighbour if one exists,
// otherwise the left neighbour. Mirrors node.Node.FindWithNeighbour but
// from an already-known index rather than a fresh key search, since
// Remove already knows idx from its descent.
func neighbourOf(idx, parentLen int) (int, node.Order) {
	if idx+1 < parentLen {
		return idx + 1, node.Higher
	}
	return idx - 1, node.Lower
}

// Remove deletes key if present, merging or rebalancing underflowing
// pages with a sibling and propagating up the path, shrinking the root
// by one level if it is left with a single child. The merge-or-rebalance
// choice is symmetric across Leaf and Node: merge when the combined
// page fits within Fanout, otherwise redistribute entries instead.
func (t *BTree[K, V]) Remove(key K) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	path, leafAddr, err := t.descend(key)
	if err != nil {
		return false, err
	}
	l, _, err := t.loadLeaf(leafAddr)
	if err != nil {
		return false, err
	}
	if !l.Remove(key) {
		t.s.ReleaseRO(leafAddr)
		return false, nil
	}
	t.s.Release(leafAddr)

	if len(path) == 0 || !l.Underflow() {
		return true, nil
	}

	// underflowIdx is, at each level, the index through which the parent
	// routes to the page that just lost an entry.
	underflowIdx := path[len(path)-1].idx

	for i := len(path) - 1; i >= 0; i-- {
		step := path[i]
		pnode, _, perr := t.loadNode(step.addr)
		if perr != nil {
			return true, perr
		}

		nidx, order := neighbourOf(underflowIdx, pnode.Len())
		var lowIdx, highIdx int
		if order == node.Higher {
			lowIdx, highIdx = underflowIdx, nidx
		} else {
			lowIdx, highIdx = nidx, underflowIdx
		}
		lowAddr, highAddr := pnode.ChildAt(lowIdx), pnode.ChildAt(highIdx)

		merged, sep, nerr := t.mergeOrRebalanceChildren(i == len(path)-1, lowAddr, highAddr)
		if nerr != nil {
			t.s.ReleaseRO(step.addr)
			return true, nerr
		}

		if merged {
			pnode.RemoveAt(highIdx)
		} else {
			pnode.Replace(highIdx, sep)
		}
		t.s.Release(step.addr)

		if !merged || !pnode.Underflow() || i == 0 {
			break
		}
		underflowIdx = path[i-1].idx
	}

	return true, t.maybeShrinkRoot()
}

// mergeOrRebalanceChildren merges or redistributes two sibling pages
// (leaves when isLeafLevel is true, otherwise nodes), returning
// (merged, newSeparator, err). When
// merged is true, the caller must remove the parent's routing entry for
// highAddr. When merged is false (a rebalance happened instead),
// newSeparator is the key the caller must write into the parent's
// routing entry for highAddr via Node.Replace.
//
// Both pages are asserted to share the same Kind before being merged or
// rebalanced: a mismatch (e.g. two node siblings at different depths)
// means the caller picked the wrong neighbour, a programmer error the
// leaf/node page protocol itself has no way to detect.
func (t *BTree[K, V]) mergeOrRebalanceChildren(isLeafLevel bool, lowAddr, highAddr field.Address) (merged bool, newSeparator K, err error) {
	if isLeafLevel {
		low, lowBuf, lerr := t.loadLeaf(lowAddr)
		if lerr != nil {
			return false, newSeparator, lerr
		}
		high, highBuf, herr := t.loadLeaf(highAddr)
		if herr != nil {
			t.s.ReleaseRO(lowAddr)
			return false, newSeparator, herr
		}
		if lowKind, highKind := field.DecodeHeader(lowBuf).Kind, field.DecodeHeader(highBuf).Kind; lowKind != highKind {
			t.s.ReleaseRO(lowAddr)
			t.s.ReleaseRO(highAddr)
			return false, newSeparator, fmt.Errorf("btree: %w: sibling kind mismatch merging pages %d (%v) and %d (%v)",
				store.ErrProgrammerError, lowAddr, lowKind, highAddr, highKind)
		}

		if low.Len()+high.Len() <= t.p.Fanout {
			low.Merge(high)
			t.s.Release(lowAddr)
			t.s.ReleaseRO(highAddr)
			if err := t.s.Free(highAddr); err != nil {
				return false, newSeparator, err
			}
			return true, newSeparator, nil
		}

		sep := low.Rebalance(high)
		t.s.Release(lowAddr)
		t.s.Release(highAddr)
		return false, sep, nil
	}

	low, lowBuf, lerr := t.loadNode(lowAddr)
	if lerr != nil {
		return false, newSeparator, lerr
	}
	high, highBuf, herr := t.loadNode(highAddr)
	if herr != nil {
		t.s.ReleaseRO(lowAddr)
		return false, newSeparator, herr
	}
	if lowKind, highKind := field.DecodeHeader(lowBuf).Kind, field.DecodeHeader(highBuf).Kind; lowKind != highKind {
		t.s.ReleaseRO(lowAddr)
		t.s.ReleaseRO(highAddr)
		return false, newSeparator, fmt.Errorf("btree: %w: sibling kind mismatch merging pages %d (%v) and %d (%v)",
			store.ErrProgrammerError, lowAddr, lowKind, highAddr, highKind)
	}

	if low.Len()+high.Len() <= t.p.Fanout {
		low.Merge(high)
		t.s.Release(lowAddr)
		t.s.ReleaseRO(highAddr)
		if err := t.s.Free(highAddr); err != nil {
			return false, newSeparator, err
		}
		return true, newSeparator, nil
	}

	sep := low.Rebalance(high)
	t.s.Release(lowAddr)
	t.s.Release(highAddr)
	return false, sep, nil
}

// maybeShrinkRoot replaces the root with its sole child when a merge
// has left the root node with a single routing entry, matching the
// teacher's Delete root-shrink step.
func (t *BTree[K, V]) maybeShrinkRoot() error {
	rootAddr := t.s.Root()
	buf, err := t.s.Load(rootAddr)
	if err != nil {
		return err
	}
	h := field.DecodeHeader(buf)
	if h.Kind.IsLeaf() {
		t.s.ReleaseRO(rootAddr)
		return nil
	}
	n, err := node.Load[K](rootAddr, buf, t.p, t.keyC)
	if err != nil {
		t.s.ReleaseRO(rootAddr)
		return err
	}
	if n.Len() != 1 {
		t.s.ReleaseRO(rootAddr)
		return nil
	}
	child := n.ChildAt(0)
	t.s.ReleaseRO(rootAddr)
	t.s.Reroot(child)
	return t.s.Free(rootAddr)
}

// FoldLeft folds over every (key, value) pair in ascending order.
func (t *BTree[K, V]) FoldLeft(init any, fn func(acc any, key K, val V) any) (any, error) {
	acc := init
	err := t.Iter(func(k K, v V) bool {
		acc = fn(acc, k, v)
		return true
	})
	return acc, err
}

// Source supplies bulk-load bindings in strictly ascending key order.
// It is an external collaborator: Init never constructs one itself.
type Source[K any, V any] func() (key K, val V, ok bool)

// built records one already-written subtree's address and the
// (real, pre-sentinel-substitution) key used to route to it from its
// parent.
type built[K any] struct {
	key  K
	addr field.Address
}

// Init bulk-builds a tree of n sorted bindings pulled from read,
// packing leaf pages to Fanout and then grouping each level's pages
// Fanout at a time into parent node pages, bottom-up, until a single
// root page remains. This produces the same tree shape as a depth-first
// recursive build, with no separate chunk-size bookkeeping. The index-0
// routing key of each level's first node is substituted with
// keyC.Min(), the same invariant Add maintains, so the sentinel lands
// on the tree's leftmost path; every other node keeps its first
// child's real leftmost key at index 0.
func Init[K any, V any](dir string, p params.Params, keyC codec.Key[K], valC codec.Value[V], opts Options, n int, read Source[K, V]) (*BTree[K, V], error) {
	t, err := Create[K, V](dir, p, keyC, valC, opts)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return t, nil
	}

	oldRoot := t.s.Root()

	var level []built[K]
	remaining := n
	for remaining > 0 {
		count := remaining
		if count > p.Fanout {
			count = p.Fanout
		}
		addr, buf, aerr := t.s.Alloc(field.LeafKind)
		if aerr != nil {
			return nil, aerr
		}
		l := leaf.New[K, V](addr, buf, p, keyC, valC)
		var leftmost K
		for i := 0; i < count; i++ {
			k, v, ok := read()
			if !ok {
				return nil, fmt.Errorf("btree: bulk source exhausted after %d of %d bindings", n-remaining+i, n)
			}
			if i == 0 {
				leftmost = k
			}
			l.Add(k, v)
		}
		t.s.Release(addr)
		level = append(level, built[K]{key: leftmost, addr: addr})
		remaining -= count
	}

	depth := 0
	for len(level) > 1 {
		depth++
		var next []built[K]
		for i := 0; i < len(level); i += p.Fanout {
			end := i + p.Fanout
			if end > len(level) {
				end = len(level)
			}
			group := level[i:end]

			addr, buf, aerr := t.s.Alloc(field.NodeKind(depth))
			if aerr != nil {
				return nil, aerr
			}
			nd := node.New[K](addr, buf, p, keyC, depth)
			for j, child := range group {
				k := child.key
				if i == 0 && j == 0 {
					k = keyC.Min()
				}
				nd.Add(k, child.addr)
			}
			t.s.Release(addr)
			next = append(next, built[K]{key: group[0].key, addr: addr})
		}
		level = next
	}

	root := level[0].addr
	t.s.Reroot(root)
	if oldRoot != root {
		if err := t.s.Free(oldRoot); err != nil {
			return nil, err
		}
	}
	if err := t.s.Flush(); err != nil {
		return nil, err
	}
	return t, nil
}

// errIterStopped is an internal sentinel used to unwind iterFrom's
// recursion when the caller's fn asks to stop; it never escapes Iter.
var errIterStopped = fmt.Errorf("btree: iteration stopped")
