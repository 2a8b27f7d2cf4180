package btree

import (
	"testing"

	"github.com/nainya/fixedtree/codec"
	"github.com/nainya/fixedtree/params"
	"github.com/nainya/fixedtree/store"
)

func testParams() params.Params {
	return params.Params{PageSize: 256, KeySize: 8, ValueSize: 8, Fanout: 4, Version: 1}
}

func open(t *testing.T) *BTree[uint64, uint64] {
	t.Helper()
	bt, err := Create[uint64, uint64](t.TempDir(), testParams(), codec.Uint64{}, codec.Uint64{}, Options{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { bt.Close() })
	return bt
}

func collect(t *testing.T, bt *BTree[uint64, uint64]) []uint64 {
	t.Helper()
	var keys []uint64
	if err := bt.Iter(func(k, v uint64) bool {
		if v != k*10 {
			t.Errorf("value for key %d is %d, want %d", k, v, k*10)
		}
		keys = append(keys, k)
		return true
	}); err != nil {
		t.Fatalf("Iter: %v", err)
	}
	return keys
}

func assertSorted(t *testing.T, keys []uint64) {
	t.Helper()
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Fatalf("keys not strictly increasing at %d: %v", i, keys)
		}
	}
}

func TestAddFind(t *testing.T) {
	bt := open(t)
	if err := bt.Add(42, 420); err != nil {
		t.Fatalf("Add: %v", err)
	}
	v, err := bt.Find(42)
	if err != nil || v != 420 {
		t.Fatalf("Find(42) = %d, %v", v, err)
	}
}

func TestFindMissingIsNotFound(t *testing.T) {
	bt := open(t)
	if _, err := bt.Find(1); err != store.ErrNotFound {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestAddIdempotentAndOverwrites(t *testing.T) {
	bt := open(t)
	if err := bt.Add(1, 100); err != nil {
		t.Fatal(err)
	}
	if err := bt.Add(1, 100); err != nil {
		t.Fatal(err)
	}
	n, _ := bt.Len()
	if n != 1 {
		t.Errorf("want length 1 after repeated identical Add, got %d", n)
	}

	if err := bt.Add(1, 200); err != nil {
		t.Fatal(err)
	}
	v, _ := bt.Find(1)
	if v != 200 {
		t.Errorf("want overwritten value 200, got %d", v)
	}
	n, _ = bt.Len()
	if n != 1 {
		t.Errorf("overwrite should not change length, got %d", n)
	}
}

func TestRemoveThenMem(t *testing.T) {
	bt := open(t)
	bt.Add(5, 50)
	ok, err := bt.Remove(5)
	if err != nil || !ok {
		t.Fatalf("Remove(5) = %v, %v", ok, err)
	}
	mem, _ := bt.Mem(5)
	if mem {
		t.Error("key should be gone after Remove")
	}
}

func TestRemoveFromEmptyTree(t *testing.T) {
	bt := open(t)
	ok, err := bt.Remove(1)
	if err != nil || ok {
		t.Errorf("Remove on empty tree should report not-found, got %v, %v", ok, err)
	}
}

func TestFindInEmptyTree(t *testing.T) {
	bt := open(t)
	if _, err := bt.Find(1); err != store.ErrNotFound {
		t.Errorf("want ErrNotFound on empty tree, got %v", err)
	}
}

// TestManyInsertsStayOrderedAndRoutable drives enough inserts (fanout 4)
// to force leaf splits, node splits, and root growth, then checks every
// key is both iterated in order and independently findable.
func TestManyInsertsStayOrderedAndRoutable(t *testing.T) {
	bt := open(t)
	const n = 200
	for i := uint64(0); i < n; i++ {
		k := (i * 7919) % (n * 3) // scatter insertion order
		if err := bt.Add(k, k*10); err != nil {
			t.Fatalf("Add(%d): %v", k, err)
		}
	}

	keys := collect(t, bt)
	assertSorted(t, keys)

	for _, k := range keys {
		v, err := bt.Find(k)
		if err != nil || v != k*10 {
			t.Fatalf("Find(%d) = %d, %v", k, v, err)
		}
	}
}

// TestInsertThenDeleteAllConvergesToEmpty exercises merge/rebalance
// across several levels by deleting every key in a different order
// than it was inserted.
func TestInsertThenDeleteAllConvergesToEmpty(t *testing.T) {
	bt := open(t)
	const n = 100
	for i := uint64(0); i < n; i++ {
		bt.Add(i, i)
	}

	for i := uint64(0); i < n; i++ {
		k := n - 1 - i // delete in reverse order
		ok, err := bt.Remove(k)
		if err != nil || !ok {
			t.Fatalf("Remove(%d) = %v, %v", k, ok, err)
		}
	}

	count, err := bt.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if count != 0 {
		t.Errorf("want empty tree after deleting everything, got length %d", count)
	}
	if _, err := bt.Find(0); err != store.ErrNotFound {
		t.Errorf("want ErrNotFound after full delete, got %v", err)
	}
}

func TestFlushAndReopenPreservesContent(t *testing.T) {
	dir := t.TempDir()
	p := testParams()

	bt, err := Create[uint64, uint64](dir, p, codec.Uint64{}, codec.Uint64{}, Options{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := uint64(0); i < 50; i++ {
		bt.Add(i, i*10)
	}
	if err := bt.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	before := collect(t, bt)
	if err := bt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	bt2, err := Create[uint64, uint64](dir, p, codec.Uint64{}, codec.Uint64{}, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer bt2.Close()
	after := collect(t, bt2)

	if len(before) != len(after) {
		t.Fatalf("want %d keys after reopen, got %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("key mismatch at %d: %d vs %d", i, before[i], after[i])
		}
	}
}

func TestCreateReturnsSharedHandle(t *testing.T) {
	dir := t.TempDir()
	p := testParams()
	a, err := Create[uint64, uint64](dir, p, codec.Uint64{}, codec.Uint64{}, Options{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := Create[uint64, uint64](dir, p, codec.Uint64{}, codec.Uint64{}, Options{})
	if err != nil {
		t.Fatalf("Create (2nd): %v", err)
	}
	if a != b {
		t.Error("repeated Create on the same root should return the same handle")
	}
	a.Add(1, 1)
	if v, err := b.Find(1); err != nil || v != 1 {
		t.Error("shared handles should observe each other's writes")
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close a: %v", err)
	}
	if v, err := b.Find(1); err != nil || v != 1 {
		t.Error("tree should stay open while any handle remains")
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close b: %v", err)
	}
}

func TestClearResetsToEmpty(t *testing.T) {
	bt := open(t)
	for i := uint64(0); i < 20; i++ {
		bt.Add(i, i)
	}
	if err := bt.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	n, _ := bt.Len()
	if n != 0 {
		t.Errorf("want empty tree after Clear, got length %d", n)
	}
}

func TestIteriCountsFromOne(t *testing.T) {
	bt := open(t)
	for i := uint64(0); i < 5; i++ {
		bt.Add(i*10, i)
	}
	count := 0
	bt.Iteri(func(i int, k, v uint64) bool {
		if i != count+1 {
			t.Errorf("want index %d, got %d", count+1, i)
		}
		count++
		return true
	})
	if count != 5 {
		t.Errorf("want 5 iterations, got %d", count)
	}
}

func TestBulkLoadMatchesSequentialAdd(t *testing.T) {
	const n = 97
	p := testParams()

	bulkDir := t.TempDir()
	i := uint64(0)
	src := Source[uint64, uint64](func() (uint64, uint64, bool) {
		if i >= n {
			return 0, 0, false
		}
		k := i
		i++
		return k, k * 10, true
	})
	bulk, err := Init[uint64, uint64](bulkDir, p, codec.Uint64{}, codec.Uint64{}, Options{}, n, src)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer bulk.Close()

	seqDir := t.TempDir()
	seq, err := Create[uint64, uint64](seqDir, p, codec.Uint64{}, codec.Uint64{}, Options{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer seq.Close()
	for k := uint64(0); k < n; k++ {
		if err := seq.Add(k, k*10); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	bulkKeys := collect(t, bulk)
	seqKeys := collect(t, seq)
	if len(bulkKeys) != len(seqKeys) {
		t.Fatalf("bulk load produced %d keys, sequential add produced %d", len(bulkKeys), len(seqKeys))
	}
	for i := range bulkKeys {
		if bulkKeys[i] != seqKeys[i] {
			t.Fatalf("key mismatch at %d: bulk=%d seq=%d", i, bulkKeys[i], seqKeys[i])
		}
	}
}

func TestBulkLoadEmpty(t *testing.T) {
	p := testParams()
	src := Source[uint64, uint64](func() (uint64, uint64, bool) { return 0, 0, false })
	bt, err := Init[uint64, uint64](t.TempDir(), p, codec.Uint64{}, codec.Uint64{}, Options{}, 0, src)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer bt.Close()
	n, _ := bt.Len()
	if n != 0 {
		t.Errorf("want empty tree, got length %d", n)
	}
}
