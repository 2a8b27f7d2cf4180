package node

import (
	"testing"

	"github.com/nainya/fixedtree/codec"
	"github.com/nainya/fixedtree/field"
	"github.com/nainya/fixedtree/params"
)

func testParams() params.Params {
	return params.Params{PageSize: 256, KeySize: 8, ValueSize: 8, Fanout: 4}
}

func newEmpty(t *testing.T, addr field.Address) *Node[uint64] {
	t.Helper()
	p := testParams()
	page := make([]byte, p.PageSize)
	return New[uint64](addr, page, p, codec.Uint64{}, 1)
}

func TestAddAndFind(t *testing.T) {
	n := newEmpty(t, 0)
	n.Add(codec.Uint64{}.Min(), 10) // sentinel entry for the leftmost child
	n.Add(20, 11)
	n.Add(40, 12)

	if idx := n.Find(5); idx != 0 {
		t.Errorf("Find(5) = %d, want 0 (sentinel catches everything below 20)", idx)
	}
	if idx := n.Find(25); idx != 1 {
		t.Errorf("Find(25) = %d, want 1", idx)
	}
	if idx := n.Find(100); idx != 2 {
		t.Errorf("Find(100) = %d, want 2", idx)
	}
}

func TestFindWithNeighbour(t *testing.T) {
	n := newEmpty(t, 0)
	n.Add(codec.Uint64{}.Min(), 10)
	n.Add(20, 11)
	n.Add(40, 12)

	idx, nb, order := n.FindWithNeighbour(25)
	if idx != 1 || nb != 2 || order != Higher {
		t.Errorf("middle entry should prefer right neighbour, got idx=%d nb=%d order=%v", idx, nb, order)
	}

	idx, nb, order = n.FindWithNeighbour(100)
	if idx != 2 || nb != 1 || order != Lower {
		t.Errorf("last entry should fall back to left neighbour, got idx=%d nb=%d order=%v", idx, nb, order)
	}
}

func TestDepthAndKind(t *testing.T) {
	n := newEmpty(t, 0)
	if n.Depth() != 1 {
		t.Errorf("want depth 1, got %d", n.Depth())
	}
}

func TestSplitAndMerge(t *testing.T) {
	n := newEmpty(t, 0)
	keys := []uint64{0, 10, 20, 30, 40}
	for i, k := range keys {
		n.Add(k, field.Address(i))
	}
	if !n.Overflow() {
		t.Fatal("expected overflow with 5 entries at fanout 4")
	}

	p := testParams()
	otherPage := make([]byte, p.PageSize)
	other := New[uint64](1, otherPage, p, codec.Uint64{}, 1)
	promoted := n.Split(other)
	if other.Leftmost() != promoted {
		t.Error("promoted key should equal other's leftmost key")
	}

	n.Merge(other)
	if n.Len() != len(keys) {
		t.Errorf("want %d entries after remerge, got %d", len(keys), n.Len())
	}
}

func TestReplaceAndRemove(t *testing.T) {
	n := newEmpty(t, 0)
	n.Add(codec.Uint64{}.Min(), 10)
	n.Add(20, 11)

	n.Replace(1, 25)
	if n.KeyAt(1) != 25 {
		t.Errorf("Replace did not update key in place")
	}

	n.RemoveAt(0)
	if n.Len() != 1 || n.KeyAt(0) != 25 {
		t.Errorf("RemoveAt left unexpected state: len=%d key=%d", n.Len(), n.KeyAt(0))
	}
}

func TestLoadRejectsLeafPage(t *testing.T) {
	p := testParams()
	page := make([]byte, p.PageSize)
	field.Header{Kind: field.LeafKind, Count: 0}.Encode(page)
	if _, err := Load[uint64](0, page, p, codec.Uint64{}); err == nil {
		t.Error("expected error loading a leaf page as a node")
	}
}
