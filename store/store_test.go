package store

import (
	"testing"

	"github.com/nainya/fixedtree/field"
	"github.com/nainya/fixedtree/params"
)

func testParams() params.Params {
	return params.Params{
		PageSize:  256,
		KeySize:   8,
		ValueSize: 8,
		Fanout:    4,
		Version:   1,
	}
}

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), testParams(), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesEmptyLeafRoot(t *testing.T) {
	s := openTest(t)
	root := s.Root()
	buf, err := s.Load(root)
	if err != nil {
		t.Fatalf("Load root: %v", err)
	}
	h := field.DecodeHeader(buf)
	if !h.Kind.IsLeaf() || h.Count != 0 {
		t.Errorf("want empty leaf root, got kind=%v count=%d", h.Kind, h.Count)
	}
	s.ReleaseRO(root)
}

func TestAllocFreeReuse(t *testing.T) {
	s := openTest(t)

	a1, _, err := s.Alloc(field.LeafKind)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	s.Release(a1)
	if err := s.Free(a1); err != nil {
		t.Fatalf("Free: %v", err)
	}

	a2, _, err := s.Alloc(field.LeafKind)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	s.Release(a2)
	if a2 != a1 {
		t.Errorf("expected freed page %d to be recycled, got %d", a1, a2)
	}
}

func TestFreePinnedPageIsProgrammerError(t *testing.T) {
	s := openTest(t)
	a, _, err := s.Alloc(field.LeafKind)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	// still pinned: Alloc leaves one lease outstanding
	if err := s.Free(a); err == nil {
		t.Error("expected error freeing a pinned page")
	}
}

func TestFlushAndReopenPreservesRootAndData(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, testParams(), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	a, buf, err := s.Alloc(field.LeafKind)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	buf[field.HeaderSize] = 0xAB
	s.Release(a)
	s.Reroot(a)
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(dir, testParams(), Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if s2.Root() != a {
		t.Errorf("want root %d after reopen, got %d", a, s2.Root())
	}
	reloaded, err := s2.Load(a)
	if err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if reloaded[field.HeaderSize] != 0xAB {
		t.Errorf("data did not survive reopen")
	}
	s2.ReleaseRO(a)
}

func TestClearResetsToEmptyLeaf(t *testing.T) {
	s := openTest(t)
	a, _, err := s.Alloc(field.LeafKind)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	s.Release(a)
	s.Reroot(a)

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	buf, err := s.Load(s.Root())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	h := field.DecodeHeader(buf)
	if !h.Kind.IsLeaf() || h.Count != 0 {
		t.Errorf("want empty leaf root after Clear, got kind=%v count=%d", h.Kind, h.Count)
	}
	s.ReleaseRO(s.Root())
}

func TestMismatchedParamsRejected(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, testParams(), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	bad := testParams()
	bad.KeySize = 16
	if _, err := Open(dir, bad, Options{}); err == nil {
		t.Error("expected error reopening with mismatched Params")
	}
}

func TestIterSkipsFreedPages(t *testing.T) {
	s := openTest(t)

	a, _, err := s.Alloc(field.LeafKind)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	s.Release(a)

	b, _, err := s.Alloc(field.LeafKind)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	s.Release(b)
	if err := s.Free(b); err != nil {
		t.Fatalf("Free: %v", err)
	}

	seen := map[field.Address]bool{}
	if err := s.Iter(func(addr field.Address, page []byte) error {
		seen[addr] = true
		return nil
	}); err != nil {
		t.Fatalf("Iter: %v", err)
	}
	if !seen[a] {
		t.Errorf("expected live page %d to be visited", a)
	}
	if seen[b] {
		t.Errorf("expected freed page %d to be skipped", b)
	}
}
