package pp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nainya/fixedtree/codec"
	"github.com/nainya/fixedtree/params"
	"github.com/nainya/fixedtree/store"
)

func TestSnapshotWritesHeaderAndPages(t *testing.T) {
	dbDir := t.TempDir()
	p := params.Params{PageSize: 256, KeySize: 8, ValueSize: 8, Fanout: 4, Version: 1}
	s, err := store.Open(dbDir, p, store.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	outDir := filepath.Join(t.TempDir(), "dump")
	if err := Snapshot(outDir, s, codec.Uint64{}, codec.Uint64{}); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	headerPath := filepath.Join(outDir, "pp_header.ansi")
	if _, err := os.Stat(headerPath); err != nil {
		t.Errorf("expected header dump at %s: %v", headerPath, err)
	}

	rootPagePath := filepath.Join(outDir, "pp_page_1.ansi")
	if _, err := os.Stat(rootPagePath); err != nil {
		t.Errorf("expected root page dump at %s: %v", rootPagePath, err)
	}

	data, err := os.ReadFile(rootPagePath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Error("page dump should not be empty")
	}
}

func TestSnapshotCorruptWritesDiagnostic(t *testing.T) {
	outDir := t.TempDir()
	if err := SnapshotCorrupt(outDir, 42, os.ErrInvalid); err != nil {
		t.Fatalf("SnapshotCorrupt: %v", err)
	}
	path := filepath.Join(outDir, "pp_page_42.ansi")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected corrupt page dump at %s: %v", path, err)
	}
}
