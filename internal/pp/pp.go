// Package pp renders a fixedtree database to disk as a set of
// human-readable, ANSI-colored page dumps, for debugging and for the
// "pretty-printing" collaborator a host application wires in on top of
// the store. It reads pages directly off a store.Store, independent of
// the leaf/node/btree packages, since a dump needs to work even on a
// page a typed view would refuse to load (an unexpected Kind byte is
// exactly the kind of thing a diagnostic dump exists to surface).
//
// The color convention (cyan field names, yellow values, red for
// anything that looks wrong) mirrors the coloring zerolog's
// ConsoleWriter applies to structured log fields.
package pp

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nainya/fixedtree/codec"
	"github.com/nainya/fixedtree/field"
	"github.com/nainya/fixedtree/params"
	"github.com/nainya/fixedtree/store"
)

const (
	colorCyan   = 36
	colorYellow = 33
	colorRed    = 31
	colorGreen  = 32
	colorGray   = 90
)

func colorize(s string, color int) string {
	return fmt.Sprintf("\x1b[%dm%s\x1b[0m", color, s)
}

func fieldLine(name, value string) string {
	return colorize(name, colorCyan) + "=" + colorize(value, colorYellow)
}

// Snapshot dumps a store's header and every live page to dir: one
// "pp_header.ansi" file describing the store as a whole, and one
// "pp_page_<addr>.ansi" file per live page, decoded as a Leaf or Node
// page according to its Kind byte.
func Snapshot[K any, V any](dir string, s *store.Store, keyC codec.Key[K], valC codec.Value[V]) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("pp: %w", err)
	}
	if err := snapshotHeader(dir, s); err != nil {
		return err
	}
	return s.Iter(func(addr field.Address, page []byte) error {
		return snapshotPage(dir, addr, page, s.Params(), keyC, valC)
	})
}

func snapshotHeader(dir string, s *store.Store) error {
	p := s.Params()
	var out []byte
	out = append(out, colorize("=== fixedtree header ===", colorGreen)...)
	out = append(out, '\n')
	out = append(out, (fieldLine("root", fmt.Sprint(s.Root())) + "\n")...)
	out = append(out, (fieldLine("page_size", fmt.Sprint(p.PageSize)) + "\n")...)
	out = append(out, (fieldLine("key_size", fmt.Sprint(p.KeySize)) + "\n")...)
	out = append(out, (fieldLine("value_size", fmt.Sprint(p.ValueSize)) + "\n")...)
	out = append(out, (fieldLine("fanout", fmt.Sprint(p.Fanout)) + "\n")...)
	out = append(out, (fieldLine("version", fmt.Sprint(p.Version)) + "\n")...)
	return os.WriteFile(filepath.Join(dir, "pp_header.ansi"), out, 0o644)
}

func snapshotPage[K any, V any](dir string, addr field.Address, page []byte, p params.Params, keyC codec.Key[K], valC codec.Value[V]) error {
	h := field.DecodeHeader(page)

	var out []byte
	title := fmt.Sprintf("=== page %d ===", addr)
	out = append(out, colorize(title, colorGreen)...)
	out = append(out, '\n')
	out = append(out, (fieldLine("count", fmt.Sprint(h.Count)) + "\n")...)

	if h.Kind.IsLeaf() {
		out = append(out, (fieldLine("kind", "leaf") + "\n")...)
		entrySize := p.KeySize + p.ValueSize
		for i := 0; i < int(h.Count); i++ {
			off := field.HeaderSize + i*entrySize
			k := keyC.Decode(page[off : off+p.KeySize])
			v := valC.Decode(page[off+p.KeySize : off+entrySize])
			line := fmt.Sprintf("  [%d] %s -> %s", i, fieldLine("key", keyC.Debug(k)), fieldLine("val", valC.Debug(v)))
			out = append(out, line+"\n"...)
		}
	} else {
		out = append(out, (fieldLine("kind", fmt.Sprintf("node depth=%d", h.Kind.Depth())) + "\n")...)
		entrySize := p.KeySize + 8
		for i := 0; i < int(h.Count); i++ {
			off := field.HeaderSize + i*entrySize
			k := keyC.Decode(page[off : off+p.KeySize])
			child := field.GetAddress(page[off+p.KeySize:])
			marker := ""
			if i == 0 && keyC.Compare(k, keyC.Min()) == 0 {
				marker = colorize(" (sentinel)", colorGray)
			}
			line := fmt.Sprintf("  [%d] %s -> %s%s", i, fieldLine("key", keyC.Debug(k)), fieldLine("child", fmt.Sprint(child)), marker)
			out = append(out, line+"\n"...)
		}
	}

	name := fmt.Sprintf("pp_page_%d.ansi", addr)
	return os.WriteFile(filepath.Join(dir, name), out, 0o644)
}

// SnapshotCorrupt writes a single diagnostic file describing a page
// whose Kind byte or layout failed validation, since that page can't
// be routed through Snapshot's normal Leaf/Node decoding.
func SnapshotCorrupt(dir string, addr field.Address, reason error) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("pp: %w", err)
	}
	out := colorize(fmt.Sprintf("=== page %d (corrupt) ===", addr), colorRed) + "\n" +
		fieldLine("reason", reason.Error()) + "\n"
	name := fmt.Sprintf("pp_page_%d.ansi", addr)
	return os.WriteFile(filepath.Join(dir, name), []byte(out), 0o644)
}
