// Package store implements the paged file backing a fixedtree index:
// fixed-size pages, a pinned LRU cache with lease discipline, a freelist
// of reusable page addresses, and a persistent root pointer, all behind
// a two-phase durable-write barrier.
//
// Durability goes through os.File.WriteAt/Sync rather than mmap, so it
// stays portable across platforms instead of depending on Linux-only
// syscall.Mmap/Pwrite/Fsync.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/nainya/fixedtree/field"
	"github.com/nainya/fixedtree/params"
)

// fileName is the on-disk name of a fixedtree database within its root
// directory: one file per database.
const fileName = "b.tree"

// headerAddress is the reserved, never-allocatable address of the
// header page.
const headerAddress field.Address = 0

// Store is a paged, durable, fixed-layout file. It knows nothing about
// keys, values, or tree shape; it hands out pinned page buffers by
// Address and persists them on Flush.
type Store struct {
	mu sync.Mutex

	path   string
	file   *os.File
	params params.Params

	header    fileHeader
	free      *freelist
	cache     *pageCache
	dirtyHdr  bool
	pageCount uint64 // total pages ever allocated, including header

	logger Logger
	stats  Stats

	closed bool
}

// Options configures Open beyond the fixed Params every database
// carries; Logger and Stats are optional collaborators — the external
// host logger and statistics sink.
type Options struct {
	Logger      Logger
	Stats       Stats
	CacheFrames int // resident page frames; 0 selects a sane default
}

// Open opens the database file under dir, creating and initializing it
// with an empty leaf root if it does not already exist. The supplied
// Params must match the Params the file was created with; a mismatch
// with the sizes and fanout recorded in the header is rejected with
// ErrAssertionViolation.
func Open(dir string, p params.Params, opts Options) (*Store, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("store: %w: %v", ErrAssertionViolation, err)
	}
	if opts.Logger == nil {
		opts.Logger = NopLogger{}
	}
	if opts.Stats == nil {
		opts.Stats = NopStats{}
	}
	cacheFrames := opts.CacheFrames
	if cacheFrames <= 0 {
		cacheFrames = 256
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating root dir: %w", err)
	}
	full := filepath.Join(dir, fileName)

	f, created, err := createOrOpen(full)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	s := &Store{
		path:   full,
		file:   f,
		params: p,
		free:   newFreelist(p.PageSize),
		logger: opts.Logger,
		stats:  opts.Stats,
	}
	s.cache = newPageCache(cacheFrames, opts.Stats, s.writePageRaw)

	if created {
		if err := s.initEmpty(p); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		if err := s.readHeader(); err != nil {
			f.Close()
			return nil, err
		}
	}

	return s, nil
}

func createOrOpen(path string) (*os.File, bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err == nil {
		return f, false, nil
	}
	if !os.IsNotExist(err) {
		return nil, false, err
	}
	f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, false, err
	}
	if dir, derr := os.Open(filepath.Dir(path)); derr == nil {
		dir.Sync()
		dir.Close()
	}
	return f, true, nil
}

// initEmpty lays down a fresh header page and an empty leaf root at
// address 1, then durably flushes both.
func (s *Store) initEmpty(p params.Params) error {
	s.header = fileHeader{
		version:   p.Version,
		pageSize:  uint32(p.PageSize),
		keySize:   uint32(p.KeySize),
		valueSize: uint32(p.ValueSize),
		fanout:    uint32(p.Fanout),
		freeHead:  field.NilAddress,
		pageCount: 2, // header + root leaf
	}
	s.pageCount = 2

	root := make([]byte, p.PageSize)
	field.Header{Kind: field.LeafKind, Count: 0}.Encode(root)
	if err := s.writePageRaw(1, root); err != nil {
		return err
	}
	s.header.root = 1

	if err := s.writePageRaw(headerAddress, s.header.encode()); err != nil {
		return err
	}
	return s.file.Sync()
}

func (s *Store) readHeader() error {
	buf, err := s.readPageRaw(headerAddress)
	if err != nil {
		return err
	}
	h, err := decodeHeader(buf)
	if err != nil {
		return err
	}
	if h.pageSize != uint32(s.params.PageSize) || h.keySize != uint32(s.params.KeySize) ||
		h.valueSize != uint32(s.params.ValueSize) || h.fanout != uint32(s.params.Fanout) {
		return fmt.Errorf("store: %w: params do not match file header", ErrAssertionViolation)
	}
	if h.version != s.params.Version {
		return fmt.Errorf("store: %w: version %d on disk, expected %d", ErrCorruptPage, h.version, s.params.Version)
	}
	s.header = h
	s.pageCount = h.pageCount
	s.free.headPage = h.freeHead
	s.free.tailPage = h.freeTail
	s.free.headSeq = h.freeHeadSeq
	s.free.tailSeq = h.freeTailSeq
	return nil
}

// Params returns the Params this store was opened with.
func (s *Store) Params() params.Params { return s.params }

// Root returns the address of the current root page.
func (s *Store) Root() field.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header.root
}

// Reroot records addr as the new root address in memory; the next
// Flush persists it. Used after a split grows the tree or a merge
// shrinks it.
func (s *Store) Reroot(addr field.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.header.root = addr
	s.dirtyHdr = true
}

// Load pins and returns the buffer for addr, reading it from disk on a
// cache miss. Callers that intend to mutate the buffer must call
// Release when done; read-only callers should call ReleaseRO.
func (s *Store) Load(addr field.Address) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.load(addr)
}

func (s *Store) load(addr field.Address) ([]byte, error) {
	if f := s.cache.get(addr); f != nil {
		f.pinned++
		return f.data, nil
	}
	buf, err := s.readPageRaw(addr)
	if err != nil {
		return nil, err
	}
	f := &frame{addr: addr, data: buf, pinned: 1}
	if err := s.cache.insert(f); err != nil {
		return nil, err
	}
	return buf, nil
}

// Release unpins addr and marks it dirty, meaning its buffer was
// mutated by the caller and must be written back on the next Flush.
func (s *Store) Release(addr field.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.cache.frames[addr]; ok {
		f.dirty = true
		if f.pinned > 0 {
			f.pinned--
		}
	}
}

// ReleaseRO unpins addr without marking it dirty.
func (s *Store) ReleaseRO(addr field.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.cache.frames[addr]; ok && f.pinned > 0 {
		f.pinned--
	}
}

// Alloc returns a freshly zeroed page stamped with kind, preferring a
// freelist recycle over growing the file. The returned buffer is
// pinned as if by Load; the caller must Release it.
func (s *Store) Alloc(kind field.Kind) (field.Address, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return field.NilAddress, nil, ErrClosed
	}

	addr, ok := s.free.pop(s)
	if !ok {
		addr = field.Address(s.pageCount)
		s.pageCount++
		s.header.pageCount = s.pageCount
		s.dirtyHdr = true
	}

	buf := make([]byte, s.params.PageSize)
	field.Header{Kind: kind, Count: 0}.Encode(buf)
	f := &frame{addr: addr, data: buf, pinned: 1, dirty: true}
	s.cache.remove(addr)
	if err := s.cache.insert(f); err != nil {
		return field.NilAddress, nil, err
	}
	s.stats.PageAllocated()
	s.logger.Debugf("store: alloc page %d kind %d", addr, kind)
	return addr, buf, nil
}

// Free queues addr for reuse. addr must not be pinned.
func (s *Store) Free(addr field.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.cache.frames[addr]; ok && f.pinned > 0 {
		return fmt.Errorf("store: %w: freeing pinned page %d", ErrProgrammerError, addr)
	}
	s.cache.remove(addr)
	s.free.push(s, addr)
	s.stats.PageFreed()
	return nil
}

// Iter calls fn with the buffer of every live (non-freelist,
// non-header) page address, in ascending address order, for
// diagnostics and bulk verification. Buffers are read-only snapshots,
// not leased pages.
func (s *Store) Iter(fn func(addr field.Address, page []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	freed, err := s.freedAddresses()
	if err != nil {
		return err
	}

	for a := uint64(1); a < s.pageCount; a++ {
		addr := field.Address(a)
		if freed[addr] {
			continue
		}
		buf, err := s.readPageRaw(addr)
		if err != nil {
			return err
		}
		if err := fn(addr, buf); err != nil {
			return err
		}
	}
	return nil
}

// freedAddresses returns the set of page addresses currently queued on
// the free list, by walking it read-only, plus the addresses of the
// free list's own bookkeeping pages (which are not tree data either).
func (s *Store) freedAddresses() (map[field.Address]bool, error) {
	freed := make(map[field.Address]bool)
	seq := s.free.headSeq
	page := s.free.headPage
	cap := uint64(s.free.capacity)
	for page.Valid() && seq < s.free.tailSeq {
		buf, err := s.readPageRaw(page)
		if err != nil {
			return nil, err
		}
		freed[page] = true
		node := flNode(buf)
		for idx := seq % cap; idx < cap && seq < s.free.tailSeq; idx++ {
			freed[node.getPtr(int(idx))] = true
			seq++
		}
		page = node.getNext()
	}
	return freed, nil
}

// Flush durably writes every dirty frame and then rewrites the header
// page (root, free list, page count): pages first, then an fsync
// barrier, then the header, then a second fsync. A crash between the
// two writes leaves the old header pointing at the old (still valid)
// root.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

func (s *Store) flush() error {
	if s.closed {
		return ErrClosed
	}

	var writeErr error
	s.cache.each(func(f *frame) {
		if !f.dirty || writeErr != nil {
			return
		}
		if err := s.writePageRaw(f.addr, f.data); err != nil {
			writeErr = err
			return
		}
		f.dirty = false
	})
	if writeErr != nil {
		return writeErr
	}

	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("store: fsync pages: %w", err)
	}

	s.header.freeHead = s.free.headPage
	s.header.freeTail = s.free.tailPage
	s.header.freeHeadSeq = s.free.headSeq
	s.header.freeTailSeq = s.free.tailSeq
	if err := s.writePageRaw(headerAddress, s.header.encode()); err != nil {
		return fmt.Errorf("store: writing header: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("store: fsync header: %w", err)
	}
	s.dirtyHdr = false
	s.stats.Flushed()
	return nil
}

// Clear discards all tree content, truncating the file to the header
// page and a single empty leaf root, with an empty free list.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.cache = newPageCache(s.cache.capacity, s.stats, s.writePageRaw)
	s.free = newFreelist(s.params.PageSize)
	s.pageCount = 2 // header + root leaf
	s.header.pageCount = s.pageCount
	if err := s.file.Truncate(int64(s.pageCount) * int64(s.params.PageSize)); err != nil {
		return fmt.Errorf("store: truncating: %w", err)
	}

	root := make([]byte, s.params.PageSize)
	field.Header{Kind: field.LeafKind, Count: 0}.Encode(root)
	if err := s.writePageRaw(1, root); err != nil {
		return err
	}
	s.header.root = 1
	s.dirtyHdr = true
	return s.flush()
}

// Close flushes and releases the underlying file handle. Close on an
// already-closed Store is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.Flush(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.file.Close()
}

// readPageRaw reads one PageSize-width page at addr directly from the
// file, bypassing the pin cache. Used for header/free-list bookkeeping
// pages and cache-miss fills.
func (s *Store) readPageRaw(addr field.Address) ([]byte, error) {
	buf := make([]byte, s.params.PageSize)
	off := int64(addr) * int64(s.params.PageSize)
	n, err := s.file.ReadAt(buf, off)
	if err != nil && n != len(buf) {
		return nil, fmt.Errorf("store: reading page %d: %w", addr, err)
	}
	return buf, nil
}

// writePageRaw writes one page at addr directly to the file.
func (s *Store) writePageRaw(addr field.Address, page []byte) error {
	off := int64(addr) * int64(s.params.PageSize)
	if _, err := s.file.WriteAt(page, off); err != nil {
		return fmt.Errorf("store: writing page %d: %w", addr, err)
	}
	return nil
}

// allocateRawPage grows the file by one page without going through the
// free list or pin cache, used internally by the free list's own
// bookkeeping pages.
func (s *Store) allocateRawPage() (field.Address, []byte) {
	addr := field.Address(s.pageCount)
	s.pageCount++
	s.header.pageCount = s.pageCount
	s.dirtyHdr = true
	return addr, make([]byte, s.params.PageSize)
}
