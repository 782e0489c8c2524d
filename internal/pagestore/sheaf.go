package pagestore

import (
	"os"
	"sync"
)

// ───────────────────────────────────────────────────────────────────────────
// Sheaf — raw page I/O and cache
// ───────────────────────────────────────────────────────────────────────────
//
// The sheaf is the lowest layer of the store: it owns the backing *os.File
// and an LRU cache of page-sized buffers keyed by Position, the same
// pinned-frame/dirty-tracking design the teacher package uses for its
// buffer pool, generalized from PageID to byte-offset Position.

// pageFrame is one cached page.
type pageFrame struct {
	pos    Position
	buf    []byte
	dirty  bool
	pinned int
	prev   *pageFrame
	next   *pageFrame
}

type pagePool struct {
	mu       sync.Mutex
	maxPages int
	frames   map[Position]*pageFrame
	head     *pageFrame
	tail     *pageFrame
}

func newPagePool(maxPages int) *pagePool {
	if maxPages <= 0 {
		maxPages = 1024
	}
	return &pagePool{maxPages: maxPages, frames: make(map[Position]*pageFrame, maxPages)}
}

func (p *pagePool) get(pos Position) (*pageFrame, bool) {
	f, ok := p.frames[pos]
	if ok {
		p.moveToFront(f)
	}
	return f, ok
}

func (p *pagePool) put(f *pageFrame) {
	if _, exists := p.frames[f.pos]; exists {
		p.moveToFront(f)
		return
	}
	for len(p.frames) >= p.maxPages {
		if !p.evictOne() {
			break
		}
	}
	p.frames[f.pos] = f
	p.pushFront(f)
}

func (p *pagePool) remove(pos Position) {
	f, ok := p.frames[pos]
	if !ok {
		return
	}
	p.unlink(f)
	delete(p.frames, pos)
}

func (p *pagePool) evictOne() bool {
	for f := p.tail; f != nil; f = f.prev {
		if f.pinned == 0 && !f.dirty {
			p.unlink(f)
			delete(p.frames, f.pos)
			return true
		}
	}
	return false
}

func (p *pagePool) dirtyFrames() []*pageFrame {
	var out []*pageFrame
	for _, f := range p.frames {
		if f.dirty {
			out = append(out, f)
		}
	}
	return out
}

func (p *pagePool) pushFront(f *pageFrame) {
	f.prev = nil
	f.next = p.head
	if p.head != nil {
		p.head.prev = f
	}
	p.head = f
	if p.tail == nil {
		p.tail = f
	}
}

func (p *pagePool) unlink(f *pageFrame) {
	if f.prev != nil {
		f.prev.next = f.next
	} else {
		p.head = f.next
	}
	if f.next != nil {
		f.next.prev = f.prev
	} else {
		p.tail = f.prev
	}
	f.prev, f.next = nil, nil
}

func (p *pagePool) moveToFront(f *pageFrame) {
	p.unlink(f)
	p.pushFront(f)
}

// sheaf is the file-backed page store. Reads go through the cache;
// writes go straight through to the file and refresh the cached image,
// and the caller decides when to fsync (the commit engine controls fsync
// ordering directly, rather than letting the cache flush
// opportunistically).
type sheaf struct {
	mu       sync.RWMutex
	file     *os.File
	pageSize int64
	pool     *pagePool
}

func openSheaf(file *os.File, pageSize int64, maxCachePages int) *sheaf {
	return &sheaf{file: file, pageSize: pageSize, pool: newPagePool(maxCachePages)}
}

func (s *sheaf) readPage(pos Position) ([]byte, error) {
	// pool.get reorders the LRU list, so the lookup needs the write lock.
	s.mu.Lock()
	if f, ok := s.pool.get(pos); ok {
		buf := append([]byte(nil), f.buf...)
		s.mu.Unlock()
		return buf, nil
	}
	s.mu.Unlock()

	buf := make([]byte, s.pageSize)
	if _, err := s.file.ReadAt(buf, int64(pos)); err != nil {
		return nil, wrapIO("readPage", KindIoRead, err)
	}

	s.mu.Lock()
	s.pool.put(&pageFrame{pos: pos, buf: append([]byte(nil), buf...)})
	s.mu.Unlock()
	return buf, nil
}

// writePage updates the cached image and persists it immediately; the
// store's durability model relies on explicit fsync calls from the
// commit engine, not deferred cache flushing, so writes go straight
// through rather than waiting for a checkpoint.
func (s *sheaf) writePage(pos Position, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.WriteAt(buf, int64(pos)); err != nil {
		return wrapIO("writePage", KindIoWrite, err)
	}
	if f, ok := s.pool.get(pos); ok {
		copy(f.buf, buf)
		f.dirty = false
	} else {
		s.pool.put(&pageFrame{pos: pos, buf: append([]byte(nil), buf...)})
	}
	return nil
}

func (s *sheaf) fsync() error {
	if err := s.file.Sync(); err != nil {
		return wrapIO("fsync", KindIoForce, err)
	}
	return nil
}

func (s *sheaf) truncate(size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Truncate(size); err != nil {
		return wrapIO("truncate", KindIoTruncate, err)
	}
	return nil
}

func (s *sheaf) fileSize() (int64, error) {
	fi, err := s.file.Stat()
	if err != nil {
		return 0, wrapIO("fileSize", KindIoSize, err)
	}
	return fi.Size(), nil
}

func (s *sheaf) close() error {
	if err := s.file.Close(); err != nil {
		return wrapIO("close", KindIoClose, err)
	}
	return nil
}
