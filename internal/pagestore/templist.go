package pagestore

import (
	"sort"
	"sync"
)

// ───────────────────────────────────────────────────────────────────────────
// Temporary-address list
// ───────────────────────────────────────────────────────────────────────────
//
// A temporary block is an ordinary allocated block whose address is
// additionally recorded in a small on-disk list, so a client that crashed
// mid-task can rediscover its scratch state on reopen. The list lives in
// its own chain of pages, reached from the header's TempListHead field:
//
//   [4]  count       — addresses stored in this page
//   [8]* addresses   — count big-endian uint64 slots
//   [8]  next        — forward pointer, NullPosition on the last page
//
// The whole list is rewritten when it changes. That happens only inside a
// commit's apply phase (registering a committed Temporary, or dropping a
// temporary the commit freed), so the rewrite is already serialized and
// already precedes the checkpoint-clearing header write that makes the
// new TempListHead durable.

type tempList struct {
	mu    sync.Mutex
	head  Position
	pages []Position
	addrs []Address
}

func newTempList() *tempList {
	return &tempList{head: NullPosition}
}

func (t *tempList) contains(addr Address) bool {
	for _, a := range t.addrs {
		if a == addr {
			return true
		}
	}
	return false
}

// snapshot returns the recorded addresses in ascending order.
func (t *tempList) snapshot() []Address {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := append([]Address(nil), t.addrs...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func tempAddrsPerPage(pageSize int64) int {
	return int((pageSize - blockPageCountSize - chainPointerSize) / 8)
}

// loadTempList walks the on-disk chain rooted at head and rebuilds the
// in-memory list, registering each list page with the catalog.
func (p *Pack) loadTempList(head Position) error {
	p.temp.mu.Lock()
	defer p.temp.mu.Unlock()
	p.temp.head = head
	p.temp.pages = p.temp.pages[:0]
	p.temp.addrs = p.temp.addrs[:0]

	pos := head
	for pos != NullPosition {
		buf, err := p.sheaf.readPage(pos)
		if err != nil {
			return err
		}
		p.catalog.set(pos, KindTempList)
		p.temp.pages = append(p.temp.pages, pos)
		count := int(byteOrder.Uint32(buf[0:4]))
		if max := tempAddrsPerPage(p.pageSize); count > max {
			return newErr("loadTempList", KindHeaderCorrupt)
		}
		off := int64(blockPageCountSize)
		for i := 0; i < count; i++ {
			p.temp.addrs = append(p.temp.addrs, Address(byteOrder.Uint64(buf[off:off+8])))
			off += 8
		}
		pos = Position(byteOrder.Uint64(buf[p.pageSize-chainPointerSize : p.pageSize]))
	}
	return nil
}

// registerTemporary records addr in the temporary list if it isn't there
// already. Safe to replay: a second registration of the same address is
// a no-op.
func (p *Pack) registerTemporary(addr Address) error {
	p.temp.mu.Lock()
	defer p.temp.mu.Unlock()
	if p.temp.contains(addr) {
		return nil
	}
	p.temp.addrs = append(p.temp.addrs, addr)
	return p.persistTempList()
}

// dropTemporary removes addr from the temporary list, if present.
func (p *Pack) dropTemporary(addr Address) error {
	p.temp.mu.Lock()
	defer p.temp.mu.Unlock()
	for i, a := range p.temp.addrs {
		if a == addr {
			p.temp.addrs = append(p.temp.addrs[:i], p.temp.addrs[i+1:]...)
			return p.persistTempList()
		}
	}
	return nil
}

// persistTempList rewrites the list's page chain to match the in-memory
// address set, growing or shrinking the chain as needed. Caller holds
// temp.mu. The header's TempListHead picks up the new head on the next
// header write, which every commit's retire phase performs.
func (p *Pack) persistTempList() error {
	perPage := tempAddrsPerPage(p.pageSize)
	needed := (len(p.temp.addrs) + perPage - 1) / perPage

	for len(p.temp.pages) < needed {
		pos := p.catalog.allocatePosition()
		p.catalog.set(pos, KindTempList)
		p.temp.pages = append(p.temp.pages, pos)
	}
	for len(p.temp.pages) > needed {
		last := p.temp.pages[len(p.temp.pages)-1]
		p.temp.pages = p.temp.pages[:len(p.temp.pages)-1]
		p.catalog.releaseInterim(last)
	}

	for i, pos := range p.temp.pages {
		buf := make([]byte, p.pageSize)
		start := i * perPage
		end := start + perPage
		if end > len(p.temp.addrs) {
			end = len(p.temp.addrs)
		}
		byteOrder.PutUint32(buf[0:4], uint32(end-start))
		off := int64(blockPageCountSize)
		for _, a := range p.temp.addrs[start:end] {
			byteOrder.PutUint64(buf[off:off+8], uint64(a))
			off += 8
		}
		var next Position
		if i+1 < len(p.temp.pages) {
			next = p.temp.pages[i+1]
		}
		byteOrder.PutUint64(buf[p.pageSize-chainPointerSize:p.pageSize], uint64(next))
		if err := p.sheaf.writePage(pos, buf); err != nil {
			return err
		}
	}

	if len(p.temp.pages) == 0 {
		p.temp.head = NullPosition
	} else {
		p.temp.head = p.temp.pages[0]
	}
	return nil
}

// tempListHead reads the current chain head for header writes.
func (p *Pack) tempListHead() Position {
	p.temp.mu.Lock()
	defer p.temp.mu.Unlock()
	return p.temp.head
}
