package pagestore

import (
	"github.com/google/uuid"
	"github.com/juju/errors"
)

// ───────────────────────────────────────────────────────────────────────────
// Mutator (C7)
// ───────────────────────────────────────────────────────────────────────────
//
// A Mutator is a single transaction's workspace: every allocate/write/free
// call stages an in-memory pending change and appends the payload bytes to
// a run of interim block pages held only by this Mutator. Nothing becomes
// visible to other readers, and nothing is durable, until Commit runs the
// commit engine (commit.go). Interim pages are only in-memory buffers
// until Commit writes them, so Rollback writes nothing: it discards the
// workspace and returns its interim page positions to the catalog's free
// pool.

type pendingAllocate struct {
	interim Position
	size    int32
}

type pendingWrite struct {
	interim Position
	size    int32
}

// Mutator accumulates the changes of one transaction.
type Mutator struct {
	id   uuid.UUID
	pack *Pack

	closed bool

	allocations map[Address]pendingAllocate
	writes      map[Address]pendingWrite
	frees       map[Address]struct{}
	temporaries []Address

	interimPage  *blockPage
	interimPos   Position
	interimPages []interimPageRef
}

type interimPageRef struct {
	pos  Position
	page *blockPage
}

func newMutator(p *Pack) *Mutator {
	return &Mutator{
		id:          uuid.New(),
		pack:        p,
		allocations: make(map[Address]pendingAllocate),
		writes:      make(map[Address]pendingWrite),
		frees:       make(map[Address]struct{}),
	}
}

func (m *Mutator) checkOpen(op string) error {
	if m.closed {
		return errors.Annotate(ErrShutdown, op)
	}
	return nil
}

// ensureInterimSpace makes m.interimPage an interim block page with at
// least `need` bytes free, allocating a fresh interim page from the
// catalog when the current one can't hold the record.
func (m *Mutator) ensureInterimSpace(need int64) {
	if m.interimPage != nil && m.interimPage.bytesRemaining() >= need {
		return
	}
	if m.interimPage != nil {
		m.interimPages = append(m.interimPages, interimPageRef{pos: m.interimPos, page: m.interimPage})
	}
	pos := m.pack.catalog.allocatePosition()
	buf := make([]byte, m.pack.pageSize)
	m.interimPage = newBlockPage(buf)
	m.interimPos = pos
}

// flushInterim returns every interim page this transaction has touched,
// including the one still being filled, in allocation order.
func (m *Mutator) flushInterim() []interimPageRef {
	if m.interimPage == nil {
		return m.interimPages
	}
	return append(m.interimPages, interimPageRef{pos: m.interimPos, page: m.interimPage})
}

// Allocate stages a brand-new block and reserves its Address immediately;
// the address is usable right away (e.g. embedded in another block's
// payload this same transaction) even though it isn't durable until
// Commit succeeds.
func (m *Mutator) Allocate(payload []byte) (Address, error) {
	if err := m.checkOpen("Allocate"); err != nil {
		return 0, err
	}
	encoded := m.pack.encodePayload(payload)
	need := int64(blockRecordHeaderSize + len(encoded))
	addr := m.pack.catalog.reserveAddress()
	m.ensureInterimSpace(need)
	recOff, err := m.interimPage.append(addr, encoded)
	if err != nil {
		return 0, err
	}
	m.allocations[addr] = pendingAllocate{interim: m.interimPos + Position(recOff), size: int32(need)}
	return addr, nil
}

// Write stages an overwrite of an existing, previously committed address.
func (m *Mutator) Write(addr Address, payload []byte) error {
	if err := m.checkOpen("Write"); err != nil {
		return err
	}
	if _, freed := m.frees[addr]; freed {
		return newErr("Write", KindFreedAddress)
	}
	encoded := m.pack.encodePayload(payload)
	need := int64(blockRecordHeaderSize + len(encoded))
	m.ensureInterimSpace(need)
	recOff, err := m.interimPage.append(addr, encoded)
	if err != nil {
		return err
	}
	m.writes[addr] = pendingWrite{interim: m.interimPos + Position(recOff), size: int32(need)}
	return nil
}

// Free stages the release of addr. A freed address cannot be read,
// written, or freed again within the same transaction. Static addresses
// are fixed for the life of the store and cannot be freed at all.
func (m *Mutator) Free(addr Address) error {
	if err := m.checkOpen("Free"); err != nil {
		return err
	}
	if m.pack.isStatic(addr) {
		return newErr("Free", KindFreedStaticAddress)
	}
	if _, ok := m.frees[addr]; ok {
		return newErr("Free", KindFreedAddress)
	}
	m.frees[addr] = struct{}{}
	delete(m.allocations, addr)
	delete(m.writes, addr)
	for i, t := range m.temporaries {
		if t == addr {
			m.temporaries = append(m.temporaries[:i], m.temporaries[i+1:]...)
			break
		}
	}
	return nil
}

// Temporary is Allocate plus registration in the store's on-disk
// temporary-address list, so a client that crashes mid-task can
// rediscover its scratch blocks through Opener.GetTemporaryBlocks on the
// next open. Freeing the address removes it from the list again.
func (m *Mutator) Temporary(payload []byte) (Address, error) {
	addr, err := m.Allocate(payload)
	if err != nil {
		return 0, err
	}
	m.temporaries = append(m.temporaries, addr)
	return addr, nil
}

// Read resolves addr against this transaction's own pending writes first,
// falling back to the last committed value.
func (m *Mutator) Read(addr Address) ([]byte, error) {
	if err := m.checkOpen("Read"); err != nil {
		return nil, err
	}
	if _, freed := m.frees[addr]; freed {
		return nil, newErr("Read", KindFreedAddress)
	}
	if w, ok := m.writes[addr]; ok {
		return m.readInterim(w.interim)
	}
	if a, ok := m.allocations[addr]; ok {
		return m.readInterim(a.interim)
	}
	return m.pack.readCommitted(addr)
}

func (m *Mutator) readInterim(pos Position) ([]byte, error) {
	// The interim page holding this record is still only buffered in this
	// transaction's own workspace (not yet flushed anywhere a reader could
	// fetch it by Position), so route through the in-memory buffers first.
	for _, ref := range m.flushInterim() {
		if pos < ref.pos || pos >= ref.pos+Position(m.pack.pageSize) {
			continue
		}
		off := int64(pos - ref.pos)
		size := int32(byteOrder.Uint32(ref.page.buf[off : off+4]))
		if size < 0 {
			size = -size
		}
		rec := blockRecord{offset: off, size: size}
		return m.pack.decodePayload(ref.page.payload(rec))
	}
	buf, err := m.pack.sheaf.readPage(Position(int64(pos) - int64(pos)%m.pack.pageSize))
	if err != nil {
		return nil, err
	}
	bp := newBlockPage(buf)
	off := int64(pos) % m.pack.pageSize
	for _, r := range bp.scan() {
		if r.offset == off {
			return m.pack.decodePayload(bp.payload(r))
		}
	}
	return nil, ErrInvalidAddress
}

// Commit hands the workspace to the commit engine. On success the
// Mutator is closed; on failure the transaction is left uncommitted and
// the caller should Rollback.
func (m *Mutator) Commit() error {
	if err := m.checkOpen("Commit"); err != nil {
		return err
	}
	err := m.pack.commit(m)
	m.closed = true
	return err
}

// Rollback discards every staged change. Nothing staged was written to
// the file; the interim page positions of a Mutator that is still open
// go back to the catalog's free pool. Addresses it reserved are not
// returned to the free-address pool.
func (m *Mutator) Rollback() error {
	if !m.closed {
		for _, ref := range m.flushInterim() {
			m.pack.catalog.releaseInterim(ref.pos)
		}
	}
	m.closed = true
	return nil
}
