// Package pagestore implements the on-disk engine behind a Pack: a
// transactional, single-file block store addressed by stable logical
// addresses rather than byte offsets.
package pagestore

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Pack is an open store. All exported operations are safe for concurrent
// use; commits are serialized by commitMutex, while reads consult the
// catalog and address pages without holding it.
type Pack struct {
	mu          sync.RWMutex
	commitMutex sync.Mutex

	sheaf       *sheaf
	catalog     *catalog
	region      *blockPageRegion
	byRemaining *byRemainingIndex
	moves       *moveTable
	temp        *tempList

	path        string
	pageSize    int64
	checksums   bool
	static      []StaticEntry
	staticAddr  map[string]Address
	staticAddrs map[Address]struct{}

	log    *logrus.Entry
	closed bool
}

// isStatic reports whether addr names a block reserved at creation time;
// static addresses cannot be freed.
func (p *Pack) isStatic(addr Address) bool {
	_, ok := p.staticAddrs[addr]
	return ok
}

func (p *Pack) headerFlags() uint32 {
	var f uint32
	if p.checksums {
		f |= headerFlagChecksums
	}
	return f
}

// encodePayload prefixes payload with its CRC32 when checksums are on;
// decodePayload strips and verifies the prefix on the way back out.
func (p *Pack) encodePayload(payload []byte) []byte {
	if !p.checksums {
		return payload
	}
	out := make([]byte, 4+len(payload))
	byteOrder.PutUint32(out[0:4], checksumPayload(payload))
	copy(out[4:], payload)
	return out
}

// decodePayload strips the optional CRC32 prefix and, when checksums are
// enabled, verifies it — a mismatch means the page was torn or bit-rotted
// between write and read, which §4.4 requires surface as ErrBlockCorrupt
// rather than silently returning bad bytes.
func (p *Pack) decodePayload(raw []byte) ([]byte, error) {
	if !p.checksums {
		return append([]byte(nil), raw...), nil
	}
	if len(raw) < 4 {
		return nil, newErr("decodePayload", KindBlockCorrupt)
	}
	want := byteOrder.Uint32(raw[0:4])
	payload := raw[4:]
	if checksumPayload(payload) != want {
		return nil, newErr("decodePayload", KindBlockCorrupt)
	}
	return append([]byte(nil), payload...), nil
}

// resolveAddress follows the address-page chain to find the Position an
// Address currently points at.
func (p *Pack) resolveAddress(addr Address) (Position, error) {
	slotsPerPage := slotsPerAddressPage(p.pageSize)
	pageIdx, slot := addressSlot(addr, slotsPerPage)
	pagePos, ok := p.catalog.addressPagePosition(pageIdx)
	if !ok {
		return NullPosition, ErrInvalidAddress
	}
	buf, err := p.sheaf.readPage(pagePos)
	if err != nil {
		return NullPosition, err
	}
	ap := newAddressPage(buf)
	v := ap.get(slot)
	switch {
	case v == freedSlot:
		return NullPosition, ErrFreedAddress
	case v == 0:
		return NullPosition, ErrInvalidAddress
	default:
		return p.moves.resolve(Position(v)), nil
	}
}

// readCommitted reads the last durable value of addr, following any
// pending Move chain to the record's current physical location.
func (p *Pack) readCommitted(addr Address) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrShutdown
	}
	pos, err := p.resolveAddress(addr)
	if err != nil {
		return nil, err
	}
	pagePos := pos - pos%Position(p.pageSize)
	buf, err := p.sheaf.readPage(pagePos)
	if err != nil {
		return nil, err
	}
	bp := newBlockPage(buf)
	off := int64(pos) % p.pageSize
	for _, r := range bp.scan() {
		if r.offset == off {
			if !r.live() {
				return nil, ErrInvalidAddress
			}
			return p.decodePayload(bp.payload(r))
		}
	}
	return nil, ErrBlockCorrupt
}

// Mutate opens a new transaction workspace.
func (p *Pack) Mutate() *Mutator {
	return newMutator(p)
}

// GetStaticBlocks returns the URI-to-address directory of blocks
// reserved by Creator.AddStaticBlock at store-creation time. The
// returned addresses behave like any other: readable and writable
// through a Mutator, but never freeable.
func (p *Pack) GetStaticBlocks() map[string]Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Address, len(p.staticAddr))
	for uri, addr := range p.staticAddr {
		out[uri] = addr
	}
	return out
}

// GetStaticBlock returns the current payload of a block reserved at
// creation time.
func (p *Pack) GetStaticBlock(uri string) ([]byte, error) {
	p.mu.RLock()
	addr, ok := p.staticAddr[uri]
	p.mu.RUnlock()
	if !ok {
		return nil, newErr("GetStaticBlock", KindInvalidAddress)
	}
	return p.readCommitted(addr)
}

// GetTemporaryBlocks returns the addresses of every committed Temporary
// block that hasn't been freed since, in ascending order. A client that
// crashed mid-task reopens the store and walks this list to find (and
// usually free) its abandoned scratch state.
func (p *Pack) GetTemporaryBlocks() []Address {
	return p.temp.snapshot()
}

// Close flushes the header with the clean-shutdown flag set and closes
// the backing file.
func (p *Pack) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.writeHeader(shutdownClean); err != nil {
		_ = p.sheaf.close()
		return err
	}
	if err := p.sheaf.fsync(); err != nil {
		_ = p.sheaf.close()
		return err
	}
	return p.sheaf.close()
}

func (p *Pack) writeHeader(shutdownFlag int32) error {
	h := &Header{
		PageSize:         int32(p.pageSize),
		HeaderSize:       int32(p.pageSize),
		ShutdownFlag:     shutdownFlag,
		InterimBoundary:  p.catalog.fileEnd(),
		AddressPageCount: int32(p.catalog.addressPageCountLoaded()),
		FormatVersion:    currentFormatVersion,
		TempListHead:     p.tempListHead(),
		Flags:            p.headerFlags(),
		Static:           p.static,
	}
	buf := make([]byte, p.pageSize)
	if err := marshalHeader(h, buf); err != nil {
		return err
	}
	return p.sheaf.writePage(0, buf)
}

// ───────────────────────────────────────────────────────────────────────────
// Creator
// ───────────────────────────────────────────────────────────────────────────

// Creator configures and creates a brand-new store file.
type Creator struct {
	pageSize  int32
	checksums bool
	static    []StaticEntry
	logger    *logrus.Logger
}

// NewCreator returns a Creator with DefaultPageSize and no static blocks.
func NewCreator() *Creator {
	return &Creator{pageSize: DefaultPageSize}
}

// SetPageSize overrides the page size; must be a power of two, >= MinPageSize.
func (c *Creator) SetPageSize(n int32) *Creator {
	c.pageSize = n
	return c
}

// EnableChecksums turns on the optional per-block CRC32.
func (c *Creator) EnableChecksums(enabled bool) *Creator {
	c.checksums = enabled
	return c
}

// SetLogger overrides the logrus.Logger used for commit/recovery/vacuum
// diagnostics; nil keeps the package default (logrus.StandardLogger()).
func (c *Creator) SetLogger(l *logrus.Logger) *Creator {
	c.logger = l
	return c
}

// AddStaticBlock reserves a fixed-size block addressed by uri, laid out
// immediately after the header and address-page region.
func (c *Creator) AddStaticBlock(uri string, blockSize int32) *Creator {
	c.static = append(c.static, StaticEntry{URI: uri, BlockSize: blockSize})
	return c
}

// Create creates path, laying out the header, static blocks, and an
// initial Address Page run, then returns the open Pack.
func (c *Creator) Create(path string) (*Pack, error) {
	ps := c.pageSize
	if ps == 0 {
		ps = DefaultPageSize
	}
	if ps < MinPageSize || ps&(ps-1) != 0 {
		return nil, newErr("Create", KindHeaderCorrupt)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, wrapIO("Create", KindIoWrite, err)
	}

	p := &Pack{
		sheaf:       openSheaf(f, int64(ps), 1024),
		catalog:     newCatalog(int64(ps)),
		region:      newBlockPageRegion(),
		byRemaining: newByRemainingIndex(int64(ps)),
		moves:       newMoveTable(),
		temp:        newTempList(),
		path:        path,
		pageSize:    int64(ps),
		checksums:   c.checksums,
		staticAddr:  make(map[string]Address),
		staticAddrs: make(map[Address]struct{}),
		log:         newLog(c.logger),
	}

	// Page 0 is the header. One initial Address Page follows it.
	p.catalog.setFileEnd(Position(ps))
	addrPagePos := p.catalog.allocatePosition()
	p.catalog.registerAddressPage(addrPagePos)
	addrBuf := make([]byte, ps)
	ap := newAddressPage(addrBuf)
	ap.setNext(NullPosition)

	// Static blocks get real address slots, carved one page per entry so
	// their positions never shift; the slot values go into the first
	// Address Page before it is written out.
	p.static = make([]StaticEntry, len(c.static))
	for i, s := range c.static {
		addr := p.catalog.reserveAddress()
		pos := p.catalog.allocatePosition()
		p.catalog.set(pos, KindUserBlock)
		buf := make([]byte, ps)
		bp := newBlockPage(buf)
		recOff, err := bp.append(addr, p.encodePayload(make([]byte, s.BlockSize)))
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := p.sheaf.writePage(pos, buf); err != nil {
			f.Close()
			return nil, err
		}
		blockPos := pos + Position(recOff)
		ap.set(int64(addr), int64(blockPos))
		s.Address = addr
		s.Position = blockPos
		p.static[i] = s
		p.staticAddr[s.URI] = addr
		p.staticAddrs[addr] = struct{}{}
	}

	if err := p.sheaf.writePage(addrPagePos, addrBuf); err != nil {
		f.Close()
		return nil, err
	}

	if err := p.writeHeader(shutdownClean); err != nil {
		f.Close()
		return nil, err
	}
	if err := p.sheaf.fsync(); err != nil {
		f.Close()
		return nil, err
	}

	p.log.WithField("path", path).Info("created store")
	return p, nil
}

// ───────────────────────────────────────────────────────────────────────────
// Opener
// ───────────────────────────────────────────────────────────────────────────

// Opener opens an existing store file, performing crash recovery first
// if the previous session did not shut down cleanly.
type Opener struct {
	logger *logrus.Logger
	opened *Pack
}

// NewOpener returns an Opener using the package default logger.
func NewOpener() *Opener {
	return &Opener{}
}

// SetLogger overrides the logrus.Logger used for diagnostics.
func (o *Opener) SetLogger(l *logrus.Logger) *Opener {
	o.logger = l
	return o
}

// Open opens path, replaying the journal and truncating stale interim
// pages if the store was not shut down cleanly.
func (o *Opener) Open(path string) (*Pack, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, wrapIO("Open", KindIoRead, err)
	}

	// The page size isn't known until the header is read, so sniff the
	// signature and page size from a minimum-size prefix first, then read
	// the full header page (the static directory may extend past the
	// prefix).
	prefix := make([]byte, MinPageSize)
	if _, err := f.ReadAt(prefix, 0); err != nil {
		f.Close()
		return nil, wrapIO("Open", KindIoRead, err)
	}
	if int64(byteOrder.Uint64(prefix[0:8])) != storeSignature {
		f.Close()
		return nil, ErrBadSignature
	}
	ps := int64(int32(byteOrder.Uint32(prefix[8:12])))
	if ps < MinPageSize || ps&(ps-1) != 0 {
		f.Close()
		return nil, newErr("Open", KindHeaderCorrupt)
	}
	headerBuf := make([]byte, ps)
	if _, err := f.ReadAt(headerBuf, 0); err != nil {
		f.Close()
		return nil, wrapIO("Open", KindIoRead, err)
	}
	h, err := unmarshalHeader(headerBuf)
	if err != nil {
		f.Close()
		return nil, err
	}

	p := &Pack{
		sheaf:       openSheaf(f, ps, 1024),
		catalog:     newCatalog(ps),
		region:      newBlockPageRegion(),
		byRemaining: newByRemainingIndex(ps),
		moves:       newMoveTable(),
		temp:        newTempList(),
		path:        path,
		pageSize:    ps,
		checksums:   h.Flags&headerFlagChecksums != 0,
		static:      h.Static,
		staticAddr:  make(map[string]Address),
		staticAddrs: make(map[Address]struct{}),
		log:         newLog(o.logger),
	}
	for _, s := range h.Static {
		p.staticAddr[s.URI] = s.Address
		p.staticAddrs[s.Address] = struct{}{}
	}

	fileSize, err := p.sheaf.fileSize()
	if err != nil {
		f.Close()
		return nil, err
	}

	if err := p.rebuild(h, fileSize); err != nil {
		f.Close()
		return nil, err
	}
	if err := p.loadTempList(h.TempListHead); err != nil {
		f.Close()
		return nil, err
	}

	dirty := h.ShutdownFlag != shutdownClean
	if dirty || h.JournalHeader != NullPosition {
		if err := p.recover(h); err != nil {
			f.Close()
			return nil, err
		}
	}

	if err := p.writeHeader(shutdownDirty); err != nil {
		f.Close()
		return nil, err
	}
	if err := p.sheaf.fsync(); err != nil {
		f.Close()
		return nil, err
	}

	p.log.WithField("path", path).WithField("recovered", dirty).Info("opened store")
	o.opened = p
	return p, nil
}

// GetTemporaryBlocks returns the surviving temporary-block addresses of
// the store this Opener most recently opened. This is the crash-recovery
// discovery path: any Temporary address committed before a crash and not
// freed since shows up here on the next open.
func (o *Opener) GetTemporaryBlocks() []Address {
	if o.opened == nil {
		return nil
	}
	return o.opened.GetTemporaryBlocks()
}
