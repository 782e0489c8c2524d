package pagestore

import "errors"

// ───────────────────────────────────────────────────────────────────────────
// Commit Engine (C8)
// ───────────────────────────────────────────────────────────────────────────
//
// commit runs a Mutator's staged changes through five stages, in order:
//
//   1. plan placement — decide which Address Pages need to grow to cover
//      any brand-new addresses, and for each interim page still carrying
//      live blocks, whether it merges into an existing User Block Page
//      with enough room (one Move op, via the By-Remaining Index's
//      bestFit) or gets promoted into the User region in place (one
//      Allocate/Write op per address, same as a fresh page with nowhere
//      to merge). Pages carrying a Write (copy-on-write over an address
//      with a prior committed position) are always promoted in place
//      rather than offered to bestFit — see planPlacement's doc comment
//      for why.
//   2. reserve address pages — allocate and format any new Address Pages
//      the plan calls for.
//   3. emit journal — serialize every op (CreateAddressPage / Allocate /
//      Write / Free / Move) into journal pages and write the interim
//      data pages and journal pages to the file.
//   4. durability — fsync the data+journal writes, then record the
//      checkpoint by writing the journal's first page Position into the
//      header and fsyncing the header page. This is the single point
//      after which the transaction survives a crash.
//   5. apply — replay the ops against the in-memory catalog and Address
//      Pages (which for a fresh commit is exactly what recovery would
//      also do from the journal), then retire: reclaim the journal pages
//      and clear the header's checkpoint pointer.
//
// All five stages run under commitMutex, including their I/O: this store
// trades commit concurrency for a commit path simple enough to reason
// about crash safety in.

func (p *Pack) commit(m *Mutator) error {
	p.commitMutex.Lock()
	defer p.commitMutex.Unlock()

	log := p.log.WithField("mutator", m.id.String())

	// Stage 1+2: plan and reserve any new Address Pages.
	var ops []journalOp
	slotsPerPage := slotsPerAddressPage(p.pageSize)
	highWater := p.catalog.addressHighWater()
	pagesNeeded := pagesFor(int64(highWater), slotsPerPage)
	for n := p.catalog.addressPageCountLoaded(); n < pagesNeeded; n++ {
		pos := p.catalog.allocatePosition()
		ops = append(ops, journalOp{Type: opCreateAddressPage, Position: pos})
	}

	ops = append(ops, p.planPlacement(m)...)

	for _, addr := range m.temporaries {
		ops = append(ops, journalOp{Type: opTemporary, Address: addr})
	}
	for addr := range m.frees {
		ops = append(ops, journalOp{Type: opFree, Address: addr})
	}

	if len(ops) == 0 {
		return nil // nothing staged
	}

	if err := p.runJournal(ops, m.flushInterim()); err != nil {
		log.WithError(err).Error("commit failed")
		return err
	}

	log.WithField("ops", len(ops)).Debug("commit applied")
	return nil
}

// planPlacement is Stage 1's per-interim-page placement decision. Every
// address this mutator touched is grouped by the interim page its
// record physically landed on; each such page is then either merged
// into an existing, sufficiently roomy User Block Page (emitting a
// single Move that repoints every address on the page at once, per
// applyMove's generic by-record repoint) or promoted into the User
// region in place (emitting one Allocate/Write per address, exactly as
// a page with no merge candidate always has been).
//
// A page is only offered to bestFit when every address on it is a
// brand-new Allocate: a Write's apply step retires the address's prior
// committed position (elsewhere in the file) as well as placing the
// new one, and that retirement is keyed off the interim op itself, not
// anything recorded in the interim page's bytes — a Move's generic
// per-record repoint has no way to carry it.
//
// Each chosen destination's by-remaining entry is decremented as soon
// as the plan claims it, so a later page in the same plan (or a
// concurrent planner) can't oversubscribe the destination and blow
// past its capacity during apply, when it is too late to fail cleanly.
func (p *Pack) planPlacement(m *Mutator) []journalOp {
	hasWrite := make(map[Position]bool, len(m.writes))
	for _, w := range m.writes {
		hasWrite[pageOf(w.interim, p.pageSize)] = true
	}

	type pending struct {
		op   journalOpType
		addr Address
		pos  Position
		size int32
	}
	byPage := make(map[Position][]pending)
	for addr, a := range m.allocations {
		pp := pageOf(a.interim, p.pageSize)
		byPage[pp] = append(byPage[pp], pending{op: opAllocate, addr: addr, pos: a.interim, size: a.size})
	}
	for addr, w := range m.writes {
		pp := pageOf(w.interim, p.pageSize)
		byPage[pp] = append(byPage[pp], pending{op: opWrite, addr: addr, pos: w.interim})
	}

	var moves, placements []journalOp
	for _, ref := range m.flushInterim() {
		entries, ok := byPage[ref.pos]
		if !ok {
			continue
		}
		if !hasWrite[ref.pos] {
			need := ref.page.liveBytes()
			if dest := p.byRemaining.bestFit(need); dest != NullPosition {
				p.byRemaining.reserve(dest, need)
				moves = append(moves, journalOp{Type: opMove, Position: ref.pos, Dest: dest})
				continue
			}
		}
		for _, e := range entries {
			switch e.op {
			case opAllocate:
				placements = append(placements, journalOp{Type: opAllocate, Address: e.addr, Position: e.pos, BlockSize: e.size})
			case opWrite:
				placements = append(placements, journalOp{Type: opWrite, Address: e.addr, Position: e.pos})
			}
		}
	}
	return append(moves, placements...)
}

// runJournal performs stages 3-5 of the commit protocol for an arbitrary
// op list: write any new data pages, emit and checkpoint the journal,
// apply the ops, then retire the journal. Used by both a Mutator's
// commit and the Vacuum Planner's page-merge commits, which have no new
// data pages of their own — only Move ops over pages that already exist.
func (p *Pack) runJournal(ops []journalOp, dataPages []interimPageRef) error {
	for _, ref := range dataPages {
		if err := p.sheaf.writePage(ref.pos, ref.page.buf); err != nil {
			return err
		}
	}

	journalPages := buildJournalPages(ops, p.pageSize)
	journalPositions := make([]Position, len(journalPages))
	for i := range journalPages {
		journalPositions[i] = p.catalog.allocatePosition()
	}
	for i, pos := range journalPositions {
		var next Position
		if i+1 < len(journalPositions) {
			next = journalPositions[i+1]
		}
		setJournalPageNext(journalPages[i], p.pageSize, next)
		if err := p.sheaf.writePage(pos, journalPages[i]); err != nil {
			return err
		}
	}

	// Stage 4: durability.
	if err := p.sheaf.fsync(); err != nil {
		return err
	}
	journalHead := NullPosition
	if len(journalPositions) > 0 {
		journalHead = journalPositions[0]
	}
	if err := p.writeCheckpoint(journalHead); err != nil {
		return err
	}

	// Stage 5: apply + retire.
	if err := p.applyOps(ops); err != nil {
		return err
	}
	for _, pos := range journalPositions {
		p.catalog.releaseInterim(pos)
	}
	return p.writeCheckpoint(NullPosition)
}

func (p *Pack) writeCheckpoint(journalHead Position) error {
	h := &Header{
		PageSize:         int32(p.pageSize),
		HeaderSize:       int32(p.pageSize),
		ShutdownFlag:     shutdownDirty,
		JournalHeader:    journalHead,
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
	if err := p.sheaf.writePage(0, buf); err != nil {
		return err
	}
	return p.sheaf.fsync()
}

func pageOf(pos Position, pageSize int64) Position {
	return pos - pos%Position(pageSize)
}

func (p *Pack) setAddressSlot(addr Address, value int64) error {
	slotsPerPage := slotsPerAddressPage(p.pageSize)
	pageIdx, slot := addressSlot(addr, slotsPerPage)
	pagePos, ok := p.catalog.addressPagePosition(pageIdx)
	if !ok {
		return ErrInvalidAddress
	}
	buf, err := p.sheaf.readPage(pagePos)
	if err != nil {
		return err
	}
	ap := newAddressPage(buf)
	ap.set(slot, value)
	return p.sheaf.writePage(pagePos, buf)
}

// tombstoneAt marks the live record at pos dead and refreshes the
// By-Remaining Index bucket for its page.
func (p *Pack) tombstoneAt(pos Position) error {
	pagePos := pageOf(pos, p.pageSize)
	buf, err := p.sheaf.readPage(pagePos)
	if err != nil {
		return err
	}
	bp := newBlockPage(buf)
	off := int64(pos - pagePos)
	for _, r := range bp.scan() {
		if r.offset == off && r.live() {
			bp.tombstone(r)
			if err := p.sheaf.writePage(pagePos, buf); err != nil {
				return err
			}
			p.byRemaining.update(pagePos, bp.bytesRemaining())
			return nil
		}
	}
	return nil
}

func (p *Pack) markPageLive(pos Position) error {
	pagePos := pageOf(pos, p.pageSize)
	if p.catalog.kindOf(pagePos) != KindUserBlock {
		p.catalog.set(pagePos, KindUserBlock)
		p.region.add(pagePos)
	}
	buf, err := p.sheaf.readPage(pagePos)
	if err != nil {
		return err
	}
	p.byRemaining.update(pagePos, newBlockPage(buf).bytesRemaining())
	return nil
}

// applyOps replays a journal against the store. Every case is built to
// be idempotent, since recovery may replay a journal whose apply phase
// had already run partially or completely before a crash: each op tests
// its target's current state and skips work the first application (or
// an earlier replay) already did.
func (p *Pack) applyOps(ops []journalOp) error {
	for _, op := range ops {
		switch op.Type {
		case opCreateAddressPage:
			if p.catalog.kindOf(op.Position) == KindAddress {
				break // already chained by a previous application
			}
			tailBuf, tail := p.addressPageTailBuf()
			buf := make([]byte, p.pageSize)
			newAddressPage(buf).setNext(NullPosition)
			if err := p.sheaf.writePage(op.Position, buf); err != nil {
				return err
			}
			if tail != NullPosition {
				newAddressPage(tailBuf).setNext(op.Position)
				if err := p.sheaf.writePage(tail, tailBuf); err != nil {
					return err
				}
			}
			p.catalog.registerAddressPage(op.Position)

		case opAllocate:
			if err := p.markPageLive(op.Position); err != nil {
				return err
			}
			if err := p.setAddressSlot(op.Address, int64(op.Position)); err != nil {
				return err
			}

		case opWrite:
			if old, err := p.resolveAddress(op.Address); err == nil && old != op.Position {
				if err := p.tombstoneAt(old); err != nil {
					return err
				}
			}
			if err := p.markPageLive(op.Position); err != nil {
				return err
			}
			if err := p.setAddressSlot(op.Address, int64(op.Position)); err != nil {
				return err
			}

		case opFree:
			if old, err := p.resolveAddress(op.Address); err == nil {
				if err := p.tombstoneAt(old); err != nil {
					return err
				}
			} else if errors.Is(err, ErrFreedAddress) {
				break // already freed by a previous application
			}
			if err := p.setAddressSlot(op.Address, freedSlot); err != nil {
				return err
			}
			p.catalog.releaseAddress(op.Address)
			if err := p.dropTemporary(op.Address); err != nil {
				return err
			}

		case opTemporary:
			if err := p.registerTemporary(op.Address); err != nil {
				return err
			}

		case opMove:
			if err := p.applyMove(op.Position, op.Dest); err != nil {
				return err
			}
		}
	}
	return nil
}

// addressPageTailBuf reads the current tail Address Page so a new one
// can be chained onto it. Returns NullPosition if there is no tail yet.
func (p *Pack) addressPageTailBuf() ([]byte, Position) {
	idx := p.catalog.addressPageCountLoaded() - 1
	if idx < 0 {
		return nil, NullPosition
	}
	tail, ok := p.catalog.addressPagePosition(idx)
	if !ok {
		return nil, NullPosition
	}
	buf, err := p.sheaf.readPage(tail)
	if err != nil {
		return nil, NullPosition
	}
	return buf, tail
}

// applyMove migrates every live record from source to dest, repointing
// each migrated address's slot at its new home. A record whose address
// already resolves into dest was migrated by a previous application of
// the same op and is skipped, keeping replay after a mid-apply crash
// from duplicating records (and potentially overfilling dest).
func (p *Pack) applyMove(source, dest Position) error {
	srcBuf, err := p.sheaf.readPage(source)
	if err != nil {
		return err
	}
	destBuf, err := p.sheaf.readPage(dest)
	if err != nil {
		return err
	}
	srcPage := newBlockPage(srcBuf)
	destPage := newBlockPage(destBuf)
	for _, r := range srcPage.scan() {
		if !r.live() {
			continue
		}
		if cur, err := p.resolveAddress(r.address); err == nil && pageOf(cur, p.pageSize) == dest {
			continue
		}
		newOff, err := destPage.append(r.address, srcPage.payload(r))
		if err != nil {
			return err
		}
		if err := p.sheaf.writePage(dest, destBuf); err != nil {
			return err
		}
		if err := p.setAddressSlot(r.address, int64(dest)+newOff); err != nil {
			return err
		}
	}
	if err := p.markPageLive(dest); err != nil {
		return err
	}
	p.region.remove(source)
	p.byRemaining.remove(source)
	p.catalog.releaseInterim(source)
	return nil
}
