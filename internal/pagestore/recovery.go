package pagestore

// ───────────────────────────────────────────────────────────────────────────
// Crash Recovery
// ───────────────────────────────────────────────────────────────────────────
//
// Two things happen on Open, in order:
//
//   1. rebuild walks the on-disk Address Page chain and every slot in it
//      to reconstruct the in-memory catalog, region directory, and
//      By-Remaining Index — the same state a clean session would have
//      built up incrementally.
//   2. recover first — if the previous session did not shut down
//      cleanly — truncates the file back to InterimBoundary, discarding
//      whatever uncommitted interim/journal garbage a crash left past
//      that point, and only then replays any journal left behind by a
//      commit that reached its checkpoint but never finished
//      apply+retire (a crash between stage 4 and stage 5). The journal
//      is not replayed before the truncation.
//
// Replaying a journal twice is harmless: ops that set an absolute value
// (a slot to a Position, a page's record negative) simply set it again,
// and the ops that would otherwise apply a delta (a Move appending
// records, a Free releasing its address) first test their target's
// current state and skip work an earlier application already did (see
// applyOps).

func (p *Pack) rebuild(h *Header, fileSize int64) error {
	p.catalog.setFileEnd(Position(fileSize))

	staticPages := make(map[Position]struct{}, len(h.Static))
	for _, s := range h.Static {
		pos := pageOf(s.Position, p.pageSize)
		staticPages[pos] = struct{}{}
		p.catalog.set(pos, KindUserBlock)
	}

	slotsPerPage := slotsPerAddressPage(p.pageSize)
	pos := Position(p.pageSize) // the first Address Page always sits right after the header
	var freed []Address
	var maxIndex int64 = -1
	for idx := int64(0); pos != NullPosition; idx++ {
		buf, err := p.sheaf.readPage(pos)
		if err != nil {
			return err
		}
		p.catalog.registerAddressPage(pos)
		ap := newAddressPage(buf)
		for slot := int64(0); slot < slotsPerPage; slot++ {
			addrIdx := idx*slotsPerPage + slot
			v := ap.get(slot)
			switch {
			case v == freedSlot:
				freed = append(freed, Address(addrIdx))
				if addrIdx > maxIndex {
					maxIndex = addrIdx
				}
			case v > 0:
				if addrIdx > maxIndex {
					maxIndex = addrIdx
				}
				blockPos := Position(v)
				pagePos := pageOf(blockPos, p.pageSize)
				if _, static := staticPages[pagePos]; static {
					continue
				}
				if err := p.markPageLive(blockPos); err != nil {
					return err
				}
			}
		}
		pos = ap.next()
	}

	p.catalog.setAddressHighWater(Address(maxIndex + 1))
	for _, a := range freed {
		p.catalog.releaseAddress(a)
	}
	return nil
}

func (p *Pack) recover(h *Header) error {
	// Truncation comes first: InterimBoundary was recorded at the last
	// checkpoint and covers every page the journal references, so the
	// stale tail can be dropped safely — and replay may then allocate
	// fresh pages (temp-list growth) without them landing past the cut.
	if h.ShutdownFlag != shutdownClean {
		if err := p.sheaf.truncate(int64(h.InterimBoundary)); err != nil {
			return err
		}
		p.catalog.setFileEnd(h.InterimBoundary)
		p.log.Warn("truncated trailing uncommitted pages after unclean shutdown")
	}

	if h.JournalHeader != NullPosition {
		ops, err := readJournal(h.JournalHeader, p.pageSize, p.sheaf.readPage)
		if err != nil {
			return err
		}
		if err := p.applyOps(ops); err != nil {
			return err
		}
		// Addresses in the journal may have been reserved past the high
		// water rebuild derived from the slots alone; bump it so future
		// reservations can't collide with a replayed allocation.
		high := p.catalog.addressHighWater()
		for _, op := range ops {
			switch op.Type {
			case opAllocate, opWrite, opFree, opTemporary:
				if op.Address+1 > high {
					high = op.Address + 1
				}
			}
		}
		p.catalog.setAddressHighWater(high)
		pos := h.JournalHeader
		for pos != NullPosition {
			buf, err := p.sheaf.readPage(pos)
			if err != nil {
				break
			}
			next := journalPageNext(buf, p.pageSize)
			p.catalog.releaseInterim(pos)
			pos = next
		}
		if err := p.writeCheckpoint(NullPosition); err != nil {
			return err
		}
	}
	return nil
}
