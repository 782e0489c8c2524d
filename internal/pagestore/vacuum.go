package pagestore

import "sort"

// ───────────────────────────────────────────────────────────────────────────
// Vacuum Planner (C10)
// ───────────────────────────────────────────────────────────────────────────
//
// Vacuum reclaims space fragmented across partially-empty User Block
// Pages. It picks pages whose live-byte ratio falls under a threshold,
// plans a best-fit merge of their surviving records onto other pages via
// the Move Protocol, and commits that plan through the same journal/
// apply/retire pipeline an ordinary transaction uses — a vacuum pass is
// just a system-generated commit whose only ops are Move.

const vacuumLiveRatioThreshold = 0.5 // a page below this ratio is a merge candidate

// VacuumResult reports what one Vacuum pass did.
type VacuumResult struct {
	PagesConsidered int
	PagesMerged     int
	PagesReclaimed  int
}

// Vacuum runs one best-fit merge pass. It is safe to call concurrently
// with Mutator.Commit — both go through commitMutex — and safe to call
// on a schedule, e.g. from a background daemon.
func (p *Pack) Vacuum() (*VacuumResult, error) {
	p.commitMutex.Lock()
	defer p.commitMutex.Unlock()

	candidates, err := p.vacuumCandidates()
	if err != nil {
		return nil, err
	}
	result := &VacuumResult{PagesConsidered: len(candidates)}
	if len(candidates) == 0 {
		return result, nil
	}

	liveBytes := make(map[Position]int64, len(candidates))
	positions := make([]Position, 0, len(candidates))
	for pos, lb := range candidates {
		liveBytes[pos] = lb
		positions = append(positions, pos)
	}
	// Deterministic order: merge the emptiest pages first so their
	// survivors land on the best-filled destination available; equal
	// live byte counts fall back to lowest Position.
	sort.Slice(positions, func(i, j int) bool {
		a, b := positions[i], positions[j]
		if liveBytes[a] != liveBytes[b] {
			return liveBytes[a] < liveBytes[b]
		}
		return a < b
	})

	// bestFit reserves each chosen destination's room up front so two
	// sources in the same pass can't both be planned onto space only one
	// of them fits in. Apply refreshes a used destination's entry with
	// its real remaining bytes; a reservation against a vacated page
	// (planMoves reroutes those to a fresh page) is dropped with the
	// page's whole entry when its own move applies.
	bestFit := func(need int64) Position {
		dest := p.byRemaining.bestFit(need)
		if dest != NullPosition {
			p.byRemaining.reserve(dest, need)
		}
		return dest
	}
	var fresh []Position
	allocateTemp := func() Position {
		pos := p.catalog.allocatePosition()
		fresh = append(fresh, pos)
		return pos
	}
	moves := planMoves(positions, liveBytes, bestFit, allocateTemp)
	if len(moves) == 0 {
		return result, nil
	}

	// A fresh destination is a cold page: never written, or a recycled
	// interim page still holding stale journal bytes. Write each one out
	// as an empty block page before the journal references it — applyMove
	// reads its destination before appending, and the zeroed image must
	// be durable by checkpoint time so a crash-replay reads it too.
	for _, pos := range fresh {
		if err := p.sheaf.writePage(pos, make([]byte, p.pageSize)); err != nil {
			return nil, err
		}
	}

	ops := make([]journalOp, len(moves))
	for i, mv := range moves {
		ops[i] = journalOp{Type: opMove, Position: mv.Source, Dest: mv.Dest}
	}
	if err := p.runJournal(ops, nil); err != nil {
		return nil, err
	}

	result.PagesMerged = len(moves)
	result.PagesReclaimed = len(moves)
	p.log.WithField("merged", result.PagesMerged).Info("vacuum pass complete")
	return result, nil
}

// vacuumCandidates returns every live User Block Page whose live-byte
// ratio is below vacuumLiveRatioThreshold, along with its live byte
// count.
func (p *Pack) vacuumCandidates() (map[Position]int64, error) {
	out := make(map[Position]int64)
	for _, pos := range p.region.all() {
		buf, err := p.sheaf.readPage(pos)
		if err != nil {
			return nil, err
		}
		bp := newBlockPage(buf)
		live := bp.liveBytes()
		if float64(live) < float64(p.pageSize)*vacuumLiveRatioThreshold {
			out[pos] = live
		}
	}
	return out, nil
}
