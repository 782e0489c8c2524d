package pagestore

// ───────────────────────────────────────────────────────────────────────────
// Move Protocol (C9)
// ───────────────────────────────────────────────────────────────────────────
//
// Relocating a page's live records (to merge free space during a commit's
// placement pass, or during a vacuum pass) must not change the Address
// each record is reachable by. A Move op therefore copies every live
// record from a source page to a destination page and repoints each
// migrated address's slot to its new Position in the same journal entry
// that performs the copy — by the time apply finishes, every reader sees
// the final position directly, with no lazy forwarding required.
//
// The one wrinkle is a move cycle: page A's best-fit destination is page
// B, and B's is A. Applying "Move(A, B)" first would overwrite B's own
// still-live records before they're copied out. planMoves breaks any
// cycle by sending every page whose best-fit destination is itself
// being vacated into a freshly allocated page instead, so no move in the
// resulting plan lands on a page still waiting to be copied out and the
// plan is safe to apply in order. bestFit answering with the source page
// itself is a special case of the same problem (every vacated page is off-limits as a
// destination) and takes the same route: the page's live records are
// compacted into a fresh page, closing its internal tombstone gaps,
// rather than the page being skipped with its gaps intact. A page with
// no merge partner at all (bestFit finds nothing sufficient) likewise
// moves into a freshly allocated page.

type plannedMove struct {
	Source Position
	Dest   Position
}

// moveTable exists so a committed chain of repoints can be resolved
// uniformly by readers; in this design every Move is fully applied
// (every address's slot updated) before a commit returns, so resolve is
// the identity function in steady state. It's kept as a seam: a future
// apply phase that defers slot fixups could populate it instead of
// changing every call site that reads through a Pack.
type moveTable struct {
	forward map[Position]Position
}

func newMoveTable() *moveTable {
	return &moveTable{forward: make(map[Position]Position)}
}

func (t *moveTable) resolve(pos Position) Position {
	seen := make(map[Position]struct{})
	for {
		next, ok := t.forward[pos]
		if !ok {
			return pos
		}
		if _, loop := seen[pos]; loop {
			return pos
		}
		seen[pos] = struct{}{}
		pos = next
	}
}

func (t *moveTable) set(from, to Position) {
	t.forward[from] = to
}

func (t *moveTable) clear(from Position) {
	delete(t.forward, from)
}

// planMoves decides, for each page in toVacate, where its live records
// should land. dest is consulted for a best-fit destination given the
// page's live byte count; destinations that are themselves being vacated
// (the source page included, when its own trailing room makes it the
// best-fit answer) are rerouted through a fresh page via allocateTemp,
// so every page in the pass gets its internal gaps closed and no move
// lands on a page whose records are still waiting to be copied out. A
// page bestFit can't find any sufficient destination for likewise moves
// into a fresh page rather than being left behind. allocateTemp must
// return a fresh, currently-unused Position.
func planMoves(toVacate []Position, liveBytes map[Position]int64, bestFit func(need int64) Position, allocateTemp func() Position) []plannedMove {
	vacating := make(map[Position]struct{}, len(toVacate))
	for _, pos := range toVacate {
		vacating[pos] = struct{}{}
	}

	var moves []plannedMove
	for _, src := range toVacate {
		need := liveBytes[src]
		dest := bestFit(need)
		switch {
		case dest == NullPosition:
			// No page, vacating or not, has enough room — self-compact
			// into a fresh page instead of leaving this page behind.
			dest = allocateTemp()
		default:
			if _, cycles := vacating[dest]; cycles {
				// dest is also being vacated (possibly src itself):
				// routing through it directly would lose its own
				// still-live records. Use a fresh page.
				dest = allocateTemp()
			}
		}
		moves = append(moves, plannedMove{Source: src, Dest: dest})
	}
	return moves
}
