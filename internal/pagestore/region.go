package pagestore

import "sync"

// ───────────────────────────────────────────────────────────────────────────
// Block page region directory
// ───────────────────────────────────────────────────────────────────────────
//
// The Vacuum Planner needs to enumerate every live User Block Page to find
// merge candidates, and the commit engine needs to add/remove pages from
// that set as pages are created, promoted from interim, or retired. This
// is the same in-memory registry shape the teacher package uses for its
// free-page set, generalized from "free PageIDs" to "live Positions of a
// given kind" since this store has no persisted free-list chain: interim
// and journal pages are always reclaimed within the same process lifetime
// the catalog tracks them in, per the interimBoundary truncation rule
// applied on reopen after a dirty shutdown.
type blockPageRegion struct {
	mu    sync.Mutex
	pages map[Position]struct{}
}

func newBlockPageRegion() *blockPageRegion {
	return &blockPageRegion{pages: make(map[Position]struct{})}
}

func (r *blockPageRegion) add(pos Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages[pos] = struct{}{}
}

func (r *blockPageRegion) remove(pos Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pages, pos)
}

func (r *blockPageRegion) contains(pos Position) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pages[pos]
	return ok
}

func (r *blockPageRegion) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pages)
}

// all returns a snapshot of tracked positions. Order is unspecified; the
// Vacuum Planner sorts or filters as it needs.
func (r *blockPageRegion) all() []Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Position, 0, len(r.pages))
	for pos := range r.pages {
		out = append(out, pos)
	}
	return out
}
