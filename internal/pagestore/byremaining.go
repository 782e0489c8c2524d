package pagestore

import "sort"

// ───────────────────────────────────────────────────────────────────────────
// By-Remaining Index (C5)
// ───────────────────────────────────────────────────────────────────────────
//
// Placement for a new or relocated block needs a page with at least
// `need` bytes free, preferring the page that wastes the least space.
// The index buckets User Block Pages by their bytesRemaining(), shifted
// down by an alignment shift so near-equal remainders share a bucket,
// and bestFit scans upward from the bucket a request would land in.

const byRemainingAlignShift = 6 // bucket granularity: 64 bytes

type byRemainingIndex struct {
	pageSize    int64
	buckets     []map[Position]struct{}
	posToBucket map[Position]int
	remaining   map[Position]int64
}

func newByRemainingIndex(pageSize int64) *byRemainingIndex {
	n := int(pageSize>>byRemainingAlignShift) + 1
	buckets := make([]map[Position]struct{}, n)
	for i := range buckets {
		buckets[i] = make(map[Position]struct{})
	}
	return &byRemainingIndex{
		pageSize:    pageSize,
		buckets:     buckets,
		posToBucket: make(map[Position]int),
		remaining:   make(map[Position]int64),
	}
}

func (idx *byRemainingIndex) bucketFor(remaining int64) int {
	b := int(remaining >> byRemainingAlignShift)
	if b < 0 {
		b = 0
	}
	if b >= len(idx.buckets) {
		b = len(idx.buckets) - 1
	}
	return b
}

// update repositions pos in the index to reflect its current remaining
// byte count, removing it first if already tracked.
func (idx *byRemainingIndex) update(pos Position, remaining int64) {
	idx.remove(pos)
	b := idx.bucketFor(remaining)
	idx.buckets[b][pos] = struct{}{}
	idx.posToBucket[pos] = b
	idx.remaining[pos] = remaining
}

// reserve speculatively subtracts need from pos's tracked remaining
// byte count, so a placement plan that has claimed part of a page keeps
// later bestFit calls from oversubscribing it before apply refreshes
// the entry with the page's real remaining bytes.
func (idx *byRemainingIndex) reserve(pos Position, need int64) {
	if remaining, ok := idx.remaining[pos]; ok {
		idx.update(pos, remaining-need)
	}
}

func (idx *byRemainingIndex) remove(pos Position) {
	if b, ok := idx.posToBucket[pos]; ok {
		delete(idx.buckets[b], pos)
		delete(idx.posToBucket, pos)
		delete(idx.remaining, pos)
	}
}

// bestFit returns the lowest-bucket page position known to hold at
// least `need` bytes, or NullPosition if none qualifies. Ties within a
// bucket are broken by lowest Position for determinism.
//
// A page landing in the bucket need itself falls into might still be a
// few bytes short of need, since the bucket only pins down a range, not
// an exact value — those candidates are filtered by their tracked
// remaining byte count. Every bucket above that one starts at a byte
// count already >= need, so no such check is needed there.
func (idx *byRemainingIndex) bestFit(need int64) Position {
	start := idx.bucketFor(need)
	for b := start; b < len(idx.buckets); b++ {
		bucket := idx.buckets[b]
		if len(bucket) == 0 {
			continue
		}
		candidates := make([]Position, 0, len(bucket))
		for pos := range bucket {
			if b == start && idx.remaining[pos] < need {
				continue
			}
			candidates = append(candidates, pos)
		}
		if len(candidates) == 0 {
			continue
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
		return candidates[0]
	}
	return NullPosition
}
