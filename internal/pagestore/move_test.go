package pagestore

import "testing"

func TestPlanMoves_SelfDestinationCompactsIntoFreshPage(t *testing.T) {
	// bestFit answering with the source itself must not skip the page
	// (its gaps would stay open) nor emit Move(100, 100); the records
	// route through a fresh page instead.
	bestFit := func(need int64) Position { return Position(100) }
	moves := planMoves([]Position{100}, map[Position]int64{100: 10}, bestFit, func() Position { return Position(999) })
	if len(moves) != 1 {
		t.Fatalf("expected the self-destination page to be compacted, got %+v", moves)
	}
	if moves[0].Source != Position(100) || moves[0].Dest != Position(999) {
		t.Fatalf("expected Move(100, 999), got %+v", moves[0])
	}
}

func TestPlanMoves_NoDestinationSelfCompacts(t *testing.T) {
	bestFit := func(need int64) Position { return NullPosition }
	moves := planMoves([]Position{100}, map[Position]int64{100: 10}, bestFit, func() Position { return Position(999) })
	if len(moves) != 1 {
		t.Fatalf("expected a self-compacting move into a fresh page when bestFit has no candidate, got %+v", moves)
	}
	if moves[0].Source != Position(100) || moves[0].Dest != Position(999) {
		t.Fatalf("expected Move(100, 999), got %+v", moves[0])
	}
}

func TestPlanMoves_CycleBrokenWithTemporaryPage(t *testing.T) {
	// A's best fit is B, B's best fit is A. Both candidates fall inside
	// the set of pages being vacated, so neither move may land directly
	// on the other — each is rerouted through a fresh temp page instead
	// of risking an apply order that overwrites still-live records.
	bestFit := func(need int64) Position {
		switch need {
		case 10:
			return Position(200)
		case 20:
			return Position(100)
		default:
			return NullPosition
		}
	}
	tempCalls := 0
	allocateTemp := func() Position {
		tempCalls++
		return Position(900 + tempCalls)
	}
	moves := planMoves([]Position{100, 200}, map[Position]int64{100: 10, 200: 20}, bestFit, allocateTemp)
	if len(moves) != 2 {
		t.Fatalf("expected 2 moves, got %+v", moves)
	}
	for _, mv := range moves {
		if mv.Dest == Position(100) || mv.Dest == Position(200) {
			t.Fatalf("move %+v landed on a page also being vacated instead of a temp page", mv)
		}
	}
	if tempCalls != 2 {
		t.Fatalf("expected both moves to be rerouted through temp pages, got %d calls", tempCalls)
	}
}

func TestMoveTable_Resolve(t *testing.T) {
	mt := newMoveTable()
	if got := mt.resolve(Position(5)); got != Position(5) {
		t.Fatalf("resolve with no entries should be identity, got %d", got)
	}
	mt.set(Position(5), Position(10))
	mt.set(Position(10), Position(15))
	if got := mt.resolve(Position(5)); got != Position(15) {
		t.Fatalf("resolve chain = %d, want 15", got)
	}
	mt.clear(Position(5))
	if got := mt.resolve(Position(5)); got != Position(5) {
		t.Fatalf("resolve after clear = %d, want identity", got)
	}
}

func TestMoveTable_ResolveBreaksCycles(t *testing.T) {
	mt := newMoveTable()
	mt.set(Position(1), Position(2))
	mt.set(Position(2), Position(1))
	// resolve must terminate rather than loop forever on a cyclic chain.
	_ = mt.resolve(Position(1))
}
