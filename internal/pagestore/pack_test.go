package pagestore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func tempStorePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "store.pack")
}

// Scenario 1: create/reopen empty.
func TestScenario_CreateReopenEmpty(t *testing.T) {
	path := tempStorePath(t)

	p, err := NewCreator().Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for i := 0; i < 2; i++ {
		p, err = NewOpener().Open(path)
		if err != nil {
			t.Fatalf("Open #%d: %v", i, err)
		}
		if err := p.Close(); err != nil {
			t.Fatalf("Close #%d: %v", i, err)
		}
	}
}

// Scenario 2: corrupt signature.
func TestScenario_CorruptSignature(t *testing.T) {
	path := tempStorePath(t)
	p, err := NewCreator().Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteAt([]byte{0x00}, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	f.Close()

	_, err = NewOpener().Open(path)
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("Open after corrupting byte 0 = %v, want ErrBadSignature", err)
	}
}

// Scenario 3: write-after-commit survives reopen.
func TestScenario_WriteAfterCommitSurvivesReopen(t *testing.T) {
	path := tempStorePath(t)
	p, err := NewCreator().Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i)
	}

	m := p.Mutate()
	addr, err := m.Allocate(payload)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p, err = NewOpener().Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	m2 := p.Mutate()
	got, err := m2.Read(addr)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Read after reopen = %x, want %x", got, payload)
	}
}

// Scenario 4: free-then-read fails with FreedAddress.
func TestScenario_FreeThenRead(t *testing.T) {
	path := tempStorePath(t)
	p, err := NewCreator().Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer p.Close()

	m := p.Mutate()
	addr, err := m.Allocate(bytes.Repeat([]byte{0x7}, 64))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	m2 := p.Mutate()
	if err := m2.Free(addr); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if err := m2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	m3 := p.Mutate()
	_, err = m3.Read(addr)
	if !errors.Is(err, ErrFreedAddress) {
		t.Fatalf("Read(freed) = %v, want ErrFreedAddress", err)
	}
}

// Scenario 5: rollback keeps addresses free for reuse after reopen.
func TestScenario_RollbackKeepsAddressFree(t *testing.T) {
	path := tempStorePath(t)
	p, err := NewCreator().Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	m := p.Mutate()
	addr, err := m.Allocate(bytes.Repeat([]byte{0x1}, 64))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := m.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p, err = NewOpener().Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	m2 := p.Mutate()
	addr2, err := m2.Allocate(bytes.Repeat([]byte{0x1}, 64))
	if err != nil {
		t.Fatalf("Allocate after reopen: %v", err)
	}
	if addr2 != addr {
		t.Fatalf("address reuse after rollback+reopen: got %d, want %d", addr2, addr)
	}
	_ = m2.Rollback()
}

// Scenario 6: vacuum consolidates pages with holes without losing data.
// 12 same-size blocks are allocated in one commit, enough to spill across
// two User Block Pages at MinPageSize; freeing half of each page's
// records drops both under the live-ratio threshold so vacuum has two
// genuine merge candidates instead of one degenerate page.
func TestScenario_VacuumWithHoles(t *testing.T) {
	path := tempStorePath(t)
	p, err := NewCreator().SetPageSize(MinPageSize).Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer p.Close()

	payload := func(b byte) []byte { return bytes.Repeat([]byte{b}, 64) }

	m := p.Mutate()
	var addrs []Address
	for i := 0; i < 12; i++ {
		a, err := m.Allocate(payload(byte(i)))
		if err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
		addrs = append(addrs, a)
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	pagesBefore := p.region.count()
	if pagesBefore < 2 {
		t.Fatalf("setup expected the 12 allocations to span >= 2 pages, got %d", pagesBefore)
	}

	freed := []int{1, 2, 3, 7, 8, 9}
	kept := []int{0, 4, 5, 6, 10, 11}

	m2 := p.Mutate()
	for _, i := range freed {
		if err := m2.Free(addrs[i]); err != nil {
			t.Fatalf("Free(%d): %v", i, err)
		}
	}
	if err := m2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	result, err := p.Vacuum()
	if err != nil {
		t.Fatalf("Vacuum: %v", err)
	}
	if result.PagesMerged == 0 {
		t.Fatal("expected vacuum to merge at least one page given two under-threshold candidates")
	}

	pagesAfter := p.region.count()
	if pagesAfter > pagesBefore {
		t.Fatalf("vacuum increased page count: before=%d after=%d", pagesBefore, pagesAfter)
	}

	m3 := p.Mutate()
	for _, i := range kept {
		got, err := m3.Read(addrs[i])
		if err != nil {
			t.Fatalf("Read(%d) after vacuum: %v", i, err)
		}
		if !bytes.Equal(got, payload(byte(i))) {
			t.Fatalf("Read(%d) after vacuum = %x, want %x", i, got, payload(byte(i)))
		}
	}
	for _, i := range freed {
		if _, err := m3.Read(addrs[i]); !errors.Is(err, ErrFreedAddress) {
			t.Fatalf("Read(%d) (freed) after vacuum = %v, want ErrFreedAddress", i, err)
		}
	}
}

// Scenario 6b: a single under-threshold page with no merge partner still
// gets vacuumed, into a fresh page, rather than being left behind. The
// page is packed close to full (small bytesRemaining of its own) so it
// can never be its own best-fit destination, and it is the only User
// Block Page in the store, so bestFit has nowhere else to look either.
func TestScenario_VacuumSinglePageSelfCompacts(t *testing.T) {
	path := tempStorePath(t)
	p, err := NewCreator().SetPageSize(MinPageSize).Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer p.Close()

	payload := func(b byte) []byte { return bytes.Repeat([]byte{b}, 20) } // 32-byte records

	m := p.Mutate()
	var addrs []Address
	for i := 0; i < 15; i++ {
		a, err := m.Allocate(payload(byte(i)))
		if err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
		addrs = append(addrs, a)
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	pagesBefore := p.region.count()
	if pagesBefore != 1 {
		t.Fatalf("setup expected all 15 allocations to land on a single page, got %d", pagesBefore)
	}

	freed := []int{0, 1, 2, 3, 4, 5, 6, 7}
	kept := []int{8, 9, 10, 11, 12, 13, 14}

	m2 := p.Mutate()
	for _, i := range freed {
		if err := m2.Free(addrs[i]); err != nil {
			t.Fatalf("Free(%d): %v", i, err)
		}
	}
	if err := m2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	result, err := p.Vacuum()
	if err != nil {
		t.Fatalf("Vacuum: %v", err)
	}
	if result.PagesConsidered != 1 {
		t.Fatalf("expected exactly one vacuum candidate, got %d", result.PagesConsidered)
	}
	if result.PagesMerged != 1 {
		t.Fatalf("expected the lone candidate to still be moved into a fresh page, got %+v", result)
	}

	pagesAfter := p.region.count()
	if pagesAfter != 1 {
		t.Fatalf("page count changed unexpectedly: before=%d after=%d", pagesBefore, pagesAfter)
	}

	m3 := p.Mutate()
	for _, i := range kept {
		got, err := m3.Read(addrs[i])
		if err != nil {
			t.Fatalf("Read(%d) after vacuum: %v", i, err)
		}
		if !bytes.Equal(got, payload(byte(i))) {
			t.Fatalf("Read(%d) after vacuum = %x, want %x", i, got, payload(byte(i)))
		}
	}
	for _, i := range freed {
		if _, err := m3.Read(addrs[i]); !errors.Is(err, ErrFreedAddress) {
			t.Fatalf("Read(%d) (freed) after vacuum = %v, want ErrFreedAddress", i, err)
		}
	}
}

// Scenario 7: many blocks in one commit span multiple journal pages and
// all read back correctly after reopen.
func TestScenario_ManyBlocksJournalSpansPages(t *testing.T) {
	path := tempStorePath(t)
	p, err := NewCreator().Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 800
	m := p.Mutate()
	addrs := make([]Address, n)
	for i := 0; i < n; i++ {
		a, err := m.Allocate(bytes.Repeat([]byte{byte(i)}, 64))
		if err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
		addrs[i] = a
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p, err = NewOpener().Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	m2 := p.Mutate()
	for i := 0; i < n; i++ {
		got, err := m2.Read(addrs[i])
		if err != nil {
			t.Fatalf("Read %d: %v", i, err)
		}
		want := bytes.Repeat([]byte{byte(i)}, 64)
		if !bytes.Equal(got, want) {
			t.Fatalf("Read %d = %x, want %x", i, got, want)
		}
	}
}

// Scenario 8: a committed temporary block survives a crash (no Close)
// and is rediscoverable through the Opener on the next open.
func TestScenario_TemporarySurvivesCrash(t *testing.T) {
	path := tempStorePath(t)
	p, err := NewCreator().Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	m := p.Mutate()
	payload := bytes.Repeat([]byte{0x42}, 64)
	taddr, err := m.Temporary(payload)
	if err != nil {
		t.Fatalf("Temporary: %v", err)
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	// Crash: drop the file handle without the clean-shutdown header write.
	if err := p.sheaf.close(); err != nil {
		t.Fatalf("simulated crash close: %v", err)
	}

	o := NewOpener()
	p2, err := o.Open(path)
	if err != nil {
		t.Fatalf("Open after crash: %v", err)
	}
	defer p2.Close()

	temps := o.GetTemporaryBlocks()
	found := false
	for _, a := range temps {
		if a == taddr {
			found = true
		}
	}
	if !found {
		t.Fatalf("temporary address %d not discovered after crash; temps=%v", taddr, temps)
	}

	m2 := p2.Mutate()
	got, err := m2.Read(taddr)
	if err != nil {
		t.Fatalf("Read(temporary) after crash: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("temporary payload = %x, want %x", got, payload)
	}
}

// Freeing a temporary drops it from the discovery list once committed.
func TestTemporary_FreedTemporaryNotDiscoverable(t *testing.T) {
	path := tempStorePath(t)
	p, err := NewCreator().Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	m := p.Mutate()
	taddr, err := m.Temporary(bytes.Repeat([]byte{0x9}, 32))
	if err != nil {
		t.Fatalf("Temporary: %v", err)
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := p.GetTemporaryBlocks(); len(got) != 1 || got[0] != taddr {
		t.Fatalf("GetTemporaryBlocks = %v, want [%d]", got, taddr)
	}

	m2 := p.Mutate()
	if err := m2.Free(taddr); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if err := m2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := p.GetTemporaryBlocks(); len(got) != 0 {
		t.Fatalf("GetTemporaryBlocks after free = %v, want empty", got)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	o := NewOpener()
	p2, err := o.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p2.Close()
	if got := o.GetTemporaryBlocks(); len(got) != 0 {
		t.Fatalf("GetTemporaryBlocks after reopen = %v, want empty", got)
	}
}

// P1: round-trip write/read survives close+open.
func TestProperty_RoundTripSurvivesReopen(t *testing.T) {
	path := tempStorePath(t)
	p, err := NewCreator().Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	payload := []byte("round trip payload")
	m := p.Mutate()
	addr, err := m.Allocate(payload)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p, err = NewOpener().Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	m2 := p.Mutate()
	got, err := m2.Read(addr)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Read = %q, want %q", got, payload)
	}
}

// P2: address stability across a commit that triggers a Write (copy-on-write).
func TestProperty_AddressStableAcrossOverwrite(t *testing.T) {
	path := tempStorePath(t)
	p, err := NewCreator().Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer p.Close()

	m := p.Mutate()
	addr, err := m.Allocate([]byte("v1"))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	m2 := p.Mutate()
	if err := m2.Write(addr, []byte("v2-longer-payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := m2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	m3 := p.Mutate()
	got, err := m3.Read(addr)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, []byte("v2-longer-payload")) {
		t.Fatalf("Read after overwrite = %q, want latest payload", got)
	}
}

// Checksums enabled: a deliberately corrupted block fails with BlockCorrupt.
func TestChecksums_DetectCorruption(t *testing.T) {
	path := tempStorePath(t)
	p, err := NewCreator().EnableChecksums(true).Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer p.Close()

	m := p.Mutate()
	addr, err := m.Allocate([]byte("checksummed payload"))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	pos, err := p.resolveAddress(addr)
	if err != nil {
		t.Fatalf("resolveAddress: %v", err)
	}
	pagePos := pageOf(pos, p.pageSize)
	buf, err := p.sheaf.readPage(pagePos)
	if err != nil {
		t.Fatalf("readPage: %v", err)
	}
	// Flip a payload byte well past the record header so the corruption
	// lands inside the checksummed bytes, not the length/address fields.
	buf[int64(pos-pagePos)+blockRecordHeaderSize+4] ^= 0xFF
	if err := p.sheaf.writePage(pagePos, buf); err != nil {
		t.Fatalf("writePage: %v", err)
	}

	m2 := p.Mutate()
	_, err = m2.Read(addr)
	if !errors.Is(err, ErrBlockCorrupt) {
		t.Fatalf("Read of corrupted block = %v, want ErrBlockCorrupt", err)
	}
}

// Static blocks are reachable by name and survive reopen.
func TestStaticBlocks_ReachableAfterReopen(t *testing.T) {
	path := tempStorePath(t)
	p, err := NewCreator().AddStaticBlock("urn:example:config", 32).Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p, err = NewOpener().Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	got, err := p.GetStaticBlock("urn:example:config")
	if err != nil {
		t.Fatalf("GetStaticBlock: %v", err)
	}
	if len(got) != 32 {
		t.Fatalf("static block length = %d, want 32", len(got))
	}

	if _, err := p.GetStaticBlock("urn:example:missing"); err == nil {
		t.Fatal("GetStaticBlock(missing) should fail")
	}

	addrs := p.GetStaticBlocks()
	if _, ok := addrs["urn:example:config"]; !ok {
		t.Fatalf("GetStaticBlocks missing urn:example:config: %v", addrs)
	}
}

// A static address reads and writes like any other block, but can never
// be freed.
func TestStaticBlocks_WritableNeverFreeable(t *testing.T) {
	path := tempStorePath(t)
	p, err := NewCreator().AddStaticBlock("urn:example:root", 24).Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer p.Close()

	addr := p.GetStaticBlocks()["urn:example:root"]

	m := p.Mutate()
	if got, err := m.Read(addr); err != nil || len(got) != 24 {
		t.Fatalf("Read(static) = %x, %v; want 24 zero bytes", got, err)
	}
	if err := m.Write(addr, []byte("rewritten root payload")); err != nil {
		t.Fatalf("Write(static): %v", err)
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	m2 := p.Mutate()
	if err := m2.Free(addr); !errors.Is(err, ErrFreedStaticAddress) {
		t.Fatalf("Free(static) = %v, want ErrFreedStaticAddress", err)
	}
	got, err := m2.Read(addr)
	if err != nil {
		t.Fatalf("Read(static) after overwrite: %v", err)
	}
	if !bytes.Equal(got, []byte("rewritten root payload")) {
		t.Fatalf("Read(static) = %q, want rewritten payload", got)
	}
	_ = m2.Rollback()

	upd, err := p.GetStaticBlock("urn:example:root")
	if err != nil {
		t.Fatalf("GetStaticBlock after overwrite: %v", err)
	}
	if !bytes.Equal(upd, []byte("rewritten root payload")) {
		t.Fatalf("GetStaticBlock = %q, want rewritten payload", upd)
	}
}

// P3: a journal whose checkpoint was written but whose apply never ran
// (crash between the durability and apply phases) is replayed on open,
// landing the store in the full post-commit state.
func TestRecovery_ReplaysCheckpointedJournal(t *testing.T) {
	path := tempStorePath(t)
	p, err := NewCreator().Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	m := p.Mutate()
	addr, err := m.Allocate(bytes.Repeat([]byte{0x5}, 48))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Hand-stage a Free(addr) commit up to its checkpoint: journal page
	// written and fsynced, header pointing at it — then crash before the
	// apply phase touches the address slot.
	pages := buildJournalPages([]journalOp{{Type: opFree, Address: addr}}, p.pageSize)
	jpos := p.catalog.allocatePosition()
	setJournalPageNext(pages[0], p.pageSize, NullPosition)
	if err := p.sheaf.writePage(jpos, pages[0]); err != nil {
		t.Fatalf("writePage: %v", err)
	}
	if err := p.sheaf.fsync(); err != nil {
		t.Fatalf("fsync: %v", err)
	}
	if err := p.writeCheckpoint(jpos); err != nil {
		t.Fatalf("writeCheckpoint: %v", err)
	}
	if err := p.sheaf.close(); err != nil {
		t.Fatalf("simulated crash close: %v", err)
	}

	p2, err := NewOpener().Open(path)
	if err != nil {
		t.Fatalf("Open after crash: %v", err)
	}
	defer p2.Close()

	m2 := p2.Mutate()
	if _, err := m2.Read(addr); !errors.Is(err, ErrFreedAddress) {
		t.Fatalf("Read after replayed Free = %v, want ErrFreedAddress", err)
	}
}

// P6: applying the same journal twice leaves the store in the state one
// application produces.
func TestJournal_ReplayIsIdempotent(t *testing.T) {
	path := tempStorePath(t)
	p, err := NewCreator().Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer p.Close()

	m := p.Mutate()
	keep, err := m.Allocate([]byte("survivor"))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	doomed, err := m.Allocate([]byte("doomed"))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	ops := []journalOp{{Type: opFree, Address: doomed}}
	for i := 0; i < 2; i++ {
		if err := p.applyOps(ops); err != nil {
			t.Fatalf("applyOps pass %d: %v", i, err)
		}
	}

	m2 := p.Mutate()
	if _, err := m2.Read(doomed); !errors.Is(err, ErrFreedAddress) {
		t.Fatalf("Read(doomed) = %v, want ErrFreedAddress", err)
	}
	got, err := m2.Read(keep)
	if err != nil || !bytes.Equal(got, []byte("survivor")) {
		t.Fatalf("Read(keep) = %q, %v; want survivor intact", got, err)
	}

	// A double free must not hand the address out twice: at most one
	// future allocation may reuse it.
	a1, err := m2.Allocate([]byte("first reuse"))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	a2, err := m2.Allocate([]byte("second reuse"))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if a1 == a2 {
		t.Fatalf("address %d handed out twice after replayed Free", a1)
	}
	_ = m2.Rollback()
}

// A commit whose new allocations overflow the existing Address Pages
// grows the chain, and the grown chain survives reopen.
func TestCommit_AddressPageChainGrowth(t *testing.T) {
	path := tempStorePath(t)
	p, err := NewCreator().SetPageSize(MinPageSize).Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// MinPageSize holds 63 slots per Address Page; 100 allocations force
	// a second page into the chain.
	const n = 100
	m := p.Mutate()
	addrs := make([]Address, n)
	for i := 0; i < n; i++ {
		a, err := m.Allocate([]byte{byte(i), byte(i >> 8)})
		if err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
		addrs[i] = a
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := p.catalog.addressPageCountLoaded(); got < 2 {
		t.Fatalf("address page count = %d, want >= 2 after %d allocations", got, n)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p2, err := NewOpener().Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p2.Close()
	if got := p2.catalog.addressPageCountLoaded(); got < 2 {
		t.Fatalf("address page count after reopen = %d, want >= 2", got)
	}

	m2 := p2.Mutate()
	for i := 0; i < n; i++ {
		got, err := m2.Read(addrs[i])
		if err != nil {
			t.Fatalf("Read %d: %v", i, err)
		}
		if !bytes.Equal(got, []byte{byte(i), byte(i >> 8)}) {
			t.Fatalf("Read %d = %x", i, got)
		}
	}
}

// The checksums setting is recorded in the header and survives reopen;
// without it a reopened store would hand back CRC-prefixed payloads.
func TestChecksums_SurviveReopen(t *testing.T) {
	path := tempStorePath(t)
	p, err := NewCreator().EnableChecksums(true).Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	payload := []byte("verified payload")
	m := p.Mutate()
	addr, err := m.Allocate(payload)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p2, err := NewOpener().Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p2.Close()
	if !p2.checksums {
		t.Fatal("checksums flag lost across reopen")
	}

	m2 := p2.Mutate()
	got, err := m2.Read(addr)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Read = %q, want %q", got, payload)
	}
}

// A vacuum pass whose candidates have no merge partner routes their live
// records into freshly allocated pages — typically recycled interim or
// journal pages still holding stale bytes from earlier commits. The
// merge must go through the real journal/apply pipeline, and the result
// must survive close+reopen.
func TestVacuum_FreshPageMergeSurvivesReopen(t *testing.T) {
	path := tempStorePath(t)
	p, err := NewCreator().SetPageSize(MinPageSize).Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	payload := func(b byte) []byte { return bytes.Repeat([]byte{b}, 52) } // 64-byte records

	m := p.Mutate()
	var addrs []Address
	for i := 0; i < 7; i++ {
		a, err := m.Allocate(payload(byte(i)))
		if err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
		addrs = append(addrs, a)
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Free the first four records: the page drops under the live-ratio
	// threshold but its reclaimable space sits in tombstones, not
	// trailing bytes, so bestFit has nothing to offer and the pass must
	// compact into a fresh page.
	m2 := p.Mutate()
	for i := 0; i < 4; i++ {
		if err := m2.Free(addrs[i]); err != nil {
			t.Fatalf("Free(%d): %v", i, err)
		}
	}
	if err := m2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	// The retired journal pages above seed the free-interim pool, so the
	// vacuum's fresh destination is a recycled page with stale contents.
	result, err := p.Vacuum()
	if err != nil {
		t.Fatalf("Vacuum: %v", err)
	}
	if result.PagesMerged != 1 {
		t.Fatalf("PagesMerged = %d, want 1", result.PagesMerged)
	}

	for i := 4; i < 7; i++ {
		m3 := p.Mutate()
		got, err := m3.Read(addrs[i])
		if err != nil {
			t.Fatalf("Read(%d) after vacuum: %v", i, err)
		}
		if !bytes.Equal(got, payload(byte(i))) {
			t.Fatalf("Read(%d) after vacuum = %x, want %x", i, got, payload(byte(i)))
		}
		_ = m3.Rollback()
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	p2, err := NewOpener().Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p2.Close()

	m4 := p2.Mutate()
	for i := 4; i < 7; i++ {
		got, err := m4.Read(addrs[i])
		if err != nil {
			t.Fatalf("Read(%d) after reopen: %v", i, err)
		}
		if !bytes.Equal(got, payload(byte(i))) {
			t.Fatalf("Read(%d) after reopen = %x, want %x", i, got, payload(byte(i)))
		}
	}
	for i := 0; i < 4; i++ {
		if _, err := m4.Read(addrs[i]); !errors.Is(err, ErrFreedAddress) {
			t.Fatalf("Read(%d) (freed) after reopen = %v, want ErrFreedAddress", i, err)
		}
	}
}
