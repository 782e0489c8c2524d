package pagestore

// ───────────────────────────────────────────────────────────────────────────
// Address Page (C3)
// ───────────────────────────────────────────────────────────────────────────
//
// An Address Page is an array of int64 slots, one per address, holding
// either the Position of the block that address currently resolves to,
// 0 (allocated, never written), or -1 (freed). The last 8 bytes of every
// Address Page are reserved for a forward pointer to the next Address
// Page in the chain, so the chain can be walked without consulting the
// header's AddressPageCount once more pages are appended than the
// initial contiguous run.
//
// slotsPerAddressPage = pageSize/8 - 1, since one slot's worth of space
// is spent on the chain pointer.

func slotsPerAddressPage(pageSize int64) int64 {
	return pageSize/8 - 1
}

// addressPage is an in-memory view over one Address Page's raw bytes.
type addressPage struct {
	buf  []byte
	size int64 // usable slot count, excludes the chain pointer slot
}

func newAddressPage(raw []byte) *addressPage {
	n := int64(len(raw))/8 - 1
	return &addressPage{buf: raw, size: n}
}

func (p *addressPage) get(slot int64) int64 {
	off := slot * 8
	return int64(byteOrder.Uint64(p.buf[off : off+8]))
}

func (p *addressPage) set(slot int64, value int64) {
	off := slot * 8
	byteOrder.PutUint64(p.buf[off:off+8], uint64(value))
}

func (p *addressPage) next() Position {
	off := p.size * 8
	return Position(byteOrder.Uint64(p.buf[off : off+8]))
}

func (p *addressPage) setNext(pos Position) {
	off := p.size * 8
	byteOrder.PutUint64(p.buf[off:off+8], uint64(pos))
}

// isAllocated reports whether a raw slot value names a live block
// position rather than the freed or never-written sentinels.
func isAllocated(slotValue int64) bool {
	return slotValue > 0
}

// addressSlot locates which address page and slot index an Address
// falls in, given the fixed usable-slot count per page.
func addressSlot(addr Address, slotsPerPage int64) (pageIndex, slot int64) {
	idx := int64(addr)
	return idx / slotsPerPage, idx % slotsPerPage
}
