package pagestore

// ───────────────────────────────────────────────────────────────────────────
// Block Page (C4)
// ───────────────────────────────────────────────────────────────────────────
//
// User Block Pages and Interim Block Pages share the same append-only
// record layout:
//
//   [4]  recordCount  — number of records ever appended, live or dead
//   record*
//
// record: { int32 size, int64 address, payload[...] }
//   size > 0   : live record, |size| bytes total including the 12-byte
//                header; payload is size-12 bytes, optionally prefixed
//                with a 4-byte CRC32 when checksums are enabled.
//   size < 0   : tombstoned record, same total length as when it was
//                written; the slot's bytes remain but are no longer
//                live and the space is reclaimed only by a move/merge.
//
// Records are variable length and appended sequentially; bytesRemaining
// is simply pageSize minus the high-water mark of appended bytes, since
// nothing is ever compacted in place — the Vacuum Planner and the Move
// Protocol relocate live records to a fresh page instead.

type blockRecord struct {
	offset  int64 // offset of this record's header within the page
	size    int32 // signed: negative means tombstoned
	address Address
}

func (r blockRecord) live() bool { return r.size > 0 }

func (r blockRecord) length() int64 {
	if r.size < 0 {
		return int64(-r.size)
	}
	return int64(r.size)
}

func (r blockRecord) payloadOffset() int64 { return r.offset + blockRecordHeaderSize }

func (r blockRecord) payloadLength() int64 { return r.length() - blockRecordHeaderSize }

// blockPage is an in-memory view over one Block Page's raw bytes.
type blockPage struct {
	buf      []byte
	pageSize int64
}

func newBlockPage(raw []byte) *blockPage {
	return &blockPage{buf: raw, pageSize: int64(len(raw))}
}

func (p *blockPage) recordCount() int32 {
	return int32(byteOrder.Uint32(p.buf[0:4]))
}

func (p *blockPage) setRecordCount(n int32) {
	byteOrder.PutUint32(p.buf[0:4], uint32(n))
}

// scan walks every record (live or tombstoned) from the front of the
// page, stopping at the first offset where a record would overrun the
// high-water mark, i.e. where size decodes to 0.
func (p *blockPage) scan() []blockRecord {
	var records []blockRecord
	off := int64(blockPageCountSize)
	for off+blockRecordHeaderSize <= p.pageSize {
		size := int32(byteOrder.Uint32(p.buf[off : off+4]))
		if size == 0 {
			break
		}
		addr := Address(byteOrder.Uint64(p.buf[off+4 : off+12]))
		records = append(records, blockRecord{offset: off, size: size, address: addr})
		length := size
		if length < 0 {
			length = -length
		}
		off += int64(length)
	}
	return records
}

// highWaterMark returns the offset just past the last record, live or
// tombstoned — the point new records get appended at.
func (p *blockPage) highWaterMark() int64 {
	records := p.scan()
	if len(records) == 0 {
		return blockPageCountSize
	}
	last := records[len(records)-1]
	return last.offset + last.length()
}

func (p *blockPage) bytesRemaining() int64 {
	return p.pageSize - p.highWaterMark()
}

// append writes a new live record for addr carrying payload (already
// including any checksum prefix) at the current high-water mark.
// Callers are expected to have checked bytesRemaining() first; append
// re-checks itself and returns ErrPageFull rather than writing past the
// page's end, so a planning bug surfaces as an error instead of
// silently corrupting the next page in the file.
func (p *blockPage) append(addr Address, payload []byte) (recordOffset int64, err error) {
	needed := int64(blockRecordHeaderSize + len(payload))
	if p.bytesRemaining() < needed {
		return 0, ErrPageFull
	}
	off := p.highWaterMark()
	size := int32(blockRecordHeaderSize + len(payload))
	byteOrder.PutUint32(p.buf[off:off+4], uint32(size))
	byteOrder.PutUint64(p.buf[off+4:off+12], uint64(addr))
	copy(p.buf[off+12:off+12+int64(len(payload))], payload)
	p.setRecordCount(p.recordCount() + 1)
	return off, nil
}

// payload returns the record's stored bytes, checksum prefix included
// if the page was written with checksums enabled.
func (p *blockPage) payload(r blockRecord) []byte {
	start := r.payloadOffset()
	return p.buf[start : start+r.payloadLength()]
}

// tombstone flips a record's size negative in place, marking it dead
// without reclaiming its bytes.
func (p *blockPage) tombstone(r blockRecord) {
	size := int32(byteOrder.Uint32(p.buf[r.offset : r.offset+4]))
	if size < 0 {
		return
	}
	byteOrder.PutUint32(p.buf[r.offset:r.offset+4], uint32(-size))
}

// liveBytes sums the total on-disk length (header+payload) of every
// live record, used by the Vacuum Planner and the By-Remaining Index
// to judge how good a merge candidate this page is.
func (p *blockPage) liveBytes() int64 {
	var n int64
	for _, r := range p.scan() {
		if r.live() {
			n += r.length()
		}
	}
	return n
}

// blockSizes maps each live record's address to its total on-disk
// length, for planners sizing a merge destination per block rather than
// per page.
func (p *blockPage) blockSizes() map[Address]int64 {
	out := make(map[Address]int64)
	for _, r := range p.scan() {
		if r.live() {
			out[r.address] = r.length()
		}
	}
	return out
}

// copyLiveTo relocates every live record from p onto dest in order,
// returning the list of (address, newOffset) pairs so the caller can
// repoint Address Page slots. dest is expected to have been chosen with
// enough bytesRemaining() for p's live bytes; copyLiveTo checks that up
// front and returns ErrPageFull, leaving dest untouched, rather than
// partially relocating a page if that expectation turns out to be wrong.
func (p *blockPage) copyLiveTo(dest *blockPage) ([]struct {
	Address   Address
	NewOffset int64
}, error) {
	if dest.bytesRemaining() < p.liveBytes() {
		return nil, ErrPageFull
	}
	var moved []struct {
		Address   Address
		NewOffset int64
	}
	for _, r := range p.scan() {
		if !r.live() {
			continue
		}
		payload := p.payload(r)
		newOff, err := dest.append(r.address, payload)
		if err != nil {
			return nil, err
		}
		moved = append(moved, struct {
			Address   Address
			NewOffset int64
		}{Address: r.address, NewOffset: newOff})
	}
	return moved, nil
}
