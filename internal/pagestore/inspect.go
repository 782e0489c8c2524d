package pagestore

import "github.com/OneOfOne/xxhash"

// ───────────────────────────────────────────────────────────────────────────
// Diagnostic inspector
// ───────────────────────────────────────────────────────────────────────────
//
// PageInfo summarizes one page for an offline diagnostic tool (cmd/packctl
// inspect). The Fingerprint field is a content hash for comparing two
// pages (e.g. across a backup and a live file) without shipping the full
// page bytes — distinct from the per-block CRC32 the wire format uses
// for corruption detection, since this is a diagnostic aid with no
// on-disk effect.

// PageInfo describes one page's contents for inspection.
type PageInfo struct {
	Position    Position
	Kind        PageKind
	Fingerprint uint64

	// Block Page specifics.
	RecordCount    int
	LiveBytes      int64
	BytesRemaining int64

	// Address Page specifics.
	Slots     int64
	LiveSlots int64
	Next      Position
}

func fingerprint(buf []byte) uint64 {
	h := xxhash.New64()
	h.Write(buf)
	return h.Sum64()
}

// InspectPage reads one page from an open Pack and summarizes it.
func (p *Pack) InspectPage(pos Position) (*PageInfo, error) {
	buf, err := p.sheaf.readPage(pos)
	if err != nil {
		return nil, err
	}
	info := &PageInfo{
		Position:    pos,
		Kind:        p.catalog.kindOf(pos),
		Fingerprint: fingerprint(buf),
	}
	if pos == 0 {
		info.Kind = KindHeader
		return info, nil
	}

	switch info.Kind {
	case KindAddress:
		ap := newAddressPage(buf)
		info.Slots = ap.size
		info.Next = ap.next()
		for slot := int64(0); slot < ap.size; slot++ {
			if isAllocated(ap.get(slot)) {
				info.LiveSlots++
			}
		}
	case KindUserBlock, KindInterimBlock:
		bp := newBlockPage(buf)
		records := bp.scan()
		info.RecordCount = len(records)
		info.LiveBytes = bp.liveBytes()
		info.BytesRemaining = bp.bytesRemaining()
	case KindTempList:
		info.Slots = int64(tempAddrsPerPage(p.pageSize))
		info.LiveSlots = int64(byteOrder.Uint32(buf[0:4]))
		info.Next = Position(byteOrder.Uint64(buf[p.pageSize-chainPointerSize : p.pageSize]))
	}
	return info, nil
}

// InspectRange summarizes every page-aligned Position from 0 to the
// current end of file, for a full-store diagnostic dump.
func (p *Pack) InspectRange() ([]*PageInfo, error) {
	end := p.catalog.fileEnd()
	var out []*PageInfo
	for pos := Position(0); pos < end; pos += Position(p.pageSize) {
		info, err := p.InspectPage(pos)
		if err != nil {
			return out, err
		}
		out = append(out, info)
	}
	return out, nil
}
