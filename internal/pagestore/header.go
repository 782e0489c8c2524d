package pagestore

import "fmt"

// ───────────────────────────────────────────────────────────────────────────
// Header & Boot
// ───────────────────────────────────────────────────────────────────────────
//
// Offset  Size  Field
// ──────  ────  ─────────────────────────────────────────────
// 0       8     Signature          int64
// 8       4     PageSize           int32
// 12      4     HeaderSize         int32
// 16      4     StaticPageCount    int32
// 20      4     ShutdownFlag       int32  (0 = dirty, 1 = clean)
// 24      8     JournalHeader      int64  (Position, 0 = no pending checkpoint)
// 32      8     InterimBoundary    int64  (Position — file length as of the
//                                          last known garbage-free point)
// 40      4     AddressPageCount   int32  (Address Pages in the chain when
//                                          the header was written; open
//                                          walks the chain pointer instead
//                                          of reading this field)
// 44      4     FormatVersion      uint32
// 48      8     TempListHead       int64  (Position of the first
//                                          temporary-address list page,
//                                          0 = no temporaries recorded)
// 56      4     Flags              uint32 (bit 0: per-block checksums)
// 60      ...   StaticEntry[StaticPageCount]
//
// StaticEntry: { int16 uriLen, utf8 uri, int32 blockSize, int64 address,
//                int64 position }
//
// A static entry carries both its slot Address (what clients read and
// write through) and the Position of the block record carved at creation
// time. Position is recorded explicitly rather than recomputed, since a
// static block's page is carved once at creation and, unlike User Block
// Pages, is never a Move Protocol or Vacuum Planner target on its own —
// rebuild uses it to keep the creation-time static pages out of the
// merge-candidate set.
//
// The header occupies exactly one page. The static-entry directory must fit
// within PageSize - fixedHeaderSize bytes; Creator rejects a manifest that
// doesn't fit.

const (
	storeSignature          int64  = 0x7ACBE5A1C0FFEE01
	currentFormatVersion    uint32 = 1
	shutdownDirty           int32  = 0
	shutdownClean           int32  = 1
	fixedHeaderSize                = 60
	staticEntryFixedPortion        = 2 + 4 + 8 + 8 // uriLen + blockSize + address + position

	headerFlagChecksums uint32 = 1 << 0
)

// StaticEntry names a fixed block reserved at store-creation time.
type StaticEntry struct {
	URI       string
	BlockSize int32
	Address   Address
	Position  Position
}

// Header is the parsed contents of the store's first page.
type Header struct {
	PageSize         int32
	HeaderSize       int32
	ShutdownFlag     int32
	JournalHeader    Position
	InterimBoundary  Position
	AddressPageCount int32
	FormatVersion    uint32
	TempListHead     Position
	Flags            uint32
	Static           []StaticEntry
}

func marshalHeader(h *Header, buf []byte) error {
	need := fixedHeaderSize
	for _, s := range h.Static {
		need += staticEntryFixedPortion + len(s.URI)
	}
	if need > len(buf) {
		return fmt.Errorf("header: %d static entries need %d bytes, page holds %d", len(h.Static), need, len(buf))
	}
	byteOrder.PutUint64(buf[0:8], uint64(storeSignature))
	byteOrder.PutUint32(buf[8:12], uint32(h.PageSize))
	byteOrder.PutUint32(buf[12:16], uint32(h.HeaderSize))
	byteOrder.PutUint32(buf[16:20], uint32(len(h.Static)))
	byteOrder.PutUint32(buf[20:24], uint32(h.ShutdownFlag))
	byteOrder.PutUint64(buf[24:32], uint64(h.JournalHeader))
	byteOrder.PutUint64(buf[32:40], uint64(h.InterimBoundary))
	byteOrder.PutUint32(buf[40:44], uint32(h.AddressPageCount))
	byteOrder.PutUint32(buf[44:48], h.FormatVersion)
	byteOrder.PutUint64(buf[48:56], uint64(h.TempListHead))
	byteOrder.PutUint32(buf[56:60], h.Flags)

	off := fixedHeaderSize
	for _, s := range h.Static {
		byteOrder.PutUint16(buf[off:off+2], uint16(len(s.URI)))
		off += 2
		copy(buf[off:off+len(s.URI)], s.URI)
		off += len(s.URI)
		byteOrder.PutUint32(buf[off:off+4], uint32(s.BlockSize))
		off += 4
		byteOrder.PutUint64(buf[off:off+8], uint64(s.Address))
		off += 8
		byteOrder.PutUint64(buf[off:off+8], uint64(s.Position))
		off += 8
	}
	return nil
}

func unmarshalHeader(buf []byte) (*Header, error) {
	if len(buf) < fixedHeaderSize {
		return nil, fmt.Errorf("header: page too small (%d bytes)", len(buf))
	}
	sig := int64(byteOrder.Uint64(buf[0:8]))
	if sig != storeSignature {
		return nil, ErrBadSignature
	}
	h := &Header{
		PageSize:         int32(byteOrder.Uint32(buf[8:12])),
		HeaderSize:       int32(byteOrder.Uint32(buf[12:16])),
		ShutdownFlag:     int32(byteOrder.Uint32(buf[20:24])),
		JournalHeader:    Position(byteOrder.Uint64(buf[24:32])),
		InterimBoundary:  Position(byteOrder.Uint64(buf[32:40])),
		AddressPageCount: int32(byteOrder.Uint32(buf[40:44])),
		FormatVersion:    byteOrder.Uint32(buf[44:48]),
		TempListHead:     Position(byteOrder.Uint64(buf[48:56])),
		Flags:            byteOrder.Uint32(buf[56:60]),
	}
	if h.FormatVersion != currentFormatVersion {
		return nil, newErr("unmarshalHeader", KindHeaderCorrupt)
	}
	staticCount := int(byteOrder.Uint32(buf[16:20]))

	off := fixedHeaderSize
	h.Static = make([]StaticEntry, 0, staticCount)
	for i := 0; i < staticCount; i++ {
		if off+2 > len(buf) {
			return nil, newErr("unmarshalHeader", KindHeaderCorrupt)
		}
		uriLen := int(byteOrder.Uint16(buf[off : off+2]))
		off += 2
		if off+uriLen+20 > len(buf) {
			return nil, newErr("unmarshalHeader", KindHeaderCorrupt)
		}
		uri := string(buf[off : off+uriLen])
		off += uriLen
		blockSize := int32(byteOrder.Uint32(buf[off : off+4]))
		off += 4
		addr := Address(byteOrder.Uint64(buf[off : off+8]))
		off += 8
		pos := Position(byteOrder.Uint64(buf[off : off+8]))
		off += 8
		h.Static = append(h.Static, StaticEntry{URI: uri, BlockSize: blockSize, Address: addr, Position: pos})
	}
	return h, nil
}
