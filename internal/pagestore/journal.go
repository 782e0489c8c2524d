package pagestore

import (
	"hash/crc32"
)

// ───────────────────────────────────────────────────────────────────────────
// Journal (C6)
// ───────────────────────────────────────────────────────────────────────────
//
// A commit's journal is a stream of typed ops, written across one or more
// Journal Pages. Every Journal Page reserves its last 8 bytes for a
// forward pointer to the next Journal Page in the chain (NullPosition on
// the last page), the same chaining technique Address Pages use.
//
// Op wire format: [1]opType [4]payloadLen payload [4]crc32
//
// Checkpoint is not an op in this stream: it is the durability boundary
// itself, recorded by writing the journal's first-page Position into the
// header's JournalHeader field and fsyncing the header page. A journal
// with no corresponding header Checkpoint is uncommitted and is ignored
// (and its pages reclaimed) on recovery.

type journalOpType uint8

const (
	opCreateAddressPage journalOpType = iota + 1
	opMove
	opAllocate
	opWrite
	opFree
	opTemporary
	opTerminate
)

// journalOp is one operation in the redo stream.
type journalOp struct {
	Type      journalOpType
	Address   Address
	Position  Position // interim position for Allocate/Write; source for Move; the new page for CreateAddressPage
	Dest      Position // destination for Move
	BlockSize int32    // for Allocate
}

const opRecordOverhead = 1 + 4 + 4 // type + payloadLen + crc

func opPayloadLen(t journalOpType) int {
	switch t {
	case opCreateAddressPage:
		return 8
	case opMove:
		return 16
	case opAllocate:
		return 8 + 8 + 4
	case opWrite:
		return 8 + 8
	case opFree:
		return 8
	case opTemporary:
		return 8
	case opTerminate:
		return 0
	default:
		return 0
	}
}

func encodeOp(op journalOp) []byte {
	payloadLen := opPayloadLen(op.Type)
	buf := make([]byte, opRecordOverhead+payloadLen)
	buf[0] = byte(op.Type)
	byteOrder.PutUint32(buf[1:5], uint32(payloadLen))
	p := buf[5 : 5+payloadLen]
	switch op.Type {
	case opCreateAddressPage:
		byteOrder.PutUint64(p[0:8], uint64(op.Position))
	case opMove:
		byteOrder.PutUint64(p[0:8], uint64(op.Position))
		byteOrder.PutUint64(p[8:16], uint64(op.Dest))
	case opAllocate:
		byteOrder.PutUint64(p[0:8], uint64(op.Address))
		byteOrder.PutUint64(p[8:16], uint64(op.Position))
		byteOrder.PutUint32(p[16:20], uint32(op.BlockSize))
	case opWrite:
		byteOrder.PutUint64(p[0:8], uint64(op.Address))
		byteOrder.PutUint64(p[8:16], uint64(op.Position))
	case opFree:
		byteOrder.PutUint64(p[0:8], uint64(op.Address))
	case opTemporary:
		byteOrder.PutUint64(p[0:8], uint64(op.Address))
	case opTerminate:
	}
	crc := crc32.ChecksumIEEE(buf[:5+payloadLen])
	byteOrder.PutUint32(buf[5+payloadLen:5+payloadLen+4], crc)
	return buf
}

// decodeOp reads one op from the front of buf, returning the number of
// bytes consumed. It returns ok=false (never an error) when buf doesn't
// hold a complete, checksum-valid record — the caller treats this as
// "end of committed journal", since a torn write at the tail is exactly
// what an unfinished commit looks like after a crash.
func decodeOp(buf []byte) (op journalOp, consumed int, ok bool) {
	if len(buf) < 5 {
		return journalOp{}, 0, false
	}
	t := journalOpType(buf[0])
	payloadLen := int(byteOrder.Uint32(buf[1:5]))
	total := 5 + payloadLen + 4
	if payloadLen != opPayloadLen(t) || len(buf) < total {
		return journalOp{}, 0, false
	}
	want := byteOrder.Uint32(buf[5+payloadLen : total])
	got := crc32.ChecksumIEEE(buf[:5+payloadLen])
	if want != got {
		return journalOp{}, 0, false
	}
	p := buf[5 : 5+payloadLen]
	op.Type = t
	switch t {
	case opCreateAddressPage:
		op.Position = Position(byteOrder.Uint64(p[0:8]))
	case opMove:
		op.Position = Position(byteOrder.Uint64(p[0:8]))
		op.Dest = Position(byteOrder.Uint64(p[8:16]))
	case opAllocate:
		op.Address = Address(byteOrder.Uint64(p[0:8]))
		op.Position = Position(byteOrder.Uint64(p[8:16]))
		op.BlockSize = int32(byteOrder.Uint32(p[16:20]))
	case opWrite:
		op.Address = Address(byteOrder.Uint64(p[0:8]))
		op.Position = Position(byteOrder.Uint64(p[8:16]))
	case opFree:
		op.Address = Address(byteOrder.Uint64(p[0:8]))
	case opTemporary:
		op.Address = Address(byteOrder.Uint64(p[0:8]))
	case opTerminate:
	}
	return op, total, true
}

// buildJournalPages serializes ops (Terminate appended automatically)
// into fixed-size page buffers ready for the caller to assign Positions
// to and patch forward pointers into the reserved tail slot of each. An
// op record never straddles a page boundary — a page that can't fit the
// next whole record is zero-padded to its usable end instead, so
// readJournal never has to reassemble a record split across two pages.
func buildJournalPages(ops []journalOp, pageSize int64) [][]byte {
	all := ops
	if len(all) == 0 || all[len(all)-1].Type != opTerminate {
		all = append(append([]journalOp{}, ops...), journalOp{Type: opTerminate})
	}

	usable := pageSize - chainPointerSize
	var pages [][]byte
	page := make([]byte, pageSize)
	var off int64
	for _, op := range all {
		enc := encodeOp(op)
		if off+int64(len(enc)) > usable {
			pages = append(pages, page)
			page = make([]byte, pageSize)
			off = 0
		}
		copy(page[off:], enc)
		off += int64(len(enc))
	}
	pages = append(pages, page)
	return pages
}

func journalPageNext(buf []byte, pageSize int64) Position {
	return Position(byteOrder.Uint64(buf[pageSize-chainPointerSize : pageSize]))
}

func setJournalPageNext(buf []byte, pageSize int64, next Position) {
	byteOrder.PutUint64(buf[pageSize-chainPointerSize:pageSize], uint64(next))
}

// readJournal walks the journal chain starting at first via readPage,
// decoding ops until a Terminate op or the end of the chain. A page's
// trailing bytes that don't decode as a full record are the zero
// padding buildJournalPages leaves after the last record that fit —
// never a record torn across the page boundary — so they just end the
// current page's scan and move on to the next page in the chain. The
// returned ops never include the trailing Terminate marker.
func readJournal(first Position, pageSize int64, readPage func(Position) ([]byte, error)) ([]journalOp, error) {
	var ops []journalOp
	pos := first
	for pos != NullPosition {
		buf, err := readPage(pos)
		if err != nil {
			return ops, err
		}
		body := buf[:pageSize-chainPointerSize]
		for len(body) > 0 {
			op, n, ok := decodeOp(body)
			if !ok {
				break
			}
			if op.Type == opTerminate {
				return ops, nil
			}
			ops = append(ops, op)
			body = body[n:]
		}
		pos = journalPageNext(buf, pageSize)
	}
	return ops, nil
}
