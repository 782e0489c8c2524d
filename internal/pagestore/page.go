package pagestore

import "hash/crc32"

// Per-block checksums are optional: a Pack may be configured to CRC32 each
// block's payload. When enabled, the checksum is prefixed to the payload
// bytes within the record. Scoped to a single block's payload rather than a
// full page, since pages here are append-only byte streams with no fixed
// per-page header to carry one.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

func checksumPayload(payload []byte) uint32 {
	return crc32.Checksum(payload, crcTable)
}
