package shmcache

import "encoding/binary"

// Page header field offsets (bytes from the start of a page). See §3.
const (
	offMagic     = 0  // uint32
	offNumSlots  = 4  // uint32
	offFreeSlots = 8  // uint32
	offOldSlots  = 12 // uint32
	offFreeData  = 16 // uint32
	offFreeBytes = 20 // uint32
	offReserved  = 24 // 8 reserved bytes, must stay zero; header is 32 bytes total
)

// pageHeader is the decoded form of a page's 32-byte header.
type pageHeader struct {
	Magic      uint32
	NumSlots   uint32
	FreeSlots  uint32
	OldSlots   uint32
	FreeData   uint32
	FreeBytes  uint32
}

// decodePageHeader reads the header fields out of the first
// headerSize bytes of a page.
func decodePageHeader(page []byte) pageHeader {
	return pageHeader{
		Magic:     binary.LittleEndian.Uint32(page[offMagic:]),
		NumSlots:  binary.LittleEndian.Uint32(page[offNumSlots:]),
		FreeSlots: binary.LittleEndian.Uint32(page[offFreeSlots:]),
		OldSlots:  binary.LittleEndian.Uint32(page[offOldSlots:]),
		FreeData:  binary.LittleEndian.Uint32(page[offFreeData:]),
		FreeBytes: binary.LittleEndian.Uint32(page[offFreeBytes:]),
	}
}

// encodePageHeader writes h into the first headerSize bytes of page.
func encodePageHeader(page []byte, h pageHeader) {
	binary.LittleEndian.PutUint32(page[offMagic:], h.Magic)
	binary.LittleEndian.PutUint32(page[offNumSlots:], h.NumSlots)
	binary.LittleEndian.PutUint32(page[offFreeSlots:], h.FreeSlots)
	binary.LittleEndian.PutUint32(page[offOldSlots:], h.OldSlots)
	binary.LittleEndian.PutUint32(page[offFreeData:], h.FreeData)
	binary.LittleEndian.PutUint32(page[offFreeBytes:], h.FreeBytes)
	for i := offReserved; i < headerSize; i++ {
		page[i] = 0
	}
}

// Slot directory entry values (§3).
const (
	slotEmpty     uint32 = 0
	slotTombstone uint32 = 1
	// slotMinOffset is the smallest legal live-slot value; any value
	// strictly greater than slotTombstone is an inline record offset.
	slotMinOffset = slotTombstone + 1
)

// slotDirOffset returns the byte offset of slot i's 32-bit directory
// entry within the page.
func slotDirOffset(i uint32) int {
	return headerSize + int(i)*4
}

// readSlot reads slot directory entry i.
func readSlot(page []byte, i uint32) uint32 {
	return binary.LittleEndian.Uint32(page[slotDirOffset(i):])
}

// writeSlot sets slot directory entry i to value.
func writeSlot(page []byte, i uint32, value uint32) {
	binary.LittleEndian.PutUint32(page[slotDirOffset(i):], value)
}

// Entry record field offsets, relative to the record's start offset
// (§3): a 24-byte fixed prefix followed by key bytes then value
// bytes, padded to a 4-byte boundary.
const (
	recOffLastAccess = 0
	recOffExpireTime = 4
	recOffSlotHash   = 8
	recOffFlags      = 12
	recOffKeyLen     = 16
	recOffValueLen   = 20
	recFixedSize     = 24
)

// Entry flag bits (§3).
const (
	flagDirty uint32 = 1 << 0
)

// entryRecord is the decoded form of an inline key/value record.
type entryRecord struct {
	LastAccess uint32
	ExpireTime uint32
	SlotHash   uint32
	Flags      uint32
	Key        []byte
	Value      []byte
}

// decodeEntryRecordHeader reads the fixed 24-byte prefix of the
// record at page[off:]. It does not copy key/value bytes.
func decodeEntryRecordHeader(page []byte, off uint32) entryRecord {
	return entryRecord{
		LastAccess: binary.LittleEndian.Uint32(page[int(off)+recOffLastAccess:]),
		ExpireTime: binary.LittleEndian.Uint32(page[int(off)+recOffExpireTime:]),
		SlotHash:   binary.LittleEndian.Uint32(page[int(off)+recOffSlotHash:]),
		Flags:      binary.LittleEndian.Uint32(page[int(off)+recOffFlags:]),
	}
}

// recordKeyLen / recordValueLen read just the length fields, used by
// probing code that must decide whether a fuller decode is needed.
func recordKeyLen(page []byte, off uint32) uint32 {
	return binary.LittleEndian.Uint32(page[int(off)+recOffKeyLen:])
}

func recordValueLen(page []byte, off uint32) uint32 {
	return binary.LittleEndian.Uint32(page[int(off)+recOffValueLen:])
}

// recordKeyBytes / recordValueBytes return views (not copies) of a
// record's key/value payload. Callers that hand data across the page
// lock boundary must copy.
func recordKeyBytes(page []byte, off uint32) []byte {
	keyLen := recordKeyLen(page, off)
	start := int(off) + recFixedSize

	return page[start : start+int(keyLen)]
}

func recordValueBytes(page []byte, off uint32) []byte {
	keyLen := recordKeyLen(page, off)
	valLen := recordValueLen(page, off)
	start := int(off) + recFixedSize + int(keyLen)

	return page[start : start+int(valLen)]
}

// recordLen returns the 4-byte-rounded total size of a record with
// the given key/value lengths, including the 24-byte fixed prefix.
func recordLen(keyLen, valueLen int) uint32 {
	raw := recFixedSize + keyLen + valueLen

	return roundUp4(uint32(raw))
}

// roundUp4 rounds x up to the next multiple of 4.
func roundUp4(x uint32) uint32 {
	return (x + 3) &^ 3
}

// writeEntryRecord serializes and writes a full record (fixed prefix
// plus key and value bytes) at page[off:], zero-filling the padding
// tail up to recordLen(len(key), len(value)).
func writeEntryRecord(page []byte, off uint32, lastAccess, expireTime, slotHash, flags uint32, key, value []byte) {
	base := int(off)
	binary.LittleEndian.PutUint32(page[base+recOffLastAccess:], lastAccess)
	binary.LittleEndian.PutUint32(page[base+recOffExpireTime:], expireTime)
	binary.LittleEndian.PutUint32(page[base+recOffSlotHash:], slotHash)
	binary.LittleEndian.PutUint32(page[base+recOffFlags:], flags)
	binary.LittleEndian.PutUint32(page[base+recOffKeyLen:], uint32(len(key)))
	binary.LittleEndian.PutUint32(page[base+recOffValueLen:], uint32(len(value)))

	kvStart := base + recFixedSize
	copy(page[kvStart:], key)
	copy(page[kvStart+len(key):], value)

	total := int(recordLen(len(key), len(value)))
	for i := kvStart + len(key) + len(value); i < base+total; i++ {
		page[i] = 0
	}
}

// setRecordLastAccess overwrites just the last_access field of the
// record at off, used by read() on a cache hit.
func setRecordLastAccess(page []byte, off, now uint32) {
	binary.LittleEndian.PutUint32(page[int(off)+recOffLastAccess:], now)
}
