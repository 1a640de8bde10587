package shmcache

import "time"

// pageCursorState models the state machine in §4.8:
// UNATTACHED -> LOCKED(p) -> LOCKED_DIRTY(p) -> UNATTACHED.
type pageCursorState int

const (
	pageUnattached pageCursorState = iota
	pageLocked
	pageLockedDirty
)

// pageCursor attaches to a locked page's bytes and tracks the header
// fields parsed from it. At most one pageCursor per Cache handle
// holds a lock at a time; holding two would deadlock with peers
// locking pages in a different order.
type pageCursor struct {
	fd          int
	mapped      []byte
	pageSize    uint32
	lockTimeout time.Duration

	state   pageCursorState
	pageIdx uint32
	data    []byte // mapped[pageIdx*pageSize : (pageIdx+1)*pageSize]
	header  pageHeader
}

// lock acquires the advisory byte-range lock for page idx, parses and
// validates its header, and transitions the cursor to LOCKED.
//
// Locking while already LOCKED/LOCKED_DIRTY is a programmer error: it
// can only happen from a bug in this package (the Cache facade never
// locks two pages at once), so it panics rather than returning an
// error a caller could plausibly handle.
func (p *pageCursor) lock(idx uint32) error {
	if p.state != pageUnattached {
		panic("shmcache: lock called on an already-locked page cursor")
	}

	start := int64(idx) * int64(p.pageSize)

	if err := lockPageRange(p.fd, start, int64(p.pageSize), p.lockTimeout); err != nil {
		return err
	}

	data := p.mapped[start : start+int64(p.pageSize)]
	h := decodePageHeader(data)

	if h.Magic != pageMagic {
		_ = unlockPageRange(p.fd, start, int64(p.pageSize))

		return wrapf(ErrPageCorrupt, "page %d: bad magic %#x", idx, h.Magic)
	}

	if err := validatePageInvariants(data, h, p.pageSize); err != nil {
		_ = unlockPageRange(p.fd, start, int64(p.pageSize))

		return err
	}

	p.pageIdx = idx
	p.data = data
	p.header = h
	p.state = pageLocked

	return nil
}

// unlock writes back the header if the cursor observed a mutation,
// then releases the page's lock and returns the cursor to
// UNATTACHED. Unlocking while UNATTACHED is a programmer error.
//
// No error escapes unlock's header write-back path: the header
// fields written back are always the ones this package itself last
// validated, so a mismatch here would indicate a bug, not bad input.
func (p *pageCursor) unlock() error {
	if p.state == pageUnattached {
		panic("shmcache: unlock called on an unattached page cursor")
	}

	if p.state == pageLockedDirty {
		encodePageHeader(p.data, p.header)
	}

	start := int64(p.pageIdx) * int64(p.pageSize)
	err := unlockPageRange(p.fd, start, int64(p.pageSize))

	p.state = pageUnattached
	p.data = nil

	return err
}

// markDirty transitions LOCKED -> LOCKED_DIRTY. Idempotent.
func (p *pageCursor) markDirty() {
	if p.state == pageLocked {
		p.state = pageLockedDirty
	}
}

// validatePageInvariants checks I1, I2, I3, and I5 against a freshly
// locked page. I4 (every live slot's record fits in bounds and hashes
// back to its slot, modulo probing) is not cheap enough to check on
// every lock — it walks and re-probes every live slot; it is instead
// checked by validateRecordInvariants, run only by the optional
// integrity test at attach time (see Options.TestFile).
func validatePageInvariants(data []byte, h pageHeader, pageSize uint32) error {
	if h.FreeData+h.FreeBytes != pageSize {
		return wrapf(ErrPageCorrupt, "I1 violated: free_data(%d)+free_bytes(%d) != page_size(%d)", h.FreeData, h.FreeBytes, pageSize)
	}

	if h.FreeSlots > h.NumSlots {
		return wrapf(ErrPageCorrupt, "I2 violated: free_slots(%d) > num_slots(%d)", h.FreeSlots, h.NumSlots)
	}

	if h.OldSlots > h.FreeSlots {
		return wrapf(ErrPageCorrupt, "I2 violated: old_slots(%d) > free_slots(%d)", h.OldSlots, h.FreeSlots)
	}

	if h.NumSlots < minNumSlots || uint64(h.NumSlots) > uint64(pageSize)/4 {
		return wrapf(ErrPageCorrupt, "I5 violated: num_slots(%d) out of bounds for page_size(%d)", h.NumSlots, pageSize)
	}

	var freeCount, tombCount uint32

	for i := uint32(0); i < h.NumSlots; i++ {
		switch readSlot(data, i) {
		case slotEmpty:
			freeCount++
		case slotTombstone:
			freeCount++
			tombCount++
		}
	}

	if freeCount != h.FreeSlots {
		return wrapf(ErrPageCorrupt, "I3 violated: counted %d empty/tombstone slots, header says free_slots=%d", freeCount, h.FreeSlots)
	}

	if tombCount != h.OldSlots {
		return wrapf(ErrPageCorrupt, "I3 violated: counted %d tombstones, header says old_slots=%d", tombCount, h.OldSlots)
	}

	return nil
}

// validateRecordInvariants checks I4: every live slot's record lies
// entirely within the page (and within free_data), and re-probing its
// key with findSlot lands back on the same slot. It assumes h has
// already passed validatePageInvariants, so num_slots and the slot
// directory bounds are trustworthy; it does not assume record offsets
// are, since I4 is precisely what vouches for those.
func validateRecordInvariants(data []byte, h pageHeader, pageSize uint32) error {
	heapStart := uint64(headerSize) + uint64(h.NumSlots)*4

	for i := uint32(0); i < h.NumSlots; i++ {
		off := readSlot(data, i)
		if off <= slotTombstone {
			continue
		}

		if uint64(off) < heapStart || uint64(off)+recFixedSize > uint64(pageSize) {
			return wrapf(ErrPageCorrupt, "I4 violated: slot %d record offset %d out of bounds", i, off)
		}

		keyLen := recordKeyLen(data, off)
		valLen := recordValueLen(data, off)
		total := uint64(recordLen(int(keyLen), int(valLen)))

		if uint64(off)+total > uint64(pageSize) {
			return wrapf(ErrPageCorrupt, "I4 violated: slot %d record (off=%d len=%d) exceeds page_size(%d)", i, off, total, pageSize)
		}

		if uint64(off)+total > uint64(h.FreeData) {
			return wrapf(ErrPageCorrupt, "I4 violated: slot %d record (off=%d len=%d) extends past free_data(%d)", i, off, total, h.FreeData)
		}

		key := recordKeyBytes(data, off)
		rec := decodeEntryRecordHeader(data, off)

		idx, hit := findSlot(data, rec.SlotHash, key, h.NumSlots, probeRead)
		if !hit || idx != i {
			return wrapf(ErrPageCorrupt, "I4 violated: slot %d record does not hash back to its own slot (probe landed at %d, hit=%v)", i, idx, hit)
		}
	}

	return nil
}
