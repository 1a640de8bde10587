package shmcache

// readEntry probes for key under mode=read and, on a live non-expired
// hit, refreshes last_access and returns a copy of the value (§4.4).
//
// On a hit past its expire_time, the slot is tombstoned in place and
// a miss is reported, matching the spec's "lazy expiry on read" rule.
func (p *pageCursor) readEntry(seed uint32, key []byte, now uint32) (value []byte, flags uint32, found bool) {
	idx, hit := findSlot(p.data, seed, key, p.header.NumSlots, probeRead)
	if !hit {
		return nil, 0, false
	}

	off := readSlot(p.data, idx)
	rec := decodeEntryRecordHeader(p.data, off)

	if rec.ExpireTime != 0 && now > rec.ExpireTime {
		p.tombstoneSlot(idx)

		return nil, 0, false
	}

	setRecordLastAccess(p.data, off, now)

	val := recordValueBytes(p.data, off)
	valCopy := make([]byte, len(val))
	copy(valCopy, val)

	return valCopy, rec.Flags, true
}

// writeEntry probes for key under mode=insert and, if the resulting
// slot has room in the heap, stores the key/value as a new inline
// record (§4.4). expireSeconds is the cache's configured default TTL
// (0 disables time expiry for this entry).
//
// Returns false (no error) when there is not enough free_bytes to
// hold the record; the caller (the Cache facade) is responsible for
// running an admission expunge first, and for falling back to the
// write-through hook when this still returns false.
func (p *pageCursor) writeEntry(seed uint32, key, value []byte, flags, now, expireSeconds uint32) bool {
	var expireTime uint32
	if expireSeconds != 0 {
		expireTime = now + expireSeconds
	}

	return p.writeEntryAt(seed, key, value, flags, now, expireTime)
}

// writeEntryAt is writeEntry with an already-computed absolute
// expire_time instead of a TTL in seconds, for callers that need to
// store an exact expire_time (e.g. read-through's negative-cache
// memoization, which stores expire_time=now).
//
// findSlot never returns a tombstoned slot (§4.4: tombstoned records
// are not reclaimed by write, only by expunge), so idx is either a
// key match — an overwrite of an existing live record at the same
// slot — or the probe chain's first empty slot for a brand-new entry.
func (p *pageCursor) writeEntryAt(seed uint32, key, value []byte, flags, now, expireTime uint32) bool {
	idx, hit := findSlot(p.data, seed, key, p.header.NumSlots, probeInsert)

	kvLen := recordLen(len(key), len(value))
	if p.header.FreeBytes < kvLen {
		return false
	}

	off := p.header.FreeData
	writeEntryRecord(p.data, off, now, expireTime, seed, flags, key, value)
	writeSlot(p.data, idx, off)

	if !hit {
		p.header.FreeSlots--
	}

	p.header.FreeData += kvLen
	p.header.FreeBytes -= kvLen
	p.markDirty()

	return true
}

// deleteEntry probes for key under mode=delete and, on a hit,
// tombstones the slot and returns the entry's flags (§4.4).
func (p *pageCursor) deleteEntry(seed uint32, key []byte) (deleted bool, flags uint32) {
	idx, hit := findSlot(p.data, seed, key, p.header.NumSlots, probeDelete)
	if !hit {
		return false, 0
	}

	off := readSlot(p.data, idx)
	rec := decodeEntryRecordHeader(p.data, off)

	p.tombstoneSlot(idx)

	return true, rec.Flags
}

// tombstoneSlot marks slot idx as deleted, bumping free_slots and
// old_slots and marking the page dirty.
func (p *pageCursor) tombstoneSlot(idx uint32) {
	writeSlot(p.data, idx, slotTombstone)
	p.header.FreeSlots++
	p.header.OldSlots++
	p.markDirty()
}
