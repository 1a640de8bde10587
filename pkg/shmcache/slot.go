package shmcache

// probeMode is retained for call-site documentation only: findSlot's
// probing is mode-agnostic (§4.3's own stated invariant — the slot
// that answers a lookup miss must be exactly the slot an insert
// uses). Tombstones are never reused by insert; they are reclaimed
// only by expunge (§4.4).
type probeMode int

const (
	probeRead probeMode = iota
	probeDelete
	probeInsert
)

// findSlot probes the slot directory starting at seed mod num_slots,
// stepping linearly and wrapping, examining at most num_slots
// positions (§4.3). It skips tombstones for every mode and returns
// either a key match or the first empty slot; mode is unused in the
// probe itself and exists only so call sites document intent.
//
// Returning the same slot across modes for the same seed/key is
// critical: it guarantees the slot that answers a lookup miss is
// exactly the slot an insert will use, keeping hash locality between
// a failed get and a subsequent set. Reusing the first tombstone for
// insert instead would break this: an overwrite could land in a
// tombstone that precedes the key's live record on the same probe
// chain, leaving the old record reachable again after the new one is
// deleted.
func findSlot(data []byte, seed uint32, key []byte, numSlots uint32, mode probeMode) (idx uint32, hit bool) {
	start := startSlot(seed, numSlots)

	for i := uint32(0); i < numSlots; i++ {
		cur := (start + i) % numSlots

		v := readSlot(data, cur)

		switch {
		case v == slotEmpty:
			return cur, false

		case v == slotTombstone:
			// tombstones are never reused by insert; only expunge
			// reclaims them. Keep probing past them for every mode.

		default:
			if recordKeyMatches(data, v, key) {
				return cur, true
			}
			// key differs: keep probing.
		}
	}

	// Every slot examined without an empty terminator: the caller is
	// responsible for ensuring free_slots > 0 before probing (via
	// expunge admission), so this indicates a corrupt or
	// fully-saturated directory. Return the seed's start slot so
	// callers have a deterministic (if useless) answer rather than a
	// panic on the hot path.
	return start, false
}

// recordKeyMatches reports whether the record at directory offset off
// has exactly the given key bytes.
func recordKeyMatches(data []byte, off uint32, key []byte) bool {
	if recordKeyLen(data, off) != uint32(len(key)) {
		return false
	}

	stored := recordKeyBytes(data, off)
	for i := range key {
		if stored[i] != key[i] {
			return false
		}
	}

	return true
}
