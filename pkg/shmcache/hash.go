package shmcache

// hashKey computes the 32-bit accumulator hash over key (§4.1):
// h starts at hashSeed, and for each byte b, h = rotl(h,4) + b,
// evaluated as (h<<4) + (h>>28) + b in 32-bit wraparound arithmetic.
func hashKey(key []byte) uint32 {
	h := hashSeed
	for _, b := range key {
		h = (h << 4) + (h >> 28) + uint32(b)
	}

	return h
}

// pageAndSeed splits a hash into a page index and a slot seed: the
// hash is stable across resizes because the page a key lives on never
// changes, only the slot directory size within that page does.
func pageAndSeed(h uint32, numPages uint32) (pageIdx uint32, slotSeed uint32) {
	pageIdx = h % numPages
	slotSeed = h / numPages

	return pageIdx, slotSeed
}

// startSlot returns the probe starting position for a slot seed given
// the page's current slot directory size.
func startSlot(seed, numSlots uint32) uint32 {
	return seed % numSlots
}
