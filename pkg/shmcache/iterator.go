package shmcache

// Iterator walks every live, non-expired entry in the cache, one page
// at a time (§4.6). It takes and releases each page's lock in turn;
// there is no cross-page snapshot guarantee, so a key inserted or
// removed on a page the iterator has already passed (or has not yet
// reached) may or may not be observed.
type Iterator struct {
	c   *Cache
	cur *pageCursor

	pageIdx uint32
	numPages uint32

	entries []liveEntry
	pos     int

	err  error
	done bool
}

// newIterator returns an Iterator starting at page 0. It does not lock
// any page until the first call to Next.
func newIterator(c *Cache) *Iterator {
	return &Iterator{
		c:        c,
		cur:      c.newPageCursor(),
		pageIdx:  0,
		numPages: c.numPages,
	}
}

// Next advances to the next live entry, loading and unlocking pages as
// needed. It returns false when iteration is complete or an error
// occurred; callers should check Err after Next returns false.
func (it *Iterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}

	for {
		if it.pos < len(it.entries) {
			it.pos++

			return it.pos <= len(it.entries)
		}

		if it.pageIdx >= it.numPages {
			it.done = true

			return false
		}

		if err := it.loadPage(it.pageIdx); err != nil {
			it.err = err
			it.done = true

			return false
		}

		it.pageIdx++
		it.pos = 0
	}
}

// loadPage locks page idx, snapshots its live entries (excluding those
// already expired as of now), and unlocks it again. Holding the page
// lock only long enough to copy out entries keeps the iterator from
// blocking writers for the whole traversal.
func (it *Iterator) loadPage(idx uint32) error {
	if err := it.cur.lock(idx); err != nil {
		return err
	}

	now := it.c.now()
	all := scanLiveEntries(it.cur.data, it.cur.header.NumSlots)

	live := make([]liveEntry, 0, len(all))
	for _, e := range all {
		if e.expireTime != 0 && e.expireTime <= now {
			continue
		}

		live = append(live, e)
	}

	if err := it.cur.unlock(); err != nil {
		return err
	}

	it.entries = live

	return nil
}

// Key returns the current entry's key. Valid only after Next returns
// true.
func (it *Iterator) Key() []byte {
	return it.entries[it.pos-1].key
}

// Value returns the current entry's raw stored bytes, exactly as
// written on set. When Options.Codec is not RawCodec these bytes are
// the codec's encoded form; the iterator never decodes them.
func (it *Iterator) Value() []byte {
	return it.entries[it.pos-1].value
}

// LastAccess returns the current entry's last_access timestamp.
func (it *Iterator) LastAccess() uint32 {
	return it.entries[it.pos-1].lastAccess
}

// ExpireTime returns the current entry's expire_time (0 means the
// entry has no TTL).
func (it *Iterator) ExpireTime() uint32 {
	return it.entries[it.pos-1].expireTime
}

// Err returns the first error encountered during iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}
