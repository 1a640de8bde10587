package shmcache

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/coreslate/shmkv/pkg/fs"
)

// Stats mirrors the counters the source implementation exposes via
// get_statistics()/clear_statistics(), dropped by the initial
// distillation and recovered here (§10).
type Stats struct {
	Reads          uint64
	ReadHits       uint64
	ReadMisses     uint64
	Writes         uint64
	WriteFailures  uint64
	Deletes        uint64
	DeleteHits     uint64
	Expunges       uint64
	Evictions      uint64
	ExpiredOnRead  uint64
	WritebackCalls uint64
	WritebackFails uint64
}

// KeyMode selects how much per-key detail GetKeys returns (§6's
// get_keys(mode)).
type KeyMode int

const (
	// KeyModeKeys returns only keys.
	KeyModeKeys KeyMode = iota

	// KeyModeMetadata adds each entry's last_access and expire_time.
	KeyModeMetadata

	// KeyModeValues adds the raw stored value on top of KeyModeMetadata.
	KeyModeValues
)

// KeyEntry is one row of a GetKeys result. Value, LastAccess, and
// ExpireTime are populated according to the KeyMode passed to GetKeys.
type KeyEntry struct {
	Key        []byte
	Value      []byte
	LastAccess uint32
	ExpireTime uint32
}

// Cache is a handle onto a shared-memory, page-sharded KV cache backed
// by a single mmap'd file (§6).
type Cache struct {
	opts     Options
	file     fs.File
	mapped   []byte
	numPages uint32
	pageSize uint32

	cb callbacks

	mu     sync.Mutex
	stats  Stats
	closed bool
}

// Open attaches to (creating if necessary) the share file named by
// o.SharePath, initializing pages as needed (§6, §8).
func Open(o Options) (*Cache, error) {
	o, err := o.withDefaults()
	if err != nil {
		return nil, err
	}

	file, mapped, wroteInit, err := openShareFile(o)
	if err != nil {
		return nil, err
	}

	if wroteInit {
		if err := writeMetaSidecar(o); err != nil {
			_ = munmapFile(mapped)
			_ = file.Close()

			return nil, err
		}
	}

	c := &Cache{
		opts:     o,
		file:     file,
		mapped:   mapped,
		numPages: o.NumPages,
		pageSize: o.PageSize,
		cb: callbacks{
			onRead:   o.OnRead,
			onWrite:  o.OnWrite,
			onDelete: o.OnDelete,
		},
	}

	return c, nil
}

// Close unmaps and closes the share file. The Cache must not be used
// afterward.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return wrapf(ErrClosed, "cache already closed")
	}

	c.closed = true

	munmapErr := munmapFile(c.mapped)
	closeErr := c.file.Close()

	if munmapErr != nil {
		return munmapErr
	}

	return closeErr
}

func (c *Cache) now() uint32 {
	return uint32(time.Now().Unix())
}

// Flush forces the mapped region out to the backing file via msync.
// The kernel writes dirty pages back on its own schedule regardless;
// Flush exists for callers that need mutations visible on disk before
// returning, e.g. before a controlled shutdown or a backup snapshot.
// It does not affect any in-progress page lock.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return wrapf(ErrClosed, "cache already closed")
	}

	return msyncFile(c.mapped)
}

func (c *Cache) newPageCursor() *pageCursor {
	return &pageCursor{
		fd:          int(c.file.Fd()),
		mapped:      c.mapped,
		pageSize:    c.pageSize,
		lockTimeout: c.opts.LockTimeout,
	}
}

func (c *Cache) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return wrapf(ErrClosed, "cache is closed")
	}

	return nil
}

func (c *Cache) recordRead(hit, expired bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Reads++

	if hit {
		c.stats.ReadHits++

		return
	}

	c.stats.ReadMisses++

	if expired {
		c.stats.ExpiredOnRead++
	}
}

// Get looks up key and, on a hit, decodes the stored value into out
// via Options.Codec (RawCodec if RawValues is set, requiring out to be
// a *[]byte). On a miss, if OnRead is registered it is consulted for
// read-through before Get reports a miss.
func (c *Cache) Get(key []byte, out any) (found bool, err error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}

	h := hashKey(key)
	pageIdx, seed := pageAndSeed(h, c.numPages)

	cur := c.newPageCursor()
	if err := cur.lock(pageIdx); err != nil {
		return false, err
	}

	now := c.now()
	raw, _, found := cur.readEntry(seed, key, now)

	expired := !found && cur.state == pageLockedDirty

	if found {
		if err := cur.unlock(); err != nil {
			return false, err
		}

		c.recordRead(true, false)

		if err := c.opts.Codec.Decode(raw, out); err != nil {
			return true, wrapf(ErrConfigInvalid, "get: decode value: %v", err)
		}

		return true, nil
	}

	if c.cb.onRead == nil {
		if err := cur.unlock(); err != nil {
			return false, err
		}

		c.recordRead(false, expired)

		return false, nil
	}

	raw, found, victims, rtErr := c.readThroughLocked(cur, seed, key, now)

	if err := cur.unlock(); err != nil {
		return false, err
	}

	c.writeBackVictims(victims)
	c.recordRead(false, expired)

	if rtErr != nil {
		return false, rtErr
	}

	if !found {
		return false, nil
	}

	if err := c.opts.Codec.Decode(raw, out); err != nil {
		return true, wrapf(ErrConfigInvalid, "get: decode value: %v", err)
	}

	return true, nil
}

// readThroughLocked consults Options.OnRead for a miss while cur's
// page lock is still held (§4.7: "call it outside the expunge but
// still under the page lock"). A returned value is admitted into the
// slot the miss found, running admission MAKE_ROOM first if needed.
// A definitive "not found" is memoized as an empty-value record with
// expire_time=now when Options.CacheNotFound is set; the first read
// after the clock has moved past now tombstones it via ordinary lazy
// expiry and then consults OnRead again. The admission write here bypasses both the
// value codec and write_cb: it stores OnRead's raw bytes directly and
// is not a caller-driven set().
func (c *Cache) readThroughLocked(cur *pageCursor, seed uint32, key []byte, now uint32) (raw []byte, found bool, victims []liveEntry, err error) {
	if err := c.cb.enter(); err != nil {
		return nil, false, nil, err
	}

	raw, found, cbErr := c.cb.onRead(key)
	c.cb.leave()

	if cbErr != nil {
		return nil, false, nil, wrapf(ErrCallbackFailed, "read-through callback: %v", cbErr)
	}

	if found {
		expireTime := absoluteExpireTime(now, c.opts.DefaultExpireSeconds)

		_, victims, err := c.writeWithAdmission(cur, seed, key, raw, 0, now, expireTime)
		if err != nil {
			return nil, false, nil, err
		}

		return raw, true, victims, nil
	}

	if !c.opts.CacheNotFound {
		return nil, false, nil, nil
	}

	_, victims, err = c.writeWithAdmission(cur, seed, key, nil, 0, now, now)

	return nil, false, victims, err
}

func absoluteExpireTime(now, expireSeconds uint32) uint32 {
	if expireSeconds == 0 {
		return 0
	}

	return now + expireSeconds
}

// writeWithAdmission writes key/value into cur's already-locked page,
// first running an admission MAKE_ROOM expunge whenever the page lacks
// slot or byte headroom for the record.
func (c *Cache) writeWithAdmission(cur *pageCursor, seed uint32, key, value []byte, flags, now, expireTime uint32) (ok bool, victims []liveEntry, err error) {
	if !hasMakeRoomHeadroom(cur.header, len(key)+len(value)) {
		victims, err = c.runExpunge(cur, expungeMakeRoom, len(key)+len(value), now)
		if err != nil {
			return false, nil, err
		}
	}

	ok = cur.writeEntryAt(seed, key, value, flags, now, expireTime)

	return ok, victims, nil
}

// invokeWriteThrough calls Options.OnWrite outside any page lock,
// per §4.7's write-through rule (fires when write-back is disabled,
// or the write did not fit even after an admission expunge). Failures
// are logged, not returned: a write_cb failure must not unwind a Set
// that already succeeded against the mapped page.
func (c *Cache) invokeWriteThrough(key, value []byte) {
	if err := c.cb.enter(); err != nil {
		c.opts.Logf("shmcache: write-through callback skipped: %v", err)

		return
	}
	defer c.cb.leave()

	c.mu.Lock()
	c.stats.WritebackCalls++
	c.mu.Unlock()

	if err := c.cb.onWrite(key, value); err != nil {
		c.mu.Lock()
		c.stats.WritebackFails++
		c.mu.Unlock()

		c.opts.Logf("shmcache: write-through callback failed for key: %v", err)
	}
}

// Set encodes value via Options.Codec (RawCodec if RawValues is set,
// requiring value to be a []byte) and stores it under key with the
// given TTL in seconds (0 uses Options.DefaultExpireSeconds; pass a
// nonzero value to override it per call).
//
// The record is written with the DIRTY flag set if and only if
// Options.WriteBack is enabled (§4.7, §6). If write-back is disabled,
// or the write did not fit even after an admission expunge, write_cb
// is invoked outside the page lock; under write-back, dirty victims
// are instead written back lazily as they are evicted or on Empty.
func (c *Cache) Set(key []byte, value any, expireSeconds uint32) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	raw, err := c.opts.Codec.Encode(value)
	if err != nil {
		return wrapf(ErrConfigInvalid, "set: encode value: %v", err)
	}

	if expireSeconds == 0 {
		expireSeconds = c.opts.DefaultExpireSeconds
	}

	if len(key) > maxKeyLen {
		return wrapf(ErrConfigInvalid, "key length %d exceeds maximum %d", len(key), maxKeyLen)
	}

	if len(raw) > maxValueLen {
		return wrapf(ErrConfigInvalid, "value length %d exceeds maximum %d", len(raw), maxValueLen)
	}

	h := hashKey(key)
	pageIdx, seed := pageAndSeed(h, c.numPages)

	var flags uint32
	if c.opts.WriteBack {
		flags = flagDirty
	}

	cur := c.newPageCursor()
	if err := cur.lock(pageIdx); err != nil {
		return err
	}

	now := c.now()
	expireTime := absoluteExpireTime(now, expireSeconds)

	ok, victims, err := c.writeWithAdmission(cur, seed, key, raw, flags, now, expireTime)
	if err != nil {
		_ = cur.unlock()

		return err
	}

	if err := cur.unlock(); err != nil {
		return err
	}

	c.writeBackVictims(victims)

	c.mu.Lock()
	c.stats.Writes++
	if !ok {
		c.stats.WriteFailures++
	}
	c.mu.Unlock()

	if (!ok || !c.opts.WriteBack) && c.cb.onWrite != nil {
		c.invokeWriteThrough(key, raw)
	}

	if !ok {
		return wrapf(ErrIOFailed, "set: record for key does not fit on its page even after expunge")
	}

	return nil
}

// GetAndSet atomically reads the current raw stored bytes for key
// (found=false if absent) under the page's lock, then writes fn's
// result back before releasing it (§4.7's get_and_set), applying the
// same write-back/write-through policy as Set. It operates on raw
// stored bytes rather than through Options.Codec, since fn's
// transform is typically an in-place mutation (e.g. a counter
// increment) on the stored representation itself.
func (c *Cache) GetAndSet(key []byte, fn func(old []byte, found bool) (newValue []byte, err error)) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	h := hashKey(key)
	pageIdx, seed := pageAndSeed(h, c.numPages)

	cur := c.newPageCursor()
	if err := cur.lock(pageIdx); err != nil {
		return err
	}

	now := c.now()

	old, _, found := cur.readEntry(seed, key, now)

	newValue, fnErr := fn(old, found)
	if fnErr != nil {
		_ = cur.unlock()

		return fnErr
	}

	var flags uint32
	if c.opts.WriteBack {
		flags = flagDirty
	}

	expireTime := absoluteExpireTime(now, c.opts.DefaultExpireSeconds)

	ok, victims, err := c.writeWithAdmission(cur, seed, key, newValue, flags, now, expireTime)
	if err != nil {
		_ = cur.unlock()

		return err
	}

	if err := cur.unlock(); err != nil {
		return err
	}

	c.writeBackVictims(victims)

	if (!ok || !c.opts.WriteBack) && c.cb.onWrite != nil {
		c.invokeWriteThrough(key, newValue)
	}

	if !ok {
		return wrapf(ErrIOFailed, "getandset: record for key does not fit on its page even after expunge")
	}

	return nil
}

// Remove deletes key, returning whether it was present.
func (c *Cache) Remove(key []byte) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}

	h := hashKey(key)
	pageIdx, seed := pageAndSeed(h, c.numPages)

	cur := c.newPageCursor()
	if err := cur.lock(pageIdx); err != nil {
		return false, err
	}

	deleted, _ := cur.deleteEntry(seed, key)

	if err := cur.unlock(); err != nil {
		return false, err
	}

	c.mu.Lock()
	c.stats.Deletes++
	if deleted {
		c.stats.DeleteHits++
	}
	c.mu.Unlock()

	if deleted && c.cb.onDelete != nil {
		if err := c.cb.enter(); err != nil {
			return deleted, err
		}
		defer c.cb.leave()

		if err := c.cb.onDelete(key); err != nil {
			return deleted, wrapf(ErrCallbackFailed, "delete callback: %v", err)
		}
	}

	return deleted, nil
}

// Clear discards every entry on every page without invoking the
// write-back hook.
func (c *Cache) Clear() error {
	return c.expungeAllPages(expungeAll, -1, false)
}

// Purge removes only expired entries across every page, invoking the
// write-back hook for any dirty victim.
func (c *Cache) Purge() error {
	return c.expungeAllPages(expungeExpiredOnly, -1, true)
}

// Empty discards every entry (or, if onlyExpired is set, only expired
// entries) across every page, always invoking the write-back hook for
// any dirty victim so a write-back entry is never silently lost
// (§6: empty(only_expired?) "invokes write-back for dirty victims").
func (c *Cache) Empty(onlyExpired bool) error {
	mode := expungeAll
	if onlyExpired {
		mode = expungeExpiredOnly
	}

	return c.expungeAllPages(mode, -1, true)
}

func (c *Cache) expungeAllPages(mode expungeMode, makeRoomLen int, writeBack bool) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	now := c.now()
	cur := c.newPageCursor()

	for i := uint32(0); i < c.numPages; i++ {
		if err := cur.lock(i); err != nil {
			return err
		}

		victims, err := c.runExpunge(cur, mode, makeRoomLen, now)
		if err != nil {
			_ = cur.unlock()

			return err
		}

		if err := cur.unlock(); err != nil {
			return err
		}

		if writeBack {
			c.writeBackVictims(victims)
		}
	}

	return nil
}

// runExpunge scans cur's currently-locked page, decides victims via
// calcExpunge, and rebuilds the page via doExpunge if there is
// anything to do. It must be called with cur already locked on the
// target page.
func (c *Cache) runExpunge(cur *pageCursor, mode expungeMode, makeRoomLen int, now uint32) ([]liveEntry, error) {
	all := scanLiveEntries(cur.data, cur.header.NumSlots)

	newNumSlots, victims := calcExpunge(mode, makeRoomLen, all, cur.header, cur.pageSize, now)

	if newNumSlots == cur.header.NumSlots && len(victims) == 0 {
		return nil, nil
	}

	victimSlots := make(map[uint32]bool, len(victims))
	for _, v := range victims {
		victimSlots[v.slotIdx] = true
	}

	survivors := make([]liveEntry, 0, len(all)-len(victims))

	for _, e := range all {
		if !victimSlots[e.slotIdx] {
			survivors = append(survivors, e)
		}
	}

	if err := doExpunge(cur, newNumSlots, survivors); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.stats.Expunges++
	c.stats.Evictions += uint64(len(victims))
	c.mu.Unlock()

	return victims, nil
}

// writeBackVictims invokes Options.OnWrite for every victim flagged
// dirty, outside any page lock.
func (c *Cache) writeBackVictims(victims []liveEntry) {
	if c.cb.onWrite == nil {
		return
	}

	for _, v := range victims {
		if v.flags&flagDirty == 0 {
			continue
		}

		c.invokeWriteThrough(v.key, v.value)
	}
}

// GetKeys lists live keys. mode controls how much per-entry detail is
// returned: KeyModeKeys for keys only, KeyModeMetadata to add
// last_access/expire_time, KeyModeValues to also include the raw
// stored value (§6's get_keys(mode)).
func (c *Cache) GetKeys(mode KeyMode) ([]KeyEntry, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	it := newIterator(c)

	var out []KeyEntry

	for it.Next() {
		e := KeyEntry{Key: append([]byte(nil), it.Key()...)}

		if mode >= KeyModeMetadata {
			e.LastAccess = it.LastAccess()
			e.ExpireTime = it.ExpireTime()
		}

		if mode >= KeyModeValues {
			e.Value = append([]byte(nil), it.Value()...)
		}

		out = append(out, e)
	}

	return out, it.Err()
}

// compositeKey joins a page-key and a subkey into the byte string
// actually stored for a multi_get/multi_set entry. The page-key is
// length-prefixed so no split of the combined bytes across a
// different page-key/subkey boundary can collide with it.
func compositeKey(pageKey, subKey []byte) []byte {
	buf := make([]byte, 4+len(pageKey)+len(subKey))
	binary.LittleEndian.PutUint32(buf, uint32(len(pageKey)))
	copy(buf[4:], pageKey)
	copy(buf[4+len(pageKey):], subKey)

	return buf
}

// MultiGet reads several subkeys stored under one page-key in a
// single page lock (§6's multi_get(pk, [k...])): pageKey alone selects
// the page, and every subkey is looked up within that page under one
// lock acquisition instead of one lock per key. Values are raw stored
// bytes, bypassing Options.Codec, matching GetAndSet.
func (c *Cache) MultiGet(pageKey []byte, subkeys [][]byte) (map[string][]byte, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	pageIdx := hashKey(pageKey) % c.numPages

	cur := c.newPageCursor()
	if err := cur.lock(pageIdx); err != nil {
		return nil, err
	}

	now := c.now()
	out := make(map[string][]byte, len(subkeys))

	for _, sub := range subkeys {
		full := compositeKey(pageKey, sub)
		seed := hashKey(full)

		value, _, found := cur.readEntry(seed, full, now)
		if found {
			out[string(sub)] = value
		}
	}

	if err := cur.unlock(); err != nil {
		return out, err
	}

	c.mu.Lock()
	c.stats.Reads += uint64(len(subkeys))
	c.mu.Unlock()

	return out, nil
}

// MultiSet writes several subkeys under one page-key in a single page
// lock (§6's multi_set(pk, map)), applying the same write-back/
// write-through policy as Set to each entry.
func (c *Cache) MultiSet(pageKey []byte, kvs map[string][]byte, expireSeconds uint32) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	if expireSeconds == 0 {
		expireSeconds = c.opts.DefaultExpireSeconds
	}

	var flags uint32
	if c.opts.WriteBack {
		flags = flagDirty
	}

	pageIdx := hashKey(pageKey) % c.numPages

	cur := c.newPageCursor()
	if err := cur.lock(pageIdx); err != nil {
		return err
	}

	now := c.now()
	expireTime := absoluteExpireTime(now, expireSeconds)

	var victims []liveEntry

	allOK := true
	writeThrough := make(map[string][]byte)

	for sub, value := range kvs {
		if len(value) > maxValueLen {
			_ = cur.unlock()

			return wrapf(ErrConfigInvalid, "value length %d exceeds maximum %d", len(value), maxValueLen)
		}

		full := compositeKey(pageKey, []byte(sub))
		if len(full) > maxKeyLen {
			_ = cur.unlock()

			return wrapf(ErrConfigInvalid, "composite key length %d exceeds maximum %d", len(full), maxKeyLen)
		}

		seed := hashKey(full)

		ok, v, err := c.writeWithAdmission(cur, seed, full, value, flags, now, expireTime)
		if err != nil {
			_ = cur.unlock()

			return err
		}

		victims = append(victims, v...)

		if !ok {
			allOK = false
		}

		if !ok || !c.opts.WriteBack {
			writeThrough[sub] = value
		}
	}

	if err := cur.unlock(); err != nil {
		return err
	}

	c.writeBackVictims(victims)

	c.mu.Lock()
	c.stats.Writes += uint64(len(kvs))
	if !allOK {
		c.stats.WriteFailures++
	}
	c.mu.Unlock()

	if c.cb.onWrite != nil {
		for sub, value := range writeThrough {
			c.invokeWriteThrough([]byte(sub), value)
		}
	}

	if !allOK {
		return wrapf(ErrIOFailed, "multiset: one or more records did not fit on the page key's page even after expunge")
	}

	return nil
}

// Stats returns a snapshot of the cache's cumulative counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stats
}
