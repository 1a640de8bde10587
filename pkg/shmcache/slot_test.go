package shmcache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testNumSlots = 11

func newTestPage(numSlots uint32) []byte {
	page := make([]byte, headerSize+int(numSlots)*4+4096)

	h := pageHeader{
		Magic:     pageMagic,
		NumSlots:  numSlots,
		FreeSlots: numSlots,
		OldSlots:  0,
		FreeData:  headerSize + numSlots*4,
		FreeBytes: uint32(len(page)) - (headerSize + numSlots*4),
	}
	encodePageHeader(page, h)

	return page
}

// putRecord writes a live record at a chosen offset and points slot
// idx at it, bypassing writeEntry so slot tests can set up fixtures
// without depending on entry.go.
func putRecord(page []byte, idx, off uint32, key, value []byte) {
	writeEntryRecord(page, off, 0, 0, 0, 0, key, value)
	writeSlot(page, idx, off)
}

func Test_FindSlot_Read_Skips_Tombstones_And_Finds_Live_Key(t *testing.T) {
	t.Parallel()

	page := newTestPage(testNumSlots)
	seed := uint32(3)
	start := startSlot(seed, testNumSlots)

	writeSlot(page, start, slotTombstone)
	putRecord(page, (start+1)%testNumSlots, 200, []byte("k"), []byte("v"))

	idx, hit := findSlot(page, seed, []byte("k"), testNumSlots, probeRead)
	require.True(t, hit)
	require.Equal(t, (start+1)%testNumSlots, idx)
}

func Test_FindSlot_Read_Reports_Miss_At_Empty_Slot(t *testing.T) {
	t.Parallel()

	page := newTestPage(testNumSlots)
	seed := uint32(5)

	_, hit := findSlot(page, seed, []byte("missing"), testNumSlots, probeRead)
	require.False(t, hit)
}

func Test_FindSlot_Insert_Skips_Tombstone_And_Uses_Empty_Slot(t *testing.T) {
	t.Parallel()

	page := newTestPage(testNumSlots)
	seed := uint32(2)
	start := startSlot(seed, testNumSlots)

	writeSlot(page, start, slotTombstone)

	idx, hit := findSlot(page, seed, []byte("new-key"), testNumSlots, probeInsert)
	require.False(t, hit)
	require.Equal(t, (start+1)%testNumSlots, idx, "insert must never reuse a tombstone; only expunge reclaims it")
}

func Test_FindSlot_Read_And_Insert_Agree_When_A_Tombstone_Precedes_The_Empty_Terminator(t *testing.T) {
	t.Parallel()

	page := newTestPage(testNumSlots)
	seed := uint32(6)
	start := startSlot(seed, testNumSlots)

	writeSlot(page, start, slotTombstone)

	readIdx, readHit := findSlot(page, seed, []byte("missing"), testNumSlots, probeRead)
	insertIdx, insertHit := findSlot(page, seed, []byte("missing"), testNumSlots, probeInsert)

	require.False(t, readHit)
	require.False(t, insertHit)
	require.Equal(t, readIdx, insertIdx, "the slot a lookup miss reports must be exactly the slot an insert uses")
	require.Equal(t, (start+1)%testNumSlots, readIdx)
}

func Test_Delete_After_Overwrite_On_A_Colliding_Chain_Leaves_Key_Gone(t *testing.T) {
	t.Parallel()

	page := newTestPage(testNumSlots)
	seed := uint32(7)
	start := startSlot(seed, testNumSlots)

	// A, B, K collide at the same start slot.
	putRecord(page, start, 200, []byte("A"), []byte("a1"))
	putRecord(page, (start+1)%testNumSlots, 300, []byte("B"), []byte("b1"))
	putRecord(page, (start+2)%testNumSlots, 400, []byte("K"), []byte("k1"))

	// delete B: tombstones (start+1).
	bIdx, bHit := findSlot(page, seed, []byte("B"), testNumSlots, probeDelete)
	require.True(t, bHit)
	writeSlot(page, bIdx, slotTombstone)

	// overwrite K: must land back on K's own live slot (start+2), not
	// the tombstone left behind by B, or the old K record would remain
	// reachable at (start+2) after this overwrite is later deleted.
	kIdx, kHit := findSlot(page, seed, []byte("K"), testNumSlots, probeInsert)
	require.True(t, kHit)
	require.Equal(t, (start+2)%testNumSlots, kIdx)
	putRecord(page, kIdx, 500, []byte("K"), []byte("k2"))

	// delete K: tombstones (start+2).
	kIdx, kHit = findSlot(page, seed, []byte("K"), testNumSlots, probeDelete)
	require.True(t, kHit)
	writeSlot(page, kIdx, slotTombstone)

	_, hit := findSlot(page, seed, []byte("K"), testNumSlots, probeRead)
	require.False(t, hit, "a deleted key must not come back from a stale slot on its collision chain")
}

func Test_FindSlot_Insert_Continues_Past_Live_NonMatching_Key(t *testing.T) {
	t.Parallel()

	page := newTestPage(testNumSlots)
	seed := uint32(4)
	start := startSlot(seed, testNumSlots)

	putRecord(page, start, 200, []byte("other-key"), []byte("v"))

	idx, hit := findSlot(page, seed, []byte("my-key"), testNumSlots, probeInsert)
	require.False(t, hit)
	require.Equal(t, (start+1)%testNumSlots, idx)
}

func Test_FindSlot_Same_Seed_Gives_Same_Slot_Across_Modes_When_Missing(t *testing.T) {
	t.Parallel()

	page := newTestPage(testNumSlots)
	seed := uint32(1)

	readIdx, readHit := findSlot(page, seed, []byte("k"), testNumSlots, probeRead)
	insertIdx, insertHit := findSlot(page, seed, []byte("k"), testNumSlots, probeInsert)

	require.False(t, readHit)
	require.False(t, insertHit)
	require.Equal(t, readIdx, insertIdx)
}

func Test_RecordKeyMatches_Compares_Length_Then_Bytes(t *testing.T) {
	t.Parallel()

	page := make([]byte, 256)
	writeEntryRecord(page, 0, 0, 0, 0, 0, []byte("abc"), []byte("v"))

	require.True(t, recordKeyMatches(page, 0, []byte("abc")))
	require.False(t, recordKeyMatches(page, 0, []byte("abcd")))
	require.False(t, recordKeyMatches(page, 0, []byte("abx")))
}
