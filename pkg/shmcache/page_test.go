package shmcache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_ValidatePageInvariants_Accepts_Freshly_Initialized_Page(t *testing.T) {
	t.Parallel()

	page := newTestPage(minNumSlots)
	h := decodePageHeader(page)

	require.NoError(t, validatePageInvariants(page, h, uint32(len(page))))
}

func Test_ValidatePageInvariants_Rejects_I1_Violation(t *testing.T) {
	t.Parallel()

	page := newTestPage(testNumSlots)
	h := decodePageHeader(page)
	h.FreeBytes-- // free_data + free_bytes now != page_size

	err := validatePageInvariants(page, h, uint32(len(page)))
	require.Error(t, err)
	require.ErrorIs(t, err, ErrPageCorrupt)
}

func Test_ValidatePageInvariants_Rejects_FreeSlots_Exceeding_NumSlots(t *testing.T) {
	t.Parallel()

	page := newTestPage(testNumSlots)
	h := decodePageHeader(page)
	h.FreeSlots = h.NumSlots + 1

	err := validatePageInvariants(page, h, uint32(len(page)))
	require.ErrorIs(t, err, ErrPageCorrupt)
}

func Test_ValidatePageInvariants_Rejects_OldSlots_Exceeding_FreeSlots(t *testing.T) {
	t.Parallel()

	page := newTestPage(testNumSlots)
	h := decodePageHeader(page)
	h.OldSlots = h.FreeSlots + 1

	err := validatePageInvariants(page, h, uint32(len(page)))
	require.ErrorIs(t, err, ErrPageCorrupt)
}

func Test_ValidatePageInvariants_Rejects_NumSlots_Below_Minimum(t *testing.T) {
	t.Parallel()

	page := newTestPage(testNumSlots)
	h := decodePageHeader(page)
	h.NumSlots = minNumSlots - 1

	err := validatePageInvariants(page, h, uint32(len(page)))
	require.ErrorIs(t, err, ErrPageCorrupt)
}

func Test_ValidatePageInvariants_Detects_Mismatched_Slot_Counts(t *testing.T) {
	t.Parallel()

	page := newTestPage(minNumSlots)
	writeSlot(page, 0, slotTombstone)
	h := decodePageHeader(page)
	// header still says free_slots == num_slots (no tombstones accounted for)

	err := validatePageInvariants(page, h, uint32(len(page)))
	require.ErrorIs(t, err, ErrPageCorrupt)
}

func Test_ValidateRecordInvariants_Accepts_A_Correctly_Written_Live_Record(t *testing.T) {
	t.Parallel()

	page := newTestPage(testNumSlots)
	seed := uint32(3)
	start := startSlot(seed, testNumSlots)

	off := decodePageHeader(page).FreeData
	writeEntryRecord(page, off, 0, 0, seed, 0, []byte("k"), []byte("v"))
	writeSlot(page, start, off)

	h := decodePageHeader(page)
	h.FreeSlots--
	h.FreeData += recordLen(1, 1)
	h.FreeBytes -= recordLen(1, 1)
	encodePageHeader(page, h)

	require.NoError(t, validateRecordInvariants(page, h, uint32(len(page))))
}

func Test_ValidateRecordInvariants_Rejects_Record_Offset_Out_Of_Bounds(t *testing.T) {
	t.Parallel()

	page := newTestPage(testNumSlots)
	h := decodePageHeader(page)
	writeSlot(page, 0, uint32(len(page))+4) // past the end of the page

	err := validateRecordInvariants(page, h, uint32(len(page)))
	require.ErrorIs(t, err, ErrPageCorrupt)
}

func Test_ValidateRecordInvariants_Rejects_Record_Extending_Past_FreeData(t *testing.T) {
	t.Parallel()

	page := newTestPage(testNumSlots)
	seed := uint32(3)
	start := startSlot(seed, testNumSlots)

	off := decodePageHeader(page).FreeData
	writeEntryRecord(page, off, 0, 0, seed, 0, []byte("k"), []byte("v"))
	writeSlot(page, start, off)
	// free_data left unchanged: the record claims bytes the header
	// doesn't account for.

	h := decodePageHeader(page)
	err := validateRecordInvariants(page, h, uint32(len(page)))
	require.ErrorIs(t, err, ErrPageCorrupt)
}

func Test_ValidateRecordInvariants_Rejects_Record_That_Does_Not_Hash_Back_To_Its_Slot(t *testing.T) {
	t.Parallel()

	page := newTestPage(testNumSlots)
	realSeed := uint32(3)
	wrongSlot := (startSlot(realSeed, testNumSlots) + 1) % testNumSlots

	off := decodePageHeader(page).FreeData
	// record's stored slot_hash points elsewhere than the slot that
	// actually holds it.
	writeEntryRecord(page, off, 0, 0, realSeed, 0, []byte("k"), []byte("v"))
	writeSlot(page, wrongSlot, off)

	h := decodePageHeader(page)
	h.FreeSlots--
	h.FreeData += recordLen(1, 1)
	h.FreeBytes -= recordLen(1, 1)
	encodePageHeader(page, h)

	err := validateRecordInvariants(page, h, uint32(len(page)))
	require.ErrorIs(t, err, ErrPageCorrupt)
}

func Test_PageCursor_MarkDirty_Is_Idempotent_And_Only_Transitions_From_Locked(t *testing.T) {
	t.Parallel()

	cur := &pageCursor{state: pageLocked}
	cur.markDirty()
	require.Equal(t, pageLockedDirty, cur.state)

	cur.markDirty()
	require.Equal(t, pageLockedDirty, cur.state)

	unattached := &pageCursor{state: pageUnattached}
	unattached.markDirty()
	require.Equal(t, pageUnattached, unattached.state)
}

func Test_PageCursor_Lock_Panics_When_Already_Locked(t *testing.T) {
	t.Parallel()

	cur := &pageCursor{state: pageLocked}

	require.Panics(t, func() {
		_ = cur.lock(0)
	})
}

func Test_PageCursor_Unlock_Panics_When_Unattached(t *testing.T) {
	t.Parallel()

	cur := &pageCursor{state: pageUnattached}

	require.Panics(t, func() {
		_ = cur.unlock()
	})
}
