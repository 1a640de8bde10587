package shmcache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_PageHeader_Roundtrips_Through_EncodeDecode(t *testing.T) {
	t.Parallel()

	page := make([]byte, defaultPageSize)

	want := pageHeader{
		Magic:     pageMagic,
		NumSlots:  89,
		FreeSlots: 12,
		OldSlots:  3,
		FreeData:  headerSize + 89*4,
		FreeBytes: 1000,
	}

	encodePageHeader(page, want)
	got := decodePageHeader(page)

	require.Equal(t, want, got)
}

func Test_EncodePageHeader_Zeroes_Reserved_Bytes(t *testing.T) {
	t.Parallel()

	page := make([]byte, headerSize)
	for i := range page {
		page[i] = 0xFF
	}

	encodePageHeader(page, pageHeader{})

	for i := offReserved; i < headerSize; i++ {
		require.Zerof(t, page[i], "reserved byte %d not zeroed", i)
	}
}

func Test_SlotDirectory_ReadWrite_Roundtrips(t *testing.T) {
	t.Parallel()

	numSlots := uint32(89)
	page := make([]byte, headerSize+int(numSlots)*4)

	writeSlot(page, 0, slotEmpty)
	writeSlot(page, 1, slotTombstone)
	writeSlot(page, 2, 12345)
	writeSlot(page, numSlots-1, 999)

	require.Equal(t, uint32(slotEmpty), readSlot(page, 0))
	require.Equal(t, uint32(slotTombstone), readSlot(page, 1))
	require.Equal(t, uint32(12345), readSlot(page, 2))
	require.Equal(t, uint32(999), readSlot(page, numSlots-1))
}

func Test_WriteEntryRecord_Roundtrips_Key_And_Value(t *testing.T) {
	t.Parallel()

	page := make([]byte, 4096)
	key := []byte("hello")
	value := []byte("world!!")

	writeEntryRecord(page, 100, 111, 222, 333, flagDirty, key, value)

	rec := decodeEntryRecordHeader(page, 100)
	require.Equal(t, uint32(111), rec.LastAccess)
	require.Equal(t, uint32(222), rec.ExpireTime)
	require.Equal(t, uint32(333), rec.SlotHash)
	require.Equal(t, flagDirty, rec.Flags)

	require.Equal(t, key, recordKeyBytes(page, 100))
	require.Equal(t, value, recordValueBytes(page, 100))
}

func Test_WriteEntryRecord_ZeroFills_Padding_Tail(t *testing.T) {
	t.Parallel()

	page := make([]byte, 4096)
	for i := range page {
		page[i] = 0xAA
	}

	key := []byte("k")
	value := []byte("v")

	writeEntryRecord(page, 0, 0, 0, 0, 0, key, value)

	total := recordLen(len(key), len(value))
	for i := recFixedSize + len(key) + len(value); i < int(total); i++ {
		require.Zerof(t, page[i], "padding byte %d not zeroed", i)
	}
}

func Test_RecordLen_RoundsUpToMultipleOf4(t *testing.T) {
	t.Parallel()

	tests := []struct {
		keyLen, valueLen int
		want             uint32
	}{
		{0, 0, recFixedSize},
		{1, 0, recFixedSize + 4},
		{4, 0, recFixedSize + 4},
		{3, 1, recFixedSize + 4},
		{5, 3, recFixedSize + 8},
	}

	for _, tt := range tests {
		got := recordLen(tt.keyLen, tt.valueLen)
		require.Equal(t, tt.want, got, "recordLen(%d, %d)", tt.keyLen, tt.valueLen)
	}
}

func Test_RoundUp4(t *testing.T) {
	t.Parallel()

	require.Equal(t, uint32(0), roundUp4(0))
	require.Equal(t, uint32(4), roundUp4(1))
	require.Equal(t, uint32(4), roundUp4(4))
	require.Equal(t, uint32(8), roundUp4(5))
}
