package shmcache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_HashKey_Is_Deterministic(t *testing.T) {
	t.Parallel()

	a := hashKey([]byte("some-key"))
	b := hashKey([]byte("some-key"))

	require.Equal(t, a, b)
}

func Test_HashKey_Differs_For_Different_Keys(t *testing.T) {
	t.Parallel()

	a := hashKey([]byte("key-one"))
	b := hashKey([]byte("key-two"))

	require.NotEqual(t, a, b)
}

func Test_HashKey_Empty_Key_Returns_Seed(t *testing.T) {
	t.Parallel()

	require.Equal(t, hashSeed, hashKey(nil))
}

func Test_PageAndSeed_Splits_Hash_Consistently(t *testing.T) {
	t.Parallel()

	h := uint32(1000)
	numPages := uint32(7)

	pageIdx, seed := pageAndSeed(h, numPages)

	require.Equal(t, h%numPages, pageIdx)
	require.Equal(t, h/numPages, seed)
}

func Test_StartSlot_Wraps_Within_NumSlots(t *testing.T) {
	t.Parallel()

	require.Less(t, startSlot(1000, 89), uint32(89))
	require.Equal(t, uint32(0), startSlot(89, 89))
}
