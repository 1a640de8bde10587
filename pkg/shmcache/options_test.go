package shmcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_WithDefaults_Requires_SharePath(t *testing.T) {
	t.Parallel()

	_, err := Options{}.withDefaults()
	require.ErrorIs(t, err, ErrConfigInvalid)
}

func Test_WithDefaults_Fills_In_Package_Defaults(t *testing.T) {
	t.Parallel()

	o, err := Options{SharePath: "/tmp/x", RawValues: true}.withDefaults()
	require.NoError(t, err)

	require.Equal(t, uint32(defaultNumPages), o.NumPages)
	require.Equal(t, uint32(defaultPageSize), o.PageSize)
	require.Equal(t, uint32(defaultStartSlots), o.InitSlots)
	require.Equal(t, time.Duration(defaultLockTimeoutSeconds)*time.Second, o.LockTimeout)
	require.IsType(t, RawCodec{}, o.Codec)
	require.NotNil(t, o.Filesystem)
	require.NotNil(t, o.Logf)
}

func Test_WithDefaults_Rejects_Codec_Missing_Without_RawValues(t *testing.T) {
	t.Parallel()

	_, err := Options{SharePath: "/tmp/x"}.withDefaults()
	require.ErrorIs(t, err, ErrConfigInvalid)
}

func Test_WithDefaults_Rejects_PageSize_Out_Of_Range(t *testing.T) {
	t.Parallel()

	_, err := Options{SharePath: "/tmp/x", RawValues: true, PageSize: 16}.withDefaults()
	require.ErrorIs(t, err, ErrConfigInvalid)
}

func Test_WithDefaults_Rejects_PageSize_Not_A_Power_Of_Two(t *testing.T) {
	t.Parallel()

	_, err := Options{SharePath: "/tmp/x", RawValues: true, PageSize: 24 * 1024}.withDefaults()
	require.ErrorIs(t, err, ErrConfigInvalid)
}

func Test_WithDefaults_Rejects_NumPages_Above_Maximum(t *testing.T) {
	t.Parallel()

	_, err := Options{SharePath: "/tmp/x", RawValues: true, NumPages: maxNumPages + 1}.withDefaults()
	require.ErrorIs(t, err, ErrConfigInvalid)
}

func Test_WithDefaults_Warns_On_NonPrime_NumPages(t *testing.T) {
	t.Parallel()

	var warned string

	o := Options{
		SharePath: "/tmp/x",
		RawValues: true,
		NumPages:  90, // not prime
		Logf:      func(format string, args ...any) { warned = format },
	}

	_, err := o.withDefaults()
	require.NoError(t, err)
	require.Contains(t, warned, "not prime")
}

func Test_IsPrime(t *testing.T) {
	t.Parallel()

	require.True(t, isPrime(89))
	require.True(t, isPrime(2))
	require.False(t, isPrime(1))
	require.False(t, isPrime(0))
	require.False(t, isPrime(90))
}

func Test_ParseSize_Accepts_Suffixes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want uint32
	}{
		{"4096", 4096},
		{"4k", 4 * 1024},
		{"16m", 16 * 1024 * 1024},
		{"1g", 1 * 1024 * 1024 * 1024},
	}

	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}
}

func Test_ParseSize_Rejects_Garbage(t *testing.T) {
	t.Parallel()

	_, err := ParseSize("not-a-size")
	require.Error(t, err)
}

func Test_ParseDuration_Accepts_Bare_Seconds_Days_And_Std_Durations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want time.Duration
	}{
		{"30", 30 * time.Second},
		{"1d", 24 * time.Hour},
		{"1h", time.Hour},
		{"90s", 90 * time.Second},
	}

	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}
}
