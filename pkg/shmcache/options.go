package shmcache

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/coreslate/shmkv/pkg/fs"
)

// Options configures Open (§6). Zero values are replaced with the
// package defaults documented on each field.
type Options struct {
	// SharePath is the path to the backing mmap file. Required.
	SharePath string

	// NumPages is the number of independently-lockable pages the
	// share file is split into. Defaults to defaultNumPages. Prefer a
	// value with no small factors (a prime) so keys spread evenly;
	// see Logf for the non-prime warning.
	NumPages uint32

	// PageSize is the byte size of each page, rounded up internally to
	// a multiple of 4. Defaults to defaultPageSize.
	PageSize uint32

	// InitSlots is the initial slot-directory size for pages created
	// by this Open call. Defaults to defaultStartSlots.
	InitSlots uint32

	// LockTimeout bounds how long a page lock attempt polls before
	// returning ErrLockTimeout. Defaults to 10s.
	LockTimeout time.Duration

	// DefaultExpireSeconds is the TTL applied to Set calls that don't
	// specify one. 0 means entries never expire by default.
	DefaultExpireSeconds uint32

	// RawValues selects RawCodec; otherwise Codec must be set.
	RawValues bool
	Codec     Codec

	// WriteBack selects the write_action policy (§4.7, §6): when
	// true, Set marks records DIRTY instead of invoking OnWrite
	// immediately, deferring the write-back callback until the entry
	// is evicted, purged, or discarded by Empty. Defaults to false
	// (write_through), which invokes OnWrite on every Set.
	WriteBack bool

	// CacheNotFound memoizes a read-through miss (OnRead returning
	// found=false) as an empty-value record with expire_time=now. The
	// first lookup after the clock has moved past that second
	// tombstones it via ordinary lazy expiry and calls OnRead again (§6).
	CacheNotFound bool

	// Filesystem defaults to fs.NewReal(); tests substitute a fake.
	Filesystem fs.FS

	// InitFile forces (re)initialization of the share file's pages
	// even if it already exists and looks valid.
	InitFile bool

	// TestFile runs a full per-page integrity scan at attach time,
	// reinitializing any page that fails validation instead of
	// failing Open outright.
	TestFile bool

	OnRead   ReadFunc
	OnWrite  WriteFunc
	OnDelete DeleteFunc

	// Logf receives operational warnings (e.g. a non-prime NumPages).
	// Defaults to a no-op.
	Logf func(format string, args ...any)
}

// withDefaults returns a copy of o with zero fields replaced by
// package defaults, and validates the result.
func (o Options) withDefaults() (Options, error) {
	if o.SharePath == "" {
		return Options{}, wrapf(ErrConfigInvalid, "SharePath is required")
	}

	if o.NumPages == 0 {
		o.NumPages = defaultNumPages
	}

	if o.NumPages > maxNumPages {
		return Options{}, wrapf(ErrConfigInvalid, "NumPages %d exceeds maximum %d", o.NumPages, maxNumPages)
	}

	if o.PageSize == 0 {
		o.PageSize = defaultPageSize
	}

	o.PageSize = roundUp4(o.PageSize)

	if o.PageSize < minPageSize || o.PageSize > maxPageSize {
		return Options{}, wrapf(ErrConfigInvalid, "PageSize %d out of range [%d, %d]", o.PageSize, minPageSize, maxPageSize)
	}

	if o.PageSize&(o.PageSize-1) != 0 {
		return Options{}, wrapf(ErrConfigInvalid, "PageSize %d is not a power of two", o.PageSize)
	}

	if o.InitSlots == 0 {
		o.InitSlots = defaultStartSlots
	}

	if o.InitSlots < minNumSlots || uint64(o.InitSlots) > uint64(o.PageSize)/4 {
		return Options{}, wrapf(ErrConfigInvalid, "InitSlots %d invalid for PageSize %d", o.InitSlots, o.PageSize)
	}

	if o.LockTimeout == 0 {
		o.LockTimeout = defaultLockTimeoutSeconds * time.Second
	}

	if o.Codec == nil {
		if !o.RawValues {
			return Options{}, wrapf(ErrConfigInvalid, "Codec is required unless RawValues is set")
		}

		o.Codec = RawCodec{}
	}

	if o.Filesystem == nil {
		o.Filesystem = fs.NewReal()
	}

	if o.Logf == nil {
		o.Logf = func(string, ...any) {}
	}

	if !isPrime(o.NumPages) {
		o.Logf("shmcache: NumPages=%d is not prime; hash distribution across pages may be uneven", o.NumPages)
	}

	return o, nil
}

func isPrime(n uint32) bool {
	if n < 2 {
		return false
	}

	for i := uint32(2); i*i <= n; i++ {
		if n%i == 0 {
			return false
		}
	}

	return true
}

// ParseSize parses a human size string such as "4k", "16m", or a bare
// byte count, matching the notation the CLI and config file accept.
func ParseSize(s string) (uint32, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("shmcache: empty size")
	}

	mult := uint64(1)

	switch s[len(s)-1] {
	case 'k':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'm':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'g':
		mult = 1 << 30
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("shmcache: invalid size %q: %w", s, err)
	}

	v := n * mult
	if v > 1<<32-1 {
		return 0, fmt.Errorf("shmcache: size %q overflows 32 bits", s)
	}

	return uint32(v), nil
}

// ParseDuration parses a human duration string such as "1h", "1d", or
// a bare second count, matching the notation the CLI and config file
// accept. Unlike time.ParseDuration it also accepts "d" for days and a
// unitless integer as seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("shmcache: empty duration")
	}

	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		return time.Duration(n) * time.Second, nil
	}

	if strings.HasSuffix(s, "d") {
		n, err := strconv.ParseUint(s[:len(s)-1], 10, 32)
		if err != nil {
			return 0, fmt.Errorf("shmcache: invalid duration %q: %w", s, err)
		}

		return time.Duration(n) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("shmcache: invalid duration %q: %w", s, err)
	}

	return d, nil
}
