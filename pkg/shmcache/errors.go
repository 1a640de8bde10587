package shmcache

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by shmcache operations.
//
// Callers should use [errors.Is] to check error categories:
//
//	if errors.Is(err, shmcache.ErrPageCorrupt) {
//	    // page was auto-repaired if TestFile was set; otherwise
//	    // the caller may want to re-open with TestFile enabled.
//	}
var (
	// ErrConfigInvalid indicates geometry out of bounds, a page size
	// that is not a power of two, or a missing share path.
	ErrConfigInvalid = errors.New("shmcache: invalid configuration")

	// ErrIOFailed indicates the underlying open/stat/mmap/write
	// failed.
	ErrIOFailed = errors.New("shmcache: io failed")

	// ErrLockTimeout indicates a page's advisory lock could not be
	// acquired within the configured budget (default 10s).
	ErrLockTimeout = errors.New("shmcache: lock timeout")

	// ErrPageCorrupt indicates a page's magic did not match or one
	// of invariants I1-I3 or I5 was violated at lock time.
	//
	// At attach time, with Options.TestFile set, this is recovered
	// by page reinitialization and never surfaced to the caller.
	ErrPageCorrupt = errors.New("shmcache: page corrupt")

	// ErrCallbackFailed indicates an embedder-supplied hook (ReadFunc,
	// WriteFunc, DeleteFunc) returned an error. A ReadFunc or
	// DeleteFunc failure is returned, wrapped in it, from Get or
	// Remove; a WriteFunc failure is only reported via Options.Logf.
	ErrCallbackFailed = errors.New("shmcache: callback failed")

	// ErrReentrancy indicates a hook attempted to call back into the
	// Cache for the page it is already running under. This would
	// deadlock against the page lock, so it is rejected instead.
	ErrReentrancy = errors.New("shmcache: reentrant cache call from hook")

	// ErrClosed indicates the Cache handle has already been closed.
	ErrClosed = errors.New("shmcache: closed")

	// ErrNotFound is not returned by any operation in this package:
	// Get reports a miss as (false, nil).
	ErrNotFound = errors.New("shmcache: not found")
)

// ErrorKind categorizes an error for programmatic dispatch without
// string matching, mirroring the taxonomy in the design's error
// handling section.
type ErrorKind int

// Error kinds, one per row of the error taxonomy.
const (
	KindUnknown ErrorKind = iota
	KindConfigInvalid
	KindIOFailed
	KindLockTimeout
	KindPageCorrupt
	KindCallbackFailed
	KindReentrancy
	KindClosed
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfigInvalid:
		return "CONFIG_INVALID"
	case KindIOFailed:
		return "IO_FAILED"
	case KindLockTimeout:
		return "LOCK_TIMEOUT"
	case KindPageCorrupt:
		return "PAGE_CORRUPT"
	case KindCallbackFailed:
		return "CALLBACK_FAILED"
	case KindReentrancy:
		return "LOCK_REENTRANCY"
	case KindClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Kind reports the ErrorKind of err, walking the error chain with
// [errors.Is]. Returns KindUnknown if err does not wrap one of the
// sentinels in this package.
func Kind(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrConfigInvalid):
		return KindConfigInvalid
	case errors.Is(err, ErrIOFailed):
		return KindIOFailed
	case errors.Is(err, ErrLockTimeout):
		return KindLockTimeout
	case errors.Is(err, ErrPageCorrupt):
		return KindPageCorrupt
	case errors.Is(err, ErrCallbackFailed):
		return KindCallbackFailed
	case errors.Is(err, ErrReentrancy):
		return KindReentrancy
	case errors.Is(err, ErrClosed):
		return KindClosed
	default:
		return KindUnknown
	}
}

// wrapf wraps err (a sentinel from this file) with additional context,
// matching the fmt.Errorf("...: %w", ...) convention used throughout.
func wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}
