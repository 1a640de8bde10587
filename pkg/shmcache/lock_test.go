package shmcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func openTestLockFile(t *testing.T) *os.File {
	t.Helper()

	path := filepath.Join(t.TempDir(), "lockfile")

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(4096))

	t.Cleanup(func() { _ = f.Close() })

	return f
}

func Test_LockPageRange_Acquires_And_Releases_Uncontended_Range(t *testing.T) {
	t.Parallel()

	f := openTestLockFile(t)

	require.NoError(t, lockPageRange(int(f.Fd()), 0, 128, time.Second))
	require.NoError(t, unlockPageRange(int(f.Fd()), 0, 128))
}

func Test_LockPageRange_Does_Not_Contend_With_Disjoint_Range(t *testing.T) {
	t.Parallel()

	f := openTestLockFile(t)

	require.NoError(t, lockPageRange(int(f.Fd()), 0, 128, time.Second))
	require.NoError(t, lockPageRange(int(f.Fd()), 128, 128, time.Second))

	require.NoError(t, unlockPageRange(int(f.Fd()), 0, 128))
	require.NoError(t, unlockPageRange(int(f.Fd()), 128, 128))
}

// A second fd opened by the SAME process on the same range never
// blocks: POSIX record locks are keyed on (process, inode), so the
// kernel treats the second F_SETLK as the owning process adjusting
// its own lock, not as contention. Real cross-process exclusion is
// what shmcache relies on; this test documents that same-process
// reacquisition is a no-op rather than a deadlock.
func Test_LockPageRange_Second_FD_From_Same_Process_Does_Not_Block(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lockfile")

	f1, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	require.NoError(t, f1.Truncate(4096))
	t.Cleanup(func() { _ = f1.Close() })

	f2, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f2.Close() })

	require.NoError(t, lockPageRange(int(f1.Fd()), 0, 128, time.Second))
	require.NoError(t, lockPageRange(int(f2.Fd()), 0, 128, time.Second))

	require.NoError(t, unlockPageRange(int(f2.Fd()), 0, 128))
}

func withStubbedFcntl(t *testing.T, stub func(fd uintptr, cmd int, lk *unix.Flock_t) error) {
	t.Helper()

	prev := fcntlFlock
	fcntlFlock = stub
	t.Cleanup(func() { fcntlFlock = prev })
}

func Test_LockPageRange_Returns_ErrLockTimeout_When_Contention_Never_Clears(t *testing.T) {
	withStubbedFcntl(t, func(uintptr, int, *unix.Flock_t) error {
		return unix.EAGAIN
	})

	err := lockPageRange(3, 0, 128, 30*time.Millisecond)
	require.ErrorIs(t, err, ErrLockTimeout)
}

func Test_LockPageRange_Succeeds_Once_Stub_Reports_Lock_Free(t *testing.T) {
	var calls int

	withStubbedFcntl(t, func(uintptr, int, *unix.Flock_t) error {
		calls++
		if calls < 3 {
			return unix.EAGAIN
		}

		return nil
	})

	require.NoError(t, lockPageRange(3, 0, 128, time.Second))
	require.GreaterOrEqual(t, calls, 3)
}

func Test_LockPageRange_Propagates_Non_Contention_Errors_Immediately(t *testing.T) {
	withStubbedFcntl(t, func(uintptr, int, *unix.Flock_t) error {
		return unix.EBADF
	})

	err := lockPageRange(3, 0, 128, time.Second)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrLockTimeout)
}

func Test_TryLockRange_Retries_Transparently_On_EINTR(t *testing.T) {
	var calls int

	withStubbedFcntl(t, func(uintptr, int, *unix.Flock_t) error {
		calls++
		if calls == 1 {
			return unix.EINTR
		}

		return nil
	})

	require.NoError(t, tryLockRange(3, 0, 128))
	require.Equal(t, 2, calls)
}

func Test_UnlockPageRange_Retries_Transparently_On_EINTR(t *testing.T) {
	var calls int

	withStubbedFcntl(t, func(uintptr, int, *unix.Flock_t) error {
		calls++
		if calls == 1 {
			return unix.EINTR
		}

		return nil
	})

	require.NoError(t, unlockPageRange(3, 0, 128))
	require.Equal(t, 2, calls)
}

func Test_UnlockPageRange_Wraps_Persistent_Error(t *testing.T) {
	withStubbedFcntl(t, func(uintptr, int, *unix.Flock_t) error {
		return unix.EBADF
	})

	err := unlockPageRange(3, 0, 128)
	require.Error(t, err)
}
