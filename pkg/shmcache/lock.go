package shmcache

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Per-page locking (§4.2).
//
// The source implementation blocks in fcntl(F_SETLKW) with a 10s
// alarm(2)/SIGALRM budget around it, retrying on non-alarm signals
// and restoring the previous alarm handler either way. Go offers no
// portable, race-free way to interrupt one goroutine's blocking
// syscall with a restorable signal handler without cgo. Instead,
// following the same pattern the teacher repo uses for its own
// timeout-bounded file locks (LockWithTimeout: non-blocking flock
// polled with exponential backoff until a deadline), lockPageRange issues
// non-blocking fcntl(F_SETLK) byte-range locks in a poll loop and
// returns ErrLockTimeout if the budget elapses. This preserves the
// spec's observable contract without relying on signals.
const (
	lockPollInitialBackoff = time.Millisecond
	lockPollMaxBackoff     = 25 * time.Millisecond
)

// fcntlFlock is a var indirection over unix.FcntlFlock so tests can
// stub kernel contention deterministically. POSIX record locks are
// scoped to (process, inode), not to the fd: two fds opened by the
// same process never contend with each other, so real contention
// between goroutines in one test binary can't be produced by opening
// the same path twice. Cross-process contention is exercised by
// stubbing this instead, the same way the teacher repo overrides
// Locker.flock in its own lock tests.
var fcntlFlock = unix.FcntlFlock

// lockPageRange attempts to acquire an exclusive byte-range lock on
// [start, start+length) of fd, retrying with exponential backoff
// until timeout elapses.
func lockPageRange(fd int, start, length int64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	backoff := lockPollInitialBackoff

	for {
		err := tryLockRange(fd, start, length)
		if err == nil {
			return nil
		}

		if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EACCES) {
			return fmt.Errorf("fcntl lock page: %w", err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return wrapf(ErrLockTimeout, "page lock at offset %d not acquired within budget", start)
		}

		sleep := backoff
		if sleep > remaining {
			sleep = remaining
		}

		time.Sleep(sleep)

		backoff *= 2
		if backoff > lockPollMaxBackoff {
			backoff = lockPollMaxBackoff
		}
	}
}

// tryLockRange makes one non-blocking attempt to lock [start,
// start+length) on fd, retrying transparently on EINTR (the Go
// analogue of the source's "signal other than alarm, retry the
// call" branch).
func tryLockRange(fd int, start, length int64) error {
	lk := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: 0, // SEEK_SET
		Start:  start,
		Len:    length,
	}

	for {
		err := fcntlFlock(uintptr(fd), unix.F_SETLK, &lk)
		if err == nil {
			return nil
		}

		if errors.Is(err, unix.EINTR) {
			continue
		}

		return err
	}
}

// unlockPageRange releases the byte-range lock on [start,
// start+length) of fd.
func unlockPageRange(fd int, start, length int64) error {
	lk := unix.Flock_t{
		Type:   unix.F_UNLCK,
		Whence: 0,
		Start:  start,
		Len:    length,
	}

	for {
		err := fcntlFlock(uintptr(fd), unix.F_SETLK, &lk)
		if err == nil {
			return nil
		}

		if errors.Is(err, unix.EINTR) {
			continue
		}

		return fmt.Errorf("fcntl unlock page: %w", err)
	}
}
