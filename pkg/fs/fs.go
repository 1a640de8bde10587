// Package fs provides a filesystem abstraction so shmcache's on-disk
// side effects (share-file creation, sidecar metadata) can
// be exercised without touching the real filesystem in tests.
package fs

import (
	"io"
	"os"
)

// File represents an OS-backed open file descriptor.
//
// Satisfied by [os.File]. The intent is os.File-like behavior,
// including that [File.Fd] returns a real OS file descriptor usable
// with syscalls such as byte-range fcntl locks or mmap.
//
// Implementations must be safe for concurrent use by multiple
// goroutines.
type File interface {
	io.ReadWriteCloser
	io.Seeker

	// Fd returns the file descriptor, for low-level operations like
	// fcntl locks and mmap.
	Fd() uintptr

	// Stat returns the os.FileInfo for this file.
	Stat() (os.FileInfo, error)

	// Sync commits the file's contents to disk.
	Sync() error

	// Truncate changes the size of the file.
	Truncate(size int64) error
}

// FS defines the filesystem operations shmcache needs.
//
// Paths use OS semantics, not the slash-separated paths of io/fs.
//
// Implementations must be safe for concurrent use by multiple
// goroutines.
type FS interface {
	// Open opens a file for reading.
	Open(path string) (File, error)

	// OpenFile opens a file with the given flags and permissions.
	// It does not create missing parent directories.
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// Stat returns file info for path.
	Stat(path string) (os.FileInfo, error)

	// Exists reports whether path exists.
	Exists(path string) (bool, error)

	// MkdirAll creates a directory and all parents.
	MkdirAll(path string, perm os.FileMode) error

	// Remove deletes a file.
	Remove(path string) error
}

// Compile-time interface check.
var _ File = (*os.File)(nil)
