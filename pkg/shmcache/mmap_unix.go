//go:build unix

package shmcache

import "golang.org/x/sys/unix"

// mmapFile maps the first size bytes of fd for shared read/write
// access. The mapping is what every pageCursor slices its page data
// out of, so a write under a page lock is immediately visible to
// every other process holding the same mapping.
func mmapFile(fd int, size int64) ([]byte, error) {
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, wrapf(ErrIOFailed, "mmap: %v", err)
	}

	return data, nil
}

// munmapFile releases a mapping obtained from mmapFile.
func munmapFile(data []byte) error {
	if err := unix.Munmap(data); err != nil {
		return wrapf(ErrIOFailed, "munmap: %v", err)
	}

	return nil
}

// msyncFile flushes dirty mapped pages to the backing file.
func msyncFile(data []byte) error {
	if err := unix.Msync(data, unix.MS_SYNC); err != nil {
		return wrapf(ErrIOFailed, "msync: %v", err)
	}

	return nil
}
