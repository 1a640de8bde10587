// Package shmcache implements a shared-memory key/value cache backed
// by a single memory-mapped file.
//
// Multiple cooperating processes on one host open the same share
// file and observe a consistent view of it: any process may read,
// insert, update, delete, expire, or iterate entries. Concurrent
// access is coordinated by byte-range advisory locks scoped to one
// page of the file at a time, so operations against different pages
// proceed fully in parallel across processes while operations
// against the same page are totally ordered by lock acquisition.
//
// The cache is meant for large numbers of small, kilobyte-scale
// entries served at low latency, with automatic capacity management
// by an LRU policy and optional per-entry time expiry.
//
// # Basic usage
//
//	c, err := shmcache.Open(shmcache.Options{
//		SharePath:   "/tmp/sharefile",
//		RawValues:   true,
//		NumPages:    89,
//		PageSize:    64 * 1024,
//	})
//	if err != nil {
//		// handle
//	}
//	defer c.Close()
//
//	err = c.Set([]byte("alpha"), []byte("beta"), 0) // 0 = no expiry
//
//	var v []byte
//	ok, _ := c.Get([]byte("alpha"), &v)
//
// # Non-goals
//
// shmcache does not guarantee crash-atomic durability (a process
// killed mid-write may corrupt the page it was writing; other pages
// are untouched), strict cross-process ordering beyond per-page
// locking, or durability across host reboots. It is a single-host,
// single-file cache; multi-host distribution is out of scope.
package shmcache
