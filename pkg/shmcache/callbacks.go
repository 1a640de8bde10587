package shmcache

// ReadFunc is consulted on a cache miss to fetch the value from the
// system of record. Returning found=false leaves the miss as a miss;
// a returned error is surfaced to the caller wrapped in
// ErrCallbackFailed.
type ReadFunc func(key []byte) (value []byte, found bool, err error)

// WriteFunc propagates a write to the system of record. Under
// write_action=write_through (the default) it fires on every Set,
// GetAndSet, or MultiSet; under write_action=write_back it instead
// fires for dirty entries evicted by the expunge engine or discarded
// by Empty (§4.5, §4.7). It always runs outside any page lock.
type WriteFunc func(key, value []byte) error

// DeleteFunc is invoked when a caller-visible Remove also needs to
// propagate the deletion to a system of record.
type DeleteFunc func(key []byte) error

// callbacks bundles the optional hooks a Cache may be configured with.
// A reentrancy guard prevents a callback from calling back into the
// same Cache handle while a page lock it doesn't know about is held,
// which would deadlock against itself.
type callbacks struct {
	onRead   ReadFunc
	onWrite  WriteFunc
	onDelete DeleteFunc

	inCallback bool
}

// enter arms the reentrancy guard, returning ErrReentrancy if a
// callback is already running on this Cache handle.
func (cb *callbacks) enter() error {
	if cb.inCallback {
		return wrapf(ErrReentrancy, "cache callback invoked cache operation recursively")
	}

	cb.inCallback = true

	return nil
}

func (cb *callbacks) leave() {
	cb.inCallback = false
}
