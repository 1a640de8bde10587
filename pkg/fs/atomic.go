package fs

import (
	"bytes"

	"github.com/natefinch/atomic"
)

// WriteFileAtomic writes data to path via a temp-file-plus-rename so
// concurrent readers never observe a partial write.
//
// Used for shmcache's ".meta" sidecar (human-readable geometry
// summary written whenever Open initializes or repairs pages) and for the CLI's
// stats-export snapshot. Never used for the mapped share file itself,
// which is mutated in place under page locks.
func WriteFileAtomic(path string, data []byte) error {
	return atomic.WriteFile(path, bytes.NewReader(data))
}
