package shmcache

import (
	"fmt"
	"os"

	"github.com/coreslate/shmkv/pkg/fs"
)

// openShareFile opens (creating if necessary) the backing file for o,
// sizes it to NumPages*PageSize, maps it, and initializes any page
// that needs it: every page on a freshly created or InitFile-forced
// file, or (with TestFile) any existing page that fails its
// invariant check.
//
// It returns the open file (kept open for the lifetime of the Cache,
// since its fd is what every page's fcntl lock is taken on), the
// mapped bytes, and whether initialization wrote anything (used to
// decide whether to (re)write the .meta sidecar).
func openShareFile(o Options) (file fs.File, mapped []byte, wrote bool, err error) {
	existed, err := o.Filesystem.Exists(o.SharePath)
	if err != nil {
		return nil, nil, false, wrapf(ErrIOFailed, "stat share file: %v", err)
	}

	f, err := o.Filesystem.OpenFile(o.SharePath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, false, wrapf(ErrIOFailed, "open share file: %v", err)
	}

	size := int64(o.NumPages) * int64(o.PageSize)

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return nil, nil, false, wrapf(ErrIOFailed, "stat share file: %v", err)
	}

	needsInit := o.InitFile || !existed || info.Size() != size

	if info.Size() != size {
		if err := f.Truncate(size); err != nil {
			_ = f.Close()

			return nil, nil, false, wrapf(ErrIOFailed, "truncate share file to %d: %v", size, err)
		}
	}

	data, err := mmapFile(int(f.Fd()), size)
	if err != nil {
		_ = f.Close()

		return nil, nil, false, err
	}

	if needsInit {
		for i := uint32(0); i < o.NumPages; i++ {
			initPage(data, i, o.PageSize, o.InitSlots)
		}

		wrote = true
	} else if o.TestFile {
		reinit, err := testAndRepairPages(data, int(f.Fd()), o)
		if err != nil {
			_ = munmapFile(data)
			_ = f.Close()

			return nil, nil, false, err
		}

		wrote = reinit
	}

	if wrote {
		if err := msyncFile(data); err != nil {
			_ = munmapFile(data)
			_ = f.Close()

			return nil, nil, false, err
		}
	}

	return f, data, wrote, nil
}

// initPage zero-fills page idx in data (slot directory and heap
// included) and then writes a fresh, empty header for it.
func initPage(data []byte, idx, pageSize, numSlots uint32) {
	start := int64(idx) * int64(pageSize)
	page := data[start : start+int64(pageSize)]

	for i := range page {
		page[i] = 0
	}

	dirBytes := numSlots * 4
	freeData := uint32(headerSize) + dirBytes

	h := pageHeader{
		Magic:     pageMagic,
		NumSlots:  numSlots,
		FreeSlots: numSlots,
		OldSlots:  0,
		FreeData:  freeData,
		FreeBytes: pageSize - freeData,
	}
	encodePageHeader(page, h)
}

// testAndRepairPages implements Options.TestFile: it locks and
// validates every page against I1-I5, reinitializing (with the
// configured InitSlots) any page whose header, slot directory, or
// record data fails an invariant check rather than failing Open
// outright.
func testAndRepairPages(data []byte, fd int, o Options) (repaired bool, err error) {
	for i := uint32(0); i < o.NumPages; i++ {
		start := int64(i) * int64(o.PageSize)
		page := data[start : start+int64(o.PageSize)]

		if err := lockPageRange(fd, start, int64(o.PageSize), o.LockTimeout); err != nil {
			return repaired, err
		}

		h := decodePageHeader(page)

		bad := h.Magic != pageMagic
		if !bad {
			bad = validatePageInvariants(page, h, o.PageSize) != nil
		}

		if !bad {
			bad = validateRecordInvariants(page, h, o.PageSize) != nil
		}

		if bad {
			initPage(data, i, o.PageSize, o.InitSlots)

			repaired = true

			o.Logf("shmcache: page %d failed integrity check, reinitialized", i)
		}

		if err := unlockPageRange(fd, start, int64(o.PageSize)); err != nil {
			return repaired, err
		}
	}

	return repaired, nil
}

// writeMetaSidecar writes a human-readable ".meta" summary of the
// share file's geometry next to it, for operators inspecting the
// cache with tools other than shmcachectl.
func writeMetaSidecar(o Options) error {
	summary := fmt.Sprintf(
		"share_path=%s\nnum_pages=%d\npage_size=%d\ninit_slots=%d\ntotal_bytes=%d\n",
		o.SharePath, o.NumPages, o.PageSize, o.InitSlots, int64(o.NumPages)*int64(o.PageSize),
	)

	return fs.WriteFileAtomic(o.SharePath+".meta", []byte(summary))
}
