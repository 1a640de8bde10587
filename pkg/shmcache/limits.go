package shmcache

// Hardcoded implementation limits.
//
// These exist to keep the on-file arithmetic safely away from
// overflow boundaries and to bound configurations the package does
// not test. All limit violations are treated as configuration errors
// and returned as ErrConfigInvalid.
const (
	// headerSize is the fixed size, in bytes, of a page header (§3).
	headerSize = 32

	// pageMagic is the constant written at header offset 0.
	pageMagic uint32 = 0x92F7E3B1

	// hashSeed is the initial accumulator value for hash() (§4.1).
	// Deliberately the same constant as pageMagic in the source
	// implementation; kept identical here for fidelity.
	hashSeed uint32 = 0x92F7E3B1

	// minPageSize and maxPageSize bound Options.PageSize (§3): a
	// power of two between 4 KiB and 1 MiB.
	minPageSize = 4 * 1024
	maxPageSize = 1 * 1024 * 1024

	// minNumSlots and the num_slots <= P/4 bound are invariant I5.
	minNumSlots = 89

	// defaultNumPages, defaultPageSize, defaultStartSlots are the
	// documented defaults (§6).
	defaultNumPages   = 89
	defaultPageSize   = 64 * 1024
	defaultStartSlots = 89

	// defaultLockTimeoutSeconds is the "10-second soft alarm" budget
	// from §4.2, realized here as a poll-with-backoff deadline.
	defaultLockTimeoutSeconds = 10

	// maxNumPages bounds the total mapped file size to something the
	// package is prepared to reason about; a generous ceiling, not a
	// resource limit enforced by the OS.
	maxNumPages = 1 << 20

	// slotMakeRoomHeadroomRatio is the 0.30 threshold in
	// MAKE_ROOM's headroom check and the slot-directory growth rule.
	slotMakeRoomHeadroomRatio = 0.30

	// makeRoomTargetLoadRatio is the 0.60 target used_data ratio
	// MAKE_ROOM evicts down to.
	makeRoomTargetLoadRatio = 0.60

	// slotGrowthMultiplier and slotGrowthAdd implement new_num_slots
	// = 2*num_slots + 1.
	slotGrowthMultiplier = 2
	slotGrowthAdd        = 1

	// maxKeyLen and maxValueLen bound a single entry's key/value
	// lengths defensively; both must additionally fit in a page's
	// usable heap space to ever be written successfully.
	maxKeyLen   = 1 << 16
	maxValueLen = 1 << 24
)
