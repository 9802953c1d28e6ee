package store

import (
	"os"

	"go.uber.org/zap"
)

// OpenOptions configures Open. It replaces the teacher's bitmask-of-flags
// argument (os.O_CREATE|os.O_TRUNC passed straight through to open(2),
// with the ambiguous precedence that entailed — see DESIGN.md) with
// explicit booleans: Create and Truncate are independent switches, not
// two bits of one mode word.
type OpenOptions struct {
	// Path is the database's base name; Open appends ".idx" and ".dat".
	Path string

	// Create creates the database if it does not already exist. It has
	// no effect if both files already exist.
	Create bool

	// Truncate creates the database, discarding any existing content.
	Truncate bool

	// ReadOnly opens both files O_RDONLY. Create and Truncate are
	// invalid combined with ReadOnly.
	ReadOnly bool

	// FileMode is the permission bits used when Create or Truncate
	// creates a new file. Defaults to 0644.
	FileMode os.FileMode

	// HashSize is the number of hash buckets (the classic default,
	// matching the teacher and the original C library, is 137). Open
	// writes a directory of this size when it initializes a new database,
	// and on every open, new or existing, uses it to locate the bucket
	// heads and the start of the record region. The size is not stored
	// in the files and Open does not detect it, so an existing database
	// is only read correctly with the HashSize it was created with.
	HashSize int

	// NegativeFilter enables the in-memory bloom filter that
	// short-circuits Fetch misses without a chain walk. Building it
	// requires one full sequential scan at Open time.
	NegativeFilter bool

	// Logger receives Open/Close/Vacuum notices. Defaults to a no-op
	// logger if nil.
	Logger *zap.SugaredLogger
}

// DefaultOpenOptions returns sane defaults for opening (but not
// creating) a database at path.
func DefaultOpenOptions(path string) OpenOptions {
	return OpenOptions{
		Path:           path,
		FileMode:       0644,
		HashSize:       137,
		NegativeFilter: true,
	}
}

func (o OpenOptions) idxPath() string { return o.Path + ".idx" }
func (o OpenOptions) datPath() string { return o.Path + ".dat" }

// Mode selects Store's behavior when the key already exists (or
// doesn't).
type Mode int

const (
	// ModeInsert fails if the key already exists.
	ModeInsert Mode = iota
	// ModeReplace fails if the key does not already exist.
	ModeReplace
	// ModeUpsert inserts or replaces unconditionally.
	ModeUpsert
)

// Stats is a point-in-time snapshot of a Handle's operation counters,
// mirroring the teacher's db_fetch/db_store/db_delete/db_nextrec
// bookkeeping.
type Stats struct {
	FetchOK  uint64
	FetchErr uint64
	DelOK    uint64
	DelErr   uint64
	StoreErr uint64
	// Stor1..Stor4 count the four store code paths: append, free-list
	// reuse, replace-with-different-length, and in-place overwrite.
	Stor1, Stor2, Stor3, Stor4 uint64
	NextRec                    uint64
}
