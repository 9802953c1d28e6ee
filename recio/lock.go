package recio

import (
	"golang.org/x/sys/unix"
)

// LockKind selects the advisory lock mode applied to a byte range.
type LockKind int

const (
	LockRead LockKind = iota
	LockWrite
	LockUnlock
)

// Lock translates a record-lock request into the host OS's advisory
// byte-range lock via fcntl(2). It always blocks until the lock is
// granted (or released, for LockUnlock) — the store never uses
// non-blocking locks, per the concurrency model's "no timeout, no
// deadlock detection" design.
//
// length == 0 means "to end of file"; this is the caller's convention
// for whole-file/whole-region locks, matching fcntl's own semantics.
func Lock(fd uintptr, kind LockKind, start int64, length int64) error {
	var flockType int16
	switch kind {
	case LockRead:
		flockType = unix.F_RDLCK
	case LockWrite:
		flockType = unix.F_WRLCK
	case LockUnlock:
		flockType = unix.F_UNLCK
	}
	lock := unix.Flock_t{
		Type:   flockType,
		Whence: int16(0), // io.SeekStart
		Start:  start,
		Len:    length,
	}
	return unix.FcntlFlock(fd, unix.F_SETLKW, &lock)
}
