// Package chain implements the two singly linked intrusive lists
// threaded through a flatkv index file: the free list (deleted slots
// available for reuse) and, per hash bucket, the collision chain of
// live records. It provides the find, insert-head, unlink, and delete
// primitives the store layer orchestrates; it knows nothing about
// fetch/store/rewind/next semantics.
package chain

import (
	"fmt"
	"os"
	"strconv"

	"github.com/brickhouse-io/flatkv/codec"
	"github.com/brickhouse-io/flatkv/recio"
)

// Hash is the sole hashing rule for key placement: the 1-based
// weighted sum of the key's bytes, modulo the table size. It is part
// of the on-disk format — every implementation must reproduce it
// exactly, since it determines which bucket a key lands in.
func Hash(key string, n int) int {
	var sum int64
	for i, b := range []byte(key) {
		sum += int64(b) * int64(i+1)
	}
	return int(sum % int64(n))
}

// BucketOffset returns the file offset of bucket h's head pointer.
// hashOff is the offset of the first bucket head pointer (P bytes past
// the free-list head).
func BucketOffset(h int, hashOff int64) int64 {
	return hashOff + int64(h)*codec.PtrSize
}

// Walk is the result of a chain search: whether the key was found, the
// matched record (valid only when Found), and the bookkeeping needed
// to unlink or insert at this point in the chain.
type Walk struct {
	Found bool
	Rec   recio.IndexRecord

	// ChainOff is the bucket head offset — the byte the caller locked
	// and must unlock when done with this walk.
	ChainOff int64

	// PtrOff is the offset of the pointer field that points at Rec (or,
	// on a miss, the offset of the trailing null so an insert can
	// stitch in there): the bucket head for a first-in-chain match, or
	// a prior record's successor field otherwise.
	PtrOff int64

	// PtrVal is the successor pointer stored in Rec (valid only when
	// Found) — the value a delete must write into PtrOff to unlink it.
	PtrVal int64
}

// FindInChain locks the bucket's head byte (read or write, per
// lockWrite) and walks the chain looking for key. The caller must
// release the lock at Walk.ChainOff when done, regardless of outcome.
func FindInChain(idxFile *os.File, key string, n int, hashOff int64, lockWrite bool) (Walk, error) {
	h := Hash(key, n)
	chainOff := BucketOffset(h, hashOff)
	w := Walk{ChainOff: chainOff, PtrOff: chainOff}

	kind := recio.LockRead
	if lockWrite {
		kind = recio.LockWrite
	}
	if err := recio.Lock(idxFile.Fd(), kind, chainOff, 1); err != nil {
		return w, fmt.Errorf("chain: lock bucket at %d: %w", chainOff, err)
	}

	offset, err := recio.ReadPtr(idxFile, w.PtrOff)
	if err != nil {
		return w, fmt.Errorf("chain: read bucket head at %d: %w", chainOff, err)
	}

	for offset != 0 {
		rec, err := recio.ReadIndex(idxFile, offset)
		if err != nil {
			return w, err
		}
		if rec.Key == key {
			w.Found = true
			w.Rec = rec
			w.PtrVal = rec.Next
			return w, nil
		}
		w.PtrOff = offset
		offset = rec.Next
	}
	return w, nil
}

// FindFree looks for a free-list slot whose body would be byte-exact
// the same length if reused for a record with a keyLen-byte key and a
// datLen-byte data length — the only case in which the slot can be
// reused in place without disturbing the bytes that follow it in the
// index file. A freed slot keeps its original datoff:datlen suffix (see
// recio.WriteBlankIndexBody), so the candidate body length is computed
// against the slot's own DatOff (reuse keeps the data at the same
// offset, so that field's digit width cannot change) and its DatLen
// must match datLen exactly, since the reused slot's data record is
// never resized. It acquires and releases the free-list lock itself.
func FindFree(idxFile *os.File, keyLen, datLen int64, freeOff int64) (bool, recio.IndexRecord, error) {
	if err := recio.Lock(idxFile.Fd(), recio.LockWrite, freeOff, 1); err != nil {
		return false, recio.IndexRecord{}, fmt.Errorf("chain: lock free list: %w", err)
	}
	defer recio.Lock(idxFile.Fd(), recio.LockUnlock, freeOff, 1)

	saveOffset := freeOff
	offset, err := recio.ReadPtr(idxFile, saveOffset)
	if err != nil {
		return false, recio.IndexRecord{}, fmt.Errorf("chain: read free-list head: %w", err)
	}

	for offset != 0 {
		rec, err := recio.ReadIndex(idxFile, offset)
		if err != nil {
			return false, recio.IndexRecord{}, err
		}
		// key + SEP + datoff + SEP + datlen + '\n'
		wantBodyLen := keyLen + 1 + int64(len(strconv.FormatInt(rec.DatOff, 10))) + 1 + int64(len(strconv.FormatInt(datLen, 10))) + 1
		if rec.BodyLen == wantBodyLen && rec.DatLen == datLen {
			if err := recio.WritePtr(idxFile, saveOffset, rec.Next); err != nil {
				return false, recio.IndexRecord{}, fmt.Errorf("chain: unlink free slot: %w", err)
			}
			return true, rec, nil
		}
		saveOffset = offset
		offset = rec.Next
	}
	return false, recio.IndexRecord{}, nil
}

// LinkHead makes newIdxOff the head of the chain rooted at chainOff.
// The caller is responsible for having already written newIdxOff's
// successor pointer to the chain's previous head — chains are
// unordered and new entries are always inserted at the head.
func LinkHead(idxFile *os.File, chainOff int64, newIdxOff int64) error {
	if err := recio.WritePtr(idxFile, chainOff, newIdxOff); err != nil {
		return fmt.Errorf("chain: link chain head at %d: %w", chainOff, err)
	}
	return nil
}

// Unlink writes target's predecessor pointer to point past it,
// removing it from whatever chain it was on.
func Unlink(idxFile *os.File, ptrOff int64, targetNext int64) error {
	if err := recio.WritePtr(idxFile, ptrOff, targetNext); err != nil {
		return fmt.Errorf("chain: unlink at %d: %w", ptrOff, err)
	}
	return nil
}

// Delete performs the full delete sequence: blank the data record,
// blank the index body, thread the slot onto the free list, then
// unlink it from its hash chain. The caller must already hold the
// chain's write lock (acquired by a prior FindInChain); Delete
// acquires and releases the nested free-list lock itself. rec and
// ptrOff come from the Walk that located the record; rec.Next (the
// Walk's PtrVal) is what gets written into ptrOff to unlink it.
func Delete(idxFile, datFile *os.File, rec recio.IndexRecord, ptrOff int64, freeOff int64) error {
	if err := recio.Lock(idxFile.Fd(), recio.LockWrite, freeOff, 1); err != nil {
		return fmt.Errorf("chain: lock free list for delete: %w", err)
	}
	defer recio.Lock(idxFile.Fd(), recio.LockUnlock, freeOff, 1)

	if err := recio.WriteBlankData(datFile, rec.DatOff, rec.DatLen); err != nil {
		return fmt.Errorf("chain: blank data record: %w", err)
	}

	freePtr, err := recio.ReadPtr(idxFile, freeOff)
	if err != nil {
		return fmt.Errorf("chain: read free-list head: %w", err)
	}

	if err := recio.WriteBlankIndexBody(idxFile, rec.Offset, int64(len(rec.Key)), rec.DatOff, rec.DatLen, freePtr); err != nil {
		return fmt.Errorf("chain: blank index record: %w", err)
	}

	if err := recio.WritePtr(idxFile, freeOff, rec.Offset); err != nil {
		return fmt.Errorf("chain: push free-list head: %w", err)
	}

	return Unlink(idxFile, ptrOff, rec.Next)
}
