// Package store is flatkv's public API: a file-backed, hash-indexed
// key-value store in the lineage of the classic Unix dbm/ndbm
// libraries. It orchestrates codec (wire encoding), recio (positional
// record I/O and locking), chain (free-list and hash-chain
// bookkeeping), and filterset (negative-lookup acceleration) into
// Open/Close/Rewind/Next/Fetch/Store/Delete.
package store

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/brickhouse-io/flatkv/chain"
	"github.com/brickhouse-io/flatkv/codec"
	"github.com/brickhouse-io/flatkv/filterset"
	"github.com/brickhouse-io/flatkv/internal/oplog"
	"github.com/brickhouse-io/flatkv/kverrors"
	"github.com/brickhouse-io/flatkv/recio"
)

// Handle is an open database. It is not safe for concurrent use by
// multiple goroutines without external synchronization beyond what the
// file locks provide — the locks coordinate separate processes/Handles
// sharing the same files, not concurrent calls on one Handle.
type Handle struct {
	idxFile *os.File
	datFile *os.File

	path     string
	readOnly bool
	fileMode os.FileMode

	hashSize          int
	freeOff           int64
	hashOff           int64
	recordRegionStart int64

	filter *filterset.Filter
	logger *zap.SugaredLogger

	counters Stats
}

// Stats returns a snapshot of the handle's operation counters.
func (h *Handle) Stats() Stats { return h.counters }

// Open opens (and, per opts, creates) a database. On a newly created
// database it writes the empty hash directory; on an existing one it
// validates nothing beyond what Rewind/Next naturally encounter, since
// the original format carries no whole-file checksum.
func Open(opts OpenOptions) (*Handle, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("store: open: empty path")
	}
	if opts.HashSize <= 0 {
		opts.HashSize = 137
	}
	if opts.FileMode == 0 {
		opts.FileMode = 0644
	}
	if opts.ReadOnly && (opts.Create || opts.Truncate) {
		return nil, fmt.Errorf("store: open: ReadOnly is incompatible with Create/Truncate")
	}

	flag := os.O_RDWR
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}
	// Create and Truncate are independent booleans (see OpenOptions),
	// not bits of one mode word the way the teacher's isCreateMode
	// derivation conflated os.O_CREATE and os.O_TRUNC.
	if opts.Create || opts.Truncate {
		flag |= os.O_CREATE
	}
	if opts.Truncate {
		flag |= os.O_TRUNC
	}

	idxFile, err := os.OpenFile(opts.idxPath(), flag, opts.FileMode)
	if err != nil {
		return nil, fmt.Errorf("store: open index file: %w", err)
	}
	datFile, err := os.OpenFile(opts.datPath(), flag, opts.FileMode)
	if err != nil {
		idxFile.Close()
		return nil, fmt.Errorf("store: open data file: %w", err)
	}

	h := &Handle{
		idxFile:           idxFile,
		datFile:           datFile,
		path:              opts.Path,
		readOnly:          opts.ReadOnly,
		fileMode:          opts.FileMode,
		hashSize:          opts.HashSize,
		freeOff:           0,
		hashOff:           int64(codec.PtrSize),
		recordRegionStart: int64(opts.HashSize+1)*int64(codec.PtrSize) + 1,
	}

	if opts.Create || opts.Truncate {
		if err := h.maybeInitHeader(); err != nil {
			idxFile.Close()
			datFile.Close()
			return nil, err
		}
	}

	if opts.NegativeFilter {
		if err := h.buildFilter(); err != nil {
			idxFile.Close()
			datFile.Close()
			return nil, err
		}
	}

	h.logger = opts.Logger
	if h.logger == nil {
		h.logger = oplog.Noop()
	}
	h.logger.Infow("store opened", "path", opts.Path, "hashSize", opts.HashSize)
	return h, nil
}

// maybeInitHeader writes the empty hash directory (a null free-list
// head followed by HashSize null bucket heads, terminated by a
// newline) if the index file is empty. A whole-file write lock guards
// the check-then-write against a concurrent opener doing the same.
func (h *Handle) maybeInitHeader() error {
	if err := recio.Lock(h.idxFile.Fd(), recio.LockWrite, 0, 0); err != nil {
		return fmt.Errorf("store: lock index file for init: %w", err)
	}
	defer recio.Lock(h.idxFile.Fd(), recio.LockUnlock, 0, 0)

	info, err := h.idxFile.Stat()
	if err != nil {
		return fmt.Errorf("store: stat index file: %w", err)
	}
	if info.Size() > 0 {
		return nil
	}

	header := make([]byte, 0, h.recordRegionStart)
	for i := 0; i < h.hashSize+1; i++ {
		ptr, _ := codec.EncodePtr(0)
		header = append(header, ptr...)
	}
	header = append(header, '\n')
	if _, err := h.idxFile.WriteAt(header, 0); err != nil {
		return fmt.Errorf("store: write index header: %w", err)
	}
	return nil
}

// buildFilter does one full sequential scan to seed the negative
// lookup filter, then rewinds.
func (h *Handle) buildFilter() error {
	h.filter = filterset.New(1024, 0.01)
	h.Rewind()
	for {
		key, _, ok, err := h.next(false)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		h.filter.Add(key)
	}
	h.Rewind()
	return nil
}

// Close releases both underlying files. It does not release any
// record locks explicitly — they are released implicitly when the
// file descriptors close.
func (h *Handle) Close() error {
	h.logger.Infow("store closed", "path", h.path)
	idxErr := h.idxFile.Close()
	datErr := h.datFile.Close()
	if idxErr != nil {
		return idxErr
	}
	return datErr
}

// Rewind resets the sequential cursor used by Next to the start of
// the index record region (past the hash directory).
func (h *Handle) Rewind() {
	h.idxFile.Seek(h.recordRegionStart, io.SeekStart)
}

// Next returns the next live key/value pair in on-disk order, skipping
// freed (blanked) slots. ok is false once the scan reaches the end of
// the index file.
func (h *Handle) Next() (key, value string, ok bool, err error) {
	return h.next(true)
}

func (h *Handle) next(countStats bool) (key, value string, ok bool, err error) {
	for {
		curPos, serr := h.idxFile.Seek(0, io.SeekCurrent)
		if serr != nil {
			kverrors.Fatal("next: seek", serr)
			return "", "", false, serr
		}

		// The record's length isn't known until it's read, so the lock
		// spans a conservative upper bound on a single record's byte
		// range (header plus the largest possible body) rather than its
		// exact extent. This over-locks by a few bytes in the common
		// case but still correctly serializes against a concurrent
		// Store/Delete touching this exact slot.
		lockLen := int64(codec.PtrSize + codec.LenSize + recio.IdxLenMax)
		if lerr := recio.Lock(h.idxFile.Fd(), recio.LockRead, curPos, lockLen); lerr != nil {
			kverrors.Fatal("next: lock", lerr)
			return "", "", false, lerr
		}
		rec, rerr := recio.ReadIndex(h.idxFile, 0)
		recio.Lock(h.idxFile.Fd(), recio.LockUnlock, curPos, lockLen)

		if rerr == io.EOF {
			return "", "", false, nil
		}
		if rerr != nil {
			kverrors.Fatal("next: read index", rerr)
			return "", "", false, rerr
		}
		if countStats {
			h.counters.NextRec++
		}
		if strings.TrimSpace(rec.Key) == "" {
			continue
		}

		val, derr := recio.ReadData(h.datFile, rec.DatOff, rec.DatLen)
		if derr != nil {
			kverrors.Fatal("next: read data", derr)
			return "", "", false, derr
		}
		return rec.Key, val, true, nil
	}
}

// Fetch looks up key and returns its value. A negative filter miss (if
// enabled) short-circuits without touching the index file at all.
func (h *Handle) Fetch(key string) (string, error) {
	if h.filter != nil && !h.filter.MightContain(key) {
		h.counters.FetchErr++
		return "", kverrors.New("fetch", kverrors.CodeKeyNotFound, nil)
	}

	w, err := chain.FindInChain(h.idxFile, key, h.hashSize, h.hashOff, false)
	defer recio.Lock(h.idxFile.Fd(), recio.LockUnlock, w.ChainOff, 1)
	if err != nil {
		h.counters.FetchErr++
		kverrors.Fatal("fetch", err)
		return "", err
	}
	if !w.Found {
		h.counters.FetchErr++
		return "", kverrors.New("fetch", kverrors.CodeKeyNotFound, nil)
	}

	val, err := recio.ReadData(h.datFile, w.Rec.DatOff, w.Rec.DatLen)
	if err != nil {
		h.counters.FetchErr++
		kverrors.Fatal("fetch", err)
		return "", err
	}
	h.counters.FetchOK++
	return val, nil
}

// Store writes key/value per mode:
//
//	ModeInsert  fails if key already exists
//	ModeReplace fails if key does not already exist
//	ModeUpsert  inserts or replaces unconditionally
func (h *Handle) Store(key, value string, mode Mode) error {
	if h.readOnly {
		return kverrors.New("store", kverrors.CodeReadOnly, nil)
	}
	if mode != ModeInsert && mode != ModeReplace && mode != ModeUpsert {
		return kverrors.New("store", kverrors.CodeInvalidMode, nil)
	}
	if key == "" || strings.ContainsAny(key, ":\n") {
		return kverrors.New("store", kverrors.CodeInvalidKey, nil)
	}
	datLen := int64(len(value) + 1)
	if datLen < recio.DatLenMin {
		return kverrors.New("store", kverrors.CodeValueTooSmall, nil)
	}
	if datLen > recio.DatLenMax {
		return kverrors.New("store", kverrors.CodeValueTooLarge, nil)
	}
	keyLen := int64(len(key))

	w, err := chain.FindInChain(h.idxFile, key, h.hashSize, h.hashOff, true)
	defer recio.Lock(h.idxFile.Fd(), recio.LockUnlock, w.ChainOff, 1)
	if err != nil {
		h.counters.StoreErr++
		kverrors.Fatal("store", err)
		return err
	}

	if !w.Found {
		if mode == ModeReplace {
			h.counters.StoreErr++
			return kverrors.New("store", kverrors.CodeKeyNotFound, nil)
		}
		if err := h.insertNew(w, key, value, keyLen, datLen); err != nil {
			h.counters.StoreErr++
			return err
		}
	} else {
		if mode == ModeInsert {
			h.counters.StoreErr++
			return kverrors.New("store", kverrors.CodeKeyExists, nil)
		}
		if err := h.replaceExisting(w, key, value, datLen); err != nil {
			h.counters.StoreErr++
			return err
		}
	}

	if h.filter != nil {
		h.filter.Add(key)
	}
	return nil
}

// insertNew handles the not-found branch of Store: reuse a same-sized
// free-list slot if one exists, otherwise append fresh data and index
// records, then thread the new record onto the bucket's chain.
func (h *Handle) insertNew(w chain.Walk, key, value string, keyLen, datLen int64) error {
	oldHead, err := recio.ReadPtr(h.idxFile, w.ChainOff)
	if err != nil {
		kverrors.Fatal("store: read chain head", err)
		return err
	}

	foundFree, freeRec, err := chain.FindFree(h.idxFile, keyLen, datLen, h.freeOff)
	if err != nil {
		kverrors.Fatal("store: find free slot", err)
		return err
	}

	if foundFree {
		if _, _, err := recio.WriteData(h.datFile, value, freeRec.DatOff, io.SeekStart); err != nil {
			kverrors.Fatal("store: reuse data slot", err)
			return err
		}
		if _, err := recio.WriteIndex(h.idxFile, key, freeRec.DatOff, datLen, freeRec.Offset, io.SeekStart, oldHead, h.recordRegionStart); err != nil {
			kverrors.Fatal("store: reuse index slot", err)
			return err
		}
		if err := chain.LinkHead(h.idxFile, w.ChainOff, freeRec.Offset); err != nil {
			kverrors.Fatal("store: link chain head", err)
			return err
		}
		h.counters.Stor2++
		return nil
	}

	datOff, _, err := recio.WriteData(h.datFile, value, 0, io.SeekEnd)
	if err != nil {
		kverrors.Fatal("store: append data", err)
		return err
	}
	idxOff, err := recio.WriteIndex(h.idxFile, key, datOff, datLen, 0, io.SeekEnd, oldHead, h.recordRegionStart)
	if err != nil {
		kverrors.Fatal("store: append index", err)
		return err
	}
	if err := chain.LinkHead(h.idxFile, w.ChainOff, idxOff); err != nil {
		kverrors.Fatal("store: link chain head", err)
		return err
	}
	h.counters.Stor1++
	return nil
}

// replaceExisting handles the found branch of Store: overwrite in
// place when the new value is the same length (the only case that
// fits without disturbing neighboring records), otherwise delete the
// old record and append a fresh one, same as an insert.
func (h *Handle) replaceExisting(w chain.Walk, key, value string, datLen int64) error {
	if datLen == w.Rec.DatLen {
		if _, _, err := recio.WriteData(h.datFile, value, w.Rec.DatOff, io.SeekStart); err != nil {
			kverrors.Fatal("store: overwrite data", err)
			return err
		}
		h.counters.Stor4++
		return nil
	}

	if err := chain.Delete(h.idxFile, h.datFile, w.Rec, w.PtrOff, h.freeOff); err != nil {
		kverrors.Fatal("store: delete before replace", err)
		return err
	}
	h.counters.DelOK++

	oldHead, err := recio.ReadPtr(h.idxFile, w.ChainOff)
	if err != nil {
		kverrors.Fatal("store: read chain head after delete", err)
		return err
	}
	datOff, _, err := recio.WriteData(h.datFile, value, 0, io.SeekEnd)
	if err != nil {
		kverrors.Fatal("store: append replacement data", err)
		return err
	}
	idxOff, err := recio.WriteIndex(h.idxFile, key, datOff, datLen, 0, io.SeekEnd, oldHead, h.recordRegionStart)
	if err != nil {
		kverrors.Fatal("store: append replacement index", err)
		return err
	}
	if err := chain.LinkHead(h.idxFile, w.ChainOff, idxOff); err != nil {
		kverrors.Fatal("store: link chain head", err)
		return err
	}
	h.counters.Stor3++
	return nil
}

// Delete removes key. It fails if the key does not exist.
func (h *Handle) Delete(key string) error {
	if h.readOnly {
		return kverrors.New("delete", kverrors.CodeReadOnly, nil)
	}
	w, err := chain.FindInChain(h.idxFile, key, h.hashSize, h.hashOff, true)
	defer recio.Lock(h.idxFile.Fd(), recio.LockUnlock, w.ChainOff, 1)
	if err != nil {
		h.counters.DelErr++
		kverrors.Fatal("delete", err)
		return err
	}
	if !w.Found {
		h.counters.DelErr++
		return kverrors.New("delete", kverrors.CodeKeyNotFound, nil)
	}
	if err := chain.Delete(h.idxFile, h.datFile, w.Rec, w.PtrOff, h.freeOff); err != nil {
		h.counters.DelErr++
		kverrors.Fatal("delete", err)
		return err
	}
	h.counters.DelOK++
	return nil
}

// Vacuum rebuilds the database into fresh files containing only live
// records, then swaps them in. It is the only operation that holds no
// per-record locks of its own — it relies on Rewind/Next/Store, which
// do — and leaves h re-opened against the compacted files on success.
func (h *Handle) Vacuum() error {
	if h.readOnly {
		return kverrors.New("vacuum", kverrors.CodeReadOnly, nil)
	}
	tmpPath := h.path + ".vacuum"
	tmpOpts := OpenOptions{
		Path:           tmpPath,
		Create:         true,
		Truncate:       true,
		FileMode:       h.fileMode,
		HashSize:       h.hashSize,
		NegativeFilter: false,
	}
	tmp, err := Open(tmpOpts)
	if err != nil {
		return fmt.Errorf("store: vacuum: open scratch database: %w", err)
	}

	h.Rewind()
	for {
		key, value, ok, err := h.Next()
		if err != nil {
			tmp.Close()
			os.Remove(tmpOpts.idxPath())
			os.Remove(tmpOpts.datPath())
			return fmt.Errorf("store: vacuum: scan source: %w", err)
		}
		if !ok {
			break
		}
		if err := tmp.Store(key, value, ModeInsert); err != nil {
			tmp.Close()
			os.Remove(tmpOpts.idxPath())
			os.Remove(tmpOpts.datPath())
			return fmt.Errorf("store: vacuum: rewrite record: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: vacuum: close scratch database: %w", err)
	}

	idxPath, datPath := h.path+".idx", h.path+".dat"
	if err := h.idxFile.Close(); err != nil {
		return fmt.Errorf("store: vacuum: close current index file: %w", err)
	}
	if err := h.datFile.Close(); err != nil {
		return fmt.Errorf("store: vacuum: close current data file: %w", err)
	}
	if err := os.Rename(tmpOpts.idxPath(), idxPath); err != nil {
		return fmt.Errorf("store: vacuum: install new index file: %w", err)
	}
	if err := os.Rename(tmpOpts.datPath(), datPath); err != nil {
		return fmt.Errorf("store: vacuum: install new data file: %w", err)
	}

	reopened, err := Open(OpenOptions{
		Path:           h.path,
		ReadOnly:       h.readOnly,
		FileMode:       h.fileMode,
		HashSize:       h.hashSize,
		NegativeFilter: h.filter != nil,
		Logger:         h.logger,
	})
	if err != nil {
		return fmt.Errorf("store: vacuum: reopen compacted database: %w", err)
	}
	*h = *reopened
	return nil
}
