// Package recio performs positional reads and writes of the three
// physical record shapes that make up a flatkv database: pointer
// fields, index records, and data records. It also exposes the
// lock primitive (lock.go) that every higher layer uses to coordinate
// concurrent access to the index file.
//
// Every operation here is synchronous positional I/O; none of it
// understands hash chains, free lists, or store semantics — that is
// the chain package's job.
package recio

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/brickhouse-io/flatkv/codec"
)

const (
	// SepByte separates the three fields of an index body: key, data
	// offset, data length.
	SepByte = ':'

	NewlineByte = '\n'

	IdxLenMin = 6
	IdxLenMax = 1024
	DatLenMin = 2
	DatLenMax = 1024
)

// IndexRecord is the parsed form of one index-record slot: a successor
// pointer plus a decoded body (key, data offset, data length).
type IndexRecord struct {
	Offset  int64 // file offset this record was read from
	Next    int64 // successor pointer (0 = null)
	BodyLen int64 // exact byte length of the body, including trailing newline
	Key     string
	DatOff  int64
	DatLen  int64
}

// ReadPtr reads a PtrSize-byte pointer field at offset and decodes it.
func ReadPtr(f *os.File, offset int64) (int64, error) {
	buf := make([]byte, codec.PtrSize)
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("recio: seek pointer at %d: %w", offset, err)
	}
	n, err := io.ReadFull(f, buf)
	if err != nil {
		return 0, fmt.Errorf("recio: read pointer at %d: %w", offset, err)
	}
	if n != codec.PtrSize {
		return 0, fmt.Errorf("recio: short read of pointer field at %d", offset)
	}
	return codec.DecodePtr(buf)
}

// WritePtr encodes ptr and writes it at offset via a single positional write.
func WritePtr(f *os.File, offset int64, ptr int64) error {
	buf, err := codec.EncodePtr(ptr)
	if err != nil {
		return fmt.Errorf("recio: encode pointer: %w", err)
	}
	n, err := f.WriteAt(buf, offset)
	if err != nil {
		return fmt.Errorf("recio: write pointer at %d: %w", offset, err)
	}
	if n != codec.PtrSize {
		return fmt.Errorf("recio: short write of pointer field at %d", offset)
	}
	return nil
}

// ReadIndex reads one index record. If offset == 0 the read continues
// from the file's current position (used by sequential scans); any
// other offset is an explicit seek. The fixed P+L header is read first,
// then exactly len more bytes of body; the body must end in a newline
// and split into exactly key:datoff:datlen.
func ReadIndex(f *os.File, offset int64) (IndexRecord, error) {
	seekWhence := io.SeekStart
	if offset == 0 {
		seekWhence = io.SeekCurrent
		offset = 0
	}
	curOffset, err := f.Seek(offset, seekWhence)
	if err != nil {
		return IndexRecord{}, fmt.Errorf("recio: seek index record: %w", err)
	}

	ptrBuf := make([]byte, codec.PtrSize)
	lenBuf := make([]byte, codec.LenSize)
	n, err := unix.Readv(int(f.Fd()), [][]byte{ptrBuf, lenBuf})
	if err != nil {
		return IndexRecord{}, fmt.Errorf("recio: read index header at %d: %w", curOffset, err)
	}
	if n == 0 {
		return IndexRecord{}, io.EOF
	}
	if n != codec.PtrSize+codec.LenSize {
		return IndexRecord{}, fmt.Errorf("recio: short read of index header at %d", curOffset)
	}

	next, err := codec.DecodePtr(ptrBuf)
	if err != nil {
		return IndexRecord{}, fmt.Errorf("recio: corrupt index record at %d: %w", curOffset, err)
	}
	bodyLen, err := codec.DecodeLen(lenBuf)
	if err != nil {
		return IndexRecord{}, fmt.Errorf("recio: corrupt index record at %d: %w", curOffset, err)
	}
	if bodyLen < IdxLenMin || bodyLen > IdxLenMax {
		return IndexRecord{}, fmt.Errorf("recio: index record at %d has invalid length %d", curOffset, bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(f, body); err != nil {
		return IndexRecord{}, fmt.Errorf("recio: read index body at %d: %w", curOffset, err)
	}
	if body[bodyLen-1] != NewlineByte {
		return IndexRecord{}, fmt.Errorf("recio: index record at %d not newline-terminated", curOffset)
	}

	rec := IndexRecord{Offset: curOffset, Next: next, BodyLen: bodyLen}
	content := string(body[:bodyLen-1])

	// A blanked (freed) slot still carries its original datoff:datlen
	// suffix — only the key field is overwritten with spaces — so this
	// parses the same way whether the record is live or freed. Callers
	// recognize a freed slot by an all-space key (strings.TrimSpace ==
	// ""), not by a missing body.
	parts := strings.SplitN(content, string(SepByte), 3)
	if len(parts) != 3 {
		return IndexRecord{}, fmt.Errorf("recio: index record at %d missing separators", curOffset)
	}
	rec.Key = parts[0]
	datOff, err := parseDecimal(parts[1])
	if err != nil {
		return IndexRecord{}, fmt.Errorf("recio: index record at %d: %w", curOffset, err)
	}
	if datOff < 0 {
		return IndexRecord{}, fmt.Errorf("recio: index record at %d: negative data offset", curOffset)
	}
	datLen, err := parseDecimal(parts[2])
	if err != nil {
		return IndexRecord{}, fmt.Errorf("recio: index record at %d: %w", curOffset, err)
	}
	if datLen < DatLenMin || datLen > DatLenMax {
		return IndexRecord{}, fmt.Errorf("recio: index record at %d: invalid data length %d", curOffset, datLen)
	}
	rec.DatOff = datOff
	rec.DatLen = datLen
	return rec, nil
}

func isAllSpaces(b []byte) bool {
	for _, c := range b {
		if c != ' ' {
			return false
		}
	}
	return true
}

func parseDecimal(s string) (int64, error) {
	var v int64
	if s == "" {
		return 0, fmt.Errorf("empty integer field")
	}
	for _, c := range []byte(s) {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("malformed integer field %q", s)
		}
		v = v*10 + int64(c-'0')
	}
	return v, nil
}

// ReadData reads datlen bytes at datoff from the data file and strips
// the trailing newline.
func ReadData(f *os.File, datOff int64, datLen int64) (string, error) {
	if _, err := f.Seek(datOff, io.SeekStart); err != nil {
		return "", fmt.Errorf("recio: seek data at %d: %w", datOff, err)
	}
	buf := make([]byte, datLen)
	if _, err := io.ReadFull(f, buf); err != nil {
		return "", fmt.Errorf("recio: read data at %d: %w", datOff, err)
	}
	if buf[datLen-1] != NewlineByte {
		return "", fmt.Errorf("recio: data record at %d missing trailing newline", datOff)
	}
	return string(buf[:datLen-1]), nil
}

// WriteData writes value+newline at the given offset. whence is
// io.SeekStart to overwrite in place or io.SeekEnd to append; in the
// append case the entire data file is write-locked for the duration.
// Returns the offset actually written to and the record's total length
// (including the newline).
func WriteData(f *os.File, value string, offset int64, whence int) (int64, int64, error) {
	if whence == io.SeekEnd {
		if err := Lock(f.Fd(), LockWrite, 0, 0); err != nil {
			return 0, 0, fmt.Errorf("recio: lock data file for append: %w", err)
		}
		defer Lock(f.Fd(), LockUnlock, 0, 0)
	}
	newOffset, err := f.Seek(offset, whence)
	if err != nil {
		return 0, 0, fmt.Errorf("recio: seek data file: %w", err)
	}
	datLen := int64(len(value) + 1)
	n, err := unix.Writev(int(f.Fd()), [][]byte{[]byte(value), {NewlineByte}})
	if err != nil {
		return 0, 0, fmt.Errorf("recio: write data at %d: %w", newOffset, err)
	}
	if int64(n) != datLen {
		return 0, 0, fmt.Errorf("recio: short write of data record at %d", newOffset)
	}
	return newOffset, datLen, nil
}

// WriteIndex formats and writes one index record: a fixed P-byte
// successor pointer, a fixed L-byte body length, then the body
// "key:datoff:datlen\n". whence is io.SeekStart to overwrite a
// reused slot in place or io.SeekEnd to append a new record; in the
// append case the index record region (from end of directory to EOF)
// is write-locked for the duration. recordRegionStart is the first
// byte past the hash directory's trailing newline.
func WriteIndex(f *os.File, key string, datOff, datLen int64, offset int64, whence int, next int64, recordRegionStart int64) (int64, error) {
	body := fmt.Sprintf("%s%c%d%c%d\n", key, SepByte, datOff, SepByte, datLen)
	bodyLen := int64(len(body))
	if bodyLen < IdxLenMin || bodyLen > IdxLenMax {
		return 0, fmt.Errorf("recio: index record length %d out of range [%d, %d]", bodyLen, IdxLenMin, IdxLenMax)
	}

	ptrField, err := codec.EncodePtr(next)
	if err != nil {
		return 0, fmt.Errorf("recio: encode successor pointer: %w", err)
	}
	lenField, err := codec.EncodeLen(bodyLen)
	if err != nil {
		return 0, fmt.Errorf("recio: encode body length: %w", err)
	}

	if whence == io.SeekEnd {
		if err := Lock(f.Fd(), LockWrite, recordRegionStart, 0); err != nil {
			return 0, fmt.Errorf("recio: lock index record region: %w", err)
		}
		defer Lock(f.Fd(), LockUnlock, recordRegionStart, 0)
	}

	newOffset, err := f.Seek(offset, whence)
	if err != nil {
		return 0, fmt.Errorf("recio: seek index file: %w", err)
	}
	n, err := unix.Writev(int(f.Fd()), [][]byte{ptrField, lenField, []byte(body)})
	if err != nil {
		return 0, fmt.Errorf("recio: write index record at %d: %w", newOffset, err)
	}
	want := int64(len(ptrField) + len(lenField) + len(body))
	if int64(n) != want {
		return 0, fmt.Errorf("recio: short write of index record at %d", newOffset)
	}
	return newOffset, nil
}
