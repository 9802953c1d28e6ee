package recio

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/brickhouse-io/flatkv/codec"
)

// WriteBlankIndexBody overwrites an existing index record slot in
// place, replacing its key with spaces of the same length but
// rewriting its datoff:datlen suffix verbatim, and rewrites its
// successor pointer. This is how a deleted record is threaded onto the
// free list: the key becomes unrecoverable (so a sequential scan skips
// it) but datoff/datlen stay readable, so a later FindFree can still
// recover where the slot's data lives and hand a byte-exact match back
// to the store layer for reuse.
func WriteBlankIndexBody(f *os.File, offset int64, keyLen int64, datOff int64, datLen int64, next int64) error {
	if keyLen < 0 {
		return fmt.Errorf("recio: cannot blank index body with negative key length %d", keyLen)
	}
	body := fmt.Sprintf("%s%c%d%c%d\n", strings.Repeat(" ", int(keyLen)), SepByte, datOff, SepByte, datLen)
	bodyLen := int64(len(body))

	ptrField, err := codec.EncodePtr(next)
	if err != nil {
		return fmt.Errorf("recio: encode successor pointer: %w", err)
	}
	lenField, err := codec.EncodeLen(bodyLen)
	if err != nil {
		return fmt.Errorf("recio: encode body length: %w", err)
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("recio: seek index record at %d: %w", offset, err)
	}
	n, err := unix.Writev(int(f.Fd()), [][]byte{ptrField, lenField, []byte(body)})
	if err != nil {
		return fmt.Errorf("recio: blank index record at %d: %w", offset, err)
	}
	want := len(ptrField) + len(lenField) + len(body)
	if n != want {
		return fmt.Errorf("recio: short write blanking index record at %d", offset)
	}
	return nil
}

// WriteBlankData overwrites an existing data record in place with
// spaces, keeping its trailing newline and byte length.
func WriteBlankData(f *os.File, offset int64, datLen int64) error {
	if datLen < 1 {
		return fmt.Errorf("recio: cannot blank data record of length %d", datLen)
	}
	blank := strings.Repeat(" ", int(datLen-1))
	_, _, err := WriteData(f, blank, offset, io.SeekStart)
	return err
}
