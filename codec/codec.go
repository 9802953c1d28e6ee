// Package codec encodes and decodes the fixed-width ASCII integer fields
// that make up the index file's wire format: pointer fields and index
// record length fields. Every other layer builds on these two transforms.
package codec

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// PtrSize is the width, in bytes, of a pointer field: a file offset
	// encoded as decimal ASCII, right-justified, space-padded. 0 denotes
	// the null pointer.
	PtrSize = 7

	// LenSize is the width, in bytes, of an index record's body-length field.
	LenSize = 4

	// PtrMax is the largest offset a pointer field can hold (10**PtrSize - 1).
	PtrMax = 9999999
)

// EncodePtr formats v as a PtrSize-byte right-justified, space-padded
// decimal field. It fails if v does not fit in PtrSize digits.
func EncodePtr(v int64) ([]byte, error) {
	if v < 0 || v > PtrMax {
		return nil, fmt.Errorf("codec: pointer %d out of range [0, %d]", v, PtrMax)
	}
	return []byte(fmt.Sprintf("%*d", PtrSize, v)), nil
}

// DecodePtr parses exactly PtrSize bytes of decimal ASCII into an offset.
func DecodePtr(b []byte) (int64, error) {
	if len(b) != PtrSize {
		return 0, fmt.Errorf("codec: pointer field must be %d bytes, got %d", PtrSize, len(b))
	}
	return parseField(b)
}

// EncodeLen formats v as a LenSize-byte right-justified, space-padded
// decimal field. It fails if v does not fit in LenSize digits.
func EncodeLen(v int64) ([]byte, error) {
	if v < 0 || v > 9999 {
		return nil, fmt.Errorf("codec: length %d out of range [0, 9999]", v)
	}
	return []byte(fmt.Sprintf("%*d", LenSize, v)), nil
}

// DecodeLen parses exactly LenSize bytes of decimal ASCII into a length.
func DecodeLen(b []byte) (int64, error) {
	if len(b) != LenSize {
		return 0, fmt.Errorf("codec: length field must be %d bytes, got %d", LenSize, len(b))
	}
	return parseField(b)
}

func parseField(b []byte) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("codec: malformed decimal field %q: %w", b, err)
	}
	return v, nil
}
