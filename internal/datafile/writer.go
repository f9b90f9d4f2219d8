// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package datafile

import (
	"errors"
	"fmt"

	"github.com/bpowers/bitstore/internal/bulkio"
	"github.com/bpowers/bitstore/internal/format"
)

// MaxValueSize is the largest (encoded) value a data record can hold.
const MaxValueSize = (1 << 32) - 1

var (
	ErrInvalidOffset = errors.New("invalid offset")
	ErrInvalidRecord = errors.New("invalid data record")
)

// Writer appends data records to a data file.
type Writer struct {
	w       *bulkio.Writer
	keySize int
	count   uint64
}

func NewWriter(w *bulkio.Writer, keySize int) *Writer {
	return &Writer{
		w:       w,
		keySize: keySize,
	}
}

// Append writes a data record and returns its offset.
func (w *Writer) Append(key, value []byte) (off uint64, err error) {
	if len(key) != w.keySize {
		return 0, fmt.Errorf("%w: key is %d bytes, not %d", ErrInvalidRecord, len(key), w.keySize)
	}
	if len(value) == 0 || len(value) > MaxValueSize {
		return 0, fmt.Errorf("%w: value size %d", ErrInvalidRecord, len(value))
	}

	off = uint64(w.w.Offset())
	if off == 0 {
		return 0, errors.New("invariant broken: data records never start at offset 0")
	}
	if off+uint64(format.DataRecordSize(w.keySize, len(value))) > format.MaxUint48 {
		return 0, errors.New("data file has grown too large (>256 TiB)")
	}

	if err := w.w.WriteUint48(uint64(len(value))); err != nil {
		return 0, fmt.Errorf("WriteUint48: %w", err)
	}
	if _, err := w.w.Write(key); err != nil {
		return 0, fmt.Errorf("Write(key): %w", err)
	}
	if _, err := w.w.Write(value); err != nil {
		return 0, fmt.Errorf("Write(value): %w", err)
	}
	w.count++

	return off, nil
}

// Count returns the number of records appended.
func (w *Writer) Count() uint64 {
	return w.count
}
