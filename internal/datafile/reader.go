// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package datafile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"

	"github.com/bpowers/bitstore/internal/format"
)

// ErrTruncated is returned when the data file ends part way through a record.
var ErrTruncated = errors.New("data file ends with a partial record")

// Record is one data or spill record.  Exactly one of Value and Spill is
// non-nil.  All slices alias the mapping and are only valid until Close.
type Record struct {
	Offset int64
	Key    []byte
	Value  []byte
	// Spill is the compact bucket held by a spill record.
	Spill []byte
}

func (r Record) IsSpill() bool {
	return r.Spill != nil
}

// Size returns the number of bytes the record occupies in the file.
func (r Record) Size() int64 {
	if r.IsSpill() {
		return format.SpillRecordHeaderSize + int64(len(r.Spill))
	}
	return format.DataRecordHeaderSize + int64(len(r.Key)) + int64(len(r.Value))
}

// MmapReader reads a data file through a read-only memory mapping.  It is
// meant for offline scans; a live store reads with pread instead.
type MmapReader struct {
	h        format.DatHeader
	f        *os.File
	m        mmap.MMap
	isClosed atomic.Bool
}

// Open maps the data file at path and validates its header.
func Open(path string) (*MmapReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("os.Open(%s): %w", path, err)
	}

	stats, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("f.Stat: %w", err)
	}
	if stats.Size() < format.DatHeaderSize {
		_ = f.Close()
		return nil, fmt.Errorf("%w: data file is %d bytes", format.ErrShortHeader, stats.Size())
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmap.Map(%s): %w", path, err)
	}

	// scans are front to back
	if err := unix.Madvise(m, unix.MADV_SEQUENTIAL); err != nil {
		_ = m.Unmap()
		_ = f.Close()
		return nil, fmt.Errorf("madvise: %w", err)
	}

	r := &MmapReader{
		f: f,
		m: m,
	}
	if err := r.h.UnmarshalBytes(m[:format.DatHeaderSize]); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("DatHeader.UnmarshalBytes: %w", err)
	}
	if err := r.h.Verify(); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("DatHeader.Verify: %w", err)
	}
	return r, nil
}

func (r *MmapReader) Header() *format.DatHeader {
	return &r.h
}

// Size returns the length of the mapped file.
func (r *MmapReader) Size() int64 {
	return int64(len(r.m))
}

// ReadAt implements io.ReaderAt over the mapping.
func (r *MmapReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrInvalidOffset
	}
	if off >= int64(len(r.m)) {
		return 0, io.EOF
	}
	n := copy(p, r.m[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// RecordAt decodes the record starting at off.
func (r *MmapReader) RecordAt(off int64) (Record, error) {
	// offsets are absolute from the start of the file, and every data file
	// starts with a header, so nothing lives below DatHeaderSize.
	if off < format.DatHeaderSize {
		return Record{}, fmt.Errorf("%w: %d", ErrInvalidOffset, off)
	}
	m := r.m
	end := int64(len(m))
	if off+format.Uint48Size > end {
		return Record{}, fmt.Errorf("%w: at %d", ErrTruncated, off)
	}
	size := int64(format.Uint48(m[off : off+format.Uint48Size]))
	if size == 0 {
		start := off + format.SpillRecordHeaderSize
		if start > end {
			return Record{}, fmt.Errorf("%w: at %d", ErrTruncated, off)
		}
		n := int64(binary.LittleEndian.Uint16(m[off+format.Uint48Size : start]))
		if start+n > end {
			return Record{}, fmt.Errorf("%w: spill at %d", ErrTruncated, off)
		}
		return Record{Offset: off, Spill: m[start : start+n : start+n]}, nil
	}

	keySize := int64(r.h.KeySize)
	start := off + format.DataRecordHeaderSize
	if start+keySize+size > end {
		return Record{}, fmt.Errorf("%w: record at %d with %d byte value", ErrTruncated, off, size)
	}
	return Record{
		Offset: off,
		Key:    m[start : start+keySize : start+keySize],
		Value:  m[start+keySize : start+keySize+size : start+keySize+size],
	}, nil
}

// Iter returns an iterator over every record after the header.
func (r *MmapReader) Iter() *Iter {
	return &Iter{
		r:   r,
		off: format.DatHeaderSize,
	}
}

func (r *MmapReader) Close() error {
	if r.isClosed.Swap(true) {
		return nil
	}
	err := r.m.Unmap()
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Iter walks the records of a data file in order.
//
//	for it.Next() {
//		rec := it.Record()
//	}
//	if err := it.Err(); err != nil {
type Iter struct {
	r   *MmapReader
	off int64
	rec Record
	err error
}

// Next advances to the next record, returning false at the end of the file
// or on error.
func (it *Iter) Next() bool {
	if it.err != nil || it.off >= it.r.Size() {
		return false
	}
	rec, err := it.r.RecordAt(it.off)
	if err != nil {
		it.err = err
		return false
	}
	it.rec = rec
	it.off += rec.Size()
	return true
}

func (it *Iter) Record() Record {
	return it.rec
}

// Offset returns the offset just past the last record returned.
func (it *Iter) Offset() int64 {
	return it.off
}

func (it *Iter) Err() error {
	return it.err
}
