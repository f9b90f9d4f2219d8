// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package bucket is an in-memory view of one key file block: a list of
// (hash, offset, size) entries sorted by hash, plus a pointer to an overflow
// ("spill") bucket stored in the data file.
//
// A bucket looks like:
//
//	+----+----+----+----+----+----+----+----+
//	| count   | spill (u48)                 |
//	+----+----+----+----+----+----+----+----+
//	| hash (u48)                  | offset..
//	+----+----+----+----+----+----+----+----+
//	..offset (u48)      | size (u48)        |
//	+----+----+----+----+----+----+----+----+
//	| ... count entries, then zero padding  |
//	+----+----+----+----+----+----+----+----+
//
// The "compact" form of a bucket is the prefix holding count entries; it is
// what spill records and log records store.  Buckets do no locking.
package bucket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bpowers/bitstore/internal/bulkio"
	"github.com/bpowers/bitstore/internal/format"
	"github.com/bpowers/bitstore/internal/ondisk"
	"github.com/bpowers/bitstore/internal/zero"
)

var ErrCorrupt = errors.New("corrupt bucket")

// Entry describes one data record.
type Entry struct {
	Hash   uint64
	Offset uint64
	Size   uint64
}

// Bucket is a view over a blockSize-long buffer.  Copies of a Bucket share
// the buffer; use Clone for an independent copy.
type Bucket struct {
	blockSize int
	capacity  int
	buf       []byte
}

// New returns a bucket over the first blockSize bytes of buf.  The contents
// of buf are interpreted as-is; call Clear for an empty bucket.
func New(blockSize int, buf []byte) Bucket {
	if len(buf) < blockSize {
		panic(fmt.Errorf("bucket.New: buffer of %d bytes too short for block size %d", len(buf), blockSize))
	}
	capacity := format.BucketCapacity(blockSize)
	if capacity < 1 {
		panic(fmt.Errorf("bucket.New: block size %d holds no entries", blockSize))
	}
	return Bucket{
		blockSize: blockSize,
		capacity:  capacity,
		buf:       buf[:blockSize],
	}
}

// Make allocates a new empty bucket.
func Make(blockSize int) Bucket {
	return New(blockSize, make([]byte, blockSize))
}

func (b Bucket) BlockSize() int { return b.blockSize }
func (b Bucket) Capacity() int  { return b.capacity }

// Len returns the number of entries.
func (b Bucket) Len() int {
	return int(binary.LittleEndian.Uint16(b.buf[0:2]))
}

func (b Bucket) setLen(n int) {
	binary.LittleEndian.PutUint16(b.buf[0:2], uint16(n))
}

func (b Bucket) IsEmpty() bool { return b.Len() == 0 }
func (b Bucket) IsFull() bool  { return b.Len() >= b.capacity }

// Spill returns the data file offset of the overflow bucket, or 0.
func (b Bucket) Spill() uint64 {
	return format.Uint48(b.buf[2:8])
}

func (b Bucket) SetSpill(off uint64) {
	format.PutUint48(b.buf[2:8], off)
}

func (b Bucket) entry(i int) []byte {
	off := format.BucketHeaderSize + i*format.BucketEntrySize
	return b.buf[off : off+format.BucketEntrySize]
}

// At returns the i'th entry.
func (b Bucket) At(i int) Entry {
	if i < 0 || i >= b.Len() {
		panic(fmt.Errorf("bucket.At(%d): out of range (len %d)", i, b.Len()))
	}
	e := b.entry(i)
	return Entry{
		Hash:   format.Uint48(e[0:6]),
		Offset: format.Uint48(e[6:12]),
		Size:   format.Uint48(e[12:18]),
	}
}

// LowerBound returns the index of the first entry with a hash >= h.
func (b Bucket) LowerBound(h uint64) int {
	lo, hi := 0, b.Len()
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if format.Uint48(b.entry(mid)[0:6]) < h {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Insert adds an entry keeping the bucket sorted by hash.  The caller must
// make room first (see MaybeSpill): inserting into a full bucket panics.
func (b Bucket) Insert(offset, size, hash uint64) {
	n := b.Len()
	if n >= b.capacity {
		panic("invariant broken: insert into full bucket")
	}
	i := b.LowerBound(hash)
	start := format.BucketHeaderSize + i*format.BucketEntrySize
	end := format.BucketHeaderSize + n*format.BucketEntrySize
	copy(b.buf[start+format.BucketEntrySize:end+format.BucketEntrySize], b.buf[start:end])
	e := b.entry(i)
	format.PutUint48(e[0:6], hash)
	format.PutUint48(e[6:12], offset)
	format.PutUint48(e[12:18], size)
	b.setLen(n + 1)
}

// Erase removes the i'th entry, shifting later entries down.
func (b Bucket) Erase(i int) {
	n := b.Len()
	if i < 0 || i >= n {
		panic(fmt.Errorf("bucket.Erase(%d): out of range (len %d)", i, n))
	}
	start := format.BucketHeaderSize + i*format.BucketEntrySize
	end := format.BucketHeaderSize + n*format.BucketEntrySize
	copy(b.buf[start:], b.buf[start+format.BucketEntrySize:end])
	zero.Bytes(b.buf[end-format.BucketEntrySize : end])
	b.setLen(n - 1)
}

// Clear empties the bucket and its spill pointer.
func (b Bucket) Clear() {
	zero.Bytes(b.buf)
}

// CompactSize is the number of bytes the populated part of the bucket occupies.
func (b Bucket) CompactSize() int {
	return format.BucketSize(b.Len())
}

// AppendCompact appends the compact form of the bucket to dst.
func (b Bucket) AppendCompact(dst []byte) []byte {
	return append(dst, b.buf[:b.CompactSize()]...)
}

// Clone returns a bucket with its own copy of the contents.
func (b Bucket) Clone() Bucket {
	buf := make([]byte, b.blockSize)
	copy(buf, b.buf)
	return New(b.blockSize, buf)
}

// CopyFrom overwrites b with the contents of other.
func (b Bucket) CopyFrom(other Bucket) {
	copy(b.buf, other.buf)
}

func (b Bucket) validate() error {
	if n := b.Len(); n > b.capacity {
		return fmt.Errorf("%w: %d entries exceeds capacity %d", ErrCorrupt, n, b.capacity)
	}
	return nil
}

// CheckPadding reports an error if any byte past the bucket's entries is
// set.  Buckets written by this package always have zero padding.
func (b Bucket) CheckPadding() error {
	if err := b.validate(); err != nil {
		return err
	}
	if !zero.IsBytes(b.buf[b.CompactSize():]) {
		return fmt.Errorf("%w: non-zero bytes after %d entries", ErrCorrupt, b.Len())
	}
	return nil
}

// ReadBlock reads a whole key file block at off.
func (b Bucket) ReadBlock(r io.ReaderAt, off int64) error {
	if err := ondisk.ReadFull(r, b.buf, off); err != nil {
		return fmt.Errorf("bucket.ReadBlock(%d): %w", off, err)
	}
	return b.validate()
}

// WriteBlock writes the bucket as a whole block at off.
func (b Bucket) WriteBlock(w io.WriterAt, off int64) error {
	if err := ondisk.WriteFull(w, b.buf, off); err != nil {
		return fmt.Errorf("bucket.WriteBlock(%d): %w", off, err)
	}
	return nil
}

// ReadSpill reads the spill record at off in the data file.
func (b Bucket) ReadSpill(r io.ReaderAt, off int64) error {
	var header [format.SpillRecordHeaderSize]byte
	if err := ondisk.ReadFull(r, header[:], off); err != nil {
		return fmt.Errorf("bucket.ReadSpill(%d): %w", off, err)
	}
	if marker := format.Uint48(header[0:6]); marker != 0 {
		return fmt.Errorf("%w: offset %d is a data record, not a spill", ErrCorrupt, off)
	}
	size := int(binary.LittleEndian.Uint16(header[6:8]))
	if size < format.BucketHeaderSize || size > b.blockSize {
		return fmt.Errorf("%w: spill at %d has bad size %d", ErrCorrupt, off, size)
	}
	zero.Bytes(b.buf)
	if err := ondisk.ReadFull(r, b.buf[:size], off+format.SpillRecordHeaderSize); err != nil {
		return fmt.Errorf("bucket.ReadSpill(%d): %w", off, err)
	}
	if format.BucketSize(b.Len()) != size {
		return fmt.Errorf("%w: spill at %d has %d entries in %d bytes", ErrCorrupt, off, b.Len(), size)
	}
	return b.validate()
}

// ReadCompact reads a compact bucket (as stored in log records) from r.
func (b Bucket) ReadCompact(r io.Reader) error {
	zero.Bytes(b.buf)
	if _, err := io.ReadFull(r, b.buf[:format.BucketHeaderSize]); err != nil {
		return err
	}
	if err := b.validate(); err != nil {
		return err
	}
	rest := b.buf[format.BucketHeaderSize:b.CompactSize()]
	if _, err := io.ReadFull(r, rest); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

// WriteSpill appends b to w as a spill record and returns its offset.
func (b Bucket) WriteSpill(w *bulkio.Writer) (uint64, error) {
	off := w.Offset()
	if err := w.WriteUint48(0); err != nil {
		return 0, err
	}
	if err := w.WriteUint16(uint16(b.CompactSize())); err != nil {
		return 0, err
	}
	if _, err := w.Write(b.buf[:b.CompactSize()]); err != nil {
		return 0, err
	}
	return uint64(off), nil
}

// MaybeSpill makes room in a full bucket by moving its contents to a spill
// record in the data file and chaining to it.
func MaybeSpill(b Bucket, w *bulkio.Writer) (bool, error) {
	if !b.IsFull() {
		return false, nil
	}
	off, err := b.WriteSpill(w)
	if err != nil {
		return false, fmt.Errorf("WriteSpill: %w", err)
	}
	b.Clear()
	b.SetSpill(off)
	return true, nil
}
