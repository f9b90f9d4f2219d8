// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package bulkio batches appends to, and sequential scans of, files that are
// otherwise accessed at explicit offsets.
package bulkio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/bpowers/bitstore/internal/format"
)

const DefaultBufferSize = 16 * 1024 * 1024

type nopWriter struct{}

func (nopWriter) Write([]byte) (int, error) {
	return 0, io.EOF
}

// Writer appends to a file starting at a fixed offset, buffering writes to
// avoid write amplification.
type Writer struct {
	w        *bufio.Writer
	off      int64
	scratch  [8]byte
	finished atomic.Bool
}

// NewWriter returns a Writer whose first byte lands at off in f.
func NewWriter(f io.WriterAt, off int64, bufferSize int) *Writer {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Writer{
		w:   bufio.NewWriterSize(io.NewOffsetWriter(f, off), bufferSize),
		off: off,
	}
}

// Offset returns the file offset the next written byte will occupy.
func (w *Writer) Offset() int64 {
	return w.off
}

// Buffered returns the number of bytes written but not yet flushed to the file.
// Bytes in [Offset()-Buffered(), Offset()) cannot be read back from the file.
func (w *Writer) Buffered() int64 {
	if w.w == nil {
		return 0
	}
	return int64(w.w.Buffered())
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.w == nil {
		return 0, errors.New("bulkio.Writer: write after Finish")
	}
	n, err := w.w.Write(p)
	w.off += int64(n)
	if err != nil {
		return n, fmt.Errorf("bufio.Write: %w", err)
	}
	return n, nil
}

func (w *Writer) WriteUint16(v uint16) error {
	binary.LittleEndian.PutUint16(w.scratch[:2], v)
	_, err := w.Write(w.scratch[:2])
	return err
}

func (w *Writer) WriteUint48(v uint64) error {
	format.PutUint48(w.scratch[:format.Uint48Size], v)
	_, err := w.Write(w.scratch[:format.Uint48Size])
	return err
}

func (w *Writer) WriteUint64(v uint64) error {
	binary.LittleEndian.PutUint64(w.scratch[:8], v)
	_, err := w.Write(w.scratch[:8])
	return err
}

// Flush writes any buffered bytes to the file.
func (w *Writer) Flush() error {
	if w.w == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("bufio.Flush: %w", err)
	}
	return nil
}

// Finish flushes the writer and releases its buffer.  Multiple calls are fine.
func (w *Writer) Finish() error {
	if alreadyFinished := w.finished.Swap(true); alreadyFinished {
		return nil
	}
	err := w.Flush()
	w.w.Reset(nopWriter{})
	w.w = nil
	return err
}

// Reader scans a file sequentially from a starting offset up to a limit.
type Reader struct {
	r   *bufio.Reader
	off int64
	end int64
}

// NewReader returns a Reader over [off, end) of f.
func NewReader(f io.ReaderAt, off, end int64, bufferSize int) *Reader {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if end < off {
		end = off
	}
	return &Reader{
		r:   bufio.NewReaderSize(io.NewSectionReader(f, off, end-off), bufferSize),
		off: off,
		end: end,
	}
}

// Offset returns the file offset of the next byte to be read.
func (r *Reader) Offset() int64 {
	return r.off
}

// EOF reports whether the whole range has been consumed.
func (r *Reader) EOF() bool {
	return r.off >= r.end
}

// ReadFull fills p, returning io.ErrUnexpectedEOF if the range ends part way
// through and io.EOF if it was already exhausted.
func (r *Reader) ReadFull(p []byte) error {
	n, err := io.ReadFull(r.r, p)
	r.off += int64(n)
	return err
}

func (r *Reader) ReadUint16() (uint16, error) {
	var buf [2]byte
	if err := r.ReadFull(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func (r *Reader) ReadUint48() (uint64, error) {
	var buf [format.Uint48Size]byte
	if err := r.ReadFull(buf[:]); err != nil {
		return 0, err
	}
	return format.Uint48(buf[:]), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	var buf [8]byte
	if err := r.ReadFull(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Read implements io.Reader over the remaining range.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.off += int64(n)
	return n, err
}
