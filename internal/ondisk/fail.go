// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package ondisk

import (
	"errors"
	"sync/atomic"
)

// ErrInjected is returned by a FailFile once its counter runs out.
var ErrInjected = errors.New("injected failure")

// FailCounter is shared by a set of FailFiles.  Every mutating operation
// (WriteAt, Sync, Truncate) on any of them consumes one tick; the operation
// that consumes the last tick, and every one after it, fails.
type FailCounter struct {
	remaining atomic.Int64
	armed     atomic.Bool
}

// NewFailCounter fails the n'th mutating operation.  n <= 0 never fails.
func NewFailCounter(n int64) *FailCounter {
	c := &FailCounter{}
	c.remaining.Store(n)
	c.armed.Store(n > 0)
	return c
}

func (c *FailCounter) fail() bool {
	if !c.armed.Load() {
		return false
	}
	return c.remaining.Add(-1) <= 0
}

// Failed reports whether the counter has fired.
func (c *FailCounter) Failed() bool {
	return c.armed.Load() && c.remaining.Load() <= 0
}

// FailFile wraps a File and fails mutating calls once its counter fires,
// simulating a crash at an arbitrary point of a sequence of writes.
type FailFile struct {
	File
	c *FailCounter
}

func NewFailFile(f File, c *FailCounter) *FailFile {
	return &FailFile{File: f, c: c}
}

func (f *FailFile) WriteAt(p []byte, off int64) (int, error) {
	if f.c.fail() {
		return 0, ErrInjected
	}
	return f.File.WriteAt(p, off)
}

func (f *FailFile) Sync() error {
	if f.c.fail() {
		return ErrInjected
	}
	return f.File.Sync()
}

func (f *FailFile) Truncate(size int64) error {
	if f.c.fail() {
		return ErrInjected
	}
	return f.File.Truncate(size)
}
