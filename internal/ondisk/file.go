// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package ondisk wraps the files a store reads and writes at explicit
// offsets.  Nothing here keeps a file position: every access is a
// pread/pwrite, so concurrent readers never interfere with each other.
package ondisk

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

var (
	// ErrLocked is returned when another process holds the file lock.
	ErrLocked = errors.New("file is locked by another process")
	ErrClosed = errors.New("file already closed")
)

// File is the subset of *os.File a store needs, specified as an interface for
// easier testing and fault injection.
type File interface {
	io.ReaderAt
	io.WriterAt
	Name() string
	Size() (int64, error)
	Sync() error
	Truncate(size int64) error
	Close() error
}

// OSFile is a File backed by the operating system.
type OSFile struct {
	f        *os.File
	locked   bool
	isClosed atomic.Bool
}

var _ File = &OSFile{}

// Create creates a new file at path, failing if it already exists.
func Create(path string) (*OSFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("os.OpenFile(%s): %w", path, err)
	}
	return &OSFile{f: f}, nil
}

// Open opens an existing file at path for reading and writing.
func Open(path string) (*OSFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("os.OpenFile(%s): %w", path, err)
	}
	return &OSFile{f: f}, nil
}

// OpenReadOnly opens an existing file at path for reading.
func OpenReadOnly(path string) (*OSFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("os.Open(%s): %w", path, err)
	}
	return &OSFile{f: f}, nil
}

// OpenOrCreate opens the file at path, creating it empty if needed.
func OpenOrCreate(path string) (*OSFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("os.OpenFile(%s): %w", path, err)
	}
	return &OSFile{f: f}, nil
}

func (f *OSFile) Name() string {
	return f.f.Name()
}

func (f *OSFile) ReadAt(p []byte, off int64) (int, error) {
	return f.f.ReadAt(p, off)
}

func (f *OSFile) WriteAt(p []byte, off int64) (int, error) {
	return f.f.WriteAt(p, off)
}

func (f *OSFile) Size() (int64, error) {
	stats, err := f.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("f.Stat: %w", err)
	}
	return stats.Size(), nil
}

func (f *OSFile) Sync() error {
	return f.f.Sync()
}

func (f *OSFile) Truncate(size int64) error {
	return f.f.Truncate(size)
}

// Lock takes an exclusive, non-blocking advisory lock on the file.  The lock
// is released by Unlock or Close.
func (f *OSFile) Lock() error {
	if err := unix.Flock(int(f.f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf("%w: %s", ErrLocked, f.f.Name())
		}
		return fmt.Errorf("unix.Flock(%s): %w", f.f.Name(), err)
	}
	f.locked = true
	return nil
}

func (f *OSFile) Unlock() error {
	if !f.locked {
		return nil
	}
	f.locked = false
	if err := unix.Flock(int(f.f.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("unix.Flock(%s, LOCK_UN): %w", f.f.Name(), err)
	}
	return nil
}

func (f *OSFile) Close() error {
	if f.isClosed.Swap(true) {
		return ErrClosed
	}
	_ = f.Unlock()
	return f.f.Close()
}

// ReadFull reads exactly len(p) bytes at off, treating a short read as
// io.ErrUnexpectedEOF (or io.EOF if nothing at all was read).
func ReadFull(r io.ReaderAt, p []byte, off int64) error {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		if n == 0 {
			return io.EOF
		}
		return io.ErrUnexpectedEOF
	}
	return err
}

// WriteFull writes all of p at off.
func WriteFull(w io.WriterAt, p []byte, off int64) error {
	n, err := w.WriteAt(p, off)
	if err != nil {
		return err
	}
	if n != len(p) {
		return fmt.Errorf("short write of %d (wanted %d) at %d", n, len(p), off)
	}
	return nil
}

// Erase removes the file at path.  A missing file is not an error.
func Erase(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("os.Remove(%s): %w", path, err)
	}
	return nil
}

// SyncDir fsyncs the directories holding paths, so that files created in
// or removed from them survive a crash.  Each directory is synced once.
func SyncDir(paths ...string) error {
	seen := make(map[string]bool, len(paths))
	for _, path := range paths {
		dir := filepath.Dir(path)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if err := syncDir(dir); err != nil {
			return err
		}
	}
	return nil
}

func syncDir(dir string) error {
	fd, err := unix.Open(dir, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return fmt.Errorf("unix.Open(%s): %w", dir, err)
	}
	defer func() { _ = unix.Close(fd) }()
	if err := unix.Fsync(fd); err != nil {
		return fmt.Errorf("unix.Fsync(%s): %w", dir, err)
	}
	return nil
}

// Exists reports whether a file is present at path.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("os.Stat(%s): %w", path, err)
}
