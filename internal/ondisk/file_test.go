// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package ondisk

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.test")

	f, err := Create(path)
	require.NoError(t, err)
	// creating twice is an error
	_, err = Create(path)
	require.Error(t, err)

	require.NoError(t, WriteFull(f, []byte("hello world"), 0))
	size, err := f.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(11), size)

	buf := make([]byte, 5)
	require.NoError(t, ReadFull(f, buf, 6))
	assert.Equal(t, "world", string(buf))

	// reading past the end
	assert.ErrorIs(t, ReadFull(f, buf, 8), io.ErrUnexpectedEOF)
	assert.ErrorIs(t, ReadFull(f, buf, 100), io.EOF)

	require.NoError(t, f.Truncate(5))
	require.NoError(t, f.Sync())
	size, err = f.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	require.NoError(t, f.Close())
	assert.ErrorIs(t, f.Close(), ErrClosed)

	ok, err := Exists(path)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, Erase(path))
	require.NoError(t, Erase(path))
	ok, err = Exists(path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOSFile_Lock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock.test")
	f1, err := OpenOrCreate(path)
	require.NoError(t, err)
	require.NoError(t, f1.Lock())

	f2, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = f2.Close() }()
	assert.ErrorIs(t, f2.Lock(), ErrLocked)

	// closing the first handle releases the lock
	require.NoError(t, f1.Close())
	require.NoError(t, f2.Lock())
	require.NoError(t, f2.Unlock())
}

func TestFailFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fail.test")
	inner, err := Create(path)
	require.NoError(t, err)
	defer func() { _ = inner.Close() }()

	c := NewFailCounter(3)
	f := NewFailFile(inner, c)
	require.NoError(t, WriteFull(f, []byte("a"), 0))
	require.NoError(t, f.Sync())
	assert.False(t, c.Failed())
	assert.ErrorIs(t, f.Truncate(0), ErrInjected)
	assert.True(t, c.Failed())
	// once fired, every later mutation fails too
	assert.ErrorIs(t, WriteFull(f, []byte("b"), 1), ErrInjected)
	assert.ErrorIs(t, f.Sync(), ErrInjected)

	// reads are never failed
	buf := make([]byte, 1)
	require.NoError(t, ReadFull(f, buf, 0))
	assert.Equal(t, "a", string(buf))

	never := NewFailFile(inner, NewFailCounter(0))
	for i := 0; i < 10; i++ {
		require.NoError(t, never.Sync())
	}
}

func TestSyncDir(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.test")
	f, err := Create(a)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, SyncDir(a))
	// paths sharing a directory, and a second directory
	require.NoError(t, SyncDir(a, filepath.Join(dir, "b.test"), filepath.Join(t.TempDir(), "c.test")))
	require.NoError(t, SyncDir())

	assert.Error(t, SyncDir(filepath.Join(dir, "missing", "d.test")))
	// the parent of a path must be a directory
	assert.Error(t, SyncDir(filepath.Join(a, "e.test")))
}
