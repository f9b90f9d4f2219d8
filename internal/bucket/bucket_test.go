// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bucket

import (
	"bytes"
	"io"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/bitstore/internal/bulkio"
	"github.com/bpowers/bitstore/internal/format"
)

const testBlockSize = 256

type memFile struct {
	mu  sync.Mutex
	buf []byte
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if end := int(off) + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	return copy(m.buf[off:], p), nil
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(off) >= len(m.buf) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func TestNew_Validates(t *testing.T) {
	assert.Panics(t, func() { New(testBlockSize, make([]byte, testBlockSize-1)) })
	assert.Panics(t, func() { New(16, make([]byte, 16)) })
	b := Make(testBlockSize)
	assert.Equal(t, format.BucketCapacity(testBlockSize), b.Capacity())
	assert.True(t, b.IsEmpty())
	assert.Equal(t, uint64(0), b.Spill())
}

func TestInsert_KeepsSorted(t *testing.T) {
	b := Make(testBlockSize)
	rng := rand.New(rand.NewSource(1))
	var hashes []uint64
	for i := 0; i < b.Capacity(); i++ {
		h := uint64(rng.Int63n(1000))
		hashes = append(hashes, h)
		b.Insert(uint64(i+1)*10, uint64(i+1), h)
	}
	assert.True(t, b.IsFull())
	assert.Panics(t, func() { b.Insert(1, 1, 1) })

	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	for i, h := range hashes {
		e := b.At(i)
		assert.Equal(t, h, e.Hash)
		// offset and size travel with the hash
		assert.Equal(t, e.Offset, e.Size*10)
	}
	assert.Panics(t, func() { b.At(b.Len()) })
}

func TestLowerBound(t *testing.T) {
	b := Make(testBlockSize)
	for _, h := range []uint64{10, 20, 20, 30} {
		b.Insert(h, 1, h)
	}
	assert.Equal(t, 0, b.LowerBound(0))
	assert.Equal(t, 0, b.LowerBound(10))
	assert.Equal(t, 1, b.LowerBound(11))
	assert.Equal(t, 1, b.LowerBound(20))
	assert.Equal(t, 3, b.LowerBound(21))
	assert.Equal(t, 4, b.LowerBound(31))
}

func TestErase(t *testing.T) {
	b := Make(testBlockSize)
	for _, h := range []uint64{1, 2, 3, 4} {
		b.Insert(h*100, h, h)
	}
	b.Erase(1)
	require.Equal(t, 3, b.Len())
	assert.Equal(t, Entry{Hash: 1, Offset: 100, Size: 1}, b.At(0))
	assert.Equal(t, Entry{Hash: 3, Offset: 300, Size: 3}, b.At(1))
	assert.Equal(t, Entry{Hash: 4, Offset: 400, Size: 4}, b.At(2))
	b.Erase(2)
	b.Erase(0)
	require.Equal(t, 1, b.Len())
	assert.Equal(t, uint64(3), b.At(0).Hash)
	assert.Panics(t, func() { b.Erase(1) })

	// erased slots are zeroed, so the block matches a freshly built one
	fresh := Make(testBlockSize)
	fresh.Insert(300, 3, 3)
	assert.Equal(t, fresh.buf, b.buf)
}

func TestClone_IsIndependent(t *testing.T) {
	b := Make(testBlockSize)
	b.Insert(1, 2, 3)
	c := b.Clone()
	c.Insert(4, 5, 6)
	c.SetSpill(99)
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, uint64(0), b.Spill())
	assert.Equal(t, 2, c.Len())

	d := Make(testBlockSize)
	d.CopyFrom(c)
	assert.Equal(t, c.buf, d.buf)
}

func TestBlock_RoundTrip(t *testing.T) {
	var f memFile
	b := Make(testBlockSize)
	b.Insert(128, 16, 0xabcdef)
	b.SetSpill(4096)
	require.NoError(t, b.WriteBlock(&f, 2*testBlockSize))

	r := Make(testBlockSize)
	require.NoError(t, r.ReadBlock(&f, 2*testBlockSize))
	assert.Equal(t, b.buf, r.buf)

	// reading past the end of the file is an error
	assert.Error(t, r.ReadBlock(&f, 10*testBlockSize))

	// a block claiming more entries than fit is corrupt
	bad := make([]byte, testBlockSize)
	bad[0] = 0xff
	_, _ = f.WriteAt(bad, 0)
	assert.ErrorIs(t, r.ReadBlock(&f, 0), ErrCorrupt)
}

func TestSpill_RoundTrip(t *testing.T) {
	var f memFile
	_, _ = f.WriteAt(make([]byte, format.DatHeaderSize), 0)
	w := bulkio.NewWriter(&f, format.DatHeaderSize, 64)

	b := Make(testBlockSize)
	for i := 0; i < b.Capacity(); i++ {
		b.Insert(uint64(1000+i), uint64(i+1), uint64(i))
	}
	b.SetSpill(77)
	snapshot := b.Clone()

	spilled, err := MaybeSpill(b, w)
	require.NoError(t, err)
	require.True(t, spilled)
	require.NoError(t, w.Flush())

	assert.True(t, b.IsEmpty())
	assert.Equal(t, uint64(format.DatHeaderSize), b.Spill())

	r := Make(testBlockSize)
	require.NoError(t, r.ReadSpill(&f, int64(b.Spill())))
	assert.Equal(t, snapshot.buf, r.buf)
	assert.Equal(t, uint64(77), r.Spill())

	// a bucket with room isn't spilled
	spilled, err = MaybeSpill(b, w)
	require.NoError(t, err)
	assert.False(t, spilled)

	// a data record is not a spill
	data := make([]byte, 16)
	format.PutUint48(data, 5)
	_, _ = f.WriteAt(data, 0)
	assert.ErrorIs(t, r.ReadSpill(&f, 0), ErrCorrupt)
}

func TestCompact_RoundTrip(t *testing.T) {
	b := Make(testBlockSize)
	b.Insert(1, 2, 3)
	b.Insert(4, 5, 6)
	b.SetSpill(1234)
	compact := b.AppendCompact(nil)
	require.Len(t, compact, format.BucketSize(2))
	assert.Equal(t, len(compact), b.CompactSize())

	r := Make(testBlockSize)
	r.Insert(9, 9, 9)
	r.Insert(8, 8, 8)
	r.Insert(7, 7, 7)
	require.NoError(t, r.ReadCompact(bytes.NewReader(compact)))
	assert.Equal(t, b.buf, r.buf)

	// truncated input
	err := r.ReadCompact(bytes.NewReader(compact[:len(compact)-1]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	err = r.ReadCompact(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)
}

func TestCheckPadding(t *testing.T) {
	b := Make(testBlockSize)
	for i := uint64(1); i <= 5; i++ {
		b.Insert(i*100, i, i<<20)
	}
	b.Erase(2)
	b.Erase(0)
	require.NoError(t, b.CheckPadding())

	var f memFile
	require.NoError(t, b.WriteBlock(&f, 0))
	f.buf[testBlockSize-1] = 0x7f
	require.NoError(t, b.ReadBlock(&f, 0))
	require.ErrorIs(t, b.CheckPadding(), ErrCorrupt)

	b.Clear()
	require.NoError(t, b.CheckPadding())
}
