// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package index

import (
	"io"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/bitstore/internal/bucket"
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

// chain returns every entry in b and its spill chain.
func chain(t *testing.T, b bucket.Bucket, dat io.ReaderAt) []bucket.Entry {
	t.Helper()
	var entries []bucket.Entry
	tmp := b.Clone()
	for {
		for i := 0; i < tmp.Len(); i++ {
			entries = append(entries, tmp.At(i))
		}
		spill := tmp.Spill()
		if spill == 0 {
			return entries
		}
		require.NoError(t, tmp.ReadSpill(dat, int64(spill)))
	}
}

func sortEntries(entries []bucket.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Offset < entries[j].Offset
	})
}

func TestSplit(t *testing.T) {
	t.Parallel()

	for _, bufferSize := range []int{64, 1 << 20} {
		var dat memFile
		_, _ = dat.WriteAt(make([]byte, format.DatHeaderSize), 0)
		w := bulkio.NewWriter(&dat, format.DatHeaderSize, bufferSize)

		rng := rand.New(rand.NewSource(int64(bufferSize)))
		l := NewLinear(2)
		b1 := bucket.Make(testBlockSize)
		var all []bucket.Entry
		for i := 0; i < 5*b1.Capacity()+3; i++ {
			// every entry lands in bucket 0 of a 2-bucket table
			h := uint64(rng.Int63n(1<<20)) * 2
			e := bucket.Entry{Hash: h, Offset: uint64(1000 + i), Size: uint64(i + 1)}
			_, err := bucket.MaybeSpill(b1, w)
			require.NoError(t, err)
			b1.Insert(e.Offset, e.Size, e.Hash)
			all = append(all, e)
		}
		require.NotZero(t, b1.Spill())

		from, to := l.Grow()
		require.Equal(t, uint64(0), from)
		require.Equal(t, uint64(2), to)

		b2 := bucket.Make(testBlockSize)
		tmp := bucket.Make(testBlockSize)
		_, err := Split(l, from, b1, b2, tmp, &dat, w)
		require.NoError(t, err)
		require.NoError(t, w.Flush())

		stay := chain(t, b1, &dat)
		moved := chain(t, b2, &dat)
		for _, e := range stay {
			assert.Equal(t, from, l.Index(e.Hash))
		}
		for _, e := range moved {
			assert.Equal(t, to, l.Index(e.Hash))
		}
		assert.NotEmpty(t, stay)
		assert.NotEmpty(t, moved)

		got := append(stay, moved...)
		sortEntries(got)
		sortEntries(all)
		assert.Equal(t, all, got)
	}
}

func TestSplit_NoSpill(t *testing.T) {
	t.Parallel()

	var dat memFile
	w := bulkio.NewWriter(&dat, format.DatHeaderSize, 64)
	l := NewLinear(1)
	b1 := bucket.Make(testBlockSize)
	for h := uint64(0); h < 8; h++ {
		b1.Insert(h+100, 1, h)
	}
	from, to := l.Grow()
	b2 := bucket.Make(testBlockSize)
	spills, err := Split(l, from, b1, b2, bucket.Make(testBlockSize), &dat, w)
	require.NoError(t, err)
	assert.Zero(t, spills)

	assert.Equal(t, 4, b1.Len())
	assert.Equal(t, 4, b2.Len())
	for i := 0; i < b2.Len(); i++ {
		assert.Equal(t, to, l.Index(b2.At(i).Hash))
	}
	// nothing was written to the data file
	assert.Equal(t, int64(format.DatHeaderSize), w.Offset())
}
