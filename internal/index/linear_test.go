// Copyright 2022 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCeilPow2(t *testing.T) {
	t.Parallel()

	for _, testcase := range []struct {
		input    uint64
		expected uint64
	}{
		{0, 1},
		{1, 1},
		{2, 2},
		{3, 4},
		{4, 4},
		{31, 32},
		{33, 64},
		{1 << 40, 1 << 40},
	} {
		actual := CeilPow2(testcase.input)
		require.Equal(t, testcase.expected, actual, "CeilPow2(%d)", testcase.input)
	}
}

func TestBucketIndex(t *testing.T) {
	t.Parallel()

	// with 3 buckets and modulus 4, hashes landing on 3 fold back onto 1
	assert.Equal(t, uint64(0), BucketIndex(4, 3, 4))
	assert.Equal(t, uint64(1), BucketIndex(5, 3, 4))
	assert.Equal(t, uint64(2), BucketIndex(6, 3, 4))
	assert.Equal(t, uint64(1), BucketIndex(7, 3, 4))

	// the result is always in range
	for buckets := uint64(1); buckets < 100; buckets++ {
		modulus := CeilPow2(buckets)
		for h := uint64(0); h < 500; h++ {
			n := BucketIndex(h, buckets, modulus)
			require.Less(t, n, buckets)
		}
	}
}

func TestLinear_Grow(t *testing.T) {
	t.Parallel()

	l := NewLinear(1)
	assert.Equal(t, Linear{Buckets: 1, Modulus: 1}, l)

	type step struct{ from, to, buckets, modulus uint64 }
	expected := []step{
		{0, 1, 2, 2},
		{0, 2, 3, 4},
		{1, 3, 4, 4},
		{0, 4, 5, 8},
		{1, 5, 6, 8},
		{2, 6, 7, 8},
		{3, 7, 8, 8},
	}
	for _, want := range expected {
		from, to := l.Grow()
		assert.Equal(t, want, step{from, to, l.Buckets, l.Modulus})
	}
}

// Growing the table must only ever move a hash from the split bucket to the
// new one.
func TestLinear_GrowMovesOnlySplitBucket(t *testing.T) {
	t.Parallel()

	l := NewLinear(1)
	for i := 0; i < 64; i++ {
		before := l
		from, to := l.Grow()
		for h := uint64(0); h < 1000; h++ {
			was, is := before.Index(h), l.Index(h)
			if was != is {
				require.Equal(t, from, was)
				require.Equal(t, to, is)
			}
		}
	}
}

func TestSplitter(t *testing.T) {
	t.Parallel()

	// tiny buckets: the default floor applies, so every insert splits
	s := NewSplitter(Unit/2, 1, 0)
	assert.Equal(t, uint64(DefaultMinThreshold), s.Threshold())
	for i := 0; i < 3; i++ {
		assert.True(t, s.Add())
	}

	// 10 entries per bucket at a 50% load factor: one split per 5 inserts
	s = NewSplitter(Unit/2, 10, 0)
	assert.Equal(t, uint64(5*Unit), s.Threshold())
	splits := 0
	for i := 0; i < 100; i++ {
		if s.Add() {
			splits++
		}
	}
	assert.Equal(t, 20, splits)

	// an explicit floor overrides a small computed threshold
	s = NewSplitter(Unit/2, 1, 4*Unit)
	assert.Equal(t, uint64(4*Unit), s.Threshold())
}
