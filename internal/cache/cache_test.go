// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package cache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/bitstore/internal/bucket"
)

func TestCache(t *testing.T) {
	c := New(256, 4)
	assert.Equal(t, 256, c.BlockSize())
	_, ok := c.Find(3)
	assert.False(t, ok)

	b := bucket.Make(256)
	b.Insert(10, 20, 30)
	cb := c.Insert(3, b)
	// the cache holds its own copy
	b.Insert(11, 21, 31)
	assert.Equal(t, 1, cb.Len())

	found, ok := c.Find(3)
	require.True(t, ok)
	found.Insert(12, 22, 32)
	again, _ := c.Find(3)
	assert.Equal(t, 2, again.Len())

	created := c.Create(1)
	assert.True(t, created.IsEmpty())
	c.Create(7)
	assert.Equal(t, 3, c.Len())

	var order []uint64
	require.NoError(t, c.Each(func(n uint64, b bucket.Bucket) error {
		order = append(order, n)
		return nil
	}))
	assert.Equal(t, []uint64{1, 3, 7}, order)

	errStop := errors.New("stop")
	calls := 0
	err := c.Each(func(uint64, bucket.Bucket) error {
		calls++
		return errStop
	})
	assert.ErrorIs(t, err, errStop)
	assert.Equal(t, 1, calls)

	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok = c.Find(3)
	assert.False(t, ok)
}
