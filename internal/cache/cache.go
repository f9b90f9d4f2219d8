// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package cache holds the buckets a single commit touches, keyed by bucket
// index.  A commit keeps two: one with the buckets' on-disk pre-images, and
// one with their new contents.  Caches do no locking.
package cache

import (
	"sort"

	"github.com/bpowers/bitstore/internal/bucket"
)

type Cache struct {
	blockSize int
	buckets   map[uint64]bucket.Bucket
}

// New returns an empty cache of blockSize-byte buckets, sized for about
// sizeHint entries.
func New(blockSize, sizeHint int) *Cache {
	return &Cache{
		blockSize: blockSize,
		buckets:   make(map[uint64]bucket.Bucket, sizeHint),
	}
}

func (c *Cache) BlockSize() int { return c.blockSize }

func (c *Cache) Len() int { return len(c.buckets) }

// Find returns the cached bucket n.  The result shares storage with the
// cache, so modifying it modifies the cached copy.
func (c *Cache) Find(n uint64) (bucket.Bucket, bool) {
	b, ok := c.buckets[n]
	return b, ok
}

// Insert caches a copy of b as bucket n, replacing any previous entry, and
// returns the cached copy.
func (c *Cache) Insert(n uint64, b bucket.Bucket) bucket.Bucket {
	cb := b.Clone()
	c.buckets[n] = cb
	return cb
}

// Create caches a new empty bucket n and returns it.
func (c *Cache) Create(n uint64) bucket.Bucket {
	b := bucket.Make(c.blockSize)
	c.buckets[n] = b
	return b
}

// Each calls fn on every cached bucket in ascending index order, stopping at
// the first error.
func (c *Cache) Each(fn func(n uint64, b bucket.Bucket) error) error {
	indexes := make([]uint64, 0, len(c.buckets))
	for n := range c.buckets {
		indexes = append(indexes, n)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	for _, n := range indexes {
		if err := fn(n, c.buckets[n]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) Clear() {
	clear(c.buckets)
}
