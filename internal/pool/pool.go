// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package pool holds inserts that have been accepted but not yet written to
// disk.  A store keeps two generations: one accepting inserts, and one being
// committed by the background goroutine.  Pools do no locking.
package pool

import (
	"github.com/bpowers/bitstore/internal/unsafestring"
)

// Item is one pending insert.  Value is already codec-encoded.
type Item struct {
	Key   []byte
	Value []byte
	Hash  uint64
}

// Pool is an insertion-ordered set of pending inserts keyed by key.
type Pool struct {
	items    []Item
	index    map[string]int
	dataSize int64
}

func New() *Pool {
	return &Pool{
		index: make(map[string]int),
	}
}

// Insert adds an item.  The pool takes ownership of key and value.  Inserting
// a key already present is a caller bug and panics.
func (p *Pool) Insert(key, value []byte, hash uint64) {
	if _, ok := p.index[unsafestring.ToString(key)]; ok {
		panic("invariant broken: duplicate key in pool")
	}
	p.items = append(p.items, Item{Key: key, Value: value, Hash: hash})
	// the map key shares storage with the item, which is never mutated
	p.index[unsafestring.ToString(key)] = len(p.items) - 1
	p.dataSize += int64(len(value))
}

// Find returns the pending value for key.
func (p *Pool) Find(key []byte) ([]byte, bool) {
	i, ok := p.index[unsafestring.ToString(key)]
	if !ok {
		return nil, false
	}
	return p.items[i].Value, true
}

// Len returns the number of pending items.
func (p *Pool) Len() int {
	return len(p.items)
}

// DataSize returns the total size of the pending values.
func (p *Pool) DataSize() int64 {
	return p.dataSize
}

// Items returns the pending items in insertion order.  The slice is only
// valid until the next Insert or Clear.
func (p *Pool) Items() []Item {
	return p.items
}

// Clear empties the pool, keeping its storage for the next generation.
func (p *Pool) Clear() {
	clear(p.items)
	p.items = p.items[:0]
	clear(p.index)
	p.dataSize = 0
}

// Shrink releases storage held over from earlier, larger generations.  It
// has no effect unless the pool is empty.
func (p *Pool) Shrink() {
	if len(p.items) > 0 {
		return
	}
	p.items = nil
	p.index = make(map[string]int)
}
