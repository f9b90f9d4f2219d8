// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package gentex implements a generation lock.  Any number of readers may
// hold the lock; a single writer can start a new generation and then wait
// until every reader that locked during an earlier generation has unlocked.
// Readers never wait.
package gentex

import (
	"sync"
)

type Gentex struct {
	mu   sync.Mutex
	cond *sync.Cond
	gen  uint64
	cur  int // holders from the current generation
	prev int // holders from the previous generation
}

func New() *Gentex {
	g := &Gentex{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Lock registers a reader and returns the generation it must pass to Unlock.
func (g *Gentex) Lock() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cur++
	return g.gen
}

func (g *Gentex) Unlock(gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if gen == g.gen {
		g.cur--
		return
	}
	g.prev--
	if g.prev == 0 {
		g.cond.Broadcast()
	}
}

// Start begins a new generation.  The previous generation must have been
// drained with Finish.
func (g *Gentex) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.prev != 0 {
		panic("invariant broken: gentex.Start before Finish")
	}
	g.prev = g.cur
	g.cur = 0
	g.gen++
}

// Finish blocks until every reader of the generation before the last Start
// has unlocked.
func (g *Gentex) Finish() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.prev > 0 {
		g.cond.Wait()
	}
}
