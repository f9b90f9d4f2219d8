// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package gentex

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGentex_NoReaders(t *testing.T) {
	g := New()
	for i := 0; i < 3; i++ {
		g.Start()
		g.Finish()
	}
}

func TestGentex_WaitsForPreviousGeneration(t *testing.T) {
	g := New()
	old := g.Lock()

	g.Start()
	// a reader of the new generation doesn't hold up Finish
	fresh := g.Lock()
	assert.NotEqual(t, old, fresh)

	var finished atomic.Bool
	done := make(chan struct{})
	go func() {
		g.Finish()
		finished.Store(true)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, finished.Load())

	g.Unlock(old)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Finish never returned")
	}
	assert.True(t, finished.Load())

	g.Unlock(fresh)
	g.Start()
	g.Finish()
}

func TestGentex_StartBeforeFinishPanics(t *testing.T) {
	g := New()
	gen := g.Lock()
	g.Start()
	assert.Panics(t, g.Start)
	g.Unlock(gen)
	g.Finish()
}

func TestGentex_Concurrent(t *testing.T) {
	g := New()
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				gen := g.Lock()
				g.Unlock(gen)
			}
		}()
	}
	for i := 0; i < 100; i++ {
		g.Start()
		g.Finish()
	}
	close(stop)
	wg.Wait()

	g.mu.Lock()
	defer g.mu.Unlock()
	require.Equal(t, 0, g.cur)
	require.Equal(t, 0, g.prev)
}
