// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package hasher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashers(t *testing.T) {
	for _, h := range []Hasher{XXHash{}, Farm{}} {
		t.Run(h.Name(), func(t *testing.T) {
			key := []byte("some key")
			a := h.Hash(key, 1)
			assert.Equal(t, a, h.Hash(key, 1))
			assert.LessOrEqual(t, a, uint64(Mask48))
			assert.NotEqual(t, a, h.Hash(key, 2), "salt must change the hash")
			assert.Equal(t, h.Pepper(42), h.Pepper(42))
			assert.NotEqual(t, h.Pepper(42), h.Pepper(43))
		})
	}
	// peppers of different hash functions differ, which is how a mismatch is caught
	assert.NotEqual(t, XXHash{}.Pepper(7), Farm{}.Pepper(7))
}

func TestByName(t *testing.T) {
	h, ok := ByName("farm")
	require.True(t, ok)
	assert.Equal(t, "farm", h.Name())
	h, ok = ByName("")
	require.True(t, ok)
	assert.Equal(t, Default(), h)
	_, ok = ByName("md5")
	assert.False(t, ok)
}
