// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package unsafestring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToString(t *testing.T) {
	for _, input := range [][]byte{
		nil,
		[]byte("abc"),
		[]byte("\U0001F600"),
	} {
		allocs := testing.AllocsPerRun(1, func() {
			s := ToString(input)
			if s != string(input) {
				t.Fatal("expected contents equal")
			}
		})
		require.Zero(t, allocs)
	}
}

func TestToString_SharesStorage(t *testing.T) {
	b := []byte("key1")
	m := map[string]int{"key1": 1}
	// lookups through the view see the bytes as they are now
	require.Equal(t, 1, m[ToString(b)])
	b[3] = '2'
	require.Equal(t, "key2", ToString(b))
	_, ok := m[ToString(b)]
	require.False(t, ok)
}
