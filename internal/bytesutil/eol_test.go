// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bytesutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrimEOL(t *testing.T) {
	for input, want := range map[string]string{
		"":        "",
		"abc":     "abc",
		"abc\n":   "abc",
		"abc\r\n": "abc",
		"abc\n\n": "abc\n",
		"a:b\r":   "a:b",
		"\n":      "",
	} {
		require.Equal(t, want, string(TrimEOL([]byte(input))), "%q", input)
	}
}

func TestTrimEOL_NoAllocs(t *testing.T) {
	line := []byte("0001:value\r\n")
	var out []byte
	allocs := testing.AllocsPerRun(10, func() {
		out = TrimEOL(line)
	})
	require.Zero(t, allocs)
	require.Equal(t, "0001:value", string(out))
}
