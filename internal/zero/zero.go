// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package zero clears the fixed-size buffers that headers and buckets are
// marshaled into.
package zero

// Bytes sets every byte of b to zero.
func Bytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// IsBytes reports whether every byte of b is zero.
func IsBytes(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
