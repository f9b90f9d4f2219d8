// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package unsafestring views byte slices as strings without copying, for
// map lookups keyed by []byte.
package unsafestring

import (
	"unsafe"
)

// ToString returns a string sharing b's storage.
// SAFETY: b must not be modified for as long as the string is reachable.
func ToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(b), len(b))
}
