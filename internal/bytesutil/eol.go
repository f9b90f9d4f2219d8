// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package bytesutil helps parse the line-oriented text the command line
// tools read and write, without allocating.
package bytesutil

import (
	"bytes"
)

// TrimEOL removes a trailing "\n" or "\r\n" from line.  The result aliases
// line.
func TrimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte{'\n'})
	return bytes.TrimSuffix(line, []byte{'\r'})
}
