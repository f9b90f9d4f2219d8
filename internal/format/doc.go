// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package format contains the on-disk layout of the three files that make
// up a store: the data file, the key file and the log file.
//
// A data file looks like:
//
//	┌───────────────────┐
//	│ file header       │ 128 bytes
//	├───────────────────┤
//	│ data record       │
//	│ data record       │
//	│ spill record      │
//	│ data record       │
//	│ ...               │
//	└───────────────────┘
//
// Data records carry a non-zero 48-bit value size, the fixed-size key and the
// (codec-encoded) value:
//
//	+----+----+----+----+----+----+----...----+----...----+
//	| value size (u48)            | key       | value     |
//	+----+----+----+----+----+----+----...----+----...----+
//
// Spill records hold an overflowed bucket. They start with a zero size so that
// a sequential scan can tell them apart from data records:
//
//	+----+----+----+----+----+----+----+----+----...----+
//	| zero (u48)                  | len u16 | bucket    |
//	+----+----+----+----+----+----+----+----+----...----+
//
// The key file is an array of blockSize-sized blocks. Block 0 holds the key
// file header; bucket n lives in block n+1.
//
// The log file is only non-empty while a commit is in flight (or after one was
// interrupted). It holds a header recording the key and data file sizes from
// before the commit, followed by (u64 bucket index, compact bucket) records.
//
// All integers are little-endian.
package format
