// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package format

import (
	"encoding/binary"
	"errors"
)

const (
	magicDatHeader = 0xC0FFEE1D
	magicKeyHeader = 0xC0FFEE1E
	magicLogHeader = 0xC0FFEE1F

	// CurrentVersion is the only file format version this package reads and writes.
	CurrentVersion = 1

	DatHeaderSize = 128
	KeyHeaderSize = 128
	LogHeaderSize = 64

	MinBlockSize = 256
	MaxBlockSize = 1 << 16
	MaxKeySize   = (1 << 16) - 1

	// MaxUint48 is the largest value that fits in a 48-bit field.
	MaxUint48 = (1 << 48) - 1

	// Uint48Size is the width in bytes of a 48-bit field.
	Uint48Size = 6

	// BucketHeaderSize is the count (u16) plus the spill pointer (u48).
	BucketHeaderSize = 2 + Uint48Size
	// BucketEntrySize is hash, offset and size, each u48.
	BucketEntrySize = 3 * Uint48Size

	// DataRecordHeaderSize is the u48 value size in front of every data record.
	DataRecordHeaderSize = Uint48Size
	// SpillRecordHeaderSize is the zero u48 marker plus the u16 bucket length.
	SpillRecordHeaderSize = Uint48Size + 2

	// LogRecordHeaderSize is the u64 bucket index in front of every log record.
	LogRecordHeaderSize = 8
)

var (
	ErrNotDataFile       = errors.New("not a data file")
	ErrNotKeyFile        = errors.New("not a key file")
	ErrNotLogFile        = errors.New("not a log file")
	ErrDifferentVersion  = errors.New("different file format version")
	ErrShortHeader       = errors.New("file too short for header")
	ErrShortKeyFile      = errors.New("key file length is not a whole number of buckets")
	ErrInvalidKeySize    = errors.New("invalid key size")
	ErrInvalidBlockSize  = errors.New("invalid block size")
	ErrInvalidLoadFactor = errors.New("invalid load factor")
	ErrInvalidCapacity   = errors.New("block size too small for a single bucket entry")
	ErrInvalidCodec      = errors.New("invalid codec")
	ErrHashMismatch      = errors.New("pepper does not match salt: different hash function")
	ErrUIDMismatch       = errors.New("uid mismatch")
	ErrAppnumMismatch    = errors.New("appnum mismatch")
	ErrKeySizeMismatch   = errors.New("key size mismatch")
	ErrSaltMismatch      = errors.New("salt mismatch")
	ErrPepperMismatch    = errors.New("pepper mismatch")
	ErrBlockSizeMismatch = errors.New("block size mismatch")
)

// PutUint48 stores the low 48 bits of v into b.
func PutUint48(b []byte, v uint64) {
	_ = b[5] // bounds check elimination
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 32)
	b[5] = byte(v >> 40)
}

// Uint48 reads a 48-bit little-endian value from b.
func Uint48(b []byte) uint64 {
	_ = b[5] // bounds check elimination
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 |
		uint64(b[3])<<24 | uint64(b[4])<<32 | uint64(b[5])<<40
}

func putUint16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }
func putUint32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func putUint64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }

// BucketCapacity returns the number of entries that fit in one block.
func BucketCapacity(blockSize int) int {
	if blockSize < BucketHeaderSize {
		return 0
	}
	return (blockSize - BucketHeaderSize) / BucketEntrySize
}

// BucketSize returns the compact size of a bucket holding n entries.
func BucketSize(n int) int {
	return BucketHeaderSize + n*BucketEntrySize
}

// DataRecordSize returns the size of a data record holding a value of valueLen bytes.
func DataRecordSize(keySize int, valueLen int) int64 {
	return DataRecordHeaderSize + int64(keySize) + int64(valueLen)
}

// LoadFactorToFraction converts a load factor in (0, 1) to the 1/65536ths
// stored in the key file header.
func LoadFactorToFraction(loadFactor float64) (uint16, error) {
	if !(loadFactor > 0 && loadFactor < 1) {
		return 0, ErrInvalidLoadFactor
	}
	frac := uint64(loadFactor * 65536)
	if frac == 0 {
		frac = 1
	}
	if frac > 65535 {
		frac = 65535
	}
	return uint16(frac), nil
}
