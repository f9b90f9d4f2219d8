// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package format

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type xorPepper uint64

func (p xorPepper) Pepper(salt uint64) uint64 {
	return salt ^ uint64(p)
}

func TestUint48_RoundTrip(t *testing.T) {
	var buf [Uint48Size]byte
	for _, v := range []uint64{0, 1, 0xff, 0x1234_5678_9abc, MaxUint48} {
		PutUint48(buf[:], v)
		require.Equal(t, v, Uint48(buf[:]))
	}
	// only the low 48 bits are kept
	PutUint48(buf[:], 1<<48|7)
	require.Equal(t, uint64(7), Uint48(buf[:]))
}

func TestBucketCapacity(t *testing.T) {
	assert.Equal(t, 0, BucketCapacity(0))
	assert.Equal(t, 0, BucketCapacity(BucketHeaderSize+BucketEntrySize-1))
	assert.Equal(t, 1, BucketCapacity(BucketHeaderSize+BucketEntrySize))
	assert.Equal(t, 13, BucketCapacity(256))
	assert.Equal(t, 227, BucketCapacity(4096))
	assert.Equal(t, BucketHeaderSize+3*BucketEntrySize, BucketSize(3))
}

func TestLoadFactorToFraction(t *testing.T) {
	frac, err := LoadFactorToFraction(0.5)
	require.NoError(t, err)
	assert.Equal(t, uint16(32768), frac)

	for _, bad := range []float64{0, 1, -0.5, 2} {
		_, err := LoadFactorToFraction(bad)
		assert.ErrorIs(t, err, ErrInvalidLoadFactor)
	}
}

func TestDatHeader_RoundTrip(t *testing.T) {
	origH := NewDatHeader(0xdead, 7, 32, 1)

	// buffer too short
	assert.Error(t, origH.MarshalTo(nil))

	var newH DatHeader
	headerBytes := make([]byte, DatHeaderSize)
	// missing magic number
	assert.ErrorIs(t, newH.UnmarshalBytes(headerBytes), ErrNotDataFile)

	require.NoError(t, origH.MarshalTo(headerBytes))
	assert.ErrorIs(t, newH.UnmarshalBytes(headerBytes[:10]), ErrShortHeader)
	require.NoError(t, newH.UnmarshalBytes(headerBytes))
	assert.Equal(t, origH, &newH)
	require.NoError(t, newH.Verify())

	var buf bytes.Buffer
	n, err := origH.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(DatHeaderSize), n)
	assert.Equal(t, headerBytes, buf.Bytes())

	// an unknown version is rejected
	origH.Version = 666
	require.NoError(t, origH.MarshalTo(headerBytes))
	assert.ErrorIs(t, newH.UnmarshalBytes(headerBytes), ErrDifferentVersion)

	zeroKey := NewDatHeader(1, 1, 0, 0)
	assert.ErrorIs(t, zeroKey.Verify(), ErrInvalidKeySize)
}

func TestKeyHeader_RoundTrip(t *testing.T) {
	const pepper = xorPepper(0x5555)
	origH := NewKeyHeader(1, 2, 3, pepper.Pepper(3), 8, 4096, 32768)
	require.Equal(t, BucketCapacity(4096), origH.Capacity)
	require.NoError(t, origH.Verify(pepper))

	var buf bytes.Buffer
	n, err := origH.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(4096), n)

	var newH KeyHeader
	require.NoError(t, newH.UnmarshalBytes(buf.Bytes()))
	assert.Equal(t, origH, &newH)

	// a different hash function produces a different pepper
	assert.ErrorIs(t, newH.Verify(xorPepper(1)), ErrHashMismatch)

	require.NoError(t, newH.SetFileSize(3*4096))
	assert.Equal(t, uint64(2), newH.Buckets)
	assert.ErrorIs(t, newH.SetFileSize(4096), ErrShortKeyFile)
	assert.ErrorIs(t, newH.SetFileSize(2*4096+1), ErrShortKeyFile)

	// a data header is not a key header
	dh := make([]byte, DatHeaderSize)
	require.NoError(t, NewDatHeader(1, 2, 8, 0).MarshalTo(dh))
	assert.ErrorIs(t, newH.UnmarshalBytes(dh), ErrNotKeyFile)
}

func TestKeyHeader_VerifyErrors(t *testing.T) {
	const pepper = xorPepper(0)
	for _, tc := range []struct {
		name string
		h    *KeyHeader
		err  error
	}{
		{"key size", NewKeyHeader(1, 1, 1, 1, 0, 4096, 1), ErrInvalidKeySize},
		{"block size small", NewKeyHeader(1, 1, 1, 1, 8, 128, 1), ErrInvalidBlockSize},
		{"block size big", NewKeyHeader(1, 1, 1, 1, 8, MaxBlockSize+1, 1), ErrInvalidBlockSize},
		{"load factor", NewKeyHeader(1, 1, 1, 1, 8, 4096, 0), ErrInvalidLoadFactor},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.h.Verify(pepper), tc.err)
		})
	}
}

func TestLogHeader_RoundTrip(t *testing.T) {
	const pepper = xorPepper(9)
	kh := NewKeyHeader(11, 22, 33, pepper.Pepper(33), 4, 512, 100)
	origH := NewLogHeader(kh, 1024, 4096)

	buf := make([]byte, LogHeaderSize)
	require.NoError(t, origH.MarshalTo(buf))

	var newH LogHeader
	require.NoError(t, newH.UnmarshalBytes(buf))
	assert.Equal(t, origH, &newH)
	require.NoError(t, newH.Verify(pepper))
	require.NoError(t, VerifyKeyLog(kh, &newH))
	assert.ErrorIs(t, newH.Verify(xorPepper(10)), ErrHashMismatch)

	assert.ErrorIs(t, newH.UnmarshalBytes(buf[:LogHeaderSize-1]), ErrShortHeader)
	assert.ErrorIs(t, newH.UnmarshalBytes(make([]byte, LogHeaderSize)), ErrNotLogFile)
}

func TestVerifyKeyLog_Mismatches(t *testing.T) {
	base := func() (*KeyHeader, *LogHeader) {
		kh := NewKeyHeader(1, 2, 3, 4, 8, 4096, 100)
		return kh, NewLogHeader(kh, 8192, 128)
	}
	for _, tc := range []struct {
		name   string
		mutate func(*LogHeader)
		err    error
	}{
		{"uid", func(lh *LogHeader) { lh.UID++ }, ErrUIDMismatch},
		{"appnum", func(lh *LogHeader) { lh.AppNum++ }, ErrAppnumMismatch},
		{"key size", func(lh *LogHeader) { lh.KeySize++ }, ErrKeySizeMismatch},
		{"salt", func(lh *LogHeader) { lh.Salt++ }, ErrSaltMismatch},
		{"pepper", func(lh *LogHeader) { lh.Pepper++ }, ErrPepperMismatch},
		{"block size", func(lh *LogHeader) { lh.BlockSize++ }, ErrBlockSizeMismatch},
	} {
		t.Run(tc.name, func(t *testing.T) {
			kh, lh := base()
			tc.mutate(lh)
			assert.ErrorIs(t, VerifyKeyLog(kh, lh), tc.err)
		})
	}
}

func TestVerifyDatKey_Mismatches(t *testing.T) {
	kh := NewKeyHeader(1, 2, 3, 4, 8, 4096, 100)
	require.NoError(t, VerifyDatKey(NewDatHeader(1, 2, 8, 0), kh))
	assert.ErrorIs(t, VerifyDatKey(NewDatHeader(9, 2, 8, 0), kh), ErrUIDMismatch)
	assert.ErrorIs(t, VerifyDatKey(NewDatHeader(1, 9, 8, 0), kh), ErrAppnumMismatch)
	assert.ErrorIs(t, VerifyDatKey(NewDatHeader(1, 2, 9, 0), kh), ErrKeySizeMismatch)
}
