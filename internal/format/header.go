// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package format

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bpowers/bitstore/internal/zero"
)

// Pepperer computes the pepper for a salt.  Implemented by the key hashers.
type Pepperer interface {
	Pepper(salt uint64) uint64
}

// DatHeader is the header at the start of every data file.
type DatHeader struct {
	Version uint32
	UID     uint64
	AppNum  uint64
	KeySize uint16
	Codec   uint8
}

func NewDatHeader(uid, appnum uint64, keySize int, codec uint8) *DatHeader {
	return &DatHeader{
		Version: CurrentVersion,
		UID:     uid,
		AppNum:  appnum,
		KeySize: uint16(keySize),
		Codec:   codec,
	}
}

func (h *DatHeader) MarshalTo(b []byte) error {
	if len(b) < DatHeaderSize {
		return fmt.Errorf("DatHeader.MarshalTo: buffer too short: %d < %d", len(b), DatHeaderSize)
	}
	b = b[:DatHeaderSize]
	zero.Bytes(b)
	putUint32(b[0:4], magicDatHeader)
	putUint32(b[4:8], h.Version)
	putUint64(b[8:16], h.UID)
	putUint64(b[16:24], h.AppNum)
	putUint16(b[24:26], h.KeySize)
	b[26] = h.Codec
	return nil
}

func (h *DatHeader) WriteTo(w io.Writer) (int64, error) {
	var buf [DatHeaderSize]byte
	if err := h.MarshalTo(buf[:]); err != nil {
		return 0, err
	}
	n, err := w.Write(buf[:])
	if err != nil {
		return int64(n), fmt.Errorf("write: %w", err)
	}
	return int64(n), nil
}

// UnmarshalBytes parses b, validating the magic number and version.
func (h *DatHeader) UnmarshalBytes(b []byte) error {
	if len(b) < DatHeaderSize {
		return fmt.Errorf("%w: data header %d < %d", ErrShortHeader, len(b), DatHeaderSize)
	}
	if magic := binary.LittleEndian.Uint32(b[0:4]); magic != magicDatHeader {
		return fmt.Errorf("%w: bad magic (%x)", ErrNotDataFile, magic)
	}
	h.Version = binary.LittleEndian.Uint32(b[4:8])
	if h.Version != CurrentVersion {
		return fmt.Errorf("%w: can only read v%d data files; found v%d", ErrDifferentVersion, CurrentVersion, h.Version)
	}
	h.UID = binary.LittleEndian.Uint64(b[8:16])
	h.AppNum = binary.LittleEndian.Uint64(b[16:24])
	h.KeySize = binary.LittleEndian.Uint16(b[24:26])
	h.Codec = b[26]
	return nil
}

func (h *DatHeader) Verify() error {
	if h.KeySize == 0 {
		return ErrInvalidKeySize
	}
	return nil
}

// KeyHeader is the header stored in block 0 of every key file.
type KeyHeader struct {
	Version    uint32
	UID        uint64
	AppNum     uint64
	Salt       uint64
	Pepper     uint64
	KeySize    uint16
	LoadFactor uint16
	BlockSize  uint32

	// Derived fields, not stored in the header block.
	Capacity int
	Buckets  uint64
}

func NewKeyHeader(uid, appnum, salt, pepper uint64, keySize, blockSize int, loadFactor uint16) *KeyHeader {
	return &KeyHeader{
		Version:    CurrentVersion,
		UID:        uid,
		AppNum:     appnum,
		Salt:       salt,
		Pepper:     pepper,
		KeySize:    uint16(keySize),
		LoadFactor: loadFactor,
		BlockSize:  uint32(blockSize),
		Capacity:   BucketCapacity(blockSize),
	}
}

func (h *KeyHeader) MarshalTo(b []byte) error {
	if len(b) < KeyHeaderSize {
		return fmt.Errorf("KeyHeader.MarshalTo: buffer too short: %d < %d", len(b), KeyHeaderSize)
	}
	b = b[:KeyHeaderSize]
	zero.Bytes(b)
	putUint32(b[0:4], magicKeyHeader)
	putUint32(b[4:8], h.Version)
	putUint64(b[8:16], h.UID)
	putUint64(b[16:24], h.AppNum)
	putUint64(b[24:32], h.Salt)
	putUint64(b[32:40], h.Pepper)
	putUint16(b[40:42], h.KeySize)
	putUint16(b[42:44], h.LoadFactor)
	putUint32(b[44:48], h.BlockSize)
	return nil
}

// WriteTo writes the header padded out to a full block.
func (h *KeyHeader) WriteTo(w io.Writer) (int64, error) {
	if h.BlockSize < KeyHeaderSize {
		return 0, ErrInvalidBlockSize
	}
	buf := make([]byte, h.BlockSize)
	if err := h.MarshalTo(buf); err != nil {
		return 0, err
	}
	n, err := w.Write(buf)
	if err != nil {
		return int64(n), fmt.Errorf("write: %w", err)
	}
	return int64(n), nil
}

func (h *KeyHeader) UnmarshalBytes(b []byte) error {
	if len(b) < KeyHeaderSize {
		return fmt.Errorf("%w: key header %d < %d", ErrShortHeader, len(b), KeyHeaderSize)
	}
	if magic := binary.LittleEndian.Uint32(b[0:4]); magic != magicKeyHeader {
		return fmt.Errorf("%w: bad magic (%x)", ErrNotKeyFile, magic)
	}
	h.Version = binary.LittleEndian.Uint32(b[4:8])
	if h.Version != CurrentVersion {
		return fmt.Errorf("%w: can only read v%d key files; found v%d", ErrDifferentVersion, CurrentVersion, h.Version)
	}
	h.UID = binary.LittleEndian.Uint64(b[8:16])
	h.AppNum = binary.LittleEndian.Uint64(b[16:24])
	h.Salt = binary.LittleEndian.Uint64(b[24:32])
	h.Pepper = binary.LittleEndian.Uint64(b[32:40])
	h.KeySize = binary.LittleEndian.Uint16(b[40:42])
	h.LoadFactor = binary.LittleEndian.Uint16(b[42:44])
	h.BlockSize = binary.LittleEndian.Uint32(b[44:48])
	h.Capacity = BucketCapacity(int(h.BlockSize))
	return nil
}

// SetFileSize derives the bucket count from the size of the key file.
func (h *KeyHeader) SetFileSize(size int64) error {
	bs := int64(h.BlockSize)
	if bs == 0 || size%bs != 0 || size < 2*bs {
		return fmt.Errorf("%w: size %d, block size %d", ErrShortKeyFile, size, bs)
	}
	h.Buckets = uint64(size/bs) - 1
	return nil
}

// Verify checks the header fields for internal consistency.  The pepper is
// recomputed from the salt with p, which catches a key file written with a
// different hash function.
func (h *KeyHeader) Verify(p Pepperer) error {
	if h.KeySize == 0 {
		return ErrInvalidKeySize
	}
	if h.BlockSize < MinBlockSize || h.BlockSize > MaxBlockSize {
		return fmt.Errorf("%w: %d", ErrInvalidBlockSize, h.BlockSize)
	}
	if h.LoadFactor == 0 {
		return ErrInvalidLoadFactor
	}
	if h.Capacity < 1 {
		return ErrInvalidCapacity
	}
	if p.Pepper(h.Salt) != h.Pepper {
		return ErrHashMismatch
	}
	return nil
}

// LogHeader is the header at the start of a non-empty log file.
type LogHeader struct {
	Version     uint32
	UID         uint64
	AppNum      uint64
	Salt        uint64
	Pepper      uint64
	KeySize     uint16
	BlockSize   uint32
	KeyFileSize uint64
	DatFileSize uint64
}

// NewLogHeader returns a log header matching kh, recording the current file sizes.
func NewLogHeader(kh *KeyHeader, keyFileSize, datFileSize int64) *LogHeader {
	return &LogHeader{
		Version:     CurrentVersion,
		UID:         kh.UID,
		AppNum:      kh.AppNum,
		Salt:        kh.Salt,
		Pepper:      kh.Pepper,
		KeySize:     kh.KeySize,
		BlockSize:   kh.BlockSize,
		KeyFileSize: uint64(keyFileSize),
		DatFileSize: uint64(datFileSize),
	}
}

func (h *LogHeader) MarshalTo(b []byte) error {
	if len(b) < LogHeaderSize {
		return fmt.Errorf("LogHeader.MarshalTo: buffer too short: %d < %d", len(b), LogHeaderSize)
	}
	b = b[:LogHeaderSize]
	putUint32(b[0:4], magicLogHeader)
	putUint32(b[4:8], h.Version)
	putUint64(b[8:16], h.UID)
	putUint64(b[16:24], h.AppNum)
	putUint64(b[24:32], h.Salt)
	putUint64(b[32:40], h.Pepper)
	putUint16(b[40:42], h.KeySize)
	putUint16(b[42:44], 0)
	putUint32(b[44:48], h.BlockSize)
	putUint64(b[48:56], h.KeyFileSize)
	putUint64(b[56:64], h.DatFileSize)
	return nil
}

func (h *LogHeader) UnmarshalBytes(b []byte) error {
	if len(b) < LogHeaderSize {
		return fmt.Errorf("%w: log header %d < %d", ErrShortHeader, len(b), LogHeaderSize)
	}
	if magic := binary.LittleEndian.Uint32(b[0:4]); magic != magicLogHeader {
		return fmt.Errorf("%w: bad magic (%x)", ErrNotLogFile, magic)
	}
	h.Version = binary.LittleEndian.Uint32(b[4:8])
	if h.Version != CurrentVersion {
		return fmt.Errorf("%w: can only read v%d log files; found v%d", ErrDifferentVersion, CurrentVersion, h.Version)
	}
	h.UID = binary.LittleEndian.Uint64(b[8:16])
	h.AppNum = binary.LittleEndian.Uint64(b[16:24])
	h.Salt = binary.LittleEndian.Uint64(b[24:32])
	h.Pepper = binary.LittleEndian.Uint64(b[32:40])
	h.KeySize = binary.LittleEndian.Uint16(b[40:42])
	h.BlockSize = binary.LittleEndian.Uint32(b[44:48])
	h.KeyFileSize = binary.LittleEndian.Uint64(b[48:56])
	h.DatFileSize = binary.LittleEndian.Uint64(b[56:64])
	return nil
}

func (h *LogHeader) Verify(p Pepperer) error {
	if h.KeySize == 0 {
		return ErrInvalidKeySize
	}
	if p.Pepper(h.Salt) != h.Pepper {
		return ErrHashMismatch
	}
	return nil
}

// VerifyDatKey checks that a data file and key file belong together.
func VerifyDatKey(dh *DatHeader, kh *KeyHeader) error {
	if dh.UID != kh.UID {
		return ErrUIDMismatch
	}
	if dh.AppNum != kh.AppNum {
		return ErrAppnumMismatch
	}
	if dh.KeySize != kh.KeySize {
		return ErrKeySizeMismatch
	}
	return nil
}

// VerifyKeyLog checks that a log file was written against the given key file.
func VerifyKeyLog(kh *KeyHeader, lh *LogHeader) error {
	if kh.UID != lh.UID {
		return ErrUIDMismatch
	}
	if kh.AppNum != lh.AppNum {
		return ErrAppnumMismatch
	}
	if kh.KeySize != lh.KeySize {
		return ErrKeySizeMismatch
	}
	if kh.Salt != lh.Salt {
		return ErrSaltMismatch
	}
	if kh.Pepper != lh.Pepper {
		return ErrPepperMismatch
	}
	if kh.BlockSize != lh.BlockSize {
		return ErrBlockSizeMismatch
	}
	return nil
}
