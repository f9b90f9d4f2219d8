// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bitstore

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/bpowers/bitstore/internal/format"
	"github.com/bpowers/bitstore/internal/ondisk"
)

// syncDir makes newly created or removed store files durable.
var syncDir = ondisk.SyncDir

// NewSalt returns a random salt for Create.
func NewSalt() uint64 {
	return randUint64()
}

func randUint64() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Errorf("crypto/rand: %w", err))
	}
	return binary.LittleEndian.Uint64(buf[:])
}

// Create creates a new, empty store from three paths that must not exist.
// keySize is the fixed size of every key, blockSize the size of a key file
// bucket, and loadFactor in (0, 1) the target bucket occupancy.  On error
// no files are left behind.
func Create(datPath, keyPath, logPath string, appnum, salt uint64, keySize, blockSize int, loadFactor float64, opts ...Option) (err error) {
	o := newOptions(opts)

	if keySize < 1 || keySize > format.MaxKeySize {
		return fmt.Errorf("%w: key size %d", ErrInvalidKeySize, keySize)
	}
	if blockSize < format.MinBlockSize || blockSize > format.MaxBlockSize {
		return fmt.Errorf("%w: block size %d", ErrInvalidBlockSize, blockSize)
	}
	lf, err := format.LoadFactorToFraction(loadFactor)
	if err != nil {
		return fmt.Errorf("%w: load factor %v", err, loadFactor)
	}

	var created []string
	defer func() {
		if err != nil {
			for _, path := range created {
				_ = ondisk.Erase(path)
			}
		}
	}()
	var files []*ondisk.OSFile
	defer func() {
		for _, f := range files {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("Close: %w", cerr)
			}
		}
	}()
	for _, path := range []string{datPath, keyPath, logPath} {
		f, err := ondisk.Create(path)
		if err != nil {
			return fmt.Errorf("ondisk.Create: %w", err)
		}
		created = append(created, path)
		files = append(files, f)
	}
	df, kf := files[0], files[1]

	uid := randUint64()
	dh := format.NewDatHeader(uid, appnum, keySize, o.codec.ID())
	kh := format.NewKeyHeader(uid, appnum, salt, o.hasher.Pepper(salt), keySize, blockSize, lf)

	var buf bytes.Buffer
	if _, err := dh.WriteTo(&buf); err != nil {
		return fmt.Errorf("DatHeader.WriteTo: %w", err)
	}
	if err := ondisk.WriteFull(df, buf.Bytes(), 0); err != nil {
		return fmt.Errorf("write data header: %w", err)
	}

	// the header block, then a single empty bucket
	buf.Reset()
	if _, err := kh.WriteTo(&buf); err != nil {
		return fmt.Errorf("KeyHeader.WriteTo: %w", err)
	}
	buf.Write(make([]byte, blockSize))
	if err := ondisk.WriteFull(kf, buf.Bytes(), 0); err != nil {
		return fmt.Errorf("write key header: %w", err)
	}

	if err := df.Sync(); err != nil {
		return fmt.Errorf("data Sync: %w", err)
	}
	if err := kf.Sync(); err != nil {
		return fmt.Errorf("key Sync: %w", err)
	}
	if err := syncDir(datPath, keyPath, logPath); err != nil {
		return err
	}

	o.logger.Info("created store", "dat", datPath, "key", keyPath, "uid", uid, "keySize", keySize, "blockSize", blockSize, "codec", o.codec.Name(), "hasher", o.hasher.Name())
	return nil
}

// readDatHeader reads and validates the header of a data file.
func readDatHeader(f ondisk.File) (*format.DatHeader, error) {
	var buf [format.DatHeaderSize]byte
	if err := ondisk.ReadFull(f, buf[:], 0); err != nil {
		return nil, fmt.Errorf("%w: data file: %v", ErrShortHeader, err)
	}
	var dh format.DatHeader
	if err := dh.UnmarshalBytes(buf[:]); err != nil {
		return nil, err
	}
	if err := dh.Verify(); err != nil {
		return nil, err
	}
	return &dh, nil
}

// readKeyHeader reads and validates the header of a key file, including the
// bucket count implied by its size.
func readKeyHeader(f ondisk.File, p format.Pepperer) (*format.KeyHeader, error) {
	var buf [format.KeyHeaderSize]byte
	if err := ondisk.ReadFull(f, buf[:], 0); err != nil {
		return nil, fmt.Errorf("%w: key file: %v", ErrShortHeader, err)
	}
	var kh format.KeyHeader
	if err := kh.UnmarshalBytes(buf[:]); err != nil {
		return nil, err
	}
	if err := kh.Verify(p); err != nil {
		return nil, err
	}
	size, err := f.Size()
	if err != nil {
		return nil, fmt.Errorf("key file Size: %w", err)
	}
	if err := kh.SetFileSize(size); err != nil {
		return nil, err
	}
	return &kh, nil
}

// bucketOffset returns the key file offset of bucket n.
func bucketOffset(n uint64, blockSize int) int64 {
	return int64(n+1) * int64(blockSize)
}
