// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bitstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bpowers/bitstore/internal/bucket"
	"github.com/bpowers/bitstore/internal/bulkio"
	"github.com/bpowers/bitstore/internal/format"
	"github.com/bpowers/bitstore/internal/ondisk"
)

// Recover rolls back a commit that was interrupted, using the log file it
// left behind.  Open does this automatically; Recover exists for tools that
// want to repair a store without opening it.  A missing or empty log file
// means there is nothing to do.
func Recover(datPath, keyPath, logPath string, opts ...Option) (err error) {
	o := newOptions(opts)

	kf, err := ondisk.Open(keyPath)
	if err != nil {
		return fmt.Errorf("ondisk.Open: %w", err)
	}
	defer func() {
		if cerr := kf.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := kf.Lock(); err != nil {
		return err
	}
	df, err := ondisk.Open(datPath)
	if err != nil {
		return fmt.Errorf("ondisk.Open: %w", err)
	}
	defer func() {
		if cerr := df.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return recoverFiles(&o, o.wrap(df), o.wrap(kf), logPath)
}

// recoverFiles replays the log at logPath onto the key file, truncates both
// files to their sizes before the interrupted commit and removes the log.
func recoverFiles(o *options, df, kf ondisk.File, logPath string) error {
	ok, err := ondisk.Exists(logPath)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	losf, err := ondisk.Open(logPath)
	if err != nil {
		return fmt.Errorf("ondisk.Open: %w", err)
	}
	lf := o.wrap(losf)
	defer func() { _ = lf.Close() }()

	logSize, err := lf.Size()
	if err != nil {
		return fmt.Errorf("log Size: %w", err)
	}
	if logSize < format.LogHeaderSize {
		// the crash came before the log header was durable, so no other
		// file was modified yet
		if logSize > 0 {
			o.logger.Info("removing incomplete log", "log", logPath, "size", logSize)
		}
		_ = lf.Close()
		return ondisk.Erase(logPath)
	}

	var buf [format.LogHeaderSize]byte
	if err := ondisk.ReadFull(lf, buf[:], 0); err != nil {
		return fmt.Errorf("read log header: %w", err)
	}
	var lh format.LogHeader
	if err := lh.UnmarshalBytes(buf[:]); err != nil {
		return err
	}
	if err := lh.Verify(o.hasher); err != nil {
		return err
	}

	var khBuf [format.KeyHeaderSize]byte
	if err := ondisk.ReadFull(kf, khBuf[:], 0); err != nil {
		return fmt.Errorf("%w: key file: %v", ErrShortHeader, err)
	}
	var kh format.KeyHeader
	if err := kh.UnmarshalBytes(khBuf[:]); err != nil {
		return err
	}
	if err := kh.Verify(o.hasher); err != nil {
		return err
	}
	if err := format.VerifyKeyLog(&kh, &lh); err != nil {
		return err
	}
	dh, err := readDatHeader(df)
	if err != nil {
		return err
	}
	if err := format.VerifyDatKey(dh, &kh); err != nil {
		return err
	}

	blockSize := int(kh.BlockSize)
	if lh.KeyFileSize%uint64(blockSize) != 0 || lh.KeyFileSize < 2*uint64(blockSize) {
		return fmt.Errorf("%w: log records key file size %d", ErrShortKeyFile, lh.KeyFileSize)
	}
	buckets := lh.KeyFileSize/uint64(blockSize) - 1

	r := bulkio.NewReader(lf, format.LogHeaderSize, logSize, o.recoverReadSize)
	b := bucket.Make(blockSize)
	replayed := 0
	for !r.EOF() {
		var idx [format.LogRecordHeaderSize]byte
		if err := r.ReadFull(idx[:]); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("read log record: %w", err)
		}
		n := binary.LittleEndian.Uint64(idx[:])
		if err := b.ReadCompact(r); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				// the record was never fully written, so neither was the
				// key file block it protects
				break
			}
			return fmt.Errorf("read log bucket %d: %w", n, err)
		}
		if n >= buckets {
			return fmt.Errorf("%w: log bucket %d beyond %d buckets", bucket.ErrCorrupt, n, buckets)
		}
		if err := b.WriteBlock(kf, bucketOffset(n, blockSize)); err != nil {
			return fmt.Errorf("restore bucket %d: %w", n, err)
		}
		replayed++
	}

	if err := df.Truncate(int64(lh.DatFileSize)); err != nil {
		return fmt.Errorf("data Truncate: %w", err)
	}
	if err := kf.Truncate(int64(lh.KeyFileSize)); err != nil {
		return fmt.Errorf("key Truncate: %w", err)
	}
	if err := df.Sync(); err != nil {
		return fmt.Errorf("data Sync: %w", err)
	}
	if err := kf.Sync(); err != nil {
		return fmt.Errorf("key Sync: %w", err)
	}
	if err := lf.Close(); err != nil && !errors.Is(err, ondisk.ErrClosed) {
		return fmt.Errorf("log Close: %w", err)
	}
	if err := ondisk.Erase(logPath); err != nil {
		return err
	}
	if err := syncDir(logPath); err != nil {
		return err
	}

	o.logger.Info("recovered from interrupted commit",
		"log", logPath,
		"buckets restored", replayed,
		"key file size", lh.KeyFileSize,
		"data file size", lh.DatFileSize)
	return nil
}
