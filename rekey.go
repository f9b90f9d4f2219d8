// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bitstore

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"github.com/bpowers/bitstore/internal/bucket"
	"github.com/bpowers/bitstore/internal/bulkio"
	"github.com/bpowers/bitstore/internal/datafile"
	"github.com/bpowers/bitstore/internal/format"
	"github.com/bpowers/bitstore/internal/index"
	"github.com/bpowers/bitstore/internal/ondisk"
)

// Rekey builds a new key file for an existing data file, for example to
// change the block size or load factor, or after the key file was lost.
// keyPath and logPath must not exist.  itemCount sizes the index; pass 0
// to have Rekey count the records first.  The new key file gets a fresh
// salt.
//
// Spill records are appended to the data file as the buckets fill.  If
// Rekey fails, it removes them along with the new key and log files.  If
// that rollback fails too, or the process dies instead, run Recover to
// remove them, then delete the key file before trying again.
func Rekey(datPath, keyPath, logPath string, blockSize int, loadFactor float64, itemCount uint64, opts ...Option) (err error) {
	o := newOptions(opts)

	if blockSize < format.MinBlockSize || blockSize > format.MaxBlockSize {
		return fmt.Errorf("%w: block size %d", ErrInvalidBlockSize, blockSize)
	}
	lfFrac, err := format.LoadFactorToFraction(loadFactor)
	if err != nil {
		return fmt.Errorf("%w: load factor %v", err, loadFactor)
	}

	r, err := datafile.Open(datPath)
	if err != nil {
		return fmt.Errorf("datafile.Open: %w", err)
	}
	defer func() { _ = r.Close() }()
	dh := r.Header()
	datFileSize := r.Size()

	if itemCount == 0 {
		it := r.Iter()
		for it.Next() {
			if !it.Record().IsSpill() {
				itemCount++
			}
		}
		if err := it.Err(); err != nil {
			return fmt.Errorf("count records: %w", err)
		}
	}

	capacity := format.BucketCapacity(blockSize)
	perBucket := float64(capacity) * float64(lfFrac) / index.Unit
	buckets := uint64(math.Ceil(float64(itemCount) / perBucket))
	if buckets < 1 {
		buckets = 1
	}

	start := time.Now()
	kosf, err := ondisk.Create(keyPath)
	if err != nil {
		return fmt.Errorf("ondisk.Create: %w", err)
	}
	losf, err := ondisk.Create(logPath)
	if err != nil {
		_ = kosf.Close()
		_ = ondisk.Erase(keyPath)
		return fmt.Errorf("ondisk.Create: %w", err)
	}
	dosf, err := ondisk.Open(datPath)
	if err != nil {
		_ = kosf.Close()
		_ = losf.Close()
		_ = ondisk.Erase(keyPath)
		_ = ondisk.Erase(logPath)
		return fmt.Errorf("ondisk.Open: %w", err)
	}
	kf, lf, df := o.wrap(kosf), o.wrap(losf), o.wrap(dosf)
	defer func() {
		// if the appended spill records cannot be removed here, the key
		// and log files stay behind for Recover to do it
		rolledBack := true
		if err != nil {
			rerr := df.Truncate(datFileSize)
			if rerr == nil {
				rerr = df.Sync()
			}
			if rerr != nil {
				rolledBack = false
				o.logger.Error("rekey rollback failed; run Recover, then remove the key file",
					"dat", datPath,
					"key", keyPath,
					"log", logPath,
					"err", rerr)
			}
		}
		_ = df.Close()
		_ = kf.Close()
		_ = lf.Close()
		if !rolledBack {
			return
		}
		if err != nil {
			_ = ondisk.Erase(keyPath)
		}
		_ = ondisk.Erase(logPath)
	}()
	if err := kosf.Lock(); err != nil {
		return err
	}

	salt := NewSalt()
	kh := format.NewKeyHeader(dh.UID, dh.AppNum, salt, o.hasher.Pepper(salt), int(dh.KeySize), blockSize, lfFrac)
	kh.Buckets = buckets
	keyFileSize := bucketOffset(buckets, blockSize)

	// Recover needs a valid key header to act on the log
	var hdr bytes.Buffer
	if _, err := kh.WriteTo(&hdr); err != nil {
		return fmt.Errorf("KeyHeader.WriteTo: %w", err)
	}
	if err := ondisk.WriteFull(kf, hdr.Bytes(), 0); err != nil {
		return fmt.Errorf("write key header: %w", err)
	}
	if err := kf.Truncate(keyFileSize); err != nil {
		return fmt.Errorf("key Truncate: %w", err)
	}
	if err := kf.Sync(); err != nil {
		return fmt.Errorf("key Sync: %w", err)
	}

	// the log lets Recover strip the spill records appended below
	lh := format.NewLogHeader(kh, keyFileSize, datFileSize)
	var lhBuf [format.LogHeaderSize]byte
	if err := lh.MarshalTo(lhBuf[:]); err != nil {
		return fmt.Errorf("LogHeader.MarshalTo: %w", err)
	}
	if err := ondisk.WriteFull(lf, lhBuf[:], 0); err != nil {
		return fmt.Errorf("write log header: %w", err)
	}
	if err := lf.Sync(); err != nil {
		return fmt.Errorf("log Sync: %w", err)
	}
	if err := syncDir(keyPath, logPath); err != nil {
		return err
	}

	slab := make([]byte, int(buckets)*blockSize)
	lin := index.NewLinear(buckets)
	w := bulkio.NewWriter(df, datFileSize, o.bulkWriteSize)
	var entries, spills int
	it := r.Iter()
	for it.Next() {
		rec := it.Record()
		if rec.IsSpill() {
			continue
		}
		h := o.hasher.Hash(rec.Key, salt)
		n := lin.Index(h)
		b := bucket.New(blockSize, slab[int(n)*blockSize:])
		spilled, err := bucket.MaybeSpill(b, w)
		if err != nil {
			return fmt.Errorf("MaybeSpill: %w", err)
		}
		if spilled {
			spills++
		}
		b.Insert(uint64(rec.Offset), uint64(len(rec.Value)), h)
		entries++
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("read data file: %w", err)
	}
	if err := w.Finish(); err != nil {
		return fmt.Errorf("data Finish: %w", err)
	}
	if err := df.Sync(); err != nil {
		return fmt.Errorf("data Sync: %w", err)
	}

	if err := ondisk.WriteFull(kf, slab, int64(blockSize)); err != nil {
		return fmt.Errorf("write buckets: %w", err)
	}
	if err := kf.Sync(); err != nil {
		return fmt.Errorf("key Sync: %w", err)
	}

	o.logger.Info("rekeyed store",
		"dat", datPath,
		"key", keyPath,
		"entries", entries,
		"buckets", buckets,
		"spills", spills,
		"duration", time.Since(start))
	return nil
}
