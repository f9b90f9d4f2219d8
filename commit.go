// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bitstore

import (
	"fmt"
	"math"
	"time"

	"github.com/bpowers/bitstore/internal/bucket"
	"github.com/bpowers/bitstore/internal/bulkio"
	"github.com/bpowers/bitstore/internal/cache"
	"github.com/bpowers/bitstore/internal/datafile"
	"github.com/bpowers/bitstore/internal/format"
	"github.com/bpowers/bitstore/internal/index"
	"github.com/bpowers/bitstore/internal/ondisk"
)

// run is the background goroutine: it commits pending inserts every commit
// interval, sooner when enough data is pending, and once more on Close.
func (s *Store) run() {
	defer close(s.done)

	t := time.NewTicker(s.opts.commitInterval)
	defer t.Stop()

	for {
		timeout := false
		select {
		case <-s.closing:
			if err := s.commit(); err != nil {
				s.fail(err)
			}
			return
		case <-s.wake:
		case <-t.C:
			timeout = true
		}

		if err := s.commit(); err != nil {
			s.fail(err)
			return
		}

		// reclaim memory in quiet periods
		if timeout {
			s.mu.Lock()
			s.poolThresh = max(1, s.poolThresh/2)
			s.p1.Shrink()
			s.p0.Shrink()
			s.mu.Unlock()
		}
	}
}

type commitStats struct {
	entries int
	splits  int
	spills  int
	bytes   int64
}

// commit makes everything in the pending generation durable.  Should the
// process die part way through, the log file holds what recovery needs to
// roll the key and data files back to their state before the commit.
func (s *Store) commit() error {
	s.mu.Lock()
	if s.p1.Len() == 0 {
		s.mu.Unlock()
		return nil
	}
	s.p0, s.p1 = s.p1, s.p0
	s.swapTime = time.Now()
	s.poolThresh = max(s.poolThresh, s.p0.DataSize())
	lin := s.lin
	s.mu.Unlock()

	start := time.Now()
	blockSize := int(s.kh.BlockSize)
	items := s.p0.Items()
	var stats commitStats
	stats.entries = len(items)

	// about this fraction of touched buckets are distinct
	sizeHint := int(math.Ceil((1 - 1/math.E) * float64(len(items))))
	c0 := cache.New(blockSize, sizeHint) // on-disk pre-images
	c1 := cache.New(blockSize, sizeHint) // new contents

	keyFileSize := bucketOffset(lin.Buckets, blockSize)
	datFileSize, err := s.df.Size()
	if err != nil {
		return fmt.Errorf("data Size: %w", err)
	}

	// the log header records the sizes recovery rolls back to
	lh := format.NewLogHeader(s.kh, keyFileSize, datFileSize)
	var lhBuf [format.LogHeaderSize]byte
	if err := lh.MarshalTo(lhBuf[:]); err != nil {
		return fmt.Errorf("LogHeader.MarshalTo: %w", err)
	}
	if err := ondisk.WriteFull(s.lf, lhBuf[:], 0); err != nil {
		return fmt.Errorf("write log header: %w", err)
	}
	if err := s.lf.Sync(); err != nil {
		return fmt.Errorf("log Sync: %w", err)
	}

	w := bulkio.NewWriter(s.df, datFileSize, s.opts.bulkWriteSize)
	dw := datafile.NewWriter(w, int(s.kh.KeySize))
	offsets := make([]uint64, len(items))
	for i, item := range items {
		off, err := dw.Append(item.Key, item.Value)
		if err != nil {
			return fmt.Errorf("Append: %w", err)
		}
		offsets[i] = off
	}

	tmp := bucket.Make(blockSize)
	load := func(n uint64) (bucket.Bucket, error) {
		if b, ok := c1.Find(n); ok {
			return b, nil
		}
		if err := tmp.ReadBlock(s.kf, bucketOffset(n, blockSize)); err != nil {
			return bucket.Bucket{}, fmt.Errorf("ReadBlock(%d): %w", n, err)
		}
		c0.Insert(n, tmp)
		return c1.Insert(n, tmp), nil
	}

	for i, item := range items {
		if s.splitter.Add() {
			n1, n2 := lin.Grow()
			b1, err := load(n1)
			if err != nil {
				return err
			}
			b2 := c1.Create(n2)
			spills, err := index.Split(lin, n1, b1, b2, tmp, s.df, w)
			stats.spills += spills
			if err != nil {
				return fmt.Errorf("Split(%d, %d): %w", n1, n2, err)
			}
			stats.splits++
		}

		n := lin.Index(item.Hash)
		b, err := load(n)
		if err != nil {
			return err
		}
		spilled, err := bucket.MaybeSpill(b, w)
		if err != nil {
			return fmt.Errorf("MaybeSpill: %w", err)
		}
		if spilled {
			stats.spills++
		}
		b.Insert(offsets[i], uint64(len(item.Value)), item.Hash)
	}
	if err := w.Finish(); err != nil {
		return fmt.Errorf("data Finish: %w", err)
	}
	stats.bytes = w.Offset() - datFileSize

	// from here on readers find the new buckets in c1, so nothing reads the
	// key file blocks about to be overwritten
	s.mu.Lock()
	s.c1 = c1
	s.p0.Clear()
	s.lin = lin
	s.gentex.Start()
	s.mu.Unlock()

	lw := bulkio.NewWriter(s.lf, format.LogHeaderSize, s.opts.bulkWriteSize)
	var scratch []byte
	err = c0.Each(func(n uint64, b bucket.Bucket) error {
		if err := lw.WriteUint64(n); err != nil {
			return err
		}
		scratch = b.AppendCompact(scratch[:0])
		_, err := lw.Write(scratch)
		return err
	})
	if err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	if err := lw.Finish(); err != nil {
		return fmt.Errorf("log Finish: %w", err)
	}
	if err := s.lf.Sync(); err != nil {
		return fmt.Errorf("log Sync: %w", err)
	}
	s.gentex.Finish()

	err = c1.Each(func(n uint64, b bucket.Bucket) error {
		return b.WriteBlock(s.kf, bucketOffset(n, blockSize))
	})
	if err != nil {
		return fmt.Errorf("write key file: %w", err)
	}

	if err := s.df.Sync(); err != nil {
		return fmt.Errorf("data Sync: %w", err)
	}
	if err := s.kf.Sync(); err != nil {
		return fmt.Errorf("key Sync: %w", err)
	}
	if err := s.lf.Truncate(0); err != nil {
		return fmt.Errorf("log Truncate: %w", err)
	}
	if err := s.lf.Sync(); err != nil {
		return fmt.Errorf("log Sync: %w", err)
	}

	elapsed := time.Since(start)
	work := stats.bytes + 3*int64(stats.entries)*int64(blockSize)
	s.mu.Lock()
	s.c1 = nil
	if secs := elapsed.Seconds(); secs > 0 {
		s.rate = float64(work) / secs
	}
	s.mu.Unlock()

	s.commits.Add(1)
	s.splits.Add(uint64(stats.splits))
	s.spills.Add(uint64(stats.spills))
	s.lastCommit.Store(int64(elapsed))
	s.logger.Debug("commit",
		"entries", stats.entries,
		"splits", stats.splits,
		"spills", stats.spills,
		"bytes", stats.bytes,
		"buckets", lin.Buckets,
		"duration", elapsed)
	return nil
}
