// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package index

import (
	"fmt"
	"io"

	"github.com/bpowers/bitstore/internal/bucket"
	"github.com/bpowers/bitstore/internal/bulkio"
	"github.com/bpowers/bitstore/internal/format"
)

// Split moves the entries of bucket n1 (and its spill chain) that no longer
// hash to n1 under l into b2, the freshly created bucket.  l must already
// include the new bucket.  Entries staying in n1 are packed back into b1,
// spilling through w as needed; tmp is scratch space of the same block size.
// dat must read what w has flushed.  Split returns the number of spill
// records it wrote.
func Split(l Linear, n1 uint64, b1, b2, tmp bucket.Bucket, dat io.ReaderAt, w *bulkio.Writer) (spills int, err error) {
	maybeSpill := func(b bucket.Bucket) error {
		spilled, err := bucket.MaybeSpill(b, w)
		if spilled {
			spills++
		}
		return err
	}

	for i := 0; i < b1.Len(); {
		e := b1.At(i)
		if l.Index(e.Hash) == n1 {
			i++
			continue
		}
		if err := maybeSpill(b2); err != nil {
			return spills, err
		}
		b2.Insert(e.Offset, e.Size, e.Hash)
		b1.Erase(i)
	}

	spill := b1.Spill()
	if spill == 0 {
		return spills, nil
	}
	b1.SetSpill(0)
	maxRecord := uint64(format.SpillRecordHeaderSize + format.BucketSize(b1.Capacity()))
	for spill != 0 {
		// a spill written during this commit may still be sitting in w's buffer
		if spill+maxRecord > uint64(w.Offset()-w.Buffered()) {
			if err := w.Flush(); err != nil {
				return spills, fmt.Errorf("w.Flush: %w", err)
			}
		}
		if err := tmp.ReadSpill(dat, int64(spill)); err != nil {
			return spills, fmt.Errorf("tmp.ReadSpill: %w", err)
		}
		for i := 0; i < tmp.Len(); i++ {
			e := tmp.At(i)
			dst := b2
			if l.Index(e.Hash) == n1 {
				dst = b1
			}
			if err := maybeSpill(dst); err != nil {
				return spills, err
			}
			dst.Insert(e.Offset, e.Size, e.Hash)
		}
		spill = tmp.Spill()
	}
	return spills, nil
}
