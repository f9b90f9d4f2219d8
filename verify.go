// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bitstore

import (
	"fmt"

	"github.com/bpowers/bitstore/internal/bitset"
	"github.com/bpowers/bitstore/internal/bucket"
	"github.com/bpowers/bitstore/internal/codec"
	"github.com/bpowers/bitstore/internal/datafile"
	"github.com/bpowers/bitstore/internal/format"
	"github.com/bpowers/bitstore/internal/index"
	"github.com/bpowers/bitstore/internal/ondisk"
)

// Info describes a store's files, as recorded in their headers.
type Info struct {
	Version     uint32
	UID         uint64
	AppNum      uint64
	Salt        uint64
	Pepper      uint64
	KeySize     int
	BlockSize   int
	LoadFactor  float64
	Capacity    int
	Buckets     uint64
	Codec       string
	DatFileSize int64
	KeyFileSize int64
}

// ReadInfo reads the headers of a store that need not be open or even
// usable with the default hasher.
func ReadInfo(datPath, keyPath string) (Info, error) {
	var info Info

	df, err := ondisk.OpenReadOnly(datPath)
	if err != nil {
		return info, err
	}
	defer func() { _ = df.Close() }()
	kf, err := ondisk.OpenReadOnly(keyPath)
	if err != nil {
		return info, err
	}
	defer func() { _ = kf.Close() }()

	dh, err := readDatHeader(df)
	if err != nil {
		return info, fmt.Errorf("readDatHeader: %w", err)
	}
	var buf [format.KeyHeaderSize]byte
	if err := ondisk.ReadFull(kf, buf[:], 0); err != nil {
		return info, fmt.Errorf("%w: key file: %v", ErrShortHeader, err)
	}
	var kh format.KeyHeader
	if err := kh.UnmarshalBytes(buf[:]); err != nil {
		return info, err
	}
	if info.KeyFileSize, err = kf.Size(); err != nil {
		return info, err
	}
	if info.DatFileSize, err = df.Size(); err != nil {
		return info, err
	}
	if err := kh.SetFileSize(info.KeyFileSize); err != nil {
		return info, err
	}

	info.Version = kh.Version
	info.UID = kh.UID
	info.AppNum = kh.AppNum
	info.Salt = kh.Salt
	info.Pepper = kh.Pepper
	info.KeySize = int(kh.KeySize)
	info.BlockSize = int(kh.BlockSize)
	info.LoadFactor = float64(kh.LoadFactor) / index.Unit
	info.Capacity = kh.Capacity
	info.Buckets = kh.Buckets
	if c, err := codec.ByID(dh.Codec); err == nil {
		info.Codec = c.Name()
	} else {
		info.Codec = fmt.Sprintf("unknown(%d)", dh.Codec)
	}
	return info, nil
}

// Visit calls fn with every key and value in the data file, in the order
// they were committed.  The slices are only valid during the call.  Visit
// stops at the first error fn returns.
func Visit(datPath string, fn func(key, value []byte) error, opts ...Option) error {
	r, err := datafile.Open(datPath)
	if err != nil {
		return fmt.Errorf("datafile.Open: %w", err)
	}
	defer func() { _ = r.Close() }()

	c, err := codec.ByID(r.Header().Codec)
	if err != nil {
		return fmt.Errorf("codec.ByID: %w", err)
	}

	var scratch []byte
	it := r.Iter()
	for it.Next() {
		rec := it.Record()
		if rec.IsSpill() {
			continue
		}
		value, err := c.Decode(scratch[:cap(scratch)], rec.Value)
		if err != nil {
			return fmt.Errorf("Decode(record at %d): %w", rec.Offset, err)
		}
		if c.ID() != codec.IdentityID {
			scratch = value
		}
		if err := fn(rec.Key, value); err != nil {
			return err
		}
	}
	return it.Err()
}

// VerifyInfo is the result of a successful Verify.
type VerifyInfo struct {
	Info

	// ValueCount is the number of data records.
	ValueCount uint64
	// ValueBytes is the total size of the stored (encoded) values.
	ValueBytes uint64
	// KeyCount is the number of entries in buckets and spill records that
	// are reachable from the key file.
	KeyCount uint64
	// SpillCount and SpillBytes count the spill records reachable from the
	// key file.
	SpillCount uint64
	SpillBytes uint64
	// ActualLoad is the fraction of bucket capacity in use, not counting
	// spills.
	ActualLoad float64
	// AvgFetch is the mean number of bucket reads needed to find a key.
	AvgFetch float64
	// Waste is the fraction of the data file holding unreachable spills.
	Waste float64
	// Overhead is the size of both files relative to the value bytes.
	Overhead float64
}

// Verify checks that every data record is reachable through the key file
// and that every bucket entry refers to a matching data record.  The store
// must not be open.
func Verify(datPath, keyPath string, opts ...Option) (VerifyInfo, error) {
	o := newOptions(opts)
	var vi VerifyInfo

	info, err := ReadInfo(datPath, keyPath)
	if err != nil {
		return vi, err
	}
	vi.Info = info

	r, err := datafile.Open(datPath)
	if err != nil {
		return vi, fmt.Errorf("datafile.Open: %w", err)
	}
	defer func() { _ = r.Close() }()
	kosf, err := ondisk.OpenReadOnly(keyPath)
	if err != nil {
		return vi, err
	}
	defer func() { _ = kosf.Close() }()

	kh, err := readKeyHeader(kosf, o.hasher)
	if err != nil {
		return vi, fmt.Errorf("readKeyHeader: %w", err)
	}
	if err := format.VerifyDatKey(r.Header(), kh); err != nil {
		return vi, err
	}

	blockSize := int(kh.BlockSize)
	lin := index.NewLinear(kh.Buckets)
	b := bucket.Make(blockSize)
	// offsets of the data records some bucket entry refers to
	referenced := bitset.New(r.Size())
	var (
		entries   uint64
		inBuckets uint64
		fetchCost uint64
		spillSeen uint64
	)

	// every bucket entry must point at a data record with the same hash
	for n := uint64(0); n < kh.Buckets; n++ {
		if err := b.ReadBlock(kosf, bucketOffset(n, blockSize)); err != nil {
			return vi, fmt.Errorf("%w: bucket %d: %v", ErrCorrupt, n, err)
		}
		if err := b.CheckPadding(); err != nil {
			return vi, fmt.Errorf("%w: bucket %d: %v", ErrCorrupt, n, err)
		}
		inBuckets += uint64(b.Len())
		depth := uint64(1)
		for {
			for i := 0; i < b.Len(); i++ {
				e := b.At(i)
				rec, err := r.RecordAt(int64(e.Offset))
				if err != nil || rec.IsSpill() {
					return vi, fmt.Errorf("%w: bucket %d entry %d: no data record at %d", ErrCorrupt, n, i, e.Offset)
				}
				if uint64(len(rec.Value)) != e.Size {
					return vi, fmt.Errorf("%w: bucket %d entry %d: size %d, record has %d", ErrCorrupt, n, i, e.Size, len(rec.Value))
				}
				if h := o.hasher.Hash(rec.Key, kh.Salt); h != e.Hash {
					return vi, fmt.Errorf("%w: bucket %d entry %d: hash mismatch", ErrCorrupt, n, i)
				}
				if lin.Index(e.Hash) != n {
					return vi, fmt.Errorf("%w: bucket %d entry %d: key belongs in bucket %d", ErrCorrupt, n, i, lin.Index(e.Hash))
				}
				if referenced.TestAndSet(int64(e.Offset)) {
					return vi, fmt.Errorf("%w: bucket %d entry %d: record at %d referenced twice", ErrCorrupt, n, i, e.Offset)
				}
				entries++
				fetchCost += depth
			}
			spill := b.Spill()
			if spill == 0 {
				break
			}
			if err := b.ReadSpill(r, int64(spill)); err != nil {
				return vi, fmt.Errorf("%w: bucket %d: %v", ErrCorrupt, n, err)
			}
			spillSeen++
			vi.SpillBytes += uint64(format.SpillRecordHeaderSize + b.CompactSize())
			depth++
		}
	}

	// every data record must be reachable from its bucket
	var allSpillBytes uint64
	it := r.Iter()
	for it.Next() {
		rec := it.Record()
		if rec.IsSpill() {
			allSpillBytes += uint64(rec.Size())
			continue
		}
		vi.ValueCount++
		vi.ValueBytes += uint64(len(rec.Value))
		if !referenced.IsSet(rec.Offset) {
			return vi, fmt.Errorf("%w: record at %d is not in the key file", ErrCorrupt, rec.Offset)
		}
	}
	if err := it.Err(); err != nil {
		return vi, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if entries != vi.ValueCount {
		return vi, fmt.Errorf("%w: %d bucket entries for %d data records", ErrCorrupt, entries, vi.ValueCount)
	}

	vi.KeyCount = entries
	vi.SpillCount = spillSeen
	if capacity := kh.Buckets * uint64(kh.Capacity); capacity > 0 {
		vi.ActualLoad = float64(inBuckets) / float64(capacity)
	}
	if entries > 0 {
		vi.AvgFetch = float64(fetchCost) / float64(entries)
	}
	if vi.DatFileSize > 0 {
		vi.Waste = float64(allSpillBytes-vi.SpillBytes) / float64(vi.DatFileSize)
	}
	if vi.ValueBytes > 0 {
		vi.Overhead = float64(vi.DatFileSize+vi.KeyFileSize) / float64(vi.ValueBytes)
	}
	return vi, nil
}
