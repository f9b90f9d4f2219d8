// Copyright 2022 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package index maps key hashes to key file buckets using linear hashing:
// the bucket count grows one at a time, and each growth step splits exactly
// one existing bucket.
package index

import (
	"math/bits"
)

const (
	// Unit is the fixed point scale load factors and split thresholds are
	// expressed in.
	Unit = 65536
	// DefaultMinThreshold keeps small tables from splitting on every insert.
	DefaultMinThreshold = Unit
)

// CeilPow2 returns the smallest power of two >= n.  CeilPow2(0) is 1.
func CeilPow2(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	return 1 << (64 - bits.LeadingZeros64(n-1))
}

// BucketIndex returns the bucket holding hash h in a table of buckets
// buckets, where modulus is CeilPow2(buckets).
func BucketIndex(h, buckets, modulus uint64) uint64 {
	n := h % modulus
	if n >= buckets {
		n -= modulus / 2
	}
	return n
}

// Linear is the shape of a linear hash table.
type Linear struct {
	Buckets uint64
	Modulus uint64
}

// NewLinear returns the shape of a table with the given number of buckets.
func NewLinear(buckets uint64) Linear {
	return Linear{
		Buckets: buckets,
		Modulus: CeilPow2(buckets),
	}
}

// Index returns the bucket for hash h.
func (l Linear) Index(h uint64) uint64 {
	return BucketIndex(h, l.Buckets, l.Modulus)
}

// Grow adds one bucket to the table.  It returns the existing bucket whose
// entries must be split (from) and the index of the new bucket (to).
func (l *Linear) Grow() (from, to uint64) {
	if l.Buckets == l.Modulus {
		l.Modulus *= 2
	}
	from = l.Buckets - l.Modulus/2
	to = l.Buckets
	l.Buckets++
	return from, to
}

// Splitter decides when the table has grown enough to need another bucket.
// Every insert adds Unit to an accumulator; each time it reaches the
// threshold a split is due.
type Splitter struct {
	thresh uint64
	frac   uint64
}

// NewSplitter returns a Splitter for buckets holding capacity entries filled
// to loadFactor/Unit.  minThreshold (in Unit fractions) floors the threshold;
// zero selects DefaultMinThreshold.
func NewSplitter(loadFactor uint16, capacity int, minThreshold uint64) *Splitter {
	if minThreshold == 0 {
		minThreshold = DefaultMinThreshold
	}
	thresh := uint64(loadFactor) * uint64(capacity)
	if thresh < minThreshold {
		thresh = minThreshold
	}
	return &Splitter{
		thresh: thresh,
		frac:   thresh / 2,
	}
}

// Threshold returns the accumulator value that triggers a split.
func (s *Splitter) Threshold() uint64 {
	return s.thresh
}

// Add records one insert and reports whether a split is now due.
func (s *Splitter) Add() bool {
	s.frac += Unit
	if s.frac >= s.thresh {
		s.frac -= s.thresh
		return true
	}
	return false
}
