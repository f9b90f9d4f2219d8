// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bitstore

import (
	"io"
	"log/slog"
	"time"

	"github.com/bpowers/bitstore/internal/bulkio"
	"github.com/bpowers/bitstore/internal/codec"
	"github.com/bpowers/bitstore/internal/hasher"
	"github.com/bpowers/bitstore/internal/index"
	"github.com/bpowers/bitstore/internal/ondisk"
)

const (
	DefaultCommitInterval = time.Second
	DefaultThrottleDelay  = 25 * time.Millisecond
	// DefaultRecoverReadSize is the buffer used to scan the log file.
	DefaultRecoverReadSize = 1024 * 1024
)

type (
	// Hasher computes salted 48-bit key hashes.  A store records the pepper
	// of its hasher, so it must always be opened with the same one.
	Hasher = hasher.Hasher
	// Codec transforms values on their way to and from the data file.
	Codec = codec.Codec
)

// HasherByName returns the named key hasher: "xxhash" (the default) or "farm".
func HasherByName(name string) (Hasher, bool) {
	return hasher.ByName(name)
}

// CodecByName returns the named value codec: "identity" (the default) or "snappy".
func CodecByName(name string) (Codec, error) {
	return codec.ByName(name)
}

// Option configures Create, Open and the offline tools.
type Option func(*options)

type options struct {
	logger          *slog.Logger
	hasher          hasher.Hasher
	codec           codec.Codec
	commitInterval  time.Duration
	throttleDelay   time.Duration
	minThreshold    uint64
	bulkWriteSize   int
	recoverReadSize int

	// wrapFile, if set, wraps every file a store opens.
	wrapFile func(ondisk.File) ondisk.File
}

func newOptions(opts []Option) options {
	o := options{
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		hasher:          hasher.Default(),
		codec:           codec.Identity{},
		commitInterval:  DefaultCommitInterval,
		throttleDelay:   DefaultThrottleDelay,
		minThreshold:    index.DefaultMinThreshold,
		bulkWriteSize:   bulkio.DefaultBufferSize,
		recoverReadSize: DefaultRecoverReadSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o *options) wrap(f ondisk.File) ondisk.File {
	if o.wrapFile == nil {
		return f
	}
	return o.wrapFile(f)
}

// WithLogger sets an optional logger for the store to report opens, commits
// and recovery.  If not provided, no logging output will be produced.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHasher selects the key hash function.  A store must always be opened
// with the hasher it was created with; a mismatch is detected at Open.
func WithHasher(h Hasher) Option {
	return func(o *options) {
		if h != nil {
			o.hasher = h
		}
	}
}

// WithCodec selects the value codec for a new store.  It is recorded in the
// data file, so Open ignores it.
func WithCodec(c Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithCommitInterval sets how often pending inserts are committed.
func WithCommitInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.commitInterval = d
		}
	}
}

// WithThrottleDelay sets how long Insert sleeps when callers insert faster
// than the store commits.  Zero disables throttling.
func WithThrottleDelay(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.throttleDelay = d
		}
	}
}

// WithMinSplitThreshold floors the bucket split threshold, in 1/65536ths of
// an entry.  Small values make small stores split more eagerly.
func WithMinSplitThreshold(thresh uint64) Option {
	return func(o *options) {
		if thresh > 0 {
			o.minThreshold = thresh
		}
	}
}

// WithBulkWriteSize sets the buffer size used when appending to the data
// and log files during a commit.
func WithBulkWriteSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bulkWriteSize = n
		}
	}
}

// WithRecoverReadSize sets the buffer size used to read the log file during
// recovery.
func WithRecoverReadSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.recoverReadSize = n
		}
	}
}

func withFileWrapper(fn func(ondisk.File) ondisk.File) Option {
	return func(o *options) {
		o.wrapFile = fn
	}
}
