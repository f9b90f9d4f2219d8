// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bitstore

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bpowers/bitstore/internal/bucket"
	"github.com/bpowers/bitstore/internal/cache"
	"github.com/bpowers/bitstore/internal/codec"
	"github.com/bpowers/bitstore/internal/datafile"
	"github.com/bpowers/bitstore/internal/format"
	"github.com/bpowers/bitstore/internal/gentex"
	"github.com/bpowers/bitstore/internal/hasher"
	"github.com/bpowers/bitstore/internal/index"
	"github.com/bpowers/bitstore/internal/ondisk"
	"github.com/bpowers/bitstore/internal/pool"
)

// Stats are counters describing a store's activity since it was opened.
type Stats struct {
	Inserts uint64
	Fetches uint64
	Commits uint64
	Splits  uint64
	Spills  uint64
	// Buckets is the current number of key file buckets.
	Buckets uint64
	// LastCommit is how long the most recent commit took.
	LastCommit time.Duration
}

// Store is an open key/value store.  Inserted values become visible to
// Fetch immediately and durable once the background commit that picks them
// up finishes.  All methods are safe for concurrent use.
type Store struct {
	datPath string
	keyPath string
	logPath string

	opts   options
	logger *slog.Logger
	hasher hasher.Hasher
	codec  codec.Codec

	dh *format.DatHeader
	kh *format.KeyHeader

	df ondisk.File
	kf ondisk.File
	lf ondisk.File

	// serializes Insert
	insertMu sync.Mutex

	mu         sync.RWMutex
	closed     bool
	p1         *pool.Pool   // accepting inserts
	p0         *pool.Pool   // being committed
	c1         *cache.Cache // published new bucket contents, or nil
	lin        index.Linear
	swapTime   time.Time
	rate       float64 // bytes/sec the last commit sustained
	poolThresh int64

	gentex *gentex.Gentex

	// owned by the commit goroutine
	splitter *index.Splitter

	// readers past the closed check; Close waits for them
	inflight sync.WaitGroup

	failed atomic.Pointer[storeError]

	wake      chan struct{}
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	inserts    atomic.Uint64
	fetches    atomic.Uint64
	commits    atomic.Uint64
	splits     atomic.Uint64
	spills     atomic.Uint64
	lastCommit atomic.Int64
}

// Open opens an existing store, first recovering from an interrupted commit
// if the log file says one happened.  The key file is locked for as long as
// the store is open; a second Open fails with ErrLocked.
func Open(datPath, keyPath, logPath string, opts ...Option) (_ *Store, err error) {
	o := newOptions(opts)

	var toClose []ondisk.File
	defer func() {
		if err != nil {
			for _, f := range toClose {
				_ = f.Close()
			}
		}
	}()

	kosf, err := ondisk.Open(keyPath)
	if err != nil {
		return nil, fmt.Errorf("ondisk.Open: %w", err)
	}
	toClose = append(toClose, kosf)
	if err := kosf.Lock(); err != nil {
		return nil, err
	}
	dosf, err := ondisk.Open(datPath)
	if err != nil {
		return nil, fmt.Errorf("ondisk.Open: %w", err)
	}
	toClose = append(toClose, dosf)
	kf, df := o.wrap(kosf), o.wrap(dosf)

	if err := recoverFiles(&o, df, kf, logPath); err != nil {
		return nil, fmt.Errorf("recover: %w", err)
	}

	losf, err := ondisk.OpenOrCreate(logPath)
	if err != nil {
		return nil, fmt.Errorf("ondisk.OpenOrCreate: %w", err)
	}
	toClose = append(toClose, losf)
	lf := o.wrap(losf)
	// a commit relies on finding the log after a crash
	if err := syncDir(logPath); err != nil {
		return nil, err
	}

	dh, err := readDatHeader(df)
	if err != nil {
		return nil, fmt.Errorf("readDatHeader(%s): %w", datPath, err)
	}
	kh, err := readKeyHeader(kf, o.hasher)
	if err != nil {
		return nil, fmt.Errorf("readKeyHeader(%s): %w", keyPath, err)
	}
	if err := format.VerifyDatKey(dh, kh); err != nil {
		return nil, fmt.Errorf("VerifyDatKey: %w", err)
	}
	c, err := codec.ByID(dh.Codec)
	if err != nil {
		return nil, fmt.Errorf("codec.ByID: %w", err)
	}

	s := &Store{
		datPath:    datPath,
		keyPath:    keyPath,
		logPath:    logPath,
		opts:       o,
		logger:     o.logger,
		hasher:     o.hasher,
		codec:      c,
		dh:         dh,
		kh:         kh,
		df:         df,
		kf:         kf,
		lf:         lf,
		p1:         pool.New(),
		p0:         pool.New(),
		lin:        index.NewLinear(kh.Buckets),
		swapTime:   time.Now(),
		poolThresh: 1,
		gentex:     gentex.New(),
		splitter:   index.NewSplitter(kh.LoadFactor, kh.Capacity, o.minThreshold),
		wake:       make(chan struct{}, 1),
		closing:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	go s.run()

	s.logger.Info("opened store", "dat", datPath, "key", keyPath, "buckets", kh.Buckets, "codec", c.Name(), "hasher", o.hasher.Name())
	return s, nil
}

// enter registers a caller that may touch the files.  The caller must call
// s.inflight.Done when finished.
func (s *Store) enter() error {
	if e := s.failed.Load(); e != nil {
		return e
	}
	if s.closed {
		return ErrNotOpen
	}
	s.inflight.Add(1)
	return nil
}

// Insert adds key and value to the store.  key must be exactly KeySize bytes
// and value must not be empty.  Inserting a key that is already present
// fails with ErrKeyExists; values are never overwritten.
func (s *Store) Insert(key, value []byte) error {
	if len(key) != int(s.kh.KeySize) {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrKeySize, len(key), s.kh.KeySize)
	}
	if len(value) == 0 {
		return ErrValueSize
	}
	if len(value) > datafile.MaxValueSize {
		return fmt.Errorf("%w: %d bytes", ErrValueTooLarge, len(value))
	}
	h := s.hasher.Hash(key, s.kh.Salt)

	sleep, err := s.insert(key, value, h)
	if err != nil {
		return err
	}
	if sleep {
		time.Sleep(s.opts.throttleDelay)
	}
	return nil
}

func (s *Store) insert(key, value []byte, h uint64) (sleep bool, err error) {
	s.insertMu.Lock()
	defer s.insertMu.Unlock()

	s.mu.RLock()
	if err := s.enter(); err != nil {
		s.mu.RUnlock()
		return false, err
	}
	defer s.inflight.Done()
	if _, ok := s.p1.Find(key); ok {
		s.mu.RUnlock()
		return false, ErrKeyExists
	}
	if _, ok := s.p0.Find(key); ok {
		s.mu.RUnlock()
		return false, ErrKeyExists
	}
	_, found, err := s.lookup(key, h)
	if err != nil {
		return false, err
	}
	if found {
		return false, ErrKeyExists
	}

	encoded := s.codec.Encode(nil, value)
	if len(encoded) > datafile.MaxValueSize {
		return false, fmt.Errorf("%w: %d bytes encoded", ErrValueTooLarge, len(encoded))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrNotOpen
	}
	s.p1.Insert(bytes.Clone(key), encoded, h)
	elapsed := time.Since(s.swapTime)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	work := s.p1.DataSize() + 3*int64(s.p1.Len())*int64(s.kh.BlockSize)
	rate := float64(work) / elapsed.Seconds()
	sleep = s.opts.throttleDelay > 0 && s.rate > 0 && rate > s.rate
	notify := s.p1.DataSize() >= s.poolThresh
	s.mu.Unlock()

	s.inserts.Add(1)
	if notify {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return sleep, nil
}

// lookup searches the committed state for key.  It must be called with
// s.mu read-locked, and releases the lock.  The returned value is still
// codec-encoded.
func (s *Store) lookup(key []byte, h uint64) ([]byte, bool, error) {
	n := s.lin.Index(h)
	b := bucket.Make(int(s.kh.BlockSize))
	if s.c1 != nil {
		if cb, ok := s.c1.Find(n); ok {
			b.CopyFrom(cb)
			s.mu.RUnlock()
			return s.searchChain(b, key, h)
		}
	}
	gen := s.gentex.Lock()
	s.mu.RUnlock()
	defer s.gentex.Unlock(gen)
	if err := b.ReadBlock(s.kf, bucketOffset(n, int(s.kh.BlockSize))); err != nil {
		return nil, false, fmt.Errorf("ReadBlock(%d): %w", n, err)
	}
	return s.searchChain(b, key, h)
}

// searchChain looks for key in b and the spill records chained from it,
// overwriting b as it goes.
func (s *Store) searchChain(b bucket.Bucket, key []byte, h uint64) ([]byte, bool, error) {
	keySize := int(s.kh.KeySize)
	for {
		for i := b.LowerBound(h); i < b.Len(); i++ {
			e := b.At(i)
			if e.Hash != h {
				break
			}
			buf := make([]byte, keySize+int(e.Size))
			if err := ondisk.ReadFull(s.df, buf, int64(e.Offset)+format.DataRecordHeaderSize); err != nil {
				return nil, false, fmt.Errorf("read record at %d: %w", e.Offset, err)
			}
			if bytes.Equal(buf[:keySize], key) {
				return buf[keySize:], true, nil
			}
		}
		spill := b.Spill()
		if spill == 0 {
			return nil, false, nil
		}
		if err := b.ReadSpill(s.df, int64(spill)); err != nil {
			return nil, false, fmt.Errorf("ReadSpill(%d): %w", spill, err)
		}
	}
}

// FetchFunc calls fn with the value stored for key.  The slice passed to fn
// must not be retained or modified after fn returns.
func (s *Store) FetchFunc(key []byte, fn func(value []byte)) error {
	if len(key) != int(s.kh.KeySize) {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrKeySize, len(key), s.kh.KeySize)
	}
	h := s.hasher.Hash(key, s.kh.Salt)

	s.mu.RLock()
	if err := s.enter(); err != nil {
		s.mu.RUnlock()
		return err
	}
	defer s.inflight.Done()
	s.fetches.Add(1)

	encoded, ok := s.p1.Find(key)
	if !ok {
		encoded, ok = s.p0.Find(key)
	}
	if ok {
		// pending values are never modified, so they can be used unlocked
		s.mu.RUnlock()
	} else {
		var err error
		encoded, ok, err = s.lookup(key, h)
		if err != nil {
			return err
		}
		if !ok {
			return ErrKeyNotFound
		}
	}

	value, err := s.codec.Decode(nil, encoded)
	if err != nil {
		return fmt.Errorf("Decode: %w", err)
	}
	fn(value)
	return nil
}

// Fetch returns a copy of the value stored for key, or ErrKeyNotFound.
func (s *Store) Fetch(key []byte) ([]byte, error) {
	var out []byte
	err := s.FetchFunc(key, func(value []byte) {
		out = bytes.Clone(value)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close commits any pending inserts, stops the background goroutine and
// closes the files.  If the store failed, the latched error is returned and
// the log file is kept so the next Open can recover.
func (s *Store) Close() error {
	first := false
	s.closeOnce.Do(func() {
		first = true
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.closing)
	})
	if !first {
		return ErrNotOpen
	}
	<-s.done
	s.inflight.Wait()

	var err error
	if e := s.failed.Load(); e != nil {
		err = e
	}
	for _, f := range []ondisk.File{s.lf, s.df, s.kf} {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("Close(%s): %w", f.Name(), cerr)
		}
	}
	if err == nil {
		if rerr := ondisk.Erase(s.logPath); rerr != nil {
			err = rerr
		}
	}
	s.logger.Info("closed store", "dat", s.datPath, "err", err)
	return err
}

// fail latches err as the store's permanent error.
func (s *Store) fail(err error) {
	e := &storeError{cause: err}
	if s.failed.CompareAndSwap(nil, e) {
		s.logger.Error("commit failed; store is unusable until reopened", "dat", s.datPath, "err", err)
	}
}

func (s *Store) isOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// DatPath returns the data file path, or "" once the store is closed.
func (s *Store) DatPath() string {
	if !s.isOpen() {
		return ""
	}
	return s.datPath
}

func (s *Store) KeyPath() string {
	if !s.isOpen() {
		return ""
	}
	return s.keyPath
}

func (s *Store) LogPath() string {
	if !s.isOpen() {
		return ""
	}
	return s.logPath
}

func (s *Store) AppNum() uint64 {
	if !s.isOpen() {
		return 0
	}
	return s.kh.AppNum
}

func (s *Store) KeySize() int {
	if !s.isOpen() {
		return 0
	}
	return int(s.kh.KeySize)
}

func (s *Store) BlockSize() int {
	if !s.isOpen() {
		return 0
	}
	return int(s.kh.BlockSize)
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	buckets := s.lin.Buckets
	s.mu.RUnlock()
	return Stats{
		Inserts:    s.inserts.Load(),
		Fetches:    s.fetches.Load(),
		Commits:    s.commits.Load(),
		Splits:     s.splits.Load(),
		Spills:     s.spills.Load(),
		Buckets:    buckets,
		LastCommit: time.Duration(s.lastCommit.Load()),
	}
}
