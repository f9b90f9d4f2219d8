// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bitstore

import (
	"errors"
	"fmt"

	"github.com/bpowers/bitstore/internal/format"
	"github.com/bpowers/bitstore/internal/ondisk"
)

var (
	ErrKeyExists   = errors.New("key already exists")
	ErrKeyNotFound = errors.New("key not found")

	// ErrCorrupt is returned by Verify when the key and data files disagree.
	ErrCorrupt = errors.New("store is corrupt")

	// ErrStoreFailed is matched by every error returned after the background
	// commit has failed.  The store must be closed and reopened, which runs
	// recovery.
	ErrStoreFailed = errors.New("store failed")

	ErrNotOpen         = errors.New("store is not open")
	ErrKeySize         = errors.New("key has the wrong size")
	ErrValueSize       = errors.New("value is empty")
	ErrValueTooLarge   = errors.New("value is too large")
	ErrLocked          = ondisk.ErrLocked
	ErrInvalidArgument = errors.New("invalid argument")
)

// File format errors.
var (
	ErrNotDataFile       = format.ErrNotDataFile
	ErrNotKeyFile        = format.ErrNotKeyFile
	ErrNotLogFile        = format.ErrNotLogFile
	ErrDifferentVersion  = format.ErrDifferentVersion
	ErrShortHeader       = format.ErrShortHeader
	ErrShortKeyFile      = format.ErrShortKeyFile
	ErrInvalidKeySize    = format.ErrInvalidKeySize
	ErrInvalidBlockSize  = format.ErrInvalidBlockSize
	ErrInvalidLoadFactor = format.ErrInvalidLoadFactor
	ErrInvalidCapacity   = format.ErrInvalidCapacity
	ErrInvalidCodec      = format.ErrInvalidCodec
	ErrHashMismatch      = format.ErrHashMismatch
	ErrUIDMismatch       = format.ErrUIDMismatch
	ErrAppnumMismatch    = format.ErrAppnumMismatch
	ErrKeySizeMismatch   = format.ErrKeySizeMismatch
	ErrSaltMismatch      = format.ErrSaltMismatch
	ErrPepperMismatch    = format.ErrPepperMismatch
	ErrBlockSizeMismatch = format.ErrBlockSizeMismatch
)

// storeError is the error latched when the background commit fails.
type storeError struct {
	cause error
}

func (e *storeError) Error() string {
	return fmt.Sprintf("%s: %s", ErrStoreFailed, e.cause)
}

func (e *storeError) Unwrap() []error {
	return []error{ErrStoreFailed, e.cause}
}
