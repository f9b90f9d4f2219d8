// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package codec transforms values on their way into and out of the data
// file.  The codec a store was created with is recorded in the data file
// header.
package codec

import (
	"fmt"

	"github.com/golang/snappy"

	"github.com/bpowers/bitstore/internal/format"
)

const (
	IdentityID uint8 = 0
	SnappyID   uint8 = 1
)

var ErrUnknownCodec = format.ErrInvalidCodec

// Codec encodes and decodes stored values.
type Codec interface {
	ID() uint8
	Name() string
	// Encode returns the encoded form of src, possibly using dst's storage.
	Encode(dst, src []byte) []byte
	// Decode returns the decoded form of src, possibly using dst's storage.
	Decode(dst, src []byte) ([]byte, error)
}

// Identity stores values unchanged.  Encode copies src into dst; Decode
// returns src itself.
type Identity struct{}

func (Identity) ID() uint8    { return IdentityID }
func (Identity) Name() string { return "identity" }

func (Identity) Encode(dst, src []byte) []byte { return append(dst[:0], src...) }

func (Identity) Decode(_, src []byte) ([]byte, error) { return src, nil }

// Snappy compresses values with snappy block encoding.
type Snappy struct{}

func (Snappy) ID() uint8    { return SnappyID }
func (Snappy) Name() string { return "snappy" }

func (Snappy) Encode(dst, src []byte) []byte {
	return snappy.Encode(dst, src)
}

func (Snappy) Decode(dst, src []byte) ([]byte, error) {
	out, err := snappy.Decode(dst, src)
	if err != nil {
		return nil, fmt.Errorf("snappy.Decode: %w", err)
	}
	return out, nil
}

// ByID returns the codec recorded in a data file header.
func ByID(id uint8) (Codec, error) {
	switch id {
	case IdentityID:
		return Identity{}, nil
	case SnappyID:
		return Snappy{}, nil
	}
	return nil, fmt.Errorf("%w: id %d", ErrUnknownCodec, id)
}

// ByName returns the codec with the given name.
func ByName(name string) (Codec, error) {
	switch name {
	case "identity", "none", "":
		return Identity{}, nil
	case "snappy":
		return Snappy{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}
