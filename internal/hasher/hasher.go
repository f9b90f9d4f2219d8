// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package hasher provides the salted key hash functions a store can be
// built with.  The pepper, a hash of the salt itself, is stored in the key
// file so that opening a store with the wrong hash function fails loudly
// instead of silently missing every key.
package hasher

import (
	"encoding/binary"

	"github.com/OneOfOne/xxhash"
	"github.com/dgryski/go-farm"
)

// Mask48 keeps the 48 bits of a hash that fit in a bucket entry.
const Mask48 = (1 << 48) - 1

// Hasher hashes fixed-size keys with a per-store salt.
type Hasher interface {
	// Name identifies the hash function in diagnostics.
	Name() string
	// Hash returns the 48-bit hash of key under salt.
	Hash(key []byte, salt uint64) uint64
	// Pepper returns the hash of salt, used to detect a hash function mismatch.
	Pepper(salt uint64) uint64
}

func saltBytes(salt uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], salt)
	return buf[:]
}

// XXHash is the default hasher, seeded 64-bit xxHash.
type XXHash struct{}

func (XXHash) Name() string { return "xxhash" }

func (XXHash) Hash(key []byte, salt uint64) uint64 {
	return xxhash.Checksum64S(key, salt) & Mask48
}

func (XXHash) Pepper(salt uint64) uint64 {
	return xxhash.Checksum64S(saltBytes(salt), salt)
}

// Farm uses Google's FarmHash.
type Farm struct{}

func (Farm) Name() string { return "farm" }

func (Farm) Hash(key []byte, salt uint64) uint64 {
	return farm.Hash64WithSeed(key, salt) & Mask48
}

func (Farm) Pepper(salt uint64) uint64 {
	return farm.Hash64WithSeed(saltBytes(salt), salt)
}

// Default returns the hasher used when none is configured.
func Default() Hasher {
	return XXHash{}
}

// ByName returns the hasher with the given name, or false.
func ByName(name string) (Hasher, bool) {
	switch name {
	case "xxhash", "":
		return XXHash{}, true
	case "farm":
		return Farm{}, true
	}
	return nil, false
}
