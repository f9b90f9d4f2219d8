// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Command gen-testdata writes random hexkey:value lines suitable for
// `bitstore import`.  Keys are HMACs of their values, so they are
// distinct and evenly distributed.
package main

import (
	"bufio"
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"flag"
	"fmt"
	"math/rand"
	"os"
)

const (
	prefix  = "pref_"
	hmacKey = "d259c7f656caf7f1"
)

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		var seedBytes [8]byte
		_, _ = crand.Read(seedBytes[:])
		seed = int64(binary.LittleEndian.Uint64(seedBytes[:]))
	}
	return rand.New(rand.NewSource(seed))
}

func main() {
	n := flag.Int("n", 1000000, "number of lines")
	keySize := flag.Int("keysize", 8, "key size in bytes, at most 32")
	valueSize := flag.Int("valuesize", 16, "random bytes per value (hex encoded after the prefix)")
	seed := flag.Int64("seed", 0, "random seed, 0 for a random one")
	flag.Parse()

	if *keySize < 1 || *keySize > sha256.Size {
		fmt.Fprintf(os.Stderr, "gen-testdata: -keysize must be in [1, %d]\n", sha256.Size)
		os.Exit(1)
	}

	rng := newRand(*seed)
	h := hmac.New(sha256.New, []byte(hmacKey))
	w := bufio.NewWriter(os.Stdout)
	defer func() { _ = w.Flush() }()

	buf := make([]byte, *valueSize)
	for i := 0; i < *n; i++ {
		if _, err := rng.Read(buf); err != nil {
			panic(err)
		}
		value := fmt.Sprintf("%s%x", prefix, buf)
		h.Reset()
		h.Write([]byte(value))
		key := hex.EncodeToString(h.Sum(nil)[:*keySize])

		fmt.Fprintf(w, "%s:%s\n", key, value)
	}
}
