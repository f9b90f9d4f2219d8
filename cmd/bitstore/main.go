// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Command bitstore creates, loads, queries and checks stores from the
// command line.  A store named by -db lives in three files: <db>.dat,
// <db>.key and <db>.log.
package main

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/bpowers/bitstore"
	"github.com/bpowers/bitstore/internal/bytesutil"
)

type command struct {
	name  string
	usage string
	run   func(args []string) error
}

var commands = []command{
	{"create", "create an empty store", createCmd},
	{"import", "insert hexkey:value lines from a file or stdin", importCmd},
	{"fetch", "print the values of hex-encoded keys", fetchCmd},
	{"info", "print the file headers", infoCmd},
	{"verify", "check the key file against the data file", verifyCmd},
	{"visit", "print every record as a hexkey:value line", visitCmd},
	{"rekey", "build a new key file from the data file", rekeyCmd},
	{"recover", "roll back an interrupted commit", recoverCmd},
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage()
		return
	}
	for _, c := range commands {
		if c.name != name {
			continue
		}
		if err := c.run(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "bitstore %s: %s\n", name, err)
			os.Exit(1)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "Unknown command: %s\n", name)
	printUsage()
	os.Exit(1)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage:\n  bitstore <command> -db <path> [options]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-9s %s\n", c.name, c.usage)
	}
	fmt.Fprintf(os.Stderr, "\nRun 'bitstore <command> -h' for the options of a command.\n")
}

// common holds the flags every subcommand takes.
type common struct {
	db      *string
	hasher  *string
	verbose *bool
}

func newFlagSet(name string) (*flag.FlagSet, common) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	c := common{
		db:      fs.String("db", "", "store path prefix (required)"),
		hasher:  fs.String("hasher", "xxhash", "key hash function: xxhash or farm"),
		verbose: fs.Bool("v", false, "log debug output to stderr"),
	}
	return fs, c
}

func (c common) paths() (dat, key, log string, err error) {
	if *c.db == "" {
		return "", "", "", errors.New("-db is required")
	}
	return *c.db + ".dat", *c.db + ".key", *c.db + ".log", nil
}

func (c common) options() ([]bitstore.Option, error) {
	h, ok := bitstore.HasherByName(*c.hasher)
	if !ok {
		return nil, fmt.Errorf("unknown hasher %q", *c.hasher)
	}
	level := slog.LevelInfo
	if *c.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return []bitstore.Option{
		bitstore.WithHasher(h),
		bitstore.WithLogger(logger),
	}, nil
}

func createCmd(args []string) error {
	fs, c := newFlagSet("create")
	keySize := fs.Int("keysize", 0, "size in bytes of every key (required)")
	blockSize := fs.Int("blocksize", 4096, "key file block size")
	loadFactor := fs.Float64("load", 0.5, "target bucket occupancy, in (0, 1)")
	appnum := fs.Uint64("appnum", 0, "application-defined number stored in the headers")
	codecName := fs.String("codec", "identity", "value codec: identity or snappy")
	_ = fs.Parse(args)

	dat, key, log, err := c.paths()
	if err != nil {
		return err
	}
	opts, err := c.options()
	if err != nil {
		return err
	}
	cd, err := bitstore.CodecByName(*codecName)
	if err != nil {
		return err
	}
	opts = append(opts, bitstore.WithCodec(cd))
	return bitstore.Create(dat, key, log, *appnum, bitstore.NewSalt(), *keySize, *blockSize, *loadFactor, opts...)
}

func importCmd(args []string) error {
	fs, c := newFlagSet("import")
	in := fs.String("in", "-", "input file of hexkey:value lines, - for stdin")
	_ = fs.Parse(args)

	dat, key, log, err := c.paths()
	if err != nil {
		return err
	}
	opts, err := c.options()
	if err != nil {
		return err
	}

	var r io.Reader = os.Stdin
	if *in != "-" {
		f, err := os.Open(*in)
		if err != nil {
			return fmt.Errorf("os.Open: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	s, err := bitstore.Open(dat, key, log, opts...)
	if err != nil {
		return err
	}

	start := time.Now()
	inserted, dups, err := importLines(s, r)
	closeInto(s, &err)
	if err != nil {
		return err
	}
	fmt.Printf("inserted %d records (%d duplicates skipped) in %s\n", inserted, dups, time.Since(start).Round(time.Millisecond))
	return nil
}

// closeInto closes c, reporting its error through err unless err already
// holds one.  A store that failed in the background reports it here.
func closeInto(c io.Closer, err *error) {
	if cerr := c.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}

func importLines(s *bitstore.Store, r io.Reader) (inserted, dups int, err error) {
	br := bufio.NewReaderSize(r, 1<<20)
	keyBuf := make([]byte, s.KeySize())
	for lineNo := 1; ; lineNo++ {
		line, rerr := br.ReadSlice('\n')
		if rerr == bufio.ErrBufferFull {
			return inserted, dups, fmt.Errorf("line %d: too long", lineNo)
		}
		line = bytesutil.TrimEOL(line)
		if len(line) > 0 {
			hexKey, value, ok := bytes.Cut(line, []byte{':'})
			if !ok {
				return inserted, dups, fmt.Errorf("line %d: missing ':'", lineNo)
			}
			if hex.DecodedLen(len(hexKey)) != len(keyBuf) {
				return inserted, dups, fmt.Errorf("line %d: key is %d hex digits, want %d", lineNo, len(hexKey), hex.EncodedLen(len(keyBuf)))
			}
			if _, err := hex.Decode(keyBuf, hexKey); err != nil {
				return inserted, dups, fmt.Errorf("line %d: %w", lineNo, err)
			}
			switch err := s.Insert(keyBuf, value); {
			case errors.Is(err, bitstore.ErrKeyExists):
				dups++
			case err != nil:
				return inserted, dups, fmt.Errorf("line %d: %w", lineNo, err)
			default:
				inserted++
			}
		}
		if rerr == io.EOF {
			return inserted, dups, nil
		}
		if rerr != nil {
			return inserted, dups, fmt.Errorf("read: %w", rerr)
		}
	}
}

func fetchCmd(args []string) (err error) {
	fs, c := newFlagSet("fetch")
	_ = fs.Parse(args)

	dat, key, log, err := c.paths()
	if err != nil {
		return err
	}
	opts, err := c.options()
	if err != nil {
		return err
	}
	s, err := bitstore.Open(dat, key, log, opts...)
	if err != nil {
		return err
	}
	defer closeInto(s, &err)

	w := bufio.NewWriter(os.Stdout)
	defer func() {
		if ferr := w.Flush(); ferr != nil && err == nil {
			err = ferr
		}
	}()
	for _, arg := range fs.Args() {
		k, err := hex.DecodeString(arg)
		if err != nil {
			return fmt.Errorf("key %q: %w", arg, err)
		}
		err = s.FetchFunc(k, func(value []byte) {
			_, _ = fmt.Fprintf(w, "%s:%s\n", arg, value)
		})
		if errors.Is(err, bitstore.ErrKeyNotFound) {
			_, _ = fmt.Fprintf(w, "%s: not found\n", arg)
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func printInfo(w io.Writer, info bitstore.Info) {
	fmt.Fprintf(w, "version:        %d\n", info.Version)
	fmt.Fprintf(w, "uid:            %#016x\n", info.UID)
	fmt.Fprintf(w, "appnum:         %d\n", info.AppNum)
	fmt.Fprintf(w, "salt:           %#016x\n", info.Salt)
	fmt.Fprintf(w, "pepper:         %#016x\n", info.Pepper)
	fmt.Fprintf(w, "key size:       %d\n", info.KeySize)
	fmt.Fprintf(w, "block size:     %d\n", info.BlockSize)
	fmt.Fprintf(w, "load factor:    %.3f\n", info.LoadFactor)
	fmt.Fprintf(w, "capacity:       %d\n", info.Capacity)
	fmt.Fprintf(w, "buckets:        %d\n", info.Buckets)
	fmt.Fprintf(w, "codec:          %s\n", info.Codec)
	fmt.Fprintf(w, "data file size: %d\n", info.DatFileSize)
	fmt.Fprintf(w, "key file size:  %d\n", info.KeyFileSize)
}

func infoCmd(args []string) error {
	fs, c := newFlagSet("info")
	_ = fs.Parse(args)

	dat, key, _, err := c.paths()
	if err != nil {
		return err
	}
	info, err := bitstore.ReadInfo(dat, key)
	if err != nil {
		return err
	}
	printInfo(os.Stdout, info)
	return nil
}

func verifyCmd(args []string) error {
	fs, c := newFlagSet("verify")
	_ = fs.Parse(args)

	dat, key, _, err := c.paths()
	if err != nil {
		return err
	}
	opts, err := c.options()
	if err != nil {
		return err
	}
	vi, err := bitstore.Verify(dat, key, opts...)
	if err != nil {
		return err
	}
	printInfo(os.Stdout, vi.Info)
	fmt.Printf("values:         %d (%d bytes)\n", vi.ValueCount, vi.ValueBytes)
	fmt.Printf("keys:           %d\n", vi.KeyCount)
	fmt.Printf("spills:         %d (%d bytes)\n", vi.SpillCount, vi.SpillBytes)
	fmt.Printf("actual load:    %.3f\n", vi.ActualLoad)
	fmt.Printf("average fetch:  %.3f\n", vi.AvgFetch)
	fmt.Printf("waste:          %.3f%%\n", vi.Waste*100)
	fmt.Printf("overhead:       %.3f%%\n", vi.Overhead*100)
	return nil
}

func visitCmd(args []string) error {
	fs, c := newFlagSet("visit")
	_ = fs.Parse(args)

	dat, _, _, err := c.paths()
	if err != nil {
		return err
	}
	w := bufio.NewWriterSize(os.Stdout, 1<<20)
	var hexKey []byte
	err = bitstore.Visit(dat, func(key, value []byte) error {
		if n := hex.EncodedLen(len(key)); cap(hexKey) < n {
			hexKey = make([]byte, n)
		}
		hexKey = hexKey[:hex.EncodedLen(len(key))]
		hex.Encode(hexKey, key)
		if _, err := w.Write(hexKey); err != nil {
			return err
		}
		if err := w.WriteByte(':'); err != nil {
			return err
		}
		if _, err := w.Write(value); err != nil {
			return err
		}
		return w.WriteByte('\n')
	})
	if ferr := w.Flush(); ferr != nil && err == nil {
		err = ferr
	}
	return err
}

func rekeyCmd(args []string) error {
	fs, c := newFlagSet("rekey")
	blockSize := fs.Int("blocksize", 4096, "key file block size")
	loadFactor := fs.Float64("load", 0.5, "target bucket occupancy, in (0, 1)")
	items := fs.Uint64("items", 0, "number of records, or 0 to count them")
	_ = fs.Parse(args)

	dat, key, log, err := c.paths()
	if err != nil {
		return err
	}
	opts, err := c.options()
	if err != nil {
		return err
	}
	return bitstore.Rekey(dat, key, log, *blockSize, *loadFactor, *items, opts...)
}

func recoverCmd(args []string) error {
	fs, c := newFlagSet("recover")
	_ = fs.Parse(args)

	dat, key, log, err := c.paths()
	if err != nil {
		return err
	}
	opts, err := c.options()
	if err != nil {
		return err
	}
	return bitstore.Recover(dat, key, log, opts...)
}
