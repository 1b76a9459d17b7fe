// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package si

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"
)

// ReadFile loads and validates the index at path.
func ReadFile(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(bufio.NewReader(f))
}

// Read loads an index from r, verifying magic, version, checksum and
// structural consistency.
func Read(r io.Reader) (*Index, error) {
	crc := crc32.NewIEEE()
	er := errorReader{r: io.TeeReader(r, crc), crc: crc}

	magic := make([]byte, len(Magic))
	er.read(magic)
	if er.err == nil && !bytes.Equal(magic, Magic) {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorruptIndex, magic)
	}
	version := er.uint16()
	if er.err == nil && version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptIndex, version)
	}

	var idx Index
	idx.Flags = Flags(er.uint16())
	idx.Variant = Variant(er.uint8())
	var reserved [3]byte
	er.read(reserved[:])
	if er.err == nil && reserved != [3]byte{} {
		return nil, fmt.Errorf("%w: nonzero reserved bytes", ErrCorruptIndex)
	}
	idx.SourceSize = er.uint64()
	er.read(idx.SourceHash[:])
	idx.Records = er.uint64()
	idx.Groups = er.uint64()

	n := er.uint32()
	if er.err == nil && uint64(n) > idx.Records {
		return nil, fmt.Errorf("%w: %d chunks for %d records", ErrCorruptIndex, n, idx.Records)
	}
	if er.err == nil {
		idx.Chunks = make([]Chunk, n)
	}
	for i := range idx.Chunks {
		c := &idx.Chunks[i]
		c.Start = er.uint64()
		c.End = er.uint64()
		c.Records = er.uint64()
		c.Groups = er.uint32()
		nameLen := er.uint16()
		if er.err != nil {
			break
		}
		c.FirstName = make([]byte, nameLen)
		er.read(c.FirstName)
	}

	want := er.sum()
	got := er.uint32()
	if er.err != nil {
		return nil, er.err
	}
	if got != want {
		return nil, fmt.Errorf("%w: crc32 mismatch got:0x%08x want:0x%08x", ErrCorruptIndex, got, want)
	}
	if err := idx.Validate(); err != nil {
		return nil, err
	}
	return &idx, nil
}

// errorReader is a sticky error reader with little-endian decoding
// helpers, snapshotting the running checksum before the trailing
// crc32 field is consumed.
type errorReader struct {
	r   io.Reader
	crc hash.Hash32
	err error
}

func (r *errorReader) read(p []byte) {
	if r.err != nil {
		return
	}
	_, r.err = io.ReadFull(r.r, p)
	if r.err == io.EOF || r.err == io.ErrUnexpectedEOF {
		r.err = fmt.Errorf("%w: truncated index", ErrCorruptIndex)
	}
}

// sum returns the checksum over all bytes read so far.
func (r *errorReader) sum() uint32 { return r.crc.Sum32() }

func (r *errorReader) uint8() uint8 {
	var b [1]byte
	r.read(b[:])
	return b[0]
}

func (r *errorReader) uint16() uint16 {
	var b [2]byte
	r.read(b[:])
	return binary.LittleEndian.Uint16(b[:])
}

func (r *errorReader) uint32() uint32 {
	var b [4]byte
	r.read(b[:])
	return binary.LittleEndian.Uint32(b[:])
}

func (r *errorReader) uint64() uint64 {
	var b [8]byte
	r.read(b[:])
	return binary.LittleEndian.Uint64(b[:])
}
