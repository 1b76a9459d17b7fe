// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package si

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// WriteFile writes the index to path atomically: the bytes go to a
// temporary file in the same directory which is renamed over path on
// success and unlinked on any failure.
func WriteFile(path string, idx *Index) (err error) {
	dir, base := filepath.Split(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", base, uuid.NewString()))
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()
	bw := bufio.NewWriter(f)
	if err = Write(bw, idx); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Write serializes the index to w.
func Write(w io.Writer, idx *Index) error {
	if err := idx.Validate(); err != nil {
		return err
	}
	crc := crc32.NewIEEE()
	ew := errorWriter{w: io.MultiWriter(w, crc), crc: crc}

	ew.write(Magic)
	ew.uint16(Version)
	ew.uint16(uint16(idx.Flags))
	ew.uint8(uint8(idx.Variant))
	ew.write([]byte{0, 0, 0})
	ew.uint64(idx.SourceSize)
	ew.write(idx.SourceHash[:])
	ew.uint64(idx.Records)
	ew.uint64(idx.Groups)

	if len(idx.Chunks) > math.MaxUint32 {
		return fmt.Errorf("si: chunk count %d overflows index", len(idx.Chunks))
	}
	ew.uint32(uint32(len(idx.Chunks)))
	for i := range idx.Chunks {
		c := &idx.Chunks[i]
		if len(c.FirstName) > math.MaxUint16 {
			return fmt.Errorf("si: query name length %d overflows chunk %d", len(c.FirstName), i)
		}
		ew.uint64(c.Start)
		ew.uint64(c.End)
		ew.uint64(c.Records)
		ew.uint32(c.Groups)
		ew.uint16(uint16(len(c.FirstName)))
		ew.write(c.FirstName)
	}

	ew.uint32(ew.sum())
	return ew.err
}

// errorWriter is a sticky error writer with little-endian encoding
// helpers.
type errorWriter struct {
	w   io.Writer
	crc hash.Hash32
	err error
}

func (w *errorWriter) write(p []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(p)
}

// sum returns the checksum over all bytes written so far.
func (w *errorWriter) sum() uint32 { return w.crc.Sum32() }

func (w *errorWriter) uint8(v uint8) { w.write([]byte{v}) }

func (w *errorWriter) uint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.write(b[:])
}

func (w *errorWriter) uint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.write(b[:])
}

func (w *errorWriter) uint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.write(b[:])
}
