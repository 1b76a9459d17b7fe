// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scan

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/TedBrookings/split-reads/bgzf"
)

var bamMagic = []byte("BAM\x01")

// bamFixedSize is the fixed portion of a BAM record following the
// block_size field.
const bamFixedSize = 32

// bamWalker walks BAM records in a BGZF stream. Record parsing stops
// at the read name; cigar, sequence and tag data are skipped.
type bamWalker struct {
	r     *bgzf.Reader
	limit uint64

	header []byte
	refs   int

	g    grouper
	buf  []byte
	size [4]byte

	done bool
	err  error
}

func newBAMWalker(r io.Reader, base int64, withHeader bool, limit uint64) (*bamWalker, error) {
	w := &bamWalker{r: bgzf.NewReader(r, base), limit: limit}
	if withHeader {
		if err := w.readHeader(); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// readHeader consumes the BAM header block: magic, header text and
// reference dictionary, retaining the raw uncompressed bytes.
func (w *bamWalker) readHeader() error {
	keep := func(n int) ([]byte, error) {
		off := len(w.header)
		w.header = append(w.header, make([]byte, n)...)
		if _, err := io.ReadFull(w.r, w.header[off:]); err != nil {
			return nil, fmt.Errorf("%w: truncated BAM header", ErrUnexpectedEOF)
		}
		return w.header[off:], nil
	}
	magic, err := keep(len(bamMagic) + 4)
	if err != nil {
		return err
	}
	if string(magic[:4]) != string(bamMagic) {
		return fmt.Errorf("%w: bad BAM magic", ErrMalformedRecord)
	}
	lText := int(int32(binary.LittleEndian.Uint32(magic[4:])))
	if lText < 0 {
		return fmt.Errorf("%w: negative header text length", ErrMalformedRecord)
	}
	if _, err = keep(lText); err != nil {
		return err
	}
	nRefB, err := keep(4)
	if err != nil {
		return err
	}
	nRef := int(int32(binary.LittleEndian.Uint32(nRefB)))
	if nRef < 0 {
		return fmt.Errorf("%w: negative reference count", ErrMalformedRecord)
	}
	w.refs = nRef
	for i := 0; i < nRef; i++ {
		lName, err := keep(4)
		if err != nil {
			return err
		}
		n := int(int32(binary.LittleEndian.Uint32(lName)))
		if n < 0 {
			return fmt.Errorf("%w: negative reference name length", ErrMalformedRecord)
		}
		if _, err = keep(n + 4); err != nil {
			return err
		}
	}
	return nil
}

func (w *bamWalker) Next() bool {
	if w.err != nil || w.done {
		return false
	}
	for {
		start := w.r.Offset().Packed()
		if start >= w.limit {
			w.done = true
			return w.g.flush()
		}
		name, err := w.readRecord()
		if err == io.EOF {
			w.done = true
			return w.g.flush()
		}
		if err != nil {
			w.err = err
			return false
		}
		if w.g.add(name, start, w.r.Offset().Packed()) {
			return true
		}
	}
}

// readRecord reads one record, returning its read name. io.EOF is
// returned only at a clean record boundary.
func (w *bamWalker) readRecord() ([]byte, error) {
	if _, err := io.ReadFull(w.r, w.size[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: record cut at block size", ErrUnexpectedEOF)
	}
	size := int(int32(binary.LittleEndian.Uint32(w.size[:])))
	if size < bamFixedSize {
		return nil, fmt.Errorf("%w: block size %d below fixed record size", ErrMalformedRecord, size)
	}
	if cap(w.buf) < size {
		w.buf = make([]byte, size)
	}
	w.buf = w.buf[:size]
	if n, err := io.ReadFull(w.r, w.buf); err != nil {
		return nil, fmt.Errorf("%w: record cut at %d of %d bytes", ErrUnexpectedEOF, n, size)
	}
	nameLen := int(w.buf[8])
	if nameLen == 0 || bamFixedSize+nameLen > size {
		return nil, fmt.Errorf("%w: read name length %d does not fit record", ErrMalformedRecord, nameLen)
	}
	// The stored name is NUL terminated.
	return w.buf[bamFixedSize : bamFixedSize+nameLen-1], nil
}

func (w *bamWalker) Group() Group { return w.g.take() }

func (w *bamWalker) Err() error { return w.err }

func (w *bamWalker) Header() []byte { return w.header }

func (w *bamWalker) Paired() bool { return false }
