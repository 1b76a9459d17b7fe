// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bgzf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"
)

// Reader implements sequential reading of a BGZF stream, inflating
// one block at a time and tracking the virtual offset of the read
// cursor. The zero block at end of stream is consumed silently.
type Reader struct {
	r io.Reader

	base  int64 // file offset of the current block.
	frame int   // compressed length of the current block.

	buf []byte // inflated payload of the current block.
	off int    // read cursor within buf.

	fr  io.ReadCloser
	err error
}

// NewReader returns a Reader inflating the BGZF stream from r.
// If base is non-zero it gives the file offset of the first byte
// that r will return, allowing positioned reads of substreams.
func NewReader(r io.Reader, base int64) *Reader {
	return &Reader{r: r, base: base}
}

// Offset returns the virtual offset of the next byte to be read.
// An offset at the end of a block is normalized to the start of the
// following block.
func (bg *Reader) Offset() Offset {
	if bg.off == len(bg.buf) {
		return Offset{File: bg.base + int64(bg.frame), Block: 0}
	}
	return Offset{File: bg.base, Block: uint16(bg.off)}
}

// BlockStart returns the file offset of the current block.
func (bg *Reader) BlockStart() int64 { return bg.base }

// Read implements the io.Reader interface.
func (bg *Reader) Read(p []byte) (int, error) {
	if bg.err != nil {
		return 0, bg.err
	}
	var n int
	for n < len(p) {
		if bg.off == len(bg.buf) {
			if err := bg.nextBlock(); err != nil {
				if n != 0 && err == io.EOF {
					return n, nil
				}
				return n, err
			}
		}
		c := copy(p[n:], bg.buf[bg.off:])
		bg.off += c
		n += c
	}
	return n, nil
}

// ReadByte implements the io.ByteReader interface.
func (bg *Reader) ReadByte() (byte, error) {
	if bg.err != nil {
		return 0, bg.err
	}
	if bg.off == len(bg.buf) {
		if err := bg.nextBlock(); err != nil {
			return 0, err
		}
	}
	b := bg.buf[bg.off]
	bg.off++
	return b, nil
}

// nextBlock advances to the next block holding data, skipping empty
// blocks. It returns io.EOF at a clean end of stream and sets the
// sticky error otherwise.
func (bg *Reader) nextBlock() error {
	for {
		bg.base += int64(bg.frame)
		frame, data, err := inflateBlock(bg.r, &bg.fr, bg.buf)
		if err != nil {
			if err != io.EOF {
				bg.err = err
			}
			bg.frame, bg.buf, bg.off = 0, nil, 0
			return err
		}
		bg.frame, bg.buf, bg.off = frame, data, 0
		if len(data) != 0 {
			return nil
		}
	}
}

// InflateBlock reads and inflates the single block frame at the
// start of r, returning its compressed frame length and payload.
func InflateBlock(r io.Reader) (frame int, data []byte, err error) {
	var fr io.ReadCloser
	return inflateBlock(r, &fr, nil)
}

// inflateBlock reads one BGZF block frame from r, returning its
// compressed length and inflated payload. The flate reader at *fr is
// reused across calls and dst, when large enough, backs the returned
// payload. io.EOF is returned only at a frame boundary.
func inflateBlock(r io.Reader, fr *io.ReadCloser, dst []byte) (frame int, data []byte, err error) {
	var head [12]byte
	_, err = io.ReadFull(r, head[:])
	if err != nil {
		if err == io.ErrUnexpectedEOF {
			return 0, nil, fmt.Errorf("%w: truncated block header", ErrCorrupt)
		}
		return 0, nil, err
	}
	if !IsMagic(head[:]) {
		return 0, nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	xlen := int(binary.LittleEndian.Uint16(head[10:]))
	extra := make([]byte, xlen)
	if _, err = io.ReadFull(r, extra); err != nil {
		return 0, nil, fmt.Errorf("%w: truncated extra field", ErrCorrupt)
	}
	bsize, err := bcSubfield(extra)
	if err != nil {
		return 0, nil, err
	}
	frame = bsize + 1
	cdataLen := frame - len(head) - xlen - 8
	if cdataLen < 0 {
		return 0, nil, fmt.Errorf("%w: impossible BSIZE %d", ErrCorrupt, bsize)
	}
	cdata := make([]byte, cdataLen+8)
	if _, err = io.ReadFull(r, cdata); err != nil {
		return 0, nil, fmt.Errorf("%w: truncated block data", ErrCorrupt)
	}
	isize := binary.LittleEndian.Uint32(cdata[cdataLen+4:])
	if isize > MaxBlockSize {
		return 0, nil, fmt.Errorf("%w: ISIZE %d exceeds maximum block size", ErrCorrupt, isize)
	}
	if cap(dst) >= int(isize) {
		data = dst[:isize]
	} else {
		data = make([]byte, isize)
	}
	br := bytes.NewReader(cdata[:cdataLen])
	if *fr == nil {
		*fr = flate.NewReader(br)
	} else if err = (*fr).(flate.Resetter).Reset(br, nil); err != nil {
		return 0, nil, err
	}
	if _, err = io.ReadFull(*fr, data); err != nil {
		return 0, nil, fmt.Errorf("%w: short inflate: %v", ErrCorrupt, err)
	}
	if crc := crc32.ChecksumIEEE(data); crc != binary.LittleEndian.Uint32(cdata[cdataLen:]) {
		return 0, nil, fmt.Errorf("%w: crc32 mismatch", ErrCorrupt)
	}
	return frame, data, nil
}

// bcSubfield returns the BSIZE value held in the BC extra subfield.
func bcSubfield(extra []byte) (int, error) {
	for i := 0; i+4 <= len(extra); {
		slen := int(binary.LittleEndian.Uint16(extra[i+2:]))
		if extra[i] == 'B' && extra[i+1] == 'C' {
			if slen != 2 || i+4+slen > len(extra) {
				return 0, fmt.Errorf("%w: malformed BC subfield", ErrCorrupt)
			}
			return int(binary.LittleEndian.Uint16(extra[i+4:])), nil
		}
		i += 4 + slen
	}
	return 0, fmt.Errorf("%w: no BC subfield", ErrCorrupt)
}
