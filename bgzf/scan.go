// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bgzf

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Block describes one physical block frame.
type Block struct {
	File  int64 // file offset of the frame start.
	Frame int   // compressed frame length.
	ISize int   // uncompressed payload length.
}

// Scanner walks the block frames of a BGZF stream without inflating
// payloads. It reads only frame headers and trailers, discarding the
// deflate data between them.
type Scanner struct {
	r    io.Reader
	base int64
	blk  Block
	err  error
}

// NewScanner returns a Scanner reading frames from r. base gives the
// file offset of the first byte r will return.
func NewScanner(r io.Reader, base int64) *Scanner {
	return &Scanner{r: r, base: base}
}

// Next advances the Scanner to the next frame. It returns false when
// the stream ends, either by reaching the end of the stream or
// encountering an error.
func (s *Scanner) Next() bool {
	if s.err != nil {
		return false
	}
	s.base += int64(s.blk.Frame)
	var head [12]byte
	_, err := io.ReadFull(s.r, head[:])
	if err != nil {
		if err == io.ErrUnexpectedEOF {
			err = fmt.Errorf("%w: truncated block header", ErrCorrupt)
		}
		s.err = err
		return false
	}
	if !IsMagic(head[:]) {
		s.err = fmt.Errorf("%w: bad magic at offset %d", ErrCorrupt, s.base)
		return false
	}
	xlen := int(binary.LittleEndian.Uint16(head[10:]))
	extra := make([]byte, xlen)
	if _, err = io.ReadFull(s.r, extra); err != nil {
		s.err = fmt.Errorf("%w: truncated extra field", ErrCorrupt)
		return false
	}
	bsize, err := bcSubfield(extra)
	if err != nil {
		s.err = err
		return false
	}
	frame := bsize + 1
	rest := frame - len(head) - xlen
	if rest < 8 {
		s.err = fmt.Errorf("%w: impossible BSIZE %d", ErrCorrupt, bsize)
		return false
	}
	if _, err = io.CopyN(io.Discard, s.r, int64(rest-4)); err != nil {
		s.err = fmt.Errorf("%w: truncated block data", ErrCorrupt)
		return false
	}
	var tail [4]byte
	if _, err = io.ReadFull(s.r, tail[:]); err != nil {
		s.err = fmt.Errorf("%w: truncated block trailer", ErrCorrupt)
		return false
	}
	s.blk = Block{File: s.base, Frame: frame, ISize: int(binary.LittleEndian.Uint32(tail[:]))}
	return true
}

// Block returns the current frame. It is only valid after a previous
// call to Next has returned true.
func (s *Scanner) Block() Block { return s.blk }

// Err returns the first non-EOF error encountered by the Scanner.
func (s *Scanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}

// findWindow is the width of the ranged read used by FindBlock when
// hunting for a frame start.
const findWindow = 2 * MaxBlockSize

// FindBlock returns the file offset of the first block frame starting
// at or after off. Candidate gzip magics within a ranged window are
// validated by following the frame chain for confirm frames, the
// candidate included, or until it reaches limit exactly. limit bounds
// the search; io.EOF is returned when no frame starts in [off, limit).
func FindBlock(r io.ReaderAt, off, limit int64, confirm int) (int64, error) {
	if off >= limit {
		return 0, io.EOF
	}
	w := int64(findWindow)
	if off+w > limit {
		w = limit - off
	}
	buf := make([]byte, w)
	n, err := r.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return 0, err
	}
	buf = buf[:n]
	for i := 0; i+12 <= len(buf); i++ {
		if !IsMagic(buf[i:]) {
			continue
		}
		if followFrames(r, off+int64(i), limit, confirm) {
			return off + int64(i), nil
		}
	}
	return 0, io.EOF
}

// followFrames reports whether a valid chain of confirm frames (or a
// shorter chain reaching limit exactly) begins at off.
func followFrames(r io.ReaderAt, off, limit int64, confirm int) bool {
	for i := 0; i < confirm; i++ {
		if off == limit {
			return true
		}
		var head [18]byte
		n, err := r.ReadAt(head[:], off)
		if err != nil && err != io.EOF {
			return false
		}
		if n < 12 || !IsMagic(head[:n]) {
			return false
		}
		xlen := int(binary.LittleEndian.Uint16(head[10:]))
		extra := make([]byte, xlen)
		if _, err := r.ReadAt(extra, off+12); err != nil {
			return false
		}
		bsize, err := bcSubfield(extra)
		if err != nil {
			return false
		}
		if bsize+1 < 12+xlen+8 {
			return false
		}
		off += int64(bsize) + 1
		if off > limit {
			return false
		}
	}
	return true
}
