// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bgzf

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
)

var bcPlaceholder = []byte("BC\x02\x00\x00\x00")

// Writer implements BGZF block writing. Data are buffered into blocks
// of at most BlockSize bytes and deflated as independent gzip members
// carrying the BC subfield. Close terminates the stream with the
// magic EOF block.
type Writer struct {
	w     io.Writer
	level int

	next    int
	written int64

	closed bool
	err    error

	block [BlockSize]byte
	buf   bytes.Buffer
}

// NewWriter returns a Writer compressing at the default level.
func NewWriter(w io.Writer) *Writer {
	return NewWriterLevel(w, gzip.DefaultCompression)
}

// NewWriterLevel returns a Writer compressing at the given gzip level.
func NewWriterLevel(w io.Writer, level int) *Writer {
	return &Writer{w: w, level: level}
}

// Offset returns the virtual offset of the next byte to be written.
// The offset is stable: once the enclosing block is flushed the byte
// is found at exactly this position in the compressed stream.
func (bg *Writer) Offset() Offset {
	return Offset{File: bg.written, Block: uint16(bg.next)}
}

// Write implements the io.Writer interface.
func (bg *Writer) Write(p []byte) (int, error) {
	if bg.err != nil {
		return 0, bg.err
	}
	if bg.closed {
		return 0, ErrClosed
	}
	var n int
	for len(p) > 0 {
		c := copy(bg.block[bg.next:], p)
		n += c
		p = p[c:]
		bg.next += c
		if bg.next == BlockSize {
			if bg.err = bg.writeBlock(); bg.err != nil {
				return n, bg.err
			}
		}
	}
	return n, bg.err
}

// Flush writes any buffered data as a block, aligning the next write
// to a block start.
func (bg *Writer) Flush() error {
	if bg.err != nil {
		return bg.err
	}
	if bg.closed || bg.next == 0 {
		return nil
	}
	bg.err = bg.writeBlock()
	return bg.err
}

// Close flushes buffered data and writes the magic EOF block. The
// underlying writer is not closed.
func (bg *Writer) Close() error {
	if bg.err != nil {
		return bg.err
	}
	if bg.closed {
		return nil
	}
	bg.closed = true
	if bg.next != 0 {
		if bg.err = bg.writeBlock(); bg.err != nil {
			return bg.err
		}
	}
	var n int
	n, bg.err = bg.w.Write(MagicBlock)
	bg.written += int64(n)
	return bg.err
}

func (bg *Writer) writeBlock() error {
	bg.buf.Reset()
	gz, err := gzip.NewWriterLevel(&bg.buf, bg.level)
	if err != nil {
		return err
	}
	gz.Extra = bcPlaceholder
	gz.OS = 0xff
	if _, err = gz.Write(bg.block[:bg.next]); err != nil {
		return err
	}
	if err = gz.Close(); err != nil {
		return err
	}
	bg.next = 0

	b := bg.buf.Bytes()
	if len(b) > MaxBlockSize {
		return ErrBlockOverflow
	}
	i := bytes.Index(b, bcPlaceholder[:4])
	if i < 0 {
		return gzip.ErrHeader
	}
	size := len(b) - 1
	b[i+4], b[i+5] = byte(size), byte(size>>8)

	n, err := bg.w.Write(b)
	bg.written += int64(n)
	return err
}
