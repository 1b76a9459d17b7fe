// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bgzf implements BGZF block framing: reading and writing of
// gzip member blocks carrying the BC extra subfield, virtual offset
// arithmetic and physical block scanning without inflation.
//
// See the SAM specification section 4 for the BGZF block layout.
package bgzf

import (
	"bytes"
	"errors"
	"io"
	"os"
)

const (
	// BlockSize is the maximum uncompressed payload carried
	// by a written block.
	BlockSize = 0x0ff00

	// MaxBlockSize is the maximum size of a compressed block.
	MaxBlockSize = 0x10000
)

// MagicBlock is the empty BGZF block used as a stream terminator.
var MagicBlock = []byte{
	0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff,
	0x06, 0x00, 0x42, 0x43, 0x02, 0x00, 0x1b, 0x00, 0x03, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

var (
	// ErrClosed is returned on a write to a closed Writer.
	ErrClosed = errors.New("bgzf: write to closed writer")

	// ErrBlockOverflow is returned when a block exceeds MaxBlockSize
	// after compression.
	ErrBlockOverflow = errors.New("bgzf: block overflow")

	// ErrCorrupt is returned when a block frame cannot be parsed.
	ErrCorrupt = errors.New("bgzf: corrupt block")

	// ErrNoEnd is returned by HasEOF when the stream length
	// cannot be determined.
	ErrNoEnd = errors.New("bgzf: cannot determine offset from end")
)

// IsMagic reports whether b begins with a BGZF block: a gzip member
// header with FLG.FEXTRA set. Callers should provide at least four
// bytes.
func IsMagic(b []byte) bool {
	return len(b) >= 4 && b[0] == 0x1f && b[1] == 0x8b && b[2] == 0x08 && b[3]&0x04 != 0
}

// Offset is a virtual offset into a BGZF stream: the file offset of
// the start of a compressed block and the offset of a byte within
// that block's uncompressed data.
type Offset struct {
	File  int64
	Block uint16
}

// Packed returns the offset in the packed coffset<<16|uoffset form.
func (o Offset) Packed() uint64 {
	return uint64(o.File)<<16 | uint64(o.Block)
}

// Unpack returns the Offset encoded in the packed form v.
func Unpack(v uint64) Offset {
	return Offset{File: int64(v >> 16), Block: uint16(v)}
}

// Chunk is a half-open range of a BGZF stream.
type Chunk struct {
	Begin, End Offset
}

// HasEOF checks for the presence of the BGZF magic EOF block at the
// end of the stream available through r. The ReaderAt must provide
// some method for determining valid ReadAt offsets.
func HasEOF(r io.ReaderAt) (bool, error) {
	type sizer interface {
		Size() int64
	}
	type stater interface {
		Stat() (os.FileInfo, error)
	}
	var size int64
	switch r := r.(type) {
	case sizer:
		size = r.Size()
	case stater:
		fi, err := r.Stat()
		if err != nil {
			return false, err
		}
		size = fi.Size()
	default:
		return false, ErrNoEnd
	}
	if size < int64(len(MagicBlock)) {
		return false, nil
	}
	b := make([]byte, len(MagicBlock))
	_, err := r.ReadAt(b, size-int64(len(MagicBlock)))
	if err != nil {
		return false, err
	}
	return bytes.Equal(b, MagicBlock), nil
}
