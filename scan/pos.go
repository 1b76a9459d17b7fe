// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scan

import (
	"bufio"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/TedBrookings/split-reads/bgzf"
)

// posReader is a byte stream reporting the packed position of the
// next byte: a virtual offset over BGZF framing, a plain byte offset
// otherwise. For gzip framing the offset addresses the inflated
// stream, which is the only stable coordinate space a non-blocked
// gzip member has.
type posReader interface {
	io.ByteReader
	Pos() uint64
}

// posReaderFor wraps r according to the probed framing.
func posReaderFor(r io.Reader, f Framing) (posReader, error) {
	switch f {
	case BGZF:
		return &bgzfPos{r: bgzf.NewReader(r, 0)}, nil
	case Gzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return &countPos{r: bufio.NewReader(gz)}, nil
	default:
		return &countPos{r: bufio.NewReader(r)}, nil
	}
}

type bgzfPos struct {
	r *bgzf.Reader
}

func (p *bgzfPos) ReadByte() (byte, error) { return p.r.ReadByte() }

func (p *bgzfPos) Pos() uint64 { return p.r.Offset().Packed() }

type countPos struct {
	r *bufio.Reader
	n uint64
}

func (p *countPos) ReadByte() (byte, error) {
	b, err := p.r.ReadByte()
	if err == nil {
		p.n++
	}
	return b, err
}

func (p *countPos) Pos() uint64 { return p.n }

// readLine appends the next line of r to buf, which is reset first.
// The terminating newline is consumed but not returned. io.EOF is
// returned only when the stream ends before any byte; a final
// unterminated line is returned with a nil error.
func readLine(r posReader, buf []byte) ([]byte, error) {
	buf = buf[:0]
	for {
		b, err := r.ReadByte()
		if err == io.EOF {
			if len(buf) == 0 {
				return buf, io.EOF
			}
			return buf, nil
		}
		if err != nil {
			return buf, err
		}
		if b == '\n' {
			return buf, nil
		}
		buf = append(buf, b)
	}
}
