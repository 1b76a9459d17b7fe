// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scan

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/TedBrookings/split-reads/bgzf"
	"github.com/TedBrookings/split-reads/si"
)

// Framing identifies the compression wrapping of a source.
type Framing uint8

const (
	// Plain is an uncompressed source.
	Plain Framing = iota

	// Gzip is a single-member (non-BGZF) gzip stream. Positions
	// are offsets into the inflated stream.
	Gzip

	// BGZF is a block-gzip stream. Positions are virtual offsets.
	BGZF
)

func (f Framing) String() string {
	switch f {
	case Plain:
		return "plain"
	case Gzip:
		return "gzip"
	case BGZF:
		return "bgzf"
	default:
		return fmt.Sprintf("Framing(%d)", uint8(f))
	}
}

// probePeek is the buffer size backing Probe's lookahead: enough for
// a full compressed BGZF block plus slack to inflate a text prefix.
const probePeek = 1 << 17

// Probe identifies the container variant and framing of the stream
// by inspecting its leading bytes. Probing buffers part of the
// stream, so any subsequent walking must use the returned reader,
// which is still positioned at the stream start.
func Probe(r io.Reader) (si.Variant, Framing, io.Reader, error) {
	br := bufio.NewReaderSize(r, probePeek)
	head, err := br.Peek(4)
	if err != nil && len(head) < 4 {
		return 0, Plain, br, fmt.Errorf("%w: input shorter than any record container", ErrUnsupportedVariant)
	}
	switch {
	case bytes.Equal(head, []byte("CRAM")):
		return si.CRAM, Plain, br, nil
	case head[0] == 0x1f && head[1] == 0x8b:
		buf, err := br.Peek(probePeek)
		if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
			return 0, Plain, br, err
		}
		framing := Gzip
		if bgzf.IsMagic(buf) {
			framing = BGZF
		}
		inner, err := inflatePrefix(buf)
		if err != nil {
			return 0, framing, br, err
		}
		if bytes.HasPrefix(inner, []byte("BAM\x01")) {
			if framing != BGZF {
				return 0, framing, br, fmt.Errorf("%w: BAM payload outside BGZF framing", ErrUnsupportedVariant)
			}
			return si.BAM, framing, br, nil
		}
		v, err := probeText(inner)
		return v, framing, br, err
	default:
		buf, err := br.Peek(probePeek)
		if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
			return 0, Plain, br, err
		}
		v, err := probeText(buf)
		return v, Plain, br, err
	}
}

// inflatePrefix inflates as much of the leading gzip member in b as
// the available bytes allow, for probing only.
func inflatePrefix(b []byte) ([]byte, error) {
	// Skip the gzip member header: fixed fields plus the optional
	// extra, name and comment fields.
	if len(b) < 10 {
		return nil, fmt.Errorf("%w: truncated gzip header", ErrUnsupportedVariant)
	}
	flg := b[3]
	off := 10
	if flg&0x04 != 0 { // FEXTRA
		if len(b) < off+2 {
			return nil, fmt.Errorf("%w: truncated gzip header", ErrUnsupportedVariant)
		}
		off += 2 + int(uint16(b[off])|uint16(b[off+1])<<8)
	}
	for _, flag := range []byte{0x08, 0x10} { // FNAME, FCOMMENT
		if flg&flag == 0 {
			continue
		}
		i := bytes.IndexByte(b[off:], 0)
		if i < 0 {
			return nil, fmt.Errorf("%w: truncated gzip header", ErrUnsupportedVariant)
		}
		off += i + 1
	}
	if flg&0x02 != 0 { // FHCRC
		off += 2
	}
	if off >= len(b) {
		return nil, fmt.Errorf("%w: truncated gzip stream", ErrUnsupportedVariant)
	}
	fr := flate.NewReader(bytes.NewReader(b[off:]))
	defer fr.Close()
	out := make([]byte, 1<<12)
	n, err := io.ReadFull(fr, out)
	if n == 0 && err != nil {
		return nil, fmt.Errorf("%w: undecodable gzip prefix", ErrUnsupportedVariant)
	}
	return out[:n], nil
}

// samHeaderTags are the defined SAM header record types.
var samHeaderTags = [][]byte{
	[]byte("@HD"), []byte("@SQ"), []byte("@RG"), []byte("@PG"), []byte("@CO"),
}

// probeText distinguishes SAM from FASTQ in a text prefix.
func probeText(b []byte) (si.Variant, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("%w: empty input", ErrUnsupportedVariant)
	}
	if b[0] != '@' {
		// Headerless SAM still has tab-delimited record lines.
		line := b
		if i := bytes.IndexByte(b, '\n'); i >= 0 {
			line = b[:i]
		}
		if bytes.Count(line, []byte("\t")) >= 10 {
			return si.SAM, nil
		}
		return 0, fmt.Errorf("%w: unrecognized leading bytes", ErrUnsupportedVariant)
	}
	for _, tag := range samHeaderTags {
		if bytes.HasPrefix(b, tag) {
			rest := b[len(tag):]
			if len(rest) == 0 || rest[0] == '\t' || rest[0] == '\n' || rest[0] == ' ' {
				return si.SAM, nil
			}
		}
	}
	// FASTQ: third line of the quartet begins with '+'.
	lines := bytes.SplitN(b, []byte("\n"), 4)
	if len(lines) >= 3 && len(lines[2]) > 0 && lines[2][0] == '+' {
		return si.FASTQ, nil
	}
	// The quartet can outgrow the window: long-read records put the
	// '+' separator beyond it. The leading line settles the two
	// remaining candidates: a SAM record line is tab-delimited, a
	// FASTQ name line is not.
	line := b
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		line = b[:i]
	}
	if bytes.Count(line, []byte("\t")) >= 10 {
		return si.SAM, nil
	}
	return si.FASTQ, nil
}
