// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cram implements reading of CRAM container and block
// framing: file definitions, container headers, block headers and
// slice headers, and extraction of the read-name data series where
// its encoding permits. Full record decoding is out of scope.
//
// See https://samtools.github.io/hts-specs/CRAMv3.pdf for the CRAM
// specification.
package cram

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// EOFMarker is the CRAM end of file container.
//
// See CRAM spec section 9.
var EOFMarker = []byte{
	0x0f, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0xff, // |........|
	0x0f, 0xe0, 0x45, 0x4f, 0x46, 0x00, 0x00, 0x00, // |..EOF...|
	0x00, 0x01, 0x00, 0x05, 0xbd, 0xd9, 0x4f, 0x00, // |......O.|
	0x01, 0x00, 0x06, 0x06, 0x01, 0x00, 0x01, 0x00, // |........|
	0x01, 0x00, 0xee, 0x63, 0x01, 0x4b, /*       */ // |...c.K|
}

// Magic is the CRAM file magic number.
var Magic = []byte("CRAM")

var (
	// ErrNoCRAM is returned when a stream does not begin with the
	// CRAM magic number.
	ErrNoCRAM = errors.New("cram: not a cram file")

	// ErrCorrupt is returned when container or block structure
	// cannot be parsed.
	ErrCorrupt = errors.New("cram: corrupt stream")
)

// Definition is a CRAM file definition.
//
// See CRAM spec section 6.
type Definition struct {
	Magic   [4]byte
	Version [2]byte
	ID      [20]byte
}

func (d *Definition) readFrom(r io.Reader) error {
	if _, err := io.ReadFull(r, d.Magic[:]); err != nil {
		return err
	}
	if !bytes.Equal(d.Magic[:], Magic) {
		return fmt.Errorf("%w: magic bytes %q", ErrNoCRAM, d.Magic)
	}
	if _, err := io.ReadFull(r, d.Version[:]); err != nil {
		return err
	}
	_, err := io.ReadFull(r, d.ID[:])
	return err
}

// Reader is a CRAM container reader. It iterates the containers of a
// stream in file order, reporting the byte span of each.
type Reader struct {
	r *countReader

	d Definition
	c *Container

	err error
}

// NewReader returns a new Reader consuming the file definition from
// r. base gives the file offset of the first byte r will return.
func NewReader(r io.Reader, base int64) (*Reader, error) {
	cr := Reader{r: &countReader{r: r, n: base}}
	if base == 0 {
		err := cr.d.readFrom(cr.r)
		if err != nil {
			return nil, err
		}
	}
	return &cr, nil
}

// Definition returns the file definition. It is only meaningful for a
// Reader opened at the start of a stream.
func (r *Reader) Definition() Definition { return r.d }

// Next advances the Reader to the next container. It returns false
// when the stream ends, either by reaching the end of the stream or
// encountering an error. The end of file container is returned like
// any other; callers detect it with (*Container).IsEOF.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}
	if r.c != nil {
		_, r.err = io.Copy(io.Discard, r.c.blockData)
		if r.err != nil {
			return false
		}
	}
	var c Container
	r.err = c.readFrom(r.r)
	r.c = &c
	return r.err == nil
}

// Container returns the current container. The returned Container is
// only valid after a previous call to Next has returned true.
func (r *Reader) Container() *Container { return r.c }

// Err returns the most recent error.
func (r *Reader) Err() error {
	if errors.Is(r.err, io.EOF) {
		return nil
	}
	return r.err
}

// Container is a CRAM container.
//
// See CRAM spec section 7.
type Container struct {
	start int64
	end   int64

	blockLen   int32
	refID      int32
	alignStart int32
	alignSpan  int32
	nRec       int32
	recCounter int64
	bases      int64
	blocks     int32
	landmarks  []int32
	crc32      uint32

	blockData io.Reader
	block     *Block
	err       error
}

// readFrom populates a Container from the given countReader checking
// that the CRC32 for the container header is correct.
func (c *Container) readFrom(r *countReader) error {
	c.start = r.n
	crc := crc32.NewIEEE()
	er := errorReader{r: io.TeeReader(r, crc)}
	var buf [4]byte
	io.ReadFull(&er, buf[:])
	if er.err != nil {
		if c.start == r.n {
			return io.EOF
		}
		return er.err
	}
	c.blockLen = int32(binary.LittleEndian.Uint32(buf[:]))
	c.refID = er.itf8()
	c.alignStart = er.itf8()
	c.alignSpan = er.itf8()
	c.nRec = er.itf8()
	c.recCounter = er.ltf8()
	c.bases = er.ltf8()
	c.blocks = er.itf8()
	c.landmarks = er.itf8slice()
	sum := crc.Sum32()
	_, err := io.ReadFull(&er, buf[:])
	if err != nil {
		return fmt.Errorf("%w: truncated container header", ErrCorrupt)
	}
	c.crc32 = binary.LittleEndian.Uint32(buf[:])
	if c.crc32 != sum {
		return fmt.Errorf("%w: container crc32 mismatch got:0x%08x want:0x%08x", ErrCorrupt, sum, c.crc32)
	}
	if er.err != nil {
		return er.err
	}
	c.end = r.n + int64(c.blockLen)
	c.blockData = &io.LimitedReader{R: r, N: int64(c.blockLen)}
	return nil
}

// Span returns the byte range [start, end) that the container
// occupies in the file, header included.
func (c *Container) Span() (start, end int64) { return c.start, c.end }

// Records returns the number of records held by the container.
func (c *Container) Records() int { return int(c.nRec) }

// IsEOF reports whether the container is the end of file marker
// container.
func (c *Container) IsEOF() bool {
	return c.blockLen == 15 && c.refID == -1 && c.nRec == 0 && c.alignStart == 0x454f46
}

// Next advances the Container to the next block. It returns false
// when the container data ends or an error is encountered.
func (c *Container) Next() bool {
	if c.err != nil {
		return false
	}
	var b Block
	c.err = b.readFrom(c.blockData)
	if c.err == nil {
		c.block = &b
		return true
	}
	return false
}

// Block returns the current block. The returned Block is only valid
// after a previous call to Next has returned true.
func (c *Container) Block() *Block { return c.block }

// Err returns the most recent block iteration error.
func (c *Container) Err() error {
	if errors.Is(c.err, io.EOF) {
		return nil
	}
	return c.err
}

// Block compression methods.
//
// See CRAM spec section 8.
const (
	rawMethod = iota
	gzipMethod
	bzip2Method
	lzmaMethod
	ransMethod
)

// Block content types.
const (
	fileHeader = iota
	compressionHeader
	sliceHeader
	_ // reserved
	externalData
	coreData
)

// Block is a CRAM block.
//
// See CRAM spec section 8.
type Block struct {
	method         byte
	typ            byte
	contentID      int32
	compressedSize int32
	rawSize        int32
	blockData      []byte
	crc32          uint32
}

// readFrom fills a Block from the given io.Reader checking that the
// CRC32 for the block is correct.
func (b *Block) readFrom(r io.Reader) error {
	crc := crc32.NewIEEE()
	er := errorReader{r: io.TeeReader(r, crc)}
	var buf [4]byte
	_, err := io.ReadFull(&er, buf[:2])
	if err != nil {
		return err
	}
	b.method = buf[0]
	b.typ = buf[1]
	b.contentID = er.itf8()
	b.compressedSize = er.itf8()
	b.rawSize = er.itf8()
	if er.err != nil {
		return er.err
	}
	if b.method == rawMethod && b.compressedSize != b.rawSize {
		return fmt.Errorf("%w: compressed (%d) != raw (%d) size for raw method", ErrCorrupt, b.compressedSize, b.rawSize)
	}
	if b.compressedSize < 0 {
		return fmt.Errorf("%w: negative block size", ErrCorrupt)
	}
	b.blockData = make([]byte, b.compressedSize)
	if _, err = io.ReadFull(&er, b.blockData); err != nil {
		return fmt.Errorf("%w: truncated block", ErrCorrupt)
	}
	sum := crc.Sum32()
	if _, err = io.ReadFull(&er, buf[:]); err != nil {
		return fmt.Errorf("%w: truncated block crc", ErrCorrupt)
	}
	b.crc32 = binary.LittleEndian.Uint32(buf[:])
	if b.crc32 != sum {
		return fmt.Errorf("%w: block crc32 mismatch got:0x%08x want:0x%08x", ErrCorrupt, sum, b.crc32)
	}
	return nil
}

// countReader tracks the file offset of the wrapped reader.
type countReader struct {
	r io.Reader
	n int64
}

func (r *countReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.n += int64(n)
	return n, err
}

// errorReader is a sticky error io.Reader with ITF-8 and LTF-8
// decoding helpers.
type errorReader struct {
	r   io.Reader
	err error
}

func (r *errorReader) Read(b []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	var n int
	n, r.err = r.r.Read(b)
	return n, r.err
}

func (r *errorReader) readByte() byte {
	var buf [1]byte
	if r.err != nil {
		return 0
	}
	_, r.err = io.ReadFull(r, buf[:])
	return buf[0]
}

// itf8 returns the ITF-8 encoded number at the current position.
func (r *errorReader) itf8() int32 {
	b0 := r.readByte()
	if r.err != nil {
		return 0
	}
	switch {
	case b0&0x80 == 0:
		return int32(b0)
	case b0&0xc0 == 0x80:
		return int32(b0&0x3f)<<8 | int32(r.readByte())
	case b0&0xe0 == 0xc0:
		return int32(b0&0x1f)<<16 | int32(r.readByte())<<8 | int32(r.readByte())
	case b0&0xf0 == 0xe0:
		return int32(b0&0x0f)<<24 | int32(r.readByte())<<16 | int32(r.readByte())<<8 | int32(r.readByte())
	default:
		v := int32(b0&0x0f)<<28 | int32(r.readByte())<<20 | int32(r.readByte())<<12 | int32(r.readByte())<<4
		return v | int32(r.readByte()&0x0f)
	}
}

// ltf8 returns the LTF-8 encoded number at the current position.
func (r *errorReader) ltf8() int64 {
	b0 := r.readByte()
	if r.err != nil {
		return 0
	}
	n := leadingOnes(b0)
	v := int64(b0 & (0xff >> n))
	if n == 8 {
		v = 0
	}
	for i := 0; i < n; i++ {
		v = v<<8 | int64(r.readByte())
	}
	return v
}

// itf8slice returns the n[ITF-8] encoded numbers at the current
// position where n is an ITF-8 encoded number.
func (r *errorReader) itf8slice() []int32 {
	n := r.itf8()
	if r.err != nil || n == 0 {
		return nil
	}
	if n < 0 || n > 1<<20 {
		r.err = fmt.Errorf("%w: implausible array length %d", ErrCorrupt, n)
		return nil
	}
	s := make([]int32, n)
	for i := range s {
		s[i] = r.itf8()
		if r.err != nil {
			return s[:i]
		}
	}
	return s
}

// leadingOnes returns the number of leading set bits in x.
func leadingOnes(x byte) int {
	var n int
	for ; x&0x80 != 0; x <<= 1 {
		n++
	}
	return n
}
