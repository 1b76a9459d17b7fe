// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bgzf

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"gopkg.in/check.v1"
)

func Test(t *testing.T) { check.TestingT(t) }

type S struct{}

var _ = check.Suite(&S{})

func (s *S) TestRoundTrip(c *check.C) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	const line = "some sequence data that will be split across blocks\n"
	var want bytes.Buffer
	for i := 0; i < 10000; i++ {
		want.WriteString(line)
		_, err := w.Write([]byte(line))
		c.Assert(err, check.Equals, nil)
	}
	c.Assert(w.Close(), check.Equals, nil)
	c.Check(bytes.HasSuffix(buf.Bytes(), MagicBlock), check.Equals, true)

	r := NewReader(bytes.NewReader(buf.Bytes()), 0)
	got, err := io.ReadAll(r)
	c.Assert(err, check.Equals, nil)
	c.Check(bytes.Equal(got, want.Bytes()), check.Equals, true)
}

func (s *S) TestOffsetNormalization(c *check.C) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	first := make([]byte, BlockSize)
	for i := range first {
		first[i] = byte(i)
	}
	_, err := w.Write(first)
	c.Assert(err, check.Equals, nil)
	_, err = w.Write([]byte("tail"))
	c.Assert(err, check.Equals, nil)
	c.Assert(w.Close(), check.Equals, nil)

	r := NewReader(bytes.NewReader(buf.Bytes()), 0)
	c.Check(r.Offset(), check.Equals, Offset{File: 0, Block: 0})
	got := make([]byte, BlockSize)
	_, err = io.ReadFull(r, got)
	c.Assert(err, check.Equals, nil)
	// The cursor sits at the end of the first block; the reported
	// offset must be the start of the second.
	off := r.Offset()
	c.Check(off.Block, check.Equals, uint16(0))
	c.Check(off.File > 0, check.Equals, true)
}

func (s *S) TestWriterOffsetStable(c *check.C) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	_, err := w.Write([]byte("0123456789"))
	c.Assert(err, check.Equals, nil)
	mark := w.Offset()
	c.Check(mark, check.Equals, Offset{File: 0, Block: 10})
	_, err = w.Write([]byte("abcdef"))
	c.Assert(err, check.Equals, nil)
	c.Assert(w.Close(), check.Equals, nil)

	r := NewReader(bytes.NewReader(buf.Bytes()), 0)
	_, err = io.CopyN(io.Discard, r, 10)
	c.Assert(err, check.Equals, nil)
	c.Check(r.Offset().Packed(), check.Equals, mark.Packed())
	rest := make([]byte, 6)
	_, err = io.ReadFull(r, rest)
	c.Assert(err, check.Equals, nil)
	c.Check(string(rest), check.Equals, "abcdef")
}

func (s *S) TestPackedOffset(c *check.C) {
	for _, o := range []Offset{
		{File: 0, Block: 0},
		{File: 1, Block: 0},
		{File: 98765, Block: 43210},
		{File: 1 << 40, Block: 0xffff},
	} {
		c.Check(Unpack(o.Packed()), check.Equals, o)
	}
}

func (s *S) TestScanner(c *check.C) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	data := make([]byte, 3*BlockSize+100)
	for i := range data {
		data[i] = byte(i * 7)
	}
	_, err := w.Write(data)
	c.Assert(err, check.Equals, nil)
	c.Assert(w.Close(), check.Equals, nil)

	sc := NewScanner(bytes.NewReader(buf.Bytes()), 0)
	var blocks []Block
	for sc.Next() {
		blocks = append(blocks, sc.Block())
	}
	c.Assert(sc.Err(), check.Equals, nil)
	// Three full blocks, the remainder, and the EOF block.
	c.Assert(len(blocks), check.Equals, 5)
	var sum, isum int
	for i, b := range blocks {
		c.Check(b.File, check.Equals, int64(sum))
		sum += b.Frame
		isum += b.ISize
		if i < 3 {
			c.Check(b.ISize, check.Equals, BlockSize)
		}
	}
	c.Check(sum, check.Equals, buf.Len())
	c.Check(isum, check.Equals, len(data))
}

func (s *S) TestFindBlock(c *check.C) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	data := make([]byte, 4*BlockSize)
	for i := range data {
		data[i] = byte(i % 251)
	}
	_, err := w.Write(data)
	c.Assert(err, check.Equals, nil)
	c.Assert(w.Close(), check.Equals, nil)

	sc := NewScanner(bytes.NewReader(buf.Bytes()), 0)
	var starts []int64
	for sc.Next() {
		starts = append(starts, sc.Block().File)
	}
	c.Assert(sc.Err(), check.Equals, nil)

	ra := bytes.NewReader(buf.Bytes())
	limit := int64(buf.Len())
	for _, want := range starts {
		got, err := FindBlock(ra, want, limit, 2)
		c.Assert(err, check.Equals, nil)
		c.Check(got, check.Equals, want)
	}
	// From one past a block start the search lands on the next one.
	got, err := FindBlock(ra, starts[1]+1, limit, 2)
	c.Assert(err, check.Equals, nil)
	c.Check(got, check.Equals, starts[2])
}

func (s *S) TestHasEOF(c *check.C) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	_, err := w.Write([]byte("data"))
	c.Assert(err, check.Equals, nil)
	c.Assert(w.Close(), check.Equals, nil)

	ok, err := HasEOF(bytes.NewReader(buf.Bytes()))
	c.Assert(err, check.Equals, nil)
	c.Check(ok, check.Equals, true)

	trunc := buf.Bytes()[:buf.Len()-1]
	ok, err = HasEOF(bytes.NewReader(trunc))
	c.Assert(err, check.Equals, nil)
	c.Check(ok, check.Equals, false)
}

func (s *S) TestCorruptBlock(c *check.C) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	_, err := w.Write([]byte("payload bytes"))
	c.Assert(err, check.Equals, nil)
	c.Assert(w.Close(), check.Equals, nil)

	b := bytes.Clone(buf.Bytes())
	b[20] ^= 0xff
	r := NewReader(bytes.NewReader(b), 0)
	_, err = io.ReadAll(r)
	c.Check(errors.Is(err, ErrCorrupt), check.Equals, true)
}
