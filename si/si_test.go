// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package si

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kortschak/utter"
	"gopkg.in/check.v1"
)

func Test(t *testing.T) { check.TestingT(t) }

type S struct{}

var _ = check.Suite(&S{})

func testIndex() *Index {
	idx := &Index{
		Variant: BAM,
		Flags:   PassThrough,

		SourceSize: 123456,
		Records:    10,
		Groups:     4,
		Chunks: []Chunk{
			{Start: 100 << 16, End: 2000 << 16, Records: 6, Groups: 2, FirstName: []byte("read.1")},
			{Start: 2000 << 16, End: 3000<<16 | 42, Records: 3, Groups: 1, FirstName: []byte("read.3")},
			{Start: 3000<<16 | 42, End: 4000 << 16, Records: 1, Groups: 1, FirstName: []byte("read.4")},
		},
	}
	for i := range idx.SourceHash {
		idx.SourceHash[i] = byte(i * 3)
	}
	return idx
}

func (s *S) TestRoundTrip(c *check.C) {
	want := testIndex()
	var buf bytes.Buffer
	c.Assert(Write(&buf, want), check.Equals, nil)

	got, err := Read(bytes.NewReader(buf.Bytes()))
	c.Assert(err, check.Equals, nil)
	if !c.Check(got, check.DeepEquals, want) {
		c.Logf("got: %s", utter.Sdump(got))
	}
}

func (s *S) TestDeterministic(c *check.C) {
	idx := testIndex()
	var a, b bytes.Buffer
	c.Assert(Write(&a, idx), check.Equals, nil)
	c.Assert(Write(&b, idx), check.Equals, nil)
	c.Check(bytes.Equal(a.Bytes(), b.Bytes()), check.Equals, true)
}

func (s *S) TestBadMagic(c *check.C) {
	var buf bytes.Buffer
	c.Assert(Write(&buf, testIndex()), check.Equals, nil)
	b := buf.Bytes()
	b[0] = 'X'
	_, err := Read(bytes.NewReader(b))
	c.Check(errors.Is(err, ErrCorruptIndex), check.Equals, true)
}

func (s *S) TestFlippedChunkBound(c *check.C) {
	var buf bytes.Buffer
	c.Assert(Write(&buf, testIndex()), check.Equals, nil)
	b := buf.Bytes()
	// Flip a byte of the first chunk's end_pos: the checksum must
	// catch it before any structural check.
	off := len(Magic) + 2 + 2 + 1 + 3 + 8 + 32 + 8 + 8 + 4 + 8
	b[off] ^= 0xff
	_, err := Read(bytes.NewReader(b))
	c.Check(errors.Is(err, ErrCorruptIndex), check.Equals, true)
}

func (s *S) TestTruncated(c *check.C) {
	var buf bytes.Buffer
	c.Assert(Write(&buf, testIndex()), check.Equals, nil)
	for _, n := range []int{0, 1, 8, 16, 60, buf.Len() - 1} {
		_, err := Read(bytes.NewReader(buf.Bytes()[:n]))
		c.Check(errors.Is(err, ErrCorruptIndex), check.Equals, true, check.Commentf("len %d", n))
	}
}

func (s *S) TestValidate(c *check.C) {
	for _, tc := range []struct {
		name   string
		mutate func(*Index)
	}{
		{"gap", func(idx *Index) { idx.Chunks[1].Start++ }},
		{"reversed span", func(idx *Index) { idx.Chunks[2].End = idx.Chunks[2].Start }},
		{"record sum", func(idx *Index) { idx.Records++ }},
		{"group sum", func(idx *Index) { idx.Chunks[0].Groups++ }},
		{"no chunks", func(idx *Index) { idx.Chunks = nil }},
	} {
		idx := testIndex()
		tc.mutate(idx)
		c.Check(errors.Is(idx.Validate(), ErrCorruptIndex), check.Equals, true, check.Commentf(tc.name))
	}
	c.Check(testIndex().Validate(), check.Equals, nil)
}

func (s *S) TestWriteFileAtomic(c *check.C) {
	dir := c.MkDir()
	path := filepath.Join(dir, "x.bam.si")
	c.Assert(WriteFile(path, testIndex()), check.Equals, nil)

	got, err := ReadFile(path)
	c.Assert(err, check.Equals, nil)
	c.Check(got, check.DeepEquals, testIndex())

	// No temporary files left behind.
	ents, err := os.ReadDir(dir)
	c.Assert(err, check.Equals, nil)
	c.Assert(len(ents), check.Equals, 1)
	c.Check(ents[0].Name(), check.Equals, "x.bam.si")
}
