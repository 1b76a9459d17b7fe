// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scan

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"gopkg.in/check.v1"

	"github.com/TedBrookings/split-reads/htstestutil"
	"github.com/TedBrookings/split-reads/si"
)

func Test(t *testing.T) { check.TestingT(t) }

type S struct{}

var _ = check.Suite(&S{})

func walkAll(c *check.C, w Walker) []Group {
	var groups []Group
	for w.Next() {
		g := w.Group()
		g.Name = bytes.Clone(g.Name)
		g.LastName = bytes.Clone(g.LastName)
		groups = append(groups, g)
	}
	c.Assert(w.Err(), check.Equals, nil)
	return groups
}

func checkContiguous(c *check.C, groups []Group) {
	for i := 1; i < len(groups); i++ {
		c.Check(groups[i].Start, check.Equals, groups[i-1].End)
	}
}

func (s *S) TestProbe(c *check.C) {
	names := []string{"r1", "r2"}
	for _, tc := range []struct {
		label   string
		data    []byte
		variant si.Variant
		framing Framing
	}{
		{"bam", htstestutil.BAM(names, 0), si.BAM, BGZF},
		{"sam", htstestutil.SAM(names), si.SAM, Plain},
		{"sam bgzf", htstestutil.BGZF(htstestutil.SAM(names)), si.SAM, BGZF},
		{"fastq", htstestutil.FASTQ(names, false), si.FASTQ, Plain},
		{"fastq gzip", htstestutil.Gzip(htstestutil.FASTQ(names, false)), si.FASTQ, Gzip},
		{"fastq bgzf", htstestutil.BGZF(htstestutil.FASTQ(names, false)), si.FASTQ, BGZF},
		{"cram", htstestutil.CRAM([][]string{names}, false), si.CRAM, Plain},
	} {
		v, f, _, err := Probe(bytes.NewReader(tc.data))
		c.Assert(err, check.Equals, nil, check.Commentf(tc.label))
		c.Check(v, check.Equals, tc.variant, check.Commentf(tc.label))
		c.Check(f, check.Equals, tc.framing, check.Commentf(tc.label))
	}
}

func (s *S) TestProbeLongReadFASTQ(c *check.C) {
	// A single long read pushes the '+' separator past the probe
	// window; the quartet check alone cannot confirm FASTQ.
	var b bytes.Buffer
	b.WriteString("@movie/1/ccs\n")
	b.Write(bytes.Repeat([]byte("ACGT"), 1<<16))
	b.WriteString("\n+\n")
	b.Write(bytes.Repeat([]byte("~"), 4<<16))
	b.WriteString("\n")

	v, f, r, err := Probe(bytes.NewReader(b.Bytes()))
	c.Assert(err, check.Equals, nil)
	c.Check(v, check.Equals, si.FASTQ)
	c.Check(f, check.Equals, Plain)

	w, err := New(r, v, f)
	c.Assert(err, check.Equals, nil)
	groups := walkAll(c, w)
	c.Assert(len(groups), check.Equals, 1)
	c.Check(string(groups[0].Name), check.Equals, "movie/1/ccs")
	c.Check(groups[0].End, check.Equals, uint64(b.Len()))
}

func (s *S) TestProbeUnrecognized(c *check.C) {
	_, _, _, err := Probe(bytes.NewReader([]byte("not a read container at all\n")))
	c.Check(errors.Is(err, ErrUnsupportedVariant), check.Equals, true)
}

func (s *S) TestBAMWalkerGroups(c *check.C) {
	names := []string{"a", "a", "b", "c", "c", "c"}
	data := htstestutil.BAM(names, 0)
	v, f, r, err := Probe(bytes.NewReader(data))
	c.Assert(err, check.Equals, nil)
	w, err := New(r, v, f)
	c.Assert(err, check.Equals, nil)

	groups := walkAll(c, w)
	c.Assert(len(groups), check.Equals, 3)
	c.Check(string(groups[0].Name), check.Equals, "a")
	c.Check(groups[0].Records, check.Equals, uint64(2))
	c.Check(string(groups[1].Name), check.Equals, "b")
	c.Check(groups[1].Records, check.Equals, uint64(1))
	c.Check(string(groups[2].Name), check.Equals, "c")
	c.Check(groups[2].Records, check.Equals, uint64(3))
	checkContiguous(c, groups)
	c.Check(len(w.Header()) > 0, check.Equals, true)
	c.Check(bytes.HasPrefix(w.Header(), []byte("BAM\x01")), check.Equals, true)
}

func (s *S) TestBAMWalkerBlockAligned(c *check.C) {
	names := []string{"a", "b", "c", "d"}
	data := htstestutil.BAM(names, 1) // one record per block
	v, f, r, err := Probe(bytes.NewReader(data))
	c.Assert(err, check.Equals, nil)
	w, err := New(r, v, f)
	c.Assert(err, check.Equals, nil)

	groups := walkAll(c, w)
	c.Assert(len(groups), check.Equals, 4)
	checkContiguous(c, groups)
	// Records were flushed per block, so every group bound after
	// the first lands on a block start: zero uoffset.
	for _, g := range groups[1:] {
		c.Check(g.Start&0xffff, check.Equals, uint64(0))
	}
}

func (s *S) TestSAMWalker(c *check.C) {
	names := []string{"q1", "q1", "q2"}
	data := htstestutil.SAM(names)
	v, f, r, err := Probe(bytes.NewReader(data))
	c.Assert(err, check.Equals, nil)
	w, err := New(r, v, f)
	c.Assert(err, check.Equals, nil)

	groups := walkAll(c, w)
	c.Assert(len(groups), check.Equals, 2)
	c.Check(groups[0].Records, check.Equals, uint64(2))
	c.Check(groups[1].Records, check.Equals, uint64(1))
	checkContiguous(c, groups)
	c.Check(string(w.Header()), check.Equals, htstestutil.SAMHeaderText)
	// Positions are byte offsets bracketing the record region.
	c.Check(groups[0].Start, check.Equals, uint64(len(htstestutil.SAMHeaderText)))
	c.Check(groups[1].End, check.Equals, uint64(len(data)))
}

func (s *S) TestFASTQWalkerPaired(c *check.C) {
	names := []string{"p1", "p2", "p3"}
	data := htstestutil.FASTQ(names, true)
	v, f, r, err := Probe(bytes.NewReader(data))
	c.Assert(err, check.Equals, nil)
	w, err := New(r, v, f)
	c.Assert(err, check.Equals, nil)

	groups := walkAll(c, w)
	c.Assert(len(groups), check.Equals, 3)
	for i, g := range groups {
		c.Check(string(g.Name), check.Equals, names[i])
		c.Check(g.Records, check.Equals, uint64(2))
	}
	checkContiguous(c, groups)
	c.Check(w.Paired(), check.Equals, true)
	c.Check(groups[0].Start, check.Equals, uint64(0))
	c.Check(groups[2].End, check.Equals, uint64(len(data)))
}

func (s *S) TestFASTQWalkerGzipPositions(c *check.C) {
	names := []string{"x", "y"}
	plain := htstestutil.FASTQ(names, false)
	data := htstestutil.Gzip(plain)
	v, f, r, err := Probe(bytes.NewReader(data))
	c.Assert(err, check.Equals, nil)
	w, err := New(r, v, f)
	c.Assert(err, check.Equals, nil)

	groups := walkAll(c, w)
	c.Assert(len(groups), check.Equals, 2)
	// Positions address the inflated stream.
	c.Check(groups[0].Start, check.Equals, uint64(0))
	c.Check(groups[1].End, check.Equals, uint64(len(plain)))
}

func (s *S) TestFASTQMalformed(c *check.C) {
	_, _, r, err := Probe(bytes.NewReader([]byte("@r1\nACGT\n+\nFF")))
	c.Assert(err, check.Equals, nil)
	w, err := New(r, si.FASTQ, Plain)
	c.Assert(err, check.Equals, nil)
	w.Next()
	// The final quality line is unterminated but present; a cut
	// inside the quartet is the error case.
	_, _, r, err = Probe(bytes.NewReader([]byte("@r1\nACGT\n+\nFFFF\n@r2\nAC")))
	c.Assert(err, check.Equals, nil)
	w, err = New(r, si.FASTQ, Plain)
	c.Assert(err, check.Equals, nil)
	for w.Next() {
	}
	c.Check(errors.Is(w.Err(), ErrUnexpectedEOF), check.Equals, true)
}

func (s *S) TestCRAMWalkerMergesBoundaryGroups(c *check.C) {
	data := htstestutil.CRAM([][]string{
		{"a", "a"},
		{"b"},
		{"b", "c"},
	}, false)
	v, f, r, err := Probe(bytes.NewReader(data))
	c.Assert(err, check.Equals, nil)
	w, err := New(r, v, f)
	c.Assert(err, check.Equals, nil)

	groups := walkAll(c, w)
	c.Assert(len(groups), check.Equals, 2)
	c.Check(string(groups[0].Name), check.Equals, "a")
	c.Check(groups[0].Records, check.Equals, uint64(2))
	c.Check(groups[0].Groups, check.Equals, uint64(1))
	// Containers two and three share group b and walk as one run.
	c.Check(string(groups[1].Name), check.Equals, "b")
	c.Check(groups[1].Records, check.Equals, uint64(3))
	c.Check(groups[1].Groups, check.Equals, uint64(2))
	c.Check(string(groups[1].LastName), check.Equals, "c")
	checkContiguous(c, groups)
}

func (s *S) TestCRAMWalkerDegraded(c *check.C) {
	data := htstestutil.CRAM([][]string{
		{"a", "a"},
		{"b", "c"},
	}, true)
	v, f, r, err := Probe(bytes.NewReader(data))
	c.Assert(err, check.Equals, nil)
	w, err := New(r, v, f)
	c.Assert(err, check.Equals, nil)

	groups := walkAll(c, w)
	c.Assert(len(groups), check.Equals, 2)
	c.Check(groups[0].Groups, check.Equals, uint64(2))
	c.Check(groups[1].Groups, check.Equals, uint64(2))
	c.Check(w.(*cramWalker).Degraded(), check.Equals, true)
}

func (s *S) TestBAMHeader(c *check.C) {
	data := htstestutil.BAM([]string{"a", "b"}, 0)
	header, refs, end, err := BAMHeader(bytes.NewReader(data))
	c.Assert(err, check.Equals, nil)
	c.Check(header, check.DeepEquals, htstestutil.BAMHeader())
	c.Check(refs, check.Equals, 0)

	// The first record group starts exactly at the header's end.
	v, f, r, err := Probe(bytes.NewReader(data))
	c.Assert(err, check.Equals, nil)
	w, err := New(r, v, f)
	c.Assert(err, check.Equals, nil)
	groups := walkAll(c, w)
	c.Check(groups[0].Start, check.Equals, end)
}

func (s *S) TestFindBAMRecord(c *check.C) {
	var names []string
	for i := 0; i < 200; i++ {
		names = append(names, "read."+string(rune('a'+i%26))+string(rune('a'+i/26)))
	}
	data := htstestutil.BAM(names, 7)

	v, f, r, err := Probe(bytes.NewReader(data))
	c.Assert(err, check.Equals, nil)
	w, err := New(r, v, f)
	c.Assert(err, check.Equals, nil)
	groups := walkAll(c, w)
	c.Assert(len(groups), check.Equals, len(names))

	// From the enclosing block's start the finder reports the
	// block's first record, which for block-aligned groups is the
	// group start itself.
	for _, i := range []int{0, 49, 196} {
		g := groups[i]
		file := int64(g.Start >> 16)
		sub := bytes.NewReader(data[file:])
		off, err := FindBAMRecord(sub, file, 0)
		c.Assert(err, check.Equals, nil)
		c.Check(off.Packed(), check.Equals, g.Start, check.Commentf("group %d", i))
	}
	// For a group in the middle of a block, the search from that
	// block's start resolves to the block's first record boundary.
	g := groups[52]
	file := int64(g.Start >> 16)
	off, err := FindBAMRecord(bytes.NewReader(data[file:]), file, 0)
	c.Assert(err, check.Equals, nil)
	c.Check(off.Packed(), check.Equals, groups[49].Start)
}

func (s *S) TestShardWalkerLimit(c *check.C) {
	names := []string{"a", "b", "c", "d", "e", "f"}
	data := htstestutil.BAM(names, 1)
	v, f, r, err := Probe(bytes.NewReader(data))
	c.Assert(err, check.Equals, nil)
	w, err := New(r, v, f)
	c.Assert(err, check.Equals, nil)
	groups := walkAll(c, w)
	c.Assert(len(groups), check.Equals, 6)

	// A shard bounded by group 3's start sees exactly groups 1-2
	// of the records after its base.
	base := int64(groups[1].Start >> 16)
	sw, err := NewBAMShard(bytes.NewReader(data[base:]), base, 0, groups[3].Start)
	c.Assert(err, check.Equals, nil)
	var got []string
	for sw.Next() {
		got = append(got, string(sw.Group().Name))
	}
	c.Assert(sw.Err(), check.Equals, nil)
	c.Check(got, check.DeepEquals, []string{"b", "c"})
}

func (s *S) TestTruncatedBAM(c *check.C) {
	data := htstestutil.BAM([]string{"a", "b"}, 0)
	// Rebuild with the final record cut mid-body, inside the
	// inflated stream.
	var payload bytes.Buffer
	payload.Write(htstestutil.BAMHeader())
	payload.Write(htstestutil.BAMRecord("a"))
	rec := htstestutil.BAMRecord("b")
	payload.Write(rec[:len(rec)-3])
	data = htstestutil.BGZF(payload.Bytes())

	v, f, r, err := Probe(bytes.NewReader(data))
	c.Assert(err, check.Equals, nil)
	w, err := New(r, v, f)
	c.Assert(err, check.Equals, nil)
	for w.Next() {
	}
	c.Check(errors.Is(w.Err(), ErrUnexpectedEOF), check.Equals, true)
}

func (s *S) TestReadLine(c *check.C) {
	p, err := posReaderFor(bytes.NewReader([]byte("one\ntwo\nthree")), Plain)
	c.Assert(err, check.Equals, nil)
	for _, want := range []string{"one", "two", "three"} {
		line, err := readLine(p, nil)
		c.Assert(err, check.Equals, nil)
		c.Check(string(line), check.Equals, want)
	}
	_, err = readLine(p, nil)
	c.Check(err, check.Equals, io.EOF)
}
