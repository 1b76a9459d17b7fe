// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scan implements record walking over the supported read
// container formats. A walker streams a file once and emits the
// positions of its query groups: maximal runs of consecutive records
// sharing a read name. Record bytes are never retained; the walker
// keeps only the previous name to detect transitions, so memory is
// constant regardless of group size.
package scan

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/dchest/siphash"

	"github.com/TedBrookings/split-reads/si"
)

var (
	// ErrMalformedRecord is returned when record structure cannot
	// be parsed.
	ErrMalformedRecord = errors.New("scan: malformed record")

	// ErrUnexpectedEOF is returned when a stream ends inside a
	// record.
	ErrUnexpectedEOF = errors.New("scan: unexpected end of file")

	// ErrUnsupportedVariant is returned when the container format
	// cannot be identified or walked.
	ErrUnsupportedVariant = errors.New("scan: unsupported container variant")
)

// Group is one walker tuple: a maximal run of records that must stay
// within a single chunk. For SAM, BAM and FASTQ this is exactly one
// query group. For CRAM it is a run of whole containers whose edges
// do not split a query group.
type Group struct {
	// Name is the query name of the first record of the run and
	// Hash its 64-bit hash.
	Name []byte
	Hash uint64

	// LastName is the query name of the final record of a CRAM run
	// whose names were decoded, set for single- and multi-group runs
	// alike. It is nil for SAM, BAM and FASTQ groups, whose records
	// all carry Name, and for CRAM runs with undecodable names.
	LastName []byte

	// Start and End delimit the run in packed position space:
	// virtual offsets for BGZF-framed sources, byte offsets
	// otherwise.
	Start uint64
	End   uint64

	Records uint64
	Groups  uint64
}

// Walker streams the query groups of a record stream in file order.
// The sequence is lazy, finite and not restartable.
type Walker interface {
	// Next advances to the next group, returning false at the end
	// of the stream or on error.
	Next() bool

	// Group returns the current group. It is only valid after a
	// previous call to Next has returned true, and only until the
	// following call.
	Group() Group

	// Err returns the first error encountered.
	Err() error

	// Header returns the uncompressed header prelude observed
	// before the first record. It is nil for formats without one,
	// for shard walkers, and for CRAM, whose walker does not retain
	// the file definition and header container.
	Header() []byte

	// Paired reports whether the input was detected as
	// interleaved paired-end FASTQ.
	Paired() bool
}

// New returns a Walker for the probed variant and framing, reading
// from the start of r.
func New(r io.Reader, v si.Variant, f Framing) (Walker, error) {
	switch v {
	case si.BAM:
		return newBAMWalker(r, 0, true, maxPos)
	case si.SAM:
		return newSAMWalker(posReaderFor(r, f))
	case si.FASTQ:
		return newFASTQWalker(posReaderFor(r, f))
	case si.CRAM:
		return newCRAMWalker(r, 0, maxPos)
	default:
		return nil, fmt.Errorf("%w: variant %v", ErrUnsupportedVariant, v)
	}
}

// NewBAMShard returns a Walker over the BAM records of a BGZF shard.
// r must be positioned at the block starting at file offset base;
// skip uncompressed bytes are discarded before the first record, as
// located by FindBAMRecord. Records starting at or beyond the packed
// virtual offset limit are not reported; boundary groups may be
// partial at both shard edges and are stitched by the caller.
func NewBAMShard(r io.Reader, base int64, skip int, limit uint64) (Walker, error) {
	w, err := newBAMWalker(r, base, false, limit)
	if err != nil {
		return nil, err
	}
	if skip > 0 {
		if _, err := io.CopyN(io.Discard, w.r, int64(skip)); err != nil {
			return nil, fmt.Errorf("%w: shard shorter than record offset", ErrUnexpectedEOF)
		}
	}
	return w, nil
}

// NewCRAMShard returns a Walker over the containers of a CRAM shard
// beginning at container offset base, not reporting containers
// starting at or beyond limit.
func NewCRAMShard(r io.Reader, base, limit int64) (Walker, error) {
	return newCRAMWalker(r, base, uint64(limit))
}

const maxPos = ^uint64(0)

// Key for the read name hash. The hash is only used to cheapen
// consecutive name comparisons and never leaves the process, so a
// fixed key is fine.
const (
	hashK0 = 0x7363616e2e71686b
	hashK1 = 0x73706c6974726561
)

func hashName(name []byte) uint64 {
	return siphash.Hash(hashK0, hashK1, name)
}

// grouper accumulates records into groups, emitting a finished group
// on every name transition. It is shared by the SAM, BAM and FASTQ
// walkers.
type grouper struct {
	cur     Group
	out     Group
	started bool
}

// add folds one record spanning [start, end) into the accumulator.
// It returns true when a group finished, making it available from
// take.
func (g *grouper) add(name []byte, start, end uint64) bool {
	h := hashName(name)
	if g.started && h == g.cur.Hash && bytes.Equal(name, g.cur.Name) {
		g.cur.End = end
		g.cur.Records++
		return false
	}
	done := g.started
	if done {
		g.out = g.cur
	}
	g.cur = Group{
		Name:    append(g.cur.Name[len(g.cur.Name):], name...),
		Hash:    h,
		Start:   start,
		End:     end,
		Records: 1,
		Groups:  1,
	}
	g.started = true
	return done
}

// flush emits the open group at end of stream. It returns false when
// no records were seen.
func (g *grouper) flush() bool {
	if !g.started {
		return false
	}
	g.out = g.cur
	g.started = false
	return true
}

func (g *grouper) take() Group { return g.out }
