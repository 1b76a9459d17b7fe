// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scan

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/TedBrookings/split-reads/bgzf"
)

// BAMHeader reads the BAM header prelude from the start of a BGZF
// stream, returning its raw uncompressed bytes, the reference count
// and the packed virtual offset of the first record.
func BAMHeader(r io.Reader) (header []byte, refs int, end uint64, err error) {
	w := &bamWalker{r: bgzf.NewReader(r, 0)}
	if err := w.readHeader(); err != nil {
		return nil, 0, 0, err
	}
	return w.header, w.refs, w.r.Offset().Packed(), nil
}

// discoverWindow bounds the inflated bytes examined when hunting for
// a record start within a shard.
const discoverWindow = 4 << 20

// chainDepth is the number of consecutive records that must parse
// for a candidate offset to be accepted.
const chainDepth = 4

// FindBAMRecord scans a BGZF stream beginning at block offset base
// for the first BAM record boundary, by validating a chain of
// plausible records against the reference count refs. Records can
// span blocks, so the boundary is not necessarily in the first
// block. It returns the boundary as a virtual offset.
//
// The validation is heuristic in the way record sharding of
// unindexed BAM has to be, but a false candidate must present
// chainDepth consecutive well-formed records to be accepted.
func FindBAMRecord(r io.Reader, base int64, refs int) (bgzf.Offset, error) {
	bg := bgzf.NewReader(r, base)
	var (
		buf    []byte
		starts []blockMark
	)
	for len(buf) < discoverWindow {
		pos := bg.Offset()
		b, err := bg.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return bgzf.Offset{}, err
		}
		if pos.Block == 0 {
			starts = append(starts, blockMark{index: len(buf), file: pos.File})
		}
		buf = append(buf, b)
	}
	return findInWindow(buf, starts, refs)
}

// blockMark maps an index in the inflated window to the block
// containing it.
type blockMark struct {
	index int
	file  int64
}

// findInWindow returns the virtual offset of the first index in buf
// that anchors a valid record chain.
func findInWindow(buf []byte, starts []blockMark, refs int) (bgzf.Offset, error) {
	if len(buf) == 0 {
		return bgzf.Offset{}, io.EOF
	}
	for i := 0; i+4 <= len(buf); i++ {
		if !chainsFrom(buf, i, refs) {
			continue
		}
		return offsetOf(i, starts), nil
	}
	return bgzf.Offset{}, fmt.Errorf("%w: no record boundary in shard window", ErrMalformedRecord)
}

// offsetOf converts an index in the inflated window to the virtual
// offset of that byte.
func offsetOf(i int, starts []blockMark) bgzf.Offset {
	var m blockMark
	for _, s := range starts {
		if s.index > i {
			break
		}
		m = s
	}
	return bgzf.Offset{File: m.file, Block: uint16(i - m.index)}
}

// chainsFrom reports whether chainDepth consecutive plausible
// records begin at i. A shorter chain of at least one record is
// accepted when it reaches the end of the window, whether exactly or
// with a final record running past it.
func chainsFrom(buf []byte, i, refs int) bool {
	for n := 0; n < chainDepth; n++ {
		if i == len(buf) {
			// A chain that ends exactly at the window edge is
			// accepted when it proved at least one record.
			return n > 0
		}
		if i+4 > len(buf) {
			return n > 0
		}
		size := int(int32(binary.LittleEndian.Uint32(buf[i:])))
		if size < bamFixedSize || size > 1<<27 {
			return false
		}
		rec := buf[i+4:]
		if len(rec) > size {
			rec = rec[:size]
		}
		if !plausibleRecord(rec, size, refs) {
			return false
		}
		i += 4 + size
		if i > len(buf) {
			// The record runs off the window with its visible
			// prefix passing inspection.
			return true
		}
	}
	return true
}

// plausibleRecord inspects the visible prefix of a record body
// against the BAM fixed field constraints.
func plausibleRecord(rec []byte, size, refs int) bool {
	if len(rec) < bamFixedSize {
		// Only the length was visible.
		return true
	}
	refID := int(int32(binary.LittleEndian.Uint32(rec[0:])))
	pos := int(int32(binary.LittleEndian.Uint32(rec[4:])))
	nameLen := int(rec[8])
	nCigar := int(binary.LittleEndian.Uint16(rec[12:]))
	seqLen := int(int32(binary.LittleEndian.Uint32(rec[16:])))
	nextRefID := int(int32(binary.LittleEndian.Uint32(rec[20:])))
	nextPos := int(int32(binary.LittleEndian.Uint32(rec[24:])))
	if refID < -1 || refID >= refs {
		return false
	}
	if nextRefID < -1 || nextRefID >= refs {
		return false
	}
	if pos < -1 || nextPos < -1 {
		return false
	}
	if nameLen == 0 || seqLen < 0 {
		return false
	}
	need := bamFixedSize + nameLen + 4*nCigar + (seqLen+1)/2 + seqLen
	if need > size {
		return false
	}
	if bamFixedSize+nameLen <= len(rec) && rec[bamFixedSize+nameLen-1] != 0 {
		return false
	}
	return true
}
