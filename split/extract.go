// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package split

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/TedBrookings/split-reads/bgzf"
	"github.com/TedBrookings/split-reads/cram"
	"github.com/TedBrookings/split-reads/scan"
	"github.com/TedBrookings/split-reads/si"
	"github.com/TedBrookings/split-reads/source"
)

// extractState tracks the per-chunk emission lifecycle.
type extractState uint8

const (
	stOpened extractState = iota
	stHeaderEmitted
	stPayloadStreaming
	stTrailerEmitted
	stClosed
	stFailed
)

// Extract emits chunk c of n as a standalone file of the source's
// container type: the header prelude, the chunk's raw records, and
// the variant trailer. No byte is written before the source is
// verified against the index fingerprint and, for BAM and
// uncompressed SAM or FASTQ, against the planned chunk's first query
// name; other sources are not checked by name.
func Extract(ctx context.Context, src source.Source, idx *si.Index, c, n int, w io.Writer) error {
	size, hash, err := Fingerprint(ctx, src)
	if err != nil {
		return err
	}
	if size != idx.SourceSize || hash != idx.SourceHash {
		return fmt.Errorf("%w: %s fingerprint differs from indexed source", ErrIndexSourceMismatch, src.Name())
	}
	plan, err := PlanChunk(idx, c, n)
	if err != nil {
		return err
	}

	variant, framing, err := probeSource(ctx, src)
	if err != nil {
		return err
	}
	if variant != idx.Variant {
		return fmt.Errorf("%w: source is %v, index describes %v", ErrIndexSourceMismatch, variant, idx.Variant)
	}
	if err := verifyFirstName(ctx, src, idx, framing, plan); err != nil {
		return err
	}

	e := &extractor{ctx: ctx, src: src, idx: idx, w: w}
	switch {
	case variant == si.BAM || framing == scan.BGZF:
		err = e.emitBGZF(plan)
	case framing == scan.Gzip:
		err = e.emitGzip(plan)
	case variant == si.CRAM:
		err = e.emitCRAM(plan)
	default:
		err = e.emitPlain(plan)
	}
	if err != nil {
		e.state = stFailed
		return err
	}
	e.step(stClosed)
	return nil
}

// extractor streams one chunk to w.
type extractor struct {
	ctx   context.Context
	src   source.Source
	idx   *si.Index
	w     io.Writer
	state extractState
}

// step advances the emission lifecycle one state at a time; a skip
// is a programming error.
func (e *extractor) step(s extractState) {
	if s != e.state+1 {
		panic(fmt.Sprintf("split: extractor state %d -> %d", e.state, s))
	}
	e.state = s
}

// payloadStart is the position where records begin: everything
// before it is the header prelude.
func (e *extractor) payloadStart() uint64 { return e.idx.Chunks[0].Start }

// emitPlain serves uncompressed SAM and FASTQ: plain byte ranges.
func (e *extractor) emitPlain(plan Plan) error {
	if err := e.copyRange(0, int64(e.payloadStart())); err != nil {
		return err
	}
	e.step(stHeaderEmitted)
	e.step(stPayloadStreaming)
	if err := e.copyRange(int64(plan.Start), int64(plan.End)); err != nil {
		return err
	}
	e.step(stTrailerEmitted)
	return nil
}

// emitCRAM copies the file definition and header container, the
// chunk's containers verbatim, and the EOF container.
func (e *extractor) emitCRAM(plan Plan) error {
	if err := e.copyRange(0, int64(e.payloadStart())); err != nil {
		return err
	}
	e.step(stHeaderEmitted)
	e.step(stPayloadStreaming)
	if err := e.copyRange(int64(plan.Start), int64(plan.End)); err != nil {
		return err
	}
	if _, err := e.w.Write(cram.EOFMarker); err != nil {
		return err
	}
	e.step(stTrailerEmitted)
	return nil
}

// emitBGZF serves all BGZF-framed sources. Block-aligned bounds are
// served by verbatim frame copies; a bound inside a block inflates
// that one block and re-deflates the wanted span.
func (e *extractor) emitBGZF(plan Plan) error {
	if err := e.copyVirtual(bgzf.Offset{}, bgzf.Unpack(e.payloadStart())); err != nil {
		return err
	}
	e.step(stHeaderEmitted)
	e.step(stPayloadStreaming)
	if err := e.copyVirtual(bgzf.Unpack(plan.Start), bgzf.Unpack(plan.End)); err != nil {
		return err
	}
	if _, err := e.w.Write(bgzf.MagicBlock); err != nil {
		return err
	}
	e.step(stTrailerEmitted)
	return nil
}

// emitGzip serves single-member gzip sources, whose positions are
// uncompressed offsets: the stream is re-inflated from the start and
// the selected spans re-deflated.
func (e *extractor) emitGzip(plan Plan) error {
	rc, err := e.src.OpenAt(e.ctx, 0)
	if err != nil {
		return err
	}
	defer rc.Close()
	gz, err := gzip.NewReader(rc)
	if err != nil {
		return err
	}
	defer gz.Close()

	gw := gzip.NewWriter(e.w)
	if hdr := int64(e.payloadStart()); hdr > 0 {
		if _, err := io.CopyN(gw, gz, hdr); err != nil {
			return err
		}
	}
	e.step(stHeaderEmitted)
	e.step(stPayloadStreaming)
	if _, err := io.CopyN(io.Discard, gz, int64(plan.Start-e.payloadStart())); err != nil {
		return err
	}
	if _, err := io.CopyN(gw, gz, int64(plan.End-plan.Start)); err != nil {
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	e.step(stTrailerEmitted)
	return nil
}

// copyRange copies source bytes [from, to) to the output.
func (e *extractor) copyRange(from, to int64) error {
	if from >= to {
		return nil
	}
	rc, err := e.src.OpenAt(e.ctx, from)
	if err != nil {
		return err
	}
	defer rc.Close()
	if _, err := io.CopyN(e.w, rc, to-from); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("source truncated under index: %w", err)
	}
	return nil
}

// copyVirtual copies the BGZF payload span [from, to) to the output,
// re-deflating the partial block at either bound when it does not
// fall on a block edge.
func (e *extractor) copyVirtual(from, to bgzf.Offset) error {
	if from.Packed() >= to.Packed() {
		return nil
	}
	if from.File == to.File {
		// Both bounds inside one block.
		data, _, err := e.inflateAt(from.File)
		if err != nil {
			return err
		}
		if int(to.Block) > len(data) {
			return fmt.Errorf("source truncated under index: %w", io.ErrUnexpectedEOF)
		}
		return e.deflate(data[from.Block:to.Block])
	}

	head := from.File
	if from.Block != 0 {
		data, frame, err := e.inflateAt(from.File)
		if err != nil {
			return err
		}
		if int(from.Block) > len(data) {
			return fmt.Errorf("source truncated under index: %w", io.ErrUnexpectedEOF)
		}
		if err := e.deflate(data[from.Block:]); err != nil {
			return err
		}
		head = from.File + int64(frame)
	}
	if err := e.copyRange(head, to.File); err != nil {
		return err
	}
	if to.Block != 0 {
		data, _, err := e.inflateAt(to.File)
		if err != nil {
			return err
		}
		if int(to.Block) > len(data) {
			return fmt.Errorf("source truncated under index: %w", io.ErrUnexpectedEOF)
		}
		return e.deflate(data[:to.Block])
	}
	return nil
}

// inflateAt inflates the single block at file offset off.
func (e *extractor) inflateAt(off int64) (data []byte, frame int, err error) {
	rc, err := e.src.OpenAt(e.ctx, off)
	if err != nil {
		return nil, 0, err
	}
	defer rc.Close()
	frame, data, err = bgzf.InflateBlock(rc)
	return data, frame, err
}

// deflate writes b as freshly compressed whole blocks.
func (e *extractor) deflate(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	bw := bgzf.NewWriter(e.w)
	if _, err := bw.Write(b); err != nil {
		return err
	}
	return bw.Flush()
}

// probeSource identifies the variant and framing of the source from
// a positioned read of its prefix.
func probeSource(ctx context.Context, src source.Source) (si.Variant, scan.Framing, error) {
	rc, err := src.OpenAt(ctx, 0)
	if err != nil {
		return 0, 0, err
	}
	defer rc.Close()
	v, f, _, err := scan.Probe(rc)
	return v, f, err
}

// verifyFirstName cross-checks the stored first query name of the
// planned chunk against the record bytes actually found at its start
// position, where that is cheap: BAM, and uncompressed SAM or FASTQ.
func verifyFirstName(ctx context.Context, src source.Source, idx *si.Index, framing scan.Framing, plan Plan) error {
	if len(plan.FirstName) == 0 {
		return nil
	}
	var (
		got []byte
		err error
	)
	switch {
	case idx.Variant == si.BAM:
		got, err = firstBAMName(ctx, src, bgzf.Unpack(plan.Start))
	case framing == scan.Plain && (idx.Variant == si.SAM || idx.Variant == si.FASTQ):
		got, err = firstTextName(ctx, src, idx.Variant, int64(plan.Start))
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: cannot read first record of chunk: %v", ErrIndexSourceMismatch, err)
	}
	if !bytes.Equal(got, plan.FirstName) {
		return fmt.Errorf("%w: first query name %q, index stores %q", ErrIndexSourceMismatch, got, plan.FirstName)
	}
	return nil
}

func firstBAMName(ctx context.Context, src source.Source, off bgzf.Offset) ([]byte, error) {
	rc, err := src.OpenAt(ctx, off.File)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	w, err := scan.NewBAMShard(rc, off.File, int(off.Block), ^uint64(0))
	if err != nil {
		return nil, err
	}
	if !w.Next() {
		if err := w.Err(); err != nil {
			return nil, err
		}
		return nil, io.ErrUnexpectedEOF
	}
	return w.Group().Name, nil
}

func firstTextName(ctx context.Context, src source.Source, v si.Variant, off int64) ([]byte, error) {
	rc, err := src.OpenAt(ctx, off)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	w, err := scan.New(rc, v, scan.Plain)
	if err != nil {
		return nil, err
	}
	if !w.Next() {
		if err := w.Err(); err != nil {
			return nil, err
		}
		return nil, io.ErrUnexpectedEOF
	}
	return w.Group().Name, nil
}
