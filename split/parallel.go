// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package split

import (
	"bytes"
	"context"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/TedBrookings/split-reads/bgzf"
	"github.com/TedBrookings/split-reads/cram"
	"github.com/TedBrookings/split-reads/scan"
	"github.com/TedBrookings/split-reads/si"
	"github.com/TedBrookings/split-reads/source"
)

// workerQueue is the bounded per-worker group queue; walkers block
// on push once the merger falls behind.
const workerQueue = 256

// parallelCapable reports whether src can be walked by sharded
// workers: a seekable source in a self-delimiting block or container
// format, with no pass-through tee demanding a single sequential
// read.
func parallelCapable(src source.Source, v si.Variant, f scan.Framing, opts Options) bool {
	if opts.workers() < 2 || src.Size() < 0 || opts.PassThrough != "" {
		return false
	}
	return (v == si.BAM && f == scan.BGZF) || v == si.CRAM
}

// shard is one worker's assignment: records starting in
// [start, limit) in packed position space.
type shard struct {
	start bgzf.Offset
	limit uint64
}

// walkParallel fans shard walkers out over src and merges their
// ordered partial streams, stitching groups that straddle shard
// boundaries onto the left worker's side.
func walkParallel(ctx context.Context, src source.Source, variant si.Variant, opts Options, fn func(scan.Group) error) (*walkInfo, error) {
	size, hash, err := Fingerprint(ctx, src)
	if err != nil {
		return nil, err
	}
	info := &walkInfo{variant: variant, size: size, hash: hash}

	var shards []shard
	switch variant {
	case si.BAM:
		shards, err = bamShards(ctx, src, opts.workers())
	case si.CRAM:
		shards, err = cramShards(ctx, src, opts.workers())
	}
	if err != nil {
		return nil, err
	}
	if len(shards) == 0 {
		return info, nil
	}

	degraded := make([]bool, len(shards))
	chans := make([]chan scan.Group, len(shards))
	g, gctx := errgroup.WithContext(ctx)
	for i, sh := range shards {
		i, sh := i, sh
		ch := make(chan scan.Group, workerQueue)
		chans[i] = ch
		g.Go(func() error {
			defer close(ch)
			rc, err := src.OpenAt(gctx, sh.start.File)
			if err != nil {
				return err
			}
			defer rc.Close()
			var w scan.Walker
			switch variant {
			case si.BAM:
				w, err = scan.NewBAMShard(rc, sh.start.File, int(sh.start.Block), sh.limit)
			case si.CRAM:
				w, err = scan.NewCRAMShard(rc, sh.start.File, int64(sh.limit))
			}
			if err != nil {
				return err
			}
			for w.Next() {
				grp := w.Group()
				grp.Name = bytes.Clone(grp.Name)
				grp.LastName = bytes.Clone(grp.LastName)
				select {
				case ch <- grp:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if d, ok := w.(interface{ Degraded() bool }); ok {
				degraded[i] = d.Degraded()
			}
			return w.Err()
		})
	}

	merr := mergeShards(gctx, chans, info, opts, fn)
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if merr != nil {
		return nil, merr
	}
	for _, d := range degraded {
		info.degraded = info.degraded || d
	}
	return info, checkGrouping(info, opts)
}

// mergeShards consumes the worker channels in shard order, merging
// boundary groups whose names agree.
func mergeShards(ctx context.Context, chans []chan scan.Group, info *walkInfo, opts Options, fn func(scan.Group) error) error {
	var (
		check       groupCheck
		pending     scan.Group
		havePending bool
	)
	emit := func(g scan.Group) error {
		if len(g.Name) != 0 {
			check.observe(g.Hash)
		}
		info.records += g.Records
		info.groups += g.Groups
		if info.records/progressEvery != (info.records-g.Records)/progressEvery {
			opts.logf("walked %d records", info.records)
		}
		return fn(g)
	}
	for _, ch := range chans {
		for grp := range ch {
			if err := ctx.Err(); err != nil {
				return err
			}
			if havePending {
				if name := lastNameOf(pending); len(name) != 0 && bytes.Equal(name, grp.Name) {
					// The straddling group belongs to the left
					// worker's chunk.
					pending.End = grp.End
					pending.Records += grp.Records
					pending.Groups += grp.Groups - 1
					pending.LastName = lastNameOf(grp)
					continue
				}
				if err := emit(pending); err != nil {
					return err
				}
			}
			pending, havePending = grp, true
		}
	}
	if havePending {
		return emit(pending)
	}
	return nil
}

// lastNameOf returns the name of a group's final record, or nil
// when it is unknowable (degraded multi-group CRAM runs).
func lastNameOf(g scan.Group) []byte {
	if g.LastName != nil {
		return g.LastName
	}
	if g.Groups == 1 {
		return g.Name
	}
	return nil
}

// bamShards probes BGZF block boundaries near the even byte split
// points and resolves each to the first record boundary at or after
// it.
func bamShards(ctx context.Context, src source.Source, workers int) ([]shard, error) {
	rc, err := src.OpenAt(ctx, 0)
	if err != nil {
		return nil, err
	}
	_, refs, hdrEnd, err := scan.BAMHeader(rc)
	rc.Close()
	if err != nil {
		return nil, err
	}

	size := src.Size()
	first := bgzf.Unpack(hdrEnd)
	span := (size - first.File) / int64(workers)
	if span <= 0 {
		span = size - first.File
	}
	ra := source.NewReaderAt(ctx, src)

	var blocks []int64
	for i := 1; i < workers; i++ {
		b, err := bgzf.FindBlock(ra, first.File+int64(i)*span, size, 2)
		if err == io.EOF {
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(blocks) == 0 && b <= first.File || len(blocks) > 0 && b <= blocks[len(blocks)-1] {
			continue
		}
		blocks = append(blocks, b)
	}

	// Resolve each block boundary to a record boundary.
	starts := make([]bgzf.Offset, len(blocks))
	empty := make([]bool, len(blocks))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range blocks {
		i, b := i, b
		g.Go(func() error {
			rc, err := src.OpenAt(gctx, b)
			if err != nil {
				return err
			}
			defer rc.Close()
			off, err := scan.FindBAMRecord(rc, b, refs)
			if err == io.EOF {
				empty[i] = true
				return nil
			}
			if err != nil {
				return err
			}
			starts[i] = off
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	shards := []shard{{start: first}}
	for i := range starts {
		if empty[i] {
			continue
		}
		if starts[i].Packed() <= shards[len(shards)-1].start.Packed() {
			continue
		}
		shards = append(shards, shard{start: starts[i]})
	}
	for i := range shards[:len(shards)-1] {
		shards[i].limit = shards[i+1].start.Packed()
	}
	shards[len(shards)-1].limit = ^uint64(0)
	return shards, nil
}

// cramShards scans container spans through ranged reads and groups
// them into contiguous byte-balanced runs.
func cramShards(ctx context.Context, src source.Source, workers int) ([]shard, error) {
	spans, err := cram.ScanSpans(source.NewReaderAt(ctx, src), src.Size())
	if err != nil {
		return nil, err
	}
	// Drop the file header container and the EOF container.
	var data []cram.Span
	for i, sp := range spans {
		if i == 0 || sp.EOF {
			continue
		}
		data = append(data, sp)
	}
	if len(data) == 0 {
		return nil, nil
	}

	total := data[len(data)-1].End - data[0].Start
	per := total / int64(workers)
	var shards []shard
	runStart := data[0].Start
	var runBytes int64
	for i, sp := range data {
		runBytes += sp.End - sp.Start
		if runBytes >= per || i == len(data)-1 {
			shards = append(shards, shard{
				start: bgzf.Offset{File: runStart},
				limit: uint64(sp.End),
			})
			if i+1 < len(data) {
				runStart = data[i+1].Start
			}
			runBytes = 0
		}
	}
	return shards, nil
}
