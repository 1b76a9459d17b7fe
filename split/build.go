// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package split

import (
	"bufio"
	"context"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/TedBrookings/split-reads/scan"
	"github.com/TedBrookings/split-reads/si"
	"github.com/TedBrookings/split-reads/source"
)

// progressEvery is the record interval between progress log lines.
const progressEvery = 10_000_000

// Build walks src and returns its split index. With
// Options.PassThrough set, the source bytes are simultaneously
// forwarded to the sink file and the index describes the sink.
func Build(ctx context.Context, src source.Source, opts Options) (*si.Index, error) {
	if opts.PassThrough != "" {
		return buildTee(ctx, src, opts)
	}
	if opts.TargetChunks > 0 && src.Size() >= 0 {
		return buildTwoPass(ctx, src, opts)
	}
	return buildSinglePass(ctx, src, opts)
}

// buildSinglePass runs one walk, closing chunks as the target is
// reached.
func buildSinglePass(ctx context.Context, src source.Source, opts Options) (*si.Index, error) {
	k := newChunker(opts, nil)
	r, done, err := sequentialStream(ctx, src)
	if err != nil {
		return nil, err
	}
	defer done()
	info, err := walk(ctx, src, r, opts, k.add)
	if err != nil {
		return nil, err
	}
	return finishIndex(info, k, opts, 0)
}

// sequentialStream returns a stream over src from its start. A
// seekable source gets a fresh positioned open so that building does
// not consume the primary stream; a pipe has only the primary
// stream.
func sequentialStream(ctx context.Context, src source.Source) (io.Reader, func(), error) {
	if src.Size() < 0 {
		return src, func() {}, nil
	}
	rc, err := src.OpenAt(ctx, 0)
	if err != nil {
		return nil, nil, err
	}
	return rc, func() { rc.Close() }, nil
}

// buildTwoPass counts records first and then emits boundaries at
// i*total/N, snapped forward to group ends.
func buildTwoPass(ctx context.Context, src source.Source, opts Options) (*si.Index, error) {
	r, done, err := sequentialStream(ctx, src)
	if err != nil {
		return nil, err
	}
	var total uint64
	_, err = walk(ctx, src, r, opts, func(g scan.Group) error {
		total += g.Records
		return nil
	})
	done()
	if err != nil {
		return nil, err
	}
	n := uint64(opts.TargetChunks)
	boundaries := make([]uint64, 0, n)
	for i := uint64(1); i < n; i++ {
		boundaries = append(boundaries, i*total/n)
	}
	boundaries = append(boundaries, total)

	k := newChunker(opts, boundaries)
	rc, err := src.OpenAt(ctx, 0)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	info, err := walk(ctx, src, rc, opts, k.add)
	if err != nil {
		return nil, err
	}
	return finishIndex(info, k, opts, 0)
}

// buildTee runs a single serial walk while forwarding every source
// byte to the pass-through sink. The forwarded copy is
// byte-identical, so sink positions equal the positions the walk
// observes; the sink file is still the one fingerprinted and named
// by the index. The sink write is atomic unless it goes to standard
// output.
func buildTee(ctx context.Context, src source.Source, opts Options) (idx *si.Index, err error) {
	var (
		sink *bufio.Writer
		tmp  string
		f    *os.File
	)
	if opts.PassThrough == "-" {
		sink = bufio.NewWriter(os.Stdout)
	} else {
		dir, base := filepath.Split(opts.PassThrough)
		tmp = filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", base, uuid.NewString()))
		f, err = os.Create(tmp)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err != nil {
				f.Close()
				os.Remove(tmp)
			}
		}()
		sink = bufio.NewWriter(f)
	}

	k := newChunker(opts, nil)
	info, err := walk(ctx, src, io.TeeReader(src, sink), opts, k.add)
	if err != nil {
		return nil, err
	}
	if err = sink.Flush(); err != nil {
		return nil, err
	}
	if f != nil {
		if err = f.Sync(); err != nil {
			return nil, err
		}
		if err = f.Close(); err != nil {
			return nil, err
		}
		if err = os.Rename(tmp, opts.PassThrough); err != nil {
			return nil, err
		}
	}
	return finishIndex(info, k, opts, si.PassThrough)
}

// walkInfo carries what a walk learned beyond its groups.
type walkInfo struct {
	variant  si.Variant
	paired   bool
	degraded bool
	records  uint64
	groups   uint64
	size     uint64
	hash     [32]byte
	repeats  uint64
}

// walk streams the ordered query groups of r (a stream over src)
// into fn, dispatching to the parallel sharded walk when the format
// and source allow it.
func walk(ctx context.Context, src source.Source, r io.Reader, opts Options, fn func(scan.Group) error) (*walkInfo, error) {
	fp := newFingerprinter(r)
	variant, framing, br, err := scan.Probe(fp)
	if err != nil {
		return nil, err
	}

	if parallelCapable(src, variant, framing, opts) {
		return walkParallel(ctx, src, variant, opts, fn)
	}

	w, err := scan.New(br, variant, framing)
	if err != nil {
		return nil, err
	}
	info := &walkInfo{variant: variant}
	var check groupCheck
	for w.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g := w.Group()
		if len(g.Name) != 0 {
			check.observe(g.Hash)
		}
		info.records += g.Records
		info.groups += g.Groups
		if info.records/progressEvery != (info.records-g.Records)/progressEvery {
			opts.logf("walked %d records", info.records)
		}
		if err := fn(g); err != nil {
			return nil, err
		}
	}
	if err := w.Err(); err != nil {
		return nil, err
	}
	// Drain trailing container bytes the walker has no use for, so
	// the fingerprint covers the whole file.
	if _, err := io.Copy(io.Discard, br); err != nil {
		return nil, err
	}
	info.paired = w.Paired()
	if d, ok := w.(interface{ Degraded() bool }); ok {
		info.degraded = d.Degraded()
	}
	info.size = fp.n
	info.hash = fp.sum()
	info.repeats = check.repeats
	return info, checkGrouping(info, opts)
}

// checkGrouping applies the query-grouping heuristic outcome.
func checkGrouping(info *walkInfo, opts Options) error {
	if info.degraded {
		opts.warnf("container read names undecodable; group counts are approximate and container edges are trusted")
	}
	if info.repeats == 0 {
		return nil
	}
	if opts.Strict {
		return fmt.Errorf("%w: %d query names recur in non-adjacent groups", ErrNotQueryGrouped, info.repeats)
	}
	opts.warnf("input does not look query grouped: %d query names recur in non-adjacent groups; chunks remain valid byte partitions but may split read pairs", info.repeats)
	return nil
}

// finishIndex assembles and validates the final index.
func finishIndex(info *walkInfo, k *chunker, opts Options, flags si.Flags) (*si.Index, error) {
	if info.paired {
		flags |= si.PairedFASTQ
	}
	idx := &si.Index{
		Flags:      flags,
		Variant:    info.variant,
		SourceSize: info.size,
		SourceHash: info.hash,
		Records:    info.records,
		Groups:     info.groups,
		Chunks:     k.finish(),
	}
	if err := idx.Validate(); err != nil {
		return nil, err
	}
	opts.logf("indexed %d records in %d groups as %d chunks", idx.Records, idx.Groups, len(idx.Chunks))
	return idx, nil
}

// chunker folds the ordered group stream into chunks under the
// configured target policy.
type chunker struct {
	fixed      uint64
	boundaries []uint64
	estimateN  uint64

	total  uint64
	open   si.Chunk
	opened bool
	chunks []si.Chunk
}

func newChunker(opts Options, boundaries []uint64) *chunker {
	k := &chunker{boundaries: boundaries}
	switch {
	case boundaries != nil:
	case opts.TargetRecords > 0:
		k.fixed = opts.TargetRecords
	case opts.TargetChunks > 0:
		// Non-seekable input: a running estimate stands in for
		// the two-pass boundary computation.
		k.estimateN = uint64(opts.TargetChunks)
	default:
		// One chunk per query group: the finest split the file
		// supports, and what makes any later (c, n) exact.
		k.fixed = 1
	}
	return k
}

func (k *chunker) add(g scan.Group) error {
	if !k.opened {
		k.open = si.Chunk{
			Start:     g.Start,
			FirstName: append([]byte(nil), g.Name...),
		}
		k.opened = true
	}
	k.open.End = g.End
	k.open.Records += g.Records
	k.open.Groups += uint32(g.Groups)
	k.total += g.Records
	if k.closeNow() {
		k.chunks = append(k.chunks, k.open)
		k.opened = false
	}
	return nil
}

func (k *chunker) closeNow() bool {
	switch {
	case k.boundaries != nil:
		if len(k.boundaries) == 0 || k.total < k.boundaries[0] {
			return false
		}
		for len(k.boundaries) > 1 && k.total >= k.boundaries[1] {
			k.boundaries = k.boundaries[1:]
		}
		k.boundaries = k.boundaries[1:]
		return true
	case k.estimateN > 0:
		target := k.total / k.estimateN
		if target == 0 {
			target = 1
		}
		return k.open.Records >= target
	default:
		return k.open.Records >= k.fixed
	}
}

func (k *chunker) finish() []si.Chunk {
	if k.opened {
		k.chunks = append(k.chunks, k.open)
		k.opened = false
	}
	return k.chunks
}

// groupCheck is a ring of recent group hashes used to heuristically
// detect inputs that are not query grouped: a name opening a new
// group while still in the ring means it appeared in a non-adjacent
// group moments ago.
type groupCheck struct {
	ring    [64]uint64
	n       int
	repeats uint64
}

func (q *groupCheck) observe(h uint64) {
	for i := 0; i < q.n && i < len(q.ring); i++ {
		if q.ring[i] == h {
			q.repeats++
			break
		}
	}
	q.ring[q.n%len(q.ring)] = h
	q.n++
}

// fingerprinter hashes the first FingerprintPrefix bytes passing
// through it and counts them all.
type fingerprinter struct {
	r io.Reader
	h hash.Hash
	n uint64
}

func newFingerprinter(r io.Reader) *fingerprinter {
	return &fingerprinter{r: r, h: sha256.New()}
}

func (f *fingerprinter) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if n > 0 {
		if rem := int64(si.FingerprintPrefix) - int64(f.n); rem > 0 {
			take := int64(n)
			if take > rem {
				take = rem
			}
			f.h.Write(p[:take])
		}
		f.n += uint64(n)
	}
	return n, err
}

func (f *fingerprinter) sum() (s [32]byte) {
	f.h.Sum(s[:0])
	return s
}

// Fingerprint computes the version 1 source fingerprint of src by a
// positioned read of its prefix.
func Fingerprint(ctx context.Context, src source.Source) (size uint64, sum [32]byte, err error) {
	if src.Size() < 0 {
		return 0, sum, fmt.Errorf("%w: cannot fingerprint %s", source.ErrNotSeekable, src.Name())
	}
	rc, err := src.OpenAt(ctx, 0)
	if err != nil {
		return 0, sum, err
	}
	defer rc.Close()
	h := sha256.New()
	if _, err := io.Copy(h, io.LimitReader(rc, si.FingerprintPrefix)); err != nil {
		return 0, sum, err
	}
	h.Sum(sum[:0])
	return uint64(src.Size()), sum, nil
}
