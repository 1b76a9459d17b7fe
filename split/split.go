// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package split builds and consumes split indexes: it walks a
// query-grouped read file (twice when a chunk count is targeted on a
// seekable source, once otherwise), partitions its query groups into
// contiguous chunks, and later re-emits any chunk as a standalone
// file of the same container type by seeking the source at the
// indexed positions.
package split

import (
	"errors"
	"runtime"

	"github.com/charmbracelet/log"
)

var (
	// ErrNotQueryGrouped is returned in strict mode when the walk
	// finds a query name in two non-adjacent groups.
	ErrNotQueryGrouped = errors.New("split: input not query grouped")

	// ErrIndexSourceMismatch is returned when the source does not
	// match the index fingerprint.
	ErrIndexSourceMismatch = errors.New("split: index does not match source")

	// ErrChunkOutOfRange is returned for a chunk request outside
	// [0, n).
	ErrChunkOutOfRange = errors.New("split: chunk out of range")

	// ErrSplitTooFine is returned when more chunks are requested
	// at extraction than the index stores; stored chunks are never
	// split.
	ErrSplitTooFine = errors.New("split: more chunks requested than stored")
)

// Options control index building.
type Options struct {
	// TargetRecords closes a chunk at the first group boundary at
	// or beyond this many records. Zero means one chunk per query
	// group unless TargetChunks is set.
	TargetRecords uint64

	// TargetChunks aims for this many near-equal chunks. On a
	// seekable source this runs a counting pass followed by an
	// emitting pass; otherwise chunk sizes track a running
	// estimate.
	TargetChunks int

	// Strict escalates the not-query-grouped warning to an error.
	Strict bool

	// Workers is the parallel walking degree for sharded sources.
	// Zero means GOMAXPROCS.
	Workers int

	// PassThrough, when non-empty, is the path of the sink file
	// the source bytes are forwarded to. The emitted index then
	// describes the sink.
	PassThrough string

	// Logger receives walk warnings and progress. Nil disables
	// logging.
	Logger *log.Logger

	// Quiet suppresses progress reporting, keeping warnings.
	Quiet bool
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (o Options) logf(format string, args ...any) {
	if o.Logger != nil && !o.Quiet {
		o.Logger.Infof(format, args...)
	}
}

func (o Options) warnf(format string, args ...any) {
	if o.Logger != nil {
		o.Logger.Warnf(format, args...)
	}
}
