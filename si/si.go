// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package si implements the split index (.si) container: a small
// self-describing binary file that partitions a query-grouped read
// file into contiguous chunks of whole query groups.
//
// All integers are little-endian. Positions are packed virtual
// offsets (coffset<<16|uoffset) for BGZF-framed sources and plain
// byte offsets otherwise; the variant field selects the
// interpretation.
package si

import (
	"errors"
	"fmt"
)

// Magic is the .si file magic number.
var Magic = []byte("SPLITIDX")

// Version is the current .si format version. Version 1 defines the
// source fingerprint as the file size and the SHA-256 of the first
// min(size, 1 MiB) bytes.
const Version = 1

// FingerprintPrefix is the length of the fingerprinted source prefix.
const FingerprintPrefix = 1 << 20

// ErrCorruptIndex is returned when an index fails structural or
// checksum validation.
var ErrCorruptIndex = errors.New("si: corrupt index")

// Variant identifies the container format of the indexed source.
type Variant uint8

// Variant values, in wire order.
const (
	SAM Variant = iota
	BAM
	CRAM
	FASTQ
)

func (v Variant) String() string {
	switch v {
	case SAM:
		return "SAM"
	case BAM:
		return "BAM"
	case CRAM:
		return "CRAM"
	case FASTQ:
		return "FASTQ"
	default:
		return fmt.Sprintf("Variant(%d)", uint8(v))
	}
}

// IsBGZF reports whether positions for the variant are virtual
// offsets rather than byte offsets. BGZF-framed SAM and FASTQ
// sources also use virtual offsets; the extractor re-probes the
// source framing, so the index does not record it.
func (v Variant) IsBGZF() bool { return v == BAM }

// Flags hold file-level properties of the indexed source.
type Flags uint16

const (
	// PassThrough records that the index describes the re-encoded
	// pass-through sink rather than the original input.
	PassThrough Flags = 1 << iota

	// PairedFASTQ records that the source is interleaved
	// paired-end FASTQ.
	PairedFASTQ
)

// Chunk is one chunk descriptor: a half-open position range holding
// whole query groups.
type Chunk struct {
	Start   uint64
	End     uint64
	Records uint64
	Groups  uint32

	// FirstName is the query name of the first record in the
	// chunk, kept for cross-file sanity checks.
	FirstName []byte
}

// Index is a loaded split index. Once constructed it is immutable
// and safe for concurrent use.
type Index struct {
	Flags   Flags
	Variant Variant

	// SourceSize and SourceHash fingerprint the indexed file: the
	// byte size and the SHA-256 over the first
	// min(size, FingerprintPrefix) bytes.
	SourceSize uint64
	SourceHash [32]byte

	Records uint64
	Groups  uint64

	Chunks []Chunk
}

// Validate checks the internal consistency of the index beyond its
// checksum: chunk contiguity, monotone positions and record count
// agreement.
func (idx *Index) Validate() error {
	if len(idx.Chunks) == 0 {
		return fmt.Errorf("%w: no chunks", ErrCorruptIndex)
	}
	var records, groups uint64
	for i, c := range idx.Chunks {
		if c.End <= c.Start {
			return fmt.Errorf("%w: chunk %d spans [%d, %d)", ErrCorruptIndex, i, c.Start, c.End)
		}
		if c.Records == 0 || c.Groups == 0 {
			return fmt.Errorf("%w: empty chunk %d", ErrCorruptIndex, i)
		}
		if i > 0 && c.Start != idx.Chunks[i-1].End {
			return fmt.Errorf("%w: gap between chunks %d and %d", ErrCorruptIndex, i-1, i)
		}
		records += c.Records
		groups += uint64(c.Groups)
	}
	if records != idx.Records {
		return fmt.Errorf("%w: chunk records sum to %d, index claims %d", ErrCorruptIndex, records, idx.Records)
	}
	if groups != idx.Groups {
		return fmt.Errorf("%w: chunk groups sum to %d, index claims %d", ErrCorruptIndex, groups, idx.Groups)
	}
	return nil
}
