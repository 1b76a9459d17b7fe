// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package split

import (
	"fmt"

	"github.com/TedBrookings/split-reads/si"
)

// Plan is the resolved byte or virtual range of one requested chunk.
type Plan struct {
	Start uint64
	End   uint64

	Records uint64
	Groups  uint64

	// FirstName is the stored query name of the first record, for
	// the pre-extraction source sanity check.
	FirstName []byte
}

// PlanChunk resolves chunk c of n against the stored chunk table.
// When n differs from the stored chunk count, stored chunks are
// regrouped greedily so that cumulative record counts approximate
// total*(c+1)/n, always rounding forward to stored chunk boundaries;
// stored chunks are never split, which preserves the query-group
// invariant.
func PlanChunk(idx *si.Index, c, n int) (Plan, error) {
	if n <= 0 || c < 0 || c >= n {
		return Plan{}, fmt.Errorf("%w: chunk %d of %d", ErrChunkOutOfRange, c, n)
	}
	stored := len(idx.Chunks)
	if n > stored {
		return Plan{}, fmt.Errorf("%w: %d requested, %d stored", ErrSplitTooFine, n, stored)
	}

	// Walk stored chunks once, tracking the virtual chunk each
	// falls into. Virtual chunk j ends at the first stored
	// boundary whose cumulative record count reaches
	// total*(j+1)/n, with at least one stored chunk per virtual
	// chunk so that later virtual chunks cannot starve.
	var (
		cum   uint64
		j     int
		first = 0
	)
	for k, ch := range idx.Chunks {
		cum += ch.Records
		remainingStored := stored - k - 1
		remainingVirtual := n - j - 1
		closes := cum*uint64(n) >= idx.Records*uint64(j+1) || remainingStored == remainingVirtual
		if !closes {
			continue
		}
		if j == c {
			return mergedPlan(idx.Chunks[first : k+1]), nil
		}
		j++
		first = k + 1
	}
	// Unreachable for a validated index: the final stored chunk
	// always closes virtual chunk n-1.
	return Plan{}, fmt.Errorf("%w: chunk %d of %d unresolved", ErrChunkOutOfRange, c, n)
}

func mergedPlan(chunks []si.Chunk) Plan {
	p := Plan{
		Start:     chunks[0].Start,
		End:       chunks[len(chunks)-1].End,
		FirstName: chunks[0].FirstName,
	}
	for _, ch := range chunks {
		p.Records += ch.Records
		p.Groups += uint64(ch.Groups)
	}
	return p
}
