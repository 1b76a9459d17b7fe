// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cram

import (
	"bytes"
	"fmt"
	"io"
)

// Span describes the placement of one container.
type Span struct {
	Start   int64
	End     int64
	Records int
	EOF     bool
}

// spanHeadRead is the initial ranged read used per container header;
// headers with long landmark lists trigger a single larger retry.
const spanHeadRead = 512

// ScanSpans hops through the container headers of a CRAM file using
// ranged reads, never transferring block data. It returns the spans
// of all containers in file order, the file header container first
// and the EOF container last. size bounds the scan.
func ScanSpans(r io.ReaderAt, size int64) ([]Span, error) {
	head := make([]byte, len(Magic)+2+20)
	if _, err := r.ReadAt(head, 0); err != nil {
		return nil, fmt.Errorf("%w: truncated file definition", ErrCorrupt)
	}
	if !bytes.Equal(head[:4], Magic) {
		return nil, fmt.Errorf("%w: magic bytes %q", ErrNoCRAM, head[:4])
	}
	var spans []Span
	off := int64(len(head))
	for off < size {
		sp, err := readSpanAt(r, off, size)
		if err != nil {
			return nil, err
		}
		spans = append(spans, sp)
		off = sp.End
		if sp.EOF {
			break
		}
	}
	if len(spans) == 0 {
		return nil, fmt.Errorf("%w: no containers", ErrCorrupt)
	}
	return spans, nil
}

// readSpanAt parses the container header at off. A second, larger
// ranged read is attempted when the header outgrows the initial
// window, as happens for containers with long landmark lists.
func readSpanAt(r io.ReaderAt, off, size int64) (Span, error) {
	var firstErr error
	for _, window := range []int64{spanHeadRead, 1 << 20} {
		if off+window > size {
			window = size - off
		}
		buf := make([]byte, window)
		if _, err := r.ReadAt(buf, off); err != nil && err != io.EOF {
			return Span{}, err
		}
		var c Container
		cr := &countReader{r: bytes.NewReader(buf), n: off}
		err := c.readFrom(cr)
		if err == nil {
			return Span{Start: off, End: c.end, Records: int(c.nRec), EOF: c.IsEOF()}, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		if window == size-off {
			break
		}
	}
	return Span{}, fmt.Errorf("%w: container header at offset %d: %v", ErrCorrupt, off, firstErr)
}
