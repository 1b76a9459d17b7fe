// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scan

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/TedBrookings/split-reads/cram"
)

// cramWalker walks CRAM containers. Chunk boundaries may only fall
// on container edges, so each emitted Group is a maximal run of
// containers whose interior edges do not split a query group:
// adjacent containers are coalesced while the last name of one run
// equals the first name of the next container.
//
// When a container's read names cannot be decoded the walker
// degrades to trusting container edges: the container forms its own
// run and its group count is taken as its record count.
type cramWalker struct {
	r     *cram.Reader
	limit uint64

	cur      Group
	out      Group
	lastName []byte
	started  bool
	degraded bool

	done bool
	err  error
}

func newCRAMWalker(r io.Reader, base int64, limit uint64) (*cramWalker, error) {
	cr, err := cram.NewReader(r, base)
	if err != nil {
		return nil, mapCRAMErr(err)
	}
	w := &cramWalker{r: cr, limit: limit}
	if base == 0 {
		// The first container holds the file header and emits no
		// records.
		if !cr.Next() {
			if err := cr.Err(); err != nil {
				return nil, mapCRAMErr(err)
			}
			return nil, fmt.Errorf("%w: no file header container", ErrUnexpectedEOF)
		}
	}
	return w, nil
}

func (w *cramWalker) Next() bool {
	if w.err != nil || w.done {
		return false
	}
	for w.r.Next() {
		c := w.r.Container()
		start, end := c.Span()
		if uint64(start) >= w.limit || c.IsEOF() {
			w.done = true
			return w.flush()
		}
		if c.Records() == 0 {
			continue
		}
		names, err := c.Names()
		switch {
		case errors.Is(err, cram.ErrNamesUnavailable):
			w.degraded = true
			names = nil
		case err != nil:
			w.err = mapCRAMErr(err)
			return false
		}
		emitted := w.fold(c, names, uint64(start), uint64(end))
		if emitted {
			return true
		}
	}
	if err := w.r.Err(); err != nil {
		w.err = mapCRAMErr(err)
		return false
	}
	w.done = true
	return w.flush()
}

// fold merges the container into the open run or closes the run and
// opens a new one, reporting whether a finished run is available.
func (w *cramWalker) fold(c *cram.Container, names [][]byte, start, end uint64) bool {
	var first, last []byte
	groups := uint64(c.Records())
	if names != nil {
		first, last = names[0], names[len(names)-1]
		groups = 1
		for i := 1; i < len(names); i++ {
			if !bytes.Equal(names[i-1], names[i]) {
				groups++
			}
		}
	}

	merge := w.started && names != nil && w.lastName != nil && bytes.Equal(w.lastName, first)
	if merge {
		w.cur.End = end
		w.cur.Records += uint64(c.Records())
		w.cur.Groups += groups - 1
		w.lastName = append(w.lastName[:0], last...)
		w.cur.LastName = w.lastName
		return false
	}

	done := w.started
	if done {
		w.out = w.cur
	}
	w.cur = Group{
		Name:    bytes.Clone(first),
		Hash:    hashName(first),
		Start:   start,
		End:     end,
		Records: uint64(c.Records()),
		Groups:  groups,
	}
	if last != nil {
		// A fresh buffer: the emitted run keeps its own LastName.
		w.lastName = bytes.Clone(last)
		w.cur.LastName = w.lastName
	} else {
		w.lastName = nil
	}
	w.started = true
	return done
}

func (w *cramWalker) flush() bool {
	if !w.started {
		return false
	}
	w.out = w.cur
	w.started = false
	return true
}

// mapCRAMErr converts cram package errors to walker error kinds.
func mapCRAMErr(err error) error {
	switch {
	case errors.Is(err, cram.ErrCorrupt), errors.Is(err, cram.ErrNoCRAM):
		return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	case errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %v", ErrUnexpectedEOF, err)
	default:
		return err
	}
}

func (w *cramWalker) Group() Group { return w.out }

func (w *cramWalker) Err() error { return w.err }

func (w *cramWalker) Header() []byte { return nil }

func (w *cramWalker) Paired() bool { return false }

// Degraded reports whether any container's names were undecodable,
// in which case group counts are approximate and container edges are
// assumed not to split query groups.
func (w *cramWalker) Degraded() bool { return w.degraded }
