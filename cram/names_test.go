// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cram_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/TedBrookings/split-reads/cram"
	"github.com/TedBrookings/split-reads/htstestutil"
)

// nextData advances r past the file header container to the next
// data container.
func nextData(t *testing.T, r *cram.Reader, skipHeader bool) *cram.Container {
	t.Helper()
	if skipHeader {
		if !r.Next() {
			t.Fatalf("missing file header container: %v", r.Err())
		}
	}
	if !r.Next() {
		t.Fatalf("missing data container: %v", r.Err())
	}
	return r.Container()
}

func TestNames(t *testing.T) {
	want := [][]string{
		{"pair.1", "pair.1", "pair.2"},
		{"pair.3"},
	}
	data := htstestutil.CRAM(want, false)
	r, err := cram.NewReader(bytes.NewReader(data), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := nextData(t, r, true)
	for i, wantNames := range want {
		if i > 0 {
			c = nextData(t, r, false)
		}
		names, err := c.Names()
		if err != nil {
			t.Fatalf("unexpected error reading names of container %d: %v", i, err)
		}
		if len(names) != len(wantNames) {
			t.Fatalf("container %d: got %d names, want %d", i, len(names), len(wantNames))
		}
		for j := range names {
			if string(names[j]) != wantNames[j] {
				t.Errorf("container %d name %d: got %q want %q", i, j, names[j], wantNames[j])
			}
		}
	}
}

func TestNamesDropped(t *testing.T) {
	data := htstestutil.CRAM([][]string{{"a", "b"}}, true)
	r, err := cram.NewReader(bytes.NewReader(data), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := nextData(t, r, true)
	_, err = c.Names()
	if !errors.Is(err, cram.ErrNamesUnavailable) {
		t.Errorf("expected ErrNamesUnavailable, got: %v", err)
	}
}

func TestSpanContiguity(t *testing.T) {
	data := htstestutil.CRAM([][]string{{"a"}, {"b"}, {"c"}}, false)
	r, err := cram.NewReader(bytes.NewReader(data), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var prevEnd int64
	for r.Next() {
		start, end := r.Container().Span()
		if prevEnd != 0 && start != prevEnd {
			t.Errorf("container gap: previous ends %d, next starts %d", prevEnd, start)
		}
		prevEnd = end
	}
	if err := r.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prevEnd != int64(len(data)) {
		t.Errorf("final container ends %d, file is %d bytes", prevEnd, len(data))
	}
}

func TestScanSpansMatchesSequential(t *testing.T) {
	data := htstestutil.CRAM([][]string{{"a", "a"}, {"b"}}, false)
	spans, err := cram.ScanSpans(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r, err := cram.NewReader(bytes.NewReader(data), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var i int
	for r.Next() {
		if i >= len(spans) {
			t.Fatalf("sequential read found more containers than ScanSpans")
		}
		start, end := r.Container().Span()
		if spans[i].Start != start || spans[i].End != end {
			t.Errorf("span %d: got [%d, %d), sequential [%d, %d)", i, spans[i].Start, spans[i].End, start, end)
		}
		if spans[i].Records != r.Container().Records() {
			t.Errorf("span %d: got %d records, sequential %d", i, spans[i].Records, r.Container().Records())
		}
		i++
	}
	if err := r.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if i != len(spans) {
		t.Errorf("ScanSpans found %d containers, sequential %d", len(spans), i)
	}
}
