// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scan

import (
	"bytes"
	"fmt"
	"io"
)

// samWalker walks tab-delimited SAM record lines, plain or inside
// BGZF framing.
type samWalker struct {
	r posReader

	header []byte

	g    grouper
	line []byte

	// firstLine carries a record line consumed by header scanning.
	firstLine  []byte
	firstStart uint64

	done bool
	err  error
}

func newSAMWalker(r posReader, err error) (*samWalker, error) {
	if err != nil {
		return nil, err
	}
	w := &samWalker{r: r}
	if err := w.readHeader(); err != nil {
		return nil, err
	}
	return w, nil
}

// readHeader consumes the '@' header lines. The first record line is
// necessarily consumed to find the header's end and is replayed by
// the first Next.
func (w *samWalker) readHeader() error {
	for {
		start := w.r.Pos()
		line, err := readLine(w.r, w.line)
		w.line = line
		if err == io.EOF {
			w.done = true
			return nil
		}
		if err != nil {
			return err
		}
		if len(line) == 0 {
			return fmt.Errorf("%w: empty line", ErrMalformedRecord)
		}
		if line[0] != '@' {
			w.firstLine = append(w.firstLine, line...)
			w.firstStart = start
			return nil
		}
		w.header = append(w.header, line...)
		w.header = append(w.header, '\n')
	}
}

func (w *samWalker) Next() bool {
	if w.err != nil || w.done {
		return false
	}
	for {
		var (
			line  []byte
			start uint64
		)
		if w.firstLine != nil {
			line, start = w.firstLine, w.firstStart
			w.firstLine = nil
		} else {
			start = w.r.Pos()
			var err error
			line, err = readLine(w.r, w.line)
			w.line = line
			if err == io.EOF {
				w.done = true
				return w.g.flush()
			}
			if err != nil {
				w.err = err
				return false
			}
		}
		name, err := samName(line)
		if err != nil {
			w.err = err
			return false
		}
		if w.g.add(name, start, w.r.Pos()) {
			return true
		}
	}
}

// samName returns the query name field of a record line.
func samName(line []byte) ([]byte, error) {
	i := bytes.IndexByte(line, '\t')
	if i <= 0 {
		return nil, fmt.Errorf("%w: record line has no query name field", ErrMalformedRecord)
	}
	return line[:i], nil
}

func (w *samWalker) Group() Group { return w.g.take() }

func (w *samWalker) Err() error { return w.err }

func (w *samWalker) Header() []byte { return w.header }

func (w *samWalker) Paired() bool { return false }
