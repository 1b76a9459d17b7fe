// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scan

import (
	"bytes"
	"fmt"
	"io"
)

// fastqWalker walks four-line FASTQ records, plain or inside gzip or
// BGZF framing. Mates of an interleaved pair share a query group:
// the grouping key strips an "/1" or "/2" suffix, and Casava-style
// mates already share the name token.
type fastqWalker struct {
	r posReader

	g      grouper
	line   []byte
	paired bool

	done bool
	err  error
}

func newFASTQWalker(r posReader, err error) (*fastqWalker, error) {
	if err != nil {
		return nil, err
	}
	return &fastqWalker{r: r}, nil
}

func (w *fastqWalker) Next() bool {
	if w.err != nil || w.done {
		return false
	}
	for {
		start := w.r.Pos()
		name, err := w.readRecord()
		if err == io.EOF {
			w.done = true
			return w.g.flush()
		}
		if err != nil {
			w.err = err
			return false
		}
		if w.g.add(name, start, w.r.Pos()) {
			return true
		}
	}
}

// readRecord reads one four-line record and returns its grouping
// name. io.EOF is returned only at a clean record boundary.
func (w *fastqWalker) readRecord() ([]byte, error) {
	head, err := readLine(w.r, w.line)
	w.line = head
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	if len(head) < 2 || head[0] != '@' {
		return nil, fmt.Errorf("%w: sequence header does not begin with '@'", ErrMalformedRecord)
	}
	name, comment := cutToken(head[1:])
	if i := len(name) - 2; i > 0 && name[i] == '/' && (name[i+1] == '1' || name[i+1] == '2') {
		name = name[:i]
		w.paired = true
	} else if len(comment) >= 2 && (comment[0] == '1' || comment[0] == '2') && comment[1] == ':' {
		w.paired = true
	}

	// Sequence, separator and quality lines.
	var scratch []byte
	for i := 0; i < 3; i++ {
		line, err := readLine(w.r, scratch)
		scratch = line
		if err == io.EOF {
			return nil, fmt.Errorf("%w: record cut after %d of 4 lines", ErrUnexpectedEOF, i+1)
		}
		if err != nil {
			return nil, err
		}
		if i == 1 && (len(line) == 0 || line[0] != '+') {
			return nil, fmt.Errorf("%w: separator line does not begin with '+'", ErrMalformedRecord)
		}
	}
	return name, nil
}

// cutToken splits b at the first space or tab.
func cutToken(b []byte) (token, rest []byte) {
	i := bytes.IndexAny(b, " \t")
	if i < 0 {
		return b, nil
	}
	return b[:i], b[i+1:]
}

func (w *fastqWalker) Group() Group { return w.g.take() }

func (w *fastqWalker) Err() error { return w.err }

func (w *fastqWalker) Header() []byte { return nil }

func (w *fastqWalker) Paired() bool { return w.paired }
