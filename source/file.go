// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package source

import (
	"context"
	"fmt"
	"io"
	"os"
)

// fileSource serves a local file. Positioned opens are independent
// file descriptors so concurrent readers do not share a seek cursor.
type fileSource struct {
	*os.File
	path string
	size int64
}

func openFile(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fileSource{File: f, path: path, size: fi.Size()}, nil
}

func (s *fileSource) OpenAt(_ context.Context, off int64) (io.ReadCloser, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	if _, err = f.Seek(off, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func (s *fileSource) Size() int64 { return s.size }

func (s *fileSource) Name() string { return s.path }

// stdinSource serves standard input. It cannot be reopened, so
// positioned opens fail and the size is unknown.
type stdinSource struct{}

// Stdin returns a Source reading standard input.
func Stdin() Source { return stdinSource{} }

func (stdinSource) Read(p []byte) (int, error) { return os.Stdin.Read(p) }

func (stdinSource) Close() error { return nil }

func (stdinSource) OpenAt(context.Context, int64) (io.ReadCloser, error) {
	return nil, fmt.Errorf("%w: standard input", ErrNotSeekable)
}

func (stdinSource) Size() int64 { return -1 }

func (stdinSource) Name() string { return "-" }
