// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package source

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reads.sam")
	require.NoError(t, os.WriteFile(path, []byte("0123456789abcdef"), 0o644))

	src, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, int64(16), src.Size())
	assert.Equal(t, path, src.Name())

	got, err := io.ReadAll(src)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef", string(got))

	rc, err := src.OpenAt(context.Background(), 10)
	require.NoError(t, err)
	defer rc.Close()
	got, err = io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(got))
}

func TestOpenFileNotFound(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "missing.bam"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenUnsupportedScheme(t *testing.T) {
	_, err := Open(context.Background(), "gopher://example.org/reads.bam")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestStdin(t *testing.T) {
	src := Stdin()
	assert.Equal(t, "-", src.Name())
	assert.Negative(t, src.Size())
	_, err := src.OpenAt(context.Background(), 0)
	assert.ErrorIs(t, err, ErrNotSeekable)
}

func TestHTTPSource(t *testing.T) {
	const body = "the quick brown fox jumps over the lazy dog"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			return
		}
		if rng := r.Header.Get("Range"); rng != "" {
			off, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(rng, "bytes="), "-"))
			require.NoError(t, err)
			w.WriteHeader(http.StatusPartialContent)
			io.WriteString(w, body[off:])
			return
		}
		io.WriteString(w, body)
	}))
	defer srv.Close()

	src, err := Open(context.Background(), srv.URL+"/reads.fq")
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, int64(len(body)), src.Size())

	got, err := io.ReadAll(src)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))

	rc, err := src.OpenAt(context.Background(), 4)
	require.NoError(t, err)
	defer rc.Close()
	got, err = io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, body[4:], string(got))
}

func TestHTTPSourceNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	_, err := Open(context.Background(), srv.URL+"/missing.bam")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewReaderAt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reads.fq")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	src, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer src.Close()

	ra := NewReaderAt(context.Background(), src)
	buf := make([]byte, 4)
	n, err := ra.ReadAt(buf, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "3456", string(buf))

	// Short read at the tail reports EOF with the bytes read.
	n, err = ra.ReadAt(buf, 8)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestRetriesEnv(t *testing.T) {
	t.Setenv("SPLITREADS_HTTP_RETRIES", "7")
	assert.Equal(t, 7, Retries())
	t.Setenv("SPLITREADS_HTTP_RETRIES", "bogus")
	assert.Equal(t, defaultRetries, Retries())
}
