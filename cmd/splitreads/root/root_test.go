// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package root

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TedBrookings/split-reads/htstestutil"
	"github.com/TedBrookings/split-reads/scan"
	"github.com/TedBrookings/split-reads/si"
	"github.com/TedBrookings/split-reads/split"
)

func run(t *testing.T, args ...string) error {
	t.Helper()
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	return cmd.ExecuteContext(context.Background())
}

func runOut(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(new(bytes.Buffer))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIndexGetChunkTell(t *testing.T) {
	dir := t.TempDir()
	bam := filepath.Join(dir, "x.bam")
	names := []string{"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7", "r8", "r9"}
	require.NoError(t, os.WriteFile(bam, htstestutil.BAM(names, 0), 0o644))

	require.NoError(t, run(t, "index", "-i", bam))
	idx, err := si.ReadFile(bam + ".si")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), idx.Records)

	out, err := runOut(t, "tell", "-I", bam+".si", "--chunks")
	require.NoError(t, err)
	assert.Equal(t, "10\n", out)

	out, err = runOut(t, "tell", "-I", bam+".si")
	require.NoError(t, err)
	assert.Equal(t, "reads: 10\nqueries: 10\nchunks: 10\n", out)

	chunk := filepath.Join(dir, "chunk0.bam")
	require.NoError(t, run(t, "get-chunk", "-i", bam, "-c", "0", "-n", "10", "-o", chunk))
	data, err := os.ReadFile(chunk)
	require.NoError(t, err)
	v, f, r, err := scan.Probe(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, si.BAM, v)
	w, err := scan.New(r, v, f)
	require.NoError(t, err)
	require.True(t, w.Next())
	assert.Equal(t, "r0", string(w.Group().Name))
	assert.False(t, w.Next())
	require.NoError(t, w.Err())
}

func TestGetChunkUsage(t *testing.T) {
	dir := t.TempDir()
	bam := filepath.Join(dir, "x.bam")
	require.NoError(t, os.WriteFile(bam, htstestutil.BAM([]string{"only"}, 0), 0o644))
	require.NoError(t, run(t, "index", "-i", bam))

	// A single stored chunk cannot be split further: usage error.
	err := run(t, "get-chunk", "-i", bam, "-c", "1", "-n", "2")
	require.Error(t, err)
	assert.Equal(t, ExitUsage, ExitCode(err))

	err = run(t, "get-chunk", "-i", bam)
	require.Error(t, err)
	assert.Equal(t, ExitUsage, ExitCode(err))
}

func TestCorruptIndexExitCode(t *testing.T) {
	dir := t.TempDir()
	bam := filepath.Join(dir, "x.bam")
	require.NoError(t, os.WriteFile(bam, htstestutil.BAM([]string{"a", "b"}, 0), 0o644))
	require.NoError(t, run(t, "index", "-i", bam))

	raw, err := os.ReadFile(bam + ".si")
	require.NoError(t, err)
	raw[len(raw)-10] ^= 0xff
	require.NoError(t, os.WriteFile(bam+".si", raw, 0o644))

	err = run(t, "get-chunk", "-i", bam, "-c", "0", "-n", "1")
	require.Error(t, err)
	assert.Equal(t, ExitMismatch, ExitCode(err))
}

func TestGetChunkNoPartialOutput(t *testing.T) {
	dir := t.TempDir()
	bam := filepath.Join(dir, "x.bam")
	require.NoError(t, os.WriteFile(bam, htstestutil.BAM([]string{"a", "b"}, 0), 0o644))
	require.NoError(t, run(t, "index", "-i", bam))

	// A source rewritten under the index fails extraction; the
	// output path must not appear, nor any temporary file.
	require.NoError(t, os.WriteFile(bam, htstestutil.BAM([]string{"a", "z"}, 0), 0o644))
	out := filepath.Join(dir, "chunk.bam")
	err := run(t, "get-chunk", "-i", bam, "-c", "0", "-n", "1", "-o", out)
	require.Error(t, err)
	assert.Equal(t, ExitMismatch, ExitCode(err))

	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range ents {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"x.bam", "x.bam.si"}, names)
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitCancelled, ExitCode(context.Canceled))
	assert.Equal(t, ExitMismatch, ExitCode(fmt.Errorf("wrap: %w", si.ErrCorruptIndex)))
	assert.Equal(t, ExitMismatch, ExitCode(split.ErrIndexSourceMismatch))
	assert.Equal(t, ExitMalformed, ExitCode(scan.ErrMalformedRecord))
	assert.Equal(t, ExitUsage, ExitCode(split.ErrChunkOutOfRange))
	assert.Equal(t, ExitIO, ExitCode(fmt.Errorf("an io problem")))
}

func TestIndexRequiresInput(t *testing.T) {
	err := run(t, "index")
	require.Error(t, err)
	assert.Equal(t, ExitUsage, ExitCode(err))
}
