// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package source provides positioned byte streams over local files,
// standard input and remote objects reachable by http(s), ftp, s3 or
// gs URL. Remote backends serve ranged opens so that a consumer can
// stream any byte range without reading the whole object, and retry
// transient failures with exponential backoff.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
)

var (
	// ErrUnsupportedScheme is returned by Open for a URL scheme
	// with no backend.
	ErrUnsupportedScheme = errors.New("source: unsupported scheme")

	// ErrNotFound is returned when the named input does not exist.
	ErrNotFound = errors.New("source: not found")

	// ErrNotSeekable is returned by OpenAt on sources that cannot
	// serve positioned opens, such as standard input.
	ErrNotSeekable = errors.New("source: not seekable")
)

// Source is an ordered byte stream over a local or remote input.
// Read serves the sequential scan from the stream start; OpenAt
// serves independent positioned streams for extraction and parallel
// walking. Concurrent OpenAt streams are independent of each other
// and of the sequential stream.
type Source interface {
	io.ReadCloser

	// OpenAt returns a new stream reading from byte offset off to
	// the end of the input.
	OpenAt(ctx context.Context, off int64) (io.ReadCloser, error)

	// Size returns the total byte size of the input, or a
	// negative value when it is unknown.
	Size() int64

	// Name returns the input's display name.
	Name() string
}

// retries and backoff applied to remote operations. The HTTP backend
// delegates to its client's equivalent knobs.
const (
	defaultRetries = 4
	retryBaseDelay = 250 * time.Millisecond
	retryMaxDelay  = 8 * time.Second
)

// Retries returns the configured remote retry attempt count,
// honoring SPLITREADS_HTTP_RETRIES.
func Retries() int {
	if v := os.Getenv("SPLITREADS_HTTP_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return defaultRetries
}

// withRetry runs op under the package retry policy, giving up early
// on cancellation.
func withRetry(ctx context.Context, op func() error) error {
	return retry.Do(
		op,
		retry.Context(ctx),
		retry.Attempts(uint(Retries()+1)),
		retry.Delay(retryBaseDelay),
		retry.MaxDelay(retryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

// Open returns a Source for the given path or URL. The path "-"
// opens standard input.
func Open(ctx context.Context, raw string) (Source, error) {
	if raw == "-" {
		return Stdin(), nil
	}
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return openFile(raw)
	}
	switch scheme {
	case "http", "https":
		return openHTTP(ctx, raw)
	case "ftp":
		return openFTP(ctx, raw)
	case "s3":
		return openS3(ctx, rest, raw)
	case "gs":
		return openGCS(ctx, rest, raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
}

// NewReaderAt adapts a Source to io.ReaderAt by issuing one
// positioned open per call. It is intended for sparse access such as
// block boundary probing; sequential consumers should use OpenAt
// directly.
func NewReaderAt(ctx context.Context, src Source) io.ReaderAt {
	return &readerAt{ctx: ctx, src: src}
}

type readerAt struct {
	ctx context.Context
	src Source
}

func (r *readerAt) ReadAt(p []byte, off int64) (int, error) {
	rc, err := r.src.OpenAt(r.ctx, off)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	n, err := io.ReadFull(rc, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}
