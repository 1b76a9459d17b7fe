// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// gcsSource serves gs:// objects through ranged readers. Credentials
// come from application default credentials.
type gcsSource struct {
	object *storage.ObjectHandle
	url    string
	size   int64

	body io.ReadCloser
}

func openGCS(ctx context.Context, rest, url string) (Source, error) {
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return nil, fmt.Errorf("source: malformed gs url %q", url)
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	s := &gcsSource{object: client.Bucket(bucket).Object(key), url: url, size: -1}
	err = withRetry(ctx, func() error {
		attrs, err := s.object.Attrs(ctx)
		if err != nil {
			return err
		}
		s.size = attrs.Size
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
		}
		return nil, err
	}
	return s, nil
}

func (s *gcsSource) get(ctx context.Context, off int64) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := withRetry(ctx, func() error {
		r, err := s.object.NewRangeReader(ctx, off, -1)
		if err != nil {
			return err
		}
		body = r
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, s.url)
		}
		return nil, err
	}
	return body, nil
}

func (s *gcsSource) Read(p []byte) (int, error) {
	if s.body == nil {
		body, err := s.get(context.Background(), 0)
		if err != nil {
			return 0, err
		}
		s.body = body
	}
	return s.body.Read(p)
}

func (s *gcsSource) Close() error {
	if s.body == nil {
		return nil
	}
	body := s.body
	s.body = nil
	return body.Close()
}

func (s *gcsSource) OpenAt(ctx context.Context, off int64) (io.ReadCloser, error) {
	return s.get(ctx, off)
}

func (s *gcsSource) Size() int64 { return s.size }

func (s *gcsSource) Name() string { return s.url }
