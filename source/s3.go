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

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3Source serves s3:// objects through ranged GetObject calls.
// Credentials come from the standard AWS credential chain.
type s3Source struct {
	client *s3.Client
	bucket string
	key    string
	url    string
	size   int64

	body io.ReadCloser
}

func openS3(ctx context.Context, rest, url string) (Source, error) {
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return nil, fmt.Errorf("source: malformed s3 url %q", url)
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	s := &s3Source{client: s3.NewFromConfig(cfg), bucket: bucket, key: key, url: url, size: -1}
	err = withRetry(ctx, func() error {
		head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		if head.ContentLength != nil {
			s.size = *head.ContentLength
		}
		return nil
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
		}
		return nil, err
	}
	return s, nil
}

func (s *s3Source) get(ctx context.Context, off int64) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := withRetry(ctx, func() error {
		in := &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key),
		}
		if off > 0 {
			in.Range = aws.String(fmt.Sprintf("bytes=%d-", off))
		}
		out, err := s.client.GetObject(ctx, in)
		if err != nil {
			return err
		}
		body = out.Body
		return nil
	})
	if err != nil {
		var nk *types.NoSuchKey
		if errors.As(err, &nk) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, s.url)
		}
		return nil, err
	}
	return body, nil
}

func (s *s3Source) Read(p []byte) (int, error) {
	if s.body == nil {
		body, err := s.get(context.Background(), 0)
		if err != nil {
			return 0, err
		}
		s.body = body
	}
	return s.body.Read(p)
}

func (s *s3Source) Close() error {
	if s.body == nil {
		return nil
	}
	body := s.body
	s.body = nil
	return body.Close()
}

func (s *s3Source) OpenAt(ctx context.Context, off int64) (io.ReadCloser, error) {
	return s.get(ctx, off)
}

func (s *s3Source) Size() int64 { return s.size }

func (s *s3Source) Name() string { return s.url }
