// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package source

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
)

// httpSource serves http(s) objects. Sequential reads stream one GET;
// positioned opens issue ranged GETs. Transient failures are retried
// by the underlying client.
type httpSource struct {
	client *retryablehttp.Client
	url    string
	size   int64

	body io.ReadCloser
}

func newHTTPClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = Retries()
	c.RetryWaitMin = retryBaseDelay
	c.RetryWaitMax = retryMaxDelay
	c.Logger = nil
	return c
}

func openHTTP(ctx context.Context, url string) (Source, error) {
	s := &httpSource{client: newHTTPClient(), url: url, size: -1}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("source: HEAD %s: %s", url, resp.Status)
	}
	if resp.ContentLength >= 0 {
		s.size = resp.ContentLength
	}
	return s, nil
}

func (s *httpSource) get(ctx context.Context, off int64) (io.ReadCloser, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	if off > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", off))
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, s.url)
	case off > 0 && resp.StatusCode != http.StatusPartialContent:
		resp.Body.Close()
		return nil, fmt.Errorf("source: GET %s: ranged request answered %s", s.url, resp.Status)
	case resp.StatusCode >= 300:
		resp.Body.Close()
		return nil, fmt.Errorf("source: GET %s: %s", s.url, resp.Status)
	}
	return resp.Body, nil
}

func (s *httpSource) Read(p []byte) (int, error) {
	if s.body == nil {
		body, err := s.get(context.Background(), 0)
		if err != nil {
			return 0, err
		}
		s.body = body
	}
	return s.body.Read(p)
}

func (s *httpSource) Close() error {
	if s.body == nil {
		return nil
	}
	body := s.body
	s.body = nil
	return body.Close()
}

func (s *httpSource) OpenAt(ctx context.Context, off int64) (io.ReadCloser, error) {
	return s.get(ctx, off)
}

func (s *httpSource) Size() int64 { return s.size }

func (s *httpSource) Name() string { return s.url }
