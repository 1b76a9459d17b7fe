// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

// ftpSource serves ftp:// objects. An FTP control connection carries
// one data transfer at a time, so every positioned open dials its
// own connection; REST provides the range start.
type ftpSource struct {
	addr string
	user string
	pass string
	path string
	url  string
	size int64

	body io.ReadCloser
}

func openFTP(ctx context.Context, raw string) (Source, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("source: malformed ftp url %q: %v", raw, err)
	}
	s := &ftpSource{
		addr: u.Host,
		user: "anonymous",
		pass: "anonymous",
		path: strings.TrimPrefix(u.Path, "/"),
		url:  raw,
		size: -1,
	}
	if !strings.Contains(s.addr, ":") {
		s.addr += ":21"
	}
	if u.User != nil {
		s.user = u.User.Username()
		if pass, ok := u.User.Password(); ok {
			s.pass = pass
		}
	}
	err = withRetry(ctx, func() error {
		conn, err := s.dial(ctx)
		if err != nil {
			return err
		}
		defer conn.Quit()
		size, err := conn.FileSize(s.path)
		if err != nil {
			return err
		}
		s.size = size
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, raw, err)
	}
	return s, nil
}

func (s *ftpSource) dial(ctx context.Context) (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(s.addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return nil, err
	}
	if err = conn.Login(s.user, s.pass); err != nil {
		conn.Quit()
		return nil, err
	}
	return conn, nil
}

// ftpBody closes the transfer and its control connection together.
type ftpBody struct {
	*ftp.Response
	conn *ftp.ServerConn
}

func (b *ftpBody) Close() error {
	err := b.Response.Close()
	if qerr := b.conn.Quit(); err == nil {
		err = qerr
	}
	return err
}

func (s *ftpSource) get(ctx context.Context, off int64) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := withRetry(ctx, func() error {
		conn, err := s.dial(ctx)
		if err != nil {
			return err
		}
		resp, err := conn.RetrFrom(s.path, uint64(off))
		if err != nil {
			conn.Quit()
			return err
		}
		body = &ftpBody{Response: resp, conn: conn}
		return nil
	})
	return body, err
}

func (s *ftpSource) Read(p []byte) (int, error) {
	if s.body == nil {
		body, err := s.get(context.Background(), 0)
		if err != nil {
			return 0, err
		}
		s.body = body
	}
	return s.body.Read(p)
}

func (s *ftpSource) Close() error {
	if s.body == nil {
		return nil
	}
	body := s.body
	s.body = nil
	return body.Close()
}

func (s *ftpSource) OpenAt(ctx context.Context, off int64) (io.ReadCloser, error) {
	return s.get(ctx, off)
}

func (s *ftpSource) Size() int64 { return s.size }

func (s *ftpSource) Name() string { return s.url }
