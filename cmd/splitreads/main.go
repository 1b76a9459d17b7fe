// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command splitreads builds and consumes split indexes over
// query-grouped read files, so that any chunk c of n can be streamed
// from the original file without pre-splitting it into shards.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/TedBrookings/split-reads/cmd/splitreads/root"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.NewRootCmd().ExecuteContext(ctx); err != nil {
		log.Error(err.Error())
		os.Exit(root.ExitCode(err))
	}
}
