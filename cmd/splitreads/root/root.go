// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package root

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TedBrookings/split-reads/bgzf"
	"github.com/TedBrookings/split-reads/cmd/splitreads/root/getchunk"
	"github.com/TedBrookings/split-reads/cmd/splitreads/root/index"
	"github.com/TedBrookings/split-reads/cmd/splitreads/root/internal/cliutil"
	"github.com/TedBrookings/split-reads/cmd/splitreads/root/tell"
	"github.com/TedBrookings/split-reads/cram"
	"github.com/TedBrookings/split-reads/scan"
	"github.com/TedBrookings/split-reads/si"
	"github.com/TedBrookings/split-reads/split"
)

// Exit codes, stable for scripting.
const (
	ExitOK        = 0
	ExitUsage     = 2
	ExitIO        = 3
	ExitMalformed = 4
	ExitMismatch  = 5
	ExitCancelled = 6
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "splitreads <command> [flags]",
		Short: "Split index builder for query-grouped read files",
		Long: `splitreads partitions a query-grouped SAM, BAM, CRAM or FASTQ file
into contiguous chunks without rewriting it, so any chunk c of n can
later be streamed straight from the original file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	viper.SetEnvPrefix("SPLITREADS")
	viper.AutomaticEnv()

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &cliutil.UsageError{Err: err}
	})

	cmd.AddCommand(index.NewIndexCmd())
	cmd.AddCommand(getchunk.NewGetChunkCmd())
	cmd.AddCommand(tell.NewTellCmd())

	return cmd
}

// ExitCode maps an error to the documented exit codes.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ExitCancelled
	case errors.Is(err, si.ErrCorruptIndex),
		errors.Is(err, split.ErrIndexSourceMismatch):
		return ExitMismatch
	case errors.Is(err, scan.ErrMalformedRecord),
		errors.Is(err, scan.ErrUnexpectedEOF),
		errors.Is(err, scan.ErrUnsupportedVariant),
		errors.Is(err, split.ErrNotQueryGrouped),
		errors.Is(err, bgzf.ErrCorrupt),
		errors.Is(err, cram.ErrCorrupt),
		errors.Is(err, cram.ErrNoCRAM):
		return ExitMalformed
	case errors.Is(err, split.ErrChunkOutOfRange),
		errors.Is(err, split.ErrSplitTooFine),
		isUsage(err):
		return ExitUsage
	default:
		return ExitIO
	}
}

// isUsage reports flag and argument errors.
func isUsage(err error) bool {
	var u *cliutil.UsageError
	return errors.As(err, &u)
}
