// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package index

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TedBrookings/split-reads/cmd/splitreads/root/internal/cliutil"
	"github.com/TedBrookings/split-reads/si"
	"github.com/TedBrookings/split-reads/source"
	"github.com/TedBrookings/split-reads/split"
)

func NewIndexCmd() *cobra.Command {
	var (
		input         string
		output        string
		indexOut      string
		threads       int
		targetRecords uint64
		targetChunks  int
		strict        bool
		quiet         bool
	)

	cmd := &cobra.Command{
		Use:   "index -i SRC [-o OUT] [-I INDEX_OUT]",
		Short: "Build a split index over a query-grouped read file",
		Long: `Walk a query-grouped SAM, BAM, CRAM or FASTQ file and write its
split index. With -o, the input bytes are simultaneously forwarded to
OUT and the index describes OUT, which lets a pipe be indexed while it
is captured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" {
				return cliutil.Usagef("index: -i is required")
			}
			if targetRecords > 0 && targetChunks > 0 {
				return cliutil.Usagef("index: --target-records and --target-chunks are mutually exclusive")
			}
			indexPath := indexOut
			if indexPath == "" {
				switch {
				case output != "" && output != "-":
					indexPath = output + ".si"
				case input != "-":
					indexPath = input + ".si"
				default:
					return cliutil.Usagef("index: -I is required when reading standard input without -o")
				}
			}

			ctx := cmd.Context()
			src, err := source.Open(ctx, input)
			if err != nil {
				return err
			}
			defer src.Close()

			idx, err := split.Build(ctx, src, split.Options{
				TargetRecords: targetRecords,
				TargetChunks:  targetChunks,
				Strict:        strict,
				Workers:       threads,
				PassThrough:   output,
				Logger:        log.Default(),
				Quiet:         quiet,
			})
			if err != nil {
				return err
			}
			return si.WriteFile(indexPath, idx)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "input path or URL; - reads standard input")
	cmd.Flags().StringVarP(&output, "output", "o", "", "pass-through sink path; the index will describe this file")
	cmd.Flags().StringVarP(&indexOut, "index", "I", "", "index output path (default SRC.si, or OUT.si with -o)")
	cmd.Flags().IntVarP(&threads, "threads", "t", viper.GetInt("THREADS"), "parallel walking degree (default logical CPUs)")
	cmd.Flags().Uint64Var(&targetRecords, "target-records", 0, "close chunks at this many records")
	cmd.Flags().IntVar(&targetChunks, "target-chunks", 0, "aim for this many near-equal chunks")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail when the input does not look query grouped")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "suppress progress logging")

	return cmd
}
