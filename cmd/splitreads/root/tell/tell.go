// Copyright ©2024 The split-reads Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tell

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TedBrookings/split-reads/cmd/splitreads/root/internal/cliutil"
	"github.com/TedBrookings/split-reads/si"
)

func NewTellCmd() *cobra.Command {
	var (
		indexIn string
		reads   bool
		queries bool
		chunks  bool
	)

	cmd := &cobra.Command{
		Use:   "tell -I INDEX [--reads|--queries|--chunks]",
		Short: "Print scalars from a split index",
		RunE: func(cmd *cobra.Command, args []string) error {
			if indexIn == "" {
				return cliutil.Usagef("tell: -I is required")
			}
			var set int
			for _, b := range []bool{reads, queries, chunks} {
				if b {
					set++
				}
			}
			if set > 1 {
				return cliutil.Usagef("tell: --reads, --queries and --chunks are mutually exclusive")
			}

			idx, err := si.ReadFile(indexIn)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case reads:
				fmt.Fprintln(out, idx.Records)
			case queries:
				fmt.Fprintln(out, idx.Groups)
			case chunks:
				fmt.Fprintln(out, len(idx.Chunks))
			default:
				fmt.Fprintf(out, "reads: %d\nqueries: %d\nchunks: %d\n", idx.Records, idx.Groups, len(idx.Chunks))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&indexIn, "index", "I", "", "index path")
	cmd.Flags().BoolVar(&reads, "reads", false, "print the record count")
	cmd.Flags().BoolVar(&queries, "queries", false, "print the query group count")
	cmd.Flags().BoolVar(&chunks, "chunks", false, "print the stored chunk count")

	return cmd
}
