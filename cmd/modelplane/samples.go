// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	mperr "github.com/sigil-dev/modelplane/pkg/errors"
)

func newSamplesCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "samples",
		Short: "Maintain persisted health samples",
	}
	cmd.AddCommand(newSamplesPruneCmd(c))
	return cmd
}

func newSamplesPruneCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete persisted samples older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			if olderThan <= 0 {
				return mperr.New(mperr.CodeCLIInputInvalid, "--older-than must be positive")
			}
			return c.withCore(cmd, false, func(ctx context.Context, core *Core) error {
				if core.Sink == nil {
					return mperr.New(mperr.CodeCLIInputInvalid, "sample persistence is disabled")
				}
				n, err := core.Sink.PruneSamples(ctx, time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "pruned %d samples\n", n)
				return err
			})
		},
	}
	cmd.Flags().Duration("older-than", 7*24*time.Hour, "age beyond which samples are deleted")
	return cmd
}
