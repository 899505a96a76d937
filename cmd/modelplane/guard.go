// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/modelplane/internal/rollback"
)

func newGuardCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guard",
		Short: "Run the boot safety check once",
		Long: "Evaluate every recently activated version against the rollback thresholds using " +
			"persisted samples, and roll back the ones that are degraded.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			return c.withCore(cmd, dryRun, func(ctx context.Context, core *Core) error {
				results := core.Guard.Check(ctx)
				return render(cmd, results, func(w io.Writer) error {
					return guardTable(w, results, dryRun)
				})
			})
		},
	}
	cmd.Flags().Bool("dry-run", false, "report degraded versions without rolling back")
	addOutputFlag(cmd)
	return cmd
}

func guardTable(w io.Writer, results []rollback.GuardResult, dryRun bool) error {
	rows := make([][]any, 0, len(results))
	for _, r := range results {
		outcome := string(r.Decision.Reason)
		switch {
		case r.Err != nil:
			outcome = "error: " + r.Err.Error()
		case r.Skipped != "":
			outcome = "skipped: " + r.Skipped
		case r.RolledBackTo != "" && dryRun:
			outcome = fmt.Sprintf("would roll back to %s (%s)", r.RolledBackTo, r.Decision.Reason)
		case r.RolledBackTo != "":
			outcome = fmt.Sprintf("rolled back to %s (%s)", r.RolledBackTo, r.Decision.Reason)
		case r.Decision.Rollback:
			outcome = fmt.Sprintf("degraded, no earlier version (%s)", r.Decision.Reason)
		}
		rows = append(rows, []any{r.Key.String(), orDash(r.Tag), r.Decision.Aggregate.Count, outcome})
	}
	return table(w, "MODEL\tACTIVE\tSAMPLES\tOUTCOME", rows)
}
