// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/modelplane/internal/samples"
	"github.com/sigil-dev/modelplane/pkg/health"
)

func newHealthCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Inspect recorded inference health",
	}
	cmd.AddCommand(newHealthShowCmd(c))
	return cmd
}

// tagAggregate is one row of `health show`.
type tagAggregate struct {
	Tag       string           `json:"tag" yaml:"tag"`
	Aggregate health.Aggregate `json:"aggregate" yaml:"aggregate"`
}

func newHealthShowCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <provider> <model>",
		Short: "Show sample aggregates from persisted samples",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag, _ := cmd.Flags().GetString("tag")
			lastN, _ := cmd.Flags().GetInt("last-n")
			tags := []string{health.TagBlue, health.TagGreen}
			if tag != "" {
				tags = []string{tag}
			}

			return c.withCore(cmd, false, func(_ context.Context, core *Core) error {
				rows := make([]tagAggregate, 0, len(tags))
				for _, t := range tags {
					key := samples.Key{Provider: args[0], Model: args[1], Tag: t}
					rows = append(rows, tagAggregate{
						Tag:       t,
						Aggregate: core.Samples.Aggregate(key, samples.AggregateOptions{LastN: lastN}),
					})
				}
				return render(cmd, rows, func(w io.Writer) error {
					names := make([]string, len(rows))
					aggs := make([]health.Aggregate, len(rows))
					for i, r := range rows {
						names[i], aggs[i] = r.Tag, r.Aggregate
					}
					return aggregateTable(w, names, aggs)
				})
			})
		},
	}
	cmd.Flags().String("tag", "", "deployment tag (blue or green); both when empty")
	cmd.Flags().Int("last-n", 0, "aggregate the newest N samples only")
	addOutputFlag(cmd)
	return cmd
}

func aggregateTable(w io.Writer, tags []string, aggs []health.Aggregate) error {
	rows := make([][]any, 0, len(tags))
	for i, tag := range tags {
		a := aggs[i]
		rows = append(rows, []any{
			tag, a.Count,
			fmt.Sprintf("%.3f", a.ErrorRate),
			fmt.Sprintf("%.3f", a.SuccessRate),
			a.P50Latency, a.AvgLatency,
			fmt.Sprintf("%.3f", a.AvgScore),
		})
	}
	return table(w, "TAG\tCOUNT\tERROR_RATE\tSUCCESS_RATE\tP50\tAVG\tSCORE", rows)
}
