// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/modelplane/internal/modelstore"
	"github.com/sigil-dev/modelplane/internal/rollback"
	"github.com/sigil-dev/modelplane/internal/samples"
	mperr "github.com/sigil-dev/modelplane/pkg/errors"
	"github.com/sigil-dev/modelplane/pkg/health"
)

func newCanaryCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "canary",
		Short: "Manage blue/green canary deployments",
	}
	cmd.AddCommand(
		newCanaryStartCmd(c),
		newCanaryStopCmd(c),
		newCanaryPromoteCmd(c),
		newCanaryStatusCmd(c),
	)
	return cmd
}

func newCanaryStartCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <provider> <model> <green-tag>",
		Short: "Send a share of traffic to a staged version",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			percent, _ := cmd.Flags().GetInt("percent")
			modelType, _ := cmd.Flags().GetString("model-type")
			if percent < 1 || percent > 100 {
				return mperr.Errorf(mperr.CodeCLIInputInvalid, "--percent must be within 1..100, got %d", percent)
			}
			return c.withCore(cmd, false, func(ctx context.Context, core *Core) error {
				err := core.Versions.SetDeployment(ctx, args[0], args[1], modelstore.Deployment{
					Strategy:      modelstore.StrategyBlueGreen,
					CanaryPercent: percent,
					GreenTag:      args[2],
					ModelType:     modelType,
				})
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "canary started: %s/%s green=%s at %d%%\n", args[0], args[1], args[2], percent)
				return err
			})
		},
	}
	cmd.Flags().Int("percent", 10, "share of traffic routed to green")
	cmd.Flags().String("model-type", "", "model type used to pick rollback thresholds")
	return cmd
}

func newCanaryStopCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <provider> <model>",
		Short: "Abort a canary; all traffic returns to the active version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withCore(cmd, false, func(ctx context.Context, core *Core) error {
				err := core.Orchestrator.AbortCanary(ctx, args[0], args[1], rollback.Trigger{
					Source:    "cli",
					Reason:    rollback.ReasonManual,
					Aggregate: health.Empty(),
				})
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "canary stopped: %s/%s\n", args[0], args[1])
				return err
			})
		},
	}
}

func newCanaryPromoteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "promote <provider> <model>",
		Short: "Activate the green version now",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withCore(cmd, false, func(ctx context.Context, core *Core) error {
				dep, err := core.Versions.Deployment(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				agg := core.Samples.Aggregate(samples.Key{Provider: args[0], Model: args[1], Tag: health.TagGreen},
					samples.AggregateOptions{Since: canarySince(dep)})
				info, err := core.Orchestrator.Promote(ctx, args[0], args[1], agg)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "promoted %s/%s@%s\n", info.Provider, info.Model, info.Tag)
				return err
			})
		},
	}
}

// canaryStatus is the report printed by `canary status`.
type canaryStatus struct {
	Provider   string                 `json:"provider" yaml:"provider"`
	Model      string                 `json:"model" yaml:"model"`
	Active     string                 `json:"active,omitempty" yaml:"active,omitempty"`
	Deployment *modelstore.Deployment `json:"deployment,omitempty" yaml:"deployment,omitempty"`
	Blue       health.Aggregate       `json:"blue" yaml:"blue"`
	Green      health.Aggregate       `json:"green" yaml:"green"`
}

func newCanaryStatusCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <provider> <model>",
		Short: "Show the deployment and per-tag aggregates",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withCore(cmd, false, func(ctx context.Context, core *Core) error {
				st := canaryStatus{Provider: args[0], Model: args[1]}
				cur, err := core.Versions.Current(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if cur != nil {
					st.Active = cur.Tag
				}
				if st.Deployment, err = core.Versions.Deployment(ctx, args[0], args[1]); err != nil {
					return err
				}
				key := samples.Key{Provider: args[0], Model: args[1]}
				key.Tag = health.TagBlue
				st.Blue = core.Samples.Aggregate(key, samples.AggregateOptions{})
				key.Tag = health.TagGreen
				st.Green = core.Samples.Aggregate(key, samples.AggregateOptions{Since: canarySince(st.Deployment)})

				return render(cmd, st, func(w io.Writer) error {
					if !st.Deployment.IsCanary() {
						if _, err := fmt.Fprintf(w, "%s/%s: no canary (active %s)\n", st.Provider, st.Model, orDash(st.Active)); err != nil {
							return err
						}
					} else if _, err := fmt.Fprintf(w, "%s/%s: green %s at %d%% since %s (active %s)\n",
						st.Provider, st.Model, st.Deployment.GreenTag, st.Deployment.CanaryPercent,
						formatTime(&st.Deployment.StartedAt), orDash(st.Active)); err != nil {
						return err
					}
					return aggregateTable(w, []string{health.TagBlue, health.TagGreen}, []health.Aggregate{st.Blue, st.Green})
				})
			})
		},
	}
	addOutputFlag(cmd)
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// canarySince bounds green aggregates to the running canary so samples of an
// earlier green version are ignored.
func canarySince(dep *modelstore.Deployment) time.Time {
	if !dep.IsCanary() {
		return time.Time{}
	}
	return dep.StartedAt
}
