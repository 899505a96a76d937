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
	mperr "github.com/sigil-dev/modelplane/pkg/errors"
	"github.com/sigil-dev/modelplane/pkg/health"
)

// withCore wires the core for one command and closes it afterwards.
func (c *cli) withCore(cmd *cobra.Command, dryRun bool, fn func(ctx context.Context, core *Core) error) error {
	ctx := commandContext(cmd)
	core, err := WireCore(ctx, c.cfg, dryRun)
	if err != nil {
		return err
	}
	defer func() { _ = core.Close() }()
	return fn(ctx, core)
}

func newVersionCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Manage model versions",
		Long:  "Stage, activate, roll back, inspect and prune the versions of a (provider, model) pair.",
	}

	cmd.AddCommand(
		newVersionStageCmd(c),
		newVersionActivateCmd(c),
		newVersionRollbackCmd(c),
		newVersionCurrentCmd(c),
		newVersionListCmd(c),
		newVersionHistoryCmd(c),
		newVersionPruneCmd(c),
		newVersionVerifyCmd(c),
	)
	return cmd
}

func newVersionStageCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage <provider> <model> <tag>",
		Short: "Copy an artifact into a new staged version",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, _ := cmd.Flags().GetString("source")
			if source == "" {
				return mperr.New(mperr.CodeCLIInputInvalid, "--source is required")
			}
			return c.withCore(cmd, false, func(ctx context.Context, core *Core) error {
				path, err := core.Versions.PrepareStaging(ctx, args[0], args[1], args[2], source)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "staged %s/%s@%s at %s\n", args[0], args[1], args[2], path)
				return err
			})
		},
	}
	cmd.Flags().String("source", "", "artifact file or directory to stage")
	return cmd
}

func newVersionActivateCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activate <provider> <model> <tag>",
		Short: "Make a staged version the active one",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, _ := cmd.Flags().GetStringToString("meta")
			if modelType, _ := cmd.Flags().GetString("model-type"); modelType != "" {
				if meta == nil {
					meta = map[string]string{}
				}
				meta[modelstore.MetaModelType] = modelType
			}
			return c.withCore(cmd, false, func(ctx context.Context, core *Core) error {
				info, err := core.Versions.Activate(ctx, args[0], args[1], args[2], meta)
				if err != nil {
					return err
				}
				return render(cmd, info, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "activated %s/%s@%s (%s)\n", info.Provider, info.Model, info.Tag, info.Checksum)
					return err
				})
			})
		},
	}
	cmd.Flags().StringToString("meta", nil, "history metadata as key=value pairs")
	cmd.Flags().String("model-type", "", "model type used to pick rollback thresholds")
	addOutputFlag(cmd)
	return cmd
}

func newVersionRollbackCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback <provider> <model>",
		Short: "Re-activate the previous version",
		Long:  "Re-activate the most recent earlier version from history, or the tag given with --to.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, _ := cmd.Flags().GetString("to")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			if to != "" && dryRun {
				return mperr.New(mperr.CodeCLIInputInvalid, "--to and --dry-run are mutually exclusive")
			}
			out := cmd.OutOrStdout()

			return c.withCore(cmd, dryRun, func(ctx context.Context, core *Core) error {
				if to != "" {
					info, err := core.Versions.Rollback(ctx, args[0], args[1], to)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintf(out, "rolled back %s/%s to %s\n", args[0], args[1], info.Tag)
					return err
				}

				target, ok, err := core.Orchestrator.PerformRollback(ctx, args[0], args[1], dryRun, rollback.Trigger{
					Source:    "cli",
					Reason:    rollback.ReasonManual,
					Aggregate: health.Empty(),
				})
				if err != nil {
					return err
				}
				switch {
				case !ok:
					_, err = fmt.Fprintf(out, "nothing to roll back for %s/%s\n", args[0], args[1])
				case dryRun:
					_, err = fmt.Fprintf(out, "would roll back %s/%s to %s\n", args[0], args[1], target)
				default:
					_, err = fmt.Fprintf(out, "rolled back %s/%s to %s\n", args[0], args[1], target)
				}
				return err
			})
		},
	}
	cmd.Flags().String("to", "", "explicit target tag")
	cmd.Flags().Bool("dry-run", false, "report the candidate without activating it")
	return cmd
}

func newVersionCurrentCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "current <provider> <model>",
		Short: "Show the active version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withCore(cmd, false, func(ctx context.Context, core *Core) error {
				info, err := core.Versions.Current(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if info == nil {
					return mperr.New(mperr.CodeModelStoreVersionNotFound, "no active version",
						mperr.FieldProvider(args[0]), mperr.FieldModel(args[1]))
				}
				return render(cmd, info, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%s\t%s\t%s\n", info.Tag, info.Checksum, formatTime(info.ActivatedAt))
					return err
				})
			})
		},
	}
	addOutputFlag(cmd)
	return cmd
}

func newVersionListCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [<provider> <model>]",
		Short: "List managed models, or the staged versions of one model",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return mperr.New(mperr.CodeCLIInputInvalid, "expected no arguments or <provider> <model>")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withCore(cmd, false, func(ctx context.Context, core *Core) error {
				if len(args) == 0 {
					return listModels(ctx, cmd, core)
				}
				versions, err := core.Versions.ListVersions(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return render(cmd, versions, func(w io.Writer) error {
					rows := make([][]any, 0, len(versions))
					for _, v := range versions {
						active := ""
						if v.Active {
							active = "*"
						}
						rows = append(rows, []any{v.Tag, active, v.Checksum, formatTime(v.ActivatedAt)})
					}
					return table(w, "TAG\tACTIVE\tCHECKSUM\tACTIVATED", rows)
				})
			})
		},
	}
	addOutputFlag(cmd)
	return cmd
}

// modelRow is one line of the model listing.
type modelRow struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`
	Active   string `json:"active,omitempty" yaml:"active,omitempty"`
	Green    string `json:"green,omitempty" yaml:"green,omitempty"`
	Percent  int    `json:"canary_percent,omitempty" yaml:"canary_percent,omitempty"`
}

func listModels(ctx context.Context, cmd *cobra.Command, core *Core) error {
	keys, err := core.Versions.Models(ctx)
	if err != nil {
		return err
	}
	rows := make([]modelRow, 0, len(keys))
	for _, k := range keys {
		row := modelRow{Provider: k.Provider, Model: k.Model}
		cur, err := core.Versions.Current(ctx, k.Provider, k.Model)
		if err != nil {
			return err
		}
		if cur != nil {
			row.Active = cur.Tag
		}
		dep, err := core.Versions.Deployment(ctx, k.Provider, k.Model)
		if err != nil {
			return err
		}
		if dep.IsCanary() {
			row.Green = dep.GreenTag
			row.Percent = dep.CanaryPercent
		}
		rows = append(rows, row)
	}
	return render(cmd, rows, func(w io.Writer) error {
		cells := make([][]any, 0, len(rows))
		for _, r := range rows {
			canary := "-"
			if r.Green != "" {
				canary = fmt.Sprintf("%s@%d%%", r.Green, r.Percent)
			}
			cells = append(cells, []any{r.Provider, r.Model, r.Active, canary})
		}
		return table(w, "PROVIDER\tMODEL\tACTIVE\tCANARY", cells)
	})
}

func newVersionHistoryCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <provider> <model>",
		Short: "Show the activation history",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withCore(cmd, false, func(ctx context.Context, core *Core) error {
				hist, err := core.Versions.History(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return render(cmd, hist, func(w io.Writer) error {
					rows := make([][]any, 0, len(hist))
					for _, e := range hist {
						at := e.ActivatedAt
						rows = append(rows, []any{formatTime(&at), e.Action(), e.VersionTag, e.Checksum})
					}
					return table(w, "ACTIVATED\tACTION\tTAG\tCHECKSUM", rows)
				})
			})
		},
	}
	addOutputFlag(cmd)
	return cmd
}

func newVersionPruneCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune <provider> <model>",
		Short: "Delete old staged versions",
		Long:  "Delete staged versions except the active one, a running canary's green tag and the --keep most recently activated tags.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			keep, _ := cmd.Flags().GetInt("keep")
			return c.withCore(cmd, false, func(ctx context.Context, core *Core) error {
				removed, err := core.Versions.Prune(ctx, args[0], args[1], keep)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(removed) == 0 {
					_, err = fmt.Fprintln(out, "nothing to prune")
					return err
				}
				for _, tag := range removed {
					if _, err := fmt.Fprintf(out, "removed %s\n", tag); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().Int("keep", 3, "recently activated versions to keep besides the active one")
	return cmd
}

func newVersionVerifyCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <provider> <model> [tag]",
		Short: "Recompute a version's checksum and compare it to history",
		Long:  "Recompute the checksum of tag, or of the active version when no tag is given.",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withCore(cmd, false, func(ctx context.Context, core *Core) error {
				tag := ""
				if len(args) == 3 {
					tag = args[2]
				} else {
					cur, err := core.Versions.Current(ctx, args[0], args[1])
					if err != nil {
						return err
					}
					if cur == nil {
						return mperr.New(mperr.CodeModelStoreVersionNotFound, "no active version",
							mperr.FieldProvider(args[0]), mperr.FieldModel(args[1]))
					}
					tag = cur.Tag
				}
				if err := core.Versions.Verify(ctx, args[0], args[1], tag); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s/%s@%s: checksum ok\n", args[0], args[1], tag)
				return err
			})
		},
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
