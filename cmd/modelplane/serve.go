// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane",
		Long:  "Load configuration, wire every subsystem, run the boot guard and serve the ops API until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, c)
		},
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")

	return cmd
}

func runServe(cmd *cobra.Command, c *cli) error {
	cfg := c.cfg
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	plane, err := WirePlane(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := plane.Close(); err != nil {
			slog.Warn("shutdown incomplete", "error", err)
		}
	}()

	if _, err := fmt.Fprintf(cmd.OutOrStdout(), "modelplane %s listening on %s\n", version, cfg.Server.Listen); err != nil {
		return err
	}
	return plane.Run(ctx)
}

// commandContext returns the command's context, falling back to Background
// when the command is executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
