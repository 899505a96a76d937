// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/modelplane/internal/secrets"
	mperr "github.com/sigil-dev/modelplane/pkg/errors"
)

func newSecretCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage credentials referenced as keyring://service/key in config",
	}
	cmd.PersistentFlags().String("service", secrets.DefaultService, "keyring service name")
	cmd.AddCommand(
		newSecretSetCmd(c),
		newSecretListCmd(c),
		newSecretDeleteCmd(c),
	)
	return cmd
}

func newSecretSetCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key>",
		Short: "Store a secret, reading the value from --value or stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, _ := cmd.Flags().GetString("service")
			value, _ := cmd.Flags().GetString("value")
			if !cmd.Flags().Changed("value") {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return mperr.New(mperr.CodeCLIInputInvalid, "no secret value on stdin")
				}
				value = strings.TrimRight(line, "\r\n")
			}
			if value == "" {
				return mperr.New(mperr.CodeCLIInputInvalid, "secret value must not be empty")
			}

			if err := c.secrets().Set(service, args[0], value); err != nil {
				return err
			}
			ref := secrets.Ref{Service: service, Key: args[0]}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", ref)
			return err
		},
	}
	cmd.Flags().String("value", "", "secret value (prefer stdin to keep it out of shell history)")
	return cmd
}

func newSecretListCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored secret names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, _ := cmd.Flags().GetString("service")
			keys, err := c.secrets().List(service)
			if err != nil {
				return err
			}
			refs := make([]string, 0, len(keys))
			for _, k := range keys {
				refs = append(refs, secrets.Ref{Service: service, Key: k}.String())
			}
			return render(cmd, refs, func(w io.Writer) error {
				if len(refs) == 0 {
					_, err := fmt.Fprintf(w, "no secrets stored under %s\n", service)
					return err
				}
				for _, r := range refs {
					if _, err := fmt.Fprintln(w, r); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	addOutputFlag(cmd)
	return cmd
}

func newSecretDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, _ := cmd.Flags().GetString("service")
			if err := c.secrets().Delete(service, args[0]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", secrets.Ref{Service: service, Key: args[0]})
			return err
		},
	}
}
