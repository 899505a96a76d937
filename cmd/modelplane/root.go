// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sigil-dev/modelplane/internal/config"
	"github.com/sigil-dev/modelplane/internal/secrets"
	mperr "github.com/sigil-dev/modelplane/pkg/errors"
)

// Build-time variables set via ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// cli carries the state every subcommand shares: its own viper instance
// and the configuration resolved before the command runs.
type cli struct {
	v       *viper.Viper
	cfg     *config.Config
	secrets func() secrets.Store
}

// NewRootCmd creates the root modelplane command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	c := &cli{
		v:       viper.New(),
		secrets: func() secrets.Store { return secrets.NewKeyringStore() },
	}

	root := &cobra.Command{
		Use:           "modelplane",
		Short:         "modelplane: model serving control plane",
		Long:          "modelplane routes inference tasks across providers, manages model versions and rolls back degraded deployments.",
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
	}

	// Global flags map to viper keys in init.
	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("data-dir", "", "path to data directory")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(c),
		newVersionCmd(c),
		newCanaryCmd(c),
		newHealthCmd(c),
		newGuardCmd(c),
		newSamplesCmd(c),
		newSecretCmd(c),
	)

	return root
}

// init resolves configuration with the standard precedence
// (flag > env > file > defaults) and installs the logger.
func (c *cli) init(cmd *cobra.Command) error {
	v := c.v

	config.SetDefaults(v)
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return mperr.Wrapf(err, mperr.CodeConfigLoadReadFailure, "reading config file %s", cfgFile)
		}
		config.WarnInsecurePermissions(cfgFile)
	} else {
		// SetConfigType is omitted so viper never matches the bare
		// ./modelplane binary.
		v.SetConfigName("modelplane")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/modelplane")
		v.AddConfigPath("/etc/modelplane")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return mperr.Wrap(err, mperr.CodeConfigLoadReadFailure, "reading config")
			}
			if path, err := config.DefaultConfigPath(); err == nil && config.BootstrapConfig(path) {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return mperr.Wrap(err, mperr.CodeConfigLoadReadFailure, "reading bootstrapped config")
				}
			}
		}
	}

	if err := v.BindPFlag("data_dir", cmd.Root().PersistentFlags().Lookup("data-dir")); err != nil {
		return mperr.Wrap(err, mperr.CodeCLISetupFailure, "binding data-dir flag")
	}

	verbose, _ := cmd.Flags().GetBool("verbose")

	// secret commands only touch the keyring and must keep working while
	// config references still dangle.
	if isSecretCmd(cmd) {
		setupLogging(cmd.ErrOrStderr(), config.LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		}, verbose)
		return nil
	}

	if secrets.HasRefs(v) {
		if err := secrets.ResolveViper(v, c.secrets()); err != nil {
			return err
		}
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	c.cfg = cfg

	setupLogging(cmd.ErrOrStderr(), cfg.Logging, verbose)
	return nil
}

// setupLogging installs the default slog handler.
func setupLogging(w io.Writer, lc config.LoggingConfig, verbose bool) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func isSecretCmd(cmd *cobra.Command) bool {
	for ; cmd != nil; cmd = cmd.Parent() {
		if cmd.Name() == "secret" {
			return true
		}
	}
	return false
}
