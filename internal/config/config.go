// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	"errors"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sigil-dev/modelplane/internal/rollback"
	mperr "github.com/sigil-dev/modelplane/pkg/errors"
)

// EnvPrefix prefixes every environment override, e.g.
// MODELPLANE_ROUTING_RETRY_BUDGET.
const EnvPrefix = "MODELPLANE"

// DefaultThresholdsKey names the thresholds entry used for model types
// without their own entry.
const DefaultThresholdsKey = "default"

// Config is the top-level modelplane configuration.
type Config struct {
	DataDir   string                    `mapstructure:"data_dir"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Health    HealthConfig              `mapstructure:"health"`
	Routing   RoutingConfig             `mapstructure:"routing"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Samples   SamplesConfig             `mapstructure:"samples"`
	Canary    CanaryConfig              `mapstructure:"canary"`
	Rollback  RollbackConfig            `mapstructure:"rollback"`
	Notify    NotifyConfig              `mapstructure:"notify"`
	Server    ServerConfig              `mapstructure:"server"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HealthConfig controls the provider health prober.
type HealthConfig struct {
	Interval           time.Duration `mapstructure:"interval"`
	Timeout            time.Duration `mapstructure:"timeout"`
	UnhealthyThreshold int           `mapstructure:"unhealthy_threshold"`
}

// RoutingConfig controls fallback and the task type → provider rules.
type RoutingConfig struct {
	RetryBudget    int                 `mapstructure:"retry_budget"`
	AttemptTimeout time.Duration       `mapstructure:"attempt_timeout"`
	Rules          map[string][]string `mapstructure:"rules"`
}

// ProviderConfig names a provider adapter type and its settings.
type ProviderConfig struct {
	Type     string         `mapstructure:"type"`
	Settings map[string]any `mapstructure:"settings"`
}

// SamplesConfig controls the health sample windows and their persistence.
type SamplesConfig struct {
	Window    int           `mapstructure:"window"`
	SLA       time.Duration `mapstructure:"sla"`
	Persist   bool          `mapstructure:"persist"`
	Backend   string        `mapstructure:"backend"`
	QueueSize int           `mapstructure:"queue_size"`
}

// CanaryConfig controls when green is evaluated and promoted.
type CanaryConfig struct {
	MinSamples      int     `mapstructure:"min_samples"`
	MinPromoteScore float64 `mapstructure:"min_promote_score"`
}

// RollbackConfig controls the boot guard and rollback thresholds.
type RollbackConfig struct {
	MinSamples    int                            `mapstructure:"min_samples"`
	RecentWindow  time.Duration                  `mapstructure:"recent_window"`
	WatchInterval time.Duration                  `mapstructure:"watch_interval"`
	Thresholds    map[string]rollback.Thresholds `mapstructure:"thresholds"`
}

// NotifyConfig controls admin notifications.
type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	QueueSize  int           `mapstructure:"queue_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// ModelsDir is where the version store keeps model trees.
func (c *Config) ModelsDir() string {
	return filepath.Join(c.DataDir, "models")
}

// ThresholdSet converts the thresholds map into a rollback.ThresholdSet.
func (c *Config) ThresholdSet() rollback.ThresholdSet {
	set := rollback.ThresholdSet{
		Default: rollback.DefaultThresholds(),
		ByType:  make(map[string]rollback.Thresholds),
	}
	for name, t := range c.Rollback.Thresholds {
		if name == DefaultThresholdsKey {
			set.Default = t
			continue
		}
		set.ByType[name] = t
	}
	return set
}

// DefaultDataDir returns ~/.local/share/modelplane, or ./data when the
// home directory cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".local", "share", "modelplane")
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	def := rollback.DefaultThresholds()

	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("health.interval", "30s")
	v.SetDefault("health.timeout", "5s")
	v.SetDefault("health.unhealthy_threshold", 2)
	v.SetDefault("routing.retry_budget", 2)
	v.SetDefault("routing.attempt_timeout", "30s")
	v.SetDefault("samples.window", 200)
	v.SetDefault("samples.sla", "2s")
	v.SetDefault("samples.persist", true)
	v.SetDefault("samples.backend", "sqlite")
	v.SetDefault("samples.queue_size", 1024)
	v.SetDefault("canary.min_samples", 100)
	v.SetDefault("canary.min_promote_score", 0.8)
	v.SetDefault("rollback.min_samples", 20)
	v.SetDefault("rollback.recent_window", "1h")
	v.SetDefault("rollback.watch_interval", "0s")
	v.SetDefault("rollback.thresholds.default.max_error_rate", def.MaxErrorRate)
	v.SetDefault("rollback.thresholds.default.min_success_rate", def.MinSuccessRate)
	v.SetDefault("rollback.thresholds.default.max_avg_latency", def.MaxAvgLatency.String())
	v.SetDefault("notify.queue_size", 64)
	v.SetDefault("notify.timeout", "5s")
	v.SetDefault("server.listen", "127.0.0.1:9464")
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix MODELPLANE_).
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, mperr.Wrapf(err, mperr.CodeConfigLoadReadFailure, "reading config %s", path)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, mperr.Wrap(err, mperr.CodeConfigParseInvalidFormat, "unmarshalling config")
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, mperr.Wrap(errors.Join(errs...), mperr.CodeConfigValidateInvalidValue, "validating config")
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found, collecting all issues
// rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, invalid("config: data_dir must not be empty"))
	}
	errs = append(errs, c.validateLogging()...)
	errs = append(errs, c.validateHealth()...)
	errs = append(errs, c.validateRouting()...)
	errs = append(errs, c.validateSamples()...)
	errs = append(errs, c.validateCanary()...)
	errs = append(errs, c.validateRollback()...)
	errs = append(errs, c.validateNotify()...)
	errs = append(errs, validateListen("server.listen", c.Server.Listen)...)

	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, invalid("config: logging.level must be one of [debug, info, warn, error], got %q", c.Logging.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Logging.Format] {
		errs = append(errs, invalid("config: logging.format must be one of [text, json], got %q", c.Logging.Format))
	}

	return errs
}

func (c *Config) validateHealth() []error {
	var errs []error

	if c.Health.Interval <= 0 {
		errs = append(errs, invalid("config: health.interval must be greater than 0, got %s", c.Health.Interval))
	}
	if c.Health.Timeout <= 0 {
		errs = append(errs, invalid("config: health.timeout must be greater than 0, got %s", c.Health.Timeout))
	}
	if c.Health.UnhealthyThreshold <= 0 {
		errs = append(errs, invalid("config: health.unhealthy_threshold must be greater than 0, got %d", c.Health.UnhealthyThreshold))
	}

	return errs
}

func (c *Config) validateRouting() []error {
	var errs []error

	if c.Routing.RetryBudget < 0 {
		errs = append(errs, invalid("config: routing.retry_budget must not be negative, got %d", c.Routing.RetryBudget))
	}
	if c.Routing.AttemptTimeout <= 0 {
		errs = append(errs, invalid("config: routing.attempt_timeout must be greater than 0, got %s", c.Routing.AttemptTimeout))
	}

	for name, p := range c.Providers {
		if p.Type == "" {
			errs = append(errs, invalid("config: providers.%s.type must not be empty", name))
		}
	}

	for taskType, names := range c.Routing.Rules {
		if len(names) == 0 {
			errs = append(errs, invalid("config: routing.rules.%s must list at least one provider", taskType))
		}
		seen := make(map[string]bool, len(names))
		for i, name := range names {
			if _, ok := c.Providers[name]; !ok {
				errs = append(errs, invalid("config: routing.rules.%s[%d] references provider %q which is not configured",
					taskType, i, name))
			}
			if seen[name] {
				errs = append(errs, invalid("config: routing.rules.%s lists provider %q twice", taskType, name))
			}
			seen[name] = true
		}
	}

	return errs
}

func (c *Config) validateSamples() []error {
	var errs []error

	if c.Samples.Window <= 0 {
		errs = append(errs, invalid("config: samples.window must be greater than 0, got %d", c.Samples.Window))
	}
	if c.Samples.SLA < 0 {
		errs = append(errs, invalid("config: samples.sla must not be negative, got %s", c.Samples.SLA))
	}
	if c.Samples.Persist {
		if c.Samples.Backend == "" {
			errs = append(errs, invalid("config: samples.backend must not be empty when samples.persist is set"))
		}
		if c.Samples.QueueSize <= 0 {
			errs = append(errs, invalid("config: samples.queue_size must be greater than 0, got %d", c.Samples.QueueSize))
		}
	}

	return errs
}

func (c *Config) validateCanary() []error {
	var errs []error

	if c.Canary.MinSamples <= 0 {
		errs = append(errs, invalid("config: canary.min_samples must be greater than 0, got %d", c.Canary.MinSamples))
	}
	if c.Canary.MinPromoteScore < 0 || c.Canary.MinPromoteScore > 1 {
		errs = append(errs, invalid("config: canary.min_promote_score must be within [0, 1], got %g", c.Canary.MinPromoteScore))
	}
	if c.Canary.MinSamples > c.Samples.Window && c.Samples.Window > 0 {
		errs = append(errs, invalid("config: canary.min_samples (%d) exceeds samples.window (%d)",
			c.Canary.MinSamples, c.Samples.Window))
	}

	return errs
}

func (c *Config) validateRollback() []error {
	var errs []error

	if c.Rollback.MinSamples <= 0 {
		errs = append(errs, invalid("config: rollback.min_samples must be greater than 0, got %d", c.Rollback.MinSamples))
	}
	if c.Rollback.RecentWindow <= 0 {
		errs = append(errs, invalid("config: rollback.recent_window must be greater than 0, got %s", c.Rollback.RecentWindow))
	}
	if c.Rollback.WatchInterval < 0 {
		errs = append(errs, invalid("config: rollback.watch_interval must not be negative, got %s", c.Rollback.WatchInterval))
	}

	for name, t := range c.Rollback.Thresholds {
		if t.MaxErrorRate < 0 || t.MaxErrorRate > 1 {
			errs = append(errs, invalid("config: rollback.thresholds.%s.max_error_rate must be within [0, 1], got %g", name, t.MaxErrorRate))
		}
		if t.MinSuccessRate < 0 || t.MinSuccessRate > 1 {
			errs = append(errs, invalid("config: rollback.thresholds.%s.min_success_rate must be within [0, 1], got %g", name, t.MinSuccessRate))
		}
		if t.MaxAvgLatency <= 0 {
			errs = append(errs, invalid("config: rollback.thresholds.%s.max_avg_latency must be greater than 0, got %s", name, t.MaxAvgLatency))
		}
	}

	return errs
}

func (c *Config) validateNotify() []error {
	var errs []error

	if c.Notify.WebhookURL != "" {
		u, err := url.Parse(c.Notify.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, invalid("config: notify.webhook_url must be an http(s) URL, got %q", c.Notify.WebhookURL))
		}
	}
	if c.Notify.QueueSize <= 0 {
		errs = append(errs, invalid("config: notify.queue_size must be greater than 0, got %d", c.Notify.QueueSize))
	}
	if c.Notify.Timeout <= 0 {
		errs = append(errs, invalid("config: notify.timeout must be greater than 0, got %s", c.Notify.Timeout))
	}

	return errs
}

func validateListen(key, addr string) []error {
	if addr == "" {
		return []error{invalid("config: %s must not be empty", key)}
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return []error{invalid("config: %s must be a valid host:port address, got %q: %v", key, addr, err)}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return []error{invalid("config: %s port must be a number, got %q", key, portStr)}
	}
	if port < 0 || port > 65535 {
		return []error{invalid("config: %s port must be between 0 and 65535, got %d", key, port)}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return mperr.Errorf(mperr.CodeConfigValidateInvalidValue, format, args...)
}
