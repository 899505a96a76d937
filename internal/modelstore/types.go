// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package modelstore

import (
	"time"
)

// Metadata keys written into history entries by the store itself.
const (
	MetaAction         = "action"
	MetaRolledBackFrom = "rolledBackFrom"
	MetaPromotedFrom   = "promotedFrom"
	MetaModelType      = "modelType"

	ActionActivate = "activate"
	ActionRollback = "rollback"
)

// ModelKey identifies one (provider, model) tree under the store root.
type ModelKey struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

func (k ModelKey) String() string {
	return k.Provider + "/" + k.Model
}

// VersionInfo describes a staged version directory.
type VersionInfo struct {
	Provider    string            `json:"provider" yaml:"provider"`
	Model       string            `json:"model" yaml:"model"`
	Tag         string            `json:"tag" yaml:"tag"`
	Checksum    string            `json:"checksum" yaml:"checksum"`
	Path        string            `json:"path" yaml:"path"`
	Active      bool              `json:"active" yaml:"active"`
	ActivatedAt *time.Time        `json:"activated_at,omitempty" yaml:"activated_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// HistoryEntry is one record of the append-only activation history.
// The JSON field names are part of the on-disk format.
type HistoryEntry struct {
	VersionTag  string            `json:"versionTag" yaml:"version_tag"`
	Checksum    string            `json:"checksum" yaml:"checksum"`
	ActivatedAt time.Time         `json:"activatedAt" yaml:"activated_at"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	EventID     string            `json:"eventId,omitempty" yaml:"event_id,omitempty"`
}

// Action reports whether the entry was an activation or a rollback.
func (e HistoryEntry) Action() string {
	if a := e.Metadata[MetaAction]; a != "" {
		return a
	}
	return ActionActivate
}

// Strategy is a deployment strategy for a (provider, model) pair.
type Strategy string

const (
	StrategyNone      Strategy = "none"
	StrategyBlueGreen Strategy = "bluegreen"
)

// Deployment is the canary state of a (provider, model) pair. Green is a
// staged but not yet active version receiving CanaryPercent of traffic.
type Deployment struct {
	Strategy      Strategy  `json:"strategy" yaml:"strategy"`
	CanaryPercent int       `json:"canaryPercent" yaml:"canary_percent"`
	GreenTag      string    `json:"greenTag" yaml:"green_tag"`
	ModelType     string    `json:"modelType,omitempty" yaml:"model_type,omitempty"`
	StartedAt     time.Time `json:"startedAt" yaml:"started_at"`
}

// IsCanary reports whether green traffic should currently be drawn.
func (d *Deployment) IsCanary() bool {
	return d != nil && d.Strategy == StrategyBlueGreen && d.GreenTag != "" && d.CanaryPercent > 0
}
