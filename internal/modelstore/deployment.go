// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package modelstore

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	mperr "github.com/sigil-dev/modelplane/pkg/errors"
)

const deploymentName = "deployment.json"

type deploymentEntry struct {
	stamp fileStamp
	dep   *Deployment
}

// Deployment returns the canary state of a model, or nil when no
// deployment has been configured.
func (s *Store) Deployment(_ context.Context, provider, model string) (*Deployment, error) {
	key, err := validate(provider, model)
	if err != nil {
		return nil, err
	}
	modelDir := s.modelDir(key)
	stamp := statStamp(filepath.Join(modelDir, deploymentName))

	s.cacheMu.Lock()
	cached, hit := s.deployments[key]
	s.cacheMu.Unlock()
	if hit && cached.stamp == stamp {
		return copyDeployment(cached.dep), nil
	}

	dep, err := readDeployment(modelDir)
	if err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	s.deployments[key] = deploymentEntry{stamp: stamp, dep: dep}
	s.cacheMu.Unlock()
	return copyDeployment(dep), nil
}

// SetDeployment records canary state for a model. A blue/green deployment
// needs a staged green tag that is not the active version.
func (s *Store) SetDeployment(_ context.Context, provider, model string, d Deployment) error {
	key, err := validate(provider, model)
	if err != nil {
		return err
	}
	if d.Strategy == "" {
		d.Strategy = StrategyBlueGreen
	}
	if d.Strategy != StrategyBlueGreen && d.Strategy != StrategyNone {
		return mperr.Errorf(mperr.CodeModelStoreInvalidInput, "unknown deployment strategy %q", d.Strategy)
	}
	if d.CanaryPercent < 0 || d.CanaryPercent > 100 {
		return mperr.Errorf(mperr.CodeModelStoreInvalidInput, "canary percent must be within 0..100, got %d", d.CanaryPercent)
	}
	if d.Strategy == StrategyBlueGreen {
		if _, err := validate(provider, model, d.GreenTag); err != nil {
			return err
		}
		if !isDir(s.versionDir(key, d.GreenTag)) {
			return versionNotFound(key, d.GreenTag)
		}
	}
	if d.StartedAt.IsZero() {
		d.StartedAt = s.nowFunc().UTC()
	}

	err = s.withLock(key, func(modelDir string) error {
		if d.Strategy == StrategyBlueGreen {
			active, ok, err := s.publisher.Resolve(modelDir)
			if err != nil {
				return mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "resolving active pointer")
			}
			if ok && active == d.GreenTag {
				return mperr.New(mperr.CodeModelStoreInvalidInput, "green tag is already the active version",
					mperr.FieldProvider(provider), mperr.FieldModel(model), mperr.FieldTag(d.GreenTag))
			}
		}
		if err := writeDeployment(modelDir, &d); err != nil {
			return mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "writing deployment", mperr.FieldPath(modelDir))
		}
		s.forgetDeployment(key)
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("deployment updated", "provider", provider, "model", model,
		"strategy", d.Strategy, "green", d.GreenTag, "canary_percent", d.CanaryPercent)
	return nil
}

// ClearDeployment removes canary state. Clearing an absent deployment is
// not an error.
func (s *Store) ClearDeployment(_ context.Context, provider, model string) error {
	key, err := validate(provider, model)
	if err != nil {
		return err
	}
	if !isDir(s.modelDir(key)) {
		return nil
	}

	return s.withLock(key, func(modelDir string) error {
		err := os.Remove(filepath.Join(modelDir, deploymentName))
		s.forgetDeployment(key)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "removing deployment", mperr.FieldPath(modelDir))
		}
		return nil
	})
}

func (s *Store) forgetDeployment(key ModelKey) {
	s.cacheMu.Lock()
	delete(s.deployments, key)
	s.cacheMu.Unlock()
}

func readDeployment(modelDir string) (*Deployment, error) {
	data, err := os.ReadFile(filepath.Join(modelDir, deploymentName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "reading deployment", mperr.FieldPath(modelDir))
	}
	var d Deployment
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, mperr.Wrap(err, mperr.CodeModelStoreHistoryCorrupt, "decoding deployment", mperr.FieldPath(modelDir))
	}
	return &d, nil
}

func writeDeployment(modelDir string, d *Deployment) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(modelDir, ".deployment-*.json")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, filepath.Join(modelDir, deploymentName)); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func copyDeployment(d *Deployment) *Deployment {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
