// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	mperr "github.com/sigil-dev/modelplane/pkg/errors"
)

// DefaultRule is the routing rule used for task types without a rule of
// their own.
const DefaultRule = "default"

// Handle pairs a provider with its probe state. The prober is the only
// writer of the tracker; routing reads it.
type Handle struct {
	provider Provider
	tracker  *HealthTracker
}

// Provider returns the wrapped provider.
func (h *Handle) Provider() Provider { return h.provider }

// Name returns the provider name.
func (h *Handle) Name() string { return h.provider.Name() }

// Healthy reports the last known health.
func (h *Handle) Healthy() bool { return h.tracker.IsHealthy() }

// Latency reports the last known probe latency.
func (h *Handle) Latency() time.Duration { return h.tracker.Latency() }

// Tracker exposes the probe state for the prober and for tests.
func (h *Handle) Tracker() *HealthTracker { return h.tracker }

// HealthMetrics returns a snapshot of the handle's probe state.
func (h *Handle) HealthMetrics() HealthMetrics {
	m := h.tracker.HealthMetrics()
	m.Provider = h.Name()
	return m
}

// Registry manages provider registration, lookup and task routing.
type Registry struct {
	mu        sync.RWMutex
	handles   map[string]*Handle
	rules     map[string][]string // task type → ordered provider names
	threshold int
}

// NewRegistry creates an empty Registry. threshold is the number of
// consecutive failed probes before a provider stops receiving traffic;
// zero or less uses DefaultUnhealthyThreshold.
func NewRegistry(threshold int) *Registry {
	if threshold <= 0 {
		threshold = DefaultUnhealthyThreshold
	}
	return &Registry{
		handles:   make(map[string]*Handle),
		rules:     make(map[string][]string),
		threshold: threshold,
	}
}

// Register adds a provider under its own name, replacing any previous
// handle of that name.
func (r *Registry) Register(p Provider) *Handle {
	tracker, _ := NewHealthTracker(r.threshold)
	h := &Handle{provider: p, tracker: tracker}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[p.Name()] = h
	return h
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	h, err := r.Handle(name)
	if err != nil {
		return nil, err
	}
	return h.provider, nil
}

// Handle retrieves a provider handle by name.
func (r *Registry) Handle(name string) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handles[name]
	if !ok {
		return nil, mperr.New(
			mperr.CodeProviderNotFound,
			"provider not found: "+name,
			mperr.FieldProvider(name),
		)
	}
	return h, nil
}

// Handles returns every registered handle sorted by name.
func (r *Registry) Handles() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// SetRules replaces the routing rules. Returns an error if any rule names a
// provider that is not registered or lists a provider twice.
func (r *Registry) SetRules(rules map[string][]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string][]string, len(rules))
	for taskType, names := range rules {
		for i, name := range names {
			if _, ok := r.handles[name]; !ok {
				return mperr.New(
					mperr.CodeProviderNotFound,
					"SetRules: provider not registered: "+name,
					mperr.FieldProvider(name),
					mperr.FieldTaskType(taskType),
				)
			}
			if slices.Contains(names[:i], name) {
				return mperr.New(
					mperr.CodeConfigValidateInvalidValue,
					"SetRules: provider listed twice: "+name,
					mperr.FieldProvider(name),
					mperr.FieldTaskType(taskType),
				)
			}
		}
		next[taskType] = slices.Clone(names)
	}
	r.rules = next
	return nil
}

// Rule returns the ordered provider names for a task type, falling back
// to the default rule.
func (r *Registry) Rule(taskType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.ruleLocked(taskType))
}

// Rules returns a copy of every routing rule.
func (r *Registry) Rules() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.rules))
	for k, v := range r.rules {
		out[k] = slices.Clone(v)
	}
	return out
}

// RouteTask picks a provider for taskType. Candidates are the rule's
// providers that are healthy and not in exclude; the lowest last-known
// latency wins and ties keep rule order.
func (r *Registry) RouteTask(taskType string, exclude []string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Handle
	var bestLatency time.Duration
	for _, name := range r.ruleLocked(taskType) {
		if slices.Contains(exclude, name) {
			continue
		}
		h, ok := r.handles[name]
		if !ok || !h.Healthy() {
			continue
		}
		lat := h.Latency()
		if best == nil || lat < bestLatency {
			best, bestLatency = h, lat
		}
	}

	if best == nil {
		return nil, mperr.New(
			mperr.CodeProviderUnavailable,
			"no eligible provider for task type "+taskType,
			mperr.FieldTaskType(taskType),
			mperr.Field("excluded", strings.Join(exclude, ",")),
		)
	}
	return best.provider, nil
}

// Close shuts down all registered providers.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, h := range r.handles {
		if err := h.provider.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return mperr.Join(errs...)
	}
	return nil
}

// Caller must hold r.mu (at least RLock).
func (r *Registry) ruleLocked(taskType string) []string {
	if names, ok := r.rules[taskType]; ok {
		return names
	}
	return r.rules[DefaultRule]
}

// ParseModelRef splits a "provider/model" reference on the first "/".
// ok is false when either side is empty.
func ParseModelRef(ref string) (providerName, model string, ok bool) {
	providerName, model, found := strings.Cut(ref, "/")
	if !found || providerName == "" || model == "" {
		return "", "", false
	}
	return providerName, model, true
}
