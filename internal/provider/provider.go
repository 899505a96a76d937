// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"bytes"
	"context"
)

// Provider is an inference backend. Implementations are external adapters;
// the control plane only needs to execute a task and ask for health.
type Provider interface {
	Name() string
	Execute(ctx context.Context, req Request) (Result, error)
	CheckHealth(ctx context.Context) bool
	Close() error
}

// Request is one task execution attempt.
type Request struct {
	ID       string
	TaskType string
	// ModelRef is the "provider/model" reference named by the task, if any.
	ModelRef string
	// Version is the model version tag selected for this attempt.
	Version string
	// Deployment is the blue/green deployment tag for this attempt.
	Deployment string
	Payload    []byte
	Params     map[string]string
}

// Result is what a provider returned for a request.
type Result struct {
	Payload     []byte
	ContentType string
	Metadata    map[string]string
}

// Empty reports whether the result carries no usable payload.
func (r Result) Empty() bool {
	return len(bytes.TrimSpace(r.Payload)) == 0
}
