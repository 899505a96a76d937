// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/tidwall/gjson"

	"github.com/sigil-dev/modelplane/internal/modelstore"
	"github.com/sigil-dev/modelplane/internal/provider"
	"github.com/sigil-dev/modelplane/internal/rollback"
	"github.com/sigil-dev/modelplane/internal/router"
	"github.com/sigil-dev/modelplane/internal/samples"
	mperr "github.com/sigil-dev/modelplane/pkg/errors"
	"github.com/sigil-dev/modelplane/pkg/health"
)

// VersionReader is the read side of the model version store.
type VersionReader interface {
	Models(ctx context.Context) ([]modelstore.ModelKey, error)
	Current(ctx context.Context, provider, model string) (*modelstore.VersionInfo, error)
	ListVersions(ctx context.Context, provider, model string) ([]modelstore.VersionInfo, error)
	History(ctx context.Context, provider, model string) ([]modelstore.HistoryEntry, error)
	Deployment(ctx context.Context, provider, model string) (*modelstore.Deployment, error)
}

// TaskExecutor runs inference tasks with fallback.
type TaskExecutor interface {
	ExecuteWithFallback(ctx context.Context, task router.Task) (*router.Outcome, error)
}

// RollbackRunner performs operator-initiated rollbacks.
type RollbackRunner interface {
	PerformRollback(ctx context.Context, provider, model string, dryRun bool, trigger rollback.Trigger) (string, bool, error)
}

// Services holds the dependencies behind the REST routes. Router and
// Rollback are optional; their endpoints answer 503 when unset.
type Services struct {
	Registry *provider.Registry
	Versions VersionReader
	Samples  *samples.Store
	Router   TaskExecutor
	Rollback RollbackRunner
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-providers",
		Method:      http.MethodGet,
		Path:        "/api/v1/providers",
		Summary:     "List providers with probe health and routing rules",
		Tags:        []string{"providers"},
	}, s.handleListProviders)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-models",
		Method:      http.MethodGet,
		Path:        "/api/v1/models",
		Summary:     "List managed models",
		Tags:        []string{"models"},
	}, s.handleListModels)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-model",
		Method:      http.MethodGet,
		Path:        "/api/v1/models/{provider}/{model}",
		Summary:     "Get active version, staged versions and deployment",
		Tags:        []string{"models"},
	}, s.handleGetModel)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-model-history",
		Method:      http.MethodGet,
		Path:        "/api/v1/models/{provider}/{model}/history",
		Summary:     "Get activation history",
		Tags:        []string{"models"},
	}, s.handleGetHistory)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-model-health",
		Method:      http.MethodGet,
		Path:        "/api/v1/models/{provider}/{model}/health",
		Summary:     "Get sample aggregates for a deployment tag",
		Tags:        []string{"models"},
	}, s.handleGetModelHealth)

	huma.Register(s.api, huma.Operation{
		OperationID: "rollback-model",
		Method:      http.MethodPost,
		Path:        "/api/v1/models/{provider}/{model}/rollback",
		Summary:     "Roll back to the previous distinct version",
		Tags:        []string{"models"},
	}, s.handleRollback)

	huma.Register(s.api, huma.Operation{
		OperationID: "execute-task",
		Method:      http.MethodPost,
		Path:        "/api/v1/tasks",
		Summary:     "Execute an inference task with fallback",
		Tags:        []string{"tasks"},
	}, s.handleExecuteTask)
}

// toHumaError maps a coded error onto an HTTP status.
func toHumaError(err error) error {
	status := mperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "error", err, "code", mperr.CodeOf(err))
	}
	return huma.NewError(status, err.Error())
}

// --- providers ---

type providerListOutput struct {
	Body struct {
		Providers []health.Metrics    `json:"providers"`
		Rules     map[string][]string `json:"rules"`
	}
}

func (s *Server) handleListProviders(_ context.Context, _ *struct{}) (*providerListOutput, error) {
	out := &providerListOutput{}
	out.Body.Providers = []health.Metrics{}
	out.Body.Rules = map[string][]string{}
	if s.services.Registry == nil {
		return out, nil
	}
	for _, h := range s.services.Registry.Handles() {
		out.Body.Providers = append(out.Body.Providers, h.HealthMetrics())
	}
	out.Body.Rules = s.services.Registry.Rules()
	return out, nil
}

// --- models ---

type modelPath struct {
	Provider string `path:"provider" doc:"Provider namespace"`
	Model    string `path:"model" doc:"Model name"`
}

// ModelSummary is one entry of the model listing.
type ModelSummary struct {
	Provider   string                 `json:"provider"`
	Model      string                 `json:"model"`
	Active     string                 `json:"active,omitempty"`
	Deployment *modelstore.Deployment `json:"deployment,omitempty"`
}

type modelListOutput struct {
	Body struct {
		Models []ModelSummary `json:"models"`
	}
}

func (s *Server) handleListModels(ctx context.Context, _ *struct{}) (*modelListOutput, error) {
	if s.services.Versions == nil {
		return nil, huma.Error503ServiceUnavailable("version store not configured")
	}
	keys, err := s.services.Versions.Models(ctx)
	if err != nil {
		return nil, toHumaError(err)
	}

	out := &modelListOutput{}
	out.Body.Models = make([]ModelSummary, 0, len(keys))
	for _, k := range keys {
		summary := ModelSummary{Provider: k.Provider, Model: k.Model}
		cur, err := s.services.Versions.Current(ctx, k.Provider, k.Model)
		if err != nil {
			return nil, toHumaError(err)
		}
		if cur != nil {
			summary.Active = cur.Tag
		}
		dep, err := s.services.Versions.Deployment(ctx, k.Provider, k.Model)
		if err != nil {
			return nil, toHumaError(err)
		}
		summary.Deployment = dep
		out.Body.Models = append(out.Body.Models, summary)
	}
	return out, nil
}

type modelDetailOutput struct {
	Body struct {
		Provider   string                   `json:"provider"`
		Model      string                   `json:"model"`
		Current    *modelstore.VersionInfo  `json:"current,omitempty"`
		Versions   []modelstore.VersionInfo `json:"versions"`
		Deployment *modelstore.Deployment   `json:"deployment,omitempty"`
	}
}

func (s *Server) handleGetModel(ctx context.Context, in *modelPath) (*modelDetailOutput, error) {
	if s.services.Versions == nil {
		return nil, huma.Error503ServiceUnavailable("version store not configured")
	}
	versions, err := s.services.Versions.ListVersions(ctx, in.Provider, in.Model)
	if err != nil {
		return nil, toHumaError(err)
	}
	if len(versions) == 0 {
		return nil, toHumaError(mperr.New(mperr.CodeServerEntityNotFound, "model not found: "+in.Provider+"/"+in.Model,
			mperr.FieldProvider(in.Provider), mperr.FieldModel(in.Model)))
	}
	cur, err := s.services.Versions.Current(ctx, in.Provider, in.Model)
	if err != nil {
		return nil, toHumaError(err)
	}
	dep, err := s.services.Versions.Deployment(ctx, in.Provider, in.Model)
	if err != nil {
		return nil, toHumaError(err)
	}

	out := &modelDetailOutput{}
	out.Body.Provider = in.Provider
	out.Body.Model = in.Model
	out.Body.Current = cur
	out.Body.Versions = versions
	out.Body.Deployment = dep
	return out, nil
}

type historyOutput struct {
	Body struct {
		History []modelstore.HistoryEntry `json:"history"`
	}
}

func (s *Server) handleGetHistory(ctx context.Context, in *modelPath) (*historyOutput, error) {
	if s.services.Versions == nil {
		return nil, huma.Error503ServiceUnavailable("version store not configured")
	}
	hist, err := s.services.Versions.History(ctx, in.Provider, in.Model)
	if err != nil {
		return nil, toHumaError(err)
	}
	out := &historyOutput{}
	out.Body.History = hist
	if out.Body.History == nil {
		out.Body.History = []modelstore.HistoryEntry{}
	}
	return out, nil
}

type modelHealthInput struct {
	Provider string `path:"provider" doc:"Provider namespace"`
	Model    string `path:"model" doc:"Model name"`
	Tag      string `query:"tag" default:"blue" enum:"blue,green" doc:"Deployment tag"`
	LastN    int    `query:"last_n" minimum:"0" doc:"Aggregate the newest N samples only"`
}

type modelHealthOutput struct {
	Body struct {
		Provider  string           `json:"provider"`
		Model     string           `json:"model"`
		Tag       string           `json:"tag"`
		Aggregate health.Aggregate `json:"aggregate"`
	}
}

func (s *Server) handleGetModelHealth(_ context.Context, in *modelHealthInput) (*modelHealthOutput, error) {
	if s.services.Samples == nil {
		return nil, huma.Error503ServiceUnavailable("sample store not configured")
	}
	tag := in.Tag
	if tag == "" {
		tag = health.TagBlue
	}
	key := samples.Key{Provider: in.Provider, Model: in.Model, Tag: tag}

	out := &modelHealthOutput{}
	out.Body.Provider = in.Provider
	out.Body.Model = in.Model
	out.Body.Tag = tag
	out.Body.Aggregate = s.services.Samples.Aggregate(key, samples.AggregateOptions{LastN: in.LastN})
	return out, nil
}

type rollbackInput struct {
	Provider string `path:"provider" doc:"Provider namespace"`
	Model    string `path:"model" doc:"Model name"`
	DryRun   bool   `query:"dry_run" doc:"Report the candidate without activating it"`
}

type rollbackOutput struct {
	Body struct {
		RolledBack bool   `json:"rolled_back"`
		DryRun     bool   `json:"dry_run"`
		Target     string `json:"target,omitempty"`
	}
}

func (s *Server) handleRollback(ctx context.Context, in *rollbackInput) (*rollbackOutput, error) {
	if s.services.Rollback == nil {
		return nil, huma.Error503ServiceUnavailable("rollback not configured")
	}
	target, ok, err := s.services.Rollback.PerformRollback(ctx, in.Provider, in.Model, in.DryRun,
		rollback.Trigger{Source: "api", Reason: rollback.ReasonManual, Aggregate: health.Empty()})
	if err != nil {
		return nil, toHumaError(err)
	}
	out := &rollbackOutput{}
	out.Body.DryRun = in.DryRun
	out.Body.Target = target
	out.Body.RolledBack = ok && !in.DryRun
	return out, nil
}

// --- tasks ---

type taskInput struct {
	Body struct {
		ID       string            `json:"id,omitempty" doc:"Caller-assigned task ID"`
		TaskType string            `json:"task_type" minLength:"1" doc:"Task type used to pick the routing rule"`
		Model    string            `json:"model,omitempty" doc:"Managed model as provider/model"`
		Payload  any               `json:"payload,omitempty" doc:"Forwarded to the provider"`
		Params   map[string]string `json:"params,omitempty"`
	}
}

// AttemptSummary reports one provider attempt of a task.
type AttemptSummary struct {
	Provider  string `json:"provider"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type taskOutput struct {
	Body struct {
		Provider    string           `json:"provider"`
		Version     string           `json:"version,omitempty"`
		Deployment  string           `json:"deployment,omitempty"`
		ContentType string           `json:"content_type,omitempty"`
		Result      any              `json:"result"`
		Attempts    []AttemptSummary `json:"attempts"`
	}
}

func (s *Server) handleExecuteTask(ctx context.Context, in *taskInput) (*taskOutput, error) {
	if s.services.Router == nil {
		return nil, huma.Error503ServiceUnavailable("router not configured")
	}

	task := router.Task{
		ID:       in.Body.ID,
		TaskType: in.Body.TaskType,
		Model:    in.Body.Model,
		Params:   in.Body.Params,
	}
	if in.Body.Payload != nil {
		raw, err := json.Marshal(in.Body.Payload)
		if err != nil {
			return nil, huma.Error400BadRequest("encoding payload", err)
		}
		task.Payload = raw
	}

	outcome, err := s.services.Router.ExecuteWithFallback(ctx, task)
	if err != nil {
		return nil, toHumaError(err)
	}

	out := &taskOutput{}
	out.Body.Provider = outcome.Provider
	out.Body.Version = outcome.Version
	out.Body.Deployment = outcome.Deployment
	out.Body.ContentType = outcome.Result.ContentType
	out.Body.Result = decodeResult(outcome.Result.Payload)
	out.Body.Attempts = make([]AttemptSummary, 0, len(outcome.Attempts))
	for _, a := range outcome.Attempts {
		summary := AttemptSummary{Provider: a.Provider, LatencyMs: a.Latency.Milliseconds()}
		if a.Err != nil {
			summary.Error = a.Err.Error()
		}
		out.Body.Attempts = append(out.Body.Attempts, summary)
	}
	return out, nil
}

// decodeResult embeds JSON payloads as-is and everything else as a string.
func decodeResult(payload []byte) any {
	if len(payload) == 0 {
		return nil
	}
	if gjson.ValidBytes(payload) {
		return json.RawMessage(payload)
	}
	return string(payload)
}
