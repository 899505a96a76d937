// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package rollback_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sigil-dev/modelplane/internal/modelstore"
	"github.com/sigil-dev/modelplane/internal/rollback"
	mperr "github.com/sigil-dev/modelplane/pkg/errors"
	"github.com/sigil-dev/modelplane/pkg/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var degraded = rollback.Trigger{
	Source:    "test",
	Reason:    rollback.ReasonErrorRate,
	Aggregate: health.Aggregate{ErrorRate: 0.6, SuccessRate: 0.4, Count: 120},
}

func TestPerformRollback_Success(t *testing.T) {
	vs := newVersionStore(t)
	stageVersion(t, vs, "v1")
	stageVersion(t, vs, "v2")
	activate(t, vs, "v1", "v2")
	rec := &recordingNotifier{}
	orch := rollback.NewOrchestrator(vs, rec)

	tag, ok, err := orch.PerformRollback(context.Background(), "hf", "demo", false, degraded)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", tag)

	cur, err := vs.Current(context.Background(), "hf", "demo")
	require.NoError(t, err)
	assert.Equal(t, "v1", cur.Tag)

	msgs := rec.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "v2", msgs[0].Fields["from"])
	assert.Equal(t, "v1", msgs[0].Fields["to"])
	assert.Equal(t, "0.6000", msgs[0].Fields["error_rate"])
	assert.Equal(t, "120", msgs[0].Fields["count"])
}

func TestPerformRollback_DryRun(t *testing.T) {
	vs := newVersionStore(t)
	stageVersion(t, vs, "v1")
	stageVersion(t, vs, "v2")
	activate(t, vs, "v1", "v2")
	rec := &recordingNotifier{}
	orch := rollback.NewOrchestrator(vs, rec)

	tag, ok, err := orch.PerformRollback(context.Background(), "hf", "demo", true, degraded)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", tag)

	cur, err := vs.Current(context.Background(), "hf", "demo")
	require.NoError(t, err)
	assert.Equal(t, "v2", cur.Tag, "dry run leaves the store unchanged")
	assert.Empty(t, rec.all())
}

func TestPerformRollback_NoCandidate(t *testing.T) {
	vs := newVersionStore(t)
	stageVersion(t, vs, "v1")
	orch := rollback.NewOrchestrator(vs, nil)

	_, ok, err := orch.PerformRollback(context.Background(), "hf", "demo", false, degraded)
	require.NoError(t, err)
	assert.False(t, ok, "never activated")

	activate(t, vs, "v1", "v1")
	_, ok, err = orch.PerformRollback(context.Background(), "hf", "demo", false, degraded)
	require.NoError(t, err)
	assert.False(t, ok, "history holds only the active tag")
}

func TestPerformRollback_SkipsRepeatsOfActiveTag(t *testing.T) {
	vs := newVersionStore(t)
	stageVersion(t, vs, "v1")
	stageVersion(t, vs, "v2")
	activate(t, vs, "v1", "v2", "v2")
	orch := rollback.NewOrchestrator(vs, nil)

	tag, ok, err := orch.PerformRollback(context.Background(), "hf", "demo", true, degraded)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", tag)
}

func TestPerformRollback_ChecksumMismatchNotifiesAndFails(t *testing.T) {
	vs := newVersionStore(t)
	v1 := stageVersion(t, vs, "v1")
	stageVersion(t, vs, "v2")
	activate(t, vs, "v1", "v2")
	require.NoError(t, os.WriteFile(filepath.Join(v1, "weights.bin"), []byte("tampered"), 0o644))
	rec := &recordingNotifier{}
	orch := rollback.NewOrchestrator(vs, rec)

	_, ok, err := orch.PerformRollback(context.Background(), "hf", "demo", false, degraded)
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, mperr.IsMismatch(err))

	cur, err := vs.Current(context.Background(), "hf", "demo")
	require.NoError(t, err)
	assert.Equal(t, "v2", cur.Tag)

	msgs := rec.all()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Subject, "FAILED")
}

func TestPromote(t *testing.T) {
	vs := newVersionStore(t)
	stageVersion(t, vs, "v1")
	stageVersion(t, vs, "v2")
	activate(t, vs, "v1")
	ctx := context.Background()
	require.NoError(t, vs.SetDeployment(ctx, "hf", "demo", modelstore.Deployment{
		CanaryPercent: 10, GreenTag: "v2", ModelType: "chat",
	}))
	rec := &recordingNotifier{}
	orch := rollback.NewOrchestrator(vs, rec)

	info, err := orch.Promote(ctx, "hf", "demo", health.Aggregate{SuccessRate: 1, AvgScore: 1, Count: 100})
	require.NoError(t, err)
	assert.Equal(t, "v2", info.Tag)
	assert.Equal(t, "v1", info.Metadata[modelstore.MetaPromotedFrom])
	assert.Equal(t, "chat", info.Metadata[modelstore.MetaModelType])

	dep, err := vs.Deployment(ctx, "hf", "demo")
	require.NoError(t, err)
	assert.Nil(t, dep)
	require.Len(t, rec.all(), 1)

	_, err = orch.Promote(ctx, "hf", "demo", health.Aggregate{})
	require.Error(t, err)
	assert.True(t, mperr.HasCode(err, mperr.CodeRollbackNoCandidate))
}

func TestAbortCanary(t *testing.T) {
	vs := newVersionStore(t)
	stageVersion(t, vs, "v1")
	stageVersion(t, vs, "v2")
	activate(t, vs, "v1")
	ctx := context.Background()
	require.NoError(t, vs.SetDeployment(ctx, "hf", "demo", modelstore.Deployment{CanaryPercent: 50, GreenTag: "v2"}))
	rec := &recordingNotifier{}
	orch := rollback.NewOrchestrator(vs, rec)

	require.NoError(t, orch.AbortCanary(ctx, "hf", "demo", degraded))

	cur, err := vs.Current(ctx, "hf", "demo")
	require.NoError(t, err)
	assert.Equal(t, "v1", cur.Tag, "active pointer untouched")
	dep, err := vs.Deployment(ctx, "hf", "demo")
	require.NoError(t, err)
	assert.Nil(t, dep)

	msgs := rec.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "v2", msgs[0].Fields["to"])

	require.NoError(t, orch.AbortCanary(ctx, "hf", "demo", degraded), "no deployment is a no-op")
	assert.Len(t, rec.all(), 1)
}
