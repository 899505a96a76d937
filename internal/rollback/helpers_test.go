// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package rollback_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sigil-dev/modelplane/internal/modelstore"
	"github.com/sigil-dev/modelplane/internal/notify"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (r *recordingNotifier) Notify(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingNotifier) all() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.msgs...)
}

func newVersionStore(t *testing.T) *modelstore.Store {
	t.Helper()
	s, err := modelstore.New(filepath.Join(t.TempDir(), "models"))
	require.NoError(t, err)
	return s
}

// stageVersion stages tag for hf/demo and returns its directory.
func stageVersion(t *testing.T, s *modelstore.Store, tag string) string {
	t.Helper()
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "weights.bin"), []byte("w-"+tag), 0o644))
	path, err := s.PrepareStaging(context.Background(), "hf", "demo", tag, src)
	require.NoError(t, err)
	return path
}

func activate(t *testing.T, s *modelstore.Store, tags ...string) {
	t.Helper()
	for _, tag := range tags {
		_, err := s.Activate(context.Background(), "hf", "demo", tag, nil)
		require.NoError(t, err)
	}
}
