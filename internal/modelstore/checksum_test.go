// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package modelstore_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sigil-dev/modelplane/internal/modelstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum_Stable(t *testing.T) {
	ctx := context.Background()
	a := writeArtifact(t, map[string]string{"x.bin": "1", "sub/y.bin": "2"})
	b := writeArtifact(t, map[string]string{"sub/y.bin": "2", "x.bin": "1"})

	sumA, err := modelstore.Checksum(ctx, a)
	require.NoError(t, err)
	sumB, err := modelstore.Checksum(ctx, b)
	require.NoError(t, err)

	assert.Equal(t, sumA, sumB)
	assert.True(t, strings.HasPrefix(sumA, "sha256:"))
}

func TestChecksum_DetectsChanges(t *testing.T) {
	ctx := context.Background()
	base := writeArtifact(t, map[string]string{"x.bin": "1"})
	sum, err := modelstore.Checksum(ctx, base)
	require.NoError(t, err)

	edited := writeArtifact(t, map[string]string{"x.bin": "2"})
	renamed := writeArtifact(t, map[string]string{"z.bin": "1"})
	added := writeArtifact(t, map[string]string{"x.bin": "1", "extra": ""})

	for name, dir := range map[string]string{"edited": edited, "renamed": renamed, "added": added} {
		other, err := modelstore.Checksum(ctx, dir)
		require.NoError(t, err)
		assert.NotEqual(t, sum, other, name)
	}
}

func TestChecksum_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := modelstore.Checksum(ctx, writeArtifact(t, map[string]string{"x": "1"}))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPublishers_ResolveEitherForm(t *testing.T) {
	publishers := []modelstore.Publisher{modelstore.PointerFilePublisher{}}
	if modelstore.DetectPublisher(t.TempDir()).Kind() == "symlink" {
		publishers = append(publishers, modelstore.SymlinkPublisher{})
	}

	for _, p := range publishers {
		t.Run(p.Kind(), func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.MkdirAll(filepath.Join(dir, "versions", "v1"), 0o755))

			_, ok, err := p.Resolve(dir)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, p.Publish(dir, "v1"))
			tag, ok, err := p.Resolve(dir)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "v1", tag)

			// The other publisher reads the same pointer.
			tag, ok, err = modelstore.PointerFilePublisher{}.Resolve(dir)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "v1", tag)

			require.NoError(t, p.Clear(dir))
			_, ok, err = p.Resolve(dir)
			require.NoError(t, err)
			assert.False(t, ok)
			require.NoError(t, p.Clear(dir))
		})
	}
}
