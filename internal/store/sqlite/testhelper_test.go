// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/sigil-dev/modelplane/internal/store/sqlite"
	"github.com/stretchr/testify/require"
)

// testDBPath returns a temp SQLite database path.
func testDBPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name+".db")
}

func openSampleStore(t *testing.T) *sqlite.SampleStore {
	t.Helper()
	s, err := sqlite.NewSampleStore(testDBPath(t, "samples"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
