// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package modelstore

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	mperr "github.com/sigil-dev/modelplane/pkg/errors"
)

const historyName = "history.json"

func readHistory(modelDir string) ([]HistoryEntry, error) {
	data, err := os.ReadFile(filepath.Join(modelDir, historyName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "reading history", mperr.FieldPath(modelDir))
	}
	if len(data) == 0 {
		return nil, nil
	}

	var entries []HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, mperr.Wrap(err, mperr.CodeModelStoreHistoryCorrupt, "decoding history", mperr.FieldPath(modelDir))
	}
	return entries, nil
}

// stageHistory writes the full history to a temp file next to the real one
// and returns its path. The caller commits it with a rename.
func stageHistory(modelDir string, entries []HistoryEntry) (string, error) {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp(modelDir, ".history-*.json")
	if err != nil {
		return "", err
	}
	tmp := f.Name()
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

// lastEntryFor returns the most recent entry recorded for tag.
func lastEntryFor(entries []HistoryEntry, tag string) (HistoryEntry, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].VersionTag == tag {
			return entries[i], true
		}
	}
	return HistoryEntry{}, false
}

// recentDistinct scans history newest first and returns distinct tags,
// skipping the ones in exclude.
func recentDistinct(entries []HistoryEntry, exclude ...string) []string {
	seen := make(map[string]bool, len(entries))
	for _, e := range exclude {
		seen[e] = true
	}
	var tags []string
	for i := len(entries) - 1; i >= 0; i-- {
		tag := entries[i].VersionTag
		if seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	return tags
}

// PreviousDistinct returns the most recent tag in entries that differs
// from current.
func PreviousDistinct(entries []HistoryEntry, current string) (string, bool) {
	tags := recentDistinct(entries, current)
	if len(tags) == 0 {
		return "", false
	}
	return tags[0], true
}
