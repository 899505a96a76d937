// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package modelstore

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	activeName   = "active"
	versionsName = "versions"
)

// Publisher swaps the active pointer of a model directory in a single
// atomic filesystem operation. Readers never observe a missing or half
// written pointer.
type Publisher interface {
	// Publish points modelDir/active at versions/<tag>.
	Publish(modelDir, tag string) error
	// Resolve returns the tag the pointer references, or ok=false if the
	// model has never been activated.
	Resolve(modelDir string) (tag string, ok bool, err error)
	// Clear removes the pointer. Used only to undo a failed first activation.
	Clear(modelDir string) error
	Kind() string
}

// SymlinkPublisher writes a temporary symlink and renames it over the
// active pointer.
type SymlinkPublisher struct{}

func (SymlinkPublisher) Kind() string { return "symlink" }

func (SymlinkPublisher) Publish(modelDir, tag string) error {
	tmp := filepath.Join(modelDir, ".active-"+uuid.NewString())
	if err := os.Symlink(filepath.Join(versionsName, tag), tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(modelDir, activeName)); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	_ = syncDir(modelDir)
	return nil
}

func (SymlinkPublisher) Resolve(modelDir string) (string, bool, error) {
	return resolvePointer(modelDir)
}

func (SymlinkPublisher) Clear(modelDir string) error {
	return clearPointer(modelDir)
}

// PointerFilePublisher is used where the process may not create symlinks.
// The pointer is a small file containing the tag, replaced by rename.
type PointerFilePublisher struct{}

func (PointerFilePublisher) Kind() string { return "pointer-file" }

func (PointerFilePublisher) Publish(modelDir, tag string) error {
	f, err := os.CreateTemp(modelDir, ".active-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.WriteString(tag + "\n"); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, filepath.Join(modelDir, activeName)); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	_ = syncDir(modelDir)
	return nil
}

func (PointerFilePublisher) Resolve(modelDir string) (string, bool, error) {
	return resolvePointer(modelDir)
}

func (PointerFilePublisher) Clear(modelDir string) error {
	return clearPointer(modelDir)
}

// DetectPublisher probes whether symlinks can be created under root and
// returns the matching publisher.
func DetectPublisher(root string) Publisher {
	if err := os.MkdirAll(root, 0o755); err != nil {
		slog.Debug("publisher probe: cannot create root, using pointer file", "root", root, "error", err)
		return PointerFilePublisher{}
	}
	probe := filepath.Join(root, ".symlink-probe-"+uuid.NewString())
	if err := os.Symlink("probe", probe); err != nil {
		slog.Info("symlinks unavailable, using pointer-file publisher", "root", root, "error", err)
		return PointerFilePublisher{}
	}
	_ = os.Remove(probe)
	return SymlinkPublisher{}
}

// resolvePointer reads either pointer form so a store can switch
// publishers without migrating existing trees.
func resolvePointer(modelDir string) (string, bool, error) {
	path := filepath.Join(modelDir, activeName)
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return "", false, err
		}
		return filepath.Base(filepath.FromSlash(target)), true, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, err
	}
	tag := strings.TrimSpace(string(data))
	if tag == "" {
		return "", false, nil
	}
	return tag, true, nil
}

func clearPointer(modelDir string) error {
	err := os.Remove(filepath.Join(modelDir, activeName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// syncDir flushes directory entries after a rename. Not supported on every
// platform, so callers treat failure as non-fatal.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
