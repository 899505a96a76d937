// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package modelstore

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	mperr "github.com/sigil-dev/modelplane/pkg/errors"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Store is a filesystem-backed, versioned model artifact repository.
//
// Layout under root:
//
//	<provider>/<model>/versions/<tag>/...   staged artifact content
//	<provider>/<model>/active               symlink or pointer file
//	<provider>/<model>/history.json         append-only activation log
//
// Writers for one (provider, model) are serialized by an in-process mutex
// and an advisory lock file, so a CLI invocation and a running server never
// interleave history writes. Readers take no locks; they rely on the active
// pointer and history being replaced by rename.
type Store struct {
	root      string
	publisher Publisher
	nowFunc   func() time.Time

	mu    sync.Mutex
	locks map[ModelKey]*sync.Mutex

	cacheMu     sync.Mutex
	current     map[ModelKey]currentEntry
	deployments map[ModelKey]deploymentEntry
}

type currentEntry struct {
	tag   string
	stamp fileStamp
	info  VersionInfo
}

type fileStamp struct {
	modNanos int64
	size     int64
}

// Option configures a Store.
type Option func(*Store)

// WithPublisher overrides publisher detection.
func WithPublisher(p Publisher) Option {
	return func(s *Store) { s.publisher = p }
}

// WithNowFunc overrides the clock used for history timestamps.
func WithNowFunc(fn func() time.Time) Option {
	return func(s *Store) { s.nowFunc = fn }
}

// New opens (creating if needed) a store rooted at root.
func New(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, mperr.New(mperr.CodeModelStoreInvalidInput, "model store root must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "creating model store root", mperr.FieldPath(root))
	}

	s := &Store{
		root:        root,
		nowFunc:     time.Now,
		locks:       make(map[ModelKey]*sync.Mutex),
		current:     make(map[ModelKey]currentEntry),
		deployments: make(map[ModelKey]deploymentEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.publisher == nil {
		s.publisher = DetectPublisher(root)
	}
	return s, nil
}

// Root returns the store root directory.
func (s *Store) Root() string { return s.root }

// Publisher returns the active-pointer mechanism in use.
func (s *Store) Publisher() Publisher { return s.publisher }

// PrepareStaging copies sourcePath (a file or a directory tree) into
// versions/<tag>/, replacing any staged directory with the same tag. The
// active pointer is never touched, and the active version itself cannot be
// overwritten.
func (s *Store) PrepareStaging(ctx context.Context, provider, model, tag, sourcePath string) (string, error) {
	key, err := validate(provider, model, tag)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(sourcePath)
	if err != nil || !(info.IsDir() || info.Mode().IsRegular()) {
		return "", mperr.Wrap(errOrNil(err), mperr.CodeModelStoreInvalidSource,
			"source artifact must be a file or directory",
			mperr.FieldPath(sourcePath), mperr.FieldTag(tag))
	}

	versionsDir := filepath.Join(s.modelDir(key), versionsName)
	if err := os.MkdirAll(versionsDir, 0o755); err != nil {
		return "", mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "creating versions directory", mperr.FieldPath(versionsDir))
	}

	tmp, err := os.MkdirTemp(versionsDir, ".staging-")
	if err != nil {
		return "", mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "creating staging directory", mperr.FieldPath(versionsDir))
	}

	if info.IsDir() {
		err = copyTree(ctx, sourcePath, tmp)
	} else {
		err = copyFile(sourcePath, filepath.Join(tmp, filepath.Base(sourcePath)))
	}
	if err != nil {
		_ = os.RemoveAll(tmp)
		return "", mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "copying artifact", mperr.FieldPath(sourcePath))
	}

	target := filepath.Join(versionsDir, tag)
	err = s.withLock(key, func(modelDir string) error {
		active, ok, err := s.publisher.Resolve(modelDir)
		if err != nil {
			return mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "resolving active pointer")
		}
		if ok && active == tag {
			return mperr.New(mperr.CodeModelStoreInvalidInput, "cannot restage the active version",
				mperr.FieldProvider(provider), mperr.FieldModel(model), mperr.FieldTag(tag))
		}

		if !isDir(target) {
			return os.Rename(tmp, target)
		}
		trash := filepath.Join(versionsDir, ".trash-"+uuid.NewString())
		if err := os.Rename(target, trash); err != nil {
			return mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "moving old staging aside")
		}
		if err := os.Rename(tmp, target); err != nil {
			_ = os.Rename(trash, target)
			return mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "publishing staging directory")
		}
		_ = os.RemoveAll(trash)
		return nil
	})
	if err != nil {
		_ = os.RemoveAll(tmp)
		return "", err
	}

	slog.Info("version staged", "provider", provider, "model", model, "tag", tag, "path", target)
	return target, nil
}

// Activate checksums the staged version, swaps the active pointer to it and
// appends an activation entry to history.
func (s *Store) Activate(ctx context.Context, provider, model, tag string, metadata map[string]string) (*VersionInfo, error) {
	key, err := validate(provider, model, tag)
	if err != nil {
		return nil, err
	}
	if !isDir(s.versionDir(key, tag)) {
		return nil, versionNotFound(key, tag)
	}

	var out *VersionInfo
	err = s.withLock(key, func(modelDir string) error {
		dir := s.versionDir(key, tag)
		if !isDir(dir) {
			return versionNotFound(key, tag)
		}

		sum, err := Checksum(ctx, dir)
		if err != nil {
			return mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "checksumming version", mperr.FieldTag(tag))
		}

		entries, err := readHistory(modelDir)
		if err != nil {
			return err
		}

		meta := cloneMeta(metadata)
		meta[MetaAction] = ActionActivate
		entry := s.newEntry(tag, sum, meta)

		if err := s.commit(modelDir, append(entries, entry), tag); err != nil {
			return err
		}
		info := s.versionInfo(key, entry)
		out = &info
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("version activated", "provider", provider, "model", model, "tag", tag, "checksum", out.Checksum)
	return out, nil
}

// Rollback re-activates a previously activated tag after verifying that its
// on-disk content still matches the checksum recorded in history. On any
// failure the active pointer is left as it was.
func (s *Store) Rollback(ctx context.Context, provider, model, targetTag string) (*VersionInfo, error) {
	key, err := validate(provider, model, targetTag)
	if err != nil {
		return nil, err
	}
	if !isDir(s.versionDir(key, targetTag)) {
		return nil, versionNotFound(key, targetTag)
	}

	var (
		out  *VersionInfo
		from string
	)
	err = s.withLock(key, func(modelDir string) error {
		dir := s.versionDir(key, targetTag)
		if !isDir(dir) {
			return versionNotFound(key, targetTag)
		}

		entries, err := readHistory(modelDir)
		if err != nil {
			return err
		}
		recorded, ok := lastEntryFor(entries, targetTag)
		if !ok {
			return mperr.New(mperr.CodeModelStoreChecksumMismatch, "no checksum recorded for rollback target",
				mperr.FieldProvider(provider), mperr.FieldModel(model), mperr.FieldTag(targetTag))
		}

		sum, err := Checksum(ctx, dir)
		if err != nil {
			return mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "checksumming version", mperr.FieldTag(targetTag))
		}
		if sum != recorded.Checksum {
			return mperr.New(mperr.CodeModelStoreChecksumMismatch, "rollback target content does not match recorded checksum",
				mperr.FieldProvider(provider), mperr.FieldModel(model), mperr.FieldTag(targetTag),
				mperr.Field("expected", recorded.Checksum), mperr.Field("actual", sum))
		}

		from, _, err = s.publisher.Resolve(modelDir)
		if err != nil {
			return mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "resolving active pointer")
		}

		entry := s.newEntry(targetTag, sum, map[string]string{
			MetaAction:         ActionRollback,
			MetaRolledBackFrom: from,
		})
		if err := s.commit(modelDir, append(entries, entry), targetTag); err != nil {
			return err
		}
		info := s.versionInfo(key, entry)
		out = &info
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("version rolled back", "provider", provider, "model", model, "from", from, "to", targetTag)
	return out, nil
}

// Current resolves the active pointer. It returns (nil, nil) when the model
// has never been activated. The checksum is the one recorded at activation;
// use Verify to recompute it.
func (s *Store) Current(ctx context.Context, provider, model string) (*VersionInfo, error) {
	key, err := validate(provider, model)
	if err != nil {
		return nil, err
	}
	modelDir := s.modelDir(key)

	tag, ok, err := s.publisher.Resolve(modelDir)
	if err != nil {
		return nil, mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "resolving active pointer", mperr.FieldPath(modelDir))
	}
	if !ok {
		return nil, nil
	}

	stamp := statStamp(filepath.Join(modelDir, historyName))
	s.cacheMu.Lock()
	cached, hit := s.current[key]
	s.cacheMu.Unlock()
	if hit && cached.tag == tag && cached.stamp == stamp {
		info := cached.info
		info.Metadata = cloneMeta(info.Metadata)
		return &info, nil
	}

	entries, err := readHistory(modelDir)
	if err != nil {
		return nil, err
	}

	var info VersionInfo
	if entry, found := lastEntryFor(entries, tag); found {
		info = s.versionInfo(key, entry)
	} else {
		sum, err := Checksum(ctx, s.versionDir(key, tag))
		if err != nil {
			return nil, mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "checksumming active version", mperr.FieldTag(tag))
		}
		info = VersionInfo{
			Provider: key.Provider,
			Model:    key.Model,
			Tag:      tag,
			Checksum: sum,
			Path:     s.versionDir(key, tag),
			Active:   true,
		}
	}

	s.cacheMu.Lock()
	s.current[key] = currentEntry{tag: tag, stamp: stamp, info: info}
	s.cacheMu.Unlock()

	info.Metadata = cloneMeta(info.Metadata)
	return &info, nil
}

// ListVersions enumerates every staged version with a freshly computed
// checksum, sorted by tag.
func (s *Store) ListVersions(ctx context.Context, provider, model string) ([]VersionInfo, error) {
	key, err := validate(provider, model)
	if err != nil {
		return nil, err
	}
	modelDir := s.modelDir(key)

	dirents, err := os.ReadDir(filepath.Join(modelDir, versionsName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "listing versions", mperr.FieldPath(modelDir))
	}

	active, _, err := s.publisher.Resolve(modelDir)
	if err != nil {
		return nil, mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "resolving active pointer")
	}
	entries, err := readHistory(modelDir)
	if err != nil {
		return nil, err
	}

	var out []VersionInfo
	for _, d := range dirents {
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		tag := d.Name()
		dir := s.versionDir(key, tag)
		sum, err := Checksum(ctx, dir)
		if err != nil {
			return nil, mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "checksumming version", mperr.FieldTag(tag))
		}
		vi := VersionInfo{
			Provider: key.Provider,
			Model:    key.Model,
			Tag:      tag,
			Checksum: sum,
			Path:     dir,
			Active:   tag == active,
		}
		if e, ok := lastEntryFor(entries, tag); ok {
			t := e.ActivatedAt
			vi.ActivatedAt = &t
		}
		out = append(out, vi)
	}
	return out, nil
}

// Prune deletes staged versions except the active one and the keep most
// recently activated distinct tags. An in-flight canary green tag always
// survives and uses one slot of the keep budget when keep > 0, so at most
// keep+2 versions remain during a canary. It returns the removed tags.
func (s *Store) Prune(ctx context.Context, provider, model string, keep int) ([]string, error) {
	key, err := validate(provider, model)
	if err != nil {
		return nil, err
	}
	if keep < 0 {
		return nil, mperr.Errorf(mperr.CodeModelStoreInvalidInput, "keep must be non-negative, got %d", keep)
	}
	if !isDir(filepath.Join(s.modelDir(key), versionsName)) {
		return nil, nil
	}

	var removed []string
	err = s.withLock(key, func(modelDir string) error {
		active, hasActive, err := s.publisher.Resolve(modelDir)
		if err != nil {
			return mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "resolving active pointer")
		}
		entries, err := readHistory(modelDir)
		if err != nil {
			return err
		}

		kept := make(map[string]bool)
		if hasActive {
			kept[active] = true
		}

		budget := keep
		dep, err := readDeployment(modelDir)
		if err != nil {
			return err
		}
		if dep.IsCanary() && !kept[dep.GreenTag] {
			kept[dep.GreenTag] = true
			if budget > 0 {
				budget--
			}
		}

		for _, tag := range recentDistinct(entries, active) {
			if budget == 0 {
				break
			}
			if kept[tag] {
				continue
			}
			kept[tag] = true
			budget--
		}

		versionsDir := filepath.Join(modelDir, versionsName)
		dirents, err := os.ReadDir(versionsDir)
		if err != nil {
			return mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "listing versions")
		}
		for _, d := range dirents {
			if err := ctx.Err(); err != nil {
				return err
			}
			name := d.Name()
			if !d.IsDir() || strings.HasPrefix(name, ".") || kept[name] {
				continue
			}
			if err := os.RemoveAll(filepath.Join(versionsDir, name)); err != nil {
				return mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "removing version", mperr.FieldTag(name))
			}
			removed = append(removed, name)
		}
		return nil
	})
	if err != nil {
		return removed, err
	}

	if len(removed) > 0 {
		slog.Info("versions pruned", "provider", provider, "model", model, "removed", removed, "keep", keep)
	}
	return removed, nil
}

// History returns the full activation history, oldest first.
func (s *Store) History(_ context.Context, provider, model string) ([]HistoryEntry, error) {
	key, err := validate(provider, model)
	if err != nil {
		return nil, err
	}
	return readHistory(s.modelDir(key))
}

// Verify recomputes the checksum of tag and compares it to the checksum
// last recorded for it in history.
func (s *Store) Verify(ctx context.Context, provider, model, tag string) error {
	key, err := validate(provider, model, tag)
	if err != nil {
		return err
	}
	dir := s.versionDir(key, tag)
	if !isDir(dir) {
		return versionNotFound(key, tag)
	}

	entries, err := readHistory(s.modelDir(key))
	if err != nil {
		return err
	}
	recorded, ok := lastEntryFor(entries, tag)
	if !ok {
		return mperr.New(mperr.CodeModelStoreChecksumMismatch, "no checksum recorded for tag",
			mperr.FieldProvider(provider), mperr.FieldModel(model), mperr.FieldTag(tag))
	}
	sum, err := Checksum(ctx, dir)
	if err != nil {
		return mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "checksumming version", mperr.FieldTag(tag))
	}
	if sum != recorded.Checksum {
		return mperr.New(mperr.CodeModelStoreChecksumMismatch, "content does not match recorded checksum",
			mperr.FieldProvider(provider), mperr.FieldModel(model), mperr.FieldTag(tag),
			mperr.Field("expected", recorded.Checksum), mperr.Field("actual", sum))
	}
	return nil
}

// Models lists every (provider, model) pair that has a versions directory.
func (s *Store) Models(_ context.Context) ([]ModelKey, error) {
	providers, err := os.ReadDir(s.root)
	if err != nil {
		return nil, mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "listing providers", mperr.FieldPath(s.root))
	}

	var keys []ModelKey
	for _, p := range providers {
		if !p.IsDir() || strings.HasPrefix(p.Name(), ".") {
			continue
		}
		models, err := os.ReadDir(filepath.Join(s.root, p.Name()))
		if err != nil {
			return nil, mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "listing models", mperr.FieldProvider(p.Name()))
		}
		for _, m := range models {
			if !m.IsDir() || strings.HasPrefix(m.Name(), ".") {
				continue
			}
			if isDir(filepath.Join(s.root, p.Name(), m.Name(), versionsName)) {
				keys = append(keys, ModelKey{Provider: p.Name(), Model: m.Name()})
			}
		}
	}
	return keys, nil
}

// commit publishes tag and makes entries the new history. The history is
// staged first; if it cannot be committed after the pointer moved, the
// previous pointer target is restored. Caller must hold the key lock.
func (s *Store) commit(modelDir string, entries []HistoryEntry, tag string) error {
	prev, hadPrev, err := s.publisher.Resolve(modelDir)
	if err != nil {
		return mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "resolving active pointer")
	}

	tmp, err := stageHistory(modelDir, entries)
	if err != nil {
		return mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "staging history", mperr.FieldPath(modelDir))
	}

	if err := s.publisher.Publish(modelDir, tag); err != nil {
		_ = os.Remove(tmp)
		return mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "publishing active pointer", mperr.FieldTag(tag))
	}

	if err := os.Rename(tmp, filepath.Join(modelDir, historyName)); err != nil {
		_ = os.Remove(tmp)
		var restoreErr error
		if hadPrev {
			restoreErr = s.publisher.Publish(modelDir, prev)
		} else {
			restoreErr = s.publisher.Clear(modelDir)
		}
		if restoreErr != nil {
			slog.Error("restoring active pointer after failed history commit",
				"path", modelDir, "previous", prev, "error", restoreErr)
		}
		return mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "committing history", mperr.FieldPath(modelDir))
	}
	_ = syncDir(modelDir)
	return nil
}

func (s *Store) withLock(key ModelKey, fn func(modelDir string) error) error {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = new(sync.Mutex)
		s.locks[key] = l
	}
	s.mu.Unlock()

	l.Lock()
	defer l.Unlock()

	modelDir := s.modelDir(key)
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "creating model directory", mperr.FieldPath(modelDir))
	}
	unlock, err := lockFile(filepath.Join(modelDir, ".lock"))
	if err != nil {
		return mperr.Wrap(err, mperr.CodeModelStoreIOFailure, "acquiring model lock", mperr.FieldPath(modelDir))
	}
	defer unlock()

	return fn(modelDir)
}

func (s *Store) newEntry(tag, checksum string, meta map[string]string) HistoryEntry {
	return HistoryEntry{
		VersionTag:  tag,
		Checksum:    checksum,
		ActivatedAt: s.nowFunc().UTC(),
		Metadata:    meta,
		EventID:     uuid.NewString(),
	}
}

func (s *Store) versionInfo(key ModelKey, e HistoryEntry) VersionInfo {
	t := e.ActivatedAt
	return VersionInfo{
		Provider:    key.Provider,
		Model:       key.Model,
		Tag:         e.VersionTag,
		Checksum:    e.Checksum,
		Path:        s.versionDir(key, e.VersionTag),
		Active:      true,
		ActivatedAt: &t,
		Metadata:    cloneMeta(e.Metadata),
	}
}

func (s *Store) modelDir(key ModelKey) string {
	return filepath.Join(s.root, key.Provider, key.Model)
}

func (s *Store) versionDir(key ModelKey, tag string) string {
	return filepath.Join(s.root, key.Provider, key.Model, versionsName, tag)
}

func validate(provider, model string, tags ...string) (ModelKey, error) {
	if !namePattern.MatchString(provider) {
		return ModelKey{}, mperr.Errorf(mperr.CodeModelStoreInvalidInput, "invalid provider name %q", provider)
	}
	if !namePattern.MatchString(model) {
		return ModelKey{}, mperr.Errorf(mperr.CodeModelStoreInvalidInput, "invalid model name %q", model)
	}
	for _, tag := range tags {
		if !namePattern.MatchString(tag) {
			return ModelKey{}, mperr.Errorf(mperr.CodeModelStoreInvalidInput, "invalid version tag %q", tag)
		}
	}
	return ModelKey{Provider: provider, Model: model}, nil
}

func versionNotFound(key ModelKey, tag string) error {
	return mperr.New(mperr.CodeModelStoreVersionNotFound, "version not staged",
		mperr.FieldProvider(key.Provider), mperr.FieldModel(key.Model), mperr.FieldTag(tag))
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func statStamp(path string) fileStamp {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}
	}
	return fileStamp{modNanos: info.ModTime().UnixNano(), size: info.Size()}
}

func cloneMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+2)
	maps.Copy(out, m)
	return out
}

func errOrNil(err error) error {
	if err != nil {
		return err
	}
	return errors.New("unsupported file type")
}
