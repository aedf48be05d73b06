/*
Copyright (C) 2026 Pixelmesa

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/pixelmesa/kioskd/internal/schedule"
)

// FileStore keeps the schedule in a single JSON or YAML document on disk.
// The encoding follows the file extension.
type FileStore struct {
	path   string
	logger zerolog.Logger
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger.With().Str("component", "filestore").Str("path", path).Logger(),
	}
}

// Load reads the current schedule document. The snapshot version is a hash
// of the raw bytes, so it is stable across restarts and changes exactly when
// the content does.
func (fs *FileStore) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read schedule file: %w", err)
	}

	var sched schedule.Schedule
	if err := fs.unmarshal(raw, &sched); err != nil {
		return nil, fmt.Errorf("parse schedule file: %w", err)
	}

	sum := sha256.Sum256(raw)
	return &Snapshot{
		Version:  hex.EncodeToString(sum[:8]),
		Schedule: sched,
		LoadedAt: time.Now(),
	}, nil
}

// Save writes the schedule atomically via a temp file and rename, so a
// concurrent Load never observes a partial document.
func (fs *FileStore) Save(ctx context.Context, s schedule.Schedule) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := fs.marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode schedule: %w", err)
	}

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create schedule dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".schedule-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, fs.path); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("replace schedule file: %w", err)
	}

	fs.logger.Debug().Int("bytes", len(raw)).Msg("schedule saved")

	sum := sha256.Sum256(raw)
	return &Snapshot{
		Version:  hex.EncodeToString(sum[:8]),
		Schedule: s,
		LoadedAt: time.Now(),
	}, nil
}

// EnsureDefault seeds the file with def when nothing exists yet. Used by the
// configuration API at startup; the controller itself treats a missing file
// as fatal.
func (fs *FileStore) EnsureDefault(ctx context.Context, def schedule.Schedule) error {
	if _, err := os.Stat(fs.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat schedule file: %w", err)
	}

	fs.logger.Info().Msg("no schedule file found, writing defaults")
	_, err := fs.Save(ctx, def)
	return err
}

func (fs *FileStore) marshal(s schedule.Schedule) ([]byte, error) {
	if fs.isYAML() {
		return yaml.Marshal(s)
	}
	return json.MarshalIndent(s, "", "  ")
}

func (fs *FileStore) unmarshal(raw []byte, s *schedule.Schedule) error {
	if fs.isYAML() {
		return yaml.Unmarshal(raw, s)
	}
	return json.Unmarshal(raw, s)
}

func (fs *FileStore) isYAML() bool {
	ext := strings.ToLower(filepath.Ext(fs.path))
	return ext == ".yaml" || ext == ".yml"
}
