/*
Copyright (C) 2026 Pixelmesa

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pixelmesa/kioskd/internal/schedule"
)

// ScheduleRevision is one saved version of the schedule. Revisions are
// append-only; Load always returns the newest one.
type ScheduleRevision struct {
	ID        uint   `gorm:"primaryKey"`
	Version   string `gorm:"size:36;uniqueIndex"`
	Document  string
	CreatedAt time.Time
}

// DBStore keeps schedule revisions in a local sqlite database, giving the
// device an edit history the file backend cannot.
type DBStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// OpenDB opens (and migrates) the sqlite-backed store at dsn.
func OpenDB(dsn string, logger zerolog.Logger) (*DBStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open schedule database: %w", err)
	}

	if err := db.AutoMigrate(&ScheduleRevision{}); err != nil {
		return nil, fmt.Errorf("migrate schedule database: %w", err)
	}

	return &DBStore{
		db:     db,
		logger: logger.With().Str("component", "dbstore").Logger(),
	}, nil
}

// Load returns the most recent schedule revision.
func (ds *DBStore) Load(ctx context.Context) (*Snapshot, error) {
	var rev ScheduleRevision
	err := ds.db.WithContext(ctx).Order("id DESC").First(&rev).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load schedule revision: %w", err)
	}

	var sched schedule.Schedule
	if err := json.Unmarshal([]byte(rev.Document), &sched); err != nil {
		return nil, fmt.Errorf("parse schedule revision %s: %w", rev.Version, err)
	}

	return &Snapshot{
		Version:  rev.Version,
		Schedule: sched,
		LoadedAt: time.Now(),
	}, nil
}

// Save appends a new revision.
func (ds *DBStore) Save(ctx context.Context, s schedule.Schedule) (*Snapshot, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode schedule: %w", err)
	}

	rev := ScheduleRevision{
		Version:  uuid.NewString(),
		Document: string(raw),
	}
	if err := ds.db.WithContext(ctx).Create(&rev).Error; err != nil {
		return nil, fmt.Errorf("save schedule revision: %w", err)
	}

	ds.logger.Debug().Str("version", rev.Version).Msg("schedule revision saved")

	return &Snapshot{
		Version:  rev.Version,
		Schedule: s,
		LoadedAt: time.Now(),
	}, nil
}

// EnsureDefault seeds the database with def when it holds no revisions.
func (ds *DBStore) EnsureDefault(ctx context.Context, def schedule.Schedule) error {
	var count int64
	if err := ds.db.WithContext(ctx).Model(&ScheduleRevision{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count schedule revisions: %w", err)
	}
	if count > 0 {
		return nil
	}

	ds.logger.Info().Msg("no schedule revisions found, writing defaults")
	_, err := ds.Save(ctx, def)
	return err
}

// Close releases the underlying database handle.
func (ds *DBStore) Close() error {
	sqlDB, err := ds.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
