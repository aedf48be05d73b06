/*
Copyright (C) 2026 Pixelmesa

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store persists the display schedule and serves versioned,
// immutable snapshots of it to the controller.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/pixelmesa/kioskd/internal/schedule"
)

// ErrNotFound is returned by Load when no schedule has been written yet.
var ErrNotFound = errors.New("store: no schedule configured")

// Snapshot is an immutable read of the schedule. Version is opaque and
// changes whenever the content changes; the controller compares versions to
// detect updates.
type Snapshot struct {
	Version  string
	Schedule schedule.Schedule
	LoadedAt time.Time
}

// Store reads and writes the schedule. The controller only ever calls Load;
// Save belongs to the configuration API.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, s schedule.Schedule) (*Snapshot, error)
}
