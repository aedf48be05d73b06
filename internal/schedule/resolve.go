/*
Copyright (C) 2026 Pixelmesa

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"fmt"
	"time"
)

// Mode says which half of the schedule produced a target.
type Mode string

const (
	ModeOnRotation Mode = "on_rotation"
	ModeOffHours   Mode = "off_hours"
)

// Target is the resolved decision for a single instant. Derived, never
// persisted.
type Target struct {
	URL  string `json:"url"`
	Mode Mode   `json:"mode"`
	// Index is the rotation slot the URL came from, -1 during off-hours.
	Index int `json:"index"`
}

// Resolve computes the display target for now. It is pure: the rotation
// position is derived from wall-clock time and entry durations alone, so
// two calls at the same instant always agree and a controller restart does
// not lose rotation phase.
//
// The active window is circular over the 24-hour clock; an end before the
// start means the window crosses midnight. start == end means always off.
func Resolve(s Schedule, now time.Time) (Target, error) {
	if !s.withinActiveWindow(now) {
		return Target{URL: s.OffHoursURL, Mode: ModeOffHours, Index: -1}, nil
	}

	if len(s.Rotation) == 0 {
		return Target{}, fmt.Errorf("resolve: on-hours rotation is empty")
	}

	cycle := s.CycleSeconds()
	if cycle <= 0 {
		return Target{}, fmt.Errorf("resolve: rotation cycle length is %d seconds", cycle)
	}

	elapsed := secondsOfDay(now) - s.OnHoursStart.SecondsOfDay()
	if elapsed < 0 {
		// Past midnight inside a wrapping window.
		elapsed += 24 * 3600
	}

	pos := elapsed % cycle
	for i, entry := range s.Rotation {
		if pos < entry.DurationSeconds {
			return Target{URL: entry.URL, Mode: ModeOnRotation, Index: i}, nil
		}
		pos -= entry.DurationSeconds
	}

	// Unreachable: pos < cycle and the walk covers the full cycle.
	last := len(s.Rotation) - 1
	return Target{URL: s.Rotation[last].URL, Mode: ModeOnRotation, Index: last}, nil
}

func (s Schedule) withinActiveWindow(now time.Time) bool {
	start := s.OnHoursStart.SecondsOfDay()
	end := s.OnHoursEnd.SecondsOfDay()
	sod := secondsOfDay(now)

	if start == end {
		// Zero-length window: always off-hours.
		return false
	}
	if start < end {
		return sod >= start && sod < end
	}
	// Window crosses midnight, e.g. 22:00-06:00.
	return sod >= start || sod < end
}

func secondsOfDay(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}
