/*
Copyright (C) 2026 Pixelmesa

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package schedule defines the kiosk display schedule and resolves it
// against wall-clock time.
package schedule

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultPollIntervalSeconds is used when a schedule does not set its own
// poll interval.
const DefaultPollIntervalSeconds = 30

// Entry is one slot of the on-hours rotation. Order matters.
type Entry struct {
	URL             string `json:"url" yaml:"url"`
	DurationSeconds int    `json:"duration" yaml:"duration"`
}

// TimeOfDay is a wall-clock time of day, serialized as "HH:MM".
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24-hour clock).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("time of day %q: want HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("time of day %q: %w", s, err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("time of day %q: %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("time of day %q out of range", s)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

// String renders the time as "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// SecondsOfDay returns seconds elapsed since local midnight.
func (t TimeOfDay) SecondsOfDay() int {
	return t.Hour*3600 + t.Minute*60
}

// MarshalJSON implements json.Marshaler.
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.String())), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("time of day: %w", err)
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (t TimeOfDay) MarshalYAML() (any, error) {
	return t.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *TimeOfDay) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Schedule is the full display configuration. Snapshots of it are immutable:
// the controller replaces the whole value on change, never edits in place.
//
// Field keys match the on-disk config document consumed by the admin page.
type Schedule struct {
	OnHoursStart        TimeOfDay `json:"on_hours_start" yaml:"on_hours_start"`
	OnHoursEnd          TimeOfDay `json:"on_hours_end" yaml:"on_hours_end"`
	Rotation            []Entry   `json:"on_urls" yaml:"on_urls"`
	OffHoursURL         string    `json:"off_hours_url" yaml:"off_hours_url"`
	PollIntervalSeconds int       `json:"poll_interval_seconds,omitempty" yaml:"poll_interval_seconds,omitempty"`
}

// Validate checks the schedule for content the controller cannot act on.
func (s Schedule) Validate() error {
	if len(s.Rotation) == 0 {
		return fmt.Errorf("schedule: on-hours rotation is empty")
	}
	for i, entry := range s.Rotation {
		if entry.DurationSeconds <= 0 {
			return fmt.Errorf("schedule: rotation entry %d: duration must be positive, got %d", i, entry.DurationSeconds)
		}
		if err := validateURL(entry.URL); err != nil {
			return fmt.Errorf("schedule: rotation entry %d: %w", i, err)
		}
	}
	if err := validateURL(s.OffHoursURL); err != nil {
		return fmt.Errorf("schedule: off-hours url: %w", err)
	}
	if s.PollIntervalSeconds < 0 {
		return fmt.Errorf("schedule: poll interval must not be negative, got %d", s.PollIntervalSeconds)
	}
	return nil
}

// PollInterval returns the configured tick interval, falling back to the
// default when the schedule does not set one.
func (s Schedule) PollInterval() time.Duration {
	if s.PollIntervalSeconds > 0 {
		return time.Duration(s.PollIntervalSeconds) * time.Second
	}
	return DefaultPollIntervalSeconds * time.Second
}

// CycleSeconds is the length of one full rotation pass.
func (s Schedule) CycleSeconds() int {
	total := 0
	for _, entry := range s.Rotation {
		total += entry.DurationSeconds
	}
	return total
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url is empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("url %q: %w", raw, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("url %q: missing scheme or host", raw)
	}
	return nil
}

// Default returns the schedule written when no configuration exists yet,
// mirroring the defaults the admin service seeds on first run.
func Default() Schedule {
	return Schedule{
		OnHoursStart:        TimeOfDay{Hour: 8},
		OnHoursEnd:          TimeOfDay{Hour: 18},
		Rotation:            []Entry{{URL: "https://google.com", DurationSeconds: 15}},
		OffHoursURL:         "https://duckduckgo.com",
		PollIntervalSeconds: DefaultPollIntervalSeconds,
	}
}
