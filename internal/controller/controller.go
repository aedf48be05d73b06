/*
Copyright (C) 2026 Pixelmesa

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package controller drives the kiosk browser to match the schedule's
// current decision. Every tick is a full reconciliation from authoritative
// state (wall clock, schedule snapshot, process liveness), never an
// incremental diff.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pixelmesa/kioskd/internal/browser"
	"github.com/pixelmesa/kioskd/internal/events"
	"github.com/pixelmesa/kioskd/internal/schedule"
	"github.com/pixelmesa/kioskd/internal/store"
	"github.com/pixelmesa/kioskd/internal/telemetry"
)

// State is the controller's own lifecycle state, not the OS process's.
type State string

const (
	StateInit     State = "init"
	StateRunning  State = "running"
	StateShutdown State = "shutdown"
)

const (
	defaultReadTimeout = 5 * time.Second
	defaultBackoffMin  = 2 * time.Second
	defaultBackoffMax  = 60 * time.Second
)

// Clock abstracts wall-clock time so ticks can be tested without sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Status is a read-only copy of the controller's loop state.
type Status struct {
	State           State         `json:"state"`
	Mode            schedule.Mode `json:"mode,omitempty"`
	URL             string        `json:"url,omitempty"`
	BrowserPID      int           `json:"browser_pid,omitempty"`
	BrowserAlive    bool          `json:"browser_alive"`
	ScheduleVersion string        `json:"schedule_version,omitempty"`
	Restarts        int           `json:"restarts"`
	LastTick        time.Time     `json:"last_tick,omitempty"`
	LastError       string        `json:"last_error,omitempty"`
}

// Option tweaks controller behavior, mostly for tests.
type Option func(*Controller)

// WithClock injects a clock.
func WithClock(clock Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithReadTimeout bounds each schedule snapshot read.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Controller) { c.readTimeout = d }
}

// WithBackoff sets the relaunch backoff range for failure-driven launches.
func WithBackoff(min, max time.Duration) Option {
	return func(c *Controller) {
		c.backoffMin = min
		c.backoffMax = max
	}
}

// WithStartupReap controls whether stray browser processes are killed during
// initialization. On by default.
func WithStartupReap(enabled bool) Option {
	return func(c *Controller) { c.reapOnBoot = enabled }
}

// Controller owns the single browser process and reconciles it against the
// schedule on a fixed tick. All mutation happens inside the tick loop.
type Controller struct {
	store  store.Store
	runner browser.Runner
	bus    *events.Bus
	logger zerolog.Logger
	clock  Clock

	readTimeout time.Duration
	backoffMin  time.Duration
	backoffMax  time.Duration
	reapOnBoot  bool

	// mu guards the fields below; the tick loop is the only writer.
	mu           sync.RWMutex
	state        State
	snap         *store.Snapshot
	handle       browser.Handle
	lastTarget   schedule.Target
	failures     int
	nextLaunchAt time.Time
	restarts     int
	lastTick     time.Time
	lastErr      string
}

// New creates a controller. It does not touch the browser or the store
// until Run.
func New(st store.Store, runner browser.Runner, bus *events.Bus, logger zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		store:       st,
		runner:      runner,
		bus:         bus,
		logger:      logger.With().Str("component", "controller").Logger(),
		clock:       systemClock{},
		readTimeout: defaultReadTimeout,
		backoffMin:  defaultBackoffMin,
		backoffMax:  defaultBackoffMax,
		reapOnBoot:  true,
		state:       StateInit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes the supervisory loop until context cancellation. It returns
// an error only for startup failures the controller cannot recover from: a
// missing or invalid first schedule snapshot.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.initialize(ctx); err != nil {
		return err
	}

	c.logger.Info().Msg("kiosk controller started")

	interval := c.currentInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Reconcile immediately rather than waiting out the first interval.
	c.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case <-ticker.C:
			c.tick(ctx)

			// The schedule carries its own poll interval; re-apply it when
			// a new snapshot changed it.
			if next := c.currentInterval(); next != interval {
				interval = next
				ticker.Reset(interval)
				c.logger.Info().Dur("interval", interval).Msg("tick interval updated")
			}
		}
	}
}

// initialize reconciles stray processes and loads the first snapshot.
// Failures here are fatal: there is no safe default to render.
func (c *Controller) initialize(ctx context.Context) error {
	if c.reapOnBoot {
		reaped, err := c.runner.ReapStrays(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("stray browser reconciliation failed")
		} else if reaped > 0 {
			c.logger.Info().Int("count", reaped).Msg("reaped stray browser processes")
			telemetry.StraysReaped.Add(float64(reaped))
			c.bus.Publish(events.EventStraysReaped, events.Payload{"count": reaped})
		}
	}

	rctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	snap, err := c.store.Load(rctx)
	if err != nil {
		return fmt.Errorf("load initial schedule: %w", err)
	}
	if err := snap.Schedule.Validate(); err != nil {
		return fmt.Errorf("initial schedule invalid: %w", err)
	}

	c.mu.Lock()
	c.snap = snap
	c.state = StateRunning
	c.mu.Unlock()

	c.logger.Info().Str("version", snap.Version).Msg("initial schedule loaded")
	return nil
}

// tick performs one full reconciliation pass.
func (c *Controller) tick(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.lastTick = now
	telemetry.TicksTotal.Inc()

	c.refreshSnapshot(ctx)

	target, err := schedule.Resolve(c.snap.Schedule, now)
	if err != nil {
		// Snapshots are validated before adoption, so this indicates a bug.
		c.lastErr = err.Error()
		c.logger.Error().Err(err).Msg("schedule resolution failed")
		return
	}

	if target.Mode == schedule.ModeOnRotation {
		telemetry.CurrentMode.Set(1)
	} else {
		telemetry.CurrentMode.Set(0)
	}

	if target != c.lastTarget {
		if target.Mode != c.lastTarget.Mode {
			c.bus.Publish(events.EventModeChange, events.Payload{"mode": target.Mode})
			c.logger.Info().Str("mode", string(target.Mode)).Msg("display mode changed")
		}
		c.bus.Publish(events.EventNowShowing, events.Payload{
			"url":   target.URL,
			"mode":  target.Mode,
			"index": target.Index,
		})
		c.lastTarget = target
	}

	c.reconcileBrowser(ctx, now, target)
}

// refreshSnapshot re-reads the schedule, keeping the last known-good
// snapshot on read failure or when the new snapshot fails validation.
func (c *Controller) refreshSnapshot(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	snap, err := c.store.Load(rctx)
	if err != nil {
		telemetry.ConfigReadFailures.Inc()
		c.lastErr = err.Error()
		c.logger.Warn().Err(err).Str("version", c.snap.Version).Msg("schedule read failed, keeping last known good")
		return
	}

	if snap.Version == c.snap.Version {
		return
	}

	if err := snap.Schedule.Validate(); err != nil {
		telemetry.ConfigRejected.Inc()
		c.lastErr = err.Error()
		c.bus.Publish(events.EventScheduleRejected, events.Payload{
			"version": snap.Version,
			"error":   err.Error(),
		})
		c.logger.Warn().Err(err).Str("version", snap.Version).Msg("rejecting invalid schedule snapshot")
		return
	}

	c.logger.Info().Str("old", c.snap.Version).Str("new", snap.Version).Msg("schedule updated")
	c.snap = snap
	c.lastErr = ""
	c.bus.Publish(events.EventScheduleUpdate, events.Payload{"version": snap.Version})
}

// reconcileBrowser drives the owned process toward the target with minimal
// disruption: relaunch when dead, replace when the URL changed, otherwise
// nothing.
func (c *Controller) reconcileBrowser(ctx context.Context, now time.Time, target schedule.Target) {
	alive := c.handle != nil && c.handle.Alive()

	switch {
	case !alive:
		reason := "initial"
		if c.handle != nil {
			reason = "crash"
			c.restarts++
			c.bus.Publish(events.EventBrowserExit, events.Payload{"pid": c.handle.PID()})
			c.logger.Warn().Int("pid", c.handle.PID()).Msg("browser process died, relaunching")
			c.handle = nil
		}
		if now.Before(c.nextLaunchAt) {
			// Rate-limited after repeated launch failures.
			return
		}
		c.launch(ctx, now, target.URL, reason)

	case c.handle.URL() != target.URL:
		// The browser cannot navigate out-of-band, so a URL change means
		// terminate then relaunch. Terminate blocks until the process is
		// gone, so two instances never coexist.
		old := c.handle
		if err := c.runner.Terminate(old); err != nil {
			c.lastErr = err.Error()
			c.logger.Error().Err(err).Int("pid", old.PID()).Msg("failed to terminate browser")
			return
		}
		c.handle = nil
		c.launch(ctx, now, target.URL, "url_change")

	default:
		// Idempotent tick: alive and already showing the right URL.
	}
}

func (c *Controller) launch(ctx context.Context, now time.Time, url, reason string) {
	handle, err := c.runner.Launch(ctx, url)
	if err != nil {
		c.failures++
		c.nextLaunchAt = now.Add(c.backoff())
		c.lastErr = err.Error()
		telemetry.BrowserLaunchFailures.Inc()
		c.logger.Error().Err(err).
			Int("consecutive_failures", c.failures).
			Time("next_attempt", c.nextLaunchAt).
			Msg("browser launch failed")
		return
	}

	c.failures = 0
	c.nextLaunchAt = time.Time{}
	c.handle = handle
	c.lastErr = ""
	telemetry.BrowserLaunchesTotal.WithLabelValues(reason).Inc()

	event := events.EventBrowserStart
	if reason == "crash" {
		event = events.EventBrowserRestart
	}
	c.bus.Publish(event, events.Payload{
		"pid":    handle.PID(),
		"url":    url,
		"reason": reason,
	})
}

// backoff returns the wait before the next failure-driven launch attempt,
// doubling per consecutive failure up to the cap.
func (c *Controller) backoff() time.Duration {
	d := c.backoffMin
	for i := 1; i < c.failures; i++ {
		d *= 2
		if d >= c.backoffMax {
			return c.backoffMax
		}
	}
	return d
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateShutdown
	if c.handle != nil {
		if err := c.runner.Terminate(c.handle); err != nil {
			c.logger.Error().Err(err).Msg("failed to terminate browser on shutdown")
		}
		c.handle = nil
	}
	c.logger.Info().Msg("kiosk controller stopped")
}

func (c *Controller) currentInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.Schedule.PollInterval()
}

// Status returns a copy of the controller's current state for the HTTP API.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := Status{
		State:     c.state,
		Mode:      c.lastTarget.Mode,
		URL:       c.lastTarget.URL,
		Restarts:  c.restarts,
		LastTick:  c.lastTick,
		LastError: c.lastErr,
	}
	if c.snap != nil {
		status.ScheduleVersion = c.snap.Version
	}
	if c.handle != nil {
		status.BrowserPID = c.handle.PID()
		status.BrowserAlive = c.handle.Alive()
	}
	return status
}
