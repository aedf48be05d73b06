/*
Copyright (C) 2026 Pixelmesa

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package controller

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pixelmesa/kioskd/internal/browser"
	"github.com/pixelmesa/kioskd/internal/events"
	"github.com/pixelmesa/kioskd/internal/schedule"
	"github.com/pixelmesa/kioskd/internal/store"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) advance(d time.Duration) { f.now = f.now.Add(d) }

type fakeStore struct {
	snap  *store.Snapshot
	err   error
	loads int
}

func (f *fakeStore) Load(ctx context.Context) (*store.Snapshot, error) {
	f.loads++
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

func (f *fakeStore) Save(ctx context.Context, s schedule.Schedule) (*store.Snapshot, error) {
	return nil, errors.New("not implemented")
}

type fakeHandle struct {
	url   string
	pid   int
	alive bool
}

func (h *fakeHandle) Alive() bool { return h.alive }
func (h *fakeHandle) URL() string { return h.url }
func (h *fakeHandle) PID() int    { return h.pid }

// fakeRunner records every process action and fails the test if two browser
// processes are ever alive at once.
type fakeRunner struct {
	t *testing.T

	ops        []string
	live       []*fakeHandle
	launchErr  error
	strayCount int
	nextPID    int
}

func (f *fakeRunner) Launch(ctx context.Context, url string) (browser.Handle, error) {
	if f.launchErr != nil {
		f.ops = append(f.ops, "launch-failed")
		return nil, f.launchErr
	}
	for _, h := range f.live {
		if h.alive {
			f.t.Errorf("second browser launched while pid %d still alive", h.pid)
		}
	}
	f.nextPID++
	h := &fakeHandle{url: url, pid: f.nextPID, alive: true}
	f.live = append(f.live, h)
	f.ops = append(f.ops, "launch:"+url)
	return h, nil
}

func (f *fakeRunner) Terminate(h browser.Handle) error {
	fh := h.(*fakeHandle)
	fh.alive = false
	f.ops = append(f.ops, fmt.Sprintf("terminate:%d", fh.pid))
	return nil
}

func (f *fakeRunner) ReapStrays(ctx context.Context) (int, error) {
	f.ops = append(f.ops, "reap")
	return f.strayCount, nil
}

func (f *fakeRunner) countLaunches() int {
	n := 0
	for _, op := range f.ops {
		if len(op) > 7 && op[:7] == "launch:" {
			n++
		}
	}
	return n
}

func testSnapshot(version string) *store.Snapshot {
	return &store.Snapshot{
		Version: version,
		Schedule: schedule.Schedule{
			OnHoursStart: schedule.TimeOfDay{Hour: 8},
			OnHoursEnd:   schedule.TimeOfDay{Hour: 18},
			Rotation: []schedule.Entry{
				{URL: "https://a.example.com", DurationSeconds: 60},
				{URL: "https://b.example.com", DurationSeconds: 60},
			},
			OffHoursURL:         "https://off.example.com",
			PollIntervalSeconds: 5,
		},
	}
}

// newTestController returns a controller with its clock inside the on-hours
// window, pointed at the first rotation entry.
func newTestController(t *testing.T) (*Controller, *fakeStore, *fakeRunner, *fakeClock) {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)}
	st := &fakeStore{snap: testSnapshot("v1")}
	runner := &fakeRunner{t: t, strayCount: 0}
	c := New(st, runner, events.NewBus(), zerolog.Nop(),
		WithClock(clock),
		WithBackoff(2*time.Second, 60*time.Second),
	)
	return c, st, runner, clock
}

func TestInitializeReapsStraysBeforeFirstLaunch(t *testing.T) {
	c, _, runner, _ := newTestController(t)
	runner.strayCount = 2

	if err := c.initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	c.tick(context.Background())

	if len(runner.ops) < 2 || runner.ops[0] != "reap" {
		t.Fatalf("expected reap before any launch, got ops %v", runner.ops)
	}
	if runner.ops[1] != "launch:https://a.example.com" {
		t.Fatalf("first launch wrong: %v", runner.ops)
	}
}

func TestStartupReapDisabled(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)}
	st := &fakeStore{snap: testSnapshot("v1")}
	runner := &fakeRunner{t: t, strayCount: 2}
	c := New(st, runner, events.NewBus(), zerolog.Nop(),
		WithClock(clock),
		WithStartupReap(false),
	)

	if err := c.initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	c.tick(context.Background())

	for _, op := range runner.ops {
		if op == "reap" {
			t.Fatalf("strays reaped despite being disabled: %v", runner.ops)
		}
	}
	if runner.countLaunches() != 1 {
		t.Fatalf("launches = %d, want 1", runner.countLaunches())
	}
}

func TestFirstLoadFailureIsFatal(t *testing.T) {
	c, st, _, _ := newTestController(t)
	st.err = errors.New("disk gone")

	if err := c.initialize(context.Background()); err == nil {
		t.Fatal("expected fatal error on first load failure")
	}
}

func TestInvalidFirstScheduleIsFatal(t *testing.T) {
	c, st, _, _ := newTestController(t)
	st.snap.Schedule.Rotation = nil

	if err := c.initialize(context.Background()); err == nil {
		t.Fatal("expected fatal error on invalid first schedule")
	}
}

func TestTickIsIdempotent(t *testing.T) {
	c, _, runner, _ := newTestController(t)
	ctx := context.Background()

	if err := c.initialize(ctx); err != nil {
		t.Fatal(err)
	}
	c.tick(ctx)
	before := len(runner.ops)

	// Nothing changed: two more ticks must perform zero process actions.
	c.tick(ctx)
	c.tick(ctx)

	if len(runner.ops) != before {
		t.Fatalf("idempotent ticks performed process actions: %v", runner.ops[before:])
	}
}

func TestCrashRecoveryRelaunchesExactlyOnce(t *testing.T) {
	c, _, runner, _ := newTestController(t)
	ctx := context.Background()

	if err := c.initialize(ctx); err != nil {
		t.Fatal(err)
	}
	c.tick(ctx)
	if runner.countLaunches() != 1 {
		t.Fatalf("launches after first tick = %d, want 1", runner.countLaunches())
	}

	// Simulate a crash between ticks.
	runner.live[0].alive = false

	c.tick(ctx)
	if runner.countLaunches() != 2 {
		t.Fatalf("launches after crash tick = %d, want 2", runner.countLaunches())
	}
	if got := runner.live[1].url; got != "https://a.example.com" {
		t.Errorf("relaunched with %s, want currently resolved URL", got)
	}

	status := c.Status()
	if status.Restarts != 1 {
		t.Errorf("restarts = %d, want 1", status.Restarts)
	}
}

func TestURLChangeTerminatesThenLaunches(t *testing.T) {
	c, _, runner, clock := newTestController(t)
	ctx := context.Background()

	if err := c.initialize(ctx); err != nil {
		t.Fatal(err)
	}
	c.tick(ctx)

	// Move into the second rotation slot.
	clock.advance(60 * time.Second)
	c.tick(ctx)

	want := []string{
		"reap",
		"launch:https://a.example.com",
		"terminate:1",
		"launch:https://b.example.com",
	}
	if len(runner.ops) != len(want) {
		t.Fatalf("ops = %v, want %v", runner.ops, want)
	}
	for i := range want {
		if runner.ops[i] != want[i] {
			t.Fatalf("ops[%d] = %s, want %s (full: %v)", i, runner.ops[i], want[i], runner.ops)
		}
	}
}

func TestModeFlipSwitchesToOffHoursURL(t *testing.T) {
	c, _, runner, clock := newTestController(t)
	ctx := context.Background()

	if err := c.initialize(ctx); err != nil {
		t.Fatal(err)
	}
	c.tick(ctx)

	// Jump past the end of the active window.
	clock.now = time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)
	c.tick(ctx)

	last := runner.live[len(runner.live)-1]
	if last.url != "https://off.example.com" {
		t.Errorf("after window end showing %s, want off-hours url", last.url)
	}
	if c.Status().Mode != schedule.ModeOffHours {
		t.Errorf("status mode = %s, want off_hours", c.Status().Mode)
	}
}

func TestReadFailureKeepsLastKnownGood(t *testing.T) {
	c, st, runner, _ := newTestController(t)
	ctx := context.Background()

	if err := c.initialize(ctx); err != nil {
		t.Fatal(err)
	}
	c.tick(ctx)

	st.err = errors.New("store unavailable")
	c.tick(ctx)
	c.tick(ctx)

	if got := c.Status().ScheduleVersion; got != "v1" {
		t.Errorf("schedule version = %s, want last known good v1", got)
	}
	// The browser must stay up on the stale schedule.
	if !runner.live[0].alive {
		t.Error("browser was disturbed by a config read failure")
	}
}

func TestInvalidSnapshotRejectedAfterStartup(t *testing.T) {
	c, st, runner, _ := newTestController(t)
	ctx := context.Background()

	if err := c.initialize(ctx); err != nil {
		t.Fatal(err)
	}
	c.tick(ctx)

	bad := testSnapshot("v2")
	bad.Schedule.Rotation = []schedule.Entry{{URL: "https://x.example.com", DurationSeconds: 0}}
	st.snap = bad

	c.tick(ctx)

	if got := c.Status().ScheduleVersion; got != "v1" {
		t.Errorf("schedule version = %s, want v1 (invalid v2 rejected)", got)
	}
	if !runner.live[0].alive || runner.live[0].url != "https://a.example.com" {
		t.Error("browser state changed on a rejected snapshot")
	}
}

func TestValidSnapshotAdopted(t *testing.T) {
	c, st, runner, _ := newTestController(t)
	ctx := context.Background()

	if err := c.initialize(ctx); err != nil {
		t.Fatal(err)
	}
	c.tick(ctx)

	updated := testSnapshot("v2")
	updated.Schedule.Rotation = []schedule.Entry{{URL: "https://new.example.com", DurationSeconds: 30}}
	st.snap = updated

	c.tick(ctx)

	if got := c.Status().ScheduleVersion; got != "v2" {
		t.Errorf("schedule version = %s, want v2", got)
	}
	last := runner.live[len(runner.live)-1]
	if last.url != "https://new.example.com" {
		t.Errorf("showing %s after schedule update, want new URL", last.url)
	}
}

func TestLaunchFailureBackoff(t *testing.T) {
	c, _, runner, clock := newTestController(t)
	ctx := context.Background()

	if err := c.initialize(ctx); err != nil {
		t.Fatal(err)
	}

	runner.launchErr = errors.New("no display")
	c.tick(ctx)

	attempts := func() int {
		n := 0
		for _, op := range runner.ops {
			if op == "launch-failed" {
				n++
			}
		}
		return n
	}

	if attempts() != 1 {
		t.Fatalf("attempts = %d, want 1", attempts())
	}

	// Within the backoff window: no retry.
	clock.advance(1 * time.Second)
	c.tick(ctx)
	if attempts() != 1 {
		t.Fatalf("retried inside backoff window: %d attempts", attempts())
	}

	// Past the backoff: retried.
	clock.advance(2 * time.Second)
	c.tick(ctx)
	if attempts() != 2 {
		t.Fatalf("attempts = %d, want 2 after backoff elapsed", attempts())
	}

	// Recovery clears the backoff state.
	runner.launchErr = nil
	clock.advance(10 * time.Second)
	c.tick(ctx)
	if runner.countLaunches() != 1 {
		t.Fatalf("launches = %d, want 1 after recovery", runner.countLaunches())
	}
	if c.Status().LastError != "" {
		t.Errorf("last error not cleared after recovery: %q", c.Status().LastError)
	}
}

func TestShutdownTerminatesOwnedProcess(t *testing.T) {
	c, _, runner, _ := newTestController(t)
	ctx := context.Background()

	if err := c.initialize(ctx); err != nil {
		t.Fatal(err)
	}
	c.tick(ctx)

	c.shutdown()

	if runner.live[0].alive {
		t.Error("browser still alive after shutdown")
	}
	if c.Status().State != StateShutdown {
		t.Errorf("state = %s, want shutdown", c.Status().State)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	c, _, runner, _ := newTestController(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx)
	}()

	// Give the loop a moment to reach RUNNING, then cancel.
	deadline := time.After(2 * time.Second)
	for c.Status().State != StateRunning {
		select {
		case <-deadline:
			t.Fatal("controller never reached running state")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	for _, h := range runner.live {
		if h.alive {
			t.Error("browser left alive after Run returned")
		}
	}
}

func TestEventsPublishedOnLaunch(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	st := &fakeStore{snap: testSnapshot("v1")}
	runner := &fakeRunner{t: t}
	bus := events.NewBus()
	sub := bus.Subscribe(events.EventBrowserStart)

	c := New(st, runner, bus, zerolog.Nop(), WithClock(clock))
	ctx := context.Background()
	if err := c.initialize(ctx); err != nil {
		t.Fatal(err)
	}
	c.tick(ctx)

	select {
	case payload := <-sub:
		if payload["url"] != "https://a.example.com" {
			t.Errorf("browser.start url = %v", payload["url"])
		}
	default:
		t.Fatal("no browser.start event published")
	}
}
