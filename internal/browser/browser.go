/*
Copyright (C) 2026 Pixelmesa

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package browser owns the kiosk browser process: launching it fullscreen at
// a URL, checking liveness, terminating it, and reaping strays left over
// from a previous run.
package browser

import "context"

// Handle is a live (or recently dead) browser process owned by the
// controller. At most one exists at a time.
type Handle interface {
	// Alive reports whether the process is still running.
	Alive() bool
	// URL is the address the process was launched with. The browser cannot
	// navigate out-of-band, so a different desired URL means a relaunch.
	URL() string
	// PID of the process, for diagnostics.
	PID() int
}

// Runner launches and terminates browser processes.
type Runner interface {
	Launch(ctx context.Context, url string) (Handle, error)
	Terminate(h Handle) error
	// ReapStrays kills any process of the managed browser class that this
	// runner does not own, returning how many were found.
	ReapStrays(ctx context.Context) (int, error)
}
