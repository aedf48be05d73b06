/*
Copyright (C) 2026 Pixelmesa

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
)

const terminateTimeout = 5 * time.Second

// Chromium runs a system Chromium in kiosk mode.
type Chromium struct {
	bin         string
	userDataDir string
	extraArgs   []string
	logger      zerolog.Logger
}

// NewChromium creates a runner for the given binary. userDataDir keeps the
// browser profile (cookies, sessions) across relaunches.
func NewChromium(bin, userDataDir string, extraArgs []string, logger zerolog.Logger) *Chromium {
	return &Chromium{
		bin:         bin,
		userDataDir: userDataDir,
		extraArgs:   extraArgs,
		logger:      logger.With().Str("component", "chromium").Logger(),
	}
}

// Probe verifies the browser binary is reachable. A failure here is
// structural, not transient: the controller refuses to start.
func (c *Chromium) Probe() error {
	if _, err := exec.LookPath(c.bin); err != nil {
		return fmt.Errorf("browser binary %q not found: %w", c.bin, err)
	}
	return nil
}

// Name returns the binary name used for stray matching.
func (c *Chromium) Name() string {
	return c.bin
}

// Launch starts the browser fullscreen at url. The returned handle tracks
// process exit via a done channel; Launch does not wait for page load.
func (c *Chromium) Launch(ctx context.Context, url string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if c.userDataDir != "" {
		if err := os.MkdirAll(c.userDataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create user data dir: %w", err)
		}
	}

	args := []string{
		"--kiosk",
		"--noerrdialogs",
		"--disable-infobars",
		"--disable-pinch",
		"--start-maximized",
		"--check-for-update-interval=31536000",
	}
	if c.userDataDir != "" {
		args = append(args, "--user-data-dir="+c.userDataDir)
	}
	args = append(args, c.extraArgs...)
	args = append(args, url)

	// Deliberately not CommandContext: the process must outlive the tick
	// that launched it.
	cmd := exec.Command(c.bin, args...)
	cmd.Env = os.Environ()
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	proc := &process{
		cmd:  cmd,
		url:  url,
		done: make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		close(proc.done)
		if err != nil {
			c.logger.Debug().Err(err).Int("pid", proc.PID()).Msg("browser exited")
		} else {
			c.logger.Info().Int("pid", proc.PID()).Msg("browser stopped")
		}
	}()

	c.logger.Info().Str("url", url).Int("pid", proc.PID()).Msg("browser launched")
	return proc, nil
}

// Terminate stops the process: interrupt first, kill after a timeout.
func (c *Chromium) Terminate(h Handle) error {
	proc, ok := h.(*process)
	if !ok || proc == nil {
		return nil
	}

	select {
	case <-proc.done:
		return nil
	default:
	}

	if proc.cmd.Process != nil {
		_ = proc.cmd.Process.Signal(os.Interrupt)
	}

	select {
	case <-proc.done:
	case <-time.After(terminateTimeout):
		if proc.cmd.Process != nil {
			_ = proc.cmd.Process.Kill()
		}
		<-proc.done
	}

	c.logger.Info().Int("pid", proc.PID()).Msg("browser terminated")
	return nil
}

type process struct {
	cmd  *exec.Cmd
	url  string
	done chan struct{}
}

func (p *process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *process) URL() string { return p.url }

func (p *process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}
