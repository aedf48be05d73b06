/*
Copyright (C) 2026 Pixelmesa

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package browser

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// ReapStrays hunts down browser processes this runner does not own, such as
// instances left behind by a previous controller crash, and kills them. The
// single-owner invariant requires a clean slate before the first launch.
func (c *Chromium) ReapStrays(ctx context.Context) (int, error) {
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return 0, err
	}

	match := strings.ToLower(filepath.Base(c.bin))
	self := int32(os.Getpid())
	reaped := 0

	for _, proc := range procs {
		if proc.Pid == self {
			continue
		}
		name, err := proc.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if !strings.Contains(strings.ToLower(name), match) {
			continue
		}

		if err := proc.TerminateWithContext(ctx); err != nil {
			// Already gone or not ours to signal; try harder once.
			if err := proc.KillWithContext(ctx); err != nil {
				c.logger.Debug().Err(err).Int32("pid", proc.Pid).Msg("failed to kill stray browser")
				continue
			}
		}
		c.logger.Info().Int32("pid", proc.Pid).Str("name", name).Msg("killed stray browser process")
		reaped++
	}

	return reaped, nil
}
