/*
Copyright (C) 2026 Pixelmesa

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build version information.
package version

// Version is the current version of kioskd.
// This is set at build time via ldflags:
//
//	-X github.com/pixelmesa/kioskd/internal/version.Version=X.Y.Z
var Version = "0.4.2"
