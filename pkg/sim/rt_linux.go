//go:build linux

// Best-effort real-time tuning, Linux
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package sim

import (
	"golang.org/x/sys/unix"

	"github.com/MMSK-SBrain/Motor-Dyno/pkg/log"
)

// applyRealtimeHints raises scheduling priority and pins pages in RAM so the
// tick loop jitters less under memory pressure. Both calls need privileges
// the process usually lacks; failure is expected and only logged at debug.
func applyRealtimeHints(logger *log.Logger) {
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, -10); err != nil {
		logger.Debug("setpriority unavailable: %v", err)
	}
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		logger.Debug("mlockall unavailable: %v", err)
	}
}
