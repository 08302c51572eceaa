//go:build !linux

// Best-effort real-time tuning, stub for non-Linux hosts
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package sim

import "github.com/MMSK-SBrain/Motor-Dyno/pkg/log"

func applyRealtimeHints(logger *log.Logger) {}
