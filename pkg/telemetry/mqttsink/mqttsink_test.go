// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package mqttsink

import (
	"testing"

	"github.com/MMSK-SBrain/Motor-Dyno/pkg/server"
)

var _ server.Sink = (*Sink)(nil)

func TestTopicFor(t *testing.T) {
	got := topicFor("motordyno", "sim_1_abcd1234")
	want := "motordyno/sim_1_abcd1234/telemetry"
	if got != want {
		t.Errorf("topic = %q, want %q", got, want)
	}
}
