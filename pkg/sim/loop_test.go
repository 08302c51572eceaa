// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package sim

import (
	"bytes"
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MMSK-SBrain/Motor-Dyno/pkg/control"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/log"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/motor"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/protocol"
)

// capturePublisher records published points without blocking.
type capturePublisher struct {
	mu     sync.Mutex
	points []protocol.SimulationPoint
	errs   []error
}

func (p *capturePublisher) PublishData(sessionID string, point protocol.SimulationPoint) {
	p.mu.Lock()
	p.points = append(p.points, point)
	p.mu.Unlock()
}

func (p *capturePublisher) PublishError(sessionID string, err error) {
	p.mu.Lock()
	p.errs = append(p.errs, err)
	p.mu.Unlock()
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.points)
}

func testMotorParams() motor.Params {
	return motor.Params{
		Resistance:    0.08,
		Inductance:    0.0015,
		Kt:            0.169,
		Ke:            0.169,
		PolePairs:     4,
		Inertia:       0.001,
		Friction:      0.001,
		RatedVoltage:  48.0,
		RatedCurrent:  45.0,
		RatedSpeedRPM: 3000,
		RatedTorque:   7.6,
		RatedPowerKW:  2.0,
		MaxSpeedRPM:   6000,
		MaxTorque:     15.0,
	}
}

func testLoop(t *testing.T, usePWM bool) (*Loop, *capturePublisher) {
	t.Helper()
	pub := &capturePublisher{}
	logger := log.New("test")
	logger.SetLevel(log.ERROR)
	l := NewLoop(Options{
		SessionID:       "sim_test",
		Motor:           testMotorParams(),
		UsePWM:          usePWM,
		Dt:              0.001,
		BroadcastRateHz: 100,
		PID: control.PIDConfig{
			Kp:                  0.05,
			Ki:                  0.1,
			Kd:                  0.001,
			MaxOutput:           60,
			MinOutput:           -60,
			MaxIntegral:         50,
			DerivativeFilterTau: 0.01,
		},
		Current: control.DefaultCurrentConfig(),
	}, pub, logger)
	if err := l.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return l, pub
}

func floatPtr(v float64) *float64 { return &v }
func strPtr(s string) *string     { return &s }
func boolPtr(b bool) *bool        { return &b }

func TestLoopInitializeBadMotor(t *testing.T) {
	pub := &capturePublisher{}
	logger := log.New("test")
	logger.SetLevel(log.ERROR)
	l := NewLoop(Options{SessionID: "bad", Motor: motor.Params{}}, pub, logger)
	if err := l.Initialize(); err == nil {
		t.Fatal("expected initialization failure for zero motor params")
	}
	if l.State() != StateFailed {
		t.Errorf("state = %v, want failed", l.State())
	}
	if err := l.Run(context.Background()); err == nil {
		t.Error("Run should refuse an uninitialized loop")
	}
}

func TestLoopVoltageModeReachesNoLoadSpeed(t *testing.T) {
	l, _ := testLoop(t, false)
	err := l.UpdateControl(ControlUpdate{
		Mode:          strPtr("voltage"),
		UseCascade:    boolPtr(false),
		ManualVoltage: floatPtr(48.0),
	})
	if err != nil {
		t.Fatalf("update control: %v", err)
	}

	var last protocol.SimulationPoint
	for i := 0; i < 2000; i++ {
		p, err := l.tick(float64(i)*0.001, 0.001)
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		last = p
	}

	p := testMotorParams()
	expected := math.Min(48.0/p.Ke*30/math.Pi, p.MaxSpeedRPM)
	if math.Abs(last.SpeedRPM-expected) > 0.05*expected {
		t.Errorf("final speed = %.1f rpm, want within 5%% of %.1f", last.SpeedRPM, expected)
	}
	if last.CurrentA >= 5.0 {
		t.Errorf("no-load current = %.2f A, want < 5", last.CurrentA)
	}
}

func TestLoopCascadeSpeedMode(t *testing.T) {
	l, _ := testLoop(t, true)
	if err := l.UpdateControl(ControlUpdate{TargetSpeedRPM: floatPtr(3000)}); err != nil {
		t.Fatalf("update control: %v", err)
	}

	var last protocol.SimulationPoint
	for i := 0; i < 3000; i++ {
		p, err := l.tick(float64(i)*0.001, 0.001)
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		last = p
	}
	if last.SpeedRPM <= 100 {
		t.Errorf("speed mode made no progress toward 3000 rpm: %.1f", last.SpeedRPM)
	}
	if last.SpeedRPM > testMotorParams().MaxSpeedRPM {
		t.Errorf("speed %.1f exceeds limit", last.SpeedRPM)
	}
}

func TestLoopFailSafeOnUnknownCombination(t *testing.T) {
	l, _ := testLoop(t, true)
	// Voltage mode dispatches only without the cascade; together they are
	// an unrecognized combination and the input must default to zero.
	cfg := defaultControlConfig()
	cfg.Mode = ModeVoltage
	cfg.UseCascade = true
	cfg.ManualVoltage = 48
	if got := l.controlInput(cfg, 0.001); got != 0 {
		t.Errorf("control input = %v, want fail-safe 0", got)
	}
}

func TestLoopDutyCycleMode(t *testing.T) {
	l, _ := testLoop(t, true)
	cfg := defaultControlConfig()
	cfg.Mode = ModeDutyCycle
	cfg.ManualDutyCycle = 0.42
	if got := l.controlInput(cfg, 0.001); got != 0.42 {
		t.Errorf("duty passthrough = %v, want 0.42", got)
	}
}

func TestUpdateControlValidation(t *testing.T) {
	l, _ := testLoop(t, true)
	cases := []ControlUpdate{
		{TargetSpeedRPM: floatPtr(7000)},
		{TargetCurrentA: floatPtr(-150)},
		{TargetTorqueNm: floatPtr(25)},
		{LoadTorquePercent: floatPtr(300)},
		{ManualVoltage: floatPtr(75)},
		{ManualDutyCycle: floatPtr(1.5)},
		{Mode: strPtr("warp")},
		{PIDKp: floatPtr(-1)},
	}
	for i, u := range cases {
		if err := l.UpdateControl(u); err == nil {
			t.Errorf("case %d: out-of-range update accepted", i)
		}
	}
	// Rejected updates must leave prior state untouched.
	if s := l.Statistics(); s.Control.TargetSpeedRPM != 0 {
		t.Errorf("target speed changed by rejected update: %v", s.Control.TargetSpeedRPM)
	}
}

func TestUpdateControlPartial(t *testing.T) {
	l, _ := testLoop(t, true)
	if err := l.UpdateControl(ControlUpdate{TargetSpeedRPM: floatPtr(1500)}); err != nil {
		t.Fatal(err)
	}
	if err := l.UpdateControl(ControlUpdate{LoadTorquePercent: floatPtr(20)}); err != nil {
		t.Fatal(err)
	}
	c := l.Statistics().Control
	if c.TargetSpeedRPM != 1500 {
		t.Errorf("target speed = %v, want 1500 (untouched by second update)", c.TargetSpeedRPM)
	}
	if c.LoadTorquePercent != 20 {
		t.Errorf("load = %v, want 20", c.LoadTorquePercent)
	}
	if c.Mode != string(ModeSpeed) {
		t.Errorf("mode = %q, want default speed", c.Mode)
	}
}

func TestGainUpdatesReachBothControllers(t *testing.T) {
	l, _ := testLoop(t, true)
	err := l.UpdateControl(ControlUpdate{
		PIDKp:     floatPtr(2.5),
		CurrentKi: floatPtr(555),
	})
	if err != nil {
		t.Fatal(err)
	}
	l.takeControl()

	if kp := l.pid.Config().Kp; kp != 2.5 {
		t.Errorf("standalone pid kp = %v, want 2.5", kp)
	}
	if kp := l.cascade.Speed().Config().Kp; kp != 2.5 {
		t.Errorf("cascade speed kp = %v, want 2.5", kp)
	}
	if ki := l.current.Config().Ki; ki != 555 {
		t.Errorf("standalone current ki = %v, want 555", ki)
	}
	if ki := l.cascade.Current().Config().Ki; ki != 555 {
		t.Errorf("cascade current ki = %v, want 555", ki)
	}
	// Untouched gains keep their tuned values.
	if kd := l.pid.Config().Kd; kd != l.opts.PID.Kd {
		t.Errorf("pid kd changed unexpectedly: %v", kd)
	}
}

func TestLoadTorqueVariation(t *testing.T) {
	base := 50.0 / 100 * 15.0
	for _, tm := range []float64{0, 1.25, 2.5, 5, 7.5} {
		got := loadTorqueAt(50, 15, tm)
		if got < base*0.95-1e-9 || got > base*1.05+1e-9 {
			t.Errorf("load at t=%v is %v, outside 5%% band of %v", tm, got, base)
		}
	}
	if loadTorqueAt(0, 15, 3) != 0 {
		t.Error("zero load must stay exactly zero")
	}
}

func TestLoopPacing(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}
	l, _ := testLoop(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := l.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	s := l.Statistics()
	if s.ActualRateHz < 900 || s.ActualRateHz > 1100 {
		t.Errorf("actual rate = %.1f Hz, want within 10%% of 1000", s.ActualRateHz)
	}
}

func TestLoopBroadcastDecoupling(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}
	l, pub := testLoop(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := l.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	steps := l.Statistics().Steps
	published := pub.count()
	// 1 kHz simulation, 100 Hz broadcast: published frames must be a small
	// fraction of simulated ticks.
	if published == 0 {
		t.Fatal("nothing published")
	}
	if uint64(published)*5 > steps {
		t.Errorf("published %d of %d ticks; broadcast is not decoupled", published, steps)
	}
}

func TestLoopStop(t *testing.T) {
	l, _ := testLoop(t, true)
	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	l.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	if l.State() != StateStopped {
		t.Errorf("state = %v, want stopped", l.State())
	}
	if err := l.Run(context.Background()); err == nil {
		t.Error("stopped loop must not restart")
	}
}

func TestLoopWarnsWhenRunningSlow(t *testing.T) {
	pub := &capturePublisher{}
	var logBuf bytes.Buffer
	logger := log.New("test")
	logger.SetLevel(log.WARN)
	logger.SetColorize(false)
	logger.SetWriter(&logBuf)

	// A 1 ns budget makes every tick an overrun.
	l := NewLoop(Options{
		SessionID: "sim_slow",
		Motor:     testMotorParams(),
		Dt:        1e-9,
		PID:       control.PIDConfig{Kp: 0.05, Ki: 0.1, MaxOutput: 60, MinOutput: -60, MaxIntegral: 50},
		Current:   control.DefaultCurrentConfig(),
	}, pub, logger)
	if err := l.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	time.Sleep(50 * time.Millisecond)
	l.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}

	out := logBuf.String()
	if !strings.Contains(out, "running slow") {
		t.Fatalf("no overrun warning logged, output:\n%s", out)
	}
	// Rate limiting keeps the warning to about one per second, so a 50 ms
	// run with thousands of overruns must log it exactly once.
	if n := strings.Count(out, "running slow"); n != 1 {
		t.Errorf("overrun warning logged %d times, want 1", n)
	}
}
