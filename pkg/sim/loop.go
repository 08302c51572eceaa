// Fixed-timestep real-time simulation loop
//
// A Loop owns one motor plus its controllers and advances them at a fixed
// integration rate, publishing samples at a slower, decoupled broadcast
// cadence. Exactly one goroutine runs the loop; external callers interact
// only through UpdateControl, Statistics and Stop.
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package sim

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MMSK-SBrain/Motor-Dyno/pkg/control"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/errors"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/log"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/motor"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/protocol"
)

// LoopState is the lifecycle state of a Loop.
type LoopState int32

const (
	StateIdle LoopState = iota
	StateRunning
	StateStopped
	StateFailed
)

func (s LoopState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Publisher receives simulation output. Implementations must not block; a
// slow consumer must never throttle the integration loop.
type Publisher interface {
	PublishData(sessionID string, point protocol.SimulationPoint)
	PublishError(sessionID string, err error)
}

// Sinusoidal load variation applied when load torque is nonzero.
const (
	loadVariationAmplitude = 0.05
	loadVariationFreqHz    = 0.1
)

const metricsWindow = 1000

// Options configures one simulation loop.
type Options struct {
	SessionID string
	Motor     motor.Params
	UsePWM    bool

	Dt              float64 // integration timestep in seconds
	BroadcastRateHz float64

	PID     control.PIDConfig
	Current control.CurrentConfig

	BufferCapacity int
}

// pendingGains carries controller gain updates from UpdateControl to the
// loop goroutine, which applies them at the next tick boundary.
type pendingGains struct {
	pidKp, pidKi, pidKd *float64
	curKp, curKi        *float64
}

// Loop is the per-session simulation engine.
type Loop struct {
	opts   Options
	logger *log.Logger
	pub    Publisher

	motor   *motor.Motor
	pid     *control.PID
	current *control.CurrentController
	cascade *control.Cascade
	buffer  *Buffer

	state atomic.Int32
	steps atomic.Uint64

	mu        sync.Mutex
	ctl       controlConfig
	gains     *pendingGains
	startTime time.Time
	metrics   tickMetrics

	stopOnce sync.Once
	stopCh   chan struct{}

	initialized bool
}

// NewLoop creates an uninitialized loop. Initialize must succeed before Run.
func NewLoop(opts Options, pub Publisher, logger *log.Logger) *Loop {
	if opts.Dt <= 0 {
		opts.Dt = 0.001
	}
	if opts.BroadcastRateHz <= 0 {
		opts.BroadcastRateHz = 100
	}
	return &Loop{
		opts:   opts,
		logger: logger,
		pub:    pub,
		ctl:    defaultControlConfig(),
		stopCh: make(chan struct{}),
	}
}

// Initialize constructs the motor and all controllers from the configured
// parameters. A construction failure is terminal; the loop can never run.
func (l *Loop) Initialize() error {
	m, err := motor.New(l.opts.Motor, l.opts.UsePWM)
	if err != nil {
		l.state.Store(int32(StateFailed))
		return errors.Wrap(err, errors.ErrSimulationInit, "build motor").SetSession(l.opts.SessionID)
	}

	p := m.Params()
	cur := control.NewCurrentController(l.opts.Current)
	cur.TuneForMotor(p.Resistance, p.Inductance)

	// The cascade's outer loop commands torque, so its output is bounded by
	// the machine's torque limit rather than the voltage-mode PID limits.
	speedCfg := l.opts.PID
	speedCfg.MaxOutput = p.MaxTorque
	speedCfg.MinOutput = -p.MaxTorque
	cascade := control.NewCascade(speedCfg, l.opts.Current, p.Kt)
	cascade.Current().TuneForMotor(p.Resistance, p.Inductance)

	l.motor = m
	l.pid = control.NewPID(l.opts.PID)
	l.current = cur
	l.cascade = cascade
	l.buffer = NewBuffer(l.opts.BufferCapacity)
	l.initialized = true

	l.logger.WithFields(log.Fields{
		"session": l.opts.SessionID,
		"dt":      l.opts.Dt,
		"pwm":     l.opts.UsePWM,
	}).Info("simulation initialized")
	return nil
}

// State returns the current lifecycle state.
func (l *Loop) State() LoopState {
	return LoopState(l.state.Load())
}

// Buffer exposes the retained sample history.
func (l *Loop) Buffer() *Buffer {
	return l.buffer
}

// MotorInfo describes the simulated motor. Safe to call while running; motor
// parameters are immutable after construction.
func (l *Loop) MotorInfo(motorID, name string) motor.Info {
	return l.motor.Info(motorID, name)
}

// EfficiencyCurve characterizes the motor across its operating envelope.
// It steps a scratch motor and never touches live loop state.
func (l *Loop) EfficiencyCurve() []motor.EfficiencyPoint {
	scratch, err := motor.New(l.opts.Motor, l.opts.UsePWM)
	if err != nil {
		return nil
	}
	return scratch.EfficiencyCurve(l.opts.Motor.RatedVoltage)
}

// Stop requests graceful termination. The loop exits after the in-flight
// tick completes; Stop never interrupts an integration step.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// UpdateControl validates and stages a partial control update. Staged values
// are picked up by the loop at the start of its next tick; on a validation
// error nothing is changed.
func (l *Loop) UpdateControl(u ControlUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	u.apply(&l.ctl)
	if u.hasPIDGains() || u.hasCurrentGains() {
		if l.gains == nil {
			l.gains = &pendingGains{}
		}
		merge := func(dst **float64, src *float64) {
			if src != nil {
				*dst = src
			}
		}
		merge(&l.gains.pidKp, u.PIDKp)
		merge(&l.gains.pidKi, u.PIDKi)
		merge(&l.gains.pidKd, u.PIDKd)
		merge(&l.gains.curKp, u.CurrentKp)
		merge(&l.gains.curKi, u.CurrentKi)
	}
	return nil
}

// Run drives the loop until the context is cancelled, Stop is called, or a
// tick fails. It blocks the calling goroutine.
func (l *Loop) Run(ctx context.Context) error {
	if !l.initialized {
		return errors.New(errors.ErrSimulation, "loop not initialized").SetSession(l.opts.SessionID)
	}
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return errors.Newf(errors.ErrSimulation, "loop already %s", l.State()).SetSession(l.opts.SessionID)
	}

	applyRealtimeHints(l.logger)

	dt := l.opts.Dt
	tickDuration := time.Duration(dt * float64(time.Second))
	broadcastInterval := time.Duration(float64(time.Second) / l.opts.BroadcastRateHz)

	l.mu.Lock()
	l.startTime = time.Now()
	l.mu.Unlock()

	lastBroadcast := time.Now()
	overruns := 0
	lastOverrunWarn := time.Time{}
	simTime := 0.0

	l.logger.WithField("session", l.opts.SessionID).Info("simulation loop started")

	for {
		select {
		case <-ctx.Done():
			l.state.Store(int32(StateStopped))
			l.logger.WithField("session", l.opts.SessionID).Info("simulation loop cancelled")
			return nil
		case <-l.stopCh:
			l.state.Store(int32(StateStopped))
			l.logger.WithField("session", l.opts.SessionID).Info("simulation loop stopped")
			return nil
		default:
		}

		tickStart := time.Now()

		point, err := l.tick(simTime, dt)
		if err != nil {
			l.state.Store(int32(StateFailed))
			l.pub.PublishError(l.opts.SessionID, err)
			l.logger.WithField("session", l.opts.SessionID).WithError(err).Error("simulation tick failed")
			return err
		}

		l.buffer.Push(point)
		l.steps.Add(1)
		simTime += dt

		if time.Since(lastBroadcast) >= broadcastInterval {
			l.pub.PublishData(l.opts.SessionID, point)
			lastBroadcast = time.Now()
		}

		elapsed := time.Since(tickStart)
		l.mu.Lock()
		l.metrics.push(elapsed)
		l.mu.Unlock()

		if elapsed > tickDuration+tickDuration/10 {
			overruns++
			if time.Since(lastOverrunWarn) >= time.Second {
				l.logger.WithFields(log.Fields{
					"session":  l.opts.SessionID,
					"tick_ms":  float64(elapsed.Microseconds()) / 1000,
					"overruns": overruns,
				}).Warn("simulation running slow")
				lastOverrunWarn = time.Now()
			}
		}

		if remaining := tickDuration - elapsed; remaining > 0 {
			timer := time.NewTimer(remaining)
			select {
			case <-ctx.Done():
				timer.Stop()
				l.state.Store(int32(StateStopped))
				return nil
			case <-l.stopCh:
				timer.Stop()
				l.state.Store(int32(StateStopped))
				return nil
			case <-timer.C:
			}
		}
	}
}

// tick advances the simulation by one step. A panic inside the physics or
// controller code is converted to a terminal simulation error.
func (l *Loop) tick(simTime, dt float64) (point protocol.SimulationPoint, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.ErrSimulation, "tick panic: %v", r).SetSession(l.opts.SessionID)
		}
	}()

	cfg := l.takeControl()
	input := l.controlInput(cfg, dt)
	load := loadTorqueAt(cfg.LoadTorquePercent, l.motor.Params().MaxTorque, simTime)
	st := l.motor.Step(input, load, dt)

	return protocol.SimulationPoint{
		Timestamp:    simTime + dt,
		SpeedRPM:     st.SpeedRPM,
		TorqueNm:     st.TorqueNm,
		CurrentA:     st.CurrentA,
		VoltageV:     st.VoltageV,
		Efficiency:   st.Efficiency,
		PowerW:       st.PowerW,
		TemperatureC: st.TemperatureC,
	}, nil
}

// takeControl copies the live control config and applies any staged gain
// updates, keeping the standalone controllers and the cascade legs in sync.
func (l *Loop) takeControl() controlConfig {
	l.mu.Lock()
	defer l.mu.Unlock()

	if g := l.gains; g != nil {
		if g.pidKp != nil || g.pidKi != nil || g.pidKd != nil {
			cfg := l.pid.Config()
			kp, ki, kd := cfg.Kp, cfg.Ki, cfg.Kd
			if g.pidKp != nil {
				kp = *g.pidKp
			}
			if g.pidKi != nil {
				ki = *g.pidKi
			}
			if g.pidKd != nil {
				kd = *g.pidKd
			}
			l.pid.SetGains(kp, ki, kd)
			l.cascade.Speed().SetGains(kp, ki, kd)
		}
		if g.curKp != nil || g.curKi != nil {
			cfg := l.current.Config()
			kp, ki := cfg.Kp, cfg.Ki
			if g.curKp != nil {
				kp = *g.curKp
			}
			if g.curKi != nil {
				ki = *g.curKi
			}
			l.current.SetGains(kp, ki)
			l.cascade.Current().SetGains(kp, ki)
		}
		l.gains = nil
	}
	return l.ctl
}

// controlInput produces this tick's motor input from the control config.
// Unrecognized combinations fail safe to zero input.
func (l *Loop) controlInput(cfg controlConfig, dt float64) float64 {
	busVoltage := l.motor.Params().BusVoltage

	switch {
	case cfg.UseCascade && (cfg.Mode == ModeSpeed || cfg.Mode == ModeCurrent || cfg.Mode == ModeTorque):
		l.cascade.SetMode(control.Mode(cfg.Mode))
		ff := &control.Feedforward{
			Resistance: l.motor.HotResistance(),
			Inductance: l.motor.Params().Inductance,
			BackEMF:    l.motor.BackEMF(),
			BusVoltage: busVoltage,
		}
		targets := control.Targets{
			SpeedRPM: cfg.TargetSpeedRPM,
			CurrentA: cfg.TargetCurrentA,
			TorqueNm: cfg.TargetTorqueNm,
		}
		duty := l.cascade.Update(targets, l.motor.SpeedRPM(), l.motor.Current(), dt, ff)
		if !l.opts.UsePWM {
			return duty * busVoltage
		}
		return duty

	case cfg.Mode == ModeVoltage && !cfg.UseCascade:
		voltage := cfg.ManualVoltage
		if cfg.TargetSpeedRPM > 0 {
			voltage = l.pid.Update(cfg.TargetSpeedRPM, l.motor.SpeedRPM(), dt)
		}
		if !l.opts.UsePWM {
			return voltage
		}
		return voltage / busVoltage

	case cfg.Mode == ModeDutyCycle:
		if !l.opts.UsePWM {
			return cfg.ManualDutyCycle * busVoltage
		}
		return cfg.ManualDutyCycle
	}

	return 0
}

// loadTorqueAt converts a load percentage to Nm, with a small sinusoidal
// variation when nonzero.
func loadTorqueAt(percent, maxTorque, t float64) float64 {
	base := percent / 100 * maxTorque
	if base == 0 {
		return 0
	}
	return base * (1 + loadVariationAmplitude*math.Sin(2*math.Pi*loadVariationFreqHz*t))
}

// Statistics is the externally visible loop performance report.
type Statistics struct {
	SessionID     string  `json:"session_id"`
	State         string  `json:"state"`
	UptimeSeconds float64 `json:"uptime_s"`
	Steps         uint64  `json:"total_steps"`
	TargetRateHz  float64 `json:"target_rate_hz"`
	ActualRateHz  float64 `json:"actual_rate_hz"`
	MeanTickMs    float64 `json:"mean_tick_ms"`
	MaxTickMs     float64 `json:"max_tick_ms"`
	BufferLen     int     `json:"buffer_len"`

	Control ControlSnapshot `json:"control"`
}

// Statistics reports uptime, step counts and tick-duration metrics.
func (l *Loop) Statistics() Statistics {
	l.mu.Lock()
	defer l.mu.Unlock()

	steps := l.steps.Load()
	s := Statistics{
		SessionID:    l.opts.SessionID,
		State:        l.State().String(),
		Steps:        steps,
		TargetRateHz: 1 / l.opts.Dt,
	}
	if !l.startTime.IsZero() {
		s.UptimeSeconds = time.Since(l.startTime).Seconds()
		if s.UptimeSeconds > 0 {
			s.ActualRateHz = float64(steps) / s.UptimeSeconds
		}
	}
	mean, max := l.metrics.stats()
	s.MeanTickMs = mean.Seconds() * 1000
	s.MaxTickMs = max.Seconds() * 1000
	if l.buffer != nil {
		s.BufferLen = l.buffer.Len()
	}
	if l.pid != nil {
		s.Control = l.ctl.snapshot(l.pid.Config(), l.current.Config())
	}
	return s
}

// tickMetrics keeps a rolling window of tick durations.
type tickMetrics struct {
	window [metricsWindow]time.Duration
	next   int
	count  int
}

func (m *tickMetrics) push(d time.Duration) {
	m.window[m.next] = d
	m.next = (m.next + 1) % metricsWindow
	if m.count < metricsWindow {
		m.count++
	}
}

func (m *tickMetrics) stats() (mean, max time.Duration) {
	if m.count == 0 {
		return 0, 0
	}
	var sum time.Duration
	for i := 0; i < m.count; i++ {
		d := m.window[i]
		sum += d
		if d > max {
			max = d
		}
	}
	return sum / time.Duration(m.count), max
}
