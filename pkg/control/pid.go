// Generic anti-windup PID controller
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package control

import "math"

// PIDConfig holds the tuning parameters for a PID controller.
type PIDConfig struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`

	MaxOutput   float64 `json:"max_output"`
	MinOutput   float64 `json:"min_output"`
	MaxIntegral float64 `json:"max_integral"`

	// DerivativeFilterTau is the time constant of the first-order low-pass
	// filter applied to the raw derivative.
	DerivativeFilterTau float64 `json:"derivative_filter_tau"`
}

// PID is a discrete PID controller with integral clamping, back-calculation
// anti-windup, filtered derivative and one-shot bumpless transfer from
// manual operation. Not safe for concurrent use; each control loop owns its
// own instance.
type PID struct {
	cfg PIDConfig

	integral       float64
	lastError      float64
	lastDerivative float64

	manualOutput    float64
	hasManualOutput bool
}

// NewPID creates a PID controller from the given configuration.
func NewPID(cfg PIDConfig) *PID {
	return &PID{cfg: cfg}
}

// Reset zeroes the controller state.
func (c *PID) Reset() {
	c.integral = 0
	c.lastError = 0
	c.lastDerivative = 0
	c.hasManualOutput = false
}

// SetGains updates the proportional, integral and derivative gains.
func (c *PID) SetGains(kp, ki, kd float64) {
	c.cfg.Kp = kp
	c.cfg.Ki = ki
	c.cfg.Kd = kd
}

// Config returns the current configuration.
func (c *PID) Config() PIDConfig {
	return c.cfg
}

// Integral returns the current integral accumulator, for diagnostics.
func (c *PID) Integral() float64 {
	return c.integral
}

// SetManualOutput arms bumpless transfer: the next Update call back-computes
// the integral so its output matches the given manual value, then resumes
// normal tracking.
func (c *PID) SetManualOutput(output float64) {
	c.manualOutput = output
	c.hasManualOutput = true
}

// Update advances the controller by one step and returns the saturated
// control output.
func (c *PID) Update(setpoint, processVariable, dt float64) float64 {
	err := setpoint - processVariable

	proportional := c.cfg.Kp * err
	derivativeTerm := c.cfg.Kd * c.filteredDerivative(err, dt)

	// Bumpless transfer: pick the integral that reproduces the manual
	// output given the current P and D terms. One-shot.
	if c.hasManualOutput {
		if c.cfg.Ki != 0 {
			desired := (c.manualOutput - proportional - derivativeTerm) / c.cfg.Ki
			c.integral = clamp(desired, -c.cfg.MaxIntegral, c.cfg.MaxIntegral)
		}
		c.hasManualOutput = false
	}

	c.integral += err * dt
	c.integral = clamp(c.integral, -c.cfg.MaxIntegral, c.cfg.MaxIntegral)

	output := proportional + c.cfg.Ki*c.integral + derivativeTerm
	saturated := clamp(output, c.cfg.MinOutput, c.cfg.MaxOutput)

	// Back-calculation anti-windup: when saturated, adopt the integral that
	// would exactly produce the saturated output, but only if that shrinks
	// the accumulator. Legitimate accumulated correction is kept.
	if saturated != output && c.cfg.Ki != 0 {
		backCalc := (saturated - proportional - derivativeTerm) / c.cfg.Ki
		if math.Abs(backCalc) < math.Abs(c.integral) {
			c.integral = clamp(backCalc, -c.cfg.MaxIntegral, c.cfg.MaxIntegral)
		}
	}

	c.lastError = err
	return saturated
}

func (c *PID) filteredDerivative(err, dt float64) float64 {
	if dt <= 0 {
		return c.lastDerivative
	}

	// Suppress derivative kick on the first update after reset: a step
	// setpoint would otherwise produce a huge spike.
	var raw float64
	if c.lastError == 0 && err != 0 {
		raw = 0
	} else {
		raw = (err - c.lastError) / dt
	}

	if c.cfg.DerivativeFilterTau > 0 {
		alpha := dt / (c.cfg.DerivativeFilterTau + dt)
		c.lastDerivative = alpha*raw + (1-alpha)*c.lastDerivative
	} else {
		c.lastDerivative = raw
	}
	return c.lastDerivative
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
