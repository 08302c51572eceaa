// Cascaded speed/current control
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package control

import "fmt"

// Mode selects which setpoint the cascade tracks.
type Mode string

const (
	ModeSpeed   Mode = "speed"
	ModeCurrent Mode = "current"
	ModeTorque  Mode = "torque"
)

// ParseMode validates a cascade mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSpeed, ModeCurrent, ModeTorque:
		return Mode(s), nil
	}
	return "", fmt.Errorf("control: invalid cascade mode %q", s)
}

// Targets carries the setpoints for a cascade update. Torque has its own
// channel and is converted to a current reference via the torque constant
// before it reaches the inner loop; it never aliases the current target.
type Targets struct {
	SpeedRPM float64
	CurrentA float64
	TorqueNm float64
}

// Cascade composes an outer speed PID with an inner current PI loop. The
// speed controller produces a torque command that becomes the current
// reference for the inner loop; current and torque modes bypass the outer
// loop entirely.
type Cascade struct {
	speed   *PID
	current *CurrentController
	kt      float64
	mode    Mode
}

// NewCascade builds a cascade from the two loop configurations. kt is the
// motor torque constant used for torque/current conversion.
func NewCascade(speedCfg PIDConfig, currentCfg CurrentConfig, kt float64) *Cascade {
	if kt == 0 {
		kt = 1.0
	}
	return &Cascade{
		speed:   NewPID(speedCfg),
		current: NewCurrentController(currentCfg),
		kt:      kt,
		mode:    ModeSpeed,
	}
}

// SetMode selects the cascade control mode.
func (c *Cascade) SetMode(mode Mode) error {
	switch mode {
	case ModeSpeed, ModeCurrent, ModeTorque:
		c.mode = mode
		return nil
	}
	return fmt.Errorf("control: invalid cascade mode %q", mode)
}

// Mode returns the active control mode.
func (c *Cascade) Mode() Mode {
	return c.mode
}

// SetMotorKt updates the torque constant used for torque/current conversion.
func (c *Cascade) SetMotorKt(kt float64) {
	if kt != 0 {
		c.kt = kt
	}
}

// Speed returns the outer speed PID, for gain updates and diagnostics.
func (c *Cascade) Speed() *PID {
	return c.speed
}

// Current returns the inner current controller.
func (c *Cascade) Current() *CurrentController {
	return c.current
}

// Update runs one cascade step and returns the duty-cycle command.
func (c *Cascade) Update(t Targets, actualSpeedRPM, actualCurrent, dt float64, ff *Feedforward) float64 {
	var currentRef float64
	switch c.mode {
	case ModeSpeed:
		torqueCmd := c.speed.Update(t.SpeedRPM, actualSpeedRPM, dt)
		currentRef = torqueCmd / c.kt
	case ModeCurrent:
		currentRef = t.CurrentA
	case ModeTorque:
		currentRef = t.TorqueNm / c.kt
	}
	return c.current.Update(currentRef, actualCurrent, dt, ff)
}

// CurrentReference computes the current reference the inner loop would see
// for the given targets without advancing any state. Used for diagnostics.
func (c *Cascade) CurrentReference(t Targets) float64 {
	switch c.mode {
	case ModeCurrent:
		return t.CurrentA
	case ModeTorque:
		return t.TorqueNm / c.kt
	}
	return 0
}

// Reset resets both loops independently.
func (c *Cascade) Reset() {
	c.speed.Reset()
	c.current.Reset()
}
