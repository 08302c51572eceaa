// Session control configuration and partial updates
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package sim

import (
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/control"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/errors"
)

// ControlMode selects how the per-tick control input is produced.
type ControlMode string

const (
	ModeSpeed     ControlMode = "speed"
	ModeCurrent   ControlMode = "current"
	ModeTorque    ControlMode = "torque"
	ModeVoltage   ControlMode = "voltage"
	ModeDutyCycle ControlMode = "duty_cycle"
)

// ParseControlMode validates a mode string received from a client.
func ParseControlMode(s string) (ControlMode, error) {
	switch ControlMode(s) {
	case ModeSpeed, ModeCurrent, ModeTorque, ModeVoltage, ModeDutyCycle:
		return ControlMode(s), nil
	}
	return "", errors.Validation("control_mode", "unknown mode "+s)
}

// Physical acceptance ranges for inbound control values. Commands outside
// these bounds are rejected before they reach the loop.
const (
	maxTargetSpeedRPM    = 6000.0
	maxTargetCurrentA    = 100.0
	maxTargetTorqueNm    = 20.0
	maxLoadTorquePercent = 200.0
	maxManualVoltage     = 60.0
)

// controlConfig is the live control state of one session. A private copy is
// taken by the loop at the start of every tick, so external updates become
// visible with at most one tick of staleness.
type controlConfig struct {
	Mode       ControlMode
	UseCascade bool

	TargetSpeedRPM float64
	TargetCurrentA float64
	TargetTorqueNm float64

	ManualVoltage   float64
	ManualDutyCycle float64

	LoadTorquePercent float64
}

func defaultControlConfig() controlConfig {
	return controlConfig{
		Mode:       ModeSpeed,
		UseCascade: true,
	}
}

// ControlUpdate is a partial update to the session control state. Every field
// is a pointer; nil fields leave the current value untouched.
type ControlUpdate struct {
	Mode       *string `json:"control_mode,omitempty"`
	UseCascade *bool   `json:"use_cascaded_control,omitempty"`

	TargetSpeedRPM *float64 `json:"target_speed_rpm,omitempty"`
	TargetCurrentA *float64 `json:"target_current_a,omitempty"`
	TargetTorqueNm *float64 `json:"target_torque_nm,omitempty"`

	ManualVoltage   *float64 `json:"manual_voltage,omitempty"`
	ManualDutyCycle *float64 `json:"manual_duty_cycle,omitempty"`

	LoadTorquePercent *float64 `json:"load_torque_percent,omitempty"`

	PIDKp *float64 `json:"pid_kp,omitempty"`
	PIDKi *float64 `json:"pid_ki,omitempty"`
	PIDKd *float64 `json:"pid_kd,omitempty"`

	CurrentKp *float64 `json:"current_kp,omitempty"`
	CurrentKi *float64 `json:"current_ki,omitempty"`
}

// Validate checks every present field against its physical range. The update
// is rejected as a whole on the first violation, leaving loop state untouched.
func (u *ControlUpdate) Validate() error {
	if u.Mode != nil {
		if _, err := ParseControlMode(*u.Mode); err != nil {
			return err
		}
	}
	rangeChecks := []struct {
		name  string
		value *float64
		lo    float64
		hi    float64
	}{
		{"target_speed_rpm", u.TargetSpeedRPM, -maxTargetSpeedRPM, maxTargetSpeedRPM},
		{"target_current_a", u.TargetCurrentA, -maxTargetCurrentA, maxTargetCurrentA},
		{"target_torque_nm", u.TargetTorqueNm, -maxTargetTorqueNm, maxTargetTorqueNm},
		{"load_torque_percent", u.LoadTorquePercent, -maxLoadTorquePercent, maxLoadTorquePercent},
		{"manual_voltage", u.ManualVoltage, -maxManualVoltage, maxManualVoltage},
		{"manual_duty_cycle", u.ManualDutyCycle, 0, 1},
	}
	for _, c := range rangeChecks {
		if c.value == nil {
			continue
		}
		if *c.value < c.lo || *c.value > c.hi {
			return errors.Validation(c.name, "out of range")
		}
	}
	gainChecks := []struct {
		name  string
		value *float64
	}{
		{"pid_kp", u.PIDKp}, {"pid_ki", u.PIDKi}, {"pid_kd", u.PIDKd},
		{"current_kp", u.CurrentKp}, {"current_ki", u.CurrentKi},
	}
	for _, c := range gainChecks {
		if c.value != nil && *c.value < 0 {
			return errors.Validation(c.name, "gain must be non-negative")
		}
	}
	return nil
}

// hasPIDGains reports whether the update touches any speed PID gain.
func (u *ControlUpdate) hasPIDGains() bool {
	return u.PIDKp != nil || u.PIDKi != nil || u.PIDKd != nil
}

// hasCurrentGains reports whether the update touches any current loop gain.
func (u *ControlUpdate) hasCurrentGains() bool {
	return u.CurrentKp != nil || u.CurrentKi != nil
}

// apply merges present fields into cfg.
func (u *ControlUpdate) apply(cfg *controlConfig) {
	if u.Mode != nil {
		cfg.Mode = ControlMode(*u.Mode)
	}
	if u.UseCascade != nil {
		cfg.UseCascade = *u.UseCascade
	}
	if u.TargetSpeedRPM != nil {
		cfg.TargetSpeedRPM = *u.TargetSpeedRPM
	}
	if u.TargetCurrentA != nil {
		cfg.TargetCurrentA = *u.TargetCurrentA
	}
	if u.TargetTorqueNm != nil {
		cfg.TargetTorqueNm = *u.TargetTorqueNm
	}
	if u.ManualVoltage != nil {
		cfg.ManualVoltage = *u.ManualVoltage
	}
	if u.ManualDutyCycle != nil {
		cfg.ManualDutyCycle = *u.ManualDutyCycle
	}
	if u.LoadTorquePercent != nil {
		cfg.LoadTorquePercent = *u.LoadTorquePercent
	}
}

// ControlSnapshot is the externally visible control state, reported through
// the statistics surface.
type ControlSnapshot struct {
	Mode              string  `json:"control_mode"`
	UseCascade        bool    `json:"use_cascaded_control"`
	TargetSpeedRPM    float64 `json:"target_speed_rpm"`
	TargetCurrentA    float64 `json:"target_current_a"`
	TargetTorqueNm    float64 `json:"target_torque_nm"`
	ManualVoltage     float64 `json:"manual_voltage"`
	ManualDutyCycle   float64 `json:"manual_duty_cycle"`
	LoadTorquePercent float64 `json:"load_torque_percent"`

	PID     control.PIDConfig     `json:"pid"`
	Current control.CurrentConfig `json:"current_controller"`
}

func (c controlConfig) snapshot(pid control.PIDConfig, cur control.CurrentConfig) ControlSnapshot {
	return ControlSnapshot{
		Mode:              string(c.Mode),
		UseCascade:        c.UseCascade,
		TargetSpeedRPM:    c.TargetSpeedRPM,
		TargetCurrentA:    c.TargetCurrentA,
		TargetTorqueNm:    c.TargetTorqueNm,
		ManualVoltage:     c.ManualVoltage,
		ManualDutyCycle:   c.ManualDutyCycle,
		LoadTorquePercent: c.LoadTorquePercent,
		PID:               pid,
		Current:           cur,
	}
}
