// BLDC motor parameter definitions
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motor

import (
	"fmt"
	"math"
)

// Physical constants shared by the motor and thermal models.
const (
	// AmbientTemp is the assumed ambient temperature in degrees Celsius.
	AmbientTemp = 25.0

	// MaxWindingTemp is the winding temperature ceiling in degrees Celsius.
	MaxWindingTemp = 150.0

	// CopperTempCoeff is the copper resistivity temperature coefficient per degree C.
	CopperTempCoeff = 0.00393

	// CurrentLimitFactor bounds motor current to this multiple of rated current.
	CurrentLimitFactor = 1.5
)

// Params holds the electrical, mechanical and thermal parameters of a motor.
// A Params value is copied into each Motor at construction and never mutated
// afterwards.
type Params struct {
	// Electrical
	Resistance float64 // winding resistance at 20 C (ohm)
	Inductance float64 // winding inductance (H)
	Kt         float64 // torque constant (Nm/A)
	Ke         float64 // back-EMF constant (V*s/rad)
	PolePairs  int

	// Mechanical
	Inertia  float64 // rotor inertia (kg*m^2)
	Friction float64 // viscous friction coefficient (Nm*s/rad)

	// Ratings
	RatedVoltage  float64 // V
	RatedCurrent  float64 // A
	RatedSpeedRPM float64
	RatedTorque   float64 // Nm
	RatedPowerKW  float64
	MaxSpeedRPM   float64
	MaxTorque     float64 // Nm

	// Inverter / PWM stage
	BusVoltage         float64 // DC link voltage (V); defaults to RatedVoltage
	SwitchingFreqHz    float64 // PWM switching frequency
	DeadTime           float64 // inverter dead time (s)
	InverterOnRes      float64 // switch on-resistance (ohm)
	SwitchingLossCoeff float64
}

// MaxSpeedRadS returns the speed limit in rad/s.
func (p *Params) MaxSpeedRadS() float64 {
	return p.MaxSpeedRPM * math.Pi / 30
}

// MaxCurrent returns the transient current limit in amps.
func (p *Params) MaxCurrent() float64 {
	return p.RatedCurrent * CurrentLimitFactor
}

// Validate checks that the parameter set describes a physically meaningful
// motor. It is called once at motor construction; a failure here is a
// configuration error and the motor is never built.
func (p *Params) Validate() error {
	checks := []struct {
		name string
		ok   bool
	}{
		{"resistance", p.Resistance > 0},
		{"inductance", p.Inductance > 0},
		{"kt", p.Kt > 0},
		{"ke", p.Ke > 0},
		{"inertia", p.Inertia > 0},
		{"friction", p.Friction >= 0},
		{"rated_voltage", p.RatedVoltage > 0},
		{"rated_current", p.RatedCurrent > 0},
		{"max_speed", p.MaxSpeedRPM > 0},
		{"max_torque", p.MaxTorque > 0},
	}
	for _, c := range checks {
		if !c.ok {
			return fmt.Errorf("motor params: invalid %s", c.name)
		}
	}
	return nil
}

// withDefaults fills in optional inverter parameters the way the drive
// hardware would: the DC link sits at the rated voltage and the PWM stage
// runs at 20 kHz with 2 us dead time unless configured otherwise.
func (p Params) withDefaults() Params {
	if p.BusVoltage == 0 {
		p.BusVoltage = p.RatedVoltage
	}
	if p.SwitchingFreqHz == 0 {
		p.SwitchingFreqHz = 20000
	}
	if p.DeadTime == 0 {
		p.DeadTime = 2e-6
	}
	if p.InverterOnRes == 0 {
		p.InverterOnRes = 0.01
	}
	if p.SwitchingLossCoeff == 0 {
		p.SwitchingLossCoeff = 0.001
	}
	return p
}

// Info is the externally visible description of a motor, returned by the
// parameter query surface.
type Info struct {
	MotorID       string  `json:"motor_id"`
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	RatedPowerKW  float64 `json:"rated_power_kw"`
	RatedVoltage  float64 `json:"rated_voltage_v"`
	RatedCurrent  float64 `json:"rated_current_a"`
	RatedSpeedRPM float64 `json:"rated_speed_rpm"`
	RatedTorque   float64 `json:"rated_torque_nm"`
	MaxSpeedRPM   float64 `json:"max_speed_rpm"`
	MaxTorque     float64 `json:"max_torque_nm"`

	Physical PhysicalInfo `json:"physical_parameters"`
	PWM      *PWMInfo     `json:"pwm_parameters,omitempty"`

	ControlMode string `json:"control_mode"`
}

// PhysicalInfo groups the low-level electrical constants in Info.
type PhysicalInfo struct {
	Resistance float64 `json:"resistance"`
	Inductance float64 `json:"inductance"`
	Kt         float64 `json:"kt"`
	Ke         float64 `json:"ke"`
	PolePairs  int     `json:"pole_pairs"`
	Inertia    float64 `json:"inertia"`
}

// PWMInfo groups the inverter constants in Info.
type PWMInfo struct {
	BusVoltage      float64 `json:"dc_bus_voltage"`
	SwitchingFreqHz float64 `json:"switching_frequency"`
	DeadTimeUs      float64 `json:"dead_time_us"`
}
