// PWM inverter loss model
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motor

import "math"

// Inverter models the PWM voltage-source inverter stage between the DC bus
// and the motor windings. It converts a commanded duty cycle into an average
// output voltage, accounting for dead time, conduction losses and switching
// losses.
type Inverter struct {
	busVoltage         float64
	switchingFreqHz    float64
	deadTime           float64
	onRes              float64
	switchingLossCoeff float64

	switchingPeriod float64

	// Last computed operating point.
	dutyCycle        float64
	outputVoltage    float64
	conductionLosses float64
	switchingLosses  float64
	totalLosses      float64
}

// InverterState is a snapshot of the inverter operating point for monitoring.
type InverterState struct {
	DutyCycle        float64 `json:"duty_cycle"`
	OutputVoltage    float64 `json:"output_voltage"`
	BusVoltage       float64 `json:"dc_bus_voltage"`
	SwitchingFreqHz  float64 `json:"switching_frequency"`
	ConductionLosses float64 `json:"conduction_losses"`
	SwitchingLosses  float64 `json:"switching_losses"`
	TotalLosses      float64 `json:"total_losses"`
	Efficiency       float64 `json:"efficiency"`
}

// NewInverter creates an inverter from motor parameters. Params must already
// have inverter defaults applied.
func NewInverter(p Params) *Inverter {
	return &Inverter{
		busVoltage:         p.BusVoltage,
		switchingFreqHz:    p.SwitchingFreqHz,
		deadTime:           p.DeadTime,
		onRes:              p.InverterOnRes,
		switchingLossCoeff: p.SwitchingLossCoeff,
		switchingPeriod:    1.0 / p.SwitchingFreqHz,
	}
}

// Modulate converts a duty cycle command into the average voltage applied to
// the motor, updating the loss state as a side effect. motorCurrent is the
// phase current used for loss calculation.
func (inv *Inverter) Modulate(dutyCycle, motorCurrent float64) float64 {
	inv.dutyCycle = clamp(dutyCycle, 0.0, 1.0)

	// Dead time shaves a fixed fraction off the commanded duty cycle.
	deadTimeRatio := inv.deadTime / inv.switchingPeriod
	effectiveDuty := math.Max(0, inv.dutyCycle-deadTimeRatio)

	idealVoltage := inv.busVoltage * effectiveDuty

	// Two switches conduct at any instant in a half bridge.
	inv.conductionLosses = 2 * motorCurrent * motorCurrent * inv.onRes

	// Switching losses scale with current, bus voltage and frequency.
	inv.switchingLosses = inv.switchingLossCoeff * math.Abs(motorCurrent) *
		inv.busVoltage * inv.switchingFreqHz / 1000

	inv.totalLosses = inv.conductionLosses + inv.switchingLosses

	voltageDrop := 2 * math.Abs(motorCurrent) * inv.onRes
	inv.outputVoltage = idealVoltage - voltageDrop
	return inv.outputVoltage
}

// CurrentRipple estimates the peak-to-peak current ripple for a given motor
// inductance at the last commanded duty cycle.
func (inv *Inverter) CurrentRipple(inductance float64) float64 {
	if inductance <= 0 {
		return 0
	}
	return inv.busVoltage * inv.dutyCycle * (1 - inv.dutyCycle) /
		(inductance * inv.switchingFreqHz)
}

// Efficiency returns the inverter efficiency as a percentage in [0, 100]
// at the last computed operating point.
func (inv *Inverter) Efficiency() float64 {
	if inv.outputVoltage <= 0 || inv.dutyCycle <= 0 {
		return 0
	}
	inputPower := inv.busVoltage * (inv.outputVoltage / inv.busVoltage)
	if inputPower <= 0 {
		return 0
	}
	outputPower := inputPower - inv.totalLosses
	return clamp(outputPower/inputPower*100, 0, 100)
}

// SetBusVoltage updates the DC link voltage for dynamic bus scenarios.
func (inv *Inverter) SetBusVoltage(v float64) {
	inv.busVoltage = math.Max(0, v)
}

// BusVoltage returns the configured DC link voltage.
func (inv *Inverter) BusVoltage() float64 {
	return inv.busVoltage
}

// State returns the current inverter operating point.
func (inv *Inverter) State() InverterState {
	return InverterState{
		DutyCycle:        inv.dutyCycle,
		OutputVoltage:    inv.outputVoltage,
		BusVoltage:       inv.busVoltage,
		SwitchingFreqHz:  inv.switchingFreqHz,
		ConductionLosses: inv.conductionLosses,
		SwitchingLosses:  inv.switchingLosses,
		TotalLosses:      inv.totalLosses,
		Efficiency:       inv.Efficiency(),
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
