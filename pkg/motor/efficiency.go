// Efficiency map sweep over the feasible operating region
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motor

import "math"

// EfficiencyPoint is one feasible operating point in the efficiency map.
type EfficiencyPoint struct {
	SpeedRPM   float64 `json:"speed_rpm"`
	TorqueNm   float64 `json:"torque_nm"`
	Efficiency float64 `json:"efficiency"`
	PowerW     float64 `json:"power_w"`
}

// EfficiencyCurve sweeps a grid of speed and torque operating points and
// reports the steady-state efficiency at each feasible one. Points that would
// require more than 1.5x rated power, or that the supply voltage cannot
// sustain, are skipped. This is a static characterization utility and is not
// called from the simulation hot loop.
//
// voltage is the operating voltage; pass 0 to use the rated voltage.
func (m *Motor) EfficiencyCurve(voltage float64) []EfficiencyPoint {
	if voltage == 0 {
		voltage = m.params.RatedVoltage
	}

	const (
		speedSteps  = 20
		torqueSteps = 10
	)

	var points []EfficiencyPoint
	for i := 0; i < speedSteps; i++ {
		speedRPM := float64(i) / float64(speedSteps-1) * m.params.MaxSpeedRPM
		speedRadS := speedRPM * math.Pi / 30

		for j := 0; j < torqueSteps; j++ {
			torquePercent := 10 + float64(j)/float64(torqueSteps-1)*90
			torqueNm := torquePercent / 100 * m.params.MaxTorque

			requiredPower := torqueNm * speedRadS
			if requiredPower > m.params.RatedPowerKW*1000*1.5 {
				continue
			}

			backEMF := m.params.Ke * speedRadS
			requiredCurrent := torqueNm / m.params.Kt
			voltageDrop := m.params.Resistance * requiredCurrent
			if voltage <= backEMF+voltageDrop {
				continue
			}

			electricalPower := voltage * requiredCurrent
			if electricalPower <= 0 {
				continue
			}
			mechanicalPower := torqueNm * speedRadS
			eff := math.Min(mechanicalPower/electricalPower, 0.98)

			points = append(points, EfficiencyPoint{
				SpeedRPM:   speedRPM,
				TorqueNm:   torqueNm,
				Efficiency: eff,
				PowerW:     mechanicalPower,
			})
		}
	}
	return points
}
