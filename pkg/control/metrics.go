// Step response analysis
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package control

import "math"

// StepMetrics summarizes a recorded step response. It is a post-hoc analysis
// utility and plays no part in the control hot path.
type StepMetrics struct {
	RiseTime         float64 `json:"rise_time"`
	SettlingTime     float64 `json:"settling_time"`
	OvershootPercent float64 `json:"overshoot_percent"`
	SteadyStateError float64 `json:"steady_state_error"`
}

// AnalyzeStepResponse computes rise time (10%-90%), settling time (2% band),
// overshoot percentage and steady-state error from a sampled process
// variable series. dt is the sample interval.
func AnalyzeStepResponse(response []float64, setpoint, dt float64) StepMetrics {
	if len(response) < 2 {
		return StepMetrics{SteadyStateError: math.Inf(1)}
	}

	// Final value is the mean of the last hundred samples, or the last
	// sample for short series.
	finalValue := response[len(response)-1]
	if len(response) >= 100 {
		sum := 0.0
		for _, v := range response[len(response)-100:] {
			sum += v
		}
		finalValue = sum / 100
	}

	return StepMetrics{
		RiseTime:         riseTime(response, finalValue, dt),
		SettlingTime:     settlingTime(response, setpoint, dt),
		OvershootPercent: overshoot(response, setpoint),
		SteadyStateError: math.Abs(setpoint - finalValue),
	}
}

// riseTime is the interval between the 10% and 90% crossings of the final
// value.
func riseTime(response []float64, finalValue, dt float64) float64 {
	initial := response[0]
	valueRange := finalValue - initial
	if math.Abs(valueRange) < 1e-6 {
		return 0
	}

	tenPct := initial + 0.1*valueRange
	ninetyPct := initial + 0.9*valueRange

	tenIdx, ninetyIdx := -1, -1
	for i, v := range response {
		crossed := v >= tenPct
		crossed90 := v >= ninetyPct
		if valueRange < 0 {
			crossed = v <= tenPct
			crossed90 = v <= ninetyPct
		}
		if tenIdx < 0 && crossed {
			tenIdx = i
		}
		if ninetyIdx < 0 && crossed90 {
			ninetyIdx = i
			break
		}
	}
	if tenIdx < 0 || ninetyIdx < 0 {
		return float64(len(response)) * dt
	}
	return float64(ninetyIdx-tenIdx) * dt
}

// settlingTime is the time of the last excursion outside a 2% band around
// the setpoint.
func settlingTime(response []float64, setpoint, dt float64) float64 {
	band := 0.02 * math.Abs(setpoint)
	if setpoint == 0 {
		band = 0.02
	}

	last := -1
	for i, v := range response {
		if math.Abs(v-setpoint) > band {
			last = i
		}
	}
	if last < 0 {
		return 0
	}
	return float64(last+1) * dt
}

// overshoot is the maximum excursion beyond the setpoint as a percentage of
// the step size.
func overshoot(response []float64, setpoint float64) float64 {
	initial := response[0]
	stepSize := math.Abs(setpoint - initial)
	if stepSize < 1e-6 {
		return 0
	}

	if setpoint > initial {
		max := response[0]
		for _, v := range response {
			if v > max {
				max = v
			}
		}
		if max > setpoint {
			return (max - setpoint) / stepSize * 100
		}
		return 0
	}

	min := response[0]
	for _, v := range response {
		if v < min {
			min = v
		}
	}
	if min < setpoint {
		return (setpoint - min) / stepSize * 100
	}
	return 0
}
