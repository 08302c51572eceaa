// Inner-loop PI current controller
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package control

import (
	"math"
)

const rmsErrorWindow = 100

// CurrentConfig holds the tuning parameters for the current controller.
type CurrentConfig struct {
	Kp          float64 `json:"kp"`
	Ki          float64 `json:"ki"`
	BandwidthHz float64 `json:"bandwidth_hz"`

	MaxDuty float64 `json:"max_duty_cycle"`
	MinDuty float64 `json:"min_duty_cycle"`

	UseAntiWindup  bool    `json:"use_anti_windup"`
	AntiWindupGain float64 `json:"anti_windup_gain"`

	UseFeedforward  bool    `json:"use_feedforward"`
	FeedforwardGain float64 `json:"feedforward_gain"`
}

// DefaultCurrentConfig returns the standard inner-loop configuration: 1 kHz
// bandwidth with feedback anti-windup and model feedforward enabled.
func DefaultCurrentConfig() CurrentConfig {
	return CurrentConfig{
		Kp:              10.0,
		Ki:              1000.0,
		BandwidthHz:     1000.0,
		MaxDuty:         0.95,
		MinDuty:         0.05,
		UseAntiWindup:   true,
		AntiWindupGain:  1.0,
		UseFeedforward:  true,
		FeedforwardGain: 0.8,
	}
}

// Feedforward carries the motor operating point used for model-based
// feedforward compensation. The loop recomputes it every tick because the
// hot resistance and back-EMF are temperature and speed dependent.
type Feedforward struct {
	Resistance float64
	Inductance float64
	BackEMF    float64
	BusVoltage float64
}

// CurrentController is a PI regulator producing a duty-cycle command from a
// current error. It runs at a much higher bandwidth than the outer speed
// loop. Anti-windup is feedback style: while saturated, integral
// accumulation is continuously bled off in proportion to the saturation
// excess, which suits the high loop rate better than back-calculation.
type CurrentController struct {
	cfg CurrentConfig

	integralTerm float64
	prevError    float64
	output       float64
	rawOutput    float64
	saturated    bool

	errorHistory []float64
}

// CurrentState is a diagnostic snapshot of the controller.
type CurrentState struct {
	Kp           float64 `json:"kp"`
	Ki           float64 `json:"ki"`
	IntegralTerm float64 `json:"integral_term"`
	Output       float64 `json:"output"`
	IsSaturated  bool    `json:"is_saturated"`
	CurrentError float64 `json:"current_error"`
	RMSError     float64 `json:"rms_error"`
	BandwidthHz  float64 `json:"bandwidth_hz"`
}

// NewCurrentController creates a current controller from the given
// configuration.
func NewCurrentController(cfg CurrentConfig) *CurrentController {
	return &CurrentController{cfg: cfg}
}

// Reset zeroes the controller state and error history.
func (c *CurrentController) Reset() {
	c.integralTerm = 0
	c.prevError = 0
	c.output = 0
	c.rawOutput = 0
	c.saturated = false
	c.errorHistory = c.errorHistory[:0]
}

// SetGains updates the PI gains.
func (c *CurrentController) SetGains(kp, ki float64) {
	c.cfg.Kp = kp
	c.cfg.Ki = ki
}

// SetLimits updates the duty-cycle output limits.
func (c *CurrentController) SetLimits(minDuty, maxDuty float64) {
	c.cfg.MinDuty = clamp(minDuty, 0, 1)
	c.cfg.MaxDuty = clamp(maxDuty, 0, 1)
}

// Config returns the current configuration.
func (c *CurrentController) Config() CurrentConfig {
	return c.cfg
}

// Update advances the controller by one step. ff may be nil when feedforward
// is disabled or no operating point is available.
func (c *CurrentController) Update(targetCurrent, actualCurrent, dt float64, ff *Feedforward) float64 {
	err := targetCurrent - actualCurrent
	c.recordError(err)

	pTerm := c.cfg.Kp * err

	if c.cfg.UseAntiWindup && c.saturated {
		// Bleed the integral while saturated instead of letting it wind up,
		// proportional to how far the unsaturated output overshot the limit.
		excess := c.cfg.AntiWindupGain * (c.rawOutput - c.output)
		c.integralTerm += (c.cfg.Ki*err - excess) * dt
	} else {
		c.integralTerm += c.cfg.Ki * err * dt
	}

	ffTerm := 0.0
	if c.cfg.UseFeedforward && ff != nil && ff.BusVoltage > 0 {
		diDt := 0.0
		if dt > 0 {
			diDt = (targetCurrent - actualCurrent) / dt
		}
		voltageFF := ff.Resistance*targetCurrent + ff.Inductance*diDt + ff.BackEMF
		ffTerm = c.cfg.FeedforwardGain * (voltageFF / ff.BusVoltage)
	}

	c.rawOutput = pTerm + c.integralTerm + ffTerm

	limited := c.limit(c.rawOutput)
	c.saturated = limited != c.rawOutput
	c.output = limited

	c.prevError = err
	return c.output
}

// TuneForMotor sets the PI gains by pole placement for a critically damped
// current loop at the configured bandwidth: kp = L*wc, ki = R*wc.
func (c *CurrentController) TuneForMotor(resistance, inductance float64) {
	omegaC := 2 * math.Pi * c.cfg.BandwidthHz
	c.cfg.Kp = inductance * omegaC
	c.cfg.Ki = resistance * omegaC
}

// RMSError returns the RMS current error over the recent history window.
func (c *CurrentController) RMSError() float64 {
	if len(c.errorHistory) == 0 {
		return 0
	}
	sum := 0.0
	for _, e := range c.errorHistory {
		sum += e * e
	}
	return math.Sqrt(sum / float64(len(c.errorHistory)))
}

// State returns a diagnostic snapshot.
func (c *CurrentController) State() CurrentState {
	return CurrentState{
		Kp:           c.cfg.Kp,
		Ki:           c.cfg.Ki,
		IntegralTerm: c.integralTerm,
		Output:       c.output,
		IsSaturated:  c.saturated,
		CurrentError: c.prevError,
		RMSError:     c.RMSError(),
		BandwidthHz:  c.cfg.BandwidthHz,
	}
}

func (c *CurrentController) limit(output float64) float64 {
	return clamp(output, c.cfg.MinDuty, c.cfg.MaxDuty)
}

func (c *CurrentController) recordError(err float64) {
	c.errorHistory = append(c.errorHistory, err)
	if len(c.errorHistory) > rmsErrorWindow {
		c.errorHistory = c.errorHistory[1:]
	}
}
