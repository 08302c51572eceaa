// BLDC motor physics model
//
// Integrates the electrical, mechanical and thermal dynamics of a brushless
// DC motor with explicit Euler steps. Supports duty-cycle control through a
// PWM inverter stage or direct voltage control.
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motor

import (
	"fmt"
	"math"
)

// Thermal model constants for a small traction motor.
const (
	thermalResistance = 2.0   // degC per watt
	thermalCapacity   = 100.0 // joule per degC
	coreLossCoeff     = 5.0   // watt at maximum speed
	currentFilterTau  = 0.001 // seconds
)

// State is the externally visible motor state produced once per step.
type State struct {
	SpeedRPM     float64 `json:"speed_rpm"`
	TorqueNm     float64 `json:"torque_nm"`
	CurrentA     float64 `json:"current_a"`
	VoltageV     float64 `json:"voltage_v"`
	PowerW       float64 `json:"power_w"`
	Efficiency   float64 `json:"efficiency"`
	PositionRad  float64 `json:"position_rad"`
	TemperatureC float64 `json:"temperature_c"`
	DutyCycle    float64 `json:"duty_cycle"`
}

// Motor integrates the dynamics of a single BLDC motor. A Motor is owned by
// exactly one simulation loop; it is not safe for concurrent use.
type Motor struct {
	params   Params
	inverter *Inverter // nil in direct-voltage mode

	// Integrated state variables, mutated once per Step in fixed order:
	// electrical, torque, mechanical, thermal.
	speed       float64 // rad/s
	position    float64 // rad, wrapped to [0, 2pi)
	current     float64 // A
	voltage     float64 // V
	torque      float64 // Nm
	temperature float64 // degC
	dutyCycle   float64

	currentFiltered float64
	powerLoss       float64
	maxCurrentSeen  float64
}

// New creates a motor with the given parameters. PWM mode attaches an
// inverter stage so that Step interprets its control input as a duty cycle;
// otherwise the control input is an applied voltage.
func New(p Params, usePWM bool) (*Motor, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p = p.withDefaults()
	m := &Motor{params: p, temperature: AmbientTemp}
	if usePWM {
		m.inverter = NewInverter(p)
	}
	return m, nil
}

// Reset returns the motor to standstill at ambient temperature.
func (m *Motor) Reset() {
	m.speed = 0
	m.position = 0
	m.current = 0
	m.voltage = 0
	m.torque = 0
	m.temperature = AmbientTemp
	m.dutyCycle = 0
	m.currentFiltered = 0
	m.powerLoss = 0
	m.maxCurrentSeen = 0
}

// Params returns a copy of the motor parameters.
func (m *Motor) Params() Params {
	return m.params
}

// Inverter returns the attached PWM inverter, or nil in direct-voltage mode.
func (m *Motor) Inverter() *Inverter {
	return m.inverter
}

// Speed returns the current angular speed in rad/s.
func (m *Motor) Speed() float64 { return m.speed }

// SpeedRPM returns the current speed in RPM.
func (m *Motor) SpeedRPM() float64 { return m.speed * 30 / math.Pi }

// Current returns the current winding current in amps.
func (m *Motor) Current() float64 { return m.current }

// Temperature returns the winding temperature in degrees Celsius.
func (m *Motor) Temperature() float64 { return m.temperature }

// BackEMF returns the back-EMF voltage at the current speed.
func (m *Motor) BackEMF() float64 {
	return m.params.Ke * m.speed
}

// HotResistance returns the temperature-compensated winding resistance.
func (m *Motor) HotResistance() float64 {
	return m.params.Resistance * (1 + CopperTempCoeff*(m.temperature-20))
}

// Step advances the simulation by dt seconds. controlInput is a duty cycle
// in [0, 1] when the motor was built in PWM mode, or an applied voltage
// otherwise. loadTorque is the external load in Nm.
//
// dt must be positive; a non-positive dt is a caller bug and panics.
func (m *Motor) Step(controlInput, loadTorque, dt float64) State {
	if dt <= 0 {
		panic(fmt.Sprintf("motor: non-positive timestep %v", dt))
	}

	if m.inverter != nil {
		m.dutyCycle = clamp(controlInput, 0.0, 1.0)
		m.voltage = m.inverter.Modulate(m.dutyCycle, m.current)
	} else {
		m.voltage = controlInput
		m.dutyCycle = 0
	}

	backEMF := m.BackEMF()
	m.stepElectrical(m.voltage, backEMF, dt)
	m.stepTorque()
	m.stepMechanical(loadTorque, dt)
	m.stepThermal(dt)

	return m.snapshot()
}

// StepWithCurrentControl drives the motor toward a target current by
// computing the steady-state voltage with a di/dt feedforward estimate, then
// stepping normally. It models an idealized driver regulating current.
func (m *Motor) StepWithCurrentControl(targetCurrent, loadTorque, dt float64) State {
	backEMF := m.BackEMF()
	resistance := m.HotResistance()

	diDt := 0.0
	if dt > 0 {
		diDt = (targetCurrent - m.current) / dt
	}
	requiredVoltage := resistance*targetCurrent + m.params.Inductance*diDt + backEMF

	if m.inverter != nil {
		duty := clamp(requiredVoltage/m.params.BusVoltage, 0.0, 0.95)
		return m.Step(duty, loadTorque, dt)
	}
	return m.Step(requiredVoltage, loadTorque, dt)
}

func (m *Motor) stepElectrical(appliedVoltage, backEMF, dt float64) {
	resistance := m.HotResistance()

	// V = L*di/dt + R*i + EMF
	diDt := (appliedVoltage - backEMF - resistance*m.current) / m.params.Inductance
	m.current += diDt * dt

	maxCurrent := m.params.MaxCurrent()
	m.current = clamp(m.current, -maxCurrent, maxCurrent)

	if abs := math.Abs(m.current); abs > m.maxCurrentSeen {
		m.maxCurrentSeen = abs
	}

	alpha := dt / (dt + currentFilterTau)
	m.currentFiltered += alpha * (m.current - m.currentFiltered)
}

func (m *Motor) stepTorque() {
	m.torque = clamp(m.params.Kt*m.current, -m.params.MaxTorque, m.params.MaxTorque)
}

func (m *Motor) stepMechanical(loadTorque, dt float64) {
	frictionTorque := m.params.Friction * m.speed
	netTorque := m.torque - loadTorque - frictionTorque

	m.speed += netTorque / m.params.Inertia * dt

	maxSpeed := m.params.MaxSpeedRadS()
	m.speed = clamp(m.speed, -maxSpeed, maxSpeed)

	m.position = math.Mod(m.position+m.speed*dt, 2*math.Pi)
	if m.position < 0 {
		m.position += 2 * math.Pi
	}
}

func (m *Motor) stepThermal(dt float64) {
	resistance := m.HotResistance()
	copperLoss := resistance * m.current * m.current

	speedPU := math.Abs(m.speed) / m.params.MaxSpeedRadS()
	coreLoss := coreLossCoeff * speedPU * speedPU

	totalLoss := copperLoss + coreLoss
	m.powerLoss = totalLoss

	// C * dT/dt = P_loss - (T - T_amb) / R_th
	dTdt := (totalLoss - (m.temperature-AmbientTemp)/thermalResistance) / thermalCapacity
	m.temperature += dTdt * dt
	m.temperature = clamp(m.temperature, AmbientTemp, MaxWindingTemp)
}

func (m *Motor) snapshot() State {
	mechanicalPower := m.torque * m.speed
	electricalPower := m.voltage * m.current

	// Sign-aware efficiency: electrical power flows into the motor when
	// motoring and out of it when regenerating. Near-zero electrical power
	// yields zero, never NaN.
	var efficiency float64
	if math.Abs(electricalPower) > 0.1 {
		if electricalPower > 0 {
			efficiency = math.Abs(mechanicalPower) / electricalPower
		} else if mechanicalPower != 0 {
			efficiency = electricalPower / math.Abs(mechanicalPower)
		}
	}
	efficiency = clamp(efficiency, 0.0, 0.98)

	if m.inverter != nil {
		efficiency *= m.inverter.Efficiency() / 100
	}

	return State{
		SpeedRPM:     m.SpeedRPM(),
		TorqueNm:     m.torque,
		CurrentA:     m.current,
		VoltageV:     m.voltage,
		PowerW:       mechanicalPower,
		Efficiency:   efficiency,
		PositionRad:  m.position,
		TemperatureC: m.temperature,
		DutyCycle:    m.dutyCycle,
	}
}

// Info returns the externally visible motor description for the parameter
// query surface.
func (m *Motor) Info(motorID, name string) Info {
	info := Info{
		MotorID:       motorID,
		Name:          name,
		Type:          "BLDC",
		RatedPowerKW:  m.params.RatedPowerKW,
		RatedVoltage:  m.params.RatedVoltage,
		RatedCurrent:  m.params.RatedCurrent,
		RatedSpeedRPM: m.params.RatedSpeedRPM,
		RatedTorque:   m.params.RatedTorque,
		MaxSpeedRPM:   m.params.MaxSpeedRPM,
		MaxTorque:     m.params.MaxTorque,
		Physical: PhysicalInfo{
			Resistance: m.params.Resistance,
			Inductance: m.params.Inductance,
			Kt:         m.params.Kt,
			Ke:         m.params.Ke,
			PolePairs:  m.params.PolePairs,
			Inertia:    m.params.Inertia,
		},
		ControlMode: "Direct Voltage",
	}
	if m.inverter != nil {
		info.ControlMode = "PWM"
		info.PWM = &PWMInfo{
			BusVoltage:      m.params.BusVoltage,
			SwitchingFreqHz: m.params.SwitchingFreqHz,
			DeadTimeUs:      m.params.DeadTime * 1e6,
		}
	}
	return info
}
