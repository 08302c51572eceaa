// Package canlink encodes dyno telemetry into fixed CAN frames for bench
// instrumentation. Two frames carry the full broadcast sample using
// little-endian fixed-point signals with factor/offset scaling.
//
// Copyright (C) 2026  Motor-Dyno Project
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package canlink

import (
	"fmt"
	"math"

	"go.einride.tech/can"

	"github.com/MMSK-SBrain/Motor-Dyno/pkg/protocol"
)

// Frame identifiers on the bench bus.
const (
	FrameIDMechanical uint32 = 0x200 // speed, torque, power
	FrameIDElectrical uint32 = 0x201 // current, voltage, temperature, efficiency
)

// Signal scaling. Raw values are signed 16-bit unless noted.
const (
	speedFactor   = 0.25 // rpm per count, ±8191 rpm
	torqueFactor  = 0.01 // Nm per count
	powerFactor   = 1.0  // W per count
	currentFactor = 0.01 // A per count
	voltageFactor = 0.01 // V per count
	tempFactor    = 0.1  // degC per count (unsigned)
	effFactor     = 0.01 // percent per count (unsigned)
)

// Mechanical is the decoded 0x200 frame.
type Mechanical struct {
	SpeedRPM float64
	TorqueNm float64
	PowerW   float64
}

// Electrical is the decoded 0x201 frame.
type Electrical struct {
	CurrentA     float64
	VoltageV     float64
	TemperatureC float64
	Efficiency   float64 // percent
}

func packS16(v, factor float64) uint16 {
	raw := math.Round(v / factor)
	if raw > math.MaxInt16 {
		raw = math.MaxInt16
	}
	if raw < math.MinInt16 {
		raw = math.MinInt16
	}
	return uint16(int16(raw))
}

func unpackS16(raw uint16, factor float64) float64 {
	return float64(int16(raw)) * factor
}

func packU16(v, factor float64) uint16 {
	raw := math.Round(v / factor)
	if raw > math.MaxUint16 {
		raw = math.MaxUint16
	}
	if raw < 0 {
		raw = 0
	}
	return uint16(raw)
}

func putU16(data *can.Data, offset int, v uint16) {
	data[offset] = byte(v)
	data[offset+1] = byte(v >> 8)
}

func getU16(data [8]byte, offset int) uint16 {
	return uint16(data[offset]) | uint16(data[offset+1])<<8
}

// EncodeMechanical packs speed, torque and power into frame 0x200.
func EncodeMechanical(p protocol.SimulationPoint) can.Frame {
	var f can.Frame
	f.ID = FrameIDMechanical
	f.Length = 6
	putU16(&f.Data, 0, packS16(p.SpeedRPM, speedFactor))
	putU16(&f.Data, 2, packS16(p.TorqueNm, torqueFactor))
	putU16(&f.Data, 4, packS16(p.PowerW, powerFactor))
	return f
}

// DecodeMechanical unpacks frame 0x200.
func DecodeMechanical(f can.Frame) (Mechanical, error) {
	if f.ID != FrameIDMechanical {
		return Mechanical{}, fmt.Errorf("canlink: frame 0x%X is not mechanical telemetry", f.ID)
	}
	if f.Length < 6 {
		return Mechanical{}, fmt.Errorf("canlink: mechanical frame DLC %d, want 6", f.Length)
	}
	return Mechanical{
		SpeedRPM: unpackS16(getU16(f.Data, 0), speedFactor),
		TorqueNm: unpackS16(getU16(f.Data, 2), torqueFactor),
		PowerW:   unpackS16(getU16(f.Data, 4), powerFactor),
	}, nil
}

// EncodeElectrical packs current, voltage, temperature and efficiency into
// frame 0x201. Efficiency travels as a percentage.
func EncodeElectrical(p protocol.SimulationPoint) can.Frame {
	var f can.Frame
	f.ID = FrameIDElectrical
	f.Length = 8
	putU16(&f.Data, 0, packS16(p.CurrentA, currentFactor))
	putU16(&f.Data, 2, packS16(p.VoltageV, voltageFactor))
	putU16(&f.Data, 4, packU16(p.TemperatureC, tempFactor))
	putU16(&f.Data, 6, packU16(p.Efficiency*100, effFactor))
	return f
}

// DecodeElectrical unpacks frame 0x201.
func DecodeElectrical(f can.Frame) (Electrical, error) {
	if f.ID != FrameIDElectrical {
		return Electrical{}, fmt.Errorf("canlink: frame 0x%X is not electrical telemetry", f.ID)
	}
	if f.Length < 8 {
		return Electrical{}, fmt.Errorf("canlink: electrical frame DLC %d, want 8", f.Length)
	}
	return Electrical{
		CurrentA:     unpackS16(getU16(f.Data, 0), currentFactor),
		VoltageV:     unpackS16(getU16(f.Data, 2), voltageFactor),
		TemperatureC: float64(getU16(f.Data, 4)) * tempFactor,
		Efficiency:   float64(getU16(f.Data, 6)) * effFactor,
	}, nil
}
