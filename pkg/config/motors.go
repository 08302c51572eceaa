package config

import (
	"sort"

	"github.com/MMSK-SBrain/Motor-Dyno/pkg/errors"
	"github.com/MMSK-SBrain/Motor-Dyno/pkg/motor"
)

// MotorPreset is a named motor parameter set available to sessions.
type MotorPreset struct {
	ID     string
	Name   string
	Params motor.Params
}

// DefaultMotorID is the preset used when a session does not name one.
const DefaultMotorID = "bldc_2kw_48v"

// motorPresets is the built-in registry. Presets are immutable; sessions
// receive copies.
var motorPresets = map[string]MotorPreset{
	DefaultMotorID: {
		ID:   DefaultMotorID,
		Name: "BLDC 2kW 48V Motor",
		Params: motor.Params{
			Resistance:    0.08,
			Inductance:    0.0015,
			Kt:            0.169,
			Ke:            0.169,
			PolePairs:     4,
			Inertia:       0.001,
			Friction:      0.001,
			RatedVoltage:  48.0,
			RatedCurrent:  45.0,
			RatedSpeedRPM: 3000,
			RatedTorque:   7.6,
			RatedPowerKW:  2.0,
			MaxSpeedRPM:   6000,
			MaxTorque:     15.0,
		},
	},
	"bldc_750w_24v": {
		ID:   "bldc_750w_24v",
		Name: "BLDC 750W 24V Motor",
		Params: motor.Params{
			Resistance:    0.15,
			Inductance:    0.0008,
			Kt:            0.082,
			Ke:            0.082,
			PolePairs:     4,
			Inertia:       0.0004,
			Friction:      0.0005,
			RatedVoltage:  24.0,
			RatedCurrent:  35.0,
			RatedSpeedRPM: 2500,
			RatedTorque:   2.9,
			RatedPowerKW:  0.75,
			MaxSpeedRPM:   5000,
			MaxTorque:     5.8,
		},
	},
}

// MotorPresetByID looks up a preset. Unknown IDs are configuration errors.
func MotorPresetByID(motorID string) (MotorPreset, error) {
	p, ok := motorPresets[motorID]
	if !ok {
		return MotorPreset{}, errors.UnknownMotor(motorID)
	}
	return p, nil
}

// ValidMotorID reports whether a preset exists for the given ID.
func ValidMotorID(motorID string) bool {
	_, ok := motorPresets[motorID]
	return ok
}

// MotorIDs returns the registered preset IDs in stable order.
func MotorIDs() []string {
	ids := make([]string, 0, len(motorPresets))
	for id := range motorPresets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
