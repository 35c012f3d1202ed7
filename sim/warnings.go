// sim/warnings.go
// Copyright(c) 2026 crashsim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"fmt"
	"slices"

	"github.com/avtrain/crashsim/aviation"
	"github.com/avtrain/crashsim/math"
)

type WarningLevel int

// Levels are ordered by priority; the sorted warning list relies on the
// numeric ordering, so CRITICAL must stay lowest.
const (
	LevelCritical WarningLevel = iota
	LevelWarning
	LevelAdvisory
)

func (l WarningLevel) String() string {
	return []string{"CRITICAL", "WARNING", "ADVISORY"}[l]
}

type Warning struct {
	ID       string
	Message  string
	Level    WarningLevel
	Flashing bool
}

// Warning thresholds. GPWS altitudes are AGL feet, rates are ft/min.
const (
	gpwsMinAGL           = 50
	gpwsMaxAGL           = 2500
	sinkRateThreshold    = -2500
	pullUpThreshold      = -4000
	terrainAGL           = 500
	terrainIAS           = 250
	terrainSinkThreshold = -1000
	tooLowGearAGL        = 500
	tooLowFlapsAGL       = 200

	configHighThrottle = 0.7
	tailStrikeAGL      = 100
	tailStrikePitchDeg = 10

	cabinAltitudeLimit = 10000 // feet
	lowFuelKG          = 1500

	// An engine commanded above this throttle whose N1 sits below
	// three-quarters of idle is treated as failed for annunciation.
	engineDetectThrottle = 0.2
	engineDetectN1Frac   = 0.75
)

// WarningInput is the slice of aircraft state the evaluator inspects; the
// orchestrator assembles it fresh each tick from the rigid body,
// propulsion, and systems state.
type WarningInput struct {
	AGLFeet       float32
	MSLFeet       float32
	IASKnots      float32
	VerticalSpeed float32 // ft/min, negative descending
	RollDeg       float32
	PitchDeg      float32
	AlphaDeg      float32
	OnGround      bool

	StallAlphaDeg float32
	Envelope      aviation.Envelope

	Controls   *ControlInputs
	Systems    *SystemsState
	Propulsion *Propulsion
}

// WarningSystem is a stateless-per-tick evaluator: Evaluate clears the
// prior list, re-runs every check group against the current state, and
// returns the warnings sorted CRITICAL, WARNING, ADVISORY. Downstream
// displays assume index 0 is the highest-priority active warning.
type WarningSystem struct {
	warnings []Warning
	seen     map[string]bool
}

func NewWarningSystem() *WarningSystem {
	return &WarningSystem{seen: make(map[string]bool)}
}

// addWarning records a warning unless one with the same id was already
// added this tick.
func (w *WarningSystem) addWarning(id, message string, level WarningLevel, flashing bool) {
	if w.seen[id] {
		return
	}
	w.seen[id] = true
	w.warnings = append(w.warnings, Warning{ID: id, Message: message, Level: level, Flashing: flashing})
}

func (w *WarningSystem) Evaluate(in WarningInput) []Warning {
	w.warnings = w.warnings[:0]
	clear(w.seen)

	w.checkGPWS(in)
	w.checkEnvelope(in)
	w.checkConfiguration(in)
	w.checkSystems(in)

	slices.SortStableFunc(w.warnings, func(a, b Warning) int {
		return int(a.Level) - int(b.Level)
	})
	return slices.Clone(w.warnings)
}

// checkGPWS covers sink rate, terrain closure, and low-altitude
// configuration callouts; everything here is suppressed on the ground.
func (w *WarningSystem) checkGPWS(in WarningInput) {
	if in.OnGround {
		return
	}

	if in.AGLFeet > gpwsMinAGL && in.AGLFeet < gpwsMaxAGL {
		if in.VerticalSpeed < pullUpThreshold {
			w.addWarning("pull_up", "PULL UP", LevelCritical, true)
		} else if in.VerticalSpeed < sinkRateThreshold {
			w.addWarning("sink_rate", "SINK RATE", LevelWarning, false)
		}
	}

	landingConfig := in.Systems.GearExtended && in.Controls.Flaps > 0
	if !landingConfig && in.AGLFeet < terrainAGL && in.IASKnots > terrainIAS &&
		in.VerticalSpeed < terrainSinkThreshold {
		w.addWarning("terrain", "TERRAIN TERRAIN", LevelCritical, true)
	}

	if in.AGLFeet < tooLowGearAGL && !in.Systems.GearExtended {
		w.addWarning("too_low_gear", "TOO LOW - GEAR", LevelWarning, false)
	}
	if in.AGLFeet < tooLowFlapsAGL && in.Controls.Flaps == 0 {
		w.addWarning("too_low_flaps", "TOO LOW - FLAPS", LevelWarning, false)
	}
}

func (w *WarningSystem) checkEnvelope(in WarningInput) {
	if !in.OnGround && in.AlphaDeg > in.StallAlphaDeg {
		w.addWarning("stall", "STALL", LevelCritical, true)
	}
	if in.IASKnots > in.Envelope.VMO {
		w.addWarning("overspeed", "OVERSPEED", LevelCritical, false)
	}
	if math.Abs(in.RollDeg) > in.Envelope.MaxBankDeg {
		w.addWarning("bank_angle", "BANK ANGLE", LevelWarning, false)
	}
}

func (w *WarningSystem) checkConfiguration(in WarningInput) {
	if in.OnGround && in.Propulsion.MasterThrottle > configHighThrottle {
		if in.Controls.Flaps == 0 {
			w.addWarning("config_flaps", "CONFIG FLAPS", LevelWarning, false)
		}
		if in.Controls.Airbrake > 0 {
			w.addWarning("config_spoilers", "CONFIG SPOILERS", LevelWarning, false)
		}
	}

	if !in.OnGround && in.AGLFeet < tailStrikeAGL && in.PitchDeg > tailStrikePitchDeg {
		w.addWarning("tail_strike", "TAIL STRIKE RISK", LevelAdvisory, false)
	}
}

func (w *WarningSystem) checkSystems(in WarningInput) {
	for _, e := range in.Propulsion.Engines {
		if e.Failure.Failed && e.Failure.Type == EngineFire {
			w.addWarning(fmt.Sprintf("eng_fire_%d", e.Index),
				fmt.Sprintf("ENG %d FIRE", e.Index+1), LevelCritical, true)
		}

		// N1-based detection catches failures regardless of how they were
		// injected: an engine commanded to power that isn't spooling is
		// annunciated as failed.
		if e.ThrottleMagnitude > engineDetectThrottle && e.N1 < e.Mount.IdleN1*engineDetectN1Frac {
			w.addWarning(fmt.Sprintf("eng_fail_%d", e.Index),
				fmt.Sprintf("ENG %d FAIL", e.Index+1), LevelWarning, false)
		}
	}

	if in.Systems.HydraulicPressure < LowHydraulicPressure {
		w.addWarning("hyd_pressure", "HYD PRESS LOW", LevelWarning, false)
	}
	if in.Systems.GeneratorsOnline() == 0 {
		w.addWarning("elec_gen", "ALL GENERATORS LOST", LevelCritical, false)
	}
	if in.Systems.CabinAltitude > cabinAltitudeLimit {
		w.addWarning("cabin_alt", "CABIN ALTITUDE", LevelCritical, true)
	}
	if in.Systems.FuelKG < lowFuelKG {
		w.addWarning("low_fuel", "FUEL LOW", LevelWarning, false)
	}
	if in.Systems.SensorsBlocked {
		w.addWarning("unreliable_speed", "IAS DISAGREE", LevelAdvisory, false)
	}
}
