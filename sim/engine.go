// sim/engine.go
// Copyright(c) 2026 crashsim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"log/slog"
	"time"

	"github.com/avtrain/crashsim/aviation"
	"github.com/avtrain/crashsim/math"
	"github.com/avtrain/crashsim/rand"
)

// EngineFailureType enumerates the discrete failure modes a single engine
// can be in. At most one applies at a time; triggering a new one replaces
// the old.
type EngineFailureType int

const (
	EngineFailureNone EngineFailureType = iota
	EngineFlameout
	EngineFire
	EngineDamage
	EngineFuelLeak
	EngineStuck
	EngineSeparation
	EngineSeizure
	NumEngineFailureTypes
)

func (t EngineFailureType) String() string {
	return [...]string{"none", "flameout", "fire", "damage", "fuel_leak", "stuck",
		"separation", "seizure"}[t]
}

type FailureSeverity int

const (
	SeverityMinor FailureSeverity = iota
	SeverityMajor
	SeverityCritical
)

func (s FailureSeverity) String() string {
	return [...]string{"minor", "major", "critical"}[s]
}

// damageFactor scales the normal-operation curves for a damaged engine.
func (s FailureSeverity) damageFactor() float32 {
	switch s {
	case SeverityMinor:
		return 0.8
	case SeverityMajor:
		return 0.5
	default:
		return 0.25
	}
}

// EngineFailure is the failure record for one engine. It is created whole
// by TriggerFailure and cleared whole by Recover; nothing else mutates it.
type EngineFailure struct {
	Failed      bool
	Type        EngineFailureType
	Severity    FailureSeverity
	Time        time.Duration // sim time at failure
	Recoverable bool
}

// Environment is the snapshot of ambient conditions an engine operates
// in; the propulsion manager refreshes it from the rigid body state every
// tick.
type Environment struct {
	AltitudeFeet  float32
	AirDensity    float32 // kg/m^3
	TemperatureC  float32 // outside air temperature
	Humidity      float32 // [0,1]
	WindSpeedKts  float32
	WindDirection float32 // degrees
	TASKnots      float32
}

// Throttle response and spool behavior constants. The smoothing constants
// are per-tick first-order lag factors; settling time is roughly 1/alpha
// ticks.
const (
	MaxThrottle = 1.0
	MinThrottle = -0.7 // negative range commands reverse thrust

	throttleDeadband = 0.05

	idleN2 = 60.0
	maxN2  = 100.0

	idleEGT = 400.0 // degrees C

	n1AltitudeDecayPerFoot = 6e-6  // exponential
	n2AltitudeDecayPerFoot = 2.5e-6 // linear

	densityThrustExponent = 0.7
	machDragFactor        = 0.15

	smoothN1       = 0.015
	smoothN2       = 0.018
	smoothEGT      = 0.010
	smoothThrust   = 0.020
	smoothFuelFlow = 0.020

	oilPressureN1Threshold = 5.0 // percent N1; below this the pump is off
	maxOilPressure         = 120.0
	maxVibration           = 5.0

	fireEGTCeiling   = 1400.0
	flameoutEGTFloor = 100.0

	// Fuel leak escalation: chance per parameter update that the leak
	// starves the engine into a flameout.
	fuelLeakFlameoutChance = 0.10
)

// Engine models a single physical engine: spool speeds, temperature,
// thrust, fuel flow and secondary indications, in both normal operation
// and discrete failure modes. All continuous parameters are smoothed with
// a first-order lag so nothing jumps within one tick, and every stored
// value is sanitized to be finite.
type Engine struct {
	Index int
	Mount aviation.EngineMount

	// Signed commanded throttle in [MinThrottle, MaxThrottle] and its
	// magnitude; curves run off the magnitude, thrust is signed by the
	// command.
	ThrottleCommand   float32
	ThrottleMagnitude float32

	N1          float32 // percent
	N2          float32 // percent
	EGT         float32 // degrees C
	Thrust      float32 // Newtons, signed
	FuelFlow    float32 // kg/s
	OilPressure float32 // psi
	Vibration   float32 // arbitrary units, [0, maxVibration]

	Running bool
	Failure EngineFailure
	Env     Environment

	// N2 windmill speed drawn once when a flameout is triggered.
	windmillN2 float32

	r *rand.Rand
}

func NewEngine(index int, mount aviation.EngineMount, r *rand.Rand) *Engine {
	e := &Engine{
		Index:   index,
		Mount:   mount,
		Running: true,
		r:       r,
	}
	e.N1 = mount.IdleN1
	e.N2 = idleN2
	e.EGT = idleEGT
	e.FuelFlow = mount.IdleFuelFlow
	e.OilPressure = 40
	e.Env = Environment{AirDensity: aviation.SeaLevelDensity, TemperatureC: 15}
	return e
}

// SetThrottle clamps the commanded throttle to [MinThrottle, MaxThrottle]
// and stores both the signed command and its magnitude. Out-of-range
// input is expected pilot behavior and is clamped, never an error.
func (e *Engine) SetThrottle(t float32) {
	e.ThrottleCommand = math.Clamp(t, MinThrottle, MaxThrottle)
	e.ThrottleMagnitude = math.Abs(e.ThrottleCommand)
}

// UpdateEnvironment replaces the environment snapshot. If the engine is
// running its parameters are recomputed immediately so indications track
// a climbing or descending aircraft without waiting for the next tick.
func (e *Engine) UpdateEnvironment(altitude, density, temperature, humidity, tas float32) {
	e.Env = Environment{
		AltitudeFeet: altitude,
		AirDensity:   density,
		TemperatureC: temperature,
		Humidity:     humidity,
		TASKnots:     tas,
	}
	if e.Running {
		e.CalculateParameters(0)
	}
}

// TriggerFailure replaces the engine's failure record and immediately
// recomputes parameters from the failure curves. Failures are fatal to
// recover from unless recoverable is set here.
func (e *Engine) TriggerFailure(t EngineFailureType, severity FailureSeverity, recoverable bool, now time.Duration) {
	e.Failure = EngineFailure{
		Failed:      true,
		Type:        t,
		Severity:    severity,
		Time:        now,
		Recoverable: recoverable,
	}
	if t == EngineFlameout {
		e.windmillN2 = e.r.Float32InRange(15, 20)
	}
	e.CalculateParameters(0)
}

// Recover clears the failure record, but only if the failure was marked
// recoverable when it was triggered; otherwise it reports an error and
// changes nothing.
func (e *Engine) Recover() error {
	if !e.Failure.Failed {
		return ErrEngineNotFailed
	}
	if !e.Failure.Recoverable {
		return ErrEngineNotRecoverable
	}
	e.Failure = EngineFailure{}
	e.Running = true
	e.CalculateParameters(0)
	return nil
}

// CalculateParameters advances the engine's continuous state by one tick:
// compute base targets from either the normal or the failure curves,
// apply the environmental correction, smooth toward the targets, then
// derive oil pressure, vibration and the running flag.
func (e *Engine) CalculateParameters(dt float32) {
	// A stuck engine is frozen at its last indications entirely.
	if e.Failure.Failed && e.Failure.Type == EngineStuck {
		return
	}

	n1, n2, egt, thrust, fuelFlow := e.normalTargets()

	if e.Failure.Failed {
		n1, n2, egt, thrust, fuelFlow = e.failureTargets(n1, n2, egt, thrust, fuelFlow)
	}

	// Environmental correction: hotter-than-ISA air raises EGT and fuel
	// flow and costs thrust.
	isaC := aviation.ISATemperatureAtAltitude(e.Env.AltitudeFeet) - 273.15
	deltaISA := e.Env.TemperatureC - isaC
	egt *= math.Clamp(1+0.002*deltaISA, 0.8, 1.2)
	fuelFlow *= math.Clamp(1+0.0015*deltaISA, 0.8, 1.2)
	thrust *= math.Clamp(1-0.002*deltaISA, 0.8, 1.1)

	// First-order lag toward the targets; this models spool inertia and
	// keeps instrument readings from stepping discontinuously.
	e.N1 = sanitize(math.Lerp(smoothN1, e.N1, n1), e.Mount.IdleN1)
	e.N2 = sanitize(math.Lerp(smoothN2, e.N2, n2), idleN2)
	e.EGT = sanitize(math.Lerp(smoothEGT, e.EGT, egt), idleEGT)
	e.Thrust = sanitize(math.Lerp(smoothThrust, e.Thrust, thrust), 0)
	e.FuelFlow = sanitize(math.Lerp(smoothFuelFlow, e.FuelFlow, fuelFlow), 0)

	e.updateSecondaryIndications()

	// A fuel leak can starve the engine outright.
	if e.Failure.Failed && e.Failure.Type == EngineFuelLeak && dt > 0 &&
		e.r.Float32() < fuelLeakFlameoutChance {
		e.TriggerFailure(EngineFlameout, e.Failure.Severity, e.Failure.Recoverable, e.Failure.Time)
		return
	}

	if e.Failure.Failed && e.Failure.Type == EngineFlameout {
		e.Running = false
	} else {
		e.Running = e.N1 > oilPressureN1Threshold
	}
}

// normalTargets evaluates the normal-operation curves at the current
// throttle magnitude and environment.
func (e *Engine) normalTargets() (n1, n2, egt, thrust, fuelFlow float32) {
	t := e.ThrottleMagnitude
	alt := e.Env.AltitudeFeet

	n1 = e.Mount.IdleN1 + math.Pow(t, 0.7)*(100-e.Mount.IdleN1)*math.Exp(-n1AltitudeDecayPerFoot*alt)
	n2 = idleN2 + math.Pow(t, 0.9)*(maxN2-idleN2)*math.Clamp(1-n2AltitudeDecayPerFoot*alt, 0, 1)

	if t < throttleDeadband {
		egt = idleEGT
	} else {
		egt = idleEGT + math.Pow(t, 0.8)*(e.Mount.MaxEGT-idleEGT)
	}

	densityRatio := e.Env.AirDensity / aviation.SeaLevelDensity
	mach := e.mach()
	thrust = e.Mount.MaxThrust * t * math.Pow(math.Clamp(densityRatio, 0, 1), densityThrustExponent) *
		math.Clamp(1-machDragFactor*mach, 0, 1)
	thrust *= math.Sign(e.ThrottleCommand)

	fuelFlow = math.Abs(thrust) * e.Mount.SFC
	if fuelFlow < e.Mount.IdleFuelFlow {
		fuelFlow = e.Mount.IdleFuelFlow
	}
	return
}

// failureTargets overrides the normal-curve targets for the active
// failure mode.
func (e *Engine) failureTargets(n1, n2, egt, thrust, fuelFlow float32) (float32, float32, float32, float32, float32) {
	switch e.Failure.Type {
	case EngineFlameout:
		n1 *= 0.1
		n2 = e.windmillN2
		egt = max(egt*0.3, flameoutEGTFloor)
		thrust *= 0.05
		fuelFlow *= 0.1

	case EngineFire:
		n1 *= 0.5
		n2 *= 0.5
		egt = min(egt*1.8, fireEGTCeiling)
		thrust *= 0.4
		// fuel keeps feeding the fire; flow is unchanged

	case EngineSeparation, EngineSeizure:
		n1, n2 = 0, 0
		egt = e.Env.TemperatureC
		thrust, fuelFlow = 0, 0

	case EngineDamage:
		f := e.Failure.Severity.damageFactor()
		n1 *= f
		n2 *= f
		egt *= f + 0.2
		thrust *= f
		fuelFlow *= f

	case EngineFuelLeak:
		fuelFlow *= 0.7
	}
	return n1, n2, egt, thrust, fuelFlow
}

func (e *Engine) updateSecondaryIndications() {
	if e.N1 < oilPressureN1Threshold {
		e.OilPressure = 0
	} else {
		noise := e.r.Float32InRange(-2, 2)
		e.OilPressure = math.Clamp(20+0.45*e.N1+noise, 0, maxOilPressure)
	}

	vib := 0.2 + e.ThrottleMagnitude
	if e.Failure.Failed {
		switch e.Failure.Type {
		case EngineFire:
			vib *= 2.0
		case EngineDamage:
			switch e.Failure.Severity {
			case SeverityMinor:
				vib *= 1.2
			case SeverityMajor:
				vib *= 1.5
			default:
				vib *= 2.0
			}
		case EngineFuelLeak:
			vib *= 1.3
		}
	}
	e.Vibration = sanitize(math.Clamp(vib, 0, maxVibration), 0)
}

func (e *Engine) mach() float32 {
	a := aviation.SpeedOfSoundAtAltitude(e.Env.AltitudeFeet)
	if a <= 0 {
		return 0
	}
	return math.Clamp(e.Env.TASKnots/a, 0, 1)
}

// sanitize keeps NaNs and infinities out of stored engine state.
func sanitize(v, def float32) float32 {
	return math.FiniteOr(v, def)
}

func (e *Engine) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("index", e.Index),
		slog.Float64("n1", float64(e.N1)),
		slog.Float64("thrust", float64(e.Thrust)),
		slog.Bool("running", e.Running),
		slog.String("failure", e.Failure.Type.String()))
}
