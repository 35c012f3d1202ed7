// sim/propulsion.go
// Copyright(c) 2026 crashsim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/avtrain/crashsim/aviation"
	"github.com/avtrain/crashsim/log"
	"github.com/avtrain/crashsim/math"
	"github.com/avtrain/crashsim/rand"
)

// PerformanceMetrics aggregates fleet-level engine performance; it is
// recomputed every tick.
type PerformanceMetrics struct {
	TotalThrust     float32 // Newtons, signed, running engines only
	FuelConsumption float32 // kg/s, all engines
	AverageEGT      float32 // degrees C over running engines
	EnginesRunning  int
	ThrustAsymmetry float32 // (max-min)/max of thrust magnitude across engines
	Efficiency      float32 // total thrust over total rated thrust
}

// Forces is the net propulsion contribution handed to the rigid body
// each tick: body-frame force and torque.
type Forces struct {
	Force  [3]float32 // N; x forward
	Torque [3]float32 // N m; roll, pitch, yaw
}

const (
	// Differential throttle split per bank of engines.
	twinDifferentialSplit = 0.5
	quadDifferentialSplit = 0.3

	engineTorqueScale = 1.0

	// Moment arm for pitch torque from thrust vectoring, meters.
	vectoringMomentArm = 2.0

	// Mean interval for the random-failure scheduler, seconds of sim time.
	meanFailureInterval = 120.0

	randomFailureRecoveryChance = 0.30
)

// Propulsion owns the airframe's engines, maps the master/differential
// throttle onto them, and aggregates their forces, torques and
// performance metrics.
type Propulsion struct {
	Airframe *aviation.Airframe
	Engines  []*Engine

	MasterThrottle       float32
	DifferentialThrottle float32
	ThrustVectoring      float32

	Metrics PerformanceMetrics

	// RandomFailures enables the Poisson-like failure scheduler; the
	// failure system's difficulty policy decides whether to turn it on.
	RandomFailures    bool
	timeToNextFailure float32

	r  *rand.Rand
	lg *log.Logger
}

func NewPropulsion(af *aviation.Airframe, r *rand.Rand, lg *log.Logger) (*Propulsion, error) {
	if err := af.Validate(); err != nil {
		return nil, err
	}

	p := &Propulsion{
		Airframe: af,
		r:        r,
		lg:       lg,
	}
	for i, m := range af.Engines {
		p.Engines = append(p.Engines, NewEngine(i, m, r))
	}
	p.timeToNextFailure = p.drawFailureInterval()
	return p, nil
}

// SetMasterThrottle clamps and stores the master throttle and
// redistributes individual engine throttles.
func (p *Propulsion) SetMasterThrottle(t float32) {
	p.MasterThrottle = math.Clamp(t, MinThrottle, MaxThrottle)
	p.distributeThrottle()
}

// SetDifferentialThrottle stores the differential setting and re-derives
// every engine's throttle from the stored master value; the recomputation
// is idempotent rather than incremental.
func (p *Propulsion) SetDifferentialThrottle(d float32) {
	p.DifferentialThrottle = math.Clamp(d, -1, 1)
	p.distributeThrottle()
}

func (p *Propulsion) SetThrustVectoring(v float32) {
	p.ThrustVectoring = math.Clamp(v, -1, 1)
}

func (p *Propulsion) distributeThrottle() {
	for i, e := range p.Engines {
		if e.Failure.Failed {
			// Failed engines keep their last command; they are excluded
			// from redistribution.
			continue
		}
		e.SetThrottle(p.calculateIndividualThrottle(i))
	}
}

// calculateIndividualThrottle applies the differential-throttle offset
// for the indexed engine to the stored master throttle. Differential is
// only meaningful for forward thrust; the result never goes below zero,
// so full differential at low master pins the lagging engine at idle
// rather than commanding reverse.
func (p *Propulsion) calculateIndividualThrottle(index int) float32 {
	master := p.MasterThrottle
	if master < 0 {
		return master
	}

	split := float32(0)
	switch p.Airframe.Layout {
	case aviation.LayoutTwin, aviation.LayoutTri:
		split = twinDifferentialSplit
	case aviation.LayoutQuad:
		split = quadDifferentialSplit
	}

	// Engines on the right bank lead with positive differential, the
	// left bank lags; centerline engines take the master unchanged.
	y := p.Engines[index].Mount.Position[1]
	offset := split * p.DifferentialThrottle * math.Sign(y)

	return math.Clamp(master+offset, 0, MaxThrottle)
}

// SetEnvironment pushes the ambient conditions to every engine.
func (p *Propulsion) SetEnvironment(env Environment) {
	for _, e := range p.Engines {
		e.UpdateEnvironment(env.AltitudeFeet, env.AirDensity, env.TemperatureC,
			env.Humidity, env.TASKnots)
	}
}

// TriggerEngineFailure fails the indexed engine. An out-of-range index is
// a caller bug and reports an error rather than being clamped.
func (p *Propulsion) TriggerEngineFailure(index int, t EngineFailureType, severity FailureSeverity,
	recoverable bool, now time.Duration) error {
	if index < 0 || index >= len(p.Engines) {
		return fmt.Errorf("engine %d: %w", index, ErrEngineIndexOutOfRange)
	}
	p.Engines[index].TriggerFailure(t, severity, recoverable, now)
	p.lg.Info("engine failure triggered", "engine", index, "type", t.String(),
		"severity", severity.String(), "recoverable", recoverable)
	return nil
}

func (p *Propulsion) RecoverEngine(index int) error {
	if index < 0 || index >= len(p.Engines) {
		return fmt.Errorf("engine %d: %w", index, ErrEngineIndexOutOfRange)
	}
	return p.Engines[index].Recover()
}

// EmergencyShutdown force-triggers a critical, non-recoverable flameout
// on every engine that is still running.
func (p *Propulsion) EmergencyShutdown(now time.Duration) {
	for _, e := range p.Engines {
		if e.Running {
			e.TriggerFailure(EngineFlameout, SeverityCritical, false, now)
		}
	}
	p.lg.Warn("emergency shutdown: all engines cut")
}

// Update advances every engine by dt, optionally runs the random-failure
// scheduler, recomputes the fleet metrics and returns the aggregated
// forces and torques for the rigid body.
func (p *Propulsion) Update(dt float32, now time.Duration) Forces {
	if p.RandomFailures {
		p.updateFailureScheduler(dt, now)
	}

	for _, e := range p.Engines {
		e.CalculateParameters(dt)
	}

	p.updateMetrics()
	return p.aggregateForces()
}

func (p *Propulsion) updateFailureScheduler(dt float32, now time.Duration) {
	p.timeToNextFailure -= dt
	if p.timeToNextFailure > 0 {
		return
	}
	p.timeToNextFailure = p.drawFailureInterval()

	idx := rand.SampleFiltered(p.r, p.Engines, func(e *Engine) bool {
		return e.Running && !e.Failure.Failed
	})
	if idx == -1 {
		return
	}

	t := rand.Sample(p.r, EngineFlameout, EngineFire, EngineDamage, EngineFuelLeak)
	severity := SeverityMajor
	if p.r.Float32() < 0.3 {
		severity = SeverityCritical
	}
	recoverable := p.r.Float32() < randomFailureRecoveryChance

	p.Engines[idx].TriggerFailure(t, severity, recoverable, now)
	p.lg.Info("random engine failure", "engine", idx, "type", t.String(),
		"severity", severity.String(), "recoverable", recoverable)
}

// drawFailureInterval samples the time to the next random failure from an
// exponential distribution with the configured mean.
func (p *Propulsion) drawFailureInterval() float32 {
	u := math.Clamp(p.r.Float32(), 0, 0.9999)
	return -meanFailureInterval * math.Log(1-u)
}

func (p *Propulsion) updateMetrics() {
	var m PerformanceMetrics
	var egtSum, maxMag, minMag, rated float32
	minMag = -1

	for _, e := range p.Engines {
		m.FuelConsumption += e.FuelFlow
		rated += e.Mount.MaxThrust

		mag := math.Abs(e.Thrust)
		if mag > maxMag {
			maxMag = mag
		}
		if minMag < 0 || mag < minMag {
			minMag = mag
		}

		if e.Running {
			m.EnginesRunning++
			m.TotalThrust += e.Thrust
			egtSum += e.EGT
		}
	}

	if m.EnginesRunning > 0 {
		m.AverageEGT = egtSum / float32(m.EnginesRunning)
	}
	if maxMag > 0 {
		m.ThrustAsymmetry = (maxMag - minMag) / maxMag
	}
	if rated > 0 {
		m.Efficiency = math.Clamp(math.Abs(m.TotalThrust)/rated, 0, 1)
	}

	p.Metrics = m
}

func (p *Propulsion) aggregateForces() Forces {
	var f Forces
	for _, e := range p.Engines {
		if !e.Running {
			// A failed engine contributes neither force nor torque.
			continue
		}

		thrust := [3]float32{e.Thrust, 0, 0}
		f.Force = math.Add3f(f.Force, thrust)

		torque := math.Scale3f(math.Cross3f(e.Mount.Position, thrust), engineTorqueScale)
		f.Torque = math.Add3f(f.Torque, torque)

		if p.ThrustVectoring != 0 {
			f.Torque[1] += p.ThrustVectoring * e.Thrust * vectoringMomentArm
		}
	}

	for i := 0; i < 3; i++ {
		f.Force[i] = sanitize(f.Force[i], 0)
		f.Torque[i] = sanitize(f.Torque[i], 0)
	}
	return f
}

func (p *Propulsion) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("master_throttle", float64(p.MasterThrottle)),
		slog.Float64("total_thrust", float64(p.Metrics.TotalThrust)),
		slog.Int("engines_running", p.Metrics.EnginesRunning))
}
