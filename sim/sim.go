// sim/sim.go
// Copyright(c) 2026 crashsim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avtrain/crashsim/aviation"
	"github.com/avtrain/crashsim/log"
	"github.com/avtrain/crashsim/math"
	"github.com/avtrain/crashsim/rand"
	"github.com/avtrain/crashsim/util"
	"github.com/brunoga/deep"
)

const (
	// Fixed tick quantum; wall-clock elapsed time is consumed in units of
	// this and the remainder is carried as slop into the next Update.
	tickInterval = 20 * time.Millisecond

	minSimRate = 0.25
	maxSimRate = 10

	// Touchdown survivability limits.
	survivableSinkFPM    = 1200
	survivableIASKnots   = 210
	survivableBankDeg    = 20
	cabinAltitudeRateFPM = 4000

	autopilotRollGain = 0.04
)

type Config struct {
	AirframeName  string
	Difficulty    Difficulty
	ForcedFailure FailureType

	// RandomEngineFailures turns on the propulsion manager's own failure
	// scheduler in addition to the failure system's policy.
	RandomEngineFailures bool

	Seed int64

	InitialAltitudeFeet float32
	InitialTASKnots     float32
	InitialHeadingDeg   float32

	// Origin anchors the local NED frame to the Earth; position reports
	// and distance flown are derived relative to it.
	Origin math.Point2LL
}

// Sim is the per-aircraft orchestrator: it owns the propulsion manager,
// failure system, rigid body, and warning evaluator and runs them in a
// fixed order every tick. The ordering matters: failures apply their
// impact after the propulsion update and before integration, so a jammed
// surface reaches the integrator already pinned.
type Sim struct {
	mu sync.Mutex

	Airframe   *aviation.Airframe
	Propulsion *Propulsion
	Failures   *FailureSystem
	Body       *RigidBody

	Controls  ControlInputs
	Systems   SystemsState
	Autopilot Autopilot

	SimTime time.Duration
	SimRate float32
	Paused  bool

	Crashed     bool
	CrashReason string

	ActiveWarnings []Warning

	origin         math.Point2LL
	warnings       *WarningSystem
	fuelExhausted  bool
	lastUpdateTime time.Time
	updateTimeSlop time.Duration

	eventStream *EventStream
	r           *rand.Rand
	lg          *log.Logger
}

func New(config Config, es *EventStream, lg *log.Logger) (*Sim, error) {
	af, err := aviation.GetAirframe(config.AirframeName)
	if err != nil {
		return nil, err
	}

	r := rand.Make()
	if config.Seed != 0 {
		r.Seed(config.Seed)
	}

	prop, err := NewPropulsion(af, r, lg)
	if err != nil {
		return nil, err
	}
	prop.RandomFailures = config.RandomEngineFailures

	failures, err := NewFailureSystem(config.Difficulty, config.ForcedFailure, r, es, lg)
	if err != nil {
		return nil, err
	}

	s := &Sim{
		Airframe:       af,
		Propulsion:     prop,
		Failures:       failures,
		Body:           NewRigidBody(af, config.InitialAltitudeFeet, config.InitialTASKnots, config.InitialHeadingDeg),
		Systems:        NewSystemsState(af.FuelKG),
		SimRate:        1,
		origin:         config.Origin,
		warnings:       NewWarningSystem(),
		lastUpdateTime: time.Now(),
		eventStream:    es,
		r:              r,
		lg:             lg,
	}
	s.Controls.GearDown = config.InitialAltitudeFeet <= 0

	// Engines start at the commanded setting, not cold and dark.
	prop.SetMasterThrottle(0.6)

	lg.Info("sim created", "airframe", af.Name, "difficulty", config.Difficulty.String(),
		"forced_failure", config.ForcedFailure.String(), "altitude", config.InitialAltitudeFeet)
	return s, nil
}

///////////////////////////////////////////////////////////////////////////
// Control input

func (s *Sim) SetMasterThrottle(t float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Propulsion.SetMasterThrottle(t)
}

func (s *Sim) SetDifferentialThrottle(d float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Propulsion.SetDifferentialThrottle(d)
}

func (s *Sim) SetControlSurface(surface ControlSurface, v float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Controls.SetSurface(surface, v)
}

func (s *Sim) SetFlaps(v float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Controls.Flaps = math.Clamp(v, 0, 1)
}

func (s *Sim) SetAirbrake(v float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Controls.Airbrake = math.Clamp(v, 0, 1)
}

func (s *Sim) SetGear(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Controls.GearDown = down
}

func (s *Sim) EngageAutopilot(headingDeg float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Autopilot = Autopilot{Engaged: true, HeadingTarget: math.Mod(headingDeg+360, 360)}
}

func (s *Sim) DisengageAutopilot() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Autopilot.Engaged = false
}

func (s *Sim) EmergencyShutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Propulsion.EmergencyShutdown(s.SimTime)
}

func (s *Sim) SetSimRate(rate float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SimRate = math.Clamp(rate, minSimRate, maxSimRate)
}

func (s *Sim) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if paused == s.Paused {
		return
	}
	s.Paused = paused
	if paused {
		s.eventStream.Post(Event{Type: SimPausedEvent, EngineIndex: -1, SimTime: s.SimTime})
	} else {
		// Don't let the time spent paused turn into a giant catch-up step.
		s.lastUpdateTime = time.Now()
		s.eventStream.Post(Event{Type: SimResumedEvent, EngineIndex: -1, SimTime: s.SimTime})
	}
}

///////////////////////////////////////////////////////////////////////////
// Simulation

// Update advances the simulation by however much wall-clock time has
// passed since the last call, scaled by the sim rate. The boundary
// consumer drives this at its own cadence.
func (s *Sim) Update() {
	s.mu.Lock()
	defer s.mu.Unlock()

	startUpdate := time.Now()
	defer func() {
		if d := time.Since(startUpdate); d > 200*time.Millisecond {
			s.lg.Warn("unexpectedly long Sim Update() call", slog.Duration("duration", d))
		}
	}()

	if s.Paused || s.Crashed {
		s.lastUpdateTime = time.Now()
		return
	}

	elapsed := time.Since(s.lastUpdateTime)
	elapsed = time.Duration(s.SimRate * float32(elapsed))
	s.Step(elapsed)
	s.lastUpdateTime = time.Now()
}

// Step advances the simulation by the given elapsed duration, consuming
// it in tick-sized quanta and carrying the remainder into the next call.
func (s *Sim) Step(elapsed time.Duration) bool {
	elapsed += s.updateTimeSlop

	n := int(elapsed / tickInterval)
	if n > 50 {
		// A frame hitch on the caller's side; don't try to catch up on
		// more than a second of simulation.
		s.lg.Warn("unexpected hitch in update rate", slog.Duration("elapsed", elapsed),
			slog.Int("steps", n), slog.Duration("slop", s.updateTimeSlop))
		n = 50
		elapsed = time.Duration(n) * tickInterval
	}

	for i := 0; i < n; i++ {
		s.SimTime += tickInterval
		s.tick(float32(tickInterval.Seconds()))
		if s.Crashed {
			break
		}
	}

	s.updateTimeSlop = elapsed - time.Duration(n)*tickInterval
	return n > 0
}

// tick runs one fixed-order simulation step: controls, failure
// scheduling, propulsion, failure impact, integration, warning
// evaluation.
func (s *Sim) tick(dt float32) {
	now := s.SimTime

	s.Controls.Clamp()
	s.runAutopilot()

	// Normal gear actuation; an extension failure overrides this during
	// impact application below.
	s.Systems.GearExtended = s.Controls.GearDown

	ctx := FailureContext{
		ThrottleSetting:     math.Abs(s.Propulsion.MasterThrottle),
		AmbientTemperatureC: aviation.ISATemperatureAtAltitude(s.Body.AltitudeMSLFeet()) - 273.15,
		AltitudeFeet:        s.Body.AltitudeMSLFeet(),
		EngineCount:         len(s.Propulsion.Engines),
	}
	s.Failures.Update(now, ctx)

	alt := s.Body.AltitudeMSLFeet()
	s.Propulsion.SetEnvironment(Environment{
		AltitudeFeet: alt,
		AirDensity:   aviation.AirDensityAtAltitude(alt),
		TemperatureC: ctx.AmbientTemperatureC,
		Humidity:     0.5,
		TASKnots:     s.Body.TASKnots(),
	})
	forces := s.Propulsion.Update(dt, now)

	s.Failures.ApplyImpact(dt, now, s.Propulsion, &s.Controls, &s.Systems, &s.Autopilot)

	s.burnFuel(dt, now)
	s.updateCabinAltitude(dt, alt)

	preContactSink := s.Body.SinkRateFPM()
	wasAirborne := !s.Body.OnGround
	s.Body.Step(dt, forces, &s.Controls)
	s.Body.MassKG = s.Airframe.MassKG + s.Systems.FuelKG

	if wasAirborne && s.Body.OnGround {
		s.assessTouchdown(preContactSink, now)
	}

	s.ActiveWarnings = s.warnings.Evaluate(WarningInput{
		AGLFeet:       s.Body.AGLFeet(),
		MSLFeet:       s.Body.AltitudeMSLFeet(),
		IASKnots:      s.Body.IASKnots(),
		VerticalSpeed: s.Body.VerticalSpeedFPM(),
		RollDeg:       s.Body.RollDeg(),
		PitchDeg:      s.Body.PitchDeg(),
		AlphaDeg:      s.Body.AlphaDeg(),
		OnGround:      s.Body.OnGround,
		StallAlphaDeg: s.Airframe.Aero.StallAlphaDeg,
		Envelope:      s.Airframe.Envelope,
		Controls:      &s.Controls,
		Systems:       &s.Systems,
		Propulsion:    s.Propulsion,
	})
}

// runAutopilot is a plain heading-hold: roll command proportional to
// heading error. It writes the aileron before failure impact so a
// control jam still wins.
func (s *Sim) runAutopilot() {
	if !s.Autopilot.Engaged {
		return
	}

	err := s.Autopilot.HeadingTarget - s.Body.HeadingDeg()
	if err > 180 {
		err -= 360
	} else if err < -180 {
		err += 360
	}

	// Roll toward the target but respect the bank envelope.
	cmd := math.Clamp(err*autopilotRollGain, -0.5, 0.5)
	bank := s.Body.RollDeg()
	if math.Abs(bank) > s.Airframe.Envelope.MaxBankDeg*0.8 {
		cmd = -math.Sign(bank) * 0.2
	}
	s.Controls.Surfaces[SurfaceAileron] = cmd
}

func (s *Sim) burnFuel(dt float32, now time.Duration) {
	s.Systems.FuelKG = max(0, s.Systems.FuelKG-s.Propulsion.Metrics.FuelConsumption*dt)

	if s.Systems.FuelKG == 0 && !s.fuelExhausted {
		s.fuelExhausted = true
		for i, e := range s.Propulsion.Engines {
			if e.Running {
				if err := s.Propulsion.TriggerEngineFailure(i, EngineFlameout, SeverityCritical, false, now); err != nil {
					s.lg.Errorf("fuel exhaustion: %v", err)
				}
			}
		}
		s.eventStream.Post(Event{Type: StatusMessageEvent, EngineIndex: -1,
			Message: "FUEL EXHAUSTED", SimTime: now})
	}
}

func (s *Sim) updateCabinAltitude(dt float32, altFeet float32) {
	target := min(altFeet, 8000)
	if s.Systems.PressurizationBreach {
		target = altFeet
	}

	rate := cabinAltitudeRateFPM / 60 * dt
	diff := target - s.Systems.CabinAltitude
	s.Systems.CabinAltitude += math.Clamp(diff, -rate, rate)
}

// assessTouchdown decides whether the first ground contact was a landing
// or a crash, from the pre-contact state.
func (s *Sim) assessTouchdown(sinkFPM float32, now time.Duration) {
	reason := ""
	switch {
	case sinkFPM > survivableSinkFPM:
		reason = fmt.Sprintf("hard impact, %.0f fpm", sinkFPM)
	case !s.Systems.GearExtended:
		reason = "gear-up landing"
	case s.Body.IASKnots() > survivableIASKnots:
		reason = fmt.Sprintf("touchdown overspeed, %.0f kt", s.Body.IASKnots())
	case math.Abs(s.Body.RollDeg()) > survivableBankDeg:
		reason = fmt.Sprintf("wing strike, %.0f deg bank", s.Body.RollDeg())
	}

	if reason == "" {
		s.eventStream.Post(Event{Type: StatusMessageEvent, EngineIndex: -1,
			Message: "TOUCHDOWN", SimTime: now})
		return
	}

	s.Crashed = true
	s.CrashReason = reason
	s.lg.Info("crash", "reason", reason, "sim_time", now)
	s.eventStream.Post(Event{Type: CrashEvent, EngineIndex: -1, Message: reason, SimTime: now})
}

// Reset returns the aircraft to its initial flight condition, clears all
// failures, and re-arms the configured forced failure. Sim time keeps
// accumulating; failure timers are rescheduled relative to now.
func (s *Sim) Reset(altitudeFeet, tasKnots, headingDeg float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Body = NewRigidBody(s.Airframe, altitudeFeet, tasKnots, headingDeg)
	s.Systems = NewSystemsState(s.Airframe.FuelKG)
	s.Controls = ControlInputs{GearDown: altitudeFeet <= 0}
	s.Autopilot = Autopilot{}
	s.Crashed = false
	s.CrashReason = ""
	s.fuelExhausted = false
	s.ActiveWarnings = nil
	s.Failures.Reset(s.SimTime)

	for i := range s.Propulsion.Engines {
		s.Propulsion.Engines[i] = NewEngine(i, s.Airframe.Engines[i], s.r)
	}
	s.Propulsion.SetMasterThrottle(0.6)
}

///////////////////////////////////////////////////////////////////////////
// Snapshot

// EngineSnapshot is the per-engine slice of the published flight data.
type EngineSnapshot struct {
	N1          float32
	N2          float32
	EGT         float32
	Thrust      float32
	FuelFlow    float32
	OilPressure float32
	Vibration   float32
	Running     bool
	Failure     string
}

// Snapshot is the per-tick flight-data record handed to presentation
// collaborators; everything in it is a copy, safe to hold across ticks.
type Snapshot struct {
	SimTime time.Duration

	Position        [3]float32 // m NED
	Position2LL     math.Point2LL
	DistanceFlownNM float32
	AltitudeMSLFeet float32
	AGLFeet         float32
	IASKnots        float32
	TASKnots        float32
	VerticalSpeed   float32 // ft/min
	RollDeg         float32
	PitchDeg        float32
	HeadingDeg      float32
	AlphaDeg        float32
	OnGround        bool

	MasterThrottle float32
	Controls       ControlInputs
	Systems        SystemsState
	Autopilot      Autopilot

	Engines []EngineSnapshot
	Metrics PerformanceMetrics

	ActiveFailures []ActiveFailure
	Warnings       []Warning

	Crashed     bool
	CrashReason string
}

func (s *Sim) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos2ll := s.position2LL()
	snap := Snapshot{
		SimTime:         s.SimTime,
		Position:        s.Body.Position,
		Position2LL:     pos2ll,
		DistanceFlownNM: math.NMDistance2LL(s.origin, pos2ll),
		AltitudeMSLFeet: s.Body.AltitudeMSLFeet(),
		AGLFeet:         s.Body.AGLFeet(),
		IASKnots:        s.Body.IASKnots(),
		TASKnots:        s.Body.TASKnots(),
		VerticalSpeed:   s.Body.VerticalSpeedFPM(),
		RollDeg:         s.Body.RollDeg(),
		PitchDeg:        s.Body.PitchDeg(),
		HeadingDeg:      s.Body.HeadingDeg(),
		AlphaDeg:        s.Body.AlphaDeg(),
		OnGround:        s.Body.OnGround,
		MasterThrottle:  s.Propulsion.MasterThrottle,
		Controls:        s.Controls,
		Systems:         s.Systems,
		Autopilot:       s.Autopilot,
		Metrics:         s.Propulsion.Metrics,
		ActiveFailures:  deep.MustCopy(s.Failures.ActiveFailures()),
		Warnings:        deep.MustCopy(s.ActiveWarnings),
		Crashed:         s.Crashed,
		CrashReason:     s.CrashReason,
	}

	snap.Engines = util.MapSlice(s.Propulsion.Engines, func(e *Engine) EngineSnapshot {
		es := EngineSnapshot{
			N1:          e.N1,
			N2:          e.N2,
			EGT:         e.EGT,
			Thrust:      e.Thrust,
			FuelFlow:    e.FuelFlow,
			OilPressure: e.OilPressure,
			Vibration:   e.Vibration,
			Running:     e.Running,
		}
		if e.Failure.Failed {
			es.Failure = e.Failure.Type.String()
		}
		return es
	})
	return snap
}

// position2LL converts the rigid body's local NED position to a
// latitude-longitude relative to the session origin. Flat-earth offsets
// are fine at training-session ranges. Caller must hold s.mu.
func (s *Sim) position2LL() math.Point2LL {
	northNM := s.Body.Position[0] / aviation.NMToMeters
	eastNM := s.Body.Position[1] / aviation.NMToMeters

	var p math.Point2LL
	p[1] = s.origin[1] + northNM/60
	p[0] = s.origin[0] + eastNM/(60*math.Cos(math.Radians(p[1])))
	return p
}

func (s *Sim) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Duration("sim_time", s.SimTime),
		slog.Any("body", s.Body),
		slog.Any("propulsion", s.Propulsion),
		slog.Any("systems", s.Systems),
		slog.Int("active_failures", s.Failures.ActiveCount()),
		slog.Int("warnings", len(s.ActiveWarnings)))
}
