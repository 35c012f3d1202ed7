// sim/propulsion_test.go
// Copyright(c) 2026 crashsim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"errors"
	"testing"

	"github.com/avtrain/crashsim/aviation"
	"github.com/avtrain/crashsim/math"
	"github.com/avtrain/crashsim/rand"
)

func testTwinAirframe() *aviation.Airframe {
	mount := func(y float32) aviation.EngineMount {
		m := testMount()
		m.Position[1] = y
		return m
	}
	return &aviation.Airframe{
		Name:    "TESTTWIN",
		Layout:  aviation.LayoutTwin,
		Engines: []aviation.EngineMount{mount(-5), mount(5)},
		MassKG:  70000,
		Inertia: [3]float32{1.3e6, 3.1e6, 4.0e6},
		FuelKG:  20000,
	}
}

func testPropulsion(t *testing.T, seed int64) *Propulsion {
	t.Helper()
	r := rand.Make()
	r.Seed(seed)
	p, err := NewPropulsion(testTwinAirframe(), r, nil)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNewPropulsionValidatesLayout(t *testing.T) {
	af := testTwinAirframe()
	af.Layout = aviation.LayoutQuad
	r := rand.Make()
	r.Seed(1)
	if _, err := NewPropulsion(af, r, nil); !errors.Is(err, aviation.ErrLayoutEngineMismatch) {
		t.Errorf("expected layout mismatch error, got %v", err)
	}
}

func TestDifferentialThrottleExtremes(t *testing.T) {
	p := testPropulsion(t, 2)
	p.SetMasterThrottle(0.5)
	p.SetDifferentialThrottle(1.0)

	if got := p.Engines[0].ThrottleCommand; got != 0 {
		t.Errorf("left engine throttle %v, want 0 (clamped, not negative)", got)
	}
	if got := p.Engines[1].ThrottleCommand; got != 1.0 {
		t.Errorf("right engine throttle %v, want 1.0", got)
	}
}

func TestDifferentialRederivesFromMaster(t *testing.T) {
	p := testPropulsion(t, 3)
	p.SetMasterThrottle(0.6)
	p.SetDifferentialThrottle(0.4)
	left1 := p.Engines[0].ThrottleCommand

	// Applying the same differential again must not accumulate.
	p.SetDifferentialThrottle(0.4)
	if p.Engines[0].ThrottleCommand != left1 {
		t.Errorf("differential application is not idempotent: %v then %v",
			left1, p.Engines[0].ThrottleCommand)
	}

	p.SetDifferentialThrottle(0)
	if p.Engines[0].ThrottleCommand != 0.6 || p.Engines[1].ThrottleCommand != 0.6 {
		t.Errorf("zero differential: got %v/%v, want master 0.6",
			p.Engines[0].ThrottleCommand, p.Engines[1].ThrottleCommand)
	}
}

func TestFailedEngineExcludedFromRedistribution(t *testing.T) {
	p := testPropulsion(t, 4)
	p.SetMasterThrottle(0.5)
	if err := p.TriggerEngineFailure(0, EngineSeizure, SeverityCritical, false, 0); err != nil {
		t.Fatal(err)
	}

	p.SetMasterThrottle(1.0)
	if got := p.Engines[0].ThrottleCommand; got != 0.5 {
		t.Errorf("failed engine throttle moved to %v", got)
	}
	if got := p.Engines[1].ThrottleCommand; got != 1.0 {
		t.Errorf("running engine throttle %v, want 1.0", got)
	}
}

func TestEngineIndexValidation(t *testing.T) {
	p := testPropulsion(t, 5)
	if err := p.TriggerEngineFailure(2, EngineFire, SeverityMajor, false, 0); !errors.Is(err, ErrEngineIndexOutOfRange) {
		t.Errorf("expected index error, got %v", err)
	}
	if err := p.TriggerEngineFailure(-1, EngineFire, SeverityMajor, false, 0); !errors.Is(err, ErrEngineIndexOutOfRange) {
		t.Errorf("expected index error for -1, got %v", err)
	}
	if err := p.RecoverEngine(99); !errors.Is(err, ErrEngineIndexOutOfRange) {
		t.Errorf("expected index error, got %v", err)
	}
}

func TestEmergencyShutdown(t *testing.T) {
	p := testPropulsion(t, 6)
	p.SetMasterThrottle(0.9)
	for _i := 0; _i < 800; _i++ {
		p.Update(0.02, 0)
	}
	if p.Metrics.TotalThrust <= 0 {
		t.Fatalf("expected positive thrust before shutdown")
	}

	p.EmergencyShutdown(0)
	for _, e := range p.Engines {
		if e.Running {
			t.Errorf("engine %d still running after emergency shutdown", e.Index)
		}
		if e.Failure.Recoverable {
			t.Errorf("emergency shutdown should not be recoverable")
		}
	}

	for _i := 0; _i < 800; _i++ {
		p.Update(0.02, 0)
	}
	if math.Abs(p.Metrics.TotalThrust) > 1 {
		t.Errorf("total thrust %v did not converge to ~0", p.Metrics.TotalThrust)
	}
	if p.Metrics.EnginesRunning != 0 {
		t.Errorf("%d engines still counted running", p.Metrics.EnginesRunning)
	}
}

func TestAsymmetryMetric(t *testing.T) {
	p := testPropulsion(t, 7)
	p.SetMasterThrottle(0.8)
	for _i := 0; _i < 800; _i++ {
		p.Update(0.02, 0)
	}
	if p.Metrics.ThrustAsymmetry > 0.01 {
		t.Errorf("symmetric thrust reported asymmetry %v", p.Metrics.ThrustAsymmetry)
	}

	if err := p.TriggerEngineFailure(0, EngineSeizure, SeverityCritical, false, 0); err != nil {
		t.Fatal(err)
	}
	for _i := 0; _i < 800; _i++ {
		p.Update(0.02, 0)
	}
	if p.Metrics.ThrustAsymmetry < 0.9 {
		t.Errorf("single-engine asymmetry %v, want ~1", p.Metrics.ThrustAsymmetry)
	}
}

func TestAsymmetricThrustYawTorque(t *testing.T) {
	p := testPropulsion(t, 8)
	p.SetMasterThrottle(0.8)
	if err := p.TriggerEngineFailure(0, EngineSeizure, SeverityCritical, false, 0); err != nil {
		t.Fatal(err)
	}

	var f Forces
	for _i := 0; _i < 800; _i++ {
		f = p.Update(0.02, 0)
	}

	// Only the right engine (positive y) is producing thrust, so the net
	// yaw torque must be negative (nose left).
	if f.Torque[2] >= 0 {
		t.Errorf("yaw torque %v, want negative with only the right engine running", f.Torque[2])
	}
	if f.Force[0] <= 0 {
		t.Errorf("net forward force %v, want positive", f.Force[0])
	}
}

func TestRandomFailureScheduler(t *testing.T) {
	p := testPropulsion(t, 9)
	p.SetMasterThrottle(0.7)
	p.RandomFailures = true

	// At one simulated second per update and a 120s mean interval, an
	// hour of sim time without any failure would be vanishingly unlikely.
	for _i := 0; _i < 3600; _i++ {
		p.Update(1.0, 0)
		if p.Engines[0].Failure.Failed || p.Engines[1].Failure.Failed {
			return
		}
	}
	t.Errorf("random-failure scheduler never fired")
}
