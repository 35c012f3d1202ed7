// sim/engine_test.go
// Copyright(c) 2026 crashsim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"testing"

	"github.com/avtrain/crashsim/aviation"
	"github.com/avtrain/crashsim/math"
	"github.com/avtrain/crashsim/rand"
)

func testMount() aviation.EngineMount {
	return aviation.EngineMount{
		Position:     [3]float32{0, -5, 1},
		MaxThrust:    100000,
		IdleN1:       22,
		MaxEGT:       950,
		IdleFuelFlow: 0.12,
		SFC:          1.6e-5,
	}
}

func testEngine(seed int64) *Engine {
	r := rand.Make()
	r.Seed(seed)
	return NewEngine(0, testMount(), r)
}

// converge runs enough parameter updates for the first-order lags to
// settle; dt=0 keeps stochastic failure escalation out of the picture.
func converge(e *Engine) {
	for _i := 0; _i < 800; _i++ {
		e.CalculateParameters(0)
	}
}

func TestSetThrottleClamps(t *testing.T) {
	e := testEngine(1)
	for _, c := range []struct{ in, command, magnitude float32 }{
		{0.5, 0.5, 0.5},
		{1.5, 1.0, 1.0},
		{-1.0, -0.7, 0.7},
		{-0.2, -0.2, 0.2},
	} {
		e.SetThrottle(c.in)
		if e.ThrottleCommand != c.command || e.ThrottleMagnitude != c.magnitude {
			t.Errorf("throttle %v: got command %v magnitude %v, want %v %v",
				c.in, e.ThrottleCommand, e.ThrottleMagnitude, c.command, c.magnitude)
		}
	}
}

func TestSeaLevelConvergence(t *testing.T) {
	e := testEngine(2)
	e.SetThrottle(0.8)
	converge(e)

	// N1 should settle at idle + 0.8^0.7 * (max - idle).
	want := 22 + math.Pow(0.8, 0.7)*78
	if math.Abs(e.N1-want) > 0.5 {
		t.Errorf("converged N1 %v, want ~%v", e.N1, want)
	}
	if e.Thrust <= 0 {
		t.Errorf("thrust %v should be positive at forward throttle", e.Thrust)
	}
	if e.FuelFlow <= e.Mount.IdleFuelFlow {
		t.Errorf("fuel flow %v should exceed idle floor %v", e.FuelFlow, e.Mount.IdleFuelFlow)
	}
	if !e.Running {
		t.Errorf("engine should be running")
	}
}

func TestThrustMonotonicInThrottle(t *testing.T) {
	var last float32
	for _, throttle := range []float32{0.1, 0.3, 0.5, 0.7, 0.9, 1.0} {
		e := testEngine(3)
		e.SetThrottle(throttle)
		converge(e)
		if e.Thrust < last {
			t.Errorf("thrust %v at throttle %v below %v at lower throttle", e.Thrust, throttle, last)
		}
		last = e.Thrust
	}
}

func TestReverseThrustSign(t *testing.T) {
	e := testEngine(4)
	e.SetThrottle(-0.7)
	converge(e)
	if e.Thrust >= 0 {
		t.Errorf("thrust %v should be negative in reverse", e.Thrust)
	}
	// Reverse alone must not mark the engine not-running.
	if !e.Running {
		t.Errorf("engine should still be running in reverse")
	}
}

func TestFlameout(t *testing.T) {
	e := testEngine(5)
	e.SetThrottle(0.8)
	converge(e)

	e.TriggerFailure(EngineFlameout, SeverityCritical, false, 0)
	if e.Running {
		t.Errorf("flamed-out engine reported running")
	}
	converge(e)

	if e.N1 >= e.Mount.IdleN1*0.2 {
		t.Errorf("flameout N1 %v, want < %v", e.N1, e.Mount.IdleN1*0.2)
	}
	if e.N2 < 15*0.9 || e.N2 > 20*1.1 {
		t.Errorf("windmill N2 %v outside expected range", e.N2)
	}
	if e.EGT < flameoutEGTFloor {
		t.Errorf("flameout EGT %v below floor", e.EGT)
	}

	// Non-recoverable: Recover must fail and leave the engine down.
	if err := e.Recover(); err == nil {
		t.Errorf("expected recovery to be refused")
	}
	if e.Running {
		t.Errorf("engine running after refused recovery")
	}
}

func TestRecoverableFlameout(t *testing.T) {
	e := testEngine(6)
	e.SetThrottle(0.6)
	converge(e)

	e.TriggerFailure(EngineFlameout, SeverityMajor, true, 0)
	if err := e.Recover(); err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	if !e.Running {
		t.Errorf("engine not running after recovery")
	}
	converge(e)
	want := 22 + math.Pow(0.6, 0.7)*78
	if math.Abs(e.N1-want) > 0.5 {
		t.Errorf("post-recovery N1 %v, want ~%v", e.N1, want)
	}
}

func TestSeparation(t *testing.T) {
	e := testEngine(7)
	e.SetThrottle(1.0)
	converge(e)
	e.TriggerFailure(EngineSeparation, SeverityCritical, false, 0)
	converge(e)

	if e.N1 > 0.5 || e.N2 > 0.5 {
		t.Errorf("separated engine still spooled: N1 %v N2 %v", e.N1, e.N2)
	}
	if math.Abs(e.Thrust) > 1 {
		t.Errorf("separated engine thrust %v", e.Thrust)
	}
	if math.Abs(e.EGT-e.Env.TemperatureC) > 5 {
		t.Errorf("separated engine EGT %v, ambient %v", e.EGT, e.Env.TemperatureC)
	}
	if e.Running {
		t.Errorf("separated engine reported running")
	}
}

func TestStuckFreezesIndications(t *testing.T) {
	e := testEngine(8)
	e.SetThrottle(0.5)
	converge(e)
	n1, egt, thrust := e.N1, e.EGT, e.Thrust

	e.TriggerFailure(EngineStuck, SeverityMajor, false, 0)
	e.SetThrottle(1.0)
	for _i := 0; _i < 100; _i++ {
		e.CalculateParameters(0.05)
	}
	if e.N1 != n1 || e.EGT != egt || e.Thrust != thrust {
		t.Errorf("stuck engine indications moved: N1 %v->%v EGT %v->%v thrust %v->%v",
			n1, e.N1, egt, e.EGT, thrust, e.Thrust)
	}
}

func TestFuelLeakFlowReduction(t *testing.T) {
	normal := testEngine(9)
	normal.SetThrottle(0.8)
	converge(normal)

	leaky := testEngine(9)
	leaky.SetThrottle(0.8)
	leaky.TriggerFailure(EngineFuelLeak, SeverityMajor, false, 0)
	converge(leaky)

	ratio := leaky.FuelFlow / normal.FuelFlow
	if math.Abs(ratio-0.7) > 0.05 {
		t.Errorf("fuel leak flow ratio %v, want ~0.7", ratio)
	}
}

func TestFuelLeakEscalates(t *testing.T) {
	e := testEngine(10)
	e.SetThrottle(0.8)
	e.TriggerFailure(EngineFuelLeak, SeverityMajor, false, 0)

	// With a 10% chance per update, 200 updates without escalation would
	// be a one-in-a-billion fluke.
	for _i := 0; _i < 200; _i++ {
		e.CalculateParameters(0.05)
		if e.Failure.Type == EngineFlameout {
			return
		}
	}
	t.Errorf("fuel leak never escalated to flameout")
}

func TestFireCurves(t *testing.T) {
	e := testEngine(11)
	e.SetThrottle(1.0)
	converge(e)
	thrustBefore := e.Thrust

	e.TriggerFailure(EngineFire, SeverityCritical, false, 0)
	converge(e)

	if e.EGT <= 950 {
		t.Errorf("fire EGT %v should exceed normal maximum", e.EGT)
	}
	if e.EGT > fireEGTCeiling {
		t.Errorf("fire EGT %v above ceiling", e.EGT)
	}
	if e.Thrust > thrustBefore*0.5 {
		t.Errorf("fire thrust %v, want well below %v", e.Thrust, thrustBefore)
	}
	if e.Vibration <= 1.0 {
		t.Errorf("fire vibration %v should be elevated", e.Vibration)
	}
}

func TestAdversarialFailureSequenceStaysFinite(t *testing.T) {
	e := testEngine(12)
	e.SetThrottle(1.0)
	for i, ft := range []EngineFailureType{EngineFire, EngineDamage, EngineFuelLeak,
		EngineFlameout, EngineSeizure, EngineStuck} {
		e.TriggerFailure(ft, FailureSeverity(i%3), false, 0)
		for _i := 0; _i < 50; _i++ {
			e.CalculateParameters(0.05)
		}
		for name, v := range map[string]float32{
			"n1": e.N1, "n2": e.N2, "egt": e.EGT, "thrust": e.Thrust,
			"fuelFlow": e.FuelFlow, "oil": e.OilPressure, "vibration": e.Vibration,
		} {
			if !math.IsFinite(v) {
				t.Fatalf("%s became non-finite after %s", name, ft)
			}
		}
	}
}

func TestEnvironmentalCorrection(t *testing.T) {
	std := testEngine(13)
	std.SetThrottle(0.8)
	std.UpdateEnvironment(0, aviation.SeaLevelDensity, 15, 0.5, 0)
	converge(std)

	hot := testEngine(13)
	hot.SetThrottle(0.8)
	hot.UpdateEnvironment(0, aviation.SeaLevelDensity, 35, 0.5, 0)
	converge(hot)

	if hot.EGT <= std.EGT {
		t.Errorf("hot-day EGT %v should exceed ISA EGT %v", hot.EGT, std.EGT)
	}
	if hot.Thrust >= std.Thrust {
		t.Errorf("hot-day thrust %v should be below ISA thrust %v", hot.Thrust, std.Thrust)
	}
}

func TestAltitudeReducesSpool(t *testing.T) {
	sl := testEngine(14)
	sl.SetThrottle(0.9)
	converge(sl)

	high := testEngine(14)
	high.SetThrottle(0.9)
	high.UpdateEnvironment(35000, aviation.AirDensityAtAltitude(35000),
		aviation.ISATemperatureAtAltitude(35000)-273.15, 0.2, 450)
	converge(high)

	if high.N1 >= sl.N1 {
		t.Errorf("N1 at altitude %v should be below sea level %v", high.N1, sl.N1)
	}
	if high.Thrust >= sl.Thrust {
		t.Errorf("thrust at altitude %v should be below sea level %v", high.Thrust, sl.Thrust)
	}
}
