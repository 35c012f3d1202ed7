// sim/rigidbody_test.go
// Copyright(c) 2026 crashsim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"testing"

	"github.com/avtrain/crashsim/aviation"
	"github.com/avtrain/crashsim/math"
)

func testAeroAirframe() *aviation.Airframe {
	af := testTwinAirframe()
	af.Aero = aviation.Aero{
		WingArea:      124,
		CLAlpha:       5.5,
		CLMax:         1.6,
		CD0:           0.022,
		InducedDragK:  0.045,
		StallAlphaDeg: 15,
		ControlPower:  [3]float32{2.8e6, 6.5e6, 3.2e6},
	}
	af.Envelope = aviation.Envelope{VMO: 340, MMO: 0.82, MaxBankDeg: 35}
	return af
}

func TestTimestepClamp(t *testing.T) {
	rb := NewRigidBody(testAeroAirframe(), 10000, 250, 0)
	if got := rb.Step(1.0, Forces{}, &ControlInputs{}); got != maxTimestep {
		t.Errorf("integrated dt %v, want clamped to %v", got, float32(maxTimestep))
	}
	if got := rb.Step(0.02, Forces{}, &ControlInputs{}); got != 0.02 {
		t.Errorf("integrated dt %v, want 0.02", got)
	}
	if got := rb.Step(-1, Forces{}, &ControlInputs{}); got != 0 {
		t.Errorf("negative dt integrated %v, want 0", got)
	}
}

func TestFreeFall(t *testing.T) {
	rb := NewRigidBody(testAeroAirframe(), 10000, 0, 0)
	alt0 := rb.AltitudeMSLFeet()

	for _i := 0; _i < 50; _i++ { // one second
		rb.Step(0.02, Forces{}, &ControlInputs{})
	}

	// With no airspeed there is no aero force; expect roughly g
	// accumulated into the down axis.
	if math.Abs(rb.Velocity[2]-gravityMPS2) > 0.5 {
		t.Errorf("down velocity %v after 1s of free fall, want ~%v", rb.Velocity[2], float32(gravityMPS2))
	}
	if rb.AltitudeMSLFeet() >= alt0 {
		t.Errorf("altitude did not decrease in free fall")
	}
	if rb.VerticalSpeedFPM() >= 0 {
		t.Errorf("vertical speed %v, want negative", rb.VerticalSpeedFPM())
	}
}

func TestThrustAccelerates(t *testing.T) {
	rb := NewRigidBody(testAeroAirframe(), 10000, 250, 0)
	u0 := rb.Velocity[0]

	for _i := 0; _i < 100; _i++ {
		rb.Step(0.02, Forces{Force: [3]float32{200000, 0, 0}}, &ControlInputs{})
	}
	if rb.Velocity[0] <= u0 {
		t.Errorf("forward speed %v did not increase from %v under thrust", rb.Velocity[0], u0)
	}
}

func TestElevatorCommandsPitchRate(t *testing.T) {
	rb := NewRigidBody(testAeroAirframe(), 10000, 250, 0)
	controls := &ControlInputs{}
	controls.Surfaces[SurfaceElevator] = 0.5

	for _i := 0; _i < 25; _i++ {
		rb.Step(0.02, Forces{}, controls)
	}
	if rb.Rates[1] <= 0 {
		t.Errorf("pitch rate %v with positive elevator, want positive", rb.Rates[1])
	}

	rb2 := NewRigidBody(testAeroAirframe(), 10000, 250, 0)
	controls.Surfaces[SurfaceElevator] = -0.5
	for _i := 0; _i < 25; _i++ {
		rb2.Step(0.02, Forces{}, controls)
	}
	if rb2.Rates[1] >= 0 {
		t.Errorf("pitch rate %v with negative elevator, want negative", rb2.Rates[1])
	}
}

func TestControlAuthorityFadesWithoutAirspeed(t *testing.T) {
	rb := NewRigidBody(testAeroAirframe(), 10000, 0, 0)
	controls := &ControlInputs{}
	controls.Surfaces[SurfaceAileron] = 1

	for _i := 0; _i < 25; _i++ {
		rb.Step(0.02, Forces{}, controls)
	}
	if math.Abs(rb.Rates[0]) > 0.01 {
		t.Errorf("roll rate %v with zero airspeed, want ~0", rb.Rates[0])
	}
}

func TestGroundContact(t *testing.T) {
	rb := NewRigidBody(testAeroAirframe(), 50, 140, 0)
	rb.Velocity[2] = 3 // gentle descent

	for _i := 0; _i < 500; _i++ {
		rb.Step(0.02, Forces{}, &ControlInputs{GearDown: true, Flaps: 1})
		if rb.OnGround {
			break
		}
	}
	if !rb.OnGround {
		t.Fatalf("never touched down")
	}
	if rb.AltitudeMSLFeet() != 0 {
		t.Errorf("altitude %v on ground, want 0", rb.AltitudeMSLFeet())
	}

	// Rolling friction brings the rollout to a stop eventually.
	for _i := 0; _i < 5000; _i++ {
		rb.Step(0.02, Forces{}, &ControlInputs{GearDown: true})
	}
	if rb.TASKnots() > 5 {
		t.Errorf("still rolling at %v kt after prolonged rollout", rb.TASKnots())
	}
}

func TestPinnedControlsStayFinite(t *testing.T) {
	rb := NewRigidBody(testAeroAirframe(), 20000, 300, 90)
	controls := &ControlInputs{}
	controls.Surfaces[SurfaceAileron] = 1
	controls.Surfaces[SurfaceElevator] = -0.3
	controls.Surfaces[SurfaceRudder] = 0.4

	// Two simulated minutes with every surface pinned hard over.
	for _i := 0; _i < 6000; _i++ {
		rb.Step(0.02, Forces{Force: [3]float32{150000, 0, 0}}, controls)
	}

	for name, v := range map[string]float32{
		"alt": rb.AltitudeMSLFeet(), "tas": rb.TASKnots(), "ias": rb.IASKnots(),
		"vs": rb.VerticalSpeedFPM(), "roll": rb.RollDeg(), "pitch": rb.PitchDeg(),
		"hdg": rb.HeadingDeg(), "alpha": rb.AlphaDeg(),
	} {
		if !math.IsFinite(v) {
			t.Errorf("%s is non-finite after pinned-control run", name)
		}
	}
}

func TestDerivedUnits(t *testing.T) {
	rb := NewRigidBody(testAeroAirframe(), 10000, 250, 90)

	if math.Abs(rb.AltitudeMSLFeet()-10000) > 1 {
		t.Errorf("altitude %v, want 10000", rb.AltitudeMSLFeet())
	}
	if math.Abs(rb.TASKnots()-250) > 1 {
		t.Errorf("TAS %v, want 250", rb.TASKnots())
	}
	if rb.IASKnots() >= rb.TASKnots() {
		t.Errorf("IAS %v should be below TAS %v at altitude", rb.IASKnots(), rb.TASKnots())
	}
	if math.Abs(rb.HeadingDeg()-90) > 1 {
		t.Errorf("heading %v, want 90", rb.HeadingDeg())
	}
}
