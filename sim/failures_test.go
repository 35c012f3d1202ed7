// sim/failures_test.go
// Copyright(c) 2026 crashsim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"testing"
	"time"

	"github.com/avtrain/crashsim/math"
	"github.com/avtrain/crashsim/rand"
)

func testFailureSystem(t *testing.T, seed int64, forced FailureType) (*FailureSystem, *EventsSubscription) {
	t.Helper()
	r := rand.Make()
	r.Seed(seed)
	es := NewEventStream(nil)
	t.Cleanup(es.Destroy)
	sub := es.Subscribe()

	fs, err := NewFailureSystem(DifficultyNormal, forced, r, es, nil)
	if err != nil {
		t.Fatal(err)
	}
	return fs, sub
}

func testContext() FailureContext {
	return FailureContext{
		ThrottleSetting:     0.8,
		AmbientTemperatureC: 15,
		AltitudeFeet:        8000,
		EngineCount:         2,
	}
}

func TestParseFailureType(t *testing.T) {
	for ft := FailureNone; ft < NumFailureTypes; ft++ {
		got, err := ParseFailureType(ft.String())
		if err != nil || got != ft {
			t.Errorf("round trip of %s: got %v, %v", ft, got, err)
		}
	}
	if _, err := ParseFailureType("engine_explosion"); err == nil {
		t.Errorf("expected error for unknown failure type")
	}
}

func TestForcedFailureFiresInWindow(t *testing.T) {
	fs, sub := testFailureSystem(t, 1, FailureHydraulic)
	ctx := testContext()

	step := 100 * time.Millisecond
	var firedAt time.Duration
	for now := time.Duration(0); now < 2*time.Minute; now += step {
		fs.Update(now, ctx)
		if fs.IsActive(FailureHydraulic) {
			firedAt = now
			break
		}
	}

	if firedAt < 30*time.Second || firedAt > 90*time.Second+step {
		t.Errorf("forced failure fired at %v, want within 30-90s", firedAt)
	}

	events := sub.Get()
	var sawTrigger, sawBanner bool
	for _, ev := range events {
		switch ev.Type {
		case FailureTriggeredEvent:
			sawTrigger = ev.Failure == FailureHydraulic
		case StatusMessageEvent:
			sawBanner = true
		}
	}
	if !sawTrigger || !sawBanner {
		t.Errorf("expected trigger and banner events, got %v", events)
	}
}

func TestTriggerIsIdempotent(t *testing.T) {
	fs, _ := testFailureSystem(t, 2, FailureNone)
	ctx := testContext()

	if !fs.TriggerFailure(FailureElectricalBus, ctx, 0) {
		t.Fatalf("first trigger rejected")
	}
	if fs.TriggerFailure(FailureElectricalBus, ctx, time.Second) {
		t.Errorf("re-trigger of active failure accepted")
	}
	if n := fs.ActiveCount(); n != 1 {
		t.Errorf("active count %d, want 1", n)
	}
}

func TestControlJamPinsSurface(t *testing.T) {
	fs, _ := testFailureSystem(t, 3, FailureNone)
	fs.TriggerFailure(FailureControlJam, testContext(), 0)

	jam := fs.failures[FailureControlJam].Payload.(ControlJamPayload)
	systems := NewSystemsState(10000)
	var ap Autopilot

	for _i := 0; _i < 50; _i++ {
		var controls ControlInputs
		// Pilot fights the jam with full opposite deflection every tick.
		controls.Surfaces[jam.Surface] = -math.Sign(jam.JamValue)
		fs.ApplyImpact(0.02, 0, nil, &controls, &systems, &ap)
		if got := controls.Surfaces[jam.Surface]; got != jam.JamValue {
			t.Fatalf("jammed %s at %v, want pinned to %v", jam.Surface, got, jam.JamValue)
		}
	}
	if math.Abs(jam.JamValue) > controlJamMaxOffset {
		t.Errorf("jam offset %v beyond maximum %v", jam.JamValue, float32(controlJamMaxOffset))
	}
}

func TestHydraulicFailureClampsDeflection(t *testing.T) {
	fs, _ := testFailureSystem(t, 4, FailureNone)
	fs.TriggerFailure(FailureHydraulic, testContext(), 0)

	limit := float32(hydraulicClampMajor)
	if fs.failures[FailureHydraulic].Severity == SeverityCritical {
		limit = hydraulicClampCritical
	}

	controls := ControlInputs{Surfaces: [NumControlSurfaces]float32{1, -1, 1}}
	systems := NewSystemsState(10000)
	var ap Autopilot
	fs.ApplyImpact(0.02, 0, nil, &controls, &systems, &ap)

	for s, v := range controls.Surfaces {
		if math.Abs(v) > limit {
			t.Errorf("surface %d deflection %v beyond hydraulic limit %v", s, v, limit)
		}
	}
	if systems.HydraulicPressure >= LowHydraulicPressure {
		t.Errorf("hydraulic pressure %v not degraded", systems.HydraulicPressure)
	}
}

func TestElectricalFailures(t *testing.T) {
	fs, _ := testFailureSystem(t, 5, FailureNone)
	systems := NewSystemsState(10000)
	var controls ControlInputs
	var ap Autopilot

	fs.TriggerFailure(FailurePartialElectrical, testContext(), 0)
	fs.ApplyImpact(0.02, 0, nil, &controls, &systems, &ap)
	if n := systems.GeneratorsOnline(); n != 1 {
		t.Errorf("partial electrical: %d generators online, want 1", n)
	}

	fs.TriggerFailure(FailureElectricalBus, testContext(), 0)
	fs.ApplyImpact(0.02, 0, nil, &controls, &systems, &ap)
	if n := systems.GeneratorsOnline(); n != 0 {
		t.Errorf("bus failure: %d generators online, want 0", n)
	}
}

func TestGearExtensionFailureOverridesCommand(t *testing.T) {
	fs, _ := testFailureSystem(t, 6, FailureNone)
	fs.TriggerFailure(FailureGearExtension, testContext(), 0)

	systems := NewSystemsState(10000)
	controls := ControlInputs{GearDown: true}
	var ap Autopilot

	systems.GearExtended = true
	fs.ApplyImpact(0.02, 0, nil, &controls, &systems, &ap)
	if systems.GearExtended {
		t.Errorf("gear extended despite extension failure")
	}
}

func TestFuelLeakDrainsFuel(t *testing.T) {
	fs, _ := testFailureSystem(t, 7, FailureNone)
	fs.TriggerFailure(FailureFuelLeak, testContext(), 0)

	systems := NewSystemsState(100)
	var controls ControlInputs
	var ap Autopilot

	for _i := 0; _i < 1000; _i++ {
		fs.ApplyImpact(1.0, 0, nil, &controls, &systems, &ap)
	}
	if systems.FuelKG != 0 {
		t.Errorf("fuel %v after prolonged leak, want drained to 0 and floored there", systems.FuelKG)
	}
}

func TestEngineClassImpactDeliversOnce(t *testing.T) {
	fs, sub := testFailureSystem(t, 8, FailureNone)
	p := testPropulsion(t, 8)
	p.SetMasterThrottle(0.8)

	fs.TriggerFailure(FailureEngineFire, testContext(), 0)
	systems := NewSystemsState(10000)
	var controls ControlInputs
	var ap Autopilot

	for _i := 0; _i < 10; _i++ {
		fs.ApplyImpact(0.02, 0, p, &controls, &systems, &ap)
	}

	idx := fs.failures[FailureEngineFire].Payload.(EnginePayload).EngineIndex
	if !p.Engines[idx].Failure.Failed || p.Engines[idx].Failure.Type != EngineFire {
		t.Errorf("targeted engine %d not on fire", idx)
	}

	fires := 0
	for _, ev := range sub.Get() {
		if ev.Type == EngineFailureEvent {
			fires++
		}
	}
	if fires != 1 {
		t.Errorf("engine failure event posted %d times, want exactly once", fires)
	}
}

func TestFuelContaminationHitsAllEngines(t *testing.T) {
	fs, _ := testFailureSystem(t, 9, FailureNone)
	p := testPropulsion(t, 9)
	p.SetMasterThrottle(0.6)

	fs.TriggerFailure(FailureFuelContamination, testContext(), 0)
	if idx := fs.failures[FailureFuelContamination].Payload.(EnginePayload).EngineIndex; idx != -1 {
		t.Errorf("contamination payload engine %d, want -1 for fleet-wide", idx)
	}

	systems := NewSystemsState(10000)
	var controls ControlInputs
	var ap Autopilot
	fs.ApplyImpact(0.02, 0, p, &controls, &systems, &ap)

	for _, e := range p.Engines {
		if e.Failure.Type != EngineFuelLeak {
			t.Errorf("engine %d failure %v, want fuel leak", e.Index, e.Failure.Type)
		}
	}
}

func TestContextualGates(t *testing.T) {
	fs, _ := testFailureSystem(t, 10, FailureNone)

	warm := testContext()
	if w := fs.contextualWeight(FailurePitotStatic, warm); w != 0 {
		t.Errorf("pitot weight %v in warm air, want 0", w)
	}
	cold := warm
	cold.AmbientTemperatureC = -20
	if w := fs.contextualWeight(FailureIcing, cold); w != 1 {
		t.Errorf("icing weight %v in cold air, want 1", w)
	}

	idle := warm
	idle.ThrottleSetting = 0
	full := warm
	full.ThrottleSetting = 1
	if fs.contextualWeight(FailureEngineFire, idle) >= fs.contextualWeight(FailureEngineFire, full) {
		t.Errorf("engine failure weight should grow with throttle")
	}
}

func TestPeriodicCheckRespectsConcurrencyLimit(t *testing.T) {
	fs, _ := testFailureSystem(t, 11, FailureNone)
	ctx := testContext()

	// Fill up to the difficulty's concurrency limit.
	fs.TriggerFailure(FailureHydraulic, ctx, 0)
	fs.TriggerFailure(FailureElectricalBus, ctx, 0)

	before := fs.ActiveCount()
	if before != fs.policy.MaxConcurrentFailures {
		t.Fatalf("active count %d, want at limit %d", before, fs.policy.MaxConcurrentFailures)
	}
	for _i := 0; _i < 1000; _i++ {
		fs.periodicCheck(0, ctx)
	}
	if fs.ActiveCount() != before {
		t.Errorf("periodic check exceeded the concurrency limit")
	}
}

func TestClearFailureRestoresSystems(t *testing.T) {
	fs, _ := testFailureSystem(t, 12, FailureNone)
	systems := NewSystemsState(10000)
	var controls ControlInputs
	var ap Autopilot

	fs.TriggerFailure(FailureHydraulic, testContext(), 0)
	fs.ApplyImpact(0.02, 0, nil, &controls, &systems, &ap)
	fs.ClearFailure(FailureHydraulic, &systems, time.Minute)

	if fs.IsActive(FailureHydraulic) {
		t.Errorf("hydraulic failure still active after clear")
	}
	if systems.HydraulicPressure != NormalHydraulicPressure {
		t.Errorf("hydraulic pressure %v after clear, want %v",
			systems.HydraulicPressure, float32(NormalHydraulicPressure))
	}
}

func TestResetRearmsForcedFailure(t *testing.T) {
	fs, _ := testFailureSystem(t, 13, FailurePitotStatic)
	ctx := testContext()

	step := 100 * time.Millisecond
	now := time.Duration(0)
	for ; now < 2*time.Minute; now += step {
		fs.Update(now, ctx)
		if fs.IsActive(FailurePitotStatic) {
			break
		}
	}
	if !fs.IsActive(FailurePitotStatic) {
		t.Fatalf("forced failure never fired")
	}

	fs.Reset(now)
	if fs.ActiveCount() != 0 {
		t.Errorf("failures survive a reset")
	}

	var refiredAt time.Duration
	for end := now + 2*time.Minute; now < end; now += step {
		fs.Update(now, ctx)
		if fs.IsActive(FailurePitotStatic) {
			refiredAt = now
			break
		}
	}
	if refiredAt == 0 {
		t.Errorf("forced failure not re-armed by reset")
	}
}
