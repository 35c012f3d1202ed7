// sim/state.go
// Copyright(c) 2026 crashsim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"log/slog"

	"github.com/avtrain/crashsim/math"
)

type ControlSurface int

const (
	SurfaceAileron ControlSurface = iota
	SurfaceElevator
	SurfaceRudder
	NumControlSurfaces
)

func (s ControlSurface) String() string {
	return []string{"aileron", "elevator", "rudder"}[s]
}

// ControlInputs is the pilot's command state for one tick. Surface
// deflections are normalized to [-1, 1], flaps and airbrake to [0, 1].
// Out-of-range values are clamped, not rejected; transient overshoot from
// an input device is expected.
type ControlInputs struct {
	Surfaces [NumControlSurfaces]float32
	Flaps    float32
	Airbrake float32
	Trim     float32
	GearDown bool
}

func (c *ControlInputs) SetSurface(s ControlSurface, v float32) error {
	if s < 0 || s >= NumControlSurfaces {
		return ErrSurfaceIndexOutOfRange
	}
	c.Surfaces[s] = math.Clamp(v, -1, 1)
	return nil
}

func (c *ControlInputs) Surface(s ControlSurface) float32 {
	return c.Surfaces[s]
}

func (c *ControlInputs) Clamp() {
	for i := range c.Surfaces {
		c.Surfaces[i] = math.Clamp(c.Surfaces[i], -1, 1)
	}
	c.Flaps = math.Clamp(c.Flaps, 0, 1)
	c.Airbrake = math.Clamp(c.Airbrake, 0, 1)
	c.Trim = math.Clamp(c.Trim, -1, 1)
}

const (
	NormalHydraulicPressure = 3000 // psi
	LowHydraulicPressure    = 1500
)

// SystemsState is the aircraft-systems side of the simulation: everything
// that failures mutate and the warning system inspects but that isn't
// propulsion or rigid-body state.
type SystemsState struct {
	Generators           [2]bool
	HydraulicPressure    float32 // psi
	GearExtended         bool
	SensorsBlocked       bool
	PressurizationBreach bool
	CabinAltitude        float32 // feet
	FuelKG               float32
}

func NewSystemsState(fuelKG float32) SystemsState {
	return SystemsState{
		Generators:        [2]bool{true, true},
		HydraulicPressure: NormalHydraulicPressure,
		GearExtended:      true,
		FuelKG:            fuelKG,
	}
}

func (s *SystemsState) GeneratorsOnline() int {
	n := 0
	for _, g := range s.Generators {
		if g {
			n++
		}
	}
	return n
}

// Autopilot is a minimal heading-hold model; it exists so that automation
// anomalies have something to disconnect or corrupt.
type Autopilot struct {
	Engaged       bool
	HeadingTarget float32 // degrees
}

func (s SystemsState) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("generators", s.GeneratorsOnline()),
		slog.Float64("hydraulic_psi", float64(s.HydraulicPressure)),
		slog.Bool("gear", s.GearExtended),
		slog.Float64("fuel_kg", float64(s.FuelKG)))
}
