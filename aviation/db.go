// aviation/db.go
// Copyright(c) 2026 crashsim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package aviation

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/avtrain/crashsim/util"
)

//go:embed resources
var resourcesFS embed.FS

// EngineLayout names how engines are arranged on the airframe; it
// determines the engine count and how differential throttle is split.
type EngineLayout string

const (
	LayoutTwin EngineLayout = "twin"
	LayoutTri  EngineLayout = "tri"
	LayoutQuad EngineLayout = "quad"
)

// EngineCount returns the number of engines the layout implies, or 0 for
// an unknown layout.
func (l EngineLayout) EngineCount() int {
	switch l {
	case LayoutTwin:
		return 2
	case LayoutTri:
		return 3
	case LayoutQuad:
		return 4
	}
	return 0
}

// EngineMount describes a single engine installation: where it sits on
// the airframe (body frame, meters, x forward / y right / z down) and its
// rated performance.
type EngineMount struct {
	Position     [3]float32 `json:"position"`
	MaxThrust    float32    `json:"max_thrust"`     // Newtons
	IdleN1       float32    `json:"idle_n1"`        // percent
	MaxEGT       float32    `json:"max_egt"`        // degrees C
	IdleFuelFlow float32    `json:"idle_fuel_flow"` // kg/s
	SFC          float32    `json:"sfc"`            // kg/s per Newton
}

// Aero carries the simplified aerodynamic model coefficients for an
// airframe.
type Aero struct {
	WingArea      float32    `json:"wing_area"` // m^2
	CLAlpha       float32    `json:"cl_alpha"`  // per radian
	CLMax         float32    `json:"cl_max"`
	CD0           float32    `json:"cd0"`
	InducedDragK  float32    `json:"induced_drag_k"`
	StallAlphaDeg float32    `json:"stall_alpha_deg"`
	ControlPower  [3]float32 `json:"control_power"` // roll/pitch/yaw moment scale
}

// Envelope describes the speed/attitude limits used by the warning system.
type Envelope struct {
	VMO        float32 `json:"vmo"` // knots IAS
	MMO        float32 `json:"mmo"`
	MaxBankDeg float32 `json:"max_bank_deg"`
}

// Airframe is the static configuration record for one aircraft model.
// The simulation core treats it as opaque configuration; it is validated
// once at load and never mutated.
type Airframe struct {
	Name         string        `json:"name"`
	Layout       EngineLayout  `json:"layout"`
	Engines      []EngineMount `json:"engines"`
	MassKG       float32       `json:"mass_kg"`
	Inertia      [3]float32    `json:"inertia"` // Ixx, Iyy, Izz, kg m^2
	FuelKG       float32       `json:"fuel_kg"`
	Aero         Aero          `json:"aero"`
	Envelope     Envelope      `json:"envelope"`
	CeilingFeet  float32       `json:"ceiling"`
	StallIASKnts float32       `json:"stall_ias"`
}

// Validate checks the data-integrity invariants that must hold before an
// airframe may reach the simulation loop.
func (a *Airframe) Validate() error {
	if n := a.Layout.EngineCount(); n == 0 {
		return fmt.Errorf("%s: %w %q", a.Name, ErrUnknownEngineLayout, a.Layout)
	} else if len(a.Engines) != n {
		return fmt.Errorf("%s: %w: layout %q wants %d engines, have %d",
			a.Name, ErrLayoutEngineMismatch, a.Layout, n, len(a.Engines))
	}
	if a.MassKG <= 0 {
		return fmt.Errorf("%s: non-positive mass %v", a.Name, a.MassKG)
	}
	for i, e := range a.Engines {
		if e.MaxThrust <= 0 {
			return fmt.Errorf("%s: engine %d has non-positive max thrust", a.Name, i)
		}
	}
	return nil
}

// DB is the airframe database, keyed by model name. It is loaded from an
// embedded resource at startup.
var DB map[string]*Airframe

func init() {
	var err error
	DB, err = parseAirframes()
	if err != nil {
		panic(err)
	}
}

func parseAirframes() (map[string]*Airframe, error) {
	path := "resources/airframes.json"
	if !util.ResourceExists(resourcesFS, path) {
		path += ".zst"
	}
	b := util.LoadResourceBytes(resourcesFS, path)

	var wrap struct {
		Airframes []*Airframe `json:"airframes"`
	}
	if err := json.Unmarshal(b, &wrap); err != nil {
		return nil, fmt.Errorf("airframes.json: %w", err)
	}

	db := make(map[string]*Airframe)
	for _, a := range wrap.Airframes {
		if err := a.Validate(); err != nil {
			return nil, err
		}
		if _, ok := db[a.Name]; ok {
			return nil, fmt.Errorf("%s: duplicate airframe", a.Name)
		}
		db[a.Name] = a
	}
	return db, nil
}

// GetAirframe looks up an airframe by model name.
func GetAirframe(name string) (*Airframe, error) {
	a, ok := DB[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownAirframe)
	}
	return a, nil
}
