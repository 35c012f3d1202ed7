// aviation/atmosphere.go
// Copyright(c) 2026 crashsim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package aviation

import (
	"github.com/avtrain/crashsim/math"
)

const (
	// ISA sea-level conditions
	SeaLevelDensity     = 1.225  // kg/m^3
	SeaLevelTemperature = 288.15 // degrees K

	FeetToMeters = 0.3048
	MetersToFeet = 1 / FeetToMeters
	KnotsToMPS   = 0.514444
	MPSToKnots   = 1 / KnotsToMPS
	NMToMeters   = 1852
	MetersToNM   = 1.0 / NMToMeters

	// Temperature lapse rate in the troposphere, degrees K per foot.
	LapseRatePerFoot = 0.0019812

	// Above the tropopause the ISA temperature is constant.
	TropopauseAltitude    = 36089  // feet
	TropopauseTemperature = 216.65 // degrees K
)

// DensityRatioAtAltitude returns the ratio of air density at the given
// altitude (in feet) to the air density at sea level, subject to assuming
// the standard atmosphere.
func DensityRatioAtAltitude(alt float32) float32 {
	altm := alt * FeetToMeters

	// https://en.wikipedia.org/wiki/Barometric_formula#Density_equations
	const g0 = 9.80665    // gravitational constant, m/s^2
	const M_air = 0.02897 // molar mass of earth's air, kg/mol
	const R = 8.314463    // universal gas constant J/(mol K)

	return math.Exp(-g0 * M_air * altm / (R * SeaLevelTemperature))
}

// AirDensityAtAltitude returns the ISA air density in kg/m^3 at the given
// altitude in feet.
func AirDensityAtAltitude(alt float32) float32 {
	return SeaLevelDensity * DensityRatioAtAltitude(alt)
}

// ISATemperatureAtAltitude returns the standard-atmosphere temperature in
// degrees K at the given altitude in feet.
func ISATemperatureAtAltitude(alt float32) float32 {
	if alt >= TropopauseAltitude {
		return TropopauseTemperature
	}
	return SeaLevelTemperature - LapseRatePerFoot*alt
}

func IASToTAS(ias, altitude float32) float32 {
	return ias / math.Sqrt(DensityRatioAtAltitude(altitude))
}

func TASToIAS(tas, altitude float32) float32 {
	return tas * math.Sqrt(DensityRatioAtAltitude(altitude))
}

// SpeedOfSoundAtAltitude returns the speed of sound in knots at the given
// altitude in feet, assuming the standard atmosphere.
func SpeedOfSoundAtAltitude(alt float32) float32 {
	// a = sqrt(gamma R_specific T); with gamma=1.4, R=287.05 this is
	// 20.05 sqrt(T) in m/s.
	return 20.05 * math.Sqrt(ISATemperatureAtAltitude(alt)) * MPSToKnots
}
