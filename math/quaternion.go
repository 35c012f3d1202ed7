// math/quaternion.go
// Copyright(c) 2026 crashsim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package math

import gomath "math"

// Quaternion represents an orientation as a unit quaternion. The zero
// value is not meaningful; use IdentityQuaternion or QuaternionFromEuler.
type Quaternion struct {
	W, X, Y, Z float32
}

func IdentityQuaternion() Quaternion {
	return Quaternion{W: 1}
}

// Multiply returns the Hamilton product q*q2; composing rotations applies
// q2 first and then q.
func (q Quaternion) Multiply(q2 Quaternion) Quaternion {
	return Quaternion{
		W: q.W*q2.W - q.X*q2.X - q.Y*q2.Y - q.Z*q2.Z,
		X: q.W*q2.X + q.X*q2.W + q.Y*q2.Z - q.Z*q2.Y,
		Y: q.W*q2.Y - q.X*q2.Z + q.Y*q2.W + q.Z*q2.X,
		Z: q.W*q2.Z + q.X*q2.Y - q.Y*q2.X + q.Z*q2.W,
	}
}

func (q Quaternion) Conjugate() Quaternion {
	return Quaternion{W: q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

func (q Quaternion) Length() float32 {
	return Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Normalize rescales q to unit length; integrating angular rates drifts
// the length away from one, so this runs every step. A degenerate
// zero-length quaternion normalizes to the identity.
func (q Quaternion) Normalize() Quaternion {
	l := q.Length()
	if l == 0 || !IsFinite(l) {
		return IdentityQuaternion()
	}
	return Quaternion{W: q.W / l, X: q.X / l, Y: q.Y / l, Z: q.Z / l}
}

// Rotate applies the rotation to v via the sandwich product q v q*.
func (q Quaternion) Rotate(v [3]float32) [3]float32 {
	p := Quaternion{X: v[0], Y: v[1], Z: v[2]}
	r := q.Multiply(p).Multiply(q.Conjugate())
	return [3]float32{r.X, r.Y, r.Z}
}

// QuaternionFromEuler constructs an orientation from aerospace Euler
// angles (radians), applied in the standard yaw-pitch-roll sequence.
func QuaternionFromEuler(roll, pitch, yaw float32) Quaternion {
	cr, sr := Cos(roll/2), Sin(roll/2)
	cp, sp := Cos(pitch/2), Sin(pitch/2)
	cy, sy := Cos(yaw/2), Sin(yaw/2)

	return Quaternion{
		W: cr*cp*cy + sr*sp*sy,
		X: sr*cp*cy - cr*sp*sy,
		Y: cr*sp*cy + sr*cp*sy,
		Z: cr*cp*sy - sr*sp*cy,
	}
}

// Euler returns the aerospace yaw-pitch-roll angles (radians)
// corresponding to q. Pitch is clamped at +/-90 degrees at the gimbal
// lock singularity.
func (q Quaternion) Euler() (roll, pitch, yaw float32) {
	sinr := 2 * (q.W*q.X + q.Y*q.Z)
	cosr := 1 - 2*(q.X*q.X+q.Y*q.Y)
	roll = Atan2(sinr, cosr)

	sinp := 2 * (q.W*q.Y - q.Z*q.X)
	if Abs(sinp) >= 1 {
		pitch = float32(gomath.Pi / 2 * float64(Sign(sinp)))
	} else {
		pitch = SafeASin(sinp)
	}

	siny := 2 * (q.W*q.Z + q.X*q.Y)
	cosy := 1 - 2*(q.Y*q.Y+q.Z*q.Z)
	yaw = Atan2(siny, cosy)
	return
}
