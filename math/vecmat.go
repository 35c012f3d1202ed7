// math/vecmat.go
// Copyright(c) 2026 crashsim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package math

///////////////////////////////////////////////////////////////////////////
// point/vector 3f

// Various useful functions for arithmetic with 3D points/vectors.
// Names are brief in order to avoid clutter when they're used.

// a+b
func Add3f(a, b [3]float32) [3]float32 {
	return [3]float32{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

// a-b
func Sub3f(a, b [3]float32) [3]float32 {
	return [3]float32{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

// a*s
func Scale3f(a [3]float32, s float32) [3]float32 {
	return [3]float32{s * a[0], s * a[1], s * a[2]}
}

func Dot3f(a, b [3]float32) float32 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func Cross3f(a, b [3]float32) [3]float32 {
	return [3]float32{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

// Linearly interpolate x of the way between a and b. x==0 corresponds to
// a, x==1 corresponds to b, etc.
func Lerp3f(x float32, a, b [3]float32) [3]float32 {
	return [3]float32{(1-x)*a[0] + x*b[0], (1-x)*a[1] + x*b[1], (1-x)*a[2] + x*b[2]}
}

// Length of v
func Length3f(v [3]float32) float32 {
	return Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// Distance between two points
func Distance3f(a, b [3]float32) float32 {
	return Length3f(Sub3f(a, b))
}

// Normalizes the given vector; the zero vector is returned unchanged.
func Normalize3f(a [3]float32) [3]float32 {
	l := Length3f(a)
	if l == 0 {
		return [3]float32{}
	}
	return Scale3f(a, 1/l)
}
