// sim/rigidbody.go
// Copyright(c) 2026 crashsim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"log/slog"

	"github.com/avtrain/crashsim/aviation"
	"github.com/avtrain/crashsim/math"
)

const (
	// Timestep clamp for numerical stability; a frame hitch on the caller's
	// side must not become an unstable integration step.
	maxTimestep = 0.05 // seconds

	gravityMPS2 = 9.81

	// Drag increments for draggy configuration items.
	gearDragDelta     = 0.020
	flapsDragDelta    = 0.030
	airbrakeDragDelta = 0.060
	flapsLiftDelta    = 0.45 // CL increment at full flaps

	sideForceSlope = 0.98 // per radian of sideslip

	// Control moments are rated at this dynamic pressure (sea level, 100
	// m/s); authority scales with qbar relative to it.
	refDynamicPressure = 6125.0 // Pa

	// Rate-damping time constants, seconds per radian: steady-state rate
	// for full deflection is 1/tau.
	rollDampingTau  = 0.8
	pitchDampingTau = 2.0
	yawDampingTau   = 3.0

	// Static stability: weathervane yaw toward the relative wind and pitch
	// restoring toward zero alpha, as fractions of full control authority
	// per radian of beta/alpha.
	weathervaneGain    = 1.5
	pitchStiffnessGain = 0.6

	groundFrictionDecel = 2.0 // m/s^2 while rolling
)

// RigidBody integrates the 6-DOF aircraft state: NED position, body-frame
// velocity, quaternion orientation, and body angular rates, all SI
// internally. It consumes the propulsion forces/torques and the (possibly
// pinned or clamped) control surface deflections each tick; a jammed
// surface is just a constant input here and cannot destabilize the
// integration.
type RigidBody struct {
	Airframe *aviation.Airframe

	Position    [3]float32 // m, north/east/down; -down is altitude MSL
	Velocity    [3]float32 // m/s body frame, u forward / v right / w down
	Orientation math.Quaternion
	Rates       [3]float32 // rad/s body frame, p/q/r

	MassKG   float32
	OnGround bool

	lastVerticalSpeed float32 // m/s, +up, for the VS getter
}

func NewRigidBody(af *aviation.Airframe, altitudeFeet, tasKnots, headingDeg float32) *RigidBody {
	rb := &RigidBody{
		Airframe:    af,
		Orientation: math.QuaternionFromEuler(0, 0, math.Radians(headingDeg)),
		MassKG:      af.MassKG + af.FuelKG,
	}
	rb.Position[2] = -altitudeFeet * aviation.FeetToMeters
	rb.Velocity[0] = tasKnots * aviation.KnotsToMPS
	rb.OnGround = altitudeFeet <= 0
	return rb
}

// Step advances the state by dt, clamped to the stability bound. The
// returned dt is the amount actually integrated.
func (rb *RigidBody) Step(dt float32, prop Forces, controls *ControlInputs) float32 {
	dt = math.Clamp(dt, 0, maxTimestep)
	if dt == 0 {
		return 0
	}

	force, torque := rb.computeForces(prop, controls)

	// Semi-implicit Euler: update rates and velocity from current-state
	// forces, then advance orientation and position with the new values.
	inertia := rb.Airframe.Inertia
	for i := 0; i < 3; i++ {
		// Diagonal inertia tensor; gyroscopic coupling via omega x (I omega).
		gyro := rb.gyroscopic(i)
		rb.Rates[i] += dt * (torque[i] - gyro) / inertia[i]
		rb.Rates[i] = math.FiniteOr(rb.Rates[i], 0)
	}

	coriolis := math.Cross3f(rb.Rates, rb.Velocity)
	for i := 0; i < 3; i++ {
		rb.Velocity[i] += dt * (force[i]/rb.MassKG - coriolis[i])
		rb.Velocity[i] = math.FiniteOr(rb.Velocity[i], 0)
	}

	rb.integrateOrientation(dt)

	// Body velocity to NED for the position update.
	vNED := rb.Orientation.Rotate(rb.Velocity)
	for i := 0; i < 3; i++ {
		rb.Position[i] += dt * vNED[i]
		rb.Position[i] = math.FiniteOr(rb.Position[i], 0)
	}
	rb.lastVerticalSpeed = -vNED[2]

	rb.handleGround()
	return dt
}

func (rb *RigidBody) computeForces(prop Forces, controls *ControlInputs) (force, torque [3]float32) {
	aero := rb.Airframe.Aero
	tas := math.Length3f(rb.Velocity)
	rho := aviation.AirDensityAtAltitude(rb.AltitudeMSLFeet())
	qbar := 0.5 * rho * math.Sqr(tas)

	alpha := rb.Alpha()
	beta := float32(0)
	if tas > 1 {
		beta = math.SafeASin(rb.Velocity[1] / tas)
	}

	cl := math.Clamp(aero.CLAlpha*alpha, -aero.CLMax, aero.CLMax) + controls.Flaps*flapsLiftDelta
	cd := aero.CD0 + aero.InducedDragK*math.Sqr(cl) +
		controls.Flaps*flapsDragDelta + controls.Airbrake*airbrakeDragDelta
	if controls.GearDown {
		cd += gearDragDelta
	}

	lift := qbar * aero.WingArea * cl
	drag := qbar * aero.WingArea * cd
	side := -qbar * aero.WingArea * sideForceSlope * beta

	// Wind axes to body axes, small-beta approximation.
	sa, ca := math.Sin(alpha), math.Cos(alpha)
	force[0] = lift*sa - drag*ca
	force[1] = side
	force[2] = -lift*ca - drag*sa

	// Gravity from NED into the body frame.
	g := rb.Orientation.Conjugate().Rotate([3]float32{0, 0, rb.MassKG * gravityMPS2})
	force = math.Add3f(force, g)
	force = math.Add3f(force, prop.Force)

	// Control moments plus rate damping, both scaled by dynamic pressure
	// so authority fades with airspeed like the real thing.
	damping := [3]float32{rollDampingTau, pitchDampingTau, yawDampingTau}
	qratio := qbar / refDynamicPressure
	for i := 0; i < 3; i++ {
		defl := controls.Surfaces[i]
		if i == int(SurfaceElevator) {
			defl += controls.Trim*0.2 - pitchStiffnessGain*alpha
		}
		if i == int(SurfaceRudder) {
			defl += weathervaneGain * beta
		}
		torque[i] = qratio * aero.ControlPower[i] * (defl - damping[i]*rb.Rates[i])
	}
	torque = math.Add3f(torque, prop.Torque)

	for i := 0; i < 3; i++ {
		force[i] = math.FiniteOr(force[i], 0)
		torque[i] = math.FiniteOr(torque[i], 0)
	}
	return
}

// gyroscopic returns component i of omega x (I omega) for the diagonal
// inertia tensor.
func (rb *RigidBody) gyroscopic(i int) float32 {
	I := rb.Airframe.Inertia
	p, q, r := rb.Rates[0], rb.Rates[1], rb.Rates[2]
	switch i {
	case 0:
		return q * r * (I[2] - I[1])
	case 1:
		return p * r * (I[0] - I[2])
	default:
		return p * q * (I[1] - I[0])
	}
}

func (rb *RigidBody) integrateOrientation(dt float32) {
	p, q, r := rb.Rates[0], rb.Rates[1], rb.Rates[2]
	o := rb.Orientation
	dq := math.Quaternion{
		W: 0.5 * (-o.X*p - o.Y*q - o.Z*r),
		X: 0.5 * (o.W*p + o.Y*r - o.Z*q),
		Y: 0.5 * (o.W*q - o.X*r + o.Z*p),
		Z: 0.5 * (o.W*r + o.X*q - o.Y*p),
	}
	o.W += dt * dq.W
	o.X += dt * dq.X
	o.Y += dt * dq.Y
	o.Z += dt * dq.Z
	rb.Orientation = o.Normalize()
}

// handleGround is a deliberately simple contact model: at or below the
// surface the aircraft stops descending and decelerates from rolling
// friction. Whether the touchdown was survivable is the orchestrator's
// call, made from the pre-contact sink rate.
func (rb *RigidBody) handleGround() {
	if rb.Position[2] < 0 {
		rb.OnGround = false
		return
	}

	rb.Position[2] = 0
	rb.OnGround = true

	vNED := rb.Orientation.Rotate(rb.Velocity)
	if vNED[2] > 0 {
		vNED[2] = 0
		rb.Velocity = rb.Orientation.Conjugate().Rotate(vNED)
	}

	// Rolling friction.
	if rb.Velocity[0] > 0 {
		rb.Velocity[0] = max(0, rb.Velocity[0]-groundFrictionDecel*maxTimestep)
	}
	rb.Rates[0] *= 0.5
	rb.Rates[1] *= 0.5
}

///////////////////////////////////////////////////////////////////////////
// Derived quantities. Internally everything is SI; the getters convert to
// the aviation display units the rest of the core speaks.

func (rb *RigidBody) AltitudeMSLFeet() float32 {
	return -rb.Position[2] / aviation.FeetToMeters
}

// AGLFeet assumes a flat reference surface at sea level; terrain
// elevation is a presentation-layer concern.
func (rb *RigidBody) AGLFeet() float32 {
	return max(0, rb.AltitudeMSLFeet())
}

func (rb *RigidBody) TASKnots() float32 {
	return math.Length3f(rb.Velocity) / aviation.KnotsToMPS
}

func (rb *RigidBody) IASKnots() float32 {
	return aviation.TASToIAS(rb.TASKnots(), rb.AltitudeMSLFeet())
}

func (rb *RigidBody) VerticalSpeedFPM() float32 {
	return rb.lastVerticalSpeed / aviation.FeetToMeters * 60
}

func (rb *RigidBody) RollDeg() float32 {
	roll, _, _ := rb.Orientation.Euler()
	return math.Degrees(roll)
}

func (rb *RigidBody) PitchDeg() float32 {
	_, pitch, _ := rb.Orientation.Euler()
	return math.Degrees(pitch)
}

func (rb *RigidBody) HeadingDeg() float32 {
	_, _, yaw := rb.Orientation.Euler()
	return math.Mod(math.Degrees(yaw)+360, 360)
}

// Alpha returns the angle of attack in radians.
func (rb *RigidBody) Alpha() float32 {
	if math.Abs(rb.Velocity[0]) < 1 {
		return 0
	}
	return math.Atan2(rb.Velocity[2], rb.Velocity[0])
}

func (rb *RigidBody) AlphaDeg() float32 {
	return math.Degrees(rb.Alpha())
}

// SinkRateFPM is the positive-down sink rate used for impact assessment.
func (rb *RigidBody) SinkRateFPM() float32 {
	return max(0, -rb.VerticalSpeedFPM())
}

func (rb *RigidBody) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("alt_ft", float64(rb.AltitudeMSLFeet())),
		slog.Float64("tas_kt", float64(rb.TASKnots())),
		slog.Float64("vs_fpm", float64(rb.VerticalSpeedFPM())),
		slog.Float64("pitch", float64(rb.PitchDeg())),
		slog.Float64("roll", float64(rb.RollDeg())),
		slog.Bool("on_ground", rb.OnGround))
}
