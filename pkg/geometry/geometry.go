// Package geometry holds the planar and rigid-body types shared by the
// arbitration engine, the transform buffer and the wire protocol.
package geometry

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Vector3 is a 3D vector (metres or rad/s depending on use).
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quaternion is an orientation in x, y, z, w order as used on the wire.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// IdentityQuaternion is the zero rotation.
var IdentityQuaternion = Quaternion{W: 1}

// QuaternionFromYaw returns the rotation of theta radians about +Z.
func QuaternionFromYaw(theta float64) Quaternion {
	half := theta / 2
	return Quaternion{Z: math.Sin(half), W: math.Cos(half)}
}

// Yaw extracts the rotation about Z. The formula tolerates non-unit
// quaternions because both atan2 arguments scale by the same norm.
func (q Quaternion) Yaw() float64 {
	return math.Atan2(
		2*(q.W*q.Z+q.X*q.Y),
		q.W*q.W+q.X*q.X-q.Y*q.Y-q.Z*q.Z,
	)
}

// IsZero reports whether all components are zero, which is not a rotation.
func (q Quaternion) IsZero() bool {
	return q.X == 0 && q.Y == 0 && q.Z == 0 && q.W == 0
}

// Normalized returns q scaled to unit length. The zero quaternion maps to identity.
func (q Quaternion) Normalized() Quaternion {
	n := q.number()
	abs := quat.Abs(n)
	if abs == 0 {
		return IdentityQuaternion
	}
	return fromNumber(quat.Scale(1/abs, n))
}

func (q Quaternion) number() quat.Number {
	return quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
}

func fromNumber(n quat.Number) Quaternion {
	return Quaternion{X: n.Imag, Y: n.Jmag, Z: n.Kmag, W: n.Real}
}

func (v Vector3) vec() r3.Vec { return r3.Vec{X: v.X, Y: v.Y, Z: v.Z} }

func fromVec(v r3.Vec) Vector3 { return Vector3{X: v.X, Y: v.Y, Z: v.Z} }

// Transform is a rigid transform: rotate, then translate.
type Transform struct {
	Translation Vector3    `json:"translation"`
	Rotation    Quaternion `json:"rotation"`
}

// IdentityTransform leaves points unchanged.
var IdentityTransform = Transform{Rotation: IdentityQuaternion}

// Apply maps p from the child frame into the parent frame.
func (t Transform) Apply(p Vector3) Vector3 {
	rot := r3.Rotation(t.Rotation.Normalized().number())
	return fromVec(r3.Add(rot.Rotate(p.vec()), t.Translation.vec()))
}

// Compose returns t∘o: a transform that first applies o, then t.
// With t = parent←mid and o = mid←child the result is parent←child.
func (t Transform) Compose(o Transform) Transform {
	q := t.Rotation.Normalized().number()
	return Transform{
		Translation: t.Apply(o.Translation),
		Rotation:    fromNumber(quat.Mul(q, o.Rotation.Normalized().number())),
	}
}

// Inverse returns the transform mapping parent coordinates back to the child.
func (t Transform) Inverse() Transform {
	inv := quat.Conj(t.Rotation.Normalized().number())
	rot := r3.Rotation(inv)
	return Transform{
		Translation: fromVec(r3.Scale(-1, rot.Rotate(t.Translation.vec()))),
		Rotation:    fromNumber(inv),
	}
}

// Pose2D is a planar pose. Theta is in radians and is not wrapped.
type Pose2D struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// PoseFromTransform projects a rigid transform onto the ground plane.
func PoseFromTransform(t Transform) Pose2D {
	return Pose2D{X: t.Translation.X, Y: t.Translation.Y, Theta: t.Rotation.Yaw()}
}

// Velocity2D is planar motion: linear x/y and angular z.
type Velocity2D struct {
	VX    float64 `json:"vx"`
	VY    float64 `json:"vy"`
	Omega float64 `json:"omega"`
}

// RobotState is the fused output record.
type RobotState struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
	VX    float64 `json:"vx"`
	VY    float64 `json:"vy"`
	Omega float64 `json:"omega"`
}

// NewRobotState builds a complete state from one pose and one velocity.
func NewRobotState(p Pose2D, v Velocity2D) RobotState {
	return RobotState{
		X:     p.X,
		Y:     p.Y,
		Theta: p.Theta,
		VX:    v.VX,
		VY:    v.VY,
		Omega: v.Omega,
	}
}

// Pose returns the pose part of the state.
func (s RobotState) Pose() Pose2D {
	return Pose2D{X: s.X, Y: s.Y, Theta: s.Theta}
}

// Velocity returns the velocity part of the state.
func (s RobotState) Velocity() Velocity2D {
	return Velocity2D{VX: s.VX, VY: s.VY, Omega: s.Omega}
}
