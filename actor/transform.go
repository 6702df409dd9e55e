package actor

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Geometric tolerances shared across the engine. These are length scales,
// not machine epsilons: the engine assumes world units in the meter range.
const (
	// Epsilon is the general comparison tolerance.
	Epsilon = 1e-7
	// LowEpsilon is the relaxed tolerance used by iterative convergence tests.
	LowEpsilon = 1e-6
	// HighEpsilon is the strict tolerance for degeneracy detection.
	HighEpsilon = 1e-8

	// LinearSlop is the smallest meaningful linear distance. Vertices closer
	// than a few slops are welded, separations within a fraction of a slop
	// count as touching.
	LinearSlop = 0.005
	// SpeculativeDistance is the gap below which a contact is generated ahead
	// of actual touching, so the solver can absorb the approach velocity.
	SpeculativeDistance = 4.0 * LinearSlop
)

// Rot is a 2D rotation stored as the unit complex number (cos, sin).
// Composition is complex multiplication, which keeps trigonometry out of the
// per-step integration path.
type Rot struct {
	S, C float64
}

// RotIdentity is the zero rotation.
var RotIdentity = Rot{S: 0, C: 1}

// NewRot builds a rotation from an angle in radians.
func NewRot(radians float64) Rot {
	return Rot{S: math.Sin(radians), C: math.Cos(radians)}
}

// Angle returns the rotation angle in radians.
func (q Rot) Angle() float64 {
	return math.Atan2(q.S, q.C)
}

// Mul composes two rotations.
func (q Rot) Mul(r Rot) Rot {
	return Rot{
		S: q.S*r.C + q.C*r.S,
		C: q.C*r.C - q.S*r.S,
	}
}

// Inv returns the inverse rotation.
func (q Rot) Inv() Rot {
	return Rot{S: -q.S, C: q.C}
}

// Normalize rescales (s, c) back onto the unit circle. A zero rotation
// normalizes to itself.
func (q Rot) Normalize() Rot {
	m := math.Sqrt(q.S*q.S + q.C*q.C)
	if m == 0 {
		return q
	}
	inv := 1.0 / m
	return Rot{S: q.S * inv, C: q.C * inv}
}

// Integrate advances the rotation by deltaAngle radians via complex
// composition, renormalized to stay a unit rotation.
func (q Rot) Integrate(deltaAngle float64) Rot {
	return q.Mul(NewRot(deltaAngle)).Normalize()
}

// RotateVec rotates v by q.
func RotateVec(v mgl64.Vec2, q Rot) mgl64.Vec2 {
	return mgl64.Vec2{
		v.X()*q.C - v.Y()*q.S,
		v.X()*q.S + v.Y()*q.C,
	}
}

// InvRotateVec rotates v by the inverse of q.
func InvRotateVec(v mgl64.Vec2, q Rot) mgl64.Vec2 {
	return RotateVec(v, q.Inv())
}

// Transform carries a body's world position and rotation.
type Transform struct {
	P mgl64.Vec2
	Q Rot
}

// NewTransform creates an identity transform.
func NewTransform() Transform {
	return Transform{Q: RotIdentity}
}

// Apply maps a local point into world space.
func (t Transform) Apply(v mgl64.Vec2) mgl64.Vec2 {
	return RotateVec(v, t.Q).Add(t.P)
}

// ApplyInverse maps a world point into local space.
func (t Transform) ApplyInverse(v mgl64.Vec2) mgl64.Vec2 {
	return InvRotateVec(v.Sub(t.P), t.Q)
}

// InvMulTransforms returns the transform of b expressed in a's local frame.
func InvMulTransforms(a, b Transform) Transform {
	return Transform{
		P: InvRotateVec(b.P.Sub(a.P), a.Q),
		Q: a.Q.Inv().Mul(b.Q),
	}
}

// Cross is the 2D cross product, returning the scalar z component.
func Cross(a, b mgl64.Vec2) float64 {
	return a.X()*b.Y() - a.Y()*b.X()
}

// CrossSV crosses a scalar (angular velocity) with a vector.
func CrossSV(s float64, v mgl64.Vec2) mgl64.Vec2 {
	return mgl64.Vec2{-s * v.Y(), s * v.X()}
}

// CrossVS crosses a vector with a scalar.
func CrossVS(v mgl64.Vec2, s float64) mgl64.Vec2 {
	return mgl64.Vec2{s * v.Y(), -s * v.X()}
}

// Lerp interpolates between a and b by t.
func Lerp(a, b mgl64.Vec2, t float64) mgl64.Vec2 {
	return mgl64.Vec2{
		a.X() + t*(b.X()-a.X()),
		a.Y() + t*(b.Y()-a.Y()),
	}
}

// VecMin returns the component-wise minimum of two vectors.
func VecMin(a, b mgl64.Vec2) mgl64.Vec2 {
	return mgl64.Vec2{math.Min(a.X(), b.X()), math.Min(a.Y(), b.Y())}
}

// VecMax returns the component-wise maximum of two vectors.
func VecMax(a, b mgl64.Vec2) mgl64.Vec2 {
	return mgl64.Vec2{math.Max(a.X(), b.X()), math.Max(a.Y(), b.Y())}
}
