// Package constraint implements the sequential-impulse contact solver.
//
// Two modes are provided. Baumgarte feeds position error straight into the
// velocity bias over a single set of iterations. Soft (the default) shapes
// the bias as a spring-damper from a contact Hertz and damping ratio, runs
// the velocity iterations with that bias, then runs extra relaxation
// iterations with the bias disabled to bleed off the injected energy.
package constraint

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/akmonengine/shard/manifold"
)

// Mode selects the solver flavor.
type Mode int

const (
	// ModeSoft runs velocity iterations with a soft-contact bias followed by
	// relaxation iterations without it.
	ModeSoft Mode = iota
	// ModeBaumgarte runs one set of iterations with the position error fed
	// directly into the velocity bias.
	ModeBaumgarte
)

const (
	// MaxBaumgarteVelocity caps the corrective velocity injected by the
	// position bias, keeping deep penetrations from exploding.
	MaxBaumgarteVelocity = 4.0

	// DampingRatio is the zeta of the soft-contact spring-damper.
	DampingRatio = 10.0

	// MaxContactHertz caps contact stiffness; the effective Hertz is also
	// bounded by the step rate so the spring stays stable.
	MaxContactHertz = 30.0
)

// Context carries the per-step solver parameters.
type Context struct {
	DT, InvDT float64
	// H is the sub-step; equal to DT here since the solver is not substepped.
	H, InvH float64

	// Iterations is the velocity iteration count, ExtraIterations the
	// relaxation count used by the soft mode.
	Iterations      int
	ExtraIterations int

	WarmStart bool

	// Hertz is the soft-contact stiffness, min(30, 1/(3 dt)).
	Hertz float64
}

// NewContext builds a solver context for the given time step.
func NewContext(dt float64, iterations, extraIterations int, warmStart bool) Context {
	ctx := Context{
		DT:              dt,
		Iterations:      iterations,
		ExtraIterations: extraIterations,
		WarmStart:       warmStart,
	}
	if dt > 0 {
		ctx.InvDT = 1.0 / dt
	}
	ctx.H = ctx.DT
	ctx.InvH = ctx.InvDT
	ctx.Hertz = math.Min(MaxContactHertz, (1.0/3.0)*ctx.InvDT)
	return ctx
}

// MixFriction combines two friction coefficients (geometric mean).
func MixFriction(a, b float64) float64 {
	return math.Sqrt(a * b)
}

// MixRestitution combines two restitution coefficients: if one side
// bounces, the pair bounces.
func MixRestitution(a, b float64) float64 {
	return math.Max(a, b)
}

// Point is the solver-side state of one manifold point.
type Point struct {
	// RA0 and RB0 are the anchor offsets from each center of mass, rotated
	// into world space once at prepare time and held fixed for the step.
	RA0, RB0 mgl64.Vec2
	// LocalAnchorA/B are the anchors relative to each body's center of mass.
	LocalAnchorA, LocalAnchorB mgl64.Vec2

	Separation         float64
	AdjustedSeparation float64

	NormalImpulse  float64
	TangentImpulse float64

	NormalMass  float64
	TangentMass float64

	// Soft-contact coefficients; unused in Baumgarte mode.
	MassCoefficient    float64
	BiasCoefficient    float64
	ImpulseCoefficient float64
}

// ContactConstraint is the solver view of one contact with at least one
// manifold point. It references the manifold to store the accumulated
// impulses back at the end of the step.
type ContactConstraint struct {
	Manifold *manifold.Manifold

	IndexA, IndexB int

	Points     [manifold.MaxPoints]Point
	Normal     mgl64.Vec2
	Friction   float64
	PointCount int
}
