package constraint

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/akmonengine/shard/actor"
	"github.com/akmonengine/shard/pool"
)

// Actors is the pool-indexed view of bodies the solver operates on. The
// solver mutates only velocities, rotations and position deltas; it never
// allocates or frees slots.
type Actors = pool.Pool[actor.Actor]

// Solve runs the full solver pipeline for one step: velocity integration,
// constraint preparation, warm starting, velocity iterations, position
// integration, relaxation (soft mode), position commit and impulse storage.
func Solve(actors *Actors, gravity mgl64.Vec2, constraints []ContactConstraint, ctx *Context, mode Mode) {
	IntegrateVelocities(actors, gravity, ctx.H)

	soft := mode == ModeSoft
	Prepare(actors, constraints, ctx, soft)

	if ctx.WarmStart {
		WarmStart(actors, constraints)
	}

	for iter := 0; iter < ctx.Iterations; iter++ {
		if soft {
			solveSoft(actors, constraints, ctx.InvH, true)
		} else {
			solveBaumgarte(actors, constraints, ctx.InvH)
		}
	}

	IntegratePositions(actors, ctx.H)

	if soft {
		for iter := 0; iter < ctx.ExtraIterations; iter++ {
			solveSoft(actors, constraints, ctx.InvH, false)
		}
	}

	CommitPositions(actors)

	StoreImpulses(constraints)
}

// IntegrateVelocities advances the velocities of dynamic actors by forces,
// gravity and damping over h.
func IntegrateVelocities(actors *Actors, gravity mgl64.Vec2, h float64) {
	for i := actors.Capacity() - 1; i >= 0; i-- {
		if !actors.IsValid(i) {
			continue
		}
		a := actors.MustAt(i)
		if a.Kind != actor.KindDynamic {
			continue
		}

		f := a.Forces
		if a.Flags.IsSet(actor.FlagUseGravity) {
			f = f.Add(gravity.Mul(a.Mass * a.GravityScale))
		}

		v := a.LinearVelocity.Add(f.Mul(h * a.InvMass))
		w := a.AngularVelocity + h*a.Torques*a.InvInertia

		// Damper to prevent infinite oscillation.
		v = v.Mul(1.0 / (1.0 + h*a.LinearDamping))
		w *= 1.0 / (1.0 + h*a.AngularDamping)

		a.LinearVelocity = v
		a.AngularVelocity = w
	}
}

// IntegratePositions accumulates the position delta and advances rotations
// for all non-static actors.
func IntegratePositions(actors *Actors, h float64) {
	for i := actors.Capacity() - 1; i >= 0; i-- {
		if !actors.IsValid(i) {
			continue
		}
		a := actors.MustAt(i)
		if a.Kind == actor.KindStatic {
			continue
		}
		a.DeltaPosition = a.DeltaPosition.Add(a.LinearVelocity.Mul(h))
		a.Rot = a.Rot.Integrate(h * a.AngularVelocity)
	}
}

// CommitPositions folds the accumulated deltas into the center-of-mass
// positions.
func CommitPositions(actors *Actors) {
	for i := actors.Capacity() - 1; i >= 0; i-- {
		if !actors.IsValid(i) {
			continue
		}
		a := actors.MustAt(i)
		if a.Kind == actor.KindStatic {
			continue
		}
		a.Position = a.Position.Add(a.DeltaPosition)
		a.DeltaPosition = mgl64.Vec2{}
	}
}

// Prepare fills in the solver state of every constraint point: anchors,
// effective masses and, for the soft mode, the spring-damper coefficients.
func Prepare(actors *Actors, constraints []ContactConstraint, ctx *Context, soft bool) {
	h := ctx.H

	for i := range constraints {
		constraint := &constraints[i]
		m := constraint.Manifold

		actorA := actors.MustAt(constraint.IndexA)
		actorB := actors.MustAt(constraint.IndexB)

		mA, iA := actorA.InvMass, actorA.InvInertia
		mB, iB := actorB.InvMass, actorB.InvInertia

		// Contacts against static or kinematic bodies get a stiffer spring.
		contactHertz := ctx.Hertz
		if mA == 0 || mB == 0 {
			contactHertz = 2.0 * ctx.Hertz
		}

		qA := actorA.Rot
		qB := actorB.Rot

		normal := constraint.Normal
		tangent := mgl64.Vec2{normal.Y(), -normal.X()}

		for j := 0; j < constraint.PointCount; j++ {
			mp := &m.Points[j]
			cp := &constraint.Points[j]

			if ctx.WarmStart {
				cp.NormalImpulse = mp.NormalImpulse
				cp.TangentImpulse = mp.TangentImpulse
			} else {
				cp.NormalImpulse = 0
				cp.TangentImpulse = 0
			}

			cp.LocalAnchorA = mp.LocalAnchorA.Sub(actorA.LocalCenter)
			cp.LocalAnchorB = mp.LocalAnchorB.Sub(actorB.LocalCenter)

			rA := actor.RotateVec(cp.LocalAnchorA, qA)
			rB := actor.RotateVec(cp.LocalAnchorB, qB)
			cp.RA0 = rA
			cp.RB0 = rB

			cp.Separation = mp.Separation
			cp.AdjustedSeparation = mp.Separation - rB.Sub(rA).Dot(normal)

			rnA := actor.Cross(rA, normal)
			rnB := actor.Cross(rB, normal)
			kNormal := mA + mB + iA*rnA*rnA + iB*rnB*rnB
			cp.NormalMass = 0
			if kNormal > 0 {
				cp.NormalMass = 1.0 / kNormal
			}

			rtA := actor.Cross(rA, tangent)
			rtB := actor.Cross(rB, tangent)
			kTangent := mA + mB + iA*rtA*rtA + iB*rtB*rtB
			cp.TangentMass = 0
			if kTangent > 0 {
				cp.TangentMass = 1.0 / kTangent
			}

			if soft {
				// Soft constraint coefficients from the equivalent
				// spring-damper (Hertz, zeta) over the sub-step.
				const zeta = DampingRatio
				omega := 2.0 * math.Pi * contactHertz
				c := h * omega * (2.0*zeta + h*omega)
				cp.BiasCoefficient = omega / (2.0*zeta + h*omega)
				cp.ImpulseCoefficient = 1.0 / (1.0 + c)
				cp.MassCoefficient = c * cp.ImpulseCoefficient
			} else {
				cp.BiasCoefficient = 0
				cp.ImpulseCoefficient = 0
				cp.MassCoefficient = 0
			}
		}
	}
}

// WarmStart applies last step's accumulated impulses so the iterations
// start near the converged solution.
func WarmStart(actors *Actors, constraints []ContactConstraint) {
	for i := range constraints {
		constraint := &constraints[i]

		actorA := actors.MustAt(constraint.IndexA)
		actorB := actors.MustAt(constraint.IndexB)

		mA, iA := actorA.InvMass, actorA.InvInertia
		mB, iB := actorB.InvMass, actorB.InvInertia

		vA, wA := actorA.LinearVelocity, actorA.AngularVelocity
		vB, wB := actorB.LinearVelocity, actorB.AngularVelocity

		qA := actorA.Rot
		qB := actorB.Rot

		normal := constraint.Normal
		tangent := mgl64.Vec2{normal.Y(), -normal.X()}

		for j := 0; j < constraint.PointCount; j++ {
			cp := &constraint.Points[j]

			rA := actor.RotateVec(cp.LocalAnchorA, qA)
			rB := actor.RotateVec(cp.LocalAnchorB, qB)

			p := normal.Mul(cp.NormalImpulse).Add(tangent.Mul(cp.TangentImpulse))
			wA -= iA * actor.Cross(rA, p)
			vA = vA.Sub(p.Mul(mA))
			wB += iB * actor.Cross(rB, p)
			vB = vB.Add(p.Mul(mB))
		}

		actorA.LinearVelocity, actorA.AngularVelocity = vA, wA
		actorB.LinearVelocity, actorB.AngularVelocity = vB, wB
	}
}

// solveSoft runs one Gauss-Seidel sweep with the soft-contact bias rule.
// With useBias false it acts as a relaxation sweep that only removes
// residual velocity error.
func solveSoft(actors *Actors, constraints []ContactConstraint, invH float64, useBias bool) {
	for i := range constraints {
		constraint := &constraints[i]

		actorA := actors.MustAt(constraint.IndexA)
		actorB := actors.MustAt(constraint.IndexB)

		mA, iA := actorA.InvMass, actorA.InvInertia
		mB, iB := actorB.InvMass, actorB.InvInertia

		vA, wA := actorA.LinearVelocity, actorA.AngularVelocity
		vB, wB := actorB.LinearVelocity, actorB.AngularVelocity

		normal := constraint.Normal
		tangent := mgl64.Vec2{normal.Y(), -normal.X()}
		friction := constraint.Friction

		for j := 0; j < constraint.PointCount; j++ {
			cp := &constraint.Points[j]

			bias := 0.0
			massScale := 1.0
			impulseScale := 0.0
			if cp.Separation > 0 {
				// Speculative contact: absorb exactly the approach velocity.
				bias = cp.Separation * invH
			} else if useBias {
				bias = math.Max(cp.BiasCoefficient*cp.Separation, -MaxBaumgarteVelocity)
				massScale = cp.MassCoefficient
				impulseScale = cp.ImpulseCoefficient
			}

			rA := cp.RA0
			rB := cp.RB0

			// Relative normal velocity at the contact point.
			vrB := vB.Add(actor.CrossSV(wB, rB))
			vrA := vA.Add(actor.CrossSV(wA, rA))
			vn := vrB.Sub(vrA).Dot(normal)

			impulse := -cp.NormalMass*massScale*(vn+bias) - impulseScale*cp.NormalImpulse

			// Clamp the accumulated impulse, not the increment.
			newImpulse := math.Max(cp.NormalImpulse+impulse, 0)
			impulse = newImpulse - cp.NormalImpulse
			cp.NormalImpulse = newImpulse

			p := normal.Mul(impulse)
			vA = vA.Sub(p.Mul(mA))
			wA -= iA * actor.Cross(rA, p)
			vB = vB.Add(p.Mul(mB))
			wB += iB * actor.Cross(rB, p)
		}

		for j := 0; j < constraint.PointCount; j++ {
			cp := &constraint.Points[j]

			rA := cp.RA0
			rB := cp.RB0

			vrB := vB.Add(actor.CrossSV(wB, rB))
			vrA := vA.Add(actor.CrossSV(wA, rA))
			vt := vrB.Sub(vrA).Dot(tangent)

			lambda := cp.TangentMass * (-vt)

			// Coulomb cone: the friction impulse is bounded by the
			// accumulated normal impulse.
			maxFriction := friction * cp.NormalImpulse
			newImpulse := mgl64.Clamp(cp.TangentImpulse+lambda, -maxFriction, maxFriction)
			lambda = newImpulse - cp.TangentImpulse
			cp.TangentImpulse = newImpulse

			p := tangent.Mul(lambda)
			vA = vA.Sub(p.Mul(mA))
			wA -= iA * actor.Cross(rA, p)
			vB = vB.Add(p.Mul(mB))
			wB += iB * actor.Cross(rB, p)
		}

		actorA.LinearVelocity, actorA.AngularVelocity = vA, wA
		actorB.LinearVelocity, actorB.AngularVelocity = vB, wB
	}
}

// solveBaumgarte runs one Gauss-Seidel sweep with the classic positional
// bias: a fraction of the penetration beyond slop is converted into
// corrective velocity, capped at MaxBaumgarteVelocity.
func solveBaumgarte(actors *Actors, constraints []ContactConstraint, invH float64) {
	for i := range constraints {
		constraint := &constraints[i]

		actorA := actors.MustAt(constraint.IndexA)
		actorB := actors.MustAt(constraint.IndexB)

		mA, iA := actorA.InvMass, actorA.InvInertia
		mB, iB := actorB.InvMass, actorB.InvInertia

		vA, wA := actorA.LinearVelocity, actorA.AngularVelocity
		vB, wB := actorB.LinearVelocity, actorB.AngularVelocity

		normal := constraint.Normal
		tangent := mgl64.Vec2{normal.Y(), -normal.X()}
		friction := constraint.Friction

		for j := 0; j < constraint.PointCount; j++ {
			cp := &constraint.Points[j]

			var bias float64
			if cp.Separation > 0 {
				// Speculative contact.
				bias = cp.Separation * invH
			} else {
				bias = math.Max(0.2*invH*math.Min(0, cp.Separation+actor.LinearSlop), -MaxBaumgarteVelocity)
			}

			rA := cp.RA0
			rB := cp.RB0

			vrB := vB.Add(actor.CrossSV(wB, rB))
			vrA := vA.Add(actor.CrossSV(wA, rA))
			vn := vrB.Sub(vrA).Dot(normal)

			impulse := -cp.NormalMass * (vn + bias)

			newImpulse := math.Max(cp.NormalImpulse+impulse, 0)
			impulse = newImpulse - cp.NormalImpulse
			cp.NormalImpulse = newImpulse

			p := normal.Mul(impulse)
			vA = vA.Sub(p.Mul(mA))
			wA -= iA * actor.Cross(rA, p)
			vB = vB.Add(p.Mul(mB))
			wB += iB * actor.Cross(rB, p)
		}

		for j := 0; j < constraint.PointCount; j++ {
			cp := &constraint.Points[j]

			rA := cp.RA0
			rB := cp.RB0

			vrB := vB.Add(actor.CrossSV(wB, rB))
			vrA := vA.Add(actor.CrossSV(wA, rA))
			vt := vrB.Sub(vrA).Dot(tangent)

			lambda := cp.TangentMass * (-vt)

			maxFriction := friction * cp.NormalImpulse
			newImpulse := mgl64.Clamp(cp.TangentImpulse+lambda, -maxFriction, maxFriction)
			lambda = newImpulse - cp.TangentImpulse
			cp.TangentImpulse = newImpulse

			p := tangent.Mul(lambda)
			vA = vA.Sub(p.Mul(mA))
			wA -= iA * actor.Cross(rA, p)
			vB = vB.Add(p.Mul(mB))
			wB += iB * actor.Cross(rB, p)
		}

		actorA.LinearVelocity, actorA.AngularVelocity = vA, wA
		actorB.LinearVelocity, actorB.AngularVelocity = vB, wB
	}
}

// StoreImpulses copies the accumulated impulses back onto the manifold
// points so the next step can warm start.
func StoreImpulses(constraints []ContactConstraint) {
	for i := range constraints {
		constraint := &constraints[i]
		m := constraint.Manifold
		for j := 0; j < constraint.PointCount; j++ {
			m.Points[j].NormalImpulse = constraint.Points[j].NormalImpulse
			m.Points[j].TangentImpulse = constraint.Points[j].TangentImpulse
		}
	}
}
