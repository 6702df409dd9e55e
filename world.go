// Package shard is a 2D rigid-body physics engine for convex polygons.
//
// The world owns every entity in slot pools addressed by stable integer
// handles. A step runs a fixed pipeline: transform and broad-phase refresh,
// pair discovery over a dynamic AABB tree, persistent contact update through
// GJK and SAT clipping, and a sequential-impulse solver with warm starting
// and soft-contact bias. A post-step sweep drives the fracture hook.
package shard

import (
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/akmonengine/shard/actor"
	"github.com/akmonengine/shard/constraint"
	"github.com/akmonengine/shard/pool"
)

var (
	// ErrInvalidHandle is returned when an operation references a dead or
	// out-of-range entity.
	ErrInvalidHandle = errors.New("shard: invalid handle")
	// ErrInvalidConfig is returned for malformed actor or shape configs.
	ErrInvalidConfig = errors.New("shard: invalid config")
	// ErrDegeneratePolygon is returned when hull construction failed on the
	// given geometry.
	ErrDegeneratePolygon = errors.New("shard: degenerate polygon")
)

// Config collects the world tunables. The world keeps the value for its
// lifetime; changing tuning mid-simulation is not supported.
type Config struct {
	Gravity mgl64.Vec2

	// StepTime is the fixed step used by Update; MaxStepsPerUpdate caps how
	// many fixed steps one Update call may run when time accumulates.
	StepTime          float64
	MaxStepsPerUpdate int

	// Solver defaults used by Update.
	VelocityIterations   int
	RelaxationIterations int
	WarmStart            bool
	SolverMode           constraint.Mode

	// Initial pool capacities.
	ActorCapacity   int
	ShapeCapacity   int
	ContactCapacity int
}

// DefaultConfig returns the standard tuning: 60 Hz fixed step, Y-up gravity,
// soft solver with 8 velocity and 3 relaxation iterations.
func DefaultConfig() Config {
	return Config{
		Gravity:              mgl64.Vec2{0, -9.81},
		StepTime:             1.0 / 60.0,
		MaxStepsPerUpdate:    3,
		VelocityIterations:   8,
		RelaxationIterations: 3,
		WarmStart:            true,
		SolverMode:           constraint.ModeSoft,
		ActorCapacity:        16,
		ShapeCapacity:        16,
		ContactCapacity:      16,
	}
}

// World owns all simulation state: the entity pools, the broad phase, the
// pair set and the event hub. A step is atomic from the caller's
// perspective; the world is not safe for concurrent use.
type World struct {
	config Config

	Gravity    mgl64.Vec2
	solverMode constraint.Mode

	actors   *pool.Pool[actor.Actor]
	shapes   *pool.Pool[actor.Shape]
	contacts *pool.Pool[Contact]

	broadphase *Broadphase
	pairs      *pool.PairSet

	events Events

	fracturables *pool.Pool[Fracturable]
	patterns     *pool.Pool[FracturePattern]
	fracturer    Fracturer

	accumulator float64
}

// NewWorld creates an empty world with the given config.
func NewWorld(config Config) *World {
	return &World{
		config:       config,
		Gravity:      config.Gravity,
		solverMode:   config.SolverMode,
		actors:       pool.New[actor.Actor](config.ActorCapacity),
		shapes:       pool.New[actor.Shape](config.ShapeCapacity),
		contacts:     pool.New[Contact](config.ContactCapacity),
		broadphase:   NewBroadphase(),
		pairs:        pool.NewPairSet(),
		events:       NewEvents(),
		fracturables: pool.New[Fracturable](8),
		patterns:     pool.New[FracturePattern](8),
	}
}

// SetGravity changes the gravity acceleration.
func (w *World) SetGravity(gravity mgl64.Vec2) {
	w.Gravity = gravity
}

// SetSolverMode switches between the soft and Baumgarte solvers.
func (w *World) SetSolverMode(mode constraint.Mode) {
	w.solverMode = mode
}

// Events exposes the event hub for listener subscription.
func (w *World) Events() *Events {
	return &w.events
}

// CreateActor copies the config into a fresh pool slot and returns its
// handle.
func (w *World) CreateActor(config actor.Config) (int, error) {
	if config.Kind < actor.KindStatic || config.Kind > actor.KindDynamic {
		return pool.NullIndex, ErrInvalidConfig
	}
	if config.LinearDamping < 0 || config.AngularDamping < 0 {
		return pool.NullIndex, ErrInvalidConfig
	}

	index, a := w.actors.Alloc()

	a.Kind = config.Kind
	a.Flags = actor.FlagUseGravity
	a.Origin = config.Position
	a.Position = config.Position
	a.Rot = actor.NewRot(config.Angle)
	a.LinearVelocity = config.LinearVelocity
	a.AngularVelocity = config.AngularVelocity
	a.LinearDamping = config.LinearDamping
	a.AngularDamping = config.AngularDamping
	a.GravityScale = config.GravityScale
	a.ShapeList = actor.NullIndex
	a.ContactList = actor.NullIndex

	return index, nil
}

// CreateShape attaches a polygon to an actor, registers its broad-phase
// proxy and recomputes the actor's mass when the shape carries density.
func (w *World) CreateShape(actorIndex int, config actor.ShapeConfig, polygon actor.Polygon) (int, error) {
	a, err := w.actors.At(actorIndex)
	if err != nil {
		return pool.NullIndex, ErrInvalidHandle
	}
	if polygon.Count < 3 {
		return pool.NullIndex, ErrDegeneratePolygon
	}
	if config.Density < 0 || config.Friction < 0 || config.Restitution < 0 {
		return pool.NullIndex, ErrInvalidConfig
	}

	shapeIndex, shape := w.shapes.Alloc()

	shape.ActorIndex = actorIndex
	shape.Polygon = polygon
	shape.Density = config.Density
	shape.Friction = config.Friction
	shape.Restitution = config.Restitution

	shape.AABB = shape.ComputeAABB(a.Transform())
	shape.ProxyIndex = w.broadphase.CreateProxy(shape.AABB, shapeIndex)

	shape.NextShapeIndex = a.ShapeList
	a.ShapeList = shapeIndex
	a.ShapeCount++

	if shape.Density > 0 {
		w.computeActorMass(actorIndex)
	}

	return shapeIndex, nil
}

// RemoveActor tears down an actor: every attached contact is destroyed
// (patching the twin body's list and the pair set), every shape releases its
// broad-phase proxy, and the pool slots are freed.
func (w *World) RemoveActor(actorIndex int) error {
	a, err := w.actors.At(actorIndex)
	if err != nil {
		return ErrInvalidHandle
	}

	edgeKey := a.ContactList
	for edgeKey != NullIndex {
		contactIndex := edgeKey >> 1
		side := edgeKey & 1
		next := w.contacts.MustAt(contactIndex).Edges[side].NextKey
		w.destroyContact(contactIndex)
		edgeKey = next
	}

	shapeIndex := a.ShapeList
	for shapeIndex != NullIndex {
		shape := w.shapes.MustAt(shapeIndex)
		next := shape.NextShapeIndex
		w.broadphase.DestroyProxy(shape.ProxyIndex)
		w.shapes.Free(shapeIndex)
		shapeIndex = next
	}

	w.actors.Free(actorIndex)
	return nil
}

// computeActorMass accumulates mass, centroid and inertia over the actor's
// shapes, shifting inertia to the new center of mass. Shapes with zero
// density are skipped. Static and kinematic actors keep zero effective mass.
func (w *World) computeActorMass(actorIndex int) {
	a := w.actors.MustAt(actorIndex)

	a.Mass = 0
	a.InvMass = 0
	a.Inertia = 0
	a.InvInertia = 0
	a.LocalCenter = mgl64.Vec2{}

	if a.Kind != actor.KindDynamic {
		a.Position = a.Origin
		return
	}

	var localCenter mgl64.Vec2
	shapeIndex := a.ShapeList
	for shapeIndex != NullIndex {
		shape := w.shapes.MustAt(shapeIndex)
		shapeIndex = shape.NextShapeIndex

		if shape.Density == 0 {
			continue
		}

		md := shape.ComputeMass()
		a.Mass += md.Mass
		localCenter = localCenter.Add(md.Center.Mul(md.Mass))
		// Shape inertia is central; shift it to the body origin before the
		// common recentering below.
		a.Inertia += md.I + md.Mass*md.Center.Dot(md.Center)
	}

	if a.Mass > 0 {
		a.InvMass = 1.0 / a.Mass
		localCenter = localCenter.Mul(a.InvMass)
	}

	if a.Inertia > 0 && a.Mass > 0 {
		// Center the inertia about the center of mass.
		a.Inertia -= a.Mass * localCenter.Dot(localCenter)
		a.InvInertia = 1.0 / a.Inertia
	} else {
		a.Inertia = 0
		a.InvInertia = 0
	}

	oldCenter := a.Position
	a.LocalCenter = localCenter
	a.Position = actor.RotateVec(localCenter, a.Rot).Add(a.Origin)

	// The center of mass moved: adjust its velocity.
	deltaLinear := actor.CrossSV(a.AngularVelocity, a.Position.Sub(oldCenter))
	a.LinearVelocity = a.LinearVelocity.Add(deltaLinear)
}

// Step advances the simulation by dt seconds. The pipeline is: transform
// and broad-phase refresh, pair discovery, contact create/update/destroy,
// solver, accumulator reset, fracture sweep, event flush. The call is
// atomic: no partial state is observable afterwards.
func (w *World) Step(dt float64, velocityIterations, relaxationIterations int, warmStart bool) {
	// 1. Refresh transforms and broad-phase AABBs, and recompute mass for
	// actors marked dirty.
	for i := 0; i < w.actors.Capacity(); i++ {
		if !w.actors.IsValid(i) {
			continue
		}
		a := w.actors.MustAt(i)
		if a.Kind == actor.KindStatic && !a.Flags.IsSet(actor.FlagDirty) {
			continue
		}

		a.Origin = a.Position.Sub(actor.RotateVec(a.LocalCenter, a.Rot))
		xf := a.Transform()

		dirty := a.Flags.IsSet(actor.FlagDirty)

		shapeIndex := a.ShapeList
		for shapeIndex != NullIndex {
			shape := w.shapes.MustAt(shapeIndex)

			shape.AABB = shape.ComputeAABB(xf)
			fatAABB := w.broadphase.FatAABB(shape.ProxyIndex)
			if !fatAABB.Contains(shape.AABB) || dirty {
				w.broadphase.MoveProxy(shape.ProxyIndex, shape.AABB, mgl64.Vec2{})
			}

			shapeIndex = shape.NextShapeIndex
		}

		if dirty {
			w.computeActorMass(i)
			a.Flags.Clear(actor.FlagDirty)
		}
	}

	// 2. Pair discovery; new pairs get contacts unless already tracked.
	w.broadphase.UpdatePairs(func(shapeIndexA, shapeIndexB int) {
		if w.pairs.Contains(shapeIndexA, shapeIndexB) {
			return
		}
		// Shapes of the same actor never collide with each other.
		if w.shapes.MustAt(shapeIndexA).ActorIndex == w.shapes.MustAt(shapeIndexB).ActorIndex {
			return
		}
		w.createContact(shapeIndexA, shapeIndexB)
	})

	// 3. Update or destroy contacts. Iterate backwards so frees cannot
	// disturb the scan.
	for i := w.contacts.Capacity() - 1; i >= 0; i-- {
		if !w.contacts.IsValid(i) {
			continue
		}
		contact := w.contacts.MustAt(i)
		shapeA := w.shapes.MustAt(contact.ShapeIndexA)
		shapeB := w.shapes.MustAt(contact.ShapeIndexB)

		fatA := w.broadphase.FatAABB(shapeA.ProxyIndex)
		fatB := w.broadphase.FatAABB(shapeB.ProxyIndex)
		if fatA.Intersects(fatB) {
			w.updateContact(i)
		} else {
			w.destroyContact(i)
		}
	}

	// 4. Solve. Constraints are transient; nothing keeps a reference across
	// the step boundary.
	constraints := w.buildConstraints()
	ctx := constraint.NewContext(dt, velocityIterations, relaxationIterations, warmStart)
	constraint.Solve(w.actors, w.Gravity, constraints, &ctx, w.solverMode)

	// 5. The solver consumed the force and torque accumulators.
	for i := 0; i < w.actors.Capacity(); i++ {
		if !w.actors.IsValid(i) {
			continue
		}
		a := w.actors.MustAt(i)
		a.Forces = mgl64.Vec2{}
		a.Torques = 0
	}

	// 6. Fracture sweep over the stored impulses.
	w.fractureSweep(dt)

	// 7. Deliver buffered collision events.
	w.events.flush()
}

// buildConstraints collects one solver constraint per contact holding at
// least one manifold point.
func (w *World) buildConstraints() []constraint.ContactConstraint {
	constraints := make([]constraint.ContactConstraint, 0, w.contacts.Count())
	for i := 0; i < w.contacts.Capacity(); i++ {
		if !w.contacts.IsValid(i) {
			continue
		}
		contact := w.contacts.MustAt(i)
		if contact.Manifold.PointCount == 0 {
			continue
		}
		constraints = append(constraints, constraint.ContactConstraint{
			Manifold:   &contact.Manifold,
			IndexA:     contact.Edges[0].BodyIndex,
			IndexB:     contact.Edges[1].BodyIndex,
			Normal:     contact.Manifold.Normal,
			Friction:   contact.Friction,
			PointCount: contact.Manifold.PointCount,
		})
	}
	return constraints
}

// Update accumulates real time and runs fixed steps with the config
// defaults, capped per call so a long frame cannot spiral.
func (w *World) Update(dt float64) {
	w.accumulator += dt

	steps := 0
	for w.accumulator >= w.config.StepTime && steps < w.config.MaxStepsPerUpdate {
		w.Step(w.config.StepTime, w.config.VelocityIterations, w.config.RelaxationIterations, w.config.WarmStart)
		w.accumulator -= w.config.StepTime
		steps++
	}
	// Drop the remainder beyond the cap rather than falling further behind.
	if steps == w.config.MaxStepsPerUpdate {
		w.accumulator = math.Min(w.accumulator, w.config.StepTime)
	}
}

// Query reports every shape whose broad-phase fat AABB intersects the box.
// The callback returns false to abort.
func (w *World) Query(aabb actor.AABB, callback func(shapeIndex int) bool) {
	w.broadphase.Query(aabb, func(proxyID int) bool {
		return callback(w.broadphase.UserData(proxyID))
	})
}

// RayCast reports every shape whose broad-phase fat AABB intersects the
// segment p1-p2. Exact hit testing against the polygon is the caller's
// refinement.
func (w *World) RayCast(p1, p2 mgl64.Vec2, callback func(shapeIndex int) bool) {
	w.broadphase.RayCast(p1, p2, func(proxyID int) bool {
		return callback(w.broadphase.UserData(proxyID))
	})
}

// Broadphase exposes the broad phase for diagnostics.
func (w *World) Broadphase() *Broadphase {
	return w.broadphase
}

// ActorAt resolves an actor handle.
func (w *World) ActorAt(index int) (*actor.Actor, error) {
	return w.actors.At(index)
}

// ShapeAt resolves a shape handle.
func (w *World) ShapeAt(index int) (*actor.Shape, error) {
	return w.shapes.At(index)
}

// ContactAt resolves a contact handle.
func (w *World) ContactAt(index int) (*Contact, error) {
	return w.contacts.At(index)
}

// ActorCount returns the number of live actors.
func (w *World) ActorCount() int { return w.actors.Count() }

// ShapeCount returns the number of live shapes.
func (w *World) ShapeCount() int { return w.shapes.Count() }

// ContactCount returns the number of live contacts.
func (w *World) ContactCount() int { return w.contacts.Count() }

// EachActor visits every live actor. Returning false aborts the walk.
func (w *World) EachActor(fn func(index int, a *actor.Actor) bool) {
	for i := 0; i < w.actors.Capacity(); i++ {
		if !w.actors.IsValid(i) {
			continue
		}
		if !fn(i, w.actors.MustAt(i)) {
			return
		}
	}
}

// EachShape visits every live shape. Returning false aborts the walk.
func (w *World) EachShape(fn func(index int, s *actor.Shape) bool) {
	for i := 0; i < w.shapes.Capacity(); i++ {
		if !w.shapes.IsValid(i) {
			continue
		}
		if !fn(i, w.shapes.MustAt(i)) {
			return
		}
	}
}

// EachContact visits every live contact. Returning false aborts the walk.
func (w *World) EachContact(fn func(index int, c *Contact) bool) {
	for i := 0; i < w.contacts.Capacity(); i++ {
		if !w.contacts.IsValid(i) {
			continue
		}
		if !fn(i, w.contacts.MustAt(i)) {
			return
		}
	}
}
