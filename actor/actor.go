package actor

import "github.com/go-gl/mathgl/mgl64"

// Kind classifies how a body participates in the simulation.
type Kind int

const (
	// KindStatic bodies never move and have infinite effective mass
	// (e.g. ground, walls).
	KindStatic Kind = iota

	// KindKinematic bodies move with externally set velocities and are not
	// affected by impulses or gravity.
	KindKinematic

	// KindDynamic bodies are affected by forces, gravity and collisions.
	KindDynamic
)

// Flags is a small bit set carried by each actor.
type Flags uint8

const (
	// FlagUseGravity enables world gravity on a dynamic actor.
	FlagUseGravity Flags = 1 << iota
	// FlagDirty marks an actor whose mass properties or proxies need a
	// refresh at the start of the next step.
	FlagDirty
)

// Set turns the given bits on.
func (f *Flags) Set(mask Flags) { *f |= mask }

// Clear turns the given bits off.
func (f *Flags) Clear(mask Flags) { *f &^= mask }

// Toggle flips the given bits.
func (f *Flags) Toggle(mask Flags) { *f ^= mask }

// IsSet reports whether all the given bits are on.
func (f Flags) IsSet(mask Flags) bool { return f&mask == mask }

// NullIndex marks the end of the intrusive shape and contact lists.
const NullIndex = -1

// Config describes a new actor.
type Config struct {
	Kind            Kind
	Position        mgl64.Vec2
	Angle           float64 // radians
	LinearVelocity  mgl64.Vec2
	AngularVelocity float64
	LinearDamping   float64
	AngularDamping  float64
	GravityScale    float64
}

// DefaultConfig returns a dynamic actor config at the origin with gravity
// enabled.
func DefaultConfig() Config {
	return Config{
		Kind:         KindDynamic,
		GravityScale: 1.0,
	}
}

// Actor is a rigid body. Actors live in the world's pool and reference their
// shapes and contacts through intrusive index lists; they never hold
// pointers into other pools.
type Actor struct {
	Kind  Kind
	Flags Flags

	// Origin is the body origin in world space (where shapes are anchored).
	// Position is the center of mass in world space; LocalCenter is the
	// center of mass offset in the body frame, so
	// Position == Origin + rotate(LocalCenter, Rot).
	Origin      mgl64.Vec2
	Position    mgl64.Vec2
	LocalCenter mgl64.Vec2
	Rot         Rot

	LinearVelocity  mgl64.Vec2
	AngularVelocity float64

	// DeltaPosition accumulates the position change inside the solver and is
	// committed at the end of the step.
	DeltaPosition mgl64.Vec2

	Forces  mgl64.Vec2
	Torques float64

	Mass       float64
	InvMass    float64
	Inertia    float64
	InvInertia float64

	LinearDamping  float64
	AngularDamping float64
	GravityScale   float64

	// ShapeList heads the singly linked list of attached shape indices.
	ShapeList  int
	ShapeCount int

	// ContactList heads the doubly linked list of contact edge keys; a key
	// is (contactIndex << 1) | edgeSide.
	ContactList  int
	ContactCount int
}

// Transform returns the body-origin transform used to place shapes.
func (a *Actor) Transform() Transform {
	return Transform{P: a.Origin, Q: a.Rot}
}

// AddForce accumulates a force (applied at the center of mass) for the next
// step. Static and kinematic actors ignore forces.
func (a *Actor) AddForce(force mgl64.Vec2) {
	if a.Kind != KindDynamic {
		return
	}
	a.Forces = a.Forces.Add(force)
}

// AddTorque accumulates a torque for the next step.
func (a *Actor) AddTorque(torque float64) {
	if a.Kind != KindDynamic {
		return
	}
	a.Torques += torque
}

// SetAngle rotates the actor to the given angle and marks it dirty so the
// broad phase refreshes its proxies.
func (a *Actor) SetAngle(radians float64) {
	a.Rot = NewRot(radians)
	a.Flags.Set(FlagDirty)
}
