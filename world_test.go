package shard

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"

	"github.com/akmonengine/shard/actor"
	"github.com/akmonengine/shard/constraint"
)

const dt = 1.0 / 60.0

// unitSquarePoints is the square [0,1] x [0,1] with its origin at a corner.
func unitSquarePoints() []mgl64.Vec2 {
	return []mgl64.Vec2{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
}

func newTestWorld(t *testing.T, gravity mgl64.Vec2) *World {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Gravity = gravity
	return NewWorld(cfg)
}

func addGround(t *testing.T, w *World) int {
	t.Helper()
	cfg := actor.DefaultConfig()
	cfg.Kind = actor.KindStatic
	ground, err := w.CreateActor(cfg)
	require.NoError(t, err)
	_, err = w.CreateShape(ground, actor.DefaultShapeConfig(), actor.MakeBox(10, 0.25))
	require.NoError(t, err)
	return ground
}

func addUnitSquare(t *testing.T, w *World, position mgl64.Vec2, friction float64) int {
	t.Helper()
	cfg := actor.DefaultConfig()
	cfg.Position = position
	index, err := w.CreateActor(cfg)
	require.NoError(t, err)

	shapeCfg := actor.DefaultShapeConfig()
	shapeCfg.Friction = friction
	_, err = w.CreateShape(index, shapeCfg, actor.NewPolygon(unitSquarePoints()))
	require.NoError(t, err)
	return index
}

func stepN(w *World, n int) {
	for i := 0; i < n; i++ {
		w.Step(dt, 8, 3, true)
	}
}

// validateContactGraph checks that every live contact's two edges are
// reachable from their body's contact list under the matching key.
func validateContactGraph(t *testing.T, w *World) {
	t.Helper()
	w.EachContact(func(index int, c *Contact) bool {
		for side := 0; side < 2; side++ {
			key := index<<1 | side
			body, err := w.ActorAt(c.Edges[side].BodyIndex)
			require.NoError(t, err)

			found := false
			walked := 0
			for edgeKey := body.ContactList; edgeKey != NullIndex; {
				if edgeKey == key {
					found = true
					break
				}
				edge := w.contacts.MustAt(edgeKey >> 1).Edges[edgeKey&1]
				edgeKey = edge.NextKey
				walked++
				require.Less(t, walked, 1000, "contact list cycle")
			}
			require.True(t, found, "contact %d side %d missing from body list", index, side)
		}
		return true
	})
}

func TestWorldLifecycle(t *testing.T) {
	t.Run("create actor validates config", func(t *testing.T) {
		w := newTestWorld(t, mgl64.Vec2{})
		cfg := actor.DefaultConfig()
		cfg.Kind = actor.Kind(99)
		_, err := w.CreateActor(cfg)
		require.ErrorIs(t, err, ErrInvalidConfig)

		cfg = actor.DefaultConfig()
		cfg.LinearDamping = -1
		_, err = w.CreateActor(cfg)
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("create shape validates input", func(t *testing.T) {
		w := newTestWorld(t, mgl64.Vec2{})
		a, err := w.CreateActor(actor.DefaultConfig())
		require.NoError(t, err)

		_, err = w.CreateShape(999, actor.DefaultShapeConfig(), actor.MakeSquare(0.5))
		require.ErrorIs(t, err, ErrInvalidHandle)

		var empty actor.Polygon
		_, err = w.CreateShape(a, actor.DefaultShapeConfig(), empty)
		require.ErrorIs(t, err, ErrDegeneratePolygon)

		bad := actor.DefaultShapeConfig()
		bad.Density = -1
		_, err = w.CreateShape(a, bad, actor.MakeSquare(0.5))
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("mass properties from shapes", func(t *testing.T) {
		w := newTestWorld(t, mgl64.Vec2{})
		index := addUnitSquare(t, w, mgl64.Vec2{0, 0}, 0.5)

		a, err := w.ActorAt(index)
		require.NoError(t, err)
		require.InDelta(t, 1.0, a.Mass, 1e-12)
		require.InDelta(t, 1.0/6.0, a.Inertia, 1e-9)
		// Center of mass moved to the square's centroid.
		require.InDelta(t, 0.5, a.Position.X(), 1e-12)
		require.InDelta(t, 0.5, a.Position.Y(), 1e-12)
		require.InDelta(t, 0.0, a.Origin.X(), 1e-12)
	})

	t.Run("static actors have zero effective mass", func(t *testing.T) {
		w := newTestWorld(t, mgl64.Vec2{})
		ground := addGround(t, w)
		a, err := w.ActorAt(ground)
		require.NoError(t, err)
		require.Zero(t, a.InvMass)
		require.Zero(t, a.InvInertia)
	})

	t.Run("remove actor tears down contacts and shapes", func(t *testing.T) {
		w := newTestWorld(t, mgl64.Vec2{})
		a := addUnitSquare(t, w, mgl64.Vec2{0, 0}, 0.5)
		b := addUnitSquare(t, w, mgl64.Vec2{0.9, 0}, 0.5)

		stepN(w, 1)
		require.Equal(t, 1, w.ContactCount())
		validateContactGraph(t, w)

		require.NoError(t, w.RemoveActor(a))
		require.Equal(t, 0, w.ContactCount())
		require.Equal(t, 1, w.ActorCount())
		require.Equal(t, 1, w.ShapeCount())

		other, err := w.ActorAt(b)
		require.NoError(t, err)
		require.Equal(t, 0, other.ContactCount)
		require.Equal(t, NullIndex, other.ContactList)

		_, err = w.ActorAt(a)
		require.Error(t, err)

		// The survivor keeps simulating.
		stepN(w, 2)
	})

	t.Run("remove invalid handle errors", func(t *testing.T) {
		w := newTestWorld(t, mgl64.Vec2{})
		require.ErrorIs(t, w.RemoveActor(123), ErrInvalidHandle)
	})
}

func TestWorldRestIdempotence(t *testing.T) {
	// No gravity, no contacts: a step must not disturb anything.
	w := newTestWorld(t, mgl64.Vec2{})
	index := addUnitSquare(t, w, mgl64.Vec2{1, 2}, 0.5)

	before, err := w.ActorAt(index)
	require.NoError(t, err)
	position := before.Position
	rotation := before.Rot

	stepN(w, 10)

	after, err := w.ActorAt(index)
	require.NoError(t, err)
	require.InDelta(t, position.X(), after.Position.X(), 1e-12)
	require.InDelta(t, position.Y(), after.Position.Y(), 1e-12)
	require.Equal(t, rotation, after.Rot)
	require.Zero(t, after.LinearVelocity.Len())
	require.Zero(t, after.AngularVelocity)
}

func TestWorldFallingBox(t *testing.T) {
	// A unit square dropped from origin height 1.0 onto a static slab whose
	// top surface is at y = 0.25. The square's origin settles on the
	// surface.
	w := newTestWorld(t, mgl64.Vec2{0, -9.81})
	addGround(t, w)
	box := addUnitSquare(t, w, mgl64.Vec2{0, 1.0}, 0.2)

	stepN(w, 30)
	a, err := w.ActorAt(box)
	require.NoError(t, err)
	require.InDelta(t, 0.26, a.Origin.Y(), 0.02, "origin.y after 30 steps")
	require.InDelta(t, 0.0, a.LinearVelocity.Y(), 0.05)

	stepN(w, 30)
	a, err = w.ActorAt(box)
	require.NoError(t, err)
	require.Less(t, a.LinearVelocity.Len(), 2e-3, "resting velocity")
	require.Less(t, math.Abs(a.AngularVelocity), 1e-2)
	require.InDelta(t, 0.26, a.Origin.Y(), 0.02)

	validateContactGraph(t, w)
}

func TestWorldStackedBoxes(t *testing.T) {
	w := newTestWorld(t, mgl64.Vec2{0, -9.81})
	addGround(t, w)
	bottom := addUnitSquare(t, w, mgl64.Vec2{0, 1.0}, 0.5)
	top := addUnitSquare(t, w, mgl64.Vec2{0.25, 3.5}, 0.5)

	stepN(w, 120)

	b, err := w.ActorAt(bottom)
	require.NoError(t, err)
	tp, err := w.ActorAt(top)
	require.NoError(t, err)

	require.InDelta(t, 0.25, b.Origin.Y(), 0.04, "bottom origin.y")
	require.InDelta(t, 1.25, tp.Origin.Y(), 0.06, "top origin.y")
	require.InDelta(t, 0.0, b.Origin.X(), 0.05)
	require.InDelta(t, 0.25, tp.Origin.X(), 0.08)

	require.Less(t, b.LinearVelocity.Len(), 5e-3)
	require.Less(t, tp.LinearVelocity.Len(), 5e-3)

	validateContactGraph(t, w)
}

func TestWorldContactPersistence(t *testing.T) {
	w := newTestWorld(t, mgl64.Vec2{})
	addUnitSquare(t, w, mgl64.Vec2{0, 0}, 0.5)
	addUnitSquare(t, w, mgl64.Vec2{0.9, 0}, 0.5)

	stepN(w, 1)

	require.Equal(t, 1, w.ContactCount())
	var firstIndex int
	var firstImpulses [2]float64
	w.EachContact(func(index int, c *Contact) bool {
		firstIndex = index
		require.Equal(t, 2, c.Manifold.PointCount, "edge-edge manifold")
		for i := 0; i < 2; i++ {
			require.Greater(t, c.Manifold.Points[i].NormalImpulse, 0.0)
			firstImpulses[i] = c.Manifold.Points[i].NormalImpulse
		}
		return true
	})

	stepN(w, 1)

	require.Equal(t, 1, w.ContactCount())
	w.EachContact(func(index int, c *Contact) bool {
		require.Equal(t, firstIndex, index, "contact slot is stable")
		require.Equal(t, 2, c.Manifold.PointCount)
		for i := 0; i < 2; i++ {
			require.True(t, c.Manifold.Points[i].Persisted, "point %d persisted", i)
		}
		return true
	})
	_ = firstImpulses
}

func TestWorldWarmStartConvergence(t *testing.T) {
	// At rest the stored impulses per step must carry the box's weight:
	// sum(normalImpulse) == m g h.
	w := newTestWorld(t, mgl64.Vec2{0, -9.81})
	addGround(t, w)
	addUnitSquare(t, w, mgl64.Vec2{0, 1.0}, 0.2)

	stepN(w, 90)

	total := 0.0
	w.EachContact(func(index int, c *Contact) bool {
		for i := 0; i < c.Manifold.PointCount; i++ {
			total += c.Manifold.Points[i].NormalImpulse
		}
		return true
	})

	weightImpulse := 1.0 * 9.81 * dt
	require.InDelta(t, weightImpulse, total, 0.3*weightImpulse)
}

func TestWorldRotationIntegration(t *testing.T) {
	// Unit square with density 6: mass 6, central inertia exactly 1.
	w := newTestWorld(t, mgl64.Vec2{})
	cfg := actor.DefaultConfig()
	index, err := w.CreateActor(cfg)
	require.NoError(t, err)

	shapeCfg := actor.DefaultShapeConfig()
	shapeCfg.Density = 6
	_, err = w.CreateShape(index, shapeCfg, actor.NewPolygon(unitSquarePoints()))
	require.NoError(t, err)

	a, err := w.ActorAt(index)
	require.NoError(t, err)
	require.InDelta(t, 1.0, a.Inertia, 1e-9)

	a.AddTorque(10)
	stepN(w, 1)

	a, err = w.ActorAt(index)
	require.NoError(t, err)
	require.InDelta(t, 10.0*dt, a.AngularVelocity, 1e-9)
	require.InDelta(t, 10.0*dt*dt, a.Rot.Angle(), 1e-9)

	// The accumulator was consumed: a further step adds no more spin.
	stepN(w, 1)
	a, err = w.ActorAt(index)
	require.NoError(t, err)
	require.InDelta(t, 10.0*dt, a.AngularVelocity, 1e-9)
}

func TestWorldForceIntegration(t *testing.T) {
	w := newTestWorld(t, mgl64.Vec2{})
	index := addUnitSquare(t, w, mgl64.Vec2{0, 0}, 0.5)

	a, err := w.ActorAt(index)
	require.NoError(t, err)
	a.AddForce(mgl64.Vec2{6, 0})
	stepN(w, 1)

	a, err = w.ActorAt(index)
	require.NoError(t, err)
	// dv = h F / m with m = 1.
	require.InDelta(t, 6.0*dt, a.LinearVelocity.X(), 1e-9)
}

func TestWorldKinematic(t *testing.T) {
	w := newTestWorld(t, mgl64.Vec2{0, -9.81})

	cfg := actor.DefaultConfig()
	cfg.Kind = actor.KindKinematic
	cfg.LinearVelocity = mgl64.Vec2{1, 0}
	index, err := w.CreateActor(cfg)
	require.NoError(t, err)
	_, err = w.CreateShape(index, actor.DefaultShapeConfig(), actor.MakeSquare(0.5))
	require.NoError(t, err)

	stepN(w, 60)

	a, err := w.ActorAt(index)
	require.NoError(t, err)
	// Gravity and impulses do not apply; the set velocity carries through.
	require.InDelta(t, 1.0, a.LinearVelocity.X(), 1e-9)
	require.InDelta(t, 0.0, a.LinearVelocity.Y(), 1e-9)
	require.InDelta(t, 1.0, a.Position.X(), 1e-6)
}

func TestWorldGravityToggle(t *testing.T) {
	w := newTestWorld(t, mgl64.Vec2{0, -9.81})
	index := addUnitSquare(t, w, mgl64.Vec2{0, 0}, 0.5)

	a, err := w.ActorAt(index)
	require.NoError(t, err)
	a.Flags.Clear(actor.FlagUseGravity)

	stepN(w, 10)
	a, err = w.ActorAt(index)
	require.NoError(t, err)
	require.Zero(t, a.LinearVelocity.Y())
}

func TestWorldBaumgarteMode(t *testing.T) {
	w := newTestWorld(t, mgl64.Vec2{0, -9.81})
	w.SetSolverMode(constraint.ModeBaumgarte)
	addGround(t, w)
	box := addUnitSquare(t, w, mgl64.Vec2{0, 1.0}, 0.2)

	stepN(w, 90)

	a, err := w.ActorAt(box)
	require.NoError(t, err)
	require.InDelta(t, 0.26, a.Origin.Y(), 0.03)
	require.Less(t, math.Abs(a.LinearVelocity.Y()), 0.05)
}

func TestWorldQuery(t *testing.T) {
	w := newTestWorld(t, mgl64.Vec2{})
	a := addUnitSquare(t, w, mgl64.Vec2{0, 0}, 0.5)
	addUnitSquare(t, w, mgl64.Vec2{10, 0}, 0.5)

	var hits []int
	w.Query(actor.AABB{Min: mgl64.Vec2{0.2, 0.2}, Max: mgl64.Vec2{0.8, 0.8}}, func(shapeIndex int) bool {
		hits = append(hits, shapeIndex)
		return true
	})
	require.Len(t, hits, 1)

	shape, err := w.ShapeAt(hits[0])
	require.NoError(t, err)
	require.Equal(t, a, shape.ActorIndex)

	var rayHits []int
	w.RayCast(mgl64.Vec2{-5, 0.5}, mgl64.Vec2{5, 0.5}, func(shapeIndex int) bool {
		rayHits = append(rayHits, shapeIndex)
		return true
	})
	require.Len(t, rayHits, 1)
}

func TestWorldEvents(t *testing.T) {
	w := newTestWorld(t, mgl64.Vec2{0, -9.81})
	addGround(t, w)
	addUnitSquare(t, w, mgl64.Vec2{0, 1.0}, 0.2)

	enters := 0
	stays := 0
	w.Events().Subscribe(CollisionEnter, func(e Event) { enters++ })
	w.Events().Subscribe(CollisionStay, func(e Event) { stays++ })

	stepN(w, 60)

	require.Equal(t, 1, enters, "one enter for the landing")
	require.Greater(t, stays, 10)
}

func TestWorldUpdateAccumulator(t *testing.T) {
	w := newTestWorld(t, mgl64.Vec2{0, -9.81})
	index := addUnitSquare(t, w, mgl64.Vec2{0, 5}, 0.5)

	// Two fixed steps worth of time in one call.
	w.Update(2 * w.config.StepTime)

	a, err := w.ActorAt(index)
	require.NoError(t, err)
	require.InDelta(t, -2*9.81*dt, a.LinearVelocity.Y(), 1e-9)
}

func TestWorldDirtyMassRecompute(t *testing.T) {
	w := newTestWorld(t, mgl64.Vec2{})
	index := addUnitSquare(t, w, mgl64.Vec2{0, 0}, 0.5)

	a, err := w.ActorAt(index)
	require.NoError(t, err)
	require.InDelta(t, 1.0, a.Mass, 1e-12)

	// Change the density behind the world's back, then mark dirty.
	w.EachShape(func(i int, s *actor.Shape) bool {
		s.Density = 2.0
		return true
	})
	a.Flags.Set(actor.FlagDirty)

	stepN(w, 1)

	a, err = w.ActorAt(index)
	require.NoError(t, err)
	require.InDelta(t, 2.0, a.Mass, 1e-12)
	require.False(t, a.Flags.IsSet(actor.FlagDirty))
}
