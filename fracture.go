package shard

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/akmonengine/shard/actor"
	"github.com/akmonengine/shard/pool"
)

// FractureMaterial holds the material parameters controlling when and how a
// fracturable actor breaks.
type FractureMaterial struct {
	Toughness   float64 // resistance to crack initiation
	Elasticity  float64 // Young's modulus
	Brittleness float64
	// Anisotropy biases crack propagation along a direction.
	Anisotropy       mgl64.Vec2
	AnisotropyFactor float64
	// K is a scaling constant for fine tuning the threshold.
	K float64
}

// DefaultFractureMaterial returns a mid-range material.
func DefaultFractureMaterial() FractureMaterial {
	return FractureMaterial{
		Toughness:   0.5,
		Elasticity:  10.0,
		Brittleness: 0.5,
		K:           1.0,
	}
}

// FracturePattern is a pre-built tessellation guide bound to fracturables.
// The core stores patterns and hands them to the tessellator; it never
// interprets the sites itself.
type FracturePattern struct {
	Name  string
	Sites []mgl64.Vec2
}

// Fracturable tags an actor for the post-step fracture sweep.
type Fracturable struct {
	Material     FractureMaterial
	ActorIndex   int
	PatternIndex int
	// OnceFracturable stops the fragments from being fracturable themselves.
	OnceFracturable bool
}

// FractureImpact describes the impulses that broke an actor, in its local
// frame, handed to the tessellator.
type FractureImpact struct {
	LocalContacts [2]mgl64.Vec2
	Normal        mgl64.Vec2
	ImpulseForces [2]float64
	ContactCount  int
	Transform     actor.Transform
}

// Fracturer tessellates a broken polygon into fragments. It receives the
// actor's polygon vertices in local space, the material, the impact and the
// bound pattern (nil when none). Returning no fragments cancels the
// fracture. The Voronoi construction itself is the caller's concern.
type Fracturer func(vertices []mgl64.Vec2, material FractureMaterial, impact FractureImpact, pattern *FracturePattern) [][]mgl64.Vec2

// SetFracturer installs the tessellation callback used by the post-step
// sweep. Without one, fracturable actors never break.
func (w *World) SetFracturer(f Fracturer) {
	w.fracturer = f
}

// MakeFracturable tags an actor with a fracture material and returns the
// fracturable's handle. Tagging the same actor twice is an error.
func (w *World) MakeFracturable(actorIndex int, material FractureMaterial) (int, error) {
	if !w.actors.IsValid(actorIndex) {
		return pool.NullIndex, ErrInvalidHandle
	}
	for i := 0; i < w.fracturables.Capacity(); i++ {
		if !w.fracturables.IsValid(i) {
			continue
		}
		if w.fracturables.MustAt(i).ActorIndex == actorIndex {
			return pool.NullIndex, ErrInvalidConfig
		}
	}

	index, f := w.fracturables.Alloc()
	f.Material = material
	f.ActorIndex = actorIndex
	f.PatternIndex = pool.NullIndex
	f.OnceFracturable = true
	return index, nil
}

// CreateFracturePattern stores a pattern and returns its handle.
func (w *World) CreateFracturePattern(pattern FracturePattern) int {
	index, p := w.patterns.Alloc()
	*p = pattern
	return index
}

// BindPattern attaches a stored pattern to a fracturable.
func (w *World) BindPattern(fracturableIndex, patternIndex int) error {
	f, err := w.fracturables.At(fracturableIndex)
	if err != nil {
		return ErrInvalidHandle
	}
	if !w.patterns.IsValid(patternIndex) {
		return ErrInvalidHandle
	}
	f.PatternIndex = patternIndex
	return nil
}

// fractureThreshold is the impulse-rate a contact must exceed to crack the
// material: k * (toughness * elasticity) / (density * brittleness).
func fractureThreshold(material FractureMaterial, density float64) float64 {
	denom := density * material.Brittleness
	if denom <= 0 {
		return 0
	}
	return material.K * (material.Toughness * material.Elasticity) / denom
}

// fractureSweep inspects the persistent manifold impulses of every
// fracturable actor after the solver ran. When a contact's impulse rate
// exceeds the material threshold, the actor is replaced by the tessellated
// fragments within the same step: total mass is preserved, fragments
// inherit the parent's velocity field, and the broad phase is rewired
// atomically by the destroy/create calls.
func (w *World) fractureSweep(dt float64) {
	if w.fracturer == nil || dt <= 0 {
		return
	}
	invDT := 1.0 / dt

	for i := 0; i < w.fracturables.Capacity(); i++ {
		if !w.fracturables.IsValid(i) {
			continue
		}
		f := w.fracturables.MustAt(i)

		if !w.actors.IsValid(f.ActorIndex) {
			// The actor was removed externally; drop the tag.
			w.fracturables.Free(i)
			continue
		}

		a := w.actors.MustAt(f.ActorIndex)
		if a.Kind != actor.KindDynamic || a.ShapeList == NullIndex {
			continue
		}

		shape := w.shapes.MustAt(a.ShapeList)
		density := shape.Density
		threshold := fractureThreshold(f.Material, density)
		if threshold <= 0 {
			continue
		}

		impact, force := w.strongestImpact(a, shape, invDT)
		if impact.ContactCount == 0 || force <= threshold {
			continue
		}

		w.fracture(i, f.ActorIndex, shape, impact)
	}
}

// strongestImpact walks the actor's contact list and returns the impact of
// the manifold with the largest accumulated normal impulse, converted to a
// force by the inverse step time.
func (w *World) strongestImpact(a *actor.Actor, shape *actor.Shape, invDT float64) (FractureImpact, float64) {
	var impact FractureImpact
	bestForce := 0.0

	xf := a.Transform()

	edgeKey := a.ContactList
	for edgeKey != NullIndex {
		contactIndex := edgeKey >> 1
		side := edgeKey & 1
		contact := w.contacts.MustAt(contactIndex)

		total := 0.0
		for p := 0; p < contact.Manifold.PointCount; p++ {
			total += contact.Manifold.Points[p].NormalImpulse
		}
		force := total * invDT

		if force > bestForce {
			bestForce = force

			var candidate FractureImpact
			candidate.Normal = contact.Manifold.Normal
			candidate.Transform = xf
			for p := 0; p < contact.Manifold.PointCount; p++ {
				mp := &contact.Manifold.Points[p]
				anchor := mp.LocalAnchorA
				if side == 1 {
					anchor = mp.LocalAnchorB
				}
				candidate.LocalContacts[p] = anchor
				candidate.ImpulseForces[p] = mp.NormalImpulse * invDT
			}
			candidate.ContactCount = contact.Manifold.PointCount
			impact = candidate
		}

		edgeKey = contact.Edges[side].NextKey
	}

	return impact, bestForce
}

// fracture replaces the actor with the fragments returned by the
// tessellator.
func (w *World) fracture(fracturableIndex, actorIndex int, shape *actor.Shape, impact FractureImpact) {
	f := w.fracturables.MustAt(fracturableIndex)

	var pattern *FracturePattern
	if f.PatternIndex != pool.NullIndex && w.patterns.IsValid(f.PatternIndex) {
		pattern = w.patterns.MustAt(f.PatternIndex)
	}

	vertices := shape.Polygon.Vertices[:shape.Polygon.Count]
	fragments := w.fracturer(vertices, f.Material, impact, pattern)
	if len(fragments) == 0 {
		return
	}

	// Build fragment polygons first; a degenerate fragment cancels the
	// whole fracture so mass cannot silently leak.
	polygons := make([]actor.Polygon, 0, len(fragments))
	totalArea := 0.0
	for _, points := range fragments {
		p := actor.NewPolygon(points)
		if p.Count < 3 {
			return
		}
		md := p.ComputeMass(1.0)
		polygons = append(polygons, p)
		totalArea += md.Mass // density 1: mass == area
	}
	if totalArea <= actor.Epsilon {
		return
	}

	parent := w.actors.MustAt(actorIndex)
	parentMass := parent.Mass
	parentCenter := parent.Position
	parentVelocity := parent.LinearVelocity
	parentAngular := parent.AngularVelocity
	parentXF := parent.Transform()
	material := f.Material
	once := f.OnceFracturable

	shapeConfig := actor.ShapeConfig{
		Friction:    shape.Friction,
		Restitution: shape.Restitution,
		// Uniform density chosen so the fragment masses sum to the parent's.
		Density: parentMass / totalArea,
	}

	w.fracturables.Free(fracturableIndex)
	if err := w.RemoveActor(actorIndex); err != nil {
		return
	}

	for _, p := range polygons {
		cfg := actor.DefaultConfig()
		cfg.Position = parentXF.P
		cfg.Angle = parentXF.Q.Angle()
		cfg.AngularVelocity = parentAngular

		childIndex, err := w.CreateActor(cfg)
		if err != nil {
			continue
		}
		if _, err := w.CreateShape(childIndex, shapeConfig, p); err != nil {
			w.RemoveActor(childIndex)
			continue
		}

		// The fragment inherits the parent's velocity field at its own
		// center of mass.
		child := w.actors.MustAt(childIndex)
		r := child.Position.Sub(parentCenter)
		child.LinearVelocity = parentVelocity.Add(actor.CrossSV(parentAngular, r))

		if !once {
			w.MakeFracturable(childIndex, material)
		}
	}
}
