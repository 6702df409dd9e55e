// Package manifold builds contact manifolds between convex polygons.
//
// The strategy follows the speculative-contact pipeline: a GJK distance
// query classifies the pair, deep or grazing overlap falls back to SAT with
// reference/incident edge clipping, and separated-but-close pairs derive
// their points from the cached GJK simplex features (vertex-vertex or
// vertex-edge). Each point carries a stable 16-bit feature id so the solver
// can match persisted points across frames and keep accumulated impulses.
package manifold

import (
	"math"

	"github.com/akmonengine/shard/actor"
	"github.com/akmonengine/shard/gjk"
	"github.com/go-gl/mathgl/mgl64"
)

// MaxPoints is the manifold point cap; two points fully constrain an
// edge-edge contact in 2D.
const MaxPoints = 2

// overlapThreshold is the separation below which the pair is treated as
// penetrating and resolved through SAT rather than simplex features.
const overlapThreshold = 0.1 * actor.LinearSlop

// MakeID packs the two source feature indices (8 bits each) into a point id.
func MakeID(a, b int) uint16 {
	return uint16(uint8(a))<<8 | uint16(uint8(b))
}

// Point is a single contact point.
type Point struct {
	// LocalAnchorA and LocalAnchorB locate the point relative to each
	// shape's body origin, so the anchors stay usable as the bodies move.
	LocalAnchorA mgl64.Vec2
	LocalAnchorB mgl64.Vec2

	// Separation along the manifold normal; negative when penetrating.
	Separation float64

	// Accumulated impulses carried across frames for warm starting.
	NormalImpulse  float64
	TangentImpulse float64

	// ID identifies the source features; Persisted is set when the point
	// matched one from the previous manifold.
	ID        uint16
	Persisted bool
}

// Manifold is the contact surface between two shapes: up to two points
// sharing one normal, pointing from A to B in world space.
type Manifold struct {
	Points     [MaxPoints]Point
	Normal     mgl64.Vec2
	PointCount int
}

// clip clips the incident edge of poly2 against the side planes of the
// reference edge on poly1 and emits both clipped points with their
// separation along the reference normal, less the combined radius. No point
// is dropped for its separation, so a positive gap still yields two
// speculative points. All coordinates are in
// shape A's local frame; flip marks that the reference edge belongs to B.
func clip(polyA, polyB *actor.Polygon, edgeA, edgeB int, flip bool) Manifold {
	var m Manifold

	var poly1, poly2 *actor.Polygon
	var i11, i12, i21, i22 int

	if flip {
		poly1, poly2 = polyB, polyA
		i11, i21 = edgeB, edgeA
		i12 = (edgeB + 1) % polyB.Count
		i22 = (edgeA + 1) % polyA.Count
	} else {
		poly1, poly2 = polyA, polyB
		i11, i21 = edgeA, edgeB
		i12 = (edgeA + 1) % polyA.Count
		i22 = (edgeB + 1) % polyB.Count
	}

	normal := poly1.Normals[i11]

	// Reference edge vertices.
	v11 := poly1.Vertices[i11]
	v12 := poly1.Vertices[i12]

	// Incident edge vertices.
	v21 := poly2.Vertices[i21]
	v22 := poly2.Vertices[i22]

	tangent := mgl64.Vec2{-normal.Y(), normal.X()}

	lower1 := 0.0
	upper1 := v12.Sub(v11).Dot(tangent)

	// The incident edge runs opposite the tangent due to CCW winding.
	upper2 := v21.Sub(v11).Dot(tangent)
	lower2 := v22.Sub(v11).Dot(tangent)

	vLower := v22
	if lower2 < lower1 && upper2-lower2 > actor.Epsilon {
		vLower = actor.Lerp(v22, v21, (lower1-lower2)/(upper2-lower2))
	}
	vUpper := v21
	if upper2 > upper1 && upper2-lower2 > actor.Epsilon {
		vUpper = actor.Lerp(v22, v21, (upper1-lower2)/(upper2-lower2))
	}

	separationLower := vLower.Sub(v11).Dot(normal)
	separationUpper := vUpper.Sub(v11).Dot(normal)

	r1 := poly1.Radius
	r2 := poly2.Radius

	// Put contact points at the midpoint of the gap, accounting for radii.
	vLower = vLower.Add(normal.Mul(0.5 * (r1 - r2 - separationLower)))
	vUpper = vUpper.Add(normal.Mul(0.5 * (r1 - r2 - separationUpper)))

	radius := r1 + r2

	if !flip {
		m.Normal = normal
		m.Points[0] = Point{
			LocalAnchorA: vLower,
			Separation:   separationLower - radius,
			ID:           MakeID(i11, i22),
		}
		m.Points[1] = Point{
			LocalAnchorA: vUpper,
			Separation:   separationUpper - radius,
			ID:           MakeID(i12, i21),
		}
		m.PointCount = 2
	} else {
		m.Normal = normal.Mul(-1)
		m.Points[0] = Point{
			LocalAnchorA: vUpper,
			Separation:   separationUpper - radius,
			ID:           MakeID(i21, i12),
		}
		m.Points[1] = Point{
			LocalAnchorA: vLower,
			Separation:   separationLower - radius,
			ID:           MakeID(i22, i11),
		}
		m.PointCount = 2
	}

	return m
}

// findMaxSeparation returns the edge of poly1 with the largest support
// separation against poly2, and that separation.
func findMaxSeparation(poly1, poly2 *actor.Polygon) (int, float64) {
	bestIndex := 0
	maxSeparation := -math.MaxFloat64

	for i := 0; i < poly1.Count; i++ {
		n := poly1.Normals[i]
		v1 := poly1.Vertices[i]

		// Deepest point of poly2 against edge i.
		si := math.MaxFloat64
		for j := 0; j < poly2.Count; j++ {
			if sij := n.Dot(poly2.Vertices[j].Sub(v1)); sij < si {
				si = sij
			}
		}

		if si > maxSeparation {
			maxSeparation = si
			bestIndex = i
		}
	}

	return bestIndex, maxSeparation
}

// satClip picks the reference edge by maximum separation over both polygons
// (smaller penetration wins), finds the most anti-parallel incident edge on
// the other polygon, and clips.
func satClip(polyA, polyB *actor.Polygon) Manifold {
	edgeA, separationA := findMaxSeparation(polyA, polyB)
	edgeB, separationB := findMaxSeparation(polyB, polyA)

	flip := separationB > separationA
	if flip {
		searchDirection := polyB.Normals[edgeB]
		edgeA = 0
		minDot := math.MaxFloat64
		for i := 0; i < polyA.Count; i++ {
			if dot := searchDirection.Dot(polyA.Normals[i]); dot < minDot {
				minDot = dot
				edgeA = i
			}
		}
	} else {
		searchDirection := polyA.Normals[edgeA]
		edgeB = 0
		minDot := math.MaxFloat64
		for i := 0; i < polyB.Count; i++ {
			if dot := searchDirection.Dot(polyB.Normals[i]); dot < minDot {
				minDot = dot
				edgeB = i
			}
		}
	}

	return clip(polyA, polyB, edgeA, edgeB, flip)
}

// Collide builds the manifold between two polygons under their world
// transforms. The cache warm-starts the embedded GJK query and receives the
// final simplex for the next frame. A separation beyond the speculative
// distance yields an empty manifold.
func Collide(shapeA, shapeB *actor.Polygon, xfA, xfB actor.Transform, cache *gjk.Cache) Manifold {
	var m Manifold
	radius := shapeA.Radius + shapeB.Radius

	// Work entirely in shape A's local frame.
	xfRel := actor.InvMulTransforms(xfA, xfB)

	var localShapeB actor.Polygon
	localShapeB.Count = shapeB.Count
	localShapeB.Radius = shapeB.Radius
	for i := 0; i < shapeB.Count; i++ {
		localShapeB.Vertices[i] = xfRel.Apply(shapeB.Vertices[i])
		localShapeB.Normals[i] = actor.RotateVec(shapeB.Normals[i], xfRel.Q)
	}

	identity := actor.NewTransform()
	input := gjk.NewInput(
		gjk.Proxy{Vertices: shapeA.Vertices[:shapeA.Count], Radius: shapeA.Radius},
		gjk.Proxy{Vertices: localShapeB.Vertices[:localShapeB.Count], Radius: localShapeB.Radius},
		identity, identity,
	)
	output := gjk.Distance(&input, cache)

	if output.Distance > actor.SpeculativeDistance {
		// Too far apart even for a speculative contact.
		return m
	}

	if output.Distance < overlapThreshold {
		// Penetrating or grazing: SAT with clipping.
		m = satClip(shapeA, &localShapeB)
		if m.PointCount > 0 {
			m.Normal = actor.RotateVec(m.Normal, xfA.Q)
			for i := 0; i < m.PointCount; i++ {
				m.Points[i].LocalAnchorB = xfRel.ApplyInverse(m.Points[i].LocalAnchorA)
			}
		}
		return m
	}

	if cache.Count == 3 {
		// Enclosing simplex with positive distance is a degenerate result.
		return m
	}

	if cache.Count == 1 {
		// Vertex-vertex: a single point midway along the contact normal.
		pA := output.PointA
		pB := output.PointB

		normal := pB.Sub(pA).Normalize()
		contactPointA := pB.Add(normal.Mul(0.5 * (shapeA.Radius - localShapeB.Radius - output.Distance)))

		m.Normal = actor.RotateVec(normal, xfA.Q)
		m.Points[0] = Point{
			LocalAnchorA: contactPointA,
			LocalAnchorB: xfRel.ApplyInverse(contactPointA),
			Separation:   output.Distance - radius,
			ID:           MakeID(cache.IndexA[0], cache.IndexB[0]),
		}
		m.PointCount = 1
		return m
	}

	// Vertex-edge or edge-edge: the shape whose closest feature is an edge
	// supplies the reference edge; the other supplies the incident edge,
	// restricted to the two edges adjacent to its closest vertex.
	a1, a2 := cache.IndexA[0], cache.IndexA[1]
	b1, b2 := cache.IndexB[0], cache.IndexB[1]

	var edgeA, edgeB int
	var flip bool

	if a1 == a2 {
		// One point on A, an edge on B: reference is the B edge most aligned
		// with the closest-point axis.
		axis := output.PointA.Sub(output.PointB)
		dot1 := axis.Dot(localShapeB.Normals[b1])
		dot2 := axis.Dot(localShapeB.Normals[b2])
		edgeB = b1
		if dot2 > dot1 {
			edgeB = b2
		}

		flip = true

		// Incident edge on A, adjacent to the closest vertex.
		refNormal := localShapeB.Normals[edgeB]
		edgeA1 := a1
		edgeA2 := (a1 + shapeA.Count - 1) % shapeA.Count
		edgeA = edgeA1
		if refNormal.Dot(shapeA.Normals[edgeA2]) < refNormal.Dot(shapeA.Normals[edgeA1]) {
			edgeA = edgeA2
		}
	} else {
		axis := output.PointB.Sub(output.PointA)
		dot1 := axis.Dot(shapeA.Normals[a1])
		dot2 := axis.Dot(shapeA.Normals[a2])
		edgeA = a1
		if dot2 > dot1 {
			edgeA = a2
		}

		flip = false

		refNormal := shapeA.Normals[edgeA]
		edgeB1 := b1
		edgeB2 := (b1 + localShapeB.Count - 1) % localShapeB.Count
		edgeB = edgeB1
		if refNormal.Dot(localShapeB.Normals[edgeB2]) < refNormal.Dot(localShapeB.Normals[edgeB1]) {
			edgeB = edgeB2
		}
	}

	m = clip(shapeA, &localShapeB, edgeA, edgeB, flip)
	if m.PointCount > 0 {
		m.Normal = actor.RotateVec(m.Normal, xfA.Q)
		for i := 0; i < m.PointCount; i++ {
			m.Points[i].LocalAnchorB = xfRel.ApplyInverse(m.Points[i].LocalAnchorA)
		}
	}

	return m
}
