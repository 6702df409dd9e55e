package actor

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// MaxPolygonVertices caps the vertex count of a convex polygon shape. Convex
// collision rarely benefits from more; the cap keeps polygons in fixed-size
// storage with no per-shape allocation.
const MaxPolygonVertices = 8

// weldToleranceSqr is the squared distance below which input vertices are
// merged during hull construction.
const weldToleranceSqr = 16.0 * LinearSlop * LinearSlop

// MassData holds the mass properties computed for a shape.
type MassData struct {
	// Mass of the shape, usually in kilograms.
	Mass float64
	// Center is the centroid relative to the shape's origin.
	Center mgl64.Vec2
	// I is the rotational inertia about the centroid.
	I float64
}

// Polygon is a solid convex polygon. Vertices wind counter-clockwise with
// the interior to the left of each edge; Normals[i] is the outward unit
// normal of edge i (from Vertices[i] to Vertices[i+1]).
type Polygon struct {
	Vertices [MaxPolygonVertices]mgl64.Vec2
	Normals  [MaxPolygonVertices]mgl64.Vec2
	Count    int
	// Radius is an optional skin for curved shapes. Zero for sharp polygons.
	Radius float64
}

// hull is the working result of quickhull.
type hull struct {
	points [MaxPolygonVertices]mgl64.Vec2
	count  int
}

// qhRecurse finds the hull points strictly to the right of the directed edge
// p1->p2, in order.
func qhRecurse(p1, p2 mgl64.Vec2, ps []mgl64.Vec2) hull {
	var h hull
	if len(ps) == 0 {
		return h
	}

	e := p2.Sub(p1).Normalize()

	// Keep points right of e and track the one furthest from the edge.
	var rightPoints [MaxPolygonVertices]mgl64.Vec2
	rightCount := 0

	bestIndex := 0
	bestDistance := Cross(ps[0].Sub(p1), e)
	if bestDistance > 0 {
		rightPoints[rightCount] = ps[0]
		rightCount++
	}
	for i := 1; i < len(ps); i++ {
		distance := Cross(ps[i].Sub(p1), e)
		if distance > bestDistance {
			bestIndex = i
			bestDistance = distance
		}
		if distance > 0 {
			rightPoints[rightCount] = ps[i]
			rightCount++
		}
	}

	if bestDistance < 2.0*LinearSlop {
		return h
	}

	bestPoint := ps[bestIndex]

	h1 := qhRecurse(p1, bestPoint, rightPoints[:rightCount])
	h2 := qhRecurse(bestPoint, p2, rightPoints[:rightCount])

	for i := 0; i < h1.count; i++ {
		h.points[h.count] = h1.points[i]
		h.count++
	}
	h.points[h.count] = bestPoint
	h.count++
	for i := 0; i < h2.count; i++ {
		h.points[h.count] = h2.points[i]
		h.count++
	}

	return h
}

// computeHull runs quickhull over the input points: welds near-duplicates,
// splits on the two extreme points, recurses on each side, then removes
// collinear midpoints. Returns an empty hull when the input is degenerate
// (fewer than 3 unique points, or all collinear).
func computeHull(points []mgl64.Vec2) hull {
	var h hull
	count := len(points)
	if count < 3 || count > MaxPolygonVertices {
		return h
	}

	box := AABB{
		Min: mgl64.Vec2{math.MaxFloat64, math.MaxFloat64},
		Max: mgl64.Vec2{-math.MaxFloat64, -math.MaxFloat64},
	}

	// Aggressive point welding; the first point always survives. The bounding
	// box is accumulated for the extreme-point seed below.
	var ps [MaxPolygonVertices]mgl64.Vec2
	n := 0
	for i := 0; i < count; i++ {
		box.Min = VecMin(box.Min, points[i])
		box.Max = VecMax(box.Max, points[i])

		vi := points[i]
		unique := true
		for j := 0; j < i; j++ {
			if vi.Sub(points[j]).LenSqr() < weldToleranceSqr {
				unique = false
				break
			}
		}
		if unique {
			ps[n] = vi
			n++
		}
	}

	if n < 3 {
		// All points nearly coincident.
		return h
	}

	// First hull point: furthest from the bounding box center.
	c := box.Center()
	f1 := 0
	dsq1 := c.Sub(ps[0]).LenSqr()
	for i := 1; i < n; i++ {
		if dsq := c.Sub(ps[i]).LenSqr(); dsq > dsq1 {
			f1 = i
			dsq1 = dsq
		}
	}
	p1 := ps[f1]
	ps[f1] = ps[n-1]
	n--

	// Second hull point: furthest from p1.
	f2 := 0
	dsq2 := p1.Sub(ps[0]).LenSqr()
	for i := 1; i < n; i++ {
		if dsq := p1.Sub(ps[i]).LenSqr(); dsq > dsq2 {
			f2 = i
			dsq2 = dsq
		}
	}
	p2 := ps[f2]
	ps[f2] = ps[n-1]
	n--

	// Split the remainder into points right and left of the line p1-p2.
	var rightPoints, leftPoints [MaxPolygonVertices - 2]mgl64.Vec2
	rightCount, leftCount := 0, 0
	e := p2.Sub(p1).Normalize()
	for i := 0; i < n; i++ {
		d := Cross(ps[i].Sub(p1), e)
		// Points within slop of the line are dropped here and recovered as
		// collinear later if they matter.
		if d >= 2.0*LinearSlop {
			rightPoints[rightCount] = ps[i]
			rightCount++
		} else if d <= -2.0*LinearSlop {
			leftPoints[leftCount] = ps[i]
			leftCount++
		}
	}

	h1 := qhRecurse(p1, p2, rightPoints[:rightCount])
	h2 := qhRecurse(p2, p1, leftPoints[:leftCount])

	if h1.count == 0 && h2.count == 0 {
		// All points collinear.
		return h
	}

	// Stitch the hulls together preserving CCW winding.
	h.points[h.count] = p1
	h.count++
	for i := 0; i < h1.count; i++ {
		h.points[h.count] = h1.points[i]
		h.count++
	}
	h.points[h.count] = p2
	h.count++
	for i := 0; i < h2.count; i++ {
		h.points[h.count] = h2.points[i]
		h.count++
	}

	// Remove collinear midpoints.
	searching := true
	for searching && h.count > 2 {
		searching = false
		for i := 0; i < h.count; i++ {
			i1 := i
			i2 := (i + 1) % h.count
			i3 := (i + 2) % h.count

			s1 := h.points[i1]
			s2 := h.points[i2]
			s3 := h.points[i3]

			r := s3.Sub(s1).Normalize()
			if Cross(s2.Sub(s1), r) <= 2.0*LinearSlop {
				for j := i2; j < h.count-1; j++ {
					h.points[j] = h.points[j+1]
				}
				h.count--
				searching = true
				break
			}
		}
	}

	if h.count < 3 {
		h.count = 0
	}

	return h
}

// Set rebuilds the polygon from the given points: the convex hull is
// computed (welding near-duplicate vertices, removing collinear triplets)
// and edge normals derived. Degenerate input leaves an empty polygon with
// Count == 0.
func (p *Polygon) Set(points []mgl64.Vec2) {
	p.Count = 0

	h := computeHull(points)
	if h.count == 0 {
		return
	}

	for i := 0; i < h.count; i++ {
		p.Vertices[i] = h.points[i]
	}
	p.Count = h.count

	// Derive outward normals. Hull construction guarantees non-zero edges.
	for i := 0; i < p.Count; i++ {
		j := (i + 1) % p.Count
		edge := p.Vertices[j].Sub(p.Vertices[i])
		p.Normals[i] = CrossVS(edge, 1.0).Normalize()
	}
}

// NewPolygon builds a polygon from points via Set.
func NewPolygon(points []mgl64.Vec2) Polygon {
	var p Polygon
	p.Set(points)
	return p
}

// ComputeMass integrates mass, centroid and rotational inertia over the
// polygon for the given density. The polygon is fanned into triangles rooted
// at the first vertex; each triangle contributes its signed area, area
// weighted centroid and second moment, so the sum is exact for any simple
// polygon. The inertia is reported about the centroid.
func (p *Polygon) ComputeMass(density float64) MassData {
	if p.Count < 3 {
		return MassData{}
	}

	var vertices [MaxPolygonVertices]mgl64.Vec2
	if p.Radius > 0 {
		// Push vertices out along the corner bisector so the skin radius is
		// reflected in the mass properties.
		for i := 0; i < p.Count; i++ {
			j := i - 1
			if i == 0 {
				j = p.Count - 1
			}
			n1 := p.Normals[j]
			n2 := p.Normals[i]

			mid := n1.Add(n2).Normalize()
			t1 := mgl64.Vec2{-n1.Y(), n1.X()}
			sinHalfAngle := Cross(mid, t1)

			offset := p.Radius
			if sinHalfAngle > Epsilon {
				offset = p.Radius / sinHalfAngle
			}
			vertices[i] = p.Vertices[i].Add(mid.Mul(offset))
		}
	} else {
		for i := 0; i < p.Count; i++ {
			vertices[i] = p.Vertices[i]
		}
	}

	var center mgl64.Vec2
	area := 0.0
	inertia := 0.0

	// Fan triangles from the first vertex to reduce round-off.
	r := vertices[0]
	const inv3 = 1.0 / 3.0

	for i := 1; i < p.Count-1; i++ {
		e1 := vertices[i].Sub(r)
		e2 := vertices[i+1].Sub(r)

		d := Cross(e1, e2)
		triangleArea := 0.5 * d
		area += triangleArea

		center = center.Add(e1.Add(e2).Mul(triangleArea * inv3))

		intx2 := e1.X()*e1.X() + e2.X()*e1.X() + e2.X()*e2.X()
		inty2 := e1.Y()*e1.Y() + e2.Y()*e1.Y() + e2.Y()*e2.Y()
		inertia += (0.25 * inv3 * d) * (intx2 + inty2)
	}

	if area <= Epsilon {
		return MassData{}
	}

	var md MassData
	md.Mass = density * area

	center = center.Mul(1.0 / area)
	md.Center = r.Add(center)

	// Inertia about the centroid: parallel-axis shift from the fan root.
	md.I = density*inertia - md.Mass*center.Dot(center)

	return md
}

// MakeBox builds an axis-aligned box with the given half extents, centered
// at the origin.
func MakeBox(hx, hy float64) Polygon {
	var p Polygon
	p.Count = 4
	p.Vertices[0] = mgl64.Vec2{-hx, -hy}
	p.Vertices[1] = mgl64.Vec2{hx, -hy}
	p.Vertices[2] = mgl64.Vec2{hx, hy}
	p.Vertices[3] = mgl64.Vec2{-hx, hy}
	p.Normals[0] = mgl64.Vec2{0, -1}
	p.Normals[1] = mgl64.Vec2{1, 0}
	p.Normals[2] = mgl64.Vec2{0, 1}
	p.Normals[3] = mgl64.Vec2{-1, 0}
	return p
}

// MakeSquare builds a square with half extent h.
func MakeSquare(h float64) Polygon {
	return MakeBox(h, h)
}

// MakeOffsetBox builds a box with half extents hx, hy transformed by the
// given local center and angle.
func MakeOffsetBox(hx, hy float64, center mgl64.Vec2, angle float64) Polygon {
	xf := Transform{P: center, Q: NewRot(angle)}

	var p Polygon
	p.Count = 4
	p.Vertices[0] = xf.Apply(mgl64.Vec2{-hx, -hy})
	p.Vertices[1] = xf.Apply(mgl64.Vec2{hx, -hy})
	p.Vertices[2] = xf.Apply(mgl64.Vec2{hx, hy})
	p.Vertices[3] = xf.Apply(mgl64.Vec2{-hx, hy})
	p.Normals[0] = RotateVec(mgl64.Vec2{0, -1}, xf.Q)
	p.Normals[1] = RotateVec(mgl64.Vec2{1, 0}, xf.Q)
	p.Normals[2] = RotateVec(mgl64.Vec2{0, 1}, xf.Q)
	p.Normals[3] = RotateVec(mgl64.Vec2{-1, 0}, xf.Q)
	return p
}

// MakeRegularPolygon builds a regular polygon with unit circumradius.
func MakeRegularPolygon(count int) Polygon {
	if count < 3 || count > MaxPolygonVertices {
		return Polygon{}
	}
	points := make([]mgl64.Vec2, count)
	angleStep := 2.0 * math.Pi / float64(count)
	for i := 0; i < count; i++ {
		angle := float64(i) * angleStep
		points[i] = mgl64.Vec2{math.Cos(angle), math.Sin(angle)}
	}
	return NewPolygon(points)
}
