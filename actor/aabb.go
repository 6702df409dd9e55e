package actor

import "github.com/go-gl/mathgl/mgl64"

// AABB is an axis-aligned bounding box.
type AABB struct {
	Min mgl64.Vec2
	Max mgl64.Vec2
}

// Center returns the box center.
func (a AABB) Center() mgl64.Vec2 {
	return a.Min.Add(a.Max).Mul(0.5)
}

// Extents returns the half-extents.
func (a AABB) Extents() mgl64.Vec2 {
	return a.Max.Sub(a.Min).Mul(0.5)
}

// Perimeter returns the box perimeter, the cost metric used by the dynamic
// tree's surface area heuristic.
func (a AABB) Perimeter() float64 {
	return 2.0 * ((a.Max.X() - a.Min.X()) + (a.Max.Y() - a.Min.Y()))
}

// Merge returns the smallest box enclosing both a and b.
func Merge(a, b AABB) AABB {
	return AABB{
		Min: VecMin(a.Min, b.Min),
		Max: VecMax(a.Max, b.Max),
	}
}

// ContainsPoint reports whether the point lies inside the box (inclusive).
func (a AABB) ContainsPoint(p mgl64.Vec2) bool {
	return p.X() >= a.Min.X() && p.X() <= a.Max.X() &&
		p.Y() >= a.Min.Y() && p.Y() <= a.Max.Y()
}

// Contains reports whether b lies fully inside a.
func (a AABB) Contains(b AABB) bool {
	return a.ContainsPoint(b.Min) && a.ContainsPoint(b.Max)
}

// Intersects reports whether the two boxes overlap.
func (a AABB) Intersects(b AABB) bool {
	return a.Max.X() > b.Min.X() && b.Max.X() > a.Min.X() &&
		a.Max.Y() > b.Min.Y() && b.Max.Y() > a.Min.Y()
}

// Fatten returns the box inflated by amount on each axis in both directions.
func (a AABB) Fatten(amount float64) AABB {
	fat := mgl64.Vec2{amount, amount}
	return AABB{Min: a.Min.Sub(fat), Max: a.Max.Add(fat)}
}

// Translate returns the box shifted by offset.
func (a AABB) Translate(offset mgl64.Vec2) AABB {
	return AABB{Min: a.Min.Add(offset), Max: a.Max.Add(offset)}
}

// AABBHull computes the tight bounding box of transformed vertices.
// An empty vertex set yields a zero box.
func AABBHull(vertices []mgl64.Vec2, xf Transform) AABB {
	if len(vertices) == 0 {
		return AABB{}
	}
	v := xf.Apply(vertices[0])
	box := AABB{Min: v, Max: v}
	for _, p := range vertices[1:] {
		v = xf.Apply(p)
		box.Min = VecMin(box.Min, v)
		box.Max = VecMax(box.Max, v)
	}
	return box
}
