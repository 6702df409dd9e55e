// Package gjk implements the Gilbert-Johnson-Keerthi distance algorithm for
// convex polygons.
//
// Unlike the boolean-overlap flavor of GJK, this version computes the pair
// of closest points and the separation distance by walking support points of
// the Minkowski difference A - B toward the origin, using the signed-volume
// distance sub-algorithm to keep the smallest simplex bracketing the closest
// feature. The vertex indices of the final simplex are cached on the owning
// contact and restored the next frame, which typically converges in 1-2
// iterations for persistent contacts.
//
// References:
//   - Gilbert, Johnson, Keerthi: "A Fast Procedure for Computing the Distance
//     Between Complex Objects in Three-Dimensional Space" (1988)
//   - Montanari, Petrinic, Barbieri: "Improving the GJK Algorithm for Faster
//     and More Reliable Distance Queries Between Convex Objects" (2017)
package gjk

import (
	"math"

	"github.com/akmonengine/shard/actor"
	"github.com/go-gl/mathgl/mgl64"
)

// MaxIterations bounds a single distance query. Warm-started queries finish
// long before this.
const MaxIterations = 32

// Proxy wraps the vertex cloud of one convex shape for support queries.
type Proxy struct {
	Vertices []mgl64.Vec2
	Radius   float64
}

// Support returns the index of the vertex furthest along d.
func (p Proxy) Support(d mgl64.Vec2) int {
	bestIndex := 0
	bestValue := p.Vertices[0].Dot(d)
	for i := 1; i < len(p.Vertices); i++ {
		value := p.Vertices[i].Dot(d)
		if value > bestValue {
			bestIndex = i
			bestValue = value
		}
	}
	return bestIndex
}

// Input configures a distance query.
type Input struct {
	ProxyA, ProxyB         Proxy
	TransformA, TransformB actor.Transform
	MaxIterations          int
	Tolerance              float64
}

// NewInput fills in the default iteration limit and tolerance.
func NewInput(proxyA, proxyB Proxy, xfA, xfB actor.Transform) Input {
	return Input{
		ProxyA:        proxyA,
		ProxyB:        proxyB,
		TransformA:    xfA,
		TransformB:    xfB,
		MaxIterations: MaxIterations,
		Tolerance:     actor.LowEpsilon,
	}
}

// Output is the result of a distance query.
type Output struct {
	PointA     mgl64.Vec2 // closest point on shape A, world space
	PointB     mgl64.Vec2 // closest point on shape B, world space
	Distance   float64
	Iterations int
}

// Cache stores the simplex vertex indices from a previous query for warm
// starting the next one.
type Cache struct {
	Metric float64
	Count  int
	IndexA [3]int
	IndexB [3]int
}

// simplexVertex is one vertex of the simplex on the Minkowski difference,
// keeping the witnesses on both shapes for closest-point reconstruction.
type simplexVertex struct {
	wA, wB mgl64.Vec2 // support points on A and B, world space
	w      mgl64.Vec2 // wA - wB
	indexA int
	indexB int
}

type simplex struct {
	v     [3]simplexVertex
	count int
}

// pushFront inserts a new vertex at the head, shifting the rest back.
func (s *simplex) pushFront(v simplexVertex) {
	s.v[2] = s.v[1]
	s.v[1] = s.v[0]
	s.v[0] = v
	if s.count < 3 {
		s.count++
	}
}

// isDupe reports whether the vertex is already in the simplex. A duplicate
// support means no further progress is possible.
func (s *simplex) isDupe(v simplexVertex) bool {
	for i := 0; i < s.count; i++ {
		if s.v[i].indexA == v.indexA && s.v[i].indexB == v.indexB {
			return true
		}
	}
	return false
}

func compareSigns(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

// support builds a simplex vertex for the search direction d: the extreme
// point of A along d minus the extreme point of B along -d.
func support(input *Input, d mgl64.Vec2) simplexVertex {
	localA := actor.InvRotateVec(d, input.TransformA.Q)
	localB := actor.InvRotateVec(d.Mul(-1), input.TransformB.Q)

	var v simplexVertex
	v.indexA = input.ProxyA.Support(localA)
	v.indexB = input.ProxyB.Support(localB)
	v.wA = input.TransformA.Apply(input.ProxyA.Vertices[v.indexA])
	v.wB = input.TransformB.Apply(input.ProxyB.Vertices[v.indexB])
	v.w = v.wA.Sub(v.wB)
	return v
}

// solve1D projects the origin onto the segment s1-s2 and returns barycentric
// weights. The coordinate axis with the larger spread between the endpoints
// is used to compute the signed lengths, which avoids dividing by a vanishing
// component. When the projection falls outside the segment the simplex is
// reduced to its head vertex.
func solve1D(s *simplex) (lambdas [3]float64, count int) {
	s1 := s.v[0].w
	s2 := s.v[1].w
	t := s2.Sub(s1)

	// Orthogonal projection of the origin onto the infinite line s1-s2.
	p0 := s1.Add(t.Mul(-s1.Dot(t) / t.Dot(t)))

	muMax := s1.X() - s2.X()
	axis := 0
	if math.Abs(s1.Y()-s2.Y()) > math.Abs(muMax) {
		muMax = s1.Y() - s2.Y()
		axis = 1
	}

	c1 := -(s2[axis] - p0[axis])
	c2 := s1[axis] - p0[axis]

	if compareSigns(c1, muMax) && compareSigns(c2, muMax) {
		return [3]float64{c1 / muMax, c2 / muMax}, 2
	}

	// Origin projects outside the segment: keep the newest vertex.
	s.count = 1
	return [3]float64{1.0}, 1
}

// weightedNorm returns |Σ λi·wi| for a candidate sub-simplex.
func weightedNorm(lambdas [3]float64, count int, s *simplex) float64 {
	var sum mgl64.Vec2
	for i := 0; i < count; i++ {
		sum = sum.Add(s.v[i].w.Mul(lambdas[i]))
	}
	return sum.Len()
}

// solve2D handles the triangle case. If the origin lies inside the triangle
// the barycentric weights of all three vertices are returned; otherwise each
// candidate edge whose sub-area disagrees in sign with the triangle area is
// solved as a segment and the sub-simplex with the closest weighted point
// wins.
func solve2D(s *simplex) (lambdas [3]float64, count int) {
	s1 := s.v[0].w
	s2 := s.v[1].w
	s3 := s.v[2].w

	// Signed area of the triangle (times two).
	muMax := s1.X()*(s2.Y()-s3.Y()) +
		s2.X()*(s3.Y()-s1.Y()) +
		s3.X()*(s1.Y()-s2.Y())

	// Sub-areas of the triangles formed with the origin.
	c1 := actor.Cross(s2, s3)
	c2 := actor.Cross(s3, s1)
	c3 := actor.Cross(s1, s2)

	cmp1 := compareSigns(muMax, c1)
	cmp2 := compareSigns(muMax, c2)
	cmp3 := compareSigns(muMax, c3)

	if cmp1 && cmp2 && cmp3 {
		// Origin is enclosed.
		return [3]float64{c1 / muMax, c2 / muMax, c3 / muMax}, 3
	}

	// The origin is outside; test each edge whose opposite vertex does not
	// contribute. Candidates are built from a copy so one reduction cannot
	// corrupt the next test.
	base := *s
	best := math.MaxFloat64

	try := func(i, j int) {
		var w simplex
		w.v[0] = base.v[i]
		w.v[1] = base.v[j]
		w.count = 2
		ls, lc := solve1D(&w)
		if d := weightedNorm(ls, lc, &w); d < best {
			best = d
			*s = w
			lambdas = ls
			count = lc
		}
	}

	if !cmp2 {
		// s2 does not contribute; test the edge {s1, s3}.
		try(0, 2)
	}
	if !cmp3 {
		// s3 does not contribute; test the edge {s1, s2}.
		try(0, 1)
	}
	if !cmp1 {
		// s1 does not contribute; rarely hit since s1 is the newest point.
		try(1, 2)
	}

	if count == 0 {
		s.count = 1
		return [3]float64{1.0}, 1
	}
	return lambdas, count
}

// distanceSubalgorithm reduces the simplex to the smallest feature closest
// to the origin and returns barycentric weights over the kept vertices.
func distanceSubalgorithm(s *simplex) ([3]float64, int) {
	switch s.count {
	case 2:
		return solve1D(s)
	case 3:
		return solve2D(s)
	default:
		return [3]float64{1.0}, 1
	}
}

// Distance computes the closest points and separation between two convex
// shapes. A non-nil cache warm-starts the simplex from the previous frame
// and receives the final simplex indices afterwards.
//
// Overlapping shapes report Distance near zero; the returned points are then
// coincident and the caller derives contact geometry through SAT instead.
func Distance(input *Input, cache *Cache) Output {
	var output Output
	var s simplex

	maxIterations := input.MaxIterations
	if maxIterations <= 0 {
		maxIterations = MaxIterations
	}
	tolerance := input.Tolerance
	if tolerance <= 0 {
		tolerance = actor.LowEpsilon
	}

	// Warm start from the cached simplex, refreshing the support points from
	// the current transforms.
	if cache != nil && cache.Count > 0 {
		for i := 0; i < cache.Count; i++ {
			var v simplexVertex
			v.indexA = cache.IndexA[i]
			v.indexB = cache.IndexB[i]
			v.wA = input.TransformA.Apply(input.ProxyA.Vertices[v.indexA])
			v.wB = input.TransformB.Apply(input.ProxyB.Vertices[v.indexB])
			v.w = v.wA.Sub(v.wB)
			s.v[i] = v
		}
		s.count = cache.Count
	}

	dir := input.TransformA.P.Sub(input.TransformB.P)

	// A restored simplex must be collapsed through the sub-algorithm before
	// the loop: an unchanged pair terminates on the duplicate check on its
	// first iteration, so the direction and witnesses must already be the
	// closest-feature ones.
	if s.count > 0 {
		restored := s.count
		lambdas, count := distanceSubalgorithm(&s)

		dir = mgl64.Vec2{}
		output.PointA = mgl64.Vec2{}
		output.PointB = mgl64.Vec2{}
		for i := 0; i < count; i++ {
			output.PointA = output.PointA.Add(s.v[i].wA.Mul(lambdas[i]))
			output.PointB = output.PointB.Add(s.v[i].wB.Mul(lambdas[i]))
			dir = dir.Add(s.v[i].w.Mul(lambdas[i]))
		}

		if (restored == 3 && count == 3) || dir.LenSqr() < actor.HighEpsilon {
			// Still enclosing or touching: overlapping, nothing to iterate.
			output.Distance = dir.Len()
			cache.Count = s.count
			cache.Metric = output.Distance
			for i := 0; i < s.count; i++ {
				cache.IndexA[i] = s.v[i].indexA
				cache.IndexB[i] = s.v[i].indexB
			}
			return output
		}
	}

	if dir.LenSqr() < actor.HighEpsilon {
		dir = mgl64.Vec2{1, 0}
	}

	for itr := 0; itr < maxIterations; itr++ {
		output.Iterations = itr + 1

		dirSqr := dir.LenSqr()
		w := support(input, dir.Mul(-1))

		// A repeated support vertex cannot improve the simplex.
		if s.isDupe(w) {
			break
		}

		// Insufficient forward progress toward the origin.
		if dirSqr-dir.Dot(w.w) <= dirSqr*tolerance*tolerance {
			break
		}

		s.pushFront(w)

		lambdas, count := distanceSubalgorithm(&s)

		// Reconstruct the closest points on both shapes by applying the
		// barycentric weights to the stored witnesses.
		dir = mgl64.Vec2{}
		output.PointA = mgl64.Vec2{}
		output.PointB = mgl64.Vec2{}
		for i := 0; i < count; i++ {
			output.PointA = output.PointA.Add(s.v[i].wA.Mul(lambdas[i]))
			output.PointB = output.PointB.Add(s.v[i].wB.Mul(lambdas[i]))
			dir = dir.Add(s.v[i].w.Mul(lambdas[i]))
		}

		// A full triangle brackets the origin: the shapes overlap.
		if s.count >= 3 {
			break
		}

		// Near-zero weighted point relative to the simplex scale.
		maxNorm := 1.0
		for i := 0; i < s.count; i++ {
			if norm := s.v[i].w.LenSqr(); norm > maxNorm {
				maxNorm = norm
			}
		}
		if dir.LenSqr() < actor.HighEpsilon*maxNorm {
			break
		}
	}

	output.Distance = dir.Len()

	if cache != nil {
		cache.Count = s.count
		cache.Metric = output.Distance
		for i := 0; i < s.count; i++ {
			cache.IndexA[i] = s.v[i].indexA
			cache.IndexB[i] = s.v[i].indexB
		}
	}

	return output
}
