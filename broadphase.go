package shard

import (
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/akmonengine/shard/actor"
)

// NullProxy marks a removed slot in the move buffer.
const NullProxy = -1

// PairCallback receives the user data of both sides of a new candidate
// pair during UpdatePairs.
type PairCallback func(userDataA, userDataB int)

// proxyPair is an overlap candidate in canonical (smaller, larger) order.
type proxyPair struct {
	a, b int
}

// Broadphase produces the stream of potentially overlapping proxy pairs.
// It keeps a move buffer of proxies whose fat AABB changed since the last
// update; UpdatePairs re-queries the tree only for those, then sorts and
// deduplicates the resulting pairs. All previous pairs are overwritten each
// update: tracking pair lifetimes is the contact graph's job.
type Broadphase struct {
	tree       *DynamicTree
	proxyCount int

	moveBuffer []int
	pairBuffer []proxyPair

	queryProxyID int
}

// NewBroadphase creates an empty broad phase.
func NewBroadphase() *Broadphase {
	return &Broadphase{
		tree:       NewDynamicTree(),
		moveBuffer: make([]int, 0, 16),
		pairBuffer: make([]proxyPair, 0, 16),
	}
}

// CreateProxy inserts a proxy and queues it for pairing on the next update.
func (bp *Broadphase) CreateProxy(aabb actor.AABB, userData int) int {
	proxyID := bp.tree.InsertProxy(aabb, userData)
	bp.proxyCount++
	bp.bufferMove(proxyID)
	return proxyID
}

// DestroyProxy removes a proxy, sentinel-marking any queued moves so the
// buffer never shifts.
func (bp *Broadphase) DestroyProxy(proxyID int) {
	bp.unbufferMove(proxyID)
	bp.proxyCount--
	bp.tree.DestroyProxy(proxyID)
}

// MoveProxy forwards to the tree and queues the proxy when the tree
// reported a real move.
func (bp *Broadphase) MoveProxy(proxyID int, aabb actor.AABB, displacement mgl64.Vec2) {
	if bp.tree.MoveProxy(proxyID, aabb, displacement) {
		bp.bufferMove(proxyID)
	}
}

// TouchProxy forces a re-query of the proxy without a geometric change.
func (bp *Broadphase) TouchProxy(proxyID int) {
	bp.bufferMove(proxyID)
}

// UserData returns the user value stored on a proxy.
func (bp *Broadphase) UserData(proxyID int) int {
	return bp.tree.UserData(proxyID)
}

// FatAABB returns the fattened AABB of a proxy.
func (bp *Broadphase) FatAABB(proxyID int) actor.AABB {
	return bp.tree.FatAABB(proxyID)
}

// ProxyCount returns the number of live proxies.
func (bp *Broadphase) ProxyCount() int {
	return bp.proxyCount
}

// Query runs an AABB query against the tree.
func (bp *Broadphase) Query(aabb actor.AABB, callback QueryCallback) {
	bp.tree.Query(aabb, callback)
}

// RayCast runs a segment query against the tree.
func (bp *Broadphase) RayCast(p1, p2 mgl64.Vec2, callback QueryCallback) {
	bp.tree.RayCast(p1, p2, callback)
}

// ShiftOrigin forwards a bulk world translation to the tree.
func (bp *Broadphase) ShiftOrigin(newOrigin mgl64.Vec2) {
	bp.tree.ShiftOrigin(newOrigin)
}

// Tree exposes the underlying tree for diagnostics.
func (bp *Broadphase) Tree() *DynamicTree {
	return bp.tree
}

func (bp *Broadphase) bufferMove(proxyID int) {
	bp.moveBuffer = append(bp.moveBuffer, proxyID)
}

func (bp *Broadphase) unbufferMove(proxyID int) {
	for i := range bp.moveBuffer {
		if bp.moveBuffer[i] == proxyID {
			bp.moveBuffer[i] = NullProxy
		}
	}
}

func (bp *Broadphase) queryCallback(proxyID int) bool {
	// A proxy cannot pair with itself.
	if proxyID == bp.queryProxyID {
		return true
	}
	bp.pairBuffer = append(bp.pairBuffer, proxyPair{
		a: min(proxyID, bp.queryProxyID),
		b: max(proxyID, bp.queryProxyID),
	})
	return true
}

// UpdatePairs queries the tree for every buffered proxy with its fat AABB,
// empties the move buffer, sorts the collected pairs lexicographically and
// reports each distinct pair once. No pair is reported twice within one
// call.
func (bp *Broadphase) UpdatePairs(callback PairCallback) {
	bp.pairBuffer = bp.pairBuffer[:0]

	for _, proxyID := range bp.moveBuffer {
		if proxyID == NullProxy {
			continue
		}
		bp.queryProxyID = proxyID

		// Query with the fat AABB so pairs that may touch soon are not
		// missed.
		fatAABB := bp.tree.FatAABB(proxyID)
		bp.tree.Query(fatAABB, bp.queryCallback)
	}

	bp.moveBuffer = bp.moveBuffer[:0]

	// Sort to expose duplicates.
	sort.Slice(bp.pairBuffer, func(i, j int) bool {
		if bp.pairBuffer[i].a != bp.pairBuffer[j].a {
			return bp.pairBuffer[i].a < bp.pairBuffer[j].a
		}
		return bp.pairBuffer[i].b < bp.pairBuffer[j].b
	})

	for i := 0; i < len(bp.pairBuffer); {
		primary := bp.pairBuffer[i]
		callback(bp.tree.UserData(primary.a), bp.tree.UserData(primary.b))
		i++

		// Skip duplicates of the primary pair.
		for i < len(bp.pairBuffer) && bp.pairBuffer[i] == primary {
			i++
		}
	}
}
