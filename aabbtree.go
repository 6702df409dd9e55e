package shard

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/akmonengine/shard/actor"
	"github.com/akmonengine/shard/pool"
)

const (
	// NullNode marks the absence of a tree node.
	NullNode = -1

	// TreeStartCapacity is the initial node pool size.
	TreeStartCapacity = 32

	// AABBFattenFactor inflates proxy AABBs on both axes so small movements
	// do not force a reinsertion every step.
	AABBFattenFactor = 0.1
)

// QueryCallback receives leaf proxy ids during a tree query. Returning
// false aborts the traversal.
type QueryCallback func(proxyID int) bool

// TreeNode is one node of the dynamic tree: a leaf carrying user data and a
// fattened AABB, or an internal node whose AABB is the merge of its two
// children. Free slots are tracked by the node pool, not by a field here.
type TreeNode struct {
	AABB     actor.AABB
	UserData int
	Parent   int
	Child1   int
	Child2   int
	Height   int
}

// IsLeaf reports whether the node has no children.
func (n *TreeNode) IsLeaf() bool {
	return n.Child1 == NullNode
}

// DynamicTree is a balanced binary tree of AABBs used as the broad-phase
// spatial index. Leaves hold fat AABBs so that moving proxies only reinsert
// when they escape their slack.
type DynamicTree struct {
	root  int
	nodes *pool.Pool[TreeNode]

	insertionCount int
}

// NewDynamicTree creates an empty tree.
func NewDynamicTree() *DynamicTree {
	return &DynamicTree{
		root:  NullNode,
		nodes: pool.New[TreeNode](TreeStartCapacity),
	}
}

func (t *DynamicTree) allocateNode() int {
	index, node := t.nodes.Alloc()
	node.Parent = NullNode
	node.Child1 = NullNode
	node.Child2 = NullNode
	node.Height = 0
	node.UserData = pool.NullIndex
	return index
}

func (t *DynamicTree) freeNode(index int) {
	t.nodes.Free(index)
}

func (t *DynamicTree) node(index int) *TreeNode {
	return t.nodes.MustAt(index)
}

// InsertProxy creates a leaf with a fattened copy of the AABB and returns
// its id.
func (t *DynamicTree) InsertProxy(aabb actor.AABB, userData int) int {
	id := t.allocateNode()
	node := t.node(id)
	node.AABB = aabb.Fatten(AABBFattenFactor)
	node.UserData = userData
	node.Height = 0

	t.insertLeaf(id)
	return id
}

// DestroyProxy removes a leaf. Destroying an internal node is a programmer
// error.
func (t *DynamicTree) DestroyProxy(proxyID int) {
	if !t.node(proxyID).IsLeaf() {
		panic("shard: destroying a non-leaf tree node")
	}
	t.removeLeaf(proxyID)
	t.freeNode(proxyID)
}

// MoveProxy updates a leaf for a new tight AABB. When the current fat AABB
// still contains it, nothing changes and false is returned. Otherwise the
// leaf is reinserted with a fat AABB extended along the displacement, so a
// proxy moving steadily in one direction is not reinserted every step.
func (t *DynamicTree) MoveProxy(proxyID int, aabb actor.AABB, displacement mgl64.Vec2) bool {
	node := t.node(proxyID)
	if !node.IsLeaf() {
		panic("shard: moving a non-leaf tree node")
	}
	if node.AABB.Contains(aabb) {
		return false
	}

	t.removeLeaf(proxyID)

	b := aabb.Fatten(AABBFattenFactor)
	d := displacement.Mul(2.0)
	if d.X() < 0 {
		b.Min[0] += d.X()
	} else {
		b.Max[0] += d.X()
	}
	if d.Y() < 0 {
		b.Min[1] += d.Y()
	} else {
		b.Max[1] += d.Y()
	}

	t.node(proxyID).AABB = b
	t.insertLeaf(proxyID)
	return true
}

// UserData returns the user value stored on a leaf.
func (t *DynamicTree) UserData(proxyID int) int {
	return t.node(proxyID).UserData
}

// FatAABB returns the fattened AABB stored on a leaf.
func (t *DynamicTree) FatAABB(proxyID int) actor.AABB {
	return t.node(proxyID).AABB
}

// Query visits every leaf whose fat AABB intersects the box.
func (t *DynamicTree) Query(aabb actor.AABB, callback QueryCallback) {
	stack := make([]int, 0, 64)
	stack = append(stack, t.root)

	for len(stack) > 0 {
		nodeID := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if nodeID == NullNode {
			continue
		}

		node := t.node(nodeID)
		if !aabb.Intersects(node.AABB) {
			continue
		}
		if node.IsLeaf() {
			if !callback(nodeID) {
				return
			}
		} else {
			stack = append(stack, node.Child1, node.Child2)
		}
	}
}

// RayCast visits every leaf whose fat AABB intersects the segment p1-p2.
func (t *DynamicTree) RayCast(p1, p2 mgl64.Vec2, callback QueryCallback) {
	stack := make([]int, 0, 64)
	stack = append(stack, t.root)

	for len(stack) > 0 {
		nodeID := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if nodeID == NullNode {
			continue
		}

		node := t.node(nodeID)
		if !segmentIntersectsAABB(p1, p2, node.AABB) {
			continue
		}
		if node.IsLeaf() {
			if !callback(nodeID) {
				return
			}
		} else {
			stack = append(stack, node.Child1, node.Child2)
		}
	}
}

// segmentIntersectsAABB is the slab test for the segment p1-p2.
func segmentIntersectsAABB(p1, p2 mgl64.Vec2, aabb actor.AABB) bool {
	tmin, tmax := 0.0, 1.0
	d := p2.Sub(p1)

	for axis := 0; axis < 2; axis++ {
		if math.Abs(d[axis]) < actor.HighEpsilon {
			// Parallel to the slab; outside means no hit.
			if p1[axis] < aabb.Min[axis] || p1[axis] > aabb.Max[axis] {
				return false
			}
			continue
		}
		inv := 1.0 / d[axis]
		t1 := (aabb.Min[axis] - p1[axis]) * inv
		t2 := (aabb.Max[axis] - p1[axis]) * inv
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = math.Max(tmin, t1)
		tmax = math.Min(tmax, t2)
		if tmin > tmax {
			return false
		}
	}
	return true
}

// insertLeaf walks down from the root choosing the cheapest sibling by the
// surface area heuristic, splices a new parent in and rebalances back up.
func (t *DynamicTree) insertLeaf(leaf int) {
	t.insertionCount++

	if t.root == NullNode {
		t.root = leaf
		t.node(leaf).Parent = NullNode
		return
	}

	// Find the best sibling by branch and bound over perimeter cost.
	leafAABB := t.node(leaf).AABB
	index := t.root
	for !t.node(index).IsLeaf() {
		node := t.node(index)
		child1 := node.Child1
		child2 := node.Child2

		area := node.AABB.Perimeter()
		combinedArea := actor.Merge(node.AABB, leafAABB).Perimeter()

		// Cost of creating a new parent for this node and the leaf.
		cost := 2.0 * combinedArea
		// Minimum cost of pushing the leaf further down the tree.
		inheritCost := 2.0 * (combinedArea - area)

		descendCost := func(child int) float64 {
			childAABB := t.node(child).AABB
			merged := actor.Merge(leafAABB, childAABB).Perimeter()
			if t.node(child).IsLeaf() {
				return merged + inheritCost
			}
			return merged - childAABB.Perimeter() + inheritCost
		}

		cost1 := descendCost(child1)
		cost2 := descendCost(child2)

		if cost < cost1 && cost < cost2 {
			break
		}
		if cost1 < cost2 {
			index = child1
		} else {
			index = child2
		}
	}

	sibling := index

	// Create a new parent above the sibling.
	oldParent := t.node(sibling).Parent
	newParent := t.allocateNode()
	{
		np := t.node(newParent)
		np.Parent = oldParent
		np.AABB = actor.Merge(leafAABB, t.node(sibling).AABB)
		np.Height = t.node(sibling).Height + 1
		np.Child1 = sibling
		np.Child2 = leaf
	}
	t.node(sibling).Parent = newParent
	t.node(leaf).Parent = newParent

	if oldParent != NullNode {
		op := t.node(oldParent)
		if op.Child1 == sibling {
			op.Child1 = newParent
		} else {
			op.Child2 = newParent
		}
	} else {
		t.root = newParent
	}

	// Walk back up refreshing heights and AABBs.
	index = t.node(leaf).Parent
	for index != NullNode {
		index = t.balance(index)

		node := t.node(index)
		child1 := t.node(node.Child1)
		child2 := t.node(node.Child2)
		node.Height = 1 + max(child1.Height, child2.Height)
		node.AABB = actor.Merge(child1.AABB, child2.AABB)

		index = node.Parent
	}
}

// removeLeaf detaches the leaf, replaces its parent with its sibling and
// rebalances the ancestors.
func (t *DynamicTree) removeLeaf(leaf int) {
	if leaf == t.root {
		t.root = NullNode
		return
	}

	parent := t.node(leaf).Parent
	grandParent := t.node(parent).Parent
	var sibling int
	if t.node(parent).Child1 == leaf {
		sibling = t.node(parent).Child2
	} else {
		sibling = t.node(parent).Child1
	}

	if grandParent != NullNode {
		gp := t.node(grandParent)
		if gp.Child1 == parent {
			gp.Child1 = sibling
		} else {
			gp.Child2 = sibling
		}
		t.node(sibling).Parent = grandParent
		t.freeNode(parent)

		index := grandParent
		for index != NullNode {
			index = t.balance(index)

			node := t.node(index)
			child1 := t.node(node.Child1)
			child2 := t.node(node.Child2)
			node.AABB = actor.Merge(child1.AABB, child2.AABB)
			node.Height = 1 + max(child1.Height, child2.Height)

			index = node.Parent
		}
	} else {
		t.root = sibling
		t.node(sibling).Parent = NullNode
		t.freeNode(parent)
	}
}

// balance performs an AVL-style rotation at iA when its subtrees differ in
// height by more than one, and returns the index of the subtree root after
// the rotation. Rotations preserve the invariant that every internal node's
// AABB is the merge of its children's.
func (t *DynamicTree) balance(iA int) int {
	a := t.node(iA)
	if a.IsLeaf() || a.Height < 2 {
		return iA
	}

	iB := a.Child1
	iC := a.Child2
	b := t.node(iB)
	c := t.node(iC)

	imbalance := c.Height - b.Height

	if imbalance > 1 {
		// Rotate C up.
		return t.rotateUp(iA, iB, iC)
	}
	if imbalance < -1 {
		// Rotate B up.
		return t.rotateUp(iA, iC, iB)
	}
	return iA
}

// rotateUp lifts the higher child iUp above iA. iKeep is iA's other child.
// iA keeps iKeep and the shorter grandchild; iUp adopts iA and the taller
// grandchild. Heights and AABBs of the two restructured nodes are rebuilt
// from their new children, which maintains the BVH invariant.
func (t *DynamicTree) rotateUp(iA, iKeep, iUp int) int {
	a := t.node(iA)
	up := t.node(iUp)

	iF := up.Child1
	iG := up.Child2
	f := t.node(iF)
	g := t.node(iG)

	// Lift iUp into iA's place.
	up.Parent = a.Parent
	a.Parent = iUp
	up.Child1 = iA

	if up.Parent != NullNode {
		parent := t.node(up.Parent)
		if parent.Child1 == iA {
			parent.Child1 = iUp
		} else {
			parent.Child2 = iUp
		}
	} else {
		t.root = iUp
	}

	// The taller grandchild stays under iUp, the shorter one moves to iA.
	var iTall, iShort int
	var tall, short *TreeNode
	if f.Height > g.Height {
		iTall, tall = iF, f
		iShort, short = iG, g
	} else {
		iTall, tall = iG, g
		iShort, short = iF, f
	}

	up.Child2 = iTall
	if a.Child1 == iKeep {
		a.Child2 = iShort
	} else {
		a.Child1 = iShort
	}
	short.Parent = iA

	keep := t.node(iKeep)
	a.AABB = actor.Merge(keep.AABB, short.AABB)
	up.AABB = actor.Merge(a.AABB, tall.AABB)
	a.Height = 1 + max(keep.Height, short.Height)
	up.Height = 1 + max(a.Height, tall.Height)

	return iUp
}

// Height returns the tree height (0 for an empty tree).
func (t *DynamicTree) Height() int {
	if t.root == NullNode {
		return 0
	}
	return t.node(t.root).Height
}

// NodeCount returns the number of live nodes.
func (t *DynamicTree) NodeCount() int {
	return t.nodes.Count()
}

// MaxBalance returns the largest height difference between siblings, a
// balance quality diagnostic.
func (t *DynamicTree) MaxBalance() int {
	maxBalance := 0
	for i := 0; i < t.nodes.Capacity(); i++ {
		if !t.nodes.IsValid(i) {
			continue
		}
		node := t.node(i)
		if node.Height <= 1 {
			continue
		}
		balance := t.node(node.Child2).Height - t.node(node.Child1).Height
		if balance < 0 {
			balance = -balance
		}
		maxBalance = max(maxBalance, balance)
	}
	return maxBalance
}

// AreaRatio returns the sum of all node perimeters over the root perimeter,
// a cost diagnostic for the tree layout.
func (t *DynamicTree) AreaRatio() float64 {
	if t.root == NullNode {
		return 0
	}
	rootArea := t.node(t.root).AABB.Perimeter()

	totalArea := 0.0
	for i := 0; i < t.nodes.Capacity(); i++ {
		if !t.nodes.IsValid(i) {
			continue
		}
		totalArea += t.node(i).AABB.Perimeter()
	}
	return totalArea / rootArea
}

// ComputeHeight walks the tree recursively, for validation against the
// stored heights.
func (t *DynamicTree) ComputeHeight() int {
	if t.root == NullNode {
		return 0
	}
	return t.computeHeight(t.root)
}

func (t *DynamicTree) computeHeight(nodeID int) int {
	node := t.node(nodeID)
	if node.IsLeaf() {
		return 0
	}
	return 1 + max(t.computeHeight(node.Child1), t.computeHeight(node.Child2))
}

// Validate checks the structural invariants of the tree: parent links,
// stored heights and merged AABBs. It returns false on the first violation.
func (t *DynamicTree) Validate() bool {
	return t.validateNode(t.root, NullNode)
}

func (t *DynamicTree) validateNode(nodeID, parent int) bool {
	if nodeID == NullNode {
		return true
	}
	node := t.node(nodeID)
	if node.Parent != parent {
		return false
	}
	if node.IsLeaf() {
		return node.Height == 0 && node.Child2 == NullNode
	}

	child1 := t.node(node.Child1)
	child2 := t.node(node.Child2)

	if node.Height != 1+max(child1.Height, child2.Height) {
		return false
	}
	merged := actor.Merge(child1.AABB, child2.AABB)
	if merged.Min != node.AABB.Min || merged.Max != node.AABB.Max {
		return false
	}

	return t.validateNode(node.Child1, nodeID) && t.validateNode(node.Child2, nodeID)
}

// ShiftOrigin subtracts newOrigin from every stored AABB, for bulk world
// translation.
func (t *DynamicTree) ShiftOrigin(newOrigin mgl64.Vec2) {
	for i := 0; i < t.nodes.Capacity(); i++ {
		if !t.nodes.IsValid(i) {
			continue
		}
		node := t.node(i)
		node.AABB.Min = node.AABB.Min.Sub(newOrigin)
		node.AABB.Max = node.AABB.Max.Sub(newOrigin)
	}
}
