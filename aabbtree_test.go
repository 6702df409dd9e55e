package shard

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"

	"github.com/akmonengine/shard/actor"
)

func box(minX, minY, maxX, maxY float64) actor.AABB {
	return actor.AABB{Min: mgl64.Vec2{minX, minY}, Max: mgl64.Vec2{maxX, maxY}}
}

func TestTreeInsertDestroy(t *testing.T) {
	t.Run("single proxy", func(t *testing.T) {
		tree := NewDynamicTree()

		id := tree.InsertProxy(box(0, 0, 1, 1), 42)
		require.Equal(t, 42, tree.UserData(id))
		require.Equal(t, 1, tree.NodeCount())
		require.Equal(t, 0, tree.Height())

		// The stored AABB is the fattened one.
		fat := tree.FatAABB(id)
		require.True(t, fat.Contains(box(0, 0, 1, 1)))
		require.InDelta(t, -AABBFattenFactor, fat.Min.X(), 1e-12)

		tree.DestroyProxy(id)
		require.Equal(t, 0, tree.NodeCount())
	})

	t.Run("insert then destroy restores the tree", func(t *testing.T) {
		tree := NewDynamicTree()
		a := tree.InsertProxy(box(0, 0, 1, 1), 1)
		b := tree.InsertProxy(box(2, 0, 3, 1), 2)

		heightBefore := tree.Height()
		countBefore := tree.NodeCount()

		extra := tree.InsertProxy(box(10, 10, 11, 11), 3)
		tree.DestroyProxy(extra)

		require.Equal(t, countBefore, tree.NodeCount())
		require.Equal(t, heightBefore, tree.Height())
		require.True(t, tree.Validate())

		tree.DestroyProxy(a)
		tree.DestroyProxy(b)
		require.Equal(t, 0, tree.NodeCount())
	})

	t.Run("invariants hold over many inserts", func(t *testing.T) {
		tree := NewDynamicTree()

		ids := make([]int, 0, 40)
		for i := 0; i < 40; i++ {
			x := float64(i%8) * 1.5
			y := float64(i/8) * 1.5
			ids = append(ids, tree.InsertProxy(box(x, y, x+1, y+1), i))
		}

		require.True(t, tree.Validate())
		require.Equal(t, tree.Height(), tree.ComputeHeight())
		require.Equal(t, 2*len(ids)-1, tree.NodeCount())
		// A balanced tree over 40 leaves stays shallow.
		require.LessOrEqual(t, tree.Height(), 12)
		require.Greater(t, tree.AreaRatio(), 1.0)

		for i, id := range ids {
			if i%3 == 0 {
				tree.DestroyProxy(id)
			}
		}
		require.True(t, tree.Validate())
	})
}

func TestTreeMoveProxy(t *testing.T) {
	t.Run("contained move is a no-op", func(t *testing.T) {
		tree := NewDynamicTree()
		id := tree.InsertProxy(box(0, 0, 1, 1), 0)
		before := tree.FatAABB(id)

		moved := tree.MoveProxy(id, box(0.01, 0.01, 1.01, 1.01), mgl64.Vec2{})
		require.False(t, moved)
		require.Equal(t, before, tree.FatAABB(id))
	})

	t.Run("escaping move reinserts", func(t *testing.T) {
		tree := NewDynamicTree()
		id := tree.InsertProxy(box(0, 0, 1, 1), 0)

		moved := tree.MoveProxy(id, box(5, 0, 6, 1), mgl64.Vec2{})
		require.True(t, moved)
		require.True(t, tree.FatAABB(id).Contains(box(5, 0, 6, 1)))
		require.True(t, tree.Validate())
	})

	t.Run("displacement extends the fat AABB along the motion", func(t *testing.T) {
		tree := NewDynamicTree()
		id := tree.InsertProxy(box(0, 0, 1, 1), 0)

		tree.MoveProxy(id, box(5, 0, 6, 1), mgl64.Vec2{2, 0})
		fat := tree.FatAABB(id)
		// 2x the displacement is added on the leading side.
		require.InDelta(t, 6+AABBFattenFactor+4, fat.Max.X(), 1e-12)
		require.InDelta(t, 5-AABBFattenFactor, fat.Min.X(), 1e-12)
	})

	t.Run("destroying a non-leaf panics", func(t *testing.T) {
		tree := NewDynamicTree()
		tree.InsertProxy(box(0, 0, 1, 1), 0)
		tree.InsertProxy(box(2, 0, 3, 1), 1)

		// Node index of the internal root is neither leaf id; find it by
		// probing: a valid non-leaf must panic.
		require.Panics(t, func() {
			for i := 0; i < 8; i++ {
				if tree.nodes.IsValid(i) && !tree.node(i).IsLeaf() {
					tree.DestroyProxy(i)
				}
			}
		})
	})
}

func TestTreeQuery(t *testing.T) {
	tree := NewDynamicTree()
	a := tree.InsertProxy(box(0, 0, 1, 1), 100)
	b := tree.InsertProxy(box(5, 5, 6, 6), 200)
	c := tree.InsertProxy(box(0.5, 0.5, 1.5, 1.5), 300)

	t.Run("reports intersecting leaves", func(t *testing.T) {
		var hits []int
		tree.Query(box(0.9, 0.9, 1.1, 1.1), func(proxyID int) bool {
			hits = append(hits, tree.UserData(proxyID))
			return true
		})
		require.ElementsMatch(t, []int{100, 300}, hits)
	})

	t.Run("callback can abort", func(t *testing.T) {
		count := 0
		tree.Query(box(-10, -10, 10, 10), func(proxyID int) bool {
			count++
			return false
		})
		require.Equal(t, 1, count)
	})

	t.Run("empty region reports nothing", func(t *testing.T) {
		tree.Query(box(50, 50, 51, 51), func(proxyID int) bool {
			t.Fatalf("unexpected hit %d", proxyID)
			return true
		})
	})

	_ = a
	_ = b
	_ = c
}

func TestTreeRayCast(t *testing.T) {
	tree := NewDynamicTree()
	tree.InsertProxy(box(2, -0.5, 3, 0.5), 1)
	tree.InsertProxy(box(5, 5, 6, 6), 2)
	tree.InsertProxy(box(7, -0.5, 8, 0.5), 3)

	var hits []int
	tree.RayCast(mgl64.Vec2{0, 0}, mgl64.Vec2{10, 0}, func(proxyID int) bool {
		hits = append(hits, tree.UserData(proxyID))
		return true
	})
	require.ElementsMatch(t, []int{1, 3}, hits)

	hits = hits[:0]
	tree.RayCast(mgl64.Vec2{0, 10}, mgl64.Vec2{10, 10}, func(proxyID int) bool {
		hits = append(hits, tree.UserData(proxyID))
		return true
	})
	require.Empty(t, hits)
}

func TestTreeShiftOrigin(t *testing.T) {
	tree := NewDynamicTree()
	id := tree.InsertProxy(box(0, 0, 1, 1), 0)

	tree.ShiftOrigin(mgl64.Vec2{10, 0})
	fat := tree.FatAABB(id)
	require.InDelta(t, -10-AABBFattenFactor, fat.Min.X(), 1e-12)
	require.True(t, tree.Validate())
}
