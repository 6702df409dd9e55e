package shard

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"
)

func collectPairs(bp *Broadphase) [][2]int {
	var pairs [][2]int
	bp.UpdatePairs(func(userDataA, userDataB int) {
		pairs = append(pairs, [2]int{userDataA, userDataB})
	})
	return pairs
}

func TestBroadphasePairs(t *testing.T) {
	t.Run("distant proxies produce no pairs", func(t *testing.T) {
		bp := NewBroadphase()
		bp.CreateProxy(box(0, 0, 1, 1), 1)
		bp.CreateProxy(box(5, 0, 6, 1), 2)

		require.Empty(t, collectPairs(bp))
		require.Equal(t, 2, bp.ProxyCount())
	})

	t.Run("moving into range produces one pair", func(t *testing.T) {
		bp := NewBroadphase()
		a := bp.CreateProxy(box(0, 0, 1, 1), 1)
		bp.CreateProxy(box(5, 0, 6, 1), 2)
		require.Empty(t, collectPairs(bp))

		// Move the first square to x=1.5; the displacement extension makes
		// the fat AABBs overlap ahead of actual contact.
		bp.MoveProxy(a, box(1.5, 0, 2.5, 1), mgl64.Vec2{1.5, 0})

		pairs := collectPairs(bp)
		require.Len(t, pairs, 1)
		require.ElementsMatch(t, []int{1, 2}, pairs[0][:])
	})

	t.Run("both sides moving deduplicates", func(t *testing.T) {
		bp := NewBroadphase()
		bp.CreateProxy(box(0, 0, 1, 1), 1)
		bp.CreateProxy(box(0.5, 0, 1.5, 1), 2)

		// Both proxies are in the move buffer after creation; the pair is
		// discovered from each side but reported once.
		pairs := collectPairs(bp)
		require.Len(t, pairs, 1)
	})

	t.Run("no motion means no rediscovery", func(t *testing.T) {
		bp := NewBroadphase()
		bp.CreateProxy(box(0, 0, 1, 1), 1)
		bp.CreateProxy(box(0.5, 0, 1.5, 1), 2)

		require.Len(t, collectPairs(bp), 1)
		// The move buffer was drained; a second update reports nothing.
		require.Empty(t, collectPairs(bp))
	})

	t.Run("contained move does not requeue", func(t *testing.T) {
		bp := NewBroadphase()
		a := bp.CreateProxy(box(0, 0, 1, 1), 1)
		bp.CreateProxy(box(0.5, 0, 1.5, 1), 2)
		collectPairs(bp)

		bp.MoveProxy(a, box(0.01, 0, 1.01, 1), mgl64.Vec2{})
		require.Empty(t, collectPairs(bp))
	})

	t.Run("TouchProxy forces a requery", func(t *testing.T) {
		bp := NewBroadphase()
		a := bp.CreateProxy(box(0, 0, 1, 1), 1)
		bp.CreateProxy(box(0.5, 0, 1.5, 1), 2)
		collectPairs(bp)

		bp.TouchProxy(a)
		require.Len(t, collectPairs(bp), 1)
	})

	t.Run("destroyed proxy is sentinel-marked in the move buffer", func(t *testing.T) {
		bp := NewBroadphase()
		a := bp.CreateProxy(box(0, 0, 1, 1), 1)
		bp.CreateProxy(box(0.5, 0, 1.5, 1), 2)

		// a is still queued from creation; destroying it must not leave a
		// stale id behind.
		bp.DestroyProxy(a)
		require.Empty(t, collectPairs(bp))
		require.Equal(t, 1, bp.ProxyCount())
	})
}

func TestBroadphaseQuery(t *testing.T) {
	bp := NewBroadphase()
	bp.CreateProxy(box(0, 0, 1, 1), 7)
	bp.CreateProxy(box(3, 3, 4, 4), 8)

	var hits []int
	bp.Query(box(0.5, 0.5, 0.6, 0.6), func(proxyID int) bool {
		hits = append(hits, bp.UserData(proxyID))
		return true
	})
	require.Equal(t, []int{7}, hits)
}
