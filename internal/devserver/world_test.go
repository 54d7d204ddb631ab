package devserver

import (
	"bytes"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/worldlink/internal/protocol"
)

func TestSplitResource(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	data := bytes.Repeat([]byte("0123456789"), 100)

	frags := splitResource(data, 64, rng)
	require.Len(t, frags, 16)

	var lastCount int
	bySeq := make(map[uint8][]byte)
	for _, f := range frags {
		assert.LessOrEqual(t, len(f.data), 64)
		bySeq[f.seq] = f.data
		if f.last {
			lastCount++
			assert.EqualValues(t, 15, f.seq)
		}
	}
	assert.Equal(t, 1, lastCount)

	var joined []byte
	for i := range len(frags) {
		joined = append(joined, bySeq[uint8(i)]...)
	}
	assert.Equal(t, data, joined)
}

func TestSplitResource_Empty(t *testing.T) {
	frags := splitResource(nil, 64, rand.New(rand.NewPCG(1, 2)))
	require.Len(t, frags, 1)
	assert.True(t, frags[0].last)
	assert.Empty(t, frags[0].data)
}

func TestSplitResource_ShuffleStaysInWindow(t *testing.T) {
	data := make([]byte, 300)
	frags := splitResource(data, 1, rand.New(rand.NewPCG(3, 4)))
	require.Len(t, frags, 300)

	for i, f := range frags {
		// Номер фрагмента хранится в 8 битах, сравниваем по блокам.
		block := i / shuffleWindow
		offset := f.seq - uint8(block*shuffleWindow)
		assert.Less(t, int(offset), shuffleWindow, "fragment %d left its block", i)
	}
}

func TestWorld_NPCsWalkCircles(t *testing.T) {
	w := newWorld(4)
	require.Len(t, w.npcs, 4)

	for _, n := range w.npcs {
		before := n.pos
		w.step(1)
		dist := math.Hypot(float64(n.pos.X-n.home.X), float64(n.pos.Z-n.home.Z))
		assert.InDelta(t, npcRadius, dist, 1e-3)
		assert.NotEqual(t, before, n.pos)
	}

	n, ok := w.find(firstNPCID + 2)
	require.True(t, ok)
	assert.EqualValues(t, 2, n.alias)

	_, ok = w.find(firstPlayerID)
	assert.False(t, ok)
}

func TestPendingLogins(t *testing.T) {
	pl := newPendingLogins(time.Minute)

	p := &pendingLogin{Username: "alice", Nonce: 7}
	key := pl.add(p)
	assert.NotZero(t, key)
	assert.Equal(t, key, p.LoginKey)
	assert.Equal(t, 1, pl.len())

	got, ok := pl.get(key)
	require.True(t, ok)
	assert.Same(t, p, got)

	got, ok = pl.byUser("alice")
	require.True(t, ok)
	assert.Same(t, p, got)
	_, ok = pl.byUser("bob")
	assert.False(t, ok)

	got, ok = pl.take(key)
	require.True(t, ok)
	assert.Same(t, p, got)
	_, ok = pl.get(key)
	assert.False(t, ok)
	assert.Zero(t, pl.len())
}

func TestPendingLogins_Expire(t *testing.T) {
	pl := newPendingLogins(10 * time.Millisecond)
	key := pl.add(&pendingLogin{Username: "alice"})

	assert.Eventually(t, func() bool {
		_, ok := pl.get(key)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestProxy_ReferenceFollowsAvatarUpdates(t *testing.T) {
	p := &proxy{}
	p.moved(protocol.Vector3{X: 10.4, Y: 1, Z: -3.6}, 5)
	assert.True(t, p.refPending)
	assert.EqualValues(t, 5, p.refNum)
	assert.Equal(t, protocol.Vector3{X: 10.4, Y: 1, Z: -3.6}, p.position)
}
