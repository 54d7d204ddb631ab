package devserver

import (
	"math"
	"math/rand/v2"

	"github.com/udisondev/worldlink/internal/protocol"
)

const (
	spaceID   protocol.SpaceID = 1
	spaceName                  = "dev"

	playerType protocol.EntityTypeID = 1
	npcType    protocol.EntityTypeID = 2

	firstNPCID    protocol.EntityID = 1000
	firstPlayerID protocol.EntityID = 1

	npcRadius = 8.0
	// npcSpeed is in radians per second.
	npcSpeed = 0.5
)

var spawnPoint = protocol.Vector3{X: 100, Y: 0, Z: 100}

// npc walks in a circle around its home.
type npc struct {
	id    protocol.EntityID
	alias uint8
	home  protocol.Vector3
	phase float64
	pos   protocol.Vector3
	dir   protocol.Direction3D
}

func (n *npc) step(dt float64) {
	n.phase = math.Mod(n.phase+npcSpeed*dt, 2*math.Pi)
	n.pos = protocol.Vector3{
		X: n.home.X + float32(npcRadius*math.Cos(n.phase)),
		Y: n.home.Y,
		Z: n.home.Z + float32(npcRadius*math.Sin(n.phase)),
	}
	// Смотрит по касательной к окружности.
	n.dir = protocol.Direction3D{Yaw: float32(math.Mod(n.phase+math.Pi/2, 2*math.Pi) - math.Pi)}
}

// world is the single space every player is put into.
type world struct {
	npcs []*npc
}

func newWorld(count int) *world {
	w := &world{}
	for i := range count {
		angle := 2 * math.Pi * float64(i) / float64(max(count, 1))
		n := &npc{
			id:    firstNPCID + protocol.EntityID(i),
			alias: uint8(i),
			home: protocol.Vector3{
				X: spawnPoint.X + float32(20*math.Cos(angle)),
				Y: spawnPoint.Y,
				Z: spawnPoint.Z + float32(20*math.Sin(angle)),
			},
			phase: angle,
		}
		n.step(0)
		w.npcs = append(w.npcs, n)
	}
	return w
}

func (w *world) step(dt float64) {
	for _, n := range w.npcs {
		n.step(dt)
	}
}

func (w *world) find(id protocol.EntityID) (*npc, bool) {
	for _, n := range w.npcs {
		if n.id == id {
			return n, true
		}
	}
	return nil, false
}

// fragment is one piece of a resource download.
type fragment struct {
	seq  uint8
	last bool
	data []byte
}

// shuffleWindow bounds how far a fragment may move, keeping sequence
// numbers unambiguous after the 8-bit wrap.
const shuffleWindow = 64

// splitResource cuts data into fragments of at most size bytes and
// shuffles them, so clients see them out of order.
func splitResource(data []byte, size int, rng *rand.Rand) []fragment {
	if size <= 0 {
		size = len(data)
	}
	var out []fragment
	for i := 0; i == 0 || i*size < len(data); i++ {
		end := min((i+1)*size, len(data))
		out = append(out, fragment{seq: uint8(i), data: data[i*size : end]})
	}
	out[len(out)-1].last = true

	for start := 0; start < len(out); start += shuffleWindow {
		block := out[start:min(start+shuffleWindow, len(out))]
		rng.Shuffle(len(block), func(i, j int) { block[i], block[j] = block[j], block[i] })
	}
	return out
}
