package servconn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/worldlink/internal/mercury"
	"github.com/udisondev/worldlink/internal/protocol"
)

func TestStats_NoTraffic(t *testing.T) {
	e := newEnv(t, nil)
	e.clock.Advance(3 * time.Second)

	s := e.c.StatsSnapshot()
	assert.Zero(t, s.BpsIn)
	assert.Zero(t, s.MovementBytesPercent)
	assert.Zero(t, s.NonMovementBytesPercent)
	assert.Zero(t, s.OverheadBytesPercent)
	assert.Zero(t, s.MovementMessageCount)
}

func TestStats_Received(t *testing.T) {
	e := newEnv(t, nil)
	e.c.RegisterInterfaces(e.c.nub)

	v := protocol.AvatarVariant{Alias: true, Position: protocol.FullPos, Direction: protocol.YawPitchRoll}
	for i := range 2 {
		b := mercury.NewBundle()
		protocol.AvatarUpdate{Variant: v, Alias: 1, Packed: [3]int16{int16(i), 0, 0}}.Write(b.StartMessage(v.Element()))
		protocol.BandwidthNotification{BitsPerSecond: uint32(1000 + i)}.
			Write(b.StartMessage(protocol.ClientBandwidthNotification))
		require.NoError(t, e.base.nub.Send(e.c.nub.Address(), b))
	}
	e.pumpUntil(t, func() bool { return e.c.nub.Stats().PacketsReceived == 2 })
	assert.GreaterOrEqual(t, e.c.BandwidthFromServer(), 1000)

	ns := e.c.nub.Stats()

	// Окно ещё не прошло: скорости нулевые.
	assert.Zero(t, e.c.PacketsPerSecondIn())

	e.clock.Advance(4 * time.Second)
	s := e.c.StatsSnapshot()

	assert.InDelta(t, 0.5, s.PacketsPerSecondIn, 1e-9)
	assert.InDelta(t, 1.0, s.MessagesPerSecondIn, 1e-9)
	assert.InDelta(t, float64(ns.BytesReceived*8)/4, s.BpsIn, 1e-9)
	assert.Equal(t, 2, s.MovementMessageCount)
	assert.Positive(t, s.MovementBytesPercent)
	assert.Positive(t, s.OverheadBytesPercent)
	assert.InDelta(t, 100, s.MovementBytesPercent+s.NonMovementBytesPercent+s.OverheadBytesPercent, 1e-6)
	assert.Equal(t, int(ns.BytesFor(protocol.MovementMessageIDs()...)), s.MovementBytesTotal)
}

func TestStats_Sent(t *testing.T) {
	e := newEnv(t, nil)
	e.goOnline()

	e.c.EnableEntities()
	assert.Zero(t, e.c.BpsOut())

	e.clock.Advance(3 * time.Second)
	assert.Positive(t, e.c.BpsOut())
	assert.InDelta(t, 1.0/3, e.c.PacketsPerSecondOut(), 1e-9)
	assert.InDelta(t, 2.0/3, e.c.MessagesPerSecondOut(), 1e-9)
}
