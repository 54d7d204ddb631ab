package devserver

import (
	"fmt"
	"log/slog"

	"github.com/udisondev/worldlink/internal/mercury"
	"github.com/udisondev/worldlink/internal/protocol"
	"github.com/udisondev/worldlink/internal/wire"
)

// serverBandwidth is what the BaseApp announces to every client.
const serverBandwidth = 20000

// proxy is the BaseApp half of one client session.
type proxy struct {
	base       *BaseApp
	username   string
	sessionKey uint32
	channel    *mercury.Channel

	id              protocol.EntityID
	entitiesEnabled bool
	kicked          bool

	position protocol.Vector3
	// reference is the origin of relative avatar updates, the same value
	// the client derives from its own sent positions.
	reference  protocol.Vector3
	refNum     uint8
	refPending bool

	nextDownload uint16
}

func (p *proxy) addr() wire.Address { return p.channel.Addr() }

func (p *proxy) bundle() *mercury.Bundle { return p.channel.Bundle() }

func (p *proxy) send() {
	if err := p.channel.Send(); err != nil {
		slog.Warn("sending to client", "login", p.username, "addr", p.addr(), "error", err)
	}
}

// enableEntities sends the whole initial world: timing, the player, the
// NPCs around it and the welcome resource.
func (p *proxy) enableEntities() {
	if p.entitiesEnabled {
		slog.Debug("entities re-enabled", "login", p.username)
	}
	p.entitiesEnabled = true
	p.position = spawnPoint
	p.reference = protocol.ReferencePosition(spawnPoint)
	p.refPending = false

	b := p.bundle()
	protocol.UpdateFrequencyNotification{Hertz: p.base.cfg.UpdateFrequency}.
		Write(b.StartMessage(protocol.ClientUpdateFrequencyNotification))
	protocol.BandwidthNotification{BitsPerSecond: serverBandwidth}.
		Write(b.StartMessage(protocol.ClientBandwidthNotification))
	protocol.SetGameTime{GameTime: protocol.TimeStamp(p.base.gameTime)}.
		Write(b.StartMessage(protocol.ClientSetGameTime))

	protocol.CreateBasePlayer{ID: p.id, Type: playerType, Data: []byte(p.username)}.
		Write(b.StartMessage(protocol.ClientCreateBasePlayer))
	protocol.CreateCellPlayer{SpaceID: spaceID, Position: spawnPoint}.
		Write(b.StartMessage(protocol.ClientCreateCellPlayer))
	protocol.SpaceData{SpaceID: spaceID, Key: 0, Data: []byte(spaceName)}.
		Write(b.StartMessage(protocol.ClientSpaceData))

	for _, n := range p.base.world.npcs {
		protocol.EnterAoI{ID: n.id, IDAlias: n.alias}.Write(b.StartMessage(protocol.ClientEnterAoI))
		protocol.CreateEntity{
			ID:        n.id,
			Type:      npcType,
			Position:  n.pos,
			Direction: protocol.PackDirection(n.dir),
		}.Write(b.StartMessage(protocol.ClientCreateEntity))
	}

	if res := p.base.cfg.WelcomeResource; res != "" {
		p.sendResource("welcome", []byte(res))
	}
	p.send()
	slog.Info("entities enabled", "login", p.username, "player", p.id, "npcs", len(p.base.world.npcs))
}

// sendResource queues a download. The header goes somewhere among the
// fragments.
func (p *proxy) sendResource(desc string, data []byte) {
	id := p.nextDownload
	p.nextDownload++

	frags := splitResource(data, p.base.cfg.FragmentSize, p.base.rng)
	header := p.base.rng.IntN(len(frags) + 1)

	b := p.bundle()
	for i, f := range frags {
		if i == header {
			protocol.ResourceHeader{ID: id, Description: desc}.Write(b.StartMessage(protocol.ClientResourceHeader))
		}
		rf := protocol.ResourceFragment{ID: id, Seq: f.seq, Data: f.data}
		if f.last {
			rf.Flags = protocol.FragmentFlagLast
		}
		rf.Write(b.StartMessage(protocol.ClientResourceFragment))
	}
	if header == len(frags) {
		protocol.ResourceHeader{ID: id, Description: desc}.Write(b.StartMessage(protocol.ClientResourceHeader))
	}
}

// tick sends one server tick: tickSync, the reference acknowledgement and
// the NPC positions.
func (p *proxy) tick() {
	if !p.entitiesEnabled || p.kicked {
		return
	}
	b := p.bundle()
	protocol.TickSync{Tick: uint8(p.base.gameTime)}.Write(b.StartMessage(protocol.ClientTickSync))

	if p.refPending {
		protocol.RelativePositionReference{Seq: p.refNum}.
			Write(b.StartMessage(protocol.ClientRelativePositionReference))
		p.reference = protocol.ReferencePosition(p.position)
		p.refPending = false
	}

	for _, n := range p.base.world.npcs {
		v := protocol.AvatarVariant{Alias: true, Position: protocol.FullPos, Direction: protocol.Yaw}
		protocol.AvatarUpdate{
			Variant: v,
			Alias:   n.alias,
			Packed:  protocol.PackOffset(n.pos.Sub(p.reference)),
			Dir:     protocol.PackDirection(n.dir),
		}.Write(b.StartMessage(v.Element()))
	}
	p.send()
}

// moved records an avatar update from the client.
func (p *proxy) moved(pos protocol.Vector3, refNum uint8) {
	p.position = pos
	p.refNum = refNum
	p.refPending = true
}

// echo returns a script message to the client as a method call. Proxy
// messages and those addressed to entity 0 come back on the player.
func (p *proxy) echo(hdr mercury.UnpackedHeader, data *wire.Reader) {
	id := int(hdr.ID)
	target := p.id
	var method int
	if id&protocol.ProxyMessageFlag == protocol.ProxyMessageFlag {
		method = id &^ protocol.ProxyMessageFlag
	} else {
		raw, err := data.ReadInt32()
		if err != nil {
			slog.Warn("entity message without entity id", "login", p.username, "message", hdr.ID)
			return
		}
		if raw != int32(protocol.NullEntityID) {
			target = protocol.EntityID(raw)
		}
		method = id - protocol.EntityMessageFirst
	}

	w := p.bundle().StartMessage(protocol.ClientEntityMessage.WithID(mercury.MessageID(protocol.EntityMessageFirst + method)))
	w.WriteInt32(int32(target))
	w.WriteBytes(data.Rest())
	p.send()
}

// describe answers requestEntityUpdate with the entity's properties.
func (p *proxy) describe(id protocol.EntityID) {
	var data []byte
	switch {
	case id == p.id:
		data = []byte(p.username)
	default:
		n, ok := p.base.world.find(id)
		if !ok {
			slog.Debug("update requested for unknown entity", "login", p.username, "entity", id)
			return
		}
		data = fmt.Appendf(nil, "npc-%d", n.id)
	}
	protocol.UpdateEntity{ID: id, Data: data}.Write(p.bundle().StartMessage(protocol.ClientUpdateEntity))
	p.send()
}

// kick tells the client it has been logged off.
func (p *proxy) kick() {
	if p.kicked {
		return
	}
	p.kicked = true
	protocol.LoggedOff{Reason: 0}.Write(p.bundle().StartMessage(protocol.ClientLoggedOff))
	p.send()
}
