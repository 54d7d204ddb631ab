package servconn

import (
	"bytes"
	"log/slog"

	"github.com/udisondev/worldlink/internal/mercury"
	"github.com/udisondev/worldlink/internal/protocol"
	"github.com/udisondev/worldlink/internal/seqnum"
	"github.com/udisondev/worldlink/internal/wire"
)

// serve registers fn for ie, decoding the arguments first. Malformed
// messages are logged and dropped.
func serve[T any, P interface {
	*T
	Read(*wire.Reader) error
}](n *mercury.Nub, ie mercury.InterfaceElement, fn func(src wire.Address, args *T)) {
	n.Serve(ie, mercury.InputHandlerFunc(func(src wire.Address, _ mercury.UnpackedHeader, data *wire.Reader) {
		var args T
		if err := P(&args).Read(data); err != nil {
			slog.Error("malformed message", "message", ie.Name, "from", src, "error", err)
			return
		}
		fn(src, &args)
	}))
}

// RegisterInterfaces serves the client interface on n. Every nub that may
// end up carrying the session needs it.
func (c *Connection) RegisterInterfaces(n *mercury.Nub) {
	serve(n, protocol.ClientAuthenticate, func(_ wire.Address, a *protocol.Authenticate) {
		c.authenticate(a)
	})
	serve(n, protocol.ClientBandwidthNotification, func(_ wire.Address, a *protocol.BandwidthNotification) {
		c.bandwidthFromServer = int(a.BitsPerSecond)
	})
	serve(n, protocol.ClientUpdateFrequencyNotification, func(_ wire.Address, a *protocol.UpdateFrequencyNotification) {
		c.updateFrequency = float64(a.Hertz)
		c.serverTime.SetUpdateFrequency(c.updateFrequency)
	})
	serve(n, protocol.ClientSetGameTime, func(_ wire.Address, a *protocol.SetGameTime) {
		c.serverTime.GameTime(a.GameTime, c.AppTime())
	})
	serve(n, protocol.ClientTickSync, func(_ wire.Address, a *protocol.TickSync) {
		c.serverTime.TickSync(seqnum.Seq8(a.Tick), c.AppTime())
	})
	serve(n, protocol.ClientResetEntities, func(_ wire.Address, a *protocol.ResetEntities) {
		c.resetEntities(a.KeepPlayerOnBase)
	})
	serve(n, protocol.ClientCreateBasePlayer, func(_ wire.Address, a *protocol.CreateBasePlayer) {
		c.createBasePlayer(a)
	})
	n.Serve(protocol.ClientCreateCellPlayer, mercury.InputHandlerFunc(
		func(_ wire.Address, _ mercury.UnpackedHeader, data *wire.Reader) {
			c.createCellPlayer(data.Rest())
		}))
	serve(n, protocol.ClientSpaceData, func(_ wire.Address, a *protocol.SpaceData) {
		slog.Debug("space data", "space", a.SpaceID, "key", a.Key)
		if c.handler != nil {
			c.handler.SpaceData(a.SpaceID, a.EntryID, a.Key, a.Data)
		}
	})
	serve(n, protocol.ClientEnterAoI, func(_ wire.Address, a *protocol.EnterAoI) {
		c.idAlias[a.IDAlias] = a.ID
		if c.handler != nil {
			c.handler.OnEntityEnter(a.ID, c.spaceID, protocol.NullEntityID)
		}
	})
	serve(n, protocol.ClientEnterAoIOnVehicle, func(_ wire.Address, a *protocol.EnterAoIOnVehicle) {
		c.idAlias[a.IDAlias] = a.ID
		c.setVehicle(a.ID, a.VehicleID)
		if c.handler != nil {
			c.handler.OnEntityEnter(a.ID, c.spaceID, a.VehicleID)
		}
	})
	serve(n, protocol.ClientLeaveAoI, func(_ wire.Address, a *protocol.LeaveAoI) {
		if c.handler != nil {
			c.handler.OnEntityLeave(a.ID, a.CacheStamps)
		}
		delete(c.passengerToVehicle, a.ID)
		delete(c.controlled, a.ID)
	})
	serve(n, protocol.ClientCreateEntity, func(_ wire.Address, a *protocol.CreateEntity) {
		c.createEntity(a)
	})
	serve(n, protocol.ClientUpdateEntity, func(_ wire.Address, a *protocol.UpdateEntity) {
		if c.handler != nil {
			c.handler.OnEntityProperties(a.ID, wire.NewReader(a.Data))
		}
	})
	serve(n, protocol.ClientDetailedPosition, func(_ wire.Address, a *protocol.DetailedPosition) {
		c.detailedPosition(a)
	})
	serve(n, protocol.ClientForcedPosition, func(_ wire.Address, a *protocol.ForcedPosition) {
		c.forcedPosition(a)
	})
	serve(n, protocol.ClientControlEntity, func(_ wire.Address, a *protocol.ControlEntity) {
		if a.On {
			c.controlled[a.ID] = struct{}{}
		} else {
			delete(c.controlled, a.ID)
		}
		if c.handler != nil {
			c.handler.OnEntityControl(a.ID, a.On)
		}
	})
	n.Serve(protocol.ClientVoiceData, mercury.InputHandlerFunc(
		func(src wire.Address, _ mercury.UnpackedHeader, data *wire.Reader) {
			if c.handler == nil {
				slog.Error("got voice data before a handler has been set", "from", src)
				return
			}
			c.handler.OnVoiceData(src, data)
		}))
	serve(n, protocol.ClientRestoreClient, func(_ wire.Address, a *protocol.RestoreClient) {
		c.restoreClient(a)
	})
	n.Serve(protocol.ClientRestoreBaseApp, mercury.InputHandlerFunc(
		func(wire.Address, mercury.UnpackedHeader, *wire.Reader) {
			c.restoreBaseApp()
		}))
	serve(n, protocol.ClientResourceHeader, func(_ wire.Address, a *protocol.ResourceHeader) {
		if done, ok := c.downloads.HandleHeader(a.ID, a.Description); ok {
			c.streamComplete(done.ID, done.Description, done.Data)
		}
	})
	serve(n, protocol.ClientResourceFragment, func(_ wire.Address, a *protocol.ResourceFragment) {
		data := bytes.Clone(a.Data)
		if done, ok := c.downloads.HandleFragment(a.ID, seqnum.Seq8(a.Seq), data, a.IsLast()); ok {
			c.streamComplete(done.ID, done.Description, done.Data)
		}
	})
	serve(n, protocol.ClientLoggedOff, func(_ wire.Address, a *protocol.LoggedOff) {
		slog.Info("the server has disconnected us", "reason", a.Reason)
		c.disconnect(false, ReasonLoggedOff)
	})
	serve(n, protocol.ClientRelativePositionReference, func(_ wire.Address, a *protocol.RelativePositionReference) {
		c.referencePosition = protocol.ReferencePosition(c.sentPositions[a.Seq])
	})
	serve(n, protocol.ClientRelativePosition, func(_ wire.Address, a *protocol.RelativePosition) {
		c.referencePosition = a.Position
	})
	serve(n, protocol.ClientSetVehicle, func(_ wire.Address, a *protocol.SetVehicle) {
		c.setVehicle(a.PassengerID, a.VehicleID)
	})

	for _, v := range protocol.AvatarVariants() {
		n.Serve(v.Element(), mercury.InputHandlerFunc(
			func(src wire.Address, _ mercury.UnpackedHeader, data *wire.Reader) {
				u, err := protocol.ReadAvatarUpdate(v, data)
				if err != nil {
					slog.Error("malformed avatar update", "variant", v.Name(), "from", src, "error", err)
					return
				}
				c.avatarUpdate(u)
			}))
	}

	for _, ie := range protocol.EntityMessageElements(protocol.ClientEntityMessage) {
		n.Serve(ie, mercury.InputHandlerFunc(c.entityMessage))
	}

	n.SetExtensionData(c)
}

func (c *Connection) authenticate(a *protocol.Authenticate) {
	if a.Key != c.sessionKey {
		slog.Error("unexpected session key", "got", a.Key, "want", c.sessionKey)
	}
}

// entityMessage разбирает скриптовые сообщения 0x80..0xFE: бит 0x40
// отличает свойство от метода.
func (c *Connection) entityMessage(src wire.Address, hdr mercury.UnpackedHeader, data *wire.Reader) {
	raw, err := data.ReadInt32()
	if err != nil {
		slog.Error("entity message without entity id", "message", hdr.ID, "from", src, "error", err)
		return
	}
	if c.handler == nil {
		return
	}

	id := protocol.EntityID(raw)
	messageID := int(hdr.ID) - protocol.EntityMessageFirst
	if messageID&protocol.EntityPropertyFlag != 0 {
		c.handler.OnEntityProperty(id, messageID&^protocol.EntityPropertyFlag, data)
		return
	}
	c.handler.OnEntityMethod(id, messageID, data)
}

func (c *Connection) avatarUpdate(u protocol.AvatarUpdate) {
	if c.handler == nil {
		return
	}

	id := u.ID
	if u.Variant.Alias {
		id = c.idAlias[u.Alias]
	}
	vehicleID := c.VehicleID(id)

	// На транспорте смещения считаются от самого транспорта.
	var origin protocol.Vector3
	if vehicleID == protocol.NullEntityID {
		origin = c.referencePosition
	}
	pos, posErr := u.Position(origin)

	if c.IsControlledLocally(id) {
		return
	}

	c.handler.OnEntityMove(Move{
		ID:        id,
		SpaceID:   c.spaceID,
		VehicleID: vehicleID,
		Position:  pos,
		PosError:  posErr,
		Direction: u.Direction(),
		Volatile:  true,
	})
}

func (c *Connection) detailedPosition(a *protocol.DetailedPosition) {
	vehicleID := c.VehicleID(a.ID)
	c.detailedPositionReceived(a.ID, protocol.NullEntityID, a.Position)

	if c.handler == nil || c.IsControlledLocally(a.ID) {
		return
	}
	c.handler.OnEntityMove(Move{
		ID:        a.ID,
		SpaceID:   c.spaceID,
		VehicleID: vehicleID,
		Position:  a.Position,
		Direction: a.Direction,
	})
}

// forcedPosition is a server correction of an entity this client moves.
func (c *Connection) forcedPosition(a *protocol.ForcedPosition) {
	if !c.IsControlledLocally(a.ID) {
		slog.Warn("received forced position for entity that we do not control", "entity", a.ID)
		return
	}

	if c.Online() {
		if a.ID == c.id {
			if c.spaceID != 0 && c.spaceID != a.SpaceID && c.handler != nil {
				c.handler.SpaceGone(c.spaceID)
			}
			c.spaceID = a.SpaceID
			c.Bundle().StartMessage(protocol.BaseAppAckPhysicsCorrection).WriteUint8(0)
		} else {
			protocol.AckWardPhysicsCorrection{Ward: a.ID}.
				Write(c.Bundle().StartMessage(protocol.BaseAppAckWardPhysicsCorrection))
		}
	}

	if c.handler != nil {
		c.handler.OnEntityMove(Move{
			ID:        a.ID,
			SpaceID:   a.SpaceID,
			VehicleID: a.VehicleID,
			Position:  a.Position,
			Direction: a.Direction,
		})
	}
}

func (c *Connection) detailedPositionReceived(id, vehicleID protocol.EntityID, pos protocol.Vector3) {
	if id == c.id && vehicleID == protocol.NullEntityID {
		c.referencePosition = protocol.ReferencePosition(pos)
	}
}

// resetEntities drops local entity state. The server only sends it after
// seeing enableEntities, so enableEntities is sent again as the ack.
func (c *Connection) resetEntities(keepPlayerOnBase bool) {
	if !c.entitiesEnabled {
		slog.Warn("resetEntities received before entities were enabled")
	}

	// Старый бандл уходит до очистки состояния.
	c.Send()

	clear(c.controlled)
	clear(c.passengerToVehicle)
	c.pendingCellPlayer = nil

	if !keepPlayerOnBase {
		c.id = protocol.NullEntityID
	}

	// Новый бандл праймится заново.
	c.Send()

	c.entitiesEnabled = false
	c.EnableEntities()

	if c.handler != nil {
		c.handler.OnEntitiesReset(keepPlayerOnBase)
	}
}

func (c *Connection) createBasePlayer(a *protocol.CreateBasePlayer) {
	slog.Info("creating base player", "id", a.ID, "type", a.Type)
	c.id = a.ID

	if c.handler != nil {
		c.handler.OnBasePlayerCreate(c.id, a.Type, wire.NewReader(a.Data))
	}

	if len(c.pendingCellPlayer) > 0 {
		slog.Info("playing buffered createCellPlayer message")
		msg := c.pendingCellPlayer
		c.pendingCellPlayer = nil
		c.createCellPlayer(msg)
	}
}

func (c *Connection) createCellPlayer(msg []byte) {
	if c.id == protocol.NullEntityID {
		slog.Warn("got createCellPlayer before createBasePlayer, buffering message")
		c.pendingCellPlayer = bytes.Clone(msg)
		return
	}

	var a protocol.CreateCellPlayer
	if err := a.Read(wire.NewReader(msg)); err != nil {
		slog.Error("malformed message", "message", protocol.ClientCreateCellPlayer.Name, "error", err)
		return
	}
	slog.Info("creating cell player", "id", c.id, "space", a.SpaceID)

	c.spaceID = a.SpaceID
	c.controlled[c.id] = struct{}{}
	c.setVehicle(c.id, a.VehicleID)

	if c.handler != nil {
		c.handler.OnCellPlayerCreate(c.id, c.spaceID, a.VehicleID, a.Position, a.Direction, wire.NewReader(a.Data))
	}

	c.detailedPositionReceived(c.id, a.VehicleID, a.Position)

	// С этого момента сервер шлёт регулярно.
	if c.Online() {
		c.channel.SetIrregular(false)
	}
}

func (c *Connection) createEntity(a *protocol.CreateEntity) {
	vehicleID := c.VehicleID(a.ID)
	if c.handler != nil {
		c.handler.OnEntityCreate(a.ID, a.Type, c.spaceID, vehicleID, a.Position,
			a.Direction.Unpack(), wire.NewReader(a.Data))
	}
	c.detailedPositionReceived(a.ID, vehicleID, a.Position)
}

func (c *Connection) restoreClient(a *protocol.RestoreClient) {
	if c.handler == nil {
		slog.Error("no handler for restoreClient, maybe already logged off", "entity", a.ID)
	} else {
		c.setVehicle(a.ID, a.VehicleID)
		c.handler.OnRestoreClient(a.ID, a.SpaceID, a.VehicleID, a.Position, a.Direction, wire.NewReader(a.Data))
	}

	if c.Offline() {
		return
	}
	protocol.RestoreClientAck{}.Write(c.Bundle().StartMessage(protocol.BaseAppRestoreClientAck))
	c.Send()
}

// restoreBaseApp: BaseApp потерял состояние, сессия закрывается, но
// обработчик остаётся для следующего входа.
func (c *Connection) restoreBaseApp() {
	saved := c.handler
	c.disconnect(true, ReasonRestoreBaseApp)
	c.handler = saved
}

func (c *Connection) streamComplete(id uint16, desc string, data []byte) {
	slog.Debug("download complete", "download", id, "description", desc, "bytes", len(data))
	if c.handler != nil {
		c.handler.OnStreamComplete(id, desc, data)
	}
}
