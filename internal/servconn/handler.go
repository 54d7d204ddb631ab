package servconn

import (
	"github.com/udisondev/worldlink/internal/protocol"
	"github.com/udisondev/worldlink/internal/wire"
)

// Move is a position update for one entity.
type Move struct {
	ID        protocol.EntityID
	SpaceID   protocol.SpaceID
	VehicleID protocol.EntityID
	Position  protocol.Vector3
	// PosError bounds the compression error per axis.
	PosError  protocol.Vector3
	Direction protocol.Direction3D
	// Volatile updates come from the stream of avatar updates and may be
	// superseded at any time; detailed and forced positions are not.
	Volatile  bool
}

// MessageHandler receives the application messages of an online session.
// Callbacks run on the dispatcher goroutine, inside ProcessInput. Readers
// passed in are only valid for the duration of the call.
type MessageHandler interface {
	// OnBasePlayerCreate creates the player as far as the base needs it.
	OnBasePlayerCreate(id protocol.EntityID, typ protocol.EntityTypeID, data *wire.Reader)
	// OnCellPlayerCreate completes the player with its cell data.
	OnCellPlayerCreate(id protocol.EntityID, spaceID protocol.SpaceID, vehicleID protocol.EntityID,
		pos protocol.Vector3, dir protocol.Direction3D, data *wire.Reader)
	// OnEntityControl reports that this client may (or may no longer) move id with AddMove.
	OnEntityControl(id protocol.EntityID, on bool)
	OnEntityEnter(id protocol.EntityID, spaceID protocol.SpaceID, vehicleID protocol.EntityID)
	// OnEntityLeave hands over the cache stamps to report in a later RequestEntityUpdate.
	OnEntityLeave(id protocol.EntityID, stamps []protocol.EventNumber)
	OnEntityCreate(id protocol.EntityID, typ protocol.EntityTypeID, spaceID protocol.SpaceID,
		vehicleID protocol.EntityID, pos protocol.Vector3, dir protocol.Direction3D, data *wire.Reader)
	OnEntityProperties(id protocol.EntityID, data *wire.Reader)
	OnEntityProperty(id protocol.EntityID, messageID int, data *wire.Reader)
	OnEntityMethod(id protocol.EntityID, messageID int, data *wire.Reader)
	OnEntityMove(m Move)
	SpaceData(spaceID protocol.SpaceID, entryID wire.Address, key uint16, data []byte)
	SpaceGone(spaceID protocol.SpaceID)
	OnVoiceData(src wire.Address, data *wire.Reader)
	// OnStreamComplete delivers a finished resource download.
	OnStreamComplete(id uint16, desc string, data []byte)
	OnEntitiesReset(keepPlayerOnBase bool)
	OnRestoreClient(id protocol.EntityID, spaceID protocol.SpaceID, vehicleID protocol.EntityID,
		pos protocol.Vector3, dir protocol.Direction3D, data *wire.Reader)
	OnEnableEntitiesRejected()
}

// BaseHandler implements MessageHandler with no-ops. Embed it and
// override what you need.
type BaseHandler struct{}

func (BaseHandler) OnBasePlayerCreate(protocol.EntityID, protocol.EntityTypeID, *wire.Reader) {}
func (BaseHandler) OnCellPlayerCreate(protocol.EntityID, protocol.SpaceID, protocol.EntityID,
	protocol.Vector3, protocol.Direction3D, *wire.Reader) {
}
func (BaseHandler) OnEntityControl(protocol.EntityID, bool)                              {}
func (BaseHandler) OnEntityEnter(protocol.EntityID, protocol.SpaceID, protocol.EntityID) {}
func (BaseHandler) OnEntityLeave(protocol.EntityID, []protocol.EventNumber)              {}
func (BaseHandler) OnEntityCreate(protocol.EntityID, protocol.EntityTypeID, protocol.SpaceID,
	protocol.EntityID, protocol.Vector3, protocol.Direction3D, *wire.Reader) {
}
func (BaseHandler) OnEntityProperties(protocol.EntityID, *wire.Reader)       {}
func (BaseHandler) OnEntityProperty(protocol.EntityID, int, *wire.Reader)    {}
func (BaseHandler) OnEntityMethod(protocol.EntityID, int, *wire.Reader)      {}
func (BaseHandler) OnEntityMove(Move)                                        {}
func (BaseHandler) SpaceData(protocol.SpaceID, wire.Address, uint16, []byte) {}
func (BaseHandler) SpaceGone(protocol.SpaceID)                               {}
func (BaseHandler) OnVoiceData(wire.Address, *wire.Reader)                   {}
func (BaseHandler) OnStreamComplete(uint16, string, []byte)                  {}
func (BaseHandler) OnEntitiesReset(bool)                                     {}
func (BaseHandler) OnRestoreClient(protocol.EntityID, protocol.SpaceID, protocol.EntityID,
	protocol.Vector3, protocol.Direction3D, *wire.Reader) {
}
func (BaseHandler) OnEnableEntitiesRejected() {}

var _ MessageHandler = BaseHandler{}
