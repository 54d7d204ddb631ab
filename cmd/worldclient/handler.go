package main

import (
	"log/slog"
	"math"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/udisondev/worldlink/internal/protocol"
	"github.com/udisondev/worldlink/internal/servconn"
	"github.com/udisondev/worldlink/internal/wire"
)

var dumper = spew.ConfigState{Indent: "  ", DisableMethods: true, SortKeys: true}

// handler logs what the server sends and counts it for the summary.
type handler struct {
	servconn.BaseHandler

	conn  *servconn.Connection
	dump  bool
	count map[string]int
}

func newHandler(conn *servconn.Connection, dump bool) *handler {
	return &handler{conn: conn, dump: dump, count: make(map[string]int)}
}

func (h *handler) seen(what string, args ...any) {
	h.count[what]++
	if h.dump {
		slog.Debug(what, "args", dumper.Sdump(args...))
	}
}

func (h *handler) summary() map[string]int { return h.count }

func (h *handler) OnBasePlayerCreate(id protocol.EntityID, typ protocol.EntityTypeID, data *wire.Reader) {
	slog.Info("base player created", "id", id, "type", typ)
	h.seen("basePlayer", id, typ, data.Rest())
}

func (h *handler) OnCellPlayerCreate(id protocol.EntityID, spaceID protocol.SpaceID, vehicleID protocol.EntityID,
	pos protocol.Vector3, dir protocol.Direction3D, data *wire.Reader) {
	slog.Info("cell player created", "id", id, "space", spaceID, "position", pos)
	h.seen("cellPlayer", id, spaceID, vehicleID, pos, dir, data.Rest())
}

func (h *handler) OnEntityControl(id protocol.EntityID, on bool) {
	slog.Info("entity control", "id", id, "on", on)
	h.seen("control", id, on)
}

func (h *handler) OnEntityEnter(id protocol.EntityID, spaceID protocol.SpaceID, vehicleID protocol.EntityID) {
	slog.Debug("entity entered", "id", id, "space", spaceID)
	h.seen("enter", id, spaceID, vehicleID)
}

func (h *handler) OnEntityLeave(id protocol.EntityID, stamps []protocol.EventNumber) {
	slog.Debug("entity left", "id", id)
	h.seen("leave", id, stamps)
}

func (h *handler) OnEntityCreate(id protocol.EntityID, typ protocol.EntityTypeID, spaceID protocol.SpaceID,
	vehicleID protocol.EntityID, pos protocol.Vector3, dir protocol.Direction3D, data *wire.Reader) {
	slog.Info("entity created", "id", id, "type", typ, "position", pos)
	h.seen("create", id, typ, spaceID, vehicleID, pos, dir, data.Rest())
	h.conn.RequestEntityUpdate(id, nil)
}

func (h *handler) OnEntityProperties(id protocol.EntityID, data *wire.Reader) {
	slog.Debug("entity properties", "id", id, "bytes", data.Remaining())
	h.seen("properties", id, data.Rest())
}

func (h *handler) OnEntityProperty(id protocol.EntityID, messageID int, data *wire.Reader) {
	h.seen("property", id, messageID, data.Rest())
}

func (h *handler) OnEntityMethod(id protocol.EntityID, messageID int, data *wire.Reader) {
	slog.Debug("entity method", "id", id, "method", messageID)
	h.seen("method", id, messageID, data.Rest())
}

func (h *handler) OnEntityMove(m servconn.Move) {
	h.seen("move", m)
}

func (h *handler) SpaceData(spaceID protocol.SpaceID, entryID wire.Address, key uint16, data []byte) {
	slog.Info("space data", "space", spaceID, "key", key, "value", string(data))
	h.seen("spaceData", spaceID, entryID, key, data)
}

func (h *handler) SpaceGone(spaceID protocol.SpaceID) {
	slog.Info("space gone", "space", spaceID)
	h.seen("spaceGone", spaceID)
}

func (h *handler) OnVoiceData(src wire.Address, data *wire.Reader) {
	h.seen("voice", src, data.Rest())
}

func (h *handler) OnStreamComplete(id uint16, desc string, data []byte) {
	slog.Info("download complete", "id", id, "description", desc, "bytes", len(data))
	h.seen("download", id, desc, string(data))
}

func (h *handler) OnEntitiesReset(keepPlayerOnBase bool) {
	slog.Info("entities reset", "keep_player", keepPlayerOnBase)
	h.seen("reset", keepPlayerOnBase)
}

func (h *handler) OnRestoreClient(id protocol.EntityID, spaceID protocol.SpaceID, vehicleID protocol.EntityID,
	pos protocol.Vector3, dir protocol.Direction3D, data *wire.Reader) {
	slog.Info("client restored", "id", id, "space", spaceID, "position", pos)
	h.seen("restore", id, spaceID, vehicleID, pos, dir, data.Rest())
}

func (h *handler) OnEnableEntitiesRejected() {
	slog.Warn("enableEntities rejected")
	h.seen("enableRejected")
}

// walker moves the player along a square around where it was created.
type walker struct {
	origin  protocol.Vector3
	started bool
	elapsed time.Duration
}

const (
	walkSide  = 10.0
	walkSpeed = 2.0 // metres per second
)

func (w *walker) step(conn *servconn.Connection, dt time.Duration) {
	id := conn.PlayerID()
	if id == protocol.NullEntityID || !conn.IsControlledLocally(id) {
		return
	}
	if !w.started {
		w.origin = conn.ReferencePosition()
		w.started = true
	}
	w.elapsed += dt

	// Пройденный путь по периметру квадрата.
	d := math.Mod(w.elapsed.Seconds()*walkSpeed, 4*walkSide)
	side, along := int(d/walkSide), float32(math.Mod(d, walkSide))
	pos := w.origin
	var yaw float32
	switch side {
	case 0:
		pos.X += along
		yaw = math.Pi / 2
	case 1:
		pos.X += walkSide
		pos.Z += along
	case 2:
		pos.X += walkSide - along
		pos.Z += walkSide
		yaw = -math.Pi / 2
	default:
		pos.Z += walkSide - along
		yaw = math.Pi
	}

	conn.AddMove(id, conn.SpaceID(), conn.VehicleID(id), pos, protocol.Direction3D{Yaw: yaw}, true, pos)
}
