package protocol

import (
	"fmt"

	"github.com/udisondev/worldlink/internal/wire"
)

// stream wraps a wire.Reader and keeps the first error, so argument
// structs can be decoded field by field and checked once.
type stream struct {
	r   *wire.Reader
	err error
}

func (s *stream) u8() uint8 {
	if s.err != nil {
		return 0
	}
	v, err := s.r.ReadUint8()
	s.err = err
	return v
}

func (s *stream) i8() int8 {
	return int8(s.u8())
}

func (s *stream) boolean() bool {
	return s.u8() != 0
}

func (s *stream) u16() uint16 {
	if s.err != nil {
		return 0
	}
	v, err := s.r.ReadUint16()
	s.err = err
	return v
}

func (s *stream) u32() uint32 {
	if s.err != nil {
		return 0
	}
	v, err := s.r.ReadUint32()
	s.err = err
	return v
}

func (s *stream) i32() int32 {
	return int32(s.u32())
}

func (s *stream) vec() Vector3 {
	if s.err != nil {
		return Vector3{}
	}
	v, err := ReadVector3(s.r)
	s.err = err
	return v
}

func (s *stream) dir() Direction3D {
	if s.err != nil {
		return Direction3D{}
	}
	v, err := ReadDirection3D(s.r)
	s.err = err
	return v
}

func (s *stream) packedDir() PackedDirection {
	if s.err != nil {
		return PackedDirection{}
	}
	v, err := ReadPackedDirection(s.r)
	s.err = err
	return v
}

func (s *stream) str() string {
	if s.err != nil {
		return ""
	}
	v, err := s.r.ReadString()
	s.err = err
	return v
}

func (s *stream) addr() wire.Address {
	if s.err != nil {
		return wire.Address{}
	}
	v, err := s.r.ReadAddress()
	s.err = err
	return v
}

// rest copies whatever is left in the message.
func (s *stream) rest() []byte {
	if s.err != nil {
		return nil
	}
	return append([]byte(nil), s.r.Rest()...)
}

func (s *stream) stamps() []EventNumber {
	if s.err != nil {
		return nil
	}
	n := s.r.Remaining() / 4
	out := make([]EventNumber, 0, n)
	for range n {
		out = append(out, EventNumber(s.i32()))
	}
	return out
}

func (s *stream) done(what string) error {
	if s.err != nil {
		return fmt.Errorf("read %s: %w", what, s.err)
	}
	return nil
}

// ---- client interface ----

type BandwidthNotification struct {
	BitsPerSecond uint32
}

func (a *BandwidthNotification) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.BitsPerSecond = s.u32()
	return s.done("bandwidthNotification")
}

func (a BandwidthNotification) Write(w *wire.Writer) { w.WriteUint32(a.BitsPerSecond) }

type UpdateFrequencyNotification struct {
	Hertz uint8
}

func (a *UpdateFrequencyNotification) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.Hertz = s.u8()
	return s.done("updateFrequencyNotification")
}

func (a UpdateFrequencyNotification) Write(w *wire.Writer) { w.WriteUint8(a.Hertz) }

type SetGameTime struct {
	GameTime TimeStamp
}

func (a *SetGameTime) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.GameTime = TimeStamp(s.u32())
	return s.done("setGameTime")
}

func (a SetGameTime) Write(w *wire.Writer) { w.WriteUint32(uint32(a.GameTime)) }

type ResetEntities struct {
	KeepPlayerOnBase bool
}

func (a *ResetEntities) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.KeepPlayerOnBase = s.boolean()
	return s.done("resetEntities")
}

func (a ResetEntities) Write(w *wire.Writer) { w.WriteBool(a.KeepPlayerOnBase) }

type CreateBasePlayer struct {
	ID   EntityID
	Type EntityTypeID
	Data []byte
}

func (a *CreateBasePlayer) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.ID = EntityID(s.i32())
	a.Type = EntityTypeID(s.u16())
	a.Data = s.rest()
	return s.done("createBasePlayer")
}

func (a CreateBasePlayer) Write(w *wire.Writer) {
	w.WriteInt32(int32(a.ID))
	w.WriteUint16(uint16(a.Type))
	w.WriteBytes(a.Data)
}

type CreateCellPlayer struct {
	SpaceID   SpaceID
	VehicleID EntityID
	Position  Vector3
	Direction Direction3D
	Data      []byte
}

func (a *CreateCellPlayer) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.SpaceID = SpaceID(s.i32())
	a.VehicleID = EntityID(s.i32())
	a.Position = s.vec()
	a.Direction = s.dir()
	a.Data = s.rest()
	return s.done("createCellPlayer")
}

func (a CreateCellPlayer) Write(w *wire.Writer) {
	w.WriteInt32(int32(a.SpaceID))
	w.WriteInt32(int32(a.VehicleID))
	a.Position.Write(w)
	a.Direction.Write(w)
	w.WriteBytes(a.Data)
}

type SpaceData struct {
	SpaceID SpaceID
	EntryID wire.Address
	Key     uint16
	Data    []byte
}

func (a *SpaceData) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.SpaceID = SpaceID(s.i32())
	a.EntryID = s.addr()
	a.Key = s.u16()
	a.Data = s.rest()
	return s.done("spaceData")
}

func (a SpaceData) Write(w *wire.Writer) {
	w.WriteInt32(int32(a.SpaceID))
	w.WriteAddress(a.EntryID)
	w.WriteUint16(a.Key)
	w.WriteBytes(a.Data)
}

type EnterAoI struct {
	ID      EntityID
	IDAlias uint8
}

func (a *EnterAoI) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.ID = EntityID(s.i32())
	a.IDAlias = s.u8()
	return s.done("enterAoI")
}

func (a EnterAoI) Write(w *wire.Writer) {
	w.WriteInt32(int32(a.ID))
	w.WriteUint8(a.IDAlias)
}

type EnterAoIOnVehicle struct {
	ID        EntityID
	VehicleID EntityID
	IDAlias   uint8
}

func (a *EnterAoIOnVehicle) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.ID = EntityID(s.i32())
	a.VehicleID = EntityID(s.i32())
	a.IDAlias = s.u8()
	return s.done("enterAoIOnVehicle")
}

func (a EnterAoIOnVehicle) Write(w *wire.Writer) {
	w.WriteInt32(int32(a.ID))
	w.WriteInt32(int32(a.VehicleID))
	w.WriteUint8(a.IDAlias)
}

// LeaveAoI carries the entity id followed by the cache stamps of its
// properties, one per remaining four bytes.
type LeaveAoI struct {
	ID          EntityID
	CacheStamps []EventNumber
}

func (a *LeaveAoI) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.ID = EntityID(s.i32())
	a.CacheStamps = s.stamps()
	return s.done("leaveAoI")
}

func (a LeaveAoI) Write(w *wire.Writer) {
	w.WriteInt32(int32(a.ID))
	for _, st := range a.CacheStamps {
		w.WriteInt32(int32(st))
	}
}

type CreateEntity struct {
	ID        EntityID
	Type      EntityTypeID
	Position  Vector3
	Direction PackedDirection
	Data      []byte
}

func (a *CreateEntity) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.ID = EntityID(s.i32())
	a.Type = EntityTypeID(s.u16())
	a.Position = s.vec()
	a.Direction = s.packedDir()
	a.Data = s.rest()
	return s.done("createEntity")
}

func (a CreateEntity) Write(w *wire.Writer) {
	w.WriteInt32(int32(a.ID))
	w.WriteUint16(uint16(a.Type))
	a.Position.Write(w)
	a.Direction.Write(w)
	w.WriteBytes(a.Data)
}

type UpdateEntity struct {
	ID   EntityID
	Data []byte
}

func (a *UpdateEntity) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.ID = EntityID(s.i32())
	a.Data = s.rest()
	return s.done("updateEntity")
}

func (a UpdateEntity) Write(w *wire.Writer) {
	w.WriteInt32(int32(a.ID))
	w.WriteBytes(a.Data)
}

type DetailedPosition struct {
	ID        EntityID
	Position  Vector3
	Direction Direction3D
}

func (a *DetailedPosition) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.ID = EntityID(s.i32())
	a.Position = s.vec()
	a.Direction = s.dir()
	return s.done("detailedPosition")
}

func (a DetailedPosition) Write(w *wire.Writer) {
	w.WriteInt32(int32(a.ID))
	a.Position.Write(w)
	a.Direction.Write(w)
}

type ForcedPosition struct {
	ID        EntityID
	SpaceID   SpaceID
	VehicleID EntityID
	Position  Vector3
	Direction Direction3D
}

func (a *ForcedPosition) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.ID = EntityID(s.i32())
	a.SpaceID = SpaceID(s.i32())
	a.VehicleID = EntityID(s.i32())
	a.Position = s.vec()
	a.Direction = s.dir()
	return s.done("forcedPosition")
}

func (a ForcedPosition) Write(w *wire.Writer) {
	w.WriteInt32(int32(a.ID))
	w.WriteInt32(int32(a.SpaceID))
	w.WriteInt32(int32(a.VehicleID))
	a.Position.Write(w)
	a.Direction.Write(w)
}

type ControlEntity struct {
	ID EntityID
	On bool
}

func (a *ControlEntity) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.ID = EntityID(s.i32())
	a.On = s.boolean()
	return s.done("controlEntity")
}

func (a ControlEntity) Write(w *wire.Writer) {
	w.WriteInt32(int32(a.ID))
	w.WriteBool(a.On)
}

type RestoreClient struct {
	ID        EntityID
	SpaceID   SpaceID
	VehicleID EntityID
	Position  Vector3
	Direction Direction3D
	Data      []byte
}

func (a *RestoreClient) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.ID = EntityID(s.i32())
	a.SpaceID = SpaceID(s.i32())
	a.VehicleID = EntityID(s.i32())
	a.Position = s.vec()
	a.Direction = s.dir()
	a.Data = s.rest()
	return s.done("restoreClient")
}

func (a RestoreClient) Write(w *wire.Writer) {
	w.WriteInt32(int32(a.ID))
	w.WriteInt32(int32(a.SpaceID))
	w.WriteInt32(int32(a.VehicleID))
	a.Position.Write(w)
	a.Direction.Write(w)
	w.WriteBytes(a.Data)
}

type ResourceHeader struct {
	ID          uint16
	Description string
}

func (a *ResourceHeader) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.ID = s.u16()
	a.Description = s.str()
	return s.done("resourceHeader")
}

func (a ResourceHeader) Write(w *wire.Writer) {
	w.WriteUint16(a.ID)
	w.WriteString(a.Description)
}

// FragmentFlagLast marks the final fragment of a download.
const FragmentFlagLast uint8 = 1

type ResourceFragment struct {
	ID    uint16
	Seq   uint8
	Flags uint8
	Data  []byte
}

func (a *ResourceFragment) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.ID = s.u16()
	a.Seq = s.u8()
	a.Flags = s.u8()
	a.Data = s.rest()
	return s.done("resourceFragment")
}

func (a ResourceFragment) Write(w *wire.Writer) {
	w.WriteUint16(a.ID)
	w.WriteUint8(a.Seq)
	w.WriteUint8(a.Flags)
	w.WriteBytes(a.Data)
}

func (a ResourceFragment) IsLast() bool { return a.Flags&FragmentFlagLast != 0 }

type LoggedOff struct {
	Reason uint8
}

func (a *LoggedOff) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.Reason = s.u8()
	return s.done("loggedOff")
}

func (a LoggedOff) Write(w *wire.Writer) { w.WriteUint8(a.Reason) }

type TickSync struct {
	Tick uint8
}

func (a *TickSync) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.Tick = s.u8()
	return s.done("tickSync")
}

func (a TickSync) Write(w *wire.Writer) { w.WriteUint8(a.Tick) }

type RelativePositionReference struct {
	Seq uint8
}

func (a *RelativePositionReference) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.Seq = s.u8()
	return s.done("relativePositionReference")
}

func (a RelativePositionReference) Write(w *wire.Writer) { w.WriteUint8(a.Seq) }

type RelativePosition struct {
	Position Vector3
}

func (a *RelativePosition) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.Position = s.vec()
	return s.done("relativePosition")
}

func (a RelativePosition) Write(w *wire.Writer) { a.Position.Write(w) }

type SetVehicle struct {
	PassengerID EntityID
	VehicleID   EntityID
}

func (a *SetVehicle) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.PassengerID = EntityID(s.i32())
	a.VehicleID = EntityID(s.i32())
	return s.done("setVehicle")
}

func (a SetVehicle) Write(w *wire.Writer) {
	w.WriteInt32(int32(a.PassengerID))
	w.WriteInt32(int32(a.VehicleID))
}

// ---- BaseApp external interface ----

type BaseAppLoginArgs struct {
	SessionKey uint32
	Attempt    uint8
}

func (a *BaseAppLoginArgs) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.SessionKey = s.u32()
	a.Attempt = s.u8()
	return s.done("baseAppLogin")
}

func (a BaseAppLoginArgs) Write(w *wire.Writer) {
	w.WriteUint32(a.SessionKey)
	w.WriteUint8(a.Attempt)
}

// Authenticate is sent both ways: by the client to prime a bundle with its
// session key and by the server to confirm it.
type Authenticate struct {
	Key uint32
}

func (a *Authenticate) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.Key = s.u32()
	return s.done("authenticate")
}

func (a Authenticate) Write(w *wire.Writer) { w.WriteUint32(a.Key) }

type AvatarUpdateImplicit struct {
	Position  Vector3
	Direction PackedDirection
	RefNum    uint8
}

func (a *AvatarUpdateImplicit) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.Position = s.vec()
	a.Direction = s.packedDir()
	a.RefNum = s.u8()
	return s.done("avatarUpdateImplicit")
}

func (a AvatarUpdateImplicit) Write(w *wire.Writer) {
	a.Position.Write(w)
	a.Direction.Write(w)
	w.WriteUint8(a.RefNum)
}

type AvatarUpdateExplicit struct {
	SpaceID   SpaceID
	VehicleID EntityID
	OnGround  bool
	Position  Vector3
	Direction PackedDirection
	RefNum    uint8
}

func (a *AvatarUpdateExplicit) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.SpaceID = SpaceID(s.i32())
	a.VehicleID = EntityID(s.i32())
	a.OnGround = s.boolean()
	a.Position = s.vec()
	a.Direction = s.packedDir()
	a.RefNum = s.u8()
	return s.done("avatarUpdateExplicit")
}

func (a AvatarUpdateExplicit) Write(w *wire.Writer) {
	w.WriteInt32(int32(a.SpaceID))
	w.WriteInt32(int32(a.VehicleID))
	w.WriteBool(a.OnGround)
	a.Position.Write(w)
	a.Direction.Write(w)
	w.WriteUint8(a.RefNum)
}

type AvatarUpdateWardImplicit struct {
	Ward      EntityID
	Position  Vector3
	Direction PackedDirection
}

func (a *AvatarUpdateWardImplicit) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.Ward = EntityID(s.i32())
	a.Position = s.vec()
	a.Direction = s.packedDir()
	return s.done("avatarUpdateWardImplicit")
}

func (a AvatarUpdateWardImplicit) Write(w *wire.Writer) {
	w.WriteInt32(int32(a.Ward))
	a.Position.Write(w)
	a.Direction.Write(w)
}

type AvatarUpdateWardExplicit struct {
	Ward      EntityID
	SpaceID   SpaceID
	VehicleID EntityID
	OnGround  bool
	Position  Vector3
	Direction PackedDirection
}

func (a *AvatarUpdateWardExplicit) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.Ward = EntityID(s.i32())
	a.SpaceID = SpaceID(s.i32())
	a.VehicleID = EntityID(s.i32())
	a.OnGround = s.boolean()
	a.Position = s.vec()
	a.Direction = s.packedDir()
	return s.done("avatarUpdateWardExplicit")
}

func (a AvatarUpdateWardExplicit) Write(w *wire.Writer) {
	w.WriteInt32(int32(a.Ward))
	w.WriteInt32(int32(a.SpaceID))
	w.WriteInt32(int32(a.VehicleID))
	w.WriteBool(a.OnGround)
	a.Position.Write(w)
	a.Direction.Write(w)
}

type AckWardPhysicsCorrection struct {
	Ward EntityID
}

func (a *AckWardPhysicsCorrection) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.Ward = EntityID(s.i32())
	s.u8()
	return s.done("ackWardPhysicsCorrection")
}

func (a AckWardPhysicsCorrection) Write(w *wire.Writer) {
	w.WriteInt32(int32(a.Ward))
	w.WriteUint8(0)
}

type RequestEntityUpdate struct {
	ID          EntityID
	CacheStamps []EventNumber
}

func (a *RequestEntityUpdate) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.ID = EntityID(s.i32())
	a.CacheStamps = s.stamps()
	return s.done("requestEntityUpdate")
}

func (a RequestEntityUpdate) Write(w *wire.Writer) {
	w.WriteInt32(int32(a.ID))
	for _, st := range a.CacheStamps {
		w.WriteInt32(int32(st))
	}
}

type RestoreClientAck struct {
	ID int32
}

func (a *RestoreClientAck) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.ID = s.i32()
	return s.done("restoreClientAck")
}

func (a RestoreClientAck) Write(w *wire.Writer) { w.WriteInt32(a.ID) }

type DisconnectClient struct {
	Reason uint8
}

func (a *DisconnectClient) Read(r *wire.Reader) error {
	s := stream{r: r}
	a.Reason = s.u8()
	return s.done("disconnectClient")
}

func (a DisconnectClient) Write(w *wire.Writer) { w.WriteUint8(a.Reason) }
