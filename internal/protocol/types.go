package protocol

import (
	"math"

	"github.com/udisondev/worldlink/internal/wire"
)

type (
	EntityID     int32
	SpaceID      int32
	EntityTypeID uint16
	EventNumber  int32
	TimeStamp    uint32
)

// NullEntityID marks "no entity" (no vehicle, player not yet known).
const NullEntityID EntityID = 0

// NoPositionY is the height reported when an update carries no usable y.
const NoPositionY float32 = -13000

// Vector3 is a position or offset in metres.
type Vector3 struct {
	X, Y, Z float32
}

func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

func (v Vector3) Sub(o Vector3) Vector3 {
	return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// ReferencePosition snaps a position to the whole-metre grid both ends use
// as the origin of relative avatar updates.
func ReferencePosition(v Vector3) Vector3 {
	round := func(f float32) float32 {
		return float32(math.Round(float64(f)))
	}
	return Vector3{round(v.X), round(v.Y), round(v.Z)}
}

func (v Vector3) Write(w *wire.Writer) {
	w.WriteFloat32(v.X)
	w.WriteFloat32(v.Y)
	w.WriteFloat32(v.Z)
}

func ReadVector3(r *wire.Reader) (Vector3, error) {
	var v Vector3
	var err error
	if v.X, err = r.ReadFloat32(); err != nil {
		return v, err
	}
	if v.Y, err = r.ReadFloat32(); err != nil {
		return v, err
	}
	v.Z, err = r.ReadFloat32()
	return v, err
}

// Direction3D holds yaw, pitch and roll in radians.
type Direction3D struct {
	Yaw, Pitch, Roll float32
}

func (d Direction3D) Write(w *wire.Writer) {
	w.WriteFloat32(d.Yaw)
	w.WriteFloat32(d.Pitch)
	w.WriteFloat32(d.Roll)
}

func ReadDirection3D(r *wire.Reader) (Direction3D, error) {
	var d Direction3D
	var err error
	if d.Yaw, err = r.ReadFloat32(); err != nil {
		return d, err
	}
	if d.Pitch, err = r.ReadFloat32(); err != nil {
		return d, err
	}
	d.Roll, err = r.ReadFloat32()
	return d, err
}

// PackedDirection is a direction squeezed into three bytes.
type PackedDirection struct {
	Yaw, Pitch, Roll int8
}

func PackDirection(d Direction3D) PackedDirection {
	return PackedDirection{AngleToInt8(d.Yaw), AngleToInt8(d.Pitch), AngleToInt8(d.Roll)}
}

func (p PackedDirection) Unpack() Direction3D {
	return Direction3D{Int8ToAngle(p.Yaw), Int8ToAngle(p.Pitch), Int8ToAngle(p.Roll)}
}

func (p PackedDirection) Write(w *wire.Writer) {
	w.WriteInt8(p.Yaw)
	w.WriteInt8(p.Pitch)
	w.WriteInt8(p.Roll)
}

func ReadPackedDirection(r *wire.Reader) (PackedDirection, error) {
	b, err := r.ReadBytes(3)
	if err != nil {
		return PackedDirection{}, err
	}
	return PackedDirection{int8(b[0]), int8(b[1]), int8(b[2])}, nil
}

// AngleToInt8 maps [-pi, pi) onto int8 with a step of pi/128.
func AngleToInt8(a float32) int8 {
	a = float32(math.Remainder(float64(a), 2*math.Pi))
	v := math.Round(float64(a) * 128 / math.Pi)
	if v >= 128 {
		v -= 256
	}
	return int8(v)
}

// Int8ToAngle reverses AngleToInt8.
func Int8ToAngle(v int8) float32 {
	return float32(v) * math.Pi / 128
}
