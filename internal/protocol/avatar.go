package protocol

import (
	"fmt"

	"github.com/udisondev/worldlink/internal/mercury"
	"github.com/udisondev/worldlink/internal/wire"
)

// AvatarUpdateFirstID is the id of the first of the 32 avatar update
// variants in the client interface.
const AvatarUpdateFirstID mercury.MessageID = 32

// PositionEncoding says which coordinates an avatar update carries.
type PositionEncoding uint8

const (
	FullPos PositionEncoding = iota
	OnChunk
	OnGround
	NoPos
)

var positionNames = [...]string{"FullPos", "OnChunk", "OnGround", "NoPos"}

func (p PositionEncoding) size() int {
	switch p {
	case FullPos:
		return 6
	case OnChunk, OnGround:
		return 4
	}
	return 0
}

// DirectionEncoding says which angles an avatar update carries.
type DirectionEncoding uint8

const (
	YawPitchRoll DirectionEncoding = iota
	YawPitch
	Yaw
	NoDir
)

var directionNames = [...]string{"YawPitchRoll", "YawPitch", "Yaw", "NoDir"}

func (d DirectionEncoding) size() int {
	return 3 - int(d)
}

// AvatarVariant identifies one of the avatar update messages.
type AvatarVariant struct {
	Alias     bool
	Position  PositionEncoding
	Direction DirectionEncoding
}

// AvatarVariants returns all 32 variants in id order.
func AvatarVariants() []AvatarVariant {
	out := make([]AvatarVariant, 0, 32)
	for _, alias := range []bool{false, true} {
		for p := FullPos; p <= NoPos; p++ {
			for d := YawPitchRoll; d <= NoDir; d++ {
				out = append(out, AvatarVariant{Alias: alias, Position: p, Direction: d})
			}
		}
	}
	return out
}

// AvatarVariantFor maps a message id back to its variant.
func AvatarVariantFor(id mercury.MessageID) (AvatarVariant, bool) {
	if id < AvatarUpdateFirstID || id >= AvatarUpdateFirstID+32 {
		return AvatarVariant{}, false
	}
	idx := int(id - AvatarUpdateFirstID)
	return AvatarVariant{
		Alias:     idx >= 16,
		Position:  PositionEncoding(idx / 4 % 4),
		Direction: DirectionEncoding(idx % 4),
	}, true
}

func (v AvatarVariant) index() int {
	i := int(v.Position)*4 + int(v.Direction)
	if v.Alias {
		i += 16
	}
	return i
}

func (v AvatarVariant) Name() string {
	id := "NoAlias"
	if v.Alias {
		id = "Alias"
	}
	return "avatarUpdate" + id + positionNames[v.Position] + directionNames[v.Direction]
}

// Size is the fixed payload length of the variant.
func (v AvatarVariant) Size() int {
	n := 4
	if v.Alias {
		n = 1
	}
	return n + v.Position.size() + v.Direction.size()
}

func (v AvatarVariant) Element() mercury.InterfaceElement {
	return mercury.Fixed(AvatarUpdateFirstID+mercury.MessageID(v.index()), v.Name(), v.Size())
}

// positionUnit is the resolution of packed positions, in metres.
const positionUnit = 1.0 / 32

// AvatarUpdate is a decoded avatar update.
type AvatarUpdate struct {
	Variant AvatarVariant
	ID      EntityID
	Alias   uint8
	// Packed holds x, y, z offsets from the reference position. y is
	// unused unless the variant is FullPos.
	Packed [3]int16
	Dir    PackedDirection
}

// ReadAvatarUpdate decodes the payload of the given variant.
func ReadAvatarUpdate(v AvatarVariant, r *wire.Reader) (AvatarUpdate, error) {
	u := AvatarUpdate{Variant: v}
	if v.Alias {
		a, err := r.ReadUint8()
		if err != nil {
			return u, fmt.Errorf("read alias: %w", err)
		}
		u.Alias = a
	} else {
		id, err := r.ReadInt32()
		if err != nil {
			return u, fmt.Errorf("read entity id: %w", err)
		}
		u.ID = EntityID(id)
	}

	var coords []int
	switch v.Position {
	case FullPos:
		coords = []int{0, 1, 2}
	case OnChunk, OnGround:
		coords = []int{0, 2}
	}
	for _, c := range coords {
		p, err := r.ReadInt16()
		if err != nil {
			return u, fmt.Errorf("read position: %w", err)
		}
		u.Packed[c] = p
	}

	angles := []*int8{&u.Dir.Yaw, &u.Dir.Pitch, &u.Dir.Roll}
	for _, a := range angles[:v.Direction.size()] {
		b, err := r.ReadInt8()
		if err != nil {
			return u, fmt.Errorf("read direction: %w", err)
		}
		*a = b
	}
	return u, nil
}

// Write encodes u in its variant's layout.
func (u AvatarUpdate) Write(w *wire.Writer) {
	if u.Variant.Alias {
		w.WriteUint8(u.Alias)
	} else {
		w.WriteInt32(int32(u.ID))
	}
	switch u.Variant.Position {
	case FullPos:
		w.WriteInt16(u.Packed[0])
		w.WriteInt16(u.Packed[1])
		w.WriteInt16(u.Packed[2])
	case OnChunk, OnGround:
		w.WriteInt16(u.Packed[0])
		w.WriteInt16(u.Packed[2])
	}
	angles := []int8{u.Dir.Yaw, u.Dir.Pitch, u.Dir.Roll}
	for _, a := range angles[:u.Variant.Direction.size()] {
		w.WriteInt8(a)
	}
}

// Position resolves the update against the reference position and
// returns the position with its per-axis error bound.
func (u AvatarUpdate) Position(ref Vector3) (Vector3, Vector3) {
	const half = positionUnit / 2
	switch u.Variant.Position {
	case FullPos:
		return Vector3{
			X: ref.X + float32(u.Packed[0])*positionUnit,
			Y: ref.Y + float32(u.Packed[1])*positionUnit,
			Z: ref.Z + float32(u.Packed[2])*positionUnit,
		}, Vector3{half, half, half}
	case OnChunk, OnGround:
		return Vector3{
			X: ref.X + float32(u.Packed[0])*positionUnit,
			Y: NoPositionY,
			Z: ref.Z + float32(u.Packed[2])*positionUnit,
		}, Vector3{half, 0, half}
	}
	return Vector3{NoPositionY, NoPositionY, NoPositionY}, Vector3{}
}

// Direction unpacks the angles the variant carries; missing ones are zero.
func (u AvatarUpdate) Direction() Direction3D {
	return u.Dir.Unpack()
}

// PackOffset converts an offset from the reference into packed units.
// Offsets beyond the int16 range are clamped.
func PackOffset(off Vector3) [3]int16 {
	pack := func(f float32) int16 {
		v := f / positionUnit
		if v > 32767 {
			v = 32767
		}
		if v < -32768 {
			v = -32768
		}
		if v < 0 {
			return int16(v - 0.5)
		}
		return int16(v + 0.5)
	}
	return [3]int16{pack(off.X), pack(off.Y), pack(off.Z)}
}
