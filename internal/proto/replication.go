package proto

import (
	"fmt"

	"ironfront/server/internal/wire"
)

// Field flag bits selecting which optional fields an entity encodes. The
// bit order matches the wire field order and is frozen.
const (
	FieldPosition uint32 = 1 << iota
	FieldOrientation
	FieldVelocity
	FieldHealth
	FieldState
	FieldCustom
)

// FieldAll is every defined field bit combined.
const FieldAll = FieldPosition | FieldOrientation | FieldVelocity | FieldHealth | FieldState | FieldCustom

// Vec3 is a 32-bit float triple. Orientation uses it as pitch/yaw/roll.
type Vec3 struct {
	X, Y, Z float32
}

// ActorState is the fixed-schema replicated state of a game actor. A field
// travels on the wire iff its bit is set in FieldFlags; the wire order is
// position, orientation, velocity, health, state, custom.
//
// There is no state value member: the legacy encoder wrote the flag mask
// itself in place of a state payload, so the four bytes behind FieldState
// carry no independent meaning and both codec ends merely preserve them.
type ActorState struct {
	ID          uint32
	FieldFlags  uint32
	Position    Vec3
	Orientation Vec3
	Velocity    Vec3
	Health      int32
	Custom      []byte
}

// PropertyState is the generic-object counterpart of ActorState, keyed by
// ObjectID. Actors and property objects have independent registries, so the
// two models stay parallel rather than unioned.
type PropertyState struct {
	ObjectID    uint32
	FieldFlags  uint32
	Position    Vec3
	Orientation Vec3
	Velocity    Vec3
	Health      int32
	Custom      []byte
}

func writeVec3(pkt *wire.Packet, v Vec3) {
	pkt.WriteF32(v.X)
	pkt.WriteF32(v.Y)
	pkt.WriteF32(v.Z)
}

func readVec3(pkt *wire.Packet) (Vec3, error) {
	var v Vec3
	var err error
	if v.X, err = pkt.ReadF32(); err != nil {
		return Vec3{}, err
	}
	if v.Y, err = pkt.ReadF32(); err != nil {
		return Vec3{}, err
	}
	if v.Z, err = pkt.ReadF32(); err != nil {
		return Vec3{}, err
	}
	return v, nil
}

func writeEntity(pkt *wire.Packet, id, flags uint32, pos, orient, vel Vec3, health int32, custom []byte) {
	pkt.WriteU32(id)
	pkt.WriteU32(flags)
	if flags&FieldPosition != 0 {
		writeVec3(pkt, pos)
	}
	if flags&FieldOrientation != 0 {
		writeVec3(pkt, orient)
	}
	if flags&FieldVelocity != 0 {
		writeVec3(pkt, vel)
	}
	if flags&FieldHealth != 0 {
		pkt.WriteI32(health)
	}
	if flags&FieldState != 0 {
		// Deployed clients expect the flag mask repeated here.
		pkt.WriteU32(flags)
	}
	if flags&FieldCustom != 0 {
		pkt.WriteBytes(custom)
	}
}

type entityFields struct {
	flags       uint32
	position    Vec3
	orientation Vec3
	velocity    Vec3
	health      int32
	custom      []byte
}

func readEntity(pkt *wire.Packet, kind string) (uint32, entityFields, error) {
	id, err := pkt.ReadU32()
	if err != nil {
		return 0, entityFields{}, malformed(kind + " id")
	}
	var f entityFields
	if f.flags, err = pkt.ReadU32(); err != nil {
		return 0, entityFields{}, malformed(kind + " field flags")
	}
	if f.flags&FieldPosition != 0 {
		if f.position, err = readVec3(pkt); err != nil {
			return 0, entityFields{}, malformed(kind + " position")
		}
	}
	if f.flags&FieldOrientation != 0 {
		if f.orientation, err = readVec3(pkt); err != nil {
			return 0, entityFields{}, malformed(kind + " orientation")
		}
	}
	if f.flags&FieldVelocity != 0 {
		if f.velocity, err = readVec3(pkt); err != nil {
			return 0, entityFields{}, malformed(kind + " velocity")
		}
	}
	if f.flags&FieldHealth != 0 {
		if f.health, err = pkt.ReadI32(); err != nil {
			return 0, entityFields{}, malformed(kind + " health")
		}
	}
	if f.flags&FieldState != 0 {
		// Consume the repeated flag mask; the value is discarded.
		if _, err = pkt.ReadU32(); err != nil {
			return 0, entityFields{}, malformed(kind + " state")
		}
	}
	if f.flags&FieldCustom != 0 {
		if f.custom, err = pkt.ReadBytes(); err != nil {
			return 0, entityFields{}, malformed(kind + " custom blob")
		}
	}
	return id, f, nil
}

// EncodeActorSnapshot renders a delta snapshot packet: a 32-bit actor count
// followed by each actor's flag-gated encoding.
func EncodeActorSnapshot(actors []ActorState) *wire.Packet {
	pkt := wire.NewPacket(TagOf(MsgActorReplication))
	pkt.WriteU32(uint32(len(actors)))
	for i := range actors {
		a := &actors[i]
		writeEntity(pkt, a.ID, a.FieldFlags, a.Position, a.Orientation, a.Velocity, a.Health, a.Custom)
	}
	return pkt
}

// DecodeActorSnapshot parses a delta snapshot packet body, reading exactly
// the declared number of actors, each shaped by its own field flags.
func DecodeActorSnapshot(pkt *wire.Packet) ([]ActorState, error) {
	count, err := pkt.ReadU32()
	if err != nil {
		return nil, malformed("actor count")
	}
	// id + flags is the minimum footprint of one entry.
	actors := make([]ActorState, 0, min(int(count), pkt.Remaining()/8))
	for i := uint32(0); i < count; i++ {
		id, f, err := readEntity(pkt, fmt.Sprintf("actor %d of %d", i, count))
		if err != nil {
			return nil, err
		}
		actors = append(actors, ActorState{
			ID:          id,
			FieldFlags:  f.flags,
			Position:    f.position,
			Orientation: f.orientation,
			Velocity:    f.velocity,
			Health:      f.health,
			Custom:      f.custom,
		})
	}
	return actors, nil
}

// EncodePropertySnapshot renders the generic-object snapshot packet with the
// same layout as the actor snapshot.
func EncodePropertySnapshot(props []PropertyState) *wire.Packet {
	pkt := wire.NewPacket(TagOf(MsgPropertyReplication))
	pkt.WriteU32(uint32(len(props)))
	for i := range props {
		p := &props[i]
		writeEntity(pkt, p.ObjectID, p.FieldFlags, p.Position, p.Orientation, p.Velocity, p.Health, p.Custom)
	}
	return pkt
}

// DecodePropertySnapshot parses a generic-object snapshot packet body.
func DecodePropertySnapshot(pkt *wire.Packet) ([]PropertyState, error) {
	count, err := pkt.ReadU32()
	if err != nil {
		return nil, malformed("property count")
	}
	props := make([]PropertyState, 0, min(int(count), pkt.Remaining()/8))
	for i := uint32(0); i < count; i++ {
		id, f, err := readEntity(pkt, fmt.Sprintf("property %d of %d", i, count))
		if err != nil {
			return nil, err
		}
		props = append(props, PropertyState{
			ObjectID:    id,
			FieldFlags:  f.flags,
			Position:    f.position,
			Orientation: f.orientation,
			Velocity:    f.velocity,
			Health:      f.health,
			Custom:      f.custom,
		})
	}
	return props, nil
}

// CompressionEnvelope wraps a compressed packet so receivers can tell
// wrapped payloads from plain ones. RawSize is the uncompressed byte count,
// letting the receiver size its decode buffer up front.
type CompressionEnvelope struct {
	Algorithm uint8
	RawSize   uint32
	Data      []byte
}

// EncodeCompression renders a compression envelope packet.
func EncodeCompression(env CompressionEnvelope) *wire.Packet {
	pkt := wire.NewPacket(TagOf(MsgCompression))
	pkt.WriteU8(env.Algorithm)
	pkt.WriteU32(env.RawSize)
	pkt.WriteBytes(env.Data)
	return pkt
}

// DecodeCompression parses a compression envelope packet body.
func DecodeCompression(pkt *wire.Packet) (CompressionEnvelope, error) {
	var env CompressionEnvelope
	var err error
	if env.Algorithm, err = pkt.ReadU8(); err != nil {
		return CompressionEnvelope{}, malformed("compression algorithm")
	}
	if env.RawSize, err = pkt.ReadU32(); err != nil {
		return CompressionEnvelope{}, malformed("compression raw size")
	}
	if env.Data, err = pkt.ReadBytes(); err != nil {
		return CompressionEnvelope{}, malformed("compression data")
	}
	return env, nil
}
