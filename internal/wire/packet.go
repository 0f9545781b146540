package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrShortPacket reports a read past the end of a packet body.
var ErrShortPacket = errors.New("wire: read past end of packet")

// Packet is the growable tagged byte buffer application codecs build on.
// Writes append to the body; reads consume it front to back through an
// internal cursor. All integers and floats are little-endian and fixed
// width, strings and byte blobs carry a u32 length prefix.
type Packet struct {
	tag  string
	body []byte
	roff int
}

// NewPacket returns an empty packet carrying the given tag.
func NewPacket(tag string) *Packet {
	return &Packet{tag: tag}
}

// Tag reports the packet's type tag.
func (p *Packet) Tag() string { return p.tag }

// Body exposes the raw packet body. The slice aliases internal storage.
func (p *Packet) Body() []byte { return p.body }

// Remaining reports how many unread body bytes are left.
func (p *Packet) Remaining() int { return len(p.body) - p.roff }

// WriteU8 appends a single byte.
func (p *Packet) WriteU8(v uint8) {
	p.body = append(p.body, v)
}

// WriteU32 appends an unsigned 32-bit value.
func (p *Packet) WriteU32(v uint32) {
	p.body = binary.LittleEndian.AppendUint32(p.body, v)
}

// WriteI32 appends a signed 32-bit value.
func (p *Packet) WriteI32(v int32) {
	p.body = binary.LittleEndian.AppendUint32(p.body, uint32(v))
}

// WriteF32 appends a 32-bit IEEE float.
func (p *Packet) WriteF32(v float32) {
	p.body = binary.LittleEndian.AppendUint32(p.body, math.Float32bits(v))
}

// WriteString appends a u32 length prefix followed by the string bytes.
func (p *Packet) WriteString(s string) {
	p.body = binary.LittleEndian.AppendUint32(p.body, uint32(len(s)))
	p.body = append(p.body, s...)
}

// WriteBytes appends a u32 length prefix followed by the blob bytes.
func (p *Packet) WriteBytes(b []byte) {
	p.body = binary.LittleEndian.AppendUint32(p.body, uint32(len(b)))
	p.body = append(p.body, b...)
}

// ReadU8 consumes a single byte.
func (p *Packet) ReadU8() (uint8, error) {
	if p.Remaining() < 1 {
		return 0, ErrShortPacket
	}
	v := p.body[p.roff]
	p.roff++
	return v, nil
}

// ReadU32 consumes an unsigned 32-bit value.
func (p *Packet) ReadU32() (uint32, error) {
	if p.Remaining() < 4 {
		return 0, ErrShortPacket
	}
	v := binary.LittleEndian.Uint32(p.body[p.roff:])
	p.roff += 4
	return v, nil
}

// ReadI32 consumes a signed 32-bit value.
func (p *Packet) ReadI32() (int32, error) {
	v, err := p.ReadU32()
	return int32(v), err
}

// ReadF32 consumes a 32-bit IEEE float.
func (p *Packet) ReadF32() (float32, error) {
	v, err := p.ReadU32()
	return math.Float32frombits(v), err
}

// ReadString consumes a length-prefixed string. The declared length is
// checked against the remaining body before anything is allocated.
func (p *Packet) ReadString() (string, error) {
	b, err := p.readPrefixed()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBytes consumes a length-prefixed blob. Zero-length blobs decode to nil.
// The returned slice is a copy and safe to retain.
func (p *Packet) ReadBytes() ([]byte, error) {
	b, err := p.readPrefixed()
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (p *Packet) readPrefixed() ([]byte, error) {
	n, err := p.ReadU32()
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(p.Remaining()) {
		return nil, ErrShortPacket
	}
	b := p.body[p.roff : p.roff+int(n)]
	p.roff += int(n)
	return b, nil
}

// Marshal renders the packet as tag (length-prefixed) followed by the body.
// It does not consume the read cursor.
func (p *Packet) Marshal() []byte {
	out := make([]byte, 0, 4+len(p.tag)+len(p.body))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(p.tag)))
	out = append(out, p.tag...)
	out = append(out, p.body...)
	return out
}

// ParsePacket reads a marshaled packet back into tag and body, with the read
// cursor at the start of the body. The body aliases buf.
func ParsePacket(buf []byte) (*Packet, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("%w: missing tag prefix", ErrShortPacket)
	}
	n := binary.LittleEndian.Uint32(buf)
	if uint64(n) > uint64(len(buf)-4) {
		return nil, fmt.Errorf("%w: tag length %d exceeds buffer", ErrShortPacket, n)
	}
	return &Packet{
		tag:  string(buf[4 : 4+n]),
		body: buf[4+n:],
	}, nil
}
