// Package wire implements the legacy binary transport format shared with
// existing game clients: self-delimited frames multiplexing logical channels
// over a single datagram stream, and the tagged packet buffer carried inside
// them. The byte layout is fixed; changing it breaks deployed clients.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// HeaderSize is the fixed number of bytes preceding every frame payload.
const HeaderSize = 8

// Frame header flag bits.
const (
	FlagReliable uint8 = 1 << 0
	FlagOpen     uint8 = 1 << 1
	FlagClose    uint8 = 1 << 2
)

// Header byte offsets. All multi-byte fields are little-endian.
const (
	offChannel  = 0
	offSequence = 1
	offFlags    = 3
	offPadding  = 4
	offLength   = 5
	offReserved = 7
)

var (
	// ErrTruncatedFrame reports a buffer too short for the declared frame.
	ErrTruncatedFrame = errors.New("wire: truncated frame")
	// ErrPayloadTooLarge reports a payload that cannot fit the 16-bit
	// length field.
	ErrPayloadTooLarge = errors.New("wire: payload exceeds frame capacity")
)

// Header carries the parsed fixed-size prefix of a frame.
type Header struct {
	Channel  uint8
	Sequence uint16
	Flags    uint8
	Length   uint16
}

// Reliable reports whether the reliable delivery bit is set. The core does
// not enforce redelivery; the flag is surfaced for the session layer.
func (h Header) Reliable() bool { return h.Flags&FlagReliable != 0 }

// Open reports whether the frame opens its channel.
func (h Header) Open() bool { return h.Flags&FlagOpen != 0 }

// Close reports whether the frame closes its channel.
func (h Header) Close() bool { return h.Flags&FlagClose != 0 }

// Frame pairs a parsed header with its payload. Payload aliases the buffer
// handed to ParseFrame; callers that retain it past the datagram's lifetime
// must copy.
type Frame struct {
	Header
	Payload []byte
}

// WireSize reports the number of bytes the frame occupies on the wire,
// letting a reader walk consecutive frames packed into one datagram.
func (f Frame) WireSize() int { return HeaderSize + len(f.Payload) }

// Framer assigns outbound sequence numbers for a single channel. Sequence
// state makes it unsafe to share across goroutines without synchronization.
type Framer struct {
	channel uint8
	seq     uint16
}

// NewFramer returns a framer bound to the given channel with its sequence
// counter at zero.
func NewFramer(channel uint8) *Framer {
	return &Framer{channel: channel}
}

// Channel reports the channel index the framer stamps on every frame.
func (f *Framer) Channel() uint8 { return f.channel }

// Build emits an 8-byte header followed by payload and advances the sequence
// counter, wrapping at 16 bits. The counter is only consumed on success.
func (f *Framer) Build(payload []byte, reliable, open, close bool) ([]byte, error) {
	if len(payload) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	var flags uint8
	if reliable {
		flags |= FlagReliable
	}
	if open {
		flags |= FlagOpen
	}
	if close {
		flags |= FlagClose
	}
	buf := make([]byte, HeaderSize+len(payload))
	buf[offChannel] = f.channel
	binary.LittleEndian.PutUint16(buf[offSequence:], f.seq)
	buf[offFlags] = flags
	binary.LittleEndian.PutUint16(buf[offLength:], uint16(len(payload)))
	copy(buf[HeaderSize:], payload)
	f.seq++
	return buf, nil
}

// ParseFrame reads one frame from the front of buf. It fails with
// ErrTruncatedFrame when fewer than HeaderSize bytes are available or the
// declared payload length runs past the end of buf. Bytes beyond the declared
// length are left untouched for the next frame. The padding and reserved
// bytes are ignored; legacy clients do not zero them reliably.
func ParseFrame(buf []byte) (Frame, error) {
	if len(buf) < HeaderSize {
		return Frame{}, fmt.Errorf("%w: %d of %d header bytes", ErrTruncatedFrame, len(buf), HeaderSize)
	}
	h := Header{
		Channel:  buf[offChannel],
		Sequence: binary.LittleEndian.Uint16(buf[offSequence:]),
		Flags:    buf[offFlags],
		Length:   binary.LittleEndian.Uint16(buf[offLength:]),
	}
	end := HeaderSize + int(h.Length)
	if end > len(buf) {
		return Frame{}, fmt.Errorf("%w: declared %d payload bytes, %d available", ErrTruncatedFrame, h.Length, len(buf)-HeaderSize)
	}
	return Frame{Header: h, Payload: buf[HeaderSize:end]}, nil
}
