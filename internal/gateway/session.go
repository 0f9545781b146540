package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ironfront/server/internal/metrics"
	"ironfront/server/internal/proto"
	"ironfront/server/internal/wire"
)

func channelName(ch uint8) string {
	switch ch {
	case proto.ChannelControl:
		return "control"
	case proto.ChannelChat:
		return "chat"
	case proto.ChannelMovement:
		return "movement"
	case proto.ChannelReplication:
		return "replication"
	default:
		return "unknown"
	}
}

var errNotConnected = errors.New("gateway: session has no connection")

// session tracks one client from the join handshake through its websocket
// connection. lastSeen is guarded by the hub mutex; the connection, framers,
// and open-channel set are guarded by writeMu.
type session struct {
	clientID uint32
	token    string

	writeMu      sync.Mutex
	conn         *websocket.Conn
	framers      map[uint8]*wire.Framer
	opened       map[uint8]bool
	writeTimeout time.Duration

	lastSeen time.Time
}

// attach swaps in a fresh connection and resets the per-channel framers so
// the new stream starts at sequence zero. It returns the connection it
// replaced, if any.
func (s *session) attach(conn *websocket.Conn) *websocket.Conn {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	old := s.conn
	s.conn = conn
	s.framers = make(map[uint8]*wire.Framer)
	s.opened = make(map[uint8]bool)
	return old
}

func (s *session) currentConn() *websocket.Conn {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn
}

// sendPacket frames the packet on the given channel and writes it as one
// binary datagram.
func (s *session) sendPacket(channel uint8, pkt *wire.Packet, reliable bool) error {
	return s.write(channel, pkt.Marshal(), reliable, false)
}

// write builds one frame around payload and writes it. The first frame on a
// channel carries the open flag so the receiver can reset its stream state.
func (s *session) write(channel uint8, payload []byte, reliable, closeChannel bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.conn == nil {
		return errNotConnected
	}

	framer := s.framers[channel]
	if framer == nil {
		framer = wire.NewFramer(channel)
		s.framers[channel] = framer
	}
	open := !s.opened[channel]

	frame, err := framer.Build(payload, reliable, open, closeChannel)
	if err != nil {
		return err
	}
	s.opened[channel] = true

	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return err
	}
	metrics.FramesSent.WithLabelValues(channelName(channel)).Inc()
	return nil
}

// closeChannels emits a close-flagged empty frame on every channel the
// session opened. Failures are ignored; the connection is going away.
func (s *session) closeChannels() {
	s.writeMu.Lock()
	channels := make([]uint8, 0, len(s.opened))
	for ch, open := range s.opened {
		if open {
			channels = append(channels, ch)
		}
	}
	s.writeMu.Unlock()

	for _, ch := range channels {
		_ = s.write(ch, nil, false, true)
	}
}
