package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"ironfront/server/internal/dispatch"
	"ironfront/server/internal/metrics"
	"ironfront/server/internal/proto"
	"ironfront/server/internal/wire"
)

type joinResponse struct {
	ID              uint32 `json:"id"`
	Token           string `json:"token"`
	HeartbeatMillis int64  `json:"heartbeatMillis"`
}

// HandleJoin reserves a session and returns its id and token.
// POST /join
func (h *Hub) HandleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, token := h.Join()
	data, err := json.Marshal(joinResponse{
		ID:              id,
		Token:           token,
		HeartbeatMillis: h.cfg.HeartbeatInterval.Milliseconds(),
	})
	if err != nil {
		http.Error(w, "failed to encode", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// HandleSocket upgrades /ws?id=&token= and runs the session read loop until
// the connection dies.
func (h *Hub) HandleSocket(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	idValue := query.Get("id")
	token := query.Get("token")
	if idValue == "" || token == "" {
		http.Error(w, "missing id or token", http.StatusBadRequest)
		return
	}
	id64, err := strconv.ParseUint(idValue, 10, 32)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	clientID := uint32(id64)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithField("client_id", clientID).WithError(err).Warn("websocket upgrade failed")
		return
	}

	sess, ok := h.Subscribe(clientID, token, conn)
	if !ok {
		message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown session")
		conn.WriteMessage(websocket.CloseMessage, message)
		conn.Close()
		return
	}

	if !h.welcome(sess, conn) {
		return
	}
	h.readLoop(sess, conn)
}

// welcome sends the listener's opening packets reliably on the control
// channel. A failed write tears the session down.
func (h *Hub) welcome(sess *session, conn *websocket.Conn) bool {
	if h.listener == nil {
		return true
	}
	for _, pkt := range h.listener.SessionOpened(sess.clientID, sess.token) {
		if err := sess.sendPacket(proto.ChannelControl, pkt, true); err != nil {
			h.log.WithField("client_id", sess.clientID).WithError(err).Warn("welcome write failed")
			h.drop(sess.clientID, conn, "welcome write failed")
			return false
		}
	}
	return true
}

// readLoop consumes datagrams until the connection errors out. Read errors
// drop the session unless a newer connection already took over.
func (h *Hub) readLoop(sess *session, conn *websocket.Conn) {
	conn.SetReadLimit(h.cfg.MaxPayloadBytes)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			h.drop(sess.clientID, conn, "connection closed")
			return
		}
		if msgType != websocket.BinaryMessage {
			h.log.WithField("client_id", sess.clientID).Debug("ignoring non-binary message")
			continue
		}
		h.handleDatagram(sess, data)
	}
}

// handleDatagram walks the frames packed into one websocket message and
// dispatches each payload. A truncated frame poisons the rest of the
// datagram, which is dropped; the session lives on.
func (h *Hub) handleDatagram(sess *session, data []byte) {
	for len(data) > 0 {
		frame, err := wire.ParseFrame(data)
		if err != nil {
			metrics.FramesTruncated.Inc()
			h.log.WithFields(logrus.Fields{
				"client_id": sess.clientID,
				"remaining": len(data),
			}).WithError(err).Warn("dropping truncated datagram tail")
			return
		}
		data = data[frame.WireSize():]
		metrics.FramesParsed.WithLabelValues(channelName(frame.Channel)).Inc()

		if frame.Close() && len(frame.Payload) == 0 {
			// Bare close marker, nothing to dispatch.
			continue
		}

		pkt, err := wire.ParsePacket(frame.Payload)
		if err != nil {
			metrics.PacketsMalformed.WithLabelValues("INVALID").Inc()
			h.log.WithField("client_id", sess.clientID).WithError(err).Debug("discarding unparseable packet")
			continue
		}

		h.router.Dispatch(sess.clientID, pkt, dispatch.Meta{
			Channel:    frame.Channel,
			Sequence:   frame.Sequence,
			Reliable:   frame.Reliable(),
			ReceivedAt: time.Now(),
		})
	}
}
