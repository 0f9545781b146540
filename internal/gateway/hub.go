// Package gateway owns the websocket transport: session lifecycle, frame
// intake, and fan-out of replication traffic to connected clients.
package gateway

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"ironfront/server/internal/config"
	"ironfront/server/internal/dispatch"
	"ironfront/server/internal/metrics"
	"ironfront/server/internal/proto"
	"ironfront/server/internal/wire"
)

// SessionListener observes session lifecycle. SessionOpened returns the
// packets sent reliably on the control channel right after the upgrade and
// may be called again when a client reconnects; SessionClosed fires once
// when the session is removed.
type SessionListener interface {
	SessionOpened(clientID uint32, token string) []*wire.Packet
	SessionClosed(clientID uint32)
}

// Hub owns all live sessions and bridges the router to the websocket layer.
type Hub struct {
	cfg      config.GatewayConfig
	log      logrus.FieldLogger
	router   *dispatch.Router
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[uint32]*session
	nextID   atomic.Uint32

	listener SessionListener
}

// NewHub creates a hub and registers its own router handlers: the heartbeat
// responder and the outbound fan-out for replication packets.
func NewHub(cfg config.GatewayConfig, router *dispatch.Router, log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	h := &Hub{
		cfg:    cfg,
		log:    log,
		router: router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		sessions: make(map[uint32]*session),
	}

	router.Register(proto.MsgHeartbeat, h.handleHeartbeat)
	for _, t := range []proto.MsgType{
		proto.MsgActorReplication,
		proto.MsgPropertyReplication,
		proto.MsgCompression,
	} {
		router.Register(t, h.handleOutbound)
	}
	return h
}

// SetListener installs the lifecycle listener. Must be called before the
// first session connects.
func (h *Hub) SetListener(l SessionListener) {
	h.listener = l
}

// Join reserves a client id and session token ahead of the websocket
// upgrade. The reservation is swept away like any silent session if the
// client never connects.
func (h *Hub) Join() (uint32, string) {
	id := h.nextID.Add(1)
	token := uuid.NewString()
	sess := &session{
		clientID:     id,
		token:        token,
		writeTimeout: h.cfg.WriteTimeout,
		lastSeen:     time.Now(),
	}

	h.mu.Lock()
	h.sessions[id] = sess
	h.mu.Unlock()

	h.log.WithField("client_id", id).Info("session reserved")
	return id, token
}

// Subscribe attaches an upgraded connection to a reserved session. A second
// connection for the same client replaces the first, which is closed.
func (h *Hub) Subscribe(clientID uint32, token string, conn *websocket.Conn) (*session, bool) {
	h.mu.Lock()
	sess, ok := h.sessions[clientID]
	if !ok || sess.token != token {
		h.mu.Unlock()
		return nil, false
	}
	sess.lastSeen = time.Now()
	old := sess.attach(conn)
	h.mu.Unlock()

	if old != nil {
		old.Close()
	} else {
		metrics.ConnectedClients.Inc()
	}
	h.log.WithField("client_id", clientID).Info("session connected")
	return sess, true
}

// Touch refreshes the heartbeat watchdog for a client.
func (h *Hub) Touch(clientID uint32) {
	h.mu.Lock()
	if sess, ok := h.sessions[clientID]; ok {
		sess.lastSeen = time.Now()
	}
	h.mu.Unlock()
}

// Sweep drops every session silent past the configured window. The tick
// loop calls this once per tick.
func (h *Hub) Sweep(now time.Time) {
	var stale []uint32
	h.mu.Lock()
	for id, sess := range h.sessions {
		if now.Sub(sess.lastSeen) > h.cfg.ClientTimeout {
			stale = append(stale, id)
		}
	}
	h.mu.Unlock()

	for _, id := range stale {
		h.drop(id, nil, "heartbeat timeout")
	}
}

// SessionCount reports how many sessions are reserved or connected.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// SendTo frames the packet and writes it to one client.
func (h *Hub) SendTo(clientID uint32, channel uint8, pkt *wire.Packet, reliable bool) error {
	h.mu.Lock()
	sess, ok := h.sessions[clientID]
	h.mu.Unlock()
	if !ok {
		return errNotConnected
	}

	err := sess.sendPacket(channel, pkt, reliable)
	if err != nil && err != errNotConnected {
		h.log.WithField("client_id", clientID).WithError(err).Warn("dropping session after failed write")
		h.drop(clientID, sess.currentConn(), "write failed")
	}
	return err
}

// Broadcast frames the packet per session and writes it to every connected
// client. Sessions that fail the write are dropped.
func (h *Hub) Broadcast(channel uint8, pkt *wire.Packet, reliable bool) {
	payload := pkt.Marshal()

	h.mu.Lock()
	targets := make([]*session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		targets = append(targets, sess)
	}
	h.mu.Unlock()

	for _, sess := range targets {
		err := sess.write(channel, payload, reliable, false)
		if err == nil || err == errNotConnected {
			continue
		}
		h.log.WithField("client_id", sess.clientID).WithError(err).Warn("dropping session after failed broadcast")
		h.drop(sess.clientID, sess.currentConn(), "write failed")
	}
}

// Kick forcibly removes a client.
func (h *Hub) Kick(clientID uint32, reason string) {
	h.drop(clientID, nil, reason)
}

// Shutdown closes every session. New joins race the shutdown and are
// harmless; the HTTP listener is already draining by the time this runs.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	ids := make([]uint32, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.drop(id, nil, "server shutdown")
	}
}

// drop removes a session. When failed is non-nil the drop only applies if
// that connection is still current, so a stale read loop cannot tear down a
// session that already reconnected.
func (h *Hub) drop(clientID uint32, failed *websocket.Conn, reason string) {
	h.mu.Lock()
	sess, ok := h.sessions[clientID]
	if !ok {
		h.mu.Unlock()
		if failed != nil {
			failed.Close()
		}
		return
	}
	current := sess.currentConn()
	if failed != nil && current != nil && failed != current {
		h.mu.Unlock()
		failed.Close()
		return
	}
	delete(h.sessions, clientID)
	h.mu.Unlock()

	if current != nil {
		sess.closeChannels()
		current.Close()
		metrics.ConnectedClients.Dec()
	}
	if h.listener != nil {
		h.listener.SessionClosed(clientID)
	}
	h.log.WithFields(logrus.Fields{"client_id": clientID, "reason": reason}).Info("session closed")
}

// handleHeartbeat refreshes the watchdog and echoes the client timestamp so
// the client can measure round-trip time.
func (h *Hub) handleHeartbeat(clientID uint32, pkt *wire.Packet, meta dispatch.Meta) {
	hb, err := proto.DecodeHeartbeat(pkt)
	if err != nil {
		metrics.PacketsMalformed.WithLabelValues(proto.TagOf(proto.MsgHeartbeat)).Inc()
		return
	}
	h.Touch(clientID)
	_ = h.SendTo(clientID, proto.ChannelControl, proto.EncodeHeartbeat(proto.Heartbeat{
		ClientID: clientID,
		SentAt:   hb.SentAt,
	}), false)
}

// handleOutbound delivers replication packets dispatched by the snapshot
// loop. Client id zero addresses every connected session.
func (h *Hub) handleOutbound(clientID uint32, pkt *wire.Packet, meta dispatch.Meta) {
	if clientID == dispatch.BroadcastClientID {
		h.Broadcast(proto.ChannelReplication, pkt, false)
		return
	}
	_ = h.SendTo(clientID, proto.ChannelReplication, pkt, false)
}
