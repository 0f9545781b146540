// Package dispatch routes inbound packets to their registered handlers.
package dispatch

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ironfront/server/internal/metrics"
	"ironfront/server/internal/proto"
	"ironfront/server/internal/wire"
)

// BroadcastClientID is the reserved client id meaning "all connected
// clients". The replication manager addresses its snapshots to it.
const BroadcastClientID uint32 = 0

// Meta carries the framing context a packet arrived with. For packets
// originated inside the server (snapshots, notices) only ReceivedAt is set.
type Meta struct {
	Channel    uint8
	Sequence   uint16
	Reliable   bool
	ReceivedAt time.Time
}

// Handler consumes one packet. Handlers run synchronously on the caller's
// goroutine and must not retain the packet past the call.
type Handler func(clientID uint32, pkt *wire.Packet, meta Meta)

// Router maps packet types to handlers. Registration normally happens once
// at startup, but the table is guarded so late registration from another
// goroutine stays safe.
type Router struct {
	mu       sync.RWMutex
	handlers map[proto.MsgType]Handler
	fallback Handler
	log      logrus.FieldLogger
}

// NewRouter returns an empty router.
func NewRouter(log logrus.FieldLogger) *Router {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Router{
		handlers: make(map[proto.MsgType]Handler),
		log:      log,
	}
}

// Register installs h for the given type, replacing any previous handler.
func (r *Router) Register(t proto.MsgType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == nil {
		delete(r.handlers, t)
		return
	}
	r.handlers[t] = h
}

// SetDefault installs the fallback invoked when no typed handler matches.
func (r *Router) SetDefault(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
}

// Dispatch resolves the packet's tag and invokes the matching handler, or
// the default handler if none is registered. A packet with neither is
// counted, logged, and dropped; no error reaches the caller. Unknown tags
// resolve to MsgInvalid and therefore fall through to the default handler.
func (r *Router) Dispatch(clientID uint32, pkt *wire.Packet, meta Meta) {
	t := proto.TypeOf(pkt.Tag())

	r.mu.RLock()
	h := r.handlers[t]
	if h == nil {
		h = r.fallback
	}
	r.mu.RUnlock()

	if h == nil {
		metrics.PacketsUnhandled.WithLabelValues(t.String()).Inc()
		r.log.WithFields(logrus.Fields{
			"tag":       pkt.Tag(),
			"client_id": clientID,
			"channel":   meta.Channel,
		}).Warn("dropping packet with no handler")
		return
	}

	metrics.PacketsDispatched.WithLabelValues(t.String()).Inc()
	h(clientID, pkt, meta)
}
