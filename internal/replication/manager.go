// Package replication tracks per-entity dirty state and builds the delta
// snapshots broadcast once per simulation tick.
package replication

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ironfront/server/internal/compress"
	"ironfront/server/internal/dispatch"
	"ironfront/server/internal/metrics"
	"ironfront/server/internal/proto"
	"ironfront/server/internal/wire"
)

// Dispatcher receives the packets the manager produces. Snapshots are
// addressed to dispatch.BroadcastClientID.
type Dispatcher interface {
	Dispatch(clientID uint32, pkt *wire.Packet, meta dispatch.Meta)
}

// CompressFunc compresses a serialized snapshot. A non-nil error makes the
// manager fall back to sending the raw bytes.
type CompressFunc func(raw []byte, algo compress.Algorithm, level int) ([]byte, error)

// Config selects the snapshot compression behavior.
type Config struct {
	// Algorithm None sends snapshots unwrapped.
	Algorithm compress.Algorithm
	Level     int
	// Compress overrides the codec; nil selects compress.Compress.
	Compress CompressFunc
}

type actorEntry struct {
	state proto.ActorState
	dirty uint32
}

// Manager owns the dirty-flag bookkeeping for actors and the pending update
// queue for property objects. All entry points lock, so game systems may
// feed updates from goroutines other than the tick loop.
type Manager struct {
	mu      sync.Mutex
	actors  map[uint32]*actorEntry
	pending []proto.PropertyState
	ticks   uint64

	dispatcher Dispatcher
	compressFn CompressFunc
	cfg        Config
	log        logrus.FieldLogger
}

// NewManager constructs a manager that hands its snapshots to d.
func NewManager(d Dispatcher, cfg Config, log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	fn := cfg.Compress
	if fn == nil {
		fn = compress.Compress
	}
	return &Manager{
		actors:     make(map[uint32]*actorEntry),
		pending:    make([]proto.PropertyState, 0),
		dispatcher: d,
		compressFn: fn,
		cfg:        cfg,
		log:        log,
	}
}

// RegisterActor creates a tracking entry for id. Registering an id twice
// keeps the existing entry untouched.
func (m *Manager) RegisterActor(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.actors[id]; ok {
		return
	}
	m.actors[id] = &actorEntry{state: proto.ActorState{ID: id}}
}

// UnregisterActor destroys the tracking entry for id, dropping any pending
// dirty bits with it.
func (m *Manager) UnregisterActor(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.actors, id)
}

// SetActorState replaces the cached last-known state for st.ID. The cached
// state populates whichever fields the next snapshot's merged flags select.
// Updates for untracked ids are dropped and counted.
func (m *Manager) SetActorState(st proto.ActorState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.actors[st.ID]
	if !ok {
		metrics.ReplicationUnknownActor.Inc()
		return
	}
	if len(st.Custom) > 0 {
		st.Custom = append([]byte(nil), st.Custom...)
	}
	entry.state = st
}

// MarkActorDirty ORs flags into the actor's pending mask. The actor joins
// the next snapshot once its mask is non-zero.
func (m *Manager) MarkActorDirty(id uint32, flags uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.actors[id]
	if !ok {
		metrics.ReplicationUnknownActor.Inc()
		return
	}
	entry.dirty |= flags
}

// Actor reports the cached state for id.
func (m *Manager) Actor(id uint32) (proto.ActorState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.actors[id]
	if !ok {
		return proto.ActorState{}, false
	}
	return entry.state, true
}

// TrackedActors reports the number of registered tracking entries.
func (m *Manager) TrackedActors() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.actors)
}

// QueuePropertyUpdate appends one property-object update to the pending
// queue. The queue is drained wholesale on the next tick; repeated updates
// for the same object are not merged.
func (m *Manager) QueuePropertyUpdate(ps proto.PropertyState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(ps.Custom) > 0 {
		ps.Custom = append([]byte(nil), ps.Custom...)
	}
	m.pending = append(m.pending, ps)
}

// PendingProperties reports the current property queue depth.
func (m *Manager) PendingProperties() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Tick builds and dispatches this tick's snapshots. For every actor with a
// non-zero dirty mask the mask is merged into the cached state's field flags
// and then cleared, so a second Tick without new marks sends nothing. The
// property queue is cleared unconditionally once drained. Empty sets are
// no-ops.
func (m *Manager) Tick(dt float64) {
	m.mu.Lock()
	m.ticks++
	tick := m.ticks

	ids := make([]uint32, 0, len(m.actors))
	for id, entry := range m.actors {
		if entry.dirty != 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	outgoing := make([]proto.ActorState, 0, len(ids))
	for _, id := range ids {
		entry := m.actors[id]
		entry.state.FieldFlags |= entry.dirty
		entry.dirty = 0
		outgoing = append(outgoing, entry.state)
	}

	var props []proto.PropertyState
	if len(m.pending) > 0 {
		props = make([]proto.PropertyState, len(m.pending))
		copy(props, m.pending)
		m.pending = m.pending[:0]
	}
	m.mu.Unlock()

	if len(outgoing) > 0 {
		m.send(proto.EncodeActorSnapshot(outgoing), "actor")
		m.log.WithFields(logrus.Fields{
			"tick":   tick,
			"dt":     dt,
			"actors": len(outgoing),
		}).Debug("actor snapshot dispatched")
	}
	if len(props) > 0 {
		m.send(proto.EncodePropertySnapshot(props), "property")
		m.log.WithFields(logrus.Fields{
			"tick":       tick,
			"dt":         dt,
			"properties": len(props),
		}).Debug("property snapshot dispatched")
	}
}

// send serializes the snapshot, attempts compression when configured, and
// hands the result to dispatch addressed to every connected client. A
// compression failure degrades to the uncompressed snapshot; it never
// aborts the tick.
func (m *Manager) send(pkt *wire.Packet, kind string) {
	metrics.SnapshotsBuilt.WithLabelValues(kind).Inc()

	out := pkt
	if m.cfg.Algorithm != compress.None {
		raw := pkt.Marshal()
		metrics.SnapshotBytes.WithLabelValues(kind).Observe(float64(len(raw)))
		compressed, err := m.compressFn(raw, m.cfg.Algorithm, m.cfg.Level)
		if err != nil {
			metrics.CompressionFallbacks.Inc()
			m.log.WithError(err).WithFields(logrus.Fields{
				"kind":      kind,
				"algorithm": m.cfg.Algorithm.String(),
			}).Warn("snapshot compression failed, sending uncompressed")
		} else {
			out = proto.EncodeCompression(proto.CompressionEnvelope{
				Algorithm: uint8(m.cfg.Algorithm),
				RawSize:   uint32(len(raw)),
				Data:      compressed,
			})
		}
	} else {
		metrics.SnapshotBytes.WithLabelValues(kind).Observe(float64(len(pkt.Body())))
	}

	m.dispatcher.Dispatch(dispatch.BroadcastClientID, out, dispatch.Meta{ReceivedAt: time.Now()})
}
