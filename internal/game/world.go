// Package game owns the authoritative match state the replication engine
// serves: players, the chat backlog, and the objective and score
// simulation. It stays deliberately thin; movement physics, damage models
// and the rest of the old simulation run on the clients, and the server
// arbitrates identity, bounds, and who owns which objective.
package game

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"ironfront/server/internal/dispatch"
	"ironfront/server/internal/metrics"
	"ironfront/server/internal/proto"
	"ironfront/server/internal/wire"
)

const (
	spawnHealth = 100
	teamCount   = 2

	maxCallsignRunes = 24
	maxChatRunes     = 256

	defaultRoundSeconds = 900

	// Capture tuning. Progress runs 0 to 100; one uncontested vehicle
	// takes an undefended objective in four seconds and an empty point
	// bleeds pressure back at a bit more than half that rate.
	captureRadius   = 64.0
	captureRate     = 25.0
	captureDecay    = 15.0
	captureComplete = 100.0
)

// Sender is the slice of the gateway hub the world sends through.
type Sender interface {
	SendTo(clientID uint32, channel uint8, pkt *wire.Packet, reliable bool) error
	Broadcast(channel uint8, pkt *wire.Packet, reliable bool)
	Kick(clientID uint32, reason string)
}

// Replicator is the slice of the replication manager the world feeds.
type Replicator interface {
	RegisterActor(id uint32)
	UnregisterActor(id uint32)
	SetActorState(st proto.ActorState)
	MarkActorDirty(id uint32, flags uint32)
	QueuePropertyUpdate(ps proto.PropertyState)
}

// Options fixes the match parameters a world is created with.
type Options struct {
	MapName         string
	MapExtent       float64
	ChatHistory     int
	TickRate        int
	HeartbeatMillis uint32
}

type player struct {
	id     uint32
	name   string
	team   uint32
	health int32
	pos    proto.Vec3
	vel    proto.Vec3
	custom []byte
}

// actorState renders the player's full replicated state. Field flags stay
// zero; the manager merges in whatever the caller marks dirty.
func (p *player) actorState() proto.ActorState {
	return proto.ActorState{
		ID:       p.id,
		Position: p.pos,
		Velocity: p.vel,
		Health:   p.health,
		Custom:   p.custom,
	}
}

// objective is one capturable point. progress builds toward capturer and
// the owner flips when it completes.
type objective struct {
	id       uint32
	pos      proto.Vec3
	owner    uint32
	capturer uint32
	progress float64
}

// propertyState renders the objective for replication: position, capture
// progress in the health slot, owner then capturer in the custom blob.
func (o *objective) propertyState() proto.PropertyState {
	custom := make([]byte, 8)
	binary.LittleEndian.PutUint32(custom[0:4], o.owner)
	binary.LittleEndian.PutUint32(custom[4:8], o.capturer)
	return proto.PropertyState{
		ObjectID:   o.id,
		FieldFlags: proto.FieldPosition | proto.FieldHealth | proto.FieldCustom,
		Position:   o.pos,
		Health:     int32(o.progress),
		Custom:     custom,
	}
}

// World is the authoritative match state. All mutation happens under mu.
// Replication updates are issued under the lock so a later state can never
// be overtaken by an earlier one; socket writes happen after it is
// released so a slow connection cannot stall the simulation.
type World struct {
	mu   sync.Mutex
	opts Options
	log  logrus.FieldLogger
	rep  Replicator
	out  Sender

	players    map[uint32]*player
	chat       []proto.ChatMessage
	objectives []*objective
	scores     map[uint32]int32
	scoreAcc   float64
	hostID     uint32
}

// NewWorld builds the match state for one map: no players, neutral
// objectives along the long axis, zero scores.
func NewWorld(opts Options, rep Replicator, out Sender, log logrus.FieldLogger) *World {
	if log == nil {
		log = logrus.StandardLogger()
	}
	w := &World{
		opts:    opts,
		log:     log,
		rep:     rep,
		out:     out,
		players: make(map[uint32]*player),
		scores:  make(map[uint32]int32),
	}
	extent := float32(opts.MapExtent)
	for i, x := range []float32{-extent / 2, 0, extent / 2} {
		w.objectives = append(w.objectives, &objective{
			id:  uint32(i + 1),
			pos: proto.Vec3{X: x},
		})
	}
	return w
}

// RegisterHandlers installs the world's inbound packet handlers.
func (w *World) RegisterHandlers(r *dispatch.Router) {
	r.Register(proto.MsgPlayerSpawn, w.handleSpawn)
	r.Register(proto.MsgPlayerMove, w.handleMove)
	r.Register(proto.MsgPlayerAction, w.handleAction)
	r.Register(proto.MsgChat, w.handleChat)
	r.Register(proto.MsgAdminCommand, w.handleAdmin)
}

// SessionOpened builds the welcome burst for a fresh session: identity and
// match parameters, the chat backlog, everyone already deployed, then full
// objective and actor state. The session has no player of its own until
// its spawn request arrives.
func (w *World) SessionOpened(clientID uint32, token string) []*wire.Packet {
	w.mu.Lock()
	defer w.mu.Unlock()

	packets := []*wire.Packet{
		proto.EncodeSessionState(proto.SessionState{
			ClientID: clientID,
			Token:    token,
			MapName:  w.opts.MapName,
			TickRate: uint32(w.opts.TickRate),
		}),
		proto.EncodeConfigSync(proto.ConfigSync{
			MapExtent:       float32(w.opts.MapExtent),
			HeartbeatMillis: w.opts.HeartbeatMillis,
		}),
		proto.EncodeChatHistory(w.chat),
	}

	roster := w.playersByID()
	for _, p := range roster {
		packets = append(packets,
			proto.EncodePlayerSpawn(proto.PlayerSpawn{ClientID: p.id, Name: p.name}),
			proto.EncodeTeamUpdate(proto.TeamUpdate{ClientID: p.id, Team: p.team}),
		)
	}
	packets = append(packets, proto.EncodePropertySnapshot(w.objectiveStates()))
	if len(roster) > 0 {
		actors := make([]proto.ActorState, 0, len(roster))
		for _, p := range roster {
			st := p.actorState()
			st.FieldFlags = proto.FieldPosition | proto.FieldHealth
			if len(st.Custom) > 0 {
				st.FieldFlags |= proto.FieldCustom
			}
			actors = append(actors, st)
		}
		packets = append(packets, proto.EncodeActorSnapshot(actors))
	}

	w.log.WithFields(logrus.Fields{
		"client_id": clientID,
		"players":   len(roster),
	}).Info("session joined match")
	return packets
}

// SessionClosed removes the session's player, if it ever spawned, and
// announces the departure. Host duty migrates to the lowest surviving id.
func (w *World) SessionClosed(clientID uint32) {
	w.mu.Lock()
	p, ok := w.players[clientID]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.players, clientID)
	w.rep.UnregisterActor(clientID)

	var newHost *player
	if w.hostID == clientID {
		w.hostID = 0
		if roster := w.playersByID(); len(roster) > 0 {
			newHost = roster[0]
			w.hostID = newHost.id
		}
	}
	w.mu.Unlock()

	w.out.Broadcast(proto.ChannelControl, proto.EncodeEntityDespawn(proto.EntityDespawn{ID: clientID}), true)
	if newHost != nil {
		w.notifyAll(proto.NoticeInfo, fmt.Sprintf("%s now has field command", newHost.name))
	}
	w.log.WithFields(logrus.Fields{
		"client_id": clientID,
		"callsign":  p.name,
	}).Info("player left match")
}

// Tick advances the objective simulation by dt seconds, queues property
// updates for every objective whose replicated fields changed, and awards
// each team one point per held objective per full second.
func (w *World) Tick(dt float64) {
	if dt <= 0 {
		return
	}

	w.mu.Lock()
	var updates []proto.PropertyState
	var flips []proto.ObjectiveUpdate
	for _, o := range w.objectives {
		prevOwner, prevCapturer, prevProgress := o.owner, o.capturer, int32(o.progress)
		w.advanceObjective(o, dt)
		if o.owner != prevOwner {
			flips = append(flips, proto.ObjectiveUpdate{ObjectiveID: o.id, OwnerTeam: o.owner})
		}
		if o.owner != prevOwner || o.capturer != prevCapturer || int32(o.progress) != prevProgress {
			updates = append(updates, o.propertyState())
		}
	}

	awards := int32(0)
	for w.scoreAcc += dt; w.scoreAcc >= 1; w.scoreAcc-- {
		awards++
	}
	var totals []proto.ScoreUpdate
	if awards > 0 {
		gained := make(map[uint32]int32)
		for _, o := range w.objectives {
			if o.owner != 0 {
				gained[o.owner] += awards
			}
		}
		for team := uint32(1); team <= teamCount; team++ {
			if gained[team] > 0 {
				w.scores[team] += gained[team]
				totals = append(totals, proto.ScoreUpdate{Team: team, Score: w.scores[team]})
			}
		}
	}
	for _, ps := range updates {
		w.rep.QueuePropertyUpdate(ps)
	}
	w.mu.Unlock()

	for _, flip := range flips {
		w.out.Broadcast(proto.ChannelControl, proto.EncodeObjectiveUpdate(flip), true)
		w.notifyAll(proto.NoticeInfo, fmt.Sprintf("objective %d secured by team %d", flip.ObjectiveID, flip.OwnerTeam))
	}
	for _, total := range totals {
		w.out.Broadcast(proto.ChannelControl, proto.EncodeScoreUpdate(total), true)
	}
}

// ApplyDamage subtracts amount from the player's health, redeploying the
// vehicle at its base when the total reaches zero. Negative amounts
// repair, capped at full health. The new total is broadcast; the position
// change travels in the next snapshot.
func (w *World) ApplyDamage(clientID uint32, amount int32) bool {
	w.mu.Lock()
	p, ok := w.players[clientID]
	if !ok {
		w.mu.Unlock()
		return false
	}
	p.health -= amount
	if p.health > spawnHealth {
		p.health = spawnHealth
	}
	destroyed := p.health <= 0
	flags := proto.FieldHealth
	if destroyed {
		p.health = spawnHealth
		p.pos = w.spawnPoint(p.team, p.id)
		p.vel = proto.Vec3{}
		flags |= proto.FieldPosition | proto.FieldVelocity
	}
	health, name := p.health, p.name
	w.rep.SetActorState(p.actorState())
	w.rep.MarkActorDirty(clientID, flags)
	w.mu.Unlock()

	w.out.Broadcast(proto.ChannelControl, proto.EncodeHealthUpdate(proto.HealthUpdate{ClientID: clientID, Health: health}), true)
	if destroyed {
		w.notifyAll(proto.NoticeInfo, fmt.Sprintf("%s was destroyed", name))
	}
	return true
}

// PlayerCount reports the number of spawned players.
func (w *World) PlayerCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.players)
}

// HostID reports the session currently holding field command, zero when
// nobody has spawned.
func (w *World) HostID() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hostID
}

// Score reports a team's current total.
func (w *World) Score(team uint32) int32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.scores[team]
}

func (w *World) handleSpawn(clientID uint32, pkt *wire.Packet, meta dispatch.Meta) {
	msg, err := proto.DecodePlayerSpawn(pkt)
	if err != nil {
		metrics.PacketsMalformed.WithLabelValues(proto.TagOf(proto.MsgPlayerSpawn)).Inc()
		w.log.WithError(err).WithField("client_id", clientID).Debug("dropping malformed spawn request")
		return
	}
	name := callsign(msg.Name, clientID)

	w.mu.Lock()
	if _, ok := w.players[clientID]; ok {
		w.mu.Unlock()
		w.log.WithField("client_id", clientID).Debug("duplicate spawn request ignored")
		return
	}
	team := w.smallerTeam()
	p := &player{
		id:     clientID,
		name:   name,
		team:   team,
		health: spawnHealth,
		pos:    w.spawnPoint(team, clientID),
	}
	w.players[clientID] = p
	firstHost := w.hostID == 0
	if firstHost {
		w.hostID = clientID
	}
	w.rep.RegisterActor(clientID)
	w.rep.SetActorState(p.actorState())
	w.rep.MarkActorDirty(clientID, proto.FieldPosition|proto.FieldHealth)
	w.mu.Unlock()

	w.out.Broadcast(proto.ChannelControl, proto.EncodePlayerSpawn(proto.PlayerSpawn{ClientID: clientID, Name: name}), true)
	w.out.Broadcast(proto.ChannelControl, proto.EncodeTeamUpdate(proto.TeamUpdate{ClientID: clientID, Team: team}), true)
	if firstHost {
		w.notifyAll(proto.NoticeInfo, fmt.Sprintf("%s has field command", name))
	}
	w.log.WithFields(logrus.Fields{
		"client_id": clientID,
		"callsign":  name,
		"team":      team,
	}).Info("player deployed")
}

func (w *World) handleMove(clientID uint32, pkt *wire.Packet, meta dispatch.Meta) {
	msg, err := proto.DecodeMove(pkt)
	if err != nil {
		metrics.PacketsMalformed.WithLabelValues(proto.TagOf(proto.MsgPlayerMove)).Inc()
		return
	}
	if msg.ClientID != clientID {
		w.log.WithFields(logrus.Fields{
			"client_id": clientID,
			"claimed":   msg.ClientID,
		}).Debug("dropping movement for foreign actor")
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.players[clientID]
	if !ok {
		return
	}
	limit := float32(w.opts.MapExtent)
	next := proto.Vec3{
		X: clampf(msg.X, -limit, limit),
		Y: clampf(msg.Y, -limit, limit),
		Z: clampf(msg.Z, -limit, limit),
	}
	p.vel = proto.Vec3{X: next.X - p.pos.X, Y: next.Y - p.pos.Y, Z: next.Z - p.pos.Z}
	p.pos = next
	w.rep.SetActorState(p.actorState())
	w.rep.MarkActorDirty(clientID, proto.FieldPosition|proto.FieldVelocity)
}

// handleAction relays a discrete action through the actor's custom blob.
// The payload is opaque to the server; attribution is forced to the
// sending session before it is re-encoded.
func (w *World) handleAction(clientID uint32, pkt *wire.Packet, meta dispatch.Meta) {
	msg, err := proto.DecodeAction(pkt)
	if err != nil {
		metrics.PacketsMalformed.WithLabelValues(proto.TagOf(proto.MsgPlayerAction)).Inc()
		return
	}
	msg.ClientID = clientID

	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.players[clientID]
	if !ok {
		return
	}
	p.custom = proto.EncodeAction(msg).Marshal()
	w.rep.SetActorState(p.actorState())
	w.rep.MarkActorDirty(clientID, proto.FieldCustom|proto.FieldState)
}

// handleChat attributes, trims, records, and fans out one chat line. The
// client-supplied id is overwritten; a session cannot speak for another.
func (w *World) handleChat(clientID uint32, pkt *wire.Packet, meta dispatch.Meta) {
	msg, err := proto.DecodeChat(pkt)
	if err != nil {
		metrics.PacketsMalformed.WithLabelValues(proto.TagOf(proto.MsgChat)).Inc()
		return
	}
	msg.ClientID = clientID
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" {
		return
	}
	if runes := []rune(msg.Text); len(runes) > maxChatRunes {
		msg.Text = string(runes[:maxChatRunes])
	}

	w.mu.Lock()
	if _, ok := w.players[clientID]; !ok {
		w.mu.Unlock()
		return
	}
	if w.opts.ChatHistory > 0 {
		w.chat = append(w.chat, msg)
		if len(w.chat) > w.opts.ChatHistory {
			w.chat = w.chat[1:]
		}
	}
	w.mu.Unlock()

	w.out.Broadcast(proto.ChannelChat, proto.EncodeChat(msg), true)
}

// handleAdmin runs one host console command. Only the host session may
// issue them; everyone else gets a warning notice back.
func (w *World) handleAdmin(clientID uint32, pkt *wire.Packet, meta dispatch.Meta) {
	msg, err := proto.DecodeAdminCommand(pkt)
	if err != nil {
		metrics.PacketsMalformed.WithLabelValues(proto.TagOf(proto.MsgAdminCommand)).Inc()
		return
	}

	w.mu.Lock()
	host := w.hostID
	w.mu.Unlock()
	if host == 0 || clientID != host {
		w.log.WithFields(logrus.Fields{
			"client_id": clientID,
			"command":   msg.Command,
		}).Warn("admin command from non-host session")
		w.notify(clientID, proto.NoticeWarning, "command refused: field command required")
		return
	}

	fields := strings.Fields(msg.Command)
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "map":
		w.commandMap(fields[1:], clientID)
	case "say":
		if len(fields) > 1 {
			w.notifyAll(proto.NoticeInfo, strings.Join(fields[1:], " "))
		}
	case "kick":
		w.commandKick(fields[1:], clientID)
	case "hurt":
		w.commandHurt(fields[1:], clientID)
	default:
		w.notify(clientID, proto.NoticeWarning, fmt.Sprintf("unknown command %q", fields[0]))
	}
}

// commandMap rotates the match: new map name, neutral objectives, zero
// scores, everyone redeployed at base.
func (w *World) commandMap(args []string, hostID uint32) {
	if len(args) == 0 {
		w.notify(hostID, proto.NoticeWarning, "usage: map <name> [seconds]")
		return
	}
	name := args[0]
	seconds := uint32(defaultRoundSeconds)
	if len(args) > 1 {
		n, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			w.notify(hostID, proto.NoticeWarning, "usage: map <name> [seconds]")
			return
		}
		seconds = uint32(n)
	}

	w.mu.Lock()
	w.opts.MapName = name
	for _, o := range w.objectives {
		o.owner, o.capturer, o.progress = 0, 0, 0
	}
	w.scores = make(map[uint32]int32)
	w.scoreAcc = 0
	for _, p := range w.players {
		p.pos = w.spawnPoint(p.team, p.id)
		p.vel = proto.Vec3{}
		p.health = spawnHealth
		w.rep.SetActorState(p.actorState())
		w.rep.MarkActorDirty(p.id, proto.FieldPosition|proto.FieldVelocity|proto.FieldHealth)
	}
	for _, ps := range w.objectiveStates() {
		w.rep.QueuePropertyUpdate(ps)
	}
	w.mu.Unlock()

	w.out.Broadcast(proto.ChannelControl, proto.EncodeMapChange(proto.MapChange{MapName: name, RoundSeconds: seconds}), true)
	for team := uint32(1); team <= teamCount; team++ {
		w.out.Broadcast(proto.ChannelControl, proto.EncodeScoreUpdate(proto.ScoreUpdate{Team: team, Score: 0}), true)
	}
	w.log.WithFields(logrus.Fields{
		"map":           name,
		"round_seconds": seconds,
	}).Info("map rotation")
}

func (w *World) commandKick(args []string, hostID uint32) {
	id, ok := parseClientID(args)
	if !ok {
		w.notify(hostID, proto.NoticeWarning, "usage: kick <client id>")
		return
	}
	if id == hostID {
		w.notify(hostID, proto.NoticeWarning, "cannot kick the host")
		return
	}
	w.out.Kick(id, "kicked by host")
}

func (w *World) commandHurt(args []string, hostID uint32) {
	id, ok := parseClientID(args)
	if !ok || len(args) < 2 {
		w.notify(hostID, proto.NoticeWarning, "usage: hurt <client id> <amount>")
		return
	}
	amount, err := strconv.ParseInt(args[1], 10, 32)
	if err != nil {
		w.notify(hostID, proto.NoticeWarning, "usage: hurt <client id> <amount>")
		return
	}
	if !w.ApplyDamage(id, int32(amount)) {
		w.notify(hostID, proto.NoticeWarning, fmt.Sprintf("no player %d", id))
	}
}

// advanceObjective applies dt seconds of capture pressure. A single team
// alone inside the radius makes progress; a contested or empty point
// bleeds pressure; defenders standing on their own point grind opposing
// pressure down at full rate.
func (w *World) advanceObjective(o *objective, dt float64) {
	team, contested := w.teamPresence(o)
	switch {
	case contested || team == 0:
		o.progress -= captureDecay * dt
		if o.progress <= 0 {
			o.progress = 0
			o.capturer = 0
		}
	case team == o.owner:
		o.progress -= captureRate * dt
		if o.progress <= 0 {
			o.progress = 0
			o.capturer = 0
		}
	default:
		if o.capturer != team {
			o.capturer = team
			o.progress = 0
		}
		o.progress += captureRate * dt
		if o.progress >= captureComplete {
			o.owner = team
			o.capturer = 0
			o.progress = 0
		}
	}
}

// teamPresence reports which single team has a player inside the capture
// radius, or contested when more than one does. Height is ignored; the
// radius is a cylinder.
func (w *World) teamPresence(o *objective) (team uint32, contested bool) {
	for _, p := range w.players {
		dx := float64(p.pos.X - o.pos.X)
		dz := float64(p.pos.Z - o.pos.Z)
		if dx*dx+dz*dz > captureRadius*captureRadius {
			continue
		}
		if team == 0 {
			team = p.team
		} else if team != p.team {
			return 0, true
		}
	}
	return team, false
}

// objectiveStates renders every objective as a property entry. Callers
// hold mu.
func (w *World) objectiveStates() []proto.PropertyState {
	out := make([]proto.PropertyState, 0, len(w.objectives))
	for _, o := range w.objectives {
		out = append(out, o.propertyState())
	}
	return out
}

// playersByID returns the roster sorted by client id. Callers hold mu.
func (w *World) playersByID() []*player {
	ids := make([]uint32, 0, len(w.players))
	for id := range w.players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	roster := make([]*player, 0, len(ids))
	for _, id := range ids {
		roster = append(roster, w.players[id])
	}
	return roster
}

// smallerTeam picks the team with fewer live players, team one on ties.
// Callers hold mu.
func (w *World) smallerTeam() uint32 {
	var counts [teamCount + 1]int
	for _, p := range w.players {
		if p.team >= 1 && p.team <= teamCount {
			counts[p.team]++
		}
	}
	team := uint32(1)
	for t := uint32(2); t <= teamCount; t++ {
		if counts[t] < counts[team] {
			team = t
		}
	}
	return team
}

// spawnPoint places a vehicle at its team's base, staggered by id so
// simultaneous spawns do not stack.
func (w *World) spawnPoint(team uint32, clientID uint32) proto.Vec3 {
	x := float32(w.opts.MapExtent) * 0.9
	if team == 1 {
		x = -x
	}
	return proto.Vec3{X: x, Z: float32(clientID%16) * 8}
}

func (w *World) notify(clientID uint32, severity uint8, text string) {
	pkt := proto.EncodeServerNotice(proto.ServerNotice{Severity: severity, Text: text})
	if err := w.out.SendTo(clientID, proto.ChannelControl, pkt, true); err != nil {
		w.log.WithError(err).WithField("client_id", clientID).Debug("notice undeliverable")
	}
}

func (w *World) notifyAll(severity uint8, text string) {
	pkt := proto.EncodeServerNotice(proto.ServerNotice{Severity: severity, Text: text})
	w.out.Broadcast(proto.ChannelControl, pkt, true)
}

// callsign normalizes a requested name, generating one when the request
// is blank.
func callsign(requested string, clientID uint32) string {
	name := strings.TrimSpace(requested)
	if name == "" {
		return fmt.Sprintf("recruit-%d", clientID)
	}
	if runes := []rune(name); len(runes) > maxCallsignRunes {
		name = string(runes[:maxCallsignRunes])
	}
	return name
}

// parseClientID reads the leading console argument as a client id. Zero is
// never a valid id.
func parseClientID(args []string) (uint32, bool) {
	if len(args) == 0 {
		return 0, false
	}
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint32(id), true
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
