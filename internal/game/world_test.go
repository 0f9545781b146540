package game

import (
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"ironfront/server/internal/dispatch"
	"ironfront/server/internal/proto"
	"ironfront/server/internal/wire"
)

type sentPacket struct {
	clientID uint32
	channel  uint8
	tag      string
	pkt      *wire.Packet
	reliable bool
}

type fakeSender struct {
	mu         sync.Mutex
	broadcasts []sentPacket
	directs    []sentPacket
	kicked     []uint32
}

func (s *fakeSender) SendTo(clientID uint32, channel uint8, pkt *wire.Packet, reliable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.directs = append(s.directs, sentPacket{clientID: clientID, channel: channel, tag: pkt.Tag(), pkt: pkt, reliable: reliable})
	return nil
}

func (s *fakeSender) Broadcast(channel uint8, pkt *wire.Packet, reliable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcasts = append(s.broadcasts, sentPacket{channel: channel, tag: pkt.Tag(), pkt: pkt, reliable: reliable})
}

func (s *fakeSender) Kick(clientID uint32, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kicked = append(s.kicked, clientID)
}

func (s *fakeSender) broadcastsByTag(tag string) []sentPacket {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentPacket
	for _, sp := range s.broadcasts {
		if sp.tag == tag {
			out = append(out, sp)
		}
	}
	return out
}

func (s *fakeSender) lastBroadcast(t *testing.T, tag string) sentPacket {
	t.Helper()
	matches := s.broadcastsByTag(tag)
	if len(matches) == 0 {
		t.Fatalf("no %s broadcast recorded", tag)
	}
	return matches[len(matches)-1]
}

func (s *fakeSender) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcasts = nil
	s.directs = nil
	s.kicked = nil
}

type fakeReplicator struct {
	mu         sync.Mutex
	registered []uint32
	removed    []uint32
	states     map[uint32]proto.ActorState
	dirty      map[uint32]uint32
	queued     []proto.PropertyState
}

func newFakeReplicator() *fakeReplicator {
	return &fakeReplicator{
		states: make(map[uint32]proto.ActorState),
		dirty:  make(map[uint32]uint32),
	}
}

func (r *fakeReplicator) RegisterActor(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered = append(r.registered, id)
}

func (r *fakeReplicator) UnregisterActor(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, id)
	delete(r.states, id)
	delete(r.dirty, id)
}

func (r *fakeReplicator) SetActorState(st proto.ActorState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[st.ID] = st
}

func (r *fakeReplicator) MarkActorDirty(id uint32, flags uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirty[id] |= flags
}

func (r *fakeReplicator) QueuePropertyUpdate(ps proto.PropertyState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queued = append(r.queued, ps)
}

func (r *fakeReplicator) state(t *testing.T, id uint32) proto.ActorState {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[id]
	if !ok {
		t.Fatalf("no cached state for actor %d", id)
	}
	return st
}

func (r *fakeReplicator) clearDirty() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirty = make(map[uint32]uint32)
}

func newWorldFixture(t *testing.T) (*World, *dispatch.Router, *fakeReplicator, *fakeSender) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	rep := newFakeReplicator()
	out := &fakeSender{}
	w := NewWorld(Options{
		MapName:         "proving-grounds",
		MapExtent:       1000,
		ChatHistory:     4,
		TickRate:        30,
		HeartbeatMillis: 5000,
	}, rep, out, log)
	router := dispatch.NewRouter(log)
	w.RegisterHandlers(router)
	return w, router, rep, out
}

func reparse(t *testing.T, pkt *wire.Packet) *wire.Packet {
	t.Helper()
	out, err := wire.ParsePacket(pkt.Marshal())
	if err != nil {
		t.Fatalf("reparse failed: %v", err)
	}
	return out
}

func spawn(t *testing.T, r *dispatch.Router, id uint32, name string) {
	t.Helper()
	r.Dispatch(id, proto.EncodePlayerSpawn(proto.PlayerSpawn{ClientID: id, Name: name}), dispatch.Meta{})
}

func moveTo(t *testing.T, r *dispatch.Router, id uint32, x, y, z float32) {
	t.Helper()
	r.Dispatch(id, proto.EncodeMove(proto.MoveMessage{ClientID: id, X: x, Y: y, Z: z}), dispatch.Meta{})
}

func admin(t *testing.T, r *dispatch.Router, id uint32, command string) {
	t.Helper()
	r.Dispatch(id, proto.EncodeAdminCommand(proto.AdminCommand{ClientID: id, Command: command}), dispatch.Meta{})
}

func TestSpawn_RegistersActorAndAnnounces(t *testing.T) {
	w, router, rep, out := newWorldFixture(t)

	spawn(t, router, 1, "alpha")

	if len(rep.registered) != 1 || rep.registered[0] != 1 {
		t.Fatalf("expected actor 1 registered, got %v", rep.registered)
	}
	st := rep.state(t, 1)
	if st.Health != spawnHealth {
		t.Fatalf("expected spawn health %d, got %d", spawnHealth, st.Health)
	}
	if st.Position.X != -900 || st.Position.Z != 8 {
		t.Fatalf("unexpected spawn position %+v", st.Position)
	}
	if rep.dirty[1] != proto.FieldPosition|proto.FieldHealth {
		t.Fatalf("expected position|health dirty, got %#x", rep.dirty[1])
	}

	sp := out.lastBroadcast(t, "PLAYER_SPAWN")
	if sp.channel != proto.ChannelControl || !sp.reliable {
		t.Fatalf("spawn broadcast on channel %d reliable=%v", sp.channel, sp.reliable)
	}
	announced, err := proto.DecodePlayerSpawn(reparse(t, sp.pkt))
	if err != nil || announced.ClientID != 1 || announced.Name != "alpha" {
		t.Fatalf("unexpected spawn announcement %+v err=%v", announced, err)
	}
	team, err := proto.DecodeTeamUpdate(reparse(t, out.lastBroadcast(t, "TEAM_UPDATE").pkt))
	if err != nil || team.ClientID != 1 || team.Team != 1 {
		t.Fatalf("unexpected team announcement %+v err=%v", team, err)
	}
	if w.HostID() != 1 {
		t.Fatalf("expected first player to take field command, host=%d", w.HostID())
	}
	notice, err := proto.DecodeServerNotice(reparse(t, out.lastBroadcast(t, "SERVER_NOTICE").pkt))
	if err != nil || !strings.Contains(notice.Text, "alpha") {
		t.Fatalf("expected host notice naming alpha, got %+v err=%v", notice, err)
	}
}

func TestSpawn_BalancesTeamsAndBases(t *testing.T) {
	_, router, rep, out := newWorldFixture(t)

	spawn(t, router, 1, "alpha")
	spawn(t, router, 2, "bravo")
	spawn(t, router, 3, "charlie")

	var teams []uint32
	for _, sp := range out.broadcastsByTag("TEAM_UPDATE") {
		msg, err := proto.DecodeTeamUpdate(reparse(t, sp.pkt))
		if err != nil {
			t.Fatalf("decoding team update: %v", err)
		}
		teams = append(teams, msg.Team)
	}
	if len(teams) != 3 || teams[0] != 1 || teams[1] != 2 || teams[2] != 1 {
		t.Fatalf("expected alternating team assignment 1,2,1, got %v", teams)
	}
	if x := rep.state(t, 2).Position.X; x != 900 {
		t.Fatalf("expected team two base at x=900, got %v", x)
	}
	if x := rep.state(t, 3).Position.X; x != -900 {
		t.Fatalf("expected team one base at x=-900, got %v", x)
	}
}

func TestSpawn_DuplicateIgnored(t *testing.T) {
	_, router, rep, out := newWorldFixture(t)

	spawn(t, router, 1, "alpha")
	spawn(t, router, 1, "alpha-again")

	if len(rep.registered) != 1 {
		t.Fatalf("expected one registration, got %v", rep.registered)
	}
	if n := len(out.broadcastsByTag("PLAYER_SPAWN")); n != 1 {
		t.Fatalf("expected one spawn broadcast, got %d", n)
	}
}

func TestSpawn_BlankCallsignGenerated(t *testing.T) {
	_, router, _, out := newWorldFixture(t)

	spawn(t, router, 7, "   ")

	msg, err := proto.DecodePlayerSpawn(reparse(t, out.lastBroadcast(t, "PLAYER_SPAWN").pkt))
	if err != nil || msg.Name != "recruit-7" {
		t.Fatalf("expected generated callsign recruit-7, got %+v err=%v", msg, err)
	}
}

func TestMove_ClampsToMapAndMarksDirty(t *testing.T) {
	_, router, rep, _ := newWorldFixture(t)
	spawn(t, router, 1, "alpha")
	rep.clearDirty()

	moveTo(t, router, 1, 5000, 0, -5000)

	st := rep.state(t, 1)
	if st.Position.X != 1000 || st.Position.Y != 0 || st.Position.Z != -1000 {
		t.Fatalf("expected position clamped to map bounds, got %+v", st.Position)
	}
	if st.Velocity.X != 1900 || st.Velocity.Z != -1008 {
		t.Fatalf("expected velocity as clamped delta from base, got %+v", st.Velocity)
	}
	if rep.dirty[1] != proto.FieldPosition|proto.FieldVelocity {
		t.Fatalf("expected position|velocity dirty, got %#x", rep.dirty[1])
	}
}

func TestMove_ForeignOrUnspawnedActorDropped(t *testing.T) {
	_, router, rep, _ := newWorldFixture(t)
	spawn(t, router, 1, "alpha")
	spawn(t, router, 2, "bravo")
	rep.clearDirty()

	// Session 1 claims to move actor 2.
	router.Dispatch(1, proto.EncodeMove(proto.MoveMessage{ClientID: 2, X: 1, Y: 2, Z: 3}), dispatch.Meta{})
	if len(rep.dirty) != 0 {
		t.Fatalf("expected spoofed movement dropped, dirty=%v", rep.dirty)
	}

	// Session 9 never spawned.
	moveTo(t, router, 9, 1, 2, 3)
	if len(rep.dirty) != 0 {
		t.Fatalf("expected pre-spawn movement dropped, dirty=%v", rep.dirty)
	}
}

func TestAction_RelaysThroughCustomBlob(t *testing.T) {
	_, router, rep, _ := newWorldFixture(t)
	spawn(t, router, 1, "alpha")
	rep.clearDirty()

	router.Dispatch(1, proto.EncodeAction(proto.ActionMessage{
		ClientID: 99,
		Name:     "fire",
		Args:     []string{"target:2", "shell:ap"},
	}), dispatch.Meta{})

	if rep.dirty[1] != proto.FieldCustom|proto.FieldState {
		t.Fatalf("expected custom|state dirty, got %#x", rep.dirty[1])
	}
	blob := rep.state(t, 1).Custom
	inner, err := wire.ParsePacket(blob)
	if err != nil {
		t.Fatalf("custom blob does not parse: %v", err)
	}
	action, err := proto.DecodeAction(inner)
	if err != nil {
		t.Fatalf("custom blob does not decode as action: %v", err)
	}
	if action.ClientID != 1 {
		t.Fatalf("expected attribution overwritten to 1, got %d", action.ClientID)
	}
	if action.Name != "fire" || len(action.Args) != 2 || action.Args[1] != "shell:ap" {
		t.Fatalf("action payload mangled: %+v", action)
	}
}

func TestChat_AttributionTrimAndBacklog(t *testing.T) {
	w, router, _, out := newWorldFixture(t)
	spawn(t, router, 1, "alpha")
	spawn(t, router, 2, "bravo")

	router.Dispatch(2, proto.EncodeChat(proto.ChatMessage{ClientID: 1, Text: "  hello  "}), dispatch.Meta{})

	sp := out.lastBroadcast(t, "CHAT_MESSAGE")
	if sp.channel != proto.ChannelChat || !sp.reliable {
		t.Fatalf("chat broadcast on channel %d reliable=%v", sp.channel, sp.reliable)
	}
	msg, err := proto.DecodeChat(reparse(t, sp.pkt))
	if err != nil || msg.ClientID != 2 || msg.Text != "hello" {
		t.Fatalf("expected attributed trimmed chat from 2, got %+v err=%v", msg, err)
	}

	// Blank lines and unspawned senders produce nothing.
	before := len(out.broadcastsByTag("CHAT_MESSAGE"))
	router.Dispatch(1, proto.EncodeChat(proto.ChatMessage{ClientID: 1, Text: "   "}), dispatch.Meta{})
	router.Dispatch(9, proto.EncodeChat(proto.ChatMessage{ClientID: 9, Text: "ghost"}), dispatch.Meta{})
	if n := len(out.broadcastsByTag("CHAT_MESSAGE")); n != before {
		t.Fatalf("expected no new chat broadcasts, got %d extra", n-before)
	}

	// The backlog keeps only the newest four lines.
	for _, text := range []string{"one", "two", "three", "four", "five"} {
		router.Dispatch(1, proto.EncodeChat(proto.ChatMessage{ClientID: 1, Text: text}), dispatch.Meta{})
	}
	welcome := w.SessionOpened(3, "tok-3")
	backlog, err := proto.DecodeChatHistory(reparse(t, welcome[2]))
	if err != nil {
		t.Fatalf("decoding welcome backlog: %v", err)
	}
	if len(backlog) != 4 {
		t.Fatalf("expected backlog capped at 4, got %d", len(backlog))
	}
	if backlog[0].Text != "two" || backlog[3].Text != "five" {
		t.Fatalf("expected oldest line dropped, got %q..%q", backlog[0].Text, backlog[3].Text)
	}
}

func TestSessionOpened_WelcomeBurst(t *testing.T) {
	w, router, _, _ := newWorldFixture(t)
	spawn(t, router, 1, "alpha")
	spawn(t, router, 2, "bravo")
	router.Dispatch(1, proto.EncodeChat(proto.ChatMessage{ClientID: 1, Text: "radio check"}), dispatch.Meta{})

	welcome := w.SessionOpened(3, "tok-3")

	wantTags := []string{
		"SESSION_STATE", "CONFIG_SYNC", "CHAT_HISTORY",
		"PLAYER_SPAWN", "TEAM_UPDATE", "PLAYER_SPAWN", "TEAM_UPDATE",
		"PROPERTY_REPLICATION", "ACTOR_REPLICATION",
	}
	if len(welcome) != len(wantTags) {
		t.Fatalf("expected %d welcome packets, got %d", len(wantTags), len(welcome))
	}
	for i, want := range wantTags {
		if welcome[i].Tag() != want {
			t.Fatalf("welcome[%d] = %s, want %s", i, welcome[i].Tag(), want)
		}
	}

	state, err := proto.DecodeSessionState(reparse(t, welcome[0]))
	if err != nil {
		t.Fatalf("decoding session state: %v", err)
	}
	if state.ClientID != 3 || state.Token != "tok-3" || state.MapName != "proving-grounds" || state.TickRate != 30 {
		t.Fatalf("unexpected session state %+v", state)
	}
	params, err := proto.DecodeConfigSync(reparse(t, welcome[1]))
	if err != nil || params.MapExtent != 1000 || params.HeartbeatMillis != 5000 {
		t.Fatalf("unexpected config sync %+v err=%v", params, err)
	}

	props, err := proto.DecodePropertySnapshot(reparse(t, welcome[7]))
	if err != nil {
		t.Fatalf("decoding objective snapshot: %v", err)
	}
	if len(props) != 3 {
		t.Fatalf("expected 3 objectives, got %d", len(props))
	}
	if props[0].Position.X != -500 || props[1].Position.X != 0 || props[2].Position.X != 500 {
		t.Fatalf("unexpected objective layout %+v %+v %+v", props[0].Position, props[1].Position, props[2].Position)
	}

	actors, err := proto.DecodeActorSnapshot(reparse(t, welcome[8]))
	if err != nil {
		t.Fatalf("decoding actor snapshot: %v", err)
	}
	if len(actors) != 2 || actors[0].ID != 1 || actors[1].ID != 2 {
		t.Fatalf("expected actors 1,2 in welcome snapshot, got %+v", actors)
	}
	if actors[0].FieldFlags != proto.FieldPosition|proto.FieldHealth {
		t.Fatalf("unexpected welcome actor flags %#x", actors[0].FieldFlags)
	}
	if actors[0].Health != spawnHealth {
		t.Fatalf("expected full health in welcome snapshot, got %d", actors[0].Health)
	}
}

func TestSessionClosed_DespawnsAndMigratesHost(t *testing.T) {
	w, router, rep, out := newWorldFixture(t)
	spawn(t, router, 1, "alpha")
	spawn(t, router, 2, "bravo")
	out.reset()

	w.SessionClosed(1)

	if len(rep.removed) != 1 || rep.removed[0] != 1 {
		t.Fatalf("expected actor 1 unregistered, got %v", rep.removed)
	}
	despawn, err := proto.DecodeEntityDespawn(reparse(t, out.lastBroadcast(t, "ENTITY_DESPAWN").pkt))
	if err != nil || despawn.ID != 1 {
		t.Fatalf("unexpected despawn %+v err=%v", despawn, err)
	}
	if w.HostID() != 2 {
		t.Fatalf("expected field command to migrate to 2, host=%d", w.HostID())
	}
	notice, err := proto.DecodeServerNotice(reparse(t, out.lastBroadcast(t, "SERVER_NOTICE").pkt))
	if err != nil || !strings.Contains(notice.Text, "bravo") {
		t.Fatalf("expected migration notice naming bravo, got %+v err=%v", notice, err)
	}

	// Closing a session that never spawned changes nothing.
	out.reset()
	w.SessionClosed(9)
	if len(out.broadcasts) != 0 {
		t.Fatalf("expected no broadcasts for unknown session, got %d", len(out.broadcasts))
	}
	if w.PlayerCount() != 1 {
		t.Fatalf("expected one player left, got %d", w.PlayerCount())
	}
}

func TestTick_CaptureFlipAndHoldScore(t *testing.T) {
	w, router, rep, out := newWorldFixture(t)
	spawn(t, router, 1, "alpha")
	moveTo(t, router, 1, 0, 0, 0)
	out.reset()

	// Two seconds of uncontested pressure: halfway, no flip yet.
	w.Tick(2.0)
	if len(out.broadcastsByTag("OBJECTIVE_UPDATE")) != 0 {
		t.Fatalf("objective flipped too early")
	}
	if len(rep.queued) != 1 {
		t.Fatalf("expected one property update, got %d", len(rep.queued))
	}
	ps := rep.queued[0]
	if ps.ObjectID != 2 || ps.Health != 50 {
		t.Fatalf("expected objective 2 at 50%% pressure, got %+v", ps)
	}
	if owner, capturer := decodeObjectiveBlob(t, ps.Custom); owner != 0 || capturer != 1 {
		t.Fatalf("expected neutral point captured by team 1, got owner=%d capturer=%d", owner, capturer)
	}

	// Two more seconds completes the capture and the same tick pays the
	// first hold points.
	w.Tick(2.0)
	flip, err := proto.DecodeObjectiveUpdate(reparse(t, out.lastBroadcast(t, "OBJECTIVE_UPDATE").pkt))
	if err != nil || flip.ObjectiveID != 2 || flip.OwnerTeam != 1 {
		t.Fatalf("unexpected objective flip %+v err=%v", flip, err)
	}
	if len(rep.queued) != 2 {
		t.Fatalf("expected a second property update, got %d", len(rep.queued))
	}
	ps = rep.queued[1]
	if owner, capturer := decodeObjectiveBlob(t, ps.Custom); owner != 1 || capturer != 0 || ps.Health != 0 {
		t.Fatalf("expected owned quiet point, got owner=%d capturer=%d progress=%d", owner, capturer, ps.Health)
	}
	score, err := proto.DecodeScoreUpdate(reparse(t, out.lastBroadcast(t, "SCORE_UPDATE").pkt))
	if err != nil || score.Team != 1 || score.Score != 2 {
		t.Fatalf("expected team 1 at 2 points, got %+v err=%v", score, err)
	}

	// Holding pays one point per second; the settled point queues nothing.
	w.Tick(1.0)
	if w.Score(1) != 3 {
		t.Fatalf("expected 3 points after another second, got %d", w.Score(1))
	}
	if len(rep.queued) != 2 {
		t.Fatalf("settled objective should queue no update, got %d", len(rep.queued))
	}
}

func TestTick_ContestedPointBleedsPressure(t *testing.T) {
	w, router, rep, _ := newWorldFixture(t)
	spawn(t, router, 1, "alpha")
	spawn(t, router, 2, "bravo")
	moveTo(t, router, 1, 0, 0, 0)

	// Team 1 builds pressure alone; team 2 is still at its base.
	w.Tick(2.0)
	if ps := rep.queued[len(rep.queued)-1]; ps.ObjectID != 2 || ps.Health != 50 {
		t.Fatalf("expected objective 2 at 50%% pressure, got %+v", ps)
	}

	// Team 2 drives in; the contested point bleeds without switching
	// attribution.
	moveTo(t, router, 2, 0, 0, 0)
	w.Tick(1.0)
	ps := rep.queued[len(rep.queued)-1]
	if ps.Health != 35 {
		t.Fatalf("expected pressure bled to 35, got %d", ps.Health)
	}
	if owner, capturer := decodeObjectiveBlob(t, ps.Custom); owner != 0 || capturer != 1 {
		t.Fatalf("contest changed attribution: owner=%d capturer=%d", owner, capturer)
	}
}

func decodeObjectiveBlob(t *testing.T, custom []byte) (owner, capturer uint32) {
	t.Helper()
	if len(custom) != 8 {
		t.Fatalf("expected 8-byte objective blob, got %d bytes", len(custom))
	}
	owner = uint32(custom[0]) | uint32(custom[1])<<8 | uint32(custom[2])<<16 | uint32(custom[3])<<24
	capturer = uint32(custom[4]) | uint32(custom[5])<<8 | uint32(custom[6])<<16 | uint32(custom[7])<<24
	return owner, capturer
}

func TestApplyDamage_BroadcastsAndRespawns(t *testing.T) {
	w, router, rep, out := newWorldFixture(t)
	spawn(t, router, 1, "alpha")
	moveTo(t, router, 1, 0, 0, 0)
	rep.clearDirty()
	out.reset()

	if !w.ApplyDamage(1, 40) {
		t.Fatalf("damage to live player rejected")
	}
	health, err := proto.DecodeHealthUpdate(reparse(t, out.lastBroadcast(t, "HEALTH_UPDATE").pkt))
	if err != nil || health.ClientID != 1 || health.Health != 60 {
		t.Fatalf("unexpected health update %+v err=%v", health, err)
	}
	if rep.dirty[1] != proto.FieldHealth {
		t.Fatalf("expected only health dirty, got %#x", rep.dirty[1])
	}

	// The killing blow redeploys at base with full health.
	rep.clearDirty()
	w.ApplyDamage(1, 75)
	st := rep.state(t, 1)
	if st.Health != spawnHealth || st.Position.X != -900 {
		t.Fatalf("expected redeploy at base with full health, got %+v", st)
	}
	if rep.dirty[1] != proto.FieldHealth|proto.FieldPosition|proto.FieldVelocity {
		t.Fatalf("expected health|position|velocity dirty, got %#x", rep.dirty[1])
	}
	health, err = proto.DecodeHealthUpdate(reparse(t, out.lastBroadcast(t, "HEALTH_UPDATE").pkt))
	if err != nil || health.Health != spawnHealth {
		t.Fatalf("expected restored health broadcast, got %+v err=%v", health, err)
	}
	notice, err := proto.DecodeServerNotice(reparse(t, out.lastBroadcast(t, "SERVER_NOTICE").pkt))
	if err != nil || !strings.Contains(notice.Text, "destroyed") {
		t.Fatalf("expected destruction notice, got %+v err=%v", notice, err)
	}

	// Repairs cap at full health; unknown targets are rejected.
	w.ApplyDamage(1, -50)
	if st := rep.state(t, 1); st.Health != spawnHealth {
		t.Fatalf("expected repair capped at %d, got %d", spawnHealth, st.Health)
	}
	if w.ApplyDamage(9, 10) {
		t.Fatalf("damage to unknown player accepted")
	}
}

func TestAdmin_HostOnlyCommands(t *testing.T) {
	_, router, _, out := newWorldFixture(t)
	spawn(t, router, 1, "alpha")
	spawn(t, router, 2, "bravo")
	out.reset()

	// Non-host sessions get a warning back, nothing broadcast.
	admin(t, router, 2, "say push north")
	if len(out.broadcasts) != 0 {
		t.Fatalf("non-host command broadcast something: %v", out.broadcasts)
	}
	if len(out.directs) != 1 || out.directs[0].clientID != 2 {
		t.Fatalf("expected refusal notice to session 2, got %v", out.directs)
	}
	refusal, err := proto.DecodeServerNotice(reparse(t, out.directs[0].pkt))
	if err != nil || refusal.Severity != proto.NoticeWarning {
		t.Fatalf("expected warning notice, got %+v err=%v", refusal, err)
	}

	// The host's say reaches everyone.
	out.reset()
	admin(t, router, 1, "say push north")
	notice, err := proto.DecodeServerNotice(reparse(t, out.lastBroadcast(t, "SERVER_NOTICE").pkt))
	if err != nil || notice.Text != "push north" {
		t.Fatalf("unexpected say broadcast %+v err=%v", notice, err)
	}

	// kick hands the session to the gateway; the host is protected.
	out.reset()
	admin(t, router, 1, "kick 2")
	if len(out.kicked) != 1 || out.kicked[0] != 2 {
		t.Fatalf("expected session 2 kicked, got %v", out.kicked)
	}
	admin(t, router, 1, "kick 1")
	if len(out.kicked) != 1 {
		t.Fatalf("host kicked itself: %v", out.kicked)
	}

	// hurt runs through damage; unknown commands warn the host.
	out.reset()
	admin(t, router, 1, "hurt 1 30")
	health, err := proto.DecodeHealthUpdate(reparse(t, out.lastBroadcast(t, "HEALTH_UPDATE").pkt))
	if err != nil || health.ClientID != 1 || health.Health != 70 {
		t.Fatalf("unexpected hurt result %+v err=%v", health, err)
	}
	out.reset()
	admin(t, router, 1, "teleport 1")
	if len(out.directs) != 1 {
		t.Fatalf("expected unknown-command warning, got %v", out.directs)
	}
}

func TestAdmin_MapRotationResetsMatch(t *testing.T) {
	w, router, rep, out := newWorldFixture(t)
	spawn(t, router, 1, "alpha")
	spawn(t, router, 2, "bravo")
	moveTo(t, router, 1, 0, 0, 0)

	// Give team 2 a held objective and some points to reset.
	w.mu.Lock()
	w.objectives[0].owner = 2
	w.objectives[1].progress = 40
	w.scores[2] = 7
	w.mu.Unlock()
	out.reset()
	rep.clearDirty()

	admin(t, router, 1, "map ridgeline 600")

	change, err := proto.DecodeMapChange(reparse(t, out.lastBroadcast(t, "MAP_CHANGE").pkt))
	if err != nil || change.MapName != "ridgeline" || change.RoundSeconds != 600 {
		t.Fatalf("unexpected map change %+v err=%v", change, err)
	}
	if w.Score(2) != 0 {
		t.Fatalf("expected scores wiped, team 2 has %d", w.Score(2))
	}
	zeroed := out.broadcastsByTag("SCORE_UPDATE")
	if len(zeroed) != teamCount {
		t.Fatalf("expected %d zero score broadcasts, got %d", teamCount, len(zeroed))
	}
	if len(rep.queued) != 3 {
		t.Fatalf("expected all objectives requeued, got %d", len(rep.queued))
	}
	for _, ps := range rep.queued {
		owner, capturer := decodeObjectiveBlob(t, ps.Custom)
		if owner != 0 || capturer != 0 || ps.Health != 0 {
			t.Fatalf("objective %d not neutral after rotation: %+v", ps.ObjectID, ps)
		}
	}
	st := rep.state(t, 1)
	if st.Position.X != -900 || st.Health != spawnHealth {
		t.Fatalf("expected player 1 redeployed at base, got %+v", st)
	}
	if rep.dirty[1] != proto.FieldPosition|proto.FieldVelocity|proto.FieldHealth {
		t.Fatalf("expected redeploy dirty flags, got %#x", rep.dirty[1])
	}

	// A new joiner sees the rotated map.
	state, err := proto.DecodeSessionState(reparse(t, w.SessionOpened(3, "tok")[0]))
	if err != nil || state.MapName != "ridgeline" {
		t.Fatalf("expected rotated map in welcome, got %+v err=%v", state, err)
	}
}
