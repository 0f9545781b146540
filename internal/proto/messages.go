package proto

import (
	"errors"
	"fmt"

	"ironfront/server/internal/wire"
)

// ErrMalformedMessage reports a message body that ran out of bytes or
// declared an inconsistent field count. The offending message is dropped;
// nothing here is fatal.
var ErrMalformedMessage = errors.New("proto: malformed message")

func malformed(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMalformedMessage)
}

// ChatMessage is a chat line attributed to a client. Text content rules
// (length caps, allowed characters) are enforced by the game layer, not
// the codec.
type ChatMessage struct {
	ClientID uint32
	Text     string
}

// EncodeChat renders a chat message packet.
func EncodeChat(msg ChatMessage) *wire.Packet {
	pkt := wire.NewPacket(TagOf(MsgChat))
	pkt.WriteU32(msg.ClientID)
	pkt.WriteString(msg.Text)
	return pkt
}

// DecodeChat parses a chat message packet body.
func DecodeChat(pkt *wire.Packet) (ChatMessage, error) {
	id, err := pkt.ReadU32()
	if err != nil {
		return ChatMessage{}, malformed("chat client id")
	}
	text, err := pkt.ReadString()
	if err != nil {
		return ChatMessage{}, malformed("chat text")
	}
	return ChatMessage{ClientID: id, Text: text}, nil
}

// MoveMessage carries a client's position update.
type MoveMessage struct {
	ClientID uint32
	X, Y, Z  float32
}

// EncodeMove renders a movement packet.
func EncodeMove(msg MoveMessage) *wire.Packet {
	pkt := wire.NewPacket(TagOf(MsgPlayerMove))
	pkt.WriteU32(msg.ClientID)
	pkt.WriteF32(msg.X)
	pkt.WriteF32(msg.Y)
	pkt.WriteF32(msg.Z)
	return pkt
}

// DecodeMove parses a movement packet body.
func DecodeMove(pkt *wire.Packet) (MoveMessage, error) {
	var msg MoveMessage
	var err error
	if msg.ClientID, err = pkt.ReadU32(); err != nil {
		return MoveMessage{}, malformed("move client id")
	}
	if msg.X, err = pkt.ReadF32(); err != nil {
		return MoveMessage{}, malformed("move x")
	}
	if msg.Y, err = pkt.ReadF32(); err != nil {
		return MoveMessage{}, malformed("move y")
	}
	if msg.Z, err = pkt.ReadF32(); err != nil {
		return MoveMessage{}, malformed("move z")
	}
	return msg, nil
}

// ActionMessage carries a discrete named action with string arguments.
type ActionMessage struct {
	ClientID uint32
	Name     string
	Args     []string
}

// EncodeAction renders an action packet: name, argument count, then that
// many strings.
func EncodeAction(msg ActionMessage) *wire.Packet {
	pkt := wire.NewPacket(TagOf(MsgPlayerAction))
	pkt.WriteU32(msg.ClientID)
	pkt.WriteString(msg.Name)
	pkt.WriteU32(uint32(len(msg.Args)))
	for _, arg := range msg.Args {
		pkt.WriteString(arg)
	}
	return pkt
}

// DecodeAction parses an action packet body, validating that the declared
// argument count is actually present.
func DecodeAction(pkt *wire.Packet) (ActionMessage, error) {
	var msg ActionMessage
	var err error
	if msg.ClientID, err = pkt.ReadU32(); err != nil {
		return ActionMessage{}, malformed("action client id")
	}
	if msg.Name, err = pkt.ReadString(); err != nil {
		return ActionMessage{}, malformed("action name")
	}
	count, err := pkt.ReadU32()
	if err != nil {
		return ActionMessage{}, malformed("action argument count")
	}
	// Cap the preallocation by what the body could possibly hold; a
	// hostile count must not drive the allocator.
	args := make([]string, 0, min(int(count), pkt.Remaining()/4))
	for i := uint32(0); i < count; i++ {
		arg, err := pkt.ReadString()
		if err != nil {
			return ActionMessage{}, malformed(fmt.Sprintf("action argument %d of %d", i, count))
		}
		args = append(args, arg)
	}
	msg.Args = args
	return msg, nil
}

// Heartbeat reports client liveness alongside the client's send time in
// milliseconds, echoed back for round-trip estimation.
type Heartbeat struct {
	ClientID uint32
	SentAt   uint32
}

// EncodeHeartbeat renders a heartbeat packet.
func EncodeHeartbeat(msg Heartbeat) *wire.Packet {
	pkt := wire.NewPacket(TagOf(MsgHeartbeat))
	pkt.WriteU32(msg.ClientID)
	pkt.WriteU32(msg.SentAt)
	return pkt
}

// DecodeHeartbeat parses a heartbeat packet body.
func DecodeHeartbeat(pkt *wire.Packet) (Heartbeat, error) {
	id, err := pkt.ReadU32()
	if err != nil {
		return Heartbeat{}, malformed("heartbeat client id")
	}
	sentAt, err := pkt.ReadU32()
	if err != nil {
		return Heartbeat{}, malformed("heartbeat timestamp")
	}
	return Heartbeat{ClientID: id, SentAt: sentAt}, nil
}

// Notice severity levels.
const (
	NoticeInfo uint8 = iota
	NoticeWarning
	NoticeCritical
)

// ServerNotice is a server-originated broadcast line shown to players.
type ServerNotice struct {
	Severity uint8
	Text     string
}

// EncodeServerNotice renders a server notice packet.
func EncodeServerNotice(msg ServerNotice) *wire.Packet {
	pkt := wire.NewPacket(TagOf(MsgServerNotice))
	pkt.WriteU8(msg.Severity)
	pkt.WriteString(msg.Text)
	return pkt
}

// DecodeServerNotice parses a server notice packet body.
func DecodeServerNotice(pkt *wire.Packet) (ServerNotice, error) {
	severity, err := pkt.ReadU8()
	if err != nil {
		return ServerNotice{}, malformed("notice severity")
	}
	text, err := pkt.ReadString()
	if err != nil {
		return ServerNotice{}, malformed("notice text")
	}
	return ServerNotice{Severity: severity, Text: text}, nil
}

// SessionState is sent once after a client joins: its assigned id, session
// token, the active map, and the server tick rate.
type SessionState struct {
	ClientID uint32
	Token    string
	MapName  string
	TickRate uint32
}

// EncodeSessionState renders a session state packet.
func EncodeSessionState(msg SessionState) *wire.Packet {
	pkt := wire.NewPacket(TagOf(MsgSessionState))
	pkt.WriteU32(msg.ClientID)
	pkt.WriteString(msg.Token)
	pkt.WriteString(msg.MapName)
	pkt.WriteU32(msg.TickRate)
	return pkt
}

// DecodeSessionState parses a session state packet body.
func DecodeSessionState(pkt *wire.Packet) (SessionState, error) {
	var msg SessionState
	var err error
	if msg.ClientID, err = pkt.ReadU32(); err != nil {
		return SessionState{}, malformed("session client id")
	}
	if msg.Token, err = pkt.ReadString(); err != nil {
		return SessionState{}, malformed("session token")
	}
	if msg.MapName, err = pkt.ReadString(); err != nil {
		return SessionState{}, malformed("session map name")
	}
	if msg.TickRate, err = pkt.ReadU32(); err != nil {
		return SessionState{}, malformed("session tick rate")
	}
	return msg, nil
}

// EncodeChatHistory renders the recent-chat backlog sent to joining clients.
func EncodeChatHistory(entries []ChatMessage) *wire.Packet {
	pkt := wire.NewPacket(TagOf(MsgChatHistory))
	pkt.WriteU32(uint32(len(entries)))
	for _, entry := range entries {
		pkt.WriteU32(entry.ClientID)
		pkt.WriteString(entry.Text)
	}
	return pkt
}

// DecodeChatHistory parses a chat backlog packet body.
func DecodeChatHistory(pkt *wire.Packet) ([]ChatMessage, error) {
	count, err := pkt.ReadU32()
	if err != nil {
		return nil, malformed("chat history count")
	}
	entries := make([]ChatMessage, 0, min(int(count), pkt.Remaining()/8))
	for i := uint32(0); i < count; i++ {
		id, err := pkt.ReadU32()
		if err != nil {
			return nil, malformed("chat history client id")
		}
		text, err := pkt.ReadString()
		if err != nil {
			return nil, malformed("chat history text")
		}
		entries = append(entries, ChatMessage{ClientID: id, Text: text})
	}
	return entries, nil
}

// AdminCommand is a privileged console command issued by a client.
type AdminCommand struct {
	ClientID uint32
	Command  string
}

// EncodeAdminCommand renders an admin command packet.
func EncodeAdminCommand(msg AdminCommand) *wire.Packet {
	pkt := wire.NewPacket(TagOf(MsgAdminCommand))
	pkt.WriteU32(msg.ClientID)
	pkt.WriteString(msg.Command)
	return pkt
}

// DecodeAdminCommand parses an admin command packet body.
func DecodeAdminCommand(pkt *wire.Packet) (AdminCommand, error) {
	id, err := pkt.ReadU32()
	if err != nil {
		return AdminCommand{}, malformed("admin client id")
	}
	command, err := pkt.ReadString()
	if err != nil {
		return AdminCommand{}, malformed("admin command")
	}
	return AdminCommand{ClientID: id, Command: command}, nil
}

// MapChange announces a map rotation with the next round length in seconds.
type MapChange struct {
	MapName      string
	RoundSeconds uint32
}

// EncodeMapChange renders a map change packet.
func EncodeMapChange(msg MapChange) *wire.Packet {
	pkt := wire.NewPacket(TagOf(MsgMapChange))
	pkt.WriteString(msg.MapName)
	pkt.WriteU32(msg.RoundSeconds)
	return pkt
}

// DecodeMapChange parses a map change packet body.
func DecodeMapChange(pkt *wire.Packet) (MapChange, error) {
	name, err := pkt.ReadString()
	if err != nil {
		return MapChange{}, malformed("map name")
	}
	seconds, err := pkt.ReadU32()
	if err != nil {
		return MapChange{}, malformed("map round seconds")
	}
	return MapChange{MapName: name, RoundSeconds: seconds}, nil
}

// PlayerSpawn announces a player entering the match. Inbound, it carries
// the requested callsign; outbound, the server-assigned identity.
type PlayerSpawn struct {
	ClientID uint32
	Name     string
}

// EncodePlayerSpawn renders a player spawn packet.
func EncodePlayerSpawn(msg PlayerSpawn) *wire.Packet {
	pkt := wire.NewPacket(TagOf(MsgPlayerSpawn))
	pkt.WriteU32(msg.ClientID)
	pkt.WriteString(msg.Name)
	return pkt
}

// DecodePlayerSpawn parses a player spawn packet body.
func DecodePlayerSpawn(pkt *wire.Packet) (PlayerSpawn, error) {
	id, err := pkt.ReadU32()
	if err != nil {
		return PlayerSpawn{}, malformed("spawn client id")
	}
	name, err := pkt.ReadString()
	if err != nil {
		return PlayerSpawn{}, malformed("spawn name")
	}
	return PlayerSpawn{ClientID: id, Name: name}, nil
}

// EntityDespawn removes an entity from every client.
type EntityDespawn struct {
	ID uint32
}

// EncodeEntityDespawn renders an entity despawn packet.
func EncodeEntityDespawn(msg EntityDespawn) *wire.Packet {
	pkt := wire.NewPacket(TagOf(MsgEntityDespawn))
	pkt.WriteU32(msg.ID)
	return pkt
}

// DecodeEntityDespawn parses an entity despawn packet body.
func DecodeEntityDespawn(pkt *wire.Packet) (EntityDespawn, error) {
	id, err := pkt.ReadU32()
	if err != nil {
		return EntityDespawn{}, malformed("despawn id")
	}
	return EntityDespawn{ID: id}, nil
}

// HealthUpdate broadcasts an actor's new health total.
type HealthUpdate struct {
	ClientID uint32
	Health   int32
}

// EncodeHealthUpdate renders a health update packet.
func EncodeHealthUpdate(msg HealthUpdate) *wire.Packet {
	pkt := wire.NewPacket(TagOf(MsgHealthUpdate))
	pkt.WriteU32(msg.ClientID)
	pkt.WriteI32(msg.Health)
	return pkt
}

// DecodeHealthUpdate parses a health update packet body.
func DecodeHealthUpdate(pkt *wire.Packet) (HealthUpdate, error) {
	id, err := pkt.ReadU32()
	if err != nil {
		return HealthUpdate{}, malformed("health client id")
	}
	health, err := pkt.ReadI32()
	if err != nil {
		return HealthUpdate{}, malformed("health value")
	}
	return HealthUpdate{ClientID: id, Health: health}, nil
}

// TeamUpdate assigns a player to a team.
type TeamUpdate struct {
	ClientID uint32
	Team     uint32
}

// EncodeTeamUpdate renders a team update packet.
func EncodeTeamUpdate(msg TeamUpdate) *wire.Packet {
	pkt := wire.NewPacket(TagOf(MsgTeamUpdate))
	pkt.WriteU32(msg.ClientID)
	pkt.WriteU32(msg.Team)
	return pkt
}

// DecodeTeamUpdate parses a team update packet body.
func DecodeTeamUpdate(pkt *wire.Packet) (TeamUpdate, error) {
	id, err := pkt.ReadU32()
	if err != nil {
		return TeamUpdate{}, malformed("team client id")
	}
	team, err := pkt.ReadU32()
	if err != nil {
		return TeamUpdate{}, malformed("team value")
	}
	return TeamUpdate{ClientID: id, Team: team}, nil
}

// ObjectiveUpdate announces an objective changing hands. Continuous capture
// progress travels in property snapshots; this is the discrete event.
type ObjectiveUpdate struct {
	ObjectiveID uint32
	OwnerTeam   uint32
}

// EncodeObjectiveUpdate renders an objective update packet.
func EncodeObjectiveUpdate(msg ObjectiveUpdate) *wire.Packet {
	pkt := wire.NewPacket(TagOf(MsgObjectiveUpdate))
	pkt.WriteU32(msg.ObjectiveID)
	pkt.WriteU32(msg.OwnerTeam)
	return pkt
}

// DecodeObjectiveUpdate parses an objective update packet body.
func DecodeObjectiveUpdate(pkt *wire.Packet) (ObjectiveUpdate, error) {
	id, err := pkt.ReadU32()
	if err != nil {
		return ObjectiveUpdate{}, malformed("objective id")
	}
	owner, err := pkt.ReadU32()
	if err != nil {
		return ObjectiveUpdate{}, malformed("objective owner")
	}
	return ObjectiveUpdate{ObjectiveID: id, OwnerTeam: owner}, nil
}

// ScoreUpdate broadcasts a team's new score total.
type ScoreUpdate struct {
	Team  uint32
	Score int32
}

// EncodeScoreUpdate renders a score update packet.
func EncodeScoreUpdate(msg ScoreUpdate) *wire.Packet {
	pkt := wire.NewPacket(TagOf(MsgScoreUpdate))
	pkt.WriteU32(msg.Team)
	pkt.WriteI32(msg.Score)
	return pkt
}

// DecodeScoreUpdate parses a score update packet body.
func DecodeScoreUpdate(pkt *wire.Packet) (ScoreUpdate, error) {
	team, err := pkt.ReadU32()
	if err != nil {
		return ScoreUpdate{}, malformed("score team")
	}
	score, err := pkt.ReadI32()
	if err != nil {
		return ScoreUpdate{}, malformed("score value")
	}
	return ScoreUpdate{Team: team, Score: score}, nil
}

// ConfigSync pushes the match parameters a client needs before simulating
// locally: the playable extent and the heartbeat cadence.
type ConfigSync struct {
	MapExtent       float32
	HeartbeatMillis uint32
}

// EncodeConfigSync renders a config sync packet.
func EncodeConfigSync(msg ConfigSync) *wire.Packet {
	pkt := wire.NewPacket(TagOf(MsgConfigSync))
	pkt.WriteF32(msg.MapExtent)
	pkt.WriteU32(msg.HeartbeatMillis)
	return pkt
}

// DecodeConfigSync parses a config sync packet body.
func DecodeConfigSync(pkt *wire.Packet) (ConfigSync, error) {
	extent, err := pkt.ReadF32()
	if err != nil {
		return ConfigSync{}, malformed("config map extent")
	}
	heartbeat, err := pkt.ReadU32()
	if err != nil {
		return ConfigSync{}, malformed("config heartbeat")
	}
	return ConfigSync{MapExtent: extent, HeartbeatMillis: heartbeat}, nil
}
