// Package proto defines the packet type registry and the application-level
// codecs of the legacy client protocol: control messages, delta replication
// snapshots, and the compression envelope. Field layouts are part of the
// external wire contract and mirror what deployed clients expect.
package proto

// MsgType enumerates the message kinds carried by tagged packets. The
// numeric order is frozen: the tag table below is indexed by it.
type MsgType uint32

const (
	MsgInvalid MsgType = iota
	MsgHeartbeat
	MsgChat
	MsgPlayerSpawn
	MsgPlayerMove
	MsgPlayerAction
	MsgHealthUpdate
	MsgTeamUpdate
	MsgEntitySpawn
	MsgEntityDespawn
	MsgActorReplication
	MsgPropertyReplication
	MsgObjectiveUpdate
	MsgScoreUpdate
	MsgSessionState
	MsgChatHistory
	MsgAdminCommand
	MsgServerNotice
	MsgMapChange
	MsgConfigSync
	MsgCompression
	MsgRPCCall
	MsgRPCResponse

	// Reserved extension slots for per-deployment messages.
	MsgCustom0
	MsgCustom1
	MsgCustom2
	MsgCustom3
	MsgCustom4
	MsgCustom5
	MsgCustom6
	MsgCustom7

	MsgMax
)

// tagTable holds the stable string tags, indexed by MsgType. Same order,
// same length as the enumeration; index 0 is the reserved invalid tag.
var tagTable = [MsgMax]string{
	MsgInvalid:             "INVALID",
	MsgHeartbeat:           "HEARTBEAT",
	MsgChat:                "CHAT_MESSAGE",
	MsgPlayerSpawn:         "PLAYER_SPAWN",
	MsgPlayerMove:          "PLAYER_MOVE",
	MsgPlayerAction:        "PLAYER_ACTION",
	MsgHealthUpdate:        "HEALTH_UPDATE",
	MsgTeamUpdate:          "TEAM_UPDATE",
	MsgEntitySpawn:         "ENTITY_SPAWN",
	MsgEntityDespawn:       "ENTITY_DESPAWN",
	MsgActorReplication:    "ACTOR_REPLICATION",
	MsgPropertyReplication: "PROPERTY_REPLICATION",
	MsgObjectiveUpdate:     "OBJECTIVE_UPDATE",
	MsgScoreUpdate:         "SCORE_UPDATE",
	MsgSessionState:        "SESSION_STATE",
	MsgChatHistory:         "CHAT_HISTORY",
	MsgAdminCommand:        "ADMIN_COMMAND",
	MsgServerNotice:        "SERVER_NOTICE",
	MsgMapChange:           "MAP_CHANGE",
	MsgConfigSync:          "CONFIG_SYNC",
	MsgCompression:         "COMPRESSION",
	MsgRPCCall:             "RPC_CALL",
	MsgRPCResponse:         "RPC_RESPONSE",
	MsgCustom0:             "CUSTOM_0",
	MsgCustom1:             "CUSTOM_1",
	MsgCustom2:             "CUSTOM_2",
	MsgCustom3:             "CUSTOM_3",
	MsgCustom4:             "CUSTOM_4",
	MsgCustom5:             "CUSTOM_5",
	MsgCustom6:             "CUSTOM_6",
	MsgCustom7:             "CUSTOM_7",
}

var typeByTag = func() map[string]MsgType {
	m := make(map[string]MsgType, len(tagTable))
	for t, tag := range tagTable {
		m[tag] = MsgType(t)
	}
	return m
}()

// TagOf returns the stable string tag for t. Types outside [1, MsgMax)
// map to the reserved index-0 tag.
func TagOf(t MsgType) string {
	if t < 1 || t >= MsgMax {
		return tagTable[MsgInvalid]
	}
	return tagTable[t]
}

// TypeOf resolves a string tag to its message type. Unknown tags yield
// MsgInvalid so callers can treat them as a soft dispatch failure.
func TypeOf(tag string) MsgType {
	if t, ok := typeByTag[tag]; ok {
		return t
	}
	return MsgInvalid
}

func (t MsgType) String() string { return TagOf(t) }
