package proto

// Logical channels multiplexed over one connection. Deployed clients
// hardcode these values, so they are part of the wire contract alongside
// the message tags.
const (
	ChannelControl     uint8 = 0
	ChannelChat        uint8 = 1
	ChannelMovement    uint8 = 2
	ChannelReplication uint8 = 3
)
