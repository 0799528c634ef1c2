package bus

import "time"

// MessageSource distinguishes a human-originated turn from one a system
// process (heartbeat, scheduled wake, retry) injects on the channel's
// behalf. The distinction matters to the injection engine's planner: a
// system-originated turn triggers no retrieval and no injection, though it
// still advances the channel's turn counter just as a user turn does.
type MessageSource string

const (
	SourceUser   MessageSource = "user"
	SourceSystem MessageSource = "system"
)

// InboundMessage is one turn arriving on a channel, independent of the
// transport that delivered it.
type InboundMessage struct {
	Channel   string
	ChatID    string
	SenderID  string
	Content   string
	Media     []string
	Source    MessageSource
	Timestamp time.Time
}

// OutboundMessage is a reply destined for a channel.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
}

// Event is a bus-wide notification for observers (e.g. a status surface)
// uninterested in message content itself.
type Event struct {
	Type    string
	Payload map[string]any
}

// MessageHandler processes one inbound message for a channel.
type MessageHandler func(InboundMessage)

// EventHandler receives broadcast events.
type EventHandler func(Event)
