package bus

import "github.com/laundmo/gh-linker-bot/pkg/platform"

// InboundMessage is one chat message received from any transport.
type InboundMessage struct {
	Channel    string            `json:"channel"`
	GuildID    string            `json:"guild_id,omitempty"`
	ChannelID  string            `json:"channel_id"`
	MessageID  string            `json:"message_id"`
	SenderID   string            `json:"sender_id"`
	SenderName string            `json:"sender_name,omitempty"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Ref returns the platform reference for this message.
func (m InboundMessage) Ref() platform.MessageRef {
	return platform.MessageRef{
		Channel:   m.Channel,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		MessageID: m.MessageID,
		AuthorID:  m.SenderID,
	}
}

// OutboundMessage is one reply to be delivered by a transport.
type OutboundMessage struct {
	Channel   string `json:"channel"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	ReplyTo   string `json:"reply_to,omitempty"`
}

// SystemEvent is a typed event flowing through the bus for observability.
// Used for session outcomes, task failures, channel lifecycle, etc.
type SystemEvent struct {
	Type   string      `json:"type"`   // e.g. "confirm.resolved", "channel.connected"
	Source string      `json:"source"` // e.g. "linker", "discord"
	Data   interface{} `json:"data"`
}
