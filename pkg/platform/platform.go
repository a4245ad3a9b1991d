// Package platform defines the seam between the bot core and the chat
// platforms it drives. The core only ever sees these types: an opaque
// message reference, reaction events from the gateway, a command surface
// for mutating messages, and a bounded wait on the event stream.
package platform

import (
	"context"
	"time"
)

// MessageRef identifies a message the bot has sent or observed.
// The referenced message is owned by the platform and may be deleted
// out-of-band at any time; every operation taking a MessageRef must
// tolerate ErrNotFound.
type MessageRef struct {
	// Channel names the transport the message lives on ("discord", "slack").
	Channel string `json:"channel"`

	// GuildID is the server/workspace the message belongs to.
	// Empty for direct or console contexts, which cannot carry reactions.
	GuildID string `json:"guild_id,omitempty"`

	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`

	// AuthorID is the user the message was sent in response to, when known.
	AuthorID string `json:"author_id,omitempty"`
}

// ReactionEvent is one reaction-add delivered by a platform gateway.
// Immutable; consumed once.
type ReactionEvent struct {
	Channel   string `json:"channel"`
	GuildID   string `json:"guild_id,omitempty"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`

	// UserID is the actor who added the reaction.
	UserID string `json:"user_id"`

	// Emoji is the reaction identifier in the platform's display form
	// (unicode, or Discord's <:name:id> for custom emoji).
	Emoji string `json:"emoji"`
}

// Surface is the outbound command surface of one platform transport.
// All methods may return ErrNotFound if the message or reaction no longer
// exists, and a *TransportError for anything else.
type Surface interface {
	AddReaction(ctx context.Context, msg MessageRef, emoji string) error
	RemoveReaction(ctx context.Context, msg MessageRef, emoji, userID string) error
	ClearReactions(ctx context.Context, msg MessageRef) error
	DeleteMessage(ctx context.Context, msg MessageRef) error
}

// ReactionPredicate decides whether a reaction event is of interest.
// Predicates must be pure: no side effects, no retained state.
type ReactionPredicate func(ReactionEvent) bool

// ReactionStream is one session's live subscription to reaction events.
// Events published while the stream is open are buffered in arrival order,
// so nothing published between two Next calls is lost.
type ReactionStream interface {
	// Next blocks until a buffered or newly arriving event satisfies pred,
	// the timeout elapses (ErrWaitTimeout), or ctx is cancelled. Events are
	// evaluated in arrival order; non-matching events are discarded. An
	// event that has already been delivered when the deadline fires wins
	// over the deadline.
	Next(ctx context.Context, timeout time.Duration, pred ReactionPredicate) (ReactionEvent, error)

	// Close releases the subscription. Safe to call more than once.
	Close()
}

// EventSource delivers reaction events to waiting sessions.
type EventSource interface {
	// Reactions opens a stream receiving every reaction event published
	// from this point on. The caller must Close it when the session
	// resolves.
	Reactions() ReactionStream
}
