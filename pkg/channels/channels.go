// Package channels defines the transport layer: every chat platform the
// bot runs on implements the Channel interface, publishing its traffic to
// the message bus and exposing the platform command surface the
// confirmation protocol drives.
package channels

import (
	"context"
	"errors"
	"time"

	"github.com/laundmo/gh-linker-bot/pkg/bus"
	"github.com/laundmo/gh-linker-bot/pkg/platform"
)

// ErrDisconnected is returned when an operation is attempted on a channel
// that has no active connection.
var ErrDisconnected = errors.New("channels: not connected")

// HealthStatus describes a channel's connection health.
type HealthStatus struct {
	Connected   bool      `json:"connected"`
	BotUserID   string    `json:"bot_user_id,omitempty"`
	LastEventAt time.Time `json:"last_event_at,omitempty"`
	ErrorCount  int       `json:"error_count"`
}

// Channel is one chat transport. Connect starts publishing inbound
// messages and reaction events to the bus; Disconnect stops it.
type Channel interface {
	// Name returns the channel identifier ("discord", "slack", "console").
	Name() string

	// Connect establishes the platform connection.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send delivers an outbound message on this transport and returns the
	// platform reference of the sent message.
	Send(ctx context.Context, msg bus.OutboundMessage) (platform.MessageRef, error)

	// IsConnected reports whether the channel is currently connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus

	// BotUserID returns the bot's own actor identity on this platform,
	// valid after Connect.
	BotUserID() string
}

// ReactionChannel is a Channel whose platform supports the full reaction
// command surface the confirmation protocol needs. Transports that cannot
// remove another user's reaction must not implement this.
type ReactionChannel interface {
	Channel
	platform.Surface
}
