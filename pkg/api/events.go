// Event bridge — wires the message bus into the WebSocket hub for live
// diagnostics. Inbound/outbound traffic, reaction events, and system events
// fan out to all connected WebSocket clients via bus tap subscriptions.
package api

import (
	"context"

	"github.com/laundmo/gh-linker-bot/pkg/bus"
	"github.com/laundmo/gh-linker-bot/pkg/logger"
)

// EventBridge connects the message bus to the WebSocket hub for live updates.
type EventBridge struct {
	bus *bus.MessageBus
	hub *WSHub
}

// NewEventBridge creates a bridge that forwards bus events to WebSocket clients.
func NewEventBridge(mb *bus.MessageBus, hub *WSHub) *EventBridge {
	return &EventBridge{bus: mb, hub: hub}
}

// Run starts forwarding loops using fan-out taps on the message bus.
// Call this in a goroutine — it blocks until ctx is cancelled.
func (eb *EventBridge) Run(ctx context.Context) {
	logger.InfoC("events", "Event bridge started — forwarding bus events to WebSocket")

	// Taps receive copies of all published messages without stealing from
	// the primary consumer (linker loop / channel dispatch).
	inboundTap := eb.bus.SubscribeInboundTap("event-bridge")
	outboundTap := eb.bus.SubscribeOutboundTap("event-bridge")
	systemTap := eb.bus.SubscribeSystem("event-bridge")
	reactionTap := eb.bus.SubscribeReactions("event-bridge")

	go eb.forwardInbound(ctx, inboundTap)
	go eb.forwardOutbound(ctx, outboundTap)
	go eb.forwardSystem(ctx, systemTap)
	go eb.forwardReactions(ctx, reactionTap)
}

func (eb *EventBridge) forwardInbound(ctx context.Context, tap <-chan interface{}) {
	for {
		select {
		case <-ctx.Done():
			logger.InfoC("events", "Inbound event bridge stopped")
			return
		case raw, ok := <-tap:
			if !ok {
				return
			}
			if msg, ok := raw.(bus.InboundMessage); ok {
				eb.hub.Broadcast("message.inbound", map[string]interface{}{
					"channel":    msg.Channel,
					"guild_id":   msg.GuildID,
					"channel_id": msg.ChannelID,
					"sender_id":  msg.SenderID,
					"content":    truncate(msg.Content, 200),
				})
			}
		}
	}
}

func (eb *EventBridge) forwardOutbound(ctx context.Context, tap <-chan interface{}) {
	for {
		select {
		case <-ctx.Done():
			logger.InfoC("events", "Outbound event bridge stopped")
			return
		case raw, ok := <-tap:
			if !ok {
				return
			}
			if msg, ok := raw.(bus.OutboundMessage); ok {
				eb.hub.Broadcast("message.outbound", map[string]interface{}{
					"channel":    msg.Channel,
					"channel_id": msg.ChannelID,
					"content":    truncate(msg.Content, 200),
				})
			}
		}
	}
}

func (eb *EventBridge) forwardSystem(ctx context.Context, tap <-chan interface{}) {
	for {
		select {
		case <-ctx.Done():
			logger.InfoC("events", "System event bridge stopped")
			return
		case raw, ok := <-tap:
			if !ok {
				return
			}
			if evt, ok := raw.(bus.SystemEvent); ok {
				eb.hub.Broadcast(evt.Type, evt.Data)
			}
		}
	}
}

func (eb *EventBridge) forwardReactions(ctx context.Context, tap *bus.ReactionTap) {
	defer tap.Close()
	for {
		select {
		case <-ctx.Done():
			logger.InfoC("events", "Reaction event bridge stopped")
			return
		case ev, ok := <-tap.Events():
			if !ok {
				return
			}
			eb.hub.Broadcast("reaction.added", map[string]interface{}{
				"channel":    ev.Channel,
				"guild_id":   ev.GuildID,
				"channel_id": ev.ChannelID,
				"message_id": ev.MessageID,
				"user_id":    ev.UserID,
				"emoji":      ev.Emoji,
			})
		}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "…"
}
