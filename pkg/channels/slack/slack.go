// Package slack implements the Slack transport using slack-go with Socket
// Mode for events, so no public URL is required.
//
// Slack's reaction model is narrower than Discord's: a bot can only remove
// its own reactions. RemoveReaction for another user therefore fails with
// a forbidden error, which the task supervisor surfaces in logs instead of
// silently pretending the reaction was removed. ClearReactions strips the
// affordance reactions the bot itself added, which is all the protocol
// needs at expiry.
package slack

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/laundmo/gh-linker-bot/pkg/bus"
	"github.com/laundmo/gh-linker-bot/pkg/channels"
	"github.com/laundmo/gh-linker-bot/pkg/logger"
	"github.com/laundmo/gh-linker-bot/pkg/platform"
)

// Config holds Slack transport configuration.
type Config struct {
	// BotToken is the Bot User OAuth token (xoxb-...).
	BotToken string `json:"bot_token" yaml:"bot_token" env:"BOT_TOKEN"`

	// AppToken is the app-level token for Socket Mode (xapp-...).
	AppToken string `json:"app_token" yaml:"app_token" env:"APP_TOKEN"`

	// AllowedChannels restricts which channel IDs the bot listens in.
	AllowedChannels []string `json:"allowed_channels,omitempty" yaml:"allowed_channels" env:"ALLOWED_CHANNELS"`
}

// Slack implements channels.ReactionChannel.
type Slack struct {
	cfg    Config
	bus    *bus.MessageBus
	client *slack.Client
	socket *socketmode.Client

	teamID    string
	botUserID string

	connected  atomic.Bool
	lastEvent  atomic.Value // time.Time
	errorCount atomic.Int64
	cancel     context.CancelFunc
}

// New creates a Slack transport publishing to mb.
func New(cfg Config, mb *bus.MessageBus) *Slack {
	return &Slack{cfg: cfg, bus: mb}
}

// Name returns "slack".
func (s *Slack) Name() string { return "slack" }

// BotUserID returns the bot's own user ID, valid after Connect.
func (s *Slack) BotUserID() string { return s.botUserID }

// Connect verifies the tokens and starts the Socket Mode event loop.
func (s *Slack) Connect(ctx context.Context) error {
	if s.cfg.BotToken == "" {
		return fmt.Errorf("slack: bot_token is required")
	}
	if s.cfg.AppToken == "" {
		return fmt.Errorf("slack: app_token is required for Socket Mode")
	}

	s.client = slack.New(s.cfg.BotToken, slack.OptionAppLevelToken(s.cfg.AppToken))

	identity, err := s.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack: auth.test failed: %w", err)
	}
	s.botUserID = identity.UserID
	s.teamID = identity.TeamID

	s.socket = socketmode.New(s.client)

	ctx, s.cancel = context.WithCancel(ctx)
	go s.eventLoop(ctx)
	go func() {
		if err := s.socket.RunContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.ErrorCF("slack", "Socket Mode stopped", map[string]interface{}{"error": err})
		}
	}()

	s.connected.Store(true)
	logger.InfoCF("slack", "Connected", map[string]interface{}{
		"bot": identity.User, "team": identity.Team, "user_id": identity.UserID,
	})
	return nil
}

// Disconnect stops the Socket Mode loop.
func (s *Slack) Disconnect() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.connected.Store(false)
	logger.InfoC("slack", "Disconnected")
	return nil
}

// IsConnected reports whether the event loop is running.
func (s *Slack) IsConnected() bool { return s.connected.Load() }

// Health returns the transport health status.
func (s *Slack) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := s.lastEvent.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:   s.connected.Load(),
		BotUserID:   s.botUserID,
		LastEventAt: lastAt,
		ErrorCount:  int(s.errorCount.Load()),
	}
}

// Send posts a message to a channel, threading when ReplyTo is set.
func (s *Slack) Send(ctx context.Context, msg bus.OutboundMessage) (platform.MessageRef, error) {
	if s.client == nil {
		return platform.MessageRef{}, channels.ErrDisconnected
	}
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Content, false)}
	if msg.ReplyTo != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ReplyTo))
	}
	channelID, timestamp, err := s.client.PostMessageContext(ctx, msg.ChannelID, opts...)
	if err != nil {
		s.errorCount.Add(1)
		return platform.MessageRef{}, mapError("send_message", err)
	}
	return platform.MessageRef{
		Channel:   s.Name(),
		GuildID:   s.teamID,
		ChannelID: channelID,
		MessageID: timestamp, // Slack messages are addressed by timestamp
	}, nil
}

// --- platform.Surface ---

// AddReaction adds an emoji reaction. Already-reacted is treated as done.
func (s *Slack) AddReaction(ctx context.Context, msg platform.MessageRef, emoji string) error {
	if s.client == nil {
		return channels.ErrDisconnected
	}
	err := s.client.AddReactionContext(ctx, EmojiName(emoji), itemRef(msg))
	if err != nil && err.Error() == "already_reacted" {
		return nil
	}
	return mapError("add_reaction", err)
}

// RemoveReaction removes the bot's own reaction. Slack offers no way to
// remove another user's reaction, so that case fails with forbidden and
// ends up in the supervisor's logs.
func (s *Slack) RemoveReaction(ctx context.Context, msg platform.MessageRef, emoji, userID string) error {
	if s.client == nil {
		return channels.ErrDisconnected
	}
	if userID != s.botUserID {
		return fmt.Errorf("slack remove_reaction for user %s: %w", userID, platform.ErrForbidden)
	}
	return mapError("remove_reaction", s.client.RemoveReactionContext(ctx, EmojiName(emoji), itemRef(msg)))
}

// ClearReactions removes every reaction the bot itself added — the armed
// affordance set this protocol is responsible for.
func (s *Slack) ClearReactions(ctx context.Context, msg platform.MessageRef) error {
	if s.client == nil {
		return channels.ErrDisconnected
	}
	reactions, err := s.client.GetReactionsContext(ctx, itemRef(msg), slack.GetReactionsParameters{})
	if err != nil {
		return mapError("clear_reactions", err)
	}
	for _, r := range reactions {
		if !containsString(r.Users, s.botUserID) {
			continue
		}
		if err := s.client.RemoveReactionContext(ctx, r.Name, itemRef(msg)); err != nil {
			if isNotFound(err) {
				continue
			}
			return mapError("clear_reactions", err)
		}
	}
	return nil
}

// DeleteMessage deletes the message (the bot's own confirmation target).
func (s *Slack) DeleteMessage(ctx context.Context, msg platform.MessageRef) error {
	if s.client == nil {
		return channels.ErrDisconnected
	}
	_, _, err := s.client.DeleteMessageContext(ctx, msg.ChannelID, msg.MessageID)
	return mapError("delete_message", err)
}

// --- Socket Mode event loop ---

func (s *Slack) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-s.socket.Events:
			if !ok {
				return
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok {
				continue
			}
			if evt.Request != nil {
				s.socket.Ack(*evt.Request)
			}
			s.handleEvent(apiEvent)
		}
	}
}

func (s *Slack) handleEvent(apiEvent slackevents.EventsAPIEvent) {
	switch ev := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		s.onMessage(ev)
	case *slackevents.ReactionAddedEvent:
		s.onReactionAdded(ev)
	}
}

func (s *Slack) onMessage(ev *slackevents.MessageEvent) {
	// Plain user messages only; edits, joins, and bot posts have subtypes.
	if ev.SubType != "" || ev.BotID != "" || ev.User == s.botUserID {
		return
	}
	if !allowedChannel(s.cfg.AllowedChannels, ev.Channel) {
		return
	}

	s.lastEvent.Store(time.Now())
	s.bus.PublishInbound(bus.InboundMessage{
		Channel:   s.Name(),
		GuildID:   s.teamID,
		ChannelID: ev.Channel,
		MessageID: ev.TimeStamp,
		SenderID:  ev.User,
		Content:   ev.Text,
	})
}

func (s *Slack) onReactionAdded(ev *slackevents.ReactionAddedEvent) {
	if ev.Item.Type != "message" {
		return
	}

	s.lastEvent.Store(time.Now())
	s.bus.PublishReaction(platform.ReactionEvent{
		Channel:   s.Name(),
		GuildID:   s.teamID,
		ChannelID: ev.Item.Channel,
		MessageID: ev.Item.Timestamp,
		UserID:    ev.User,
		Emoji:     DisplayEmoji(ev.Reaction),
	})
}

// --- Helpers ---

// Slack's reaction endpoints take short names, not unicode, and its
// reaction events deliver short names back. These tables cover the emoji
// the bot arms messages with; everything else passes through untouched.
// Display forms carry the VS16 selector where the platform default does
// (the wastebasket is "\U0001F5D1️"), so names round-trip to the
// exact string the wait sessions compare against.
var emojiToName = map[string]string{
	"\U0001F5D1️": "wastebasket",
	"\U0001F5D1":       "wastebasket",
	"✅":           "white_check_mark",
	"❌":           "x",
	"\U0001F44D":       "+1",
	"\U0001F44E":       "-1",
}

var nameToEmoji = map[string]string{
	"wastebasket":      "\U0001F5D1️",
	"white_check_mark": "✅",
	"x":                "❌",
	"+1":               "\U0001F44D",
	"-1":               "\U0001F44E",
}

// EmojiName normalizes an emoji identifier to the short name Slack's
// reaction endpoints take: "🗑️" and ":wastebasket:" both become
// "wastebasket". Unknown identifiers are passed through with colons
// stripped.
func EmojiName(emoji string) string {
	if name, ok := emojiToName[emoji]; ok {
		return name
	}
	return strings.Trim(emoji, ":")
}

// DisplayEmoji maps an inbound Slack reaction name back to the unicode
// display form the rest of the bot uses, so events match the emoji the
// message was armed with. Unknown names are passed through unchanged.
func DisplayEmoji(name string) string {
	if emoji, ok := nameToEmoji[name]; ok {
		return emoji
	}
	return name
}

func itemRef(msg platform.MessageRef) slack.ItemRef {
	return slack.NewRefToMessage(msg.ChannelID, msg.MessageID)
}

func allowedChannel(list []string, id string) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// isNotFound matches the error strings Slack's API uses when the message
// or reaction is already gone.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	switch err.Error() {
	case "message_not_found", "channel_not_found", "no_reaction", "file_not_found":
		return true
	}
	return false
}

// mapError translates Slack API failures into the platform taxonomy.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return fmt.Errorf("slack %s: %w", op, platform.ErrNotFound)
	}
	return platform.NewTransportError(op, err)
}

// Compile-time interface verification.
var (
	_ channels.Channel         = (*Slack)(nil)
	_ channels.ReactionChannel = (*Slack)(nil)
)
