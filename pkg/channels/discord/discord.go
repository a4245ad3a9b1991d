// Package discord implements the Discord transport using discordgo.
//
// The gateway connection publishes guild messages and reaction-add events
// to the message bus, auto-joins newly created threads so commands keep
// working inside them, and exposes the reaction/deletion command surface
// the confirmation protocol drives.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/laundmo/gh-linker-bot/pkg/bus"
	"github.com/laundmo/gh-linker-bot/pkg/channels"
	"github.com/laundmo/gh-linker-bot/pkg/logger"
	"github.com/laundmo/gh-linker-bot/pkg/platform"
	"github.com/laundmo/gh-linker-bot/pkg/tasks"
)

// Config holds Discord transport configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `json:"token" yaml:"token" env:"BOT_TOKEN"`

	// AllowedGuilds restricts which guild IDs the bot listens in.
	// Empty means all guilds.
	AllowedGuilds []string `json:"allowed_guilds,omitempty" yaml:"allowed_guilds" env:"ALLOWED_GUILDS"`

	// AllowedChannels restricts which channel IDs the bot listens in.
	// Empty means all channels.
	AllowedChannels []string `json:"allowed_channels,omitempty" yaml:"allowed_channels" env:"ALLOWED_CHANNELS"`

	// JoinThreads enables auto-joining newly created threads.
	JoinThreads bool `json:"join_threads" yaml:"join_threads" env:"JOIN_THREADS"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{JoinThreads: true}
}

// Discord implements channels.ReactionChannel.
type Discord struct {
	cfg     Config
	bus     *bus.MessageBus
	session *discordgo.Session

	botUserID  string
	connected  atomic.Bool
	lastEvent  atomic.Value // time.Time
	errorCount atomic.Int64
}

// New creates a Discord transport publishing to mb.
func New(cfg Config, mb *bus.MessageBus) *Discord {
	return &Discord{cfg: cfg, bus: mb}
}

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// BotUserID returns the bot's own user ID, valid after Connect.
func (d *Discord) BotUserID() string { return d.botUserID }

// Connect opens the gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onMessageCreate)
	session.AddHandler(d.onReactionAdd)
	session.AddHandler(d.onThreadCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.session = session
	d.botUserID = session.State.User.ID
	d.connected.Store(true)

	logger.InfoCF("discord", "Connected", map[string]interface{}{
		"bot": session.State.User.Username, "id": d.botUserID,
	})
	return nil
}

// Disconnect closes the gateway connection.
func (d *Discord) Disconnect() error {
	if d.session != nil {
		d.session.Close()
	}
	d.connected.Store(false)
	logger.InfoC("discord", "Disconnected")
	return nil
}

// IsConnected reports whether the gateway is open.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the transport health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastEvent.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:   d.connected.Load(),
		BotUserID:   d.botUserID,
		LastEventAt: lastAt,
		ErrorCount:  int(d.errorCount.Load()),
	}
}

// Send posts a message, splitting content over Discord's 2000-char limit.
// The returned reference points at the first chunk, which is the one the
// deletion affordance is armed on.
func (d *Discord) Send(ctx context.Context, msg bus.OutboundMessage) (platform.MessageRef, error) {
	if d.session == nil {
		return platform.MessageRef{}, channels.ErrDisconnected
	}

	var first *discordgo.Message
	for i, chunk := range splitMessage(msg.Content, 2000) {
		send := &discordgo.MessageSend{Content: chunk}
		if i == 0 && msg.ReplyTo != "" {
			send.Reference = &discordgo.MessageReference{MessageID: msg.ReplyTo}
		}
		sent, err := d.session.ChannelMessageSendComplex(msg.ChannelID, send, discordgo.WithContext(ctx))
		if err != nil {
			d.errorCount.Add(1)
			return platform.MessageRef{}, mapError("send_message", err)
		}
		if first == nil {
			first = sent
		}
	}
	if first == nil {
		return platform.MessageRef{}, fmt.Errorf("discord: empty message")
	}
	return platform.MessageRef{
		Channel:   d.Name(),
		GuildID:   first.GuildID,
		ChannelID: first.ChannelID,
		MessageID: first.ID,
	}, nil
}

// --- platform.Surface ---

// AddReaction adds emoji (display form) to the message.
func (d *Discord) AddReaction(ctx context.Context, msg platform.MessageRef, emoji string) error {
	if d.session == nil {
		return channels.ErrDisconnected
	}
	err := d.session.MessageReactionAdd(msg.ChannelID, msg.MessageID, APIEmoji(emoji), discordgo.WithContext(ctx))
	return mapError("add_reaction", err)
}

// RemoveReaction removes one user's emoji reaction from the message.
func (d *Discord) RemoveReaction(ctx context.Context, msg platform.MessageRef, emoji, userID string) error {
	if d.session == nil {
		return channels.ErrDisconnected
	}
	err := d.session.MessageReactionRemove(msg.ChannelID, msg.MessageID, APIEmoji(emoji), userID, discordgo.WithContext(ctx))
	return mapError("remove_reaction", err)
}

// ClearReactions removes every reaction from the message.
func (d *Discord) ClearReactions(ctx context.Context, msg platform.MessageRef) error {
	if d.session == nil {
		return channels.ErrDisconnected
	}
	err := d.session.MessageReactionsRemoveAll(msg.ChannelID, msg.MessageID, discordgo.WithContext(ctx))
	return mapError("clear_reactions", err)
}

// DeleteMessage deletes the message.
func (d *Discord) DeleteMessage(ctx context.Context, msg platform.MessageRef) error {
	if d.session == nil {
		return channels.ErrDisconnected
	}
	err := d.session.ChannelMessageDelete(msg.ChannelID, msg.MessageID, discordgo.WithContext(ctx))
	return mapError("delete_message", err)
}

// --- Gateway event handlers ---

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}
	if !allowed(d.cfg.AllowedGuilds, m.GuildID) || !allowed(d.cfg.AllowedChannels, m.ChannelID) {
		return
	}

	d.lastEvent.Store(time.Now())
	d.bus.PublishInbound(bus.InboundMessage{
		Channel:    d.Name(),
		GuildID:    m.GuildID,
		ChannelID:  m.ChannelID,
		MessageID:  m.ID,
		SenderID:   m.Author.ID,
		SenderName: m.Author.Username,
		Content:    m.Content,
	})
}

func (d *Discord) onReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if !allowed(d.cfg.AllowedGuilds, r.GuildID) {
		return
	}

	d.lastEvent.Store(time.Now())
	d.bus.PublishReaction(platform.ReactionEvent{
		Channel:   d.Name(),
		GuildID:   r.GuildID,
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		UserID:    r.UserID,
		Emoji:     r.Emoji.MessageFormat(),
	})
}

// onThreadCreate joins newly created threads so the bot can answer inside
// them. Despite the event name, Discord dispatches this when a thread is
// created, not when the bot joins one.
func (d *Discord) onThreadCreate(s *discordgo.Session, t *discordgo.ThreadCreate) {
	if !d.cfg.JoinThreads || !allowed(d.cfg.AllowedGuilds, t.GuildID) {
		return
	}
	if t.Member != nil {
		// Already in this thread.
		return
	}

	threadID := t.ID
	tasks.Spawn("join_thread-"+threadID, func(ctx context.Context) error {
		err := mapError("join_thread", s.ThreadJoin(threadID, discordgo.WithContext(ctx)))
		if errors.Is(err, platform.ErrForbidden) {
			// Private threads the bot cannot join are expected.
			return nil
		}
		return err
	}, platform.KindNotFound)
}

// --- Helpers ---

// APIEmoji converts an emoji from message display form to the identifier
// Discord's reaction endpoints take: "<:name:id>" and "<a:name:id>" become
// "name:id"; unicode emoji pass through unchanged.
func APIEmoji(display string) string {
	if !strings.HasPrefix(display, "<") || !strings.HasSuffix(display, ">") {
		return display
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(display, "<"), ">")
	inner = strings.TrimPrefix(inner, "a")
	return strings.TrimPrefix(inner, ":")
}

// allowed reports whether id passes the allow-list. An empty list allows all.
func allowed(list []string, id string) bool {
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

// mapError translates discordgo REST failures into the platform taxonomy.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("discord %s: %w", op, platform.ErrNotFound)
		case http.StatusForbidden:
			return fmt.Errorf("discord %s: %w", op, platform.ErrForbidden)
		}
	}
	return platform.NewTransportError(op, err)
}

// splitMessage splits content into chunks within Discord's message limit,
// preferring newline boundaries. The limit counts characters the way
// Discord does, so cuts land on rune boundaries and never shear a
// multi-byte sequence.
func splitMessage(text string, maxLen int) []string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			chunks = append(chunks, string(runes))
			break
		}
		cutAt := maxLen
		if idx := lastIndexRune(runes[:maxLen], '\n'); idx > maxLen/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, string(runes[:cutAt]))
		runes = runes[cutAt:]
	}
	return chunks
}

func lastIndexRune(runes []rune, r rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}

// Compile-time interface verification.
var (
	_ channels.Channel         = (*Discord)(nil)
	_ channels.ReactionChannel = (*Discord)(nil)
	_ platform.Surface         = (*Discord)(nil)
)
