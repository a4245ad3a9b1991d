// Package console implements a local REPL transport for development.
// Lines typed at the prompt become inbound messages; replies print to
// stdout. The console has no guild and no reactions, so confirmation
// sessions are never armed here — it exists to exercise the linker
// without a platform connection.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/laundmo/gh-linker-bot/pkg/bus"
	"github.com/laundmo/gh-linker-bot/pkg/channels"
	"github.com/laundmo/gh-linker-bot/pkg/logger"
	"github.com/laundmo/gh-linker-bot/pkg/platform"
)

const botUserID = "console-bot"

// Console implements channels.Channel. It is not a ReactionChannel.
type Console struct {
	bus *bus.MessageBus
	rl  *readline.Instance

	connected atomic.Bool
	lastEvent atomic.Value // time.Time
	cancel    context.CancelFunc
}

// New creates a console transport publishing to mb.
func New(mb *bus.MessageBus) *Console {
	return &Console{bus: mb}
}

// Name returns "console".
func (c *Console) Name() string { return "console" }

// BotUserID returns the console pseudo-identity.
func (c *Console) BotUserID() string { return botUserID }

// Connect starts the readline loop.
func (c *Console) Connect(ctx context.Context) error {
	rl, err := readline.New("ghlinker> ")
	if err != nil {
		return fmt.Errorf("console: init readline: %w", err)
	}
	c.rl = rl

	ctx, c.cancel = context.WithCancel(ctx)
	go func() {
		<-ctx.Done()
		rl.Close()
	}()
	go c.readLoop(ctx)

	c.connected.Store(true)
	logger.InfoC("console", "Console channel ready")
	return nil
}

// Disconnect stops the readline loop.
func (c *Console) Disconnect() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.connected.Store(false)
	return nil
}

// IsConnected reports whether the REPL is running.
func (c *Console) IsConnected() bool { return c.connected.Load() }

// Health returns the transport health status.
func (c *Console) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := c.lastEvent.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:   c.connected.Load(),
		BotUserID:   botUserID,
		LastEventAt: lastAt,
	}
}

// Send prints a reply to stdout. The returned reference carries no guild,
// so callers cannot arm a confirmation session on it.
func (c *Console) Send(ctx context.Context, msg bus.OutboundMessage) (platform.MessageRef, error) {
	fmt.Println(msg.Content)
	return platform.MessageRef{
		Channel:   c.Name(),
		ChannelID: msg.ChannelID,
		MessageID: uuid.NewString(),
	}, nil
}

func (c *Console) readLoop(ctx context.Context) {
	for {
		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logger.WarnCF("console", "Readline error", map[string]interface{}{"error": err})
			}
			c.connected.Store(false)
			return
		}
		if line == "" {
			continue
		}

		c.lastEvent.Store(time.Now())
		c.bus.PublishInbound(bus.InboundMessage{
			Channel:   c.Name(),
			ChannelID: "console",
			MessageID: uuid.NewString(),
			SenderID:  "console-user",
			Content:   line,
		})
	}
}

// Compile-time interface verification.
var _ channels.Channel = (*Console)(nil)
