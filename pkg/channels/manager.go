package channels

import (
	"context"
	"fmt"
	"sync"

	"github.com/laundmo/gh-linker-bot/pkg/bus"
	"github.com/laundmo/gh-linker-bot/pkg/logger"
	"github.com/laundmo/gh-linker-bot/pkg/platform"
)

// Manager owns all registered transports: it connects them, routes
// outbound messages from the bus to the right transport, and answers
// surface lookups for the confirmation protocol.
type Manager struct {
	channels map[string]Channel
	bus      *bus.MessageBus

	mu     sync.RWMutex
	cancel context.CancelFunc
}

// NewManager creates a manager publishing through mb.
func NewManager(mb *bus.MessageBus) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		bus:      mb,
	}
}

// Register adds a channel. Must be called before Start.
func (m *Manager) Register(ch Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := ch.Name()
	if _, exists := m.channels[name]; exists {
		return fmt.Errorf("channel %q already registered", name)
	}
	m.channels[name] = ch
	return nil
}

// Start connects all registered channels and begins routing outbound
// messages. A channel that fails to connect is logged and skipped; Start
// fails only if channels were registered and none connected.
func (m *Manager) Start(ctx context.Context) error {
	ctx, m.cancel = context.WithCancel(ctx)

	m.mu.RLock()
	snapshot := make(map[string]Channel, len(m.channels))
	for k, v := range m.channels {
		snapshot[k] = v
	}
	m.mu.RUnlock()

	if len(snapshot) == 0 {
		logger.WarnC("channels", "No channels registered")
		return nil
	}

	var connected int
	for name, ch := range snapshot {
		if err := ch.Connect(ctx); err != nil {
			logger.ErrorCF("channels", "Channel failed to connect", map[string]interface{}{
				"channel": name, "error": err,
			})
			continue
		}
		connected++
		m.bus.PublishSystem(bus.SystemEvent{Type: "channel.connected", Source: name})
		logger.InfoCF("channels", "Channel connected", map[string]interface{}{"channel": name})
	}

	if connected == 0 {
		return fmt.Errorf("no channel connected successfully")
	}

	go m.routeOutbound(ctx)
	return nil
}

// Stop disconnects all channels.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		if err := ch.Disconnect(); err != nil {
			logger.WarnCF("channels", "Disconnect failed", map[string]interface{}{
				"channel": name, "error": err,
			})
		}
		m.bus.PublishSystem(bus.SystemEvent{Type: "channel.disconnected", Source: name})
	}
}

// Get returns the named channel.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Surface returns the reaction command surface for the named channel, or
// ErrInvalidContext if the transport cannot honor reaction commands.
func (m *Manager) Surface(name string) (platform.Surface, error) {
	ch, ok := m.Get(name)
	if !ok {
		return nil, fmt.Errorf("channel %q: %w", name, platform.ErrInvalidContext)
	}
	rc, ok := ch.(ReactionChannel)
	if !ok {
		return nil, fmt.Errorf("channel %q: %w", name, platform.ErrInvalidContext)
	}
	return rc, nil
}

// GetStatus reports per-channel health for diagnostics.
func (m *Manager) GetStatus() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := make(map[string]interface{}, len(m.channels))
	for name, ch := range m.channels {
		status[name] = ch.Health()
	}
	return status
}

// routeOutbound delivers bus outbound messages to their transport.
func (m *Manager) routeOutbound(ctx context.Context) {
	for {
		msg, ok := m.bus.ConsumeOutbound(ctx)
		if !ok {
			return
		}
		ch, found := m.Get(msg.Channel)
		if !found {
			logger.WarnCF("channels", "Outbound message for unknown channel", map[string]interface{}{
				"channel": msg.Channel,
			})
			continue
		}
		if _, err := ch.Send(ctx, msg); err != nil {
			logger.ErrorCF("channels", "Outbound send failed", map[string]interface{}{
				"channel": msg.Channel, "channel_id": msg.ChannelID, "error": err,
			})
		}
	}
}
