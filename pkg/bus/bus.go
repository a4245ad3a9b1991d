// Package bus is the in-process message stream connecting transports to the
// linker and its wait sessions. Transports publish inbound messages and
// reaction events; the linker consumes messages; wait sessions subscribe
// per-session reaction taps; diagnostics taps receive copies of everything.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/laundmo/gh-linker-bot/pkg/platform"
)

// Subscriber is a named tap on a message stream. Multiple subscribers can
// independently consume the same published messages (fan-out).
type Subscriber struct {
	Name string
	ch   chan interface{} // receives copies of published messages
}

// ReactionTap is a per-session subscription to reaction events. Each tap
// receives every published reaction in arrival order until closed.
type ReactionTap struct {
	Name string
	ch   chan platform.ReactionEvent
	bus  *MessageBus
	once sync.Once
}

// Events returns the tap's delivery channel.
func (t *ReactionTap) Events() <-chan platform.ReactionEvent { return t.ch }

// Close detaches the tap from the bus. Safe to call more than once.
func (t *ReactionTap) Close() {
	t.once.Do(func() { t.bus.removeReactionTap(t) })
}

// MessageBus fans messages out between transports, the linker, and
// diagnostics consumers.
type MessageBus struct {
	inbound   chan InboundMessage
	outbound  chan OutboundMessage
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	// Per-session reaction taps — every reaction event goes to all of them.
	reactionTaps []*ReactionTap

	// Fan-out subscribers — every published message is sent to all taps.
	inboundSubs  []*Subscriber
	outboundSubs []*Subscriber
	systemSubs   []*Subscriber
}

// NewMessageBus creates an empty bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, 100),
		outbound: make(chan OutboundMessage, 100),
	}
}

// --- Inbound / outbound messages ---

// PublishInbound delivers a chat message to the primary consumer and all
// inbound taps. When the primary buffer is full the oldest message is
// dropped so transports never block on a slow consumer.
func (mb *MessageBus) PublishInbound(msg InboundMessage) {
	mb.mu.RLock()
	if mb.closed {
		mb.mu.RUnlock()
		return
	}
	for _, sub := range mb.inboundSubs {
		select {
		case sub.ch <- msg:
		default: // non-blocking — drop if subscriber is slow
		}
	}
	mb.mu.RUnlock()

	select {
	case mb.inbound <- msg:
	default:
		select {
		case <-mb.inbound:
		default:
		}
		select {
		case mb.inbound <- msg:
		default:
		}
	}
}

// ConsumeInbound blocks for the next inbound message or ctx cancellation.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-mb.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound queues a reply for transport delivery.
func (mb *MessageBus) PublishOutbound(msg OutboundMessage) {
	mb.mu.RLock()
	if mb.closed {
		mb.mu.RUnlock()
		return
	}
	for _, sub := range mb.outboundSubs {
		select {
		case sub.ch <- msg:
		default:
		}
	}
	mb.mu.RUnlock()

	select {
	case mb.outbound <- msg:
	default:
		select {
		case <-mb.outbound:
		default:
		}
		select {
		case mb.outbound <- msg:
		default:
		}
	}
}

// ConsumeOutbound blocks for the next outbound message or ctx cancellation.
func (mb *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-mb.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// --- Reaction events ---

// PublishReaction fans a reaction event out to every active tap, in the
// order events arrive from the gateway.
func (mb *MessageBus) PublishReaction(ev platform.ReactionEvent) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	for _, tap := range mb.reactionTaps {
		select {
		case tap.ch <- ev:
		default:
			// A session drowning in reactions only loses the excess;
			// the buffer far exceeds what one message ever sees.
		}
	}
}

// SubscribeReactions creates a named per-session reaction tap.
// The caller must Close it when the session resolves.
func (mb *MessageBus) SubscribeReactions(name string) *ReactionTap {
	tap := &ReactionTap{
		Name: name,
		ch:   make(chan platform.ReactionEvent, 64),
		bus:  mb,
	}
	mb.mu.Lock()
	mb.reactionTaps = append(mb.reactionTaps, tap)
	mb.mu.Unlock()
	return tap
}

func (mb *MessageBus) removeReactionTap(tap *ReactionTap) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for i, t := range mb.reactionTaps {
		if t == tap {
			mb.reactionTaps = append(mb.reactionTaps[:i], mb.reactionTaps[i+1:]...)
			break
		}
	}
}

// Reactions opens a session-scoped reaction stream. The underlying tap
// stays subscribed across Next calls, so events published between two
// calls are buffered rather than lost.
//
// Implements platform.EventSource.
func (mb *MessageBus) Reactions() platform.ReactionStream {
	return &reactionStream{tap: mb.SubscribeReactions("wait-session")}
}

// WaitForReaction is the one-shot form of a reaction wait: it opens a
// stream, waits once, and closes it. Callers holding a session open across
// multiple waits must use Reactions instead.
func (mb *MessageBus) WaitForReaction(ctx context.Context, timeout time.Duration, pred platform.ReactionPredicate) (platform.ReactionEvent, error) {
	stream := mb.Reactions()
	defer stream.Close()
	return stream.Next(ctx, timeout, pred)
}

// reactionStream adapts a ReactionTap to platform.ReactionStream.
type reactionStream struct {
	tap *ReactionTap
}

// Next blocks until a reaction satisfying pred arrives, the timeout
// elapses, or ctx is cancelled. Events already delivered when the deadline
// fires are drained first, so an event and the deadline arriving in the
// same instant resolves in the event's favor.
func (s *reactionStream) Next(ctx context.Context, timeout time.Duration, pred platform.ReactionPredicate) (platform.ReactionEvent, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev := <-s.tap.ch:
			if pred(ev) {
				return ev, nil
			}
		case <-timer.C:
			for {
				select {
				case ev := <-s.tap.ch:
					if pred(ev) {
						return ev, nil
					}
				default:
					return platform.ReactionEvent{}, platform.ErrWaitTimeout
				}
			}
		case <-ctx.Done():
			return platform.ReactionEvent{}, ctx.Err()
		}
	}
}

// Close detaches the stream's tap from the bus.
func (s *reactionStream) Close() { s.tap.Close() }

// --- System events ---

// PublishSystem publishes a system event to all system subscribers.
func (mb *MessageBus) PublishSystem(event SystemEvent) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	for _, sub := range mb.systemSubs {
		select {
		case sub.ch <- event:
		default: // drop if slow
		}
	}
}

// --- Fan-out subscriptions ---

// SubscribeInboundTap creates a named subscriber that receives copies of all
// inbound messages. The returned channel is buffered; slow consumers drop.
func (mb *MessageBus) SubscribeInboundTap(name string) <-chan interface{} {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	sub := &Subscriber{Name: name, ch: make(chan interface{}, 64)}
	mb.inboundSubs = append(mb.inboundSubs, sub)
	return sub.ch
}

// SubscribeOutboundTap creates a named subscriber for outbound messages.
func (mb *MessageBus) SubscribeOutboundTap(name string) <-chan interface{} {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	sub := &Subscriber{Name: name, ch: make(chan interface{}, 64)}
	mb.outboundSubs = append(mb.outboundSubs, sub)
	return sub.ch
}

// SubscribeSystem creates a named subscriber for system events.
func (mb *MessageBus) SubscribeSystem(name string) <-chan interface{} {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	sub := &Subscriber{Name: name, ch: make(chan interface{}, 64)}
	mb.systemSubs = append(mb.systemSubs, sub)
	return sub.ch
}

// Close shuts the bus down. Further publishes are no-ops.
func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		mb.mu.Lock()
		mb.closed = true
		for _, sub := range mb.inboundSubs {
			close(sub.ch)
		}
		for _, sub := range mb.outboundSubs {
			close(sub.ch)
		}
		for _, sub := range mb.systemSubs {
			close(sub.ch)
		}
		mb.mu.Unlock()
		close(mb.inbound)
		close(mb.outbound)
	})
}

// Compile-time interface verification.
var (
	_ platform.EventSource    = (*MessageBus)(nil)
	_ platform.ReactionStream = (*reactionStream)(nil)
)
