package confirm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/laundmo/gh-linker-bot/pkg/bus"
	"github.com/laundmo/gh-linker-bot/pkg/platform"
)

const (
	testGuild   = "G1"
	testChannel = "C1"
	testMessage = "M1"
	botID       = "BOT"
	check       = "✅" // ✅
)

func msgRef() platform.MessageRef {
	return platform.MessageRef{
		Channel:   "discord",
		GuildID:   testGuild,
		ChannelID: testChannel,
		MessageID: testMessage,
		AuthorID:  "U1",
	}
}

func reaction(user, emoji string) platform.ReactionEvent {
	return platform.ReactionEvent{
		Channel:   "discord",
		GuildID:   testGuild,
		ChannelID: testChannel,
		MessageID: testMessage,
		UserID:    user,
		Emoji:     emoji,
	}
}

// fakeSurface records every command issued against the platform and lets
// tests script failures per operation.
type fakeSurface struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error // op name -> scripted error
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{fail: make(map[string]error)}
}

func (f *fakeSurface) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	return f.fail[opName(op)]
}

func opName(call string) string {
	for i, r := range call {
		if r == '(' {
			return call[:i]
		}
	}
	return call
}

func (f *fakeSurface) AddReaction(ctx context.Context, msg platform.MessageRef, emoji string) error {
	return f.record(fmt.Sprintf("add_reaction(%s,%s)", msg.MessageID, emoji))
}

func (f *fakeSurface) RemoveReaction(ctx context.Context, msg platform.MessageRef, emoji, userID string) error {
	return f.record(fmt.Sprintf("remove_reaction(%s,%s,%s)", msg.MessageID, emoji, userID))
}

func (f *fakeSurface) ClearReactions(ctx context.Context, msg platform.MessageRef) error {
	return f.record(fmt.Sprintf("clear_reactions(%s)", msg.MessageID))
}

func (f *fakeSurface) DeleteMessage(ctx context.Context, msg platform.MessageRef) error {
	return f.record(fmt.Sprintf("delete_message(%s)", msg.MessageID))
}

func (f *fakeSurface) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSurface) count(op string) int {
	n := 0
	for _, c := range f.snapshot() {
		if opName(c) == op {
			n++
		}
	}
	return n
}

// fakeEvents feeds scripted reaction events to the waiting session in
// arrival order, honoring the predicate and the event-wins tie-break.
// Streams share the single buffer, mirroring how the bus fans events into
// a session's tap.
type fakeEvents struct {
	ch chan platform.ReactionEvent
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{ch: make(chan platform.ReactionEvent, 16)}
}

func (f *fakeEvents) push(ev platform.ReactionEvent) { f.ch <- ev }

func (f *fakeEvents) Reactions() platform.ReactionStream {
	return &fakeStream{ch: f.ch}
}

type fakeStream struct {
	ch chan platform.ReactionEvent
}

func (s *fakeStream) Close() {}

func (s *fakeStream) Next(ctx context.Context, timeout time.Duration, pred platform.ReactionPredicate) (platform.ReactionEvent, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ev := <-s.ch:
			if pred(ev) {
				return ev, nil
			}
		case <-timer.C:
			// Event-wins tie-break: drain anything already delivered.
			for {
				select {
				case ev := <-s.ch:
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

func opts(timeout time.Duration) Options {
	return Options{
		AllowedUserIDs: []string{"U1"},
		Emojis:         []string{check},
		Timeout:        timeout,
		AttachEmojis:   true,
		BotUserID:      botID,
	}
}

// Scenario A: allowed user reacts with a deletion emoji within the timeout.
func TestAwaitDeletionAllowedReactionDeletes(t *testing.T) {
	surface := newFakeSurface()
	events := newFakeEvents()
	events.push(reaction("U1", check))

	outcome, err := AwaitDeletion(context.Background(), surface, events, msgRef(), opts(5*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeDeleted {
		t.Fatalf("outcome = %v, want deleted", outcome)
	}
	if surface.count("delete_message") != 1 {
		t.Errorf("expected exactly one delete, calls: %v", surface.snapshot())
	}
	if surface.count("clear_reactions") != 0 {
		t.Errorf("clear issued alongside delete: %v", surface.snapshot())
	}
}

// Scenario B: nothing qualifies before the deadline.
func TestAwaitDeletionTimeoutClearsReactions(t *testing.T) {
	surface := newFakeSurface()
	events := newFakeEvents()

	outcome, err := AwaitDeletion(context.Background(), surface, events, msgRef(), opts(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeExpired {
		t.Fatalf("outcome = %v, want expired", outcome)
	}
	if surface.count("clear_reactions") != 1 {
		t.Errorf("expected exactly one clear, calls: %v", surface.snapshot())
	}
	if surface.count("delete_message") != 0 {
		t.Errorf("delete issued on expiry: %v", surface.snapshot())
	}
}

// Scenario C: a disallowed user's qualifying reaction spawns a removal task
// and leaves the session suspended until a later allowed reaction.
func TestAwaitDeletionDisallowedReactionRemoved(t *testing.T) {
	surface := newFakeSurface()
	events := newFakeEvents()
	events.push(reaction("U2", check))
	events.push(reaction("U1", check))

	outcome, err := AwaitDeletion(context.Background(), surface, events, msgRef(), opts(5*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeDeleted {
		t.Fatalf("outcome = %v, want deleted", outcome)
	}

	// The removal task runs in the background; give it a moment.
	deadline := time.Now().Add(2 * time.Second)
	for surface.count("remove_reaction") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := surface.count("remove_reaction"); got != 1 {
		t.Errorf("expected exactly one removal task, got %d: %v", got, surface.snapshot())
	}
	want := fmt.Sprintf("remove_reaction(%s,%s,U2)", testMessage, check)
	found := false
	for _, c := range surface.snapshot() {
		if c == want {
			found = true
		}
	}
	if !found {
		t.Errorf("removal call %q not issued: %v", want, surface.snapshot())
	}
}

// The session subscribes once for its whole lifetime, so a reaction
// published right after a disallowed one is handled still reaches it.
// Runs against the real bus: the session must hold its tap open across
// the disallowed event instead of re-subscribing per wait.
func TestAwaitDeletionListensAcrossDisallowedReaction(t *testing.T) {
	surface := newFakeSurface()
	mb := bus.NewMessageBus()
	defer mb.Close()

	type result struct {
		outcome Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := AwaitDeletion(context.Background(), surface, mb, msgRef(), opts(5*time.Second))
		done <- result{outcome, err}
	}()

	// The affordance reaction appears once the session is armed and
	// subscribed.
	waitUntil(t, func() bool { return surface.count("add_reaction") > 0 })

	mb.PublishReaction(reaction("U2", check))

	// The removal task marks the disallowed event as consumed. Publishing
	// the allowed reaction now lands in the window where a per-wait
	// subscription would have no listener.
	waitUntil(t, func() bool { return surface.count("remove_reaction") > 0 })
	mb.PublishReaction(reaction("U1", check))

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("unexpected error: %v", r.err)
		}
		if r.outcome != OutcomeDeleted {
			t.Fatalf("outcome = %v, want deleted", r.outcome)
		}
	case <-time.After(4 * time.Second):
		t.Fatal("session did not resolve")
	}
	if surface.count("delete_message") != 1 {
		t.Errorf("expected exactly one delete, calls: %v", surface.snapshot())
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// Scenario D: message deleted externally before the affordance could attach.
func TestAwaitDeletionAbortsWhenMessageGoneBeforeAttach(t *testing.T) {
	surface := newFakeSurface()
	surface.fail["add_reaction"] = platform.ErrNotFound
	events := newFakeEvents()

	outcome, err := AwaitDeletion(context.Background(), surface, events, msgRef(), opts(5*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeAborted {
		t.Fatalf("outcome = %v, want aborted", outcome)
	}
	for _, op := range []string{"delete_message", "clear_reactions", "remove_reaction"} {
		if surface.count(op) != 0 {
			t.Errorf("%s issued after abort: %v", op, surface.snapshot())
		}
	}
}

func TestAwaitDeletionDeleteNotFoundStillDeleted(t *testing.T) {
	surface := newFakeSurface()
	surface.fail["delete_message"] = platform.ErrNotFound
	events := newFakeEvents()
	events.push(reaction("U1", check))

	outcome, err := AwaitDeletion(context.Background(), surface, events, msgRef(), opts(5*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeDeleted {
		t.Fatalf("outcome = %v, want deleted", outcome)
	}
}

func TestAwaitDeletionClearNotFoundStillExpired(t *testing.T) {
	surface := newFakeSurface()
	surface.fail["clear_reactions"] = platform.ErrNotFound
	events := newFakeEvents()

	outcome, err := AwaitDeletion(context.Background(), surface, events, msgRef(), opts(30*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeExpired {
		t.Fatalf("outcome = %v, want expired", outcome)
	}
}

func TestAwaitDeletionRequiresGuildContext(t *testing.T) {
	surface := newFakeSurface()
	events := newFakeEvents()

	dm := msgRef()
	dm.GuildID = ""

	_, err := AwaitDeletion(context.Background(), surface, events, dm, opts(time.Second))
	if !errors.Is(err, platform.ErrInvalidContext) {
		t.Fatalf("err = %v, want ErrInvalidContext", err)
	}
	if len(surface.snapshot()) != 0 {
		t.Errorf("platform calls issued for invalid context: %v", surface.snapshot())
	}
}

// Empty allow-list or emoji set means nothing can ever qualify, so the
// session can only expire.
func TestAwaitDeletionEmptySetsOnlyExpire(t *testing.T) {
	surface := newFakeSurface()
	events := newFakeEvents()
	events.push(reaction("U1", check))

	o := opts(40 * time.Millisecond)
	o.Emojis = nil
	o.AttachEmojis = false

	outcome, err := AwaitDeletion(context.Background(), surface, events, msgRef(), o)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeExpired {
		t.Fatalf("outcome = %v, want expired", outcome)
	}
	if surface.count("delete_message") != 0 {
		t.Errorf("delete issued despite empty emoji set: %v", surface.snapshot())
	}
}

// A qualifying event already delivered when the deadline fires wins.
func TestAwaitDeletionEventWinsTieBreak(t *testing.T) {
	surface := newFakeSurface()
	events := newFakeEvents()
	// Deliver before the session starts; the zero-ish timeout then fires
	// with the event already pending.
	events.push(reaction("U1", check))

	outcome, err := AwaitDeletion(context.Background(), surface, events, msgRef(), opts(time.Nanosecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeDeleted {
		t.Fatalf("outcome = %v, want deleted (event wins over deadline)", outcome)
	}
}

func TestReactionCheck(t *testing.T) {
	emojis := []string{check, TrashcanEmoji}
	tests := []struct {
		name string
		ev   platform.ReactionEvent
		want bool
	}{
		{name: "qualifying reaction", ev: reaction("U1", check), want: true},
		{name: "second armed emoji", ev: reaction("U2", TrashcanEmoji), want: true},
		{name: "self reaction never qualifies", ev: reaction(botID, check), want: false},
		{name: "emoji outside set", ev: reaction("U1", "\U0001F44D"), want: false},
		{name: "wrong message", ev: func() platform.ReactionEvent {
			ev := reaction("U1", check)
			ev.MessageID = "M2"
			return ev
		}(), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReactionCheck(tt.ev, botID, testMessage, emojis); got != tt.want {
				t.Errorf("ReactionCheck() = %v, want %v", got, tt.want)
			}
		})
	}
}
