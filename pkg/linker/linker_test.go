package linker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/laundmo/gh-linker-bot/pkg/bus"
	"github.com/laundmo/gh-linker-bot/pkg/channels"
	"github.com/laundmo/gh-linker-bot/pkg/github"
	"github.com/laundmo/gh-linker-bot/pkg/platform"
	"github.com/laundmo/gh-linker-bot/pkg/settings"
	"github.com/laundmo/gh-linker-bot/pkg/store"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeGitHub struct {
	issues   map[string]*github.Issue
	snippets map[string]string
}

func (f *fakeGitHub) FetchIssue(_ context.Context, ref github.IssueRef) (*github.Issue, error) {
	if issue, ok := f.issues[ref.String()]; ok {
		return issue, nil
	}
	return nil, fmt.Errorf("%s: %w", ref, github.ErrNotFound)
}

func (f *fakeGitHub) FetchSnippet(_ context.Context, ref github.SnippetRef) (string, error) {
	if text, ok := f.snippets[ref.String()]; ok {
		return text, nil
	}
	return "", fmt.Errorf("%s: %w", ref, github.ErrNotFound)
}

// fakeChannel is a ReactionChannel that records sends and reaction ops.
type fakeChannel struct {
	mu    sync.Mutex
	sent  []bus.OutboundMessage
	calls []string
	seq   int
}

func (f *fakeChannel) Name() string                     { return "fake" }
func (f *fakeChannel) Connect(context.Context) error    { return nil }
func (f *fakeChannel) Disconnect() error                { return nil }
func (f *fakeChannel) IsConnected() bool                { return true }
func (f *fakeChannel) BotUserID() string                { return "BOT" }
func (f *fakeChannel) Health() channels.HealthStatus    { return channels.HealthStatus{Connected: true} }

func (f *fakeChannel) Send(_ context.Context, msg bus.OutboundMessage) (platform.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	f.seq++
	return platform.MessageRef{
		Channel:   "fake",
		ChannelID: msg.ChannelID,
		MessageID: fmt.Sprintf("reply-%d", f.seq),
	}, nil
}

func (f *fakeChannel) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
}

func (f *fakeChannel) AddReaction(_ context.Context, m platform.MessageRef, emoji string) error {
	f.record("add:" + emoji)
	return nil
}

func (f *fakeChannel) RemoveReaction(_ context.Context, m platform.MessageRef, emoji, userID string) error {
	f.record("remove:" + emoji + ":" + userID)
	return nil
}

func (f *fakeChannel) ClearReactions(_ context.Context, m platform.MessageRef) error {
	f.record("clear")
	return nil
}

func (f *fakeChannel) DeleteMessage(_ context.Context, m platform.MessageRef) error {
	f.record("delete:" + m.MessageID)
	return nil
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeChannel) lastSent() (bus.OutboundMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return bus.OutboundMessage{}, false
	}
	return f.sent[len(f.sent)-1], true
}

func (f *fakeChannel) callSnapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

var _ channels.ReactionChannel = (*fakeChannel)(nil)

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	bus     *bus.MessageBus
	channel *fakeChannel
	linker  *Linker
	repo    *settings.Repository
	store   *store.Store
}

func newHarness(t *testing.T, gh GitHubClient, opts Options) *harness {
	t.Helper()
	b := bus.NewMessageBus()
	t.Cleanup(b.Close)

	mgr := channels.NewManager(b)
	ch := &fakeChannel{}
	if err := mgr.Register(ch); err != nil {
		t.Fatalf("Register: %v", err)
	}

	repo := settings.NewRepository(t.TempDir())
	st, err := store.Open(t.TempDir() + "/l.db")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	return &harness{
		bus:     b,
		channel: ch,
		linker:  New(b, mgr, repo, st, gh, opts),
		repo:    repo,
		store:   st,
	}
}

func (h *harness) msg(content string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:   "fake",
		GuildID:   "g1",
		ChannelID: "c1",
		MessageID: "m-" + content[:min(8, len(content))],
		SenderID:  "author",
		Content:   content,
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func openIssue(title, url string) *github.Issue {
	return &github.Issue{Title: title, State: "open", HTMLURL: url}
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never met")
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHandleExpandsReferences(t *testing.T) {
	gh := &fakeGitHub{issues: map[string]*github.Issue{
		"a/b#1": openIssue("first issue", "https://github.com/a/b/issues/1"),
	}}
	h := newHarness(t, gh, Options{DeleteTimeout: 20 * time.Millisecond})

	if err := h.linker.handle(context.Background(), h.msg("see a/b#1")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	reply, ok := h.channel.lastSent()
	if !ok {
		t.Fatal("no reply sent")
	}
	if !strings.Contains(reply.Content, "first issue") || !strings.Contains(reply.Content, github.EmojiIssueOpen) {
		t.Errorf("reply missing expansion: %q", reply.Content)
	}

	stats, err := h.store.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.LinksExpanded != 1 || stats.RefsResolved != 1 {
		t.Errorf("stats not recorded: %+v", stats)
	}
}

func TestHandleNoReferencesStaysSilent(t *testing.T) {
	h := newHarness(t, &fakeGitHub{}, Options{DeleteTimeout: 20 * time.Millisecond})

	if err := h.linker.handle(context.Background(), h.msg("just chatting")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if h.channel.sentCount() != 0 {
		t.Errorf("reply sent for plain message")
	}
}

func TestHandleUnknownRefsStaySilent(t *testing.T) {
	h := newHarness(t, &fakeGitHub{}, Options{DeleteTimeout: 20 * time.Millisecond})

	if err := h.linker.handle(context.Background(), h.msg("ghost ref x/y#99")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if h.channel.sentCount() != 0 {
		t.Errorf("reply sent for unresolvable ref")
	}
}

func TestHandleDeduplicates(t *testing.T) {
	gh := &fakeGitHub{issues: map[string]*github.Issue{
		"a/b#1": openIssue("x", "u"),
	}}
	h := newHarness(t, gh, Options{DeleteTimeout: 20 * time.Millisecond})

	msg := h.msg("a/b#1")
	if err := h.linker.handle(context.Background(), msg); err != nil {
		t.Fatalf("first handle: %v", err)
	}
	if err := h.linker.handle(context.Background(), msg); err != nil {
		t.Fatalf("second handle: %v", err)
	}
	if h.channel.sentCount() != 1 {
		t.Errorf("redelivered message expanded twice: %d replies", h.channel.sentCount())
	}
}

func TestHandleDisabledGuild(t *testing.T) {
	gh := &fakeGitHub{issues: map[string]*github.Issue{
		"a/b#1": openIssue("x", "u"),
	}}
	h := newHarness(t, gh, Options{DeleteTimeout: 20 * time.Millisecond})

	gs := h.repo.FindOrDefault("g1")
	gs.Disabled = true
	if err := h.repo.Save(gs); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := h.linker.handle(context.Background(), h.msg("a/b#1")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if h.channel.sentCount() != 0 {
		t.Errorf("disabled guild still expanded")
	}
}

func TestHandleDefaultRepoBareRefs(t *testing.T) {
	gh := &fakeGitHub{issues: map[string]*github.Issue{
		"lau/repo#7": openIssue("bare ref", "u"),
	}}
	h := newHarness(t, gh, Options{DeleteTimeout: 20 * time.Millisecond})

	gs := h.repo.FindOrDefault("g1")
	gs.DefaultRepo = "lau/repo"
	if err := h.repo.Save(gs); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := h.linker.handle(context.Background(), h.msg("fixes #7 now")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	reply, ok := h.channel.lastSent()
	if !ok || !strings.Contains(reply.Content, "bare ref") {
		t.Errorf("bare ref not expanded: %+v", reply)
	}
}

func TestDeletionWindowExpires(t *testing.T) {
	gh := &fakeGitHub{issues: map[string]*github.Issue{
		"a/b#1": openIssue("x", "u"),
	}}
	h := newHarness(t, gh, Options{DeleteTimeout: 30 * time.Millisecond})

	if err := h.linker.handle(context.Background(), h.msg("a/b#1")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	calls := h.channel.callSnapshot()
	var sawAdd, sawClear bool
	for _, c := range calls {
		if strings.HasPrefix(c, "add:") {
			sawAdd = true
		}
		if c == "clear" {
			sawClear = true
		}
	}
	if !sawAdd || !sawClear {
		t.Errorf("expected arm then clear, got %v", calls)
	}

	stats, _ := h.store.GetStats(context.Background())
	if stats.Outcomes["expired"] != 1 {
		t.Errorf("expired outcome not recorded: %+v", stats.Outcomes)
	}
}

func TestDeletionByAuthor(t *testing.T) {
	gh := &fakeGitHub{issues: map[string]*github.Issue{
		"a/b#1": openIssue("x", "u"),
	}}
	h := newHarness(t, gh, Options{
		DeleteTimeout: 2 * time.Second,
		DeleteEmojis:  []string{"❌"},
	})

	done := make(chan error, 1)
	go func() {
		done <- h.linker.handle(context.Background(), h.msg("a/b#1"))
	}()

	// Wait for the reply and its armed reaction, then react as the author.
	waitFor(t, func() bool {
		for _, c := range h.channel.callSnapshot() {
			if strings.HasPrefix(c, "add:") {
				return true
			}
		}
		return false
	})
	// Give the wait loop a moment to subscribe its reaction tap.
	time.Sleep(50 * time.Millisecond)
	h.bus.PublishReaction(platform.ReactionEvent{
		Channel:   "fake",
		GuildID:   "g1",
		ChannelID: "c1",
		MessageID: "reply-1",
		UserID:    "author",
		Emoji:     "❌",
	})

	if err := <-done; err != nil {
		t.Fatalf("handle: %v", err)
	}
	var deleted bool
	for _, c := range h.channel.callSnapshot() {
		if c == "delete:reply-1" {
			deleted = true
		}
	}
	if !deleted {
		t.Errorf("author reaction did not delete reply: %v", h.channel.callSnapshot())
	}

	stats, _ := h.store.GetStats(context.Background())
	if stats.Outcomes["deleted"] != 1 {
		t.Errorf("deleted outcome not recorded: %+v", stats.Outcomes)
	}
}

func TestCollectRefsDefaultRepoDedup(t *testing.T) {
	h := newHarness(t, &fakeGitHub{}, Options{})
	gs := &settings.GuildSettings{GuildID: "g1", DefaultRepo: "a/b"}

	refs := h.linker.collectRefs(bus.InboundMessage{Content: "a/b#3 and #3 and #4"}, gs)
	if len(refs) != 2 {
		t.Fatalf("got %d refs, want 2: %v", len(refs), refs)
	}
}
