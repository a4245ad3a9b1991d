// Package linker implements the bot's core behavior: watch inbound
// messages for GitHub references, expand them into a reply, and offer
// the author a reaction that deletes the reply.
package linker

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/laundmo/gh-linker-bot/pkg/bus"
	"github.com/laundmo/gh-linker-bot/pkg/channels"
	"github.com/laundmo/gh-linker-bot/pkg/confirm"
	"github.com/laundmo/gh-linker-bot/pkg/github"
	"github.com/laundmo/gh-linker-bot/pkg/logger"
	"github.com/laundmo/gh-linker-bot/pkg/platform"
	"github.com/laundmo/gh-linker-bot/pkg/settings"
	"github.com/laundmo/gh-linker-bot/pkg/store"
	"github.com/laundmo/gh-linker-bot/pkg/tasks"
)

// Options tunes the linker's bot-wide defaults. Guild settings
// override them per guild.
type Options struct {
	// DeleteEmojis are the reactions that delete a bot reply.
	DeleteEmojis []string

	// DeleteTimeout bounds the delete-reaction window.
	DeleteTimeout time.Duration

	// Snippets toggles file-snippet expansion.
	Snippets bool
}

// GitHubClient is the slice of the GitHub client the linker uses.
type GitHubClient interface {
	FetchIssue(ctx context.Context, ref github.IssueRef) (*github.Issue, error)
	FetchSnippet(ctx context.Context, ref github.SnippetRef) (string, error)
}

// Linker consumes inbound messages and produces expanded replies.
type Linker struct {
	bus      *bus.MessageBus
	channels *channels.Manager
	settings *settings.Repository
	store    *store.Store
	gh       GitHubClient
	opts     Options
}

// New wires a linker. Zero-value option fields fall back to the
// trashcan emoji and a five minute window.
func New(b *bus.MessageBus, mgr *channels.Manager, repo *settings.Repository, st *store.Store, gh GitHubClient, opts Options) *Linker {
	if len(opts.DeleteEmojis) == 0 {
		opts.DeleteEmojis = []string{confirm.TrashcanEmoji}
	}
	if opts.DeleteTimeout <= 0 {
		opts.DeleteTimeout = confirm.DefaultTimeout
	}
	return &Linker{
		bus:      b,
		channels: mgr,
		settings: repo,
		store:    st,
		gh:       gh,
		opts:     opts,
	}
}

// Run consumes inbound messages until ctx is cancelled. Each message
// is handled in a supervised task so one failure never takes down the
// consumer loop.
func (l *Linker) Run(ctx context.Context) {
	logger.InfoC("linker", "Link expansion started")
	for {
		msg, ok := l.bus.ConsumeInbound(ctx)
		if !ok {
			logger.InfoC("linker", "Link expansion stopped")
			return
		}
		m := msg
		tasks.SpawnContext(ctx, fmt.Sprintf("expand_links-%s-%s", m.Channel, m.MessageID), func(ctx context.Context) error {
			return l.handle(ctx, m)
		}, platform.KindNotFound)
	}
}

// bareRefRe matches #123 style references resolved against the
// guild's default repo.
var bareRefRe = regexp.MustCompile(`(?:^|\s)#(\d+)\b`)

func (l *Linker) handle(ctx context.Context, msg bus.InboundMessage) error {
	guild := l.settings.FindOrDefault(msg.GuildID)
	if msg.GuildID != "" && guild.Disabled {
		return nil
	}

	fresh, err := l.store.MarkProcessed(ctx, msg.Channel, msg.MessageID)
	if err != nil {
		return err
	}
	if !fresh {
		logger.DebugCF("linker", "Skipping already processed message", map[string]interface{}{
			"channel": msg.Channel,
			"message": msg.MessageID,
		})
		return nil
	}

	refs := l.collectRefs(msg, guild)
	var snippets []github.SnippetRef
	if l.opts.Snippets && (msg.GuildID == "" || guild.Snippets) {
		snippets = github.FindSnippetRefs(msg.Content)
	}
	if len(refs) == 0 && len(snippets) == 0 {
		return nil
	}

	reply := l.render(ctx, refs, snippets)
	if reply == "" {
		return nil
	}

	ch, ok := l.channels.Get(msg.Channel)
	if !ok {
		return fmt.Errorf("unknown channel %q", msg.Channel)
	}
	sent, err := ch.Send(ctx, bus.OutboundMessage{
		Channel:   msg.Channel,
		ChannelID: msg.ChannelID,
		Content:   reply,
		ReplyTo:   msg.MessageID,
	})
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}

	if err := l.store.RecordExpansion(ctx, store.LinkRecord{
		Channel:   msg.Channel,
		GuildID:   msg.GuildID,
		MessageID: sent.MessageID,
		Refs:      len(refs),
		Snippets:  len(snippets),
	}); err != nil {
		logger.WarnCF("linker", "Failed to record expansion", map[string]interface{}{"error": err})
	}
	l.bus.PublishSystem(bus.SystemEvent{
		Type:   "link.expanded",
		Source: msg.Channel,
		Data: map[string]interface{}{
			"message":  sent.MessageID,
			"refs":     len(refs),
			"snippets": len(snippets),
		},
	})

	return l.offerDeletion(ctx, msg, sent, guild)
}

// collectRefs gathers explicit references plus bare #N references
// resolved against the guild's default repo.
func (l *Linker) collectRefs(msg bus.InboundMessage, guild *settings.GuildSettings) []github.IssueRef {
	refs := github.FindIssueRefs(msg.Content)
	if guild.DefaultRepo == "" {
		return refs
	}
	owner, repo, ok := strings.Cut(guild.DefaultRepo, "/")
	if !ok {
		return refs
	}
	seen := make(map[github.IssueRef]bool, len(refs))
	for _, r := range refs {
		seen[r] = true
	}
	for _, m := range bareRefRe.FindAllStringSubmatch(msg.Content, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			continue
		}
		ref := github.IssueRef{Owner: owner, Repo: repo, Number: n}
		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	return refs
}

// render fetches every reference and builds the reply body. Unknown
// and private references are skipped silently.
func (l *Linker) render(ctx context.Context, refs []github.IssueRef, snippets []github.SnippetRef) string {
	var lines []string
	for _, ref := range refs {
		issue, err := l.gh.FetchIssue(ctx, ref)
		if err != nil {
			if errors.Is(err, github.ErrNotFound) {
				logger.DebugCF("linker", "Reference not found", map[string]interface{}{"ref": ref.String()})
				continue
			}
			logger.WarnCF("linker", "Failed to resolve reference", map[string]interface{}{
				"ref":   ref.String(),
				"error": err,
			})
			continue
		}
		lines = append(lines, fmt.Sprintf("%s [%s] %s (<%s>)",
			github.StatusEmoji(issue), ref.String(), issue.Title, issue.HTMLURL))
	}
	for _, ref := range snippets {
		text, err := l.gh.FetchSnippet(ctx, ref)
		if err != nil {
			if errors.Is(err, github.ErrNotFound) {
				continue
			}
			logger.WarnCF("linker", "Failed to fetch snippet", map[string]interface{}{
				"ref":   ref.String(),
				"error": err,
			})
			continue
		}
		if text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n")
}

// offerDeletion arms the delete reaction on the reply and records how
// the window ended. Channels without reaction support skip this.
func (l *Linker) offerDeletion(ctx context.Context, msg bus.InboundMessage, sent platform.MessageRef, guild *settings.GuildSettings) error {
	surface, err := l.channels.Surface(msg.Channel)
	if err != nil {
		logger.DebugCF("linker", "Channel has no reaction support, skipping delete offer", map[string]interface{}{
			"channel": msg.Channel,
		})
		return nil
	}
	ch, ok := l.channels.Get(msg.Channel)
	if !ok {
		return fmt.Errorf("unknown channel %q", msg.Channel)
	}

	emojis := l.opts.DeleteEmojis
	if len(guild.DeleteEmojis) > 0 {
		emojis = guild.DeleteEmojis
	}
	timeout := l.opts.DeleteTimeout
	if t := guild.DeleteTimeout(); t > 0 {
		timeout = t
	}
	allowed := append([]string{msg.SenderID}, guild.ExtraDeleters...)

	// REST send responses do not always carry the guild.
	if sent.GuildID == "" {
		sent.GuildID = msg.GuildID
	}

	outcome, err := confirm.AwaitDeletion(ctx, surface, l.bus, sent, confirm.Options{
		AllowedUserIDs: allowed,
		Emojis:         emojis,
		Timeout:        timeout,
		AttachEmojis:   true,
		BotUserID:      ch.BotUserID(),
	})
	if err != nil {
		if errors.Is(err, platform.ErrInvalidContext) {
			// Direct messages have no guild; nothing to arm.
			return nil
		}
		return fmt.Errorf("await deletion: %w", err)
	}

	if rerr := l.store.RecordOutcome(ctx, msg.Channel, sent.MessageID, outcome.String()); rerr != nil {
		logger.WarnCF("linker", "Failed to record outcome", map[string]interface{}{"error": rerr})
	}
	l.bus.PublishSystem(bus.SystemEvent{
		Type:   "link.deletion",
		Source: msg.Channel,
		Data: map[string]interface{}{
			"message": sent.MessageID,
			"outcome": outcome.String(),
		},
	})
	return nil
}
