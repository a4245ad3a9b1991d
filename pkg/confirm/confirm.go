// Package confirm implements the reaction-gated deletion protocol: a bot
// message is armed with deletion emoji, and any of the allowed users can
// remove it by reacting within the timeout. After the timeout the
// affordance reactions are cleared to show the option has expired.
//
// One call is one session. A session holds no shared state, resolves to
// exactly one terminal outcome, and issues at most one terminal platform
// action. If a qualifying reaction has already arrived when the deadline
// fires, the reaction wins — that tie-break is part of this contract.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/laundmo/gh-linker-bot/pkg/logger"
	"github.com/laundmo/gh-linker-bot/pkg/platform"
	"github.com/laundmo/gh-linker-bot/pkg/tasks"
)

// DefaultTimeout is how long the deletion affordance stays armed.
const DefaultTimeout = 5 * time.Minute

// TrashcanEmoji is the default deletion affordance: 🗑️ in its display
// form, trash can plus the VS16 presentation selector.
const TrashcanEmoji = "\U0001F5D1️"

// Outcome is the terminal state of one wait session.
type Outcome int

const (
	// OutcomeDeleted — an allowed user confirmed; the message was removed.
	OutcomeDeleted Outcome = iota
	// OutcomeExpired — the deadline passed; affordance reactions cleared.
	OutcomeExpired
	// OutcomeAborted — the message vanished out-of-band (or the context
	// was invalid) before the session could resolve.
	OutcomeAborted
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case OutcomeDeleted:
		return "deleted"
	case OutcomeExpired:
		return "expired"
	case OutcomeAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Options configures one wait session.
type Options struct {
	// AllowedUserIDs may trigger the deletion. Empty means nobody can,
	// and the session can only expire or abort.
	AllowedUserIDs []string

	// Emojis arm the deletion affordance, attached in order.
	// Empty behaves like AllowedUserIDs empty.
	Emojis []string

	// Timeout bounds the wait. Zero means DefaultTimeout.
	Timeout time.Duration

	// AttachEmojis controls whether the affordance reactions are added
	// to the message before waiting.
	AttachEmojis bool

	// BotUserID is the bot's own actor identity, used to ignore the
	// affordance reactions the bot itself adds. Passed explicitly so
	// sessions are testable in isolation.
	BotUserID string
}

// ReactionCheck reports whether a reaction event qualifies for the session
// on messageID: the actor is not the bot, the message matches, and the
// emoji is one of the armed deletion emoji. Pure — authorization and
// removal of disallowed reactions happen in the wait loop, not here.
func ReactionCheck(ev platform.ReactionEvent, botUserID, messageID string, emojis []string) bool {
	if ev.UserID == botUserID {
		return false
	}
	if ev.MessageID != messageID {
		return false
	}
	return containsString(emojis, ev.Emoji)
}

// AwaitDeletion arms msg with the deletion affordance and waits for any of
// the allowed users to confirm, resolving to exactly one Outcome.
//
// Qualifying reactions from users outside the allow-list never resolve the
// session; each spawns one supervised background task that removes the
// reaction, with NotFound suppressed. Those tasks are not tied to the
// session's lifetime and their outcome has no effect on it.
//
// The returned error is non-nil only for fatal preconditions
// (platform.ErrInvalidContext), caller cancellation, or a failed terminal
// action; background cleanup failures never propagate here.
func AwaitDeletion(
	ctx context.Context,
	surface platform.Surface,
	events platform.EventSource,
	msg platform.MessageRef,
	opts Options,
) (Outcome, error) {
	if msg.GuildID == "" {
		return OutcomeAborted, fmt.Errorf("message %s: %w", msg.MessageID, platform.ErrInvalidContext)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	session := uuid.NewString()

	// Subscribe before arming so the session sees every reaction from the
	// moment the affordance becomes visible, including any that arrive
	// while a disallowed one is being handled.
	stream := events.Reactions()
	defer stream.Close()

	if opts.AttachEmojis {
		for _, emoji := range opts.Emojis {
			if err := surface.AddReaction(ctx, msg, emoji); err != nil {
				if errors.Is(err, platform.ErrNotFound) {
					// Message already gone; nothing left to guard.
					logger.DebugCF("confirm", "Aborting wait: message deleted prematurely", map[string]interface{}{
						"message_id": msg.MessageID, "session": session,
					})
					return OutcomeAborted, nil
				}
				return OutcomeAborted, err
			}
		}
	}

	pred := func(ev platform.ReactionEvent) bool {
		return ReactionCheck(ev, opts.BotUserID, msg.MessageID, opts.Emojis)
	}

	// One deadline for the whole session. Disallowed reactions consume
	// events but never extend or reset it.
	deadlineAt := time.Now().Add(opts.Timeout)

	for {
		ev, err := stream.Next(ctx, time.Until(deadlineAt), pred)
		switch {
		case err == nil:
			if containsString(opts.AllowedUserIDs, ev.UserID) {
				logger.DebugCF("confirm", "Allowed deletion reaction", map[string]interface{}{
					"emoji": ev.Emoji, "user_id": ev.UserID, "message_id": msg.MessageID, "session": session,
				})
				return resolveDeleted(ctx, surface, msg)
			}
			logger.DebugCF("confirm", "Removing disallowed reaction", map[string]interface{}{
				"emoji": ev.Emoji, "user_id": ev.UserID, "message_id": msg.MessageID, "session": session,
			})
			removeDisallowed(surface, msg, ev)

		case errors.Is(err, platform.ErrWaitTimeout):
			return resolveExpired(ctx, surface, msg, session)

		default:
			return OutcomeAborted, err
		}
	}
}

// resolveDeleted issues the delete command. A message that is already gone
// still counts as deleted — the goal is achieved either way.
func resolveDeleted(ctx context.Context, surface platform.Surface, msg platform.MessageRef) (Outcome, error) {
	if err := surface.DeleteMessage(ctx, msg); err != nil && !errors.Is(err, platform.ErrNotFound) {
		return OutcomeDeleted, err
	}
	return OutcomeDeleted, nil
}

// resolveExpired clears the affordance reactions after the deadline.
func resolveExpired(ctx context.Context, surface platform.Surface, msg platform.MessageRef, session string) (Outcome, error) {
	if err := surface.ClearReactions(ctx, msg); err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			logger.DebugCF("confirm", "Message deleted before reactions could be cleared", map[string]interface{}{
				"message_id": msg.MessageID, "session": session,
			})
			return OutcomeExpired, nil
		}
		return OutcomeExpired, err
	}
	return OutcomeExpired, nil
}

// removeDisallowed strips a qualifying reaction left by a user outside the
// allow-list. Runs supervised in the background: the session's resolution
// must not block on, or be affected by, this cleanup.
func removeDisallowed(surface platform.Surface, msg platform.MessageRef, ev platform.ReactionEvent) {
	label := fmt.Sprintf("remove_reaction-%s-%s-%s", ev.Emoji, msg.MessageID, ev.UserID)
	tasks.Spawn(label, func(ctx context.Context) error {
		return surface.RemoveReaction(ctx, msg, ev.Emoji, ev.UserID)
	}, platform.KindNotFound)
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
