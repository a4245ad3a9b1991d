package slack

import (
	"errors"
	"testing"

	"github.com/laundmo/gh-linker-bot/pkg/confirm"
	"github.com/laundmo/gh-linker-bot/pkg/platform"
)

func TestEmojiName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{in: ":wastebasket:", want: "wastebasket"},
		{in: "wastebasket", want: "wastebasket"},
		{in: ":white_check_mark:", want: "white_check_mark"},
		{in: "\U0001F5D1️", want: "wastebasket"}, // display form with VS16
		{in: "\U0001F5D1", want: "wastebasket"},       // bare codepoint
		{in: "✅", want: "white_check_mark"},
		{in: "❌", want: "x"},
		{in: "\U0001F44D", want: "+1"},
	}
	for _, tt := range tests {
		if got := EmojiName(tt.in); got != tt.want {
			t.Errorf("EmojiName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDisplayEmoji(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{in: "wastebasket", want: "\U0001F5D1️"},
		{in: "white_check_mark", want: "✅"},
		{in: "+1", want: "\U0001F44D"},
		{in: "party_parrot", want: "party_parrot"}, // custom emoji pass through
	}
	for _, tt := range tests {
		if got := DisplayEmoji(tt.in); got != tt.want {
			t.Errorf("DisplayEmoji(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// The default deletion affordance must survive the trip through Slack's
// naming: the name sent when arming is the name delivered in the reaction
// event, and mapping it back yields the exact string wait sessions match
// against.
func TestDeletionEmojiRoundTrip(t *testing.T) {
	name := EmojiName(confirm.TrashcanEmoji)
	if name != "wastebasket" {
		t.Fatalf("EmojiName(TrashcanEmoji) = %q, want wastebasket", name)
	}
	if got := DisplayEmoji(name); got != confirm.TrashcanEmoji {
		t.Errorf("DisplayEmoji(%q) = %q, want %q", name, got, confirm.TrashcanEmoji)
	}
}

func TestMapError(t *testing.T) {
	if err := mapError("delete_message", errors.New("message_not_found")); !errors.Is(err, platform.ErrNotFound) {
		t.Errorf("message_not_found mapped to %v, want ErrNotFound", err)
	}
	if err := mapError("add_reaction", errors.New("rate_limited")); platform.Classify(err) != platform.KindTransport {
		t.Errorf("generic failure classified as %v, want transport", platform.Classify(err))
	}
	if err := mapError("noop", nil); err != nil {
		t.Errorf("nil error mapped to %v", err)
	}
}

func TestAllowedChannel(t *testing.T) {
	if !allowedChannel(nil, "C1") {
		t.Error("empty allow-list must allow all")
	}
	if allowedChannel([]string{"C1"}, "C2") {
		t.Error("unlisted channel allowed")
	}
}
