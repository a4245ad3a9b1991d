package discord

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/laundmo/gh-linker-bot/pkg/platform"
)

func TestAPIEmoji(t *testing.T) {
	tests := []struct {
		name    string
		display string
		want    string
	}{
		{name: "unicode emoji", display: "✅", want: "✅"},
		{name: "custom emoji", display: "<:trashcan:637136429717389331>", want: "trashcan:637136429717389331"},
		{name: "animated custom emoji", display: "<a:blob:123456>", want: "blob:123456"},
		{name: "already api form", display: "trashcan:637136429717389331", want: "trashcan:637136429717389331"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := APIEmoji(tt.display); got != tt.want {
				t.Errorf("APIEmoji(%q) = %q, want %q", tt.display, got, tt.want)
			}
		})
	}
}

func TestAllowed(t *testing.T) {
	if !allowed(nil, "anything") {
		t.Error("empty allow-list must allow all")
	}
	if !allowed([]string{"G1", "G2"}, "G2") {
		t.Error("listed id rejected")
	}
	if allowed([]string{"G1"}, "G2") {
		t.Error("unlisted id allowed")
	}
}

func TestMapError(t *testing.T) {
	notFound := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}
	if err := mapError("delete_message", notFound); !errors.Is(err, platform.ErrNotFound) {
		t.Errorf("404 mapped to %v, want ErrNotFound", err)
	}

	forbidden := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}
	if err := mapError("join_thread", forbidden); !errors.Is(err, platform.ErrForbidden) {
		t.Errorf("403 mapped to %v, want ErrForbidden", err)
	}

	if err := mapError("add_reaction", errors.New("gateway closed")); platform.Classify(err) != platform.KindTransport {
		t.Errorf("generic failure classified as %v, want transport", platform.Classify(err))
	}

	if err := mapError("noop", nil); err != nil {
		t.Errorf("nil error mapped to %v", err)
	}
}

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("short", 2000); len(got) != 1 || got[0] != "short" {
		t.Errorf("short message split: %v", got)
	}

	long := strings.Repeat("line of text\n", 300) // ~3900 chars
	chunks := splitMessage(long, 2000)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	var total int
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 2000 {
			t.Errorf("chunk %d exceeds limit: %d chars", i, n)
		}
		total += len(c)
	}
	if total != len(long) {
		t.Errorf("content lost in split: %d != %d", total, len(long))
	}
}

// Multi-byte content with no newline to cut at must still come back valid:
// the limit counts characters, and no chunk boundary may land inside a
// UTF-8 sequence.
func TestSplitMessageMultiByte(t *testing.T) {
	long := strings.Repeat("研究", 1500) // 3000 chars, 9000 bytes, no newlines
	chunks := splitMessage(long, 2000)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	var rebuilt strings.Builder
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d is not valid UTF-8", i)
		}
		if n := utf8.RuneCountInString(c); n > 2000 {
			t.Errorf("chunk %d exceeds limit: %d chars", i, n)
		}
		rebuilt.WriteString(c)
	}
	if rebuilt.String() != long {
		t.Error("content lost or corrupted in split")
	}
}
