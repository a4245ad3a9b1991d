package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMarkProcessedDedup(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	first, err := s.MarkProcessed(ctx, "discord", "m1")
	if err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if !first {
		t.Errorf("first mark should report fresh")
	}

	again, err := s.MarkProcessed(ctx, "discord", "m1")
	if err != nil {
		t.Fatalf("MarkProcessed again: %v", err)
	}
	if again {
		t.Errorf("duplicate mark should report already processed")
	}

	// Same ID on another channel is distinct.
	other, err := s.MarkProcessed(ctx, "slack", "m1")
	if err != nil {
		t.Fatalf("MarkProcessed other channel: %v", err)
	}
	if !other {
		t.Errorf("same id on another channel should be fresh")
	}
}

func TestStatsAndOutcomes(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	s.MarkProcessed(ctx, "discord", "m1")
	if err := s.RecordExpansion(ctx, LinkRecord{Channel: "discord", GuildID: "g1", MessageID: "r1", Refs: 2, Snippets: 1}); err != nil {
		t.Fatalf("RecordExpansion: %v", err)
	}
	if err := s.RecordOutcome(ctx, "discord", "r1", "deleted"); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.MessagesProcessed != 1 || stats.LinksExpanded != 1 {
		t.Errorf("counts wrong: %+v", stats)
	}
	if stats.RefsResolved != 2 || stats.SnippetsResolved != 1 {
		t.Errorf("ref sums wrong: %+v", stats)
	}
	if stats.Outcomes["deleted"] != 1 {
		t.Errorf("outcome not recorded: %+v", stats.Outcomes)
	}
}

func TestPruneProcessed(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	// Insert a row with an old timestamp directly.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_messages (channel, message_id, processed_at) VALUES (?, ?, ?)`,
		"discord", "old", time.Now().UTC().Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	s.MarkProcessed(ctx, "discord", "new")

	n, err := s.PruneProcessed(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneProcessed: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d rows, want 1", n)
	}

	stats, _ := s.GetStats(ctx)
	if stats.MessagesProcessed != 1 {
		t.Errorf("remaining rows = %d, want 1", stats.MessagesProcessed)
	}
}
