// Package store persists processed-message dedup state and link
// expansion statistics in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS processed_messages (
	channel      TEXT NOT NULL,
	message_id   TEXT NOT NULL,
	processed_at TIMESTAMP NOT NULL,
	PRIMARY KEY (channel, message_id)
);

CREATE TABLE IF NOT EXISTS link_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	channel    TEXT NOT NULL,
	guild_id   TEXT NOT NULL,
	message_id TEXT NOT NULL,
	refs       INTEGER NOT NULL,
	snippets   INTEGER NOT NULL,
	outcome    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_link_events_outcome ON link_events(outcome);
`

// LinkRecord describes one expanded message.
type LinkRecord struct {
	Channel   string
	GuildID   string
	MessageID string
	Refs      int
	Snippets  int
}

// Stats summarizes lifetime activity for the diagnostics API.
type Stats struct {
	MessagesProcessed int            `json:"messages_processed"`
	LinksExpanded     int            `json:"links_expanded"`
	RefsResolved      int            `json:"refs_resolved"`
	SnippetsResolved  int            `json:"snippets_resolved"`
	Outcomes          map[string]int `json:"outcomes"`
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the database at path. Use ":memory:" for
// an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite tolerates one writer; avoid pool contention.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// MarkProcessed records that a message was handled. It returns false
// when the message was already marked, which callers use as the dedup
// signal for redelivered events.
func (s *Store) MarkProcessed(ctx context.Context, channel, messageID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_messages (channel, message_id, processed_at) VALUES (?, ?, ?)`,
		channel, messageID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RecordExpansion logs one link expansion.
func (s *Store) RecordExpansion(ctx context.Context, rec LinkRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO link_events (channel, guild_id, message_id, refs, snippets, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Channel, rec.GuildID, rec.MessageID, rec.Refs, rec.Snippets, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record expansion: %w", err)
	}
	return nil
}

// RecordOutcome stores how the delete-reaction window for an expanded
// message ended.
func (s *Store) RecordOutcome(ctx context.Context, channel, messageID, outcome string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE link_events SET outcome = ? WHERE channel = ? AND message_id = ?`,
		outcome, channel, messageID)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// GetStats aggregates lifetime counters.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	stats := Stats{Outcomes: make(map[string]int)}

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_messages`)
	if err := row.Scan(&stats.MessagesProcessed); err != nil {
		return stats, fmt.Errorf("stats: %w", err)
	}

	row = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(refs), 0), COALESCE(SUM(snippets), 0) FROM link_events`)
	if err := row.Scan(&stats.LinksExpanded, &stats.RefsResolved, &stats.SnippetsResolved); err != nil {
		return stats, fmt.Errorf("stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM link_events WHERE outcome != '' GROUP BY outcome`)
	if err != nil {
		return stats, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return stats, err
		}
		stats.Outcomes[outcome] = count
	}
	return stats, rows.Err()
}

// PruneProcessed drops dedup rows older than the cutoff and returns
// how many were removed. Runs on a schedule to bound table growth.
func (s *Store) PruneProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_messages WHERE processed_at < ?`,
		time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune processed: %w", err)
	}
	return res.RowsAffected()
}
