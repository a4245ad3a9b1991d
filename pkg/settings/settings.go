// Package settings provides filesystem-backed per-guild configuration.
// Each guild's overrides live in one JSON file under the base directory.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNotFound is returned when a guild has no stored settings.
var ErrNotFound = errors.New("settings: not found")

// GuildSettings holds per-guild linker overrides. Zero values fall back
// to the bot-wide defaults.
type GuildSettings struct {
	GuildID string `json:"guild_id"`

	// Disabled turns link expansion off for the guild entirely.
	Disabled bool `json:"disabled,omitempty"`

	// DeleteEmojis overrides the reactions that delete a bot reply.
	DeleteEmojis []string `json:"delete_emojis,omitempty"`

	// DeleteTimeoutSeconds overrides how long the delete reaction is
	// offered before the bot clears it.
	DeleteTimeoutSeconds int `json:"delete_timeout_seconds,omitempty"`

	// ExtraDeleters are user IDs allowed to delete any bot reply in
	// the guild, alongside the message author.
	ExtraDeleters []string `json:"extra_deleters,omitempty"`

	// DefaultRepo expands bare #123 style references, as owner/repo.
	DefaultRepo string `json:"default_repo,omitempty"`

	// Snippets toggles file-snippet expansion.
	Snippets bool `json:"snippets"`

	UpdatedAt time.Time `json:"updated_at"`
}

// DeleteTimeout returns the override as a duration, or zero when unset.
func (g *GuildSettings) DeleteTimeout() time.Duration {
	if g.DeleteTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(g.DeleteTimeoutSeconds) * time.Second
}

// ---------------------------------------------------------------------------
// Generic JSON file store — reusable building block
// ---------------------------------------------------------------------------

// JSONStore provides generic JSON file-based persistence for any
// serializable type. It keeps an in-memory cache and persists to disk
// on every Put/Remove.
type JSONStore[T any] struct {
	baseDir string
	items   map[string]*T
	mu      sync.RWMutex
}

// NewJSONStore creates a new file-backed store.
func NewJSONStore[T any](baseDir string) *JSONStore[T] {
	os.MkdirAll(baseDir, 0755)
	return &JSONStore[T]{
		baseDir: baseDir,
		items:   make(map[string]*T),
	}
}

// Load reads all JSON files from the base directory into memory.
func (s *JSONStore[T]) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.baseDir, entry.Name()))
		if err != nil {
			continue
		}

		var item T
		if err := json.Unmarshal(data, &item); err != nil {
			continue
		}

		// Filename without .json is the key.
		id := entry.Name()[:len(entry.Name())-5]
		s.items[id] = &item
	}

	return nil
}

// Get retrieves an item by key.
func (s *JSONStore[T]) Get(id string) (*T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	return item, ok
}

// Put saves an item to memory and disk.
func (s *JSONStore[T]) Put(id string, item *T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[id] = item

	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	path := filepath.Join(s.baseDir, id+".json")
	return os.WriteFile(path, data, 0644)
}

// Remove deletes an item from memory and disk.
func (s *JSONStore[T]) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return false
	}

	delete(s.items, id)
	os.Remove(filepath.Join(s.baseDir, id+".json"))
	return true
}

// All returns all items.
func (s *JSONStore[T]) All() []*T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*T, 0, len(s.items))
	for _, item := range s.items {
		result = append(result, item)
	}
	return result
}

// Count returns the number of stored items.
func (s *JSONStore[T]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// ---------------------------------------------------------------------------
// Guild settings repository
// ---------------------------------------------------------------------------

// Repository is the filesystem-backed store for guild settings.
type Repository struct {
	store *JSONStore[GuildSettings]
}

// NewRepository creates a repository rooted at baseDir/guilds.
func NewRepository(baseDir string) *Repository {
	store := NewJSONStore[GuildSettings](filepath.Join(baseDir, "guilds"))
	store.Load()
	return &Repository{store: store}
}

// Find returns the stored settings for a guild.
func (r *Repository) Find(guildID string) (*GuildSettings, error) {
	gs, ok := r.store.Get(guildID)
	if !ok {
		return nil, ErrNotFound
	}
	return gs, nil
}

// FindOrDefault returns the stored settings, or fresh defaults when
// the guild has none. The result is safe to mutate.
func (r *Repository) FindOrDefault(guildID string) *GuildSettings {
	if gs, ok := r.store.Get(guildID); ok {
		copied := *gs
		return &copied
	}
	return &GuildSettings{GuildID: guildID, Snippets: true}
}

// Save persists settings for a guild.
func (r *Repository) Save(gs *GuildSettings) error {
	if gs.GuildID == "" {
		return fmt.Errorf("settings: guild id required")
	}
	gs.UpdatedAt = time.Now().UTC()
	return r.store.Put(gs.GuildID, gs)
}

// Delete removes a guild's settings, reverting it to defaults.
func (r *Repository) Delete(guildID string) error {
	if !r.store.Remove(guildID) {
		return ErrNotFound
	}
	return nil
}

// All returns every guild's stored settings.
func (r *Repository) All() []*GuildSettings {
	return r.store.All()
}

// Count returns how many guilds carry overrides.
func (r *Repository) Count() int {
	return r.store.Count()
}
