// Package storage persists characters, worlds, sessions, messages and
// memories. Implementations: MemoryStore and SQLStore.
package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zhouzirui/z-tavern/rpg/internal/model/character"
	"github.com/zhouzirui/z-tavern/rpg/internal/model/chat"
	"github.com/zhouzirui/z-tavern/rpg/internal/rpg"
)

// ErrNotFound is returned when a row does not exist or belongs to another user.
var ErrNotFound = errors.New("not found")

// CharacterStore persists characters. Create fills ID and timestamps when
// they are unset.
type CharacterStore interface {
	CreateCharacter(ctx context.Context, c *character.Character) error
	GetCharacter(ctx context.Context, userID, id string) (character.Character, error)
	ListCharacters(ctx context.Context, userID string) ([]character.Character, error)
	UpdateCharacter(ctx context.Context, c *character.Character) error
	// DeleteCharacter also removes the character's sessions, their messages
	// and memories scoped to the character.
	DeleteCharacter(ctx context.Context, userID, id string) error
}

// WorldStore persists worlds.
type WorldStore interface {
	CreateWorld(ctx context.Context, w *character.World) error
	GetWorld(ctx context.Context, userID, id string) (character.World, error)
	ListWorlds(ctx context.Context, userID string) ([]character.World, error)
	UpdateWorld(ctx context.Context, w *character.World) error
	// DeleteWorld clears world_id on referencing characters; it never
	// deletes them.
	DeleteWorld(ctx context.Context, userID, id string) error
}

// SessionStore persists chat sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *chat.Session) error
	GetSession(ctx context.Context, userID, id string) (chat.Session, error)
	// ListSessions returns the character's sessions, most recently updated
	// first.
	ListSessions(ctx context.Context, userID, characterID string) ([]chat.Session, error)
	UpdateSessionState(ctx context.Context, id string, state rpg.State) error
	DeleteSession(ctx context.Context, userID, id string) error
}

// MessageStore persists the append-only transcript.
type MessageStore interface {
	AppendMessage(ctx context.Context, m *chat.Message) error
	// ListMessages returns messages oldest first.
	ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error)
}

// MemoryFilter narrows ListMemories. Empty fields match everything.
type MemoryFilter struct {
	CharacterID string
	WorldID     string
	PinnedOnly  bool
}

// MemoryEntryStore persists memories. Entries are appended or deleted, never
// edited.
type MemoryEntryStore interface {
	AddMemory(ctx context.Context, m *chat.MemoryEntry) error
	// ListMemories returns matching entries newest first.
	ListMemories(ctx context.Context, userID string, filter MemoryFilter) ([]chat.MemoryEntry, error)
	DeleteMemory(ctx context.Context, userID, id string) error
}

// Store is the full persistence surface.
type Store interface {
	CharacterStore
	WorldStore
	SessionStore
	MessageStore
	MemoryEntryStore
	Close() error
}

// clock hands out strictly increasing UTC timestamps at microsecond
// precision so rows written in one process keep their order in every
// backend.
type clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now
	if c.now != nil {
		now = c.now
	}
	t := now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}

func (m MemoryFilter) matches(e chat.MemoryEntry) bool {
	if m.PinnedOnly && !e.IsPinned {
		return false
	}
	if m.CharacterID != "" && e.CharacterID != m.CharacterID {
		return false
	}
	if m.WorldID != "" && e.WorldID != m.WorldID {
		return false
	}
	return true
}
