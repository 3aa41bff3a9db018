package storage

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-tavern/rpg/internal/model/character"
	"github.com/zhouzirui/z-tavern/rpg/internal/model/chat"
	"github.com/zhouzirui/z-tavern/rpg/internal/rpg"
)

// MemoryStore implements Store in process memory. Suitable for tests and
// single-node development.
type MemoryStore struct {
	mu         sync.RWMutex
	clock      clock
	characters map[string]character.Character
	worlds     map[string]character.World
	sessions   map[string]chat.Session
	messages   map[string][]chat.Message
	memories   []chat.MemoryEntry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		characters: make(map[string]character.Character),
		worlds:     make(map[string]character.World),
		sessions:   make(map[string]chat.Session),
		messages:   make(map[string][]chat.Message),
	}
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateCharacter(_ context.Context, c *character.Character) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := s.clock.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	s.characters[c.ID] = cloneCharacter(*c)
	return nil
}

func (s *MemoryStore) GetCharacter(_ context.Context, userID, id string) (character.Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.characters[id]
	if !ok || c.UserID != userID {
		return character.Character{}, ErrNotFound
	}
	return cloneCharacter(c), nil
}

func (s *MemoryStore) ListCharacters(_ context.Context, userID string) ([]character.Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]character.Character, 0)
	for _, c := range s.characters {
		if c.UserID == userID {
			out = append(out, cloneCharacter(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateCharacter(_ context.Context, c *character.Character) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.characters[c.ID]
	if !ok || existing.UserID != c.UserID {
		return ErrNotFound
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = s.clock.Now()
	s.characters[c.ID] = cloneCharacter(*c)
	return nil
}

func (s *MemoryStore) DeleteCharacter(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.characters[id]
	if !ok || c.UserID != userID {
		return ErrNotFound
	}
	delete(s.characters, id)
	for sid, sess := range s.sessions {
		if sess.CharacterID == id {
			delete(s.sessions, sid)
			delete(s.messages, sid)
		}
	}
	s.memories = slices.DeleteFunc(s.memories, func(m chat.MemoryEntry) bool {
		return m.CharacterID == id
	})
	return nil
}

func (s *MemoryStore) CreateWorld(_ context.Context, w *character.World) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	now := s.clock.Now()
	w.CreatedAt, w.UpdatedAt = now, now
	s.worlds[w.ID] = *w
	return nil
}

func (s *MemoryStore) GetWorld(_ context.Context, userID, id string) (character.World, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.worlds[id]
	if !ok || w.UserID != userID {
		return character.World{}, ErrNotFound
	}
	return w, nil
}

func (s *MemoryStore) ListWorlds(_ context.Context, userID string) ([]character.World, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]character.World, 0)
	for _, w := range s.worlds {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateWorld(_ context.Context, w *character.World) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.worlds[w.ID]
	if !ok || existing.UserID != w.UserID {
		return ErrNotFound
	}
	w.CreatedAt = existing.CreatedAt
	w.UpdatedAt = s.clock.Now()
	s.worlds[w.ID] = *w
	return nil
}

func (s *MemoryStore) DeleteWorld(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.worlds[id]
	if !ok || w.UserID != userID {
		return ErrNotFound
	}
	delete(s.worlds, id)
	for cid, c := range s.characters {
		if c.WorldID == id {
			c.WorldID = ""
			s.characters[cid] = c
		}
	}
	return nil
}

func (s *MemoryStore) CreateSession(_ context.Context, sess *chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := s.clock.Now()
	sess.CreatedAt, sess.UpdatedAt = now, now
	sess.RPGState = sess.RPGState.Clone()
	s.sessions[sess.ID] = *sess
	s.messages[sess.ID] = make([]chat.Message, 0, 16)
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, userID, id string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok || sess.UserID != userID {
		return chat.Session{}, ErrNotFound
	}
	sess.RPGState = sess.RPGState.Clone()
	return sess, nil
}

func (s *MemoryStore) ListSessions(_ context.Context, userID, characterID string) ([]chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Session, 0)
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.CharacterID == characterID {
			sess.RPGState = sess.RPGState.Clone()
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateSessionState(_ context.Context, id string, state rpg.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.RPGState = state.Clone()
	sess.UpdatedAt = s.clock.Now()
	s.sessions[id] = sess
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.UserID != userID {
		return ErrNotFound
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

// AppendMessage adds a message to its session and bumps the session's
// UpdatedAt.
func (s *MemoryStore) AppendMessage(_ context.Context, m *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[m.SessionID]
	if !ok {
		return ErrNotFound
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = s.clock.Now()
	s.messages[m.SessionID] = append(s.messages[m.SessionID], cloneMessage(*m))
	sess.UpdatedAt = m.CreatedAt
	s.sessions[m.SessionID] = sess
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := make([]chat.Message, len(messages))
	for i, m := range messages {
		copied[i] = cloneMessage(m)
	}
	return copied, nil
}

func (s *MemoryStore) AddMemory(_ context.Context, m *chat.MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = s.clock.Now()
	s.memories = append(s.memories, *m)
	return nil
}

func (s *MemoryStore) ListMemories(_ context.Context, userID string, filter MemoryFilter) ([]chat.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.MemoryEntry, 0)
	for i := len(s.memories) - 1; i >= 0; i-- {
		m := s.memories[i]
		if m.UserID == userID && filter.matches(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteMemory(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.memories, func(m chat.MemoryEntry) bool {
		return m.ID == id && m.UserID == userID
	})
	if idx < 0 {
		return ErrNotFound
	}
	s.memories = slices.Delete(s.memories, idx, idx+1)
	return nil
}

func cloneCharacter(c character.Character) character.Character {
	if c.BaseStats != nil {
		stats := *c.BaseStats
		c.BaseStats = &stats
	}
	return c
}

func cloneMessage(m chat.Message) chat.Message {
	if m.DiceResult != nil {
		r := *m.DiceResult
		r.Rolls = slices.Clone(r.Rolls)
		m.DiceResult = &r
	}
	return m
}
