package storage

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/rpg/internal/model/character"
	"github.com/zhouzirui/z-tavern/rpg/internal/model/chat"
	"github.com/zhouzirui/z-tavern/rpg/internal/rpg"
	"github.com/zhouzirui/z-tavern/rpg/internal/rpg/dice"
)

var sqliteSeq atomic.Int64

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	dsn := fmt.Sprintf("file:tavern%d?mode=memory&cache=shared", sqliteSeq.Add(1))
	store, err := OpenSQLStore(context.Background(), "sqlite3", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// forEachStore runs fn against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
}

func TestCharacterCRUD(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		stats := character.DefaultStats()
		c := &character.Character{UserID: "u1", Name: "Mira", Personality: "wry", IsRPGEnabled: true, BaseStats: &stats}

		require.NoError(t, s.CreateCharacter(ctx, c))
		require.NotEmpty(t, c.ID)

		got, err := s.GetCharacter(ctx, "u1", c.ID)
		require.NoError(t, err)
		assert.Equal(t, "Mira", got.Name)
		assert.True(t, got.IsRPGEnabled)
		require.NotNil(t, got.BaseStats)
		assert.Equal(t, 100, got.BaseStats.MaxHP)
		assert.Empty(t, got.WorldID)

		_, err = s.GetCharacter(ctx, "someone-else", c.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		c.Name = "Mira the Bold"
		require.NoError(t, s.UpdateCharacter(ctx, c))
		got, err = s.GetCharacter(ctx, "u1", c.ID)
		require.NoError(t, err)
		assert.Equal(t, "Mira the Bold", got.Name)
		assert.True(t, got.UpdatedAt.After(got.CreatedAt))

		list, err := s.ListCharacters(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, list, 1)

		require.NoError(t, s.DeleteCharacter(ctx, "u1", c.ID))
		assert.ErrorIs(t, s.DeleteCharacter(ctx, "u1", c.ID), ErrNotFound)
	})
}

func TestUpdateMissingCharacter(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		err := s.UpdateCharacter(context.Background(), &character.Character{ID: "nope", UserID: "u1", Name: "x"})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDeleteWorldDetachesCharacters(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		w := &character.World{UserID: "u1", Name: "Aldmoor", Lore: "ruins"}
		require.NoError(t, s.CreateWorld(ctx, w))

		c := &character.Character{UserID: "u1", Name: "Mira", WorldID: w.ID}
		require.NoError(t, s.CreateCharacter(ctx, c))

		require.NoError(t, s.DeleteWorld(ctx, "u1", w.ID))

		_, err := s.GetWorld(ctx, "u1", w.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		got, err := s.GetCharacter(ctx, "u1", c.ID)
		require.NoError(t, err, "characters survive world deletion")
		assert.Empty(t, got.WorldID)
	})
}

func TestWorldUpdateAndList(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		w := &character.World{UserID: "u1", Name: "Aldmoor"}
		require.NoError(t, s.CreateWorld(ctx, w))
		require.NoError(t, s.CreateWorld(ctx, &character.World{UserID: "u2", Name: "Elsewhere"}))

		w.Rules = "No magic after dark"
		require.NoError(t, s.UpdateWorld(ctx, w))

		list, err := s.ListWorlds(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "No magic after dark", list[0].Rules)
	})
}

func TestSessionStateAndMessages(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		sess := &chat.Session{UserID: "u1", CharacterID: "c1", Title: "Chat 1", IsRPGMode: true, RPGState: rpg.NewState(100)}
		require.NoError(t, s.CreateSession(ctx, sess))

		for i := range 5 {
			msg := &chat.Message{SessionID: sess.ID, Role: chat.RoleUser, Content: fmt.Sprintf("m%d", i)}
			require.NoError(t, s.AppendMessage(ctx, msg))
		}
		roll := &dice.Result{Dice: "2d6", Rolls: []int{4, 2}, Total: 6}
		require.NoError(t, s.AppendMessage(ctx, &chat.Message{
			SessionID: sess.ID, Role: chat.RoleSystem, Content: "*rolls 2d6*", IsDiceRoll: true, DiceResult: roll,
		}))

		msgs, err := s.ListMessages(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 6)
		for i := range 5 {
			assert.Equal(t, fmt.Sprintf("m%d", i), msgs[i].Content)
		}
		assert.True(t, msgs[5].IsDiceRoll)
		require.NotNil(t, msgs[5].DiceResult)
		assert.Equal(t, []int{4, 2}, msgs[5].DiceResult.Rolls)

		next := rpg.NewState(100)
		next.HP = 60
		next.Inventory = []string{"Rope"}
		require.NoError(t, s.UpdateSessionState(ctx, sess.ID, next))

		got, err := s.GetSession(ctx, "u1", sess.ID)
		require.NoError(t, err)
		assert.True(t, got.RPGState.Equal(next))
		assert.Equal(t, "Chat 1", got.Title)

		assert.ErrorIs(t, s.AppendMessage(ctx, &chat.Message{SessionID: "missing", Role: chat.RoleUser}), ErrNotFound)
		assert.ErrorIs(t, s.UpdateSessionState(ctx, "missing", next), ErrNotFound)
	})
}

func TestListSessionsNewestFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		first := &chat.Session{UserID: "u1", CharacterID: "c1", Title: "Chat 1", RPGState: rpg.Inert()}
		second := &chat.Session{UserID: "u1", CharacterID: "c1", Title: "Chat 2", RPGState: rpg.Inert()}
		require.NoError(t, s.CreateSession(ctx, first))
		require.NoError(t, s.CreateSession(ctx, second))
		require.NoError(t, s.CreateSession(ctx, &chat.Session{UserID: "u1", CharacterID: "c2", Title: "Other", RPGState: rpg.Inert()}))

		// Activity on the older session moves it to the top.
		require.NoError(t, s.AppendMessage(ctx, &chat.Message{SessionID: first.ID, Role: chat.RoleUser, Content: "hi"}))

		list, err := s.ListSessions(ctx, "u1", "c1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, first.ID, list[0].ID)
		assert.Equal(t, second.ID, list[1].ID)
	})
}

func TestDeleteSessionRemovesMessages(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		sess := &chat.Session{UserID: "u1", CharacterID: "c1", Title: "Chat 1", RPGState: rpg.Inert()}
		require.NoError(t, s.CreateSession(ctx, sess))
		require.NoError(t, s.AppendMessage(ctx, &chat.Message{SessionID: sess.ID, Role: chat.RoleUser, Content: "hi"}))

		assert.ErrorIs(t, s.DeleteSession(ctx, "u2", sess.ID), ErrNotFound)
		require.NoError(t, s.DeleteSession(ctx, "u1", sess.ID))

		_, err := s.ListMessages(ctx, sess.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDeleteCharacterCascades(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c := &character.Character{UserID: "u1", Name: "Mira"}
		require.NoError(t, s.CreateCharacter(ctx, c))
		sess := &chat.Session{UserID: "u1", CharacterID: c.ID, Title: "Chat 1", RPGState: rpg.Inert()}
		require.NoError(t, s.CreateSession(ctx, sess))
		require.NoError(t, s.AddMemory(ctx, &chat.MemoryEntry{UserID: "u1", CharacterID: c.ID, Content: "x", Category: "general", IsPinned: true}))

		require.NoError(t, s.DeleteCharacter(ctx, "u1", c.ID))

		_, err := s.GetSession(ctx, "u1", sess.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		mems, err := s.ListMemories(ctx, "u1", MemoryFilter{})
		require.NoError(t, err)
		assert.Empty(t, mems)
	})
}

func TestMemoriesFilterAndOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		add := func(content, characterID string, pinned bool) *chat.MemoryEntry {
			m := &chat.MemoryEntry{UserID: "u1", CharacterID: characterID, Content: content, Category: "general", IsPinned: pinned}
			require.NoError(t, s.AddMemory(ctx, m))
			return m
		}
		add("old", "c1", true)
		add("unpinned", "c1", false)
		last := add("new", "c1", true)
		add("elsewhere", "c2", true)

		pinned, err := s.ListMemories(ctx, "u1", MemoryFilter{CharacterID: "c1", PinnedOnly: true})
		require.NoError(t, err)
		require.Len(t, pinned, 2)
		assert.Equal(t, "new", pinned[0].Content)
		assert.Equal(t, "old", pinned[1].Content)

		all, err := s.ListMemories(ctx, "u1", MemoryFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 4)

		assert.ErrorIs(t, s.DeleteMemory(ctx, "u2", last.ID), ErrNotFound)
		require.NoError(t, s.DeleteMemory(ctx, "u1", last.ID))
		pinned, err = s.ListMemories(ctx, "u1", MemoryFilter{CharacterID: "c1", PinnedOnly: true})
		require.NoError(t, err)
		assert.Len(t, pinned, 1)
	})
}

func TestClockIsStrictlyIncreasing(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := clock{now: func() time.Time { return fixed }}

	a, b := c.Now(), c.Now()

	assert.True(t, b.After(a))
	assert.Equal(t, time.Microsecond, b.Sub(a))
}

func TestRebind(t *testing.T) {
	q := `SELECT 1 FROM t WHERE a = ? AND b = ?`

	assert.Equal(t, q, rebind(DialectSQLite, q))
	assert.Equal(t, `SELECT 1 FROM t WHERE a = $1 AND b = $2`, rebind(DialectPostgres, q))
}

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]Dialect{"sqlite": DialectSQLite, "MySQL": DialectMySQL, "pgx": DialectPostgres} {
		got, err := ParseDialect(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseDialect("oracle")
	assert.Error(t, err)
}
