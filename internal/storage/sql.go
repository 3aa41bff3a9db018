package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-tavern/rpg/internal/model/character"
	"github.com/zhouzirui/z-tavern/rpg/internal/model/chat"
	"github.com/zhouzirui/z-tavern/rpg/internal/rpg"
	"github.com/zhouzirui/z-tavern/rpg/internal/rpg/dice"
)

// SQLStore implements Store over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	clock   clock
}

// NewSQLStore wraps an open database. Call Migrate first.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// OpenSQLStore opens, migrates and wraps the database in one step.
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	db, dialect, err := Open(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db, dialect); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLStore(db, dialect), nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, rebind(s.dialect, q), args...)
}

func (s *SQLStore) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, rebind(s.dialect, q), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, rebind(s.dialect, q), args...)
}

// inTx runs fn in a transaction; the statement helpers on tx rebind too.
func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLStore) txExec(ctx context.Context, tx *sql.Tx, q string, args ...any) (sql.Result, error) {
	return tx.ExecContext(ctx, rebind(s.dialect, q), args...)
}

func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func encodeJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const characterColumns = `id, user_id, world_id, name, avatar_url, description, personality,
	backstory, speaking_style, rules, example_messages, is_rpg_enabled, base_stats,
	created_at, updated_at`

func scanCharacter(row rowScanner) (character.Character, error) {
	var (
		c       character.Character
		worldID sql.NullString
		stats   sql.NullString
	)
	err := row.Scan(&c.ID, &c.UserID, &worldID, &c.Name, &c.AvatarURL, &c.Description,
		&c.Personality, &c.Backstory, &c.SpeakingStyle, &c.Rules, &c.ExampleMessages,
		&c.IsRPGEnabled, &stats, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return character.Character{}, err
	}
	c.WorldID = worldID.String
	if stats.Valid && stats.String != "" {
		var st character.Stats
		if err := json.Unmarshal([]byte(stats.String), &st); err != nil {
			return character.Character{}, fmt.Errorf("decode base_stats: %w", err)
		}
		c.BaseStats = &st
	}
	c.CreatedAt, c.UpdatedAt = c.CreatedAt.UTC(), c.UpdatedAt.UTC()
	return c, nil
}

func (s *SQLStore) CreateCharacter(ctx context.Context, c *character.Character) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := s.clock.Now()
	c.CreatedAt, c.UpdatedAt = now, now

	stats, err := encodeStats(c.BaseStats)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO characters (`+characterColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, nullable(c.WorldID), c.Name, c.AvatarURL, c.Description, c.Personality,
		c.Backstory, c.SpeakingStyle, c.Rules, c.ExampleMessages, c.IsRPGEnabled, stats,
		c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert character: %w", err)
	}
	return nil
}

func encodeStats(stats *character.Stats) (sql.NullString, error) {
	if stats == nil {
		return sql.NullString{}, nil
	}
	v, err := encodeJSON(stats)
	if err != nil {
		return v, fmt.Errorf("encode base_stats: %w", err)
	}
	return v, nil
}

func (s *SQLStore) GetCharacter(ctx context.Context, userID, id string) (character.Character, error) {
	c, err := scanCharacter(s.queryRow(ctx,
		`SELECT `+characterColumns+` FROM characters WHERE id = ? AND user_id = ?`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return character.Character{}, ErrNotFound
	}
	if err != nil {
		return character.Character{}, fmt.Errorf("select character: %w", err)
	}
	return c, nil
}

func (s *SQLStore) ListCharacters(ctx context.Context, userID string) ([]character.Character, error) {
	rows, err := s.query(ctx,
		`SELECT `+characterColumns+` FROM characters WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	defer rows.Close()

	out := make([]character.Character, 0)
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan character: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateCharacter(ctx context.Context, c *character.Character) error {
	existing, err := s.GetCharacter(ctx, c.UserID, c.ID)
	if err != nil {
		return err
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = s.clock.Now()

	stats, err := encodeStats(c.BaseStats)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, `UPDATE characters SET world_id = ?, name = ?, avatar_url = ?,
		description = ?, personality = ?, backstory = ?, speaking_style = ?, rules = ?,
		example_messages = ?, is_rpg_enabled = ?, base_stats = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		nullable(c.WorldID), c.Name, c.AvatarURL, c.Description, c.Personality, c.Backstory,
		c.SpeakingStyle, c.Rules, c.ExampleMessages, c.IsRPGEnabled, stats, c.UpdatedAt,
		c.ID, c.UserID)
	if err != nil {
		return fmt.Errorf("update character: %w", err)
	}
	return affectedOne(res)
}

func (s *SQLStore) DeleteCharacter(ctx context.Context, userID, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := s.txExec(ctx, tx, `DELETE FROM characters WHERE id = ? AND user_id = ?`, id, userID)
		if err != nil {
			return fmt.Errorf("delete character: %w", err)
		}
		if err := affectedOne(res); err != nil {
			return err
		}
		if _, err := s.txExec(ctx, tx,
			`DELETE FROM messages WHERE session_id IN (SELECT id FROM chat_sessions WHERE character_id = ?)`, id); err != nil {
			return fmt.Errorf("delete character messages: %w", err)
		}
		if _, err := s.txExec(ctx, tx, `DELETE FROM chat_sessions WHERE character_id = ?`, id); err != nil {
			return fmt.Errorf("delete character sessions: %w", err)
		}
		if _, err := s.txExec(ctx, tx, `DELETE FROM memory_entries WHERE character_id = ?`, id); err != nil {
			return fmt.Errorf("delete character memories: %w", err)
		}
		return nil
	})
}

const worldColumns = `id, user_id, name, description, lore, rules, created_at, updated_at`

func scanWorld(row rowScanner) (character.World, error) {
	var w character.World
	if err := row.Scan(&w.ID, &w.UserID, &w.Name, &w.Description, &w.Lore, &w.Rules,
		&w.CreatedAt, &w.UpdatedAt); err != nil {
		return character.World{}, err
	}
	w.CreatedAt, w.UpdatedAt = w.CreatedAt.UTC(), w.UpdatedAt.UTC()
	return w, nil
}

func (s *SQLStore) CreateWorld(ctx context.Context, w *character.World) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	now := s.clock.Now()
	w.CreatedAt, w.UpdatedAt = now, now

	_, err := s.exec(ctx, `INSERT INTO worlds (`+worldColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.UserID, w.Name, w.Description, w.Lore, w.Rules, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert world: %w", err)
	}
	return nil
}

func (s *SQLStore) GetWorld(ctx context.Context, userID, id string) (character.World, error) {
	w, err := scanWorld(s.queryRow(ctx,
		`SELECT `+worldColumns+` FROM worlds WHERE id = ? AND user_id = ?`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return character.World{}, ErrNotFound
	}
	if err != nil {
		return character.World{}, fmt.Errorf("select world: %w", err)
	}
	return w, nil
}

func (s *SQLStore) ListWorlds(ctx context.Context, userID string) ([]character.World, error) {
	rows, err := s.query(ctx,
		`SELECT `+worldColumns+` FROM worlds WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list worlds: %w", err)
	}
	defer rows.Close()

	out := make([]character.World, 0)
	for rows.Next() {
		w, err := scanWorld(rows)
		if err != nil {
			return nil, fmt.Errorf("scan world: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateWorld(ctx context.Context, w *character.World) error {
	existing, err := s.GetWorld(ctx, w.UserID, w.ID)
	if err != nil {
		return err
	}
	w.CreatedAt = existing.CreatedAt
	w.UpdatedAt = s.clock.Now()

	res, err := s.exec(ctx, `UPDATE worlds SET name = ?, description = ?, lore = ?, rules = ?,
		updated_at = ? WHERE id = ? AND user_id = ?`,
		w.Name, w.Description, w.Lore, w.Rules, w.UpdatedAt, w.ID, w.UserID)
	if err != nil {
		return fmt.Errorf("update world: %w", err)
	}
	return affectedOne(res)
}

func (s *SQLStore) DeleteWorld(ctx context.Context, userID, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := s.txExec(ctx, tx, `DELETE FROM worlds WHERE id = ? AND user_id = ?`, id, userID)
		if err != nil {
			return fmt.Errorf("delete world: %w", err)
		}
		if err := affectedOne(res); err != nil {
			return err
		}
		if _, err := s.txExec(ctx, tx, `UPDATE characters SET world_id = NULL WHERE world_id = ?`, id); err != nil {
			return fmt.Errorf("detach world: %w", err)
		}
		return nil
	})
}

const sessionColumns = `id, user_id, character_id, title, is_rpg_mode, rpg_state, created_at, updated_at`

func scanSession(row rowScanner) (chat.Session, error) {
	var (
		sess  chat.Session
		state sql.NullString
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.CharacterID, &sess.Title, &sess.IsRPGMode,
		&state, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return chat.Session{}, err
	}
	var raw []byte
	if state.Valid {
		raw = []byte(state.String)
	}
	decoded, err := rpg.DecodeState(raw)
	if err != nil {
		return chat.Session{}, err
	}
	sess.RPGState = decoded
	sess.CreatedAt, sess.UpdatedAt = sess.CreatedAt.UTC(), sess.UpdatedAt.UTC()
	return sess, nil
}

func encodeState(state rpg.State) (sql.NullString, error) {
	raw, err := state.Encode()
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode rpg_state: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func (s *SQLStore) CreateSession(ctx context.Context, sess *chat.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := s.clock.Now()
	sess.CreatedAt, sess.UpdatedAt = now, now

	state, err := encodeState(sess.RPGState)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO chat_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.CharacterID, sess.Title, sess.IsRPGMode, state,
		sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLStore) GetSession(ctx context.Context, userID, id string) (chat.Session, error) {
	sess, err := scanSession(s.queryRow(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions WHERE id = ? AND user_id = ?`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, ErrNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("select session: %w", err)
	}
	return sess, nil
}

func (s *SQLStore) ListSessions(ctx context.Context, userID, characterID string) ([]chat.Session, error) {
	rows, err := s.query(ctx, `SELECT `+sessionColumns+` FROM chat_sessions
		WHERE user_id = ? AND character_id = ? ORDER BY updated_at DESC`, userID, characterID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]chat.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateSessionState(ctx context.Context, id string, state rpg.State) error {
	encoded, err := encodeState(state)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, `UPDATE chat_sessions SET rpg_state = ?, updated_at = ? WHERE id = ?`,
		encoded, s.clock.Now(), id)
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}
	return affectedOne(res)
}

func (s *SQLStore) DeleteSession(ctx context.Context, userID, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := s.txExec(ctx, tx, `DELETE FROM chat_sessions WHERE id = ? AND user_id = ?`, id, userID)
		if err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		if err := affectedOne(res); err != nil {
			return err
		}
		if _, err := s.txExec(ctx, tx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
			return fmt.Errorf("delete session messages: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) AppendMessage(ctx context.Context, m *chat.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = s.clock.Now()

	var result sql.NullString
	if m.DiceResult != nil {
		v, err := encodeJSON(m.DiceResult)
		if err != nil {
			return fmt.Errorf("encode dice_result: %w", err)
		}
		result = v
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := s.txExec(ctx, tx, `UPDATE chat_sessions SET updated_at = ? WHERE id = ?`, m.CreatedAt, m.SessionID)
		if err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		if err := affectedOne(res); err != nil {
			return err
		}
		_, err = s.txExec(ctx, tx, `INSERT INTO messages
			(id, session_id, role, content, is_dice_roll, dice_result, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.SessionID, string(m.Role), m.Content, m.IsDiceRoll, result, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	var exists int
	err := s.queryRow(ctx, `SELECT 1 FROM chat_sessions WHERE id = ?`, sessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}

	rows, err := s.query(ctx, `SELECT id, session_id, role, content, is_dice_roll, dice_result, created_at
		FROM messages WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]chat.Message, 0)
	for rows.Next() {
		var (
			m      chat.Message
			role   string
			result sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &m.IsDiceRoll, &result, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = chat.Role(role)
		m.CreatedAt = m.CreatedAt.UTC()
		if result.Valid && result.String != "" {
			var r dice.Result
			if err := json.Unmarshal([]byte(result.String), &r); err != nil {
				return nil, fmt.Errorf("decode dice_result: %w", err)
			}
			m.DiceResult = &r
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLStore) AddMemory(ctx context.Context, m *chat.MemoryEntry) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = s.clock.Now()

	_, err := s.exec(ctx, `INSERT INTO memory_entries
		(id, user_id, character_id, world_id, content, category, is_pinned, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, nullable(m.CharacterID), nullable(m.WorldID), m.Content, m.Category,
		m.IsPinned, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func (s *SQLStore) ListMemories(ctx context.Context, userID string, filter MemoryFilter) ([]chat.MemoryEntry, error) {
	q := `SELECT id, user_id, character_id, world_id, content, category, is_pinned, created_at
		FROM memory_entries WHERE user_id = ?`
	args := []any{userID}
	if filter.CharacterID != "" {
		q += ` AND character_id = ?`
		args = append(args, filter.CharacterID)
	}
	if filter.WorldID != "" {
		q += ` AND world_id = ?`
		args = append(args, filter.WorldID)
	}
	if filter.PinnedOnly {
		q += ` AND is_pinned = ?`
		args = append(args, true)
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	out := make([]chat.MemoryEntry, 0)
	for rows.Next() {
		var (
			m           chat.MemoryEntry
			characterID sql.NullString
			worldID     sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.UserID, &characterID, &worldID, &m.Content, &m.Category,
			&m.IsPinned, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.CharacterID, m.WorldID = characterID.String, worldID.String
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteMemory(ctx context.Context, userID, id string) error {
	res, err := s.exec(ctx, `DELETE FROM memory_entries WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	return affectedOne(res)
}
