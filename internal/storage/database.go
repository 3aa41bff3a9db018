package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect names the SQL flavour of an open database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect maps a DB_DRIVER value onto a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "mysql":
		return DialectMySQL, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", driver)
	}
}

// Open connects to the database selected by driver.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, Dialect, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, "", err
	}
	if dsn == "" {
		return nil, "", fmt.Errorf("%s dsn must be provided", dialect)
	}

	var db *sql.DB
	switch dialect {
	case DialectSQLite:
		db, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, "", fmt.Errorf("open sqlite database: %w", err)
		}
		// sqlite allows one writer; a single connection also keeps
		// ":memory:" databases alive across calls.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, "", fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case DialectMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		// RowsAffected reports matched rows, as the other drivers do.
		cfg.ClientFoundRows = true
		connector, err := mysql.NewConnector(cfg)
		if err != nil {
			return nil, "", fmt.Errorf("open mysql database: %w", err)
		}
		db = sql.OpenDB(connector)
	case DialectPostgres:
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres database: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("ping database: %w", err)
	}
	return db, dialect, nil
}

// Migrate ensures the required tables are present.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	var stmts []string
	switch dialect {
	case DialectSQLite:
		stmts = sqliteSchema
	case DialectMySQL:
		stmts = mysqlSchema
	case DialectPostgres:
		stmts = postgresSchema
	default:
		return fmt.Errorf("unsupported dialect: %s", dialect)
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// rebind rewrites `?` placeholders as `$n` for postgres.
func rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS worlds (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		lore TEXT NOT NULL,
		rules TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS characters (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		world_id TEXT,
		name TEXT NOT NULL,
		avatar_url TEXT NOT NULL,
		description TEXT NOT NULL,
		personality TEXT NOT NULL,
		backstory TEXT NOT NULL,
		speaking_style TEXT NOT NULL,
		rules TEXT NOT NULL,
		example_messages TEXT NOT NULL,
		is_rpg_enabled BOOLEAN NOT NULL,
		base_stats TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		character_id TEXT NOT NULL,
		title TEXT NOT NULL,
		is_rpg_mode BOOLEAN NOT NULL,
		rpg_state TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		is_dice_roll BOOLEAN NOT NULL,
		dice_result TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS memory_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		character_id TEXT,
		world_id TEXT,
		content TEXT NOT NULL,
		category TEXT NOT NULL,
		is_pinned BOOLEAN NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_characters_user ON characters(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_character ON chat_sessions(character_id, updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_user ON memory_entries(user_id, created_at)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS worlds (
		id VARCHAR(36) NOT NULL,
		user_id VARCHAR(191) NOT NULL,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL,
		lore MEDIUMTEXT NOT NULL,
		rules TEXT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		PRIMARY KEY (id),
		INDEX idx_worlds_user (user_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS characters (
		id VARCHAR(36) NOT NULL,
		user_id VARCHAR(191) NOT NULL,
		world_id VARCHAR(36) NULL,
		name VARCHAR(255) NOT NULL,
		avatar_url TEXT NOT NULL,
		description TEXT NOT NULL,
		personality TEXT NOT NULL,
		backstory MEDIUMTEXT NOT NULL,
		speaking_style TEXT NOT NULL,
		rules TEXT NOT NULL,
		example_messages MEDIUMTEXT NOT NULL,
		is_rpg_enabled BOOLEAN NOT NULL,
		base_stats TEXT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		PRIMARY KEY (id),
		INDEX idx_characters_user (user_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS chat_sessions (
		id VARCHAR(36) NOT NULL,
		user_id VARCHAR(191) NOT NULL,
		character_id VARCHAR(36) NOT NULL,
		title VARCHAR(255) NOT NULL,
		is_rpg_mode BOOLEAN NOT NULL,
		rpg_state TEXT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		PRIMARY KEY (id),
		INDEX idx_sessions_character (character_id, updated_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS messages (
		id VARCHAR(36) NOT NULL,
		session_id VARCHAR(36) NOT NULL,
		role VARCHAR(16) NOT NULL,
		content MEDIUMTEXT NOT NULL,
		is_dice_roll BOOLEAN NOT NULL,
		dice_result TEXT NULL,
		created_at DATETIME(6) NOT NULL,
		PRIMARY KEY (id),
		INDEX idx_messages_session (session_id, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS memory_entries (
		id VARCHAR(36) NOT NULL,
		user_id VARCHAR(191) NOT NULL,
		character_id VARCHAR(36) NULL,
		world_id VARCHAR(36) NULL,
		content TEXT NOT NULL,
		category VARCHAR(64) NOT NULL,
		is_pinned BOOLEAN NOT NULL,
		created_at DATETIME(6) NOT NULL,
		PRIMARY KEY (id),
		INDEX idx_memories_user (user_id, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS worlds (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		lore TEXT NOT NULL,
		rules TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS characters (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		world_id TEXT,
		name TEXT NOT NULL,
		avatar_url TEXT NOT NULL,
		description TEXT NOT NULL,
		personality TEXT NOT NULL,
		backstory TEXT NOT NULL,
		speaking_style TEXT NOT NULL,
		rules TEXT NOT NULL,
		example_messages TEXT NOT NULL,
		is_rpg_enabled BOOLEAN NOT NULL,
		base_stats TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		character_id TEXT NOT NULL,
		title TEXT NOT NULL,
		is_rpg_mode BOOLEAN NOT NULL,
		rpg_state TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		is_dice_roll BOOLEAN NOT NULL,
		dice_result TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS memory_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		character_id TEXT,
		world_id TEXT,
		content TEXT NOT NULL,
		category TEXT NOT NULL,
		is_pinned BOOLEAN NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_characters_user ON characters(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_character ON chat_sessions(character_id, updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_user ON memory_entries(user_id, created_at)`,
}
