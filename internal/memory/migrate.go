package memory

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// migration is one schema step. Statements run in order inside a single
// transaction; a statement that fails because its effect is already present
// (an existing column or table) is skipped.
type migration struct {
	version     int
	description string
	statements  []string
}

var migrations = []migration{
	{
		version:     1,
		description: "conversations and messages",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS conversations (
				id          TEXT PRIMARY KEY,
				owner_id    TEXT NOT NULL,
				title       TEXT NOT NULL DEFAULT '',
				created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner_id, updated_at)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id              TEXT PRIMARY KEY,
				seq             INTEGER NOT NULL,
				conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				role            TEXT NOT NULL,
				content         TEXT NOT NULL DEFAULT '',
				created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, created_at, seq)`,
		},
	},
	{
		version:     2,
		description: "conversation context tag",
		statements: []string{
			`ALTER TABLE conversations ADD COLUMN context_type TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE conversations ADD COLUMN context_entity_id TEXT NOT NULL DEFAULT ''`,
		},
	},
	{
		version:     3,
		description: "message attachments",
		statements: []string{
			`ALTER TABLE messages ADD COLUMN attachment_url TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE messages ADD COLUMN attachment_name TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE messages ADD COLUMN attachment_type TEXT NOT NULL DEFAULT ''`,
			`CREATE TABLE IF NOT EXISTS attachments (
				id           TEXT PRIMARY KEY,
				filename     TEXT NOT NULL,
				mime_type    TEXT NOT NULL DEFAULT '',
				size         INTEGER NOT NULL DEFAULT 0,
				storage_path TEXT NOT NULL,
				created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
		},
	},
}

// latestVersion is the schema version a fully migrated database reports.
func latestVersion() int {
	return migrations[len(migrations)-1].version
}

// RunMigrations brings the gateway schema up to date. Applied versions are
// recorded in schema_version, so running it again is a no-op.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version     INTEGER PRIMARY KEY,
		description TEXT,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(db, m, logger); err != nil {
			return err
		}
		logger.Info("schema migrated", "version", m.version, "description", m.description)
	}
	return nil
}

func applyMigration(db *sql.DB, m migration, logger *slog.Logger) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration v%d: %w", m.version, err)
	}
	defer tx.Rollback()

	for i, stmt := range m.statements {
		if _, err := tx.Exec(stmt); err != nil {
			if isAlreadyApplied(err) {
				logger.Debug("migration statement already applied", "version", m.version, "statement", i)
				continue
			}
			return fmt.Errorf("migration v%d statement %d: %w", m.version, i, err)
		}
	}
	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
		m.version, m.description,
	); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration v%d: %w", m.version, err)
	}
	return nil
}

func isAlreadyApplied(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}

// SchemaVersion reports the highest applied migration, or 0 for a database
// that has never been migrated.
func SchemaVersion(db *sql.DB) (int, error) {
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("look up schema_version: %w", err)
	}

	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return version, nil
}
