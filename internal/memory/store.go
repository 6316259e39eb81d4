// Package memory persists conversations, messages and attachment metadata
// in SQLite.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"recruitbot/internal/domain"
)

// ErrNotFound is returned when a conversation or attachment does not exist.
var ErrNotFound = errors.New("not found")

// AttachmentRecord is the metadata of an uploaded file.
type AttachmentRecord struct {
	ID          string
	Filename    string
	MimeType    string
	Size        int64
	StoragePath string
	CreatedAt   time.Time
}

// SQLiteStore implements domain.ConversationService using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, in domain.NewConversation) (*domain.Conversation, error) {
	if strings.TrimSpace(in.OwnerID) == "" {
		return nil, errors.New("owner id is required")
	}
	now := time.Now().UTC()
	conv := domain.Conversation{
		ID:        uuid.NewString(),
		OwnerID:   in.OwnerID,
		Title:     in.Title,
		Context:   in.Context,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, owner_id, title, context_type, context_entity_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.OwnerID, conv.Title, string(conv.Context.Kind), conv.Context.EntityID, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return &conv, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, context_type, context_entity_id, created_at, updated_at
		 FROM conversations WHERE id = ?`, id,
	)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversations returns the owner's conversations, most recently
// updated first.
func (s *SQLiteStore) ListConversations(ctx context.Context, ownerID string) ([]domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, title, context_type, context_entity_id, created_at, updated_at
		 FROM conversations WHERE owner_id = ? ORDER BY updated_at DESC`, ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	convs := []domain.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

func (s *SQLiteStore) RenameConversation(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res, "conversation", id)
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := requireRow(res, "conversation", id); err != nil {
		return err
	}
	return tx.Commit()
}

// AddMessage persists msg, assigning an id and timestamp when missing, and
// bumps the conversation's updated_at.
func (s *SQLiteStore) AddMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	var attURL, attName, attType string
	if msg.Attachment != nil {
		attURL, attName, attType = msg.Attachment.URL, msg.Attachment.Name, msg.Attachment.MediaType
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return msg, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, msg.CreatedAt, msg.ConversationID,
	)
	if err != nil {
		return msg, err
	}
	if err := requireRow(res, "conversation", msg.ConversationID); err != nil {
		return msg, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, seq, conversation_id, role, content, attachment_url, attachment_name, attachment_type, created_at)
		 VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages), ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, attURL, attName, attType, msg.CreatedAt,
	)
	if err != nil {
		return msg, fmt.Errorf("insert message: %w", err)
	}
	return msg, tx.Commit()
}

// ListMessages returns the conversation's messages, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, attachment_url, attachment_name, attachment_type, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at ASC, seq ASC`, conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		var role, attURL, attName, attType string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content,
			&attURL, &attName, &attType, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		if attURL != "" {
			m.Attachment = &domain.Attachment{URL: attURL, Name: attName, MediaType: attType}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) SaveAttachment(ctx context.Context, rec AttachmentRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attachments (id, filename, mime_type, size, storage_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Filename, rec.MimeType, rec.Size, rec.StoragePath, rec.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) GetAttachment(ctx context.Context, id string) (*AttachmentRecord, error) {
	var rec AttachmentRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, filename, mime_type, size, storage_path, created_at FROM attachments WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Filename, &rec.MimeType, &rec.Size, &rec.StoragePath, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attachment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(r rowScanner) (*domain.Conversation, error) {
	var (
		c        domain.Conversation
		kind, id string
	)
	if err := r.Scan(&c.ID, &c.OwnerID, &c.Title, &kind, &id, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Context = domain.ContextTag{Kind: domain.ContextKind(kind), EntityID: id}
	return &c, nil
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
