// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message/directory persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is a fixed-width RFC 3339 layout for created_at columns. The
// columns are TEXT and every query orders them lexicographically, so each
// timestamp must render at the same width; time.RFC3339Nano trims trailing
// fractional zeros, which would let string order diverge from chronological
// order ("...0.5Z" sorts after "...0.500000001Z"). Timestamps are normalized
// to UTC before formatting so the offset suffix is always "Z".
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			owner_id   TEXT NOT NULL,
			title      TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_owner
			ON conversations(owner_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			owner_id   TEXT NOT NULL,
			sender     TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL,

			FOREIGN KEY (session_id) REFERENCES conversations(id) ON DELETE CASCADE,
			CHECK (sender IN ('user', 'assistant')),
			CHECK (content <> '')
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session_created
			ON messages(session_id, created_at);

		CREATE TABLE IF NOT EXISTS clients (
			id       TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			name     TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_clients_owner ON clients(owner_id);

		CREATE TABLE IF NOT EXISTS lenders (
			id       TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			name     TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_lenders_owner ON lenders(owner_id);

		CREATE TABLE IF NOT EXISTS documents (
			id        TEXT PRIMARY KEY,
			owner_id  TEXT NOT NULL,
			lender_id TEXT NOT NULL,
			name      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id);
		CREATE INDEX IF NOT EXISTS idx_documents_lender ON documents(owner_id, lender_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateConversation inserts a new conversation row.
// Returns ErrDuplicateConversation if the id is already taken.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (id, owner_id, title, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.OwnerID,
		conv.Title,
		conv.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "owner_id", conv.OwnerID)
	return nil
}

// isConstraintViolation checks if the error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// GetConversation retrieves a conversation by id, scoped to the owner.
// Returns ErrNotFound if it doesn't exist or belongs to another owner.
func (s *SQLiteStore) GetConversation(ctx context.Context, ownerID, sessionID string) (*Conversation, error) {
	query := `
		SELECT id, owner_id, title, created_at
		FROM conversations
		WHERE id = ? AND owner_id = ?
	`

	var conv Conversation
	var title sql.NullString
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, sessionID, ownerID).Scan(
		&conv.ID,
		&conv.OwnerID,
		&title,
		&createdAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	if title.Valid {
		conv.Title = &title.String
	}

	conv.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &conv, nil
}

// ListConversations returns the owner's conversations, newest first.
func (s *SQLiteStore) ListConversations(ctx context.Context, ownerID string) ([]*Conversation, error) {
	query := `
		SELECT id, owner_id, title, created_at
		FROM conversations
		WHERE owner_id = ?
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		var conv Conversation
		var title sql.NullString
		var createdAtStr string

		if err := rows.Scan(&conv.ID, &conv.OwnerID, &title, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}

		if title.Valid {
			conv.Title = &title.String
		}

		conv.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}

		convs = append(convs, &conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}

	return convs, nil
}

// SetConversationTitle updates a conversation's display title.
// Returns ErrNotFound if the conversation doesn't exist for this owner.
func (s *SQLiteStore) SetConversationTitle(ctx context.Context, ownerID, sessionID, title string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ? WHERE id = ? AND owner_id = ?`,
		title, sessionID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("updating conversation title: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated conversation title", "id", sessionID)
	return nil
}

// DeleteConversation removes a conversation and all its messages.
// Returns ErrNotFound if the conversation doesn't exist for this owner.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, ownerID, sessionID string) error {
	// Messages cascade via the foreign key, but delete explicitly as well so
	// databases opened without foreign_keys=ON don't leak rows.
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id = ? AND owner_id = ?`,
		sessionID, ownerID,
	); err != nil {
		return fmt.Errorf("deleting conversation messages: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE id = ? AND owner_id = ?`,
		sessionID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted conversation", "id", sessionID, "owner_id", ownerID)
	return nil
}

// AppendMessage persists one message. The message's owner must match the
// owning conversation's owner; appends to missing conversations fail with
// ErrNotFound and cross-owner appends with ErrOwnerMismatch.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.Content == "" {
		return ErrEmptyContent
	}

	var convOwner string
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_id FROM conversations WHERE id = ?`, msg.SessionID,
	).Scan(&convOwner)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("looking up conversation owner: %w", err)
	}
	if convOwner != msg.OwnerID {
		return ErrOwnerMismatch
	}

	query := `
		INSERT INTO messages (id, session_id, owner_id, sender, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		msg.ID,
		msg.SessionID,
		msg.OwnerID,
		msg.Sender,
		msg.Content,
		msg.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("appended message", "id", msg.ID, "session_id", msg.SessionID, "sender", msg.Sender)
	return nil
}

// ListMessages returns a conversation's messages in chronological order
// (oldest first). Returns ErrNotFound if the conversation doesn't exist
// for this owner.
func (s *SQLiteStore) ListMessages(ctx context.Context, ownerID, sessionID string) ([]*Message, error) {
	if _, err := s.GetConversation(ctx, ownerID, sessionID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, session_id, owner_id, sender, content, created_at
		FROM messages
		WHERE session_id = ? AND owner_id = ?
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var createdAtStr string

		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.OwnerID, &msg.Sender, &msg.Content, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// ListClients returns the owner's clients ordered by name.
func (s *SQLiteStore) ListClients(ctx context.Context, ownerID string) ([]*Client, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, name FROM clients WHERE owner_id = ? ORDER BY name`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying clients: %w", err)
	}
	defer rows.Close()

	var clients []*Client
	for rows.Next() {
		var c Client
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name); err != nil {
			return nil, fmt.Errorf("scanning client row: %w", err)
		}
		clients = append(clients, &c)
	}
	return clients, rows.Err()
}

// ListLenders returns the owner's lenders ordered by name.
func (s *SQLiteStore) ListLenders(ctx context.Context, ownerID string) ([]*Lender, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, name FROM lenders WHERE owner_id = ? ORDER BY name`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying lenders: %w", err)
	}
	defer rows.Close()

	var lenders []*Lender
	for rows.Next() {
		var l Lender
		if err := rows.Scan(&l.ID, &l.OwnerID, &l.Name); err != nil {
			return nil, fmt.Errorf("scanning lender row: %w", err)
		}
		lenders = append(lenders, &l)
	}
	return lenders, rows.Err()
}

// ListDocuments returns the owner's documents in insertion order, which the
// docindex relies on for deterministic grouping.
func (s *SQLiteStore) ListDocuments(ctx context.Context, ownerID string) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, lender_id, name FROM documents WHERE owner_id = ? ORDER BY rowid`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.LenderID, &d.Name); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}

// SaveClient inserts or replaces a client record.
func (s *SQLiteStore) SaveClient(ctx context.Context, c *Client) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO clients (id, owner_id, name) VALUES (?, ?, ?)`,
		c.ID, c.OwnerID, c.Name,
	)
	if err != nil {
		return fmt.Errorf("saving client: %w", err)
	}
	return nil
}

// SaveLender inserts or replaces a lender record.
func (s *SQLiteStore) SaveLender(ctx context.Context, l *Lender) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO lenders (id, owner_id, name) VALUES (?, ?, ?)`,
		l.ID, l.OwnerID, l.Name,
	)
	if err != nil {
		return fmt.Errorf("saving lender: %w", err)
	}
	return nil
}

// SaveDocument inserts or replaces a document record.
func (s *SQLiteStore) SaveDocument(ctx context.Context, d *Document) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO documents (id, owner_id, lender_id, name) VALUES (?, ?, ?, ?)`,
		d.ID, d.OwnerID, d.LenderID, d.Name,
	)
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
