package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/avelkov/concierge-server/internal/store"
)

// Schema is applied on startup. AUTOINCREMENT on messages guarantees that
// identifiers never get reused and grow in insert order, which is what the
// chat layer's ordering contract rests on.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	email         TEXT NOT NULL UNIQUE,
	full_name     TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	is_admin      BOOLEAN NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS requests (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	reference   TEXT NOT NULL UNIQUE,
	user_id     INTEGER NOT NULL,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'open',
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS conversations (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id INTEGER NOT NULL UNIQUE,
	user_id    INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (request_id) REFERENCES requests(id),
	FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id INTEGER NOT NULL,
	sender_id       INTEGER NOT NULL,
	sender_role     TEXT NOT NULL,
	content         TEXT NOT NULL,
	created_at      DATETIME NOT NULL,
	FOREIGN KEY (conversation_id) REFERENCES conversations(id),
	FOREIGN KEY (sender_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);
CREATE INDEX IF NOT EXISTS idx_requests_user ON requests(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, created_at DESC);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Tests use it with ":memory:" and a custom schema or seed data.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; this also serializes
	// concurrent message appends, which the ordering contract relies on.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, email, fullName, passwordHash string, isAdmin bool) (*store.User, error) {
	query := `
		INSERT INTO users (email, full_name, password_hash, is_admin)
		VALUES (?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, email, fullName, passwordHash, isAdmin)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, email, full_name, password_hash, is_admin, created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	query := `
		SELECT id, email, full_name, password_hash, is_admin, created_at
		FROM users
		WHERE email = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, email))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var user store.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.PasswordHash,
		&user.IsAdmin,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// ==== RequestStore implementation ====

// CreateRequest creates a request and its conversation in one transaction.
func (s *SQLiteStore) CreateRequest(ctx context.Context, userID int64, reference, title, description string) (*store.Request, *store.Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO requests (reference, user_id, title, description, status)
		VALUES (?, ?, ?, ?, ?)
	`, reference, userID, title, description, store.RequestStatusOpen)
	if err != nil {
		return nil, nil, fmt.Errorf("insert request: %w", err)
	}

	requestID, err := result.LastInsertId()
	if err != nil {
		return nil, nil, fmt.Errorf("get last insert id: %w", err)
	}

	result, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (request_id, user_id)
		VALUES (?, ?)
	`, requestID, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("insert conversation: %w", err)
	}

	conversationID, err := result.LastInsertId()
	if err != nil {
		return nil, nil, fmt.Errorf("get last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}

	req, err := s.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	conv, err := s.GetConversationByID(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}

	return req, conv, nil
}

// GetRequestByID retrieves a request by ID.
func (s *SQLiteStore) GetRequestByID(ctx context.Context, id int64) (*store.Request, error) {
	query := `
		SELECT id, reference, user_id, title, description, status, created_at
		FROM requests
		WHERE id = ?
	`
	var req store.Request
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&req.ID,
		&req.Reference,
		&req.UserID,
		&req.Title,
		&req.Description,
		&req.Status,
		&req.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query request: %w", err)
	}

	return &req, nil
}

// ListRequests lists requests for a user, newest first. userID 0 lists all.
func (s *SQLiteStore) ListRequests(ctx context.Context, userID int64, limit, offset int) ([]*store.Request, error) {
	query := `
		SELECT id, reference, user_id, title, description, status, created_at
		FROM requests
	`
	args := []any{}
	if userID != 0 {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	var requests []*store.Request
	for rows.Next() {
		var req store.Request
		if err := rows.Scan(&req.ID, &req.Reference, &req.UserID, &req.Title, &req.Description, &req.Status, &req.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		requests = append(requests, &req)
	}

	return requests, rows.Err()
}

// UpdateRequestStatus transitions a request's status.
func (s *SQLiteStore) UpdateRequestStatus(ctx context.Context, id int64, status store.RequestStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE requests SET status = ? WHERE id = ?
	`, status, id)
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	return nil
}

// ==== ConversationStore implementation ====

// GetConversationByID retrieves a conversation by ID.
func (s *SQLiteStore) GetConversationByID(ctx context.Context, id int64) (*store.Conversation, error) {
	query := `
		SELECT id, request_id, user_id, created_at
		FROM conversations
		WHERE id = ?
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, id))
}

// GetConversationByRequestID retrieves the conversation linked to a request.
func (s *SQLiteStore) GetConversationByRequestID(ctx context.Context, requestID int64) (*store.Conversation, error) {
	query := `
		SELECT id, request_id, user_id, created_at
		FROM conversations
		WHERE request_id = ?
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, requestID))
}

func (s *SQLiteStore) scanConversation(row *sql.Row) (*store.Conversation, error) {
	var conv store.Conversation
	err := row.Scan(&conv.ID, &conv.RequestID, &conv.UserID, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	return &conv, nil
}

// ListConversations lists conversations for a user, newest first. userID 0 lists all.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID int64, limit, offset int) ([]*store.Conversation, error) {
	query := `
		SELECT id, request_id, user_id, created_at
		FROM conversations
	`
	args := []any{}
	if userID != 0 {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*store.Conversation
	for rows.Next() {
		var conv store.Conversation
		if err := rows.Scan(&conv.ID, &conv.RequestID, &conv.UserID, &conv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, &conv)
	}

	return conversations, rows.Err()
}

// ==== MessageStore implementation ====

// AppendMessage atomically persists a message for an existing conversation.
// The conversation existence check and the insert run in one transaction on
// the store's single write connection, so concurrent appends serialize and
// the assigned identifiers match completion order.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID, senderID int64, role store.SenderRole, content string) (*store.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, store.ErrEmptyContent
	}
	if !role.Valid() {
		return nil, fmt.Errorf("invalid sender role %q", role)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	createdAt := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, sender_role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, conversationID, senderID, role, content, createdAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &store.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderRole:     role,
		Content:        content,
		CreatedAt:      createdAt,
	}, nil
}

// ListMessagesSince returns messages with ID greater than afterID, oldest first.
func (s *SQLiteStore) ListMessagesSince(ctx context.Context, conversationID, afterID int64, limit int) ([]*store.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, sender_role, content, created_at
		FROM messages
		WHERE conversation_id = ? AND id > ?
		ORDER BY id ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.SenderRole, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

// LastMessage returns the newest message in a conversation.
func (s *SQLiteStore) LastMessage(ctx context.Context, conversationID int64) (*store.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, sender_role, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY id DESC
		LIMIT 1
	`
	var msg store.Message
	err := s.db.QueryRowContext(ctx, query, conversationID).Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.SenderRole,
		&msg.Content,
		&msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query last message: %w", err)
	}

	return &msg, nil
}
