package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/quendale/supportchat/internal/model/chat"
)

var (
	// ErrSessionNotFound means no session row exists for the id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrConflict means an insert violated a uniqueness or ownership constraint.
	ErrConflict = errors.New("record conflict")
)

// InsertListener observes successfully inserted message rows. The realtime
// hub implements it; the store is the single producer of insert events.
type InsertListener interface {
	MessageInserted(msg chat.Message)
}

// SQLiteStore persists session and message records.
type SQLiteStore struct {
	db       *sql.DB
	listener InsertListener
}

// NewSQLiteStore opens (and if needed initializes) the database at
// dataSourceName. Pass ":memory:" for tests.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err = s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// SetInsertListener registers the listener notified on message inserts.
func (s *SQLiteStore) SetInsertListener(l InsertListener) {
	s.listener = l
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS sessions (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT,
        anon_id TEXT,
        created_at DATETIME NOT NULL,
        CHECK ((user_id IS NULL) <> (anon_id IS NULL))
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        session_id TEXT NOT NULL,
        sender_role TEXT NOT NULL CHECK (sender_role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (session_id) REFERENCES sessions (id)
    );

    CREATE INDEX IF NOT EXISTS idx_messages_session_created
        ON messages (session_id, created_at);
    `
	_, err := s.db.Exec(schema)
	return err
}

// CreateSession inserts a session bound to exactly one of userID/anonID.
func (s *SQLiteStore) CreateSession(ctx context.Context, userID, anonID string) (chat.Session, error) {
	session := chat.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		AnonID:    anonID,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, user_id, anon_id, created_at) VALUES (?, ?, ?, ?)",
		session.ID, nullable(userID), nullable(anonID), session.CreatedAt,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return chat.Session{}, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return chat.Session{}, fmt.Errorf("failed to insert session: %w", err)
	}
	return session, nil
}

// GetSession fetches a session row by id.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	var (
		session chat.Session
		userID  sql.NullString
		anonID  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, anon_id, created_at FROM sessions WHERE id = ?", sessionID,
	).Scan(&session.ID, &userID, &anonID, &session.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Session{}, ErrSessionNotFound
		}
		return chat.Session{}, fmt.Errorf("failed to query session: %w", err)
	}

	session.UserID = userID.String
	session.AnonID = anonID.String
	return session, nil
}

// InsertMessage persists a message row, assigning the server id and
// timestamp, and notifies the insert listener. The stored row comes back
// through msg so callers can merge the authoritative version.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *chat.Message) error {
	if msg.SessionID == "" {
		return ErrSessionNotFound
	}

	msg.ID = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.Origin = chat.OriginConfirmed

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (id, session_id, sender_role, content, created_at) VALUES (?, ?, ?, ?, ?)",
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, msg.CreatedAt,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}

	if s.listener != nil {
		s.listener.MessageInserted(*msg)
	}
	return nil
}

// ListMessages returns all messages for a session ordered by created_at
// ascending, insert order breaking ties.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, session_id, sender_role, content, created_at FROM messages WHERE session_id = ? ORDER BY created_at ASC, rowid ASC",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var (
			msg  chat.Message
			role string
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = chat.Role(role)
		msg.Origin = chat.OriginConfirmed
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
