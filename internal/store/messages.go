package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChatMessage is one successfully answered widget turn.
type ChatMessage struct {
	ID             string
	SiteID         string
	SessionID      string
	Message        string
	Response       string
	ResponseTimeMs int
	CreatedAt      time.Time
}

// Messages is the chat message repository.
type Messages struct {
	db *sql.DB
}

// NewMessages returns a message repository over the given connection.
func NewMessages(db *sql.DB) *Messages {
	return &Messages{db: db}
}

// Create inserts the message and returns its id.
func (m *Messages) Create(ctx context.Context, msg ChatMessage) (string, error) {
	if msg.SiteID == "" || msg.SessionID == "" {
		return "", errors.New("site id and session id are required")
	}
	id := uuid.NewString()
	if _, err := m.db.ExecContext(ctx, `
		INSERT INTO chat_messages (
			id,
			site_id,
			session_id,
			message,
			response,
			response_time_ms
		) VALUES ($1, $2, $3, $4, $5, $6)
	`, id, msg.SiteID, msg.SessionID, msg.Message, msg.Response, msg.ResponseTimeMs); err != nil {
		return "", fmt.Errorf("insert chat message: %w", err)
	}
	return id, nil
}

// ListBySession returns the session's messages in creation order, oldest
// first, used to rebuild chat history for the generator.
func (m *Messages) ListBySession(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, site_id, session_id, message, response, response_time_ms, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	var messages []ChatMessage
	for rows.Next() {
		var msg ChatMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.SiteID,
			&msg.SessionID,
			&msg.Message,
			&msg.Response,
			&msg.ResponseTimeMs,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	return messages, nil
}
