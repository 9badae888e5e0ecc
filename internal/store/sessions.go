package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// WidgetSession tracks one browser tab talking to the widget. The id is
// caller-supplied and stable per tab.
type WidgetSession struct {
	ID            string
	SiteID        string
	IPAddressHash string
	UserEmail     string
	MessageCount  int
	FirstSeenAt   time.Time
	LastSeenAt    time.Time
}

// Sessions is the widget session repository.
type Sessions struct {
	db *sql.DB
}

// NewSessions returns a session repository over the given connection.
func NewSessions(db *sql.DB) *Sessions {
	return &Sessions{db: db}
}

// Upsert creates the session or bumps last-seen. An email captured later in
// the session overwrites an empty one but never erases a previous capture.
func (s *Sessions) Upsert(ctx context.Context, session WidgetSession) error {
	if session.ID == "" || session.SiteID == "" {
		return errors.New("session id and site id are required")
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO widget_sessions (id, site_id, ip_address_hash, user_email)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		ON CONFLICT (id) DO UPDATE SET
			last_seen_at = now(),
			user_email = COALESCE(NULLIF(EXCLUDED.user_email, ''), widget_sessions.user_email)
	`, session.ID, session.SiteID, session.IPAddressHash, session.UserEmail); err != nil {
		return fmt.Errorf("upsert widget session: %w", err)
	}
	return nil
}

// IncrementMessageCount bumps the session's message counter.
func (s *Sessions) IncrementMessageCount(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE widget_sessions
		SET message_count = message_count + 1
		WHERE id = $1
	`, sessionID)
	if err != nil {
		return fmt.Errorf("increment message count: %w", err)
	}
	return requireRow(result)
}

// FindByID returns the session or ErrNotFound.
func (s *Sessions) FindByID(ctx context.Context, sessionID string) (*WidgetSession, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}

	var session WidgetSession
	var email sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, ip_address_hash, user_email, message_count, first_seen_at, last_seen_at
		FROM widget_sessions
		WHERE id = $1
	`, sessionID).Scan(
		&session.ID,
		&session.SiteID,
		&session.IPAddressHash,
		&email,
		&session.MessageCount,
		&session.FirstSeenAt,
		&session.LastSeenAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find widget session: %w", err)
	}
	session.UserEmail = email.String
	return &session, nil
}
