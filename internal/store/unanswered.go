package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UnansweredQuestion captures a user question no knowledge chunk could
// ground, for later human follow-up.
type UnansweredQuestion struct {
	ID             string
	SiteID         string
	SessionID      string
	UserEmail      string
	Question       string
	BestMatchScore float64
	Resolved       bool
	CreatedAt      time.Time
}

// Unanswered is the unanswered question repository.
type Unanswered struct {
	db *sql.DB
}

// NewUnanswered returns an unanswered question repository.
func NewUnanswered(db *sql.DB) *Unanswered {
	return &Unanswered{db: db}
}

// Create inserts the question and returns its id.
func (u *Unanswered) Create(ctx context.Context, question UnansweredQuestion) (string, error) {
	if question.SiteID == "" || question.Question == "" {
		return "", errors.New("site id and question are required")
	}
	id := uuid.NewString()
	if _, err := u.db.ExecContext(ctx, `
		INSERT INTO unanswered_questions (
			id,
			site_id,
			session_id,
			user_email,
			question,
			best_match_score
		) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
	`, id, question.SiteID, question.SessionID, question.UserEmail, question.Question, question.BestMatchScore); err != nil {
		return "", fmt.Errorf("insert unanswered question: %w", err)
	}
	return id, nil
}

// AttachEmail records the visitor's email on an existing question, the
// follow-up path offered by the widget after a no-answer turn.
func (u *Unanswered) AttachEmail(ctx context.Context, questionID, email string) error {
	if questionID == "" || email == "" {
		return errors.New("question id and email are required")
	}
	result, err := u.db.ExecContext(ctx, `
		UPDATE unanswered_questions
		SET user_email = $2
		WHERE id = $1
	`, questionID, email)
	if err != nil {
		return fmt.Errorf("attach email: %w", err)
	}
	return requireRow(result)
}

// ListBySite returns a site's unanswered questions, newest first.
func (u *Unanswered) ListBySite(ctx context.Context, siteID string, includeResolved bool) ([]UnansweredQuestion, error) {
	if siteID == "" {
		return nil, errors.New("site id is required")
	}

	rows, err := u.db.QueryContext(ctx, `
		SELECT id, site_id, session_id, user_email, question, best_match_score, resolved, created_at
		FROM unanswered_questions
		WHERE site_id = $1
		  AND (resolved = false OR $2)
		ORDER BY created_at DESC
	`, siteID, includeResolved)
	if err != nil {
		return nil, fmt.Errorf("list unanswered questions: %w", err)
	}
	defer rows.Close()

	var questions []UnansweredQuestion
	for rows.Next() {
		var q UnansweredQuestion
		var email sql.NullString
		if err := rows.Scan(
			&q.ID,
			&q.SiteID,
			&q.SessionID,
			&email,
			&q.Question,
			&q.BestMatchScore,
			&q.Resolved,
			&q.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan unanswered question: %w", err)
		}
		q.UserEmail = email.String
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unanswered questions: %w", err)
	}
	return questions, nil
}
