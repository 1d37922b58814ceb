package chat

import (
	"context"
	"database/sql"
	"fmt"
)

// MessageStore is the narrow persistence gateway the hub depends on. The
// concrete Repository implements it against PostgreSQL; tests substitute an
// in-memory store. An empty history is a normal result, not an error.
type MessageStore interface {
	InsertMessage(ctx context.Context, m *Message) (int64, error)
	GlobalHistory(ctx context.Context) ([]Message, error)
	DirectHistory(ctx context.Context, a, b string) ([]Message, error)
}

// LoadHistory resolves a history request against store. Shared by the
// websocket history loader and the HTTP mirror endpoint.
func LoadHistory(ctx context.Context, store MessageStore, req HistoryRequest) ([]Message, error) {
	switch req.Scope {
	case ScopeGlobal:
		return store.GlobalHistory(ctx)
	case ScopeDirect:
		return store.DirectHistory(ctx, req.A, req.B)
	default:
		return nil, fmt.Errorf("unknown history scope %q", req.Scope)
	}
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// InsertMessage appends one message row and returns the generated id. Empty
// body and attachment are stored as NULL.
func (r *Repository) InsertMessage(ctx context.Context, m *Message) (int64, error) {
	query := `
		INSERT INTO messages (body, sender, receiver, sent_at, kind, attachment)
		VALUES (NULLIF($1, ''), $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING id
	`
	var id int64
	err := r.db.QueryRowContext(ctx, query,
		m.Body, m.Sender, m.Receiver, m.SentAt, m.Kind, m.Attachment,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

// GlobalHistory returns every broadcast message in creation order.
func (r *Repository) GlobalHistory(ctx context.Context) ([]Message, error) {
	query := `
		SELECT id, body, sender, receiver, sent_at, kind, attachment
		FROM messages
		WHERE receiver IS NULL
		ORDER BY id ASC
	`
	return r.query(ctx, query)
}

// DirectHistory merges both directions of the conversation between a and b
// into one sequence in creation order.
func (r *Repository) DirectHistory(ctx context.Context, a, b string) ([]Message, error) {
	query := `
		SELECT id, body, sender, receiver, sent_at, kind, attachment
		FROM messages
		WHERE (sender = $1 AND receiver = $2) OR (sender = $2 AND receiver = $1)
		ORDER BY id ASC
	`
	return r.query(ctx, query, a, b)
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			m                          Message
			body, receiver, attachment sql.NullString
		)
		if err := rows.Scan(&m.ID, &body, &m.Sender, &receiver, &m.SentAt, &m.Kind, &attachment); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Body = body.String
		m.Attachment = attachment.String
		if receiver.Valid {
			recv := receiver.String
			m.Receiver = &recv
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
