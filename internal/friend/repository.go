package friend

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrDuplicate   = errors.New("friend request already exists")
	ErrUnknownUser = errors.New("no such user")
	ErrNoRequest   = errors.New("no pending request")
)

const (
	uniqueViolation = "23505"
	fkViolation     = "23503"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, owner, target string) (*Friendship, error) {
	f := &Friendship{Owner: owner, Target: target, Status: StatusPending}
	query := `
		INSERT INTO friendships (owner, target)
		VALUES ($1, $2)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query, owner, target).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case uniqueViolation:
				return nil, ErrDuplicate
			case fkViolation:
				return nil, ErrUnknownUser
			}
		}
		return nil, err
	}
	return f, nil
}

// Accept flips the pending edge from owner to target to accepted. Only the
// target of a request may accept it, which the WHERE clause enforces.
func (r *Repository) Accept(ctx context.Context, owner, target string) error {
	query := `
		UPDATE friendships SET status = $3
		WHERE owner = $1 AND target = $2 AND status = $4
	`
	res, err := r.db.ExecContext(ctx, query, owner, target, StatusAccepted, StatusPending)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNoRequest
	}
	return nil
}

// ListFriends returns accepted edges touching username, whichever side sent
// the original request.
func (r *Repository) ListFriends(ctx context.Context, username string) ([]Friendship, error) {
	query := `
		SELECT id, owner, target, status, created_at
		FROM friendships
		WHERE status = $2 AND (owner = $1 OR target = $1)
		ORDER BY id ASC
	`
	return r.list(ctx, query, username, StatusAccepted)
}

// ListPending returns requests waiting on username's answer.
func (r *Repository) ListPending(ctx context.Context, username string) ([]Friendship, error) {
	query := `
		SELECT id, owner, target, status, created_at
		FROM friendships
		WHERE status = $2 AND target = $1
		ORDER BY id ASC
	`
	return r.list(ctx, query, username, StatusPending)
}

func (r *Repository) list(ctx context.Context, query, username, status string) ([]Friendship, error) {
	rows, err := r.db.QueryContext(ctx, query, username, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []Friendship
	for rows.Next() {
		var f Friendship
		if err := rows.Scan(&f.ID, &f.Owner, &f.Target, &f.Status, &f.CreatedAt); err != nil {
			return nil, err
		}
		edges = append(edges, f)
	}
	return edges, rows.Err()
}
