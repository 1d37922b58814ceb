package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound      = errors.New("user not found")
	ErrUsernameTaken = errors.New("username already taken")
)

// uniqueViolation is the Postgres error code for a unique constraint breach.
const uniqueViolation = "23505"

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateUser(ctx context.Context, user *User) (*User, error) {
	var id int
	query := "INSERT INTO users (username, password) VALUES ($1, $2) RETURNING id"

	err := r.db.QueryRowContext(ctx, query, user.Username, user.Password).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}

	user.ID = id
	return user, nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	u := &User{}
	query := "SELECT id, username, avatar, password FROM users WHERE username = $1"

	err := r.db.QueryRowContext(ctx, query, username).Scan(&u.ID, &u.Username, &u.Avatar, &u.Password)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return u, nil
}

// Rename changes a user's username. The ON UPDATE CASCADE foreign keys on
// messages and friendships carry the new name into every reference, so this
// is a single statement.
func (r *Repository) Rename(ctx context.Context, oldName, newName string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE users SET username = $2 WHERE username = $1", oldName, newName)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrUsernameTaken
		}
		return fmt.Errorf("rename user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) UpdateAvatar(ctx context.Context, username, avatar string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE users SET avatar = $2 WHERE username = $1", username, avatar)
	if err != nil {
		return fmt.Errorf("update avatar: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) SearchUsers(ctx context.Context, query string) ([]User, error) {
	// We limit to 10 to keep it fast
	q := `SELECT id, username, avatar FROM users WHERE username ILIKE $1 LIMIT 10`
	rows, err := r.db.QueryContext(ctx, q, "%"+query+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Avatar); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
