package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// UserStore is the credential store consulted by the service and the
// middleware. *Repository is the Postgres implementation.
type UserStore interface {
	GetByUsername(ctx context.Context, username string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	Create(ctx context.Context, user User) (User, error)
	ConfirmEmail(ctx context.Context, email string) error
	UpdatePassword(ctx context.Context, email, passwordHash string) error
	UpdateAvatar(ctx context.Context, email, avatarURL string) (User, error)
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, username, email, password_hash, role, COALESCE(avatar_url, ''), confirmed, created_at, updated_at`

func scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.Role, &user.AvatarURL, &user.Confirmed,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("scan user: %w", err)
	}

	return user, nil
}

func (r *Repository) GetByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE username = $1
	`, username))
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1
	`, email))
}

// Create persists a new user. Concurrent registrations racing on the
// same username or email are serialized by the unique constraints; the
// loser gets ErrUsernameTaken or ErrEmailTaken.
func (r *Repository) Create(ctx context.Context, user User) (User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	now := time.Now().UTC()
	user.ID = id.String()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Role == "" {
		user.Role = RoleUser
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, role, avatar_url, confirmed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $8)
	`, user.ID, user.Username, user.Email, user.PasswordHash, user.Role, user.AvatarURL, user.Confirmed, now)
	if err != nil {
		if conflictErr := mapUniqueViolation(err); conflictErr != nil {
			return User{}, conflictErr
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	return user, nil
}

func (r *Repository) ConfirmEmail(ctx context.Context, email string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET confirmed = TRUE, updated_at = $2
		WHERE email = $1
	`, email, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("confirm email: %w", err)
	}

	return requireOneRow(res)
}

func (r *Repository) UpdatePassword(ctx context.Context, email, passwordHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2, updated_at = $3
		WHERE email = $1
	`, email, passwordHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	return requireOneRow(res)
}

func (r *Repository) UpdateAvatar(ctx context.Context, email, avatarURL string) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET avatar_url = $2, updated_at = $3
		WHERE email = $1
		RETURNING `+userColumns+`
	`, email, avatarURL, time.Now().UTC())

	return scanUser(row)
}

func requireOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}

	return nil
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil
	}

	switch {
	case strings.Contains(pgErr.ConstraintName, "username"):
		return ErrUsernameTaken
	case strings.Contains(pgErr.ConstraintName, "email"):
		return ErrEmailTaken
	default:
		return ErrUserConflict
	}
}
