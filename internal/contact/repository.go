package contact

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

// DuplicateError reports a per-user uniqueness violation on a contact
// field.
type DuplicateError struct {
	Field string
}

func (e DuplicateError) Error() string {
	return fmt.Sprintf("a contact with this %s already exists", e.Field)
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const contactColumns = `id, user_id, first_name, COALESCE(last_name, ''), COALESCE(email, ''), phone, date_of_birth, created_at, updated_at`

// List returns the user's contacts, newest first, narrowed by the
// filter.
func (r *Repository) List(ctx context.Context, userID string, filter ListFilter) ([]Contact, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE user_id = $1`
	args := []any{userID}

	if filter.FirstName != "" {
		args = append(args, filter.FirstName)
		query += fmt.Sprintf(" AND first_name = $%d", len(args))
	}
	if filter.LastName != "" {
		args = append(args, filter.LastName)
		query += fmt.Sprintf(" AND last_name = $%d", len(args))
	}
	if filter.Email != "" {
		args = append(args, filter.Email)
		query += fmt.Sprintf(" AND email = $%d", len(args))
	}

	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, filter.Skip)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	return r.queryContacts(ctx, query, args...)
}

// WithUpcomingBirthday returns contacts whose birthday falls within the
// next given number of days. Shifting the birth date back by the window
// bumps the computed age by one year exactly when the birthday is
// inside it, which handles year wrap-around for free.
func (r *Repository) WithUpcomingBirthday(ctx context.Context, userID string, days int) ([]Contact, error) {
	return r.queryContacts(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE user_id = $1
		  AND date_of_birth IS NOT NULL
		  AND date_part('year', age(date_of_birth - make_interval(days => $2))) > date_part('year', age(date_of_birth))
		ORDER BY date_of_birth
	`, userID, days)
}

func (r *Repository) GetByID(ctx context.Context, userID, contactID string) (Contact, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE user_id = $1 AND id = $2
	`, userID, contactID)

	return scanContact(row.Scan)
}

func (r *Repository) Create(ctx context.Context, userID string, input ContactInput) (Contact, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Contact{}, fmt.Errorf("generate contact id: %w", err)
	}

	now := time.Now().UTC()
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO contacts (id, user_id, first_name, last_name, email, phone, date_of_birth, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $8)
		RETURNING `+contactColumns+`
	`, id.String(), userID, input.FirstName, input.LastName, input.Email, input.Phone, input.DateOfBirth, now)

	contact, err := scanContact(row.Scan)
	if err != nil {
		if dup := mapDuplicate(err); dup != nil {
			return Contact{}, dup
		}
		return Contact{}, err
	}

	return contact, nil
}

func (r *Repository) Update(ctx context.Context, userID, contactID string, input ContactInput) (Contact, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE contacts
		SET first_name = $3, last_name = NULLIF($4, ''), email = NULLIF($5, ''), phone = $6, date_of_birth = $7, updated_at = $8
		WHERE user_id = $1 AND id = $2
		RETURNING `+contactColumns+`
	`, userID, contactID, input.FirstName, input.LastName, input.Email, input.Phone, input.DateOfBirth, time.Now().UTC())

	contact, err := scanContact(row.Scan)
	if err != nil {
		if dup := mapDuplicate(err); dup != nil {
			return Contact{}, dup
		}
		return Contact{}, err
	}

	return contact, nil
}

func (r *Repository) Delete(ctx context.Context, userID, contactID string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM contacts
		WHERE user_id = $1 AND id = $2
	`, userID, contactID)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// CreateBatch inserts seed contacts in one transaction.
func (r *Repository) CreateBatch(ctx context.Context, userID string, inputs []ContactInput) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, input := range inputs {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate contact id: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO contacts (id, user_id, first_name, last_name, email, phone, date_of_birth, created_at, updated_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $8)
		`, id.String(), userID, input.FirstName, input.LastName, input.Email, input.Phone, input.DateOfBirth, now)
		if err != nil {
			if dup := mapDuplicate(err); dup != nil {
				return dup
			}
			return fmt.Errorf("insert seed contact: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed tx: %w", err)
	}

	return nil
}

func (r *Repository) queryContacts(ctx context.Context, query string, args ...any) ([]Contact, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	contacts := make([]Contact, 0)
	for rows.Next() {
		contact, err := scanContact(rows.Scan)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, contact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}

	return contacts, nil
}

func scanContact(scan func(...any) error) (Contact, error) {
	var contact Contact
	var dob sql.NullTime
	err := scan(
		&contact.ID, &contact.UserID, &contact.FirstName, &contact.LastName,
		&contact.Email, &contact.Phone, &dob,
		&contact.CreatedAt, &contact.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Contact{}, err
		}
		return Contact{}, fmt.Errorf("scan contact: %w", err)
	}
	if dob.Valid {
		value := dob.Time
		contact.DateOfBirth = &value
	}

	return contact, nil
}

func mapDuplicate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil
	}

	switch {
	case strings.Contains(pgErr.ConstraintName, "phone"):
		return DuplicateError{Field: "phone"}
	case strings.Contains(pgErr.ConstraintName, "email"):
		return DuplicateError{Field: "email"}
	default:
		return DuplicateError{Field: "value"}
	}
}
