package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Repository persists students and parents in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FindStudentByName matches a student case-insensitively within an account.
func (r *Repository) FindStudentByName(ctx context.Context, accountID, name string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, parent_id, name, created_at
		FROM students
		WHERE account_id = $1 AND name ILIKE $2
		LIMIT 1
	`, accountID, name)
	var s Student
	if err := row.Scan(&s.ID, &s.AccountID, &s.ParentID, &s.Name, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ParentByID returns a parent by primary key.
func (r *Repository) ParentByID(ctx context.Context, id string) (*Parent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, name, email, phone_number, secret_key
		FROM parents WHERE id = $1
	`, id)
	return scanParent(row)
}

// ParentOfStudent returns the parent linked to a student.
func (r *Repository) ParentOfStudent(ctx context.Context, studentID string) (*Parent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT p.id, p.account_id, p.name, p.email, p.phone_number, p.secret_key
		FROM parents p
		JOIN students s ON s.parent_id = p.id
		WHERE s.id = $1
	`, studentID)
	return scanParent(row)
}

// FindParentByNameEmail matches a parent on the exact name and email pair.
func (r *Repository) FindParentByNameEmail(ctx context.Context, name, email string) (*Parent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, name, email, phone_number, secret_key
		FROM parents
		WHERE name = $1 AND email = $2
		LIMIT 1
	`, name, email)
	return scanParent(row)
}

// SetSecretKey overwrites the parent's one-time login key.
func (r *Repository) SetSecretKey(ctx context.Context, parentID, key string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE parents SET secret_key = $2 WHERE id = $1`, parentID, key)
	return err
}

// SecretKey returns the parent's current one-time login key.
func (r *Repository) SecretKey(ctx context.Context, parentID string) (string, error) {
	var key sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT secret_key FROM parents WHERE id = $1`, parentID).Scan(&key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrParentNotFound
		}
		return "", err
	}
	return key.String, nil
}

// StudentsOfParent lists a parent's students by name.
func (r *Repository) StudentsOfParent(ctx context.Context, parentID string) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, parent_id, name, created_at
		FROM students WHERE parent_id = $1 ORDER BY name
	`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.AccountID, &s.ParentID, &s.Name, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// RosterRow is a student joined with the parent's phone number.
type RosterRow struct {
	StudentID   string `json:"id"`
	Name        string `json:"name"`
	ParentID    string `json:"parent_id"`
	ParentPhone string `json:"parent_phone"`
}

// ListRoster returns every student in the account with the parent's phone,
// ordered by student name.
func (r *Repository) ListRoster(ctx context.Context, accountID string) ([]RosterRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.name, p.id, p.phone_number
		FROM students s
		JOIN parents p ON p.id = s.parent_id
		WHERE s.account_id = $1
		ORDER BY s.name
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []RosterRow
	for rows.Next() {
		var row RosterRow
		if err := rows.Scan(&row.StudentID, &row.Name, &row.ParentID, &row.ParentPhone); err != nil {
			return nil, err
		}
		res = append(res, row)
	}
	return res, rows.Err()
}

// BulkRegister creates students and, where needed, their parents in a single
// transaction. Parents are matched by phone number within the account and
// reused. Any entry with a missing field aborts the whole batch.
func (r *Repository) BulkRegister(ctx context.Context, accountID string, entries []Entry) (int, error) {
	if len(entries) == 0 {
		return 0, ErrMissingFields
	}
	for _, e := range entries {
		if e.StudentName == "" || e.ParentNumber == "" {
			return 0, ErrMissingFields
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	count := 0
	for _, e := range entries {
		var parentID string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM parents WHERE account_id = $1 AND phone_number = $2 LIMIT 1
		`, accountID, e.ParentNumber).Scan(&parentID)
		if errors.Is(err, sql.ErrNoRows) {
			parentID = uuid.NewString()
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO parents (id, account_id, phone_number) VALUES ($1, $2, $3)
			`, parentID, accountID, e.ParentNumber); err != nil {
				return 0, fmt.Errorf("insert parent %s: %w", e.ParentNumber, err)
			}
		} else if err != nil {
			return 0, err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO students (id, account_id, parent_id, name) VALUES ($1, $2, $3, $4)
		`, uuid.NewString(), accountID, parentID, e.StudentName); err != nil {
			return 0, fmt.Errorf("insert student %s: %w", e.StudentName, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

func scanParent(row *sql.Row) (*Parent, error) {
	var p Parent
	var key sql.NullString
	if err := row.Scan(&p.ID, &p.AccountID, &p.Name, &p.Email, &p.PhoneNumber, &key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrParentNotFound
		}
		return nil, err
	}
	if key.Valid {
		p.SecretKey = &key.String
	}
	return &p, nil
}
