package attendance

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

// Repository persists check-in rows in Postgres. It satisfies Store.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, account_id, student_id, student_name, checkin_time, checkout_time, status, time_spent, parent_notified, date`

// LatestForStudent returns the student's most recent row or ErrRecordNotFound.
func (r *Repository) LatestForStudent(ctx context.Context, accountID, studentID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM checkins
		WHERE account_id = $1 AND student_id = $2
		ORDER BY checkin_time DESC
		LIMIT 1
	`, accountID, studentID)
	return scanRecord(row)
}

// LatestByName returns the most recent row matching the denormalized student
// name, case-insensitively, or ErrRecordNotFound.
func (r *Repository) LatestByName(ctx context.Context, accountID, name string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM checkins
		WHERE account_id = $1 AND student_name ILIKE $2
		ORDER BY checkin_time DESC
		LIMIT 1
	`, accountID, name)
	return scanRecord(row)
}

// Reopen overwrites an existing row for a fresh check-in: new check-in time,
// cleared check-out fields, today's date.
func (r *Repository) Reopen(ctx context.Context, id string, at time.Time, date string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE checkins
		SET checkin_time = $2, checkout_time = NULL, status = $3,
		    parent_notified = FALSE, time_spent = NULL, date = $4
		WHERE id = $1
	`, id, at, StatusCheckedIn, date)
	return err
}

// Insert writes a fresh check-in row. A violation of the unique open-row
// index is surfaced as errOpenConflict so the caller can retry the
// overwrite path.
func (r *Repository) Insert(ctx context.Context, rec Record) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO checkins (id, account_id, student_id, student_name, checkin_time, status, date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.AccountID, rec.StudentID, rec.StudentName, rec.CheckinTime, rec.Status, rec.Date)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" &&
			strings.Contains(pgErr.ConstraintName, "open_checkin") {
			return "", errOpenConflict
		}
		return "", err
	}
	return rec.ID, nil
}

// Complete closes a row, guarded on it still being open. Returns false when
// the guard failed, meaning another caller checked the student out first.
func (r *Repository) Complete(ctx context.Context, id string, at time.Time, minutes int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE checkins
		SET checkout_time = $2, status = $3, time_spent = $4
		WHERE id = $1 AND status = $5
	`, id, at, StatusCheckedOut, minutes, StatusCheckedIn)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkNotified records that the parent was told about the checkout.
func (r *Repository) MarkNotified(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE checkins SET parent_notified = TRUE WHERE id = $1`, id)
	return err
}

// ListDay returns every working row for the account, newest check-in first.
func (r *Repository) ListDay(ctx context.Context, accountID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM checkins
		WHERE account_id = $1
		ORDER BY checkin_time DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *rec)
	}
	return res, rows.Err()
}

// ListDayAscending returns the working rows oldest first, for the day view.
func (r *Repository) ListDayAscending(ctx context.Context, accountID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM checkins
		WHERE account_id = $1
		ORDER BY checkin_time ASC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *rec)
	}
	return res, rows.Err()
}

// ArchiveDay copies the account's working rows into the long-term records
// table and deletes them, atomically. The delete never runs if the copy
// fails.
func (r *Repository) ArchiveDay(ctx context.Context, accountID string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO records (id, account_id, student_id, student_name, checkin_time, checkout_time, status, time_spent, parent_notified, date)
		SELECT id, account_id, student_id, student_name, checkin_time, checkout_time, status, time_spent, parent_notified, date
		FROM checkins WHERE account_id = $1
	`, accountID)
	if err != nil {
		return 0, fmt.Errorf("archive rows: %w", err)
	}
	copied, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM checkins WHERE account_id = $1`, accountID); err != nil {
		return 0, fmt.Errorf("clear working table: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(copied), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row *sql.Row) (*Record, error) {
	rec, err := scanRecordRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return rec, err
}

func scanRecordRows(row rowScanner) (*Record, error) {
	var rec Record
	var checkout sql.NullTime
	var spent sql.NullInt64
	var date time.Time
	if err := row.Scan(&rec.ID, &rec.AccountID, &rec.StudentID, &rec.StudentName,
		&rec.CheckinTime, &checkout, &rec.Status, &spent, &rec.ParentNotified, &date); err != nil {
		return nil, err
	}
	if checkout.Valid {
		t := checkout.Time
		rec.CheckoutTime = &t
	}
	if spent.Valid {
		m := int(spent.Int64)
		rec.TimeSpent = &m
	}
	rec.Date = date.Format("2006-01-02")
	return &rec, nil
}
