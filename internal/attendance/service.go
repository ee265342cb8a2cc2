package attendance

import (
	"context"
	"errors"
	"log"
	"time"

	"tutortrack/internal/notify"
	"tutortrack/internal/report"
	"tutortrack/internal/roster"
)

// Record is one check-in/check-out row for a student on a given day.
type Record struct {
	ID             string     `json:"id"`
	AccountID      string     `json:"-"`
	StudentID      string     `json:"student_id"`
	StudentName    string     `json:"student_name"`
	CheckinTime    time.Time  `json:"checkin_time"`
	CheckoutTime   *time.Time `json:"checkout_time"`
	Status         string     `json:"status"`
	TimeSpent      *int       `json:"time_spent"`
	ParentNotified bool       `json:"parent_notified"`
	Date           string     `json:"date"`
}

// Record statuses.
const (
	StatusCheckedIn  = "checked_in"
	StatusCheckedOut = "checked_out"
)

var (
	// ErrRecordNotFound means the student has no check-in row.
	ErrRecordNotFound = errors.New("no active check-in found")
	// ErrAlreadyCheckedOut means the latest row is already checked out.
	ErrAlreadyCheckedOut = errors.New("already checked out")
	// ErrNoRecords means finish-day was called with an empty working table.
	ErrNoRecords = errors.New("no check-in records found")

	// errOpenConflict signals the unique open-check-in index rejected an
	// insert because a concurrent caller created the open row first.
	errOpenConflict = errors.New("open check-in already exists")
)

// Store is the persistence surface the lifecycle needs.
type Store interface {
	LatestForStudent(ctx context.Context, accountID, studentID string) (*Record, error)
	LatestByName(ctx context.Context, accountID, name string) (*Record, error)
	Reopen(ctx context.Context, id string, at time.Time, date string) error
	Insert(ctx context.Context, rec Record) (string, error)
	Complete(ctx context.Context, id string, at time.Time, minutes int) (bool, error)
	MarkNotified(ctx context.Context, id string) error
	ListDay(ctx context.Context, accountID string) ([]Record, error)
	ArchiveDay(ctx context.Context, accountID string) (int, error)
}

// StudentDirectory resolves students by name within an account.
type StudentDirectory interface {
	FindStudentByName(ctx context.Context, accountID, name string) (*roster.Student, error)
}

// ReportMailer delivers the finish-day spreadsheet.
type ReportMailer interface {
	SendReport(to string, day time.Time, attachment []byte) error
}

// Service owns the check-in/check-out lifecycle.
type Service struct {
	store    Store
	students StudentDirectory
	notifier notify.Publisher
	mailer   ReportMailer
	loc      *time.Location
	now      func() time.Time
}

// NewService creates the lifecycle service. notifier and mailer may be nil
// in contexts that never check out or finish a day.
func NewService(store Store, students StudentDirectory, notifier notify.Publisher, mailer ReportMailer, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:    store,
		students: students,
		notifier: notifier,
		mailer:   mailer,
		loc:      loc,
		now:      time.Now,
	}
}

// CheckInResult reports the row touched and whether it was reused.
type CheckInResult struct {
	RecordID  string
	ReCheckin bool
}

// CheckIn records arrival for the named student. An existing row for the
// student is overwritten in place; otherwise a fresh row is inserted. The
// unique open-row index makes concurrent check-ins converge on one row.
func (s *Service) CheckIn(ctx context.Context, accountID, name string) (CheckInResult, error) {
	student, err := s.students.FindStudentByName(ctx, accountID, name)
	if err != nil {
		return CheckInResult{}, err
	}

	now := s.now().In(s.loc)
	day := now.Format("2006-01-02")

	for attempt := 0; attempt < 2; attempt++ {
		last, err := s.store.LatestForStudent(ctx, accountID, student.ID)
		if err != nil && !errors.Is(err, ErrRecordNotFound) {
			return CheckInResult{}, err
		}
		if last != nil {
			if err := s.store.Reopen(ctx, last.ID, now, day); err != nil {
				return CheckInResult{}, err
			}
			return CheckInResult{RecordID: last.ID, ReCheckin: true}, nil
		}

		id, err := s.store.Insert(ctx, Record{
			AccountID:   accountID,
			StudentID:   student.ID,
			StudentName: student.Name,
			CheckinTime: now,
			Status:      StatusCheckedIn,
			Date:        day,
		})
		if errors.Is(err, errOpenConflict) {
			// Lost the insert race; the rerun finds the winner's row.
			continue
		}
		if err != nil {
			return CheckInResult{}, err
		}
		return CheckInResult{RecordID: id, ReCheckin: false}, nil
	}
	return CheckInResult{}, errOpenConflict
}

// CheckOut closes the student's open check-in, computes elapsed minutes and
// queues the parent notification. The status update is conditional on the
// row still being open, so a concurrent double check-out loses cleanly.
func (s *Service) CheckOut(ctx context.Context, accountID, name string) (string, error) {
	last, err := s.store.LatestByName(ctx, accountID, name)
	if err != nil {
		return "", err
	}
	if last.Status == StatusCheckedOut {
		return "", ErrAlreadyCheckedOut
	}

	now := s.now().In(s.loc)
	minutes := ElapsedMinutes(last.CheckinTime, now)

	updated, err := s.store.Complete(ctx, last.ID, now, minutes)
	if err != nil {
		return "", err
	}
	if !updated {
		return "", ErrAlreadyCheckedOut
	}

	if s.notifier != nil {
		job := notify.CheckoutJob{
			RecordID:     last.ID,
			AccountID:    accountID,
			StudentID:    last.StudentID,
			StudentName:  last.StudentName,
			CheckoutTime: now,
		}
		if err := s.notifier.PublishCheckout(ctx, job); err != nil {
			// Best effort: a lost notification never fails the checkout.
			log.Printf("checkout notification enqueue failed for %s: %v", last.ID, err)
		}
	}
	return last.ID, nil
}

// LatestStatus returns the most recent row for the student without mutating it.
func (s *Service) LatestStatus(ctx context.Context, accountID, name string) (*Record, error) {
	return s.store.LatestByName(ctx, accountID, name)
}

// FinishDay emails the day's records as a styled spreadsheet to the account
// email and then archives and clears the working table. The archive and the
// delete run in one transaction so a failure leaves the table untouched.
func (s *Service) FinishDay(ctx context.Context, accountID, accountEmail string) (int, error) {
	recs, err := s.store.ListDay(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, ErrNoRecords
	}

	rows := make([]report.Row, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, reportRow(rec))
	}
	book, err := report.Build(rows)
	if err != nil {
		return 0, err
	}

	day := s.now().In(s.loc)
	if err := s.mailer.SendReport(accountEmail, day, book); err != nil {
		return 0, err
	}

	return s.store.ArchiveDay(ctx, accountID)
}

func reportRow(rec Record) report.Row {
	row := report.Row{
		StudentName:    rec.StudentName,
		Status:         rec.Status,
		ParentNotified: rec.ParentNotified,
		Date:           rec.Date,
		CheckinTime:    rec.CheckinTime,
	}
	if rec.CheckoutTime != nil {
		row.CheckoutTime = rec.CheckoutTime
	}
	if rec.TimeSpent != nil {
		row.TimeSpent = report.FormatMinutes(*rec.TimeSpent)
	}
	return row
}

// ElapsedMinutes is the whole number of minutes between in and out,
// truncated toward zero and never negative.
func ElapsedMinutes(in, out time.Time) int {
	mins := int(out.Sub(in) / time.Minute)
	if mins < 0 {
		return 0
	}
	return mins
}
