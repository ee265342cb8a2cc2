package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"tutortrack/internal/notify"
	"tutortrack/internal/roster"
)

type fakeStore struct {
	recs            []*Record
	archived        []*Record
	nextID          int
	insertConflicts int
	onConflict      func()
}

func (f *fakeStore) LatestForStudent(ctx context.Context, accountID, studentID string) (*Record, error) {
	var latest *Record
	for _, r := range f.recs {
		if r.AccountID != accountID || r.StudentID != studentID {
			continue
		}
		if latest == nil || r.CheckinTime.After(latest.CheckinTime) {
			latest = r
		}
	}
	if latest == nil {
		return nil, ErrRecordNotFound
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeStore) LatestByName(ctx context.Context, accountID, name string) (*Record, error) {
	var latest *Record
	for _, r := range f.recs {
		if r.AccountID != accountID || !strings.EqualFold(r.StudentName, name) {
			continue
		}
		if latest == nil || r.CheckinTime.After(latest.CheckinTime) {
			latest = r
		}
	}
	if latest == nil {
		return nil, ErrRecordNotFound
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeStore) Reopen(ctx context.Context, id string, at time.Time, date string) error {
	for _, r := range f.recs {
		if r.ID == id {
			r.CheckinTime = at
			r.CheckoutTime = nil
			r.Status = StatusCheckedIn
			r.ParentNotified = false
			r.TimeSpent = nil
			r.Date = date
			return nil
		}
	}
	return errors.New("row not found")
}

func (f *fakeStore) Insert(ctx context.Context, rec Record) (string, error) {
	if f.insertConflicts > 0 {
		f.insertConflicts--
		if f.onConflict != nil {
			f.onConflict()
		}
		return "", errOpenConflict
	}
	f.nextID++
	rec.ID = fmt.Sprintf("r%d", f.nextID)
	cp := rec
	f.recs = append(f.recs, &cp)
	return rec.ID, nil
}

func (f *fakeStore) Complete(ctx context.Context, id string, at time.Time, minutes int) (bool, error) {
	for _, r := range f.recs {
		if r.ID != id {
			continue
		}
		if r.Status != StatusCheckedIn {
			return false, nil
		}
		out := at
		m := minutes
		r.CheckoutTime = &out
		r.TimeSpent = &m
		r.Status = StatusCheckedOut
		return true, nil
	}
	return false, nil
}

func (f *fakeStore) MarkNotified(ctx context.Context, id string) error {
	for _, r := range f.recs {
		if r.ID == id {
			r.ParentNotified = true
			return nil
		}
	}
	return errors.New("row not found")
}

func (f *fakeStore) ListDay(ctx context.Context, accountID string) ([]Record, error) {
	var out []Record
	for _, r := range f.recs {
		if r.AccountID == accountID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) ArchiveDay(ctx context.Context, accountID string) (int, error) {
	var kept []*Record
	n := 0
	for _, r := range f.recs {
		if r.AccountID == accountID {
			f.archived = append(f.archived, r)
			n++
		} else {
			kept = append(kept, r)
		}
	}
	f.recs = kept
	return n, nil
}

type fakeDirectory struct {
	students map[string]*roster.Student
}

func (f *fakeDirectory) FindStudentByName(ctx context.Context, accountID, name string) (*roster.Student, error) {
	if s, ok := f.students[strings.ToLower(name)]; ok && s.AccountID == accountID {
		return s, nil
	}
	return nil, roster.ErrStudentNotFound
}

type fakePublisher struct {
	jobs []notify.CheckoutJob
	err  error
}

func (f *fakePublisher) PublishCheckout(ctx context.Context, job notify.CheckoutJob) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeMailer struct {
	sent int
	err  error
}

func (f *fakeMailer) SendReport(to string, day time.Time, attachment []byte) error {
	if f.err != nil {
		return f.err
	}
	f.sent++
	return nil
}

const acct = "acct-1"

func newFixture() (*Service, *fakeStore, *fakePublisher, *fakeMailer) {
	store := &fakeStore{}
	dir := &fakeDirectory{students: map[string]*roster.Student{
		"alice": {ID: "s1", AccountID: acct, ParentID: "p1", Name: "Alice"},
	}}
	pub := &fakePublisher{}
	mail := &fakeMailer{}
	svc := NewService(store, dir, pub, mail, time.UTC)
	return svc, store, pub, mail
}

func at(svc *Service, t time.Time) {
	svc.now = func() time.Time { return t }
}

func TestCheckInFreshCreatesOpenRecord(t *testing.T) {
	svc, store, _, _ := newFixture()
	now := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	at(svc, now)

	res, err := svc.CheckIn(context.Background(), acct, "Alice")
	if err != nil {
		t.Fatalf("CheckIn() error = %v", err)
	}
	if res.ReCheckin {
		t.Errorf("ReCheckin = true, want false for a first check-in")
	}
	if len(store.recs) != 1 {
		t.Fatalf("records = %d, want 1", len(store.recs))
	}
	rec := store.recs[0]
	if rec.Status != StatusCheckedIn {
		t.Errorf("status = %q, want %q", rec.Status, StatusCheckedIn)
	}
	if rec.CheckoutTime != nil {
		t.Errorf("checkout time = %v, want nil", rec.CheckoutTime)
	}
	if rec.Date != "2026-08-29" {
		t.Errorf("date = %q, want 2026-08-29", rec.Date)
	}
}

func TestCheckInAgainOverwritesSameRecord(t *testing.T) {
	svc, store, _, _ := newFixture()
	at(svc, time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC))
	first, err := svc.CheckIn(context.Background(), acct, "Alice")
	if err != nil {
		t.Fatalf("first CheckIn() error = %v", err)
	}

	later := time.Date(2026, 8, 29, 14, 0, 0, 0, time.UTC)
	at(svc, later)
	second, err := svc.CheckIn(context.Background(), acct, "Alice")
	if err != nil {
		t.Fatalf("second CheckIn() error = %v", err)
	}
	if !second.ReCheckin {
		t.Errorf("ReCheckin = false, want true")
	}
	if second.RecordID != first.RecordID {
		t.Errorf("record id changed: %q -> %q, want same row overwritten", first.RecordID, second.RecordID)
	}
	if len(store.recs) != 1 {
		t.Fatalf("records = %d, want 1", len(store.recs))
	}
	if !store.recs[0].CheckinTime.Equal(later) {
		t.Errorf("checkin time = %v, want %v", store.recs[0].CheckinTime, later)
	}
}

func TestCheckInOverwritesCheckedOutRecord(t *testing.T) {
	svc, store, _, _ := newFixture()
	at(svc, time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC))
	if _, err := svc.CheckIn(context.Background(), acct, "Alice"); err != nil {
		t.Fatalf("CheckIn() error = %v", err)
	}
	at(svc, time.Date(2026, 8, 29, 11, 0, 0, 0, time.UTC))
	if _, err := svc.CheckOut(context.Background(), acct, "Alice"); err != nil {
		t.Fatalf("CheckOut() error = %v", err)
	}

	at(svc, time.Date(2026, 8, 29, 15, 0, 0, 0, time.UTC))
	res, err := svc.CheckIn(context.Background(), acct, "Alice")
	if err != nil {
		t.Fatalf("re-CheckIn() error = %v", err)
	}
	if !res.ReCheckin {
		t.Errorf("ReCheckin = false, want true after checkout")
	}
	rec := store.recs[0]
	if rec.Status != StatusCheckedIn || rec.CheckoutTime != nil || rec.TimeSpent != nil || rec.ParentNotified {
		t.Errorf("overwrite left stale fields: %+v", rec)
	}
}

func TestCheckInUnknownStudent(t *testing.T) {
	svc, _, _, _ := newFixture()
	_, err := svc.CheckIn(context.Background(), acct, "Nobody")
	if !errors.Is(err, roster.ErrStudentNotFound) {
		t.Fatalf("CheckIn() error = %v, want ErrStudentNotFound", err)
	}
}

func TestCheckInRetriesOnOpenConflict(t *testing.T) {
	svc, store, _, _ := newFixture()
	at(svc, time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC))
	// A concurrent caller wins the insert race; ours must converge on a
	// single open row instead of failing or duplicating. The winner's row
	// becomes visible exactly when our insert hits the unique index.
	store.insertConflicts = 1
	store.onConflict = func() {
		store.recs = append(store.recs, &Record{
			ID: "race", AccountID: acct, StudentID: "s1", StudentName: "Alice",
			CheckinTime: time.Date(2026, 8, 29, 8, 59, 59, 0, time.UTC),
			Status:      StatusCheckedIn, Date: "2026-08-29",
		})
	}

	res, err := svc.CheckIn(context.Background(), acct, "Alice")
	if err != nil {
		t.Fatalf("CheckIn() error = %v", err)
	}
	if res.RecordID != "race" {
		t.Errorf("record id = %q, want the winner's row %q", res.RecordID, "race")
	}
	open := 0
	for _, r := range store.recs {
		if r.Status == StatusCheckedIn {
			open++
		}
	}
	if open != 1 {
		t.Errorf("open rows = %d, want 1", open)
	}
}

func TestCheckOutComputesMinutesAndNotifies(t *testing.T) {
	svc, store, pub, _ := newFixture()
	in := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	at(svc, in)
	if _, err := svc.CheckIn(context.Background(), acct, "Alice"); err != nil {
		t.Fatalf("CheckIn() error = %v", err)
	}

	at(svc, in.Add(125*time.Minute))
	rowID, err := svc.CheckOut(context.Background(), acct, "Alice")
	if err != nil {
		t.Fatalf("CheckOut() error = %v", err)
	}

	rec := store.recs[0]
	if rec.ID != rowID {
		t.Errorf("rowId = %q, want %q", rowID, rec.ID)
	}
	if rec.Status != StatusCheckedOut {
		t.Errorf("status = %q, want %q", rec.Status, StatusCheckedOut)
	}
	if rec.TimeSpent == nil || *rec.TimeSpent != 125 {
		t.Errorf("time spent = %v, want 125", rec.TimeSpent)
	}
	if len(pub.jobs) != 1 {
		t.Fatalf("published jobs = %d, want 1", len(pub.jobs))
	}
	if pub.jobs[0].StudentName != "Alice" || pub.jobs[0].RecordID != rec.ID {
		t.Errorf("job = %+v, want Alice / %s", pub.jobs[0], rec.ID)
	}
}

func TestCheckOutAlreadyCheckedOut(t *testing.T) {
	svc, store, _, _ := newFixture()
	in := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	at(svc, in)
	if _, err := svc.CheckIn(context.Background(), acct, "Alice"); err != nil {
		t.Fatalf("CheckIn() error = %v", err)
	}
	at(svc, in.Add(45*time.Minute))
	if _, err := svc.CheckOut(context.Background(), acct, "Alice"); err != nil {
		t.Fatalf("first CheckOut() error = %v", err)
	}
	before := *store.recs[0]

	_, err := svc.CheckOut(context.Background(), acct, "Alice")
	if !errors.Is(err, ErrAlreadyCheckedOut) {
		t.Fatalf("second CheckOut() error = %v, want ErrAlreadyCheckedOut", err)
	}
	after := *store.recs[0]
	if !before.CheckoutTime.Equal(*after.CheckoutTime) || *before.TimeSpent != *after.TimeSpent {
		t.Errorf("failed checkout mutated the record: %+v -> %+v", before, after)
	}
}

func TestCheckOutNoRecord(t *testing.T) {
	svc, _, _, _ := newFixture()
	_, err := svc.CheckOut(context.Background(), acct, "Alice")
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("CheckOut() error = %v, want ErrRecordNotFound", err)
	}
}

func TestCheckOutPublishFailureDoesNotFailCheckout(t *testing.T) {
	svc, store, pub, _ := newFixture()
	pub.err = errors.New("queue down")
	in := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	at(svc, in)
	if _, err := svc.CheckIn(context.Background(), acct, "Alice"); err != nil {
		t.Fatalf("CheckIn() error = %v", err)
	}
	at(svc, in.Add(10*time.Minute))
	if _, err := svc.CheckOut(context.Background(), acct, "Alice"); err != nil {
		t.Fatalf("CheckOut() error = %v, notification failure must be swallowed", err)
	}
	if store.recs[0].Status != StatusCheckedOut {
		t.Errorf("status = %q, want %q", store.recs[0].Status, StatusCheckedOut)
	}
}

func TestFinishDayEmptyIsNoOp(t *testing.T) {
	svc, store, _, mail := newFixture()
	_, err := svc.FinishDay(context.Background(), acct, "owner@example.com")
	if !errors.Is(err, ErrNoRecords) {
		t.Fatalf("FinishDay() error = %v, want ErrNoRecords", err)
	}
	if mail.sent != 0 || len(store.archived) != 0 {
		t.Errorf("empty finish-day had side effects: mails=%d archived=%d", mail.sent, len(store.archived))
	}
}

func TestFinishDayArchivesAfterEmail(t *testing.T) {
	svc, store, _, mail := newFixture()
	in := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	at(svc, in)
	if _, err := svc.CheckIn(context.Background(), acct, "Alice"); err != nil {
		t.Fatalf("CheckIn() error = %v", err)
	}
	at(svc, in.Add(45*time.Minute))
	if _, err := svc.CheckOut(context.Background(), acct, "Alice"); err != nil {
		t.Fatalf("CheckOut() error = %v", err)
	}

	n, err := svc.FinishDay(context.Background(), acct, "owner@example.com")
	if err != nil {
		t.Fatalf("FinishDay() error = %v", err)
	}
	if n != 1 {
		t.Errorf("archived = %d, want 1", n)
	}
	if mail.sent != 1 {
		t.Errorf("mails = %d, want 1", mail.sent)
	}
	if len(store.recs) != 0 {
		t.Errorf("working table still has %d rows, want 0", len(store.recs))
	}
}

func TestFinishDayEmailFailureLeavesTableUntouched(t *testing.T) {
	svc, store, _, mail := newFixture()
	mail.err = errors.New("smtp down")
	at(svc, time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC))
	if _, err := svc.CheckIn(context.Background(), acct, "Alice"); err != nil {
		t.Fatalf("CheckIn() error = %v", err)
	}

	if _, err := svc.FinishDay(context.Background(), acct, "owner@example.com"); err == nil {
		t.Fatal("FinishDay() = nil error, want failure when email fails")
	}
	if len(store.recs) != 1 || len(store.archived) != 0 {
		t.Errorf("failed finish-day mutated stores: working=%d archived=%d", len(store.recs), len(store.archived))
	}
}

func TestElapsedMinutes(t *testing.T) {
	base := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		out  time.Time
		want int
	}{
		{name: "125 minutes", out: base.Add(125 * time.Minute), want: 125},
		{name: "45 minutes", out: base.Add(45 * time.Minute), want: 45},
		{name: "truncates seconds", out: base.Add(45*time.Minute + 59*time.Second), want: 45},
		{name: "zero", out: base, want: 0},
		{name: "clock skew never negative", out: base.Add(-time.Minute), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ElapsedMinutes(base, tt.out); got != tt.want {
				t.Errorf("ElapsedMinutes() = %d, want %d", got, tt.want)
			}
		})
	}
}
