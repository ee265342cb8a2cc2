package roster

import (
	"errors"
	"time"
)

// Student is a registered child of one parent, scoped to an account.
type Student struct {
	ID        string    `json:"id"`
	AccountID string    `json:"-"`
	ParentID  string    `json:"parent_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Parent owns one or more students. SecretKey is the current one-time
// login key, nil until the first login attempt.
type Parent struct {
	ID          string  `json:"id"`
	AccountID   string  `json:"-"`
	Name        string  `json:"name"`
	Email       string  `json:"email"`
	PhoneNumber string  `json:"phone_number"`
	SecretKey   *string `json:"-"`
}

// Entry is one row of a bulk registration request.
type Entry struct {
	StudentName  string `json:"name"`
	ParentNumber string `json:"parentNumber"`
}

var (
	// ErrStudentNotFound means no student matched the name within the account.
	ErrStudentNotFound = errors.New("student not found")
	// ErrParentNotFound means no parent matched the lookup.
	ErrParentNotFound = errors.New("parent not found")
	// ErrMissingFields means a bulk entry lacked a required field.
	ErrMissingFields = errors.New("missing fields for a student")
)
