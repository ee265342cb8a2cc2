// Package authflow implements the parent login conversation: a four-state
// session machine driving one-time secret key issuance and verification.
package authflow

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"

	"tutortrack/internal/roster"
)

// State is the session position in the login conversation.
type State string

// Session states. The flow is linear: idle -> awaitingLoginInfo ->
// awaitingSecretKey -> loggedIn, with /logout resetting to idle.
const (
	StateIdle              State = "idle"
	StateAwaitingLoginInfo State = "awaitingLoginInfo"
	StateAwaitingSecretKey State = "awaitingSecretKey"
	StateLoggedIn          State = "loggedIn"
)

// Session is the per-conversation record persisted between messages.
type Session struct {
	State    State  `json:"state"`
	ParentID string `json:"parent_id,omitempty"`
}

// SessionStore persists sessions keyed by chat id.
type SessionStore interface {
	Get(ctx context.Context, chatID int64) (Session, error)
	Put(ctx context.Context, chatID int64, s Session) error
}

// ParentDirectory is the parent lookup surface the flow needs.
type ParentDirectory interface {
	FindParentByNameEmail(ctx context.Context, name, email string) (*roster.Parent, error)
	SetSecretKey(ctx context.Context, parentID, key string) error
	SecretKey(ctx context.Context, parentID string) (string, error)
	StudentsOfParent(ctx context.Context, parentID string) ([]roster.Student, error)
}

// KeyMailer delivers the one-time secret key.
type KeyMailer interface {
	SendSecretKey(to, parentName, key string) error
}

// Flow drives the login conversation for every chat.
type Flow struct {
	sessions SessionStore
	parents  ParentDirectory
	mail     KeyMailer
}

// NewFlow creates the conversation handler.
func NewFlow(sessions SessionStore, parents ParentDirectory, mail KeyMailer) *Flow {
	return &Flow{sessions: sessions, parents: parents, mail: mail}
}

// Canned replies.
const (
	replyHelp = "Welcome!\n\n" +
		"Use /login to authenticate.\n" +
		"Once logged in, use /your_students to view your student list."
	replyLoginPrompt = "Please send your name and email separated by a comma.\nExample:\nJohn Doe, john@example.com"
	replyLoggedOut   = "You have been logged out."
	replyLoginFirst  = "Please login first using /login."
	replyBadLogin    = "Please send your name and email separated by a comma, e.g. John Doe, john@example.com"
	replyNoParent    = "Parent not found. Please try again or contact support."
	replyKeyError    = "Error generating secret key. Please try again later."
	replyMailError   = "Couldn't send the email. Please try again later."
	replyKeySent     = "A secret key has been sent to your email.\nPlease enter the secret key here to complete login."
	replyLoggedIn    = "Login successful! You can now use the bot commands."
	replyWrongKey    = "Incorrect secret key. Please try again."
	replyUnknown     = "Unknown command or please login first with /login."
	replyNothingDone = "Nothing to finish currently."
)

// Start replies with static help; the session is untouched.
func (f *Flow) Start(ctx context.Context, chatID int64) string {
	return replyHelp
}

// Login moves the conversation to awaitingLoginInfo and clears any parent
// binding.
func (f *Flow) Login(ctx context.Context, chatID int64) (string, error) {
	if err := f.sessions.Put(ctx, chatID, Session{State: StateAwaitingLoginInfo}); err != nil {
		return "", err
	}
	return replyLoginPrompt, nil
}

// Logout resets the session to idle.
func (f *Flow) Logout(ctx context.Context, chatID int64) (string, error) {
	if err := f.sessions.Put(ctx, chatID, Session{State: StateIdle}); err != nil {
		return "", err
	}
	return replyLoggedOut, nil
}

// Done closes the add-students flow; with none in progress it is a no-op.
func (f *Flow) Done(ctx context.Context, chatID int64) (string, error) {
	return replyNothingDone, nil
}

// YourStudents lists the logged-in parent's students.
func (f *Flow) YourStudents(ctx context.Context, chatID int64) (string, error) {
	sess, err := f.sessions.Get(ctx, chatID)
	if err != nil {
		return "", err
	}
	if sess.State != StateLoggedIn {
		return replyLoginFirst, nil
	}
	students, err := f.parents.StudentsOfParent(ctx, sess.ParentID)
	if err != nil {
		return "", err
	}
	if len(students) == 0 {
		return "You have no registered students.", nil
	}
	var b strings.Builder
	b.WriteString("Your students:\n\n")
	for i, s := range students {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s.Name)
	}
	return b.String(), nil
}

// HandleText processes a free-text message according to the session state.
func (f *Flow) HandleText(ctx context.Context, chatID int64, text string) (string, error) {
	text = strings.TrimSpace(text)
	sess, err := f.sessions.Get(ctx, chatID)
	if err != nil {
		return "", err
	}

	switch sess.State {
	case StateAwaitingLoginInfo:
		return f.handleLoginInfo(ctx, chatID, text)
	case StateAwaitingSecretKey:
		return f.handleSecretKey(ctx, chatID, sess, text)
	default:
		return replyUnknown, nil
	}
}

func (f *Flow) handleLoginInfo(ctx context.Context, chatID int64, text string) (string, error) {
	if !strings.Contains(text, ",") || !strings.Contains(text, "@") {
		return replyBadLogin, nil
	}
	name, email, _ := strings.Cut(text, ",")
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	parent, err := f.parents.FindParentByNameEmail(ctx, name, email)
	if err != nil {
		if errors.Is(err, roster.ErrParentNotFound) {
			return replyNoParent, nil
		}
		return "", err
	}

	key, err := GenerateSecretKey()
	if err != nil {
		return replyKeyError, nil
	}
	if err := f.parents.SetSecretKey(ctx, parent.ID, key); err != nil {
		log.Printf("secret key persist failed for parent %s: %v", parent.ID, err)
		return replyKeyError, nil
	}
	if err := f.mail.SendSecretKey(email, name, key); err != nil {
		log.Printf("secret key email failed for %s: %v", email, err)
		return replyMailError, nil
	}

	if err := f.sessions.Put(ctx, chatID, Session{State: StateAwaitingSecretKey, ParentID: parent.ID}); err != nil {
		return "", err
	}
	return replyKeySent, nil
}

func (f *Flow) handleSecretKey(ctx context.Context, chatID int64, sess Session, text string) (string, error) {
	stored, err := f.parents.SecretKey(ctx, sess.ParentID)
	if err != nil {
		return "", err
	}
	if stored == "" || !strings.EqualFold(text, stored) {
		return replyWrongKey, nil
	}
	sess.State = StateLoggedIn
	if err := f.sessions.Put(ctx, chatID, sess); err != nil {
		return "", err
	}
	return replyLoggedIn, nil
}

// GenerateSecretKey returns 3 random bytes as 6 uppercase hex characters.
func GenerateSecretKey() (string, error) {
	var buf [3]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(buf[:])), nil
}
