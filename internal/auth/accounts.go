package auth

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials means the email/password pair did not match an account.
var ErrBadCredentials = errors.New("invalid email or password")

// Account is a center staff login scoping all data.
type Account struct {
	ID    string
	Email string
	Name  string
}

// Accounts persists staff accounts.
type Accounts struct {
	db *sql.DB
}

// NewAccounts creates the accounts repo.
func NewAccounts(db *sql.DB) *Accounts {
	return &Accounts{db: db}
}

// Create registers an account with a bcrypt-hashed password.
func (a *Accounts) Create(ctx context.Context, email, name, password string) (*Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	acct := Account{ID: uuid.NewString(), Email: email, Name: name}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, name, password_hash) VALUES ($1, $2, $3, $4)
	`, acct.ID, acct.Email, acct.Name, string(hash))
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// Authenticate checks the password and returns the account on success.
func (a *Accounts) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	var acct Account
	var hash string
	err := a.db.QueryRowContext(ctx, `
		SELECT id, email, name, password_hash FROM accounts WHERE email = $1
	`, email).Scan(&acct.ID, &acct.Email, &acct.Name, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrBadCredentials
	}
	return &acct, nil
}
