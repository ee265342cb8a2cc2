package auth

import (
	"testing"
	"time"
)

func TestIssueAndParse(t *testing.T) {
	token, exp, err := Issue("acct-1", "owner@example.com", "tutortrack", "secret", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Errorf("expiry %v is not in the future", exp)
	}

	claims, err := Parse(token, "secret", "tutortrack")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.AccountID != "acct-1" {
		t.Errorf("account id = %q, want acct-1", claims.AccountID)
	}
	if claims.Email != "owner@example.com" {
		t.Errorf("email = %q, want owner@example.com", claims.Email)
	}
}

func TestParseRejectsWrongKey(t *testing.T) {
	token, _, err := Issue("acct-1", "owner@example.com", "tutortrack", "secret", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := Parse(token, "other-secret", "tutortrack"); err == nil {
		t.Error("Parse() accepted a token signed with a different key")
	}
}

func TestParseRejectsIssuerMismatch(t *testing.T) {
	token, _, err := Issue("acct-1", "owner@example.com", "someone-else", "secret", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := Parse(token, "secret", "tutortrack"); err == nil {
		t.Error("Parse() accepted a token from a different issuer")
	}
}

func TestParseRejectsExpired(t *testing.T) {
	token, _, err := Issue("acct-1", "owner@example.com", "tutortrack", "secret", -time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := Parse(token, "secret", "tutortrack"); err == nil {
		t.Error("Parse() accepted an expired token")
	}
}
