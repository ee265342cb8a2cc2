package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendDismissal(t *testing.T) {
	var got templatePayload
	var gotPath, gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New("12345", "token-abc", "+65")
	c.BaseURL = srv.URL

	if err := c.SendDismissal(context.Background(), "98315882", "Alice"); err != nil {
		t.Fatalf("SendDismissal() error = %v", err)
	}

	if gotPath != "/12345/messages" {
		t.Errorf("path = %q, want /12345/messages", gotPath)
	}
	if gotAuth != "Bearer token-abc" {
		t.Errorf("auth = %q, want bearer token", gotAuth)
	}
	if got.MessagingProduct != "whatsapp" || got.Type != "template" {
		t.Errorf("payload envelope = %+v", got)
	}
	if got.To != "+6598315882" {
		t.Errorf("to = %q, want prefixed +6598315882", got.To)
	}
	if got.Template.Name != "student_dismissal_template" {
		t.Errorf("template = %q", got.Template.Name)
	}
	params := got.Template.Components[0].Parameters
	if len(params) != 1 || params[0].Text != "Alice" {
		t.Errorf("parameters = %+v, want the student name", params)
	}
}

func TestSendDismissalKeepsInternationalNumbers(t *testing.T) {
	var got templatePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	c := New("12345", "token-abc", "+65")
	c.BaseURL = srv.URL
	if err := c.SendDismissal(context.Background(), "+14155550100", "Alice"); err != nil {
		t.Fatalf("SendDismissal() error = %v", err)
	}
	if got.To != "+14155550100" {
		t.Errorf("to = %q, want number kept as-is", got.To)
	}
}

func TestSendDismissalAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad template"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New("12345", "token-abc", "+65")
	c.BaseURL = srv.URL
	if err := c.SendDismissal(context.Background(), "98315882", "Alice"); err == nil {
		t.Fatal("SendDismissal() = nil error, want API error surfaced")
	}
}

func TestSendDismissalUnconfigured(t *testing.T) {
	c := New("", "", "+65")
	if err := c.SendDismissal(context.Background(), "98315882", "Alice"); err == nil {
		t.Fatal("SendDismissal() = nil error, want configuration error")
	}
}

func TestVerifyHandshake(t *testing.T) {
	tests := []struct {
		name     string
		mode     string
		token    string
		expected string
		wantOK   bool
	}{
		{name: "valid", mode: "subscribe", token: "verify-me", expected: "verify-me", wantOK: true},
		{name: "wrong token", mode: "subscribe", token: "nope", expected: "verify-me", wantOK: false},
		{name: "wrong mode", mode: "unsubscribe", token: "verify-me", expected: "verify-me", wantOK: false},
		{name: "no expected token configured", mode: "subscribe", token: "", expected: "", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			challenge, ok := VerifyHandshake(tt.mode, tt.token, "challenge-123", tt.expected)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && challenge != "challenge-123" {
				t.Errorf("challenge = %q, want echo", challenge)
			}
		})
	}
}
