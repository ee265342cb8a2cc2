// Package whatsapp calls the WhatsApp Business Cloud API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://graph.facebook.com/v23.0"

// Client sends template messages through a business phone number.
type Client struct {
	BaseURL     string
	PhoneID     string
	Token       string
	PhonePrefix string
	HTTP        *http.Client
}

// New creates a client. prefix is prepended to local phone numbers, e.g. "+65".
func New(phoneID, token, prefix string) *Client {
	return &Client{
		BaseURL:     defaultBaseURL,
		PhoneID:     phoneID,
		Token:       token,
		PhonePrefix: prefix,
		HTTP:        &http.Client{Timeout: 10 * time.Second},
	}
}

// Configured reports whether credentials are set.
func (c *Client) Configured() bool {
	return c != nil && c.PhoneID != "" && c.Token != ""
}

type templatePayload struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Template         template `json:"template"`
}

type template struct {
	Name       string      `json:"name"`
	Language   language    `json:"language"`
	Components []component `json:"components"`
}

type language struct {
	Code string `json:"code"`
}

type component struct {
	Type       string      `json:"type"`
	Parameters []parameter `json:"parameters"`
}

type parameter struct {
	Type          string `json:"type"`
	ParameterName string `json:"parameter_name,omitempty"`
	Text          string `json:"text"`
}

// SendDismissal sends the student dismissal template to a parent's phone.
func (c *Client) SendDismissal(ctx context.Context, phone, studentName string) error {
	if !c.Configured() {
		return fmt.Errorf("whatsapp client not configured")
	}

	payload := templatePayload{
		MessagingProduct: "whatsapp",
		To:               c.fullNumber(phone),
		Type:             "template",
		Template: template{
			Name:     "student_dismissal_template",
			Language: language{Code: "en_US"},
			Components: []component{{
				Type: "body",
				Parameters: []parameter{{
					Type:          "text",
					ParameterName: "student_name",
					Text:          studentName,
				}},
			}},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/%s/messages", c.BaseURL, c.PhoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("whatsapp api error %s: %s", resp.Status, string(respBody))
	}
	return nil
}

func (c *Client) fullNumber(phone string) string {
	if strings.HasPrefix(phone, "+") {
		return phone
	}
	return c.PhonePrefix + phone
}
