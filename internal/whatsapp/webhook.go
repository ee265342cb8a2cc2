package whatsapp

// Webhook payload shapes for the Cloud API callback, trimmed to the fields
// we read. Callbacks are acknowledged before processing; delivery statuses
// are only logged.

// WebhookEvent is the top-level callback body.
type WebhookEvent struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

// WebhookEntry groups changes for one business account.
type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

// WebhookChange is one field update inside an entry.
type WebhookChange struct {
	Field string       `json:"field"`
	Value WebhookValue `json:"value"`
}

// WebhookValue carries message statuses and inbound messages.
type WebhookValue struct {
	MessagingProduct string          `json:"messaging_product"`
	Statuses         []MessageStatus `json:"statuses"`
	Messages         []InboundText   `json:"messages"`
}

// MessageStatus is a delivery receipt for an outbound message.
type MessageStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// InboundText is an inbound message from a parent.
type InboundText struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
}

// VerifyHandshake checks the subscription handshake query parameters and
// returns the challenge to echo back, or false on token mismatch.
func VerifyHandshake(mode, token, challenge, expectedToken string) (string, bool) {
	if mode == "subscribe" && expectedToken != "" && token == expectedToken {
		return challenge, true
	}
	return "", false
}
