package domain

import "time"

// EmailMessage is the fully-resolved message ready for a transport.
// By the time a message reaches this struct, all template substitution
// and HTML derivation is complete.
type EmailMessage struct {
	CampaignID  string `json:"campaign_id"`
	RecipientID string `json:"recipient_id"`
	Email       string `json:"email"`
	FromName    string `json:"from_name"`
	FromEmail   string `json:"from_email"`
	Subject     string `json:"subject"`
	TextContent string `json:"text_content"`
	HTMLContent string `json:"html_content,omitempty"`
}

// SendResult is returned by a transport after a successful hand-off.
type SendResult struct {
	MessageID string    `json:"message_id"`
	SentAt    time.Time `json:"sent_at"`
}
