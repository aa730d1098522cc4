package domain

import "time"

// SendOutcome is the result of one dispatch attempt.
type SendOutcome string

const (
	OutcomeSent   SendOutcome = "sent"
	OutcomeFailed SendOutcome = "failed"
)

// SendLogEntry is an append-only audit record of one send attempt.
type SendLogEntry struct {
	ID                string      `json:"id" db:"id"`
	Seq               int64       `json:"seq" db:"seq"`
	CampaignID        string      `json:"campaign_id" db:"campaign_id"`
	RecipientID       string      `json:"recipient_id" db:"recipient_id"`
	Email             string      `json:"email" db:"email"`
	Subject           string      `json:"subject" db:"subject"`
	Outcome           SendOutcome `json:"outcome" db:"outcome"`
	ProviderMessageID string      `json:"provider_message_id,omitempty" db:"provider_message_id"`
	ErrorMessage      string      `json:"error_message,omitempty" db:"error_message"`
	ErrorClass        string      `json:"error_class,omitempty" db:"error_class"`
	AttemptedAt       time.Time   `json:"attempted_at" db:"attempted_at"`
}
