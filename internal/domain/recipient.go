package domain

import (
	"strings"
	"time"
)

// RecipientStatus enumerates the states of a single addressee within a campaign.
type RecipientStatus string

const (
	RecipientPending RecipientStatus = "pending"
	RecipientSent    RecipientStatus = "sent"
	RecipientFailed  RecipientStatus = "failed"
)

// IsTerminal reports whether the dispatcher is done with the entry.
func (s RecipientStatus) IsTerminal() bool {
	return s == RecipientSent || s == RecipientFailed
}

// RecipientEntry is one addressee's state within a campaign ledger.
type RecipientEntry struct {
	ID           string            `json:"id" db:"id"`
	CampaignID   string            `json:"campaign_id" db:"campaign_id"`
	Seq          int64             `json:"seq" db:"seq"`
	Email        string            `json:"email" db:"email"`
	Name         string            `json:"name" db:"name"`
	CustomFields map[string]string `json:"custom_fields,omitempty" db:"custom_fields"`

	// Per-recipient overrides of the campaign templates. Nil means "use the campaign's".
	SubjectOverride *string `json:"subject_override,omitempty" db:"subject_override"`
	BodyOverride    *string `json:"body_override,omitempty" db:"body_override"`

	Status            RecipientStatus `json:"status" db:"status"`
	SentAt            *time.Time      `json:"sent_at" db:"sent_at"`
	ProviderMessageID string          `json:"provider_message_id,omitempty" db:"provider_message_id"`
	ErrorMessage      *string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// NormalizeEmail returns the comparison key for an address: trimmed and lower-cased.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Fields returns the substitution map for this recipient: custom fields plus
// the built-in name and email keys, which take precedence.
func (r *RecipientEntry) Fields() map[string]string {
	out := make(map[string]string, len(r.CustomFields)+2)
	for k, v := range r.CustomFields {
		out[k] = v
	}
	out["name"] = r.Name
	out["email"] = r.Email
	return out
}

// LedgerCounts is a scan of recipient statuses for one campaign.
type LedgerCounts struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}
