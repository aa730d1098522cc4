package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignQueued    CampaignStatus = "queued"
	CampaignSending   CampaignStatus = "sending"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// Campaign is one bulk-send operation bound to a template and a recipient set.
type Campaign struct {
	ID              string         `json:"id" db:"id"`
	OwnerID         string         `json:"owner_id" db:"owner_id"`
	Name            string         `json:"name" db:"name"`
	FromName        string         `json:"from_name" db:"from_name"`
	FromEmail       string         `json:"from_email" db:"from_email"`
	SubjectTemplate string         `json:"subject_template" db:"subject_template"`
	BodyTemplate    string         `json:"body_template" db:"body_template"`
	HTMLTemplate    string         `json:"html_template,omitempty" db:"html_template"`
	Status          CampaignStatus `json:"status" db:"status"`
	LastError       string         `json:"last_error,omitempty" db:"last_error"`

	// RecipientCount is fixed when recipients are attached.
	RecipientCount int `json:"recipient_count" db:"recipient_count"`

	// Cached aggregates. The ledger is the source of truth; see Reconcile.
	SentCount   int `json:"sent_count" db:"sent_count"`
	FailedCount int `json:"failed_count" db:"failed_count"`

	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state. Failed is
// terminal for the dispatcher but may be re-queued by the owner.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted || c.Status == CampaignFailed || c.Status == CampaignCancelled
}
