package campaign

import (
	"context"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// Repository defines the data access contract for campaign rows.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// Create inserts a new campaign and returns its ID.
	Create(ctx context.Context, c *domain.Campaign) (string, error)

	// Transition moves the campaign from status `from` to `to`, applying the
	// non-nil fields, only if its stored status is still `from`. Returns
	// ErrNotFound for an unknown campaign and ErrInvalidState if the stored
	// status no longer matches.
	Transition(ctx context.Context, id string, from, to domain.CampaignStatus, f TransitionFields) error

	// IncrementCounters adds to the cached sent/failed counters.
	IncrementCounters(ctx context.Context, id string, sent, failed int) error

	// SetCounters overwrites the cached sent/failed counters.
	SetCounters(ctx context.Context, id string, sent, failed int) error

	// ListByStatus returns campaigns in the given status, oldest first.
	ListByStatus(ctx context.Context, status domain.CampaignStatus) ([]domain.Campaign, error)
}

// TransitionFields holds the timestamp and error columns a transition may set.
// Nil fields are left unchanged.
type TransitionFields struct {
	// StartedAt is applied only if the campaign has never started.
	StartedAt   *time.Time
	CompletedAt *time.Time
	// LastError replaces the stored error text; point at "" to clear it.
	LastError *string
}

// Ledger is the durable per-recipient state store and send log.
// Every mutation is scoped to a single row.
type Ledger interface {
	// AddRecipients inserts the campaign's recipient entries and fixes its
	// recipient_count in one step. Returns ErrRecipientsPresent if the
	// campaign already has recipients.
	AddRecipients(ctx context.Context, campaignID string, entries []domain.RecipientEntry) error

	// ListPending returns the still-pending entries in creation order.
	// Returns ErrNotFound for an unknown campaign.
	ListPending(ctx context.Context, campaignID string) ([]domain.RecipientEntry, error)

	// MarkSent moves a pending entry to sent. Returns changed=false if the
	// entry was already terminal, and ErrNotFound if it does not belong to
	// the campaign.
	MarkSent(ctx context.Context, campaignID, entryID string, sentAt time.Time, providerMessageID string) (bool, error)

	// MarkFailed moves a pending entry to failed. Same contract as MarkSent.
	MarkFailed(ctx context.Context, campaignID, entryID, errorMessage string) (bool, error)

	// CountByStatus scans the campaign's entries.
	CountByStatus(ctx context.Context, campaignID string) (domain.LedgerCounts, error)

	// AppendSendLog records one dispatch attempt.
	AppendSendLog(ctx context.Context, e *domain.SendLogEntry) error

	// ListSendLog returns the campaign's send log in append order.
	ListSendLog(ctx context.Context, campaignID string) ([]domain.SendLogEntry, error)
}
