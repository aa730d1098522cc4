package campaign

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
	"github.com/ignite/campaign-dispatch/internal/render"
)

// CredentialChecker reports whether an owner can send. sending.Connector
// satisfies it.
type CredentialChecker interface {
	HasCredentials(ctx context.Context, ownerID string) (bool, error)
}

// Service implements campaign business logic. All public methods are safe
// for concurrent use if the underlying repository and ledger are.
type Service struct {
	repo   Repository
	ledger Ledger
	creds  CredentialChecker
	now    func() time.Time
}

// NewService creates a campaign service backed by the given stores.
func NewService(repo Repository, ledger Ledger, creds CredentialChecker) *Service {
	return &Service{
		repo:   repo,
		ledger: ledger,
		creds:  creds,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Ledger exposes the recipient ledger backing this service.
func (s *Service) Ledger() Ledger { return s.ledger }

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	OwnerID   string `json:"owner_id"`
	Name      string `json:"name"`
	FromName  string `json:"from_name"`
	FromEmail string `json:"from_email"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	HTML      string `json:"html"`
}

// Create validates and persists a new campaign in draft status.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Campaign, error) {
	if strings.TrimSpace(input.OwnerID) == "" {
		return nil, invalid("owner_id", "is required")
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, invalid("name", "is required")
	}
	if strings.TrimSpace(input.Subject) == "" {
		return nil, invalid("subject", "is required")
	}
	if strings.TrimSpace(input.Body) == "" {
		return nil, invalid("body", "is required")
	}
	if input.FromEmail != "" {
		if _, err := mail.ParseAddress(input.FromEmail); err != nil {
			return nil, invalid("from_email", "%q is not a valid address", input.FromEmail)
		}
	}

	now := s.now()
	c := &domain.Campaign{
		ID:              uuid.New().String(),
		OwnerID:         input.OwnerID,
		Name:            strings.TrimSpace(input.Name),
		FromName:        input.FromName,
		FromEmail:       input.FromEmail,
		SubjectTemplate: input.Subject,
		BodyTemplate:    input.Body,
		HTMLTemplate:    input.HTML,
		Status:          domain.CampaignDraft,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	id, err := s.repo.Create(ctx, c)
	if err != nil {
		return nil, err
	}
	c.ID = id
	return c, nil
}

// RecipientInput is one validated row handed over by the ingestion step.
type RecipientInput struct {
	Email           string            `json:"email"`
	Name            string            `json:"name"`
	CustomFields    map[string]string `json:"custom_fields,omitempty"`
	SubjectOverride *string           `json:"subject_override,omitempty"`
	BodyOverride    *string           `json:"body_override,omitempty"`
}

// AttachRecipients builds the campaign's ledger. It is allowed once, while the
// campaign is a draft. Returns the number of entries created.
func (s *Service) AttachRecipients(ctx context.Context, campaignID string, inputs []RecipientInput) (int, error) {
	c, err := s.repo.Get(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	if c.Status != domain.CampaignDraft {
		return 0, fmt.Errorf("%w: recipients can only be attached to a draft (status %s)", ErrInvalidState, c.Status)
	}
	if c.RecipientCount > 0 {
		return 0, ErrRecipientsPresent
	}
	if len(inputs) == 0 {
		return 0, invalid("recipients", "at least one recipient is required")
	}

	now := s.now()
	seen := make(map[string]int, len(inputs))
	entries := make([]domain.RecipientEntry, 0, len(inputs))
	supplied := map[string]bool{"name": true, "email": true}
	for i, in := range inputs {
		email := strings.TrimSpace(in.Email)
		addr, err := mail.ParseAddress(email)
		if err != nil || addr.Address != email {
			return 0, invalid(fmt.Sprintf("recipients[%d].email", i), "%q is not a valid address", in.Email)
		}
		key := domain.NormalizeEmail(email)
		if first, dup := seen[key]; dup {
			return 0, invalid(fmt.Sprintf("recipients[%d].email", i), "duplicate of recipients[%d]", first)
		}
		seen[key] = i

		for k := range in.CustomFields {
			supplied[k] = true
		}
		entries = append(entries, domain.RecipientEntry{
			ID:              uuid.New().String(),
			CampaignID:      campaignID,
			Seq:             int64(i + 1),
			Email:           email,
			Name:            strings.TrimSpace(in.Name),
			CustomFields:    in.CustomFields,
			SubjectOverride: in.SubjectOverride,
			BodyOverride:    in.BodyOverride,
			Status:          domain.RecipientPending,
			CreatedAt:       now,
		})
	}

	if err := s.ledger.AddRecipients(ctx, campaignID, entries); err != nil {
		return 0, fmt.Errorf("attach recipients: %w", err)
	}

	for _, key := range append(render.Placeholders(c.SubjectTemplate), render.Placeholders(c.BodyTemplate)...) {
		if !supplied[key] {
			logger.Warn("[campaign.Service] placeholder has no value for any recipient",
				"campaign_id", campaignID, "placeholder", key)
		}
	}

	logger.Info("[campaign.Service] recipients attached", "campaign_id", campaignID, "count", len(entries))
	return len(entries), nil
}

// Queue moves a draft (or a failed campaign being retried) to queued. The
// campaign must have recipients and its owner must have outbound credentials.
func (s *Service) Queue(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(c.Status, domain.CampaignQueued) || c.Status == domain.CampaignSending {
		return nil, fmt.Errorf("%w: cannot queue a %s campaign", ErrInvalidState, c.Status)
	}
	if c.RecipientCount == 0 {
		return nil, ErrNoRecipients
	}
	ok, err := s.creds.HasCredentials(ctx, c.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("check credentials: %w", err)
	}
	if !ok {
		return nil, ErrNoCredentials
	}

	cleared := ""
	if err := s.Transition(ctx, c, domain.CampaignQueued, TransitionFields{LastError: &cleared}); err != nil {
		return nil, err
	}
	return c, nil
}

// Cancel stops a campaign that has not started sending.
func (s *Service) Cancel(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.Transition(ctx, c, domain.CampaignCancelled, TransitionFields{CompletedAt: &now}); err != nil {
		return nil, err
	}
	return c, nil
}

// Transition applies a state-machine move to c and updates it in place.
func (s *Service) Transition(ctx context.Context, c *domain.Campaign, to domain.CampaignStatus, f TransitionFields) error {
	from := c.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, from, to)
	}
	if err := s.repo.Transition(ctx, c.ID, from, to, f); err != nil {
		return err
	}

	c.Status = to
	c.UpdatedAt = s.now()
	if f.StartedAt != nil && c.StartedAt == nil {
		t := *f.StartedAt
		c.StartedAt = &t
	}
	if f.CompletedAt != nil {
		t := *f.CompletedAt
		c.CompletedAt = &t
	}
	if f.LastError != nil {
		c.LastError = *f.LastError
	}
	logger.Info("[campaign.Service] status changed", "campaign_id", c.ID, "from", from, "to", to)
	return nil
}

// RecordOutcome bumps the cached counters after a ledger row reached a terminal state.
func (s *Service) RecordOutcome(ctx context.Context, id string, outcome domain.SendOutcome) error {
	switch outcome {
	case domain.OutcomeSent:
		return s.repo.IncrementCounters(ctx, id, 1, 0)
	case domain.OutcomeFailed:
		return s.repo.IncrementCounters(ctx, id, 0, 1)
	}
	return fmt.Errorf("unknown outcome %q", outcome)
}

// Reconcile recomputes the cached counters from the ledger and stores them.
func (s *Service) Reconcile(ctx context.Context, id string) (domain.LedgerCounts, error) {
	counts, err := s.ledger.CountByStatus(ctx, id)
	if err != nil {
		return domain.LedgerCounts{}, err
	}
	if err := s.repo.SetCounters(ctx, id, counts.Sent, counts.Failed); err != nil {
		return domain.LedgerCounts{}, fmt.Errorf("reconcile counters: %w", err)
	}
	return counts, nil
}

// SendLog returns the campaign's audit trail in append order.
func (s *Service) SendLog(ctx context.Context, id string) ([]domain.SendLogEntry, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.ledger.ListSendLog(ctx, id)
}

// ListByStatus returns campaigns currently in the given status.
func (s *Service) ListByStatus(ctx context.Context, status domain.CampaignStatus) ([]domain.Campaign, error) {
	return s.repo.ListByStatus(ctx, status)
}
