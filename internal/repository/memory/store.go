// Package memory provides in-process implementations of the campaign
// repository and ledger. It backs unit tests and the server's no-database
// development mode. Every method copies values in and out so callers never
// share mutable state with the store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

// Store implements campaign.Repository and campaign.Ledger.
type Store struct {
	mu         sync.Mutex
	campaigns  map[string]*domain.Campaign
	recipients map[string][]*domain.RecipientEntry // keyed by campaign id, seq order
	sendLog    map[string][]domain.SendLogEntry
	logSeq     int64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		campaigns:  make(map[string]*domain.Campaign),
		recipients: make(map[string][]*domain.RecipientEntry),
		sendLog:    make(map[string][]domain.SendLogEntry),
	}
}

var (
	_ campaign.Repository = (*Store)(nil)
	_ campaign.Ledger     = (*Store)(nil)
)

func (s *Store) Get(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	return copyCampaign(c), nil
}

func (s *Store) Create(_ context.Context, c *domain.Campaign) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if _, exists := s.campaigns[c.ID]; exists {
		return "", fmt.Errorf("create campaign: duplicate id %s", c.ID)
	}
	s.campaigns[c.ID] = copyCampaign(c)
	return c.ID, nil
}

func (s *Store) Transition(_ context.Context, id string, from, to domain.CampaignStatus, f campaign.TransitionFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if c.Status != from {
		return fmt.Errorf("%w: expected %s, found %s", campaign.ErrInvalidState, from, c.Status)
	}
	c.Status = to
	c.UpdatedAt = time.Now().UTC()
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
	return nil
}

func (s *Store) IncrementCounters(_ context.Context, id string, sent, failed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	c.SentCount += sent
	c.FailedCount += failed
	return nil
}

func (s *Store) SetCounters(_ context.Context, id string, sent, failed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	c.SentCount = sent
	c.FailedCount = failed
	return nil
}

func (s *Store) ListByStatus(_ context.Context, status domain.CampaignStatus) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range s.campaigns {
		if c.Status == status {
			out = append(out, *copyCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// AddRecipients stores the entries in seq order and fixes recipient_count.
func (s *Store) AddRecipients(_ context.Context, campaignID string, entries []domain.RecipientEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		return campaign.ErrNotFound
	}
	if c.RecipientCount > 0 || len(s.recipients[campaignID]) > 0 {
		return campaign.ErrRecipientsPresent
	}

	rows := make([]*domain.RecipientEntry, len(entries))
	for i := range entries {
		e := copyEntry(&entries[i])
		e.CampaignID = campaignID
		if e.Status == "" {
			e.Status = domain.RecipientPending
		}
		rows[i] = e
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Seq < rows[j].Seq })
	s.recipients[campaignID] = rows
	c.RecipientCount = len(rows)
	return nil
}

func (s *Store) ListPending(_ context.Context, campaignID string) ([]domain.RecipientEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[campaignID]; !ok {
		return nil, campaign.ErrNotFound
	}
	var out []domain.RecipientEntry
	for _, e := range s.recipients[campaignID] {
		if e.Status == domain.RecipientPending {
			out = append(out, *copyEntry(e))
		}
	}
	return out, nil
}

func (s *Store) MarkSent(_ context.Context, campaignID, entryID string, sentAt time.Time, providerMessageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.entry(campaignID, entryID)
	if err != nil {
		return false, err
	}
	if e.Status.IsTerminal() {
		return false, nil
	}
	t := sentAt
	e.Status = domain.RecipientSent
	e.SentAt = &t
	e.ProviderMessageID = providerMessageID
	return true, nil
}

func (s *Store) MarkFailed(_ context.Context, campaignID, entryID, errorMessage string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.entry(campaignID, entryID)
	if err != nil {
		return false, err
	}
	if e.Status.IsTerminal() {
		return false, nil
	}
	msg := errorMessage
	e.Status = domain.RecipientFailed
	e.ErrorMessage = &msg
	return true, nil
}

func (s *Store) CountByStatus(_ context.Context, campaignID string) (domain.LedgerCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[campaignID]; !ok {
		return domain.LedgerCounts{}, campaign.ErrNotFound
	}
	var counts domain.LedgerCounts
	for _, e := range s.recipients[campaignID] {
		counts.Total++
		switch e.Status {
		case domain.RecipientPending:
			counts.Pending++
		case domain.RecipientSent:
			counts.Sent++
		case domain.RecipientFailed:
			counts.Failed++
		}
	}
	return counts, nil
}

func (s *Store) AppendSendLog(_ context.Context, e *domain.SendLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[e.CampaignID]; !ok {
		return campaign.ErrNotFound
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	s.logSeq++
	e.Seq = s.logSeq
	s.sendLog[e.CampaignID] = append(s.sendLog[e.CampaignID], *e)
	return nil
}

func (s *Store) ListSendLog(_ context.Context, campaignID string) ([]domain.SendLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[campaignID]; !ok {
		return nil, campaign.ErrNotFound
	}
	out := make([]domain.SendLogEntry, len(s.sendLog[campaignID]))
	copy(out, s.sendLog[campaignID])
	return out, nil
}

// Recipients returns a snapshot of every entry of a campaign, in seq order.
func (s *Store) Recipients(campaignID string) []domain.RecipientEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RecipientEntry, 0, len(s.recipients[campaignID]))
	for _, e := range s.recipients[campaignID] {
		out = append(out, *copyEntry(e))
	}
	return out
}

func (s *Store) entry(campaignID, entryID string) (*domain.RecipientEntry, error) {
	if _, ok := s.campaigns[campaignID]; !ok {
		return nil, campaign.ErrNotFound
	}
	for _, e := range s.recipients[campaignID] {
		if e.ID == entryID {
			return e, nil
		}
	}
	return nil, campaign.ErrNotFound
}

func copyCampaign(c *domain.Campaign) *domain.Campaign {
	cp := *c
	if c.StartedAt != nil {
		t := *c.StartedAt
		cp.StartedAt = &t
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func copyEntry(e *domain.RecipientEntry) *domain.RecipientEntry {
	cp := *e
	if e.CustomFields != nil {
		cp.CustomFields = make(map[string]string, len(e.CustomFields))
		for k, v := range e.CustomFields {
			cp.CustomFields[k] = v
		}
	}
	if e.SentAt != nil {
		t := *e.SentAt
		cp.SentAt = &t
	}
	if e.ErrorMessage != nil {
		m := *e.ErrorMessage
		cp.ErrorMessage = &m
	}
	return &cp
}
