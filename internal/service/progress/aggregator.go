// Package progress derives live campaign statistics from the recipient ledger.
//
// Counts always come from a ledger scan, never from the cached counters on
// the campaign row, so a poller cannot observe drift. Nothing runs in the
// background: every call recomputes from current state.
package progress

import (
	"context"
	"math"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// CampaignReader loads a campaign row.
type CampaignReader interface {
	Get(ctx context.Context, id string) (*domain.Campaign, error)
}

// Counter scans ledger statuses.
type Counter interface {
	CountByStatus(ctx context.Context, campaignID string) (domain.LedgerCounts, error)
}

// Aggregator computes Progress snapshots. Safe to call at any frequency.
type Aggregator struct {
	campaigns CampaignReader
	ledger    Counter
	now       func() time.Time
}

// NewAggregator creates an aggregator using the wall clock.
func NewAggregator(campaigns CampaignReader, ledger Counter) *Aggregator {
	return &Aggregator{campaigns: campaigns, ledger: ledger, now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Get returns the current progress of a campaign.
func (a *Aggregator) Get(ctx context.Context, campaignID string) (*domain.Progress, error) {
	c, err := a.campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	counts, err := a.ledger.CountByStatus(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return Compute(c, counts, a.now()), nil
}

// Compute builds a Progress from a campaign row, a ledger scan, and the
// current time.
func Compute(c *domain.Campaign, counts domain.LedgerCounts, now time.Time) *domain.Progress {
	p := &domain.Progress{
		CampaignID: c.ID,
		Status:     c.Status,
		Total:      counts.Total,
		Sent:       counts.Sent,
		Failed:     counts.Failed,
		Pending:    counts.Pending,
	}

	processed := counts.Sent + counts.Failed
	if counts.Total > 0 {
		p.Percentage = round1(float64(processed) / float64(counts.Total) * 100)
	}
	if processed > 0 {
		p.SuccessRate = float64(counts.Sent) / float64(processed)
	}

	if c.StartedAt != nil {
		if elapsed := elapsedEnd(c, now).Sub(*c.StartedAt).Seconds(); elapsed > 0 {
			p.ElapsedSeconds = elapsed
		}
	}

	// Elapsed runs from the first start, so time spent parked in queued
	// between runs is included and the estimate is conservative after a
	// resume.
	if c.Status == domain.CampaignSending && processed > 0 {
		eta := p.ElapsedSeconds / float64(processed) * float64(counts.Pending)
		p.EstimatedRemainingSeconds = &eta
	}
	return p
}

// elapsedEnd is where the elapsed clock stops. Only a sending campaign keeps
// running; a terminal one stops at completed_at and a parked one at its last
// status change.
func elapsedEnd(c *domain.Campaign, now time.Time) time.Time {
	switch {
	case c.Status == domain.CampaignSending:
		return now
	case c.IsTerminal() && c.CompletedAt != nil:
		return *c.CompletedAt
	case !c.UpdatedAt.IsZero():
		return c.UpdatedAt
	}
	return now
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
