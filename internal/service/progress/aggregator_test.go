package progress

import (
	"context"
	"testing"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/repository/memory"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestComputeZeroRecipients(t *testing.T) {
	p := Compute(&domain.Campaign{ID: "c", Status: domain.CampaignDraft}, domain.LedgerCounts{}, t0)
	assert.Equal(t, 0.0, p.Percentage)
	assert.Equal(t, 0.0, p.SuccessRate)
	assert.Equal(t, 0.0, p.ElapsedSeconds)
	assert.Nil(t, p.EstimatedRemainingSeconds)
}

func TestComputeWhileSending(t *testing.T) {
	started := t0
	c := &domain.Campaign{ID: "c", Status: domain.CampaignSending, StartedAt: &started}
	counts := domain.LedgerCounts{Total: 3, Sent: 1, Failed: 1, Pending: 1}

	p := Compute(c, counts, t0.Add(10*time.Second))
	assert.Equal(t, 66.7, p.Percentage)
	assert.Equal(t, 0.5, p.SuccessRate)
	assert.Equal(t, 10.0, p.ElapsedSeconds)
	require.NotNil(t, p.EstimatedRemainingSeconds)
	assert.Equal(t, 5.0, *p.EstimatedRemainingSeconds)
}

func TestComputeSendingNothingProcessedYet(t *testing.T) {
	started := t0
	c := &domain.Campaign{ID: "c", Status: domain.CampaignSending, StartedAt: &started}
	p := Compute(c, domain.LedgerCounts{Total: 5, Pending: 5}, t0.Add(time.Second))
	assert.Nil(t, p.EstimatedRemainingSeconds)
	assert.Equal(t, 0.0, p.SuccessRate)
}

func TestComputeCompletedUsesCompletedAt(t *testing.T) {
	started, done := t0, t0.Add(90*time.Second)
	c := &domain.Campaign{ID: "c", Status: domain.CampaignCompleted, StartedAt: &started, CompletedAt: &done}
	p := Compute(c, domain.LedgerCounts{Total: 2, Sent: 2}, t0.Add(time.Hour))
	assert.Equal(t, 90.0, p.ElapsedSeconds)
	assert.Equal(t, 100.0, p.Percentage)
	assert.Equal(t, 1.0, p.SuccessRate)
	assert.Nil(t, p.EstimatedRemainingSeconds, "no estimate once the loop has finished")
}

func TestComputeElapsedStopsWhenNotSending(t *testing.T) {
	started := t0
	failedAt := t0.Add(30 * time.Second)
	failed := &domain.Campaign{ID: "c", Status: domain.CampaignFailed, StartedAt: &started, CompletedAt: &failedAt, UpdatedAt: failedAt}
	counts := domain.LedgerCounts{Total: 3, Sent: 1, Pending: 2}

	soon := Compute(failed, counts, t0.Add(time.Minute))
	later := Compute(failed, counts, t0.Add(10*time.Hour))
	assert.Equal(t, 30.0, soon.ElapsedSeconds)
	assert.Equal(t, soon.ElapsedSeconds, later.ElapsedSeconds)
	assert.Nil(t, later.EstimatedRemainingSeconds)

	parkedAt := t0.Add(20 * time.Second)
	parked := &domain.Campaign{ID: "c", Status: domain.CampaignQueued, StartedAt: &started, UpdatedAt: parkedAt}
	assert.Equal(t, 20.0, Compute(parked, counts, t0.Add(10*time.Hour)).ElapsedSeconds)
}

func TestAggregatorReadsLedgerNotCache(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	id, _ := store.Create(ctx, &domain.Campaign{Status: domain.CampaignDraft})
	require.NoError(t, store.AddRecipients(ctx, id, []domain.RecipientEntry{
		{ID: "r1", Seq: 1}, {ID: "r2", Seq: 2},
	}))
	store.MarkSent(ctx, id, "r1", t0, "m")
	store.SetCounters(ctx, id, 99, 99)

	agg := NewAggregator(store, store).WithClock(func() time.Time { return t0 })
	p, err := agg.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Sent)
	assert.Equal(t, 0, p.Failed)
	assert.Equal(t, 1, p.Pending)
	assert.Equal(t, 50.0, p.Percentage)
}

func TestAggregatorNotFound(t *testing.T) {
	store := memory.NewStore()
	_, err := NewAggregator(store, store).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}
