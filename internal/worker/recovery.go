package worker

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/distlock"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

// DefaultRecoveryInterval is how often stale sending campaigns are looked for.
const DefaultRecoveryInterval = 2 * time.Minute

// RecoveryWorker finds campaigns left in sending by a process that died
// mid-loop. Such a campaign has no live lock holder. Its cached counters are
// reconciled and it is returned to queued, optionally restarted. Ledger marks
// are idempotent, so a restarted loop only touches still-pending rows.
type RecoveryWorker struct {
	campaigns  *campaign.Service
	dispatcher *Dispatcher
	interval   time.Duration
	restart    bool
}

// NewRecoveryWorker creates a recovery worker. With restart set, recovered
// campaigns are dispatched again immediately.
func NewRecoveryWorker(campaigns *campaign.Service, dispatcher *Dispatcher, interval time.Duration, restart bool) *RecoveryWorker {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	return &RecoveryWorker{
		campaigns:  campaigns,
		dispatcher: dispatcher,
		interval:   interval,
		restart:    restart,
	}
}

// Start runs a pass immediately and then on every tick. It blocks until ctx
// is cancelled.
func (rw *RecoveryWorker) Start(ctx context.Context) {
	logger.Info("[RecoveryWorker] starting", "interval", rw.interval.String(), "restart", rw.restart)

	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	for {
		if _, err := rw.RecoverOnce(ctx); err != nil && ctx.Err() == nil {
			logger.Error("[RecoveryWorker] pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			logger.Info("[RecoveryWorker] stopping")
			return
		case <-ticker.C:
		}
	}
}

// RecoverOnce performs a single pass and returns the ids it moved back to
// queued.
func (rw *RecoveryWorker) RecoverOnce(ctx context.Context) ([]string, error) {
	stuck, err := rw.campaigns.ListByStatus(ctx, domain.CampaignSending)
	if err != nil {
		return nil, err
	}

	var recovered []string
	for i := range stuck {
		c := &stuck[i]
		if rw.dispatcher.IsActive(c.ID) {
			continue
		}
		ok, err := rw.recover(ctx, c)
		if err != nil {
			logger.Error("[RecoveryWorker] recover campaign", "campaign_id", c.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		recovered = append(recovered, c.ID)

		if rw.restart {
			if err := rw.dispatcher.Start(ctx, c.ID); err != nil {
				logger.Error("[RecoveryWorker] restart campaign", "campaign_id", c.ID, "error", err)
			}
		}
	}
	if len(recovered) > 0 {
		logger.Info("[RecoveryWorker] requeued stale campaigns", "count", len(recovered))
	}
	return recovered, nil
}

// recover requeues c if no process holds its dispatch lock.
func (rw *RecoveryWorker) recover(ctx context.Context, c *domain.Campaign) (bool, error) {
	lock := rw.dispatcher.locks(distlock.DispatchKey(c.ID))
	acquired, err := lock.Acquire(ctx)
	if err != nil || !acquired {
		return false, err
	}
	defer releaseLock(lock, c.ID)

	counts, err := rw.campaigns.Reconcile(ctx, c.ID)
	if err != nil {
		return false, err
	}
	if err := rw.campaigns.Transition(ctx, c, domain.CampaignQueued, campaign.TransitionFields{}); err != nil {
		if errors.Is(err, campaign.ErrInvalidState) {
			// Another worker got there first.
			return false, nil
		}
		return false, err
	}
	logger.Info("[RecoveryWorker] campaign requeued", "campaign_id", c.ID,
		"sent", counts.Sent, "failed", counts.Failed, "pending", counts.Pending)
	return true, nil
}
