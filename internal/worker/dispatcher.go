package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/distlock"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
	"github.com/ignite/campaign-dispatch/internal/render"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
	"github.com/ignite/campaign-dispatch/internal/service/sending"
)

const (
	// DefaultInterval is the start-to-start floor between two sends of one campaign.
	DefaultInterval = time.Second

	// DefaultLockTTL bounds how long a crashed holder keeps a campaign locked.
	DefaultLockTTL = 2 * time.Minute
)

var (
	// ErrAlreadyRunning means a loop for the campaign is live in this or
	// another process.
	ErrAlreadyRunning = fmt.Errorf("%w: dispatch already running", campaign.ErrInvalidState)

	// ErrShuttingDown is returned by Start after Shutdown has begun.
	ErrShuttingDown = errors.New("dispatcher is shutting down")

	// ErrHalted is returned by Run when the loop stopped before the ledger
	// was drained. The campaign is back in queued.
	ErrHalted = errors.New("dispatch halted")
)

// StorageError wraps a ledger or campaign write that failed inside the loop.
// It is the only in-loop error that aborts a campaign.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// ConnectError is a transport handshake that failed before any recipient was
// touched. The campaign has been moved to failed.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string { return "connect transport: " + e.Err.Error() }
func (e *ConnectError) Unwrap() error { return e.Err }

// Config tunes a Dispatcher. Zero values take defaults.
type Config struct {
	Interval time.Duration
	LockTTL  time.Duration
	Clock    Clock
	Locks    distlock.Factory
}

// Dispatcher runs one sequential, paced send loop per campaign. Loops for
// different campaigns run concurrently on their own goroutines.
type Dispatcher struct {
	campaigns *campaign.Service
	ledger    campaign.Ledger
	connector sending.Connector
	locks     distlock.Factory
	clock     Clock
	interval  time.Duration
	lockTTL   time.Duration

	root   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	active map[string]context.CancelFunc
	closed bool
}

// NewDispatcher creates a dispatcher. Loops started with Start live until
// they finish, are halted, or Shutdown is called.
func NewDispatcher(campaigns *campaign.Service, connector sending.Connector, cfg Config) *Dispatcher {
	if cfg.Interval < 0 {
		cfg.Interval = 0
	} else if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	if cfg.Locks == nil {
		cfg.Locks = distlock.NewFactory(nil, nil, cfg.LockTTL)
	}
	root, stop := context.WithCancel(context.Background())
	return &Dispatcher{
		campaigns: campaigns,
		ledger:    campaigns.Ledger(),
		connector: connector,
		locks:     cfg.Locks,
		clock:     cfg.Clock,
		interval:  cfg.Interval,
		lockTTL:   cfg.LockTTL,
		root:      root,
		stop:      stop,
		active:    make(map[string]context.CancelFunc),
	}
}

// run is one prepared dispatch: the campaign is in sending, the lock is held
// and the transport is connected.
type run struct {
	c      *domain.Campaign
	sender sending.Sender
	lock   distlock.Lock
	ctx    context.Context
	cancel context.CancelFunc
}

// Start validates and prepares the campaign synchronously, then runs the send
// loop in the background and returns. Errors returned here are caller facing:
// invalid state, a loop already running, or a failed transport handshake
// (the campaign is then failed with no recipient touched). A completed
// campaign is a no-op.
func (d *Dispatcher) Start(ctx context.Context, campaignID string) error {
	r, err := d.prepare(ctx, campaignID, d.root)
	if err != nil || r == nil {
		return err
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop(r)
	}()
	return nil
}

// Run is Start without the goroutine: it blocks until the loop ends. Halting
// the campaign or cancelling ctx stops it between recipients.
func (d *Dispatcher) Run(ctx context.Context, campaignID string) error {
	r, err := d.prepare(ctx, campaignID, ctx)
	if err != nil || r == nil {
		return err
	}
	stop := context.AfterFunc(d.root, r.cancel)
	defer stop()
	d.wg.Add(1)
	defer d.wg.Done()
	return d.loop(r)
}

// Halt asks a running loop to stop after its in-flight recipient. The
// campaign returns to queued and can be started again or cancelled.
func (d *Dispatcher) Halt(campaignID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	cancel, ok := d.active[campaignID]
	if ok {
		cancel()
	}
	return ok
}

// Active lists campaigns whose loop is running in this process.
func (d *Dispatcher) Active() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.active))
	for id := range d.active {
		ids = append(ids, id)
	}
	return ids
}

// IsActive reports whether this process runs the campaign's loop.
func (d *Dispatcher) IsActive(campaignID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.active[campaignID]
	return ok
}

// Shutdown halts every loop and waits for them to park their campaigns.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.stop()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("[Dispatcher] all loops stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}
}

// prepare moves a queued campaign to sending. The loop's halt signal is
// derived from parent.
func (d *Dispatcher) prepare(ctx context.Context, campaignID string, parent context.Context) (*run, error) {
	c, err := d.campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	switch c.Status {
	case domain.CampaignCompleted:
		logger.Info("[Dispatcher] campaign already completed, nothing to send", "campaign_id", c.ID)
		return nil, nil
	case domain.CampaignQueued:
	case domain.CampaignSending:
		return nil, ErrAlreadyRunning
	default:
		return nil, fmt.Errorf("%w: cannot dispatch a %s campaign", campaign.ErrInvalidState, c.Status)
	}

	runCtx, cancel, err := d.register(c.ID, parent)
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			d.unregister(c.ID)
		}
	}()

	lock := d.locks(distlock.DispatchKey(c.ID))
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire dispatch lock: %w", err)
	}
	if !acquired {
		return nil, ErrAlreadyRunning
	}
	defer func() {
		if !ok {
			releaseLock(lock, c.ID)
		}
	}()

	sender, err := d.connector.Connect(ctx, c.OwnerID)
	if err != nil {
		msg := err.Error()
		failedAt := d.clock.Now().UTC()
		if terr := d.campaigns.Transition(ctx, c, domain.CampaignFailed, campaign.TransitionFields{LastError: &msg, CompletedAt: &failedAt}); terr != nil {
			logger.Error("[Dispatcher] could not mark campaign failed after connect error",
				"campaign_id", c.ID, "error", terr)
		}
		logger.Warn("[Dispatcher] transport unavailable, campaign failed before any send",
			"campaign_id", c.ID, "error_class", string(sending.Classify(err)), "error", err)
		return nil, &ConnectError{Err: err}
	}

	started := d.clock.Now().UTC()
	if err := d.campaigns.Transition(ctx, c, domain.CampaignSending, campaign.TransitionFields{StartedAt: &started}); err != nil {
		return nil, err
	}

	ok = true
	return &run{c: c, sender: sender, lock: lock, ctx: runCtx, cancel: cancel}, nil
}

func (d *Dispatcher) register(id string, parent context.Context) (context.Context, context.CancelFunc, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, nil, ErrShuttingDown
	}
	if _, busy := d.active[id]; busy {
		return nil, nil, ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(parent)
	d.active[id] = cancel
	return ctx, cancel, nil
}

func (d *Dispatcher) unregister(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cancel, ok := d.active[id]; ok {
		cancel()
		delete(d.active, id)
	}
}

// loop drains the pending ledger rows of r.c. r.ctx only signals a halt; all
// I/O uses a context that survives it so the in-flight recipient completes.
func (d *Dispatcher) loop(r *run) error {
	c := r.c
	wctx := context.WithoutCancel(r.ctx)
	defer d.unregister(c.ID)
	defer releaseLock(r.lock, c.ID)

	pending, err := d.ledger.ListPending(wctx, c.ID)
	if err != nil {
		return d.abort(wctx, c, &StorageError{Op: "list pending", Err: err})
	}
	logger.Info("[Dispatcher] send loop starting", "campaign_id", c.ID,
		"pending", len(pending), "interval", d.interval.String())

	pace := newPacer(d.interval, d.clock)
	lastExtend := d.clock.Now()
	var sent, failed int

	for i := range pending {
		// Lock upkeep runs before the pacing slot is taken. Only rendering may
		// sit between the slot and the send.
		if now := d.clock.Now(); now.Sub(lastExtend) >= d.lockTTL/3 {
			if err := r.lock.Extend(wctx, d.lockTTL); err != nil {
				logger.Error("[Dispatcher] lost dispatch lock, stopping", "campaign_id", c.ID, "error", err)
				d.park(wctx, c, sent, failed)
				return fmt.Errorf("extend dispatch lock: %w", err)
			}
			lastExtend = now
		}
		if err := pace.Wait(r.ctx); err != nil {
			return d.park(wctx, c, sent, failed)
		}

		outcome, err := d.dispatchOne(wctx, c, r.sender, &pending[i])
		if err != nil {
			return d.abort(wctx, c, err)
		}
		if outcome == domain.OutcomeSent {
			sent++
		} else {
			failed++
		}
	}

	if _, err := d.campaigns.Reconcile(wctx, c.ID); err != nil {
		return d.abort(wctx, c, &StorageError{Op: "reconcile counters", Err: err})
	}
	done := d.clock.Now().UTC()
	if err := d.campaigns.Transition(wctx, c, domain.CampaignCompleted, campaign.TransitionFields{CompletedAt: &done}); err != nil {
		return d.abort(wctx, c, &StorageError{Op: "complete campaign", Err: err})
	}
	logger.Info("[Dispatcher] campaign completed", "campaign_id", c.ID, "sent", sent, "failed", failed)
	return nil
}

// dispatchOne renders, sends and records a single ledger row. Only storage
// failures are returned; a send failure is an outcome.
func (d *Dispatcher) dispatchOne(ctx context.Context, c *domain.Campaign, sender sending.Sender, e *domain.RecipientEntry) (domain.SendOutcome, error) {
	msg := buildMessage(c, e)
	attempted := d.clock.Now().UTC()

	res, sendErr := sender.Send(ctx, msg)

	entry := &domain.SendLogEntry{
		CampaignID:  c.ID,
		RecipientID: e.ID,
		Email:       e.Email,
		Subject:     msg.Subject,
		AttemptedAt: attempted,
	}

	var sentAt time.Time
	if sendErr == nil {
		entry.Outcome = domain.OutcomeSent
		sentAt = attempted
		if res != nil {
			entry.ProviderMessageID = res.MessageID
			if !res.SentAt.IsZero() {
				sentAt = res.SentAt.UTC()
			}
		}
	} else {
		class := sending.Classify(sendErr)
		entry.Outcome = domain.OutcomeFailed
		entry.ErrorMessage = sendErr.Error()
		entry.ErrorClass = string(class)
		logger.Warn("[Dispatcher] send failed", "campaign_id", c.ID, "recipient_id", e.ID,
			"email", e.Email, "error_class", string(class), "error", sendErr)
	}

	// The attempt is audited before the ledger row moves, so an accepted
	// message is never left without a log entry.
	if err := d.ledger.AppendSendLog(ctx, entry); err != nil {
		return "", &StorageError{Op: "append send log", Err: withMessageID(err, entry.ProviderMessageID)}
	}

	var changed bool
	var err error
	if entry.Outcome == domain.OutcomeSent {
		changed, err = d.ledger.MarkSent(ctx, c.ID, e.ID, sentAt, entry.ProviderMessageID)
		if err != nil {
			return "", &StorageError{Op: "mark sent", Err: withMessageID(err, entry.ProviderMessageID)}
		}
	} else {
		changed, err = d.ledger.MarkFailed(ctx, c.ID, e.ID, entry.ErrorMessage)
		if err != nil {
			return "", &StorageError{Op: "mark failed", Err: err}
		}
	}

	if changed {
		if err := d.campaigns.RecordOutcome(ctx, c.ID, entry.Outcome); err != nil {
			return "", &StorageError{Op: "record outcome", Err: err}
		}
	} else {
		logger.Warn("[Dispatcher] ledger row was already terminal", "campaign_id", c.ID, "recipient_id", e.ID)
	}
	return entry.Outcome, nil
}

// buildMessage resolves overrides and renders the row's content.
func buildMessage(c *domain.Campaign, e *domain.RecipientEntry) *domain.EmailMessage {
	subjectTpl, bodyTpl := c.SubjectTemplate, c.BodyTemplate
	if e.SubjectOverride != nil {
		subjectTpl = *e.SubjectOverride
	}
	if e.BodyOverride != nil {
		bodyTpl = *e.BodyOverride
	}

	fields := e.Fields()
	text := render.Render(bodyTpl, fields)
	html := render.TextToHTML(text)
	if c.HTMLTemplate != "" && e.BodyOverride == nil {
		html = render.RenderHTML(c.HTMLTemplate, fields)
	}

	return &domain.EmailMessage{
		CampaignID:  c.ID,
		RecipientID: e.ID,
		Email:       e.Email,
		FromName:    c.FromName,
		FromEmail:   c.FromEmail,
		Subject:     render.Render(subjectTpl, fields),
		TextContent: text,
		HTMLContent: html,
	}
}

// park returns a halted campaign to queued.
func (d *Dispatcher) park(ctx context.Context, c *domain.Campaign, sent, failed int) error {
	if _, err := d.campaigns.Reconcile(ctx, c.ID); err != nil {
		logger.Warn("[Dispatcher] reconcile on halt failed", "campaign_id", c.ID, "error", err)
	}
	if err := d.campaigns.Transition(ctx, c, domain.CampaignQueued, campaign.TransitionFields{}); err != nil {
		logger.Error("[Dispatcher] could not park halted campaign", "campaign_id", c.ID, "error", err)
		return err
	}
	logger.Info("[Dispatcher] campaign halted", "campaign_id", c.ID, "sent", sent, "failed", failed)
	return ErrHalted
}

// abort fails the campaign after a storage error. The transition is best
// effort since the store is already misbehaving.
func (d *Dispatcher) abort(ctx context.Context, c *domain.Campaign, cause error) error {
	logger.Error("[Dispatcher] aborting send loop", "campaign_id", c.ID, "error", cause)
	msg := cause.Error()
	failedAt := d.clock.Now().UTC()
	if err := d.campaigns.Transition(ctx, c, domain.CampaignFailed, campaign.TransitionFields{LastError: &msg, CompletedAt: &failedAt}); err != nil {
		logger.Error("[Dispatcher] could not mark campaign failed", "campaign_id", c.ID, "error", err)
	}
	return cause
}

// withMessageID keeps the provider id of an accepted message in the error so
// the campaign's last_error still names it.
func withMessageID(err error, messageID string) error {
	if messageID == "" {
		return err
	}
	return fmt.Errorf("provider message %s: %w", messageID, err)
}

func releaseLock(l distlock.Lock, campaignID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Release(ctx); err != nil && !errors.Is(err, distlock.ErrNotHeld) {
		logger.Warn("[Dispatcher] release dispatch lock", "campaign_id", campaignID, "error", err)
	}
}
