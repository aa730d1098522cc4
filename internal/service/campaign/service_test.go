package campaign_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/repository/memory"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

// fakeCreds reports credentials for the owners listed.
type fakeCreds map[string]bool

func (f fakeCreds) HasCredentials(_ context.Context, ownerID string) (bool, error) {
	return f[ownerID], nil
}

const testOwner = "owner-1"

func newService() (*campaign.Service, *memory.Store) {
	store := memory.NewStore()
	return campaign.NewService(store, store, fakeCreds{testOwner: true}), store
}

func validInput() campaign.CreateInput {
	return campaign.CreateInput{
		OwnerID:   testOwner,
		Name:      "Spring launch",
		FromEmail: "news@example.com",
		Subject:   "Hi {{name}}",
		Body:      "Hello {{name}}, your code is {{code}}",
	}
}

func recipients(emails ...string) []campaign.RecipientInput {
	out := make([]campaign.RecipientInput, len(emails))
	for i, e := range emails {
		out[i] = campaign.RecipientInput{Email: e, Name: "R", CustomFields: map[string]string{"code": "X"}}
	}
	return out
}

func createWithRecipients(t *testing.T, svc *campaign.Service, emails ...string) *domain.Campaign {
	t.Helper()
	c, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.AttachRecipients(context.Background(), c.ID, recipients(emails...)); err != nil {
		t.Fatalf("attach: %v", err)
	}
	return c
}

func TestCreate(t *testing.T) {
	svc, _ := newService()
	c, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Status != domain.CampaignDraft {
		t.Fatalf("expected draft, got %s", c.Status)
	}
	if c.ID == "" {
		t.Fatal("expected an id")
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newService()
	cases := map[string]func(*campaign.CreateInput){
		"owner_id":   func(in *campaign.CreateInput) { in.OwnerID = "" },
		"name":       func(in *campaign.CreateInput) { in.Name = "  " },
		"subject":    func(in *campaign.CreateInput) { in.Subject = "" },
		"body":       func(in *campaign.CreateInput) { in.Body = "" },
		"from_email": func(in *campaign.CreateInput) { in.FromEmail = "not an address" },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			in := validInput()
			mutate(&in)
			_, err := svc.Create(context.Background(), in)
			if !errors.Is(err, campaign.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			var ve *campaign.ValidationError
			if !errors.As(err, &ve) || ve.Field != field {
				t.Fatalf("expected field %s, got %v", field, err)
			}
		})
	}
}

func TestGetNotFound(t *testing.T) {
	svc, _ := newService()
	_, err := svc.Get(context.Background(), "nonexistent")
	if !errors.Is(err, campaign.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAttachRecipients(t *testing.T) {
	svc, store := newService()
	c := createWithRecipients(t, svc, "a@example.com", "b@example.com", "c@example.com")

	got, _ := svc.Get(context.Background(), c.ID)
	if got.RecipientCount != 3 {
		t.Fatalf("expected recipient_count 3, got %d", got.RecipientCount)
	}
	entries := store.Recipients(c.ID)
	for i, e := range entries {
		if e.Status != domain.RecipientPending {
			t.Fatalf("entry %d: expected pending, got %s", i, e.Status)
		}
		if e.Seq != int64(i+1) {
			t.Fatalf("entry %d: expected seq %d, got %d", i, i+1, e.Seq)
		}
	}
}

func TestAttachRecipientsOnlyOnce(t *testing.T) {
	svc, _ := newService()
	c := createWithRecipients(t, svc, "a@example.com")

	_, err := svc.AttachRecipients(context.Background(), c.ID, recipients("b@example.com"))
	if !errors.Is(err, campaign.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestAttachRecipientsValidation(t *testing.T) {
	svc, _ := newService()
	c, _ := svc.Create(context.Background(), validInput())

	if _, err := svc.AttachRecipients(context.Background(), c.ID, nil); !errors.Is(err, campaign.ErrValidation) {
		t.Fatalf("empty set: expected ErrValidation, got %v", err)
	}
	if _, err := svc.AttachRecipients(context.Background(), c.ID, recipients("a@example.com", "A@Example.com ")); !errors.Is(err, campaign.ErrValidation) {
		t.Fatalf("case-insensitive duplicate: expected ErrValidation, got %v", err)
	}
	if _, err := svc.AttachRecipients(context.Background(), c.ID, recipients("nope")); !errors.Is(err, campaign.ErrValidation) {
		t.Fatalf("bad address: expected ErrValidation, got %v", err)
	}

	got, _ := svc.Get(context.Background(), c.ID)
	if got.RecipientCount != 0 {
		t.Fatalf("failed attaches must not create entries, got %d", got.RecipientCount)
	}
}

func TestQueue(t *testing.T) {
	svc, _ := newService()
	c := createWithRecipients(t, svc, "a@example.com")

	q, err := svc.Queue(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if q.Status != domain.CampaignQueued {
		t.Fatalf("expected queued, got %s", q.Status)
	}

	if _, err := svc.Queue(context.Background(), c.ID); !errors.Is(err, campaign.ErrInvalidState) {
		t.Fatalf("re-queue: expected ErrInvalidState, got %v", err)
	}
}

func TestQueueRequiresRecipients(t *testing.T) {
	svc, _ := newService()
	c, _ := svc.Create(context.Background(), validInput())
	if _, err := svc.Queue(context.Background(), c.ID); !errors.Is(err, campaign.ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}
}

func TestQueueRequiresCredentials(t *testing.T) {
	store := memory.NewStore()
	svc := campaign.NewService(store, store, fakeCreds{})
	c := createWithRecipients(t, svc, "a@example.com")

	_, err := svc.Queue(context.Background(), c.ID)
	if !errors.Is(err, campaign.ErrNoCredentials) || !errors.Is(err, campaign.ErrInvalidState) {
		t.Fatalf("expected ErrNoCredentials (an ErrInvalidState), got %v", err)
	}
}

func TestCancel(t *testing.T) {
	svc, _ := newService()
	draft, _ := svc.Create(context.Background(), validInput())
	cancelled, err := svc.Cancel(context.Background(), draft.ID)
	if err != nil {
		t.Fatalf("cancel draft: %v", err)
	}
	if cancelled.CompletedAt == nil {
		t.Fatal("expected completed_at on a cancelled campaign")
	}

	queued := createWithRecipients(t, svc, "a@example.com")
	svc.Queue(context.Background(), queued.ID)
	if _, err := svc.Cancel(context.Background(), queued.ID); err != nil {
		t.Fatalf("cancel queued: %v", err)
	}
}

func TestCancelRejectedWhileSending(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	c := createWithRecipients(t, svc, "a@example.com")
	c, _ = svc.Queue(ctx, c.ID)
	now := time.Now()
	if err := svc.Transition(ctx, c, domain.CampaignSending, campaign.TransitionFields{StartedAt: &now}); err != nil {
		t.Fatalf("to sending: %v", err)
	}

	if _, err := svc.Cancel(ctx, c.ID); !errors.Is(err, campaign.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestTransitionStaleStatus(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	c := createWithRecipients(t, svc, "a@example.com")
	stale := *c // still draft in memory
	svc.Queue(ctx, c.ID)

	err := svc.Transition(ctx, &stale, domain.CampaignCancelled, campaign.TransitionFields{})
	if !errors.Is(err, campaign.ErrInvalidState) {
		t.Fatalf("expected compare-and-set failure, got %v", err)
	}
}

func TestStartedAtSetOnce(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	c := createWithRecipients(t, svc, "a@example.com")
	c, _ = svc.Queue(ctx, c.ID)

	first := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	svc.Transition(ctx, c, domain.CampaignSending, campaign.TransitionFields{StartedAt: &first})
	svc.Transition(ctx, c, domain.CampaignQueued, campaign.TransitionFields{})
	later := first.Add(time.Hour)
	svc.Transition(ctx, c, domain.CampaignSending, campaign.TransitionFields{StartedAt: &later})

	got, _ := svc.Get(ctx, c.ID)
	if got.StartedAt == nil || !got.StartedAt.Equal(first) {
		t.Fatalf("expected started_at %v, got %v", first, got.StartedAt)
	}
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]domain.CampaignStatus{
		{domain.CampaignDraft, domain.CampaignQueued},
		{domain.CampaignDraft, domain.CampaignCancelled},
		{domain.CampaignQueued, domain.CampaignSending},
		{domain.CampaignQueued, domain.CampaignCancelled},
		{domain.CampaignQueued, domain.CampaignFailed},
		{domain.CampaignSending, domain.CampaignCompleted},
		{domain.CampaignSending, domain.CampaignFailed},
		{domain.CampaignSending, domain.CampaignQueued},
		{domain.CampaignFailed, domain.CampaignQueued},
	}
	for _, p := range allowed {
		if !campaign.CanTransition(p[0], p[1]) {
			t.Errorf("%s -> %s should be allowed", p[0], p[1])
		}
	}

	denied := [][2]domain.CampaignStatus{
		{domain.CampaignDraft, domain.CampaignSending},
		{domain.CampaignSending, domain.CampaignCancelled},
		{domain.CampaignCompleted, domain.CampaignQueued},
		{domain.CampaignCompleted, domain.CampaignSending},
		{domain.CampaignCancelled, domain.CampaignQueued},
	}
	for _, p := range denied {
		if campaign.CanTransition(p[0], p[1]) {
			t.Errorf("%s -> %s should be denied", p[0], p[1])
		}
	}
}

func TestReconcile(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()
	c := createWithRecipients(t, svc, "a@example.com", "b@example.com", "c@example.com")
	entries := store.Recipients(c.ID)

	store.MarkSent(ctx, c.ID, entries[0].ID, time.Now(), "m-1")
	store.MarkFailed(ctx, c.ID, entries[1].ID, "rejected")
	// Drifted cache, e.g. after a crash between ledger write and counter bump.
	store.SetCounters(ctx, c.ID, 7, 0)

	counts, err := svc.Reconcile(ctx, c.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if counts.Sent != 1 || counts.Failed != 1 || counts.Pending != 1 {
		t.Fatalf("unexpected counts %+v", counts)
	}
	got, _ := svc.Get(ctx, c.ID)
	if got.SentCount != 1 || got.FailedCount != 1 {
		t.Fatalf("expected cached 1/1, got %d/%d", got.SentCount, got.FailedCount)
	}
}

func TestSendLogNotFound(t *testing.T) {
	svc, _ := newService()
	if _, err := svc.SendLog(context.Background(), "missing"); !errors.Is(err, campaign.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
