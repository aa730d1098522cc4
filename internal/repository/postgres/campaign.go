package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

var _ campaign.Repository = (*CampaignRepo)(nil)

const campaignColumns = `
	id, owner_id, name, from_name, from_email,
	subject_template, body_template, html_template,
	status, last_error, recipient_count, sent_count, failed_count,
	started_at, completed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(s rowScanner) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var startedAt, completedAt sql.NullTime
	err := s.Scan(
		&c.ID, &c.OwnerID, &c.Name, &c.FromName, &c.FromEmail,
		&c.SubjectTemplate, &c.BodyTemplate, &c.HTMLTemplate,
		&c.Status, &c.LastError, &c.RecipientCount, &c.SentCount, &c.FailedCount,
		&startedAt, &completedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.StartedAt = nullTime(startedAt)
	c.CompletedAt = nullTime(completedAt)
	return c, nil
}

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM dispatch_campaigns WHERE id = $1`, id))
	if isMissing(err) {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO dispatch_campaigns (
			id, owner_id, name, from_name, from_email,
			subject_template, body_template, html_template,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, c.ID, c.OwnerID, c.Name, c.FromName, c.FromEmail,
		c.SubjectTemplate, c.BodyTemplate, c.HTMLTemplate,
		c.Status, c.CreatedAt, c.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create campaign: %w", err)
	}
	return id, nil
}

// Transition is a compare-and-set on status. started_at is only written the
// first time; completed_at and last_error only when given.
func (r *CampaignRepo) Transition(ctx context.Context, id string, from, to domain.CampaignStatus, f campaign.TransitionFields) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE dispatch_campaigns
		SET status       = $3,
		    started_at   = COALESCE(started_at, $4),
		    completed_at = COALESCE($5, completed_at),
		    last_error   = COALESCE($6, last_error),
		    updated_at   = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to, f.StartedAt, f.CompletedAt, f.LastError)
	if hasCode(err, pgInvalidTextRepresentation) {
		return campaign.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("transition campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var current domain.CampaignStatus
	err = r.db.QueryRowContext(ctx, `SELECT status FROM dispatch_campaigns WHERE id = $1`, id).Scan(&current)
	if isMissing(err) {
		return campaign.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("transition campaign: %w", err)
	}
	return fmt.Errorf("%w: expected %s, found %s", campaign.ErrInvalidState, from, current)
}

func (r *CampaignRepo) IncrementCounters(ctx context.Context, id string, sent, failed int) error {
	return r.execOne(ctx, "increment counters", `
		UPDATE dispatch_campaigns
		SET sent_count = sent_count + $2, failed_count = failed_count + $3, updated_at = NOW()
		WHERE id = $1
	`, id, sent, failed)
}

func (r *CampaignRepo) SetCounters(ctx context.Context, id string, sent, failed int) error {
	return r.execOne(ctx, "set counters", `
		UPDATE dispatch_campaigns
		SET sent_count = $2, failed_count = $3, updated_at = NOW()
		WHERE id = $1
	`, id, sent, failed)
}

func (r *CampaignRepo) ListByStatus(ctx context.Context, status domain.CampaignStatus) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM dispatch_campaigns WHERE status = $1 ORDER BY created_at, id`, status)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) execOne(ctx context.Context, op, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if hasCode(err, pgInvalidTextRepresentation) {
		return campaign.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}
