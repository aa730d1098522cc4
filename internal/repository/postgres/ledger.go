package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
	"github.com/lib/pq"
)

// LedgerRepo implements campaign.Ledger against PostgreSQL. Every mark is a
// single-row UPDATE guarded by status = 'pending', so terminal rows are never
// rewritten even when two loops race.
type LedgerRepo struct{ db *sql.DB }

// NewLedgerRepo creates a Postgres-backed recipient ledger.
func NewLedgerRepo(db *sql.DB) *LedgerRepo { return &LedgerRepo{db: db} }

var _ campaign.Ledger = (*LedgerRepo)(nil)

// AddRecipients bulk loads the ledger with COPY and fixes recipient_count in
// the same transaction. The campaign row is locked so a concurrent attach
// cannot slip in.
func (r *LedgerRepo) AddRecipients(ctx context.Context, campaignID string, entries []domain.RecipientEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add recipients: %w", err)
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT recipient_count FROM dispatch_campaigns WHERE id = $1 FOR UPDATE`, campaignID).Scan(&count)
	if isMissing(err) {
		return campaign.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock campaign: %w", err)
	}
	if count > 0 {
		return campaign.ErrRecipientsPresent
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("dispatch_recipients",
		"id", "campaign_id", "seq", "email", "name", "custom_fields",
		"subject_override", "body_override", "status", "created_at",
	))
	if err != nil {
		return fmt.Errorf("prepare copy: %w", err)
	}

	for i := range entries {
		e := &entries[i]
		fields, err := json.Marshal(nonNilFields(e.CustomFields))
		if err != nil {
			stmt.Close()
			return fmt.Errorf("marshal custom fields for seq %d: %w", e.Seq, err)
		}
		status := e.Status
		if status == "" {
			status = domain.RecipientPending
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, campaignID, e.Seq, e.Email, e.Name, string(fields),
			e.SubjectOverride, e.BodyOverride, status, e.CreatedAt,
		); err != nil {
			stmt.Close()
			return fmt.Errorf("copy recipient seq %d: %w", e.Seq, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		if hasCode(err, pgUniqueViolation) {
			return fmt.Errorf("%w: duplicate recipient", campaign.ErrValidation)
		}
		return fmt.Errorf("flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("close copy: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE dispatch_campaigns SET recipient_count = $2, updated_at = NOW() WHERE id = $1`,
		campaignID, len(entries)); err != nil {
		return fmt.Errorf("set recipient count: %w", err)
	}
	return tx.Commit()
}

const recipientColumns = `
	id, campaign_id, seq, email, name, custom_fields,
	subject_override, body_override, status, sent_at,
	provider_message_id, error_message, created_at`

// ListPending returns pending rows in creation (seq) order.
func (r *LedgerRepo) ListPending(ctx context.Context, campaignID string) ([]domain.RecipientEntry, error) {
	if err := r.campaignExists(ctx, campaignID); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recipientColumns+`
		FROM dispatch_recipients
		WHERE campaign_id = $1 AND status = 'pending'
		ORDER BY seq
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var out []domain.RecipientEntry
	for rows.Next() {
		var (
			e             domain.RecipientEntry
			fields        []byte
			subject, body sql.NullString
			sentAt        sql.NullTime
			errorMessage  sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &e.CampaignID, &e.Seq, &e.Email, &e.Name, &fields,
			&subject, &body, &e.Status, &sentAt,
			&e.ProviderMessageID, &errorMessage, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &e.CustomFields); err != nil {
				return nil, fmt.Errorf("decode custom fields for %s: %w", e.ID, err)
			}
		}
		e.SubjectOverride = nullString(subject)
		e.BodyOverride = nullString(body)
		e.SentAt = nullTime(sentAt)
		e.ErrorMessage = nullString(errorMessage)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *LedgerRepo) MarkSent(ctx context.Context, campaignID, entryID string, sentAt time.Time, providerMessageID string) (bool, error) {
	return r.mark(ctx, campaignID, entryID, `
		UPDATE dispatch_recipients
		SET status = 'sent', sent_at = $3, provider_message_id = $4
		WHERE campaign_id = $1 AND id = $2 AND status = 'pending'
	`, campaignID, entryID, sentAt, providerMessageID)
}

func (r *LedgerRepo) MarkFailed(ctx context.Context, campaignID, entryID, errorMessage string) (bool, error) {
	return r.mark(ctx, campaignID, entryID, `
		UPDATE dispatch_recipients
		SET status = 'failed', error_message = $3
		WHERE campaign_id = $1 AND id = $2 AND status = 'pending'
	`, campaignID, entryID, errorMessage)
}

// mark runs a guarded update. Zero rows means the entry is already terminal,
// or does not belong to the campaign.
func (r *LedgerRepo) mark(ctx context.Context, campaignID, entryID, query string, args ...interface{}) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if hasCode(err, pgInvalidTextRepresentation) {
		return false, campaign.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("mark recipient: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	var one int
	err = r.db.QueryRowContext(ctx,
		`SELECT 1 FROM dispatch_recipients WHERE campaign_id = $1 AND id = $2`, campaignID, entryID).Scan(&one)
	if isMissing(err) {
		return false, campaign.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("mark recipient: %w", err)
	}
	return false, nil
}

func (r *LedgerRepo) CountByStatus(ctx context.Context, campaignID string) (domain.LedgerCounts, error) {
	if err := r.campaignExists(ctx, campaignID); err != nil {
		return domain.LedgerCounts{}, err
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM dispatch_recipients
		WHERE campaign_id = $1
		GROUP BY status
	`, campaignID)
	if err != nil {
		return domain.LedgerCounts{}, fmt.Errorf("count recipients: %w", err)
	}
	defer rows.Close()

	var counts domain.LedgerCounts
	for rows.Next() {
		var status domain.RecipientStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return domain.LedgerCounts{}, fmt.Errorf("scan count: %w", err)
		}
		counts.Total += n
		switch status {
		case domain.RecipientPending:
			counts.Pending = n
		case domain.RecipientSent:
			counts.Sent = n
		case domain.RecipientFailed:
			counts.Failed = n
		}
	}
	return counts, rows.Err()
}

// AppendSendLog inserts an audit row and fills in its id and seq.
func (r *LedgerRepo) AppendSendLog(ctx context.Context, e *domain.SendLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO dispatch_send_log (
			id, campaign_id, recipient_id, email, subject, outcome,
			provider_message_id, error_message, error_class, attempted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING seq
	`, e.ID, e.CampaignID, e.RecipientID, e.Email, e.Subject, e.Outcome,
		e.ProviderMessageID, e.ErrorMessage, e.ErrorClass, e.AttemptedAt,
	).Scan(&e.Seq)
	if err != nil {
		if hasCode(err, pgForeignKeyViolation) || hasCode(err, pgInvalidTextRepresentation) {
			return campaign.ErrNotFound
		}
		return fmt.Errorf("append send log: %w", err)
	}
	return nil
}

func (r *LedgerRepo) ListSendLog(ctx context.Context, campaignID string) ([]domain.SendLogEntry, error) {
	if err := r.campaignExists(ctx, campaignID); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, seq, campaign_id, recipient_id, email, subject, outcome,
		       provider_message_id, error_message, error_class, attempted_at
		FROM dispatch_send_log
		WHERE campaign_id = $1
		ORDER BY seq
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list send log: %w", err)
	}
	defer rows.Close()

	var out []domain.SendLogEntry
	for rows.Next() {
		var e domain.SendLogEntry
		if err := rows.Scan(
			&e.ID, &e.Seq, &e.CampaignID, &e.RecipientID, &e.Email, &e.Subject, &e.Outcome,
			&e.ProviderMessageID, &e.ErrorMessage, &e.ErrorClass, &e.AttemptedAt,
		); err != nil {
			return nil, fmt.Errorf("scan send log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *LedgerRepo) campaignExists(ctx context.Context, campaignID string) error {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM dispatch_campaigns WHERE id = $1`, campaignID).Scan(&one)
	if isMissing(err) {
		return campaign.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup campaign: %w", err)
	}
	return nil
}

func nonNilFields(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
