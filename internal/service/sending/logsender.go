package sending

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
)

// LogConnector is a dry-run transport: every owner has credentials and every
// message is logged and accepted. Used when no real transport is configured.
type LogConnector struct{}

// NewLogConnector returns a dry-run connector.
func NewLogConnector() *LogConnector { return &LogConnector{} }

func (LogConnector) HasCredentials(context.Context, string) (bool, error) { return true, nil }

func (LogConnector) Connect(context.Context, string) (Sender, error) { return logSender{}, nil }

type logSender struct{}

func (logSender) Send(_ context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	id := "dryrun-" + uuid.New().String()
	logger.Info("[LogSender] message accepted",
		"campaign_id", msg.CampaignID,
		"email", msg.Email,
		"subject", msg.Subject,
		"message_id", id,
	)
	return &domain.SendResult{MessageID: id, SentAt: time.Now().UTC()}, nil
}
