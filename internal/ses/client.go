// Package ses delivers campaign mail through Amazon SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	appconfig "github.com/ignite/campaign-dispatch/internal/config"
	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
	"github.com/ignite/campaign-dispatch/internal/service/sending"
)

// API is the part of the SES v2 client this package calls.
type API interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	GetAccount(ctx context.Context, in *sesv2.GetAccountInput, optFns ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error)
}

// Connector implements sending.Connector for a single SES account shared by
// every owner.
type Connector struct {
	api     API
	cfg     appconfig.SESConfig
	timeout time.Duration
}

var _ sending.Connector = (*Connector)(nil)

// NewConnector builds an SES client from static credentials.
func NewConnector(ctx context.Context, cfg appconfig.SESConfig) (*Connector, error) {
	if !cfg.HasCredentials() {
		return nil, fmt.Errorf("ses: access key and secret key are required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewConnectorWithAPI(sesv2.NewFromConfig(awsCfg), cfg), nil
}

// NewConnectorWithAPI wraps an existing client.
func NewConnectorWithAPI(api API, cfg appconfig.SESConfig) *Connector {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Connector{api: api, cfg: cfg, timeout: timeout}
}

// HasCredentials is true for every owner once keys are configured.
func (c *Connector) HasCredentials(context.Context, string) (bool, error) {
	return c.cfg.HasCredentials(), nil
}

// Connect verifies the account with GetAccount before any message goes out.
// Rejected credentials and a paused account come back as auth errors.
func (c *Connector) Connect(ctx context.Context, ownerID string) (sending.Sender, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.api.GetAccount(callCtx, &sesv2.GetAccountInput{})
	if err != nil {
		return nil, classify(err)
	}
	if !out.SendingEnabled {
		return nil, sending.AuthError("SendingPaused", errors.New("ses: sending is disabled for this account"))
	}
	logger.Debug("[SES] account verified", "owner_id", ownerID, "production", fmt.Sprint(out.ProductionAccessEnabled))
	return &Sender{api: c.api, cfg: c.cfg, timeout: c.timeout}, nil
}

// Sender delivers one message per SendEmail call.
type Sender struct {
	api     API
	cfg     appconfig.SESConfig
	timeout time.Duration
}

// Send delivers msg. Errors are classified *sending.Error values.
func (s *Sender) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.api.SendEmail(callCtx, s.buildInput(msg))
	if err != nil {
		return nil, classify(err)
	}

	messageID := aws.ToString(result.MessageId)
	logger.Debug("[SES] sent", "email", msg.Email, "message_id", messageID)
	return &domain.SendResult{MessageID: messageID, SentAt: time.Now().UTC()}, nil
}

func (s *Sender) buildInput(msg *domain.EmailMessage) *sesv2.SendEmailInput {
	fromEmail, fromName := msg.FromEmail, msg.FromName
	if fromEmail == "" {
		fromEmail = s.cfg.FromEmail
	}
	if fromName == "" {
		fromName = s.cfg.FromName
	}
	from := (&mail.Address{Name: fromName, Address: fromEmail}).String()

	body := &types.Body{}
	if msg.HTMLContent != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTMLContent), Charset: aws.String("UTF-8")}
	}
	if msg.TextContent != "" {
		body.Text = &types.Content{Data: aws.String(msg.TextContent), Charset: aws.String("UTF-8")}
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{msg.Email}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)},
			{Name: aws.String("recipient_id"), Value: aws.String(msg.RecipientID)},
		},
	}
}

var authCodes = map[string]bool{
	"InvalidClientTokenId":        true,
	"UnrecognizedClientException": true,
	"SignatureDoesNotMatch":       true,
	"AccessDeniedException":       true,
	"AccountSuspendedException":   true,
	"ExpiredTokenException":       true,
	"MissingAuthenticationToken":  true,
}

var transientCodes = map[string]bool{
	"TooManyRequestsException": true,
	"ThrottlingException":      true,
	"LimitExceededException":   true,
	"RequestTimeout":           true,
}

// classify maps an SDK error onto the sending taxonomy. Client faults are
// about the message or recipient; server faults, throttling and anything
// without an API error (network, deadline) are transport problems.
func classify(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return sending.TransportError("", err)
	}
	code := apiErr.ErrorCode()
	switch {
	case authCodes[code]:
		return sending.AuthError(code, err)
	case transientCodes[code]:
		return sending.TransportError(code, err)
	case apiErr.ErrorFault() == smithy.FaultServer:
		return sending.TransportError(code, err)
	default:
		return sending.RecipientError(code, err)
	}
}
