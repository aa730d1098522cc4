package ses

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/ignite/campaign-dispatch/internal/config"
	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/service/sending"
)

type fakeAPI struct {
	account    *sesv2.GetAccountOutput
	accountErr error
	sendErr    error
	inputs     []*sesv2.SendEmailInput
}

func (f *fakeAPI) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-123")}, nil
}

func (f *fakeAPI) GetAccount(context.Context, *sesv2.GetAccountInput, ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error) {
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	if f.account != nil {
		return f.account, nil
	}
	return &sesv2.GetAccountOutput{SendingEnabled: true}, nil
}

var testCfg = appconfig.SESConfig{
	Region:         "us-west-2",
	AccessKey:      "AKIA",
	SecretKey:      "secret",
	FromEmail:      "default@example.com",
	FromName:       "Default Sender",
	TimeoutSeconds: 5,
}

func apiError(code string, fault smithy.ErrorFault) error {
	return &smithy.GenericAPIError{Code: code, Message: code + " happened", Fault: fault}
}

func TestConnectAuthFailure(t *testing.T) {
	api := &fakeAPI{accountErr: apiError("InvalidClientTokenId", smithy.FaultClient)}
	_, err := NewConnectorWithAPI(api, testCfg).Connect(context.Background(), "owner")
	require.Error(t, err)
	assert.ErrorIs(t, err, sending.ErrAuth)
	assert.Equal(t, sending.ClassAuth, sending.Classify(err))
	assert.Empty(t, api.inputs)
}

func TestConnectSendingPaused(t *testing.T) {
	api := &fakeAPI{account: &sesv2.GetAccountOutput{SendingEnabled: false}}
	_, err := NewConnectorWithAPI(api, testCfg).Connect(context.Background(), "owner")
	assert.ErrorIs(t, err, sending.ErrAuth)
}

func TestHasCredentials(t *testing.T) {
	ok, err := NewConnectorWithAPI(&fakeAPI{}, testCfg).HasCredentials(context.Background(), "any")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = NewConnectorWithAPI(&fakeAPI{}, appconfig.SESConfig{}).HasCredentials(context.Background(), "any")
	assert.False(t, ok)
}

func TestSendBuildsInput(t *testing.T) {
	api := &fakeAPI{}
	sender, err := NewConnectorWithAPI(api, testCfg).Connect(context.Background(), "owner")
	require.NoError(t, err)

	res, err := sender.Send(context.Background(), &domain.EmailMessage{
		CampaignID:  "c-1",
		RecipientID: "r-1",
		Email:       "ana@example.com",
		Subject:     "Hi Ana",
		TextContent: "Hello",
		HTMLContent: "<p>Hello</p>",
	})
	require.NoError(t, err)
	assert.Equal(t, "ses-123", res.MessageID)
	assert.False(t, res.SentAt.IsZero())

	require.Len(t, api.inputs, 1)
	in := api.inputs[0]
	assert.Equal(t, `"Default Sender" <default@example.com>`, aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"ana@example.com"}, in.Destination.ToAddresses)
	assert.Equal(t, "Hi Ana", aws.ToString(in.Content.Simple.Subject.Data))
	assert.Equal(t, "Hello", aws.ToString(in.Content.Simple.Body.Text.Data))
	assert.Equal(t, "<p>Hello</p>", aws.ToString(in.Content.Simple.Body.Html.Data))
	assert.Equal(t, "c-1", aws.ToString(in.EmailTags[0].Value))
}

func TestSendTextOnly(t *testing.T) {
	api := &fakeAPI{}
	s := &Sender{api: api, cfg: testCfg, timeout: testCfg.Timeout()}
	_, err := s.Send(context.Background(), &domain.EmailMessage{Email: "a@example.com", FromEmail: "x@example.com", TextContent: "plain"})
	require.NoError(t, err)
	assert.Nil(t, api.inputs[0].Content.Simple.Body.Html)
	assert.Equal(t, "<x@example.com>", aws.ToString(api.inputs[0].FromEmailAddress))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want sending.ErrorClass
	}{
		{"rejected", apiError("MessageRejected", smithy.FaultClient), sending.ClassRecipient},
		{"unverified from", apiError("MailFromDomainNotVerifiedException", smithy.FaultClient), sending.ClassRecipient},
		{"bad request", apiError("BadRequestException", smithy.FaultClient), sending.ClassRecipient},
		{"expired token", apiError("ExpiredTokenException", smithy.FaultClient), sending.ClassAuth},
		{"signature", apiError("SignatureDoesNotMatch", smithy.FaultClient), sending.ClassAuth},
		{"throttled", apiError("TooManyRequestsException", smithy.FaultClient), sending.ClassTransport},
		{"server", apiError("InternalFailure", smithy.FaultServer), sending.ClassTransport},
		{"network", errors.New("dial tcp: connection refused"), sending.ClassTransport},
		{"deadline", context.DeadlineExceeded, sending.ClassTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{sendErr: tt.err}
			s := &Sender{api: api, cfg: testCfg, timeout: testCfg.Timeout()}
			_, err := s.Send(context.Background(), &domain.EmailMessage{Email: "a@example.com"})
			require.Error(t, err)
			assert.Equal(t, tt.want, sending.Classify(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
