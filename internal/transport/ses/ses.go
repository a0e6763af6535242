// Package ses implements a transport that relays raw messages through
// AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/shineum/spoofcheck/internal/email"
	"github.com/shineum/spoofcheck/internal/transport"
)

// SendEmailAPI is the subset of the SES v2 client used here.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Sender relays the built MIME payload unchanged via SendEmail.
type Sender struct {
	client SendEmailAPI
	logger *slog.Logger
}

// New creates a Sender from the profile. Static keys are used when both
// are set; otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg transport.SESProfile, logger *slog.Logger) (*Sender, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	// One attempt per send; the caller decides about retries.
	opts = append(opts, awsconfig.WithRetryMaxAttempts(1))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(sesv2.NewFromConfig(awsCfg), logger), nil
}

// NewWithClient creates a Sender with a custom client, used for testing.
func NewWithClient(client SendEmailAPI, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{client: client, logger: logger}
}

// Name returns the strategy name.
func (s *Sender) Name() string {
	return "ses"
}

// Send submits the payload as a raw message with an explicit envelope.
func (s *Sender) Send(ctx context.Context, env *email.Outbound) error {
	if err := transport.Validate(s.Name(), env); err != nil {
		return err
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(env.From),
		Destination:      &types.Destination{ToAddresses: env.To},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: env.Payload},
		},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		kind := classify(err)
		s.logger.Warn("SES API error", "kind", kind.String(), "error", err)
		return transport.NewSendError(kind, s.Name(), "SendEmail", err)
	}

	s.logger.Info("message sent",
		"transport", s.Name(),
		"message_id", aws.ToString(out.MessageId),
		"from", env.From,
		"recipients", env.To,
		"bytes", len(env.Payload),
	)
	return nil
}

// classify maps SES API error codes onto transport error kinds.
func classify(err error) transport.ErrorKind {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "UnrecognizedClientException", "InvalidClientTokenId", "SignatureDoesNotMatch",
			"AccessDeniedException", "ExpiredTokenException":
			return transport.KindAuth
		default:
			return transport.KindProtocol
		}
	}
	return transport.KindConnect
}
