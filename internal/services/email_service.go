package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/ks-hl/snailpoints/pkg/logger"
)

// MailTransport delivers one rendered HTML message
type MailTransport interface {
	Send(ctx context.Context, recipient, subject, htmlBody string) error
}

// SESClient is the subset of the SES API used for delivery
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESMailTransport sends emails using AWS SES
type SESMailTransport struct {
	sesClient   SESClient
	fromAddress string
	logger      *slog.Logger
}

// NewSESMailTransport creates an SES transport from the default AWS credential chain
func NewSESMailTransport(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESMailTransport, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESMailTransportWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

// NewSESMailTransportWithClient creates an SES transport around an existing client
func NewSESMailTransportWithClient(client SESClient, fromAddress string, logger *slog.Logger) *SESMailTransport {
	return &SESMailTransport{
		sesClient:   client,
		fromAddress: fromAddress,
		logger:      logger,
	}
}

// Send delivers the message. Failures are returned, never retried here.
func (t *SESMailTransport) Send(ctx context.Context, recipient, subject, htmlBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(t.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data:    aws.String(htmlBody),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := t.sesClient.SendEmail(ctx, input)
	if err != nil {
		t.logger.Error("failed to send email via SES",
			slog.String("email", logger.SanitizedEmail(recipient)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	messageID := ""
	if result != nil && result.MessageId != nil {
		messageID = *result.MessageId
	}
	t.logger.Info("email sent",
		slog.String("email", logger.SanitizedEmail(recipient)),
		slog.String("subject", subject),
		slog.String("message_id", messageID))

	return nil
}

// LogMailTransport writes messages to the log instead of sending them. Development only.
type LogMailTransport struct {
	logger *slog.Logger
}

func NewLogMailTransport(logger *slog.Logger) *LogMailTransport {
	return &LogMailTransport{logger: logger}
}

func (t *LogMailTransport) Send(ctx context.Context, recipient, subject, htmlBody string) error {
	t.logger.InfoContext(ctx, "email not sent (log transport)",
		slog.String("email", logger.SanitizedEmail(recipient)),
		slog.String("subject", subject),
		slog.Int("body_bytes", len(htmlBody)))
	return nil
}
