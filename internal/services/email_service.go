package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
)

// Mailer delivers password reset links
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, resetLink string, expiresAt time.Time) error
}

// SESAPI is the subset of the SES client the mailer uses
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESMailer sends emails using AWS SES
type SESMailer struct {
	client      SESAPI
	fromAddress string
	logger      *slog.Logger
}

// NewSESMailer loads the default AWS config for region and creates an SES mailer
func NewSESMailer(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESMailer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESMailerWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

// NewSESMailerWithClient creates an SES mailer over an existing client
func NewSESMailerWithClient(client SESAPI, fromAddress string, logger *slog.Logger) *SESMailer {
	return &SESMailer{
		client:      client,
		fromAddress: fromAddress,
		logger:      logger,
	}
}

// SendPasswordReset sends the reset link to the account's address
func (m *SESMailer) SendPasswordReset(ctx context.Context, email, resetLink string, expiresAt time.Time) error {
	minutes := int(time.Until(expiresAt).Round(time.Minute).Minutes())
	if minutes < 1 {
		minutes = 1
	}

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <h1>Reset your password</h1>
  <p>We received a request to reset the password for this account.</p>
  <p><a href="%s">Choose a new password</a></p>
  <p>Or copy and paste this link in your browser:<br><code>%s</code></p>
  <p>This link expires in %d minutes and can be used once.</p>
  <p>If you did not request a reset, you can ignore this email. Your password has not changed.</p>
</body>
</html>
`, resetLink, resetLink, minutes)

	textBody := fmt.Sprintf(`Reset your password

We received a request to reset the password for this account.

%s

This link expires in %d minutes and can be used once.

If you did not request a reset, you can ignore this email. Your password has not changed.
`, resetLink, minutes)

	input := &ses.SendEmailInput{
		Source: aws.String(m.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Reset your password"),
			},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody)},
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	}

	result, err := m.client.SendEmail(ctx, input)
	if err != nil {
		m.logger.Error("failed to send password reset email via SES",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.Info("password reset email sent",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// LogMailer writes reset links to the log instead of sending them (development)
type LogMailer struct {
	logger *slog.Logger
	env    string
}

func NewLogMailer(logger *slog.Logger, env string) *LogMailer {
	return &LogMailer{logger: logger, env: env}
}

func (m *LogMailer) SendPasswordReset(ctx context.Context, email, resetLink string, expiresAt time.Time) error {
	m.logger.InfoContext(ctx, "password reset email (not sent)",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		pkglogger.RedactedAttr("reset_link", resetLink, m.env),
		slog.Time("expires_at", expiresAt))
	return nil
}
