package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/relaycrm/relay/pkg/logger"
)

// EmailSender delivers account lifecycle emails. Token links carry the raw
// token; only the hash is stored server-side.
type EmailSender interface {
	SendVerificationEmail(ctx context.Context, email, token string) error
	SendPasswordResetEmail(ctx context.Context, email, token string) error
}

// AWSSESEmailSender sends emails using AWS SES
type AWSSESEmailSender struct {
	sesClient   *ses.Client
	fromAddress string
	baseURL     string
	logger      *slog.Logger
}

// NewAWSSESEmailSender creates a new AWS SES email sender
func NewAWSSESEmailSender(region, fromAddress, baseURL string, log *slog.Logger) (*AWSSESEmailSender, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailSender{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		baseURL:     baseURL,
		logger:      log,
	}, nil
}

// SendVerificationEmail sends an email verification link to the user
func (s *AWSSESEmailSender) SendVerificationEmail(ctx context.Context, email, token string) error {
	link := fmt.Sprintf("%s/auth/verify-email?token=%s", s.baseURL, token)

	textBody := fmt.Sprintf(`Verify Your Email Address

Welcome! To complete your registration, open the link below:

%s

This link expires in 24 hours. If you didn't create this account, you can
ignore this email and the address will not be verified.
`, link)

	return s.send(ctx, email, "Verify your email address", textBody)
}

// SendPasswordResetEmail sends a password reset link to the user
func (s *AWSSESEmailSender) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	link := fmt.Sprintf("%s/auth/reset-password?token=%s", s.baseURL, token)

	textBody := fmt.Sprintf(`Reset Your Password

We received a request to reset your password. Open the link below to choose
a new one:

%s

This link expires in 1 hour and can be used once. If you didn't request a
reset, you can ignore this email; your password will not change.
`, link)

	return s.send(ctx, email, "Reset your password", textBody)
}

func (s *AWSSESEmailSender) send(ctx context.Context, email, subject, textBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("email", logger.SanitizedEmail(email)),
			slog.String("subject", subject),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("email", logger.SanitizedEmail(email)),
		slog.String("subject", subject),
		slog.String("message_id", *result.MessageId))

	return nil
}

// LogEmailSender logs instead of sending. Used in development and when
// EMAIL_ENABLED is false.
type LogEmailSender struct {
	logger *slog.Logger
}

func NewLogEmailSender(log *slog.Logger) *LogEmailSender {
	return &LogEmailSender{logger: log}
}

func (s *LogEmailSender) SendVerificationEmail(ctx context.Context, email, token string) error {
	s.logger.Info("verification email suppressed",
		slog.String("email", logger.SanitizedEmail(email)))
	return nil
}

func (s *LogEmailSender) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	s.logger.Info("password reset email suppressed",
		slog.String("email", logger.SanitizedEmail(email)))
	return nil
}
