package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/dogwalking/auth-service/internal/models"
	pkglogger "github.com/dogwalking/auth-service/pkg/logger"
)

// SESEmailSender delivers codes by email through AWS SES.
type SESEmailSender struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

// NewSESEmailSender creates an SES-backed sender using the default AWS
// credential chain for the given region.
func NewSESEmailSender(region, fromAddress string, logger *slog.Logger) (*SESEmailSender, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESEmailSender{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

func (s *SESEmailSender) Send(ctx context.Context, method models.MfaMethod, destination, code string) error {
	subject := "Your verification code"

	htmlBody := fmt.Sprintf(`
		<html>
		<body style="font-family: Arial, sans-serif;">
			<h2>Verification code</h2>
			<p>Enter this code to finish signing in:</p>
			<p style="font-size: 28px; font-weight: bold; letter-spacing: 4px;">%s</p>
			<p>The code expires in a few minutes. If you didn't request it, you can ignore this email.</p>
		</body>
		</html>
	`, code)

	textBody := fmt.Sprintf(
		"Your verification code is %s. It expires in a few minutes. If you didn't request it, ignore this email.",
		code,
	)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{destination},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send verification code email",
			pkglogger.MaskedEmail("email", destination),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("verification code email sent",
		pkglogger.MaskedEmail("email", destination),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}
