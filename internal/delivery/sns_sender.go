package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/dogwalking/auth-service/internal/models"
	pkglogger "github.com/dogwalking/auth-service/pkg/logger"
)

// SNSSMSSender delivers codes as transactional SMS through AWS SNS.
type SNSSMSSender struct {
	snsClient *sns.Client
	senderID  string
	logger    *slog.Logger
}

// NewSNSSMSSender creates an SNS-backed sender using the default AWS
// credential chain for the given region.
func NewSNSSMSSender(region, senderID string, logger *slog.Logger) (*SNSSMSSender, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SNSSMSSender{
		snsClient: sns.NewFromConfig(cfg),
		senderID:  senderID,
		logger:    logger,
	}, nil
}

func (s *SNSSMSSender) Send(ctx context.Context, method models.MfaMethod, destination, code string) error {
	message := fmt.Sprintf("%s is your verification code. It expires in a few minutes. Never share it with anyone.", code)

	input := &sns.PublishInput{
		PhoneNumber: aws.String(destination),
		Message:     aws.String(message),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SenderID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(s.senderID),
			},
			"AWS.SNS.SMS.SMSType": {
				DataType:    aws.String("String"),
				StringValue: aws.String("Transactional"),
			},
		},
	}

	result, err := s.snsClient.Publish(ctx, input)
	if err != nil {
		s.logger.Error("failed to send verification code sms",
			pkglogger.MaskedPhone("phone", destination),
			slog.Any("error", err))
		return fmt.Errorf("failed to send sms: %w", err)
	}

	s.logger.Info("verification code sms sent",
		pkglogger.MaskedPhone("phone", destination),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}
