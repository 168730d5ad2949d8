package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/avikram/invoiceflow/internal/db"
	"github.com/avikram/invoiceflow/internal/phone"
)

// SNSAPI is the subset of the SNS client the SMS channel needs.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SMSClient sends short invoice notifications over Amazon SNS.
type SMSClient struct {
	sns    SNSAPI
	logger *zap.Logger
}

func NewSMSClient(api SNSAPI, logger *zap.Logger) *SMSClient {
	return &SMSClient{sns: api, logger: logger}
}

func (c *SMSClient) Channel() string { return db.ChannelSMS }

func (c *SMSClient) Send(ctx context.Context, recipient string, msg *Message) (string, error) {
	to := phone.Normalize(recipient)
	if to == "" {
		return "", Permanent(errors.New("empty recipient"))
	}
	// SNS requires E.164; normalization strips the plus, so restore it.
	to = "+" + to

	out, err := c.sns.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(msg.Body),
	})
	if err != nil {
		return "", Transient(fmt.Errorf("sns publish failed: %w", err))
	}

	c.logger.Info("sms sent",
		zap.String("to", to),
		zap.String("message_id", aws.ToString(out.MessageId)),
		zap.String("invoice_number", msg.InvoiceNumber),
	)

	return aws.ToString(out.MessageId), nil
}
