package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/avikram/invoiceflow/internal/db"
)

// SESAPI is the subset of the SES client the email channel needs.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// EmailClient sends invoice notifications over Amazon SES.
type EmailClient struct {
	ses    SESAPI
	from   string
	logger *zap.Logger
}

func NewEmailClient(api SESAPI, fromEmail string, logger *zap.Logger) (*EmailClient, error) {
	if fromEmail == "" {
		return nil, errors.New("from email is required")
	}
	return &EmailClient{ses: api, from: fromEmail, logger: logger}, nil
}

func (c *EmailClient) Channel() string { return db.ChannelEmail }

func (c *EmailClient) Send(ctx context.Context, recipient string, msg *Message) (string, error) {
	if recipient == "" {
		return "", Permanent(errors.New("empty recipient"))
	}

	body := msg.Body
	if msg.DocumentURL != "" {
		body = fmt.Sprintf("%s\n\nDownload your invoice: %s", msg.Body, msg.DocumentURL)
	}

	out, err := c.ses.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(c.from),
		Destination: &types.Destination{ToAddresses: []string{recipient}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
	})
	if err != nil {
		var rejected *types.MessageRejected
		var notVerified *types.MailFromDomainNotVerifiedException
		if errors.As(err, &rejected) || errors.As(err, &notVerified) {
			return "", Permanent(fmt.Errorf("ses rejected email: %w", err))
		}
		return "", Transient(fmt.Errorf("ses send failed: %w", err))
	}

	c.logger.Info("email sent",
		zap.String("to", recipient),
		zap.String("message_id", aws.ToString(out.MessageId)),
		zap.String("invoice_number", msg.InvoiceNumber),
	)

	return aws.ToString(out.MessageId), nil
}
