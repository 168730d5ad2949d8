// Package queue moves dispatch jobs through SQS so notification delivery
// runs off the request path. SQS redelivers unacked jobs; the lifecycle's
// BeginDispatch gate keeps redelivery from double-sending.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
}

// Job is the payload for one pending notification dispatch.
type Job struct {
	InvoiceID  uuid.UUID `json:"invoice_id"`
	EnqueuedAt int64     `json:"enqueued_at"`
}

// SQSAPI is the subset of the SQS client the queue needs.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// NewSQSClient builds the real SQS client from ambient AWS config.
func NewSQSClient(ctx context.Context, region string) (SQSAPI, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg), nil
}

// Producer enqueues dispatch jobs.
type Producer struct {
	client   SQSAPI
	queueURL string
	logger   *zap.Logger
}

func NewProducer(client SQSAPI, queueURL string, logger *zap.Logger) *Producer {
	return &Producer{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Enqueue schedules a dispatch for the invoice. Returns the SQS message id.
func (p *Producer) Enqueue(ctx context.Context, invoiceID uuid.UUID) (string, error) {
	body, err := json.Marshal(Job{
		InvoiceID:  invoiceID,
		EnqueuedAt: time.Now().UnixNano(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	result, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		p.logger.Error("failed to enqueue dispatch job",
			zap.Error(err),
			zap.String("invoice_id", invoiceID.String()),
		)
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}

// Consumer reads dispatch jobs with long polling.
type Consumer struct {
	client   SQSAPI
	queueURL string
	logger   *zap.Logger
}

func NewConsumer(client SQSAPI, queueURL string, logger *zap.Logger) *Consumer {
	return &Consumer{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Receive retrieves one job, or (nil, "", nil) when the poll comes back
// empty. The receipt handle acks the job via Delete after processing.
func (c *Consumer) Receive(ctx context.Context) (*Job, string, error) {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   60,
	})
	if err != nil {
		return nil, "", fmt.Errorf("sqs receive failed: %w", err)
	}

	if len(result.Messages) == 0 {
		return nil, "", nil
	}

	raw := result.Messages[0]
	var job Job
	if err := json.Unmarshal([]byte(aws.ToString(raw.Body)), &job); err != nil {
		c.logger.Error("failed to unmarshal job", zap.Error(err))
		return nil, aws.ToString(raw.ReceiptHandle), fmt.Errorf("invalid job format: %w", err)
	}

	return &job, aws.ToString(raw.ReceiptHandle), nil
}

// Delete acks a processed job.
func (c *Consumer) Delete(ctx context.Context, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}
	return nil
}
