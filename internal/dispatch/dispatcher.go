package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avikram/invoiceflow/internal/db"
	"github.com/avikram/invoiceflow/internal/metrics"
)

// ErrAlreadyDispatched is returned when another dispatch already claimed
// the invoice.
var ErrAlreadyDispatched = errors.New("dispatch already in progress or finished")

// Lifecycle is the invoice state machine surface the dispatcher drives.
type Lifecycle interface {
	BeginDispatch(ctx context.Context, id uuid.UUID) (bool, error)
	RecordNotificationOutcome(ctx context.Context, id uuid.UUID, outcome string) (bool, error)
}

// Target pairs a channel client with the recipient address for that channel.
type Target struct {
	Client    Client
	Recipient string
}

type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Dispatcher delivers an invoice notification across one or more channels,
// retrying transient failures with capped exponential backoff. Delivery is
// at-least-once: a crash between a provider accept and the outcome write
// means the next dispatch attempt may send again.
type Dispatcher struct {
	lifecycle Lifecycle
	config    Config
	logger    *zap.Logger
}

// Result is the outcome for a single channel target.
type Result struct {
	Channel   string
	Recipient string
	MessageID string
	Attempts  int
	Err       error
}

// Report summarizes a finished dispatch.
type Report struct {
	InvoiceID uuid.UUID
	Outcome   string // db.NotificationSent or db.NotificationFailed
	Results   []Result
}

func NewDispatcher(lifecycle Lifecycle, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 8 * time.Second
	}

	return &Dispatcher{
		lifecycle: lifecycle,
		config:    cfg,
		logger:    logger,
	}
}

// Dispatch claims the invoice for sending, attempts every target, and
// records the final notification outcome. The notification is sent when at
// least one channel succeeded and failed only when all channels failed.
// Returns ErrAlreadyDispatched when the claim is lost to another dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, invoiceID uuid.UUID, msg *Message, targets []Target) (*Report, error) {
	if len(targets) == 0 {
		return nil, errors.New("no dispatch targets")
	}

	applied, err := d.lifecycle.BeginDispatch(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("begin dispatch: %w", err)
	}
	if !applied {
		return nil, ErrAlreadyDispatched
	}

	report := &Report{InvoiceID: invoiceID}
	anySent := false

	for _, target := range targets {
		start := time.Now()
		res := d.sendWithRetry(ctx, target, msg)
		metrics.RecordDispatchDuration(target.Client.Channel(), time.Since(start))
		report.Results = append(report.Results, res)
		if res.Err == nil {
			anySent = true
		}
	}

	report.Outcome = db.NotificationFailed
	if anySent {
		report.Outcome = db.NotificationSent
	}
	metrics.RecordDispatchOutcome(report.Outcome)

	if _, err := d.lifecycle.RecordNotificationOutcome(ctx, invoiceID, report.Outcome); err != nil {
		return report, fmt.Errorf("record outcome: %w", err)
	}

	d.logger.Info("dispatch finished",
		zap.String("invoice_id", invoiceID.String()),
		zap.String("outcome", report.Outcome),
		zap.Int("targets", len(targets)),
	)

	return report, nil
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, target Target, msg *Message) Result {
	channel := target.Client.Channel()
	res := Result{Channel: channel, Recipient: target.Recipient}

	for attempt := 1; attempt <= d.config.MaxAttempts; attempt++ {
		res.Attempts = attempt

		msgID, err := target.Client.Send(ctx, target.Recipient, msg)
		if err == nil {
			res.MessageID = msgID
			res.Err = nil
			metrics.RecordDispatchAttempt(channel, "ok")
			return res
		}
		res.Err = err

		if !IsTransient(err) {
			metrics.RecordDispatchAttempt(channel, "permanent")
			d.logger.Warn("permanent send failure",
				zap.String("channel", channel),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return res
		}

		metrics.RecordDispatchAttempt(channel, "transient")
		d.logger.Warn("transient send failure",
			zap.String("channel", channel),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt == d.config.MaxAttempts {
			break
		}
		if err := d.sleep(ctx, d.backoffDelay(attempt)); err != nil {
			res.Err = err
			return res
		}
	}

	return res
}

// backoffDelay doubles the base delay per attempt, caps it, and applies
// jitter in [delay/2, delay) so concurrent retries spread out.
func (d *Dispatcher) backoffDelay(attempt int) time.Duration {
	delay := d.config.BaseDelay << uint(attempt-1)
	if delay > d.config.MaxDelay || delay <= 0 {
		delay = d.config.MaxDelay
	}
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

func (d *Dispatcher) sleep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("dispatch cancelled during backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
