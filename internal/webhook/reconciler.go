// Package webhook reconciles provider callbacks (payment results, message
// delivery receipts) with invoice state. Providers deliver at-least-once;
// a windowed dedup store plus the lifecycle's monotonic transitions make
// replays harmless.
package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avikram/invoiceflow/internal/db"
	"github.com/avikram/invoiceflow/internal/invoice"
	"github.com/avikram/invoiceflow/internal/metrics"
)

// Event types the reconciler understands.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
	EventMessageDelivered = "message.delivered"
	EventMessageFailed    = "message.failed"
)

// Dispositions reported back to the transport.
const (
	DispositionApplied   = "applied"
	DispositionDuplicate = "duplicate"
	DispositionStale     = "stale"
	DispositionUnknown   = "unknown"
)

// Event is a normalized provider callback. InvoiceKey correlates the event
// with an invoice: either the invoice uuid or the invoice number.
type Event struct {
	Provider   string
	Type       string
	EventID    string
	InvoiceKey string
	// PaymentRef is the provider's own reference (charge id, payment id)
	// recorded on the invoice when a payment event is applied.
	PaymentRef string
}

// DedupStore remembers processed event ids within a retention window.
type DedupStore interface {
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
	Forget(ctx context.Context, provider, eventID string) error
}

// Lifecycle is the invoice state machine surface the reconciler drives.
type Lifecycle interface {
	Get(ctx context.Context, id uuid.UUID) (*db.Invoice, error)
	GetByNumber(ctx context.Context, number string) (*db.Invoice, error)
	ApplyPaymentEvent(ctx context.Context, id uuid.UUID, newStatus, provider, providerID string) (bool, error)
	RecordDelivered(ctx context.Context, id uuid.UUID) (bool, error)
	RecordDeliveryFailed(ctx context.Context, id uuid.UUID) (bool, error)
}

// Reconciler applies webhook events to invoices exactly once per event id.
type Reconciler struct {
	lifecycle Lifecycle
	dedup     DedupStore
	logger    *zap.Logger
}

func NewReconciler(lifecycle Lifecycle, dedup DedupStore, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		lifecycle: lifecycle,
		dedup:     dedup,
		logger:    logger,
	}
}

// Handle processes one event and returns its disposition. A nil error
// means the delivery can be acked. A non-nil error means state could not
// be read or written and the transport should have the provider retry;
// the event id claim is released so the retry is processed.
func (r *Reconciler) Handle(ctx context.Context, evt Event) (string, error) {
	if evt.EventID == "" || evt.Provider == "" {
		metrics.RecordWebhookEvent(evt.Provider, evt.Type, DispositionUnknown)
		r.logger.Warn("webhook event missing identity, acked",
			zap.String("provider", evt.Provider),
			zap.String("type", evt.Type),
		)
		return DispositionUnknown, nil
	}

	first, err := r.dedup.MarkProcessed(ctx, evt.Provider, evt.EventID)
	if err != nil {
		return "", fmt.Errorf("dedup check: %w", err)
	}
	if !first {
		metrics.RecordWebhookEvent(evt.Provider, evt.Type, DispositionDuplicate)
		return DispositionDuplicate, nil
	}

	disposition, err := r.apply(ctx, evt)
	if err != nil {
		// Release the claim so the provider's retry is not swallowed
		// as a duplicate. Best effort: if the release also fails the
		// id expires with the window.
		if forgetErr := r.dedup.Forget(ctx, evt.Provider, evt.EventID); forgetErr != nil {
			r.logger.Error("failed to release event claim",
				zap.String("event_id", evt.EventID),
				zap.Error(forgetErr),
			)
		}
		return "", err
	}

	metrics.RecordWebhookEvent(evt.Provider, evt.Type, disposition)
	return disposition, nil
}

func (r *Reconciler) apply(ctx context.Context, evt Event) (string, error) {
	inv, err := r.resolve(ctx, evt.InvoiceKey)
	if errors.Is(err, invoice.ErrNotFound) {
		// Events for invoices this system never issued are acked, not
		// retried; the provider cannot fix that by redelivering.
		r.logger.Warn("webhook event for unknown invoice, acked",
			zap.String("provider", evt.Provider),
			zap.String("type", evt.Type),
			zap.String("invoice_key", evt.InvoiceKey),
		)
		return DispositionUnknown, nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve invoice: %w", err)
	}

	var applied bool
	switch evt.Type {
	case EventPaymentSucceeded:
		applied, err = r.lifecycle.ApplyPaymentEvent(ctx, inv.ID, db.PaymentPaid, evt.Provider, evt.PaymentRef)
	case EventPaymentFailed:
		applied, err = r.lifecycle.ApplyPaymentEvent(ctx, inv.ID, db.PaymentFailed, evt.Provider, evt.PaymentRef)
	case EventMessageDelivered:
		applied, err = r.lifecycle.RecordDelivered(ctx, inv.ID)
	case EventMessageFailed:
		applied, err = r.lifecycle.RecordDeliveryFailed(ctx, inv.ID)
	default:
		r.logger.Warn("unknown webhook event type, acked",
			zap.String("provider", evt.Provider),
			zap.String("type", evt.Type),
		)
		return DispositionUnknown, nil
	}
	if err != nil {
		return "", fmt.Errorf("apply %s: %w", evt.Type, err)
	}

	if !applied {
		r.logger.Info("stale webhook event acked",
			zap.String("provider", evt.Provider),
			zap.String("type", evt.Type),
			zap.String("invoice_id", inv.ID.String()),
		)
		return DispositionStale, nil
	}

	r.logger.Info("webhook event applied",
		zap.String("provider", evt.Provider),
		zap.String("type", evt.Type),
		zap.String("invoice_id", inv.ID.String()),
	)
	return DispositionApplied, nil
}

// resolve finds the invoice an event refers to. Keys that parse as uuids
// are treated as invoice ids, everything else as invoice numbers.
func (r *Reconciler) resolve(ctx context.Context, key string) (*db.Invoice, error) {
	if key == "" {
		return nil, invoice.ErrNotFound
	}
	if id, err := uuid.Parse(key); err == nil {
		return r.lifecycle.Get(ctx, id)
	}
	return r.lifecycle.GetByNumber(ctx, key)
}
