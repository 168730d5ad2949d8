// Package invoice implements the invoice lifecycle state machine. The
// Lifecycle is the sole writer of invoice state: payment status only moves
// forward from pending, notification status only advances along
// not_sent -> sending -> sent/failed -> delivered, and a recorded document
// location never silently changes.
package invoice

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avikram/invoiceflow/internal/db"
)

// Store is the persistence boundary the lifecycle writes through.
// Implemented by db.Repository (Postgres) and MemStore.
type Store interface {
	CreateInvoice(ctx context.Context, inv *db.Invoice) error
	GetInvoice(ctx context.Context, id uuid.UUID) (*db.Invoice, error)
	GetInvoiceByNumber(ctx context.Context, number string) (*db.Invoice, error)
	UpdateInvoice(ctx context.Context, inv *db.Invoice) error
	ListInvoicesByOwner(ctx context.Context, ownerID *uuid.UUID, limit, offset int) ([]*db.Invoice, error)
}

// CreateParams carries the caller-supplied fields for a new invoice.
// Totals are computed here; any client-supplied total is ignored.
type CreateParams struct {
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	Items         []db.LineItem
	Tax           float64
	Language      string
	OwnerID       *uuid.UUID
}

// Lifecycle owns every invoice mutation. Operations on a single invoice
// are serialized by invoice id; different invoices proceed independently.
type Lifecycle struct {
	store   Store
	logger  *zap.Logger
	locks   *keyedLocks
	numbers numberSource
}

// New creates a Lifecycle over the given store.
func New(store Store, logger *zap.Logger) *Lifecycle {
	return &Lifecycle{
		store:  store,
		logger: logger,
		locks:  newKeyedLocks(),
	}
}

// Create validates params, computes totals, assigns an invoice number and
// persists the record as pending/not_sent. Nothing is persisted on a
// validation failure.
func (l *Lifecycle) Create(ctx context.Context, p CreateParams) (*db.Invoice, error) {
	if strings.TrimSpace(p.CustomerName) == "" {
		return nil, &ValidationError{Field: "customer_name", Msg: "must not be empty"}
	}
	if strings.TrimSpace(p.CustomerPhone) == "" {
		return nil, &ValidationError{Field: "customer_phone", Msg: "must not be empty"}
	}
	if len(p.Items) == 0 {
		return nil, &ValidationError{Field: "items", Msg: "at least one item is required"}
	}
	for _, item := range p.Items {
		if strings.TrimSpace(item.Name) == "" {
			return nil, &ValidationError{Field: "items", Msg: "item name must not be empty"}
		}
		if item.Quantity < 1 {
			return nil, &ValidationError{Field: "items", Msg: "quantity must be at least 1"}
		}
		if item.Price < 0 {
			return nil, &ValidationError{Field: "items", Msg: "price must be >= 0"}
		}
	}
	if p.Tax < 0 {
		return nil, &ValidationError{Field: "tax", Msg: "must be >= 0"}
	}

	var subTotal float64
	for _, item := range p.Items {
		subTotal += float64(item.Quantity) * item.Price
	}

	language := p.Language
	if language == "" {
		language = "en"
	}

	inv := &db.Invoice{
		ID:                 uuid.New(),
		InvoiceNumber:      l.numbers.next(),
		CustomerName:       strings.TrimSpace(p.CustomerName),
		CustomerPhone:      strings.TrimSpace(p.CustomerPhone),
		CustomerEmail:      strings.TrimSpace(p.CustomerEmail),
		Items:              p.Items,
		SubTotal:           subTotal,
		Tax:                p.Tax,
		Total:              subTotal + p.Tax,
		Language:           language,
		PaymentStatus:      db.PaymentPending,
		NotificationStatus: db.NotificationNotSent,
		Status:             db.StatusPending,
		OwnerID:            p.OwnerID,
	}

	if err := l.store.CreateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	l.logger.Info("invoice created",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.Float64("sub_total", inv.SubTotal),
		zap.Float64("total", inv.Total),
	)

	return inv, nil
}

// Get returns the current snapshot of an invoice.
func (l *Lifecycle) Get(ctx context.Context, id uuid.UUID) (*db.Invoice, error) {
	inv, err := l.store.GetInvoice(ctx, id)
	if errors.Is(err, db.ErrInvoiceNotFound) {
		return nil, ErrNotFound
	}
	return inv, err
}

// GetByNumber returns an invoice by its immutable number. Webhook events
// correlate by number.
func (l *Lifecycle) GetByNumber(ctx context.Context, number string) (*db.Invoice, error) {
	inv, err := l.store.GetInvoiceByNumber(ctx, number)
	if errors.Is(err, db.ErrInvoiceNotFound) {
		return nil, ErrNotFound
	}
	return inv, err
}

// ListByOwner returns invoices for an owner, newest first. A nil owner
// lists invoices created without an authenticated actor.
func (l *Lifecycle) ListByOwner(ctx context.Context, ownerID *uuid.UUID, limit, offset int) ([]*db.Invoice, error) {
	return l.store.ListInvoicesByOwner(ctx, ownerID, limit, offset)
}

// RecordDocumentGenerated sets the invoice's document location. Recording
// the same location again is a no-op; a different location once one is set
// is a ConflictError, since a generated invoice document must not silently
// change.
func (l *Lifecycle) RecordDocumentGenerated(ctx context.Context, id uuid.UUID, location string) error {
	if strings.TrimSpace(location) == "" {
		return &ValidationError{Field: "location", Msg: "must not be empty"}
	}

	unlock := l.locks.lock(id)
	defer unlock()

	inv, err := l.Get(ctx, id)
	if err != nil {
		return err
	}

	if inv.DocumentLocation == location {
		return nil
	}
	if inv.DocumentLocation != "" {
		return &ConflictError{Msg: "document already generated at " + inv.DocumentLocation}
	}

	inv.DocumentLocation = location
	if err := l.store.UpdateInvoice(ctx, inv); err != nil {
		return err
	}

	l.logger.Info("document recorded",
		zap.String("invoice_id", id.String()),
		zap.String("location", location),
	)
	return nil
}

// BeginDispatch moves notification status from not_sent to sending and
// reports whether the transition was applied. A false return means another
// dispatch already owns this invoice (or it reached a terminal state) and
// the caller must skip.
func (l *Lifecycle) BeginDispatch(ctx context.Context, id uuid.UUID) (bool, error) {
	unlock := l.locks.lock(id)
	defer unlock()

	inv, err := l.Get(ctx, id)
	if err != nil {
		return false, err
	}

	if inv.NotificationStatus != db.NotificationNotSent {
		return false, nil
	}

	inv.NotificationStatus = db.NotificationSending
	if err := l.store.UpdateInvoice(ctx, inv); err != nil {
		return false, err
	}
	return true, nil
}

// RecordNotificationOutcome advances notification status from sending to
// the given terminal outcome (sent or failed). A stale or duplicate signal
// is a silent no-op; applied reports whether the transition happened.
func (l *Lifecycle) RecordNotificationOutcome(ctx context.Context, id uuid.UUID, outcome string) (bool, error) {
	if outcome != db.NotificationSent && outcome != db.NotificationFailed {
		return false, &ValidationError{Field: "outcome", Msg: "must be sent or failed"}
	}

	unlock := l.locks.lock(id)
	defer unlock()

	inv, err := l.Get(ctx, id)
	if err != nil {
		return false, err
	}

	if inv.NotificationStatus != db.NotificationSending {
		return false, nil
	}

	inv.NotificationStatus = outcome
	if err := l.store.UpdateInvoice(ctx, inv); err != nil {
		return false, err
	}

	l.logger.Info("notification outcome recorded",
		zap.String("invoice_id", id.String()),
		zap.String("outcome", outcome),
	)
	return true, nil
}

// RecordDelivered advances notification status from sent to delivered when
// a channel provider confirms receipt. Any other current status is stale
// and ignored.
func (l *Lifecycle) RecordDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	unlock := l.locks.lock(id)
	defer unlock()

	inv, err := l.Get(ctx, id)
	if err != nil {
		return false, err
	}

	if inv.NotificationStatus != db.NotificationSent {
		return false, nil
	}

	inv.NotificationStatus = db.NotificationDelivered
	if err := l.store.UpdateInvoice(ctx, inv); err != nil {
		return false, err
	}
	return true, nil
}

// RecordDeliveryFailed marks the notification failed on a provider failure
// callback. Only sent and sending can fail this way.
func (l *Lifecycle) RecordDeliveryFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	unlock := l.locks.lock(id)
	defer unlock()

	inv, err := l.Get(ctx, id)
	if err != nil {
		return false, err
	}

	if inv.NotificationStatus != db.NotificationSent && inv.NotificationStatus != db.NotificationSending {
		return false, nil
	}

	inv.NotificationStatus = db.NotificationFailed
	if err := l.store.UpdateInvoice(ctx, inv); err != nil {
		return false, err
	}
	return true, nil
}

// ApplyPaymentEvent advances payment status from pending to paid or
// failed. Duplicates and late events are expected and silently ignored;
// applied reports whether the transition happened. A paid invoice also
// completes the overall status.
func (l *Lifecycle) ApplyPaymentEvent(ctx context.Context, id uuid.UUID, newStatus, provider, providerID string) (bool, error) {
	if newStatus != db.PaymentPaid && newStatus != db.PaymentFailed {
		return false, &ValidationError{Field: "payment_status", Msg: "must be paid or failed"}
	}

	unlock := l.locks.lock(id)
	defer unlock()

	inv, err := l.Get(ctx, id)
	if err != nil {
		return false, err
	}

	if inv.PaymentStatus != db.PaymentPending {
		return false, nil
	}

	inv.PaymentStatus = newStatus
	if provider != "" {
		inv.PaymentProvider = provider
	}
	if providerID != "" {
		inv.PaymentProviderID = providerID
	}
	if newStatus == db.PaymentPaid {
		inv.Status = db.StatusCompleted
	}

	if err := l.store.UpdateInvoice(ctx, inv); err != nil {
		return false, err
	}

	l.logger.Info("payment event applied",
		zap.String("invoice_id", id.String()),
		zap.String("payment_status", newStatus),
		zap.String("provider", provider),
	)
	return true, nil
}
