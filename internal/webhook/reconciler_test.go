package webhook

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/avikram/invoiceflow/internal/db"
	"github.com/avikram/invoiceflow/internal/invoice"
)

type memDedup struct {
	mu      sync.Mutex
	seen    map[string]bool
	markErr error
}

func newMemDedup() *memDedup {
	return &memDedup{seen: make(map[string]bool)}
}

func (m *memDedup) MarkProcessed(_ context.Context, provider, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return false, m.markErr
	}
	key := provider + ":" + eventID
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func (m *memDedup) Forget(_ context.Context, provider, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, provider+":"+eventID)
	return nil
}

func newTestReconciler(t *testing.T) (*Reconciler, *invoice.Lifecycle, *invoice.MemStore, *memDedup) {
	t.Helper()
	store := invoice.NewMemStore()
	lc := invoice.New(store, zap.NewNop())
	dedup := newMemDedup()
	return NewReconciler(lc, dedup, zap.NewNop()), lc, store, dedup
}

func createInvoice(t *testing.T, lc *invoice.Lifecycle) *db.Invoice {
	t.Helper()
	inv, err := lc.Create(context.Background(), invoice.CreateParams{
		CustomerName:  "Acme Corp",
		CustomerPhone: "+111",
		Items:         []db.LineItem{{Name: "Widget", Quantity: 2, Price: 10}},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return inv
}

func TestHandlePaymentSucceeded(t *testing.T) {
	r, lc, _, _ := newTestReconciler(t)
	inv := createInvoice(t, lc)
	ctx := context.Background()

	disp, err := r.Handle(ctx, Event{
		Provider:   "stripe",
		Type:       EventPaymentSucceeded,
		EventID:    "evt_1",
		InvoiceKey: inv.ID.String(),
		PaymentRef: "ch_123",
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if disp != DispositionApplied {
		t.Errorf("expected applied, got %s", disp)
	}

	got, err := lc.Get(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.PaymentStatus != db.PaymentPaid {
		t.Errorf("expected paid, got %s", got.PaymentStatus)
	}
	if got.Status != db.StatusCompleted {
		t.Errorf("paid invoice should be completed, got %s", got.Status)
	}
	if got.PaymentProviderID != "ch_123" {
		t.Errorf("expected payment ref recorded, got %q", got.PaymentProviderID)
	}
}

func TestHandleReplayIsDuplicate(t *testing.T) {
	r, lc, _, _ := newTestReconciler(t)
	inv := createInvoice(t, lc)
	ctx := context.Background()

	evt := Event{
		Provider:   "stripe",
		Type:       EventPaymentSucceeded,
		EventID:    "evt_1",
		InvoiceKey: inv.ID.String(),
	}

	if _, err := r.Handle(ctx, evt); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}

	disp, err := r.Handle(ctx, evt)
	if err != nil {
		t.Fatalf("replay must be acked: %v", err)
	}
	if disp != DispositionDuplicate {
		t.Errorf("expected duplicate, got %s", disp)
	}
}

func TestHandleStalePaymentEvent(t *testing.T) {
	r, lc, _, _ := newTestReconciler(t)
	inv := createInvoice(t, lc)
	ctx := context.Background()

	if _, err := r.Handle(ctx, Event{
		Provider: "stripe", Type: EventPaymentSucceeded,
		EventID: "evt_1", InvoiceKey: inv.ID.String(),
	}); err != nil {
		t.Fatal(err)
	}

	// A later contradictory event carries a fresh id; the lifecycle
	// rejects the transition and the delivery is still acked.
	disp, err := r.Handle(ctx, Event{
		Provider: "stripe", Type: EventPaymentFailed,
		EventID: "evt_2", InvoiceKey: inv.ID.String(),
	})
	if err != nil {
		t.Fatalf("stale event must be acked: %v", err)
	}
	if disp != DispositionStale {
		t.Errorf("expected stale, got %s", disp)
	}

	got, _ := lc.Get(ctx, inv.ID)
	if got.PaymentStatus != db.PaymentPaid {
		t.Errorf("payment status must not regress, got %s", got.PaymentStatus)
	}
}

func TestHandleDeliveryReceipts(t *testing.T) {
	r, lc, _, _ := newTestReconciler(t)
	inv := createInvoice(t, lc)
	ctx := context.Background()

	// Receipt before any send: delivered only applies from sent.
	disp, err := r.Handle(ctx, Event{
		Provider: "whatsapp", Type: EventMessageDelivered,
		EventID: "wam_1", InvoiceKey: inv.InvoiceNumber,
	})
	if err != nil {
		t.Fatal(err)
	}
	if disp != DispositionStale {
		t.Errorf("receipt before send should be stale, got %s", disp)
	}

	if _, err := lc.BeginDispatch(ctx, inv.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := lc.RecordNotificationOutcome(ctx, inv.ID, db.NotificationSent); err != nil {
		t.Fatal(err)
	}

	disp, err = r.Handle(ctx, Event{
		Provider: "whatsapp", Type: EventMessageDelivered,
		EventID: "wam_2", InvoiceKey: inv.InvoiceNumber,
	})
	if err != nil {
		t.Fatal(err)
	}
	if disp != DispositionApplied {
		t.Errorf("expected applied, got %s", disp)
	}

	got, _ := lc.Get(ctx, inv.ID)
	if got.NotificationStatus != db.NotificationDelivered {
		t.Errorf("expected delivered, got %s", got.NotificationStatus)
	}
}

func TestHandleMessageFailedFromSending(t *testing.T) {
	r, lc, _, _ := newTestReconciler(t)
	inv := createInvoice(t, lc)
	ctx := context.Background()

	if _, err := lc.BeginDispatch(ctx, inv.ID); err != nil {
		t.Fatal(err)
	}

	disp, err := r.Handle(ctx, Event{
		Provider: "whatsapp", Type: EventMessageFailed,
		EventID: "wam_1", InvoiceKey: inv.InvoiceNumber,
	})
	if err != nil {
		t.Fatal(err)
	}
	if disp != DispositionApplied {
		t.Errorf("expected applied, got %s", disp)
	}

	got, _ := lc.Get(ctx, inv.ID)
	if got.NotificationStatus != db.NotificationFailed {
		t.Errorf("expected failed, got %s", got.NotificationStatus)
	}
}

func TestHandleUnknownInvoiceAcked(t *testing.T) {
	r, _, _, _ := newTestReconciler(t)

	disp, err := r.Handle(context.Background(), Event{
		Provider: "stripe", Type: EventPaymentSucceeded,
		EventID: "evt_1", InvoiceKey: "INV-does-not-exist",
	})
	if err != nil {
		t.Fatalf("unknown invoice must be acked: %v", err)
	}
	if disp != DispositionUnknown {
		t.Errorf("expected unknown, got %s", disp)
	}
}

func TestHandleUnknownTypeAcked(t *testing.T) {
	r, lc, _, _ := newTestReconciler(t)
	inv := createInvoice(t, lc)

	disp, err := r.Handle(context.Background(), Event{
		Provider: "stripe", Type: "customer.updated",
		EventID: "evt_1", InvoiceKey: inv.ID.String(),
	})
	if err != nil {
		t.Fatalf("unknown type must be acked: %v", err)
	}
	if disp != DispositionUnknown {
		t.Errorf("expected unknown, got %s", disp)
	}
}

func TestHandleMissingEventIDAcked(t *testing.T) {
	r, _, _, _ := newTestReconciler(t)

	disp, err := r.Handle(context.Background(), Event{
		Provider: "stripe", Type: EventPaymentSucceeded,
	})
	if err != nil {
		t.Fatal(err)
	}
	if disp != DispositionUnknown {
		t.Errorf("expected unknown, got %s", disp)
	}
}

func TestHandleDedupFailureSurfaced(t *testing.T) {
	r, lc, _, dedup := newTestReconciler(t)
	inv := createInvoice(t, lc)
	dedup.markErr = errors.New("redis down")

	_, err := r.Handle(context.Background(), Event{
		Provider: "stripe", Type: EventPaymentSucceeded,
		EventID: "evt_1", InvoiceKey: inv.ID.String(),
	})
	if err == nil {
		t.Error("dedup store failure must be surfaced for retry")
	}
}

func TestHandleStoreFailureReleasesClaim(t *testing.T) {
	r, lc, store, _ := newTestReconciler(t)
	inv := createInvoice(t, lc)
	ctx := context.Background()

	evt := Event{
		Provider: "stripe", Type: EventPaymentSucceeded,
		EventID: "evt_1", InvoiceKey: inv.ID.String(),
	}

	store.FailUpdates = errors.New("db down")
	if _, err := r.Handle(ctx, evt); err == nil {
		t.Fatal("store failure must be surfaced for retry")
	}

	// Once storage recovers the provider's retry is applied, not
	// swallowed as a duplicate of the failed attempt.
	store.FailUpdates = nil
	disp, err := r.Handle(ctx, evt)
	if err != nil {
		t.Fatalf("retry after recovery failed: %v", err)
	}
	if disp != DispositionApplied {
		t.Errorf("expected applied on retry, got %s", disp)
	}

	got, _ := lc.Get(ctx, inv.ID)
	if got.PaymentStatus != db.PaymentPaid {
		t.Errorf("expected paid after retry, got %s", got.PaymentStatus)
	}
}
