package invoice

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avikram/invoiceflow/internal/db"
)

// MemStore is an in-memory Store used in tests and local development when
// no database is configured. It returns copies, so snapshots held by
// callers never observe later mutations.
type MemStore struct {
	mu       sync.RWMutex
	invoices map[uuid.UUID]*db.Invoice
	byNumber map[string]uuid.UUID

	// FailUpdates makes UpdateInvoice return this error, simulating a
	// storage outage.
	FailUpdates error
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		invoices: make(map[uuid.UUID]*db.Invoice),
		byNumber: make(map[string]uuid.UUID),
	}
}

func copyInvoice(inv *db.Invoice) *db.Invoice {
	c := *inv
	c.Items = append([]db.LineItem(nil), inv.Items...)
	return &c
}

// CreateInvoice stores a new invoice and stamps its timestamps.
func (s *MemStore) CreateInvoice(_ context.Context, inv *db.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	inv.CreatedAt = now
	inv.UpdatedAt = now

	s.invoices[inv.ID] = copyInvoice(inv)
	s.byNumber[inv.InvoiceNumber] = inv.ID
	return nil
}

// GetInvoice returns a copy of the invoice with the given id.
func (s *MemStore) GetInvoice(_ context.Context, id uuid.UUID) (*db.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok {
		return nil, db.ErrInvoiceNotFound
	}
	return copyInvoice(inv), nil
}

// GetInvoiceByNumber returns a copy of the invoice with the given number.
func (s *MemStore) GetInvoiceByNumber(_ context.Context, number string) (*db.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byNumber[number]
	if !ok {
		return nil, db.ErrInvoiceNotFound
	}
	return copyInvoice(s.invoices[id]), nil
}

// UpdateInvoice replaces the stored mutable fields and bumps UpdatedAt.
func (s *MemStore) UpdateInvoice(_ context.Context, inv *db.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailUpdates != nil {
		return s.FailUpdates
	}

	stored, ok := s.invoices[inv.ID]
	if !ok {
		return db.ErrInvoiceNotFound
	}

	stored.DocumentLocation = inv.DocumentLocation
	stored.PaymentStatus = inv.PaymentStatus
	stored.NotificationStatus = inv.NotificationStatus
	stored.Status = inv.Status
	stored.PaymentProvider = inv.PaymentProvider
	stored.PaymentProviderID = inv.PaymentProviderID
	stored.UpdatedAt = time.Now().UTC()
	inv.UpdatedAt = stored.UpdatedAt
	return nil
}

// ListInvoicesByOwner returns copies of matching invoices, newest first.
func (s *MemStore) ListInvoicesByOwner(_ context.Context, ownerID *uuid.UUID, limit, offset int) ([]*db.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*db.Invoice
	for _, inv := range s.invoices {
		switch {
		case ownerID == nil && inv.OwnerID == nil:
			matched = append(matched, copyInvoice(inv))
		case ownerID != nil && inv.OwnerID != nil && *inv.OwnerID == *ownerID:
			matched = append(matched, copyInvoice(inv))
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}
