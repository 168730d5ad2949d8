package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrInvoiceNotFound is returned when an invoice id matches no record.
var ErrInvoiceNotFound = errors.New("invoice not found")

// Repository handles database operations for invoices
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new invoice repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreateInvoice inserts a new invoice into the database
func (r *Repository) CreateInvoice(ctx context.Context, inv *Invoice) error {
	items, err := json.Marshal(inv.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}

	query := `
		INSERT INTO invoices (
			id, invoice_number, customer_name, customer_phone, customer_email,
			items, sub_total, tax, total, language,
			document_location, payment_status, notification_status, status,
			owner_id, payment_provider, payment_provider_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
		RETURNING created_at, updated_at
	`

	err = r.db.Pool().QueryRow(
		ctx,
		query,
		inv.ID,
		inv.InvoiceNumber,
		inv.CustomerName,
		inv.CustomerPhone,
		inv.CustomerEmail,
		items,
		inv.SubTotal,
		inv.Tax,
		inv.Total,
		inv.Language,
		inv.DocumentLocation,
		inv.PaymentStatus,
		inv.NotificationStatus,
		inv.Status,
		inv.OwnerID,
		inv.PaymentProvider,
		inv.PaymentProviderID,
	).Scan(&inv.CreatedAt, &inv.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create invoice",
			zap.Error(err),
			zap.String("invoice_number", inv.InvoiceNumber),
		)
		return fmt.Errorf("insert invoice: %w", err)
	}

	r.logger.Info("invoice created",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.Float64("total", inv.Total),
	)

	return nil
}

const invoiceColumns = `
	id, invoice_number, customer_name, customer_phone, customer_email,
	items, sub_total, tax, total, language,
	document_location, payment_status, notification_status, status,
	owner_id, payment_provider, payment_provider_id,
	created_at, updated_at
`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var items []byte
	err := row.Scan(
		&inv.ID,
		&inv.InvoiceNumber,
		&inv.CustomerName,
		&inv.CustomerPhone,
		&inv.CustomerEmail,
		&items,
		&inv.SubTotal,
		&inv.Tax,
		&inv.Total,
		&inv.Language,
		&inv.DocumentLocation,
		&inv.PaymentStatus,
		&inv.NotificationStatus,
		&inv.Status,
		&inv.OwnerID,
		&inv.PaymentProvider,
		&inv.PaymentProviderID,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &inv.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	return &inv, nil
}

// GetInvoice retrieves an invoice by ID
func (r *Repository) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`

	inv, err := scanInvoice(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		r.logger.Error("failed to get invoice",
			zap.Error(err),
			zap.String("invoice_id", id.String()),
		)
		return nil, fmt.Errorf("query invoice: %w", err)
	}

	return inv, nil
}

// GetInvoiceByNumber retrieves an invoice by its immutable invoice number.
// Webhook events correlate by number, not by internal id.
func (r *Repository) GetInvoiceByNumber(ctx context.Context, number string) (*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE invoice_number = $1`

	inv, err := scanInvoice(r.db.Pool().QueryRow(ctx, query, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query invoice by number: %w", err)
	}

	return inv, nil
}

// UpdateInvoice persists the mutable fields of an invoice.
// The lifecycle serializes callers per invoice, so a full-row update is a
// single atomic transition here.
func (r *Repository) UpdateInvoice(ctx context.Context, inv *Invoice) error {
	query := `
		UPDATE invoices
		SET document_location = $1, payment_status = $2, notification_status = $3,
		    status = $4, payment_provider = $5, payment_provider_id = $6,
		    updated_at = NOW()
		WHERE id = $7
		RETURNING updated_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		inv.DocumentLocation,
		inv.PaymentStatus,
		inv.NotificationStatus,
		inv.Status,
		inv.PaymentProvider,
		inv.PaymentProviderID,
		inv.ID,
	).Scan(&inv.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return ErrInvoiceNotFound
	}
	if err != nil {
		r.logger.Error("failed to update invoice",
			zap.Error(err),
			zap.String("invoice_id", inv.ID.String()),
		)
		return fmt.Errorf("update invoice: %w", err)
	}

	return nil
}

// ListInvoicesByOwner retrieves invoices for an owner with pagination.
// A nil owner lists unowned invoices (created without an authenticated actor).
func (r *Repository) ListInvoicesByOwner(ctx context.Context, ownerID *uuid.UUID, limit, offset int) ([]*Invoice, error) {
	query := `
		SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE ($1::uuid IS NULL AND owner_id IS NULL) OR owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return invoices, nil
}
