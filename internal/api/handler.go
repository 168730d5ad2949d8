package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avikram/invoiceflow/internal/db"
	"github.com/avikram/invoiceflow/internal/dispatch"
	"github.com/avikram/invoiceflow/internal/docgen"
	"github.com/avikram/invoiceflow/internal/invoice"
	"github.com/avikram/invoiceflow/internal/metrics"
	"github.com/avikram/invoiceflow/internal/queue"
)

// InvoiceService defines the lifecycle surface the HTTP layer consumes.
type InvoiceService interface {
	Create(ctx context.Context, p invoice.CreateParams) (*db.Invoice, error)
	Get(ctx context.Context, id uuid.UUID) (*db.Invoice, error)
	ListByOwner(ctx context.Context, ownerID *uuid.UUID, limit, offset int) ([]*db.Invoice, error)
	RecordDocumentGenerated(ctx context.Context, id uuid.UUID, location string) error
}

// Notifier triggers a notification dispatch for an invoice.
type Notifier interface {
	Notify(ctx context.Context, invoiceID uuid.UUID) (*dispatch.Report, error)
}

// InvoiceRequest represents the incoming create request body.
type InvoiceRequest struct {
	CustomerName  string     `json:"customer_name"`
	CustomerPhone string     `json:"customer_phone"`
	CustomerEmail string     `json:"customer_email,omitempty"`
	Items         []ItemBody `json:"items"`
	Tax           float64    `json:"tax"`
	Language      string     `json:"language,omitempty"`
	OwnerID       string     `json:"owner_id,omitempty"`
}

type ItemBody struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger    *zap.Logger
	invoices  InvoiceService
	generator docgen.Generator
	notifier  Notifier        // nil if no channels configured
	producer  *queue.Producer // nil if SQS not configured
	pdfDir    string
}

// NewHandler creates a new API handler. notifier and producer may be nil;
// when the producer is set, dispatch runs through the queue worker,
// otherwise the notifier is invoked in the background.
func NewHandler(logger *zap.Logger, invoices InvoiceService, generator docgen.Generator, notifier Notifier, producer *queue.Producer, pdfDir string) *Handler {
	return &Handler{
		logger:    logger,
		invoices:  invoices,
		generator: generator,
		notifier:  notifier,
		producer:  producer,
		pdfDir:    pdfDir,
	}
}

// CreateInvoice handles POST /v1/invoices.
// The invoice is persisted first; document generation and notification
// dispatch follow, and their failures never fail the creation itself.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req InvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	var ownerID *uuid.UUID
	if req.OwnerID != "" {
		id, err := uuid.Parse(req.OwnerID)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid owner_id", "owner_id must be a valid UUID")
			return
		}
		ownerID = &id
	}

	items := make([]db.LineItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = db.LineItem{Name: item.Name, Quantity: item.Quantity, Price: item.Price}
	}

	inv, err := h.invoices.Create(ctx, invoice.CreateParams{
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		CustomerEmail: req.CustomerEmail,
		Items:         items,
		Tax:           req.Tax,
		Language:      req.Language,
		OwnerID:       ownerID,
	})
	if err != nil {
		h.writeInvoiceError(w, err)
		return
	}
	metrics.RecordInvoiceCreated()

	h.logger.Info("invoice created",
		zap.String("id", inv.ID.String()),
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.Float64("total", inv.Total),
	)

	inv = h.generateDocument(ctx, inv)
	h.triggerDispatch(ctx, inv)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(inv)
}

// generateDocument renders the invoice PDF and records its location.
// Failures are logged, not surfaced: the invoice exists either way and
// the document can be regenerated later.
func (h *Handler) generateDocument(ctx context.Context, inv *db.Invoice) *db.Invoice {
	if h.generator == nil {
		return inv
	}

	location, err := h.generator.Generate(inv)
	if err != nil {
		h.logger.Error("document generation failed",
			zap.String("invoice_number", inv.InvoiceNumber),
			zap.Error(err),
		)
		return inv
	}

	if err := h.invoices.RecordDocumentGenerated(ctx, inv.ID, location); err != nil {
		h.logger.Error("failed to record document location",
			zap.String("invoice_number", inv.InvoiceNumber),
			zap.Error(err),
		)
		return inv
	}

	updated, err := h.invoices.Get(ctx, inv.ID)
	if err != nil {
		return inv
	}
	return updated
}

// triggerDispatch hands the invoice to the queue when configured, or
// fires the notifier off the request path. Either way a failure is a
// logged event, never a failed creation.
func (h *Handler) triggerDispatch(ctx context.Context, inv *db.Invoice) {
	if h.producer != nil {
		msgID, err := h.producer.Enqueue(ctx, inv.ID)
		if err != nil {
			h.logger.Error("failed to enqueue dispatch job",
				zap.String("invoice_id", inv.ID.String()),
				zap.Error(err),
			)
			return
		}
		h.logger.Info("dispatch job enqueued",
			zap.String("invoice_id", inv.ID.String()),
			zap.String("sqs_message_id", msgID),
		)
		return
	}

	if h.notifier == nil {
		return
	}

	// Detached from the request context: the client closing the
	// connection must not cancel an in-flight send.
	go func() {
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
		defer cancel()

		if _, err := h.notifier.Notify(notifyCtx, inv.ID); err != nil {
			h.logger.Warn("notification dispatch failed",
				zap.String("invoice_id", inv.ID.String()),
				zap.Error(err),
			)
		}
	}()
}

// GetInvoice handles GET /v1/invoices/{id}
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.fetchInvoice(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(inv)
}

// ListInvoices handles GET /v1/invoices?owner_id=xxx&limit=20&offset=0
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var ownerID *uuid.UUID
	if ownerStr := r.URL.Query().Get("owner_id"); ownerStr != "" {
		id, err := uuid.Parse(ownerStr)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid owner_id", "owner_id must be a valid UUID")
			return
		}
		ownerID = &id
	}

	limit := 20
	offset := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	invoices, err := h.invoices.ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list invoices", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list invoices", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":   invoices,
		"limit":  limit,
		"offset": offset,
		"count":  len(invoices),
	})
}

// RegenerateDocument handles POST /v1/invoices/{id}/document
func (h *Handler) RegenerateDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	inv, ok := h.fetchInvoice(w, r)
	if !ok {
		return
	}
	if h.generator == nil {
		h.writeError(w, http.StatusServiceUnavailable, "generator_unavailable", "Document generation not configured", "")
		return
	}

	location, err := h.generator.Generate(inv)
	if err != nil {
		h.logger.Error("document generation failed",
			zap.String("invoice_number", inv.InvoiceNumber),
			zap.Error(err),
		)
		h.writeError(w, http.StatusInternalServerError, "generation_error", "Failed to generate document", "")
		return
	}

	if err := h.invoices.RecordDocumentGenerated(ctx, inv.ID, location); err != nil {
		h.writeInvoiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":                inv.ID.String(),
		"document_location": location,
	})
}

// DownloadDocument handles GET /v1/invoices/{id}/document
func (h *Handler) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.fetchInvoice(w, r)
	if !ok {
		return
	}

	if inv.DocumentLocation == "" {
		h.writeError(w, http.StatusNotFound, "not_found", "Document not generated yet", "")
		return
	}

	path := filepath.Join(h.pdfDir, inv.InvoiceNumber+".pdf")
	if _, err := os.Stat(path); err != nil {
		h.logger.Error("document missing on disk",
			zap.String("invoice_number", inv.InvoiceNumber),
			zap.String("path", path),
		)
		h.writeError(w, http.StatusNotFound, "not_found", "Document file not found", "")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=invoice_"+inv.InvoiceNumber+".pdf")
	http.ServeFile(w, r, path)
}

// NotifyInvoice handles POST /v1/invoices/{id}/notify — manual re-send.
func (h *Handler) NotifyInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	inv, ok := h.fetchInvoice(w, r)
	if !ok {
		return
	}
	if h.notifier == nil {
		h.writeError(w, http.StatusServiceUnavailable, "notifier_unavailable", "No notification channels configured", "")
		return
	}

	report, err := h.notifier.Notify(ctx, inv.ID)
	if err != nil {
		if errors.Is(err, dispatch.ErrAlreadyDispatched) {
			h.writeError(w, http.StatusConflict, "already_dispatched",
				"Notification already in progress or finished",
				"Dispatch can only start from the not_sent state")
			return
		}
		h.logger.Error("manual dispatch failed",
			zap.String("invoice_id", inv.ID.String()),
			zap.Error(err),
		)
		h.writeError(w, http.StatusInternalServerError, "dispatch_error", "Failed to dispatch notification", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(report)
}

func (h *Handler) fetchInvoice(w http.ResponseWriter, r *http.Request) (*db.Invoice, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid invoice ID", "ID must be a valid UUID")
		return nil, false
	}

	inv, err := h.invoices.Get(r.Context(), id)
	if err != nil {
		h.writeInvoiceError(w, err)
		return nil, false
	}
	return inv, true
}

func (h *Handler) writeInvoiceError(w http.ResponseWriter, err error) {
	var verr *invoice.ValidationError
	var cerr *invoice.ConflictError
	switch {
	case errors.As(err, &verr):
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Validation failed", verr.Error())
	case errors.As(err, &cerr):
		h.writeError(w, http.StatusConflict, "conflict", "Conflicting state transition", cerr.Error())
	case errors.Is(err, invoice.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Invoice not found", "")
	default:
		h.logger.Error("invoice operation failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Operation failed", "")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
