package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avikram/invoiceflow/internal/db"
	"github.com/avikram/invoiceflow/internal/dispatch"
	"github.com/avikram/invoiceflow/internal/invoice"
)

// DirectSender performs one-off single-channel sends.
type DirectSender interface {
	SendDirect(ctx context.Context, req dispatch.DirectSend) (string, error)
}

// NotificationHandler exposes manual send endpoints. These bypass the
// dispatch claim: an operator resending an invoice message should not be
// blocked by the automatic dispatch having already run.
type NotificationHandler struct {
	logger *zap.Logger
	sender DirectSender
}

func NewNotificationHandler(logger *zap.Logger, sender DirectSender) *NotificationHandler {
	return &NotificationHandler{logger: logger, sender: sender}
}

type directSendBody struct {
	To        string `json:"to,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Message   string `json:"message"`
	InvoiceID string `json:"invoice_id,omitempty"`
}

// SendWhatsApp handles POST /v1/notifications/whatsapp.
// Body: {to?, message, invoice_id?}; with invoice_id and no recipient the
// invoice's customer phone is used.
func (h *NotificationHandler) SendWhatsApp(w http.ResponseWriter, r *http.Request) {
	h.sendDirect(w, r, db.ChannelWhatsApp)
}

// SendEmail handles POST /v1/notifications/email.
// Body: {to?, subject, message, invoice_id?}; with invoice_id and no
// recipient the invoice's customer email is used.
func (h *NotificationHandler) SendEmail(w http.ResponseWriter, r *http.Request) {
	h.sendDirect(w, r, db.ChannelEmail)
}

func (h *NotificationHandler) sendDirect(w http.ResponseWriter, r *http.Request, channel string) {
	var body directSendBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if body.Message == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Message is required", "")
		return
	}
	if body.To == "" && body.InvoiceID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Recipient or invoice_id is required", "")
		return
	}
	if channel == db.ChannelEmail && body.Subject == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Subject is required", "")
		return
	}

	var invoiceID *uuid.UUID
	if body.InvoiceID != "" {
		id, err := uuid.Parse(body.InvoiceID)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid invoice_id", "invoice_id must be a valid UUID")
			return
		}
		invoiceID = &id
	}

	msgID, err := h.sender.SendDirect(r.Context(), dispatch.DirectSend{
		Channel:   channel,
		Recipient: body.To,
		Subject:   body.Subject,
		Body:      body.Message,
		InvoiceID: invoiceID,
	})
	if err != nil {
		switch {
		case errors.Is(err, invoice.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "not_found", "Invoice not found", "")
		case errors.Is(err, dispatch.ErrChannelUnavailable):
			h.writeError(w, http.StatusServiceUnavailable, "channel_unavailable", "Channel not configured", err.Error())
		default:
			h.logger.Error("manual send failed",
				zap.String("channel", channel),
				zap.Error(err),
			)
			h.writeError(w, http.StatusBadGateway, "delivery_failed", "Message could not be delivered", "")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"channel":    channel,
		"message_id": msgID,
	})
}

func (h *NotificationHandler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
