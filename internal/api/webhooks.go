package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/avikram/invoiceflow/internal/webhook"
)

// Reconciler applies normalized webhook events to invoice state.
type Reconciler interface {
	Handle(ctx context.Context, evt webhook.Event) (string, error)
}

// WebhookHandler terminates provider callbacks: payment results and
// WhatsApp message status updates. Raw bodies are read in full before
// decoding so upstream signature verification middleware can replay them.
type WebhookHandler struct {
	logger      *zap.Logger
	reconciler  Reconciler
	verifyToken string
}

func NewWebhookHandler(logger *zap.Logger, reconciler Reconciler, verifyToken string) *WebhookHandler {
	return &WebhookHandler{
		logger:      logger,
		reconciler:  reconciler,
		verifyToken: verifyToken,
	}
}

// paymentEventBody is the normalized payment-provider callback payload.
type paymentEventBody struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Provider   string `json:"provider"`
	Invoice    string `json:"invoice"`
	PaymentRef string `json:"payment_ref,omitempty"`
}

// PaymentWebhook handles POST /v1/webhooks/payment.
// Returns 200 for every acked disposition (applied, duplicate, stale,
// unknown) and 503 when state could not be persisted, so the provider
// redelivers.
func (h *WebhookHandler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Unreadable body", "")
		return
	}

	var evt paymentEventBody
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&evt); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	disposition, err := h.reconciler.Handle(r.Context(), webhook.Event{
		Provider:   evt.Provider,
		Type:       evt.Type,
		EventID:    evt.ID,
		InvoiceKey: evt.Invoice,
		PaymentRef: evt.PaymentRef,
	})
	if err != nil {
		h.logger.Error("payment webhook processing failed",
			zap.String("event_id", evt.ID),
			zap.Error(err),
		)
		h.writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "Event could not be processed, retry later", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": disposition})
}

// WhatsAppVerify handles GET /v1/webhooks/whatsapp — the Cloud API
// subscription handshake. Echoes hub.challenge when the verify token
// matches.
func (h *WebhookHandler) WhatsAppVerify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "" || token == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Bad Request"))
		return
	}

	if mode != "subscribe" || token != h.verifyToken {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("Forbidden - verify token mismatch"))
		return
	}

	h.logger.Info("whatsapp webhook verified")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// whatsAppCallback mirrors the Cloud API webhook envelope, trimmed to the
// fields the reconciler needs.
type whatsAppCallback struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					From string `json:"from"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
				Statuses []struct {
					ID           string `json:"id"`
					Status       string `json:"status"`
					RecipientID  string `json:"recipient_id"`
					CallbackData string `json:"biz_opaque_callback_data"`
				} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// WhatsAppWebhook handles POST /v1/webhooks/whatsapp — delivery status
// updates. Statuses are applied before acking; a storage failure returns
// 503 so the Cloud API redelivers the batch, which dedup then filters
// down to the unprocessed events.
func (h *WebhookHandler) WhatsAppWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Unreadable body", "")
		return
	}

	var callback whatsAppCallback
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&callback); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if callback.Object == "" {
		h.logger.Warn("whatsapp webhook with unknown object, acked")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("EVENT_RECEIVED"))
		return
	}

	for _, entry := range callback.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				// Inbound customer messages are logged only; replying is
				// out of scope for the invoice flow.
				h.logger.Info("inbound whatsapp message",
					zap.String("from", msg.From),
					zap.String("type", msg.Type),
				)
			}

			for _, status := range change.Value.Statuses {
				evtType := ""
				switch status.Status {
				case "delivered":
					evtType = webhook.EventMessageDelivered
				case "failed":
					evtType = webhook.EventMessageFailed
				default:
					// sent/read updates carry no lifecycle transition.
					continue
				}

				// Status updates for one message share its id; the status
				// name keeps delivered and failed events distinct.
				_, err := h.reconciler.Handle(r.Context(), webhook.Event{
					Provider:   "whatsapp",
					Type:       evtType,
					EventID:    status.ID + ":" + status.Status,
					InvoiceKey: status.CallbackData,
				})
				if err != nil {
					h.logger.Error("whatsapp status processing failed",
						zap.String("message_id", status.ID),
						zap.Error(err),
					)
					h.writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "Event could not be processed, retry later", "")
					return
				}
			}
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("EVENT_RECEIVED"))
}

func (h *WebhookHandler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
