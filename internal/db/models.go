package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// LineItem is one ordered row on an invoice.
type LineItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Invoice is the invoice record persisted by invoiceflow.
// Totals are always recomputed from Items and Tax, never taken from a client.
type Invoice struct {
	ID                 uuid.UUID  `json:"id"`
	InvoiceNumber      string     `json:"invoice_number"`
	CustomerName       string     `json:"customer_name"`
	CustomerPhone      string     `json:"customer_phone"`
	CustomerEmail      string     `json:"customer_email,omitempty"`
	Items              []LineItem `json:"items"`
	SubTotal           float64    `json:"sub_total"`
	Tax                float64    `json:"tax"`
	Total              float64    `json:"total"`
	Language           string     `json:"language"`
	DocumentLocation   string     `json:"document_location,omitempty"`
	PaymentStatus      string     `json:"payment_status"`
	NotificationStatus string     `json:"notification_status"`
	Status             string     `json:"status"`
	OwnerID            *uuid.UUID `json:"owner_id,omitempty"`
	PaymentProvider    string     `json:"payment_provider,omitempty"`
	PaymentProviderID  string     `json:"payment_provider_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Payment status constants
const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
	PaymentFailed  = "failed"
)

// Notification status constants
const (
	NotificationNotSent   = "not_sent"
	NotificationSending   = "sending"
	NotificationSent      = "sent"
	NotificationDelivered = "delivered"
	NotificationFailed    = "failed"
)

// Overall invoice status constants
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Channel constants
const (
	ChannelWhatsApp = "whatsapp"
	ChannelEmail    = "email"
	ChannelSMS      = "sms"
)

// WebhookEvent is a provider callback as received by the webhook ingress.
// The provider-assigned EventID is the deduplication key; an event is
// consumed at most once in effect no matter how often it is delivered.
type WebhookEvent struct {
	Provider   string          `json:"provider"`
	Type       string          `json:"type"`
	EventID    string          `json:"event_id"`
	InvoiceKey string          `json:"invoice_key"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}
