// Package dispatch delivers invoice notifications across channels with
// bounded retry. Channel providers are abstracted behind the Client
// interface; errors from them are classified as transient (retry-worthy)
// or permanent (retry cannot help).
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/avikram/invoiceflow/internal/db"
)

// Client is the capability a single notification channel provides.
// Implementations: WhatsApp Cloud API, AWS SES email, AWS SNS SMS.
type Client interface {
	// Send delivers msg to recipient and returns the provider-assigned
	// message id. Failures are wrapped as *ProviderError so the dispatcher
	// can decide whether to retry.
	Send(ctx context.Context, recipient string, msg *Message) (string, error)

	// Channel names the delivery channel this client serves.
	Channel() string
}

// Message is the channel-independent notification payload for one invoice.
type Message struct {
	InvoiceNumber string
	Subject       string
	Body          string
	DocumentURL   string
	Language      string
}

// InvoiceMessage composes the customer-facing notification for an invoice:
// a short text naming the invoice and total, plus the document link when
// one has been generated.
func InvoiceMessage(inv *db.Invoice, publicBaseURL string) *Message {
	msg := &Message{
		InvoiceNumber: inv.InvoiceNumber,
		Subject:       fmt.Sprintf("Invoice %s", inv.InvoiceNumber),
		Body:          fmt.Sprintf("Invoice %s for %.2f is ready.", inv.InvoiceNumber, inv.Total),
		Language:      inv.Language,
	}
	if inv.DocumentLocation != "" {
		msg.DocumentURL = publicBaseURL + "/" + inv.DocumentLocation
		msg.Body += " Download: " + msg.DocumentURL
	}
	return msg
}

// ProviderError classifies a delivery failure. Transient failures (network
// errors, 5xx, rate limiting, timeouts) are retried by the dispatcher;
// permanent ones (bad recipient, malformed payload, auth failure) are not.
type ProviderError struct {
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s provider error: %v", kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient wraps err as a retry-worthy provider failure.
func Transient(err error) error {
	return &ProviderError{Transient: true, Err: err}
}

// Permanent wraps err as a failure retrying cannot fix.
func Permanent(err error) error {
	return &ProviderError{Transient: false, Err: err}
}

// IsTransient reports whether err should be retried. Unclassified errors
// are treated as transient, matching how an unreachable provider surfaces
// as a plain network error.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return true
}

// transientStatus reports whether an HTTP status from a provider is worth
// retrying: server errors and rate limiting are, other client errors not.
func transientStatus(status int) bool {
	return status >= 500 || status == 429
}
