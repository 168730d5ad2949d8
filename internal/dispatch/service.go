package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avikram/invoiceflow/internal/db"
)

// InvoiceSource loads invoice snapshots for notification composition.
type InvoiceSource interface {
	Get(ctx context.Context, id uuid.UUID) (*db.Invoice, error)
}

// Service turns an invoice into dispatch targets and drives the
// dispatcher. Channel order is the order clients were registered in;
// clients whose recipient field is empty on the invoice are skipped.
type Service struct {
	invoices      InvoiceSource
	dispatcher    *Dispatcher
	clients       []Client
	publicBaseURL string
	logger        *zap.Logger
}

func NewService(invoices InvoiceSource, dispatcher *Dispatcher, clients []Client, publicBaseURL string, logger *zap.Logger) *Service {
	return &Service{
		invoices:      invoices,
		dispatcher:    dispatcher,
		clients:       clients,
		publicBaseURL: publicBaseURL,
		logger:        logger,
	}
}

// Notify dispatches the invoice notification across every channel that
// has a recipient on the invoice.
func (s *Service) Notify(ctx context.Context, invoiceID uuid.UUID) (*Report, error) {
	inv, err := s.invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("load invoice: %w", err)
	}

	targets := s.targetsFor(inv)
	if len(targets) == 0 {
		return nil, errors.New("invoice has no reachable channels")
	}

	msg := InvoiceMessage(inv, s.publicBaseURL)
	return s.dispatcher.Dispatch(ctx, inv.ID, msg, targets)
}

// ErrChannelUnavailable is returned when no client serves the requested
// channel.
var ErrChannelUnavailable = errors.New("channel not configured")

// DirectSend describes an ad-hoc, single-channel send. Recipient may be
// empty when InvoiceID is set; the invoice's stored contact for the
// channel is used instead.
type DirectSend struct {
	Channel   string
	Recipient string
	Subject   string
	Body      string
	InvoiceID *uuid.UUID
}

// SendDirect delivers one message over one channel, outside the normal
// dispatch claim and without retries. It backs the manual notification
// endpoints.
func (s *Service) SendDirect(ctx context.Context, req DirectSend) (string, error) {
	var client Client
	for _, c := range s.clients {
		if c.Channel() == req.Channel {
			client = c
			break
		}
	}
	if client == nil {
		return "", fmt.Errorf("%w: %s", ErrChannelUnavailable, req.Channel)
	}

	msg := &Message{Subject: req.Subject, Body: req.Body}
	recipient := req.Recipient

	if req.InvoiceID != nil {
		inv, err := s.invoices.Get(ctx, *req.InvoiceID)
		if err != nil {
			return "", fmt.Errorf("load invoice: %w", err)
		}
		if recipient == "" {
			if req.Channel == db.ChannelEmail {
				recipient = inv.CustomerEmail
			} else {
				recipient = inv.CustomerPhone
			}
		}
		msg.InvoiceNumber = inv.InvoiceNumber
		msg.Language = inv.Language
		if msg.Subject == "" {
			msg.Subject = fmt.Sprintf("Invoice %s", inv.InvoiceNumber)
		}
	}

	if recipient == "" {
		return "", errors.New("recipient is required")
	}

	return client.Send(ctx, recipient, msg)
}

func (s *Service) targetsFor(inv *db.Invoice) []Target {
	var targets []Target
	for _, client := range s.clients {
		var recipient string
		switch client.Channel() {
		case db.ChannelWhatsApp, db.ChannelSMS:
			recipient = inv.CustomerPhone
		case db.ChannelEmail:
			recipient = inv.CustomerEmail
		}
		if recipient == "" {
			continue
		}
		targets = append(targets, Target{Client: client, Recipient: recipient})
	}
	return targets
}
