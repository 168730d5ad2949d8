package dispatch

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/avikram/invoiceflow/internal/db"
)

func TestInvoiceMessage(t *testing.T) {
	inv := &db.Invoice{
		ID:            uuid.New(),
		InvoiceNumber: "INV-1700000000000",
		CustomerName:  "Acme Corp",
		Total:         120.50,
		Language:      "en",
	}

	msg := InvoiceMessage(inv, "https://invoices.example.com")
	if msg.InvoiceNumber != inv.InvoiceNumber {
		t.Errorf("expected invoice number %s, got %s", inv.InvoiceNumber, msg.InvoiceNumber)
	}
	if msg.DocumentURL != "" {
		t.Errorf("no document location should mean no URL, got %q", msg.DocumentURL)
	}

	inv.DocumentLocation = "invoices/INV-1700000000000.pdf"
	msg = InvoiceMessage(inv, "https://invoices.example.com")
	want := "https://invoices.example.com/invoices/INV-1700000000000.pdf"
	if msg.DocumentURL != want {
		t.Errorf("expected document URL %q, got %q", want, msg.DocumentURL)
	}
}

func TestErrorClassification(t *testing.T) {
	base := errors.New("boom")

	if !IsTransient(Transient(base)) {
		t.Error("transient error should classify transient")
	}
	if IsTransient(Permanent(base)) {
		t.Error("permanent error should not classify transient")
	}
	// Unclassified errors are retried rather than dropped.
	if !IsTransient(base) {
		t.Error("unclassified error should default to transient")
	}

	var pe *ProviderError
	if !errors.As(Transient(base), &pe) {
		t.Fatal("expected ProviderError")
	}
	if !errors.Is(Transient(base), base) {
		t.Error("wrapped cause should survive errors.Is")
	}
}

func TestTransientStatus(t *testing.T) {
	cases := []struct {
		status int
		want   bool
	}{
		{200, false},
		{400, false},
		{401, false},
		{404, false},
		{429, true},
		{500, true},
		{502, true},
		{503, true},
	}

	for _, tc := range cases {
		if got := transientStatus(tc.status); got != tc.want {
			t.Errorf("transientStatus(%d) = %v, want %v", tc.status, got, tc.want)
		}
	}
}
