package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func newTestWhatsAppClient(t *testing.T, handler http.HandlerFunc) (*WhatsAppClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewWhatsAppClient(WhatsAppConfig{
		AccessToken:   "test-token",
		PhoneNumberID: "12345",
		BaseURL:       server.URL,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWhatsAppClient failed: %v", err)
	}
	return client, server
}

func TestWhatsAppSendText(t *testing.T) {
	var gotAuth string
	var gotPayloads []map[string]any

	client, _ := newTestWhatsAppClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		gotPayloads = append(gotPayloads, payload)
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{{"id": "wamid.test"}},
		})
	})

	msgID, err := client.Send(context.Background(), "+91 98765-43210", &Message{
		InvoiceNumber: "INV-1",
		Body:          "Invoice INV-1 for 20.00 is ready.",
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if msgID != "wamid.test" {
		t.Errorf("expected message id wamid.test, got %q", msgID)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("expected bearer auth header, got %q", gotAuth)
	}
	if len(gotPayloads) != 1 {
		t.Fatalf("expected 1 request, got %d", len(gotPayloads))
	}
	if to := gotPayloads[0]["to"]; to != "919876543210" {
		t.Errorf("recipient not normalized, got %v", to)
	}
	if typ := gotPayloads[0]["type"]; typ != "text" {
		t.Errorf("expected text message, got %v", typ)
	}
}

func TestWhatsAppSendWithDocument(t *testing.T) {
	var types []string

	client, _ := newTestWhatsAppClient(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		types = append(types, payload["type"].(string))
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{{"id": "wamid.test"}},
		})
	})

	_, err := client.Send(context.Background(), "+111", &Message{
		InvoiceNumber: "INV-2",
		Body:          "ready",
		DocumentURL:   "https://example.com/invoices/INV-2.pdf",
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if len(types) != 2 || types[0] != "text" || types[1] != "document" {
		t.Errorf("expected text then document messages, got %v", types)
	}
}

func TestWhatsAppErrorClassification(t *testing.T) {
	cases := []struct {
		name          string
		status        int
		wantTransient bool
	}{
		{"rate limited", 429, true},
		{"server error", 503, true},
		{"bad request", 400, false},
		{"unauthorized", 401, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestWhatsAppClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})

			_, err := client.Send(context.Background(), "+111", &Message{Body: "x"})
			if err == nil {
				t.Fatal("expected error")
			}
			if IsTransient(err) != tc.wantTransient {
				t.Errorf("status %d: transient = %v, want %v", tc.status, IsTransient(err), tc.wantTransient)
			}
		})
	}
}

func TestWhatsAppEmptyRecipient(t *testing.T) {
	client, _ := newTestWhatsAppClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be made for an empty recipient")
	})

	_, err := client.Send(context.Background(), "   ", &Message{Body: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTransient(err) {
		t.Error("empty recipient should be permanent")
	}
}

func TestNewWhatsAppClientValidation(t *testing.T) {
	if _, err := NewWhatsAppClient(WhatsAppConfig{}, zap.NewNop()); err == nil {
		t.Error("expected error for missing credentials")
	}
}
