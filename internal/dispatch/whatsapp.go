package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/avikram/invoiceflow/internal/db"
	"github.com/avikram/invoiceflow/internal/phone"
)

// WhatsAppClient sends chat notifications through the WhatsApp Cloud API.
// Recipients are normalized to the bare-digit form the API expects before
// every call.
type WhatsAppClient struct {
	accessToken string
	apiURL      string
	client      *http.Client
	logger      *zap.Logger
}

type WhatsAppConfig struct {
	AccessToken   string
	PhoneNumberID string
	APIVersion    string // default v17.0
	BaseURL       string // override for tests; default https://graph.facebook.com
	Timeout       time.Duration
}

// NewWhatsAppClient creates a WhatsApp Cloud API client.
func NewWhatsAppClient(cfg WhatsAppConfig, logger *zap.Logger) (*WhatsAppClient, error) {
	if cfg.AccessToken == "" || cfg.PhoneNumberID == "" {
		return nil, errors.New("whatsapp access token and phone number id are required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v17.0"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://graph.facebook.com"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &WhatsAppClient{
		accessToken: cfg.AccessToken,
		apiURL:      fmt.Sprintf("%s/%s/%s/messages", cfg.BaseURL, cfg.APIVersion, cfg.PhoneNumberID),
		client:      &http.Client{Timeout: timeout},
		logger:      logger,
	}, nil
}

func (c *WhatsAppClient) Channel() string { return db.ChannelWhatsApp }

// Send delivers the notification text and, when a document URL is present,
// a follow-up document message carrying the invoice PDF.
func (c *WhatsAppClient) Send(ctx context.Context, recipient string, msg *Message) (string, error) {
	to := phone.Normalize(recipient)
	if to == "" {
		return "", Permanent(errors.New("empty recipient"))
	}

	// The invoice number rides along as opaque callback data so status
	// webhooks can be correlated back to the invoice.
	textPayload := map[string]any{
		"messaging_product":        "whatsapp",
		"to":                       to,
		"type":                     "text",
		"text":                     map[string]string{"body": msg.Body},
		"biz_opaque_callback_data": msg.InvoiceNumber,
	}

	msgID, err := c.post(ctx, textPayload)
	if err != nil {
		return "", err
	}

	if msg.DocumentURL != "" {
		docPayload := map[string]any{
			"messaging_product":        "whatsapp",
			"to":                       to,
			"type":                     "document",
			"biz_opaque_callback_data": msg.InvoiceNumber,
			"document": map[string]string{
				"link":     msg.DocumentURL,
				"filename": fmt.Sprintf("invoice_%s.pdf", msg.InvoiceNumber),
				"caption":  fmt.Sprintf("Invoice %s", msg.InvoiceNumber),
			},
		}
		if _, err := c.post(ctx, docPayload); err != nil {
			return "", err
		}
	}

	c.logger.Info("whatsapp message sent",
		zap.String("to", to),
		zap.String("message_id", msgID),
		zap.String("invoice_number", msg.InvoiceNumber),
	)

	return msgID, nil
}

type whatsAppResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (c *WhatsAppClient) post(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", Permanent(fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// Network errors and timeouts may succeed on retry.
		return "", Transient(fmt.Errorf("whatsapp request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("whatsapp api status %d: %s", resp.StatusCode, string(respBody))
		if transientStatus(resp.StatusCode) {
			return "", Transient(err)
		}
		return "", Permanent(err)
	}

	var parsed whatsAppResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil || len(parsed.Messages) == 0 {
		// Accepted but unparseable; treat delivery as done without an id.
		return "", nil
	}
	return parsed.Messages[0].ID, nil
}
