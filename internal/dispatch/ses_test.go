package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

type fakeSES struct {
	lastInput *ses.SendEmailInput
	err       error
}

func (f *fakeSES) SendEmail(_ context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.lastInput = params
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("ses-msg-1")}, nil
}

func TestEmailSend(t *testing.T) {
	api := &fakeSES{}
	client, err := NewEmailClient(api, "billing@example.com", zap.NewNop())
	if err != nil {
		t.Fatalf("NewEmailClient failed: %v", err)
	}

	msgID, err := client.Send(context.Background(), "customer@example.com", &Message{
		InvoiceNumber: "INV-1",
		Subject:       "Invoice INV-1",
		Body:          "ready",
		DocumentURL:   "https://example.com/invoices/INV-1.pdf",
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if msgID != "ses-msg-1" {
		t.Errorf("expected ses-msg-1, got %q", msgID)
	}
	if got := aws.ToString(api.lastInput.Source); got != "billing@example.com" {
		t.Errorf("expected configured source, got %q", got)
	}
	if got := api.lastInput.Destination.ToAddresses[0]; got != "customer@example.com" {
		t.Errorf("expected recipient address, got %q", got)
	}
	body := aws.ToString(api.lastInput.Message.Body.Text.Data)
	if body == "ready" {
		t.Error("body should include the document link")
	}
}

func TestEmailSendRejectedIsPermanent(t *testing.T) {
	api := &fakeSES{err: &types.MessageRejected{}}
	client, _ := NewEmailClient(api, "billing@example.com", zap.NewNop())

	_, err := client.Send(context.Background(), "customer@example.com", &Message{Body: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTransient(err) {
		t.Error("rejected email should be permanent")
	}
}

func TestEmailSendOtherErrorIsTransient(t *testing.T) {
	api := &fakeSES{err: errors.New("connection reset")}
	client, _ := NewEmailClient(api, "billing@example.com", zap.NewNop())

	_, err := client.Send(context.Background(), "customer@example.com", &Message{Body: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTransient(err) {
		t.Error("unknown SES failure should be transient")
	}
}

func TestEmailSendEmptyRecipient(t *testing.T) {
	client, _ := NewEmailClient(&fakeSES{}, "billing@example.com", zap.NewNop())

	_, err := client.Send(context.Background(), "", &Message{Body: "x"})
	if err == nil || IsTransient(err) {
		t.Errorf("empty recipient should be a permanent error, got %v", err)
	}
}
