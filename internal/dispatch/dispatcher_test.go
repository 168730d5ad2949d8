package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avikram/invoiceflow/internal/db"
)

type fakeLifecycle struct {
	mu       sync.Mutex
	claimed  map[uuid.UUID]bool
	outcomes map[uuid.UUID]string
	beginErr error
	recErr   error
}

func newFakeLifecycle() *fakeLifecycle {
	return &fakeLifecycle{
		claimed:  make(map[uuid.UUID]bool),
		outcomes: make(map[uuid.UUID]string),
	}
}

func (f *fakeLifecycle) BeginDispatch(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beginErr != nil {
		return false, f.beginErr
	}
	if f.claimed[id] {
		return false, nil
	}
	f.claimed[id] = true
	return true, nil
}

func (f *fakeLifecycle) RecordNotificationOutcome(_ context.Context, id uuid.UUID, outcome string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recErr != nil {
		return false, f.recErr
	}
	f.outcomes[id] = outcome
	return true, nil
}

func (f *fakeLifecycle) outcome(id uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcomes[id]
}

type fakeClient struct {
	channel string
	mu      sync.Mutex
	calls   int
	// errs are returned in order; once exhausted the send succeeds.
	errs          []error
	lastRecipient string
	lastMsg       *Message
}

func (c *fakeClient) Channel() string { return c.channel }

func (c *fakeClient) Send(_ context.Context, recipient string, msg *Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.lastRecipient = recipient
	c.lastMsg = msg
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		return "", err
	}
	return "msg-1", nil
}

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func testConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestDispatchSuccessFirstAttempt(t *testing.T) {
	lc := newFakeLifecycle()
	d := NewDispatcher(lc, testConfig(), zap.NewNop())
	id := uuid.New()
	client := &fakeClient{channel: db.ChannelWhatsApp}

	report, err := d.Dispatch(context.Background(), id, &Message{Body: "hi"}, []Target{
		{Client: client, Recipient: "+111"},
	})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if report.Outcome != db.NotificationSent {
		t.Errorf("expected outcome sent, got %s", report.Outcome)
	}
	if lc.outcome(id) != db.NotificationSent {
		t.Errorf("expected recorded outcome sent, got %s", lc.outcome(id))
	}
	if client.callCount() != 1 {
		t.Errorf("expected 1 call, got %d", client.callCount())
	}
}

func TestDispatchRetriesTransientErrors(t *testing.T) {
	lc := newFakeLifecycle()
	d := NewDispatcher(lc, testConfig(), zap.NewNop())
	client := &fakeClient{
		channel: db.ChannelWhatsApp,
		errs: []error{
			Transient(errors.New("timeout")),
			Transient(errors.New("status 503")),
		},
	}

	report, err := d.Dispatch(context.Background(), uuid.New(), &Message{Body: "hi"}, []Target{
		{Client: client, Recipient: "+111"},
	})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if report.Outcome != db.NotificationSent {
		t.Errorf("expected outcome sent after retries, got %s", report.Outcome)
	}
	if client.callCount() != 3 {
		t.Errorf("expected 3 calls, got %d", client.callCount())
	}
	if report.Results[0].Attempts != 3 {
		t.Errorf("expected 3 attempts in result, got %d", report.Results[0].Attempts)
	}
}

func TestDispatchStopsOnPermanentError(t *testing.T) {
	lc := newFakeLifecycle()
	d := NewDispatcher(lc, testConfig(), zap.NewNop())
	id := uuid.New()
	client := &fakeClient{
		channel: db.ChannelWhatsApp,
		errs:    []error{Permanent(errors.New("invalid recipient"))},
	}

	report, err := d.Dispatch(context.Background(), id, &Message{Body: "hi"}, []Target{
		{Client: client, Recipient: "bad"},
	})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if report.Outcome != db.NotificationFailed {
		t.Errorf("expected outcome failed, got %s", report.Outcome)
	}
	if client.callCount() != 1 {
		t.Errorf("permanent error should not be retried, got %d calls", client.callCount())
	}
	if lc.outcome(id) != db.NotificationFailed {
		t.Errorf("expected recorded outcome failed, got %s", lc.outcome(id))
	}
}

func TestDispatchExhaustsTransientRetries(t *testing.T) {
	lc := newFakeLifecycle()
	d := NewDispatcher(lc, testConfig(), zap.NewNop())
	client := &fakeClient{
		channel: db.ChannelEmail,
		errs: []error{
			Transient(errors.New("one")),
			Transient(errors.New("two")),
			Transient(errors.New("three")),
		},
	}

	report, err := d.Dispatch(context.Background(), uuid.New(), &Message{Body: "hi"}, []Target{
		{Client: client, Recipient: "a@b.c"},
	})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if report.Outcome != db.NotificationFailed {
		t.Errorf("expected outcome failed, got %s", report.Outcome)
	}
	if client.callCount() != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", client.callCount())
	}
}

func TestDispatchAnyChannelSuccessMeansSent(t *testing.T) {
	lc := newFakeLifecycle()
	d := NewDispatcher(lc, testConfig(), zap.NewNop())
	failing := &fakeClient{
		channel: db.ChannelWhatsApp,
		errs:    []error{Permanent(errors.New("blocked"))},
	}
	working := &fakeClient{channel: db.ChannelEmail}

	report, err := d.Dispatch(context.Background(), uuid.New(), &Message{Body: "hi"}, []Target{
		{Client: failing, Recipient: "+111"},
		{Client: working, Recipient: "a@b.c"},
	})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if report.Outcome != db.NotificationSent {
		t.Errorf("one successful channel should yield sent, got %s", report.Outcome)
	}
	if len(report.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(report.Results))
	}
	if report.Results[0].Err == nil {
		t.Error("expected first target to carry its error")
	}
	if report.Results[1].Err != nil {
		t.Errorf("expected second target to succeed: %v", report.Results[1].Err)
	}
}

func TestDispatchSecondClaimRejected(t *testing.T) {
	lc := newFakeLifecycle()
	d := NewDispatcher(lc, testConfig(), zap.NewNop())
	id := uuid.New()
	client := &fakeClient{channel: db.ChannelWhatsApp}
	targets := []Target{{Client: client, Recipient: "+111"}}

	if _, err := d.Dispatch(context.Background(), id, &Message{Body: "hi"}, targets); err != nil {
		t.Fatalf("first dispatch failed: %v", err)
	}

	_, err := d.Dispatch(context.Background(), id, &Message{Body: "hi"}, targets)
	if !errors.Is(err, ErrAlreadyDispatched) {
		t.Errorf("expected ErrAlreadyDispatched, got %v", err)
	}
	if client.callCount() != 1 {
		t.Errorf("second dispatch must not send, got %d calls", client.callCount())
	}
}

func TestDispatchCancelDuringBackoff(t *testing.T) {
	lc := newFakeLifecycle()
	cfg := Config{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}
	d := NewDispatcher(lc, cfg, zap.NewNop())
	id := uuid.New()
	client := &fakeClient{
		channel: db.ChannelWhatsApp,
		errs:    []error{Transient(errors.New("timeout"))},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	report, err := d.Dispatch(ctx, id, &Message{Body: "hi"}, []Target{
		{Client: client, Recipient: "+111"},
	})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if report.Outcome != db.NotificationFailed {
		t.Errorf("cancelled dispatch should record failed, got %s", report.Outcome)
	}
	if !errors.Is(report.Results[0].Err, context.Canceled) {
		t.Errorf("expected context.Canceled in result, got %v", report.Results[0].Err)
	}
	if client.callCount() != 1 {
		t.Errorf("expected no further attempts after cancel, got %d", client.callCount())
	}
}

func TestDispatchNoTargets(t *testing.T) {
	d := NewDispatcher(newFakeLifecycle(), testConfig(), zap.NewNop())

	if _, err := d.Dispatch(context.Background(), uuid.New(), &Message{}, nil); err == nil {
		t.Error("expected error for empty target list")
	}
}

func TestDispatchRecordOutcomeFailure(t *testing.T) {
	lc := newFakeLifecycle()
	lc.recErr = errors.New("db down")
	d := NewDispatcher(lc, testConfig(), zap.NewNop())
	client := &fakeClient{channel: db.ChannelWhatsApp}

	report, err := d.Dispatch(context.Background(), uuid.New(), &Message{Body: "hi"}, []Target{
		{Client: client, Recipient: "+111"},
	})
	if err == nil {
		t.Fatal("expected error when outcome recording fails")
	}
	if report == nil || report.Outcome != db.NotificationSent {
		t.Error("report should still carry the computed outcome")
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	d := NewDispatcher(newFakeLifecycle(), Config{
		MaxAttempts: 10,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
	}, zap.NewNop())

	for attempt := 1; attempt <= 10; attempt++ {
		delay := d.backoffDelay(attempt)
		if delay > 8*time.Second {
			t.Errorf("attempt %d: delay %v exceeds cap", attempt, delay)
		}
		if delay <= 0 {
			t.Errorf("attempt %d: non-positive delay %v", attempt, delay)
		}
	}
}
