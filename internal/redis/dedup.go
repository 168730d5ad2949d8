package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/avikram/invoiceflow/internal/metrics"
)

// DedupTTL is the window inside which a webhook event id is remembered.
// Providers retry deliveries for hours, not days; a 24h window covers
// every documented retry schedule while keeping the keyspace bounded.
const DedupTTL = 24 * time.Hour

// DedupStore remembers processed webhook event ids so redelivered events
// are applied at most once within the retention window.
type DedupStore struct {
	client *Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDedupStore(client *Client, logger *zap.Logger) *DedupStore {
	return &DedupStore{client: client, ttl: DedupTTL, logger: logger}
}

func (s *DedupStore) buildKey(provider, eventID string) string {
	return fmt.Sprintf("webhook:seen:%s:%s", provider, eventID)
}

// MarkProcessed records the event id and reports whether this is its first
// appearance. SET NX makes the claim atomic across concurrent deliveries
// of the same event. Errors mean the dedup state is unknown and the caller
// should not ack the delivery.
func (s *DedupStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	key := s.buildKey(provider, eventID)

	first, err := s.client.rdb.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}

	if !first {
		metrics.RecordDedupHit()
		s.logger.Debug("duplicate webhook event skipped",
			zap.String("provider", provider),
			zap.String("event_id", eventID),
		)
	}

	return first, nil
}

// Forget drops the event id so a later redelivery is treated as new.
// Used when processing failed after the claim and the provider should
// retry.
func (s *DedupStore) Forget(ctx context.Context, provider, eventID string) error {
	if err := s.client.rdb.Del(ctx, s.buildKey(provider, eventID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
