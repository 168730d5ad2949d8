package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/avikram/invoiceflow/internal/dispatch"
)

// ProtectedClient wraps a dispatch.Client with a CircuitBreaker. When a
// provider starts failing, the circuit opens and sends fail fast instead
// of piling up; rejections are transient so the dispatcher backs off and
// retries once the provider recovers.
type ProtectedClient struct {
	client  dispatch.Client
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedClient wraps a channel client with circuit breaker protection.
func NewProtectedClient(client dispatch.Client, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedClient {
	return &ProtectedClient{
		client:  client,
		breaker: breaker,
		logger:  logger,
	}
}

// Send attempts delivery through the circuit breaker. Only transient
// failures count against the breaker: a bad recipient says nothing about
// provider health.
func (p *ProtectedClient) Send(ctx context.Context, recipient string, msg *dispatch.Message) (string, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected send",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("channel", p.client.Channel()),
			zap.String("state", p.breaker.GetState().String()),
		)
		return "", dispatch.Transient(fmt.Errorf("%w: %s unavailable", ErrCircuitOpen, p.breaker.config.Name))
	}

	msgID, err := p.client.Send(ctx, recipient, msg)
	if err != nil {
		if dispatch.IsTransient(err) {
			p.breaker.RecordFailure()
		} else {
			p.breaker.RecordSuccess()
		}
		return "", err
	}

	p.breaker.RecordSuccess()
	return msgID, nil
}

// Channel delegates to the underlying client.
func (p *ProtectedClient) Channel() string {
	return p.client.Channel()
}

// Breaker returns the underlying circuit breaker for metrics/monitoring.
func (p *ProtectedClient) Breaker() *CircuitBreaker {
	return p.breaker
}
