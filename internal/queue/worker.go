package queue

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/avikram/invoiceflow/internal/dispatch"
	"github.com/avikram/invoiceflow/internal/metrics"
)

// Handler processes one dispatch job.
type Handler func(ctx context.Context, job Job) error

// Worker polls the queue and hands jobs to the handler. Jobs are acked
// only after the handler finishes; an unacked job comes back after the
// visibility timeout, so delivery is at-least-once end to end.
type Worker struct {
	consumer *Consumer
	handler  Handler
	logger   *zap.Logger

	// errBackoff spaces out polls after receive failures.
	errBackoff time.Duration
}

func NewWorker(consumer *Consumer, handler Handler, logger *zap.Logger) *Worker {
	return &Worker{
		consumer:   consumer,
		handler:    handler,
		logger:     logger,
		errBackoff: time.Second,
	}
}

// Start polls until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("queue worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("queue worker stopping")
			return
		default:
		}

		job, handle, err := w.consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			if handle != "" {
				// Undecodable job: redelivery cannot help, drop it.
				w.logger.Error("dropping malformed job", zap.Error(err))
				if delErr := w.consumer.Delete(ctx, handle); delErr != nil {
					w.logger.Error("failed to delete malformed job", zap.Error(delErr))
				}
				continue
			}
			w.logger.Error("receive failed", zap.Error(err))
			w.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		w.process(ctx, job, handle)
	}
}

func (w *Worker) process(ctx context.Context, job *Job, handle string) {
	metrics.SetQueueMessagesInFlight(1)
	defer metrics.SetQueueMessagesInFlight(0)

	err := w.handler(ctx, *job)
	switch {
	case err == nil:
	case errors.Is(err, dispatch.ErrAlreadyDispatched):
		// Redelivered job for an invoice another worker already claimed.
		w.logger.Info("job already dispatched",
			zap.String("invoice_id", job.InvoiceID.String()),
		)
	default:
		// Leave the job unacked so SQS redelivers it.
		w.logger.Error("job failed, leaving for redelivery",
			zap.String("invoice_id", job.InvoiceID.String()),
			zap.Error(err),
		)
		return
	}

	if err := w.consumer.Delete(ctx, handle); err != nil {
		w.logger.Error("failed to ack job",
			zap.String("invoice_id", job.InvoiceID.String()),
			zap.Error(err),
		)
	}
}

func (w *Worker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.errBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
