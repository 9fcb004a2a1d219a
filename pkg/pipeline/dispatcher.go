// Package pipeline orchestrates one received batch: validate each message,
// persist it, raise business alerts, and report per-message outcomes so
// the broker only redelivers the failed subset.
package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/theory-cloud/pipetheory"
	"github.com/theory-cloud/pipetheory/pkg/alert"
	"github.com/theory-cloud/pipetheory/pkg/metrics"
	"github.com/theory-cloud/pipetheory/pkg/observability"
	"github.com/theory-cloud/pipetheory/pkg/store"
	"github.com/theory-cloud/pipetheory/pkg/transaction"
)

// DefaultLargeOrderThreshold applies when no threshold is configured.
const DefaultLargeOrderThreshold = 1500

// Writer persists a validated transaction idempotently under its ID.
type Writer interface {
	Put(ctx context.Context, txn transaction.Transaction) error
}

// AlertPublisher publishes one alert event.
type AlertPublisher interface {
	Publish(ctx context.Context, event alert.Event) error
}

// StatsEmitter receives per-batch outcome counters.
type StatsEmitter interface {
	EmitBatch(stats metrics.BatchStats) error
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Validator transaction.Validator
	Writer    Writer
	Alerts    AlertPublisher

	// Stats is optional; nil disables batch metrics.
	Stats StatsEmitter

	Clock  pipetheory.Clock
	Logger observability.StructuredLogger

	// LargeOrderThreshold is inclusive: amount >= threshold alerts.
	LargeOrderThreshold float64

	// Concurrency bounds per-message parallelism within a batch.
	// Zero or one processes sequentially. Messages never share mutable
	// state either way.
	Concurrency int
}

// Dispatcher processes batches of queue envelopes.
//
// Error classification is the load-bearing decision here: validation
// failures are terminal (the message is converted to an alert and
// consumed, because invalid input cannot become valid on redelivery),
// while persistence and alert-publish failures are transient (the message
// is left on the queue and the broker redelivers it after the visibility
// timeout, up to the redrive ceiling).
type Dispatcher struct {
	validator transaction.Validator
	writer    Writer
	alerts    AlertPublisher
	stats     StatsEmitter

	clock pipetheory.Clock
	log   observability.StructuredLogger

	threshold   float64
	concurrency int
}

var _ pipetheory.Processor = (*Dispatcher)(nil)

func NewDispatcher(config DispatcherConfig) *Dispatcher {
	clock := config.Clock
	if clock == nil {
		clock = pipetheory.RealClock{}
	}
	log := config.Logger
	if log == nil {
		log = observability.NewNoOpLogger()
	}
	threshold := config.LargeOrderThreshold
	if threshold == 0 {
		threshold = DefaultLargeOrderThreshold
	}

	return &Dispatcher{
		validator:   config.Validator,
		writer:      config.Writer,
		alerts:      config.Alerts,
		stats:       config.Stats,
		clock:       clock,
		log:         log,
		threshold:   threshold,
		concurrency: config.Concurrency,
	}
}

// ProcessBatch processes each envelope independently and returns the
// per-message outcomes. It never returns early: a failure in one message
// does not abort its siblings.
func (d *Dispatcher) ProcessBatch(ctx context.Context, batch []pipetheory.Envelope) pipetheory.Result {
	if ctx == nil {
		ctx = context.Background()
	}

	items := make([]pipetheory.ItemResult, len(batch))
	perMessage := make([]metrics.BatchStats, len(batch))

	if d.concurrency > 1 {
		sem := make(chan struct{}, d.concurrency)
		var wg sync.WaitGroup
		for i := range batch {
			wg.Add(1)
			sem <- struct{}{}
			go func(i int) {
				defer wg.Done()
				defer func() { <-sem }()
				items[i], perMessage[i] = d.processMessage(ctx, batch[i])
			}(i)
		}
		wg.Wait()
	} else {
		for i := range batch {
			items[i], perMessage[i] = d.processMessage(ctx, batch[i])
		}
	}

	if d.stats != nil {
		var total metrics.BatchStats
		for _, s := range perMessage {
			total.Processed += s.Processed
			total.Large += s.Large
			total.Invalid += s.Invalid
			total.Skipped += s.Skipped
			total.Failed += s.Failed
		}
		if err := d.stats.EmitBatch(total); err != nil {
			d.log.Warn("batch metrics emit failed", map[string]any{"error": err.Error()})
		}
	}

	return pipetheory.Result{Items: items}
}

func (d *Dispatcher) processMessage(ctx context.Context, env pipetheory.Envelope) (pipetheory.ItemResult, metrics.BatchStats) {
	log := d.log.WithField("message_id", env.MessageID)
	if env.ReceiveCount > 1 {
		log.Info("redelivered message", map[string]any{"receive_count": env.ReceiveCount})
	}

	var stats metrics.BatchStats

	txn, err := d.validator.Validate(env.Body)
	if err != nil {
		var rejection *transaction.RejectionError
		if !errors.As(err, &rejection) {
			// Validation is pure; anything else is an infrastructure
			// problem and retries via redelivery.
			stats.Failed++
			return failed(env, err), stats
		}

		if rejection.Reason == transaction.ReasonMalformedPayload {
			stats.Skipped++
		} else {
			stats.Invalid++
		}

		log.Warn("transaction rejected", map[string]any{"reason": rejection.Reason})

		publishErr := d.alerts.Publish(ctx, alert.Event{
			Kind:           alert.KindInvalidTransaction,
			Reason:         rejection.Reason,
			PayloadPreview: alert.Preview(env.Body),
			At:             d.clock.Now(),
		})
		if publishErr != nil {
			stats = metrics.BatchStats{Failed: 1}
			log.Warn("invalid-transaction alert failed, leaving message for redelivery", map[string]any{
				"error": publishErr.Error(),
			})
			return failed(env, publishErr), stats
		}

		// Terminal: the message is consumed, not retried.
		return succeeded(env), stats
	}

	log = log.WithTransactionID(txn.ID)

	if err := d.writer.Put(ctx, txn); err != nil {
		stats.Failed++
		log.Warn("persistence failed, leaving message for redelivery", map[string]any{
			"error":     err.Error(),
			"throttled": store.IsThrottle(err),
		})
		return failed(env, err), stats
	}

	if txn.Amount >= d.threshold {
		// Alert only after successful persistence. A failed publish fails
		// the whole message; the retried Put is a no-op under the same ID.
		publishErr := d.alerts.Publish(ctx, alert.Event{
			Kind:          alert.KindLargeOrder,
			TransactionID: txn.ID,
			CustomerID:    txn.CustomerID,
			Amount:        txn.Amount,
			Threshold:     d.threshold,
			At:            d.clock.Now(),
		})
		if publishErr != nil {
			stats = metrics.BatchStats{Failed: 1}
			log.Warn("large-order alert failed, leaving message for redelivery", map[string]any{
				"error": publishErr.Error(),
			})
			return failed(env, publishErr), stats
		}
		stats.Large++
	}

	stats.Processed++
	return succeeded(env), stats
}

func succeeded(env pipetheory.Envelope) pipetheory.ItemResult {
	return pipetheory.ItemResult{Envelope: env, Outcome: pipetheory.OutcomeSucceeded}
}

func failed(env pipetheory.Envelope, err error) pipetheory.ItemResult {
	return pipetheory.ItemResult{Envelope: env, Outcome: pipetheory.OutcomeFailed, Err: err}
}
