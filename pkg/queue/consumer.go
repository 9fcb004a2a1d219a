package queue

import (
	"context"
	"errors"
	"time"

	"github.com/theory-cloud/pipetheory"
	"github.com/theory-cloud/pipetheory/pkg/observability"
)

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	// BatchSize caps messages per receive (1..10, default 10).
	BatchSize int

	// WaitTime is the long-poll batching window (default 1s).
	WaitTime time.Duration

	// ProcessingTimeout bounds one batch. On expiry the batch aborts and
	// every undeleted message becomes eligible for redelivery once its
	// visibility timeout lapses, same as an explicit failure.
	ProcessingTimeout time.Duration

	Logger observability.StructuredLogger
}

// Consumer is the non-Lambda receive loop: receive a batch, dispatch it,
// delete the succeeded subset, leave the failed subset to the broker.
type Consumer struct {
	client    *Client
	processor pipetheory.Processor

	batchSize         int
	waitTime          time.Duration
	processingTimeout time.Duration
	log               observability.StructuredLogger
}

func NewConsumer(client *Client, processor pipetheory.Processor, config ConsumerConfig) *Consumer {
	batchSize := config.BatchSize
	if batchSize < 1 || batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	waitTime := config.WaitTime
	if waitTime <= 0 {
		waitTime = time.Second
	}
	log := config.Logger
	if log == nil {
		log = observability.NewNoOpLogger()
	}
	return &Consumer{
		client:            client,
		processor:         processor,
		batchSize:         batchSize,
		waitTime:          waitTime,
		processingTimeout: config.ProcessingTimeout,
		log:               log,
	}
}

// Run polls until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if c == nil || c.client == nil || c.processor == nil {
		return errors.New("queue: consumer is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		envelopes, err := c.client.Receive(ctx, c.batchSize, c.waitTime)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("receive failed", map[string]any{"error": err.Error()})
			time.Sleep(time.Second)
			continue
		}
		if len(envelopes) == 0 {
			continue
		}

		c.dispatch(ctx, envelopes)
	}
}

func (c *Consumer) dispatch(ctx context.Context, envelopes []pipetheory.Envelope) {
	procCtx := ctx
	cancel := func() {}
	if c.processingTimeout > 0 {
		procCtx, cancel = context.WithTimeout(ctx, c.processingTimeout)
	}
	result := c.processor.ProcessBatch(procCtx, envelopes)
	cancel()

	deleted := 0
	for _, env := range result.Succeeded() {
		if err := c.client.Delete(ctx, env.ReceiptHandle); err != nil {
			// The message will be redelivered; the idempotent write makes
			// the reprocessing harmless.
			c.log.Warn("delete failed", map[string]any{
				"message_id": env.MessageID,
				"error":      err.Error(),
			})
			continue
		}
		deleted++
	}

	c.log.Debug("batch dispatched", map[string]any{
		"received": len(envelopes),
		"deleted":  deleted,
		"failed":   len(result.Failed()),
	})
}
