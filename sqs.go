package pipetheory

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
)

func sqsQueueNameFromARN(arn string) string {
	arn = strings.TrimSpace(arn)
	if arn == "" {
		return ""
	}
	parts := strings.Split(arn, ":")
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

func (a *App) processorForEvent(event events.SQSEvent) Processor {
	if a == nil {
		return nil
	}
	for _, record := range event.Records {
		queueName := sqsQueueNameFromARN(record.EventSourceARN)
		if queueName == "" {
			continue
		}
		for _, route := range a.queueRoutes {
			if route.QueueName == queueName {
				return route.Processor
			}
		}
		break
	}
	return nil
}

// EnvelopeFromSQS converts a Lambda-delivered SQS message into an Envelope.
//
// ApproximateReceiveCount is reported by the broker starting at 1 on first
// delivery; a missing or unparsable attribute is treated as first delivery.
func EnvelopeFromSQS(msg events.SQSMessage) Envelope {
	env := Envelope{
		MessageID:     msg.MessageId,
		ReceiptHandle: msg.ReceiptHandle,
		Body:          []byte(msg.Body),
		ReceiveCount:  1,
	}
	if raw := msg.Attributes["ApproximateReceiveCount"]; raw != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n > 0 {
			env.ReceiveCount = n
		}
	}
	if raw := msg.Attributes["SentTimestamp"]; raw != "" {
		if ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil && ms > 0 {
			env.SentAt = time.UnixMilli(ms).UTC()
		}
	}
	return env
}

func envelopesFromEvent(event events.SQSEvent) []Envelope {
	out := make([]Envelope, 0, len(event.Records))
	for _, record := range event.Records {
		out = append(out, EnvelopeFromSQS(record))
	}
	return out
}

func allFailures(event events.SQSEvent) events.SQSEventResponse {
	failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
	for _, record := range event.Records {
		id := strings.TrimSpace(record.MessageId)
		if id == "" {
			continue
		}
		failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: id})
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

// ServeSQS routes an SQS event to the registered queue processor and
// returns a partial batch failure response: only failed messages are
// reported, so the broker redelivers the failed subset and deletes the rest.
//
// If the queue is unrecognized, it fails closed by returning all messages
// as failures.
func (a *App) ServeSQS(ctx context.Context, event events.SQSEvent) events.SQSEventResponse {
	if ctx == nil {
		ctx = context.Background()
	}

	processor := a.processorForEvent(event)
	if processor == nil {
		if a != nil && a.log != nil {
			a.log.Warn("no processor registered for queue", map[string]any{
				"records": len(event.Records),
			})
		}
		return allFailures(event)
	}

	batchID := ""
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		batchID = strings.TrimSpace(lc.AwsRequestID)
	}
	if batchID == "" {
		batchID = a.newBatchID()
	}

	result := processor.ProcessBatch(ctx, envelopesFromEvent(event))

	failures := make([]events.SQSBatchItemFailure, 0, len(result.Items))
	for _, item := range result.Items {
		if item.Outcome == OutcomeSucceeded {
			continue
		}
		id := strings.TrimSpace(item.Envelope.MessageID)
		if id == "" {
			continue
		}
		failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: id})
	}

	if a != nil && a.log != nil {
		a.log.Info("batch complete", map[string]any{
			"batch_id": batchID,
			"received": len(event.Records),
			"failed":   len(failures),
		})
	}

	return events.SQSEventResponse{BatchItemFailures: failures}
}

// LambdaHandler returns a handler suitable for lambda.Start.
func (a *App) LambdaHandler() func(context.Context, events.SQSEvent) (events.SQSEventResponse, error) {
	return func(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
		return a.ServeSQS(ctx, event), nil
	}
}
