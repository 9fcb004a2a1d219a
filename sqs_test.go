package pipetheory_test

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/stretchr/testify/require"

	"github.com/theory-cloud/pipetheory"
	"github.com/theory-cloud/pipetheory/pkg/observability"
	"github.com/theory-cloud/pipetheory/testkit"
)

const transactionsARN = "arn:aws:sqs:us-east-1:000000000000:transactions"

type scriptedProcessor struct {
	batches  [][]pipetheory.Envelope
	failByID map[string]bool
}

func (p *scriptedProcessor) ProcessBatch(_ context.Context, batch []pipetheory.Envelope) pipetheory.Result {
	p.batches = append(p.batches, batch)

	items := make([]pipetheory.ItemResult, len(batch))
	for i, env := range batch {
		outcome := pipetheory.OutcomeSucceeded
		if p.failByID[env.MessageID] {
			outcome = pipetheory.OutcomeFailed
		}
		items[i] = pipetheory.ItemResult{Envelope: env, Outcome: outcome}
	}
	return pipetheory.Result{Items: items}
}

func TestServeSQS_PartialBatchFailures(t *testing.T) {
	t.Parallel()

	processor := &scriptedProcessor{failByID: map[string]bool{"m2": true}}
	app := pipetheory.New().Queue("transactions", processor)

	event := testkit.SQSEvent(testkit.SQSEventOptions{
		QueueARN: transactionsARN,
		Records: []testkit.SQSRecordOptions{
			{MessageID: "m1", Body: `{"transaction_id":"tx-1"}`},
			{MessageID: "m2", Body: `{"transaction_id":"tx-2"}`},
			{MessageID: "m3", Body: `{"transaction_id":"tx-3"}`},
		},
	})

	resp := app.ServeSQS(context.Background(), event)
	require.Len(t, resp.BatchItemFailures, 1)
	require.Equal(t, "m2", resp.BatchItemFailures[0].ItemIdentifier)

	require.Len(t, processor.batches, 1)
	require.Len(t, processor.batches[0], 3)
}

func TestServeSQS_UnknownQueueFailsClosed(t *testing.T) {
	t.Parallel()

	processor := &scriptedProcessor{}
	log := observability.NewTestLogger()
	app := pipetheory.New(pipetheory.WithLogger(log)).Queue("transactions", processor)

	event := testkit.SQSEvent(testkit.SQSEventOptions{
		QueueARN: "arn:aws:sqs:us-east-1:000000000000:some-other-queue",
		Records: []testkit.SQSRecordOptions{
			{MessageID: "m1", Body: "{}"},
			{MessageID: "m2", Body: "{}"},
		},
	})

	resp := app.ServeSQS(context.Background(), event)
	require.Len(t, resp.BatchItemFailures, 2)
	require.Empty(t, processor.batches)

	warns := log.EntriesAt("warn")
	require.Len(t, warns, 1)
	require.Equal(t, "no processor registered for queue", warns[0].Message)
}

func TestServeSQS_UsesLambdaRequestIDAsBatchID(t *testing.T) {
	t.Parallel()

	processor := &scriptedProcessor{}
	log := observability.NewTestLogger()
	app := pipetheory.New(pipetheory.WithLogger(log)).Queue("transactions", processor)

	ctx := lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{
		AwsRequestID: "req-123",
	})
	event := testkit.SQSEvent(testkit.SQSEventOptions{
		QueueARN: transactionsARN,
		Records:  []testkit.SQSRecordOptions{{MessageID: "m1", Body: "{}"}},
	})

	app.ServeSQS(ctx, event)

	infos := log.EntriesAt("info")
	require.Len(t, infos, 1)
	require.Equal(t, "batch complete", infos[0].Message)
	require.Equal(t, "req-123", infos[0].Fields["batch_id"])
	require.Equal(t, 1, infos[0].Fields["received"])
	require.Equal(t, 0, infos[0].Fields["failed"])
}

func TestServeSQS_GeneratesBatchIDOutsideLambda(t *testing.T) {
	t.Parallel()

	ids := testkit.NewManualIDGenerator()
	ids.Queue("batch-42")

	processor := &scriptedProcessor{}
	log := observability.NewTestLogger()
	app := pipetheory.New(
		pipetheory.WithLogger(log),
		pipetheory.WithIDGenerator(ids),
	).Queue("transactions", processor)

	event := testkit.SQSEvent(testkit.SQSEventOptions{
		QueueARN: transactionsARN,
		Records:  []testkit.SQSRecordOptions{{MessageID: "m1", Body: "{}"}},
	})

	app.ServeSQS(context.Background(), event)

	infos := log.EntriesAt("info")
	require.Len(t, infos, 1)
	require.Equal(t, "batch-42", infos[0].Fields["batch_id"])
}

func TestLambdaHandler_NeverReturnsError(t *testing.T) {
	t.Parallel()

	app := pipetheory.New().Queue("transactions", &scriptedProcessor{failByID: map[string]bool{"m1": true}})
	handler := app.LambdaHandler()

	event := testkit.SQSEvent(testkit.SQSEventOptions{
		QueueARN: transactionsARN,
		Records:  []testkit.SQSRecordOptions{{MessageID: "m1", Body: "{}"}},
	})

	resp, err := handler(context.Background(), event)
	require.NoError(t, err)
	require.Len(t, resp.BatchItemFailures, 1)
}

func TestEnvelopeFromSQS(t *testing.T) {
	t.Parallel()

	sentAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	event := testkit.SQSEvent(testkit.SQSEventOptions{
		Records: []testkit.SQSRecordOptions{
			{MessageID: "m1", Body: `{"amount":1}`, ReceiveCount: 4, SentAt: sentAt},
		},
	})

	env := pipetheory.EnvelopeFromSQS(event.Records[0])
	require.Equal(t, "m1", env.MessageID)
	require.Equal(t, `{"amount":1}`, string(env.Body))
	require.Equal(t, 4, env.ReceiveCount)
	require.Equal(t, sentAt, env.SentAt)
}

func TestEnvelopeFromSQS_DefaultsToFirstDelivery(t *testing.T) {
	t.Parallel()

	env := pipetheory.EnvelopeFromSQS(events.SQSMessage{
		MessageId: "m1",
		Body:      "{}",
		Attributes: map[string]string{
			"ApproximateReceiveCount": "not-a-number",
		},
	})
	require.Equal(t, 1, env.ReceiveCount)
	require.True(t, env.SentAt.IsZero())
}
