package zap

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/theory-cloud/pipetheory/pkg/observability"
	"github.com/theory-cloud/pipetheory/testkit"
)

const alertsARN = "arn:aws:sns:us-east-1:000000000000:alerts"

func TestSNSNotifier_PublishesEntry(t *testing.T) {
	t.Setenv("AWS_REGION", "us-east-1")
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "pipetheory-processor-dev")

	client := testkit.NewFakeSNSClient()
	notifier := NewSNSNotifier(client, alertsARN, SNSNotifierOptions{Subject: "pipeline error"})

	entry := observability.LogEntry{
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Level:     "error",
		Message:   "store unavailable",
		Fields:    map[string]any{"attempt": 2},
		BatchID:   "b1",
	}
	require.NoError(t, notifier.Notify(context.Background(), entry))

	calls := client.CallsTo(alertsARN)
	require.Len(t, calls, 1)
	require.Equal(t, "pipeline error", calls[0].Subject)

	var payload struct {
		Entry observability.LogEntry `json:"entry"`
		Env   map[string]string      `json:"env"`
	}
	require.NoError(t, json.Unmarshal([]byte(calls[0].Message), &payload))
	require.Equal(t, "store unavailable", payload.Entry.Message)
	require.Equal(t, "b1", payload.Entry.BatchID)
	require.Equal(t, "us-east-1", payload.Env["aws_region"])
	require.Equal(t, "pipetheory-processor-dev", payload.Env["aws_lambda_function_name"])
}

func TestSNSNotifier_SubjectDefaultsAndTruncates(t *testing.T) {
	t.Parallel()

	client := testkit.NewFakeSNSClient()
	notifier := NewSNSNotifier(client, alertsARN, SNSNotifierOptions{})
	require.NoError(t, notifier.Notify(context.Background(), observability.LogEntry{Level: "error"}))
	require.Equal(t, "pipetheory error", client.Calls[0].Subject)

	long := NewSNSNotifier(client, alertsARN, SNSNotifierOptions{
		Subject: strings.Repeat("x", 150),
	})
	require.NoError(t, long.Notify(context.Background(), observability.LogEntry{Level: "error"}))
	require.Len(t, client.Calls[1].Subject, 100)
}

func TestSNSNotifier_RequiresTopic(t *testing.T) {
	t.Parallel()

	notifier := NewSNSNotifier(testkit.NewFakeSNSClient(), "  ", SNSNotifierOptions{})
	require.Error(t, notifier.Notify(context.Background(), observability.LogEntry{}))
}

func TestWithEnvironmentErrorNotifications_NoTopicIsNoOp(t *testing.T) {
	for _, key := range DefaultEnvironmentErrorNotifications().TopicARNEnvVars {
		t.Setenv(key, "")
	}

	opts := &loggerOptions{}
	WithEnvironmentErrorNotifications(context.Background(), DefaultEnvironmentErrorNotifications())(opts)

	require.NoError(t, opts.initErr)
	require.Nil(t, opts.notifier)
}

func TestFirstEnvValue(t *testing.T) {
	t.Setenv("PIPETHEORY_TEST_PRIMARY", "")
	t.Setenv("PIPETHEORY_TEST_FALLBACK", "fallback-value")

	require.Equal(t, "fallback-value", firstEnvValue("PIPETHEORY_TEST_PRIMARY", "PIPETHEORY_TEST_FALLBACK"))

	t.Setenv("PIPETHEORY_TEST_PRIMARY", "primary-value")
	require.Equal(t, "primary-value", firstEnvValue("PIPETHEORY_TEST_PRIMARY", "PIPETHEORY_TEST_FALLBACK"))

	require.Equal(t, "", firstEnvValue("", "  ", "PIPETHEORY_TEST_UNSET_VAR"))
}
