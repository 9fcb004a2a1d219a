// Package alert evaluates business predicates and publishes the matching
// notification: large orders and invalid transactions each have their own
// topic, with an optional general topic as fallback.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/theory-cloud/pipetheory/pkg/observability"
)

// Kind identifies the business predicate behind an alert.
type Kind string

const (
	KindLargeOrder         Kind = "large_order"
	KindInvalidTransaction Kind = "invalid_transaction"
)

// Event is a single alert to publish.
//
// LargeOrder events are only ever emitted after the transaction persisted;
// InvalidTransaction events are emitted instead of persistence, carrying
// the rejection reason and a bounded payload preview.
type Event struct {
	Kind Kind

	TransactionID string
	CustomerID    string
	Amount        float64
	Threshold     float64

	Reason         string
	PayloadPreview string

	At time.Time
}

type snsAPI interface {
	Publish(
		ctx context.Context,
		params *sns.PublishInput,
		optFns ...func(*sns.Options),
	) (*sns.PublishOutput, error)
}

// Topics holds the destination topic ARNs. A kind without a specific topic
// falls back to General; a kind resolving to no topic at all is skipped
// with a warning rather than failed, matching a deliberately unconfigured
// channel.
type Topics struct {
	LargeOrder         string
	InvalidTransaction string
	General            string
}

func (t Topics) topicFor(kind Kind) string {
	var arn string
	switch kind {
	case KindLargeOrder:
		arn = t.LargeOrder
	case KindInvalidTransaction:
		arn = t.InvalidTransaction
	}
	if strings.TrimSpace(arn) == "" {
		arn = t.General
	}
	return strings.TrimSpace(arn)
}

// RouterConfig configures a Router.
type RouterConfig struct {
	Topics Topics
	Logger observability.StructuredLogger
}

// Router publishes alert events to SNS. Publish failures are transient:
// the caller marks the enclosing message Failed and relies on redelivery
// plus the store's idempotence to retry the full per-message pipeline.
type Router struct {
	client snsAPI
	topics Topics
	log    observability.StructuredLogger
}

func NewRouter(client snsAPI, config RouterConfig) *Router {
	log := config.Logger
	if log == nil {
		log = observability.NewNoOpLogger()
	}
	return &Router{client: client, topics: config.Topics, log: log}
}

// Publish sends one alert event to its topic.
func (r *Router) Publish(ctx context.Context, event Event) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("alert: router is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	topicARN := r.topics.topicFor(event.Kind)
	if topicARN == "" {
		r.log.Warn("alert topic not configured", map[string]any{
			"kind": string(event.Kind),
		})
		return nil
	}

	subject, body, err := render(event)
	if err != nil {
		return fmt.Errorf("alert: render %s: %w", event.Kind, err)
	}

	_, err = r.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("alert: publish %s: %w", event.Kind, err)
	}

	r.log.Info("alert published", map[string]any{
		"kind":           string(event.Kind),
		"transaction_id": event.TransactionID,
	})
	return nil
}

func render(event Event) (subject string, body string, err error) {
	var payload map[string]any

	switch event.Kind {
	case KindLargeOrder:
		subject = "Large Order Detected"
		payload = map[string]any{
			"transaction_id": event.TransactionID,
			"customer_id":    event.CustomerID,
			"amount":         formatAmount(event.Amount),
			"threshold":      formatAmount(event.Threshold),
			"ts":             event.At.UTC().Format(time.RFC3339),
		}
	case KindInvalidTransaction:
		subject = "Invalid Transaction"
		payload = map[string]any{
			"reason":          event.Reason,
			"payload_preview": event.PayloadPreview,
			"ts":              event.At.UTC().Format(time.RFC3339),
		}
		if event.TransactionID != "" {
			payload["transaction_id"] = event.TransactionID
		}
	default:
		return "", "", fmt.Errorf("unknown alert kind %q", event.Kind)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}
	return subject, string(raw), nil
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Preview bounds a raw payload for inclusion in an alert body.
func Preview(raw []byte) string {
	s := observability.SanitizeLogString(string(raw))
	if len(s) > 500 {
		s = s[:500]
	}
	return s
}
