package testkit

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
)

type SQSEventOptions struct {
	QueueARN string
	Records  []SQSRecordOptions
}

type SQSRecordOptions struct {
	MessageID    string
	Body         string
	ReceiveCount int
	SentAt       time.Time
}

// SQSEvent builds a Lambda SQS event with broker attributes filled in.
func SQSEvent(opts SQSEventOptions) events.SQSEvent {
	queueARN := strings.TrimSpace(opts.QueueARN)
	if queueARN == "" {
		queueARN = "arn:aws:sqs:us-east-1:000000000000:transactions"
	}

	out := events.SQSEvent{Records: make([]events.SQSMessage, 0, len(opts.Records))}
	for _, rec := range opts.Records {
		id := strings.TrimSpace(rec.MessageID)
		if id == "" {
			id = fmt.Sprintf("msg-%d", len(out.Records)+1)
		}
		receiveCount := rec.ReceiveCount
		if receiveCount < 1 {
			receiveCount = 1
		}

		attributes := map[string]string{
			"ApproximateReceiveCount": strconv.Itoa(receiveCount),
		}
		if !rec.SentAt.IsZero() {
			attributes["SentTimestamp"] = strconv.FormatInt(rec.SentAt.UnixMilli(), 10)
		}

		out.Records = append(out.Records, events.SQSMessage{
			MessageId:      id,
			Body:           rec.Body,
			EventSource:    "aws:sqs",
			EventSourceARN: queueARN,
			Attributes:     attributes,
		})
	}
	return out
}
