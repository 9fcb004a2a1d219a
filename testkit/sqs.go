package testkit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type fakeSQSMessage struct {
	messageID     string
	body          string
	sentAt        time.Time
	receiveCount  int
	visibleAt     time.Time
	receiptHandle string
}

// DeadLetter is a message that exceeded the redrive ceiling.
type DeadLetter struct {
	MessageID    string
	Body         string
	ReceiveCount int
}

// FakeSQSQueueOptions configures a FakeSQSQueue.
type FakeSQSQueueOptions struct {
	QueueURL          string
	VisibilityTimeout time.Duration

	// MaxReceiveCount mirrors the redrive policy: a message is delivered
	// while its receive count stays at or below the ceiling and moves to
	// DeadLetters on the next delivery attempt. Zero disables redrive.
	MaxReceiveCount int
}

// FakeSQSQueue is an in-memory queue double with broker semantics the
// pipeline depends on: per-message visibility timeouts driven by a manual
// clock, broker-owned receive counts, and dead-letter escalation.
type FakeSQSQueue struct {
	mu sync.Mutex

	clock *ManualClock

	queueURL          string
	visibilityTimeout time.Duration
	maxReceiveCount   int

	messages    []*fakeSQSMessage
	deadLetters []DeadLetter

	ReceiveErr error
	DeleteErr  error

	nextID int
}

func NewFakeSQSQueue(clock *ManualClock, opts FakeSQSQueueOptions) *FakeSQSQueue {
	queueURL := opts.QueueURL
	if queueURL == "" {
		queueURL = "https://sqs.test.local/000000000000/transactions"
	}
	visibility := opts.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &FakeSQSQueue{
		clock:             clock,
		queueURL:          queueURL,
		visibilityTimeout: visibility,
		maxReceiveCount:   opts.MaxReceiveCount,
		nextID:            1,
	}
}

func (q *FakeSQSQueue) QueueURL() string {
	return q.queueURL
}

// Send enqueues a message body and returns its message ID.
func (q *FakeSQSQueue) Send(body string) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := fmt.Sprintf("msg-%d", q.nextID)
	q.nextID++
	q.messages = append(q.messages, &fakeSQSMessage{
		messageID: id,
		body:      body,
		sentAt:    q.clock.Now(),
		visibleAt: q.clock.Now(),
	})
	return id
}

// DeadLetters returns messages escalated past the redrive ceiling.
func (q *FakeSQSQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, len(q.deadLetters))
	copy(out, q.deadLetters)
	return out
}

// Remaining returns how many messages are still on the queue (visible or not).
func (q *FakeSQSQueue) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

func (q *FakeSQSQueue) ReceiveMessage(
	_ context.Context,
	params *sqs.ReceiveMessageInput,
	_ ...func(*sqs.Options),
) (*sqs.ReceiveMessageOutput, error) {
	if q == nil {
		return nil, errors.New("testkit: sqs queue is nil")
	}
	if params == nil {
		return nil, errors.New("testkit: receive input is nil")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ReceiveErr != nil {
		return nil, q.ReceiveErr
	}

	max := int(params.MaxNumberOfMessages)
	if max < 1 {
		max = 1
	}

	now := q.clock.Now()
	out := &sqs.ReceiveMessageOutput{}
	kept := q.messages[:0]

	for _, msg := range q.messages {
		if len(out.Messages) >= max || now.Before(msg.visibleAt) {
			kept = append(kept, msg)
			continue
		}

		msg.receiveCount++
		if q.maxReceiveCount > 0 && msg.receiveCount > q.maxReceiveCount {
			q.deadLetters = append(q.deadLetters, DeadLetter{
				MessageID:    msg.messageID,
				Body:         msg.body,
				ReceiveCount: msg.receiveCount - 1,
			})
			continue
		}

		msg.visibleAt = now.Add(q.visibilityTimeout)
		msg.receiptHandle = fmt.Sprintf("rh-%s-%d", msg.messageID, msg.receiveCount)
		kept = append(kept, msg)

		out.Messages = append(out.Messages, types.Message{
			MessageId:     aws.String(msg.messageID),
			ReceiptHandle: aws.String(msg.receiptHandle),
			Body:          aws.String(msg.body),
			Attributes: map[string]string{
				string(types.MessageSystemAttributeNameApproximateReceiveCount): strconv.Itoa(msg.receiveCount),
				string(types.MessageSystemAttributeNameSentTimestamp):           strconv.FormatInt(msg.sentAt.UnixMilli(), 10),
			},
		})
	}

	q.messages = kept
	return out, nil
}

func (q *FakeSQSQueue) DeleteMessage(
	_ context.Context,
	params *sqs.DeleteMessageInput,
	_ ...func(*sqs.Options),
) (*sqs.DeleteMessageOutput, error) {
	if q == nil {
		return nil, errors.New("testkit: sqs queue is nil")
	}
	if params == nil {
		return nil, errors.New("testkit: delete input is nil")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.DeleteErr != nil {
		return nil, q.DeleteErr
	}

	handle := aws.ToString(params.ReceiptHandle)
	for i, msg := range q.messages {
		if msg.receiptHandle == handle {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			return &sqs.DeleteMessageOutput{}, nil
		}
	}
	return nil, fmt.Errorf("testkit: receipt handle %q not found", handle)
}

func (q *FakeSQSQueue) ChangeMessageVisibility(
	_ context.Context,
	params *sqs.ChangeMessageVisibilityInput,
	_ ...func(*sqs.Options),
) (*sqs.ChangeMessageVisibilityOutput, error) {
	if q == nil {
		return nil, errors.New("testkit: sqs queue is nil")
	}
	if params == nil {
		return nil, errors.New("testkit: change visibility input is nil")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	handle := aws.ToString(params.ReceiptHandle)
	for _, msg := range q.messages {
		if msg.receiptHandle == handle {
			msg.visibleAt = q.clock.Now().Add(time.Duration(params.VisibilityTimeout) * time.Second)
			return &sqs.ChangeMessageVisibilityOutput{}, nil
		}
	}
	return nil, fmt.Errorf("testkit: receipt handle %q not found", handle)
}
