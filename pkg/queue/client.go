// Package queue wraps the durable queue's receive, delete, and
// extend-visibility operations and drives the non-Lambda consumer loop.
package queue

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/theory-cloud/pipetheory"
)

// Broker-enforced ceilings for one receive call.
const (
	MaxBatchSize = 10
	MaxWaitTime  = 20 * time.Second
)

type sqsAPI interface {
	ReceiveMessage(
		ctx context.Context,
		params *sqs.ReceiveMessageInput,
		optFns ...func(*sqs.Options),
	) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(
		ctx context.Context,
		params *sqs.DeleteMessageInput,
		optFns ...func(*sqs.Options),
	) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(
		ctx context.Context,
		params *sqs.ChangeMessageVisibilityInput,
		optFns ...func(*sqs.Options),
	) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Client is a stateless wrapper over one queue URL.
type Client struct {
	api      sqsAPI
	queueURL string
}

func NewClient(api sqsAPI, queueURL string) *Client {
	return &Client{api: api, queueURL: strings.TrimSpace(queueURL)}
}

// Receive long-polls for up to max messages, waiting at most wait.
//
// Receive counts and sent timestamps are requested so processors can
// observe redeliveries; both are broker-owned and read-only here.
func (c *Client) Receive(ctx context.Context, max int, wait time.Duration) ([]pipetheory.Envelope, error) {
	if c == nil || c.api == nil {
		return nil, errors.New("queue: client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if max < 1 {
		max = 1
	}
	if max > MaxBatchSize {
		max = MaxBatchSize
	}
	if wait < 0 {
		wait = 0
	}
	if wait > MaxWaitTime {
		wait = MaxWaitTime
	}

	out, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     int32(wait / time.Second),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
			types.MessageSystemAttributeNameSentTimestamp,
		},
	})
	if err != nil {
		return nil, err
	}

	envelopes := make([]pipetheory.Envelope, 0, len(out.Messages))
	for _, msg := range out.Messages {
		envelopes = append(envelopes, envelopeFromMessage(msg))
	}
	return envelopes, nil
}

// Delete acknowledges a processed message. This is the only path to the
// Succeeded terminal state; an undeleted message always comes back.
func (c *Client) Delete(ctx context.Context, receiptHandle string) error {
	if c == nil || c.api == nil {
		return errors.New("queue: client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(receiptHandle) == "" {
		return errors.New("queue: receipt handle is empty")
	}

	_, err := c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	return err
}

// ExtendVisibility pushes back the redelivery deadline for a message that
// is still being worked on.
func (c *Client) ExtendVisibility(ctx context.Context, receiptHandle string, timeout time.Duration) error {
	if c == nil || c.api == nil {
		return errors.New("queue: client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(receiptHandle) == "" {
		return errors.New("queue: receipt handle is empty")
	}
	if timeout < 0 {
		timeout = 0
	}

	_, err := c.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: int32(timeout / time.Second),
	})
	return err
}

func envelopeFromMessage(msg types.Message) pipetheory.Envelope {
	env := pipetheory.Envelope{
		MessageID:     aws.ToString(msg.MessageId),
		ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		Body:          []byte(aws.ToString(msg.Body)),
		ReceiveCount:  1,
	}
	if raw := msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; raw != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n > 0 {
			env.ReceiveCount = n
		}
	}
	if raw := msg.Attributes[string(types.MessageSystemAttributeNameSentTimestamp)]; raw != "" {
		if ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil && ms > 0 {
			env.SentAt = time.UnixMilli(ms).UTC()
		}
	}
	return env
}
