package testkit

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

type SNSPublishCall struct {
	TopicARN string
	Subject  string
	Message  string
}

// FakeSNSClient records publish calls and can be scripted to fail, either
// globally or per topic, to exercise the transient alert-publish path.
type FakeSNSClient struct {
	mu sync.Mutex

	Calls []SNSPublishCall

	PublishErr      error
	PublishErrTopic map[string]error

	// FailuresRemaining > 0 fails that many publishes before succeeding,
	// simulating a channel that recovers across redeliveries.
	FailuresRemaining int

	nextID int
}

func NewFakeSNSClient() *FakeSNSClient {
	return &FakeSNSClient{nextID: 1}
}

func (f *FakeSNSClient) Publish(
	_ context.Context,
	params *sns.PublishInput,
	_ ...func(*sns.Options),
) (*sns.PublishOutput, error) {
	if f == nil {
		return nil, errors.New("testkit: sns client is nil")
	}
	if params == nil {
		return nil, errors.New("testkit: publish input is nil")
	}

	topicARN := strings.TrimSpace(aws.ToString(params.TopicArn))
	if topicARN == "" {
		return nil, errors.New("testkit: topic arn is empty")
	}

	f.mu.Lock()
	f.Calls = append(f.Calls, SNSPublishCall{
		TopicARN: topicARN,
		Subject:  aws.ToString(params.Subject),
		Message:  aws.ToString(params.Message),
	})
	err := f.PublishErr
	if err == nil && f.PublishErrTopic != nil {
		err = f.PublishErrTopic[topicARN]
	}
	if err == nil && f.FailuresRemaining > 0 {
		f.FailuresRemaining--
		err = errors.New("testkit: scripted publish failure")
	}
	id := f.nextID
	f.nextID++
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}

	return &sns.PublishOutput{
		MessageId: aws.String("msg-" + strconv.Itoa(id)),
	}, nil
}

// CallsTo returns the recorded calls for one topic.
func (f *FakeSNSClient) CallsTo(topicARN string) []SNSPublishCall {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []SNSPublishCall
	for _, call := range f.Calls {
		if call.TopicARN == topicARN {
			out = append(out, call)
		}
	}
	return out
}
