package pipetheory

import (
	"context"
	"time"
)

// Envelope is a broker-delivered wrapper around a transaction payload.
//
// ReceiveCount is owned by the broker and increases on every redelivery;
// processors only ever read it. ReceiptHandle is opaque and is what the
// queue client needs to delete the message or extend its visibility.
type Envelope struct {
	MessageID     string
	ReceiptHandle string
	Body          []byte
	ReceiveCount  int
	SentAt        time.Time
}

// Outcome is the terminal processing state of one envelope within a batch.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// ItemResult pairs an envelope with its outcome. Err is set only for
// failed items and carries the transient cause for logging.
type ItemResult struct {
	Envelope Envelope
	Outcome  Outcome
	Err      error
}

// Result is the aggregate of per-message outcomes for one receive cycle.
//
// A failed item never prevents succeeded siblings from being deleted;
// callers delete (or omit from the partial batch failure response) the
// succeeded subset and leave the failed subset to the broker's redrive.
type Result struct {
	Items []ItemResult
}

// Succeeded returns the envelopes that must be deleted from the queue.
func (r Result) Succeeded() []Envelope {
	out := make([]Envelope, 0, len(r.Items))
	for _, item := range r.Items {
		if item.Outcome == OutcomeSucceeded {
			out = append(out, item.Envelope)
		}
	}
	return out
}

// Failed returns the envelopes that must remain on the queue.
func (r Result) Failed() []Envelope {
	out := make([]Envelope, 0, len(r.Items))
	for _, item := range r.Items {
		if item.Outcome != OutcomeSucceeded {
			out = append(out, item.Envelope)
		}
	}
	return out
}

// Processor handles one received batch and reports per-message outcomes.
//
// Implementations must keep per-message failures isolated: an error while
// processing one envelope may not abort its siblings.
type Processor interface {
	ProcessBatch(ctx context.Context, batch []Envelope) Result
}
