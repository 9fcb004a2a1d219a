// Package transaction defines the pipeline's unit of work and its
// promotion from a raw queue payload to a validated Transaction.
package transaction

import (
	"encoding/json"
	"fmt"
)

// Transaction is the validated unit of work.
//
// ID is globally unique for the pipeline's lifetime and doubles as the
// idempotency key: the store treats duplicate IDs as no-ops, never errors.
type Transaction struct {
	ID         string
	CustomerID string
	Amount     float64
	Currency   string

	// Raw is the payload as received, kept for alert previews and storage.
	Raw json.RawMessage
}

// RejectionError is a terminal validation failure.
//
// Terminal means retrying cannot help: the message is consumed and
// converted into an invalid-transaction alert instead of being redelivered.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("transaction rejected: %s", e.Reason)
}

func reject(reason string) error {
	return &RejectionError{Reason: reason}
}
