// Package store persists validated transactions in DynamoDB through
// TableTheory, with idempotent writes keyed by transaction ID.
package store

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	tablecore "github.com/theory-cloud/tabletheory/pkg/core"
	tableerrors "github.com/theory-cloud/tabletheory/pkg/errors"

	"github.com/theory-cloud/pipetheory"
	"github.com/theory-cloud/pipetheory/pkg/observability"
	"github.com/theory-cloud/pipetheory/pkg/transaction"
)

// TransientError marks a persistence failure as retryable via redelivery.
//
// Every store failure other than a duplicate-key condition is transient:
// throttling and connectivity problems resolve on retry, and the
// conditional put makes the retried write a safe no-op.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("store: transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Order is the DynamoDB representation of a persisted transaction.
type Order struct {
	_ struct{} `theorydb:"naming:snake_case"`

	TransactionID string    `theorydb:"pk" json:"transaction_id"`
	CustomerID    string    `json:"customer_id"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency,omitempty" theorydb:"omitempty"`
	Payload       string    `json:"payload,omitempty" theorydb:"omitempty"`
	CreatedAt     time.Time `json:"created_at" theorydb:"created_at"`
}

const defaultOrdersTableName = "orders"

var (
	ordersTableNameMu       sync.RWMutex
	ordersTableNameOverride string
)

func (Order) TableName() string {
	if tableName := getOrdersTableNameOverride(); tableName != "" {
		return tableName
	}

	if name := os.Getenv("TABLE_NAME"); name != "" {
		return name
	}
	if name := os.Getenv("ORDERS_TABLE_NAME"); name != "" {
		return name
	}

	return defaultOrdersTableName
}

func setOrdersTableNameOverride(tableName string) error {
	if tableName == "" {
		return nil
	}

	ordersTableNameMu.Lock()
	defer ordersTableNameMu.Unlock()

	if ordersTableNameOverride != "" && ordersTableNameOverride != tableName {
		return fmt.Errorf("orders table name already set to %q (cannot change to %q)", ordersTableNameOverride, tableName)
	}
	ordersTableNameOverride = tableName
	return nil
}

func getOrdersTableNameOverride() string {
	ordersTableNameMu.RLock()
	defer ordersTableNameMu.RUnlock()
	return ordersTableNameOverride
}

// WriterConfig configures a Writer.
type WriterConfig struct {
	// TableName overrides Order.TableName() for the process lifetime.
	// TableTheory caches model metadata, so table names must be stable.
	TableName string

	Clock  pipetheory.Clock
	Logger observability.StructuredLogger
}

// Writer persists transactions with put-if-absent semantics.
type Writer struct {
	db    tablecore.DB
	clock pipetheory.Clock
	log   observability.StructuredLogger
}

// NewWriter creates a DynamoDB-backed writer using TableTheory.
func NewWriter(db tablecore.DB, config WriterConfig) *Writer {
	if config.TableName != "" {
		if err := setOrdersTableNameOverride(config.TableName); err != nil {
			panic(fmt.Sprintf("failed to set orders table name override: %v", err))
		}
	}
	clock := config.Clock
	if clock == nil {
		clock = pipetheory.RealClock{}
	}
	log := config.Logger
	if log == nil {
		log = observability.NewNoOpLogger()
	}
	return &Writer{db: db, clock: clock, log: log}
}

// Put stores a transaction. Writing the same transaction ID twice yields
// the same stored state as writing it once: the conditional create fails
// closed on the key and the duplicate is treated as success.
func (w *Writer) Put(ctx context.Context, txn transaction.Transaction) error {
	if ctx == nil {
		ctx = context.Background()
	}

	order := &Order{
		TransactionID: txn.ID,
		CustomerID:    txn.CustomerID,
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		Payload:       string(txn.Raw),
		CreatedAt:     w.clock.Now().UTC(),
	}

	err := w.db.Model(order).WithContext(ctx).IfNotExists().Create()
	if err == nil {
		w.log.Debug("order stored", map[string]any{
			"transaction_id": txn.ID,
			"customer_id":    txn.CustomerID,
		})
		return nil
	}

	if tableerrors.IsConditionFailed(err) {
		// Duplicate delivery after a failed delete; the first write won.
		w.log.Info("duplicate transaction ignored", map[string]any{
			"transaction_id": txn.ID,
		})
		return nil
	}

	return &TransientError{Err: err}
}

// IsThrottle reports whether an error looks like DynamoDB capacity
// throttling. TableTheory wraps AWS SDK errors, so string matching is the
// most portable check across SDK versions.
func IsThrottle(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()
	for _, needle := range []string{
		"ProvisionedThroughputExceededException",
		"ThrottlingException",
		"RequestLimitExceeded",
		"RequestThrottled",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
