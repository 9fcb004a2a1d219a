package observability

import (
	"context"
	"time"
)

type SanitizerFunc func(key string, value any) any

// ErrorNotifier receives error-level entries for out-of-band delivery
// (the pipeline wires this to the general alerts topic).
type ErrorNotifier interface {
	Notify(ctx context.Context, entry LogEntry) error
}

// LogEntry represents a structured log entry.
//
// This type is intentionally small and stable so implementations can adapt it to their backend.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`

	BatchID       string `json:"batch_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// StructuredLogger is the logging surface used across the pipeline.
//
// It mirrors a message + map-fields API shape while allowing implementations
// to provide stronger guarantees (sanitization, notification, lifecycle).
type StructuredLogger interface {
	Debug(message string, fields ...map[string]any)
	Info(message string, fields ...map[string]any)
	Warn(message string, fields ...map[string]any)
	Error(message string, fields ...map[string]any)

	WithField(key string, value any) StructuredLogger
	WithFields(fields map[string]any) StructuredLogger

	WithBatchID(batchID string) StructuredLogger
	WithTransactionID(transactionID string) StructuredLogger

	Flush(ctx context.Context) error
	Close() error
	IsHealthy() bool
}

// LoggerConfig configures logger implementations.
type LoggerConfig struct {
	Format       string        `json:"format"`
	Level        string        `json:"level"`
	RetryDelay   time.Duration `json:"retry_delay"`
	BufferSize   int           `json:"buffer_size"`
	MaxRetries   int           `json:"max_retries"`
	EnableStack  bool          `json:"enable_stack"`
	EnableCaller bool          `json:"enable_caller"`
}
