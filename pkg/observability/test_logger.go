package observability

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type testLoggerCore struct {
	mu      sync.Mutex
	entries []LogEntry
}

// TestLogger is an in-memory logger implementation for deterministic unit tests.
//
// Derived loggers (via With* calls) share the same underlying core.
type TestLogger struct {
	core *testLoggerCore

	fields   map[string]any
	sanitize SanitizerFunc

	batchID       string
	transactionID string

	closed atomic.Bool
}

var _ StructuredLogger = (*TestLogger)(nil)

func NewTestLogger() *TestLogger {
	return &TestLogger{
		core:     &testLoggerCore{},
		fields:   map[string]any{},
		sanitize: SanitizeFieldValue,
	}
}

func (l *TestLogger) Entries() []LogEntry {
	if l == nil || l.core == nil {
		return nil
	}
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	out := make([]LogEntry, len(l.core.entries))
	copy(out, l.core.entries)
	return out
}

// EntriesAt returns the recorded entries for one level.
func (l *TestLogger) EntriesAt(level string) []LogEntry {
	var out []LogEntry
	for _, entry := range l.Entries() {
		if entry.Level == level {
			out = append(out, entry)
		}
	}
	return out
}

func (l *TestLogger) Debug(message string, fields ...map[string]any) {
	l.log("debug", message, fields...)
}
func (l *TestLogger) Info(message string, fields ...map[string]any) {
	l.log("info", message, fields...)
}
func (l *TestLogger) Warn(message string, fields ...map[string]any) {
	l.log("warn", message, fields...)
}
func (l *TestLogger) Error(message string, fields ...map[string]any) {
	l.log("error", message, fields...)
}

func (l *TestLogger) WithField(key string, value any) StructuredLogger {
	return l.WithFields(map[string]any{key: value})
}

func (l *TestLogger) WithFields(fields map[string]any) StructuredLogger {
	next := l.clone()
	for k, v := range fields {
		next.fields[k] = v
	}
	return next
}

func (l *TestLogger) WithBatchID(batchID string) StructuredLogger {
	next := l.clone()
	next.batchID = batchID
	return next
}

func (l *TestLogger) WithTransactionID(transactionID string) StructuredLogger {
	next := l.clone()
	next.transactionID = transactionID
	return next
}

func (l *TestLogger) Flush(_ context.Context) error { return nil }

func (l *TestLogger) Close() error {
	if l != nil {
		l.closed.Store(true)
	}
	return nil
}

func (l *TestLogger) IsHealthy() bool {
	return l != nil && !l.closed.Load()
}

func (l *TestLogger) clone() *TestLogger {
	if l == nil {
		return NewTestLogger()
	}
	nextFields := make(map[string]any, len(l.fields))
	for k, v := range l.fields {
		nextFields[k] = v
	}
	return &TestLogger{
		core:          l.core,
		fields:        nextFields,
		sanitize:      l.sanitize,
		batchID:       l.batchID,
		transactionID: l.transactionID,
	}
}

func (l *TestLogger) log(level, message string, fieldSets ...map[string]any) {
	if l == nil || l.core == nil || l.closed.Load() {
		return
	}

	fields := make(map[string]any, len(l.fields))
	for k, v := range l.fields {
		fields[k] = l.sanitizeField(k, v)
	}
	for _, set := range fieldSets {
		for k, v := range set {
			fields[k] = l.sanitizeField(k, v)
		}
	}

	entry := LogEntry{
		Timestamp:     time.Now(),
		Level:         level,
		Message:       SanitizeLogString(message),
		Fields:        fields,
		BatchID:       l.batchID,
		TransactionID: l.transactionID,
	}

	l.core.mu.Lock()
	l.core.entries = append(l.core.entries, entry)
	l.core.mu.Unlock()
}

func (l *TestLogger) sanitizeField(key string, value any) any {
	if l.sanitize != nil {
		return l.sanitize(key, value)
	}
	return SanitizeFieldValue(key, value)
}
