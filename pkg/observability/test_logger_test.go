package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTestLogger_RecordsEntries(t *testing.T) {
	t.Parallel()

	log := NewTestLogger()
	log.Info("first", map[string]any{"a": 1})
	log.Warn("second")

	entries := log.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, "info", entries[0].Level)
	require.Equal(t, "first", entries[0].Message)
	require.Equal(t, 1, entries[0].Fields["a"])

	require.Len(t, log.EntriesAt("warn"), 1)
	require.Empty(t, log.EntriesAt("error"))
}

func TestTestLogger_DerivedLoggersShareCore(t *testing.T) {
	t.Parallel()

	log := NewTestLogger()
	derived := log.WithField("component", "store").WithBatchID("b1").WithTransactionID("tx-1")
	derived.Error("boom", map[string]any{"code": 500})

	entries := log.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "store", entries[0].Fields["component"])
	require.Equal(t, 500, entries[0].Fields["code"])
	require.Equal(t, "b1", entries[0].BatchID)
	require.Equal(t, "tx-1", entries[0].TransactionID)

	// The parent keeps its own context.
	log.Info("plain")
	require.Empty(t, log.Entries()[1].BatchID)
}

func TestTestLogger_SanitizesFields(t *testing.T) {
	t.Parallel()

	log := NewTestLogger()
	log.Info("msg\r\n", map[string]any{"password": "hunter2"})

	entries := log.Entries()
	require.Equal(t, "msg", entries[0].Message)
	require.Equal(t, "[REDACTED]", entries[0].Fields["password"])
}

func TestTestLogger_ClosedLoggerDropsEntries(t *testing.T) {
	t.Parallel()

	log := NewTestLogger()
	require.True(t, log.IsHealthy())
	require.NoError(t, log.Flush(context.Background()))
	require.NoError(t, log.Close())
	require.False(t, log.IsHealthy())

	log.Info("after close")
	require.Empty(t, log.Entries())
}
