package metrics

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestEmitter_EmitBatch(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	emitter := NewEmitter(EmitterConfig{
		Namespace:    "Pipetheory/Test",
		FunctionName: "processor-test",
		Out:          &out,
		Clock:        fixedClock{now: now},
	})

	require.NoError(t, emitter.EmitBatch(BatchStats{
		Processed: 7,
		Large:     2,
		Invalid:   1,
		Skipped:   1,
		Failed:    3,
	}))

	line := out.Bytes()
	require.True(t, bytes.HasSuffix(line, []byte("\n")))

	var blob map[string]any
	require.NoError(t, json.Unmarshal(line, &blob))

	require.Equal(t, "processor-test", blob["FunctionName"])
	require.Equal(t, 7.0, blob["Processed"])
	require.Equal(t, 2.0, blob["Large"])
	require.Equal(t, 1.0, blob["Invalid"])
	require.Equal(t, 1.0, blob["Skipped"])
	require.Equal(t, 3.0, blob["Failed"])

	meta, ok := blob["_aws"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(now.UnixMilli()), meta["Timestamp"])

	directives, ok := meta["CloudWatchMetrics"].([]any)
	require.True(t, ok)
	require.Len(t, directives, 1)

	directive := directives[0].(map[string]any)
	require.Equal(t, "Pipetheory/Test", directive["Namespace"])
	require.Equal(t, []any{[]any{"FunctionName"}}, directive["Dimensions"])

	names := make([]string, 0)
	for _, m := range directive["Metrics"].([]any) {
		names = append(names, m.(map[string]any)["Name"].(string))
	}
	require.Equal(t, []string{"Processed", "Large", "Invalid", "Skipped", "Failed"}, names)
}

func TestEmitter_OneLinePerBatch(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	emitter := NewEmitter(EmitterConfig{FunctionName: "fn", Out: &out})

	require.NoError(t, emitter.EmitBatch(BatchStats{Processed: 1}))
	require.NoError(t, emitter.EmitBatch(BatchStats{Failed: 1}))

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	for _, line := range lines {
		var blob map[string]any
		require.NoError(t, json.Unmarshal(line, &blob))
	}
}

func TestEmitter_NilIsSafe(t *testing.T) {
	t.Parallel()

	var emitter *Emitter
	require.NoError(t, emitter.EmitBatch(BatchStats{Processed: 1}))
}

func TestNewEmitter_Defaults(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "")

	var out bytes.Buffer
	emitter := NewEmitter(EmitterConfig{Out: &out})
	require.NoError(t, emitter.EmitBatch(BatchStats{}))

	var blob map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &blob))
	require.Equal(t, "unknown", blob["FunctionName"])

	meta := blob["_aws"].(map[string]any)
	directive := meta["CloudWatchMetrics"].([]any)[0].(map[string]any)
	require.Equal(t, "Pipetheory/TransactionPipeline", directive["Namespace"])
}
