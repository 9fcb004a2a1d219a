// Package metrics emits per-batch counters in CloudWatch embedded metric
// format (EMF). The pipeline produces the raw signals; alarm evaluation
// lives outside the core, on the consolidated health alarm.
package metrics

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/theory-cloud/pipetheory"
)

// BatchStats are the per-batch outcome counters.
type BatchStats struct {
	Processed int
	Large     int
	Invalid   int
	Skipped   int
	Failed    int
}

// EmitterConfig configures an Emitter.
type EmitterConfig struct {
	Namespace    string
	FunctionName string

	// Out defaults to os.Stdout; the Lambda runtime forwards stdout to
	// CloudWatch Logs where the EMF extractor picks the blob up.
	Out   io.Writer
	Clock pipetheory.Clock
}

// Emitter writes one EMF JSON line per processed batch.
type Emitter struct {
	namespace    string
	functionName string
	out          io.Writer
	clock        pipetheory.Clock

	mu sync.Mutex
}

func NewEmitter(config EmitterConfig) *Emitter {
	namespace := config.Namespace
	if namespace == "" {
		namespace = "Pipetheory/TransactionPipeline"
	}
	functionName := config.FunctionName
	if functionName == "" {
		functionName = os.Getenv("AWS_LAMBDA_FUNCTION_NAME")
	}
	if functionName == "" {
		functionName = "unknown"
	}
	out := config.Out
	if out == nil {
		out = os.Stdout
	}
	clock := config.Clock
	if clock == nil {
		clock = pipetheory.RealClock{}
	}
	return &Emitter{
		namespace:    namespace,
		functionName: functionName,
		out:          out,
		clock:        clock,
	}
}

type metricDefinition struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

type metricDirective struct {
	Namespace  string             `json:"Namespace"`
	Dimensions [][]string         `json:"Dimensions"`
	Metrics    []metricDefinition `json:"Metrics"`
}

type emfMetadata struct {
	Timestamp         int64             `json:"Timestamp"`
	CloudWatchMetrics []metricDirective `json:"CloudWatchMetrics"`
}

// EmitBatch writes the counters for one batch. Failures to emit are
// returned so the caller can log them; they never affect batch outcomes.
func (e *Emitter) EmitBatch(stats BatchStats) error {
	if e == nil || e.out == nil {
		return nil
	}

	blob := map[string]any{
		"_aws": emfMetadata{
			Timestamp: e.clock.Now().UnixMilli(),
			CloudWatchMetrics: []metricDirective{{
				Namespace:  e.namespace,
				Dimensions: [][]string{{"FunctionName"}},
				Metrics: []metricDefinition{
					{Name: "Processed", Unit: "Count"},
					{Name: "Large", Unit: "Count"},
					{Name: "Invalid", Unit: "Count"},
					{Name: "Skipped", Unit: "Count"},
					{Name: "Failed", Unit: "Count"},
				},
			}},
		},
		"FunctionName": e.functionName,
		"Processed":    stats.Processed,
		"Large":        stats.Large,
		"Invalid":      stats.Invalid,
		"Skipped":      stats.Skipped,
		"Failed":       stats.Failed,
	}

	line, err := json.Marshal(blob)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.out.Write(line)
	return err
}
