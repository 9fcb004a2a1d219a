// Command processor runs the transaction pipeline worker.
//
// Inside Lambda it serves SQS batch invocations with partial batch
// responses; anywhere else it long-polls the queue directly with the same
// dispatcher behind it.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/theory-cloud/tabletheory"
	"github.com/theory-cloud/tabletheory/pkg/session"

	"github.com/theory-cloud/pipetheory"
	"github.com/theory-cloud/pipetheory/pkg/alert"
	"github.com/theory-cloud/pipetheory/pkg/config"
	"github.com/theory-cloud/pipetheory/pkg/metrics"
	obszap "github.com/theory-cloud/pipetheory/pkg/observability/zap"
	"github.com/theory-cloud/pipetheory/pkg/pipeline"
	"github.com/theory-cloud/pipetheory/pkg/queue"
	"github.com/theory-cloud/pipetheory/pkg/store"
	"github.com/theory-cloud/pipetheory/pkg/transaction"
)

func main() {
	ctx := context.Background()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := obszap.NewLogger(
		cfg.LoggerConfig(),
		obszap.WithEnvironmentErrorNotifications(ctx, obszap.DefaultEnvironmentErrorNotifications()),
	)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Close() }()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}

	db, err := tabletheory.NewBasic(session.Config{
		Region:   awsCfg.Region,
		Endpoint: os.Getenv("DDB_ENDPOINT"),
	})
	if err != nil {
		log.Fatalf("init TableTheory: %v", err)
	}

	writer := store.NewWriter(db, store.WriterConfig{
		TableName: cfg.TableName,
		Logger:    logger,
	})

	router := alert.NewRouter(sns.NewFromConfig(awsCfg), alert.RouterConfig{
		Topics: alert.Topics{
			LargeOrder:         cfg.Topics.LargeOrder,
			InvalidTransaction: cfg.Topics.InvalidTransaction,
			General:            cfg.Topics.General,
		},
		Logger: logger,
	})

	dispatcher := pipeline.NewDispatcher(pipeline.DispatcherConfig{
		Validator: transaction.Validator{
			GenerateMissingIDs: cfg.GenerateMissingIDs,
			IDs:                pipetheory.RandomIDGenerator{},
		},
		Writer:              writer,
		Alerts:              router,
		Stats:               metrics.NewEmitter(metrics.EmitterConfig{Namespace: cfg.MetricsNamespace}),
		Logger:              logger,
		LargeOrderThreshold: cfg.LargeOrderThreshold,
		Concurrency:         cfg.Concurrency,
	})

	logger.Info("pipeline configured", map[string]any{
		"stage":      cfg.Stage,
		"queue_name": cfg.QueueName,
		"table_name": cfg.TableName,
		"threshold":  cfg.LargeOrderThreshold,
		"log_level":  cfg.LogLevel,
	})

	if pipetheory.IsLambda() {
		app := pipetheory.New(pipetheory.WithLogger(logger)).Queue(cfg.QueueName, dispatcher)
		lambda.Start(app.LambdaHandler())
		return
	}

	if cfg.QueueURL == "" {
		log.Fatal("QUEUE_URL is required outside Lambda")
	}

	consumer := queue.NewConsumer(
		queue.NewClient(sqs.NewFromConfig(awsCfg), cfg.QueueURL),
		dispatcher,
		queue.ConsumerConfig{
			BatchSize:         cfg.BatchSize,
			WaitTime:          cfg.WaitTime,
			ProcessingTimeout: cfg.ProcessingTimeout,
			Logger:            logger,
		},
	)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := consumer.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}
