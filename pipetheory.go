package pipetheory

import (
	"strings"

	"github.com/theory-cloud/pipetheory/pkg/observability"
)

// App is the root container for a pipetheory worker.
//
// It binds queue names to batch processors and adapts broker events
// (Lambda SQS invocations) onto them. The actual per-message semantics
// live in pkg/pipeline; App only owns routing and the broker contract.
type App struct {
	clock Clock
	ids   IDGenerator
	log   observability.StructuredLogger

	queueRoutes []queueRoute
}

type queueRoute struct {
	QueueName string
	Processor Processor
}

type Option func(*App)

// New creates a new application container.
func New(opts ...Option) *App {
	app := &App{
		clock: RealClock{},
		ids:   RandomIDGenerator{},
		log:   observability.NewNoOpLogger(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(app)
	}
	return app
}

func WithClock(clock Clock) Option {
	return func(app *App) {
		if clock == nil {
			app.clock = RealClock{}
			return
		}
		app.clock = clock
	}
}

func WithIDGenerator(ids IDGenerator) Option {
	return func(app *App) {
		if ids == nil {
			app.ids = RandomIDGenerator{}
			return
		}
		app.ids = ids
	}
}

func WithLogger(log observability.StructuredLogger) Option {
	return func(app *App) {
		if log == nil {
			app.log = observability.NewNoOpLogger()
			return
		}
		app.log = log
	}
}

// Queue registers a batch processor for an SQS queue by queue name.
func (a *App) Queue(queueName string, processor Processor) *App {
	if a == nil {
		return a
	}
	queueName = strings.TrimSpace(queueName)
	if queueName == "" || processor == nil {
		return a
	}
	a.queueRoutes = append(a.queueRoutes, queueRoute{QueueName: queueName, Processor: processor})
	return a
}

func (a *App) newBatchID() string {
	if a == nil || a.ids == nil {
		return RandomIDGenerator{}.NewID()
	}
	return a.ids.NewID()
}
