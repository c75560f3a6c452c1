package temporal

import (
	"fmt"
	"log/slog"

	"github.com/brojonat/memofeed/service/metrics"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// WorkerConfig contains configuration for the Temporal worker.
type WorkerConfig struct {
	// Temporal connection settings
	TemporalHost      string
	TemporalNamespace string
	TaskQueue         string

	// Network is the only cluster this worker archives.
	Network string

	// Dependencies
	Store     StoreInterface
	Assembler FeedAssembler
	Publisher PublisherInterface // Optional
	Metrics   *metrics.Metrics   // Optional: if nil, no metrics will be recorded
	Logger    *slog.Logger
}

// Worker wraps a Temporal worker and provides lifecycle management.
type Worker struct {
	client client.Client
	worker worker.Worker
	logger *slog.Logger
}

// NewWorker creates and configures a new Temporal worker.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	logger := config.Logger.With("component", "temporal_worker")

	logger.Info("creating temporal worker",
		"host", config.TemporalHost,
		"namespace", config.TemporalNamespace,
		"task_queue", config.TaskQueue,
		"network", config.Network,
	)

	c, err := client.Dial(client.Options{
		HostPort:  config.TemporalHost,
		Namespace: config.TemporalNamespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}

	w := worker.New(c, config.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     10,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})

	w.RegisterWorkflow(ArchiveMemosWorkflow)

	activities := NewActivities(
		config.Store,
		config.Assembler,
		config.Publisher,
		config.Network,
		config.Metrics,
		logger,
	)

	// Activities are registered by name, matching the ExecuteActivity calls in the workflow
	w.RegisterActivity(activities.AssembleFeed)
	w.RegisterActivity(activities.WriteMemos)
	w.RegisterActivity(activities.PublishMemos)

	logger.Info("registered workflow and activities",
		"workflow", ArchiveMemosWorkflowName,
		"activities", []string{"AssembleFeed", "WriteMemos", "PublishMemos"},
	)

	return &Worker{client: c, worker: w, logger: logger}, nil
}

// Start begins processing workflows and activities.
// This method blocks until Stop is called or an interrupt is received.
func (w *Worker) Start() error {
	w.logger.Info("starting temporal worker")
	if err := w.worker.Run(worker.InterruptCh()); err != nil {
		w.logger.Error("worker stopped with error", "error", err)
		return fmt.Errorf("worker stopped with error: %w", err)
	}
	w.logger.Info("worker stopped gracefully")
	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.worker.Stop()
	w.client.Close()
	w.logger.Info("temporal worker stopped")
}
