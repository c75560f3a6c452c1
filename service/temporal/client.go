package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// CreateArchiveSchedule creates a schedule that runs ArchiveMemosWorkflow for an account.
func (c *Client) CreateArchiveSchedule(ctx context.Context, account, network string, interval time.Duration) error {
	id := scheduleID(account, network)

	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: id,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        fmt.Sprintf("archive-memos-%s-%s", network, account),
			Workflow:  ArchiveMemosWorkflowName,
			TaskQueue: c.taskQueue,
			Args:      []interface{}{ArchiveMemosInput{Account: account, Network: network}},
		},
		Memo: map[string]interface{}{
			"account":    account,
			"network":    network,
			"created_by": "memofeed",
		},
	})
	if err != nil {
		c.logger.Error("failed to create schedule",
			"account", account,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", id, err)
	}

	c.logger.Info("archive schedule created",
		"account", account,
		"network", network,
		"schedule_id", id,
		"interval", interval,
	)
	return nil
}

// UpsertArchiveSchedule creates the archive schedule for an account, or
// changes its interval when it already exists.
func (c *Client) UpsertArchiveSchedule(ctx context.Context, account, network string, interval time.Duration) error {
	id := scheduleID(account, network)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if _, err := handle.Describe(ctx); err != nil {
		c.logger.Debug("schedule not found, creating new one",
			"schedule_id", id,
			"error", err,
		)
		return c.CreateArchiveSchedule(ctx, account, network, interval)
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule",
			"account", account,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to update schedule %q: %w", id, err)
	}

	c.logger.Info("archive schedule updated",
		"account", account,
		"network", network,
		"schedule_id", id,
		"interval", interval,
	)
	return nil
}

// DeleteArchiveSchedule deletes the archive schedule for an account.
func (c *Client) DeleteArchiveSchedule(ctx context.Context, account, network string) error {
	id := scheduleID(account, network)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule",
			"account", account,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}

	c.logger.Info("archive schedule deleted", "account", account, "network", network, "schedule_id", id)
	return nil
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
