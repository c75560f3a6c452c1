package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/memofeed/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing memo events to NATS.
type Publisher interface {
	// PublishMemo publishes a single memo event to the subject "memos.{account}".
	PublishMemo(ctx context.Context, event *MemoEvent) error

	// PublishMemoBatch publishes every event, continuing past failures.
	// It returns the events that were published and the joined failures.
	PublishMemoBatch(ctx context.Context, events []*MemoEvent) ([]*MemoEvent, error)

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes memo events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	logger  *slog.Logger
	metrics *metrics.Metrics
}

const (
	// StreamName is the name of the JetStream stream for memos.
	StreamName = "MEMOS"

	// SubjectPrefix precedes the account address in every event subject.
	SubjectPrefix = "memos."

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = SubjectPrefix + "*"

	// StreamRetention is how long messages are retained (30 days by default).
	StreamRetention = 30 * 24 * time.Hour

	// DuplicateWindow is how long JetStream remembers message IDs. Archive
	// retries that republish within it are dropped server-side.
	DuplicateWindow = 2 * time.Hour
)

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("memofeed-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		logger:  logger,
		metrics: m,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	_, err = p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Memos observed on or submitted to Solana accounts",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Duplicates:  DuplicateWindow,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishMemo publishes a single memo event. The signature and source form
// the message ID, so republishing the same event is deduplicated.
func (p *JetStreamPublisher) PublishMemo(ctx context.Context, event *MemoEvent) error {
	subject := event.Subject()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal memo event: %w", err)
	}

	start := time.Now()
	_, err = p.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.Source+":"+event.Signature))
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordNATSPublish(StreamSubjects, status, metrics.Since(start))
	if err != nil {
		return fmt.Errorf("failed to publish memo: %w", err)
	}

	p.logger.Debug("published memo event",
		"subject", subject,
		"signature", event.Signature,
		"source", event.Source,
	)

	return nil
}

// PublishMemoBatch publishes multiple memo events.
func (p *JetStreamPublisher) PublishMemoBatch(ctx context.Context, events []*MemoEvent) ([]*MemoEvent, error) {
	published := make([]*MemoEvent, 0, len(events))
	var errs []error
	for _, event := range events {
		if err := p.PublishMemo(ctx, event); err != nil {
			p.logger.Error("failed to publish memo in batch",
				"signature", event.Signature,
				"account", event.Account,
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		published = append(published, event)
	}

	p.logger.Debug("published memo batch", "count", len(published), "failed", len(errs))
	return published, errors.Join(errs...)
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
