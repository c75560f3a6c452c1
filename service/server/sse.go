package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	natspkg "github.com/brojonat/memofeed/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// SSEPublisher relays memo events from JetStream to Server-Sent Events clients.
type SSEPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSSEPublisher connects to NATS for streaming memo events.
func NewSSEPublisher(natsURL string, logger *slog.Logger) (*SSEPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("memofeed-sse"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("SSE publisher initialized", "nats_url", natsURL)
	return &SSEPublisher{nc: nc, js: js, logger: logger}, nil
}

// Close closes the NATS connection.
func (p *SSEPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

// streamSubject is the subject filter for an SSE client: one account, or
// every account when address is empty.
func streamSubject(address string) string {
	if address == "" {
		return natspkg.StreamSubjects
	}
	return natspkg.SubjectPrefix + address
}

// writeSSE writes one event and flushes it to the client.
func writeSSE(w http.ResponseWriter, event string, data []byte) {
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// handleStreamMemos streams new memo events over SSE.
// GET /api/v1/stream/memos/{address} or GET /api/v1/stream/memos for all accounts.
func handleStreamMemos(publisher *SSEPublisher, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if address != "" {
			if _, err := validateAddress(address); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		// Ephemeral consumer, deleted when the connection closes
		cons, err := publisher.js.CreateOrUpdateConsumer(r.Context(), natspkg.StreamName, jetstream.ConsumerConfig{
			FilterSubject: streamSubject(address),
			AckPolicy:     jetstream.AckExplicitPolicy,
			DeliverPolicy: jetstream.DeliverNewPolicy,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to create consumer", "account", address, "error", err)
			writeSSE(w, "error", []byte(`{"error":"failed to subscribe"}`))
			return
		}

		msgChan := make(chan jetstream.Msg, 10)
		cc, err := cons.Consume(func(msg jetstream.Msg) {
			select {
			case msgChan <- msg:
			case <-r.Context().Done():
			}
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to start consuming messages", "error", err)
			writeSSE(w, "error", []byte(`{"error":"failed to subscribe"}`))
			return
		}
		defer cc.Stop()

		connected, _ := json.Marshal(map[string]string{"account": address})
		writeSSE(w, "connected", connected)
		logger.DebugContext(r.Context(), "SSE client connected", "account", address, "remote_addr", r.RemoteAddr)

		keepalive := time.NewTicker(10 * time.Second)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				if flusher, ok := w.(http.Flusher); ok {
					flusher.Flush()
				}

			case msg := <-msgChan:
				var event natspkg.MemoEvent
				if err := json.Unmarshal(msg.Data(), &event); err != nil {
					logger.WarnContext(r.Context(), "failed to unmarshal event", "error", err)
					msg.Ack()
					continue
				}
				data, _ := json.Marshal(event)
				writeSSE(w, "memo", data)
				msg.Ack()

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected", "account", address)
				return
			}
		}
	})
}
