package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu              sync.RWMutex
	publishedEvents []*MemoEvent
	publishError    error
	closed          bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		publishedEvents: make([]*MemoEvent, 0),
	}
}

// PublishMemo records the event and returns any configured error.
func (m *MockPublisher) PublishMemo(ctx context.Context, event *MemoEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.publishedEvents = append(m.publishedEvents, event)
	return nil
}

// PublishMemoBatch records the events and returns any configured error.
func (m *MockPublisher) PublishMemoBatch(ctx context.Context, events []*MemoEvent) ([]*MemoEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return nil, m.publishError
	}

	m.publishedEvents = append(m.publishedEvents, events...)
	return events, nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns a copy of all published events.
func (m *MockPublisher) GetPublishedEvents() []*MemoEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*MemoEvent, len(m.publishedEvents))
	copy(events, m.publishedEvents)
	return events
}

// GetPublishedEventsForAccount returns events published for a specific account.
func (m *MockPublisher) GetPublishedEventsForAccount(account string) []*MemoEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*MemoEvent, 0)
	for _, event := range m.publishedEvents {
		if event.Account == account {
			events = append(events, event)
		}
	}
	return events
}

// SetPublishError configures the mock to fail every publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
