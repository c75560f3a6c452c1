package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is an in-memory Scheduler for tests.
type MockScheduler struct {
	mu        sync.Mutex
	schedules map[string]time.Duration // map[scheduleID]interval
	upsertErr error
	deleteErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{schedules: make(map[string]time.Duration)}
}

// UpsertArchiveSchedule creates or updates a schedule.
func (m *MockScheduler) UpsertArchiveSchedule(ctx context.Context, account, network string, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.schedules[scheduleID(account, network)] = interval
	return nil
}

// DeleteArchiveSchedule removes a schedule, failing if it does not exist.
func (m *MockScheduler) DeleteArchiveSchedule(ctx context.Context, account, network string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	id := scheduleID(account, network)
	if _, exists := m.schedules[id]; !exists {
		return fmt.Errorf("schedule %q not found", id)
	}
	delete(m.schedules, id)
	return nil
}

// SetUpsertError makes UpsertArchiveSchedule return err.
func (m *MockScheduler) SetUpsertError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertErr = err
}

// SetDeleteError makes DeleteArchiveSchedule return err.
func (m *MockScheduler) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// GetScheduleInterval returns the interval of an account's schedule.
func (m *MockScheduler) GetScheduleInterval(account, network string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	interval, exists := m.schedules[scheduleID(account, network)]
	return interval, exists
}

// ScheduleCount returns the number of schedules.
func (m *MockScheduler) ScheduleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.schedules)
}
