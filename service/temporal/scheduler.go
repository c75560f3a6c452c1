package temporal

import (
	"context"
	"time"
)

// Scheduler manages the Temporal schedules that archive account feeds.
// Each account and network pair gets its own schedule that triggers ArchiveMemosWorkflow.
type Scheduler interface {
	// UpsertArchiveSchedule creates the schedule, or updates its interval if it exists.
	UpsertArchiveSchedule(ctx context.Context, account, network string, interval time.Duration) error

	// DeleteArchiveSchedule deletes the schedule, stopping archival for the account.
	DeleteArchiveSchedule(ctx context.Context, account, network string) error
}

// scheduleID returns the Temporal schedule ID for an account's archive.
func scheduleID(account, network string) string {
	return "archive-memos-" + network + "-" + account
}
