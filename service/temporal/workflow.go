package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// ArchiveMemosWorkflowName is the registered name schedules start.
const ArchiveMemosWorkflowName = "ArchiveMemosWorkflow"

// ArchiveMemosWorkflow copies an account's memo feed into the archive.
// It is triggered by a Temporal schedule at a configured interval.
//
// The workflow performs these steps:
// 1. Assemble the account's feed from the ledger (AssembleFeed activity)
// 2. Store memos not yet archived (WriteMemos activity)
// 3. Publish every archived memo still pending to NATS (PublishMemos activity)
//
// Memos are archived before their events are published. A memo whose
// publish failed stays pending and goes out on a later run.
func ArchiveMemosWorkflow(ctx workflow.Context, input ArchiveMemosInput) (*ArchiveMemosResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ArchiveMemosWorkflow started", "account", input.Account, "network", input.Network)

	result := &ArchiveMemosResult{
		Account:     input.Account,
		Network:     input.Network,
		ArchiveTime: workflow.Now(ctx),
	}

	// Assembly waits the fetch delay between every transaction, so a full
	// signature window takes minutes.
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	fail := func(step string, err error) (*ArchiveMemosResult, error) {
		errMsg := fmt.Sprintf("failed to %s: %v", step, err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to %s: %w", step, err)
	}

	// Step 1: Assemble the feed
	var feed *AssembleFeedResult
	err := workflow.ExecuteActivity(ctx, a.AssembleFeed, AssembleFeedInput{
		Account: input.Account,
		Network: input.Network,
	}).Get(ctx, &feed)
	if err != nil {
		logger.Error("failed to assemble feed", "account", input.Account, "error", err)
		return fail("assemble feed", err)
	}
	result.MemoCount = len(feed.Memos)

	// Step 2: Write memos to the archive
	if len(feed.Memos) == 0 {
		logger.Info("no memos to archive", "account", input.Account)
	} else {
		var written *WriteMemosResult
		err = workflow.ExecuteActivity(ctx, a.WriteMemos, WriteMemosInput{
			Account: input.Account,
			Network: input.Network,
			Memos:   feed.Memos,
		}).Get(ctx, &written)
		if err != nil {
			logger.Error("failed to write memos", "account", input.Account, "error", err)
			return fail("write memos", err)
		}
		result.Written = len(written.Written)
		result.Skipped = written.Skipped
	}

	// Step 3: Publish pending memos
	var published *PublishMemosResult
	err = workflow.ExecuteActivity(ctx, a.PublishMemos, PublishMemosInput{
		Account: input.Account,
		Network: input.Network,
	}).Get(ctx, &published)
	if err != nil {
		logger.Error("failed to publish memos", "account", input.Account, "error", err)
		return fail("publish memos", err)
	}
	result.Published = published.Published

	logger.Info("ArchiveMemosWorkflow completed successfully",
		"account", input.Account,
		"memo_count", result.MemoCount,
		"written", result.Written,
		"skipped", result.Skipped,
		"published", result.Published,
	)

	return result, nil
}
