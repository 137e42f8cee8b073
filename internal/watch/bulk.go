package watch

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/segwatch/segwatch/internal/shopify"
)

// Bulk runner tuning. Members within a batch are processed
// sequentially: concurrent writes would interleave partial updates into
// the checkpoint state and risk bursting past undocumented per-second
// rate limits.
const (
	bulkBatchSize  = 10
	interBatchWait = 500 * time.Millisecond
)

// ProgressFunc receives progress after every member and every batch.
type ProgressFunc func(current, total, skipped int, message string)

// CheckpointFunc receives resumability state after every batch.
type CheckpointFunc func(checkpoint Checkpoint)

// CancelFunc is polled at cooperative cancellation points; returning
// true stops the run at the next check.
type CancelFunc func() bool

// RunOptions carries the caller's callbacks and resume state for one
// bulk run. All fields are optional.
type RunOptions struct {
	OnProgress   ProgressFunc
	OnCheckpoint CheckpointFunc
	IsCancelled  CancelFunc
	Resume       *Checkpoint
}

// BulkRunner executes one operator-invoked add-tags or remove-tags
// operation across all members of a segment, with progress reporting,
// cooperative cancellation, and per-batch checkpointing.
type BulkRunner struct {
	client interface {
		SegmentClient
		TagClient
	}
	logger *slog.Logger

	// sleepFunc is overridden in tests to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewBulkRunner creates a BulkRunner with an injected client.
func NewBulkRunner(client Client, logger *slog.Logger) *BulkRunner {
	return &BulkRunner{client: client, logger: logger, sleepFunc: timeSleep}
}

// Run executes the bulk operation and returns its result. Only
// setup-phase failures (member enumeration) return an error; per-member
// failures accumulate in the result and never abort the run. A
// cancelled run returns success=false with a cancellation error entry.
func (r *BulkRunner) Run(
	ctx context.Context,
	segment shopify.Segment,
	tags []string,
	kind JobKind,
	opts RunOptions,
) (*BulkResult, error) {
	if len(tags) == 0 {
		return nil, fmt.Errorf("watch: no tags provided")
	}

	memberIDs, err := r.client.ListSegmentMemberIDs(ctx, segment, memberFetchLimit)
	if err != nil {
		return nil, fmt.Errorf("watch: resolving members of segment %d: %w", segment.ID, err)
	}

	if len(memberIDs) == 0 {
		return &BulkResult{
			Success: true,
			Errors:  []string{"segment has no members, nothing to do"},
		}, nil
	}

	run := &bulkRun{
		runner:  r,
		segment: segment,
		tags:    tags,
		kind:    kind,
		opts:    opts,
		total:   len(memberIDs),
	}

	// Resume: skip already-processed members and seed counts.
	batchStart := 0

	if cp := opts.Resume; cp != nil {
		run.processed = len(cp.ProcessedIDs)
		run.processedIDs = slices.Clone(cp.ProcessedIDs)
		run.lastProcessedID = cp.LastProcessedID
		batchStart = cp.BatchIndex

		done := make(map[string]struct{}, len(cp.ProcessedIDs))
		for _, id := range cp.ProcessedIDs {
			done[id] = struct{}{}
		}

		memberIDs = slices.DeleteFunc(slices.Clone(memberIDs), func(id string) bool {
			_, ok := done[id]
			return ok
		})

		r.logger.Info("resuming bulk run from checkpoint",
			slog.Int("already_processed", run.processed),
			slog.Int("remaining", len(memberIDs)),
			slog.Int("batch_index", batchStart),
		)
	}

	return run.execute(ctx, memberIDs, batchStart)
}

// bulkRun holds the mutable state of one run.
type bulkRun struct {
	runner  *BulkRunner
	segment shopify.Segment
	tags    []string
	kind    JobKind
	opts    RunOptions

	total           int
	processed       int
	skipped         int
	errors          []string
	processedIDs    []string
	lastProcessedID string
}

// execute walks the member list in fixed-size batches.
func (run *bulkRun) execute(ctx context.Context, memberIDs []string, batchIndex int) (*BulkResult, error) {
	for start := 0; start < len(memberIDs); start += bulkBatchSize {
		if run.cancelled() {
			return run.cancelResult(), nil
		}

		end := min(start+bulkBatchSize, len(memberIDs))
		batch := memberIDs[start:end]

		for _, memberID := range batch {
			if run.cancelled() {
				return run.cancelResult(), nil
			}

			run.processMember(ctx, memberID)
			run.progress(fmt.Sprintf("Processed %d of %d members", run.processed+run.skipped, run.total))
		}

		// The checkpoint carries the next batch index, so a resumed run
		// continues the numbering where this one left off.
		if run.opts.OnCheckpoint != nil {
			run.opts.OnCheckpoint(Checkpoint{
				LastProcessedID: run.lastProcessedID,
				ProcessedIDs:    slices.Clone(run.processedIDs),
				BatchIndex:      batchIndex + 1,
			})
		}

		run.progress(fmt.Sprintf("Batch %d complete", batchIndex+1))
		batchIndex++

		if end < len(memberIDs) {
			if err := run.runner.sleepFunc(ctx, interBatchWait); err != nil {
				return run.cancelResult(), nil
			}
		}
	}

	result := &BulkResult{
		Success:   len(run.errors) == 0,
		Processed: run.processed,
		Skipped:   run.skipped,
		Errors:    run.errors,
	}

	run.runner.logger.Info("bulk run finished",
		slog.Int64("segment_id", run.segment.ID),
		slog.String("kind", string(run.kind)),
		slog.Int("processed", result.Processed),
		slog.Int("skipped", result.Skipped),
		slog.Int("errors", len(result.Errors)),
	)

	return result, nil
}

// processMember applies the operation to one member. Members already in
// the target state are skipped; read or write failures are recorded and
// counted as skipped, never fatal.
func (run *bulkRun) processMember(ctx context.Context, memberID string) {
	current, err := run.runner.client.CustomerTags(ctx, memberID)
	if err != nil {
		run.errors = append(run.errors, fmt.Sprintf("member %s: reading tags: %v", memberID, err))
		run.skipped++

		return
	}

	newTags, changed := run.targetTags(current)
	if !changed {
		run.skipped++

		return
	}

	if err := run.runner.client.UpdateCustomerTags(ctx, memberID, newTags); err != nil {
		run.errors = append(run.errors, fmt.Sprintf("member %s: writing tags: %v", memberID, err))
		run.skipped++

		return
	}

	run.processed++
	run.processedIDs = append(run.processedIDs, memberID)
	run.lastProcessedID = memberID
}

// targetTags computes the member's desired tag list for this run's
// kind, reporting whether it differs from the current list.
func (run *bulkRun) targetTags(current []string) ([]string, bool) {
	result := slices.Clone(current)

	switch run.kind {
	case JobAddTags:
		for _, tag := range run.tags {
			if !slices.Contains(result, tag) {
				result = append(result, tag)
			}
		}
	case JobRemoveTags:
		result = slices.DeleteFunc(result, func(t string) bool {
			return slices.Contains(run.tags, t)
		})
	}

	return result, !slices.Equal(current, result)
}

func (run *bulkRun) cancelled() bool {
	return run.opts.IsCancelled != nil && run.opts.IsCancelled()
}

// cancelResult builds the terminal result for a cancelled run.
func (run *bulkRun) cancelResult() *BulkResult {
	run.runner.logger.Warn("bulk run cancelled",
		slog.Int64("segment_id", run.segment.ID),
		slog.Int("processed", run.processed),
	)

	return &BulkResult{
		Success:   false,
		Processed: run.processed,
		Skipped:   run.skipped,
		Errors:    append(slices.Clone(run.errors), cancelMessage),
	}
}

func (run *bulkRun) progress(message string) {
	if run.opts.OnProgress != nil {
		run.opts.OnProgress(run.processed, run.total, run.skipped, message)
	}
}
