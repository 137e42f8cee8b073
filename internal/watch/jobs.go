package watch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// cancelMessage is the error entry a cancelled run carries. The job
// runner uses it to distinguish cancellation from ordinary failure.
const cancelMessage = "Operation cancelled"

// JobRunner wraps BulkRunner with persistence: it creates bulk job
// records, saves progress and checkpoints as the run advances, and
// finalizes the job status from the run result.
type JobRunner struct {
	runner *BulkRunner
	store  Store
	logger *slog.Logger
}

// NewJobRunner creates a JobRunner with injected dependencies.
func NewJobRunner(client Client, store Store, logger *slog.Logger) *JobRunner {
	return &JobRunner{
		runner: NewBulkRunner(client, logger),
		store:  store,
		logger: logger,
	}
}

// Start creates a new bulk job for the segment and runs it to a
// terminal status. The returned job reflects the final state; it is
// also persisted, checkpoint included, so a cancelled job can be
// resumed later.
func (jr *JobRunner) Start(
	ctx context.Context,
	segmentID int64,
	tags []string,
	kind JobKind,
	onProgress ProgressFunc,
	isCancelled CancelFunc,
) (*BulkJob, error) {
	segment, err := jr.store.GetSegment(ctx, segmentID)
	if err != nil {
		return nil, err
	}

	if segment == nil {
		return nil, fmt.Errorf("watch: segment %d not in cache (run a segment sync first)", segmentID)
	}

	now := NowNano()
	job := &BulkJob{
		ID:          uuid.NewString(),
		Kind:        kind,
		SegmentID:   segment.ID,
		SegmentName: segment.Name,
		Tags:        tags,
		Status:      JobQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := jr.store.SaveJob(ctx, job); err != nil {
		return nil, err
	}

	return jr.run(ctx, job, nil, onProgress, isCancelled)
}

// Resume continues a previously cancelled or failed job from its
// persisted checkpoint. Jobs that completed have nothing to resume.
func (jr *JobRunner) Resume(
	ctx context.Context,
	jobID string,
	onProgress ProgressFunc,
	isCancelled CancelFunc,
) (*BulkJob, error) {
	job, err := jr.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job == nil {
		return nil, fmt.Errorf("watch: job %s not found", jobID)
	}

	if job.Status == JobCompleted {
		return nil, fmt.Errorf("watch: job %s already completed", jobID)
	}

	if job.Checkpoint == nil && job.Status != JobQueued && job.Status != JobPaused {
		jr.logger.Info("job has no checkpoint, restarting from the beginning",
			slog.String("job_id", jobID),
		)
	}

	return jr.run(ctx, job, job.Checkpoint, onProgress, isCancelled)
}

// run drives the job through the bulk runner, persisting state changes
// along the way.
func (jr *JobRunner) run(
	ctx context.Context,
	job *BulkJob,
	resume *Checkpoint,
	onProgress ProgressFunc,
	isCancelled CancelFunc,
) (*BulkJob, error) {
	segment, err := jr.store.GetSegment(ctx, job.SegmentID)
	if err != nil {
		return nil, err
	}

	if segment == nil {
		return nil, fmt.Errorf("watch: segment %d not in cache", job.SegmentID)
	}

	job.Status = JobRunning
	job.UpdatedAt = NowNano()

	if err := jr.store.SaveJob(ctx, job); err != nil {
		return nil, err
	}

	opts := RunOptions{
		Resume: resume,
		// Cancellation observes both the caller's flag (SIGINT) and the
		// persisted status, so `jobs cancel` from another process stops
		// a running job at its next cooperative check.
		IsCancelled: func() bool {
			if isCancelled != nil && isCancelled() {
				return true
			}

			status, err := jr.store.GetJobStatus(ctx, job.ID)

			return err == nil && status == JobCancelled
		},
		OnProgress: func(current, total, skipped int, message string) {
			job.Progress = Progress{Current: current, Total: total, Skipped: skipped, Message: message}

			if onProgress != nil {
				onProgress(current, total, skipped, message)
			}
		},
		OnCheckpoint: func(cp Checkpoint) {
			job.Checkpoint = &cp

			// Checkpoint persistence is best-effort: a failed save costs
			// resumability, not correctness.
			if err := jr.store.UpdateJobProgress(ctx, job.ID, job.Progress, job.Checkpoint); err != nil {
				jr.logger.Error("persisting job checkpoint",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)
			}
		},
	}

	result, err := jr.runner.Run(ctx, *segment, job.Tags, job.Kind, opts)
	if err != nil {
		if statusErr := jr.store.SetJobStatus(ctx, job.ID, JobFailed); statusErr != nil {
			jr.logger.Error("persisting failed job", slog.String("error", statusErr.Error()))
		}

		return nil, err
	}

	job.Result = result
	job.Status = finalStatus(result)
	job.UpdatedAt = NowNano()

	// A successful run no longer needs its checkpoint.
	if job.Status == JobCompleted {
		job.Checkpoint = nil
	}

	if err := jr.store.SaveJob(ctx, job); err != nil {
		return nil, err
	}

	return job, nil
}

// finalStatus maps a run result to the job's terminal status.
func finalStatus(result *BulkResult) JobStatus {
	if result.Success {
		return JobCompleted
	}

	for _, msg := range result.Errors {
		if msg == cancelMessage {
			return JobCancelled
		}
	}

	return JobFailed
}
