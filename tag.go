package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/segwatch/segwatch/internal/watch"
)

func newTagCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Bulk-apply or remove tags across a segment",
	}

	cmd.AddCommand(newTagRunCmd(watch.JobAddTags, "add", "Add tags to every member of a segment"))
	cmd.AddCommand(newTagRunCmd(watch.JobRemoveTags, "remove", "Remove tags from every member of a segment"))

	return cmd
}

func newTagRunCmd(kind watch.JobKind, use, short string) *cobra.Command {
	var (
		segmentID int64
		resumeID  string
	)

	cmd := &cobra.Command{
		Use:   use + " [tags...]",
		Short: short,
		Long: short + `.

Progress and a resumable checkpoint are persisted after every batch.
Ctrl-C cancels cooperatively; a cancelled job keeps its checkpoint and
can be continued with --resume <job-id>.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if resumeID == "" && segmentID == 0 {
				return fmt.Errorf("--segment is required (or --resume <job-id>)")
			}

			if resumeID == "" && len(args) == 0 {
				return fmt.Errorf("at least one tag is required")
			}

			logger := buildLogger()

			store, err := openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			runner := watch.NewJobRunner(buildClient(logger), store, logger)

			// SIGINT flips a flag the runner polls at its cooperative
			// cancellation points; the run stops at the next check.
			var cancelled atomic.Bool

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			go func() {
				<-sigCh
				statusf("\nCancelling (waiting for current member)...\n")
				cancelled.Store(true)
			}()

			isCancelled := func() bool { return cancelled.Load() }

			var job *watch.BulkJob

			if resumeID != "" {
				job, err = runner.Resume(ctx, resumeID, progressPrinter(), isCancelled)
			} else {
				if _, err := requireSegment(ctx, store, segmentID); err != nil {
					return err
				}

				job, err = runner.Start(ctx, segmentID, args, kind, progressPrinter(), isCancelled)
			}

			if err != nil {
				return err
			}

			printJobResult(job)

			if job.Status == watch.JobCancelled {
				statusf("Resume with: segwatch tag %s --resume %s\n", use, job.ID)
			}

			return nil
		},
	}

	cmd.Flags().Int64Var(&segmentID, "segment", 0, "segment ID to operate on")
	cmd.Flags().StringVar(&resumeID, "resume", "", "resume a cancelled job from its checkpoint")

	return cmd
}

// progressPrinter returns a ProgressFunc that draws in-place progress
// on a terminal and plain lines otherwise.
func progressPrinter() watch.ProgressFunc {
	tty := progressToTTY()

	return func(current, total, skipped int, message string) {
		if flagQuiet {
			return
		}

		if tty {
			fmt.Fprintf(os.Stderr, "\r%s (%d/%d, %d skipped)        ", message, current, total, skipped)
			return
		}

		fmt.Fprintf(os.Stderr, "%s (%d/%d, %d skipped)\n", message, current, total, skipped)
	}
}

func printJobResult(job *watch.BulkJob) {
	if progressToTTY() {
		fmt.Fprintln(os.Stderr)
	}

	statusf("Job %s: %s\n", job.ID, job.Status)

	if job.Result == nil {
		return
	}

	statusf("Processed %s, skipped %s\n",
		formatCount(int64(job.Result.Processed)),
		formatCount(int64(job.Result.Skipped)),
	)

	for _, msg := range job.Result.Errors {
		fmt.Fprintf(os.Stderr, "  %s\n", msg)
	}
}

// parseID parses a numeric command-line argument.
func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ID %q: %w", arg, err)
	}

	return id, nil
}
