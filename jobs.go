package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/segwatch/segwatch/internal/watch"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and cancel bulk tag jobs",
	}

	cmd.AddCommand(newJobsListCmd())
	cmd.AddCommand(newJobsShowCmd())
	cmd.AddCommand(newJobsCancelCmd())

	return cmd
}

func newJobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List bulk jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			store, err := openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			jobs, err := store.ListJobs(cmd.Context())
			if err != nil {
				return err
			}

			if flagJSON {
				return json.NewEncoder(os.Stdout).Encode(jobs)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tSEGMENT\tSTATUS\tPROGRESS\tCREATED")

			for _, job := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
					job.ID, job.Kind, job.SegmentName, job.Status,
					job.Progress.Current, job.Progress.Total,
					formatNano(job.CreatedAt),
				)
			}

			return w.Flush()
		},
	}
}

func newJobsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger()

			store, err := openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			job, err := store.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if job == nil {
				return fmt.Errorf("job %s not found", args[0])
			}

			if flagJSON {
				return json.NewEncoder(os.Stdout).Encode(job)
			}

			fmt.Printf("Job:      %s\n", job.ID)
			fmt.Printf("Kind:     %s\n", job.Kind)
			fmt.Printf("Segment:  %s (%d)\n", job.SegmentName, job.SegmentID)
			fmt.Printf("Tags:     %v\n", job.Tags)
			fmt.Printf("Status:   %s\n", job.Status)
			fmt.Printf("Progress: %d/%d (%d skipped) %s\n",
				job.Progress.Current, job.Progress.Total, job.Progress.Skipped, job.Progress.Message)

			if job.Checkpoint != nil {
				fmt.Printf("Checkpoint: resumes at batch %d, %d members processed\n",
					job.Checkpoint.BatchIndex+1, len(job.Checkpoint.ProcessedIDs))
			}

			if job.Result != nil {
				fmt.Printf("Result:   success=%t processed=%d skipped=%d\n",
					job.Result.Success, job.Result.Processed, job.Result.Skipped)

				for _, msg := range job.Result.Errors {
					fmt.Printf("  %s\n", msg)
				}
			}

			return nil
		},
	}
}

func newJobsCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Request cancellation of a running job",
		Long: `Request cancellation of a running job.

Cancellation is cooperative: the running job observes the request at
its next member or batch boundary. The checkpoint survives, so the job
can be resumed later.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger()

			store, err := openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()

			job, err := store.GetJob(ctx, args[0])
			if err != nil {
				return err
			}

			if job == nil {
				return fmt.Errorf("job %s not found", args[0])
			}

			if job.Terminal() {
				return fmt.Errorf("job %s already %s", job.ID, job.Status)
			}

			if err := store.SetJobStatus(ctx, job.ID, watch.JobCancelled); err != nil {
				return err
			}

			statusf("Cancellation requested for job %s\n", job.ID)

			return nil
		},
	}
}
