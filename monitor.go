package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/segwatch/segwatch/internal/watch"
)

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Monitor segments for membership changes",
	}

	cmd.AddCommand(newMonitorRunCmd())
	cmd.AddCommand(newMonitorCheckCmd())
	cmd.AddCommand(newMonitorAddCmd())
	cmd.AddCommand(newMonitorRmCmd())
	cmd.AddCommand(newMonitorListCmd())

	return cmd
}

func newMonitorRunCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the monitoring loop in the foreground",
		Long: `Run the monitoring loop in the foreground until interrupted.

The monitor waits for the API to become reachable, takes baseline
snapshots for every monitored segment, then polls on a fixed interval:
membership diffs are recorded in the change history and matching
automation rules fire. Segments whose filter cannot be translated are
dropped from monitoring.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			store, err := openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if interval == 0 {
				interval = resolvedCfg.PollInterval.Duration()
			}

			monitor := watch.NewMonitor(buildClient(logger), store, interval, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			statusf("Monitoring (poll interval %s). Ctrl-C to stop.\n", interval)

			if err := monitor.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}

			statusf("Monitor stopped.\n")

			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval (default from config)")

	return cmd
}

func newMonitorCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run one poll cycle immediately",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			store, err := openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			client := buildClient(logger)
			monitor := watch.NewMonitor(client, store, 0, logger)

			events, err := monitor.ForceCheck(cmd.Context())
			if err != nil {
				return err
			}

			watch.ResolveContacts(cmd.Context(), client, store, events, logger)

			if flagJSON {
				return json.NewEncoder(os.Stdout).Encode(events)
			}

			if len(events) == 0 {
				statusf("No membership changes.\n")
				return nil
			}

			printEvents(events)

			return nil
		},
	}
}

func newMonitorAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <segment-id>",
		Short: "Opt a segment into monitoring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMonitoredSet(cmd.Context(), args[0], func(ctx context.Context, store *watch.SQLiteStore, id int64) error {
				seg, err := requireSegment(ctx, store, id)
				if err != nil {
					return err
				}

				if err := store.AddMonitoredSegment(ctx, id); err != nil {
					return err
				}

				statusf("Monitoring segment %s (%d)\n", seg.Name, id)

				return nil
			})
		},
	}
}

func newMonitorRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <segment-id>",
		Short: "Opt a segment out of monitoring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMonitoredSet(cmd.Context(), args[0], func(ctx context.Context, store *watch.SQLiteStore, id int64) error {
				if err := store.RemoveMonitoredSegment(ctx, id); err != nil {
					return err
				}

				if err := store.DeleteSnapshot(ctx, id); err != nil {
					return err
				}

				statusf("Stopped monitoring segment %d\n", id)

				return nil
			})
		},
	}
}

func newMonitorListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List monitored segments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			store, err := openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()

			ids, err := store.MonitoredSegmentIDs(ctx)
			if err != nil {
				return err
			}

			if len(ids) == 0 {
				statusf("No segments are monitored. Add one with `segwatch monitor add <id>`.\n")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSNAPSHOT\tMEMBERS")

			for _, id := range ids {
				seg, err := store.GetSegment(ctx, id)
				if err != nil {
					return err
				}

				name := "(not in cache)"
				if seg != nil {
					name = seg.Name
				}

				snap, err := store.GetSnapshot(ctx, id)
				if err != nil {
					return err
				}

				taken, members := "none", "-"
				if snap != nil {
					taken = formatNano(snap.TakenAt)
					members = formatCount(int64(len(snap.MemberIDs)))
				}

				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", id, name, taken, members)
			}

			return w.Flush()
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the recent membership change history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			store, err := openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			events, err := store.ListEvents(cmd.Context(), limit)
			if err != nil {
				return err
			}

			watch.ResolveContacts(cmd.Context(), buildClient(logger), store, events, logger)

			if flagJSON {
				return json.NewEncoder(os.Stdout).Encode(events)
			}

			if len(events) == 0 {
				statusf("No changes recorded yet.\n")
				return nil
			}

			printEvents(events)

			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to show")

	return cmd
}

func printEvents(events []watch.ChangeEvent) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tKIND\tMEMBER\tCONTACT\tFROM\tTO")

	for _, ev := range events {
		contact := ev.MemberContact
		if contact == "" {
			contact = "-"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			formatNano(ev.OccurredAt), ev.Kind, ev.MemberID, contact,
			strings.Join(ev.FromSegments, ","), strings.Join(ev.ToSegments, ","),
		)
	}

	w.Flush()
}

// withMonitoredSet wraps the store open/close boilerplate for the
// monitor add/rm commands.
func withMonitoredSet(
	ctx context.Context,
	arg string,
	fn func(ctx context.Context, store *watch.SQLiteStore, id int64) error,
) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}

	logger := buildLogger()

	store, err := openStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(ctx, store, id)
}
