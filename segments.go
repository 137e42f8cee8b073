package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/segwatch/segwatch/internal/shopify"
	"github.com/segwatch/segwatch/internal/watch"
)

func newSegmentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "segments",
		Short: "List and refresh customer segments",
	}

	cmd.AddCommand(newSegmentsListCmd())
	cmd.AddCommand(newSegmentsSyncCmd())

	return cmd
}

func newSegmentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached segments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			store, err := openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()

			segments, err := store.ListSegments(ctx)
			if err != nil {
				return err
			}

			lastSync, err := store.LastSegmentSync(ctx)
			if err != nil {
				return err
			}

			if flagJSON {
				return json.NewEncoder(os.Stdout).Encode(segments)
			}

			printSegments(segments)
			statusf("Last synced: %s\n", formatNano(lastSync))

			return nil
		},
	}
}

func newSegmentsSyncCmd() *cobra.Command {
	var withCounts bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Refresh the segment cache from Shopify",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			store, err := openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			syncer := watch.NewSegmentSyncer(buildClient(logger), store, logger)

			segments, err := syncer.Sync(ctx)
			if err != nil {
				return err
			}

			statusf("Synced %d segments\n", len(segments))

			if withCounts {
				statusf("Fetching member counts (this can take a while)...\n")

				if err := syncer.RefreshCounts(ctx); err != nil {
					return err
				}
			}

			// Re-read so counts show up.
			cached, err := store.ListSegments(ctx)
			if err != nil {
				return err
			}

			if flagJSON {
				return json.NewEncoder(os.Stdout).Encode(cached)
			}

			printSegments(cached)

			return nil
		},
	}

	cmd.Flags().BoolVar(&withCounts, "counts", false, "also fetch member counts per segment")

	return cmd
}

func printSegments(segments []shopify.Segment) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMEMBERS\tQUERY")

	for _, seg := range segments {
		count := "-"
		if seg.MemberCount != nil {
			count = formatCount(*seg.MemberCount)
		}

		query := seg.FilterQuery
		if query == "" {
			query = "(none)"
		}

		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", seg.ID, seg.Name, count, query)
	}

	w.Flush()
}

// requireSegment resolves a segment ID argument against the cache.
func requireSegment(ctx context.Context, store *watch.SQLiteStore, segmentID int64) (*shopify.Segment, error) {
	seg, err := store.GetSegment(ctx, segmentID)
	if err != nil {
		return nil, err
	}

	if seg == nil {
		return nil, fmt.Errorf("segment %d not in cache (run `segwatch segments sync` first)", segmentID)
	}

	return seg, nil
}
