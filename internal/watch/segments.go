package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segwatch/segwatch/internal/shopify"
)

// SegmentSyncer refreshes the local segment cache from the remote API,
// optionally fetching member counts. Count failures are isolated per
// segment: an unmonitorable filter only costs that segment its count.
type SegmentSyncer struct {
	client SegmentClient
	store  Store
	logger *slog.Logger
}

// NewSegmentSyncer creates a SegmentSyncer with injected dependencies.
func NewSegmentSyncer(client SegmentClient, store Store, logger *slog.Logger) *SegmentSyncer {
	return &SegmentSyncer{client: client, store: store, logger: logger}
}

// Sync refreshes the segment cache wholesale and records the sync time.
// Returns the fresh segment list.
func (ss *SegmentSyncer) Sync(ctx context.Context) ([]shopify.Segment, error) {
	segments, err := ss.client.ListSegments(ctx)
	if err != nil {
		return nil, fmt.Errorf("watch: segment sync: %w", err)
	}

	if err := ss.store.ReplaceSegments(ctx, segments); err != nil {
		return nil, err
	}

	if err := ss.store.SetLastSegmentSync(ctx, NowNano()); err != nil {
		return nil, err
	}

	ss.logger.Info("segment cache refreshed", slog.Int("count", len(segments)))

	return segments, nil
}

// RefreshCounts fetches the member count for each cached segment by
// enumerating its members. Failures are logged per segment and do not
// stop the refresh.
func (ss *SegmentSyncer) RefreshCounts(ctx context.Context) error {
	segments, err := ss.store.ListSegments(ctx)
	if err != nil {
		return err
	}

	for _, segment := range segments {
		ids, err := ss.client.ListSegmentMemberIDs(ctx, segment, memberFetchLimit)
		if err != nil {
			if errors.Is(err, shopify.ErrUnmonitorable) {
				ss.logger.Debug("segment has no countable filter",
					slog.Int64("segment_id", segment.ID),
					slog.String("segment", segment.Name),
				)
			} else {
				ss.logger.Warn("segment count failed",
					slog.Int64("segment_id", segment.ID),
					slog.String("error", err.Error()),
				)
			}

			continue
		}

		if err := ss.store.SetSegmentCount(ctx, segment.ID, int64(len(ids))); err != nil {
			return err
		}
	}

	return nil
}
