package watch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segwatch/segwatch/internal/shopify"
)

// memberFetchLimit caps how many member IDs one snapshot may hold.
// Segments larger than this are monitored on their first N members
// only, which keeps poll cycles bounded.
const memberFetchLimit = 50000

// Snapshotter fetches segment membership and computes diffs between
// polls. It owns the one-snapshot-per-segment invariant: a snapshot is
// replaced wholesale after a successful fetch, never partially updated.
type Snapshotter struct {
	client SegmentClient
	store  Store
	logger *slog.Logger
}

// NewSnapshotter creates a Snapshotter backed by the given client and store.
func NewSnapshotter(client SegmentClient, store Store, logger *slog.Logger) *Snapshotter {
	return &Snapshotter{client: client, store: store, logger: logger}
}

// TakeSnapshot fetches the segment's current member IDs and stores them
// as the new snapshot, unconditionally overwriting any prior one.
func (sn *Snapshotter) TakeSnapshot(ctx context.Context, segment shopify.Segment) (*Snapshot, error) {
	ids, err := sn.client.ListSegmentMemberIDs(ctx, segment, memberFetchLimit)
	if err != nil {
		return nil, fmt.Errorf("watch: snapshot segment %d: %w", segment.ID, err)
	}

	snap := &Snapshot{
		SegmentID:   segment.ID,
		SegmentName: segment.Name,
		MemberIDs:   ids,
		TakenAt:     NowNano(),
	}

	if err := sn.store.SaveSnapshot(ctx, snap); err != nil {
		return nil, err
	}

	sn.logger.Debug("snapshot taken",
		slog.Int64("segment_id", segment.ID),
		slog.Int("members", len(ids)),
	)

	return snap, nil
}

// Diff computes membership change events between a previous snapshot
// and the current member IDs. Each member present now but not before
// yields an added event; each member present before but not now yields
// a removed event. Contact info is left blank — filling it would cost
// one API call per changed member during polling; it is resolved lazily
// at display time instead. Moved events are never produced here.
func Diff(previous *Snapshot, currentIDs []string) []ChangeEvent {
	now := NowNano()

	prevSet := make(map[string]struct{}, len(previous.MemberIDs))
	for _, id := range previous.MemberIDs {
		prevSet[id] = struct{}{}
	}

	currSet := make(map[string]struct{}, len(currentIDs))
	for _, id := range currentIDs {
		currSet[id] = struct{}{}
	}

	var events []ChangeEvent

	// Added: in current, not in previous. Iterate the slice to keep the
	// API's ordering and skip duplicates within one page set.
	seen := make(map[string]struct{}, len(currentIDs))

	for _, id := range currentIDs {
		if _, dup := seen[id]; dup {
			continue
		}

		seen[id] = struct{}{}

		if _, ok := prevSet[id]; !ok {
			events = append(events, ChangeEvent{
				MemberID:   id,
				ToSegments: []string{previous.SegmentName},
				Kind:       ChangeAdded,
				OccurredAt: now,
			})
		}
	}

	// Removed: in previous, not in current.
	seen = make(map[string]struct{}, len(previous.MemberIDs))

	for _, id := range previous.MemberIDs {
		if _, dup := seen[id]; dup {
			continue
		}

		seen[id] = struct{}{}

		if _, ok := currSet[id]; !ok {
			events = append(events, ChangeEvent{
				MemberID:     id,
				FromSegments: []string{previous.SegmentName},
				Kind:         ChangeRemoved,
				OccurredAt:   now,
			})
		}
	}

	return events
}

// Poll fetches the segment's current members, diffs them against the
// stored snapshot, and replaces the snapshot. On first observation (no
// prior snapshot) it records a baseline and emits no events.
func (sn *Snapshotter) Poll(ctx context.Context, segment shopify.Segment) ([]ChangeEvent, error) {
	previous, err := sn.store.GetSnapshot(ctx, segment.ID)
	if err != nil {
		return nil, err
	}

	if previous == nil {
		if _, err := sn.TakeSnapshot(ctx, segment); err != nil {
			return nil, err
		}

		sn.logger.Info("baseline snapshot recorded",
			slog.Int64("segment_id", segment.ID),
			slog.String("segment", segment.Name),
		)

		return nil, nil
	}

	currentIDs, err := sn.client.ListSegmentMemberIDs(ctx, segment, memberFetchLimit)
	if err != nil {
		return nil, fmt.Errorf("watch: poll segment %d: %w", segment.ID, err)
	}

	events := Diff(previous, currentIDs)

	if err := sn.store.SaveSnapshot(ctx, &Snapshot{
		SegmentID:   segment.ID,
		SegmentName: segment.Name,
		MemberIDs:   currentIDs,
		TakenAt:     NowNano(),
	}); err != nil {
		return nil, err
	}

	if len(events) > 0 {
		sn.logger.Info("membership changes detected",
			slog.Int64("segment_id", segment.ID),
			slog.String("segment", segment.Name),
			slog.Int("events", len(events)),
		)
	}

	return events, nil
}
