package watch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segwatch/segwatch/internal/shopify"
)

func TestDiff(t *testing.T) {
	prev := &Snapshot{
		SegmentID:   1,
		SegmentName: "VIPs",
		MemberIDs:   []string{"a", "b", "c"},
	}

	tests := []struct {
		name    string
		current []string
		want    []ChangeEvent
	}{
		{
			name:    "no change",
			current: []string{"a", "b", "c"},
			want:    nil,
		},
		{
			name:    "one added",
			current: []string{"a", "b", "c", "d"},
			want: []ChangeEvent{
				{MemberID: "d", ToSegments: []string{"VIPs"}, Kind: ChangeAdded},
			},
		},
		{
			name:    "one removed",
			current: []string{"a", "c"},
			want: []ChangeEvent{
				{MemberID: "b", FromSegments: []string{"VIPs"}, Kind: ChangeRemoved},
			},
		},
		{
			name:    "added and removed",
			current: []string{"b", "c", "d"},
			want: []ChangeEvent{
				{MemberID: "d", ToSegments: []string{"VIPs"}, Kind: ChangeAdded},
				{MemberID: "a", FromSegments: []string{"VIPs"}, Kind: ChangeRemoved},
			},
		},
		{
			name:    "everything removed",
			current: nil,
			want: []ChangeEvent{
				{MemberID: "a", FromSegments: []string{"VIPs"}, Kind: ChangeRemoved},
				{MemberID: "b", FromSegments: []string{"VIPs"}, Kind: ChangeRemoved},
				{MemberID: "c", FromSegments: []string{"VIPs"}, Kind: ChangeRemoved},
			},
		},
		{
			name:    "duplicate current IDs yield one event",
			current: []string{"a", "b", "c", "d", "d"},
			want: []ChangeEvent{
				{MemberID: "d", ToSegments: []string{"VIPs"}, Kind: ChangeAdded},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(prev, tt.current)
			require.Len(t, got, len(tt.want))

			for i := range tt.want {
				assert.Equal(t, tt.want[i].MemberID, got[i].MemberID)
				assert.Equal(t, tt.want[i].Kind, got[i].Kind)
				assert.Equal(t, tt.want[i].FromSegments, got[i].FromSegments)
				assert.Equal(t, tt.want[i].ToSegments, got[i].ToSegments)
				assert.Empty(t, got[i].MemberContact)
				assert.NotZero(t, got[i].OccurredAt)
			}
		})
	}
}

func TestDiff_EmptyPrevious(t *testing.T) {
	prev := &Snapshot{SegmentID: 1, SegmentName: "New"}

	got := Diff(prev, []string{"x", "y"})
	require.Len(t, got, 2)
	assert.Equal(t, ChangeAdded, got[0].Kind)
	assert.Equal(t, ChangeAdded, got[1].Kind)
}

func TestPoll_FirstObservationIsBaseline(t *testing.T) {
	client := newFakeClient()
	client.setMembers(1, "a", "b")

	store := newTestStore(t)
	sn := NewSnapshotter(client, store, discardLogger())

	seg := shopify.Segment{ID: 1, Name: "VIPs", FilterQuery: "tag:vip"}

	events, err := sn.Poll(context.Background(), seg)
	require.NoError(t, err)
	assert.Empty(t, events)

	// The baseline snapshot is persisted.
	snap, err := store.GetSnapshot(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, []string{"a", "b"}, snap.MemberIDs)
}

func TestPoll_DetectsChanges(t *testing.T) {
	client := newFakeClient()
	client.setMembers(1, "a", "b")

	store := newTestStore(t)
	sn := NewSnapshotter(client, store, discardLogger())

	seg := shopify.Segment{ID: 1, Name: "VIPs", FilterQuery: "tag:vip"}
	ctx := context.Background()

	_, err := sn.Poll(ctx, seg)
	require.NoError(t, err)

	client.setMembers(1, "b", "c")

	events, err := sn.Poll(ctx, seg)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "c", events[0].MemberID)
	assert.Equal(t, ChangeAdded, events[0].Kind)
	assert.Equal(t, "a", events[1].MemberID)
	assert.Equal(t, ChangeRemoved, events[1].Kind)

	// Snapshot is replaced wholesale.
	snap, err := store.GetSnapshot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, snap.MemberIDs)
}

func TestPoll_FetchFailureLeavesSnapshotIntact(t *testing.T) {
	client := newFakeClient()
	client.setMembers(1, "a")

	store := newTestStore(t)
	sn := NewSnapshotter(client, store, discardLogger())

	seg := shopify.Segment{ID: 1, Name: "VIPs"}
	ctx := context.Background()

	_, err := sn.Poll(ctx, seg)
	require.NoError(t, err)

	client.mu.Lock()
	client.memberErr[1] = errFake
	client.mu.Unlock()

	_, err = sn.Poll(ctx, seg)
	require.Error(t, err)

	snap, err := store.GetSnapshot(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, []string{"a"}, snap.MemberIDs)
}
