package watch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/segwatch/segwatch/internal/shopify"
)

// noopSleep is a sleep function that returns immediately, for fast tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

// discardLogger drops all log output during tests.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestStore opens a SQLite store in a per-test temp directory.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"), 0, discardLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	return store
}

// fakeClient is an in-memory Client implementation. Segment membership
// and customer tags are plain maps; error injection is per customer and
// per segment.
type fakeClient struct {
	mu sync.Mutex

	segments []shopify.Segment
	members  map[int64][]string  // segment ID -> member IDs
	tags     map[string][]string // customer ID -> tags
	emails   map[string]string   // customer ID -> email

	memberErr map[int64]error  // ListSegmentMemberIDs failures
	readErr   map[string]error // CustomerTags / GetCustomer failures
	writeErr  map[string]error // UpdateCustomerTags failures

	writes []string // customer IDs written, in order
	reads  []string // customer IDs read, in order

	ready   chan struct{}
	pingErr error
	pings   int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		members:   make(map[int64][]string),
		tags:      make(map[string][]string),
		emails:    make(map[string]string),
		memberErr: make(map[int64]error),
		readErr:   make(map[string]error),
		writeErr:  make(map[string]error),
		ready:     make(chan struct{}),
	}
}

func (f *fakeClient) ListSegments(_ context.Context) ([]shopify.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.segments), nil
}

func (f *fakeClient) ListSegmentMemberIDs(_ context.Context, segment shopify.Segment, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.memberErr[segment.ID]; err != nil {
		return nil, err
	}

	ids := slices.Clone(f.members[segment.ID])
	if len(ids) > limit {
		ids = ids[:limit]
	}

	return ids, nil
}

func (f *fakeClient) GetCustomer(_ context.Context, customerID string) (*shopify.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads = append(f.reads, customerID)

	if err := f.readErr[customerID]; err != nil {
		return nil, err
	}

	id, _ := strconv.ParseInt(customerID, 10, 64)

	return &shopify.Customer{
		ID:    id,
		Email: f.emails[customerID],
		Tags:  slices.Clone(f.tags[customerID]),
	}, nil
}

func (f *fakeClient) CustomerTags(ctx context.Context, customerID string) ([]string, error) {
	cust, err := f.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	return cust.Tags, nil
}

func (f *fakeClient) UpdateCustomerTags(_ context.Context, customerID string, tags []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.writeErr[customerID]; err != nil {
		return err
	}

	f.tags[customerID] = slices.Clone(tags)
	f.writes = append(f.writes, customerID)

	return nil
}

func (f *fakeClient) Ready() <-chan struct{} {
	return f.ready
}

func (f *fakeClient) IsReady() bool {
	select {
	case <-f.ready:
		return true
	default:
		return false
	}
}

func (f *fakeClient) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pings++

	return f.pingErr
}

func (f *fakeClient) markReady() {
	select {
	case <-f.ready:
	default:
		close(f.ready)
	}
}

func (f *fakeClient) setMembers(segmentID int64, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.members[segmentID] = ids
}

func (f *fakeClient) setTags(customerID string, tags ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tags[customerID] = tags
}

func (f *fakeClient) setEmail(customerID, email string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.emails[customerID] = email
}

func (f *fakeClient) setPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pingErr = err
}

func (f *fakeClient) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.writes)
}

func (f *fakeClient) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.reads)
}

func (f *fakeClient) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.pings
}

var errFake = errors.New("injected failure")
