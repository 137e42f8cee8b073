package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segwatch/segwatch/internal/shopify"
)

// Monitor lifecycle states.
type MonitorState string

const (
	StateIdle    MonitorState = "idle"
	StateWaiting MonitorState = "waiting_for_client_ready"
	StateActive  MonitorState = "active"
)

// Scheduler timing defaults.
const (
	defaultPollInterval  = 30 * time.Second
	readyProbeInterval   = 5 * time.Second
	startupRetryInterval = 30 * time.Second
)

// Monitor owns the polling loop: it waits for the client to become
// ready, records baseline snapshots for every monitored segment, then
// polls on a fixed interval, diffing membership, synthesizing move
// events, appending history, and handing events to the rule engine.
type Monitor struct {
	client Client
	store  Store
	snaps  *Snapshotter
	rules  *RuleEngine
	logger *slog.Logger

	pollInterval time.Duration

	// mu serializes poll cycles between the scheduled loop and ForceCheck.
	mu    sync.Mutex
	state MonitorState

	// sleepFunc is overridden in tests to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewMonitor creates a Monitor with injected dependencies.
// pollInterval of zero means the 30s default.
func NewMonitor(client Client, store Store, pollInterval time.Duration, logger *slog.Logger) *Monitor {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &Monitor{
		client:       client,
		store:        store,
		snaps:        NewSnapshotter(client, store, logger),
		rules:        NewRuleEngine(client, store, logger),
		logger:       logger,
		pollInterval: pollInterval,
		state:        StateIdle,
		sleepFunc:    timeSleep,
	}
}

// State returns the monitor's current lifecycle state.
func (m *Monitor) State() MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

func (m *Monitor) setState(s MonitorState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()

	m.logger.Info("monitor state changed", slog.String("state", string(s)))
}

// Run drives the monitor until ctx is canceled: wait for readiness,
// take baseline snapshots, then poll at the configured interval.
// Startup failures are retried at a fixed backoff and never give up.
// An authorization failure drops the monitor back to waiting, where
// only a fresh successful Ping readmits it.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.setState(StateIdle)

	verifyAuth := false

	for {
		m.setState(StateWaiting)

		if err := m.waitClientReady(ctx, verifyAuth); err != nil {
			return err
		}

		verifyAuth = false

		err := m.startActive(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if errors.Is(err, shopify.ErrUnauthorized) {
			m.logger.Warn("client no longer authorized, falling back to waiting state")

			verifyAuth = true

			continue
		}

		if err != nil {
			m.logger.Warn("monitor start failed, retrying",
				slog.Duration("backoff", startupRetryInterval),
				slog.String("error", err.Error()),
			)

			if err := m.sleepFunc(ctx, startupRetryInterval); err != nil {
				return err
			}
		}
	}
}

// waitClientReady blocks until the client signals readiness, with a
// fallback probe that pings the API on a fixed interval in case the
// readiness channel is never driven by other traffic. The readiness
// signal is sticky, so after an authorization failure verifyAuth
// ignores it and only a fresh successful Ping readmits the monitor.
func (m *Monitor) waitClientReady(ctx context.Context, verifyAuth bool) error {
	if verifyAuth {
		return m.verifyAuthorization(ctx)
	}

	if m.client.IsReady() {
		return nil
	}

	ticker := time.NewTicker(readyProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.client.Ready():
			return nil
		case <-ticker.C:
			if err := m.client.Ping(ctx); err != nil {
				m.logger.Debug("client not ready yet", slog.String("error", err.Error()))
				continue
			}

			return nil
		}
	}
}

// verifyAuthorization pings until the API accepts the credentials again.
func (m *Monitor) verifyAuthorization(ctx context.Context) error {
	for {
		err := m.client.Ping(ctx)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		m.logger.Debug("credentials still rejected", slog.String("error", err.Error()))

		if err := m.sleepFunc(ctx, readyProbeInterval); err != nil {
			return err
		}
	}
}

// startActive records baseline snapshots and runs the poll loop.
// Returns nil when ctx is done, an ErrUnauthorized-wrapping error when
// authorization was lost, and any other error when startup itself
// failed and should be retried.
func (m *Monitor) startActive(ctx context.Context) error {
	if err := m.ensureBaselines(ctx); err != nil {
		return fmt.Errorf("watch: baseline round: %w", err)
	}

	m.setState(StateActive)

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			events, err := m.RunCycle(ctx)
			if err != nil {
				if errors.Is(err, shopify.ErrUnauthorized) {
					return err
				}

				m.logger.Error("poll cycle failed", slog.String("error", err.Error()))

				continue
			}

			m.logger.Debug("poll cycle complete", slog.Int("events", len(events)))
		}
	}
}

// ensureBaselines takes an initial snapshot for every monitored segment
// that does not have one yet. Unmonitorable segments are dropped here
// the same way they are dropped mid-poll.
func (m *Monitor) ensureBaselines(ctx context.Context) error {
	segments, err := m.monitoredSegments(ctx)
	if err != nil {
		return err
	}

	for _, segment := range segments {
		snap, err := m.store.GetSnapshot(ctx, segment.ID)
		if err != nil {
			return err
		}

		if snap != nil {
			continue
		}

		if _, err := m.snaps.TakeSnapshot(ctx, segment); err != nil {
			if errors.Is(err, shopify.ErrUnmonitorable) {
				m.dropSegment(ctx, segment)
				continue
			}

			return err
		}
	}

	return nil
}

// RunCycle performs one poll cycle over all monitored segments: fetch,
// diff, replace snapshots, synthesize moves, persist history, and hand
// events to the rule engine. Serialized with the scheduled loop, so a
// ForceCheck never interleaves with a timer tick.
func (m *Monitor) RunCycle(ctx context.Context) ([]ChangeEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	segments, err := m.monitoredSegments(ctx)
	if err != nil {
		return nil, err
	}

	var events []ChangeEvent

	for _, segment := range segments {
		segEvents, err := m.snaps.Poll(ctx, segment)
		if err != nil {
			// Structurally unmonitorable segments are dropped, not
			// retried forever.
			if errors.Is(err, shopify.ErrUnmonitorable) {
				m.dropSegment(ctx, segment)
				continue
			}

			if errors.Is(err, shopify.ErrUnauthorized) {
				return nil, err
			}

			m.logger.Error("segment poll failed",
				slog.Int64("segment_id", segment.ID),
				slog.String("segment", segment.Name),
				slog.String("error", err.Error()),
			)

			continue
		}

		events = append(events, segEvents...)
	}

	events = append(events, synthesizeMoves(events)...)

	if err := m.store.AppendEvents(ctx, events); err != nil {
		return nil, err
	}

	m.rules.ProcessEvents(ctx, events)

	return events, nil
}

// ForceCheck performs one poll cycle out of band, without waiting for
// the next scheduled tick, and returns the detected events.
func (m *Monitor) ForceCheck(ctx context.Context) ([]ChangeEvent, error) {
	m.logger.Info("force check requested")

	return m.RunCycle(ctx)
}

// monitoredSegments resolves the monitored-segment ID set against the
// segment cache. IDs with no cached segment are skipped with a warning;
// they resolve once the operator runs a segment sync.
func (m *Monitor) monitoredSegments(ctx context.Context) ([]shopify.Segment, error) {
	ids, err := m.store.MonitoredSegmentIDs(ctx)
	if err != nil {
		return nil, err
	}

	segments := make([]shopify.Segment, 0, len(ids))

	for _, id := range ids {
		seg, err := m.store.GetSegment(ctx, id)
		if err != nil {
			return nil, err
		}

		if seg == nil {
			m.logger.Warn("monitored segment not in cache, skipping",
				slog.Int64("segment_id", id),
			)

			continue
		}

		segments = append(segments, *seg)
	}

	return segments, nil
}

// dropSegment removes an unmonitorable segment from the monitored set
// and discards its snapshot.
func (m *Monitor) dropSegment(ctx context.Context, segment shopify.Segment) {
	m.logger.Warn("dropping unmonitorable segment from monitoring",
		slog.Int64("segment_id", segment.ID),
		slog.String("segment", segment.Name),
	)

	if err := m.store.RemoveMonitoredSegment(ctx, segment.ID); err != nil {
		m.logger.Error("removing monitored segment", slog.String("error", err.Error()))
	}

	if err := m.store.DeleteSnapshot(ctx, segment.ID); err != nil {
		m.logger.Error("deleting snapshot", slog.String("error", err.Error()))
	}
}

// synthesizeMoves correlates added and removed events for the same
// member within one poll cycle into moved events. The originals are
// kept, so enter and exit rules still see them; the moved event makes
// move rules reachable.
func synthesizeMoves(events []ChangeEvent) []ChangeEvent {
	type pair struct {
		from []string
		to   []string
	}

	byMember := make(map[string]*pair)

	for i := range events {
		ev := &events[i]

		p, ok := byMember[ev.MemberID]
		if !ok {
			p = &pair{}
			byMember[ev.MemberID] = p
		}

		switch ev.Kind {
		case ChangeAdded:
			p.to = append(p.to, ev.ToSegments...)
		case ChangeRemoved:
			p.from = append(p.from, ev.FromSegments...)
		case ChangeMoved:
			// Already synthesized; not an input to correlation.
		}
	}

	now := NowNano()

	var moves []ChangeEvent

	for memberID, p := range byMember {
		if len(p.from) == 0 || len(p.to) == 0 {
			continue
		}

		moves = append(moves, ChangeEvent{
			MemberID:     memberID,
			FromSegments: p.from,
			ToSegments:   p.to,
			Kind:         ChangeMoved,
			OccurredAt:   now,
		})
	}

	return moves
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
