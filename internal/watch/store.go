package watch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	"github.com/segwatch/segwatch/internal/shopify"
)

// defaultHistoryLimit bounds the change history when no explicit limit
// is configured.
const defaultHistoryLimit = 500

// metaKeyLastSegmentSync is the meta table key for the segment cache's
// last refresh timestamp.
const metaKeyLastSegmentSync = "last_segment_sync"

// SQLiteStore implements the Store interface using an embedded SQLite
// database with WAL mode. All engine state (segment cache, snapshots,
// rules, change history, monitored set, bulk jobs) is persisted here.
type SQLiteStore struct {
	db           *sql.DB
	logger       *slog.Logger
	historyLimit int
}

// NewStore creates a SQLiteStore, opening the database at dbPath and
// applying migrations. Use ":memory:" for tests. historyLimit bounds
// the change history; zero means the default.
func NewStore(dbPath string, historyLimit int, logger *slog.Logger) (*SQLiteStore, error) {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}

	logger.Info("opening state database", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("watch: open sqlite: %w", err)
	}

	if err := setPragmas(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, logger: logger, historyLimit: historyLimit}, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("watch: set pragma %q: %w", p, err)
		}
	}

	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- SQL query constants, grouped by domain ---

const (
	sqlUpsertSegment = `INSERT INTO segments
		(segment_id, name, filter_query, created_at, updated_at, member_count, count_loading)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(segment_id) DO UPDATE SET
			name          = excluded.name,
			filter_query  = excluded.filter_query,
			created_at    = excluded.created_at,
			updated_at    = excluded.updated_at`

	sqlSegmentColumns = `segment_id, name, filter_query, created_at, updated_at, member_count, count_loading`

	sqlListSegments = `SELECT ` + sqlSegmentColumns + ` FROM segments ORDER BY name`

	sqlGetSegment = `SELECT ` + sqlSegmentColumns + ` FROM segments WHERE segment_id = ?`

	sqlSetSegmentCount = `UPDATE segments
		SET member_count = ?, count_loading = 0 WHERE segment_id = ?`
)

const (
	sqlGetSnapshot = `SELECT segment_id, segment_name, member_ids, taken_at
		FROM snapshots WHERE segment_id = ?`

	sqlSaveSnapshot = `INSERT INTO snapshots
		(segment_id, segment_name, member_ids, taken_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(segment_id) DO UPDATE SET
			segment_name = excluded.segment_name,
			member_ids   = excluded.member_ids,
			taken_at     = excluded.taken_at`

	sqlDeleteSnapshot = `DELETE FROM snapshots WHERE segment_id = ?`
)

const (
	sqlMonitoredIDs    = `SELECT segment_id FROM monitored_segments ORDER BY segment_id`
	sqlAddMonitored    = `INSERT OR IGNORE INTO monitored_segments (segment_id) VALUES (?)`
	sqlRemoveMonitored = `DELETE FROM monitored_segments WHERE segment_id = ?`

	sqlInsertEvent = `INSERT INTO change_events
		(member_id, member_contact, from_segments, to_segments, kind, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	sqlEvictOldEvents = `DELETE FROM change_events WHERE id NOT IN
		(SELECT id FROM change_events ORDER BY id DESC LIMIT ?)`

	sqlListEvents = `SELECT id, member_id, member_contact, from_segments, to_segments, kind, occurred_at
		FROM change_events ORDER BY id DESC LIMIT ?`

	sqlSetEventContact = `UPDATE change_events SET member_contact = ? WHERE id = ?`
)

const (
	sqlRuleColumns = `id, name, active, trigger_kind, source_segment, target_segment,
		actions, created_at, last_triggered_at, execution_count`

	sqlSaveRule = `INSERT INTO rules (` + sqlRuleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name           = excluded.name,
			active         = excluded.active,
			trigger_kind   = excluded.trigger_kind,
			source_segment = excluded.source_segment,
			target_segment = excluded.target_segment,
			actions        = excluded.actions`

	sqlGetRule = `SELECT ` + sqlRuleColumns + ` FROM rules WHERE id = ?`

	sqlListRules = `SELECT ` + sqlRuleColumns + ` FROM rules ORDER BY created_at`

	sqlDeleteRule = `DELETE FROM rules WHERE id = ?`

	sqlRecordRuleExecution = `UPDATE rules
		SET execution_count = execution_count + 1, last_triggered_at = ?
		WHERE id = ?`
)

const (
	sqlJobColumns = `id, kind, segment_id, segment_name, tags, status,
		progress, result, checkpoint, created_at, updated_at`

	sqlSaveJob = `INSERT INTO bulk_jobs (` + sqlJobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status     = excluded.status,
			progress   = excluded.progress,
			result     = excluded.result,
			checkpoint = excluded.checkpoint,
			updated_at = excluded.updated_at`

	// Progress updates deliberately leave status alone so an external
	// cancel (SetJobStatus from another process) is not overwritten by
	// a concurrent checkpoint save.
	sqlUpdateJobProgress = `UPDATE bulk_jobs
		SET progress = ?, checkpoint = ?, updated_at = ? WHERE id = ?`

	sqlSetJobStatus = `UPDATE bulk_jobs SET status = ?, updated_at = ? WHERE id = ?`

	sqlGetJobStatus = `SELECT status FROM bulk_jobs WHERE id = ?`

	sqlGetJob = `SELECT ` + sqlJobColumns + ` FROM bulk_jobs WHERE id = ?`

	sqlListJobs = `SELECT ` + sqlJobColumns + ` FROM bulk_jobs ORDER BY created_at DESC`
)

const (
	sqlGetMeta = `SELECT value FROM meta WHERE key = ?`
	sqlSetMeta = `INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
)

// --- Segment cache ---

// ReplaceSegments refreshes the segment cache wholesale, keeping any
// previously fetched member counts for segments that still exist.
func (s *SQLiteStore) ReplaceSegments(ctx context.Context, segments []shopify.Segment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("watch: begin segment replace: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	keep := make([]any, 0, len(segments))
	for _, seg := range segments {
		keep = append(keep, seg.ID)

		var count any
		if seg.MemberCount != nil {
			count = *seg.MemberCount
		}

		if _, err := tx.ExecContext(ctx, sqlUpsertSegment,
			seg.ID, seg.Name, seg.FilterQuery,
			seg.CreatedAt.UnixNano(), seg.UpdatedAt.UnixNano(),
			count, boolToInt(seg.CountLoading),
		); err != nil {
			return fmt.Errorf("watch: upsert segment %d: %w", seg.ID, err)
		}
	}

	// Drop segments that disappeared remotely. An empty remote list
	// clears the whole cache.
	prune := `DELETE FROM segments`
	if len(keep) > 0 {
		prune = `DELETE FROM segments WHERE segment_id NOT IN (` + placeholders(len(keep)) + `)`
	}

	if _, err := tx.ExecContext(ctx, prune, keep...); err != nil {
		return fmt.Errorf("watch: prune stale segments: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("watch: commit segment replace: %w", err)
	}

	return nil
}

// ListSegments returns the cached segments ordered by name.
func (s *SQLiteStore) ListSegments(ctx context.Context) ([]shopify.Segment, error) {
	rows, err := s.db.QueryContext(ctx, sqlListSegments)
	if err != nil {
		return nil, fmt.Errorf("watch: list segments: %w", err)
	}
	defer rows.Close()

	var segments []shopify.Segment

	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}

		segments = append(segments, *seg)
	}

	return segments, rows.Err()
}

// GetSegment returns one cached segment, or nil when unknown.
func (s *SQLiteStore) GetSegment(ctx context.Context, segmentID int64) (*shopify.Segment, error) {
	row := s.db.QueryRowContext(ctx, sqlGetSegment, segmentID)

	seg, err := scanSegment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	return seg, err
}

// SetSegmentCount records a freshly fetched member count and clears the
// loading flag.
func (s *SQLiteStore) SetSegmentCount(ctx context.Context, segmentID, count int64) error {
	if _, err := s.db.ExecContext(ctx, sqlSetSegmentCount, count, segmentID); err != nil {
		return fmt.Errorf("watch: set segment count: %w", err)
	}

	return nil
}

// SetLastSegmentSync records when the segment cache was last refreshed.
func (s *SQLiteStore) SetLastSegmentSync(ctx context.Context, at int64) error {
	if _, err := s.db.ExecContext(ctx, sqlSetMeta, metaKeyLastSegmentSync, fmt.Sprintf("%d", at)); err != nil {
		return fmt.Errorf("watch: set last segment sync: %w", err)
	}

	return nil
}

// LastSegmentSync returns the last segment cache refresh time, or zero
// when the cache has never been synced.
func (s *SQLiteStore) LastSegmentSync(ctx context.Context) (int64, error) {
	var raw string

	err := s.db.QueryRowContext(ctx, sqlGetMeta, metaKeyLastSegmentSync).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("watch: get last segment sync: %w", err)
	}

	var at int64
	if _, err := fmt.Sscanf(raw, "%d", &at); err != nil {
		return 0, fmt.Errorf("watch: parse last segment sync %q: %w", raw, err)
	}

	return at, nil
}

// --- Snapshots ---

// GetSnapshot returns the stored snapshot for a segment, or nil when
// the segment has never been observed.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, segmentID int64) (*Snapshot, error) {
	var (
		snap   Snapshot
		rawIDs string
	)

	err := s.db.QueryRowContext(ctx, sqlGetSnapshot, segmentID).
		Scan(&snap.SegmentID, &snap.SegmentName, &rawIDs, &snap.TakenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("watch: get snapshot %d: %w", segmentID, err)
	}

	if err := json.Unmarshal([]byte(rawIDs), &snap.MemberIDs); err != nil {
		return nil, fmt.Errorf("watch: decode snapshot %d member IDs: %w", segmentID, err)
	}

	return &snap, nil
}

// SaveSnapshot replaces the snapshot for a segment atomically.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	rawIDs, err := json.Marshal(snap.MemberIDs)
	if err != nil {
		return fmt.Errorf("watch: encode snapshot member IDs: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, sqlSaveSnapshot,
		snap.SegmentID, snap.SegmentName, string(rawIDs), snap.TakenAt,
	); err != nil {
		return fmt.Errorf("watch: save snapshot %d: %w", snap.SegmentID, err)
	}

	return nil
}

// DeleteSnapshot removes a segment's snapshot.
func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, segmentID int64) error {
	if _, err := s.db.ExecContext(ctx, sqlDeleteSnapshot, segmentID); err != nil {
		return fmt.Errorf("watch: delete snapshot %d: %w", segmentID, err)
	}

	return nil
}

// --- Monitored-segment set ---

// MonitoredSegmentIDs returns the explicitly opted-in segment IDs.
func (s *SQLiteStore) MonitoredSegmentIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, sqlMonitoredIDs)
	if err != nil {
		return nil, fmt.Errorf("watch: list monitored segments: %w", err)
	}
	defer rows.Close()

	var ids []int64

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("watch: scan monitored segment: %w", err)
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// AddMonitoredSegment opts a segment into monitoring.
func (s *SQLiteStore) AddMonitoredSegment(ctx context.Context, segmentID int64) error {
	if _, err := s.db.ExecContext(ctx, sqlAddMonitored, segmentID); err != nil {
		return fmt.Errorf("watch: add monitored segment %d: %w", segmentID, err)
	}

	return nil
}

// RemoveMonitoredSegment opts a segment out of monitoring.
func (s *SQLiteStore) RemoveMonitoredSegment(ctx context.Context, segmentID int64) error {
	if _, err := s.db.ExecContext(ctx, sqlRemoveMonitored, segmentID); err != nil {
		return fmt.Errorf("watch: remove monitored segment %d: %w", segmentID, err)
	}

	return nil
}

// --- Change history ---

// AppendEvents appends change events to the history and evicts the
// oldest rows beyond the configured limit, in one transaction. Each
// event's ID field is filled with its assigned row ID.
func (s *SQLiteStore) AppendEvents(ctx context.Context, events []ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("watch: begin event append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for i := range events {
		ev := &events[i]

		from, err := json.Marshal(ev.FromSegments)
		if err != nil {
			return fmt.Errorf("watch: encode from_segments: %w", err)
		}

		to, err := json.Marshal(ev.ToSegments)
		if err != nil {
			return fmt.Errorf("watch: encode to_segments: %w", err)
		}

		res, err := tx.ExecContext(ctx, sqlInsertEvent,
			ev.MemberID, ev.MemberContact, string(from), string(to), string(ev.Kind), ev.OccurredAt,
		)
		if err != nil {
			return fmt.Errorf("watch: insert change event: %w", err)
		}

		if ev.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("watch: change event row ID: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, sqlEvictOldEvents, s.historyLimit); err != nil {
		return fmt.Errorf("watch: evict old events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("watch: commit event append: %w", err)
	}

	return nil
}

// SetEventContact records a member's resolved contact info on a stored
// change event, so later history reads skip the lookup.
func (s *SQLiteStore) SetEventContact(ctx context.Context, eventID int64, contact string) error {
	if _, err := s.db.ExecContext(ctx, sqlSetEventContact, contact, eventID); err != nil {
		return fmt.Errorf("watch: set event contact %d: %w", eventID, err)
	}

	return nil
}

// ListEvents returns the most recent change events, newest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, limit int) ([]ChangeEvent, error) {
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}

	rows, err := s.db.QueryContext(ctx, sqlListEvents, limit)
	if err != nil {
		return nil, fmt.Errorf("watch: list events: %w", err)
	}
	defer rows.Close()

	var events []ChangeEvent

	for rows.Next() {
		var (
			ev       ChangeEvent
			from, to string
			kind     string
		)

		if err := rows.Scan(&ev.ID, &ev.MemberID, &ev.MemberContact, &from, &to, &kind, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("watch: scan change event: %w", err)
		}

		if err := json.Unmarshal([]byte(from), &ev.FromSegments); err != nil {
			return nil, fmt.Errorf("watch: decode from_segments: %w", err)
		}

		if err := json.Unmarshal([]byte(to), &ev.ToSegments); err != nil {
			return nil, fmt.Errorf("watch: decode to_segments: %w", err)
		}

		ev.Kind = ChangeKind(kind)
		events = append(events, ev)
	}

	return events, rows.Err()
}

// --- Rules ---

// SaveRule inserts or updates a rule. Execution bookkeeping columns are
// only written by RecordRuleExecution.
func (s *SQLiteStore) SaveRule(ctx context.Context, rule *Rule) error {
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return fmt.Errorf("watch: encode rule actions: %w", err)
	}

	var last any
	if rule.LastTriggeredAt != nil {
		last = *rule.LastTriggeredAt
	}

	if _, err := s.db.ExecContext(ctx, sqlSaveRule,
		rule.ID, rule.Name, boolToInt(rule.Active), string(rule.Trigger),
		rule.SourceSegment, rule.TargetSegment, string(actions),
		rule.CreatedAt, last, rule.ExecutionCount,
	); err != nil {
		return fmt.Errorf("watch: save rule %s: %w", rule.ID, err)
	}

	return nil
}

// GetRule returns one rule, or nil when unknown.
func (s *SQLiteStore) GetRule(ctx context.Context, id string) (*Rule, error) {
	rule, err := scanRule(s.db.QueryRowContext(ctx, sqlGetRule, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	return rule, err
}

// ListRules returns all rules ordered by creation time.
func (s *SQLiteStore) ListRules(ctx context.Context) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, sqlListRules)
	if err != nil {
		return nil, fmt.Errorf("watch: list rules: %w", err)
	}
	defer rows.Close()

	var rules []*Rule

	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}

		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// DeleteRule removes a rule.
func (s *SQLiteStore) DeleteRule(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, sqlDeleteRule, id); err != nil {
		return fmt.Errorf("watch: delete rule %s: %w", id, err)
	}

	return nil
}

// RecordRuleExecution bumps a rule's execution count and trigger time.
func (s *SQLiteStore) RecordRuleExecution(ctx context.Context, id string, at int64) error {
	if _, err := s.db.ExecContext(ctx, sqlRecordRuleExecution, at, id); err != nil {
		return fmt.Errorf("watch: record rule execution %s: %w", id, err)
	}

	return nil
}

// --- Bulk jobs ---

// SaveJob inserts or updates a bulk job record.
func (s *SQLiteStore) SaveJob(ctx context.Context, job *BulkJob) error {
	tags, err := json.Marshal(job.Tags)
	if err != nil {
		return fmt.Errorf("watch: encode job tags: %w", err)
	}

	progress, err := json.Marshal(job.Progress)
	if err != nil {
		return fmt.Errorf("watch: encode job progress: %w", err)
	}

	result, err := marshalNullable(job.Result)
	if err != nil {
		return fmt.Errorf("watch: encode job result: %w", err)
	}

	checkpoint, err := marshalNullable(job.Checkpoint)
	if err != nil {
		return fmt.Errorf("watch: encode job checkpoint: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, sqlSaveJob,
		job.ID, string(job.Kind), job.SegmentID, job.SegmentName,
		string(tags), string(job.Status), string(progress),
		result, checkpoint, job.CreatedAt, job.UpdatedAt,
	); err != nil {
		return fmt.Errorf("watch: save job %s: %w", job.ID, err)
	}

	return nil
}

// UpdateJobProgress persists progress and checkpoint without touching
// the status column.
func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, id string, progress Progress, checkpoint *Checkpoint) error {
	rawProgress, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("watch: encode job progress: %w", err)
	}

	rawCheckpoint, err := marshalNullable(checkpoint)
	if err != nil {
		return fmt.Errorf("watch: encode job checkpoint: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, sqlUpdateJobProgress,
		string(rawProgress), rawCheckpoint, NowNano(), id,
	); err != nil {
		return fmt.Errorf("watch: update job progress %s: %w", id, err)
	}

	return nil
}

// SetJobStatus updates only a job's status. Used by the runner for
// lifecycle transitions and by the CLI to request cancellation of a
// job running in another process.
func (s *SQLiteStore) SetJobStatus(ctx context.Context, id string, status JobStatus) error {
	if _, err := s.db.ExecContext(ctx, sqlSetJobStatus, string(status), NowNano(), id); err != nil {
		return fmt.Errorf("watch: set job status %s: %w", id, err)
	}

	return nil
}

// GetJobStatus reads only a job's status column. Cheap enough for the
// runner to poll at every cancellation point.
func (s *SQLiteStore) GetJobStatus(ctx context.Context, id string) (JobStatus, error) {
	var status string

	err := s.db.QueryRowContext(ctx, sqlGetJobStatus, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("watch: job %s not found", id)
	}

	if err != nil {
		return "", fmt.Errorf("watch: get job status %s: %w", id, err)
	}

	return JobStatus(status), nil
}

// GetJob returns one bulk job, or nil when unknown.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*BulkJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, sqlGetJob, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	return job, err
}

// ListJobs returns all bulk jobs, newest first.
func (s *SQLiteStore) ListJobs(ctx context.Context) ([]*BulkJob, error) {
	rows, err := s.db.QueryContext(ctx, sqlListJobs)
	if err != nil {
		return nil, fmt.Errorf("watch: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*BulkJob

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// --- Scan helpers ---

// rowScanner lets the scan helpers work with both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSegment(row rowScanner) (*shopify.Segment, error) {
	var (
		seg          shopify.Segment
		createdAt    int64
		updatedAt    int64
		count        sql.NullInt64
		countLoading int64
	)

	if err := row.Scan(&seg.ID, &seg.Name, &seg.FilterQuery,
		&createdAt, &updatedAt, &count, &countLoading); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("watch: scan segment: %w", err)
	}

	seg.CreatedAt = nanoToTime(createdAt)
	seg.UpdatedAt = nanoToTime(updatedAt)
	seg.CountLoading = countLoading != 0

	if count.Valid {
		seg.MemberCount = Int64Ptr(count.Int64)
	}

	return &seg, nil
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		rule    Rule
		active  int64
		trigger string
		actions string
		last    sql.NullInt64
	)

	if err := row.Scan(&rule.ID, &rule.Name, &active, &trigger,
		&rule.SourceSegment, &rule.TargetSegment, &actions,
		&rule.CreatedAt, &last, &rule.ExecutionCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("watch: scan rule: %w", err)
	}

	rule.Active = active != 0
	rule.Trigger = TriggerKind(trigger)

	if err := json.Unmarshal([]byte(actions), &rule.Actions); err != nil {
		return nil, fmt.Errorf("watch: decode rule actions: %w", err)
	}

	if last.Valid {
		rule.LastTriggeredAt = Int64Ptr(last.Int64)
	}

	return &rule, nil
}

func scanJob(row rowScanner) (*BulkJob, error) {
	var (
		job        BulkJob
		kind       string
		tags       string
		status     string
		progress   string
		result     sql.NullString
		checkpoint sql.NullString
	)

	if err := row.Scan(&job.ID, &kind, &job.SegmentID, &job.SegmentName,
		&tags, &status, &progress, &result, &checkpoint,
		&job.CreatedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("watch: scan job: %w", err)
	}

	job.Kind = JobKind(kind)
	job.Status = JobStatus(status)

	if err := json.Unmarshal([]byte(tags), &job.Tags); err != nil {
		return nil, fmt.Errorf("watch: decode job tags: %w", err)
	}

	if err := json.Unmarshal([]byte(progress), &job.Progress); err != nil {
		return nil, fmt.Errorf("watch: decode job progress: %w", err)
	}

	if result.Valid {
		job.Result = &BulkResult{}
		if err := json.Unmarshal([]byte(result.String), job.Result); err != nil {
			return nil, fmt.Errorf("watch: decode job result: %w", err)
		}
	}

	if checkpoint.Valid {
		job.Checkpoint = &Checkpoint{}
		if err := json.Unmarshal([]byte(checkpoint.String), job.Checkpoint); err != nil {
			return nil, fmt.Errorf("watch: decode job checkpoint: %w", err)
		}
	}

	return &job, nil
}

// marshalNullable JSON-encodes v, returning nil (SQL NULL) for a nil
// pointer. v must be a pointer type.
func marshalNullable(v any) (any, error) {
	switch val := v.(type) {
	case *BulkResult:
		if val == nil {
			return nil, nil
		}
	case *Checkpoint:
		if val == nil {
			return nil, nil
		}
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return string(raw), nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}

	return 0
}

// placeholders returns a comma-separated list of n SQL placeholders.
// n must be positive.
func placeholders(n int) string {
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}

		out = append(out, '?')
	}

	return string(out)
}
