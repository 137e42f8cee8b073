// Package watch implements the segment monitoring and tagging engine:
// membership snapshots and diffs, tag automation rules, the polling
// scheduler, the bulk tag runner, and the SQLite-backed state store.
package watch

import (
	"context"
	"time"

	"github.com/segwatch/segwatch/internal/shopify"
)

// ChangeKind classifies a membership change event.
type ChangeKind string

// Change kinds as stored in the change_events table. Moved events are
// synthesized by the scheduler when one poll cycle sees the same member
// leave one monitored segment and enter another; the diff itself only
// produces added and removed.
const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeMoved   ChangeKind = "moved"
)

// ChangeEvent is a detected membership delta. Immutable once created;
// appended to a bounded history.
type ChangeEvent struct {
	ID            int64 // row ID, zero until persisted
	MemberID      string
	MemberContact string // lazily filled for display, blank at diff time
	FromSegments  []string
	ToSegments    []string
	Kind          ChangeKind
	OccurredAt    int64 // Unix nanoseconds
}

// Snapshot records a segment's member set at a point in time. Replaced
// atomically after each poll; never partially updated.
type Snapshot struct {
	SegmentID   int64
	SegmentName string
	MemberIDs   []string
	TakenAt     int64 // Unix nanoseconds
}

// TriggerKind selects which change events a rule reacts to.
type TriggerKind string

// Trigger kinds as stored in the rules table.
const (
	TriggerSegmentEnter TriggerKind = "segment_enter"
	TriggerSegmentExit  TriggerKind = "segment_exit"
	TriggerSegmentMove  TriggerKind = "segment_move"
)

// ActionKind is the tag mutation a rule action performs.
type ActionKind string

// Action kinds for rule tag actions.
const (
	ActionAddTag    ActionKind = "add"
	ActionRemoveTag ActionKind = "remove"
)

// TagAction is one tag mutation in a rule's ordered action list.
type TagAction struct {
	Kind ActionKind `json:"kind"`
	Tag  string     `json:"tag"`
}

// Rule is a tag automation rule: a trigger condition plus ordered tag
// actions. Only LastTriggeredAt and ExecutionCount are mutated by the
// engine; everything else is operator-owned.
type Rule struct {
	ID              string
	Name            string
	Active          bool
	Trigger         TriggerKind
	SourceSegment   string // segment name, for exit and move triggers
	TargetSegment   string // segment name, for enter and move triggers
	Actions         []TagAction
	CreatedAt       int64  // Unix nanoseconds
	LastTriggeredAt *int64 // Unix nanoseconds, nil until first execution
	ExecutionCount  int64
}

// JobKind is the direction of a bulk tag operation.
type JobKind string

// Bulk job kinds.
const (
	JobAddTags    JobKind = "add"
	JobRemoveTags JobKind = "remove"
)

// JobStatus is the lifecycle state of a bulk job. Completed, failed and
// cancelled are terminal.
type JobStatus string

// Bulk job statuses as stored in the bulk_jobs table.
const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Progress reports how far a bulk job has advanced.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Skipped int    `json:"skipped"`
	Message string `json:"message"`
}

// BulkResult is the final outcome of a bulk run. Success means no
// errors accumulated; a cancelled run is never successful.
type BulkResult struct {
	Success   bool     `json:"success"`
	Processed int      `json:"processed"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors"`
}

// Checkpoint is the persisted resumability marker for a bulk job.
// BatchIndex is the index of the next batch to run, so a resumed run
// continues the batch numbering instead of repeating it.
type Checkpoint struct {
	LastProcessedID string   `json:"last_processed_id"`
	ProcessedIDs    []string `json:"processed_ids"`
	BatchIndex      int      `json:"batch_index"`
}

// BulkJob is the persisted record of one operator-invoked bulk tag
// operation.
type BulkJob struct {
	ID          string
	Kind        JobKind
	SegmentID   int64
	SegmentName string
	Tags        []string
	Status      JobStatus
	Progress    Progress
	Result      *BulkResult
	Checkpoint  *Checkpoint
	CreatedAt   int64 // Unix nanoseconds
	UpdatedAt   int64 // Unix nanoseconds
}

// Terminal reports whether the job has reached a terminal status.
func (j *BulkJob) Terminal() bool {
	switch j.Status {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// --- Consumer-defined interfaces for the shopify client ---
// These decouple the watch package from the concrete client, following
// the "accept interfaces, return structs" Go convention.

// SegmentClient lists segments and enumerates their members.
type SegmentClient interface {
	ListSegments(ctx context.Context) ([]shopify.Segment, error)
	ListSegmentMemberIDs(ctx context.Context, segment shopify.Segment, limit int) ([]string, error)
}

// TagClient reads and writes customer tags.
type TagClient interface {
	GetCustomer(ctx context.Context, customerID string) (*shopify.Customer, error)
	CustomerTags(ctx context.Context, customerID string) ([]string, error)
	UpdateCustomerTags(ctx context.Context, customerID string, tags []string) error
}

// ReadyClient exposes the client's readiness signal for the scheduler.
type ReadyClient interface {
	Ready() <-chan struct{}
	IsReady() bool
	Ping(ctx context.Context) error
}

// Client is the full remote API surface the engine consumes.
type Client interface {
	SegmentClient
	TagClient
	ReadyClient
}

// Store is the interface for the engine state database. All engine
// components operate against this interface rather than the concrete
// SQLite implementation.
type Store interface {
	// Segment cache
	ReplaceSegments(ctx context.Context, segments []shopify.Segment) error
	ListSegments(ctx context.Context) ([]shopify.Segment, error)
	GetSegment(ctx context.Context, segmentID int64) (*shopify.Segment, error)
	SetSegmentCount(ctx context.Context, segmentID, count int64) error
	SetLastSegmentSync(ctx context.Context, at int64) error
	LastSegmentSync(ctx context.Context) (int64, error)

	// Snapshots
	GetSnapshot(ctx context.Context, segmentID int64) (*Snapshot, error)
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	DeleteSnapshot(ctx context.Context, segmentID int64) error

	// Monitored-segment set (explicit opt-in)
	MonitoredSegmentIDs(ctx context.Context) ([]int64, error)
	AddMonitoredSegment(ctx context.Context, segmentID int64) error
	RemoveMonitoredSegment(ctx context.Context, segmentID int64) error

	// Change history (bounded, oldest evicted first)
	AppendEvents(ctx context.Context, events []ChangeEvent) error
	ListEvents(ctx context.Context, limit int) ([]ChangeEvent, error)
	SetEventContact(ctx context.Context, eventID int64, contact string) error

	// Rules
	SaveRule(ctx context.Context, rule *Rule) error
	GetRule(ctx context.Context, id string) (*Rule, error)
	ListRules(ctx context.Context) ([]*Rule, error)
	DeleteRule(ctx context.Context, id string) error
	RecordRuleExecution(ctx context.Context, id string, at int64) error

	// Bulk jobs
	SaveJob(ctx context.Context, job *BulkJob) error
	UpdateJobProgress(ctx context.Context, id string, progress Progress, checkpoint *Checkpoint) error
	SetJobStatus(ctx context.Context, id string, status JobStatus) error
	GetJobStatus(ctx context.Context, id string) (JobStatus, error)
	GetJob(ctx context.Context, id string) (*BulkJob, error)
	ListJobs(ctx context.Context) ([]*BulkJob, error)

	Close() error
}

// NowNano returns the current time as Unix nanoseconds. All internal
// timestamps use int64 Unix nanoseconds; conversion happens at system
// boundaries only.
func NowNano() int64 {
	return time.Now().UnixNano()
}

// Int64Ptr returns a pointer to the given int64 value.
// Used for nullable database columns.
func Int64Ptr(v int64) *int64 {
	return &v
}

// nanoToTime converts Unix nanoseconds back to a time.Time in UTC.
// Used when handing timestamps to display boundaries.
func nanoToTime(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
