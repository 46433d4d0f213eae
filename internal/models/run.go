package models

import "time"

// RunMode distinguishes full from incremental analysis.
type RunMode string

const (
	RunModeFull        RunMode = "full"
	RunModeIncremental RunMode = "incremental"
)

// AnalysisCursor records the newest entry already classified for a source.
type AnalysisCursor struct {
	Source      string    `db:"source" json:"source"`
	LastEntryAt time.Time `db:"last_entry_at" json:"last_entry_at"`
	LastEntryID string    `db:"last_entry_id" json:"last_entry_id"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// After reports whether an entry sorts after the cursor position.
func (c *AnalysisCursor) After(entry JournalEntry) bool {
	if c == nil || c.LastEntryAt.IsZero() {
		return true
	}
	if entry.CreatedAt.After(c.LastEntryAt) {
		return true
	}
	return entry.CreatedAt.Equal(c.LastEntryAt) && entry.ID > c.LastEntryID
}

// StudentFailure records a student skipped during a run.
type StudentFailure struct {
	StudentID string `json:"student_id"`
	Stage     string `json:"stage"`
	Reason    string `json:"reason"`
}

// RunSummary is the structured outcome handed back to the trigger.
type RunSummary struct {
	RunID              string           `json:"run_id"`
	Mode               RunMode          `json:"mode"`
	StartedAt          time.Time        `json:"started_at"`
	FinishedAt         time.Time        `json:"finished_at"`
	StudentsTotal      int              `json:"students_total"`
	StudentsProcessed  int              `json:"students_processed"`
	StudentsFailed     int              `json:"students_failed"`
	FailedStudents     []StudentFailure `json:"failed_students,omitempty"`
	UnresolvedStudents []string         `json:"unresolved_students,omitempty"`
	EntriesProcessed   int              `json:"entries_processed"`
	EntriesAggregated  int              `json:"entries_aggregated"`
	EntriesClassified  int              `json:"entries_classified"`
	MalformedEntries   int              `json:"malformed_entries"`
	SignalsDetected    int              `json:"signals_detected"`
	FlagsCreated       int              `json:"flags_created"`
	FlagsUpdated       int              `json:"flags_updated"`
	SnapshotID         string           `json:"snapshot_id,omitempty"`
	Succeeded          bool             `json:"succeeded"`
}

// RunResult bundles a run's summary and products.
type RunResult struct {
	Summary  RunSummary         `json:"summary"`
	Snapshot *AnalyticsSnapshot `json:"snapshot,omitempty"`

	// FlaggedStudentsDelta holds flags created or updated by this run.
	FlaggedStudentsDelta []StudentFlag `json:"flagged_students_delta"`
}
