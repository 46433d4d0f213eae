package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/journal-insights-api/internal/models"
	appErrors "github.com/noah-isme/journal-insights-api/pkg/errors"
)

const (
	stageFetch   = "fetch"
	stageProcess = "process"

	runStatusSucceeded = "succeeded"
	runStatusFailed    = "failed"
	runStatusRejected  = "rejected"

	defaultCursorSource = "journal_entries"
)

// SnapshotStore persists immutable analytics snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, snapshot *models.AnalyticsSnapshot) error
	Latest(ctx context.Context) (*models.AnalyticsSnapshot, error)
	Since(ctx context.Context, since time.Time) ([]models.AnalyticsSnapshot, error)
}

// FlagStore persists student flags. Upsert must leave resource delivery
// fields of an existing record untouched.
type FlagStore interface {
	Get(ctx context.Context, key models.FlagKey) (*models.StudentFlag, error)
	Upsert(ctx context.Context, flag *models.StudentFlag) error
	List(ctx context.Context, filter models.FlagFilter) ([]models.StudentFlag, error)
	MarkResourcesDelivered(ctx context.Context, key models.FlagKey, count int, at time.Time) (*models.StudentFlag, error)
	ClearAll(ctx context.Context) (int, error)
}

// CursorStore tracks the incremental position per data source.
type CursorStore interface {
	Get(ctx context.Context, source string) (*models.AnalysisCursor, error)
	Advance(ctx context.Context, cursor models.AnalysisCursor) error
}

// AnalysisDependencies wires the analysis pipeline.
type AnalysisDependencies struct {
	Source       *EntrySource
	Aggregator   *JournalAggregator
	Classifier   *RiskClassifier
	Flags        *FlagAggregator
	Snapshots    SnapshotStore
	FlagStore    FlagStore
	Cursors      CursorStore
	Lock         RunLock
	Cache        *CacheService
	Metrics      *MetricsService
	CursorSource string
	Clock        func() time.Time
}

// AnalysisService runs full and incremental analysis passes.
type AnalysisService struct {
	source       *EntrySource
	aggregator   *JournalAggregator
	classifier   *RiskClassifier
	flags        *FlagAggregator
	snapshots    SnapshotStore
	flagStore    FlagStore
	cursors      CursorStore
	lock         RunLock
	cache        *CacheService
	metrics      *MetricsService
	validate     *validator.Validate
	cursorSource string
	clock        func() time.Time
	logger       *zap.Logger
}

// NewAnalysisService constructs the service. Missing aggregators, lock and
// clock get defaults.
func NewAnalysisService(deps AnalysisDependencies, logger *zap.Logger) *AnalysisService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Aggregator == nil {
		deps.Aggregator = NewJournalAggregator(0, 0)
	}
	if deps.Flags == nil {
		deps.Flags = NewFlagAggregator(0)
	}
	if deps.Lock == nil {
		deps.Lock = NewLocalRunLock()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.CursorSource == "" {
		deps.CursorSource = defaultCursorSource
	}
	return &AnalysisService{
		source:       deps.Source,
		aggregator:   deps.Aggregator,
		classifier:   deps.Classifier,
		flags:        deps.Flags,
		snapshots:    deps.Snapshots,
		flagStore:    deps.FlagStore,
		cursors:      deps.Cursors,
		lock:         deps.Lock,
		cache:        deps.Cache,
		metrics:      deps.Metrics,
		validate:     validator.New(),
		cursorSource: deps.CursorSource,
		clock:        deps.Clock,
		logger:       logger,
	}
}

// RunFull classifies and aggregates every entry.
func (s *AnalysisService) RunFull(ctx context.Context) (*models.RunResult, error) {
	return s.Run(ctx, models.RunModeFull)
}

// RunIncremental classifies entries after the cursor and aggregates every
// entry.
func (s *AnalysisService) RunIncremental(ctx context.Context) (*models.RunResult, error) {
	return s.Run(ctx, models.RunModeIncremental)
}

// Run executes one analysis pass. A run requested while another holds the
// lock fails with ErrAnalysisInProgress before any work. Once started, the
// returned result always carries a summary, including when err is non-nil.
func (s *AnalysisService) Run(ctx context.Context, mode models.RunMode) (*models.RunResult, error) {
	if mode != models.RunModeFull && mode != models.RunModeIncremental {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown run mode %q", mode))
	}

	runID := uuid.NewString()
	release, err := s.lock.Acquire(ctx, runID)
	if err != nil {
		if errors.Is(err, appErrors.ErrAnalysisInProgress) {
			s.metrics.RecordRun(mode, runStatusRejected, 0)
			s.logger.Info("analysis run rejected", zap.String("mode", string(mode)), zap.Error(err))
		}
		return nil, err
	}
	defer release()

	started := s.clock().UTC()
	result := &models.RunResult{
		Summary:              models.RunSummary{RunID: runID, Mode: mode, StartedAt: started},
		FlaggedStudentsDelta: []models.StudentFlag{},
	}
	log := s.logger.With(zap.String("run_id", runID), zap.String("mode", string(mode)))
	log.Info("analysis run started")

	err = s.execute(ctx, log, result)

	summary := &result.Summary
	summary.FinishedAt = s.clock().UTC()
	summary.StudentsFailed = len(summary.FailedStudents)
	summary.Succeeded = err == nil
	duration := summary.FinishedAt.Sub(started)

	status := runStatusSucceeded
	if err != nil {
		status = runStatusFailed
		log.Error("analysis run failed", zap.Error(err), zap.Duration("duration", duration))
	} else {
		log.Info("analysis run finished",
			zap.String("snapshot_id", summary.SnapshotID),
			zap.Int("students_processed", summary.StudentsProcessed),
			zap.Int("students_failed", summary.StudentsFailed),
			zap.Int("entries_processed", summary.EntriesProcessed),
			zap.Int("flags_created", summary.FlagsCreated),
			zap.Int("flags_updated", summary.FlagsUpdated),
			zap.Duration("duration", duration),
		)
	}
	s.metrics.RecordRun(mode, status, duration)
	s.metrics.AddEntriesProcessed(summary.EntriesProcessed)

	return result, err
}

type studentOutcome struct {
	hierarchy  models.HierarchyContext
	resolved   bool
	inputs     []AggregationInput
	signals    []models.RiskSignal
	entries    int
	classified int
	malformed  int
	newest     *models.JournalEntry
}

func (s *AnalysisService) execute(ctx context.Context, log *zap.Logger, result *models.RunResult) error {
	summary := &result.Summary
	now := summary.StartedAt

	var cursor *models.AnalysisCursor
	if summary.Mode == models.RunModeIncremental {
		current, err := s.cursors.Get(ctx, s.cursorSource)
		if err != nil && !errors.Is(err, appErrors.ErrNotFound) {
			return appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to read analysis cursor")
		}
		cursor = current
	}

	students, err := s.source.Students(ctx, models.StudentFilter{})
	if err != nil {
		return err
	}
	summary.StudentsTotal = len(students)

	fetched := s.source.Fetch(ctx, students)

	var (
		inputs    []AggregationInput
		signals   []models.RiskSignal
		contexts  = make(map[string]models.HierarchyContext, len(fetched))
		newest    *models.JournalEntry
		anyFailed bool
	)
	for _, res := range fetched {
		if res.Err != nil {
			anyFailed = true
			s.recordFailure(log, summary, res.Student.ID, stageFetch, res.Err)
			continue
		}

		outcome, err := s.processStudent(log, res, cursor)
		if err != nil {
			anyFailed = true
			s.recordFailure(log, summary, res.Student.ID, stageProcess, err)
			continue
		}

		summary.StudentsProcessed++
		summary.EntriesProcessed += outcome.entries
		summary.EntriesClassified += outcome.classified
		summary.MalformedEntries += outcome.malformed
		summary.SignalsDetected += len(outcome.signals)
		summary.EntriesAggregated += len(outcome.inputs)
		if !outcome.resolved {
			summary.UnresolvedStudents = append(summary.UnresolvedStudents, res.Student.ID)
		}

		contexts[res.Student.ID] = outcome.hierarchy
		inputs = append(inputs, outcome.inputs...)
		signals = append(signals, outcome.signals...)
		if outcome.newest != nil && (newest == nil || newestCursor(newest).After(*outcome.newest)) {
			newest = outcome.newest
		}
	}

	snapshot := s.aggregator.Aggregate(now, inputs)
	snapshot.RunID = summary.RunID

	previous, err := s.snapshots.Latest(ctx)
	if err != nil && !errors.Is(err, appErrors.ErrNotFound) {
		return appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to read previous snapshot")
	}
	ApplyGrowth(snapshot, previous)

	for _, group := range GroupSignals(signals, contexts) {
		existing, err := s.flagStore.Get(ctx, group.Key)
		if err != nil {
			if !errors.Is(err, appErrors.ErrNotFound) {
				return appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to read student flag")
			}
			existing = nil
		}

		change, changed := s.flags.Apply(existing, group, now)
		if !changed {
			continue
		}
		if err := s.flagStore.Upsert(ctx, &change.Flag); err != nil {
			return appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to save student flag")
		}

		action := "updated"
		if change.Created {
			action = "created"
			summary.FlagsCreated++
		} else {
			summary.FlagsUpdated++
		}
		s.metrics.RecordFlagWrite(change.Flag.IssueType, action)
		result.FlaggedStudentsDelta = append(result.FlaggedStudentsDelta, change.Flag)
	}

	if err := s.snapshots.Save(ctx, snapshot); err != nil {
		return appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to save analytics snapshot")
	}
	summary.SnapshotID = snapshot.ID
	result.Snapshot = snapshot

	if err := s.cache.InvalidateInsights(ctx); err != nil {
		log.Warn("failed to invalidate insights cache", zap.Error(err))
	}

	switch {
	case newest == nil:
	case anyFailed:
		// Entries of skipped students must be classified by a later run.
		log.Warn("cursor not advanced: some students failed", zap.Int("students_failed", len(summary.FailedStudents)))
	default:
		next := models.AnalysisCursor{
			Source:      s.cursorSource,
			LastEntryAt: newest.CreatedAt,
			LastEntryID: newest.ID,
			UpdatedAt:   s.clock().UTC(),
		}
		if cursor == nil || cursor.After(*newest) {
			if err := s.cursors.Advance(ctx, next); err != nil {
				return appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to advance analysis cursor")
			}
		}
	}

	return nil
}

// processStudent decodes, counts and classifies one student's entries.
// Panics are turned into a per-student error.
func (s *AnalysisService) processStudent(log *zap.Logger, res StudentEntries, cursor *models.AnalysisCursor) (outcome studentOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = studentOutcome{}
			err = appErrors.WrapAs(fmt.Errorf("panic: %v", r), appErrors.ErrStudentProcessing, "")
		}
	}()

	outcome.hierarchy = res.Student.Hierarchy()
	outcome.resolved = true
	if verr := s.validate.Struct(outcome.hierarchy); verr != nil {
		outcome.resolved = false
		log.Warn("student hierarchy unresolved; entries excluded from aggregation",
			zap.String("student_id", res.Student.ID),
			zap.Error(appErrors.WrapAs(verr, appErrors.ErrUnresolvedHierarchy, "")),
		)
	}

	for i := range res.Entries {
		entry := res.Entries[i]
		outcome.entries++
		if outcome.newest == nil || newestCursor(outcome.newest).After(entry) {
			outcome.newest = &res.Entries[i]
		}

		body, perr := ParseTextBody(entry.Body)
		if perr != nil {
			outcome.malformed++
			log.Debug("malformed journal entry", zap.String("entry_id", entry.ID), zap.String("student_id", res.Student.ID), zap.Error(perr))
		}

		if outcome.resolved {
			outcome.inputs = append(outcome.inputs, AggregationInput{
				Entry:     entry,
				Hierarchy: outcome.hierarchy,
				Words:     CountWords(body),
			})
		}

		if perr != nil || s.classifier == nil || !cursor.After(entry) {
			continue
		}
		outcome.classified++
		outcome.signals = append(outcome.signals, s.classifier.Classify(entry, ExtractText(body))...)
	}

	return outcome, nil
}

func (s *AnalysisService) recordFailure(log *zap.Logger, summary *models.RunSummary, studentID, stage string, err error) {
	summary.FailedStudents = append(summary.FailedStudents, models.StudentFailure{
		StudentID: studentID,
		Stage:     stage,
		Reason:    err.Error(),
	})
	s.metrics.RecordStudentFailure(stage)
	log.Warn("student skipped", zap.String("student_id", studentID), zap.String("stage", stage), zap.Error(err))
}

// newestCursor positions a cursor on entry so After finds later entries.
func newestCursor(entry *models.JournalEntry) *models.AnalysisCursor {
	return &models.AnalysisCursor{LastEntryAt: entry.CreatedAt, LastEntryID: entry.ID}
}
