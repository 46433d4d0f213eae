package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/journal-insights-api/internal/models"
	"github.com/noah-isme/journal-insights-api/pkg/config"
	appErrors "github.com/noah-isme/journal-insights-api/pkg/errors"
	"github.com/noah-isme/journal-insights-api/pkg/journalcrypto"
)

type fakeEntryStore struct {
	mu        sync.Mutex
	students  []models.StudentRecord
	entries   map[string][]models.JournalEntry
	failFor   map[string]error
	listCalls int
}

func (f *fakeEntryStore) ListStudents(_ context.Context, _ models.StudentFilter) ([]models.StudentRecord, error) {
	out := make([]models.StudentRecord, len(f.students))
	copy(out, f.students)
	return out, nil
}

func (f *fakeEntryStore) ListEntries(_ context.Context, studentID string) ([]models.JournalEntry, error) {
	f.mu.Lock()
	f.listCalls++
	f.mu.Unlock()
	if err := f.failFor[studentID]; err != nil {
		return nil, err
	}
	return append([]models.JournalEntry(nil), f.entries[studentID]...), nil
}

func (f *fakeEntryStore) add(entry models.JournalEntry) {
	if f.entries == nil {
		f.entries = map[string][]models.JournalEntry{}
	}
	f.entries[entry.StudentID] = append(f.entries[entry.StudentID], entry)
}

type fakeSnapshotStore struct {
	saved   []models.AnalyticsSnapshot
	saveErr error
}

func (f *fakeSnapshotStore) Save(_ context.Context, snapshot *models.AnalyticsSnapshot) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, *snapshot)
	return nil
}

func (f *fakeSnapshotStore) Latest(_ context.Context) (*models.AnalyticsSnapshot, error) {
	if len(f.saved) == 0 {
		return nil, appErrors.ErrNotFound
	}
	latest := f.saved[len(f.saved)-1]
	return &latest, nil
}

func (f *fakeSnapshotStore) Since(_ context.Context, since time.Time) ([]models.AnalyticsSnapshot, error) {
	var out []models.AnalyticsSnapshot
	for _, snapshot := range f.saved {
		if !snapshot.Timestamp.Before(since) {
			out = append(out, snapshot)
		}
	}
	return out, nil
}

type fakeFlagStore struct {
	flags   map[models.FlagKey]models.StudentFlag
	upserts int
}

func (f *fakeFlagStore) Get(_ context.Context, key models.FlagKey) (*models.StudentFlag, error) {
	flag, ok := f.flags[key]
	if !ok {
		return nil, appErrors.ErrNotFound
	}
	return &flag, nil
}

func (f *fakeFlagStore) Upsert(_ context.Context, flag *models.StudentFlag) error {
	if f.flags == nil {
		f.flags = map[models.FlagKey]models.StudentFlag{}
	}
	next := *flag
	if existing, ok := f.flags[flag.Key()]; ok {
		next.ResourcesDelivered = existing.ResourcesDelivered
		next.ResourcesDeliveredAt = existing.ResourcesDeliveredAt
		next.DeliveredResourcesCount = existing.DeliveredResourcesCount
	}
	f.flags[flag.Key()] = next
	f.upserts++
	return nil
}

func (f *fakeFlagStore) List(_ context.Context, filter models.FlagFilter) ([]models.StudentFlag, error) {
	var out []models.StudentFlag
	for _, flag := range f.flags {
		if filter.IssueType != "" && flag.IssueType != filter.IssueType {
			continue
		}
		if filter.ClassID != "" && flag.ClassID != filter.ClassID {
			continue
		}
		out = append(out, flag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (f *fakeFlagStore) MarkResourcesDelivered(_ context.Context, key models.FlagKey, count int, at time.Time) (*models.StudentFlag, error) {
	flag, ok := f.flags[key]
	if !ok {
		return nil, appErrors.ErrNotFound
	}
	if !flag.ResourcesDelivered {
		flag.ResourcesDelivered = true
		flag.ResourcesDeliveredAt = &at
	}
	flag.DeliveredResourcesCount += count
	f.flags[key] = flag
	return &flag, nil
}

func (f *fakeFlagStore) ClearAll(_ context.Context) (int, error) {
	n := len(f.flags)
	f.flags = nil
	return n, nil
}

type fakeCursorStore struct {
	cursor   *models.AnalysisCursor
	advances int
}

func (f *fakeCursorStore) Get(_ context.Context, _ string) (*models.AnalysisCursor, error) {
	if f.cursor == nil {
		return nil, appErrors.ErrNotFound
	}
	c := *f.cursor
	return &c, nil
}

func (f *fakeCursorStore) Advance(_ context.Context, cursor models.AnalysisCursor) error {
	f.cursor = &cursor
	f.advances++
	return nil
}

type pipeline struct {
	entries   *fakeEntryStore
	snapshots *fakeSnapshotStore
	flags     *fakeFlagStore
	cursors   *fakeCursorStore
	lock      *LocalRunLock
	service   *AnalysisService
	now       time.Time
}

func newPipeline(t *testing.T, decrypter Decrypter) *pipeline {
	t.Helper()
	cfg, err := LoadKeywordConfig("")
	require.NoError(t, err)
	classifier, err := NewRiskClassifier(cfg)
	require.NoError(t, err)

	p := &pipeline{
		entries:   &fakeEntryStore{},
		snapshots: &fakeSnapshotStore{},
		flags:     &fakeFlagStore{},
		cursors:   &fakeCursorStore{},
		lock:      NewLocalRunLock(),
		now:       testNow,
	}
	source := NewEntrySource(p.entries, decrypter, config.BreakerConfig{MaxRequests: 1, MinRequests: 100, FailureRatio: 1}, 4, nil, zap.NewNop())
	p.service = NewAnalysisService(AnalysisDependencies{
		Source:     source,
		Classifier: classifier,
		Snapshots:  p.snapshots,
		FlagStore:  p.flags,
		Cursors:    p.cursors,
		Lock:       p.lock,
		Clock:      func() time.Time { return p.now },
	}, zap.NewNop())
	return p
}

func student(id, class, school, district string) models.StudentRecord {
	return models.StudentRecord{
		ID:         id,
		Name:       "Student " + id,
		Role:       models.RoleStudent,
		ClassID:    class,
		SchoolID:   school,
		DistrictID: district,
	}
}

func entry(id, student, body string, age time.Duration) models.JournalEntry {
	return models.JournalEntry{ID: id, StudentID: student, Body: body, Emotion: "calm", CreatedAt: testNow.Add(-age)}
}

func TestRunFullClassScenario(t *testing.T) {
	secret, err := journalcrypto.New("test-master-secret")
	require.NoError(t, err)
	p := newPipeline(t, secret)

	sealed, err := secret.Encrypt("five words are right here", "s2")
	require.NoError(t, err)

	p.entries.students = []models.StudentRecord{
		student("s1", "C1", "S1", "D1"),
		student("s2", "C1", "S1", "D1"),
		student("s3", "C1", "S1", "D1"),
	}
	p.entries.add(entry("e1", "s1", "one two three four five six seven eight nine ten", 2*time.Hour))
	p.entries.add(entry("e2", "s1", `[{"insert":""}]`, time.Hour))
	p.entries.add(entry("e3", "s2", sealed, 3*time.Hour))

	result, err := p.service.RunFull(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result.Snapshot)

	class := result.Snapshot.ClassStats["C1"]
	require.NotNil(t, class)
	assert.Equal(t, 15, class.TotalWords)
	assert.Equal(t, 2, class.ActiveStudentCount)
	assert.Equal(t, 8, class.AvgWordsPerStudent)
	assert.Equal(t, 3, class.TotalEntries)

	summary := result.Summary
	assert.True(t, summary.Succeeded)
	assert.Equal(t, 3, summary.StudentsTotal)
	assert.Equal(t, 3, summary.StudentsProcessed)
	assert.Equal(t, 0, summary.StudentsFailed)
	assert.Equal(t, 3, summary.EntriesProcessed)
	assert.Equal(t, 3, summary.EntriesClassified)
	assert.Equal(t, result.Snapshot.ID, summary.SnapshotID)
	assert.NotEmpty(t, summary.RunID)

	require.Len(t, p.snapshots.saved, 1)
	require.NotNil(t, p.cursors.cursor)
	assert.Equal(t, "e2", p.cursors.cursor.LastEntryID)
	assert.Equal(t, defaultCursorSource, p.cursors.cursor.Source)
}

func TestRunFullReplayDoesNotDoubleCount(t *testing.T) {
	p := newPipeline(t, nil)
	p.entries.students = []models.StudentRecord{student("s1", "C1", "S1", "D1")}
	p.entries.add(entry("e1", "s1", "I feel so hopeless and worthless today", time.Hour))

	first, err := p.service.RunFull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Summary.FlagsCreated)
	require.Len(t, first.FlaggedStudentsDelta, 1)

	key := models.FlagKey{StudentID: "s1", IssueType: models.IssueDepression}
	before := p.flags.flags[key]
	assert.Equal(t, 1, before.FlagCount)

	p.now = testNow.Add(time.Hour)
	second, err := p.service.RunFull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Summary.FlagsCreated)
	assert.Equal(t, 0, second.Summary.FlagsUpdated)
	assert.Empty(t, second.FlaggedStudentsDelta)

	after := p.flags.flags[key]
	assert.Equal(t, 1, after.FlagCount)
	assert.Equal(t, before.LastUpdated, after.LastUpdated)
	assert.Equal(t, 1, p.flags.upserts)

	assert.Len(t, p.snapshots.saved, 2)
	assert.Equal(t, p.snapshots.saved[0].TotalWords, p.snapshots.saved[1].TotalWords)
}

func TestRunIncrementalClassifiesOnlyNewEntries(t *testing.T) {
	p := newPipeline(t, nil)
	p.entries.students = []models.StudentRecord{student("s1", "C1", "S1", "D1")}
	p.entries.add(entry("e1", "s1", "They bullied me at lunch", 3*time.Hour))

	_, err := p.service.RunIncremental(context.Background())
	require.NoError(t, err)

	p.entries.add(entry("e2", "s1", "I was teased again and excluded", time.Hour))
	p.now = testNow.Add(time.Minute)

	result, err := p.service.RunIncremental(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Summary.EntriesProcessed)
	assert.Equal(t, 1, result.Summary.EntriesClassified)
	assert.Equal(t, 1, result.Summary.FlagsUpdated)

	flag := p.flags.flags[models.FlagKey{StudentID: "s1", IssueType: models.IssueBullying}]
	assert.Equal(t, 2, flag.FlagCount)
	assert.Equal(t, testNow, flag.DateFirstFlagged)
	assert.Equal(t, testNow.Add(time.Minute), flag.DateLastFlagged)
	require.Len(t, flag.Excerpts, 2)
	assert.Equal(t, "e2", flag.Excerpts[0].EntryID)

	assert.Equal(t, 2, result.Snapshot.StudentStats["s1"].TotalEntries)
	assert.Equal(t, "e2", p.cursors.cursor.LastEntryID)
}

func TestRunCollectsStudentFailures(t *testing.T) {
	p := newPipeline(t, nil)
	p.entries.students = []models.StudentRecord{
		student("s1", "C1", "S1", "D1"),
		student("s2", "C1", "S1", "D1"),
	}
	p.entries.add(entry("e1", "s1", "three words here", time.Hour))
	p.entries.add(entry("e2", "s2", "never read", time.Hour))
	p.entries.failFor = map[string]error{"s2": errors.New("store timeout")}

	result, err := p.service.RunFull(context.Background())
	require.NoError(t, err)

	summary := result.Summary
	assert.Equal(t, 1, summary.StudentsProcessed)
	assert.Equal(t, 1, summary.StudentsFailed)
	require.Len(t, summary.FailedStudents, 1)
	assert.Equal(t, "s2", summary.FailedStudents[0].StudentID)
	assert.Equal(t, stageFetch, summary.FailedStudents[0].Stage)
	assert.Contains(t, summary.FailedStudents[0].Reason, "store timeout")

	assert.Equal(t, 3, result.Snapshot.TotalWords)
	assert.Len(t, p.snapshots.saved, 1)
	assert.Nil(t, p.cursors.cursor)
}

func TestRunRecoversFromPanickingDecrypter(t *testing.T) {
	p := newPipeline(t, panicDecrypter{student: "s2"})
	p.entries.students = []models.StudentRecord{
		student("s1", "C1", "S1", "D1"),
		student("s2", "C1", "S1", "D1"),
	}
	p.entries.add(entry("e1", "s1", "fine", time.Hour))
	p.entries.add(entry("e2", "s2", "boom", time.Hour))

	result, err := p.service.RunFull(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Summary.FailedStudents, 1)
	assert.Equal(t, "s2", result.Summary.FailedStudents[0].StudentID)
	assert.Equal(t, 1, result.Snapshot.TotalWords)
}

type panicDecrypter struct {
	student string
}

func (d panicDecrypter) MaybeDecrypt(raw, studentID string) string {
	if studentID == d.student {
		panic("corrupt key material")
	}
	return raw
}

func TestRunUnresolvedHierarchyStillFlags(t *testing.T) {
	p := newPipeline(t, nil)
	orphan := student("s9", "C9", "", "D1")
	p.entries.students = []models.StudentRecord{student("s1", "C1", "S1", "D1"), orphan}
	p.entries.add(entry("e1", "s1", "two words", time.Hour))
	p.entries.add(entry("e9", "s9", "I feel hopeless", time.Hour))

	result, err := p.service.RunFull(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"s9"}, result.Summary.UnresolvedStudents)
	assert.Equal(t, 1, result.Summary.EntriesAggregated)
	assert.NotContains(t, result.Snapshot.StudentStats, "s9")
	assert.NotContains(t, result.Snapshot.ClassStats, "C9")
	assert.Equal(t, 2, result.Snapshot.TotalWords)

	flag, ok := p.flags.flags[models.FlagKey{StudentID: "s9", IssueType: models.IssueDepression}]
	require.True(t, ok)
	assert.Equal(t, "C9", flag.ClassID)
	assert.Empty(t, flag.SchoolID)
}

func TestRunMalformedEntryCountsZeroWords(t *testing.T) {
	p := newPipeline(t, nil)
	p.entries.students = []models.StudentRecord{student("s1", "C1", "S1", "D1")}
	p.entries.add(entry("e1", "s1", `{"ops":"hopeless"}`, time.Hour))
	p.entries.add(entry("e2", "s1", "four words right here", 2*time.Hour))

	result, err := p.service.RunFull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Summary.MalformedEntries)
	assert.Equal(t, 1, result.Summary.EntriesClassified)
	assert.Equal(t, 2, result.Snapshot.StudentStats["s1"].TotalEntries)
	assert.Equal(t, 4, result.Snapshot.StudentStats["s1"].TotalWords)
	assert.Empty(t, p.flags.flags)
}

func TestRunCountsAndFlagsBracketedPlainText(t *testing.T) {
	p := newPipeline(t, nil)
	p.entries.students = []models.StudentRecord{student("s1", "C1", "S1", "D1")}
	p.entries.add(entry("e1", "s1", "[Monday] I feel hopeless and worthless today", time.Hour))

	result, err := p.service.RunFull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Summary.MalformedEntries)
	assert.Equal(t, 1, result.Summary.EntriesClassified)
	assert.Equal(t, 7, result.Snapshot.StudentStats["s1"].TotalWords)

	flag, ok := p.flags.flags[models.FlagKey{StudentID: "s1", IssueType: models.IssueDepression}]
	require.True(t, ok)
	assert.Equal(t, 1, flag.FlagCount)
}

func TestRunAppliesGrowthFromPreviousSnapshot(t *testing.T) {
	p := newPipeline(t, nil)
	p.entries.students = []models.StudentRecord{student("s1", "C1", "S1", "D1")}
	p.entries.add(entry("e1", "s1", "a", time.Hour))
	p.entries.add(entry("e2", "s1", "b", 2*time.Hour))

	first, err := p.service.RunFull(context.Background())
	require.NoError(t, err)
	assert.Nil(t, first.Snapshot.ClassStats["C1"].WeeklyGrowthPct)

	p.entries.add(entry("e3", "s1", "c", 30*time.Minute))
	p.now = testNow.Add(time.Hour)
	second, err := p.service.RunFull(context.Background())
	require.NoError(t, err)

	class := second.Snapshot.ClassStats["C1"]
	require.NotNil(t, class.WeeklyGrowthPct)
	assert.Equal(t, 50, *class.WeeklyGrowthPct)
}

func TestRunPreservesDeliveredResources(t *testing.T) {
	p := newPipeline(t, nil)
	p.entries.students = []models.StudentRecord{student("s1", "C1", "S1", "D1")}
	p.entries.add(entry("e1", "s1", "I feel hopeless", 2*time.Hour))

	_, err := p.service.RunFull(context.Background())
	require.NoError(t, err)

	key := models.FlagKey{StudentID: "s1", IssueType: models.IssueDepression}
	_, err = p.flags.MarkResourcesDelivered(context.Background(), key, 2, testNow)
	require.NoError(t, err)

	p.entries.add(entry("e2", "s1", "still worthless", time.Hour))
	p.now = testNow.Add(time.Hour)
	_, err = p.service.RunFull(context.Background())
	require.NoError(t, err)

	flag := p.flags.flags[key]
	assert.Equal(t, 2, flag.FlagCount)
	assert.True(t, flag.ResourcesDelivered)
	assert.Equal(t, 2, flag.DeliveredResourcesCount)
}

func TestRunRejectsOverlappingRun(t *testing.T) {
	p := newPipeline(t, nil)
	release, err := p.lock.Acquire(context.Background(), "other-run")
	require.NoError(t, err)
	defer release()

	result, err := p.service.RunFull(context.Background())
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, appErrors.ErrAnalysisInProgress))
	assert.Equal(t, 0, p.entries.listCalls)
	assert.Empty(t, p.snapshots.saved)
}

func TestRunPersistenceFailureReportsSummary(t *testing.T) {
	p := newPipeline(t, nil)
	p.entries.students = []models.StudentRecord{student("s1", "C1", "S1", "D1")}
	p.entries.add(entry("e1", "s1", "words", time.Hour))
	p.snapshots.saveErr = errors.New("disk full")

	result, err := p.service.RunFull(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrPersistence))
	require.NotNil(t, result)
	assert.False(t, result.Summary.Succeeded)
	assert.Empty(t, result.Summary.SnapshotID)
	assert.Nil(t, result.Snapshot)
	assert.Nil(t, p.cursors.cursor)

	again, err := p.service.RunFull(context.Background())
	require.Error(t, err)
	assert.NotNil(t, again)
}

func TestRunRejectsUnknownMode(t *testing.T) {
	p := newPipeline(t, nil)
	_, err := p.service.Run(context.Background(), models.RunMode("weekly"))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.True(t, strings.Contains(err.Error(), "weekly"))
}
