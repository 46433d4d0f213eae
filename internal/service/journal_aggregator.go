package service

import (
	"math"
	"strings"
	"time"

	"github.com/noah-isme/journal-insights-api/internal/models"
)

const unspecifiedEmotion = "unspecified"

// AggregationInput is one resolved entry handed to the fold.
type AggregationInput struct {
	Entry     models.JournalEntry
	Hierarchy models.HierarchyContext
	Words     int
}

// JournalAggregator folds entries into per-level statistics.
type JournalAggregator struct {
	weeklyWindow  time.Duration
	monthlyWindow time.Duration
}

// NewJournalAggregator constructs an aggregator. Non-positive windows fall
// back to 7 and 30 days.
func NewJournalAggregator(weeklyWindow, monthlyWindow time.Duration) *JournalAggregator {
	if weeklyWindow <= 0 {
		weeklyWindow = 7 * 24 * time.Hour
	}
	if monthlyWindow <= 0 {
		monthlyWindow = 30 * 24 * time.Hour
	}
	return &JournalAggregator{weeklyWindow: weeklyWindow, monthlyWindow: monthlyWindow}
}

type memberSet map[string]map[string]struct{}

func (m memberSet) add(group, student string) {
	members, ok := m[group]
	if !ok {
		members = make(map[string]struct{})
		m[group] = members
	}
	members[student] = struct{}{}
}

// Aggregate runs a single pass over inputs and returns the pre-growth
// snapshot body. Windowed averages are recomputed on every qualifying entry,
// in input order.
func (a *JournalAggregator) Aggregate(now time.Time, inputs []AggregationInput) *models.AnalyticsSnapshot {
	now = now.UTC()
	snapshot := &models.AnalyticsSnapshot{
		ID:            models.SnapshotID(now),
		Timestamp:     now,
		DistrictStats: make(map[string]*models.DistrictStats),
		SchoolStats:   make(map[string]*models.SchoolStats),
		ClassStats:    make(map[string]*models.ClassStats),
		StudentStats:  make(map[string]*models.StudentStats),
	}

	weekStart := now.Add(-a.weeklyWindow)
	monthStart := now.Add(-a.monthlyWindow)

	districtMembers := memberSet{}
	schoolMembers := memberSet{}
	classMembers := memberSet{}

	for _, in := range inputs {
		h := in.Hierarchy

		district, ok := snapshot.DistrictStats[h.DistrictID]
		if !ok {
			district = &models.DistrictStats{LevelStats: newLevelStats(), Name: h.DistrictName}
			snapshot.DistrictStats[h.DistrictID] = district
		}
		school, ok := snapshot.SchoolStats[h.SchoolID]
		if !ok {
			school = &models.SchoolStats{LevelStats: newLevelStats(), DistrictID: h.DistrictID, Name: h.SchoolName}
			snapshot.SchoolStats[h.SchoolID] = school
		}
		class, ok := snapshot.ClassStats[h.ClassID]
		if !ok {
			class = &models.ClassStats{LevelStats: newLevelStats(), SchoolID: h.SchoolID, Name: h.ClassName}
			snapshot.ClassStats[h.ClassID] = class
		}
		student, ok := snapshot.StudentStats[h.StudentID]
		if !ok {
			student = &models.StudentStats{LevelStats: newLevelStats(), ClassID: h.ClassID, Name: h.StudentName}
			snapshot.StudentStats[h.StudentID] = student
		}

		created := in.Entry.CreatedAt
		weekly := created.After(weekStart)
		monthly := created.After(monthStart)
		emotion := normalizeEmotion(in.Entry.Emotion)

		for _, stats := range []*models.LevelStats{&student.LevelStats, &class.LevelStats, &school.LevelStats, &district.LevelStats} {
			stats.TotalEntries++
			stats.TotalWords += in.Words
			stats.EmotionDistribution[emotion]++
			if weekly {
				stats.WeeklyEntries++
				stats.WeeklyWords += in.Words
				stats.WeeklyAvgWords = float64(stats.WeeklyWords) / float64(stats.WeeklyEntries)
			}
			if monthly {
				stats.MonthlyEntries++
				stats.MonthlyWords += in.Words
				stats.MonthlyAvgWords = float64(stats.MonthlyWords) / float64(stats.MonthlyEntries)
			}
		}

		if created.After(student.LastEntryDate) {
			student.LastEntryDate = created
		}

		snapshot.TotalEntries++
		snapshot.TotalWords += in.Words

		districtMembers.add(h.DistrictID, h.StudentID)
		schoolMembers.add(h.SchoolID, h.StudentID)
		classMembers.add(h.ClassID, h.StudentID)
	}

	for _, student := range snapshot.StudentStats {
		finishLevel(&student.LevelStats, 1)
	}
	for id, class := range snapshot.ClassStats {
		finishLevel(&class.LevelStats, len(classMembers[id]))
	}
	for id, school := range snapshot.SchoolStats {
		finishLevel(&school.LevelStats, len(schoolMembers[id]))
	}
	for id, district := range snapshot.DistrictStats {
		finishLevel(&district.LevelStats, len(districtMembers[id]))
	}
	snapshot.ActiveStudents = len(snapshot.StudentStats)

	return snapshot
}

func newLevelStats() models.LevelStats {
	return models.LevelStats{EmotionDistribution: make(map[string]int)}
}

func finishLevel(stats *models.LevelStats, active int) {
	stats.ActiveStudentCount = active
	stats.AvgWordsPerStudent = AverageWords(stats.TotalWords, active)
}

// AverageWords returns round(total/active), or 0 without active students.
func AverageWords(total, active int) int {
	if active <= 0 {
		return 0
	}
	return int(math.Round(float64(total) / float64(active)))
}

func normalizeEmotion(emotion string) string {
	emotion = strings.ToLower(strings.TrimSpace(emotion))
	if emotion == "" {
		return unspecifiedEmotion
	}
	return emotion
}
