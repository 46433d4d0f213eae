package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/journal-insights-api/internal/models"
)

func signal(entryID, student string, issue models.IssueType, age time.Duration) models.RiskSignal {
	return models.RiskSignal{
		EntryID:             entryID,
		StudentID:           student,
		Category:            issue,
		MatchedKeywordCount: 1,
		MatchedKeywords:     []string{"hopeless"},
		Score:               1,
		Excerpt:             "excerpt " + entryID,
		EntryDate:           testNow.Add(-age),
	}
}

func TestGroupSignals(t *testing.T) {
	students := map[string]models.HierarchyContext{"s1": hierarchy("s1", "C1", "S1", "D1")}
	groups := GroupSignals([]models.RiskSignal{
		signal("e1", "s2", models.IssueDepression, time.Hour),
		signal("e2", "s1", models.IssueBullying, time.Hour),
		signal("e3", "s1", models.IssueDepression, time.Hour),
		signal("e4", "s1", models.IssueBullying, 2*time.Hour),
	}, students)

	require.Len(t, groups, 3)
	assert.Equal(t, models.FlagKey{StudentID: "s1", IssueType: models.IssueDepression}, groups[0].Key)
	assert.Equal(t, models.FlagKey{StudentID: "s1", IssueType: models.IssueBullying}, groups[1].Key)
	assert.Len(t, groups[1].Signals, 2)
	assert.Equal(t, "C1", groups[1].Student.ClassID)
	assert.Equal(t, "s2", groups[2].Student.StudentID)
}

func TestApplyCreatesFlag(t *testing.T) {
	agg := NewFlagAggregator(0)
	group := FlagGroup{
		Key:     models.FlagKey{StudentID: "s1", IssueType: models.IssueDepression},
		Student: hierarchy("s1", "C1", "S1", "D1"),
		Signals: []models.RiskSignal{
			signal("e1", "s1", models.IssueDepression, 3*time.Hour),
			signal("e2", "s1", models.IssueDepression, time.Hour),
		},
	}

	change, ok := agg.Apply(nil, group, testNow)
	require.True(t, ok)
	assert.True(t, change.Created)

	flag := change.Flag
	assert.Equal(t, 2, flag.FlagCount)
	assert.Equal(t, testNow, flag.DateFirstFlagged)
	assert.Equal(t, testNow, flag.DateLastFlagged)
	assert.Equal(t, testNow, flag.LastUpdated)
	assert.False(t, flag.ResourcesDelivered)
	assert.Equal(t, "Student s1", flag.StudentName)
	assert.Equal(t, "D1", flag.DistrictID)
	require.Len(t, flag.Excerpts, 2)
	assert.Equal(t, "e2", flag.Excerpts[0].EntryID)
	assert.ElementsMatch(t, []string{"e1", "e2"}, flag.ProcessedEntryIDs)
}

func TestApplyReplayIsNoOp(t *testing.T) {
	agg := NewFlagAggregator(0)
	group := FlagGroup{
		Key:     models.FlagKey{StudentID: "s1", IssueType: models.IssueBullying},
		Signals: []models.RiskSignal{signal("e1", "s1", models.IssueBullying, time.Hour)},
	}

	first, ok := agg.Apply(nil, group, testNow)
	require.True(t, ok)

	_, ok = agg.Apply(&first.Flag, group, testNow.Add(time.Hour))
	assert.False(t, ok)
	assert.Equal(t, 1, first.Flag.FlagCount)
	assert.Equal(t, testNow, first.Flag.LastUpdated)
}

func TestApplyUpdatesAndPreservesResources(t *testing.T) {
	agg := NewFlagAggregator(3)
	deliveredAt := testNow.Add(-24 * time.Hour)
	existing := &models.StudentFlag{
		StudentID:               "s1",
		IssueType:               models.IssueDepression,
		FlagCount:               2,
		DateFirstFlagged:        testNow.Add(-72 * time.Hour),
		DateLastFlagged:         testNow.Add(-48 * time.Hour),
		LastUpdated:             testNow.Add(-48 * time.Hour),
		Excerpts:                []models.FlagExcerpt{{EntryID: "old2"}, {EntryID: "old1"}},
		ResourcesDelivered:      true,
		ResourcesDeliveredAt:    &deliveredAt,
		DeliveredResourcesCount: 4,
		ProcessedEntryIDs:       []string{"old1", "old2"},
	}
	group := FlagGroup{
		Key: existing.Key(),
		Signals: []models.RiskSignal{
			signal("old2", "s1", models.IssueDepression, 48*time.Hour),
			signal("new1", "s1", models.IssueDepression, 2*time.Hour),
			signal("new2", "s1", models.IssueDepression, time.Hour),
			signal("new2", "s1", models.IssueDepression, time.Hour),
		},
	}

	change, ok := agg.Apply(existing, group, testNow)
	require.True(t, ok)
	assert.False(t, change.Created)
	assert.Equal(t, 2, change.NewEntries)

	flag := change.Flag
	assert.Equal(t, 4, flag.FlagCount)
	assert.Equal(t, existing.DateFirstFlagged, flag.DateFirstFlagged)
	assert.Equal(t, testNow, flag.DateLastFlagged)
	assert.True(t, !flag.DateFirstFlagged.After(flag.DateLastFlagged))

	assert.True(t, flag.ResourcesDelivered)
	assert.Equal(t, &deliveredAt, flag.ResourcesDeliveredAt)
	assert.Equal(t, 4, flag.DeliveredResourcesCount)

	require.Len(t, flag.Excerpts, 3)
	assert.Equal(t, []string{"new2", "new1", "old2"}, []string{flag.Excerpts[0].EntryID, flag.Excerpts[1].EntryID, flag.Excerpts[2].EntryID})
	assert.Equal(t, []string{"old1", "old2", "new2", "new1"}, flag.ProcessedEntryIDs)

	assert.Len(t, existing.Excerpts, 2)
	assert.Len(t, existing.ProcessedEntryIDs, 2)
}

func TestApplyExcerptBound(t *testing.T) {
	agg := NewFlagAggregator(0)
	group := FlagGroup{Key: models.FlagKey{StudentID: "s1", IssueType: models.IssueIntroversion}}
	for i := 0; i < 8; i++ {
		group.Signals = append(group.Signals, signal(fmt.Sprintf("e%d", i), "s1", models.IssueIntroversion, time.Duration(i)*time.Hour))
	}

	change, ok := agg.Apply(nil, group, testNow)
	require.True(t, ok)
	assert.Equal(t, 8, change.Flag.FlagCount)
	require.Len(t, change.Flag.Excerpts, defaultExcerptLimit)
	assert.Equal(t, "e0", change.Flag.Excerpts[0].EntryID)
	assert.Equal(t, "e4", change.Flag.Excerpts[4].EntryID)
}
