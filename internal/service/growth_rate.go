package service

import (
	"math"

	"github.com/noah-isme/journal-insights-api/internal/models"
)

// GrowthPercent compares a window count against the previous snapshot.
func GrowthPercent(previous, current int) int {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	// Halves round toward positive infinity.
	return int(math.Floor(float64(current-previous)/float64(previous)*100 + 0.5))
}

// ApplyGrowth fills weekly and monthly growth on every level of current
// using the matching records of previous. Records missing from previous keep
// nil growth. A nil previous leaves current untouched.
func ApplyGrowth(current, previous *models.AnalyticsSnapshot) {
	if current == nil || previous == nil {
		return
	}
	for id, stats := range current.DistrictStats {
		if prev, ok := previous.DistrictStats[id]; ok && prev != nil {
			setGrowth(&stats.LevelStats, &prev.LevelStats)
		}
	}
	for id, stats := range current.SchoolStats {
		if prev, ok := previous.SchoolStats[id]; ok && prev != nil {
			setGrowth(&stats.LevelStats, &prev.LevelStats)
		}
	}
	for id, stats := range current.ClassStats {
		if prev, ok := previous.ClassStats[id]; ok && prev != nil {
			setGrowth(&stats.LevelStats, &prev.LevelStats)
		}
	}
	for id, stats := range current.StudentStats {
		if prev, ok := previous.StudentStats[id]; ok && prev != nil {
			setGrowth(&stats.LevelStats, &prev.LevelStats)
		}
	}
}

func setGrowth(current, previous *models.LevelStats) {
	weekly := GrowthPercent(previous.WeeklyEntries, current.WeeklyEntries)
	monthly := GrowthPercent(previous.MonthlyEntries, current.MonthlyEntries)
	current.WeeklyGrowthPct = &weekly
	current.MonthlyGrowthPct = &monthly
}
