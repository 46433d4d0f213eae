package models

import "time"

// LevelStats is the statistics shape shared by every hierarchy level.
// Growth percentages stay nil when the previous snapshot has no record for
// the same ID.
type LevelStats struct {
	TotalWords          int            `json:"total_words"`
	TotalEntries        int            `json:"total_entries"`
	ActiveStudentCount  int            `json:"active_student_count"`
	AvgWordsPerStudent  int            `json:"avg_words_per_student"`
	WeeklyEntries       int            `json:"weekly_entries"`
	MonthlyEntries      int            `json:"monthly_entries"`
	WeeklyWords         int            `json:"weekly_words"`
	MonthlyWords        int            `json:"monthly_words"`
	WeeklyAvgWords      float64        `json:"weekly_avg_words"`
	MonthlyAvgWords     float64        `json:"monthly_avg_words"`
	WeeklyGrowthPct     *int           `json:"weekly_growth_pct,omitempty"`
	MonthlyGrowthPct    *int           `json:"monthly_growth_pct,omitempty"`
	EmotionDistribution map[string]int `json:"emotion_distribution"`
}

// DistrictStats aggregates one district.
type DistrictStats struct {
	LevelStats
	Name string `json:"name,omitempty"`
}

// SchoolStats aggregates one school.
type SchoolStats struct {
	LevelStats
	DistrictID string `json:"district_id"`
	Name       string `json:"name,omitempty"`
}

// ClassStats aggregates one class.
type ClassStats struct {
	LevelStats
	SchoolID string `json:"school_id"`
	Name     string `json:"name,omitempty"`
}

// StudentStats aggregates one student.
type StudentStats struct {
	LevelStats
	ClassID       string    `json:"class_id"`
	Name          string    `json:"name,omitempty"`
	LastEntryDate time.Time `json:"last_entry_date"`
}

// AnalyticsSnapshot is the immutable result of one analysis run.
type AnalyticsSnapshot struct {
	ID             string                    `json:"id"`
	Timestamp      time.Time                 `json:"timestamp"`
	RunID          string                    `json:"run_id,omitempty"`
	TotalWords     int                       `json:"total_words"`
	TotalEntries   int                       `json:"total_entries"`
	ActiveStudents int                       `json:"active_students"`
	DistrictStats  map[string]*DistrictStats `json:"district_stats"`
	SchoolStats    map[string]*SchoolStats   `json:"school_stats"`
	ClassStats     map[string]*ClassStats    `json:"class_stats"`
	StudentStats   map[string]*StudentStats  `json:"student_stats"`
}

// SnapshotID derives the snapshot identifier from its timestamp.
func SnapshotID(ts time.Time) string {
	return ts.UTC().Format("20060102T150405.000000000Z")
}

// ScopeFilter narrows snapshot and flag reads to part of the hierarchy.
// The most specific non-empty field wins.
type ScopeFilter struct {
	DistrictID string `form:"districtId" json:"district_id,omitempty"`
	SchoolID   string `form:"schoolId" json:"school_id,omitempty"`
	ClassID    string `form:"classId" json:"class_id,omitempty"`
	StudentID  string `form:"studentId" json:"student_id,omitempty"`
}

// IsZero reports whether no scope was requested.
func (f ScopeFilter) IsZero() bool {
	return f.DistrictID == "" && f.SchoolID == "" && f.ClassID == "" && f.StudentID == ""
}
