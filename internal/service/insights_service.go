package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/journal-insights-api/internal/models"
	appErrors "github.com/noah-isme/journal-insights-api/pkg/errors"
)

// InsightsService provides read access to analytics snapshots with cache
// integration.
type InsightsService struct {
	snapshots SnapshotStore
	cache     *CacheService
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewInsightsService constructs an insights service.
func NewInsightsService(snapshots SnapshotStore, cache *CacheService, metrics *MetricsService, logger *zap.Logger) *InsightsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InsightsService{snapshots: snapshots, cache: cache, metrics: metrics, logger: logger}
}

// LatestSnapshot returns the newest snapshot narrowed to scope. The boolean
// reports a cache hit.
func (s *InsightsService) LatestSnapshot(ctx context.Context, scope models.ScopeFilter) (*models.AnalyticsSnapshot, bool, error) {
	key := insightsKey("latest", scope)
	var cached models.AnalyticsSnapshot
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, true, nil
	}

	start := time.Now()
	snapshot, err := s.snapshots.Latest(ctx)
	s.metrics.ObserveDBQuery("snapshot_latest", time.Since(start))
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "no analytics snapshot yet")
		}
		return nil, false, err
	}

	sliced := SliceSnapshot(snapshot, scope)
	if err := s.cache.Set(ctx, key, sliced, 0); err != nil {
		s.logger.Warn("cache latest snapshot", zap.Error(err))
	}
	return sliced, false, nil
}

// HistoricalSnapshots returns snapshots taken at or after since, oldest
// first, each narrowed to scope.
func (s *InsightsService) HistoricalSnapshots(ctx context.Context, scope models.ScopeFilter, since time.Time) ([]models.AnalyticsSnapshot, bool, error) {
	key := insightsKey("history", scope, since.UTC().Format(time.RFC3339))
	var cached []models.AnalyticsSnapshot
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, true, nil
	}

	start := time.Now()
	snapshots, err := s.snapshots.Since(ctx, since)
	s.metrics.ObserveDBQuery("snapshot_since", time.Since(start))
	if err != nil {
		return nil, false, err
	}

	sliced := make([]models.AnalyticsSnapshot, 0, len(snapshots))
	for i := range snapshots {
		sliced = append(sliced, *SliceSnapshot(&snapshots[i], scope))
	}
	if err := s.cache.Set(ctx, key, sliced, 0); err != nil {
		s.logger.Warn("cache snapshot history", zap.Error(err))
	}
	return sliced, false, nil
}

// SliceSnapshot keeps the part of snapshot under scope together with the
// ancestors of what it keeps. Run totals are replaced by the totals of the
// most specific scoped node. An empty scope returns snapshot unchanged.
func SliceSnapshot(snapshot *models.AnalyticsSnapshot, scope models.ScopeFilter) *models.AnalyticsSnapshot {
	if snapshot == nil || scope.IsZero() {
		return snapshot
	}

	out := &models.AnalyticsSnapshot{
		ID:            snapshot.ID,
		Timestamp:     snapshot.Timestamp,
		RunID:         snapshot.RunID,
		DistrictStats: make(map[string]*models.DistrictStats),
		SchoolStats:   make(map[string]*models.SchoolStats),
		ClassStats:    make(map[string]*models.ClassStats),
		StudentStats:  make(map[string]*models.StudentStats),
	}

	for studentID, student := range snapshot.StudentStats {
		if scope.StudentID != "" && studentID != scope.StudentID {
			continue
		}
		if scope.ClassID != "" && student.ClassID != scope.ClassID {
			continue
		}
		class := snapshot.ClassStats[student.ClassID]
		var schoolID string
		if class != nil {
			schoolID = class.SchoolID
		}
		if scope.SchoolID != "" && schoolID != scope.SchoolID {
			continue
		}
		school := snapshot.SchoolStats[schoolID]
		var districtID string
		if school != nil {
			districtID = school.DistrictID
		}
		if scope.DistrictID != "" && districtID != scope.DistrictID {
			continue
		}

		out.StudentStats[studentID] = student
		if class != nil {
			out.ClassStats[student.ClassID] = class
		}
		if school != nil {
			out.SchoolStats[schoolID] = school
		}
		if district := snapshot.DistrictStats[districtID]; district != nil {
			out.DistrictStats[districtID] = district
		}
	}

	var totals *models.LevelStats
	switch {
	case scope.StudentID != "":
		if st, ok := out.StudentStats[scope.StudentID]; ok {
			totals = &st.LevelStats
		}
	case scope.ClassID != "":
		if st, ok := out.ClassStats[scope.ClassID]; ok {
			totals = &st.LevelStats
		}
	case scope.SchoolID != "":
		if st, ok := out.SchoolStats[scope.SchoolID]; ok {
			totals = &st.LevelStats
		}
	default:
		if st, ok := out.DistrictStats[scope.DistrictID]; ok {
			totals = &st.LevelStats
		}
	}
	if totals != nil {
		out.TotalWords = totals.TotalWords
		out.TotalEntries = totals.TotalEntries
		out.ActiveStudents = totals.ActiveStudentCount
	}

	return out
}
