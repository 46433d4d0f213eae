package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/journal-insights-api/internal/dto"
	"github.com/noah-isme/journal-insights-api/internal/middleware"
	"github.com/noah-isme/journal-insights-api/internal/models"
	appErrors "github.com/noah-isme/journal-insights-api/pkg/errors"
	"github.com/noah-isme/journal-insights-api/pkg/response"
)

const defaultHistoryDays = 30

type analysisRunner interface {
	Run(ctx context.Context, mode models.RunMode) (*models.RunResult, error)
}

type insightsReader interface {
	LatestSnapshot(ctx context.Context, scope models.ScopeFilter) (*models.AnalyticsSnapshot, bool, error)
	HistoricalSnapshots(ctx context.Context, scope models.ScopeFilter, since time.Time) ([]models.AnalyticsSnapshot, bool, error)
}

// AnalysisHandler triggers analysis runs and serves their snapshots.
type AnalysisHandler struct {
	runner    analysisRunner
	insights  insightsReader
	validator *validator.Validate
	clock     func() time.Time
}

// NewAnalysisHandler constructs the handler.
func NewAnalysisHandler(runner analysisRunner, insights insightsReader) *AnalysisHandler {
	return &AnalysisHandler{runner: runner, insights: insights, validator: validator.New(), clock: time.Now}
}

// Run godoc
// @Summary Trigger an analysis run
// @Description Runs the aggregation and risk-signal pipeline. Returns 202 when some students were skipped and 409 while another run holds the lock.
// @Tags Analysis
// @Accept json
// @Produce json
// @Param mode query string false "full or incremental" Enums(full, incremental)
// @Param payload body dto.RunAnalysisRequest false "Run options"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /analysis/runs [post]
func (h *AnalysisHandler) Run(c *gin.Context) {
	if h.runner == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	var req dto.RunAnalysisRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid run payload"))
			return
		}
	}
	if mode := strings.TrimSpace(c.Query("mode")); mode != "" {
		req.Mode = mode
	}
	req.Mode = strings.ToLower(req.Mode)
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "mode must be full or incremental"))
		return
	}
	mode := models.RunMode(req.Mode)
	if mode == "" {
		mode = models.RunModeFull
	}

	result, err := h.runner.Run(c.Request.Context(), mode)
	if err != nil {
		if result != nil {
			response.ErrorWithData(c, err, result.Summary)
			return
		}
		response.Error(c, err)
		return
	}

	meta := map[string]interface{}{
		"run_id":          result.Summary.RunID,
		"students_failed": result.Summary.StudentsFailed,
	}
	if result.Summary.StudentsFailed > 0 {
		response.Accepted(c, result, meta)
		return
	}
	response.JSON(c, http.StatusOK, result, meta)
}

// Latest godoc
// @Summary Latest analytics snapshot
// @Tags Analysis
// @Produce json
// @Param districtId query string false "District ID"
// @Param schoolId query string false "School ID"
// @Param classId query string false "Class ID"
// @Param studentId query string false "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /analysis/snapshots/latest [get]
func (h *AnalysisHandler) Latest(c *gin.Context) {
	if h.insights == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	var scope models.ScopeFilter
	if err := c.ShouldBindQuery(&scope); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid scope"))
		return
	}
	start := time.Now()
	snapshot, cacheHit, err := h.insights.LatestSnapshot(c.Request.Context(), scope)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, snapshot, withProcessingTime(c, start))
}

// History godoc
// @Summary Historical analytics snapshots
// @Tags Analysis
// @Produce json
// @Param since query string false "RFC3339 lower bound"
// @Param days query int false "Trailing days, defaults to 30"
// @Param districtId query string false "District ID"
// @Param schoolId query string false "School ID"
// @Param classId query string false "Class ID"
// @Param studentId query string false "Student ID"
// @Success 200 {object} response.Envelope
// @Router /analysis/snapshots [get]
func (h *AnalysisHandler) History(c *gin.Context) {
	if h.insights == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	var query dto.SnapshotHistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid history query"))
		return
	}
	if err := h.validator.Struct(query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "days must be between 1 and 366"))
		return
	}

	var since time.Time
	if raw := strings.TrimSpace(query.Since); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid since, expected RFC3339"))
			return
		}
		since = parsed
	} else {
		days := query.Days
		if days == 0 {
			days = defaultHistoryDays
		}
		since = h.clock().UTC().AddDate(0, 0, -days)
	}

	start := time.Now()
	snapshots, cacheHit, err := h.insights.HistoricalSnapshots(c.Request.Context(), query.ScopeFilter, since)
	if err != nil {
		response.Error(c, err)
		return
	}
	if snapshots == nil {
		snapshots = []models.AnalyticsSnapshot{}
	}
	middleware.SetCacheHit(c, cacheHit)
	meta := withProcessingTime(c, start)
	meta["since"] = since.UTC().Format(time.RFC3339)
	meta["count"] = len(snapshots)
	response.JSON(c, http.StatusOK, snapshots, meta)
}

func withProcessingTime(c *gin.Context, start time.Time) map[string]interface{} {
	meta := middleware.ExtractMeta(c)
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["processing_time_ms"] = time.Since(start).Milliseconds()
	return meta
}
