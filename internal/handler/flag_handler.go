package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/journal-insights-api/internal/dto"
	"github.com/noah-isme/journal-insights-api/internal/models"
	"github.com/noah-isme/journal-insights-api/internal/service"
	appErrors "github.com/noah-isme/journal-insights-api/pkg/errors"
	"github.com/noah-isme/journal-insights-api/pkg/response"
)

type flagService interface {
	FlaggedStudents(ctx context.Context, filter models.FlagFilter) ([]models.StudentFlag, error)
	ClearAllFlags(ctx context.Context) (int, error)
	MarkResourcesDelivered(ctx context.Context, key models.FlagKey, count int) (*models.StudentFlag, error)
	ExportFlags(ctx context.Context, filter models.FlagFilter, format string) (*service.FlagExport, error)
}

// FlagHandler exposes the flagged-students endpoints.
type FlagHandler struct {
	service   flagService
	validator *validator.Validate
}

// NewFlagHandler constructs the handler.
func NewFlagHandler(service flagService) *FlagHandler {
	return &FlagHandler{service: service, validator: validator.New()}
}

// List godoc
// @Summary List flagged students
// @Tags Flags
// @Produce json
// @Param issueType query string false "Issue type" Enums(depression, bullying, introversion, language_difficulty)
// @Param resourcesDelivered query bool false "Filter on resource delivery"
// @Param districtId query string false "District ID"
// @Param schoolId query string false "School ID"
// @Param classId query string false "Class ID"
// @Param studentId query string false "Student ID"
// @Success 200 {object} response.Envelope
// @Router /flags [get]
func (h *FlagHandler) List(c *gin.Context) {
	filter, ok := h.bindFilter(c)
	if !ok {
		return
	}
	flags, err := h.service.FlaggedStudents(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, flags, map[string]interface{}{"count": len(flags)})
}

// Clear godoc
// @Summary Remove every flag
// @Tags Flags
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /flags [delete]
func (h *FlagHandler) Clear(c *gin.Context) {
	removed, err := h.service.ClearAllFlags(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ClearFlagsResponse{Removed: removed})
}

// DeliverResources godoc
// @Summary Record resources delivered for a flag
// @Tags Flags
// @Accept json
// @Produce json
// @Param studentId path string true "Student ID"
// @Param issueType path string true "Issue type"
// @Param payload body dto.DeliverResourcesRequest true "Delivered resources"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /flags/{studentId}/{issueType}/resources [post]
func (h *FlagHandler) DeliverResources(c *gin.Context) {
	var req dto.DeliverResourcesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid resource payload"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "count must be at least 1"))
		return
	}
	key := models.FlagKey{
		StudentID: strings.TrimSpace(c.Param("studentId")),
		IssueType: models.IssueType(strings.ToLower(c.Param("issueType"))),
	}
	flag, err := h.service.MarkResourcesDelivered(c.Request.Context(), key, req.Count)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, flag)
}

// Export godoc
// @Summary Export flagged students
// @Tags Flags
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf" Enums(csv, pdf)
// @Success 200 {file} file
// @Router /flags/export [get]
func (h *FlagHandler) Export(c *gin.Context) {
	filter, ok := h.bindFilter(c)
	if !ok {
		return
	}
	out, err := h.service.ExportFlags(c.Request.Context(), filter, c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, out.Filename, out.ContentType, out.Payload)
}

func (h *FlagHandler) bindFilter(c *gin.Context) (models.FlagFilter, bool) {
	var filter models.FlagFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid flag filter"))
		return filter, false
	}
	filter.IssueType = models.IssueType(strings.ToLower(string(filter.IssueType)))
	return filter, true
}
