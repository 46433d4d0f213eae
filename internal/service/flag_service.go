package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/journal-insights-api/internal/models"
	appErrors "github.com/noah-isme/journal-insights-api/pkg/errors"
	"github.com/noah-isme/journal-insights-api/pkg/export"
)

// Export formats.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

var flagExportHeaders = []string{
	"Student ID", "Student", "District", "School", "Class", "Issue",
	"Flag Count", "First Flagged", "Last Flagged", "Resources Delivered", "Latest Excerpt",
}

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// FlagExport is a rendered flag listing.
type FlagExport struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// FlagService exposes flag reads, maintenance and the resource delivery
// write path.
type FlagService struct {
	store  FlagStore
	csv    datasetRenderer
	pdf    datasetRenderer
	clock  func() time.Time
	logger *zap.Logger
}

// NewFlagService constructs a FlagService. Nil renderers use pkg/export.
func NewFlagService(store FlagStore, csv, pdf datasetRenderer, logger *zap.Logger) *FlagService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVRenderer()
	}
	if pdf == nil {
		pdf = export.NewPDFRenderer()
	}
	return &FlagService{store: store, csv: csv, pdf: pdf, clock: time.Now, logger: logger}
}

// FlaggedStudents lists flags in scope, most recently flagged first.
func (s *FlagService) FlaggedStudents(ctx context.Context, filter models.FlagFilter) ([]models.StudentFlag, error) {
	if filter.IssueType != "" && !filter.IssueType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown issue type %q", filter.IssueType))
	}
	flags, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if flags == nil {
		flags = []models.StudentFlag{}
	}
	return flags, nil
}

// ClearAllFlags deletes every flag and returns how many were removed.
func (s *FlagService) ClearAllFlags(ctx context.Context) (int, error) {
	removed, err := s.store.ClearAll(ctx)
	if err != nil {
		return 0, appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to clear flags")
	}
	s.logger.Info("student flags cleared", zap.Int("removed", removed))
	return removed, nil
}

// MarkResourcesDelivered records that count resources were assigned for
// the flag. ResourcesDelivered turns true on the first delivery and stays
// true; the count accumulates.
func (s *FlagService) MarkResourcesDelivered(ctx context.Context, key models.FlagKey, count int) (*models.StudentFlag, error) {
	if !key.IssueType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown issue type %q", key.IssueType))
	}
	if key.StudentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student id required")
	}
	if count <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "resource count must be positive")
	}

	flag, err := s.store.MarkResourcesDelivered(ctx, key, count, s.clock().UTC())
	if err != nil {
		return nil, err
	}
	s.logger.Info("resources delivered",
		zap.String("student_id", key.StudentID),
		zap.String("issue_type", string(key.IssueType)),
		zap.Int("count", count),
	)
	return flag, nil
}

// ExportFlags renders the flags in scope as csv or pdf.
func (s *FlagService) ExportFlags(ctx context.Context, filter models.FlagFilter, format string) (*FlagExport, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	flags, err := s.FlaggedStudents(ctx, filter)
	if err != nil {
		return nil, err
	}

	dataset := export.Dataset{Title: "Flagged Students", Headers: flagExportHeaders}
	for _, flag := range flags {
		dataset.Rows = append(dataset.Rows, flagRow(flag))
	}

	var (
		payload     []byte
		contentType string
	)
	if format == ExportFormatPDF {
		payload, err = s.pdf.Render(dataset)
		contentType = "application/pdf"
	} else {
		payload, err = s.csv.Render(dataset)
		contentType = "text/csv"
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render flag export")
	}

	return &FlagExport{
		Filename:    fmt.Sprintf("flagged-students-%s.%s", s.clock().UTC().Format("20060102-150405"), format),
		ContentType: contentType,
		Payload:     payload,
	}, nil
}

func flagRow(flag models.StudentFlag) map[string]string {
	latest := ""
	if len(flag.Excerpts) > 0 {
		latest = flag.Excerpts[0].Text
	}
	delivered := "no"
	if flag.ResourcesDelivered {
		delivered = "yes (" + strconv.Itoa(flag.DeliveredResourcesCount) + ")"
	}
	return map[string]string{
		"Student ID":          flag.StudentID,
		"Student":             flag.StudentName,
		"District":            flag.DistrictID,
		"School":              flag.SchoolID,
		"Class":               flag.ClassID,
		"Issue":               string(flag.IssueType),
		"Flag Count":          strconv.Itoa(flag.FlagCount),
		"First Flagged":       flag.DateFirstFlagged.UTC().Format(time.RFC3339),
		"Last Flagged":        flag.DateLastFlagged.UTC().Format(time.RFC3339),
		"Resources Delivered": delivered,
		"Latest Excerpt":      latest,
	}
}
