package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/journal-insights-api/internal/models"
	appErrors "github.com/noah-isme/journal-insights-api/pkg/errors"
	"github.com/noah-isme/journal-insights-api/pkg/export"
)

func seededFlagStore() *fakeFlagStore {
	store := &fakeFlagStore{}
	_ = store.Upsert(context.Background(), &models.StudentFlag{
		StudentID:        "s1",
		StudentName:      "Ada",
		ClassID:          "C1",
		IssueType:        models.IssueDepression,
		FlagCount:        2,
		DateFirstFlagged: testNow.Add(-48 * time.Hour),
		DateLastFlagged:  testNow,
		Excerpts:         []models.FlagExcerpt{{EntryID: "e2", Text: "I feel hopeless"}},
	})
	_ = store.Upsert(context.Background(), &models.StudentFlag{
		StudentID: "s2",
		ClassID:   "C2",
		IssueType: models.IssueBullying,
		FlagCount: 1,
	})
	return store
}

func TestFlaggedStudentsFilter(t *testing.T) {
	svc := NewFlagService(seededFlagStore(), nil, nil, zap.NewNop())

	flags, err := svc.FlaggedStudents(context.Background(), models.FlagFilter{IssueType: models.IssueBullying})
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, "s2", flags[0].StudentID)

	_, err = svc.FlaggedStudents(context.Background(), models.FlagFilter{IssueType: "gloom"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	empty, err := svc.FlaggedStudents(context.Background(), models.FlagFilter{ScopeFilter: models.ScopeFilter{ClassID: "nope"}})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestMarkResourcesDelivered(t *testing.T) {
	store := seededFlagStore()
	svc := NewFlagService(store, nil, nil, zap.NewNop())
	svc.clock = func() time.Time { return testNow }
	key := models.FlagKey{StudentID: "s1", IssueType: models.IssueDepression}

	flag, err := svc.MarkResourcesDelivered(context.Background(), key, 2)
	require.NoError(t, err)
	assert.True(t, flag.ResourcesDelivered)
	require.NotNil(t, flag.ResourcesDeliveredAt)
	assert.Equal(t, testNow, *flag.ResourcesDeliveredAt)

	svc.clock = func() time.Time { return testNow.Add(time.Hour) }
	flag, err = svc.MarkResourcesDelivered(context.Background(), key, 1)
	require.NoError(t, err)
	assert.True(t, flag.ResourcesDelivered)
	assert.Equal(t, testNow, *flag.ResourcesDeliveredAt)
	assert.Equal(t, 3, flag.DeliveredResourcesCount)

	_, err = svc.MarkResourcesDelivered(context.Background(), key, 0)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.MarkResourcesDelivered(context.Background(), models.FlagKey{StudentID: "missing", IssueType: models.IssueBullying}, 1)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestClearAllFlags(t *testing.T) {
	store := seededFlagStore()
	svc := NewFlagService(store, nil, nil, zap.NewNop())

	removed, err := svc.ClearAllFlags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Empty(t, store.flags)
}

type recordingRenderer struct {
	dataset export.Dataset
	err     error
}

func (r *recordingRenderer) Render(data export.Dataset) ([]byte, error) {
	r.dataset = data
	if r.err != nil {
		return nil, r.err
	}
	return []byte("rendered"), nil
}

func TestExportFlags(t *testing.T) {
	pdf := &recordingRenderer{}
	svc := NewFlagService(seededFlagStore(), nil, pdf, zap.NewNop())
	svc.clock = func() time.Time { return testNow }

	csvOut, err := svc.ExportFlags(context.Background(), models.FlagFilter{}, "")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", csvOut.ContentType)
	assert.Equal(t, "flagged-students-20260320-120000.csv", csvOut.Filename)
	lines := strings.Split(strings.TrimSpace(string(csvOut.Payload)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "Student ID,Student,"))
	assert.Contains(t, lines[1], "I feel hopeless")

	pdfOut, err := svc.ExportFlags(context.Background(), models.FlagFilter{}, "PDF")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", pdfOut.ContentType)
	assert.Equal(t, []byte("rendered"), pdfOut.Payload)
	assert.Len(t, pdf.dataset.Rows, 2)
	assert.Equal(t, "depression", pdf.dataset.Rows[0]["Issue"])

	_, err = svc.ExportFlags(context.Background(), models.FlagFilter{}, "xlsx")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}
