package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/journal-insights-api/internal/models"
	"github.com/noah-isme/journal-insights-api/pkg/config"
	appErrors "github.com/noah-isme/journal-insights-api/pkg/errors"
)

type prefixDecrypter struct{}

func (prefixDecrypter) MaybeDecrypt(raw, studentID string) string {
	return studentID + ":" + raw
}

func TestEntrySourceFetchKeepsOrderAndDecrypts(t *testing.T) {
	store := &fakeEntryStore{}
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("s%02d", i)
		store.students = append(store.students, student(id, "C1", "S1", "D1"))
		store.add(entry(id+"-b", id, "second", time.Hour))
		store.add(entry(id+"-a", id, "first", 2*time.Hour))
	}
	source := NewEntrySource(store, prefixDecrypter{}, config.BreakerConfig{MinRequests: 100, FailureRatio: 1}, 3, nil, nil)

	students, err := source.Students(context.Background(), models.StudentFilter{})
	require.NoError(t, err)
	results := source.Fetch(context.Background(), students)

	require.Len(t, results, 25)
	for i, res := range results {
		require.NoError(t, res.Err)
		assert.Equal(t, students[i].ID, res.Student.ID)
		require.Len(t, res.Entries, 2)
		assert.Equal(t, res.Student.ID+"-a", res.Entries[0].ID)
		assert.Equal(t, res.Student.ID+":first", res.Entries[0].Body)
	}
	assert.Equal(t, 25, store.listCalls)
}

func TestEntrySourceStudentsDropsOtherRoles(t *testing.T) {
	teacher := student("t1", "C1", "S1", "D1")
	teacher.Role = models.RoleTeacher
	unlabelled := student("s2", "C1", "S1", "D1")
	unlabelled.Role = ""
	store := &fakeEntryStore{students: []models.StudentRecord{student("s1", "C1", "S1", "D1"), teacher, unlabelled}}
	source := NewEntrySource(store, nil, config.BreakerConfig{}, 0, nil, nil)

	students, err := source.Students(context.Background(), models.StudentFilter{})
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, "s1", students[0].ID)
	assert.Equal(t, "s2", students[1].ID)
}

func TestEntrySourceBreakerOpens(t *testing.T) {
	store := &fakeEntryStore{failFor: map[string]error{}}
	var students []models.StudentRecord
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("s%d", i)
		students = append(students, student(id, "C1", "S1", "D1"))
		store.failFor[id] = errors.New("unavailable")
	}
	metrics := NewMetricsService()
	source := NewEntrySource(store, nil, config.BreakerConfig{
		MaxRequests:  1,
		Timeout:      time.Minute,
		MinRequests:  2,
		FailureRatio: 0.5,
	}, 1, metrics, nil)

	results := source.Fetch(context.Background(), students)

	assert.Equal(t, 2, store.listCalls)
	for _, res := range results {
		require.Error(t, res.Err)
		assert.True(t, errors.Is(res.Err, appErrors.ErrStudentProcessing))
	}
	assert.True(t, errors.Is(results[2].Err, gobreaker.ErrOpenState))
	assert.True(t, errors.Is(results[3].Err, gobreaker.ErrOpenState))
}

func TestEntrySourceCancelledContext(t *testing.T) {
	store := &fakeEntryStore{}
	source := NewEntrySource(store, nil, config.BreakerConfig{}, 2, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := source.Fetch(ctx, []models.StudentRecord{student("s1", "C1", "S1", "D1")})
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
	assert.Equal(t, 0, store.listCalls)
}
