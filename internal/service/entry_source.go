package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/journal-insights-api/internal/models"
	"github.com/noah-isme/journal-insights-api/pkg/config"
	appErrors "github.com/noah-isme/journal-insights-api/pkg/errors"
)

const defaultFetchConcurrency = 10

// EntryStore lists students and their journal entries.
type EntryStore interface {
	ListStudents(ctx context.Context, filter models.StudentFilter) ([]models.StudentRecord, error)
	ListEntries(ctx context.Context, studentID string) ([]models.JournalEntry, error)
}

// Decrypter opens journal bodies, returning raw content when it cannot.
type Decrypter interface {
	MaybeDecrypt(raw, studentID string) string
}

// StudentEntries is the fetch result for one student. Entry bodies are
// already decrypted and sorted oldest first.
type StudentEntries struct {
	Student models.StudentRecord
	Entries []models.JournalEntry
	Err     error
}

// EntrySource reads entries for many students with bounded fan-out.
type EntrySource struct {
	store       EntryStore
	decrypter   Decrypter
	breaker     *gobreaker.CircuitBreaker[[]models.JournalEntry]
	concurrency int
	metrics     *MetricsService
	logger      *zap.Logger
}

// NewEntrySource constructs the adapter. A nil decrypter passes bodies
// through untouched.
func NewEntrySource(store EntryStore, decrypter Decrypter, breakerCfg config.BreakerConfig, concurrency int, metrics *MetricsService, logger *zap.Logger) *EntrySource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = defaultFetchConcurrency
	}

	s := &EntrySource{
		store:       store,
		decrypter:   decrypter,
		concurrency: concurrency,
		metrics:     metrics,
		logger:      logger,
	}

	minRequests := breakerCfg.MinRequests
	ratio := breakerCfg.FailureRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 0.6
	}
	s.breaker = gobreaker.NewCircuitBreaker[[]models.JournalEntry](gobreaker.Settings{
		Name:        "entry-store",
		MaxRequests: breakerCfg.MaxRequests,
		Interval:    breakerCfg.Interval,
		Timeout:     breakerCfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests || counts.Requests == 0 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.SetBreakerState(breakerStateValue(to))
		},
	})

	return s
}

// Students lists the students in scope. Records carrying a non-student role
// are dropped.
func (s *EntrySource) Students(ctx context.Context, filter models.StudentFilter) ([]models.StudentRecord, error) {
	records, err := s.store.ListStudents(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	students := records[:0]
	for _, record := range records {
		if record.Role != "" && record.Role != models.RoleStudent {
			continue
		}
		students = append(students, record)
	}
	return students, nil
}

// Fetch loads and decrypts entries for every student. Failures are reported
// per student in the result and never abort the other fetches. Results keep
// the order of students.
func (s *EntrySource) Fetch(ctx context.Context, students []models.StudentRecord) []StudentEntries {
	results := make([]StudentEntries, len(students))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, student := range students {
		i, student := i, student
		g.Go(func() error {
			results[i] = s.fetchOne(gctx, student)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (s *EntrySource) fetchOne(ctx context.Context, student models.StudentRecord) (result StudentEntries) {
	result.Student = student
	defer func() {
		if r := recover(); r != nil {
			result.Entries = nil
			result.Err = appErrors.WrapAs(fmt.Errorf("panic: %v", r), appErrors.ErrStudentProcessing, "")
		}
	}()

	if err := ctx.Err(); err != nil {
		result.Err = appErrors.WrapAs(err, appErrors.ErrStudentProcessing, "")
		return result
	}

	entries, err := s.breaker.Execute(func() ([]models.JournalEntry, error) {
		return s.store.ListEntries(ctx, student.ID)
	})
	if err != nil {
		result.Err = appErrors.WrapAs(err, appErrors.ErrStudentProcessing, "failed to fetch journal entries")
		return result
	}

	decrypted := make([]models.JournalEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.StudentID == "" {
			entry.StudentID = student.ID
		}
		if s.decrypter != nil {
			entry.Body = s.decrypter.MaybeDecrypt(entry.Body, student.ID)
		}
		decrypted = append(decrypted, entry)
	}
	sort.SliceStable(decrypted, func(i, j int) bool {
		if !decrypted[i].CreatedAt.Equal(decrypted[j].CreatedAt) {
			return decrypted[i].CreatedAt.Before(decrypted[j].CreatedAt)
		}
		return decrypted[i].ID < decrypted[j].ID
	})

	result.Entries = decrypted
	return result
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
