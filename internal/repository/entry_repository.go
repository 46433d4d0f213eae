package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/journal-insights-api/internal/models"
)

// EntryRepository reads students and their journal entries.
type EntryRepository struct {
	db *sqlx.DB
}

// NewEntryRepository constructs an EntryRepository.
func NewEntryRepository(db *sqlx.DB) *EntryRepository {
	return &EntryRepository{db: db}
}

// ListStudents returns student users with their hierarchy claims. Missing
// claims come back as empty strings.
func (r *EntryRepository) ListStudents(ctx context.Context, filter models.StudentFilter) ([]models.StudentRecord, error) {
	args := []interface{}{models.RoleStudent}
	conditions := []string{"u.role = $1"}

	if filter.DistrictID != "" {
		conditions = append(conditions, fmt.Sprintf("u.district_id = $%d", len(args)+1))
		args = append(args, filter.DistrictID)
	}
	if filter.SchoolID != "" {
		conditions = append(conditions, fmt.Sprintf("u.school_id = $%d", len(args)+1))
		args = append(args, filter.SchoolID)
	}
	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("u.class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}

	query := fmt.Sprintf(`SELECT u.id, u.name, u.role,
        COALESCE(u.district_id, '') AS district_id, COALESCE(d.name, '') AS district_name,
        COALESCE(u.school_id, '') AS school_id, COALESCE(s.name, '') AS school_name,
        COALESCE(u.class_id, '') AS class_id, COALESCE(c.name, '') AS class_name
        FROM users u
        LEFT JOIN districts d ON d.id = u.district_id
        LEFT JOIN schools s ON s.id = u.school_id
        LEFT JOIN classes c ON c.id = u.class_id
        WHERE %s ORDER BY u.id`, strings.Join(conditions, " AND "))

	var students []models.StudentRecord
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return students, nil
}

// ListEntries returns a student's entries oldest first.
func (r *EntryRepository) ListEntries(ctx context.Context, studentID string) ([]models.JournalEntry, error) {
	const query = `SELECT id, student_id, body, COALESCE(emotion, '') AS emotion, created_at
FROM journal_entries WHERE student_id = $1 ORDER BY created_at ASC, id ASC`
	var entries []models.JournalEntry
	if err := r.db.SelectContext(ctx, &entries, query, studentID); err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	return entries, nil
}
