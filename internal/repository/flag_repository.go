package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/journal-insights-api/internal/models"
	appErrors "github.com/noah-isme/journal-insights-api/pkg/errors"
)

const flagColumns = `student_id, student_name, district_id, school_id, class_id, issue_type, flag_count,
date_first_flagged, date_last_flagged, last_updated, excerpts, resources_delivered, resources_delivered_at,
delivered_resources_count, processed_entry_ids`

type flagRow struct {
	StudentID               string         `db:"student_id"`
	StudentName             string         `db:"student_name"`
	DistrictID              string         `db:"district_id"`
	SchoolID                string         `db:"school_id"`
	ClassID                 string         `db:"class_id"`
	IssueType               string         `db:"issue_type"`
	FlagCount               int            `db:"flag_count"`
	DateFirstFlagged        time.Time      `db:"date_first_flagged"`
	DateLastFlagged         time.Time      `db:"date_last_flagged"`
	LastUpdated             time.Time      `db:"last_updated"`
	Excerpts                []byte         `db:"excerpts"`
	ResourcesDelivered      bool           `db:"resources_delivered"`
	ResourcesDeliveredAt    sql.NullTime   `db:"resources_delivered_at"`
	DeliveredResourcesCount int            `db:"delivered_resources_count"`
	ProcessedEntryIDs       pq.StringArray `db:"processed_entry_ids"`
}

func (r flagRow) toModel() (*models.StudentFlag, error) {
	flag := &models.StudentFlag{
		StudentID:               r.StudentID,
		StudentName:             r.StudentName,
		DistrictID:              r.DistrictID,
		SchoolID:                r.SchoolID,
		ClassID:                 r.ClassID,
		IssueType:               models.IssueType(r.IssueType),
		FlagCount:               r.FlagCount,
		DateFirstFlagged:        r.DateFirstFlagged,
		DateLastFlagged:         r.DateLastFlagged,
		LastUpdated:             r.LastUpdated,
		ResourcesDelivered:      r.ResourcesDelivered,
		DeliveredResourcesCount: r.DeliveredResourcesCount,
		ProcessedEntryIDs:       []string(r.ProcessedEntryIDs),
	}
	if r.ResourcesDeliveredAt.Valid {
		at := r.ResourcesDeliveredAt.Time
		flag.ResourcesDeliveredAt = &at
	}
	if len(r.Excerpts) > 0 {
		if err := json.Unmarshal(r.Excerpts, &flag.Excerpts); err != nil {
			return nil, fmt.Errorf("decode flag excerpts: %w", err)
		}
	}
	return flag, nil
}

// FlagRepository persists student flags keyed by (student_id, issue_type).
type FlagRepository struct {
	db *sqlx.DB
}

// NewFlagRepository constructs a FlagRepository.
func NewFlagRepository(db *sqlx.DB) *FlagRepository {
	return &FlagRepository{db: db}
}

// Get returns one flag or ErrNotFound.
func (r *FlagRepository) Get(ctx context.Context, key models.FlagKey) (*models.StudentFlag, error) {
	query := `SELECT ` + flagColumns + ` FROM student_flags WHERE student_id = $1 AND issue_type = $2`
	var row flagRow
	if err := r.db.GetContext(ctx, &row, query, key.StudentID, string(key.IssueType)); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("get student flag: %w", err)
	}
	return row.toModel()
}

// Upsert inserts or replaces the flag. Resource delivery columns are only
// ever written by MarkResourcesDelivered.
func (r *FlagRepository) Upsert(ctx context.Context, flag *models.StudentFlag) error {
	excerpts := flag.Excerpts
	if excerpts == nil {
		excerpts = []models.FlagExcerpt{}
	}
	payload, err := json.Marshal(excerpts)
	if err != nil {
		return fmt.Errorf("marshal flag excerpts: %w", err)
	}
	processed := flag.ProcessedEntryIDs
	if processed == nil {
		processed = []string{}
	}

	const query = `INSERT INTO student_flags (student_id, student_name, district_id, school_id, class_id, issue_type, flag_count,
date_first_flagged, date_last_flagged, last_updated, excerpts, processed_entry_ids)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (student_id, issue_type) DO UPDATE SET
student_name = EXCLUDED.student_name,
district_id = EXCLUDED.district_id,
school_id = EXCLUDED.school_id,
class_id = EXCLUDED.class_id,
flag_count = EXCLUDED.flag_count,
date_first_flagged = EXCLUDED.date_first_flagged,
date_last_flagged = EXCLUDED.date_last_flagged,
last_updated = EXCLUDED.last_updated,
excerpts = EXCLUDED.excerpts,
processed_entry_ids = EXCLUDED.processed_entry_ids`
	if _, err := r.db.ExecContext(ctx, query,
		flag.StudentID, flag.StudentName, flag.DistrictID, flag.SchoolID, flag.ClassID, string(flag.IssueType),
		flag.FlagCount, flag.DateFirstFlagged, flag.DateLastFlagged, flag.LastUpdated, payload, pq.Array(processed),
	); err != nil {
		return fmt.Errorf("upsert student flag: %w", err)
	}
	return nil
}

// List returns flags matching filter, most recently flagged first.
func (r *FlagRepository) List(ctx context.Context, filter models.FlagFilter) ([]models.StudentFlag, error) {
	var (
		conditions []string
		args       []interface{}
	)
	add := func(column string, value interface{}) {
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)+1))
		args = append(args, value)
	}
	if filter.DistrictID != "" {
		add("district_id", filter.DistrictID)
	}
	if filter.SchoolID != "" {
		add("school_id", filter.SchoolID)
	}
	if filter.ClassID != "" {
		add("class_id", filter.ClassID)
	}
	if filter.StudentID != "" {
		add("student_id", filter.StudentID)
	}
	if filter.IssueType != "" {
		add("issue_type", string(filter.IssueType))
	}
	if filter.ResourcesDelivered != nil {
		add("resources_delivered", *filter.ResourcesDelivered)
	}

	query := `SELECT ` + flagColumns + ` FROM student_flags`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY date_last_flagged DESC, student_id ASC"

	var rows []flagRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list student flags: %w", err)
	}
	flags := make([]models.StudentFlag, 0, len(rows))
	for _, row := range rows {
		flag, err := row.toModel()
		if err != nil {
			return nil, err
		}
		flags = append(flags, *flag)
	}
	return flags, nil
}

// MarkResourcesDelivered sets the delivery marker, keeps the first delivery
// time and adds count to the running total.
func (r *FlagRepository) MarkResourcesDelivered(ctx context.Context, key models.FlagKey, count int, at time.Time) (*models.StudentFlag, error) {
	query := `UPDATE student_flags SET resources_delivered = TRUE,
resources_delivered_at = COALESCE(resources_delivered_at, $3),
delivered_resources_count = delivered_resources_count + $4,
last_updated = $3
WHERE student_id = $1 AND issue_type = $2
RETURNING ` + flagColumns
	var row flagRow
	if err := r.db.GetContext(ctx, &row, query, key.StudentID, string(key.IssueType), at, count); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("mark resources delivered: %w", err)
	}
	return row.toModel()
}

// ClearAll deletes every flag.
func (r *FlagRepository) ClearAll(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM student_flags`)
	if err != nil {
		return 0, fmt.Errorf("clear student flags: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear student flags: %w", err)
	}
	return int(affected), nil
}
