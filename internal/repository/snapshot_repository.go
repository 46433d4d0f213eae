package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/journal-insights-api/internal/models"
	appErrors "github.com/noah-isme/journal-insights-api/pkg/errors"
)

// SnapshotRepository persists analytics snapshots as JSONB documents with
// their headline totals alongside.
type SnapshotRepository struct {
	db *sqlx.DB
}

// NewSnapshotRepository constructs a SnapshotRepository.
func NewSnapshotRepository(db *sqlx.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Save inserts the snapshot as one row.
func (r *SnapshotRepository) Save(ctx context.Context, snapshot *models.AnalyticsSnapshot) error {
	if snapshot.ID == "" {
		snapshot.ID = models.SnapshotID(snapshot.Timestamp)
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	const query = `INSERT INTO analytics_snapshots (id, taken_at, run_id, total_words, total_entries, active_students, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.db.ExecContext(ctx, query,
		snapshot.ID, snapshot.Timestamp, snapshot.RunID,
		snapshot.TotalWords, snapshot.TotalEntries, snapshot.ActiveStudents, payload,
	); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot or ErrNotFound.
func (r *SnapshotRepository) Latest(ctx context.Context) (*models.AnalyticsSnapshot, error) {
	const query = `SELECT payload FROM analytics_snapshots ORDER BY taken_at DESC LIMIT 1`
	var payload []byte
	if err := r.db.GetContext(ctx, &payload, query); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	var snapshot models.AnalyticsSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snapshot, nil
}

// Since returns snapshots taken at or after since, oldest first.
func (r *SnapshotRepository) Since(ctx context.Context, since time.Time) ([]models.AnalyticsSnapshot, error) {
	const query = `SELECT payload FROM analytics_snapshots WHERE taken_at >= $1 ORDER BY taken_at ASC`
	var payloads [][]byte
	if err := r.db.SelectContext(ctx, &payloads, query, since); err != nil {
		return nil, fmt.Errorf("list snapshots since: %w", err)
	}
	snapshots := make([]models.AnalyticsSnapshot, 0, len(payloads))
	for _, payload := range payloads {
		var snapshot models.AnalyticsSnapshot
		if err := json.Unmarshal(payload, &snapshot); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}
