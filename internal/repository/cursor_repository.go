package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/journal-insights-api/internal/models"
	appErrors "github.com/noah-isme/journal-insights-api/pkg/errors"
)

// CursorRepository stores the incremental analysis position per source.
type CursorRepository struct {
	db *sqlx.DB
}

// NewCursorRepository constructs a CursorRepository.
func NewCursorRepository(db *sqlx.DB) *CursorRepository {
	return &CursorRepository{db: db}
}

// Get returns the cursor for source or ErrNotFound.
func (r *CursorRepository) Get(ctx context.Context, source string) (*models.AnalysisCursor, error) {
	const query = `SELECT source, last_entry_at, last_entry_id, updated_at FROM analysis_cursors WHERE source = $1`
	var cursor models.AnalysisCursor
	if err := r.db.GetContext(ctx, &cursor, query, source); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("get analysis cursor: %w", err)
	}
	return &cursor, nil
}

// Advance upserts the cursor row.
func (r *CursorRepository) Advance(ctx context.Context, cursor models.AnalysisCursor) error {
	if cursor.UpdatedAt.IsZero() {
		cursor.UpdatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO analysis_cursors (source, last_entry_at, last_entry_id, updated_at)
VALUES (:source, :last_entry_at, :last_entry_id, :updated_at)
ON CONFLICT (source) DO UPDATE SET last_entry_at = EXCLUDED.last_entry_at, last_entry_id = EXCLUDED.last_entry_id, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, cursor); err != nil {
		return fmt.Errorf("advance analysis cursor: %w", err)
	}
	return nil
}
