package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/E1venking/Kuleli-English-Centre/internal/client"
)

// ExamReportRow is one archived exam report. The full per-part breakdown is
// stored as JSONB; the total is duplicated in a column for listing queries.
type ExamReportRow struct {
	ID        uuid.UUID       `json:"id"`
	SessionID uuid.UUID       `json:"session_id"`
	UserID    uuid.UUID       `json:"user_id"`
	Total     int             `json:"total"`
	Max       int             `json:"max"`
	Report    json.RawMessage `json:"report"`
	CreatedAt time.Time       `json:"created_at"`
}

// ReportRepository defines the interface for archived report access.
type ReportRepository interface {
	Save(ctx context.Context, row *ExamReportRow) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]ExamReportRow, error)
	GetBySession(ctx context.Context, sessionID uuid.UUID) (*ExamReportRow, error)
}

// PostgresReportRepository implements ReportRepository with PostgreSQL.
type PostgresReportRepository struct {
	db *client.PostgresClient
}

// NewPostgresReportRepository creates a new PostgresReportRepository.
func NewPostgresReportRepository(db *client.PostgresClient) *PostgresReportRepository {
	return &PostgresReportRepository{db: db}
}

// Save inserts an archived report. Re-delivery of the same session's report
// is idempotent: the session_id conflict updates the row in place.
func (r *PostgresReportRepository) Save(ctx context.Context, row *ExamReportRow) error {
	if r.db == nil || r.db.Pool == nil {
		return fmt.Errorf("database not configured")
	}

	query := `
		INSERT INTO exam_reports (session_id, user_id, total, max, report)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE
		SET total = EXCLUDED.total, max = EXCLUDED.max, report = EXCLUDED.report
		RETURNING id, created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		row.SessionID,
		row.UserID,
		row.Total,
		row.Max,
		row.Report,
	).Scan(&row.ID, &row.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to save exam report: %w", err)
	}

	return nil
}

// ListByUser returns a user's archived reports, newest first.
func (r *PostgresReportRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]ExamReportRow, error) {
	if r.db == nil || r.db.Pool == nil {
		return nil, fmt.Errorf("database not configured")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, session_id, user_id, total, max, report, created_at
		FROM exam_reports
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list exam reports: %w", err)
	}
	defer rows.Close()

	var reports []ExamReportRow
	for rows.Next() {
		var row ExamReportRow
		if err := rows.Scan(&row.ID, &row.SessionID, &row.UserID, &row.Total, &row.Max, &row.Report, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan exam report: %w", err)
		}
		reports = append(reports, row)
	}

	return reports, rows.Err()
}

// GetBySession returns the archived report for one session, if any.
func (r *PostgresReportRepository) GetBySession(ctx context.Context, sessionID uuid.UUID) (*ExamReportRow, error) {
	if r.db == nil || r.db.Pool == nil {
		return nil, fmt.Errorf("database not configured")
	}

	query := `
		SELECT id, session_id, user_id, total, max, report, created_at
		FROM exam_reports
		WHERE session_id = $1
	`

	var row ExamReportRow
	err := r.db.Pool.QueryRow(ctx, query, sessionID).Scan(
		&row.ID, &row.SessionID, &row.UserID, &row.Total, &row.Max, &row.Report, &row.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get exam report: %w", err)
	}

	return &row, nil
}
