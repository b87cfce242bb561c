package database

import (
	"context"
	"fmt"

	"github.com/framesift/framesift/internal/models"
)

type AnalysisRepository struct {
	db *DB
}

func NewAnalysisRepository(db *DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// InsertBatch persists all records from one processing run in a single
// transaction. Existing (video, frame) rows are replaced.
func (r *AnalysisRepository) InsertBatch(ctx context.Context, records []*models.AnalysisRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var query string
	if r.db.dbType == "postgres" {
		query = `
			INSERT INTO analysis_records (
				id, video_id, timestamp, frame_number, analysis_result,
				input_tokens, output_tokens, model_used, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (video_id, frame_number) DO UPDATE SET
				analysis_result = EXCLUDED.analysis_result,
				input_tokens = EXCLUDED.input_tokens,
				output_tokens = EXCLUDED.output_tokens,
				model_used = EXCLUDED.model_used,
				created_at = EXCLUDED.created_at`
	} else {
		query = `
			INSERT OR REPLACE INTO analysis_records (
				id, video_id, timestamp, frame_number, analysis_result,
				input_tokens, output_tokens, model_used, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx,
			rec.ID,
			rec.VideoID,
			rec.Timestamp,
			rec.FrameNumber,
			string(rec.AnalysisResult),
			rec.InputTokens,
			rec.OutputTokens,
			rec.ModelUsed,
			rec.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert analysis record for frame %d: %w", rec.FrameNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit analysis records: %w", err)
	}
	return nil
}

// GetByVideoID returns all records for a video ordered by frame number.
func (r *AnalysisRepository) GetByVideoID(ctx context.Context, videoID string) ([]*models.AnalysisRecord, error) {
	query := r.db.rebind(`
		SELECT id, video_id, timestamp, frame_number, analysis_result,
			   input_tokens, output_tokens, model_used, created_at
		FROM analysis_records
		WHERE video_id = $1
		ORDER BY frame_number`)

	rows, err := r.db.conn.QueryContext(ctx, query, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis records: %w", err)
	}
	defer rows.Close()

	var records []*models.AnalysisRecord
	for rows.Next() {
		rec := &models.AnalysisRecord{}
		var result string

		if err := rows.Scan(
			&rec.ID,
			&rec.VideoID,
			&rec.Timestamp,
			&rec.FrameNumber,
			&result,
			&rec.InputTokens,
			&rec.OutputTokens,
			&rec.ModelUsed,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan analysis record: %w", err)
		}

		rec.AnalysisResult = []byte(result)
		records = append(records, rec)
	}

	return records, rows.Err()
}

func (r *AnalysisRepository) CountByVideoID(ctx context.Context, videoID string) (int, error) {
	query := r.db.rebind(`SELECT COUNT(*) FROM analysis_records WHERE video_id = $1`)

	var count int
	if err := r.db.conn.QueryRowContext(ctx, query, videoID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count analysis records: %w", err)
	}
	return count, nil
}

func (r *AnalysisRepository) DeleteByVideoID(ctx context.Context, videoID string) error {
	query := r.db.rebind(`DELETE FROM analysis_records WHERE video_id = $1`)
	if _, err := r.db.conn.ExecContext(ctx, query, videoID); err != nil {
		return fmt.Errorf("failed to delete analysis records: %w", err)
	}
	return nil
}
