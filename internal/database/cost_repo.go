package database

import (
	"context"
	"fmt"

	"github.com/framesift/framesift/internal/models"
)

type CostRepository struct {
	db *DB
}

func NewCostRepository(db *DB) *CostRepository {
	return &CostRepository{db: db}
}

func (r *CostRepository) RecordCost(ctx context.Context, rec *models.CostRecord) error {
	query := r.db.rebind(`
		INSERT INTO cost_records (
			id, video_id, model_id, input_tokens, output_tokens, cost, grid_index, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)

	_, err := r.db.conn.ExecContext(ctx, query,
		rec.ID,
		rec.VideoID,
		rec.ModelID,
		rec.InputTokens,
		rec.OutputTokens,
		rec.Cost,
		rec.GridIndex,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record cost: %w", err)
	}
	return nil
}

// TotalsByVideoID sums token and cost columns across all metered calls.
func (r *CostRepository) TotalsByVideoID(ctx context.Context, videoID string) (inputTokens, outputTokens int, cost float64, err error) {
	query := r.db.rebind(`
		SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost), 0)
		FROM cost_records WHERE video_id = $1`)

	if err = r.db.conn.QueryRowContext(ctx, query, videoID).Scan(&inputTokens, &outputTokens, &cost); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to sum cost records: %w", err)
	}
	return inputTokens, outputTokens, cost, nil
}
