package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/framesift/framesift/internal/models"
)

var (
	ErrVideoNotFound = errors.New("video not found")

	// ErrNotPending is returned when processing is started on a video
	// that is already processing or terminal.
	ErrNotPending = errors.New("video is not in pending state")
)

type VideoRepository struct {
	db *DB
}

func NewVideoRepository(db *DB) *VideoRepository {
	return &VideoRepository{db: db}
}

func (r *VideoRepository) InsertVideo(ctx context.Context, video *models.Video) error {
	query := r.db.rebind(`
		INSERT INTO videos (
			id, user_id, title, description, filename, content_type, size,
			status, progress, frame_interval, analysis_scope, accuracy_tier,
			input_tokens, output_tokens, total_cost, error_message, upload_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`)

	_, err := r.db.conn.ExecContext(ctx, query,
		video.ID,
		video.UserID,
		video.Title,
		video.Description,
		video.Filename,
		video.ContentType,
		video.Size,
		video.Status,
		video.Progress,
		video.FrameInterval,
		video.AnalysisScope,
		video.AccuracyTier,
		video.InputTokens,
		video.OutputTokens,
		video.TotalCost,
		video.ErrorMessage,
		video.UploadTime,
	)
	if err != nil {
		return fmt.Errorf("failed to insert video: %w", err)
	}
	return nil
}

const videoColumns = `
	id, user_id, title, description, filename, content_type, size,
	status, progress, frame_interval, analysis_scope, accuracy_tier,
	input_tokens, output_tokens, total_cost, error_message, upload_time, processed_at`

func (r *VideoRepository) scanVideo(row *sql.Row) (*models.Video, error) {
	video := &models.Video{}
	var errMsg sql.NullString
	var processedAt sql.NullTime

	err := row.Scan(
		&video.ID,
		&video.UserID,
		&video.Title,
		&video.Description,
		&video.Filename,
		&video.ContentType,
		&video.Size,
		&video.Status,
		&video.Progress,
		&video.FrameInterval,
		&video.AnalysisScope,
		&video.AccuracyTier,
		&video.InputTokens,
		&video.OutputTokens,
		&video.TotalCost,
		&errMsg,
		&video.UploadTime,
		&processedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrVideoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan video: %w", err)
	}

	video.ErrorMessage = errMsg.String
	if processedAt.Valid {
		t := processedAt.Time
		video.ProcessedAt = &t
	}
	return video, nil
}

func (r *VideoRepository) GetVideoByID(ctx context.Context, id string) (*models.Video, error) {
	query := r.db.rebind(`SELECT` + videoColumns + ` FROM videos WHERE id = $1`)
	return r.scanVideo(r.db.conn.QueryRowContext(ctx, query, id))
}

func (r *VideoRepository) ListVideosByUser(ctx context.Context, userID string) ([]models.Video, error) {
	query := r.db.rebind(`SELECT` + videoColumns + ` FROM videos WHERE user_id = $1 ORDER BY upload_time DESC`)

	rows, err := r.db.conn.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	defer rows.Close()

	var videos []models.Video
	for rows.Next() {
		video := models.Video{}
		var errMsg sql.NullString
		var processedAt sql.NullTime

		if err := rows.Scan(
			&video.ID,
			&video.UserID,
			&video.Title,
			&video.Description,
			&video.Filename,
			&video.ContentType,
			&video.Size,
			&video.Status,
			&video.Progress,
			&video.FrameInterval,
			&video.AnalysisScope,
			&video.AccuracyTier,
			&video.InputTokens,
			&video.OutputTokens,
			&video.TotalCost,
			&errMsg,
			&video.UploadTime,
			&processedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}

		video.ErrorMessage = errMsg.String
		if processedAt.Valid {
			t := processedAt.Time
			video.ProcessedAt = &t
		}
		videos = append(videos, video)
	}

	return videos, rows.Err()
}

// BeginProcessing transitions pending -> processing atomically. The WHERE
// clause is the start guard: zero rows affected means the video is either
// missing or not pending, and nothing is mutated.
func (r *VideoRepository) BeginProcessing(ctx context.Context, id string) error {
	query := r.db.rebind(`
		UPDATE videos SET status = $1, progress = 0, error_message = NULL
		WHERE id = $2 AND status = $3`)

	result, err := r.db.conn.ExecContext(ctx, query, models.StatusProcessing, id, models.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to begin processing: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		if _, err := r.GetVideoByID(ctx, id); err != nil {
			return err
		}
		return ErrNotPending
	}
	return nil
}

func (r *VideoRepository) UpdateProgress(ctx context.Context, id string, progress int) error {
	query := r.db.rebind(`UPDATE videos SET progress = $1 WHERE id = $2`)
	if _, err := r.db.conn.ExecContext(ctx, query, progress, id); err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

// MarkCompleted finalizes a successful run with accumulated totals.
func (r *VideoRepository) MarkCompleted(ctx context.Context, id string, inputTokens, outputTokens int, totalCost float64) error {
	query := r.db.rebind(`
		UPDATE videos SET status = $1, progress = 100,
			input_tokens = $2, output_tokens = $3, total_cost = $4,
			processed_at = $5
		WHERE id = $6`)

	_, err := r.db.conn.ExecContext(ctx, query,
		models.StatusCompleted, inputTokens, outputTokens, totalCost, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark video completed: %w", err)
	}
	return nil
}

// MarkFailed records the fatal error and resets progress.
func (r *VideoRepository) MarkFailed(ctx context.Context, id string, message string) error {
	query := r.db.rebind(`
		UPDATE videos SET status = $1, progress = 0, error_message = $2
		WHERE id = $3`)

	_, err := r.db.conn.ExecContext(ctx, query, models.StatusFailed, message, id)
	if err != nil {
		return fmt.Errorf("failed to mark video failed: %w", err)
	}
	return nil
}
