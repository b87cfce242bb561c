package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AnalysisRecord is one persisted per-frame annotation. A completed video
// carries one record per extracted frame, ordered by frame number, except
// where an individual grid's model call failed and left a gap.
type AnalysisRecord struct {
	ID             string          `json:"id"`
	VideoID        string          `json:"video_id"`
	Timestamp      float64         `json:"timestamp"`
	FrameNumber    int             `json:"frame_number"`
	AnalysisResult json.RawMessage `json:"analysis_result"`
	InputTokens    int             `json:"input_tokens"`
	OutputTokens   int             `json:"output_tokens"`
	ModelUsed      string          `json:"model_used"`
	CreatedAt      time.Time       `json:"created_at"`
}

func NewAnalysisRecord(videoID string, timestamp float64, frameNumber int, result json.RawMessage, inputTokens, outputTokens int, modelUsed string) *AnalysisRecord {
	return &AnalysisRecord{
		ID:             uuid.New().String(),
		VideoID:        videoID,
		Timestamp:      timestamp,
		FrameNumber:    frameNumber,
		AnalysisResult: result,
		InputTokens:    inputTokens,
		OutputTokens:   outputTokens,
		ModelUsed:      modelUsed,
		CreatedAt:      time.Now(),
	}
}

// CostRecord is one metered model call: one row per analyzed grid during
// processing, one row per search request. GridIndex is -1 for searches.
type CostRecord struct {
	ID           string    `json:"id"`
	VideoID      string    `json:"video_id"`
	ModelID      string    `json:"model_id"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Cost         float64   `json:"cost"`
	GridIndex    int       `json:"grid_index"`
	CreatedAt    time.Time `json:"created_at"`
}

func NewCostRecord(videoID, modelID string, inputTokens, outputTokens int, cost float64, gridIndex int) *CostRecord {
	return &CostRecord{
		ID:           uuid.New().String(),
		VideoID:      videoID,
		ModelID:      modelID,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         cost,
		GridIndex:    gridIndex,
		CreatedAt:    time.Now(),
	}
}
