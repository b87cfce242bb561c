package models

import (
	"time"

	"github.com/google/uuid"
)

// Video statuses. Pending and the two terminal states are stable;
// processing is transient and owned by a single pipeline run.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Accuracy tiers select which model variant analyzes a video.
const (
	TierFast     = "fast"
	TierBalanced = "balanced"
	TierPrecise  = "precise"
)

const DefaultFrameInterval = 10.0

type Video struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Filename      string     `json:"filename"`
	ContentType   string     `json:"content_type"`
	Size          int64      `json:"size"`
	Status        string     `json:"status"`
	Progress      int        `json:"progress"`
	FrameInterval float64    `json:"frame_interval"`
	AnalysisScope string     `json:"analysis_scope"`
	AccuracyTier  string     `json:"accuracy_tier"`
	InputTokens   int        `json:"input_tokens"`
	OutputTokens  int        `json:"output_tokens"`
	TotalCost     float64    `json:"total_cost"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	UploadTime    time.Time  `json:"upload_time"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

func NewVideo(userID, title, description, filename, contentType string, size int64) *Video {
	return &Video{
		ID:            uuid.New().String(),
		UserID:        userID,
		Title:         title,
		Description:   description,
		Filename:      filename,
		ContentType:   contentType,
		Size:          size,
		Status:        StatusPending,
		FrameInterval: DefaultFrameInterval,
		AccuracyTier:  TierBalanced,
		UploadTime:    time.Now(),
	}
}

// IsTerminal reports whether the video can never be processed again.
func (v *Video) IsTerminal() bool {
	return v.Status == StatusCompleted || v.Status == StatusFailed
}

// ValidTier normalizes an accuracy tier, falling back to balanced.
func ValidTier(tier string) string {
	switch tier {
	case TierFast, TierBalanced, TierPrecise:
		return tier
	default:
		return TierBalanced
	}
}
