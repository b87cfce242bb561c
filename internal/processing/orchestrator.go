package processing

import (
	"context"
	"fmt"

	"github.com/framesift/framesift/internal/database"
	"github.com/framesift/framesift/internal/extractor"
	"github.com/framesift/framesift/internal/grid"
	"github.com/framesift/framesift/internal/logger"
	"github.com/framesift/framesift/internal/models"
	"github.com/framesift/framesift/internal/storage"
	"github.com/framesift/framesift/internal/vision"
)

// Progress checkpoints for the pipeline stages. Analysis owns the
// 50..90 band and advances incrementally per grid.
const (
	progressSourceResolved = 10
	progressFramesDone     = 30
	progressGridsDone      = 50
	progressAnalysisDone   = 90
)

type FrameExtractor interface {
	ExtractFrames(ctx context.Context, videoPath string, interval float64, videoID string) ([]extractor.Frame, error)
	Cleanup(videoID string) error
}

type GridCompositor interface {
	CreateGrids(frames []extractor.Frame) ([]grid.Grid, error)
}

type VisionAnalyzer interface {
	Analyze(ctx context.Context, grids []grid.Grid, scope, tier string, onProgress vision.ProgressFunc) ([]vision.FrameResult, []vision.GridUsage, vision.Usage, error)
}

// Orchestrator drives one processing run per video: extract, composite,
// analyze, persist, finalize. A run either reaches completed or failed;
// there is no cancellation and no retry-in-place from a terminal state.
type Orchestrator struct {
	videoRepo    *database.VideoRepository
	analysisRepo *database.AnalysisRepository
	costRepo     *database.CostRepository
	store        storage.Storage
	extractor    FrameExtractor
	compositor   GridCompositor
	analyzer     VisionAnalyzer
	log          *logger.Logger
}

func NewOrchestrator(
	videoRepo *database.VideoRepository,
	analysisRepo *database.AnalysisRepository,
	costRepo *database.CostRepository,
	store storage.Storage,
	frameExtractor FrameExtractor,
	compositor GridCompositor,
	analyzer VisionAnalyzer,
	log *logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		videoRepo:    videoRepo,
		analysisRepo: analysisRepo,
		costRepo:     costRepo,
		store:        store,
		extractor:    frameExtractor,
		compositor:   compositor,
		analyzer:     analyzer,
		log:          log.With("component", "orchestrator"),
	}
}

// Start applies the pending-only guard synchronously, then runs the
// pipeline in the background. Callers get the guard violation
// (database.ErrNotPending) immediately; pipeline failures land on the
// video row.
func (o *Orchestrator) Start(ctx context.Context, videoID string) error {
	video, err := o.claim(ctx, videoID)
	if err != nil {
		return err
	}

	go func() {
		if err := o.run(context.Background(), video); err != nil {
			o.log.Error("processing run failed", "video_id", video.ID, "error", err)
		}
	}()

	return nil
}

// Run is the synchronous variant used by operator tooling.
func (o *Orchestrator) Run(ctx context.Context, videoID string) error {
	video, err := o.claim(ctx, videoID)
	if err != nil {
		return err
	}
	return o.run(ctx, video)
}

func (o *Orchestrator) claim(ctx context.Context, videoID string) (*models.Video, error) {
	video, err := o.videoRepo.GetVideoByID(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if err := o.videoRepo.BeginProcessing(ctx, videoID); err != nil {
		return nil, err
	}
	return video, nil
}

// run executes the pipeline stages in order. Any error here is fatal for
// the run: the video is marked failed with the captured message and its
// progress reset. Transient frame files are removed on both exits.
func (o *Orchestrator) run(ctx context.Context, video *models.Video) error {
	log := o.log.With("video_id", video.ID)
	log.Info("processing started",
		"interval", video.FrameInterval,
		"tier", video.AccuracyTier)

	defer func() {
		if err := o.extractor.Cleanup(video.ID); err != nil {
			log.Warn("failed to clean up transient frames", "error", err)
		}
	}()

	if err := o.pipeline(ctx, video, log); err != nil {
		if failErr := o.videoRepo.MarkFailed(ctx, video.ID, err.Error()); failErr != nil {
			log.Error("failed to mark video failed", "error", failErr)
		}
		return err
	}
	return nil
}

func (o *Orchestrator) pipeline(ctx context.Context, video *models.Video, log *logger.Logger) error {
	videoPath, err := o.store.GetFilePath(video.Filename)
	if err != nil {
		return fmt.Errorf("failed to resolve video source: %w", err)
	}
	o.checkpoint(ctx, video.ID, progressSourceResolved, log)

	frames, err := o.extractor.ExtractFrames(ctx, videoPath, video.FrameInterval, video.ID)
	if err != nil {
		return fmt.Errorf("frame extraction failed: %w", err)
	}
	o.checkpoint(ctx, video.ID, progressFramesDone, log)

	grids, err := o.compositor.CreateGrids(frames)
	if err != nil {
		return fmt.Errorf("grid compositing failed: %w", err)
	}
	o.checkpoint(ctx, video.ID, progressGridsDone, log)

	results, gridUsages, usage, err := o.analyzer.Analyze(ctx, grids, video.AnalysisScope, video.AccuracyTier,
		func(done, total int) {
			span := progressAnalysisDone - progressGridsDone
			progress := progressGridsDone + span*done/total
			o.checkpoint(ctx, video.ID, progress, log)
		})
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	model := vision.ModelForTier(video.AccuracyTier)
	records := make([]*models.AnalysisRecord, 0, len(results))
	for _, res := range results {
		records = append(records, models.NewAnalysisRecord(
			video.ID, res.Timestamp, res.FrameNumber, res.Result,
			res.InputTokens, res.OutputTokens, model))
	}
	if err := o.analysisRepo.InsertBatch(ctx, records); err != nil {
		return fmt.Errorf("failed to persist analysis records: %w", err)
	}

	for _, gu := range gridUsages {
		cost := models.NewCostRecord(video.ID, gu.Model, gu.InputTokens, gu.OutputTokens, gu.Cost, gu.GridIndex)
		if err := o.costRepo.RecordCost(ctx, cost); err != nil {
			log.Warn("failed to record grid cost", "grid", gu.GridIndex, "error", err)
		}
	}
	o.checkpoint(ctx, video.ID, progressAnalysisDone, log)

	if err := o.videoRepo.MarkCompleted(ctx, video.ID, usage.InputTokens, usage.OutputTokens, usage.Cost); err != nil {
		return fmt.Errorf("failed to finalize video: %w", err)
	}

	log.Info("processing completed",
		"frames", len(frames),
		"grids", len(grids),
		"records", len(records),
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"cost", usage.Cost)
	return nil
}

// checkpoint is best-effort; a failed progress write never aborts a run.
func (o *Orchestrator) checkpoint(ctx context.Context, videoID string, progress int, log *logger.Logger) {
	if err := o.videoRepo.UpdateProgress(ctx, videoID, progress); err != nil {
		log.Warn("failed to update progress", "progress", progress, "error", err)
	}
}
