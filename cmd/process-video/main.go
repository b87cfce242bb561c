package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	openai "github.com/sashabaranov/go-openai"

	"github.com/framesift/framesift/internal/config"
	"github.com/framesift/framesift/internal/database"
	"github.com/framesift/framesift/internal/extractor"
	"github.com/framesift/framesift/internal/grid"
	"github.com/framesift/framesift/internal/logger"
	"github.com/framesift/framesift/internal/processing"
	"github.com/framesift/framesift/internal/storage"
	"github.com/framesift/framesift/internal/vision"
)

// Operator tool: run the full analysis pipeline synchronously for one
// already-uploaded video.
func main() {
	var videoID = flag.String("id", "", "Video ID to process")
	flag.Parse()

	if *videoID == "" {
		log.Fatal("Please provide video ID with -id flag")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	if cfg.OpenAIAPIKey == "" {
		log.Fatal("OPENAI_API_KEY is required")
	}

	logg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logg.Sync()

	db, err := database.NewDB(cfg.Database)
	if err != nil {
		logg.Fatal("failed to connect to database", "error", err)
	}
	defer db.Close()

	localStorage, err := storage.NewLocalStorage(cfg.UploadDir)
	if err != nil {
		logg.Fatal("failed to initialize storage", "error", err)
	}

	frameExtractor, err := extractor.New(logg)
	if err != nil {
		logg.Fatal("failed to initialize frame extractor", "error", err)
	}

	compositor, err := grid.NewCompositor(logg)
	if err != nil {
		logg.Fatal("failed to initialize grid compositor", "error", err)
	}

	videoRepo := database.NewVideoRepository(db)
	analyzer := vision.NewAnalyzer(openai.NewClient(cfg.OpenAIAPIKey), logg)

	orchestrator := processing.NewOrchestrator(
		videoRepo,
		database.NewAnalysisRepository(db),
		database.NewCostRepository(db),
		localStorage, frameExtractor, compositor, analyzer,
		logg,
	)

	ctx := context.Background()
	if err := orchestrator.Run(ctx, *videoID); err != nil {
		logg.Fatal("processing failed", "video_id", *videoID, "error", err)
	}

	video, err := videoRepo.GetVideoByID(ctx, *videoID)
	if err != nil {
		logg.Fatal("failed to reload video", "error", err)
	}

	fmt.Printf("Video %s: %s (tokens in=%d out=%d, cost=$%.4f)\n",
		video.ID, video.Status, video.InputTokens, video.OutputTokens, video.TotalCost)
}
