package main

import (
	"log"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/framesift/framesift/internal/api"
	"github.com/framesift/framesift/internal/config"
	"github.com/framesift/framesift/internal/credits"
	"github.com/framesift/framesift/internal/database"
	"github.com/framesift/framesift/internal/extractor"
	"github.com/framesift/framesift/internal/grid"
	"github.com/framesift/framesift/internal/logger"
	"github.com/framesift/framesift/internal/processing"
	"github.com/framesift/framesift/internal/search"
	"github.com/framesift/framesift/internal/storage"
	"github.com/framesift/framesift/internal/vision"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	logg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logg.Sync()

	if cfg.OpenAIAPIKey == "" {
		logg.Fatal("OPENAI_API_KEY is required")
	}

	localStorage, err := storage.NewLocalStorage(cfg.UploadDir)
	if err != nil {
		logg.Fatal("failed to initialize storage", "error", err)
	}

	db, err := database.NewDB(cfg.Database)
	if err != nil {
		logg.Fatal("failed to initialize database", "error", err)
	}
	defer db.Close()

	if err := db.RunMigrations(cfg.MigrationsPath); err != nil {
		logg.Fatal("failed to run migrations", "error", err)
	}

	videoRepo := database.NewVideoRepository(db)
	analysisRepo := database.NewAnalysisRepository(db)
	costRepo := database.NewCostRepository(db)

	ledger, err := credits.NewRedisLedger(cfg.Redis, logg)
	if err != nil {
		logg.Fatal("failed to initialize credits ledger", "error", err)
	}

	frameExtractor, err := extractor.New(logg)
	if err != nil {
		logg.Fatal("failed to initialize frame extractor", "error", err)
	}

	compositor, err := grid.NewCompositor(logg)
	if err != nil {
		logg.Fatal("failed to initialize grid compositor", "error", err)
	}

	aiClient := openai.NewClient(cfg.OpenAIAPIKey)
	analyzer := vision.NewAnalyzer(aiClient, logg)

	orchestrator := processing.NewOrchestrator(
		videoRepo, analysisRepo, costRepo,
		localStorage, frameExtractor, compositor, analyzer,
		logg,
	)

	engine := search.NewEngine(aiClient, analysisRepo, logg)

	app := &api.App{
		Storage:       localStorage,
		VideoRepo:     videoRepo,
		AnalysisRepo:  analysisRepo,
		CostRepo:      costRepo,
		Orchestrator:  orchestrator,
		SearchEngine:  engine,
		Credits:       ledger,
		CreditsPerK:   cfg.CreditsPerKTokens,
		MaxUploadSize: cfg.MaxUploadSize,
		Log:           logg,
	}

	router := api.NewRouter(app)

	logg.Info("server starting",
		"port", cfg.Port,
		"upload_dir", cfg.UploadDir,
		"db_type", cfg.Database.Type,
		"max_upload_size", cfg.MaxUploadSize)

	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		logg.Fatal("server exited", "error", err)
	}
}
