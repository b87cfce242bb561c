package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/framesift/framesift/internal/credits"
	"github.com/framesift/framesift/internal/database"
	"github.com/framesift/framesift/internal/logger"
	"github.com/framesift/framesift/internal/models"
	"github.com/framesift/framesift/internal/processing"
	"github.com/framesift/framesift/internal/search"
	"github.com/framesift/framesift/internal/storage"
	"github.com/framesift/framesift/internal/vision"
)

// Rough prompt weight of one analysis record inside a search chunk, used
// only for the up-front balance estimate.
const searchTokensPerRecord = 150

type App struct {
	Storage       storage.Storage
	VideoRepo     *database.VideoRepository
	AnalysisRepo  *database.AnalysisRepository
	CostRepo      *database.CostRepository
	Orchestrator  *processing.Orchestrator
	SearchEngine  *search.Engine
	Credits       credits.Ledger
	CreditsPerK   int
	MaxUploadSize int64
	Log           *logger.Logger
}

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

func (app *App) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		app.Log.Error("failed to encode response", "error", err)
	}
}

func (app *App) respondError(w http.ResponseWriter, status int, message string) {
	app.respondJSON(w, status, map[string]string{"error": message})
}

// userID extracts the authenticated user from the request. Session
// handling is an upstream collaborator; it forwards identity in a header.
func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}

func (app *App) UploadHandler(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		app.respondError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, app.MaxUploadSize)
	if err := r.ParseMultipartForm(app.MaxUploadSize); err != nil {
		app.respondError(w, http.StatusBadRequest, "file too large")
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		app.respondError(w, http.StatusBadRequest, "missing video file")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "video/") && contentType != "application/octet-stream" {
		ext := strings.ToLower(filepath.Ext(header.Filename))
		if ext != ".mp4" && ext != ".mov" && ext != ".webm" {
			app.respondError(w, http.StatusBadRequest, "unsupported file type")
			return
		}
		contentType = "video/mp4"
	}

	title := r.FormValue("title")
	if title == "" {
		app.respondError(w, http.StatusBadRequest, "title is required")
		return
	}

	filename, err := app.Storage.SaveFile(file, storage.FileInfo{
		Filename:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
	})
	if err != nil {
		app.Log.Error("failed to save upload", "error", err)
		app.respondError(w, http.StatusInternalServerError, "failed to save file")
		return
	}

	video := models.NewVideo(user, title, r.FormValue("description"), filename, contentType, header.Size)
	video.AnalysisScope = r.FormValue("analysis_scope")
	video.AccuracyTier = models.ValidTier(r.FormValue("accuracy_tier"))
	if v := r.FormValue("frame_interval"); v != "" {
		interval, err := strconv.ParseFloat(v, 64)
		if err != nil || interval <= 0 {
			app.respondError(w, http.StatusBadRequest, "invalid frame_interval")
			return
		}
		video.FrameInterval = interval
	}

	if err := app.VideoRepo.InsertVideo(r.Context(), video); err != nil {
		app.Storage.DeleteFile(filename)
		app.Log.Error("failed to insert video", "error", err)
		app.respondError(w, http.StatusInternalServerError, "failed to save video information")
		return
	}

	app.respondJSON(w, http.StatusCreated, video)
}

func (app *App) ListVideosHandler(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		app.respondError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	videos, err := app.VideoRepo.ListVideosByUser(r.Context(), user)
	if err != nil {
		app.Log.Error("failed to list videos", "error", err)
		app.respondError(w, http.StatusInternalServerError, "failed to list videos")
		return
	}
	if videos == nil {
		videos = []models.Video{}
	}

	app.respondJSON(w, http.StatusOK, map[string]interface{}{"videos": videos})
}

// ownedVideo loads a video and enforces ownership. Foreign videos are
// indistinguishable from missing ones.
func (app *App) ownedVideo(w http.ResponseWriter, r *http.Request) (*models.Video, bool) {
	user := userID(r)
	if user == "" {
		app.respondError(w, http.StatusUnauthorized, "missing user identity")
		return nil, false
	}

	video, err := app.VideoRepo.GetVideoByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, database.ErrVideoNotFound) {
			app.respondError(w, http.StatusNotFound, "video not found")
		} else {
			app.Log.Error("failed to load video", "error", err)
			app.respondError(w, http.StatusInternalServerError, "failed to load video")
		}
		return nil, false
	}
	if video.UserID != user {
		app.respondError(w, http.StatusNotFound, "video not found")
		return nil, false
	}
	return video, true
}

func (app *App) GetVideoHandler(w http.ResponseWriter, r *http.Request) {
	video, ok := app.ownedVideo(w, r)
	if !ok {
		return
	}
	app.respondJSON(w, http.StatusOK, video)
}

func (app *App) StreamVideoHandler(w http.ResponseWriter, r *http.Request) {
	video, ok := app.ownedVideo(w, r)
	if !ok {
		return
	}

	file, err := app.Storage.OpenFile(video.Filename)
	if err != nil {
		app.respondError(w, http.StatusNotFound, "video file not found")
		return
	}
	defer file.Close()

	stat, err := file.(interface{ Stat() (os.FileInfo, error) }).Stat()
	if err != nil {
		app.respondError(w, http.StatusInternalServerError, "error accessing video file")
		return
	}

	w.Header().Set("Content-Type", video.ContentType)

	// ServeContent handles Range requests, Accept-Ranges and 206s.
	http.ServeContent(w, r, video.Filename, stat.ModTime(), file)
}

func (app *App) StartProcessingHandler(w http.ResponseWriter, r *http.Request) {
	video, ok := app.ownedVideo(w, r)
	if !ok {
		return
	}

	if err := app.Orchestrator.Start(r.Context(), video.ID); err != nil {
		switch {
		case errors.Is(err, database.ErrNotPending):
			app.respondError(w, http.StatusConflict, "video is already processing or finished")
		case errors.Is(err, database.ErrVideoNotFound):
			app.respondError(w, http.StatusNotFound, "video not found")
		default:
			app.Log.Error("failed to start processing", "video_id", video.ID, "error", err)
			app.respondError(w, http.StatusInternalServerError, "failed to start processing")
		}
		return
	}

	app.respondJSON(w, http.StatusAccepted, map[string]string{
		"id":     video.ID,
		"status": models.StatusProcessing,
	})
}

func (app *App) GetAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	video, ok := app.ownedVideo(w, r)
	if !ok {
		return
	}

	records, err := app.AnalysisRepo.GetByVideoID(r.Context(), video.ID)
	if err != nil {
		app.Log.Error("failed to load analysis records", "video_id", video.ID, "error", err)
		app.respondError(w, http.StatusInternalServerError, "failed to load analysis")
		return
	}
	if records == nil {
		records = []*models.AnalysisRecord{}
	}

	app.respondJSON(w, http.StatusOK, map[string]interface{}{
		"video_id": video.ID,
		"count":    len(records),
		"records":  records,
	})
}

type searchRequest struct {
	Query string `json:"query"`
}

func (app *App) SearchHandler(w http.ResponseWriter, r *http.Request) {
	video, ok := app.ownedVideo(w, r)
	if !ok {
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		app.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		app.respondError(w, http.StatusBadRequest, "query is required")
		return
	}

	// Balance check happens before any chunk is dispatched; rejection
	// here means no partial search was performed.
	recordCount, err := app.AnalysisRepo.CountByVideoID(r.Context(), video.ID)
	if err != nil {
		app.Log.Error("failed to count analysis records", "video_id", video.ID, "error", err)
		app.respondError(w, http.StatusInternalServerError, "search failed")
		return
	}
	estimated := credits.UnitsForTokens(recordCount*searchTokensPerRecord, app.CreditsPerK)
	if err := app.Credits.CheckBalance(r.Context(), video.UserID, estimated); err != nil {
		if errors.Is(err, credits.ErrInsufficientCredits) {
			app.respondError(w, http.StatusPaymentRequired, "insufficient credits")
			return
		}
		app.Log.Error("credit check failed", "user_id", video.UserID, "error", err)
		app.respondError(w, http.StatusInternalServerError, "search failed")
		return
	}

	result, err := app.SearchEngine.Search(r.Context(), video, req.Query)
	if err != nil {
		app.Log.Error("search failed", "video_id", video.ID, "error", err)
		app.respondError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if result.Ranges == nil {
		result.Ranges = []search.TimeRange{}
	}

	totalTokens := result.InputTokens + result.OutputTokens
	if totalTokens > 0 {
		units := credits.UnitsForTokens(totalTokens, app.CreditsPerK)
		if err := app.Credits.Track(r.Context(), video.UserID, units, map[string]string{
			"operation": "search",
			"video_id":  video.ID,
		}); err != nil {
			app.Log.Error("failed to track search usage", "user_id", video.UserID, "error", err)
		}

		// Search cost rows carry grid index -1.
		cost := models.NewCostRecord(video.ID, result.ModelUsed,
			result.InputTokens, result.OutputTokens,
			vision.Cost(result.ModelUsed, result.InputTokens, result.OutputTokens), -1)
		if err := app.CostRepo.RecordCost(r.Context(), cost); err != nil {
			app.Log.Error("failed to record search cost", "video_id", video.ID, "error", err)
		}
	}

	app.respondJSON(w, http.StatusOK, result)
}
